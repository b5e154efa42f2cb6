package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nguyengg/zipanalyze/report"
	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, dir, content string) string {
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoader_LoadDir(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, `
[analyze]
trailer = fixed
forward = true
max-entries = 10
descriptor-policy = zip64-extra
key-width = 40
humanize = true
cp437 = true

[s3://my-bucket]
aws-profile = my-profile
expected-bucket-owner = 123456789012
`)

	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	l := &Loader{}
	got, err := l.LoadDir(context.Background(), sub)
	assert.NoErrorf(t, err, "LoadDir() error = %v", err)
	assert.Equal(t, path, got)

	assert.Equal(t, AnalyzeConfig{
		Trailer:          TrailerFixed,
		Forward:          true,
		MaxEntries:       10,
		DescriptorPolicy: DescriptorPolicyZip64Extra,
		KeyWidth:         40,
		Humanize:         true,
		CP437:            true,
	}, l.ForAnalyze())

	c := l.ForBucket("my-bucket")
	assert.Equal(t, "my-profile", c.AWSProfile)
	if assert.NotNil(t, c.ExpectedBucketOwner) {
		assert.Equal(t, "123456789012", *c.ExpectedBucketOwner)
	}

	assert.Equal(t, BucketConfig{Bucket: "other-bucket"}, l.ForBucket("other-bucket"))
}

func TestLoader_ForAnalyze_Defaults(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    AnalyzeConfig
	}{
		{
			name: "no section",
			want: DefaultAnalyzeConfig,
		},
		{
			name: "invalid values",
			content: `
[analyze]
trailer = backwards
max-entries = lots
descriptor-policy = guess
humanize = maybe
forward = sometimes
`,
			want: DefaultAnalyzeConfig,
		},
		{
			name: "partial",
			content: `
[analyze]
max-entries = -1
`,
			want: AnalyzeConfig{
				Trailer:          TrailerScan,
				MaxEntries:       -1,
				DescriptorPolicy: DescriptorPolicyVersion,
				KeyWidth:         report.DefaultKeyWidth,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			l := &Loader{}
			_, err := l.LoadDir(context.Background(), dir)
			assert.NoErrorf(t, err, "LoadDir() error = %v", err)
			assert.Equal(t, tt.want, l.ForAnalyze())
		})
	}
}

func TestLoader_LoadDir_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := &Loader{}
	_, err := l.LoadDir(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
