package config

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/nguyengg/zipanalyze/report"
	"github.com/nguyengg/zipanalyze/walk"
)

// Values of the trailer and descriptor-policy settings.
const (
	TrailerScan  = "scan"
	TrailerFixed = "fixed"

	DescriptorPolicyVersion    = "version"
	DescriptorPolicyZip64Extra = "zip64-extra"
)

// AnalyzeConfig contains the [analyze] settings.
type AnalyzeConfig struct {
	Trailer          string
	Forward          bool
	MaxEntries       int
	DescriptorPolicy string
	KeyWidth         int
	Humanize         bool
	CP437            bool
}

// DefaultAnalyzeConfig is returned by ForAnalyze if there is no [analyze] section.
var DefaultAnalyzeConfig = AnalyzeConfig{
	Trailer:          TrailerScan,
	MaxEntries:       walk.DefaultMaxEntries,
	DescriptorPolicy: DescriptorPolicyVersion,
	KeyWidth:         report.DefaultKeyWidth,
}

// ForAnalyze returns configuration for analyze and verify.
//
// Unknown or invalid values fall back to DefaultAnalyzeConfig.
func (l *Loader) ForAnalyze() (c AnalyzeConfig) {
	c = DefaultAnalyzeConfig

	sec, err := l.cfg.GetSection("analyze")
	if err != nil {
		return c
	}

	c.Trailer = sec.Key("trailer").In(c.Trailer, []string{TrailerScan, TrailerFixed})
	c.Forward = sec.Key("forward").MustBool(c.Forward)
	c.MaxEntries = sec.Key("max-entries").MustInt(c.MaxEntries)
	c.DescriptorPolicy = sec.Key("descriptor-policy").In(c.DescriptorPolicy, []string{DescriptorPolicyVersion, DescriptorPolicyZip64Extra})
	c.KeyWidth = sec.Key("key-width").MustInt(c.KeyWidth)
	c.Humanize = sec.Key("humanize").MustBool(c.Humanize)
	c.CP437 = sec.Key("cp437").MustBool(c.CP437)

	return
}

// ForAnalyze calls Loader.ForAnalyze on the DefaultLoader instance.
func ForAnalyze() AnalyzeConfig {
	return DefaultLoader.ForAnalyze()
}

// BucketConfig contains configuration settings for a specific bucket.
type BucketConfig struct {
	Bucket              string
	AWSProfile          string
	ExpectedBucketOwner *string
}

// ForBucket returns configuration for a specific bucket.
func (l *Loader) ForBucket(bucket string) (c BucketConfig) {
	c.Bucket = bucket

	sec, err := l.cfg.GetSection("s3://" + bucket)
	if err != nil {
		return c
	}

	c.AWSProfile = sec.Key("aws-profile").Value()

	if sec.HasKey("expected-bucket-owner") {
		c.ExpectedBucketOwner = aws.String(sec.Key("expected-bucket-owner").Value())
	}

	return
}

// ForBucket calls Loader.ForBucket on the DefaultLoader instance.
func ForBucket(bucket string) (c BucketConfig) {
	return DefaultLoader.ForBucket(bucket)
}
