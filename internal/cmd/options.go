package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nguyengg/zipanalyze/internal"
	"github.com/nguyengg/zipanalyze/internal/config"
	"github.com/nguyengg/zipanalyze/record"
	"github.com/nguyengg/zipanalyze/report"
	"github.com/nguyengg/zipanalyze/s3reader"
	"github.com/nguyengg/zipanalyze/walk"
	"github.com/schollz/progressbar/v3"
)

// WalkOptions are the flags shared by analyze and verify.
//
// Flags that are not given fall back to the [analyze] section of the .zipanalyze file.
type WalkOptions struct {
	Trailer          string `long:"trailer" choice:"scan" choice:"fixed" description:"how to locate the end of central directory record; scan allows an archive comment"`
	Forward          bool   `long:"forward" description:"read records in file order from offset 0 and report local file headers the central directory does not reference"`
	MaxEntries       *int   `long:"max-entries" description:"stop after this many central directory headers; negative to disable"`
	DescriptorPolicy string `long:"descriptor-policy" choice:"version" choice:"zip64-extra" description:"how to decide if data descriptor sizes are 8 bytes wide"`
	Progress         bool   `long:"progress" description:"show a progress bar over the central directory"`
	Verbose          bool   `short:"v" long:"verbose" description:"log every state transition and S3 request progress"`

	stderr io.Writer
}

// analyzeConfig merges the flags on top of the .zipanalyze file.
func (o *WalkOptions) analyzeConfig() config.AnalyzeConfig {
	cfg := config.ForAnalyze()
	if o.Trailer != "" {
		cfg.Trailer = o.Trailer
	}
	if o.Forward {
		cfg.Forward = true
	}
	if o.MaxEntries != nil {
		cfg.MaxEntries = *o.MaxEntries
	}
	if o.DescriptorPolicy != "" {
		cfg.DescriptorPolicy = o.DescriptorPolicy
	}
	return cfg
}

func (o *WalkOptions) errWriter() io.Writer {
	if o.stderr == nil {
		return os.Stderr
	}
	return o.stderr
}

// walkSource walks src with the merged configuration, drawing a progress bar if requested.
func (o *WalkOptions) walkSource(ctx context.Context, cfg config.AnalyzeConfig, logger *log.Logger, src *source, rep walk.Reporter) (*walk.Result, error) {
	optFns := []func(*walk.Options){o.walkOptFns(ctx, cfg, logger)}
	if o.Progress {
		p := &progressBar{Reporter: rep, w: o.errWriter()}
		rep = p
		optFns = append(optFns, func(opts *walk.Options) {
			opts.Progress = p.update
		})
	}

	return walk.Walk(src, src.size, rep, optFns...)
}

// walkOptFns converts the merged configuration into walk.Options.
func (o *WalkOptions) walkOptFns(ctx context.Context, cfg config.AnalyzeConfig, logger *log.Logger) func(*walk.Options) {
	return func(opts *walk.Options) {
		opts.Ctx = ctx
		opts.MaxEntries = cfg.MaxEntries

		if cfg.Forward {
			opts.Scan = walk.ForwardScan
		}

		if cfg.Trailer == config.TrailerFixed {
			opts.Trailer = walk.FixedTrailer
		}

		if cfg.DescriptorPolicy == config.DescriptorPolicyZip64Extra {
			opts.DescriptorPolicy = record.Zip64ExtraPresence
		}

		if o.Verbose {
			opts.Logger = logger
		}
	}
}

// progressBar draws the central directory progress and ends the bar before the verdict is reported.
type progressBar struct {
	walk.Reporter
	w   io.Writer
	bar *progressbar.ProgressBar
}

// update creates the bar on first use; declared is -1 for a spinner.
func (p *progressBar) update(consumed, declared int64) {
	if p.bar == nil {
		p.bar = internal.DefaultBytes(p.w, declared, "central directory")
	}
	_ = p.bar.Set64(consumed)
}

func (p *progressBar) Verdict(v walk.Verdict) {
	if p.bar != nil && !p.bar.IsFinished() {
		// an aborted, inconsistent, or forward walk never fills the bar.
		_ = p.bar.Exit()
	}
	p.Reporter.Verdict(v)
}

// source is an opened input.
type source struct {
	io.ReaderAt
	size  int64
	close func() error
}

// open opens a local file or an s3://bucket/key URI.
func (o *WalkOptions) open(ctx context.Context, input string, logger *log.Logger) (*source, error) {
	if !strings.HasPrefix(input, "s3://") {
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("open file error: %w", err)
		}

		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("stat file error: %w", err)
		}

		return &source{ReaderAt: f, size: fi.Size(), close: f.Close}, nil
	}

	bucket, key, err := s3reader.ParseURI(input)
	if err != nil {
		return nil, err
	}

	client, err := config.NewS3ClientForBucket(ctx, bucket, func(options *s3.Options) {
		// without this, getting a bunch of WARN message below:
		// WARN Response has no supported checksum. Not validating response payload.
		options.DisableLogOutputChecksumValidationSkipped = true
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client error: %w", err)
	}

	expectedBucketOwner := config.ForBucket(bucket).ExpectedBucketOwner
	optFns := []func(*s3reader.Options){func(opts *s3reader.Options) {
		opts.ModifyHeadObjectInput = func(input *s3.HeadObjectInput) *s3.HeadObjectInput {
			input.ExpectedBucketOwner = expectedBucketOwner
			return input
		}
		opts.ModifyGetObjectInput = func(input *s3.GetObjectInput) *s3.GetObjectInput {
			input.ExpectedBucketOwner = expectedBucketOwner
			return input
		}
	}}
	if o.Verbose {
		optFns = append(optFns, s3reader.WithProgressLogger(logger, progressLogInterval))
	}

	r, err := s3reader.New(ctx, client, bucket, key, optFns...)
	if err != nil {
		return nil, err
	}

	return &source{ReaderAt: r, size: r.Size(), close: r.Close}, nil
}

// textOptFns converts the merged configuration into report.TextOptions.
func textOptFns(cfg config.AnalyzeConfig, keyWidth int, humanize, cp437 bool) func(*report.TextOptions) {
	return func(opts *report.TextOptions) {
		opts.KeyWidth = cfg.KeyWidth
		if keyWidth > 0 {
			opts.KeyWidth = keyWidth
		}
		opts.Humanize = cfg.Humanize || humanize
		opts.CP437 = cfg.CP437 || cp437
	}
}
