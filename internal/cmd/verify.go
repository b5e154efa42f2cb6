package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/nguyengg/zipanalyze/walk"
)

// Verify only logs the verdict of every input.
type Verify struct {
	WalkOptions
	Args struct {
		Inputs []string `positional-arg-name:"FILE|S3_URI" description:"local files or S3 URIs in format s3://bucket/key" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Verify) Execute(args []string) error {
	if err := checkArgs(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	cfg := c.analyzeConfig()

	return c.run(ctx, c.Args.Inputs, func(ctx context.Context, _ int, _ string, src *source, logger *log.Logger) (*walk.Result, error) {
		return c.walkSource(ctx, cfg, logger, src, &logReporter{logger: logger, verbose: c.Verbose})
	})
}
