package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/zipanalyze/internal"
	"github.com/nguyengg/zipanalyze/report"
	"github.com/nguyengg/zipanalyze/walk"
)

// Analyze prints the full report of every input.
type Analyze struct {
	Output   flags.Filename `short:"o" long:"output" description:"write the report to this new file instead of stdout; a numbered suffix is added if the file exists"`
	KeyWidth int            `long:"key-width" description:"pad field names to this width"`
	Humanize bool           `long:"humanize" description:"add human-readable sizes"`
	CP437    bool           `long:"cp437" description:"decode file names without the UTF-8 flag as code page 437"`
	WalkOptions
	Args struct {
		Inputs []string `positional-arg-name:"FILE|S3_URI" description:"local files or S3 URIs in format s3://bucket/key" required:"yes"`
	} `positional-args:"yes"`

	stdout io.Writer
}

func (c *Analyze) Execute(args []string) error {
	if err := checkArgs(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	w := c.stdout
	switch {
	case c.Output != "":
		f, err := internal.OpenExclFile(string(c.Output))
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	case w == nil:
		w = os.Stdout
	}

	cfg := c.analyzeConfig()
	n := len(c.Args.Inputs)

	return c.run(ctx, c.Args.Inputs, func(ctx context.Context, i int, input string, src *source, logger *log.Logger) (*walk.Result, error) {
		if n > 1 {
			if i > 0 {
				_, _ = fmt.Fprintln(w)
			}
			if _, err := fmt.Fprintf(w, "%s\n\n", input); err != nil {
				return nil, fmt.Errorf("write report error: %w", err)
			}
		}

		text := report.NewText(w, textOptFns(cfg, c.KeyWidth, c.Humanize, c.CP437))
		res, err := c.walkSource(ctx, cfg, logger, src, report.Tee(text, &logReporter{logger: logger}))
		if err == nil && text.Err() != nil {
			err = fmt.Errorf("write report error: %w", text.Err())
		}
		return res, err
	})
}
