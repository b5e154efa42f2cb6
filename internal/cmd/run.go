package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/nguyengg/zipanalyze/internal"
	"github.com/nguyengg/zipanalyze/walk"
)

// walkFn walks one opened input and returns its findings.
type walkFn func(ctx context.Context, i int, input string, src *source, logger *log.Logger) (*walk.Result, error)

// run opens and walks every input in order.
//
// An input fails if it cannot be opened or read, if its walk is aborted or inconsistent, or if any entry has a problem.
// The returned error is non-nil if any input failed.
func (o *WalkOptions) run(ctx context.Context, inputs []string, fn walkFn) error {
	success := 0
	n := len(inputs)

	for i, input := range inputs {
		logger := internal.NewLogger(o.errWriter(), i, n, input)

		err := o.runOne(ctx, i, input, logger, fn)
		if err == nil {
			success++
			continue
		}

		if errors.Is(err, context.Canceled) {
			logger.Printf("interrupted")
			break
		}

		logger.Printf("%v", err)
	}

	if success != n {
		return fmt.Errorf("%d of %d inputs failed", n-success, n)
	}

	return nil
}

func (o *WalkOptions) runOne(ctx context.Context, i int, input string, logger *log.Logger, fn walkFn) error {
	src, err := o.open(ctx, input, logger)
	if err != nil {
		return err
	}
	defer src.close()

	res, err := fn(ctx, i, input, src, logger)
	if err != nil {
		return err
	}

	if problems := res.Problems(); len(problems) != 0 {
		return fmt.Errorf("%d entries have problems", len(problems))
	}

	return nil
}

func checkArgs(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}
	return nil
}
