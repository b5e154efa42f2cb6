package cmd

import (
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nguyengg/zipanalyze/record"
	"github.com/nguyengg/zipanalyze/walk"
)

const progressLogInterval = 5 * time.Second

// logReporter logs problems and the verdict of a walk.
type logReporter struct {
	logger  *log.Logger
	verbose bool
}

var _ walk.Reporter = (*logReporter)(nil)

func (r *logReporter) Record(kind record.Kind, index int, offset int64, _ []record.Field) {
	if !r.verbose {
		return
	}

	if index < 0 {
		r.logger.Printf("%s at offset %d", kind, offset)
		return
	}
	r.logger.Printf("%s[%d] at offset %d", kind, index, offset)
}

func (r *logReporter) CompressedData(int, int64, uint64) {}

// Problem logs err alone since entry-level problems already name their entry and offset.
func (r *logReporter) Problem(_ int, _ int64, err error) {
	r.logger.Printf("%v", err)
}

func (r *logReporter) Verdict(v walk.Verdict) {
	switch {
	case v.Consistent && v.Problems == 0:
		r.logger.Printf("consistent: %d entries, %s central directory", v.Entries, humanize.IBytes(v.DeclaredSize))
	case v.Consistent:
		r.logger.Printf("consistent: %d entries, %s central directory, but %d problems", v.Entries, humanize.IBytes(v.DeclaredSize), v.Problems)
	case v.Err != nil:
		r.logger.Printf("inconsistent after %d of %d entries: %v", v.Entries, v.DeclaredEntries, v.Err)
	default:
		r.logger.Printf("inconsistent: %d of %d central directory bytes not consumed", v.Remaining, v.DeclaredSize)
	}
}
