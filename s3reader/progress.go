package s3reader

import (
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// WithProgressLogger adds a progress logger that logs the number of bytes fetched with the given interval.
//
// For example, if interval is `5*time.Second`, every 5 seconds, the given logger will print
// `fetched X in N requests so far` where X is displayed in a human-friendly format (e.g. 5 KiB, 1 MiB, etc.).
func WithProgressLogger(logger *log.Logger, interval time.Duration) func(*Options) {
	return func(opts *Options) {
		opts.progress = &progressLogger{
			logger: logger,
			rate:   &rate.Sometimes{Interval: interval},
		}
	}
}

type progressLogger struct {
	logger   *log.Logger
	rate     *rate.Sometimes
	fetched  int64
	requests int
}

// add is safe to call on a nil receiver.
func (l *progressLogger) add(n int) {
	if l == nil {
		return
	}

	l.fetched += int64(n)
	l.requests++

	l.rate.Do(func() {
		l.logger.Printf("fetched %s in %d requests so far", humanize.IBytes(uint64(l.fetched)), l.requests)
	})
}

func (l *progressLogger) close(size int64) {
	if l == nil {
		return
	}

	l.logger.Printf("fetched %s of %s in %d requests in total", humanize.IBytes(uint64(l.fetched)), humanize.IBytes(uint64(size)), l.requests)
}
