package report

import (
	"github.com/nguyengg/zipanalyze/record"
	"github.com/nguyengg/zipanalyze/walk"
)

// Discard is a walk.Reporter that ignores everything.
var Discard walk.Reporter = discard{}

type discard struct{}

func (discard) Record(record.Kind, int, int64, []record.Field) {}
func (discard) CompressedData(int, int64, uint64)              {}
func (discard) Problem(int, int64, error)                      {}
func (discard) Verdict(walk.Verdict)                           {}

// Tee forwards every call to each of the given reporters in order.
func Tee(reporters ...walk.Reporter) walk.Reporter {
	return tee(reporters)
}

type tee []walk.Reporter

func (t tee) Record(kind record.Kind, index int, offset int64, fields []record.Field) {
	for _, r := range t {
		r.Record(kind, index, offset, fields)
	}
}

func (t tee) CompressedData(index int, offset int64, size uint64) {
	for _, r := range t {
		r.CompressedData(index, offset, size)
	}
}

func (t tee) Problem(index int, offset int64, err error) {
	for _, r := range t {
		r.Problem(index, offset, err)
	}
}

func (t tee) Verdict(v walk.Verdict) {
	for _, r := range t {
		r.Verdict(v)
	}
}
