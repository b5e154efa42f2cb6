// Package walk drives a single pass over a ZIP archive's structure.
//
// The walk starts from the end of central directory record, resolves the ZIP64 override chain, then visits every
// central directory header in order and cross-references it against its local file header, skipping the compressed
// data by the size the central directory declares. Every decoded record is handed to a Reporter as it is found. The
// walk ends by checking that the headers exactly consumed the declared central directory size.
//
// ForwardScan instead reads local file headers back to back from offset 0, then the central directory and trailer
// that follow them, and reports local file headers that the central directory does not reference.
package walk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/nguyengg/zipanalyze/cursor"
	"github.com/nguyengg/zipanalyze/record"
)

const (
	// DefaultMaxEntries is the default value of [Options.MaxEntries].
	DefaultMaxEntries = 1 << 20
)

var (
	// ErrInconsistentCentralDirectory is returned if the decoded central directory headers did not consume exactly the
	// declared central directory size.
	ErrInconsistentCentralDirectory = errors.New("inconsistent central directory")

	// ErrUnsupportedLayout is returned if the end of central directory record cannot be located with the selected
	// TrailerMode.
	ErrUnsupportedLayout = errors.New("unsupported layout")

	// ErrTooManyEntries is returned if the central directory holds more headers than [Options.MaxEntries].
	ErrTooManyEntries = errors.New("too many entries")

	// ErrUnresolvedZip64 is the entry-level problem of a sentineled size or offset with no ZIP64 override.
	ErrUnresolvedZip64 = errors.New("unresolved zip64 field")

	// ErrOrphanedLocalHeader is the ForwardScan problem of a local file header that no central directory header
	// references.
	ErrOrphanedLocalHeader = errors.New("orphaned local file header")

	// ErrMissingLocalHeader is the ForwardScan problem of a central directory header whose local header offset does
	// not match any local file header found in file order.
	ErrMissingLocalHeader = errors.New("missing local file header")

	// ErrMisplacedCentralDirectory is the ForwardScan problem of a central directory that does not start at the
	// declared offset.
	ErrMisplacedCentralDirectory = errors.New("misplaced central directory")
)

// ScanMode selects the order in which records are visited.
type ScanMode int

const (
	// CentralDirectoryScan starts from the end of central directory record and visits local headers through the
	// offsets the central directory declares.
	CentralDirectoryScan ScanMode = iota
	// ForwardScan reads records back to back from offset 0 in file order, then cross-references the local file
	// headers against the central directory.
	ForwardScan
)

func (m ScanMode) String() string {
	switch m {
	case CentralDirectoryScan:
		return "central-directory"
	case ForwardScan:
		return "forward"
	default:
		return fmt.Sprintf("ScanMode(%d)", int(m))
	}
}

// TrailerMode selects how the end of central directory record is located.
type TrailerMode int

const (
	// ScanTrailer scans backwards from the end of input for the signature, accepting any archive comment.
	ScanTrailer TrailerMode = iota
	// FixedTrailer expects the record at exactly 22 bytes from the end of input; an archive comment is unsupported.
	FixedTrailer
)

func (m TrailerMode) String() string {
	switch m {
	case ScanTrailer:
		return "scan"
	case FixedTrailer:
		return "fixed"
	default:
		return fmt.Sprintf("TrailerMode(%d)", int(m))
	}
}

// ProgressReporter is called after each central directory header with the number of central directory bytes consumed
// so far and the declared total.
type ProgressReporter func(consumed, declared int64)

// Options customises Walk.
type Options struct {
	// Ctx is checked between entries.
	//
	// Default to context.Background.
	Ctx context.Context

	// Scan selects the order in which records are visited.
	//
	// Default to CentralDirectoryScan.
	Scan ScanMode

	// Trailer selects how the end of central directory record is located.
	//
	// Default to ScanTrailer. ForwardScan reads the record wherever the central directory ends instead.
	Trailer TrailerMode

	// MaxEntries caps the number of central directory headers that will be decoded. With ForwardScan, it also caps
	// the number of local file headers.
	//
	// Default to DefaultMaxEntries. Set to a negative value to disable.
	MaxEntries int

	// DescriptorPolicy decides the width of data descriptor size fields.
	//
	// Default to record.VersionHeuristic.
	DescriptorPolicy record.DescriptorPolicy

	// WindowSize is passed to cursor.New.
	//
	// Default to cursor.DefaultWindowSize.
	WindowSize int

	// Logger traces the state transitions.
	//
	// By default, nothing is logged.
	Logger *log.Logger

	// Progress is called after each central directory header.
	//
	// With ForwardScan, the declared total is unknown until the trailer and is reported as -1.
	Progress ProgressReporter
}

// Reporter receives the walk's findings in order.
//
// index is the zero-based entry index for per-entry records, and -1 for archive-level records. With ForwardScan, local
// file headers, their compressed data, data descriptors, and their problems are indexed in file order instead, which
// may differ from the central directory order.
type Reporter interface {
	// Record is called for every decoded record.
	Record(kind record.Kind, index int, offset int64, fields []record.Field)
	// CompressedData is called for the compressed data region of an entry that was skipped.
	CompressedData(index int, offset int64, size uint64)
	// Problem is called for every entry-level problem that did not abort the walk.
	Problem(index int, offset int64, err error)
	// Verdict is called exactly once at the end of every walk, including aborted ones.
	Verdict(v Verdict)
}

// Verdict is the final outcome of a walk.
type Verdict struct {
	// Consistent is true if the walk completed and the central directory was consumed exactly.
	Consistent bool
	// DeclaredSize is the resolved declared central directory size.
	DeclaredSize uint64
	// Remaining is the declared size minus the bytes consumed by the decoded headers.
	Remaining int64
	// DeclaredEntries is the resolved total number of entries in the central directory.
	DeclaredEntries uint64
	// Entries is the number of central directory headers decoded.
	Entries int
	// Problems is the number of entry-level problems.
	Problems int
	// Err is the error that aborted the walk or ErrInconsistentCentralDirectory.
	Err error
}

// Entry is one central directory header and what was found at its local header offset.
type Entry struct {
	Index   int
	Central record.CentralDirectoryHeader
	// Local is nil if the local header could not be decoded.
	Local *record.LocalFileHeader
	// DataOffset is the offset of the compressed data, or -1 if unknown.
	DataOffset int64
	// Descriptor is non-nil if general purpose bit 3 was set and the descriptor was decoded.
	Descriptor *record.DataDescriptor
	// Err holds the entry's problems.
	Err error
}

// EntryError is an entry-level problem.
type EntryError struct {
	// Index is the zero-based entry index.
	Index int
	// Offset is the offset of the record that has the problem.
	Offset int64
	Err    error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// LocalEntry is a local file header found by ForwardScan.
type LocalEntry struct {
	// Index is the zero-based position in file order.
	Index  int
	Header record.LocalFileHeader
	// DataOffset is the offset of the compressed data.
	DataOffset int64
	// Descriptor is non-nil if a data descriptor follows the compressed data.
	Descriptor *record.DataDescriptor
	// Referenced is true if a central directory header points at this local header.
	Referenced bool
	// Err holds the local header's problems.
	Err error
}

// Result is everything the walk decoded.
type Result struct {
	EOCD         record.EndOfCentralDirectory
	Zip64Locator *record.Zip64Locator
	Zip64EOCD    *record.Zip64EndOfCentralDirectory
	Entries      []Entry
	// LocalHeaders is only populated by ForwardScan.
	LocalHeaders []LocalEntry

	// CDOffset and DeclaredSize are the resolved central directory offset and size.
	CDOffset     uint64
	DeclaredSize uint64
	// DeclaredEntries is the resolved total number of entries.
	DeclaredEntries uint64
	// Remaining is DeclaredSize minus the bytes consumed by the decoded headers.
	Remaining  int64
	Consistent bool

	// archive holds the problems that belong to no entry.
	archive []error
}

// Problems returns the archive-level problems, then the entry-level problems in entry order, then the problems of
// local headers found by ForwardScan.
func (r *Result) Problems() (errs []error) {
	errs = append(errs, r.archive...)
	for _, e := range r.Entries {
		if e.Err != nil {
			errs = append(errs, e.Err)
		}
	}
	for _, l := range r.LocalHeaders {
		if l.Err != nil {
			errs = append(errs, l.Err)
		}
	}
	return
}

// Walk walks the archive in src, which is size bytes long.
//
// rep may be nil. The returned Result holds whatever was decoded even when the returned error is non-nil. The error
// wraps cursor.ErrTruncatedInput, ErrUnsupportedLayout, or ErrTooManyEntries if the walk was aborted, and
// ErrInconsistentCentralDirectory if the walk completed but the verdict is inconsistent. Entry-level problems are
// available from Result.Problems and do not cause an error.
func Walk(src io.ReaderAt, size int64, rep Reporter, optFns ...func(*Options)) (*Result, error) {
	opts := &Options{
		Ctx:              context.Background(),
		Trailer:          ScanTrailer,
		MaxEntries:       DefaultMaxEntries,
		DescriptorPolicy: record.VersionHeuristic,
		WindowSize:       cursor.DefaultWindowSize,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	if rep == nil {
		rep = nopReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	w := &walker{
		c: cursor.New(src, size, func(o *cursor.Options) {
			o.WindowSize = opts.WindowSize
		}),
		rep:    rep,
		opts:   opts,
		res:    &Result{},
		logger: opts.Logger,
	}

	start := locateTrailer
	if opts.Scan == ForwardScan {
		start = forwardLocalHeader
	}

	var err error
	for state := start; state != nil; {
		if state, err = state(w); err != nil {
			break
		}
	}

	if err == nil && !w.res.Consistent {
		err = fmt.Errorf("%d of %d declared central directory bytes not consumed: %w", w.res.Remaining, w.res.DeclaredSize, ErrInconsistentCentralDirectory)
	}

	rep.Verdict(Verdict{
		Consistent:      w.res.Consistent,
		DeclaredSize:    w.res.DeclaredSize,
		Remaining:       w.res.Remaining,
		DeclaredEntries: w.res.DeclaredEntries,
		Entries:         len(w.res.Entries),
		Problems:        w.problems,
		Err:             err,
	})

	return w.res, err
}

type nopReporter struct{}

func (nopReporter) Record(record.Kind, int, int64, []record.Field) {}
func (nopReporter) CompressedData(int, int64, uint64)              {}
func (nopReporter) Problem(int, int64, error)                      {}
func (nopReporter) Verdict(Verdict)                                {}
