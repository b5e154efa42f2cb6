package walk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/nguyengg/zipanalyze/cursor"
	"github.com/nguyengg/zipanalyze/record"
)

// stateFn is one state of the walk; it returns the next state, or nil when done.
type stateFn func(w *walker) (stateFn, error)

// walker owns the cursor for the duration of a Walk.
type walker struct {
	c      *cursor.Cursor
	rep    Reporter
	opts   *Options
	res    *Result
	logger *log.Logger

	// next is the offset of the next central directory header, or of the next record with ForwardScan.
	next     uint64
	problems int

	// cdStart and consumed are where ForwardScan found the central directory and how many bytes its headers took.
	cdStart  uint64
	consumed int64
}

func locateTrailer(w *walker) (stateFn, error) {
	if size := w.c.Size(); size < record.EndOfCentralDirectoryLen {
		return nil, fmt.Errorf("input of %d bytes cannot hold an end of central directory record: %w", size, ErrUnsupportedLayout)
	}

	var (
		offset int64
		err    error
	)
	switch w.opts.Trailer {
	case FixedTrailer:
		offset, err = w.fixedTrailer()
	default:
		offset, err = w.scanTrailer()
	}
	if err != nil {
		return nil, err
	}

	if err = w.c.Seek(offset); err != nil {
		return nil, err
	}
	if w.res.EOCD, err = record.DecodeEndOfCentralDirectory(w.c); err != nil {
		return nil, fmt.Errorf("decode end of central directory record error: %w", err)
	}

	eocd := &w.res.EOCD
	w.logger.Printf("found end of central directory record at offset %d", offset)
	w.report(eocd, -1)

	w.res.CDOffset = uint64(eocd.CDOffset)
	w.res.DeclaredSize = uint64(eocd.CDSize)
	w.res.DeclaredEntries = uint64(eocd.CDCount)

	if eocd.NeedsZip64() {
		return resolveZip64, nil
	}

	return enterCentralDirectory, nil
}

// fixedTrailer expects the end of central directory record at exactly 22 bytes from the end with an empty comment.
func (w *walker) fixedTrailer() (int64, error) {
	offset := w.c.Size() - record.EndOfCentralDirectoryLen
	if err := w.c.Seek(offset); err != nil {
		return 0, err
	}

	b, err := w.c.Peek(record.EndOfCentralDirectoryLen)
	if err != nil {
		return 0, err
	}

	if sig := binary.LittleEndian.Uint32(b); sig != record.EndOfCentralDirectorySignature {
		return 0, fmt.Errorf("no end of central directory signature at offset %d, got 0x%08x (archive comment present?): %w", offset, sig, ErrUnsupportedLayout)
	}
	if n := binary.LittleEndian.Uint16(b[20:]); n != 0 {
		return 0, fmt.Errorf("end of central directory record at offset %d declares a %d-byte comment: %w", offset, n, ErrUnsupportedLayout)
	}

	return offset, nil
}

// scanTrailer searches the last 22+65535 bytes backwards for the end of central directory signature.
//
// A candidate whose comment ends exactly at the end of input wins. Otherwise the last candidate whose comment fits and
// whose central directory lies before it is used, so that a record embedded in an archive comment is skipped.
func (w *walker) scanTrailer() (int64, error) {
	n := min(w.c.Size(), record.EndOfCentralDirectoryLen+record.MaxCommentLen)
	start := w.c.Size() - n
	if err := w.c.Seek(start); err != nil {
		return 0, err
	}

	b, err := w.c.Bytes(int(n))
	if err != nil {
		return 0, err
	}

	var loose []int
	sig := binary.LittleEndian.AppendUint32(nil, record.EndOfCentralDirectorySignature)
	for end := len(b) - record.EndOfCentralDirectoryLen + 4; ; {
		i := bytes.LastIndex(b[:end], sig)
		if i == -1 {
			break
		}
		end = i + 3

		switch commentEnd := i + record.EndOfCentralDirectoryLen + int(binary.LittleEndian.Uint16(b[i+20:])); {
		case commentEnd == len(b):
			return start + int64(i), nil
		case commentEnd < len(b):
			loose = append(loose, i)
		}
	}

	// a record declaring an empty central directory is only used if no other candidate is plausible.
	empty := -1
	for _, i := range loose {
		offset := start + int64(i)
		eocd := b[i : i+record.EndOfCentralDirectoryLen]
		if !w.plausibleTrailer(offset, eocd) {
			w.logger.Printf("skipped implausible end of central directory signature at offset %d", offset)
			continue
		}

		if binary.LittleEndian.Uint32(eocd[12:]) == 0 {
			if empty == -1 {
				empty = i
			}
			continue
		}

		w.logger.Printf("end of central directory record at offset %d does not end the input", offset)
		return offset, nil
	}

	if empty != -1 {
		w.logger.Printf("end of central directory record at offset %d does not end the input", start+int64(empty))
		return start + int64(empty), nil
	}

	return 0, fmt.Errorf("no end of central directory record in the last %d bytes: %w", n, ErrUnsupportedLayout)
}

// plausibleTrailer checks that the candidate record b at offset points at a central directory that precedes it.
//
// ZIP64 candidates need their locator right before them instead.
func (w *walker) plausibleTrailer(offset int64, b []byte) bool {
	cdSize := binary.LittleEndian.Uint32(b[12:])
	cdOffset := binary.LittleEndian.Uint32(b[16:])

	if cdSize == record.Sentinel32 || cdOffset == record.Sentinel32 {
		return w.signatureAt(offset-record.Zip64LocatorLen, record.Zip64EndOfCentralDirectoryLocatorSignature)
	}

	if uint64(cdOffset)+uint64(cdSize) > uint64(offset) {
		return false
	}

	return cdSize == 0 || w.signatureAt(int64(cdOffset), record.CentralDirectoryHeaderSignature)
}

func (w *walker) signatureAt(offset int64, sig uint32) bool {
	if offset < 0 || w.c.Seek(offset) != nil {
		return false
	}

	b, err := w.c.Peek(4)
	return err == nil && binary.LittleEndian.Uint32(b) == sig
}

func resolveZip64(w *walker) (stateFn, error) {
	var (
		eocd   = &w.res.EOCD
		offset = eocd.Offset - record.Zip64LocatorLen
		loc    record.Zip64Locator
		err    error
	)

	if offset < 0 {
		err = fmt.Errorf("end of central directory record at offset %d leaves no room for a zip64 locator: %w", eocd.Offset, record.ErrSignatureMismatch)
	} else if err = w.c.Seek(offset); err == nil {
		loc, err = record.DecodeZip64Locator(w.c)
	}

	if err != nil {
		// a central directory of exactly 0xffff entries does not need ZIP64.
		if errors.Is(err, record.ErrSignatureMismatch) && eocd.CDOffset != record.Sentinel32 && eocd.CDSize != record.Sentinel32 {
			w.logger.Printf("no zip64 locator at offset %d, using 32-bit values", offset)
			return enterCentralDirectory, nil
		}

		return nil, fmt.Errorf("decode zip64 end of central directory locator error: %w", err)
	}

	w.res.Zip64Locator = &loc
	w.report(&loc, -1)

	if err = w.seek(loc.EOCDOffset); err != nil {
		return nil, err
	}

	z, err := record.DecodeZip64EndOfCentralDirectory(w.c)
	if err != nil {
		return nil, fmt.Errorf("decode zip64 end of central directory record error: %w", err)
	}

	w.res.Zip64EOCD = &z
	w.report(&z, -1)
	w.logger.Printf("found zip64 end of central directory record at offset %d", z.Offset)

	w.res.CDOffset = z.CDOffset
	w.res.DeclaredSize = z.CDSize
	w.res.DeclaredEntries = z.CDCount

	return enterCentralDirectory, nil
}

func enterCentralDirectory(w *walker) (stateFn, error) {
	w.next = w.res.CDOffset
	w.res.Remaining = int64(min(w.res.DeclaredSize, math.MaxInt64))
	w.logger.Printf("central directory at offset %d declares %d bytes and %d entries", w.res.CDOffset, w.res.DeclaredSize, w.res.DeclaredEntries)

	return iterateCentralDirectory, nil
}

func iterateCentralDirectory(w *walker) (stateFn, error) {
	if w.res.Remaining <= 0 {
		return verify, nil
	}

	if err := w.opts.Ctx.Err(); err != nil {
		return nil, err
	}

	index := len(w.res.Entries)
	if w.opts.MaxEntries >= 0 && index >= w.opts.MaxEntries {
		return nil, fmt.Errorf("stopped after %d central directory headers: %w", index, ErrTooManyEntries)
	}

	if err := w.seek(w.next); err != nil {
		return nil, err
	}

	h, err := record.DecodeCentralDirectoryHeader(w.c)
	switch {
	case errors.Is(err, record.ErrSignatureMismatch):
		// the declared size runs past the last header; verify reports the shortfall.
		w.problems++
		w.rep.Problem(index, int64(w.next), &EntryError{Index: index, Offset: int64(w.next), Err: err})
		w.logger.Printf("central directory ends at offset %d with %d declared bytes remaining", w.next, w.res.Remaining)
		return verify, nil
	case err != nil:
		return nil, fmt.Errorf("decode central directory header %d error: %w", index, err)
	}

	w.report(&h, index)
	w.res.Remaining -= h.Len()
	w.next = uint64(h.Offset + h.Len())

	w.res.Entries = append(w.res.Entries, Entry{Index: index, Central: h, DataOffset: -1})
	e := &w.res.Entries[index]
	if h.Extra.Err != nil {
		w.problem(e, h.Offset, h.Extra.Err)
	}

	if w.opts.Progress != nil {
		declared := int64(min(w.res.DeclaredSize, math.MaxInt64))
		w.opts.Progress(declared-w.res.Remaining, declared)
	}

	return crossReferenceLocalHeader, nil
}

func crossReferenceLocalHeader(w *walker) (stateFn, error) {
	e := &w.res.Entries[len(w.res.Entries)-1]
	h := &e.Central
	unresolved := h.Unresolved()

	if unresolved&record.Zip64LocalHeaderOffset != 0 {
		w.problem(e, h.Offset, fmt.Errorf("relative offset of local header is 0x%08x: %w", h.LocalHeaderOffset, ErrUnresolvedZip64))
		return iterateCentralDirectory, nil
	}

	if err := w.seek(h.LocalHeaderOffset64); err != nil {
		return nil, err
	}

	lfh, err := record.DecodeLocalFileHeader(w.c)
	switch {
	case errors.Is(err, record.ErrSignatureMismatch):
		w.problem(e, int64(h.LocalHeaderOffset64), err)
		return iterateCentralDirectory, nil
	case err != nil:
		return nil, fmt.Errorf("decode local file header %d error: %w", e.Index, err)
	}

	e.Local = &lfh
	w.report(&lfh, e.Index)
	if lfh.Extra.Err != nil {
		w.problem(e, lfh.Offset, lfh.Extra.Err)
	}

	// the local header's sizes may be placeholders so only the central directory's are used.
	if unresolved&record.Zip64CompressedSize != 0 {
		w.problem(e, h.Offset, fmt.Errorf("compressed size is 0x%08x: %w", h.CompressedSize, ErrUnresolvedZip64))
		return iterateCentralDirectory, nil
	}

	e.DataOffset = w.c.Tell()
	w.rep.CompressedData(e.Index, e.DataOffset, h.CompressedSize64)
	if err = w.c.Skip(h.CompressedSize64); err != nil {
		return nil, fmt.Errorf("skip compressed data of entry %d error: %w", e.Index, err)
	}

	if h.HasDataDescriptor() {
		d, err := record.DecodeDataDescriptor(w.c, w.opts.DescriptorPolicy(&lfh))
		if err != nil {
			return nil, fmt.Errorf("decode data descriptor %d error: %w", e.Index, err)
		}

		e.Descriptor = &d
		w.report(&d, e.Index)
	}

	return iterateCentralDirectory, nil
}

func verify(w *walker) (stateFn, error) {
	w.res.Consistent = w.res.Remaining == 0
	w.logger.Printf("decoded %d central directory headers, %d declared bytes remaining", len(w.res.Entries), w.res.Remaining)
	return nil, nil
}

// seek moves the cursor to an offset decoded from the archive.
func (w *walker) seek(off uint64) error {
	if off > uint64(w.c.Size()) {
		return fmt.Errorf("seek to offset %d outside input of %d bytes: %w", off, w.c.Size(), cursor.ErrTruncatedInput)
	}

	return w.c.Seek(int64(off))
}

func (w *walker) report(r record.Record, index int) {
	w.rep.Record(r.Kind(), index, recordOffset(r), r.Fields())
}

func (w *walker) problem(e *Entry, offset int64, err error) {
	err = &EntryError{Index: e.Index, Offset: offset, Err: err}
	e.Err = errors.Join(e.Err, err)
	w.problems++
	w.rep.Problem(e.Index, offset, err)
}

func recordOffset(r record.Record) int64 {
	switch v := r.(type) {
	case *record.EndOfCentralDirectory:
		return v.Offset
	case *record.Zip64Locator:
		return v.Offset
	case *record.Zip64EndOfCentralDirectory:
		return v.Offset
	case *record.CentralDirectoryHeader:
		return v.Offset
	case *record.LocalFileHeader:
		return v.Offset
	case *record.DataDescriptor:
		return v.Offset
	default:
		return -1
	}
}
