package walk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/nguyengg/zipanalyze/record"
)

// descriptorSearchChunk is the number of bytes read at a time when searching for a data descriptor.
const descriptorSearchChunk = 64 * 1024

// forwardLocalHeader decodes the local file header at w.next, skips its data, and decodes its data descriptor.
func forwardLocalHeader(w *walker) (stateFn, error) {
	if err := w.opts.Ctx.Err(); err != nil {
		return nil, err
	}

	sig, err := w.signature(w.next)
	if err != nil {
		return nil, err
	}
	if sig != record.LocalFileHeaderSignature {
		w.cdStart = w.next
		w.logger.Printf("found %d local file headers, next signature 0x%08x at offset %d", len(w.res.LocalHeaders), sig, w.next)
		return forwardCentralDirectoryHeader, nil
	}

	index := len(w.res.LocalHeaders)
	if w.opts.MaxEntries >= 0 && index >= w.opts.MaxEntries {
		return nil, fmt.Errorf("stopped after %d local file headers: %w", index, ErrTooManyEntries)
	}

	if err = w.seek(w.next); err != nil {
		return nil, err
	}

	h, err := record.DecodeLocalFileHeader(w.c)
	if err != nil {
		return nil, fmt.Errorf("decode local file header %d error: %w", index, err)
	}

	w.report(&h, index)
	w.res.LocalHeaders = append(w.res.LocalHeaders, LocalEntry{Index: index, Header: h, DataOffset: w.c.Tell()})
	l := &w.res.LocalHeaders[index]
	if h.Extra.Err != nil {
		w.localProblem(l, h.Offset, h.Extra.Err)
	}

	bit3 := h.Flags&record.FlagDataDescriptor != 0
	wide := w.opts.DescriptorPolicy(&h)

	size := h.CompressedSize64
	if h.CompressedSize == record.Sentinel32 {
		if z, ok := h.Extra.Zip64(); !ok || !z.Has(record.Zip64CompressedSize) {
			return nil, fmt.Errorf("compressed size of local file header %d is 0x%08x: %w", index, h.CompressedSize, ErrUnresolvedZip64)
		}
	}
	if bit3 && size == 0 {
		// the sizes follow the data so the descriptor has to be found first.
		if size, err = w.searchDescriptor(l.DataOffset, wide); err != nil {
			return nil, fmt.Errorf("find end of compressed data of local file header %d error: %w", index, err)
		}
	}

	w.rep.CompressedData(index, l.DataOffset, size)
	if err = w.seek(uint64(l.DataOffset)); err != nil {
		return nil, err
	}
	if err = w.c.Skip(size); err != nil {
		return nil, fmt.Errorf("skip compressed data of local file header %d error: %w", index, err)
	}

	dataEnd := uint64(w.c.Tell())
	if !bit3 {
		// an unflagged descriptor is still recognised by its signature.
		if sig, err = w.signature(dataEnd); err != nil || sig != record.DataDescriptorSignature {
			w.next = dataEnd
			return forwardLocalHeader, nil
		}
	}

	d, err := record.DecodeDataDescriptor(w.c, wide)
	if err != nil {
		return nil, fmt.Errorf("decode data descriptor %d error: %w", index, err)
	}

	l.Descriptor = &d
	w.report(&d, index)
	w.next = uint64(w.c.Tell())

	return forwardLocalHeader, nil
}

// forwardCentralDirectoryHeader decodes the central directory headers that follow the local file headers.
func forwardCentralDirectoryHeader(w *walker) (stateFn, error) {
	if err := w.opts.Ctx.Err(); err != nil {
		return nil, err
	}

	sig, err := w.signature(w.next)
	if err != nil {
		return nil, err
	}
	if sig != record.CentralDirectoryHeaderSignature {
		w.logger.Printf("found %d central directory headers in %d bytes", len(w.res.Entries), w.consumed)
		return forwardTrailer, nil
	}

	index := len(w.res.Entries)
	if w.opts.MaxEntries >= 0 && index >= w.opts.MaxEntries {
		return nil, fmt.Errorf("stopped after %d central directory headers: %w", index, ErrTooManyEntries)
	}

	if err = w.seek(w.next); err != nil {
		return nil, err
	}

	h, err := record.DecodeCentralDirectoryHeader(w.c)
	if err != nil {
		return nil, fmt.Errorf("decode central directory header %d error: %w", index, err)
	}

	w.report(&h, index)
	w.consumed += h.Len()
	w.next = uint64(h.Offset + h.Len())

	w.res.Entries = append(w.res.Entries, Entry{Index: index, Central: h, DataOffset: -1})
	if h.Extra.Err != nil {
		w.problem(&w.res.Entries[index], h.Offset, h.Extra.Err)
	}

	if w.opts.Progress != nil {
		w.opts.Progress(w.consumed, -1)
	}

	return forwardCentralDirectoryHeader, nil
}

// forwardTrailer decodes the optional ZIP64 records and the end of central directory record in file order.
func forwardTrailer(w *walker) (stateFn, error) {
	sig, err := w.signature(w.next)
	if err != nil {
		return nil, err
	}

	if sig == record.Zip64EndOfCentralDirectorySignature {
		z, err := record.DecodeZip64EndOfCentralDirectory(w.c)
		if err != nil {
			return nil, fmt.Errorf("decode zip64 end of central directory record error: %w", err)
		}

		w.res.Zip64EOCD = &z
		w.report(&z, -1)
		w.next = uint64(w.c.Tell())
		if sig, err = w.signature(w.next); err != nil {
			return nil, err
		}
	}

	if sig == record.Zip64EndOfCentralDirectoryLocatorSignature {
		loc, err := record.DecodeZip64Locator(w.c)
		if err != nil {
			return nil, fmt.Errorf("decode zip64 end of central directory locator error: %w", err)
		}

		w.res.Zip64Locator = &loc
		w.report(&loc, -1)
		w.next = uint64(w.c.Tell())
		if sig, err = w.signature(w.next); err != nil {
			return nil, err
		}
	}

	if sig != record.EndOfCentralDirectorySignature {
		return nil, fmt.Errorf("unexpected signature 0x%08x at offset %d: %w", sig, w.next, ErrUnsupportedLayout)
	}

	if w.res.EOCD, err = record.DecodeEndOfCentralDirectory(w.c); err != nil {
		return nil, fmt.Errorf("decode end of central directory record error: %w", err)
	}

	eocd := &w.res.EOCD
	w.report(eocd, -1)

	w.res.CDOffset = uint64(eocd.CDOffset)
	w.res.DeclaredSize = uint64(eocd.CDSize)
	w.res.DeclaredEntries = uint64(eocd.CDCount)
	if z := w.res.Zip64EOCD; z != nil && eocd.NeedsZip64() {
		w.res.CDOffset = z.CDOffset
		w.res.DeclaredSize = z.CDSize
		w.res.DeclaredEntries = z.CDCount
	}
	w.res.Remaining = int64(min(w.res.DeclaredSize, math.MaxInt64)) - w.consumed

	if w.res.CDOffset != w.cdStart {
		err = fmt.Errorf("central directory declared at offset %d starts at offset %d: %w", w.res.CDOffset, w.cdStart, ErrMisplacedCentralDirectory)
		w.res.archive = append(w.res.archive, err)
		w.problems++
		w.rep.Problem(-1, int64(w.cdStart), err)
	}

	return crossReferenceLocalHeaders, nil
}

// crossReferenceLocalHeaders matches every central directory header to a local file header found in file order.
func crossReferenceLocalHeaders(w *walker) (stateFn, error) {
	byOffset := make(map[int64]int, len(w.res.LocalHeaders))
	for i, l := range w.res.LocalHeaders {
		byOffset[l.Header.Offset] = i
	}

	for i := range w.res.Entries {
		e := &w.res.Entries[i]
		h := &e.Central

		if h.Unresolved()&record.Zip64LocalHeaderOffset != 0 {
			w.problem(e, h.Offset, fmt.Errorf("relative offset of local header is 0x%08x: %w", h.LocalHeaderOffset, ErrUnresolvedZip64))
			continue
		}

		j, ok := byOffset[int64(min(h.LocalHeaderOffset64, math.MaxInt64))]
		if !ok {
			w.problem(e, h.Offset, fmt.Errorf("relative offset of local header %d: %w", h.LocalHeaderOffset64, ErrMissingLocalHeader))
			continue
		}

		l := &w.res.LocalHeaders[j]
		l.Referenced = true
		e.Local = &l.Header
		e.DataOffset = l.DataOffset
		e.Descriptor = l.Descriptor
	}

	for i := range w.res.LocalHeaders {
		if l := &w.res.LocalHeaders[i]; !l.Referenced {
			w.localProblem(l, l.Header.Offset, fmt.Errorf("%q is not in the central directory: %w", l.Header.Name, ErrOrphanedLocalHeader))
		}
	}

	return verify, nil
}

// searchDescriptor returns the compressed size of the data starting at offset by finding the first data descriptor
// signature that is followed by a matching compressed size.
//
// Only data descriptors with a signature can be found.
func (w *walker) searchDescriptor(offset int64, wide bool) (uint64, error) {
	sig := binary.LittleEndian.AppendUint32(nil, record.DataDescriptorSignature)

	for pos := offset; pos < w.c.Size(); {
		if err := w.opts.Ctx.Err(); err != nil {
			return 0, err
		}

		n := min(int64(descriptorSearchChunk), w.c.Size()-pos)
		if err := w.c.Seek(pos); err != nil {
			return 0, err
		}
		b, err := w.c.Bytes(int(n))
		if err != nil {
			return 0, err
		}

		for i := 0; ; {
			j := bytes.Index(b[i:], sig)
			if j == -1 {
				break
			}
			i += j

			candidate := pos + int64(i)
			if size, ok := w.descriptorSize(candidate, wide); ok && size == uint64(candidate-offset) {
				w.logger.Printf("found data descriptor at offset %d after %d bytes of compressed data", candidate, size)
				return size, nil
			}
			i++
		}

		if n <= 3 {
			break
		}
		pos += n - 3
	}

	return 0, fmt.Errorf("no data descriptor after offset %d declares a matching compressed size: %w", offset, ErrUnsupportedLayout)
}

// descriptorSize reads the compressed size of the signed data descriptor at offset.
func (w *walker) descriptorSize(offset int64, wide bool) (uint64, bool) {
	n := 4
	if wide {
		n = 8
	}

	if w.c.Seek(offset+8) != nil {
		return 0, false
	}
	b, err := w.c.Peek(n)
	if err != nil {
		return 0, false
	}

	if wide {
		return binary.LittleEndian.Uint64(b), true
	}
	return uint64(binary.LittleEndian.Uint32(b)), true
}

// signature peeks the 4-byte signature at offset, leaving the cursor there.
func (w *walker) signature(offset uint64) (uint32, error) {
	if err := w.seek(offset); err != nil {
		return 0, err
	}

	b, err := w.c.Peek(4)
	if err != nil {
		return 0, fmt.Errorf("read signature at offset %d error: %w", offset, err)
	}

	return binary.LittleEndian.Uint32(b), nil
}

func (w *walker) localProblem(l *LocalEntry, offset int64, err error) {
	err = &EntryError{Index: l.Index, Offset: offset, Err: err}
	l.Err = errors.Join(l.Err, err)
	w.problems++
	w.rep.Problem(l.Index, offset, err)
}
