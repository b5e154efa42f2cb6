package record

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nguyengg/zipanalyze/cursor"
)

// Extra field header IDs with a dedicated decoder.
const (
	Zip64ExtraTag uint16 = 0x0001
	NTFSExtraTag  uint16 = 0x000a
)

// extraTagNames are display names of well-known header IDs.
//
// See section 4.5.2 and 4.6.1 of APPNOTE.TXT.
var extraTagNames = map[uint16]string{
	0x0001: "Zip64 extended information",
	0x0007: "AV Info",
	0x0009: "OS/2",
	0x000a: "NTFS",
	0x000c: "OpenVMS",
	0x000d: "UNIX",
	0x0017: "strong encryption header",
	0x5455: "extended timestamp",
	0x5855: "Info-ZIP UNIX (original)",
	0x6375: "Info-ZIP Unicode comment",
	0x7075: "Info-ZIP Unicode path",
	0x7855: "Info-ZIP UNIX (new)",
	0x7875: "Info-ZIP UNIX (uid/gid)",
	0x9901: "AE-x encryption",
	0xcafe: "JAR marker",
}

// ExtraTagName returns the display name of a well-known extra field header ID, or an empty string.
func ExtraTagName(tag uint16) string {
	return extraTagNames[tag]
}

// Zip64Fields is a set of the optional ZIP64 extended information fields.
//
// The fields appear in the sub-record in the order of their bits: uncompressed size, compressed size, local header
// offset, disk start number. A field is present only if the host record's own field held the sentinel value.
type Zip64Fields uint8

const (
	Zip64UncompressedSize Zip64Fields = 1 << iota
	Zip64CompressedSize
	Zip64LocalHeaderOffset
	Zip64DiskStart
)

// zip64FieldOrder lists the ZIP64 fields in on-disk order with their widths.
var zip64FieldOrder = []struct {
	field Zip64Fields
	width int
}{
	{Zip64UncompressedSize, 8},
	{Zip64CompressedSize, 8},
	{Zip64LocalHeaderOffset, 8},
	{Zip64DiskStart, 4},
}

// ExtraField is the decoded extra field region of a local or central directory header.
type ExtraField struct {
	// Raw is the entire region as read.
	Raw []byte
	// Records are the sub-records decoded in order.
	Records []ExtraRecord
	// Trailing holds the bytes that could not be framed as a sub-record.
	Trailing []byte
	// Err wraps ErrMalformedExtraField if any part of the region could not be decoded.
	Err error
}

// ExtraRecord is one (tag, size, data) sub-record of an extra field.
type ExtraRecord struct {
	// Position is the position of the sub-record's tag within the extra field region.
	Position int
	Tag      uint16
	Size     uint16
	Data     []byte

	// Zip64 is non-nil for tag 0x0001.
	Zip64 *Zip64Extra
	// NTFS is non-nil for tag 0x000a if the sub-record decoded cleanly.
	NTFS *NTFSExtra
}

// Zip64Extra is the decoded ZIP64 extended information sub-record.
type Zip64Extra struct {
	// Present is the set of fields that were requested and fit in the sub-record.
	Present           Zip64Fields
	UncompressedSize  uint64
	CompressedSize    uint64
	LocalHeaderOffset uint64
	DiskStart         uint32
	// Unparsed holds any bytes of the sub-record left after the requested fields.
	Unparsed []byte
}

// Has returns true if all of the given fields are present.
func (z *Zip64Extra) Has(f Zip64Fields) bool {
	return z.Present&f == f
}

// NTFSExtra is the decoded NTFS sub-record.
type NTFSExtra struct {
	Reserved   []byte
	Attributes []NTFSAttribute
}

// NTFSAttribute is one (tag, size, body) block of the NTFS sub-record.
//
// If the body holds at least 24 bytes, the first 24 are the Mtime, Atime, and Ctime FILETIMEs.
type NTFSAttribute struct {
	Tag  uint16
	Size uint16
	Data []byte

	Mtime, Atime, Ctime []byte
	// Unparsed holds any body bytes beyond the three timestamps.
	Unparsed []byte
}

// DecodeExtraField decodes the extra field region b.
//
// want is the set of ZIP64 fields the host record still needs resolved. Decoding advances by exactly the declared data
// size of every sub-record so an unknown or partially interpreted sub-record never desynchronises the walk. If a
// sub-record overruns the region, the sub-records decoded so far are kept, the rest is surfaced in
// ExtraField.Trailing, and the returned error wraps ErrMalformedExtraField. The same error is kept in ExtraField.Err.
func DecodeExtraField(b []byte, want Zip64Fields) (ExtraField, error) {
	ef := ExtraField{Raw: b}
	s := cursor.NewSlice(b)

	for s.Len() > 0 {
		pos := s.Pos()
		if s.Len() < 4 {
			ef.Trailing = s.Rest()
			ef.Err = fmt.Errorf("sub-record header at position %d needs 4 bytes, only %d remain: %w", pos, s.Len(), ErrMalformedExtraField)
			break
		}

		tag, _ := s.Uint16()
		size, _ := s.Uint16()
		data, err := s.Bytes(int(size))
		if err != nil {
			ef.Trailing = b[pos:]
			ef.Err = fmt.Errorf("sub-record 0x%04x at position %d declares %d bytes, only %d remain: %w", tag, pos, size, s.Len(), ErrMalformedExtraField)
			break
		}

		r := ExtraRecord{Position: pos, Tag: tag, Size: size, Data: data}
		switch tag {
		case Zip64ExtraTag:
			z := decodeZip64Extra(data, want)
			r.Zip64 = &z
		case NTFSExtraTag:
			if n, err := decodeNTFSExtra(data); err != nil {
				if ef.Err == nil {
					ef.Err = fmt.Errorf("NTFS sub-record at position %d: %w", pos, err)
				}
			} else {
				r.NTFS = &n
			}
		}

		ef.Records = append(ef.Records, r)
	}

	return ef, ef.Err
}

// Zip64 returns the first ZIP64 sub-record.
func (ef *ExtraField) Zip64() (*Zip64Extra, bool) {
	for _, r := range ef.Records {
		if r.Zip64 != nil {
			return r.Zip64, true
		}
	}

	return nil, false
}

// decodeZip64Extra reads the requested fields in order, stopping as soon as the sub-record is exhausted.
func decodeZip64Extra(data []byte, want Zip64Fields) (z Zip64Extra) {
	s := cursor.NewSlice(data)

	for _, f := range zip64FieldOrder {
		if want&f.field == 0 {
			continue
		}
		if s.Len() < f.width {
			break
		}

		switch f.field {
		case Zip64UncompressedSize:
			z.UncompressedSize, _ = s.Uint64()
		case Zip64CompressedSize:
			z.CompressedSize, _ = s.Uint64()
		case Zip64LocalHeaderOffset:
			z.LocalHeaderOffset, _ = s.Uint64()
		case Zip64DiskStart:
			z.DiskStart, _ = s.Uint32()
		}

		z.Present |= f.field
	}

	if s.Len() > 0 {
		z.Unparsed = s.Rest()
	}

	return z
}

// decodeNTFSExtra consumes exactly 4 + Σ(4 + size) bytes.
func decodeNTFSExtra(data []byte) (n NTFSExtra, err error) {
	s := cursor.NewSlice(data)

	if n.Reserved, err = s.Bytes(4); err != nil {
		return n, fmt.Errorf("reserved needs 4 bytes, got %d: %w", len(data), ErrMalformedExtraField)
	}

	for s.Len() > 0 {
		pos := s.Pos()
		if s.Len() < 4 {
			return n, fmt.Errorf("attribute header at position %d needs 4 bytes, only %d remain: %w", pos, s.Len(), ErrMalformedExtraField)
		}

		a := NTFSAttribute{}
		a.Tag, _ = s.Uint16()
		a.Size, _ = s.Uint16()

		body, err := s.Sub(int(a.Size))
		if err != nil {
			return n, fmt.Errorf("attribute 0x%04x at position %d declares %d bytes, only %d remain: %w", a.Tag, pos, a.Size, s.Len(), ErrMalformedExtraField)
		}
		a.Data = body.Rest()

		if body.Len() >= 24 {
			a.Mtime, _ = body.Bytes(8)
			a.Atime, _ = body.Bytes(8)
			a.Ctime, _ = body.Bytes(8)
			if body.Len() > 0 {
				a.Unparsed = body.Rest()
			}
		}

		n.Attributes = append(n.Attributes, a)
	}

	return n, nil
}

// fields appends the extra field at the given depth.
func (ef *ExtraField) fields(l *fieldList) {
	if len(ef.Raw) == 0 {
		l.group("extra field", "(empty)")
		return
	}

	l.group("extra field", fmt.Sprintf("(size = %d)", len(ef.Raw)))
	l.nest(func() {
		for i, r := range ef.Records {
			l.group(fmt.Sprintf("[%d]", i), ExtraTagName(r.Tag))
			l.hex("header ID", uint64(r.Tag), 2)
			l.dec("data size", uint64(r.Size), 2)

			switch {
			case r.Zip64 != nil:
				l.nest(func() { r.Zip64.fields(l) })
			case r.NTFS != nil:
				l.nest(func() { r.NTFS.fields(l) })
			default:
				l.bytes("data", r.Data)
			}
		}

		if ef.Trailing != nil {
			l.bytes("trailing bytes", ef.Trailing)
		}
		if ef.Err != nil {
			l.fields = append(l.fields, Field{Name: "error", Value: ef.Err.Error(), Format: Text, Depth: l.depth})
		}
	})
}

func (z *Zip64Extra) fields(l *fieldList) {
	l.group("data", nil)
	if z.Has(Zip64UncompressedSize) {
		l.size("original size", z.UncompressedSize, 8)
	}
	if z.Has(Zip64CompressedSize) {
		l.size("compressed size", z.CompressedSize, 8)
	}
	if z.Has(Zip64LocalHeaderOffset) {
		l.hex("relative header offset", z.LocalHeaderOffset, 8)
	}
	if z.Has(Zip64DiskStart) {
		l.dec("disk start number", uint64(z.DiskStart), 4)
	}
	if z.Unparsed != nil {
		l.bytes("unparsed", z.Unparsed)
	}
}

func (n *NTFSExtra) fields(l *fieldList) {
	l.group("data", nil)
	l.bytes("reserved", n.Reserved)
	for i, a := range n.Attributes {
		l.group(fmt.Sprintf("[%d]", i), nil)
		l.nest(func() {
			l.hex("tag", uint64(a.Tag), 2)
			l.dec("size", uint64(a.Size), 2)
			if a.Mtime == nil {
				l.bytes("data", a.Data)
				return
			}

			l.fileTime("Mtime", a.Mtime)
			l.fileTime("Atime", a.Atime)
			l.fileTime("Ctime", a.Ctime)
			if a.Unparsed != nil {
				l.bytes("unparsed", a.Unparsed)
			}
		})
	}
}

// filetimeEpochDelta is the number of seconds between 1601-01-01 and 1970-01-01.
const filetimeEpochDelta = 11644473600

// DecodeFileTime converts an 8-byte little-endian NTFS FILETIME into a UTC time.Time.
//
// Returns false if b is not 8 bytes long.
func DecodeFileTime(b []byte) (time.Time, bool) {
	if len(b) != 8 {
		return time.Time{}, false
	}

	// v counts 100ns intervals since 1601-01-01.
	v := binary.LittleEndian.Uint64(b)
	return time.Unix(int64(v/1e7)-filetimeEpochDelta, int64(v%1e7)*100).UTC(), true
}
