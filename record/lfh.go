package record

import (
	"encoding/binary"

	"github.com/nguyengg/zipanalyze/cursor"
)

// LocalFileHeader is a local file header (4.3.7).
//
// The local header's sizes are resolved from its own extra field, independently of the central directory. When
// general purpose bit 3 is set they are usually zero placeholders.
type LocalFileHeader struct {
	Offset int64

	Signature        uint32
	ReaderVersion    uint16
	Flags            uint16
	Method           uint16
	ModifiedTime     [2]byte
	ModifiedDate     [2]byte
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	NameLength       uint16
	ExtraLength      uint16
	Name             string
	Extra            ExtraField

	CompressedSize64   uint64
	UncompressedSize64 uint64
}

// DecodeLocalFileHeader decodes the header starting at the cursor's current offset.
//
// Like DecodeCentralDirectoryHeader, a malformed extra field is reported in Extra.Err only.
func DecodeLocalFileHeader(c *cursor.Cursor) (h LocalFileHeader, err error) {
	h.Offset = c.Tell()

	if h.Signature, err = c.Uint32(); err != nil {
		return h, err
	}
	if err = checkSignature(KindLocalFileHeader, h.Offset, h.Signature); err != nil {
		return h, err
	}

	for _, p := range []*uint16{&h.ReaderVersion, &h.Flags, &h.Method} {
		if *p, err = c.Uint16(); err != nil {
			return h, err
		}
	}
	if err = readDOSTime(c, &h.ModifiedTime, &h.ModifiedDate); err != nil {
		return h, err
	}
	for _, p := range []*uint32{&h.CRC32, &h.CompressedSize, &h.UncompressedSize} {
		if *p, err = c.Uint32(); err != nil {
			return h, err
		}
	}
	for _, p := range []*uint16{&h.NameLength, &h.ExtraLength} {
		if *p, err = c.Uint16(); err != nil {
			return h, err
		}
	}
	if h.Name, err = c.FixedString(int(h.NameLength)); err != nil {
		return h, err
	}

	extra, err := c.Bytes(int(h.ExtraLength))
	if err != nil {
		return h, err
	}

	var want Zip64Fields
	if h.UncompressedSize == Sentinel32 {
		want |= Zip64UncompressedSize
	}
	if h.CompressedSize == Sentinel32 {
		want |= Zip64CompressedSize
	}
	h.Extra, _ = DecodeExtraField(extra, want)

	h.UncompressedSize64 = uint64(h.UncompressedSize)
	h.CompressedSize64 = uint64(h.CompressedSize)
	if z, ok := h.Extra.Zip64(); ok {
		if z.Has(Zip64UncompressedSize) {
			h.UncompressedSize64 = z.UncompressedSize
		}
		if z.Has(Zip64CompressedSize) {
			h.CompressedSize64 = z.CompressedSize
		}
	}

	return h, nil
}

// Len returns the number of bytes the header occupies.
func (h *LocalFileHeader) Len() int64 {
	return LocalFileHeaderLen + int64(h.NameLength) + int64(h.ExtraLength)
}

func (h *LocalFileHeader) Kind() Kind {
	return KindLocalFileHeader
}

func (h *LocalFileHeader) Fields() []Field {
	l := &fieldList{}
	l.hex("signature", uint64(h.Signature), 4)
	l.dec("version needed to extract", uint64(h.ReaderVersion), 2)
	l.hex("general purpose bit flag", uint64(h.Flags), 2)
	l.dec("compression method", uint64(h.Method), 2)
	l.bytes("last mod file time", h.ModifiedTime[:])
	l.bytes("last mod file date", h.ModifiedDate[:])
	l.hex("crc-32", uint64(h.CRC32), 4)
	l.size("compressed size", uint64(h.CompressedSize), 4)
	l.size("uncompressed size", uint64(h.UncompressedSize), 4)
	l.dec("file name length", uint64(h.NameLength), 2)
	l.dec("extra field length", uint64(h.ExtraLength), 2)
	l.text("file name", h.Name, h.Flags)
	h.Extra.fields(l)
	return l.fields
}

func (h *LocalFileHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, h.Len())
	b = binary.LittleEndian.AppendUint32(b, h.Signature)
	b = binary.LittleEndian.AppendUint16(b, h.ReaderVersion)
	b = binary.LittleEndian.AppendUint16(b, h.Flags)
	b = binary.LittleEndian.AppendUint16(b, h.Method)
	b = append(b, h.ModifiedTime[:]...)
	b = append(b, h.ModifiedDate[:]...)
	b = binary.LittleEndian.AppendUint32(b, h.CRC32)
	b = binary.LittleEndian.AppendUint32(b, h.CompressedSize)
	b = binary.LittleEndian.AppendUint32(b, h.UncompressedSize)
	b = binary.LittleEndian.AppendUint16(b, h.NameLength)
	b = binary.LittleEndian.AppendUint16(b, h.ExtraLength)
	b = append(b, padName(h.Name, h.NameLength)...)
	return append(b, padExtra(h.Extra.Raw, h.ExtraLength)...), nil
}

// DescriptorPolicy decides whether the data descriptor following an entry carries 8-byte sizes.
type DescriptorPolicy func(h *LocalFileHeader) bool

// VersionHeuristic picks 8-byte sizes if the local header's version needed to extract is 45.
//
// This is what the reference tool does; it is an approximation since the format only ties the width to the presence
// of ZIP64 information.
func VersionHeuristic(h *LocalFileHeader) bool {
	return h.ReaderVersion == Zip64Version
}

// Zip64ExtraPresence picks 8-byte sizes if the local header carries a ZIP64 extra field (4.3.9.1).
func Zip64ExtraPresence(h *LocalFileHeader) bool {
	_, ok := h.Extra.Zip64()
	return ok
}

// DataDescriptor is the data descriptor following the compressed data of a streamed entry (4.3.9).
type DataDescriptor struct {
	Offset int64

	// HasSignature is true if the optional signature was present.
	HasSignature bool
	Signature    uint32
	CRC32        uint32
	// Wide is true if the sizes were decoded as 8 bytes each.
	Wide             bool
	CompressedSize   uint64
	UncompressedSize uint64
}

// DecodeDataDescriptor decodes the descriptor starting at the cursor's current offset.
//
// The signature is optional and detected by peeking. If wide is true the sizes are 8 bytes each, otherwise 4.
func DecodeDataDescriptor(c *cursor.Cursor, wide bool) (d DataDescriptor, err error) {
	d.Offset = c.Tell()
	d.Wide = wide

	b, err := c.Peek(4)
	if err != nil {
		return d, err
	}
	if binary.LittleEndian.Uint32(b) == DataDescriptorSignature {
		d.HasSignature = true
		if d.Signature, err = c.Uint32(); err != nil {
			return d, err
		}
	}

	if d.CRC32, err = c.Uint32(); err != nil {
		return d, err
	}

	if wide {
		if d.CompressedSize, err = c.Uint64(); err != nil {
			return d, err
		}
		d.UncompressedSize, err = c.Uint64()
		return d, err
	}

	v, err := c.Uint32()
	if err != nil {
		return d, err
	}
	d.CompressedSize = uint64(v)

	v, err = c.Uint32()
	d.UncompressedSize = uint64(v)
	return d, err
}

// Len returns the number of bytes the descriptor occupies.
func (d *DataDescriptor) Len() int64 {
	n := int64(12)
	if d.Wide {
		n = 20
	}
	if d.HasSignature {
		n += 4
	}
	return n
}

func (d *DataDescriptor) Kind() Kind {
	return KindDataDescriptor
}

func (d *DataDescriptor) Fields() []Field {
	width := 4
	if d.Wide {
		width = 8
	}

	l := &fieldList{}
	if d.HasSignature {
		l.hex("signature", uint64(d.Signature), 4)
	}
	l.hex("crc-32", uint64(d.CRC32), 4)
	l.size("compressed size", d.CompressedSize, width)
	l.size("uncompressed size", d.UncompressedSize, width)
	return l.fields
}

func (d *DataDescriptor) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, d.Len())
	if d.HasSignature {
		b = binary.LittleEndian.AppendUint32(b, d.Signature)
	}
	b = binary.LittleEndian.AppendUint32(b, d.CRC32)
	if d.Wide {
		b = binary.LittleEndian.AppendUint64(b, d.CompressedSize)
		return binary.LittleEndian.AppendUint64(b, d.UncompressedSize), nil
	}

	b = binary.LittleEndian.AppendUint32(b, uint32(d.CompressedSize))
	return binary.LittleEndian.AppendUint32(b, uint32(d.UncompressedSize)), nil
}
