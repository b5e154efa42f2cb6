package record

import (
	"encoding/binary"

	"github.com/nguyengg/zipanalyze/cursor"
)

// CentralDirectoryHeader is a central directory file header (4.3.12).
//
// The 32-bit fields are kept as read. The 64-bit fields hold the values the walker should use: the 32-bit value, or the
// override from the ZIP64 extra field if the 32-bit value was the sentinel and the extra field supplied one.
type CentralDirectoryHeader struct {
	Offset int64

	Signature         uint32
	CreatorVersion    uint16
	ReaderVersion     uint16
	Flags             uint16
	Method            uint16
	ModifiedTime      [2]byte
	ModifiedDate      [2]byte
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	NameLength        uint16
	ExtraLength       uint16
	CommentLength     uint16
	DiskNumberStart   uint16
	InternalAttrs     uint16
	ExternalAttrs     uint32
	LocalHeaderOffset uint32
	Name              string
	Extra             ExtraField
	Comment           string

	CompressedSize64    uint64
	UncompressedSize64  uint64
	LocalHeaderOffset64 uint64
	DiskNumberStart32   uint32
}

// DecodeCentralDirectoryHeader decodes the header starting at the cursor's current offset.
//
// A malformed extra field does not fail the decode since the cursor has already moved past the whole header; check
// Extra.Err and Unresolved instead.
func DecodeCentralDirectoryHeader(c *cursor.Cursor) (h CentralDirectoryHeader, err error) {
	h.Offset = c.Tell()

	if h.Signature, err = c.Uint32(); err != nil {
		return h, err
	}
	if err = checkSignature(KindCentralDirectoryHeader, h.Offset, h.Signature); err != nil {
		return h, err
	}

	for _, p := range []*uint16{&h.CreatorVersion, &h.ReaderVersion, &h.Flags, &h.Method} {
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
	for _, p := range []*uint16{&h.NameLength, &h.ExtraLength, &h.CommentLength, &h.DiskNumberStart, &h.InternalAttrs} {
		if *p, err = c.Uint16(); err != nil {
			return h, err
		}
	}
	for _, p := range []*uint32{&h.ExternalAttrs, &h.LocalHeaderOffset} {
		if *p, err = c.Uint32(); err != nil {
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

	if h.Comment, err = c.FixedString(int(h.CommentLength)); err != nil {
		return h, err
	}

	h.Extra, _ = DecodeExtraField(extra, h.want())
	h.resolve()
	return h, nil
}

// want returns the ZIP64 fields whose 32-bit or 16-bit value is the sentinel.
func (h *CentralDirectoryHeader) want() (f Zip64Fields) {
	if h.UncompressedSize == Sentinel32 {
		f |= Zip64UncompressedSize
	}
	if h.CompressedSize == Sentinel32 {
		f |= Zip64CompressedSize
	}
	if h.LocalHeaderOffset == Sentinel32 {
		f |= Zip64LocalHeaderOffset
	}
	if h.DiskNumberStart == Sentinel16 {
		f |= Zip64DiskStart
	}
	return
}

func (h *CentralDirectoryHeader) resolve() {
	h.UncompressedSize64 = uint64(h.UncompressedSize)
	h.CompressedSize64 = uint64(h.CompressedSize)
	h.LocalHeaderOffset64 = uint64(h.LocalHeaderOffset)
	h.DiskNumberStart32 = uint32(h.DiskNumberStart)

	z, ok := h.Extra.Zip64()
	if !ok {
		return
	}
	if z.Has(Zip64UncompressedSize) {
		h.UncompressedSize64 = z.UncompressedSize
	}
	if z.Has(Zip64CompressedSize) {
		h.CompressedSize64 = z.CompressedSize
	}
	if z.Has(Zip64LocalHeaderOffset) {
		h.LocalHeaderOffset64 = z.LocalHeaderOffset
	}
	if z.Has(Zip64DiskStart) {
		h.DiskNumberStart32 = z.DiskStart
	}
}

// Unresolved returns the sentineled fields that no ZIP64 extra field overrode.
func (h *CentralDirectoryHeader) Unresolved() Zip64Fields {
	want := h.want()
	if z, ok := h.Extra.Zip64(); ok {
		return want &^ z.Present
	}

	return want
}

// HasDataDescriptor returns true if general purpose bit 3 is set.
func (h *CentralDirectoryHeader) HasDataDescriptor() bool {
	return h.Flags&FlagDataDescriptor != 0
}

// Len returns the number of bytes the header occupies.
func (h *CentralDirectoryHeader) Len() int64 {
	return CentralDirectoryHeaderLen + int64(h.NameLength) + int64(h.ExtraLength) + int64(h.CommentLength)
}

func (h *CentralDirectoryHeader) Kind() Kind {
	return KindCentralDirectoryHeader
}

func (h *CentralDirectoryHeader) Fields() []Field {
	l := &fieldList{}
	l.hex("signature", uint64(h.Signature), 4)
	l.hex("version made by", uint64(h.CreatorVersion), 2)
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
	l.dec("file comment length", uint64(h.CommentLength), 2)
	l.dec("disk number start", uint64(h.DiskNumberStart), 2)
	l.hex("internal file attributes", uint64(h.InternalAttrs), 2)
	l.hex("external file attributes", uint64(h.ExternalAttrs), 4)
	l.hex("relative offset of local header", uint64(h.LocalHeaderOffset), 4)
	l.text("file name", h.Name, h.Flags)
	h.Extra.fields(l)
	l.text("file comment", h.Comment, h.Flags)
	return l.fields
}

func (h *CentralDirectoryHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, h.Len())
	b = binary.LittleEndian.AppendUint32(b, h.Signature)
	b = binary.LittleEndian.AppendUint16(b, h.CreatorVersion)
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
	b = binary.LittleEndian.AppendUint16(b, h.CommentLength)
	b = binary.LittleEndian.AppendUint16(b, h.DiskNumberStart)
	b = binary.LittleEndian.AppendUint16(b, h.InternalAttrs)
	b = binary.LittleEndian.AppendUint32(b, h.ExternalAttrs)
	b = binary.LittleEndian.AppendUint32(b, h.LocalHeaderOffset)
	b = append(b, padName(h.Name, h.NameLength)...)
	b = append(b, padExtra(h.Extra.Raw, h.ExtraLength)...)
	return append(b, padName(h.Comment, h.CommentLength)...), nil
}

func readDOSTime(c *cursor.Cursor, t, d *[2]byte) error {
	b, err := c.Bytes(4)
	if err != nil {
		return err
	}

	copy(t[:], b[:2])
	copy(d[:], b[2:])
	return nil
}

// padExtra returns raw as exactly n bytes.
func padExtra(raw []byte, n uint16) []byte {
	b := make([]byte, n)
	copy(b, raw)
	return b
}
