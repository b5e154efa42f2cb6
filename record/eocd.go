package record

import (
	"encoding/binary"
	"fmt"

	"github.com/nguyengg/zipanalyze/cursor"
)

// EndOfCentralDirectory is the end of central directory record (4.3.16).
type EndOfCentralDirectory struct {
	// Offset is the absolute offset of the record's signature.
	Offset int64

	Signature     uint32
	DiskNumber    uint16
	CDDisk        uint16
	CDCountOnDisk uint16
	CDCount       uint16
	CDSize        uint32
	CDOffset      uint32
	CommentLength uint16
	Comment       string
}

// DecodeEndOfCentralDirectory decodes the record starting at the cursor's current offset.
func DecodeEndOfCentralDirectory(c *cursor.Cursor) (r EndOfCentralDirectory, err error) {
	r.Offset = c.Tell()

	if r.Signature, err = c.Uint32(); err != nil {
		return r, err
	}
	if err = checkSignature(KindEndOfCentralDirectory, r.Offset, r.Signature); err != nil {
		return r, err
	}

	for _, p := range []*uint16{&r.DiskNumber, &r.CDDisk, &r.CDCountOnDisk, &r.CDCount} {
		if *p, err = c.Uint16(); err != nil {
			return r, err
		}
	}
	if r.CDSize, err = c.Uint32(); err != nil {
		return r, err
	}
	if r.CDOffset, err = c.Uint32(); err != nil {
		return r, err
	}
	if r.CommentLength, err = c.Uint16(); err != nil {
		return r, err
	}
	r.Comment, err = c.FixedString(int(r.CommentLength))
	return r, err
}

// NeedsZip64 returns true if any field holds the sentinel that defers to the ZIP64 end of central directory record.
func (r *EndOfCentralDirectory) NeedsZip64() bool {
	return r.CDOffset == Sentinel32 ||
		r.CDSize == Sentinel32 ||
		r.CDCount == Sentinel16 ||
		r.CDCountOnDisk == Sentinel16
}

func (r *EndOfCentralDirectory) Kind() Kind {
	return KindEndOfCentralDirectory
}

func (r *EndOfCentralDirectory) Fields() []Field {
	l := &fieldList{}
	l.hex("signature", uint64(r.Signature), 4)
	l.dec("number of this disk", uint64(r.DiskNumber), 2)
	l.dec("number of the disk with the start of the central directory", uint64(r.CDDisk), 2)
	l.dec("total number of entries in the central directory on this disk", uint64(r.CDCountOnDisk), 2)
	l.dec("total number of entries in the central directory", uint64(r.CDCount), 2)
	l.size("size of the central directory", uint64(r.CDSize), 4)
	l.hex("offset of start of central directory with respect to the starting disk number", uint64(r.CDOffset), 4)
	l.dec(".ZIP file comment length", uint64(r.CommentLength), 2)
	l.text(".ZIP file comment", r.Comment, 0)
	return l.fields
}

func (r *EndOfCentralDirectory) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, EndOfCentralDirectoryLen+int(r.CommentLength))
	b = binary.LittleEndian.AppendUint32(b, r.Signature)
	b = binary.LittleEndian.AppendUint16(b, r.DiskNumber)
	b = binary.LittleEndian.AppendUint16(b, r.CDDisk)
	b = binary.LittleEndian.AppendUint16(b, r.CDCountOnDisk)
	b = binary.LittleEndian.AppendUint16(b, r.CDCount)
	b = binary.LittleEndian.AppendUint32(b, r.CDSize)
	b = binary.LittleEndian.AppendUint32(b, r.CDOffset)
	b = binary.LittleEndian.AppendUint16(b, r.CommentLength)
	return append(b, padName(r.Comment, r.CommentLength)...), nil
}

// Zip64Locator is the ZIP64 end of central directory locator (4.3.15).
type Zip64Locator struct {
	Offset int64

	Signature uint32
	// EOCDDisk is the number of the disk with the start of the ZIP64 end of central directory record.
	EOCDDisk uint32
	// EOCDOffset is the absolute offset of the ZIP64 end of central directory record.
	EOCDOffset uint64
	TotalDisks uint32
}

// DecodeZip64Locator decodes the locator starting at the cursor's current offset.
func DecodeZip64Locator(c *cursor.Cursor) (r Zip64Locator, err error) {
	r.Offset = c.Tell()

	if r.Signature, err = c.Uint32(); err != nil {
		return r, err
	}
	if err = checkSignature(KindZip64EndOfCentralDirectoryLocator, r.Offset, r.Signature); err != nil {
		return r, err
	}
	if r.EOCDDisk, err = c.Uint32(); err != nil {
		return r, err
	}
	if r.EOCDOffset, err = c.Uint64(); err != nil {
		return r, err
	}
	r.TotalDisks, err = c.Uint32()
	return r, err
}

func (r *Zip64Locator) Kind() Kind {
	return KindZip64EndOfCentralDirectoryLocator
}

func (r *Zip64Locator) Fields() []Field {
	l := &fieldList{}
	l.hex("signature", uint64(r.Signature), 4)
	l.dec("number of the disk with the start of the zip64 end of central directory", uint64(r.EOCDDisk), 4)
	l.hex("relative offset of the zip64 end of central directory record", r.EOCDOffset, 8)
	l.dec("total number of disks", uint64(r.TotalDisks), 4)
	return l.fields
}

func (r *Zip64Locator) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, Zip64LocatorLen)
	b = binary.LittleEndian.AppendUint32(b, r.Signature)
	b = binary.LittleEndian.AppendUint32(b, r.EOCDDisk)
	b = binary.LittleEndian.AppendUint64(b, r.EOCDOffset)
	b = binary.LittleEndian.AppendUint32(b, r.TotalDisks)
	return b, nil
}

// Zip64EndOfCentralDirectory is the ZIP64 end of central directory record (4.3.14).
type Zip64EndOfCentralDirectory struct {
	Offset int64

	Signature uint32
	// RecordSize is the declared size of the remaining record, which excludes the signature and this field.
	RecordSize     uint64
	CreatorVersion uint16
	ReaderVersion  uint16
	DiskNumber     uint32
	CDDisk         uint32
	CDCountOnDisk  uint64
	CDCount        uint64
	CDSize         uint64
	CDOffset       uint64
	// ExtensibleData is the zip64 extensible data sector of RecordSize - 44 bytes.
	ExtensibleData []byte
}

// DecodeZip64EndOfCentralDirectory decodes the record starting at the cursor's current offset.
//
// The length of the extensible data sector is derived from the declared record size. A declared size smaller than
// the fixed fields returns an error wrapping ErrMalformedRecord.
func DecodeZip64EndOfCentralDirectory(c *cursor.Cursor) (r Zip64EndOfCentralDirectory, err error) {
	r.Offset = c.Tell()

	if r.Signature, err = c.Uint32(); err != nil {
		return r, err
	}
	if err = checkSignature(KindZip64EndOfCentralDirectory, r.Offset, r.Signature); err != nil {
		return r, err
	}
	if r.RecordSize, err = c.Uint64(); err != nil {
		return r, err
	}
	if r.RecordSize < zip64EOCDFixedFieldsLen {
		return r, fmt.Errorf("%s at offset %d declares size %d, expected at least %d: %w",
			KindZip64EndOfCentralDirectory, r.Offset, r.RecordSize, zip64EOCDFixedFieldsLen, ErrMalformedRecord)
	}
	if r.CreatorVersion, err = c.Uint16(); err != nil {
		return r, err
	}
	if r.ReaderVersion, err = c.Uint16(); err != nil {
		return r, err
	}
	if r.DiskNumber, err = c.Uint32(); err != nil {
		return r, err
	}
	if r.CDDisk, err = c.Uint32(); err != nil {
		return r, err
	}
	for _, p := range []*uint64{&r.CDCountOnDisk, &r.CDCount, &r.CDSize, &r.CDOffset} {
		if *p, err = c.Uint64(); err != nil {
			return r, err
		}
	}

	n := r.RecordSize - zip64EOCDFixedFieldsLen
	if n > uint64(c.Remaining()) {
		return r, fmt.Errorf("%s at offset %d declares %d bytes of extensible data with only %d remaining: %w",
			KindZip64EndOfCentralDirectory, r.Offset, n, c.Remaining(), cursor.ErrTruncatedInput)
	}
	r.ExtensibleData, err = c.Bytes(int(n))
	return r, err
}

func (r *Zip64EndOfCentralDirectory) Kind() Kind {
	return KindZip64EndOfCentralDirectory
}

func (r *Zip64EndOfCentralDirectory) Fields() []Field {
	l := &fieldList{}
	l.hex("signature", uint64(r.Signature), 4)
	l.size("size of zip64 end of central directory record", r.RecordSize, 8)
	l.hex("version made by", uint64(r.CreatorVersion), 2)
	l.dec("version needed to extract", uint64(r.ReaderVersion), 2)
	l.dec("number of this disk", uint64(r.DiskNumber), 4)
	l.dec("number of the disk with the start of the central directory", uint64(r.CDDisk), 4)
	l.dec("total number of entries in the central directory on this disk", r.CDCountOnDisk, 8)
	l.dec("total number of entries in the central directory", r.CDCount, 8)
	l.size("size of the central directory", r.CDSize, 8)
	l.hex("offset of start of central directory with respect to the starting disk number", r.CDOffset, 8)
	l.bytes("zip64 extensible data sector", r.ExtensibleData)
	return l.fields
}

func (r *Zip64EndOfCentralDirectory) MarshalBinary() ([]byte, error) {
	if want := uint64(zip64EOCDFixedFieldsLen + len(r.ExtensibleData)); r.RecordSize != want {
		return nil, fmt.Errorf("record size %d does not match %d bytes of extensible data: %w", r.RecordSize, len(r.ExtensibleData), ErrMalformedRecord)
	}

	b := make([]byte, 0, Zip64EndOfCentralDirectoryLen+len(r.ExtensibleData))
	b = binary.LittleEndian.AppendUint32(b, r.Signature)
	b = binary.LittleEndian.AppendUint64(b, r.RecordSize)
	b = binary.LittleEndian.AppendUint16(b, r.CreatorVersion)
	b = binary.LittleEndian.AppendUint16(b, r.ReaderVersion)
	b = binary.LittleEndian.AppendUint32(b, r.DiskNumber)
	b = binary.LittleEndian.AppendUint32(b, r.CDDisk)
	b = binary.LittleEndian.AppendUint64(b, r.CDCountOnDisk)
	b = binary.LittleEndian.AppendUint64(b, r.CDCount)
	b = binary.LittleEndian.AppendUint64(b, r.CDSize)
	b = binary.LittleEndian.AppendUint64(b, r.CDOffset)
	return append(b, r.ExtensibleData...), nil
}
