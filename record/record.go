// Package record decodes the structural records of a ZIP archive.
//
// Each decoder consumes an exclusively owned cursor.Cursor positioned at the record's signature and returns the raw
// fields in declared order and width, plus the 64-bit values resolved from ZIP64 overrides. Nothing is normalised:
// DOS times stay as raw byte pairs and sentinel values are kept alongside their resolution so that a report shows
// exactly what the archive contains.
//
// See https://pkware.cachefly.net/webdocs/casestudies/APPNOTE.TXT.
package record

import (
	"errors"
	"fmt"
)

// Record signatures.
const (
	LocalFileHeaderSignature                   uint32 = 0x04034b50
	DataDescriptorSignature                    uint32 = 0x08074b50
	CentralDirectoryHeaderSignature            uint32 = 0x02014b50
	Zip64EndOfCentralDirectorySignature        uint32 = 0x06064b50
	Zip64EndOfCentralDirectoryLocatorSignature uint32 = 0x07064b50
	EndOfCentralDirectorySignature             uint32 = 0x06054b50
)

// Fixed-size parts of the records, signature included.
const (
	LocalFileHeaderLen        = 30
	CentralDirectoryHeaderLen = 46
	EndOfCentralDirectoryLen  = 22
	Zip64LocatorLen           = 20

	// Zip64EndOfCentralDirectoryLen is the fixed part of the ZIP64 EOCD record including signature and size field.
	Zip64EndOfCentralDirectoryLen = 56

	// zip64EOCDFixedFieldsLen is the number of bytes from "version made by" through "offset of start of central
	// directory"; the declared record size minus this is the length of the extensible data sector.
	zip64EOCDFixedFieldsLen = 44

	// MaxCommentLen is the largest archive comment the 16-bit length field can declare.
	MaxCommentLen = 0xffff
)

// Sentinel values meaning "see the ZIP64 record or extra field".
const (
	Sentinel16 uint16 = 0xffff
	Sentinel32 uint32 = 0xffffffff
	Sentinel64 uint64 = 0xffffffffffffffff
)

const (
	// Zip64Version is the "version needed to extract" of the PKWARE ZIP64 baseline (4.5).
	Zip64Version = 45

	// FlagDataDescriptor is general purpose bit 3: sizes and CRC-32 were unknown at write time and follow the
	// compressed data in a data descriptor.
	FlagDataDescriptor uint16 = 0x0008

	// FlagUTF8 is general purpose bit 11: file name and comment are UTF-8.
	FlagUTF8 uint16 = 0x0800
)

var (
	// ErrSignatureMismatch is returned if the bytes at a record's expected position do not start with its signature.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrMalformedRecord is returned if a record declares a length that its own layout makes impossible.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrMalformedExtraField is returned if an extra field sub-record's declared length overruns its container.
	ErrMalformedExtraField = errors.New("malformed extra field")
)

// Kind identifies a record type.
type Kind int

const (
	KindLocalFileHeader Kind = iota + 1
	KindDataDescriptor
	KindCentralDirectoryHeader
	KindZip64EndOfCentralDirectory
	KindZip64EndOfCentralDirectoryLocator
	KindEndOfCentralDirectory
)

func (k Kind) String() string {
	switch k {
	case KindLocalFileHeader:
		return "local file header"
	case KindDataDescriptor:
		return "data descriptor"
	case KindCentralDirectoryHeader:
		return "central directory header"
	case KindZip64EndOfCentralDirectory:
		return "Zip64 end of central directory record"
	case KindZip64EndOfCentralDirectoryLocator:
		return "Zip64 end of central directory locator"
	case KindEndOfCentralDirectory:
		return "end of central directory record"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Signature returns the 4-byte signature that starts records of this kind.
func (k Kind) Signature() uint32 {
	switch k {
	case KindLocalFileHeader:
		return LocalFileHeaderSignature
	case KindDataDescriptor:
		return DataDescriptorSignature
	case KindCentralDirectoryHeader:
		return CentralDirectoryHeaderSignature
	case KindZip64EndOfCentralDirectory:
		return Zip64EndOfCentralDirectorySignature
	case KindZip64EndOfCentralDirectoryLocator:
		return Zip64EndOfCentralDirectoryLocatorSignature
	case KindEndOfCentralDirectory:
		return EndOfCentralDirectorySignature
	default:
		return 0
	}
}

// Record is implemented by every decoded record.
type Record interface {
	// Kind returns the record type.
	Kind() Kind
	// Fields returns the decoded fields in decode order.
	Fields() []Field
	// MarshalBinary re-encodes the record from its raw fields.
	MarshalBinary() ([]byte, error)
}

// checkSignature returns an error wrapping ErrSignatureMismatch if got is not the signature of kind.
func checkSignature(kind Kind, offset int64, got uint32) error {
	if want := kind.Signature(); got != want {
		return fmt.Errorf("%s at offset %d: got 0x%08x, expected 0x%08x: %w", kind, offset, got, want, ErrSignatureMismatch)
	}

	return nil
}

// padName returns s as exactly n bytes, truncating or padding with NUL as needed.
//
// Names and comments are decoded as NUL-terminated text, so the bytes after the first NUL are restored as NULs.
func padName(s string, n uint16) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}
