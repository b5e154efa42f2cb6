package record

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"
	"time"

	"github.com/nguyengg/zipanalyze/cursor"
	"github.com/stretchr/testify/assert"
)

func newCursor(b []byte) *cursor.Cursor {
	return cursor.New(bytes.NewReader(b), int64(len(b)))
}

// subRecord encodes one extra field sub-record.
func subRecord(tag uint16, data []byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, tag)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(data)))
	return append(b, data...)
}

func uint64s(values ...uint64) (b []byte) {
	for _, v := range values {
		b = binary.LittleEndian.AppendUint64(b, v)
	}
	return
}

func TestDecodeExtraField_Zip64(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		want     Zip64Fields
		expected Zip64Extra
	}{
		{
			name: "all requested",
			data: append(uint64s(1, 2, 3), 4, 0, 0, 0),
			want: Zip64UncompressedSize | Zip64CompressedSize | Zip64LocalHeaderOffset | Zip64DiskStart,
			expected: Zip64Extra{
				Present:           Zip64UncompressedSize | Zip64CompressedSize | Zip64LocalHeaderOffset | Zip64DiskStart,
				UncompressedSize:  1,
				CompressedSize:    2,
				LocalHeaderOffset: 3,
				DiskStart:         4,
			},
		},
		{
			// the compressed size is the first field if the uncompressed size was not sentineled.
			name: "compressed size and offset",
			data: uint64s(100, 200),
			want: Zip64CompressedSize | Zip64LocalHeaderOffset,
			expected: Zip64Extra{
				Present:           Zip64CompressedSize | Zip64LocalHeaderOffset,
				CompressedSize:    100,
				LocalHeaderOffset: 200,
			},
		},
		{
			name: "stops when exhausted",
			data: uint64s(7),
			want: Zip64UncompressedSize | Zip64CompressedSize,
			expected: Zip64Extra{
				Present:          Zip64UncompressedSize,
				UncompressedSize: 7,
			},
		},
		{
			name: "unrequested bytes are kept",
			data: uint64s(10, 20),
			want: Zip64CompressedSize,
			expected: Zip64Extra{
				Present:        Zip64CompressedSize,
				CompressedSize: 10,
				Unparsed:       uint64s(20),
			},
		},
		{
			name:     "nothing requested",
			data:     nil,
			want:     0,
			expected: Zip64Extra{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ef, err := DecodeExtraField(subRecord(Zip64ExtraTag, tt.data), tt.want)
			assert.NoErrorf(t, err, "DecodeExtraField() error = %v", err)

			z, ok := ef.Zip64()
			assert.True(t, ok)
			assert.Equal(t, tt.expected, *z)
		})
	}
}

func TestDecodeExtraField_NTFS(t *testing.T) {
	times := uint64s(filetimeEpochDelta, filetimeEpochDelta+10_000_000, filetimeEpochDelta+20_000_000)

	ntfs := []byte{0, 0, 0, 0}
	ntfs = append(ntfs, subRecord(0x0001, times)...)
	ntfs = append(ntfs, subRecord(0x0002, []byte{0xaa, 0xbb})...)

	b := subRecord(NTFSExtraTag, ntfs)
	b = append(b, subRecord(0x5455, []byte{0x01})...)

	ef, err := DecodeExtraField(b, 0)
	assert.NoErrorf(t, err, "DecodeExtraField() error = %v", err)
	assert.Len(t, ef.Records, 2)
	assert.Nil(t, ef.Trailing)

	// the sub-record following the NTFS one is framed correctly only if NTFS consumed exactly 4 + Σ(4 + size).
	assert.Equal(t, uint16(0x5455), ef.Records[1].Tag)
	assert.Equal(t, 4+len(ntfs), ef.Records[1].Position)
	assert.Equal(t, []byte{0x01}, ef.Records[1].Data)

	n := ef.Records[0].NTFS
	if assert.NotNil(t, n) {
		assert.Equal(t, []byte{0, 0, 0, 0}, n.Reserved)
		assert.Len(t, n.Attributes, 2)
		assert.Equal(t, times[0:8], n.Attributes[0].Mtime)
		assert.Equal(t, times[8:16], n.Attributes[0].Atime)
		assert.Equal(t, times[16:24], n.Attributes[0].Ctime)
		assert.Nil(t, n.Attributes[0].Unparsed)
		assert.Nil(t, n.Attributes[1].Mtime)
		assert.Equal(t, []byte{0xaa, 0xbb}, n.Attributes[1].Data)
	}

	mtime, ok := DecodeFileTime(n.Attributes[0].Mtime)
	assert.True(t, ok)
	assert.Equal(t, time.Unix(0, 0).UTC(), mtime)

	atime, _ := DecodeFileTime(n.Attributes[0].Atime)
	assert.Equal(t, time.Unix(1, 0).UTC(), atime)
}

func TestDecodeFileTime(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		want  time.Time
	}{
		{name: "zero", value: 0, want: time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "unix epoch", value: 116444736000000000, want: time.Unix(0, 0).UTC()},
		{name: "sub-second", value: 116444736010000001, want: time.Unix(1, 100).UTC()},
		{name: "before 1678", value: 10000000, want: time.Date(1601, 1, 1, 0, 0, 1, 0, time.UTC)},
		{name: "after 2262", value: 3000000000000000000, want: time.Unix(300000000000-11644473600, 0).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeFileTime(binary.LittleEndian.AppendUint64(nil, tt.value))
			assert.True(t, ok)
			assert.True(t, tt.want.Equal(got), "DecodeFileTime() = %v, want %v", got, tt.want)
		})
	}

	far, _ := DecodeFileTime(binary.LittleEndian.AppendUint64(nil, 3000000000000000000))
	assert.Equal(t, 11107, far.Year())

	_, ok := DecodeFileTime([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestDecodeExtraField_Malformed(t *testing.T) {
	t.Run("sub-record overruns region", func(t *testing.T) {
		b := subRecord(0xcafe, nil)
		overrun := []byte{0x01, 0x00, 0x10, 0x00, 1, 2, 3}
		b = append(b, overrun...)

		ef, err := DecodeExtraField(b, Zip64CompressedSize)
		assert.ErrorIs(t, err, ErrMalformedExtraField)
		assert.ErrorIs(t, ef.Err, ErrMalformedExtraField)
		assert.Len(t, ef.Records, 1)
		assert.Equal(t, overrun, ef.Trailing)

		_, ok := ef.Zip64()
		assert.False(t, ok)
	})

	t.Run("partial sub-record header", func(t *testing.T) {
		ef, err := DecodeExtraField([]byte{0x01, 0x00, 0x08}, 0)
		assert.ErrorIs(t, err, ErrMalformedExtraField)
		assert.Empty(t, ef.Records)
		assert.Equal(t, []byte{0x01, 0x00, 0x08}, ef.Trailing)
	})

	t.Run("NTFS attribute overruns sub-record", func(t *testing.T) {
		ntfs := []byte{0, 0, 0, 0, 0x01, 0x00, 0x18, 0x00, 1, 2, 3, 4}
		b := subRecord(NTFSExtraTag, ntfs)
		b = append(b, subRecord(0x7875, []byte{1, 4, 0xe8, 0x03, 0, 0})...)

		ef, err := DecodeExtraField(b, 0)
		assert.ErrorIs(t, err, ErrMalformedExtraField)
		assert.Len(t, ef.Records, 2)
		assert.Nil(t, ef.Records[0].NTFS)
		assert.Equal(t, ntfs, ef.Records[0].Data)
		assert.Equal(t, uint16(0x7875), ef.Records[1].Tag)
		assert.Nil(t, ef.Trailing)
	})
}

func TestRoundTrip(t *testing.T) {
	extra := subRecord(Zip64ExtraTag, uint64s(1<<33, 1<<32))

	tests := []struct {
		name   string
		record Record
		decode func(c *cursor.Cursor) (Record, error)
	}{
		{
			name: "local file header",
			record: &LocalFileHeader{
				Signature:        LocalFileHeaderSignature,
				ReaderVersion:    45,
				Flags:            FlagUTF8,
				Method:           8,
				ModifiedTime:     [2]byte{0x12, 0x34},
				ModifiedDate:     [2]byte{0x56, 0x78},
				CRC32:            0xdeadbeef,
				CompressedSize:   Sentinel32,
				UncompressedSize: Sentinel32,
				NameLength:       5,
				ExtraLength:      uint16(len(extra)),
				Name:             "a.txt",
				Extra:            ExtraField{Raw: extra},
			},
			decode: func(c *cursor.Cursor) (Record, error) {
				h, err := DecodeLocalFileHeader(c)
				return &h, err
			},
		},
		{
			name: "central directory header",
			record: &CentralDirectoryHeader{
				Signature:         CentralDirectoryHeaderSignature,
				CreatorVersion:    0x031e,
				ReaderVersion:     20,
				Flags:             FlagDataDescriptor,
				ModifiedTime:      [2]byte{1, 2},
				ModifiedDate:      [2]byte{3, 4},
				CRC32:             0x01020304,
				CompressedSize:    10,
				UncompressedSize:  10,
				NameLength:        6,
				CommentLength:     7,
				InternalAttrs:     1,
				ExternalAttrs:     0x81a40000,
				LocalHeaderOffset: 0x1234,
				Name:              "b/c.go",
				Comment:           "comment",
			},
			decode: func(c *cursor.Cursor) (Record, error) {
				h, err := DecodeCentralDirectoryHeader(c)
				return &h, err
			},
		},
		{
			name: "end of central directory record",
			record: &EndOfCentralDirectory{
				Signature:     EndOfCentralDirectorySignature,
				CDCountOnDisk: 3,
				CDCount:       3,
				CDSize:        258,
				CDOffset:      888,
			},
			decode: func(c *cursor.Cursor) (Record, error) {
				r, err := DecodeEndOfCentralDirectory(c)
				return &r, err
			},
		},
		{
			name: "zip64 end of central directory locator",
			record: &Zip64Locator{
				Signature:  Zip64EndOfCentralDirectoryLocatorSignature,
				EOCDOffset: 1 << 34,
				TotalDisks: 1,
			},
			decode: func(c *cursor.Cursor) (Record, error) {
				r, err := DecodeZip64Locator(c)
				return &r, err
			},
		},
		{
			name: "zip64 end of central directory record",
			record: &Zip64EndOfCentralDirectory{
				Signature:      Zip64EndOfCentralDirectorySignature,
				RecordSize:     44 + 3,
				CreatorVersion: 45,
				ReaderVersion:  45,
				CDCountOnDisk:  1 << 20,
				CDCount:        1 << 20,
				CDSize:         1 << 26,
				CDOffset:       1 << 33,
				ExtensibleData: []byte{7, 8, 9},
			},
			decode: func(c *cursor.Cursor) (Record, error) {
				r, err := DecodeZip64EndOfCentralDirectory(c)
				return &r, err
			},
		},
		{
			name: "data descriptor",
			record: &DataDescriptor{
				HasSignature:     true,
				Signature:        DataDescriptorSignature,
				CRC32:            0xcafebabe,
				Wide:             true,
				CompressedSize:   1 << 40,
				UncompressedSize: 1 << 41,
			},
			decode: func(c *cursor.Cursor) (Record, error) {
				d, err := DecodeDataDescriptor(c, true)
				return &d, err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.record.MarshalBinary()
			assert.NoErrorf(t, err, "MarshalBinary() error = %v", err)

			c := newCursor(b)
			got, err := tt.decode(c)
			assert.NoErrorf(t, err, "decode error = %v", err)
			assert.Equal(t, int64(len(b)), c.Tell())
			assert.Equal(t, tt.record.Kind(), got.Kind())

			again, err := got.MarshalBinary()
			assert.NoErrorf(t, err, "MarshalBinary() error = %v", err)
			assert.Equal(t, b, again)
		})
	}
}

func TestDecodeCentralDirectoryHeader_Zip64(t *testing.T) {
	tests := []struct {
		name               string
		h                  CentralDirectoryHeader
		extra              []byte
		expectedCompressed uint64
		expectedOffset     uint64
		expectedUnresolved Zip64Fields
	}{
		{
			name: "compressed size only",
			h: CentralDirectoryHeader{
				CompressedSize:    Sentinel32,
				UncompressedSize:  10,
				LocalHeaderOffset: 0,
			},
			extra:              subRecord(Zip64ExtraTag, uint64s(10)),
			expectedCompressed: 10,
			expectedOffset:     0,
		},
		{
			name: "uncompressed size precedes compressed size",
			h: CentralDirectoryHeader{
				CompressedSize:    Sentinel32,
				UncompressedSize:  Sentinel32,
				LocalHeaderOffset: Sentinel32,
			},
			extra:              subRecord(Zip64ExtraTag, uint64s(1<<40, 1<<35, 1<<36)),
			expectedCompressed: 1 << 35,
			expectedOffset:     1 << 36,
		},
		{
			name: "missing zip64 extra",
			h: CentralDirectoryHeader{
				CompressedSize:    Sentinel32,
				LocalHeaderOffset: 64,
			},
			expectedCompressed: uint64(Sentinel32),
			expectedOffset:     64,
			expectedUnresolved: Zip64CompressedSize,
		},
		{
			name: "malformed zip64 extra",
			h: CentralDirectoryHeader{
				CompressedSize:    Sentinel32,
				LocalHeaderOffset: Sentinel32,
			},
			extra:              []byte{0x01, 0x00, 0x10, 0x00, 1, 2, 3, 4, 5, 6, 7, 8},
			expectedCompressed: uint64(Sentinel32),
			expectedOffset:     uint64(Sentinel32),
			expectedUnresolved: Zip64CompressedSize | Zip64LocalHeaderOffset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.h
			h.Signature = CentralDirectoryHeaderSignature
			h.NameLength = 5
			h.Name = "a.txt"
			h.ExtraLength = uint16(len(tt.extra))
			h.Extra = ExtraField{Raw: tt.extra}

			b, err := h.MarshalBinary()
			assert.NoErrorf(t, err, "MarshalBinary() error = %v", err)

			got, err := DecodeCentralDirectoryHeader(newCursor(b))
			assert.NoErrorf(t, err, "DecodeCentralDirectoryHeader() error = %v", err)
			assert.Equal(t, tt.expectedCompressed, got.CompressedSize64)
			assert.Equal(t, tt.expectedOffset, got.LocalHeaderOffset64)
			assert.Equal(t, tt.expectedUnresolved, got.Unresolved())
			assert.Equal(t, int64(len(b)), got.Len())
		})
	}
}

func TestDecodeDataDescriptor(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		policy   DescriptorPolicy
		header   LocalFileHeader
		expected DataDescriptor
	}{
		{
			name:   "version 45 is wide",
			data:   append([]byte{0x50, 0x4b, 0x07, 0x08, 1, 0, 0, 0}, uint64s(10, 20)...),
			policy: VersionHeuristic,
			header: LocalFileHeader{ReaderVersion: 45},
			expected: DataDescriptor{
				HasSignature:     true,
				Signature:        DataDescriptorSignature,
				CRC32:            1,
				Wide:             true,
				CompressedSize:   10,
				UncompressedSize: 20,
			},
		},
		{
			name:   "version 20 is narrow",
			data:   []byte{0x50, 0x4b, 0x07, 0x08, 1, 0, 0, 0, 10, 0, 0, 0, 20, 0, 0, 0},
			policy: VersionHeuristic,
			header: LocalFileHeader{ReaderVersion: 20},
			expected: DataDescriptor{
				HasSignature:     true,
				Signature:        DataDescriptorSignature,
				CRC32:            1,
				CompressedSize:   10,
				UncompressedSize: 20,
			},
		},
		{
			name:   "no signature",
			data:   []byte{2, 0, 0, 0, 10, 0, 0, 0, 20, 0, 0, 0},
			policy: VersionHeuristic,
			header: LocalFileHeader{ReaderVersion: 46},
			expected: DataDescriptor{
				CRC32:            2,
				CompressedSize:   10,
				UncompressedSize: 20,
			},
		},
		{
			name:   "zip64 extra presence",
			data:   append([]byte{3, 0, 0, 0}, uint64s(10, 20)...),
			policy: Zip64ExtraPresence,
			header: LocalFileHeader{ReaderVersion: 20, Extra: ExtraField{Records: []ExtraRecord{{Tag: Zip64ExtraTag, Zip64: &Zip64Extra{}}}}},
			expected: DataDescriptor{
				CRC32:            3,
				Wide:             true,
				CompressedSize:   10,
				UncompressedSize: 20,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCursor(tt.data)
			got, err := DecodeDataDescriptor(c, tt.policy(&tt.header))
			assert.NoErrorf(t, err, "DecodeDataDescriptor() error = %v", err)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, int64(len(tt.data)), c.Tell())
			assert.Equal(t, int64(len(tt.data)), got.Len())
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Run("signature mismatch", func(t *testing.T) {
		_, err := DecodeLocalFileHeader(newCursor([]byte{0x50, 0x4b, 0x01, 0x02, 0, 0}))
		assert.ErrorIs(t, err, ErrSignatureMismatch)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := DecodeEndOfCentralDirectory(newCursor([]byte{0x50, 0x4b, 0x05, 0x06, 0, 0}))
		assert.ErrorIs(t, err, cursor.ErrTruncatedInput)
	})

	t.Run("zip64 record size too small", func(t *testing.T) {
		b := binary.LittleEndian.AppendUint32(nil, Zip64EndOfCentralDirectorySignature)
		b = binary.LittleEndian.AppendUint64(b, 40)
		b = append(b, make([]byte, 44)...)

		_, err := DecodeZip64EndOfCentralDirectory(newCursor(b))
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})

	t.Run("zip64 extensible data past end", func(t *testing.T) {
		b := binary.LittleEndian.AppendUint32(nil, Zip64EndOfCentralDirectorySignature)
		b = binary.LittleEndian.AppendUint64(b, 1<<40)
		b = append(b, make([]byte, 44)...)

		_, err := DecodeZip64EndOfCentralDirectory(newCursor(b))
		assert.ErrorIs(t, err, cursor.ErrTruncatedInput)
	})
}

func TestDecode_ArchiveZip(t *testing.T) {
	data := []byte("0123456789")

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               "a.txt",
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(data),
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: uint64(len(data)),
	})
	assert.NoErrorf(t, err, "CreateRaw() error = %v", err)
	_, err = w.Write(data)
	assert.NoErrorf(t, err, "Write() error = %v", err)
	err = zw.Close()
	assert.NoErrorf(t, err, "Close() error = %v", err)

	b := buf.Bytes()
	c := newCursor(b)

	assert.NoError(t, c.Seek(int64(len(b)-EndOfCentralDirectoryLen)))
	eocd, err := DecodeEndOfCentralDirectory(c)
	assert.NoErrorf(t, err, "DecodeEndOfCentralDirectory() error = %v", err)
	assert.Equal(t, uint16(1), eocd.CDCount)
	assert.False(t, eocd.NeedsZip64())

	assert.NoError(t, c.Seek(int64(eocd.CDOffset)))
	cdh, err := DecodeCentralDirectoryHeader(c)
	assert.NoErrorf(t, err, "DecodeCentralDirectoryHeader() error = %v", err)
	assert.Equal(t, "a.txt", cdh.Name)
	assert.Equal(t, uint64(10), cdh.CompressedSize64)
	assert.Equal(t, int64(eocd.CDSize), cdh.Len())

	assert.NoError(t, c.Seek(int64(cdh.LocalHeaderOffset64)))
	lfh, err := DecodeLocalFileHeader(c)
	assert.NoErrorf(t, err, "DecodeLocalFileHeader() error = %v", err)
	assert.Equal(t, uint16(5), lfh.NameLength)
	assert.Equal(t, cdh.CRC32, lfh.CRC32)
	assert.Equal(t, int64(LocalFileHeaderLen+5), c.Tell())
}

func TestFields(t *testing.T) {
	extra := subRecord(Zip64ExtraTag, uint64s(10))
	h := &CentralDirectoryHeader{
		Signature:      CentralDirectoryHeaderSignature,
		CompressedSize: Sentinel32,
		NameLength:     5,
		ExtraLength:    uint16(len(extra)),
		Name:           "a.txt",
	}
	h.Extra, _ = DecodeExtraField(extra, Zip64CompressedSize)

	fields := h.Fields()
	assert.Equal(t, Field{Name: "signature", Value: uint64(CentralDirectoryHeaderSignature), Format: Hex, Width: 4}, fields[0])

	var names []string
	for _, f := range fields {
		if f.Depth > 0 {
			names = append(names, f.Name)
		}
	}
	assert.Equal(t, []string{"[0]", "header ID", "data size", "data", "compressed size"}, names)

	last := fields[len(fields)-1]
	assert.Equal(t, "file comment", last.Name)
	assert.Equal(t, LegacyText, last.Format)
}
