package walk

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/nguyengg/zipanalyze/record"
	"github.com/stretchr/testify/assert"
)

func forward(opts *Options) {
	opts.Scan = ForwardScan
}

func TestWalk_Forward(t *testing.T) {
	var progress [][2]int64
	res, rep, err := walk(minimal(t), forward, func(opts *Options) {
		opts.Progress = func(consumed, declared int64) {
			progress = append(progress, [2]int64{consumed, declared})
		}
	})
	assert.NoErrorf(t, err, "Walk() error = %v", err)

	assert.Equal(t, []recorded{
		{record.KindLocalFileHeader, 0, 0},
		{record.KindCentralDirectoryHeader, 0, 45},
		{record.KindEndOfCentralDirectory, -1, 96},
	}, rep.records)
	assert.Equal(t, []compressedData{{0, 35, 10}}, rep.data)
	assert.Empty(t, rep.problems)
	assert.Equal(t, []Verdict{{
		Consistent:      true,
		DeclaredSize:    51,
		DeclaredEntries: 1,
		Entries:         1,
	}}, rep.verdicts)
	assert.Equal(t, [][2]int64{{51, -1}}, progress)

	assert.True(t, res.Consistent)
	if assert.Len(t, res.LocalHeaders, 1) {
		assert.True(t, res.LocalHeaders[0].Referenced)
		assert.Equal(t, int64(35), res.LocalHeaders[0].DataOffset)
	}
	if assert.Len(t, res.Entries, 1) && assert.NotNil(t, res.Entries[0].Local) {
		assert.Equal(t, "a.txt", res.Entries[0].Local.Name)
		assert.Equal(t, int64(35), res.Entries[0].DataOffset)
	}
}

func TestWalk_ForwardDataDescriptor(t *testing.T) {
	files := map[string]string{
		"a.txt":     "0123456789",
		"b/c.txt":   "hello, world",
		"b/d/e.txt": "",
	}

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, name := range []string{"a.txt", "b/c.txt", "b/d/e.txt"} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		assert.NoErrorf(t, err, "CreateHeader(%s) error = %v", name, err)
		_, err = w.Write([]byte(files[name]))
		assert.NoErrorf(t, err, "Write(%s) error = %v", name, err)
	}
	err := zw.Close()
	assert.NoErrorf(t, err, "Close() error = %v", err)

	res, rep, err := walk(buf.Bytes(), forward)
	assert.NoErrorf(t, err, "Walk() error = %v", err)
	assert.True(t, res.Consistent)
	assert.Empty(t, rep.problems)
	assert.Len(t, res.Entries, 3)

	if assert.Len(t, rep.data, 3) {
		for i, name := range []string{"a.txt", "b/c.txt", "b/d/e.txt"} {
			assert.Equal(t, uint64(len(files[name])), rep.data[i].size)
		}
	}

	for _, l := range res.LocalHeaders {
		assert.True(t, l.Referenced)
		assert.Equal(t, uint32(0), l.Header.CompressedSize)
		if assert.NotNil(t, l.Descriptor) {
			assert.True(t, l.Descriptor.HasSignature)
			assert.Equal(t, uint64(len(files[l.Header.Name])), l.Descriptor.CompressedSize)
		}
	}
}

func TestWalk_ForwardOrphanedLocalHeader(t *testing.T) {
	stale := newEntry("old.txt", []byte("0123456789"))
	stale.orphan = true

	b := build(t, []entry{
		newEntry("a.txt", []byte("0123456789")),
		stale,
		newEntry("b.txt", []byte("0123456789")),
	}, false, nil)

	t.Run("forward", func(t *testing.T) {
		res, rep, err := walk(b, forward)
		assert.NoErrorf(t, err, "Walk() error = %v", err)
		assert.True(t, res.Consistent)

		if assert.Len(t, res.LocalHeaders, 3) {
			assert.True(t, res.LocalHeaders[0].Referenced)
			assert.False(t, res.LocalHeaders[1].Referenced)
			assert.True(t, res.LocalHeaders[2].Referenced)
			assert.ErrorIs(t, res.LocalHeaders[1].Err, ErrOrphanedLocalHeader)
		}
		if assert.Len(t, res.Entries, 2) && assert.NotNil(t, res.Entries[1].Local) {
			assert.Equal(t, "b.txt", res.Entries[1].Local.Name)
			assert.Equal(t, int64(92), res.Entries[1].Local.Offset)
		}

		if problems := res.Problems(); assert.Len(t, problems, 1) {
			assert.ErrorIs(t, problems[0], ErrOrphanedLocalHeader)
			assert.ErrorContains(t, problems[0], `entry 1 at offset 45: "old.txt" is not in the central directory`)
		}
		assert.Len(t, rep.problems, 1)
		if assert.Len(t, rep.verdicts, 1) {
			assert.Equal(t, 1, rep.verdicts[0].Problems)
			assert.Equal(t, 2, rep.verdicts[0].Entries)
		}
	})

	t.Run("central directory", func(t *testing.T) {
		res, rep, err := walk(b)
		assert.NoErrorf(t, err, "Walk() error = %v", err)
		assert.True(t, res.Consistent)
		assert.Empty(t, res.LocalHeaders)
		assert.Empty(t, rep.problems)
	})
}

func TestWalk_ForwardMissingLocalHeader(t *testing.T) {
	b := minimal(t)
	// relative offset of local header of the only central directory header.
	binary.LittleEndian.PutUint32(b[45+42:], 1)

	res, _, err := walk(b, forward)
	assert.NoErrorf(t, err, "Walk() error = %v", err)

	if assert.Len(t, res.Entries, 1) {
		assert.Nil(t, res.Entries[0].Local)
		assert.Equal(t, int64(-1), res.Entries[0].DataOffset)
	}

	if problems := res.Problems(); assert.Len(t, problems, 2) {
		assert.ErrorIs(t, problems[0], ErrMissingLocalHeader)
		assert.ErrorIs(t, problems[1], ErrOrphanedLocalHeader)
	}
}

func TestWalk_ForwardMisplacedCentralDirectory(t *testing.T) {
	b := build(t, []entry{newEntry("a.txt", []byte("0123456789"))}, false, func(eocd *record.EndOfCentralDirectory) {
		eocd.CDOffset--
	})

	res, rep, err := walk(b, forward)
	assert.NoErrorf(t, err, "Walk() error = %v", err)
	assert.True(t, res.Consistent)
	assert.Equal(t, uint64(44), res.CDOffset)

	if problems := res.Problems(); assert.Len(t, problems, 1) {
		assert.ErrorIs(t, problems[0], ErrMisplacedCentralDirectory)
	}
	assert.Len(t, rep.problems, 1)
}

func TestWalk_ForwardTooManyEntries(t *testing.T) {
	res, rep, err := walk(minimal(t), forward, func(opts *Options) {
		opts.MaxEntries = 0
	})
	assert.ErrorIs(t, err, ErrTooManyEntries)
	assert.Empty(t, res.LocalHeaders)
	if assert.Len(t, rep.verdicts, 1) {
		assert.False(t, rep.verdicts[0].Consistent)
		assert.ErrorIs(t, rep.verdicts[0].Err, ErrTooManyEntries)
	}
}
