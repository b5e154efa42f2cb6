// Package report renders what walk.Walk finds.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/nguyengg/zipanalyze/record"
	"github.com/nguyengg/zipanalyze/walk"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/text/encoding/charmap"
)

const (
	// DefaultKeyWidth is the default value of [TextOptions.KeyWidth].
	DefaultKeyWidth = 60
)

// TextOptions customises NewText.
type TextOptions struct {
	// KeyWidth is the width that field names are padded to.
	//
	// Default to DefaultKeyWidth.
	KeyWidth int

	// Humanize adds a human-readable form to sizes, such as "(1.0 MiB)".
	Humanize bool

	// CP437 decodes file names and comments as code page 437 if their UTF-8 flag is not set and they are not valid
	// UTF-8.
	CP437 bool
}

// Text writes every record as a header line followed by one aligned line per field.
//
//	0000000000000000: local file header[0]
//	  signature                                                   :0x04034b50
//	  version needed to extract                                   :20
//
// Text implements walk.Reporter. Write errors are kept and returned by Err; once a write fails nothing else is
// written.
type Text struct {
	w    io.Writer
	opts TextOptions
	err  error
}

var _ walk.Reporter = (*Text)(nil)

// NewText returns a new Text writing to w.
func NewText(w io.Writer, optFns ...func(*TextOptions)) *Text {
	opts := TextOptions{
		KeyWidth: DefaultKeyWidth,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Text{w: w, opts: opts}
}

// Err returns the first write error.
func (t *Text) Err() error {
	return t.err
}

func (t *Text) Record(kind record.Kind, index int, offset int64, fields []record.Field) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if index < 0 {
		_, _ = fmt.Fprintf(buf, "%016x: %s\n", offset, kind)
	} else {
		_, _ = fmt.Fprintf(buf, "%016x: %s[%d]\n", offset, kind, index)
	}

	for _, f := range fields {
		t.writeField(buf, f)
	}

	_ = buf.WriteByte('\n')
	t.write(buf.B)
}

func (t *Text) CompressedData(_ int, offset int64, size uint64) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = fmt.Fprintf(buf, "%016x: compressed data(%d byte)", offset, size)
	if t.opts.Humanize && size >= 1024 {
		_, _ = fmt.Fprintf(buf, " (%s)", humanize.IBytes(size))
	}
	_, _ = buf.WriteString("\n\n")
	t.write(buf.B)
}

func (t *Text) Problem(index int, offset int64, err error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = fmt.Fprintf(buf, "%016x: problem[%d]: %v\n\n", offset, index, err)
	t.write(buf.B)
}

func (t *Text) Verdict(v walk.Verdict) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	switch {
	case v.Consistent:
		_, _ = fmt.Fprintf(buf, "consistent: %d entries, %d central directory bytes", v.Entries, v.DeclaredSize)
	case v.Err != nil:
		_, _ = fmt.Fprintf(buf, "inconsistent: %v", v.Err)
	default:
		_, _ = fmt.Fprintf(buf, "inconsistent: %d of %d central directory bytes not consumed", v.Remaining, v.DeclaredSize)
	}
	if v.Problems > 0 {
		_, _ = fmt.Fprintf(buf, " (%d problems)", v.Problems)
	}
	_ = buf.WriteByte('\n')
	t.write(buf.B)
}

func (t *Text) writeField(buf *bytebufferpool.ByteBuffer, f record.Field) {
	key := strings.Repeat("  ", f.Depth) + f.Name

	if f.Format == record.Group {
		if desc, ok := f.Value.(string); ok && desc != "" {
			_, _ = fmt.Fprintf(buf, "  %-*s:%s\n", t.opts.KeyWidth, key, desc)
			return
		}

		_, _ = fmt.Fprintf(buf, "  %s\n", key)
		return
	}

	_, _ = fmt.Fprintf(buf, "  %-*s:", t.opts.KeyWidth, key)

	switch v := f.Value.(type) {
	case uint64:
		t.writeNumber(buf, f.Format, f.Width, v)
	case []byte:
		writeBytes(buf, v)
		if f.Format == record.FileTime {
			if ft, ok := record.DecodeFileTime(v); ok {
				_, _ = fmt.Fprintf(buf, " (%s)", ft.Format(time.RFC3339Nano))
			}
		}
	case string:
		_, _ = buf.WriteString(t.text(f.Format, v))
	default:
		_, _ = fmt.Fprintf(buf, "%v", v)
	}

	_ = buf.WriteByte('\n')
}

func (t *Text) writeNumber(buf *bytebufferpool.ByteBuffer, format record.Format, width int, v uint64) {
	switch format {
	case record.Hex:
		_, _ = fmt.Fprintf(buf, "0x%0*x", width*2, v)
	case record.Size:
		_, _ = fmt.Fprintf(buf, "%d", v)
		if t.opts.Humanize && v >= 1024 && !isSentinel(v, width) {
			_, _ = fmt.Fprintf(buf, " (%s)", humanize.IBytes(v))
		}
	default:
		_, _ = fmt.Fprintf(buf, "%d", v)
	}
}

func (t *Text) text(format record.Format, s string) string {
	if format != record.LegacyText || !t.opts.CP437 || utf8.ValidString(s) {
		return s
	}

	if decoded, err := charmap.CodePage437.NewDecoder().String(s); err == nil {
		return decoded
	}

	return s
}

func (t *Text) write(b []byte) {
	if t.err != nil {
		return
	}

	_, t.err = t.w.Write(b)
}

func writeBytes(buf *bytebufferpool.ByteBuffer, b []byte) {
	_ = buf.WriteByte('[')
	for _, v := range b {
		_, _ = fmt.Fprintf(buf, "%02x, ", v)
	}
	_ = buf.WriteByte(']')
}

func isSentinel(v uint64, width int) bool {
	switch width {
	case 4:
		return v == uint64(record.Sentinel32)
	case 8:
		return v == record.Sentinel64
	default:
		return false
	}
}
