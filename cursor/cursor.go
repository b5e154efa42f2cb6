package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultWindowSize is the default value of [Options.WindowSize].
	DefaultWindowSize = 16 * 1024
)

// ErrTruncatedInput is returned when the input ends before a requested field or byte run could be read.
var ErrTruncatedInput = errors.New("truncated input")

// Options customises New.
type Options struct {
	// WindowSize is the number of bytes read ahead with every io.ReaderAt.ReadAt call.
	//
	// Remote sources such as S3 make one request per ReadAt so a larger window means fewer requests. By default,
	// DefaultWindowSize is used.
	WindowSize int
}

// Cursor reads little-endian fields sequentially from an io.ReaderAt of known size.
//
// Every read advances the cursor by the number of bytes consumed. Reads and seeks past the end of the input fail with
// an error wrapping ErrTruncatedInput instead of returning garbage.
//
// Cursor is not safe for use across multiple goroutines.
type Cursor struct {
	src    io.ReaderAt
	size   int64
	off    int64
	window int

	// buf holds the bytes [bufOff, bufOff+len(buf)) of src.
	buf    []byte
	bufOff int64
}

// New returns a Cursor positioned at offset 0 of src.
func New(src io.ReaderAt, size int64, optFns ...func(*Options)) *Cursor {
	opts := &Options{
		WindowSize: DefaultWindowSize,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	return &Cursor{
		src:    src,
		size:   size,
		window: max(opts.WindowSize, 1),
	}
}

// Size returns the total size of the input.
func (c *Cursor) Size() int64 {
	return c.size
}

// Tell returns the current absolute offset.
func (c *Cursor) Tell() int64 {
	return c.off
}

// Remaining returns the number of bytes between the current offset and the end of input.
func (c *Cursor) Remaining() int64 {
	return c.size - c.off
}

// Seek moves the cursor to the given absolute offset.
//
// Seeking to exactly Size is allowed; seeking anywhere else outside [0, Size] fails with ErrTruncatedInput.
func (c *Cursor) Seek(off int64) error {
	if off < 0 || off > c.size {
		return fmt.Errorf("seek to offset %d outside input of %d bytes: %w", off, c.size, ErrTruncatedInput)
	}

	c.off = off
	return nil
}

// Skip advances the cursor by n bytes without reading them.
func (c *Cursor) Skip(n uint64) error {
	if n > uint64(c.Remaining()) {
		return fmt.Errorf("skip %d bytes at offset %d with only %d remaining: %w", n, c.off, c.Remaining(), ErrTruncatedInput)
	}

	c.off += int64(n)
	return nil
}

// Peek returns the next n bytes without advancing the cursor.
//
// The returned slice is only valid until the next call on the Cursor.
func (c *Cursor) Peek(n int) ([]byte, error) {
	return c.fill(n)
}

// Bytes reads the next n bytes.
//
// The returned slice is owned by the caller.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	b, err := c.fill(n)
	if err != nil {
		return nil, err
	}

	c.off += int64(n)
	return append(make([]byte, 0, n), b...), nil
}

// FixedString reads the next n bytes as text that ends at the first NUL byte, if any.
//
// The cursor always advances by n regardless of where the text ends. The bytes are not validated as any particular
// encoding.
func (c *Cursor) FixedString(n int) (string, error) {
	b, err := c.fill(n)
	if err != nil {
		return "", err
	}

	c.off += int64(n)
	return cString(b), nil
}

// Uint16 reads a little-endian unsigned 16-bit integer.
func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.next(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian unsigned 32-bit integer.
func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.next(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian unsigned 64-bit integer.
func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.next(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

// Int32 reads a little-endian two's complement 32-bit integer.
func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}

// Int64 reads a little-endian two's complement 64-bit integer.
func (c *Cursor) Int64() (int64, error) {
	v, err := c.Uint64()
	return int64(v), err
}

func (c *Cursor) next(n int) ([]byte, error) {
	b, err := c.fill(n)
	if err != nil {
		return nil, err
	}

	c.off += int64(n)
	return b, nil
}

// fill makes sure the window covers [off, off+n) and returns that part of the window.
func (c *Cursor) fill(n int) ([]byte, error) {
	switch {
	case n < 0:
		return nil, fmt.Errorf("read %d bytes at offset %d: negative length", n, c.off)
	case int64(n) > c.Remaining():
		return nil, fmt.Errorf("read %d bytes at offset %d with only %d remaining: %w", n, c.off, max(c.Remaining(), 0), ErrTruncatedInput)
	case n == 0:
		return []byte{}, nil
	}

	if i := c.off - c.bufOff; c.off >= c.bufOff && i+int64(n) <= int64(len(c.buf)) {
		return c.buf[i : i+int64(n)], nil
	}

	m := int(min(int64(max(n, c.window)), c.Remaining()))
	if cap(c.buf) < m {
		c.buf = make([]byte, m)
	}
	c.buf, c.bufOff = c.buf[:m], c.off

	readN, err := c.src.ReadAt(c.buf, c.off)
	c.buf = c.buf[:readN]

	switch {
	case readN >= n:
		return c.buf[:n], nil
	case err != nil && !errors.Is(err, io.EOF):
		return nil, fmt.Errorf("read %d bytes at offset %d error: %w", n, c.off, err)
	default:
		return nil, fmt.Errorf("read %d bytes at offset %d: insufficient read, got %d: %w", n, c.off, readN, ErrTruncatedInput)
	}
}

func cString(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}

	return string(b)
}
