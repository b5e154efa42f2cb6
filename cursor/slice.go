package cursor

import (
	"encoding/binary"
	"fmt"
)

// Slice is a bounds-checked cursor over an owned byte slice.
//
// Slice is used to walk variable-length regions that have already been read in full, such as extra fields. Reads past
// the end of the slice fail with ErrTruncatedInput and do not advance the position.
type Slice struct {
	b   []byte
	pos int
}

// NewSlice returns a Slice positioned at the start of b.
func NewSlice(b []byte) *Slice {
	return &Slice{b: b}
}

// Len returns the number of unread bytes.
func (s *Slice) Len() int {
	return len(s.b) - s.pos
}

// Pos returns the number of bytes read so far.
func (s *Slice) Pos() int {
	return s.pos
}

// Rest returns the unread bytes without advancing.
func (s *Slice) Rest() []byte {
	return s.b[s.pos:]
}

// Bytes reads the next n bytes.
//
// The returned slice aliases the underlying data.
func (s *Slice) Bytes(n int) ([]byte, error) {
	if n < 0 || n > s.Len() {
		return nil, fmt.Errorf("read %d bytes at position %d with only %d remaining: %w", n, s.pos, s.Len(), ErrTruncatedInput)
	}

	b := s.b[s.pos : s.pos+n : s.pos+n]
	s.pos += n
	return b, nil
}

// Sub reads the next n bytes as a new Slice.
func (s *Slice) Sub(n int) (*Slice, error) {
	b, err := s.Bytes(n)
	if err != nil {
		return nil, err
	}

	return NewSlice(b), nil
}

// Uint16 reads a little-endian unsigned 16-bit integer.
func (s *Slice) Uint16() (uint16, error) {
	b, err := s.Bytes(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian unsigned 32-bit integer.
func (s *Slice) Uint32() (uint32, error) {
	b, err := s.Bytes(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian unsigned 64-bit integer.
func (s *Slice) Uint64() (uint64, error) {
	b, err := s.Bytes(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

// Int32 reads a little-endian two's complement 32-bit integer.
func (s *Slice) Int32() (int32, error) {
	v, err := s.Uint32()
	return int32(v), err
}

// Int64 reads a little-endian two's complement 64-bit integer.
func (s *Slice) Int64() (int64, error) {
	v, err := s.Uint64()
	return int64(v), err
}
