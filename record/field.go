package record

// Format tells a reporter how to render a Field's value.
type Format int

const (
	// Decimal renders a numeric value (uint64) in base 10.
	Decimal Format = iota
	// Hex renders a numeric value (uint64) in base 16, zero-padded to the field's Width.
	Hex
	// Size renders a numeric byte count (uint64) in base 10; reporters may add a human-readable form.
	Size
	// Bytes renders a []byte as a list of hex octets.
	Bytes
	// Text renders a string that is known to be UTF-8.
	Text
	// LegacyText renders a string whose encoding was not declared (general purpose bit 11 unset).
	LegacyText
	// FileTime renders an 8-byte NTFS FILETIME ([]byte); reporters may add the decoded time.
	FileTime
	// Group starts a nested block. Value is nil or a string description.
	Group
)

// Field is one decoded name/value pair.
type Field struct {
	// Name is the human-readable field name.
	Name string
	// Value is uint64 for Decimal, Hex, and Size; []byte for Bytes and FileTime; string for Text and LegacyText.
	Value any
	// Format is the rendering hint.
	Format Format
	// Width is the encoded width in bytes of numeric fields.
	Width int
	// Depth is the nesting level; top-level fields are 0 and extra field sub-records add one level each.
	Depth int
}

// fieldList builds a []Field at a fixed depth.
type fieldList struct {
	fields []Field
	depth  int
}

func (l *fieldList) dec(name string, v uint64, width int) {
	l.fields = append(l.fields, Field{Name: name, Value: v, Format: Decimal, Width: width, Depth: l.depth})
}

func (l *fieldList) hex(name string, v uint64, width int) {
	l.fields = append(l.fields, Field{Name: name, Value: v, Format: Hex, Width: width, Depth: l.depth})
}

func (l *fieldList) size(name string, v uint64, width int) {
	l.fields = append(l.fields, Field{Name: name, Value: v, Format: Size, Width: width, Depth: l.depth})
}

func (l *fieldList) bytes(name string, b []byte) {
	l.fields = append(l.fields, Field{Name: name, Value: b, Format: Bytes, Width: len(b), Depth: l.depth})
}

func (l *fieldList) text(name, s string, flags uint16) {
	format := LegacyText
	if flags&FlagUTF8 != 0 {
		format = Text
	}

	l.fields = append(l.fields, Field{Name: name, Value: s, Format: format, Width: len(s), Depth: l.depth})
}

func (l *fieldList) fileTime(name string, b []byte) {
	l.fields = append(l.fields, Field{Name: name, Value: b, Format: FileTime, Width: len(b), Depth: l.depth})
}

func (l *fieldList) group(name string, desc any) {
	l.fields = append(l.fields, Field{Name: name, Value: desc, Format: Group, Depth: l.depth})
}

// nest runs fn with the depth increased by one.
func (l *fieldList) nest(fn func()) {
	l.depth++
	fn()
	l.depth--
}
