package internal

import (
	"fmt"
	"io"
	"log"
	"path"
)

// Prefix creates a consistent prefix for every input of a command.
//
// i is the zero-based ordinal and n the expected count.
func Prefix(i, n int, name string) string {
	return fmt.Sprintf(`[%d/%d] "%s" - `, i+1, n, TruncateRightWithSuffix(path.Base(name), 30, "..."))
}

// NewLogger creates a new logger writing to w using Prefix.
func NewLogger(w io.Writer, i, n int, name string) *log.Logger {
	return log.New(w, Prefix(i, n, name), 0)
}
