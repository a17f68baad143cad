package loader

import "fmt"

// ColumnError reports a required column missing from a measurement file.
type ColumnError struct {
	File   string
	Column string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("[loader] %s: missing required column %q", e.File, e.Column)
}

// FileNameError reports a file name the OS and device codes cannot be derived from.
type FileNameError struct {
	File string
}

func (e *FileNameError) Error() string {
	return fmt.Sprintf("[loader] %s: cannot derive os and device from file name, want <prefix>-<os>-<device>...", e.File)
}

// ValueError reports a field that does not parse as a number.
type ValueError struct {
	File   string
	Line   int
	Column string
	Value  string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("[loader] %s:%d: column %q: cannot parse %q as a number", e.File, e.Line, e.Column, e.Value)
}
