package asset

import "fmt"

// UnsupportedInputError is returned when a value matches none of the known
// input shapes.
type UnsupportedInputError struct {
	Value any
}

func (e *UnsupportedInputError) Error() string {
	return fmt.Sprintf("unsupported input type %T", e.Value)
}

// CodecError is returned when bytes tagged as an image cannot be decoded or
// re-encoded.
type CodecError struct {
	Op       string
	MIMEType string
	Err      error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec %s (%s): %v", e.Op, e.MIMEType, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}
