package asset

import (
	"io"
	"strings"
)

// Input is one of PathInput, URLInput, BufferInput, StreamInput, BlobInput or
// ObjectInput. The set is closed; Resolve rejects anything else.
type Input interface {
	isInput()
}

type PathInput struct {
	Path string
}

type URLInput struct {
	URL string
}

type BufferInput struct {
	Data []byte
}

// StreamInput is drained to EOF. The reader is not closed.
type StreamInput struct {
	Reader io.Reader
}

type BlobInput struct {
	Blob Blob
}

// ObjectInput names an object in the configured object store.
type ObjectInput struct {
	Key string
}

func (PathInput) isInput()   {}
func (URLInput) isInput()    {}
func (BufferInput) isInput() {}
func (StreamInput) isInput() {}
func (BlobInput) isInput()   {}
func (ObjectInput) isInput() {}

// Blob is a byte sequence tagged with a declared MIME type.
type Blob struct {
	Data []byte
	Type string
}

// FromString treats http:// and https:// strings as URLs and anything else
// as a local path.
func FromString(s string) Input {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return URLInput{URL: s}
	}
	return PathInput{Path: s}
}

// FromValue maps a dynamically typed value onto an Input.
func FromValue(v any) (Input, error) {
	switch in := v.(type) {
	case Input:
		return in, nil
	case string:
		return FromString(in), nil
	case []byte:
		return BufferInput{Data: in}, nil
	case Blob:
		return BlobInput{Blob: in}, nil
	case *Blob:
		if in != nil {
			return BlobInput{Blob: *in}, nil
		}
	case io.Reader:
		return StreamInput{Reader: in}, nil
	}
	return nil, &UnsupportedInputError{Value: v}
}
