package asset

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dunamismax/assetflow/internal/dataurl"
	"github.com/spf13/afero"
)

// Asset is the normalized result of the pipeline: a byte buffer and the MIME
// type describing its encoding. Exports never modify the buffer.
type Asset struct {
	data      []byte
	mimeType  string
	sourceLen int
	fs        afero.Fs
}

func newAsset(data []byte, mimeType string, fs afero.Fs) *Asset {
	if data == nil {
		data = []byte{}
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Asset{data: data, mimeType: dataurl.CanonicalType(mimeType), sourceLen: len(data), fs: fs}
}

// MIMEType reports the type tag in canonical form. ok is false when no type
// is known, which only happens for remote sources that sent no Content-Type
// header or one that does not parse.
func (a *Asset) MIMEType() (mimeType string, ok bool) {
	return a.mimeType, a.mimeType != ""
}

func (a *Asset) IsImage() bool {
	mimeType, ok := a.MIMEType()
	return ok && strings.HasPrefix(strings.ToLower(mimeType), "image/")
}

func (a *Asset) Len() int {
	return len(a.data)
}

// SourceLen is the size of the input as read, before any re-encode.
func (a *Asset) SourceLen() int {
	return a.sourceLen
}

// ToFile writes the asset to path and returns the path.
func (a *Asset) ToFile(path string) (string, error) {
	if err := a.writeFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// SaveFile writes the asset to path and returns the asset itself so further
// exports can be chained.
func (a *Asset) SaveFile(path string) (*Asset, error) {
	if err := a.writeFile(path); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Asset) writeFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := a.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := afero.WriteFile(a.fs, path, a.data, 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

// ToBase64URL returns a data URL. Assets without a type are tagged as
// application/octet-stream.
func (a *Asset) ToBase64URL() string {
	return dataurl.Encode(a.exportType(), a.data)
}

func (a *Asset) ToBase64() string {
	return base64.StdEncoding.EncodeToString(a.data)
}

// ToStream returns a new reader over the buffer on every call.
func (a *Asset) ToStream() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(a.data))
}

// ToBuffer returns a copy of the bytes.
func (a *Asset) ToBuffer() []byte {
	return bytes.Clone(a.data)
}

func (a *Asset) ToBase64Buffer() []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(a.data)))
	base64.StdEncoding.Encode(out, a.data)
	return out
}

func (a *Asset) ToBlob() Blob {
	return Blob{Data: a.ToBuffer(), Type: a.exportType()}
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, key string, data []byte, contentType string) error
}

// ToObject stores the asset under key and returns the key.
func (a *Asset) ToObject(ctx context.Context, w ObjectWriter, key string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("object writer is required")
	}
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("object key is required")
	}
	if err := w.WriteObject(ctx, key, a.data, a.exportType()); err != nil {
		return "", err
	}
	return key, nil
}

func (a *Asset) exportType() string {
	if mimeType, ok := a.MIMEType(); ok {
		return mimeType
	}
	return OctetStream
}
