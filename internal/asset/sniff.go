package asset

import (
	"context"
	"mime"
	"path/filepath"
	"strings"

	"github.com/dunamismax/assetflow/internal/codec"
)

const OctetStream = "application/octet-stream"

type Decoder interface {
	Decode(ctx context.Context, data []byte) (codec.Metadata, error)
}

// Sniff returns image/<format> when data decodes as an image container and
// OctetStream otherwise. It never fails.
func Sniff(ctx context.Context, dec Decoder, data []byte) string {
	if dec == nil || len(data) == 0 {
		return OctetStream
	}
	meta, err := dec.Decode(ctx, data)
	if err != nil {
		return OctetStream
	}
	return meta.Format.MIMEType()
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpe":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".avif": "image/avif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".json": "application/json",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".xml":  "application/xml",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// TypeByExtension looks the file extension up in the built-in table, then in
// the system MIME database, falling back to OctetStream.
func TypeByExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return OctetStream
	}
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return OctetStream
}
