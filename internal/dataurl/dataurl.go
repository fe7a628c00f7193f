// Package dataurl validates and builds base64 text and base64 data URLs of the
// form data:<type>[;param=value]*;base64,<payload>.
package dataurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"mime"
	"regexp"
	"slices"
	"strings"
)

var ErrInvalidDataURL = errors.New("invalid base64 data url")

const tokenChars = "A-Za-z0-9!#$%&'*+.^_`|~-"

var (
	base64Pattern  = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)
	dataURLPattern = regexp.MustCompile(`^data:([` + tokenChars + `]+/[` + tokenChars + `]+)((?:;[` + tokenChars + `]+=[^;,]*)*);base64,(.*)$`)
)

// IsBase64 reports whether text is padded standard base64 that survives an
// exact decode/encode round trip.
func IsBase64(text string) bool {
	if text == "" || len(text)%4 != 0 {
		return false
	}
	if !base64Pattern.MatchString(text) {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return false
	}
	return base64.StdEncoding.EncodeToString(decoded) == text
}

// IsBase64DataURL reports whether text is a base64 data URL. A non-empty
// typePrefix additionally requires the media type to start with it. The
// payload may be empty.
func IsBase64DataURL(text, typePrefix string) bool {
	m := dataURLPattern.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	if typePrefix != "" && !strings.HasPrefix(strings.ToLower(m[1]), strings.ToLower(typePrefix)) {
		return false
	}
	return validPayload(m[3])
}

// Parse returns the canonical media type, parameters included, and the
// decoded payload.
func Parse(text string) (string, []byte, error) {
	m := dataURLPattern.FindStringSubmatch(text)
	if m == nil || !validPayload(m[3]) {
		return "", nil, ErrInvalidDataURL
	}

	mediaType := CanonicalType(m[1] + m[2])
	if mediaType == "" {
		return "", nil, ErrInvalidDataURL
	}

	data, err := base64.StdEncoding.DecodeString(m[3])
	if err != nil {
		return "", nil, ErrInvalidDataURL
	}
	return mediaType, data, nil
}

// Encode builds a data URL. Parameters are written without whitespace so
// Parse accepts the result; a type that does not parse is replaced with
// application/octet-stream.
func Encode(mediaType string, data []byte) string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mediaType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	writeType(&b, mediaType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// CanonicalType normalizes a media type to the mime.FormatMediaType form:
// lowercase type and parameter names, "; " separators, sorted parameters.
// It returns "" when the type does not parse.
func CanonicalType(mediaType string) string {
	base, params, ok := parseType(mediaType)
	if !ok {
		return ""
	}
	return mime.FormatMediaType(base, params)
}

func parseType(mediaType string) (string, map[string]string, bool) {
	if strings.TrimSpace(mediaType) == "" {
		return "", nil, false
	}
	base, params, err := mime.ParseMediaType(mediaType)
	if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
		return "", nil, false
	}
	if !strings.Contains(base, "/") || mime.FormatMediaType(base, params) == "" {
		return "", nil, false
	}
	return base, params, true
}

func writeType(b *strings.Builder, mediaType string) {
	base, params, ok := parseType(mediaType)
	if !ok {
		b.WriteString("application/octet-stream")
		return
	}

	b.WriteString(base)
	for _, key := range slices.Sorted(maps.Keys(params)) {
		value := params[key]
		b.WriteByte(';')
		if isToken(value) {
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(value)
			continue
		}
		// RFC 2231 extended value keeps quotes, separators and non-ASCII
		// out of the URL.
		b.WriteString(key)
		b.WriteString("*=utf-8''")
		for i := 0; i < len(value); i++ {
			c := value[i]
			if isUnreserved(c) {
				b.WriteByte(c)
				continue
			}
			fmt.Fprintf(b, "%%%02X", c)
		}
	}
}

func validPayload(payload string) bool {
	return payload == "" || IsBase64(payload)
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte("!#$%&'*+^`|", c) >= 0 {
			continue
		}
		return false
	}
	return true
}

func isUnreserved(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || strings.IndexByte("-._~", c) >= 0
}
