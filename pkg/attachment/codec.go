// Package attachment decodes inline base64 image payloads sent alongside chat messages.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultMaxBytes is the decoded size ceiling for a single attachment
	DefaultMaxBytes = 1_800_000

	// DefaultMIMEType is assumed when the caller supplies none
	DefaultMIMEType = "image/jpeg"
)

// AllowedMIMETypes lists the image types accepted as visual context
var AllowedMIMETypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
}

var (
	// ErrEmptyPayload is returned when no payload was supplied
	ErrEmptyPayload = errors.New("attachment payload is empty")

	// ErrInvalidEncoding is returned when the payload is not valid base64
	ErrInvalidEncoding = errors.New("attachment payload is not valid base64")

	// ErrTooLarge is returned when the decoded payload exceeds the size ceiling
	ErrTooLarge = errors.New("attachment exceeds size limit")

	// ErrUnsupportedMIME is returned for non-image or unknown MIME types
	ErrUnsupportedMIME = errors.New("unsupported attachment mime type")
)

// InlinePart is a validated binary payload ready to be sent to a model
type InlinePart struct {
	MIMEType string
	Data     []byte
}

// Size returns the decoded payload size in bytes
func (p InlinePart) Size() int {
	return len(p.Data)
}

// Base64 returns the payload re-encoded with standard padding
func (p InlinePart) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURI returns the payload as a data: URI
func (p InlinePart) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MIMEType, p.Base64())
}

// Codec validates and decodes attachment payloads
type Codec struct {
	maxBytes    int
	defaultMIME string
}

// NewCodec creates a codec. Zero values fall back to the package defaults.
func NewCodec(maxBytes int, defaultMIME string) *Codec {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	defaultMIME = normalizeMIME(defaultMIME)
	if defaultMIME == "" {
		defaultMIME = DefaultMIMEType
	}
	return &Codec{
		maxBytes:    maxBytes,
		defaultMIME: defaultMIME,
	}
}

// MaxBytes returns the decoded size ceiling
func (c *Codec) MaxBytes() int {
	return c.maxBytes
}

// Decode validates payload and returns the decoded part. The payload may be
// plain base64 (padded or not) or a data: URI; a MIME type carried by the URI
// is used when mimeType is empty.
func (c *Codec) Decode(payload, mimeType string) (InlinePart, error) {
	mimeType = normalizeMIME(mimeType)

	encoded := stripWhitespace(payload)
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 {
			return InlinePart{}, fmt.Errorf("%w: malformed data uri", ErrInvalidEncoding)
		}
		header := encoded[len("data:"):comma]
		if !strings.HasSuffix(header, ";base64") {
			return InlinePart{}, fmt.Errorf("%w: data uri is not base64", ErrInvalidEncoding)
		}
		if mimeType == "" {
			mimeType = normalizeMIME(strings.TrimSuffix(header, ";base64"))
		}
		encoded = encoded[comma+1:]
	}

	if encoded == "" {
		return InlinePart{}, ErrEmptyPayload
	}
	if mimeType == "" {
		mimeType = c.defaultMIME
	}
	if !isAllowedMIME(mimeType) {
		return InlinePart{}, fmt.Errorf("%w: %s", ErrUnsupportedMIME, mimeType)
	}

	// DecodedLen over-reports by at most two bytes of padding
	if base64.StdEncoding.DecodedLen(len(encoded))-2 > c.maxBytes {
		return InlinePart{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.maxBytes)
	}

	data, err := decodeBase64(encoded)
	if err != nil {
		return InlinePart{}, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if len(data) == 0 {
		return InlinePart{}, ErrEmptyPayload
	}
	if len(data) > c.maxBytes {
		return InlinePart{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(data), c.maxBytes)
	}

	return InlinePart{
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

// Reason returns a short metric label for a Decode error
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrInvalidEncoding):
		return "invalid_encoding"
	case errors.Is(err, ErrEmptyPayload):
		return "empty"
	case errors.Is(err, ErrUnsupportedMIME):
		return "unsupported_mime"
	default:
		return "unknown"
	}
}

func decodeBase64(encoded string) ([]byte, error) {
	if strings.HasSuffix(encoded, "=") || len(encoded)%4 == 0 {
		return base64.StdEncoding.DecodeString(encoded)
	}
	return base64.RawStdEncoding.DecodeString(encoded)
}

func normalizeMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

func isAllowedMIME(mimeType string) bool {
	for _, allowed := range AllowedMIMETypes {
		if mimeType == allowed {
			return true
		}
	}
	return false
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}
