package attachment

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec_Defaults(t *testing.T) {
	c := NewCodec(0, "")
	assert.Equal(t, DefaultMaxBytes, c.MaxBytes())
	assert.Equal(t, DefaultMIMEType, c.defaultMIME)
}

func TestCodec_Decode(t *testing.T) {
	c := NewCodec(64, "")
	raw := []byte("fake image bytes")
	encoded := base64.StdEncoding.EncodeToString(raw)

	t.Run("should decode padded base64 with default mime", func(t *testing.T) {
		part, err := c.Decode(encoded, "")
		require.NoError(t, err)
		assert.Equal(t, raw, part.Data)
		assert.Equal(t, "image/jpeg", part.MIMEType)
		assert.Equal(t, len(raw), part.Size())
	})

	t.Run("should decode unpadded base64", func(t *testing.T) {
		part, err := c.Decode(base64.RawStdEncoding.EncodeToString([]byte("abcd")), "image/png")
		require.NoError(t, err)
		assert.Equal(t, []byte("abcd"), part.Data)
		assert.Equal(t, "image/png", part.MIMEType)
	})

	t.Run("should accept data uri and use its mime type", func(t *testing.T) {
		part, err := c.Decode("data:image/webp;base64,"+encoded, "")
		require.NoError(t, err)
		assert.Equal(t, "image/webp", part.MIMEType)
		assert.Equal(t, raw, part.Data)
	})

	t.Run("should ignore embedded newlines", func(t *testing.T) {
		wrapped := encoded[:8] + "\n" + encoded[8:]
		part, err := c.Decode(wrapped, "image/jpg")
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.MIMEType)
	})

	t.Run("should reject invalid base64", func(t *testing.T) {
		_, err := c.Decode("not*base64!", "")
		assert.ErrorIs(t, err, ErrInvalidEncoding)
		assert.Equal(t, "invalid_encoding", Reason(err))
	})

	t.Run("should reject empty payload", func(t *testing.T) {
		_, err := c.Decode("  ", "")
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})

	t.Run("should reject non-image mime", func(t *testing.T) {
		_, err := c.Decode(encoded, "application/pdf")
		assert.ErrorIs(t, err, ErrUnsupportedMIME)
		assert.Equal(t, "unsupported_mime", Reason(err))
	})

	t.Run("should reject oversized payload", func(t *testing.T) {
		big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xff}, 65))
		_, err := c.Decode(big, "")
		assert.ErrorIs(t, err, ErrTooLarge)
		assert.Equal(t, "too_large", Reason(err))
	})

	t.Run("should accept payload exactly at the limit", func(t *testing.T) {
		exact := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x01}, 64))
		part, err := c.Decode(exact, "")
		require.NoError(t, err)
		assert.Equal(t, 64, part.Size())
	})
}

func TestCodec_DefaultCeiling(t *testing.T) {
	c := NewCodec(0, "")
	payload := base64.StdEncoding.EncodeToString(make([]byte, 2_000_000))

	_, err := c.Decode(payload, "image/png")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestInlinePart_DataURI(t *testing.T) {
	part := InlinePart{MIMEType: "image/png", Data: []byte("xy")}
	assert.Equal(t, "data:image/png;base64,eHk=", part.DataURI())
}
