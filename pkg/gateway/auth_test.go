package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHandler(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should verify the shared secret", func(t *testing.T) {
		assert.True(t, auth.VerifySecret("test-secret"))
		assert.False(t, auth.VerifySecret("wrong"))
		assert.False(t, auth.VerifySecret(""))
	})

	t.Run("should generate unique 64 char challenges", func(t *testing.T) {
		a, err := auth.GenerateChallenge()
		require.NoError(t, err)
		b, err := auth.GenerateChallenge()
		require.NoError(t, err)

		assert.Len(t, a, 64)
		assert.NotEqual(t, a, b)
	})

	t.Run("should verify signatures made with the same secret", func(t *testing.T) {
		sig := auth.Sign("challenge")

		assert.True(t, auth.VerifySignature("challenge", sig))
		assert.False(t, auth.VerifySignature("other", sig))
		assert.False(t, NewAuthHandler("other-secret").VerifySignature("challenge", sig))
	})
}

func TestAuthHandler_HandleAuthResponse(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should fail without a challenge", func(t *testing.T) {
		result := auth.HandleAuthResponse(&Client{}, "sig")
		assert.False(t, result.Success)
		assert.Equal(t, "No challenge found", result.Message)
	})

	t.Run("should authenticate a valid signature", func(t *testing.T) {
		client := &Client{Challenge: "abc", AuthAttempts: 1}

		result := auth.HandleAuthResponse(client, auth.Sign("abc"))

		assert.True(t, result.Success)
		assert.Equal(t, "auth.success", result.Event)
		assert.True(t, client.Authenticated)
		assert.Equal(t, StateAuthenticated, client.State)
		assert.Empty(t, client.Challenge)
		assert.Equal(t, 0, client.AuthAttempts)
	})

	t.Run("should give up after too many bad signatures", func(t *testing.T) {
		client := &Client{Challenge: "abc"}

		for i := 1; i < MaxAuthAttempts; i++ {
			result := auth.HandleAuthResponse(client, "bad")
			assert.Equal(t, "Invalid signature", result.Message)
		}
		result := auth.HandleAuthResponse(client, "bad")

		assert.False(t, result.Success)
		assert.Equal(t, "Too many failed attempts", result.Message)
		assert.False(t, client.Authenticated)
	})
}
