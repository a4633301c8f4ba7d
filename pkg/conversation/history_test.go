package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_Append(t *testing.T) {
	t.Run("should preserve insertion order", func(t *testing.T) {
		h := NewHistory(5)

		require.NoError(t, h.Append(Turn{Role: RoleUser, Content: "one"}))
		require.NoError(t, h.Append(Turn{Role: RoleAssistant, Content: "two"}))

		turns := h.Turns()
		require.Len(t, turns, 2)
		assert.Equal(t, "one", turns[0].Content)
		assert.Equal(t, "two", turns[1].Content)
		assert.False(t, turns[0].Timestamp.IsZero())
	})

	t.Run("should drop oldest turns beyond limit", func(t *testing.T) {
		h := NewHistory(3)

		for i := 1; i <= 7; i++ {
			require.NoError(t, h.Append(Turn{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i)}))
			assert.LessOrEqual(t, h.Len(), 3)
		}

		turns := h.Turns()
		require.Len(t, turns, 3)
		assert.Equal(t, "msg-5", turns[0].Content)
		assert.Equal(t, "msg-7", turns[2].Content)
	})

	t.Run("should reject empty content", func(t *testing.T) {
		h := NewHistory(3)

		err := h.Append(Turn{Role: RoleUser, Content: "   "})
		assert.ErrorIs(t, err, ErrEmptyContent)
		assert.Equal(t, 0, h.Len())
	})

	t.Run("should reject unknown role", func(t *testing.T) {
		h := NewHistory(3)

		err := h.Append(Turn{Role: "system", Content: "hi"})
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("should default limit", func(t *testing.T) {
		h := NewHistory(0)
		assert.Equal(t, DefaultMaxTurns, h.Limit())
	})
}

func TestHistory_Trimmed(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 6; i++ {
		require.NoError(t, h.Append(Turn{Role: RoleUser, Content: fmt.Sprintf("m%d", i)}))
	}

	recent := h.Trimmed(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "m4", recent[0].Content)
	assert.Equal(t, "m5", recent[1].Content)

	// Mutating the view must not touch the stored history
	recent[0].Content = "changed"
	assert.Equal(t, "m4", h.Turns()[4].Content)

	assert.Len(t, h.Trimmed(0), 6)
	assert.Len(t, h.Trimmed(100), 6)
}

func TestHistory_Bootstrap(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	earlier := now.Add(-time.Hour)

	t.Run("should adopt normalized turns into empty history", func(t *testing.T) {
		h := NewHistory(20)

		adopted := h.Bootstrap([]ClientTurn{
			{Role: "user", Content: "hi", Timestamp: &earlier},
			{Role: "", Content: "no role"},
			{Role: "assistant", Content: ""},
			{Role: "ASSISTANT", Content: "hello back", Route: "/home"},
		}, now)

		require.True(t, adopted)
		turns := h.Turns()
		require.Len(t, turns, 3)
		assert.Equal(t, earlier, turns[0].Timestamp)
		assert.Equal(t, RoleUser, turns[1].Role)
		assert.Equal(t, now, turns[1].Timestamp)
		assert.Equal(t, RoleAssistant, turns[2].Role)
		assert.Equal(t, "/home", turns[2].Route)
	})

	t.Run("should keep only the last limit supplied turns", func(t *testing.T) {
		h := NewHistory(2)

		supplied := []ClientTurn{{Content: "a"}, {Content: "b"}, {Content: "c"}}
		require.True(t, h.Bootstrap(supplied, now))

		turns := h.Turns()
		require.Len(t, turns, 2)
		assert.Equal(t, "b", turns[0].Content)
		assert.Equal(t, "c", turns[1].Content)
	})

	t.Run("should ignore supplied turns once history exists", func(t *testing.T) {
		h := NewHistory(20)
		require.NoError(t, h.Append(Turn{Role: RoleUser, Content: "server"}))

		adopted := h.Bootstrap([]ClientTurn{{Content: "client"}}, now)

		assert.False(t, adopted)
		require.Equal(t, 1, h.Len())
		assert.Equal(t, "server", h.Turns()[0].Content)
	})

	t.Run("should not adopt when every entry is empty", func(t *testing.T) {
		h := NewHistory(20)
		assert.False(t, h.Bootstrap([]ClientTurn{{Content: ""}, {Content: " "}}, now))
		assert.Equal(t, 0, h.Len())
	})
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in    string
		want  Role
		known bool
	}{
		{"user", RoleUser, true},
		{" Assistant ", RoleAssistant, true},
		{"", RoleUser, false},
		{"system", RoleUser, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, known := ParseRole(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestTrim(t *testing.T) {
	turns := []Turn{{Content: "a"}, {Content: "b"}, {Content: "c"}}

	assert.Len(t, Trim(turns, 5), 3)
	assert.Len(t, Trim(turns, 0), 0)
	assert.Len(t, Trim(turns, -1), 0)
	assert.Equal(t, "c", Trim(turns, 1)[0].Content)
}
