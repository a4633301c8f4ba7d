package conversation

import (
	"errors"
	"strings"
	"time"
)

// DefaultMaxTurns is the sliding window size applied to every session history
const DefaultMaxTurns = 20

// Role identifies the author of a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	// ErrEmptyContent is returned when a turn without content is appended
	ErrEmptyContent = errors.New("turn content cannot be empty")

	// ErrInvalidRole is returned when a turn carries an unknown role
	ErrInvalidRole = errors.New("turn role must be user or assistant")
)

// Turn is one message within a conversation
type Turn struct {
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	Route         string    `json:"route,omitempty"`
	ScreenContext string    `json:"screen_context,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Label returns the transcript label for the role
func (r Role) Label() string {
	switch r {
	case RoleAssistant:
		return "Assistant"
	default:
		return "User"
	}
}

// Valid reports whether r is a role that may be stored
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole maps a loosely formatted role string to a Role.
// Unknown or empty values fall back to RoleUser and report false.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant:
		return RoleAssistant, true
	default:
		return RoleUser, false
	}
}

// Validate checks that the turn can be stored
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return ErrInvalidRole
	}
	if strings.TrimSpace(t.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}
