package mediator

import (
	"context"
	"errors"

	"github.com/harun/companion/pkg/agent"
	"github.com/harun/companion/pkg/attachment"
	"github.com/harun/companion/pkg/conversation"
	"github.com/harun/companion/pkg/prompt"
	"github.com/harun/companion/pkg/session"
)

var (
	// ErrValidation is returned for malformed requests
	ErrValidation = errors.New("invalid chat request")

	// ErrPermission is returned when the session belongs to another owner
	ErrPermission = errors.New("permission denied")

	// ErrUpstream is returned when every model candidate failed
	ErrUpstream = errors.New("model backend unavailable")
)

// Attachment is an inline image supplied with a message
type Attachment struct {
	DataBase64 string `json:"data_base64"`
	MIMEType   string `json:"mime_type,omitempty"`
}

// ChatRequest is one user message and its context
type ChatRequest struct {
	OwnerID       string                    `json:"owner_id"`
	Message       string                    `json:"message"`
	SessionID     string                    `json:"session_id,omitempty"`
	Route         string                    `json:"route,omitempty"`
	ScreenContext string                    `json:"screen_context,omitempty"`
	Metadata      map[string]string         `json:"metadata,omitempty"`
	Attachment    *Attachment               `json:"attachment,omitempty"`
	ClientHistory []conversation.ClientTurn `json:"client_history,omitempty"`
}

// ChatResult is the reply and the updated transcript
type ChatResult struct {
	SessionID     string              `json:"session_id"`
	Reply         string              `json:"reply"`
	Model         string              `json:"model"`
	History       []conversation.Turn `json:"history"`
	Route         string              `json:"route,omitempty"`
	ScreenContext string              `json:"screen_context,omitempty"`
}

// SessionStore resolves and mutates sessions under its own lock
type SessionStore interface {
	Update(sessionID, ownerID string, fn func(*session.Session) error) (session.Snapshot, error)
}

// ModelInvoker produces a reply for a prompt
type ModelInvoker interface {
	Invoke(ctx context.Context, prompt string, parts []attachment.InlinePart) (agent.Reply, error)
}

// AttachmentDecoder turns a base64 payload into an inline part
type AttachmentDecoder interface {
	Decode(payload, mimeType string) (attachment.InlinePart, error)
}

// PromptBuilder renders the model prompt
type PromptBuilder interface {
	Build(in prompt.Input) string
}
