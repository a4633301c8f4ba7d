package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/companion/internal/tracing"
	"github.com/harun/companion/pkg/mediator"
	"github.com/harun/companion/pkg/session"
)

// ChatService serves agent.chat
type ChatService interface {
	Chat(ctx context.Context, req mediator.ChatRequest) (*mediator.ChatResult, error)
}

// SessionService serves session lookups
type SessionService interface {
	Get(sessionID, ownerID string) (session.Snapshot, error)
	Delete(sessionID, ownerID string) error
	Count() int
}

type sessionParams struct {
	SessionID string `json:"session_id"`
}

// HealthStatus is the gateway.health result
type HealthStatus struct {
	Status   string    `json:"status"`
	Sessions int       `json:"sessions"`
	Clients  int       `json:"clients"`
	Time     time.Time `json:"time"`
}

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("agent.chat", s.handleAgentChat)
	_ = s.RegisterMethod("session.get", s.handleSessionGet)
	_ = s.RegisterMethod("session.delete", s.handleSessionDelete)
	_ = s.RegisterMethod("gateway.health", s.handleHealth)
}

// handleAgentChat handles agent.chat RPC method
func (s *Server) handleAgentChat(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req mediator.ChatRequest
	if err := s.chatParams.Decode(params, &req); err != nil {
		return nil, err
	}

	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}
	req.OwnerID = owner

	return s.chat.Chat(ctx, req)
}

// handleSessionGet handles session.get RPC method
func (s *Server) handleSessionGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p sessionParams
	if err := s.sessionParams.Decode(params, &p); err != nil {
		return nil, err
	}

	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := s.sessions.Get(p.SessionID, owner)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// handleSessionDelete handles session.delete RPC method
func (s *Server) handleSessionDelete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p sessionParams
	if err := s.sessionParams.Decode(params, &p); err != nil {
		return nil, err
	}

	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Delete(p.SessionID, owner); err != nil {
		return nil, err
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("session_id", p.SessionID).Msg("Session deleted over RPC")

	return map[string]interface{}{"deleted": true, "session_id": p.SessionID}, nil
}

// handleHealth handles gateway.health RPC method
func (s *Server) handleHealth(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return s.health(), nil
}

func (s *Server) health() HealthStatus {
	return HealthStatus{
		Status:   "ok",
		Sessions: s.sessions.Count(),
		Clients:  s.clients.Count(),
		Time:     time.Now().UTC(),
	}
}

func requireOwner(ctx context.Context) (string, error) {
	owner := strings.TrimSpace(ownerFromContext(ctx))
	if owner == "" {
		return "", &RPCError{
			Code:    AuthenticationRequired,
			Message: fmt.Sprintf("owner identity required (%s header)", OwnerHeader),
		}
	}
	return owner, nil
}

var _ SessionService = (*session.Registry)(nil)
