package mediator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/companion/internal/observability"
	"github.com/harun/companion/internal/tracing"
	"github.com/harun/companion/pkg/attachment"
	"github.com/harun/companion/pkg/conversation"
	"github.com/harun/companion/pkg/prompt"
	"github.com/harun/companion/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds mediator dependencies
type Config struct {
	Registry SessionStore
	Invoker  ModelInvoker
	Codec    AttachmentDecoder
	Composer PromptBuilder
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Mediator serves chat requests
type Mediator struct {
	sessions SessionStore
	invoker  ModelInvoker
	codec    AttachmentDecoder
	composer PromptBuilder
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a mediator. Codec and Composer default to the package
// defaults when nil.
func New(cfg Config) (*Mediator, error) {
	observability.EnsureRegistered()

	if cfg.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Invoker == nil {
		return nil, fmt.Errorf("model invoker is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = attachment.NewCodec(attachment.DefaultMaxBytes, attachment.DefaultMIMEType)
	}
	if cfg.Composer == nil {
		cfg.Composer = prompt.NewComposer(conversation.DefaultMaxTurns, prompt.DefaultAssistantName)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Mediator{
		sessions: cfg.Registry,
		invoker:  cfg.Invoker,
		codec:    cfg.Codec,
		composer: cfg.Composer,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// Chat records the user message, asks the model for a reply and records it.
//
// Errors match ErrValidation, ErrPermission or ErrUpstream via errors.Is.
// Attachment problems never fail the call; the attachment is dropped.
func (m *Mediator) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "companion.mediator", "mediator.chat",
		attribute.Bool("has_attachment", req.Attachment != nil),
		attribute.Int("client_history", len(req.ClientHistory)),
	)
	defer span.End()

	result, err := m.chat(ctx, req)
	observability.RecordChat(chatStatus(err), time.Since(start))
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("session_id", result.SessionID),
		attribute.String("model", result.Model),
	)
	return result, nil
}

func (m *Mediator) chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", ErrValidation)
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id cannot be empty", ErrValidation)
	}
	if err := session.ValidateSessionID(req.SessionID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	ctx = tracing.WithOwnerID(ctx, ownerID)
	route := strings.TrimSpace(req.Route)
	screenContext := strings.TrimSpace(req.ScreenContext)

	userTurn := conversation.Turn{
		Role:          conversation.RoleUser,
		Content:       message,
		Route:         route,
		ScreenContext: screenContext,
		Timestamp:     m.now(),
	}

	bootstrapped := false
	snap, err := m.sessions.Update(req.SessionID, ownerID, func(s *session.Session) error {
		s.MergeMetadata(req.Metadata)
		bootstrapped = s.History.Bootstrap(req.ClientHistory, userTurn.Timestamp)
		return s.History.Append(userTurn)
	})
	if err != nil {
		return nil, classifySessionError(err)
	}

	ctx = tracing.WithSessionID(ctx, snap.ID)
	logger := tracing.LoggerFromContext(ctx, m.logger)

	if bootstrapped {
		observability.RecordHistoryBootstrap()
		logger.Debug().
			Int("turns", len(snap.History)-1).
			Msg("Seeded session history from client")
	}

	parts := m.decodeAttachment(logger, req.Attachment)

	promptText := m.composer.Build(prompt.Input{
		History:       snap.History,
		Route:         route,
		ScreenContext: screenContext,
		OwnerID:       ownerID,
		Metadata:      snap.Metadata,
		HasAttachment: len(parts) > 0,
	})

	reply, err := m.invoker.Invoke(ctx, promptText, parts)
	if err != nil {
		logger.Error().Err(err).Msg("Chat failed, no model produced a reply")
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	assistantTurn := conversation.Turn{
		Role:          conversation.RoleAssistant,
		Content:       reply.Text,
		Route:         route,
		ScreenContext: screenContext,
		Timestamp:     m.now(),
	}

	final, err := m.sessions.Update(snap.ID, ownerID, func(s *session.Session) error {
		if s.History.Len() == 0 {
			logger.Warn().Msg("Session expired during model call, recreating it")
			s.MergeMetadata(req.Metadata)
			if err := s.History.Append(userTurn); err != nil {
				return err
			}
		}
		return s.History.Append(assistantTurn)
	})
	if err != nil {
		return nil, classifySessionError(err)
	}

	event := logger.Info().
		Str("model", reply.Model).
		Int("history", len(final.History))
	if reply.Usage != nil {
		event = event.
			Int("input_tokens", reply.Usage.InputTokens).
			Int("output_tokens", reply.Usage.OutputTokens)
	}
	event.Msg("Chat completed")

	return &ChatResult{
		SessionID:     final.ID,
		Reply:         reply.Text,
		Model:         reply.Model,
		History:       final.History,
		Route:         route,
		ScreenContext: screenContext,
	}, nil
}

// decodeAttachment returns the inline parts to send, or nil when the
// attachment is absent or unusable.
func (m *Mediator) decodeAttachment(logger zerolog.Logger, att *Attachment) []attachment.InlinePart {
	if att == nil || strings.TrimSpace(att.DataBase64) == "" {
		return nil
	}

	part, err := m.codec.Decode(att.DataBase64, att.MIMEType)
	if err != nil {
		reason := attachment.Reason(err)
		observability.RecordAttachmentDropped(reason)
		logger.Warn().
			Str("reason", reason).
			Err(err).
			Msg("Dropping attachment, continuing without visual context")
		return nil
	}

	return []attachment.InlinePart{part}
}

func classifySessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrOwnershipViolation):
		return fmt.Errorf("%w: %w", ErrPermission, err)
	case errors.Is(err, session.ErrInvalidSessionID), errors.Is(err, session.ErrInvalidOwner):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	default:
		return fmt.Errorf("failed to update session: %w", err)
	}
}

func chatStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "error"
	}
}
