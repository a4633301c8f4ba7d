package daemon

import (
	"fmt"

	"github.com/harun/companion/internal/config"
	"github.com/harun/companion/pkg/agent"
	"github.com/harun/companion/pkg/attachment"
	"github.com/harun/companion/pkg/mediator"
	"github.com/harun/companion/pkg/prompt"
	"github.com/harun/companion/pkg/session"
	"github.com/rs/zerolog"
)

// Core is the chat pipeline without any transport in front of it
type Core struct {
	Registry *session.Registry
	Invoker  *agent.Invoker
	Mediator *mediator.Mediator
}

// newProviderCreator is replaced in tests to avoid real backends
var newProviderCreator = func(cfg *config.Config) agent.ProviderCreator {
	return &agent.ProviderFactory{
		APIKeys:  cfg.APIKeys(),
		BaseURLs: cfg.BaseURLs(),
	}
}

// NewCore wires registry, codec, composer and invoker into a mediator
func NewCore(cfg *config.Config, log zerolog.Logger) (*Core, error) {
	registry := session.NewRegistry(session.Options{
		TTL:        cfg.Sessions.TTL,
		MaxHistory: cfg.Sessions.MaxHistory,
		Logger:     log.With().Str("component", "session").Logger(),
	})

	invoker, err := agent.NewInvoker(agent.InvokerConfig{
		Variants:   cfg.Models.Variants,
		Providers:  newProviderCreator(cfg),
		Generation: cfg.Models.Generation,
		Safety:     agent.DefaultSafetyPolicy(),
		Timeout:    cfg.Models.InvokeTimeout,
		Logger:     log.With().Str("component", "agent").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model invoker: %w", err)
	}

	m, err := mediator.New(mediator.Config{
		Registry: registry,
		Invoker:  invoker,
		Codec:    attachment.NewCodec(cfg.Attachments.MaxBytes, cfg.Attachments.DefaultMIME),
		Composer: prompt.NewComposer(cfg.Sessions.MaxHistory, cfg.Prompt.AssistantName),
		Logger:   log.With().Str("component", "mediator").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mediator: %w", err)
	}

	return &Core{
		Registry: registry,
		Invoker:  invoker,
		Mediator: m,
	}, nil
}
