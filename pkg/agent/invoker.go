package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/companion/internal/observability"
	"github.com/harun/companion/internal/tracing"
	"github.com/harun/companion/pkg/attachment"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrEmptyResponse is returned when a model answers with blank text
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrAllModelsFailed matches every terminal InvocationError
	ErrAllModelsFailed = errors.New("all model candidates failed")

	// ErrNoCandidates is the last error when the ordering yields nothing to try
	ErrNoCandidates = errors.New("no model candidates available")
)

// InvocationError is returned once every candidate has failed or the
// context ended before a candidate succeeded.
type InvocationError struct {
	Attempts int
	Last     error
}

func (e *InvocationError) Error() string {
	if e.Last == nil {
		return ErrAllModelsFailed.Error()
	}
	return fmt.Sprintf("%s after %d attempts: %v", ErrAllModelsFailed, e.Attempts, e.Last)
}

// Is reports whether target is ErrAllModelsFailed
func (e *InvocationError) Is(target error) bool {
	return target == ErrAllModelsFailed
}

func (e *InvocationError) Unwrap() error {
	return e.Last
}

// InvokerConfig holds invoker configuration
type InvokerConfig struct {
	Variants   []Variant
	Providers  ProviderCreator
	Generation GenerationConfig
	Safety     SafetyPolicy

	// Timeout bounds the whole fallback sequence. Zero leaves the caller's
	// context as the only deadline.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Invoker runs a prompt through the ordered model fallback chain
type Invoker struct {
	variants   []Variant
	creator    ProviderCreator
	generation GenerationConfig
	safety     SafetyPolicy
	timeout    time.Duration
	logger     zerolog.Logger

	mu        sync.Mutex
	providers map[string]LLMProvider
}

// NewInvoker creates a new invoker.
// A zero Generation or empty Safety falls back to the defaults.
func NewInvoker(cfg InvokerConfig) (*Invoker, error) {
	observability.EnsureRegistered()

	if len(cfg.Variants) == 0 {
		return nil, fmt.Errorf("at least one model variant is required")
	}
	for _, v := range cfg.Variants {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider creator is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("invoke timeout cannot be negative")
	}

	generation := cfg.Generation
	if generation == (GenerationConfig{}) {
		generation = DefaultGenerationConfig()
	}
	safety := cfg.Safety
	if len(safety.Rules) == 0 {
		safety = DefaultSafetyPolicy()
	}

	variants := make([]Variant, len(cfg.Variants))
	copy(variants, cfg.Variants)

	return &Invoker{
		variants:   variants,
		creator:    cfg.Providers,
		generation: generation,
		safety:     safety,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		providers:  make(map[string]LLMProvider),
	}, nil
}

// Candidates returns the order Invoke would try for the given input
func (i *Invoker) Candidates(hasAttachment bool) []Variant {
	return CandidateOrder(i.variants, hasAttachment)
}

// Invoke tries each candidate in order and returns the first non-empty reply.
// Parts are only forwarded to vision candidates.
func (i *Invoker) Invoke(ctx context.Context, prompt string, parts []attachment.InlinePart) (Reply, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	candidates := i.Candidates(len(parts) > 0)
	logger := tracing.LoggerFromContext(ctx, i.logger)

	var lastErr error
	attempts := 0

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			lastErr = err
			logger.Warn().
				Str("model", candidate.ID).
				Err(err).
				Msg("Stopping model fallback, context done")
			break
		}

		attempts++
		reply, err := i.attempt(ctx, candidate, prompt, parts)
		if err == nil {
			if attempts > 1 {
				logger.Info().
					Str("model", reply.Model).
					Int("attempts", attempts).
					Msg("Model fallback succeeded")
			}
			return reply, nil
		}

		lastErr = err
		logger.Warn().
			Str("model", candidate.ID).
			Str("provider", candidate.Provider).
			Str("capability", string(candidate.Capability)).
			Err(err).
			Msg("Model candidate failed")
	}

	if lastErr == nil {
		lastErr = ErrNoCandidates
	}

	observability.RecordFallbackExhausted()
	logger.Error().
		Int("attempts", attempts).
		Err(lastErr).
		Msg("All model candidates failed")

	return Reply{}, &InvocationError{Attempts: attempts, Last: lastErr}
}

func (i *Invoker) attempt(ctx context.Context, candidate Variant, prompt string, parts []attachment.InlinePart) (Reply, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"companion.agent",
		"agent.attempt",
		attribute.String("model", candidate.ID),
		attribute.String("provider", candidate.Provider),
		attribute.String("capability", string(candidate.Capability)),
	)
	defer span.End()

	start := time.Now()
	text, usage, err := i.generate(ctx, candidate, prompt, parts)
	observability.RecordModelAttempt(candidate.ID, time.Since(start), err == nil)

	if err != nil {
		tracing.FailSpan(span, err)
		return Reply{}, err
	}

	span.SetAttributes(attribute.Int("reply_length", len(text)))
	if usage != nil {
		observability.RecordTokenUsage(candidate.ID, usage.InputTokens, usage.OutputTokens)
		span.SetAttributes(
			attribute.Int("input_tokens", usage.InputTokens),
			attribute.Int("output_tokens", usage.OutputTokens),
		)
	}
	return Reply{Text: text, Model: candidate.ID, Usage: usage}, nil
}

func (i *Invoker) generate(ctx context.Context, candidate Variant, prompt string, parts []attachment.InlinePart) (string, *TokenUsage, error) {
	provider, err := i.provider(candidate.Provider)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create provider: %w", err)
	}

	request := GenerateRequest{
		Model:      candidate.ID,
		Prompt:     prompt,
		Generation: i.generation,
		Safety:     i.safety,
	}
	if candidate.Capability == CapabilityVision {
		request.Parts = parts
	}

	response, err := provider.Generate(ctx, request)
	if err != nil {
		return "", nil, err
	}
	if response == nil {
		return "", nil, ErrEmptyResponse
	}

	text := strings.TrimSpace(response.Text)
	if text == "" {
		return "", nil, ErrEmptyResponse
	}
	return text, response.Usage, nil
}

// provider returns the memoized handle for name. Failed constructions are
// not cached so a later call can retry.
func (i *Invoker) provider(name string) (LLMProvider, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if p, ok := i.providers[name]; ok {
		return p, nil
	}

	p, err := i.creator.NewProvider(name)
	if err != nil {
		return nil, err
	}
	i.providers[name] = p
	return p, nil
}
