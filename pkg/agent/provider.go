package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/companion/pkg/attachment"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var (
	// ErrUnsupportedProvider is returned for provider names without an adapter
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingAPIKey is returned when a provider has no configured credentials
	ErrMissingAPIKey = errors.New("missing api key")
)

// LLMProvider is an interface for generative model APIs
type LLMProvider interface {
	// Generate performs a single non-streaming generation
	Generate(ctx context.Context, request GenerateRequest) (*GenerateResponse, error)

	// Provider returns the provider name
	Provider() string
}

// GenerateRequest contains the parameters for one attempt
type GenerateRequest struct {
	Model      string
	Prompt     string
	Parts      []attachment.InlinePart
	Generation GenerationConfig
	Safety     SafetyPolicy
}

// GenerateResponse contains the response from the model
type GenerateResponse struct {
	Text  string
	Usage *TokenUsage
}

// ProviderCreator creates LLM providers by name
type ProviderCreator interface {
	NewProvider(provider string) (LLMProvider, error)
}

// ProviderFactory creates LLM providers from configured credentials
type ProviderFactory struct {
	APIKeys  map[string]string
	BaseURLs map[string]string
}

// NewProvider creates a new LLM provider for the named backend
func (f *ProviderFactory) NewProvider(provider string) (LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	apiKey := f.APIKeys[name]
	baseURL := f.BaseURLs[name]

	switch name {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingAPIKey, name)
	}

	switch name {
	case ProviderGemini:
		return NewGeminiProvider(apiKey, baseURL), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey, baseURL), nil
	default:
		return NewAnthropicProvider(apiKey, baseURL), nil
	}
}
