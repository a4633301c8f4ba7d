package config

import (
	"fmt"
	"strings"

	"github.com/harun/companion/pkg/agent"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case agent.ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case agent.ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case agent.ProviderGemini:
		if strings.ContainsAny(key, " \t\n") {
			return fmt.Errorf("invalid Gemini API key format (must not contain whitespace)")
		}
	}

	return nil
}

// ValidateProvider validates a provider name
func (v *Validator) ValidateProvider(provider string) error {
	validProviders := []string{agent.ProviderGemini, agent.ProviderOpenAI, agent.ProviderAnthropic}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max output tokens
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 65536 {
		return fmt.Errorf("max tokens too large (max 65536), got %d", tokens)
	}
	return nil
}

// ValidateTopP validates nucleus sampling mass
func (v *Validator) ValidateTopP(topP float64) error {
	if topP <= 0 || topP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %f", topP)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSharedSecret requires a gateway secret long enough to resist guessing
func (v *Validator) ValidateSharedSecret(secret string) error {
	if len(secret) < 16 {
		return fmt.Errorf("gateway shared secret must be at least 16 characters")
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for name, p := range cfg.Providers {
		if err := v.ValidateProvider(name); err != nil {
			errors = append(errors, err)
			continue
		}
		if p.APIKey != "" {
			if err := v.ValidateAPIKey(p.APIKey, name); err != nil {
				errors = append(errors, fmt.Errorf("provider %s: %w", name, err))
			}
		}
	}

	seen := make(map[string]bool, len(cfg.Models.Variants))
	for i, variant := range cfg.Models.Variants {
		if err := variant.Validate(); err != nil {
			errors = append(errors, fmt.Errorf("model variant %d: %w", i, err))
			continue
		}
		if err := v.ValidateProvider(variant.Provider); err != nil {
			errors = append(errors, fmt.Errorf("model variant %s: %w", variant.ID, err))
		}
		key := string(variant.Capability) + "/" + variant.ID
		if seen[key] {
			errors = append(errors, fmt.Errorf("model variant %s is listed twice for %s", variant.ID, variant.Capability))
		}
		seen[key] = true
	}

	gen := cfg.Models.Generation
	if err := v.ValidateTemperature(gen.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxTokens(gen.MaxOutputTokens); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTopP(gen.TopP); err != nil {
		errors = append(errors, err)
	}
	if gen.TopK < 0 {
		errors = append(errors, fmt.Errorf("top_k must be >= 0"))
	}

	if cfg.Gateway.Enabled && cfg.Gateway.SharedSecret != "" {
		if err := v.ValidateSharedSecret(cfg.Gateway.SharedSecret); err != nil {
			errors = append(errors, err)
		}
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
