package config

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/harun/companion/pkg/agent"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== Companion Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	// API Keys
	fmt.Fprintln(w.out, "API Keys (at least one is required):")
	fmt.Fprintln(w.out)

	providers := []struct {
		name  string
		label string
	}{
		{agent.ProviderGemini, "Gemini"},
		{agent.ProviderOpenAI, "OpenAI"},
		{agent.ProviderAnthropic, "Anthropic"},
	}

	for _, p := range providers {
		for {
			fmt.Fprintf(w.out, "%s API Key (press Enter to skip): ", p.label)
			key, err := w.readLine()
			if err != nil {
				return nil, err
			}

			if key == "" {
				break
			}

			if err := validator.ValidateAPIKey(key, p.name); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}

			cfg.Providers[p.name] = ProviderConfig{APIKey: key}
			break
		}
	}

	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one API key is required")
	}

	// The default chain runs on gemini; point it at whatever was configured
	if _, ok := cfg.Providers[agent.ProviderGemini]; !ok {
		cfg.Models.Variants = fallbackVariants(cfg.Providers)
	}

	fmt.Fprintln(w.out)

	// Gateway
	fmt.Fprintln(w.out, "Gateway:")
	fmt.Fprint(w.out, "Shared secret (press Enter to generate one): ")
	secret, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if secret == "" {
		secret, err = generateSecret()
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(w.out, "Generated shared secret: %s\n", secret)
	} else if err := validator.ValidateSharedSecret(secret); err != nil {
		return nil, err
	}
	cfg.Gateway.SharedSecret = secret

	fmt.Fprintln(w.out)

	// Assistant name
	fmt.Fprintf(w.out, "Assistant name [%s]: ", cfg.Prompt.AssistantName)
	name, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if name != "" {
		cfg.Prompt.AssistantName = name
	}

	fmt.Fprintln(w.out)

	// Log Level
	fmt.Fprintln(w.out, "Logging:")
	fmt.Fprint(w.out, "Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// fallbackVariants builds a one-model chain per configured non-gemini provider
func fallbackVariants(providers map[string]ProviderConfig) []agent.Variant {
	models := []struct {
		provider string
		id       string
	}{
		{agent.ProviderOpenAI, "gpt-4o-mini"},
		{agent.ProviderAnthropic, "claude-3-5-haiku-latest"},
	}

	var variants []agent.Variant
	rank := 1
	for _, m := range models {
		if _, ok := providers[m.provider]; !ok {
			continue
		}
		variants = append(variants,
			agent.Variant{ID: m.id, Provider: m.provider, Capability: agent.CapabilityVision, Rank: rank},
			agent.Variant{ID: m.id, Provider: m.provider, Capability: agent.CapabilityText, Rank: rank},
		)
		rank++
	}
	return variants
}

func generateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate shared secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
