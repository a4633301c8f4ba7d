package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/companion/pkg/agent"
	"github.com/harun/companion/pkg/attachment"
	"github.com/harun/companion/pkg/conversation"
	"github.com/harun/companion/pkg/prompt"
	"github.com/harun/companion/pkg/session"
)

// Config represents the main Companion configuration
type Config struct {
	// Sessions
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Attachments
	Attachments AttachmentsConfig `json:"attachments" mapstructure:"attachments"`

	// Models
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Provider credentials keyed by provider name
	Providers map[string]ProviderConfig `json:"providers" mapstructure:"providers"`

	// Prompt
	Prompt PromptConfig `json:"prompt" mapstructure:"prompt"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// SessionsConfig holds session registry settings
type SessionsConfig struct {
	TTL           time.Duration `json:"ttl" mapstructure:"ttl"`
	MaxHistory    int           `json:"max_history" mapstructure:"max_history"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// AttachmentsConfig holds inline attachment limits
type AttachmentsConfig struct {
	MaxBytes    int    `json:"max_bytes" mapstructure:"max_bytes"`
	DefaultMIME string `json:"default_mime" mapstructure:"default_mime"`
}

// ModelsConfig holds the fallback chain
type ModelsConfig struct {
	Variants      []agent.Variant        `json:"variants" mapstructure:"variants"`
	InvokeTimeout time.Duration          `json:"invoke_timeout" mapstructure:"invoke_timeout"`
	Generation    agent.GenerationConfig `json:"generation" mapstructure:"generation"`
}

// ProviderConfig holds credentials for one backend
type ProviderConfig struct {
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url,omitempty" mapstructure:"base_url"`
}

// PromptConfig holds prompt composition settings
type PromptConfig struct {
	AssistantName string `json:"assistant_name" mapstructure:"assistant_name"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Console   bool   `json:"console" mapstructure:"console"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled"`
	Port           int      `json:"port" mapstructure:"port"`
	Host           string   `json:"host" mapstructure:"host"`
	SharedSecret   string   `json:"shared_secret" mapstructure:"shared_secret"`
	MaxBodyBytes   int64    `json:"max_body_bytes" mapstructure:"max_body_bytes"`
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Sessions: SessionsConfig{
			TTL:           session.DefaultTTL,
			MaxHistory:    conversation.DefaultMaxTurns,
			SweepInterval: session.DefaultSweepInterval,
		},
		Attachments: AttachmentsConfig{
			MaxBytes:    attachment.DefaultMaxBytes,
			DefaultMIME: attachment.DefaultMIMEType,
		},
		Models: ModelsConfig{
			Variants:      agent.DefaultVariants(),
			InvokeTimeout: 60 * time.Second,
			Generation:    agent.DefaultGenerationConfig(),
		},
		Providers: map[string]ProviderConfig{},
		Prompt: PromptConfig{
			AssistantName: prompt.DefaultAssistantName,
		},
		Gateway: GatewayConfig{
			Enabled:      true,
			Port:         8080,
			Host:         "0.0.0.0",
			SharedSecret: "",
			MaxBodyBytes: 4 << 20,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
			Console:   true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "companion",
			SampleRatio: 1.0,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		if p.APIKey != "" {
			p.APIKey = "***"
		}
		masked.Providers[name] = p
	}
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// APIKeys returns the configured key per lowercased provider name
func (c *Config) APIKeys() map[string]string {
	keys := make(map[string]string, len(c.Providers))
	for name, p := range c.Providers {
		if p.APIKey != "" {
			keys[strings.ToLower(name)] = p.APIKey
		}
	}
	return keys
}

// BaseURLs returns the configured endpoint override per provider name
func (c *Config) BaseURLs() map[string]string {
	urls := make(map[string]string, len(c.Providers))
	for name, p := range c.Providers {
		if p.BaseURL != "" {
			urls[strings.ToLower(name)] = p.BaseURL
		}
	}
	return urls
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive")
	}
	if c.Sessions.MaxHistory <= 0 {
		return fmt.Errorf("sessions.max_history must be positive")
	}
	if c.Sessions.SweepInterval < 0 {
		return fmt.Errorf("sessions.sweep_interval must be >= 0")
	}

	if c.Attachments.MaxBytes <= 0 {
		return fmt.Errorf("attachments.max_bytes must be positive")
	}

	if len(c.Models.Variants) == 0 {
		return fmt.Errorf("at least one model variant must be configured")
	}
	if c.Models.InvokeTimeout < 0 {
		return fmt.Errorf("models.invoke_timeout must be >= 0")
	}

	// Every provider named by a variant needs credentials
	keys := c.APIKeys()
	for i, variant := range c.Models.Variants {
		if err := variant.Validate(); err != nil {
			return fmt.Errorf("model variant %d: %w", i, err)
		}
		if keys[strings.ToLower(variant.Provider)] == "" {
			return fmt.Errorf("model variant %s: no api_key configured for provider %s", variant.ID, variant.Provider)
		}
	}

	if c.Gateway.Enabled {
		if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
			return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
		}
		if c.Gateway.SharedSecret == "" {
			return fmt.Errorf("gateway shared secret is required when the gateway is enabled")
		}
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	return nil
}
