package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/companion/pkg/agent"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. COMPANION_GATEWAY_PORT
const EnvPrefix = "COMPANION"

// envKeys are the settings that can be overridden from the environment
var envKeys = []string{
	"sessions.ttl",
	"sessions.max_history",
	"sessions.sweep_interval",
	"attachments.max_bytes",
	"models.invoke_timeout",
	"prompt.assistant_name",
	"gateway.enabled",
	"gateway.host",
	"gateway.port",
	"gateway.shared_secret",
	"logging.level",
	"logging.file",
	"logging.console",
	"tracing.enabled",
	"tracing.sample_ratio",
	"data_dir",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file if present, then applies environment overrides
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	for _, provider := range []string{agent.ProviderGemini, agent.ProviderOpenAI, agent.ProviderAnthropic} {
		if err := v.BindEnv("providers." + provider + ".api_key"); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", provider, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	// a configured chain replaces the default one entirely
	if v.IsSet("models.variants") {
		cfg.Models.Variants = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".companion")
	}

	// Set logging file path if not specified
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "companion.log")
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("sessions", map[string]interface{}{
		"ttl":            cfg.Sessions.TTL.String(),
		"max_history":    cfg.Sessions.MaxHistory,
		"sweep_interval": cfg.Sessions.SweepInterval.String(),
	})
	v.Set("attachments", cfg.Attachments)
	v.Set("models", map[string]interface{}{
		"variants":       cfg.Models.Variants,
		"invoke_timeout": cfg.Models.InvokeTimeout.String(),
		"generation":     cfg.Models.Generation,
	})
	v.Set("providers", cfg.Providers)
	v.Set("prompt", cfg.Prompt)
	v.Set("gateway", cfg.Gateway)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	// the file carries provider keys and the gateway secret
	if err := os.Chmod(configPath, 0600); err != nil {
		return fmt.Errorf("failed to restrict config file permissions: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".companion", "companion.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
