// Package config loads the daemon configuration from YAML, with .env
// loading, environment variable expansion, and OS-keyring secret
// resolution.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/provider"
)

// Config is the full daemon configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Discord   DiscordConfig   `yaml:"discord"`
	Store     StoreConfig     `yaml:"store"`
	Providers ProvidersConfig `yaml:"providers"`
	Describer provider.DescriberConfig `yaml:"describer"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DiscordConfig configures the transport.
type DiscordConfig struct {
	Token string `yaml:"token"`
	// AllowedGuilds restricts which guilds are served. Empty allows all.
	AllowedGuilds []string `yaml:"allowed_guilds"`
}

// StoreConfig locates the SQLite configuration store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ProvidersConfig holds per-family default credentials.
type ProvidersConfig struct {
	Chat       provider.Credentials `yaml:"chat"`
	Completion provider.Credentials `yaml:"completion"`
	Anthropic  provider.Credentials `yaml:"anthropic"`
}

// SchedulerConfig controls the maintenance jobs.
type SchedulerConfig struct {
	// SweepSpec is the cron spec for the description cache sweep.
	SweepSpec string `yaml:"sweep_spec"`
	// RefreshSpec is the cron spec for the persona cache refresh.
	RefreshSpec string `yaml:"refresh_spec"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Store:   StoreConfig{Path: "charade.db"},
		Describer: provider.DescriberConfig{
			Model:       "gpt-4o-mini",
			LookupModel: "gpt-4o-mini",
		},
		Scheduler: SchedulerConfig{
			SweepSpec:   "@every 30m",
			RefreshSpec: "@every 5m",
		},
	}
}

// FamilyCredentials maps the per-family sections into registry defaults.
func (c *Config) FamilyCredentials() map[persona.BackendFamily]provider.Credentials {
	out := map[persona.BackendFamily]provider.Credentials{}
	if c.Providers.Chat != (provider.Credentials{}) {
		out[persona.FamilyChat] = c.Providers.Chat
	}
	if c.Providers.Completion != (provider.Credentials{}) {
		out[persona.FamilyCompletion] = c.Providers.Completion
	}
	if c.Providers.Anthropic != (provider.Credentials{}) {
		out[persona.FamilyAnthropic] = c.Providers.Anthropic
	}
	return out
}

// LogLevel maps the configured level name onto a slog.Level.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the root logger from the logging section.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}
	var handler slog.Handler
	if strings.EqualFold(c.Logging.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Validate reports configuration errors that would only surface later as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required (set DISCORD_TOKEN or store it with 'charade config set-key discord')")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}

// Parse parses YAML bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}
