package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

// envVarPattern matches environment variable references in config values:
// ${VAR}, ${VAR:-default}, ${VAR:?error}, and bare $VAR.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Load reads a YAML configuration file. .env files are loaded first
// (without overriding the real environment), environment references are
// expanded, then keyring-backed secrets fill any gaps.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	return cfg, nil
}

// FindFile searches the standard config file locations.
func FindFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"charade.yaml",
		"charade.yml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files from standard locations. godotenv does
// not overwrite variables already set in the environment.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces environment references. An unset ${VAR} keeps
// its placeholder; ${VAR:-default} falls back; ${VAR:?message} fails the
// load with that message.
func expandEnvVars(s string) (string, error) {
	var expandErr error
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[4]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		switch groups[2] {
		case "-":
			return groups[3]
		case "?":
			msg := groups[3]
			if msg == "" {
				msg = "required variable " + name + " is not set"
			}
			if expandErr == nil {
				expandErr = fmt.Errorf("%s", msg)
			}
			return match
		}
		return match
	})
	return out, expandErr
}

// resolveSecrets fills empty secret fields from the environment and the
// OS keyring, in that order.
func resolveSecrets(cfg *Config) {
	resolve := func(current *string, envVar, keyringKey string) {
		if *current != "" && !envVarPattern.MatchString(*current) {
			return
		}
		if val := os.Getenv(envVar); val != "" {
			*current = val
			return
		}
		if val := GetKeyring(keyringKey); val != "" {
			*current = val
		}
	}

	resolve(&cfg.Discord.Token, "DISCORD_TOKEN", KeyDiscordToken)
	resolve(&cfg.Providers.Chat.APIKey, "OPENAI_API_KEY", KeyOpenAI)
	resolve(&cfg.Providers.Completion.APIKey, "OPENAI_API_KEY", KeyOpenAI)
	resolve(&cfg.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY", KeyAnthropic)
	resolve(&cfg.Describer.Lookup.APIKey, "LOOKUP_API_KEY", KeyLookup)
}
