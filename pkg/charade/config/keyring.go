// Package config – keyring.go stores secrets in the operating system's
// native keyring (Linux: Secret Service, macOS: Keychain, Windows:
// Credential Manager). Resolution order for a secret: environment
// variable, then keyring, then the config file value.
package config

import "github.com/zalando/go-keyring"

// keyringService is the service name used in the OS keyring.
const keyringService = "charade"

// Keyring key names accepted by `charade config set-key`.
const (
	KeyDiscordToken = "discord_token"
	KeyOpenAI       = "openai_api_key"
	KeyAnthropic    = "anthropic_api_key"
	KeyLookup       = "lookup_api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" if absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}
