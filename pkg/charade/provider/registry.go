// Package provider – registry.go owns the keyed client pool. One client is
// created per distinct credential/endpoint pair, lives for the process,
// and is never evicted.
package provider

import (
	"log/slog"
	"sync"

	"github.com/jholhewres/charade/pkg/charade/persona"
)

// Credentials pairs an API root with a credential.
type Credentials struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// familyDefaults maps backend families to their conventional API roots.
var familyDefaults = map[persona.BackendFamily]string{
	persona.FamilyChat:       "https://api.openai.com/v1",
	persona.FamilyCompletion: "https://api.openai.com/v1",
	persona.FamilyAnthropic:  "https://api.anthropic.com/v1",
}

// Registry hands out clients keyed by credential+endpoint.
type Registry struct {
	defaults map[persona.BackendFamily]Credentials
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates a registry with per-family default credentials.
func NewRegistry(defaults map[persona.BackendFamily]Credentials, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults == nil {
		defaults = map[persona.BackendFamily]Credentials{}
	}
	return &Registry{
		defaults: defaults,
		logger:   logger,
		clients:  make(map[string]*Client),
	}
}

// Acquire returns the client for a credential/endpoint pair, creating it on
// first use.
func (r *Registry) Acquire(baseURL, apiKey string) *Client {
	key := apiKey + "\x00" + baseURL

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c
	}
	c := NewClient(baseURL, apiKey, r.logger)
	r.clients[key] = c
	r.logger.Debug("provider client created", "base_url", baseURL)
	return c
}

// resolve returns the endpoint and credential for a family, applying
// per-persona overrides over family defaults.
func (r *Registry) resolve(family persona.BackendFamily, endpointURL, apiKey string) (string, string) {
	def := r.defaults[family]
	baseURL := def.BaseURL
	if baseURL == "" {
		baseURL = familyDefaults[family]
	}
	if endpointURL != "" {
		baseURL = endpointURL
	}
	key := def.APIKey
	if apiKey != "" {
		key = apiKey
	}
	return baseURL, key
}

// ForPersona returns the client serving a persona's backend family,
// honoring the persona's endpoint/credential overrides.
func (r *Registry) ForPersona(p *persona.Persona) *Client {
	baseURL, key := r.resolve(p.Family, p.EndpointURL, p.APIKey)
	return r.Acquire(baseURL, key)
}

// ForFamily returns the client for a family's default credentials.
func (r *Registry) ForFamily(family persona.BackendFamily) *Client {
	baseURL, key := r.resolve(family, "", "")
	return r.Acquire(baseURL, key)
}
