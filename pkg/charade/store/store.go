// Package store exposes typed queries over the four configuration record
// kinds: personas, tool specs, channel bindings, and user preferences.
// The dispatch core only reads; mutations happen through administrative
// flows (setup command, external tooling).
package store

import (
	"context"
	"errors"

	"github.com/jholhewres/charade/pkg/charade/persona"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store is the configuration store contract consumed by the dispatcher,
// compiler, and post-processor.
type Store interface {
	// PersonasByChannel returns the personas bound to a channel, in their
	// configured order.
	PersonasByChannel(ctx context.Context, channelID string) ([]*persona.Persona, error)

	// Personas returns every configured persona.
	Personas(ctx context.Context) ([]*persona.Persona, error)

	// PersonaByName returns a persona by display name (exact match).
	PersonaByName(ctx context.Context, name string) (*persona.Persona, error)

	// CreatePersona inserts a new persona record and returns it with its
	// assigned ID.
	CreatePersona(ctx context.Context, p *persona.Persona) (*persona.Persona, error)

	// ToolByID resolves a tool spec reference.
	ToolByID(ctx context.Context, id string) (*persona.ToolSpec, error)

	// CreateTool inserts a new tool spec.
	CreateTool(ctx context.Context, t *persona.ToolSpec) (*persona.ToolSpec, error)

	// BindingByChannel returns the webhook binding for a channel, or
	// ErrNotFound when the channel has never been replied into.
	BindingByChannel(ctx context.Context, channelID string) (*persona.ChannelBinding, error)

	// CreateBinding records a channel's webhook on first reply.
	CreateBinding(ctx context.Context, channelID, webhookID string) (*persona.ChannelBinding, error)

	// UpdateBindingWebhook repoints a binding at a fresh webhook after the
	// recorded one was deleted out from under us.
	UpdateBindingWebhook(ctx context.Context, id, webhookID string) error

	// PreferenceByUserID returns a user's visibility/ping preference, or
	// ErrNotFound when the user never configured one.
	PreferenceByUserID(ctx context.Context, userID string) (*persona.UserPreference, error)

	// UserIDsByVisibility returns the platform user IDs whose preference
	// matches the given visibility.
	UserIDsByVisibility(ctx context.Context, v persona.Visibility) ([]string, error)

	Close() error
}
