package store

import (
	"context"
	"time"

	"github.com/jholhewres/charade/pkg/charade/cache"
	"github.com/jholhewres/charade/pkg/charade/persona"
)

// Cached wraps a Store with a short-lived per-channel persona cache so
// the dispatcher does not hit the database on every inbound message.
// Everything else passes through. The maintenance scheduler calls
// Refresh to pick up configuration changes early; otherwise entries
// simply expire.
type Cached struct {
	Store
	personas *cache.TTL[[]*persona.Persona]
}

// NewCached wraps st. A non-positive ttl defaults to five minutes.
func NewCached(st Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{Store: st, personas: cache.New[[]*persona.Persona](ttl)}
}

// PersonasByChannel serves from the cache, filling on miss.
func (c *Cached) PersonasByChannel(ctx context.Context, channelID string) ([]*persona.Persona, error) {
	return c.personas.GetOrFill(ctx, channelID, func(ctx context.Context) ([]*persona.Persona, error) {
		return c.Store.PersonasByChannel(ctx, channelID)
	})
}

// Refresh drops the cached channel views so the next dispatch reads
// fresh configuration.
func (c *Cached) Refresh(ctx context.Context) error {
	c.personas.Reset()
	return nil
}

var _ Store = (*Cached)(nil)
