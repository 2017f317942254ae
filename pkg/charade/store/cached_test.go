package store

import (
	"context"
	"testing"
	"time"

	"github.com/jholhewres/charade/pkg/charade/persona"
)

func TestCachedPersonasByChannel(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.CreatePersona(ctx, &persona.Persona{ChannelID: "chan", Name: "alpha"}); err != nil {
		t.Fatalf("create persona: %v", err)
	}

	cached := NewCached(st, time.Hour)
	first, err := cached.PersonasByChannel(ctx, "chan")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("personas = %d, want 1", len(first))
	}

	// A write behind the cache is invisible until Refresh.
	if _, err := st.CreatePersona(ctx, &persona.Persona{ChannelID: "chan", Name: "beta"}); err != nil {
		t.Fatalf("create persona: %v", err)
	}
	stale, err := cached.PersonasByChannel(ctx, "chan")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(stale) != 1 {
		t.Errorf("cache missed: %d personas", len(stale))
	}

	if err := cached.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	fresh, err := cached.PersonasByChannel(ctx, "chan")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(fresh) != 2 {
		t.Errorf("refresh did not drop cache: %d personas", len(fresh))
	}
}
