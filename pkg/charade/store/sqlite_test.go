package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jholhewres/charade/pkg/charade/persona"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPersonaRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created, err := s.CreatePersona(ctx, &persona.Persona{
		ChannelID:      "chan-1",
		Name:           "Oracle",
		Prompt:         "You are the oracle.",
		Style:          persona.StyleShort,
		Family:         persona.FamilyChat,
		Model:          "gpt-4o-mini",
		Chance:         0.25,
		Limit:          7,
		CanPingUsers:   true,
		MessagePerUser: true,
		PerSpeaker: []persona.SpeakerBehavior{
			{SpeakerID: "u1", Prompt: "Be terse with this user.", Chance: 0.5},
		},
	})
	if err != nil {
		t.Fatalf("create persona: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected assigned ID")
	}

	t.Run("returned by channel", func(t *testing.T) {
		list, err := s.PersonasByChannel(ctx, "chan-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 persona, got %d", len(list))
		}
		got := list[0]
		if got.Name != "Oracle" || got.Family != persona.FamilyChat || got.Chance != 0.25 {
			t.Errorf("round-trip mismatch: %+v", got)
		}
		if len(got.PerSpeaker) != 1 || got.PerSpeaker[0].SpeakerID != "u1" {
			t.Errorf("per-speaker behavior lost: %+v", got.PerSpeaker)
		}
		if !got.CanPingUsers || !got.MessagePerUser {
			t.Error("boolean flags lost in round trip")
		}
	})

	t.Run("not returned for other channels", func(t *testing.T) {
		list, err := s.PersonasByChannel(ctx, "chan-2")
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 0 {
			t.Errorf("expected no personas, got %d", len(list))
		}
	})

	t.Run("lookup by name", func(t *testing.T) {
		got, err := s.PersonaByName(ctx, "Oracle")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != created.ID {
			t.Errorf("expected ID %q, got %q", created.ID, got.ID)
		}
		if _, err := s.PersonaByName(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPersonaOrderPreserved(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, name := range []string{"first", "second", "third"} {
		if _, err := s.CreatePersona(ctx, &persona.Persona{ChannelID: "c", Name: name}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.PersonasByChannel(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	for i, p := range list {
		if p.Name != want[i] {
			t.Errorf("position %d: got %q, want %q", i, p.Name, want[i])
		}
	}
}

func TestToolRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created, err := s.CreateTool(ctx, &persona.ToolSpec{
		Name:        "mood",
		Description: "Pick the reply mood",
		Template:    "Mood: {{mood}}",
		Params: []persona.ToolParam{
			{Name: "mood", Type: persona.ParamString, Required: true, AllowedValues: []string{"calm", "angry"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.ToolByID(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Template != "Mood: {{mood}}" || len(got.Params) != 1 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.Params[0].AllowedValues[1] != "angry" {
		t.Errorf("allowed values lost: %+v", got.Params[0])
	}

	if _, err := s.ToolByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBindingLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.BindingByChannel(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before create, got %v", err)
	}

	b, err := s.CreateBinding(ctx, "c1", "wh-1")
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.BindingByChannel(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.WebhookID != "wh-1" {
		t.Errorf("webhook = %q, want wh-1", got.WebhookID)
	}

	if err := s.UpdateBindingWebhook(ctx, b.ID, "wh-2"); err != nil {
		t.Fatal(err)
	}
	got, err = s.BindingByChannel(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.WebhookID != "wh-2" {
		t.Errorf("webhook after update = %q, want wh-2", got.WebhookID)
	}
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	prefs := []*persona.UserPreference{
		{UserID: "u1", Username: "alice", Visibility: persona.SeeNone},
		{UserID: "u2", Username: "bob", Visibility: persona.SeeMentions, PreventPings: true},
		{UserID: "u3", Username: "carol", Visibility: persona.SeeAll},
	}
	for _, p := range prefs {
		if err := s.SetPreference(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("by user id", func(t *testing.T) {
		got, err := s.PreferenceByUserID(ctx, "u2")
		if err != nil {
			t.Fatal(err)
		}
		if got.Visibility != persona.SeeMentions || !got.PreventPings {
			t.Errorf("preference mismatch: %+v", got)
		}
	})

	t.Run("by visibility", func(t *testing.T) {
		ids, err := s.UserIDsByVisibility(ctx, persona.SeeNone)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 1 || ids[0] != "u1" {
			t.Errorf("ids = %v, want [u1]", ids)
		}
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		if err := s.SetPreference(ctx, &persona.UserPreference{
			UserID: "u1", Username: "alice", Visibility: persona.SeeAll,
		}); err != nil {
			t.Fatal(err)
		}
		got, err := s.PreferenceByUserID(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Visibility != persona.SeeAll {
			t.Errorf("visibility = %q after upsert, want all", got.Visibility)
		}
	})
}
