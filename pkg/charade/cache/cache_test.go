package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTTLGetSet(t *testing.T) {
	c := New[string](time.Hour)

	t.Run("miss on empty cache", func(t *testing.T) {
		if _, ok := c.Get("a"); ok {
			t.Error("expected miss")
		}
	})

	t.Run("hit after set", func(t *testing.T) {
		c.Set("a", "value")
		v, ok := c.Get("a")
		if !ok || v != "value" {
			t.Errorf("expected hit with %q, got %q ok=%v", "value", v, ok)
		}
	})
}

func TestTTLExpiry(t *testing.T) {
	c := New[string](time.Hour)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("a", "value")

	t.Run("unexpired within ttl", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(59 * time.Minute) }
		if _, ok := c.Get("a"); !ok {
			t.Error("expected hit before expiry")
		}
	})

	t.Run("expired after ttl", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(61 * time.Minute) }
		if _, ok := c.Get("a"); ok {
			t.Error("expected miss after expiry")
		}
	})
}

func TestTTLGetOrFill(t *testing.T) {
	ctx := context.Background()
	c := New[string](time.Hour)

	calls := 0
	fill := func(context.Context) (string, error) {
		calls++
		return "filled", nil
	}

	t.Run("fills on miss", func(t *testing.T) {
		v, err := c.GetOrFill(ctx, "k", fill)
		if err != nil || v != "filled" {
			t.Fatalf("GetOrFill = %q, %v", v, err)
		}
		if calls != 1 {
			t.Errorf("expected 1 fill call, got %d", calls)
		}
	})

	t.Run("memoizes on second call", func(t *testing.T) {
		if _, err := c.GetOrFill(ctx, "k", fill); err != nil {
			t.Fatal(err)
		}
		if calls != 1 {
			t.Errorf("expected fill not to run again, got %d calls", calls)
		}
	})

	t.Run("errors are not cached", func(t *testing.T) {
		boom := errors.New("boom")
		if _, err := c.GetOrFill(ctx, "err", func(context.Context) (string, error) {
			return "", boom
		}); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if _, ok := c.Get("err"); ok {
			t.Error("error result must not be cached")
		}
	})
}

func TestTTLSweep(t *testing.T) {
	c := New[int](time.Hour)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("fresh", 1)
	c.now = func() time.Time { return base.Add(-2 * time.Hour) }
	c.Set("stale", 2) // expires an hour in the past
	c.now = func() time.Time { return base }

	if got := c.Sweep(); got != 1 {
		t.Errorf("Sweep dropped %d entries, want 1", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d after sweep, want 1", c.Len())
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry must survive sweep")
	}
}
