package postproc

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/provider"
	"github.com/jholhewres/charade/pkg/charade/store"
)

func testStore(t *testing.T) *store.SQLite {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

type resolverFunc func(ctx context.Context, userID string) (string, error)

func (f resolverFunc) ResolveDisplayName(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

func TestRedactPings(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.SetPreference(ctx, &persona.UserPreference{UserID: "111", Username: "alice", PreventPings: true, Visibility: persona.SeeAll}); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	if err := st.SetPreference(ctx, &persona.UserPreference{UserID: "222", Username: "bob", PreventPings: false, Visibility: persona.SeeAll}); err != nil {
		t.Fatalf("set preference: %v", err)
	}

	resolver := resolverFunc(func(ctx context.Context, userID string) (string, error) {
		return "Alice", nil
	})
	pr := New(st, resolver, nil, nil, nil)

	got := pr.RedactPings(ctx, "hi <@111> and <@!111>, also <@222> and <@333>")
	want := "hi @Alice and @Alice, also <@222> and <@333>"
	if got != want {
		t.Errorf("redacted = %q, want %q", got, want)
	}

	t.Run("idempotent", func(t *testing.T) {
		again := pr.RedactPings(ctx, got)
		if again != got {
			t.Errorf("second pass changed text: %q vs %q", again, got)
		}
	})
}

func TestChunkShortTextPassesThrough(t *testing.T) {
	got := Chunk("short", 2000)
	if len(got) != 1 || got[0] != "short" {
		t.Errorf("chunks = %q", got)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, strings.Repeat("x", 50))
	}
	text := strings.Join(lines, "\n")
	max := 300

	chunks := Chunk(text, max)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want a split", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > max {
			t.Errorf("chunk %d length %d exceeds %d", i, len(c), max)
		}
	}
	if joined := strings.Join(chunks, "\n"); joined != text {
		t.Errorf("round trip lost content")
	}
}

func TestChunkClosesAndReopensFence(t *testing.T) {
	var body []string
	for i := 0; i < 30; i++ {
		body = append(body, strings.Repeat("y", 40))
	}
	text := "intro\n```go\n" + strings.Join(body, "\n") + "\n```\noutro"
	max := 200

	chunks := Chunk(text, max)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want a split", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > max {
			t.Errorf("chunk %d length %d exceeds %d", i, len(c), max)
		}
		if strings.Count(c, "```")%2 != 0 {
			t.Errorf("chunk %d leaves a fence open:\n%s", i, c)
		}
	}
	// A mid-block boundary reopens with the language tag.
	reopened := false
	for _, c := range chunks[1:] {
		if strings.HasPrefix(c, "```go\n") {
			reopened = true
		}
	}
	if !reopened {
		t.Error("no chunk reopens the go fence")
	}

	// Stripping the synthetic close/reopen pairs reproduces the text.
	joined := strings.Join(chunks, "\n")
	joined = strings.ReplaceAll(joined, "\n```\n```go\n", "\n")
	if joined != text {
		t.Errorf("round trip with fence stripping lost content:\n%q\nvs\n%q", joined, text)
	}
}

func TestChunkHardSplitsOversizedLine(t *testing.T) {
	text := "a\n" + strings.Repeat("z", 500)
	max := 100
	for i, c := range Chunk(text, max) {
		if len(c) > max {
			t.Errorf("chunk %d length %d exceeds %d", i, len(c), max)
		}
	}
}

func TestChunkHardSplitKeepsRunesIntact(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 60)
	max := 100
	chunks := Chunk(text, max)
	if len(chunks) < 2 {
		t.Fatalf("expected a hard split, got %d chunks", len(chunks))
	}
	var joined strings.Builder
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
		if len(c) > max {
			t.Errorf("chunk %d length %d exceeds %d", i, len(c), max)
		}
		joined.WriteString(c)
	}
	if joined.String() != text {
		t.Error("hard split lost content")
	}
}

// classifierAdapter always reports one fixed classification outcome.
type classifierAdapter struct {
	outcome provider.Outcome
	request provider.Request
}

func (a *classifierAdapter) Execute(ctx context.Context, req provider.Request) (provider.Outcome, error) {
	a.request = req
	return a.outcome, nil
}

type singleSource struct{ adapter provider.Adapter }

func (s singleSource) ForPersona(p *persona.Persona) provider.Adapter { return s.adapter }

type fakeGenerator struct {
	prompt string
	calls  int
}

func (g *fakeGenerator) GenerateImage(ctx context.Context, prompt, size, model string) (string, error) {
	g.prompt = prompt
	g.calls++
	return "https://img/gen.png", nil
}

func (g *fakeGenerator) FetchBytes(ctx context.Context, url string) ([]byte, string, error) {
	return []byte{0x89, 0x50}, "image/png", nil
}

type fixedGenerators struct{ gen ImageGenerator }

func (f fixedGenerators) GeneratorFor(p *persona.Persona) ImageGenerator { return f.gen }

func TestProcessImageAugmentation(t *testing.T) {
	p := &persona.Persona{Name: "oracle", Model: "gpt-4o", CanPostImages: true, ImageModel: "dall-e-3", ImageSize: "512x512"}

	t.Run("relevant reply gains a file", func(t *testing.T) {
		adapter := &classifierAdapter{outcome: provider.Outcome{
			Invocation: &provider.ToolInvocation{
				Name: "generate_image",
				Args: map[string]any{"shouldGenerate": true, "prompt": "a tower struck by lightning"},
			},
		}}
		gen := &fakeGenerator{}
		pr := New(testStore(t), nil, singleSource{adapter}, fixedGenerators{gen}, nil)

		res, err := pr.Process(context.Background(), p, "draw my fate", "behold the tower", 2000)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(res.Files) != 1 || res.Files[0].ContentType != "image/png" {
			t.Fatalf("files = %+v", res.Files)
		}
		if gen.prompt != "a tower struck by lightning" {
			t.Errorf("generation prompt = %q", gen.prompt)
		}
		if adapter.request.ToolChoice.Forced != "generate_image" {
			t.Errorf("classifier not forced: %+v", adapter.request.ToolChoice)
		}
		if !strings.Contains(adapter.request.Turns[0].Text, "draw my fate") ||
			!strings.Contains(adapter.request.Turns[0].Text, "behold the tower") {
			t.Errorf("classifier input = %q", adapter.request.Turns[0].Text)
		}
	})

	t.Run("irrelevant reply stays text-only", func(t *testing.T) {
		adapter := &classifierAdapter{outcome: provider.Outcome{
			Invocation: &provider.ToolInvocation{
				Name: "generate_image",
				Args: map[string]any{"shouldGenerate": false},
			},
		}}
		gen := &fakeGenerator{}
		pr := New(testStore(t), nil, singleSource{adapter}, fixedGenerators{gen}, nil)

		res, err := pr.Process(context.Background(), p, "hi", "hello", 2000)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(res.Files) != 0 || gen.calls != 0 {
			t.Errorf("image generated for irrelevant reply")
		}
	})

	t.Run("non-image persona skips the classifier", func(t *testing.T) {
		adapter := &classifierAdapter{}
		pr := New(testStore(t), nil, singleSource{adapter}, fixedGenerators{&fakeGenerator{}}, nil)

		plain := &persona.Persona{Name: "oracle", Model: "gpt-4o"}
		res, err := pr.Process(context.Background(), plain, "hi", "hello", 2000)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(res.Files) != 0 {
			t.Errorf("files = %+v", res.Files)
		}
	})
}
