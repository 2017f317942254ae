package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/jholhewres/charade/pkg/charade/channels"
	"github.com/jholhewres/charade/pkg/charade/compiler"
	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/postproc"
	"github.com/jholhewres/charade/pkg/charade/store"
)

// fakeTransport records outbound traffic and serves a canned window.
type fakeTransport struct {
	selfID   string
	window   []*persona.PlatformMessage
	webhooks map[string]bool
	nextID   int

	executed []*channels.WebhookMessage
	replies  []string
	created  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{selfID: "self", webhooks: map[string]bool{}}
}

func (f *fakeTransport) Connect(ctx context.Context) error                { return nil }
func (f *fakeTransport) Disconnect() error                                { return nil }
func (f *fakeTransport) Messages() <-chan *persona.PlatformMessage        { return nil }
func (f *fakeTransport) SelfID() string                                   { return f.selfID }
func (f *fakeTransport) MaxMessageLength() int                            { return 2000 }
func (f *fakeTransport) SendTyping(ctx context.Context, channelID string) error { return nil }
func (f *fakeTransport) Send(ctx context.Context, channelID, text string) error { return nil }

func (f *fakeTransport) RecentMessages(ctx context.Context, channelID string, limit int) ([]*persona.PlatformMessage, error) {
	return f.window, nil
}

func (f *fakeTransport) FetchMessage(ctx context.Context, channelID, messageID string) (*persona.PlatformMessage, error) {
	return nil, channels.ErrDisconnected
}

func (f *fakeTransport) ResolveDisplayName(ctx context.Context, userID string) (string, error) {
	return userID, nil
}

func (f *fakeTransport) Reply(ctx context.Context, channelID, messageID, text string) error {
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeTransport) CreateWebhook(ctx context.Context, channelID, name, avatarURL string) (string, error) {
	f.nextID++
	id := "wh-" + string(rune('0'+f.nextID))
	f.webhooks[id] = true
	f.created++
	return id, nil
}

func (f *fakeTransport) WebhookExists(ctx context.Context, channelID, webhookID string) (bool, error) {
	return f.webhooks[webhookID], nil
}

func (f *fakeTransport) ExecuteWebhook(ctx context.Context, webhookID string, msg *channels.WebhookMessage) error {
	f.executed = append(f.executed, msg)
	return nil
}

var _ channels.Transport = (*fakeTransport)(nil)

type fixedCompiler struct{}

func (fixedCompiler) Compile(ctx context.Context, p *persona.Persona, window []*persona.PlatformMessage, trigger *persona.PlatformMessage, fetcher compiler.MessageFetcher, selfID string) (*compiler.Compiled, error) {
	return &compiler.Compiled{System: p.Prompt}, nil
}

type fixedResponder struct{ reply string }

func (r fixedResponder) Respond(ctx context.Context, p *persona.Persona, compiled *compiler.Compiled) (string, error) {
	return r.reply, nil
}

type passthroughProcessor struct{}

func (passthroughProcessor) Process(ctx context.Context, p *persona.Persona, lastUserText, reply string, maxLen int) (*postproc.Result, error) {
	return &postproc.Result{Chunks: []string{reply}}, nil
}

func testStore(t *testing.T) *store.SQLite {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestDispatcher(t *testing.T, st *store.SQLite, tr *fakeTransport, reply string) *Dispatcher {
	t.Helper()
	d := New(st, tr, fixedCompiler{}, fixedResponder{reply}, passthroughProcessor{}, nil)
	d.settle = 0
	return d
}

func createPersona(t *testing.T, st *store.SQLite, p *persona.Persona) *persona.Persona {
	t.Helper()
	out, err := st.CreatePersona(context.Background(), p)
	if err != nil {
		t.Fatalf("create persona: %v", err)
	}
	return out
}

func inbound(text string) *persona.PlatformMessage {
	return &persona.PlatformMessage{
		ID: "m1", ChannelID: "chan", AuthorID: "uid-alice", AuthorName: "alice",
		Text: text, CleanText: text, CreatedAt: time.Now(),
	}
}

func TestSelectPersonaOrderedScan(t *testing.T) {
	st := testStore(t)
	createPersona(t, st, &persona.Persona{ChannelID: "chan", Name: "alpha"})
	createPersona(t, st, &persona.Persona{ChannelID: "chan", Name: "beta"})

	tr := newFakeTransport()
	d := newTestDispatcher(t, st, tr, "")

	p, notice, err := d.selectPersona(context.Background(), inbound("hey @beta, thoughts?"))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if notice || p == nil || p.Name != "beta" {
		t.Errorf("selected = %+v, notice = %v, want beta", p, notice)
	}
}

func TestSelectPersonaSelfMention(t *testing.T) {
	st := testStore(t)
	tr := newFakeTransport()
	d := newTestDispatcher(t, st, tr, "")

	msg := inbound("hello there")
	msg.Mentions = []persona.Mention{{UserID: "self", Username: "charade", IsBot: true}}

	t.Run("routes to default", func(t *testing.T) {
		createPersona(t, st, &persona.Persona{ChannelID: "chan", Name: "alpha"})
		createPersona(t, st, &persona.Persona{ChannelID: "chan", Name: "omega", Default: true})
		p, notice, err := d.selectPersona(context.Background(), msg)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if notice || p == nil || p.Name != "omega" {
			t.Errorf("selected = %+v, notice = %v, want omega", p, notice)
		}
	})

	t.Run("help notice without default", func(t *testing.T) {
		st2 := testStore(t)
		createPersona(t, st2, &persona.Persona{ChannelID: "chan", Name: "alpha"})
		d2 := newTestDispatcher(t, st2, tr, "")
		p, notice, err := d2.selectPersona(context.Background(), msg)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if p != nil || !notice {
			t.Errorf("want help notice, got persona %+v", p)
		}
	})
}

func TestSelectPersonaChanceGate(t *testing.T) {
	t.Run("chance 1.0 always fires", func(t *testing.T) {
		st := testStore(t)
		createPersona(t, st, &persona.Persona{ChannelID: "chan", Name: "gamma", Chance: 1.0})
		d := newTestDispatcher(t, st, newFakeTransport(), "")
		d.pick = func(n int) int { return 0 }
		d.roll = func() float64 { return 0.999999 }

		p, _, err := d.selectPersona(context.Background(), inbound("nice weather"))
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if p == nil || p.Name != "gamma" {
			t.Errorf("selected = %+v, want gamma", p)
		}
	})

	t.Run("chance 0.0 never fires", func(t *testing.T) {
		st := testStore(t)
		createPersona(t, st, &persona.Persona{ChannelID: "chan", Name: "gamma", Chance: 0})
		createPersona(t, st, &persona.Persona{ChannelID: "chan", Name: "delta", Chance: 0})
		d := newTestDispatcher(t, st, newFakeTransport(), "")
		d.pick = func(n int) int { return 1 }
		d.roll = func() float64 { return 0 }

		p, _, err := d.selectPersona(context.Background(), inbound("nice weather"))
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if p != nil {
			t.Errorf("selected = %+v, want none", p)
		}
	})

	t.Run("per-speaker chance override", func(t *testing.T) {
		st := testStore(t)
		createPersona(t, st, &persona.Persona{
			ChannelID: "chan", Name: "gamma", Chance: 0,
			PerSpeaker: []persona.SpeakerBehavior{{SpeakerID: "uid-alice", Chance: 1.0}},
		})
		d := newTestDispatcher(t, st, newFakeTransport(), "")
		d.pick = func(n int) int { return 0 }
		d.roll = func() float64 { return 0.5 }

		p, _, err := d.selectPersona(context.Background(), inbound("nice weather"))
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if p == nil {
			t.Error("per-speaker chance override ignored")
		}
	})
}

func TestDispatchDeliversThroughWebhook(t *testing.T) {
	st := testStore(t)
	createPersona(t, st, &persona.Persona{ChannelID: "chan", Name: "oracle", AvatarURL: "https://a/v.png"})

	tr := newFakeTransport()
	d := newTestDispatcher(t, st, tr, "the stars say yes")

	d.Dispatch(context.Background(), inbound("hey @oracle"))
	if len(tr.executed) != 1 {
		t.Fatalf("executed = %d webhook messages, want 1", len(tr.executed))
	}
	out := tr.executed[0]
	if out.Content != "the stars say yes" || out.DisplayName != "oracle" || out.AvatarURL != "https://a/v.png" {
		t.Errorf("webhook message = %+v", out)
	}

	binding, err := st.BindingByChannel(context.Background(), "chan")
	if err != nil {
		t.Fatalf("binding not recorded: %v", err)
	}

	// Second dispatch reuses the recorded webhook.
	d.Dispatch(context.Background(), inbound("hey @oracle again"))
	if tr.created != 1 {
		t.Errorf("webhooks created = %d, want 1 (reused)", tr.created)
	}

	// Deleting the webhook out from under the binding forces a recreate.
	tr.webhooks[binding.WebhookID] = false
	d.Dispatch(context.Background(), inbound("hey @oracle once more"))
	if tr.created != 2 {
		t.Errorf("webhooks created = %d, want 2 (recreated)", tr.created)
	}
	fresh, err := st.BindingByChannel(context.Background(), "chan")
	if err != nil {
		t.Fatalf("binding lookup: %v", err)
	}
	if fresh.WebhookID == binding.WebhookID {
		t.Error("binding still points at the deleted webhook")
	}
}

func TestDispatchSuppressesEmptyReply(t *testing.T) {
	st := testStore(t)
	createPersona(t, st, &persona.Persona{ChannelID: "chan", Name: "oracle"})

	tr := newFakeTransport()
	d := newTestDispatcher(t, st, tr, "")

	d.Dispatch(context.Background(), inbound("hey @oracle"))
	if len(tr.executed) != 0 {
		t.Errorf("empty reply was delivered: %+v", tr.executed)
	}
}

func TestDispatchNoPersonasIsNoop(t *testing.T) {
	tr := newFakeTransport()
	d := newTestDispatcher(t, testStore(t), tr, "hi")

	d.Dispatch(context.Background(), inbound("anyone home"))
	if len(tr.executed) != 0 || len(tr.replies) != 0 {
		t.Error("dispatch in unbound channel produced output")
	}
}
