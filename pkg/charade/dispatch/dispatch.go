// Package dispatch consumes inbound transport messages, resolves the
// responding persona, and drives one compile/orchestrate/post-process
// cycle per message. Each message is handled in its own goroutine; a
// failed dispatch never affects another.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/charade/pkg/charade/channels"
	"github.com/jholhewres/charade/pkg/charade/compiler"
	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/postproc"
	"github.com/jholhewres/charade/pkg/charade/store"
)

// settleDelay gives the platform time to attach link previews to the
// triggering message before the window is fetched.
const settleDelay = time.Second

// helpNotice is sent when the bot account is mentioned in a channel with
// no default persona.
const helpNotice = "No default persona is set for this channel. Mention one of its personas by name to talk to it."

// WindowCompiler renders a message window for a persona.
// Satisfied by compiler.Compiler.
type WindowCompiler interface {
	Compile(ctx context.Context, p *persona.Persona, window []*persona.PlatformMessage, trigger *persona.PlatformMessage, fetcher compiler.MessageFetcher, selfID string) (*compiler.Compiled, error)
}

// Responder runs the orchestration loop. Satisfied by engine.Engine.
type Responder interface {
	Respond(ctx context.Context, p *persona.Persona, compiled *compiler.Compiled) (string, error)
}

// Processor shapes reply text for delivery. Satisfied by
// postproc.Processor.
type Processor interface {
	Process(ctx context.Context, p *persona.Persona, lastUserText, reply string, maxLen int) (*postproc.Result, error)
}

// Dispatcher is the per-message pipeline driver.
type Dispatcher struct {
	store     store.Store
	transport channels.Transport
	compiler  WindowCompiler
	responder Responder
	processor Processor
	logger    *slog.Logger

	// roll and pick stub out randomness in tests.
	roll func() float64
	pick func(n int) int

	settle time.Duration
}

// New creates a Dispatcher.
func New(st store.Store, transport channels.Transport, wc WindowCompiler, responder Responder, processor Processor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     st,
		transport: transport,
		compiler:  wc,
		responder: responder,
		processor: processor,
		logger:    logger.With("component", "dispatch"),
		roll:      rand.Float64,
		pick:      rand.Intn,
		settle:    settleDelay,
	}
}

// Run consumes inbound messages until the context is canceled or the
// transport closes its event channel.
func (d *Dispatcher) Run(ctx context.Context) error {
	events := d.transport.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			go d.Dispatch(ctx, msg)
		}
	}
}

// Dispatch handles one inbound message end to end. Errors are logged,
// never propagated: a dispatch failing silently is the designed worst
// case.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *persona.PlatformMessage) {
	logger := d.logger.With("trace", uuid.NewString()[:8], "channel", msg.ChannelID)

	p, notice, err := d.selectPersona(ctx, msg)
	if err != nil {
		logger.Error("persona selection failed", "error", err)
		return
	}
	if notice {
		if err := d.transport.Reply(ctx, msg.ChannelID, msg.ID, helpNotice); err != nil {
			logger.Warn("help notice failed", "error", err)
		}
		return
	}
	if p == nil {
		return
	}
	logger = logger.With("persona", p.Name)

	// Let link previews settle before fetching the window.
	select {
	case <-ctx.Done():
		return
	case <-time.After(d.settle):
	}

	if err := d.transport.SendTyping(ctx, msg.ChannelID); err != nil {
		logger.Warn("typing indicator failed", "error", err)
	}

	window, err := d.transport.RecentMessages(ctx, msg.ChannelID, p.EffectiveLimit())
	if err != nil {
		logger.Error("window fetch failed", "error", err)
		return
	}

	compiled, err := d.compiler.Compile(ctx, p, window, msg, d.transport, d.transport.SelfID())
	if err != nil {
		logger.Error("compile failed", "error", err)
		return
	}

	reply, err := d.responder.Respond(ctx, p, compiled)
	if err != nil {
		logger.Warn("orchestration failed", "error", err)
		return
	}
	if reply == "" {
		// Nothing worth saying; suppress rather than post an empty message.
		logger.Debug("empty reply suppressed")
		return
	}

	result, err := d.processor.Process(ctx, p, msg.CleanText, reply, d.transport.MaxMessageLength())
	if err != nil {
		logger.Error("post-processing failed", "error", err)
		return
	}

	if err := d.deliver(ctx, p, msg.ChannelID, result); err != nil {
		logger.Error("delivery failed", "error", err)
	}
}

// selectPersona applies the selection policy: a structural mention of
// the bot account routes to the default persona (or the help notice);
// otherwise the first engaged persona in configured order wins;
// otherwise one persona is drawn at random and gated by its chance.
func (d *Dispatcher) selectPersona(ctx context.Context, msg *persona.PlatformMessage) (*persona.Persona, bool, error) {
	personas, err := d.store.PersonasByChannel(ctx, msg.ChannelID)
	if err != nil {
		return nil, false, err
	}
	if len(personas) == 0 {
		return nil, false, nil
	}

	selfID := d.transport.SelfID()
	if msg.MentionsUser(selfID) {
		for _, p := range personas {
			if p.Default {
				return p, false, nil
			}
		}
		return nil, true, nil
	}

	for _, p := range personas {
		if compiler.Engaged(ctx, d.transport, selfID, msg, p) {
			return p, false, nil
		}
	}

	p := personas[d.pick(len(personas))]
	chance := p.Chance
	if b := p.BehaviorFor(msg.AuthorID); b != nil && b.Chance > 0 {
		chance = b.Chance
	}
	if d.roll() < chance {
		return p, false, nil
	}
	return nil, false, nil
}

// deliver pushes the processed chunks through the channel's webhook,
// creating or repairing the binding as needed. Files ride on the last
// chunk only.
func (d *Dispatcher) deliver(ctx context.Context, p *persona.Persona, channelID string, result *postproc.Result) error {
	webhookID, err := d.webhookFor(ctx, channelID)
	if err != nil {
		return err
	}
	for i, chunk := range result.Chunks {
		out := &channels.WebhookMessage{
			Content:     chunk,
			DisplayName: p.Name,
			AvatarURL:   p.AvatarURL,
		}
		if i == len(result.Chunks)-1 {
			out.Files = result.Files
		}
		if err := d.transport.ExecuteWebhook(ctx, webhookID, out); err != nil {
			return err
		}
	}
	return nil
}

// webhookFor returns the channel's webhook, lazily creating the binding
// on first reply and recreating the webhook when the recorded one was
// deleted out from under us.
func (d *Dispatcher) webhookFor(ctx context.Context, channelID string) (string, error) {
	binding, err := d.store.BindingByChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		webhookID, err := d.transport.CreateWebhook(ctx, channelID, "charade", "")
		if err != nil {
			return "", err
		}
		if _, err := d.store.CreateBinding(ctx, channelID, webhookID); err != nil {
			return "", err
		}
		return webhookID, nil
	}
	if err != nil {
		return "", err
	}

	ok, err := d.transport.WebhookExists(ctx, channelID, binding.WebhookID)
	if err != nil {
		return "", err
	}
	if ok {
		return binding.WebhookID, nil
	}

	webhookID, err := d.transport.CreateWebhook(ctx, channelID, "charade", "")
	if err != nil {
		return "", err
	}
	if err := d.store.UpdateBindingWebhook(ctx, binding.ID, webhookID); err != nil {
		return "", err
	}
	return webhookID, nil
}
