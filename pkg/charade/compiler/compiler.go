// Package compiler turns a bounded window of platform messages plus
// persona configuration into an ordered, role-tagged, provider-agnostic
// sequence of turns. It also owns the engagement predicate that decides
// whether a persona considers itself addressed (engage.go).
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/provider"
	"github.com/jholhewres/charade/pkg/charade/store"
)

// basePrompt is the boilerplate wrapper prepended to a persona prompt
// unless the persona is marked fine-tuned.
const basePrompt = `You are a discord bot designed to perform different prompts. The following will contain:
- the prompt -- you should follow this as much as possible
- at least one message from the channel, in the format [timestamp] <username>: message
- If a message has embeds or attachments, they will be included in the prompt as well under the message as [embed] or [attachment]
Please write a suitable reply, only replying with the message

The prompt is as follows:`

// pingInstruction closes the visible users roster.
const pingInstruction = "\nUse the <@id> to ping them in the chat. Include the angle brackets, and the ID must be numerical."

// MessageFetcher dereferences a single message, e.g. a reply target.
// Satisfied by channels.Transport.
type MessageFetcher interface {
	FetchMessage(ctx context.Context, channelID, messageID string) (*persona.PlatformMessage, error)
}

// Descriptions is the describe collaborator consumed during compilation.
// Satisfied by provider.Describer.
type Descriptions interface {
	DescribeImage(ctx context.Context, url, model string) (string, error)
	DescribeEmbed(ctx context.Context, embedJSON string) (string, error)
}

// Compiled is the compiler output: a synthesized system prompt plus the
// ordered turn sequence covering the message window.
type Compiled struct {
	System string
	Turns  []provider.Turn
}

// Compiler builds compiled windows for personas.
type Compiler struct {
	store     store.Store
	describer Descriptions
	logger    *slog.Logger
}

// New creates a Compiler. describer may be nil, in which case attachments
// and embeds degrade to their URL+metadata text.
func New(st store.Store, describer Descriptions, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{
		store:     st,
		describer: describer,
		logger:    logger.With("component", "compiler"),
	}
}

// Compile renders the message window for a persona. window is the fetched
// recent history in chronological order; trigger is the inbound message
// being answered, appended if the window missed it. fetcher dereferences
// reply targets for the mentions-only visibility filter.
func (c *Compiler) Compile(ctx context.Context, p *persona.Persona, window []*persona.PlatformMessage, trigger *persona.PlatformMessage, fetcher MessageFetcher, selfID string) (*Compiled, error) {
	msgs, err := c.filterWindow(ctx, p, window, trigger, fetcher, selfID)
	if err != nil {
		return nil, err
	}

	system := c.systemPrompt(p, msgs, trigger)

	b := newTurnBuilder(p)
	for _, msg := range msgs {
		isSelf := msg.AuthorIsBot && strings.EqualFold(msg.AuthorName, p.Name)
		text, images := c.renderMessage(ctx, p, msg, isSelf)
		b.add(msg, isSelf, text, images)
	}

	return &Compiled{System: system, Turns: b.turns()}, nil
}

// filterWindow applies the visibility preferences to the fetched window.
// Filtered-out messages still consumed window slots: the limit applies to
// the fetch, not to what survives filtering.
func (c *Compiler) filterWindow(ctx context.Context, p *persona.Persona, window []*persona.PlatformMessage, trigger *persona.PlatformMessage, fetcher MessageFetcher, selfID string) ([]*persona.PlatformMessage, error) {
	msgs := make([]*persona.PlatformMessage, 0, len(window)+1)
	for _, m := range window {
		// Refusal boilerplate from other bots only poisons the window.
		if m.AuthorIsBot &&
			(strings.Contains(m.Text, "I'm sorry") || strings.Contains(m.Text, "as an AI language model")) {
			continue
		}
		msgs = append(msgs, m)
	}

	if trigger != nil && (len(msgs) == 0 || msgs[len(msgs)-1].ID != trigger.ID) {
		msgs = append(msgs, trigger)
	}

	optedOut, err := c.store.UserIDsByVisibility(ctx, persona.SeeNone)
	if err != nil {
		return nil, fmt.Errorf("load opted-out users: %w", err)
	}
	mentionsOnly, err := c.store.UserIDsByVisibility(ctx, persona.SeeMentions)
	if err != nil {
		return nil, fmt.Errorf("load mentions-only users: %w", err)
	}

	filtered := msgs[:0]
	for _, m := range msgs {
		if containsID(optedOut, m.AuthorID) {
			continue
		}
		if containsID(mentionsOnly, m.AuthorID) && !Engaged(ctx, fetcher, selfID, m, p) {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered, nil
}

// systemPrompt synthesizes the persona-instruction turn: persona prompt,
// per-speaker override, visible users roster, and the boilerplate wrapper
// unless the persona is fine-tuned.
func (c *Compiler) systemPrompt(p *persona.Persona, msgs []*persona.PlatformMessage, trigger *persona.PlatformMessage) string {
	prompt := p.Prompt

	if trigger != nil {
		if behavior := p.BehaviorFor(trigger.AuthorID); behavior != nil {
			prompt += behavior.Prompt
		}
	}

	if !p.FineTuned {
		prompt = basePrompt + " " + prompt
	}

	if p.CanPingUsers {
		roster := visibleUsers(prompt, msgs)
		prompt += roster
		if roster != "" && !p.FineTuned {
			prompt += pingInstruction
		}
	}

	return prompt
}

// visibleUsers collects the non-bot authors and mentioned users of the
// window as "<@id> name" roster lines, skipping IDs the prompt already
// names.
func visibleUsers(prompt string, msgs []*persona.PlatformMessage) string {
	var b strings.Builder
	seen := map[string]bool{}

	addUser := func(id, name string) {
		if id == "" || seen[id] || strings.Contains(prompt, id) {
			return
		}
		seen[id] = true
		fmt.Fprintf(&b, "\n - <@%s> %s", id, name)
	}

	for _, m := range msgs {
		if !m.AuthorIsBot {
			addUser(m.AuthorID, m.AuthorName)
		}
		for _, mn := range m.Mentions {
			if !mn.IsBot {
				addUser(mn.UserID, mn.Username)
			}
		}
	}
	return b.String()
}

// renderMessage produces the textual body for one message, expanding
// attachments and embeds, plus any binary image blocks to ride on the
// turn.
func (c *Compiler) renderMessage(ctx context.Context, p *persona.Persona, msg *persona.PlatformMessage, isSelf bool) (string, []provider.ImageBlock) {
	content := msg.CleanText
	if p.CanPingUsers {
		content = msg.Text
	}

	// Self messages are already final output; everyone else gets the
	// timestamped speaker header.
	text := content
	if !isSelf {
		text = fmt.Sprintf("[%s] <%s>: %s", msg.Timestamp(), msg.AuthorName, content)
	}

	var images []provider.ImageBlock
	for _, att := range msg.Attachments {
		text += fmt.Sprintf("\n[attachment] %s %s %s", att.Name, att.ContentType, att.URL)
		if !att.IsImage() || !p.EnableVision {
			continue
		}
		if p.VisionModel != "" {
			if c.describer == nil {
				continue
			}
			desc, err := c.describer.DescribeImage(ctx, att.URL, p.VisionModel)
			if err != nil {
				// No augmentation available; the metadata line stands.
				c.logger.Warn("image description failed", "url", att.URL, "error", err)
				continue
			}
			text += " you see: " + desc
		} else {
			images = append(images, provider.ImageBlock{URL: att.URL})
		}
	}

	for _, emb := range msg.Embeds {
		if c.describer != nil {
			desc, err := c.describer.DescribeEmbed(ctx, emb.JSON)
			if err == nil {
				text += fmt.Sprintf("\n[embed] %s %s", emb.URL, desc)
				continue
			}
			c.logger.Warn("embed description failed", "url", emb.URL, "error", err)
		}
		text += fmt.Sprintf("\n[embed] %s %s %s", emb.URL, emb.Title, emb.Description)
	}

	return text, images
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
