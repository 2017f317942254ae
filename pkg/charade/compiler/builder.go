package compiler

import (
	"strings"

	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/provider"
)

// turnBuilder accumulates rendered messages into turns, holding one open
// turn at a time and flushing it when the next message cannot merge into
// it. Merge rules: roles must match, and in per-speaker mode the speaker
// must be identical too. Combined mode merges any run of user messages
// regardless of author.
type turnBuilder struct {
	persona *persona.Persona
	done    []provider.Turn
	open    *provider.Turn
}

func newTurnBuilder(p *persona.Persona) *turnBuilder {
	return &turnBuilder{persona: p}
}

func (b *turnBuilder) add(msg *persona.PlatformMessage, isSelf bool, text string, images []provider.ImageBlock) {
	role := provider.RoleUser
	speaker := ""
	if isSelf {
		role = provider.RoleAssistant
	} else if b.persona.MessagePerUser {
		speaker = sanitizeSpeaker(msg.AuthorName)
	}

	if b.open != nil && b.open.Role == role && b.open.Speaker == speaker {
		b.open.Text += "\n" + text
		b.open.Images = append(b.open.Images, images...)
		return
	}

	b.flush()
	b.open = &provider.Turn{Role: role, Speaker: speaker, Text: text, Images: images}
}

func (b *turnBuilder) flush() {
	if b.open != nil {
		b.done = append(b.done, *b.open)
		b.open = nil
	}
}

func (b *turnBuilder) turns() []provider.Turn {
	b.flush()
	return b.done
}

func sanitizeSpeaker(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
