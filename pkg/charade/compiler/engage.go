package compiler

import (
	"context"
	"strings"

	"github.com/jholhewres/charade/pkg/charade/persona"
)

// Engaged reports whether a message addresses the given persona. The
// rules are checked in order and the first hit wins:
//
//  1. the text contains "@<persona name>" (case-insensitive)
//  2. a mentioned user carries the persona's name
//  3. the message replies to a message authored by the persona
//  4. the bot account itself is mentioned and the persona is the default
//
// Rule 3 needs a fetch; when the reply target cannot be resolved the
// rule simply does not match.
func Engaged(ctx context.Context, fetcher MessageFetcher, selfID string, msg *persona.PlatformMessage, p *persona.Persona) bool {
	if msg == nil || p == nil {
		return false
	}

	if strings.Contains(strings.ToLower(msg.CleanText), "@"+strings.ToLower(p.Name)) {
		return true
	}

	for _, mn := range msg.Mentions {
		if strings.EqualFold(mn.Username, p.Name) {
			return true
		}
	}

	if msg.ReplyToID != "" && fetcher != nil {
		parent, err := fetcher.FetchMessage(ctx, msg.ChannelID, msg.ReplyToID)
		if err == nil && parent != nil && strings.EqualFold(parent.AuthorName, p.Name) {
			return true
		}
	}

	if p.Default && msg.MentionsUser(selfID) {
		return true
	}

	return false
}
