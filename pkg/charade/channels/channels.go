// Package channels defines the chat-platform transport contract the
// dispatcher and post-processor consume. One implementation exists today
// (Discord, in the discord subpackage); the contract keeps the core free of
// platform types.
package channels

import (
	"context"
	"errors"

	"github.com/jholhewres/charade/pkg/charade/persona"
)

// ErrDisconnected is returned when an operation runs before Connect or
// after Disconnect.
var ErrDisconnected = errors.New("channels: transport disconnected")

// File is an outbound binary attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// WebhookMessage is an outbound message delivered through a channel
// webhook, masquerading as the persona.
type WebhookMessage struct {
	Content     string
	DisplayName string
	AvatarURL   string
	Files       []*File
}

// Transport is the chat-platform contract. Implementations deliver inbound
// message events on Messages and accept outbound webhook/reply calls.
type Transport interface {
	// Connect opens the platform connection and starts delivering events.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. The Messages channel is closed.
	Disconnect() error

	// Messages delivers inbound message-created events. Messages authored
	// by the transport's own account are filtered out.
	Messages() <-chan *persona.PlatformMessage

	// SelfID is the platform user ID of the shared bot account.
	SelfID() string

	// MaxMessageLength is the platform's outbound payload limit.
	MaxMessageLength() int

	// RecentMessages fetches the most recent messages in a channel, oldest
	// first.
	RecentMessages(ctx context.Context, channelID string, limit int) ([]*persona.PlatformMessage, error)

	// FetchMessage dereferences a single message, e.g. a reply target.
	FetchMessage(ctx context.Context, channelID, messageID string) (*persona.PlatformMessage, error)

	// ResolveDisplayName resolves a platform user ID to a display name.
	ResolveDisplayName(ctx context.Context, userID string) (string, error)

	// SendTyping shows a typing indicator in the channel.
	SendTyping(ctx context.Context, channelID string) error

	// Reply sends a plain reply to a specific message.
	Reply(ctx context.Context, channelID, messageID, text string) error

	// Send posts a plain message to a channel.
	Send(ctx context.Context, channelID, text string) error

	// CreateWebhook creates a webhook in the channel and returns its ID.
	CreateWebhook(ctx context.Context, channelID, name, avatarURL string) (string, error)

	// WebhookExists reports whether the channel still has the webhook.
	WebhookExists(ctx context.Context, channelID, webhookID string) (bool, error)

	// ExecuteWebhook delivers a message through a webhook.
	ExecuteWebhook(ctx context.Context, webhookID string, msg *WebhookMessage) error
}
