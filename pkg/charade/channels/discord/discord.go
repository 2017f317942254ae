// Package discord implements the channels.Transport contract using
// discordgo. Inbound guild messages are converted to platform-agnostic
// records; outbound delivery goes through per-channel webhooks so each
// persona replies under its own name and avatar.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/charade/pkg/charade/channels"
	"github.com/jholhewres/charade/pkg/charade/persona"
)

// maxMessageLength is Discord's outbound content limit.
const maxMessageLength = 2000

// Config holds the Discord transport configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild IDs the bot listens in.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`
}

// Discord implements channels.Transport.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages  chan *persona.PlatformMessage
	connected atomic.Bool
	selfID    atomic.Value // string
}

// New creates a Discord transport.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *persona.PlatformMessage, 256),
	}
}

// Connect opens the Discord gateway connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildWebhooks

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.selfID.Store(session.State.User.ID)
	d.connected.Store(true)
	d.logger.Info("discord: connected", "bot", session.State.User.Username, "id", session.State.User.ID)
	return nil
}

// Disconnect closes the gateway connection and the messages channel.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		d.session.Close()
	}
	if d.connected.CompareAndSwap(true, false) {
		close(d.messages)
		d.logger.Info("discord: disconnected")
	}
	return nil
}

// Messages returns the inbound message channel.
func (d *Discord) Messages() <-chan *persona.PlatformMessage {
	return d.messages
}

// SelfID returns the bot account's user ID.
func (d *Discord) SelfID() string {
	if v := d.selfID.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// MaxMessageLength returns Discord's 2000 character content limit.
func (d *Discord) MaxMessageLength() int { return maxMessageLength }

// RecentMessages fetches up to limit recent messages, oldest first.
func (d *Discord) RecentMessages(ctx context.Context, channelID string, limit int) ([]*persona.PlatformMessage, error) {
	if d.session == nil {
		return nil, channels.ErrDisconnected
	}
	raw, err := d.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetching messages for %s: %w", channelID, err)
	}

	// Discord returns newest first; the compiler wants chronological order.
	out := make([]*persona.PlatformMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		out = append(out, convertMessage(raw[i], channelID))
	}
	return out, nil
}

// FetchMessage dereferences a single message.
func (d *Discord) FetchMessage(ctx context.Context, channelID, messageID string) (*persona.PlatformMessage, error) {
	if d.session == nil {
		return nil, channels.ErrDisconnected
	}
	m, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetching message %s: %w", messageID, err)
	}
	return convertMessage(m, channelID), nil
}

// ResolveDisplayName resolves a user ID to a username.
func (d *Discord) ResolveDisplayName(ctx context.Context, userID string) (string, error) {
	if d.session == nil {
		return "", channels.ErrDisconnected
	}
	u, err := d.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: resolving user %s: %w", userID, err)
	}
	return u.Username, nil
}

// SendTyping shows the typing indicator.
func (d *Discord) SendTyping(ctx context.Context, channelID string) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	return d.session.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

// Reply sends a plain reply referencing a message.
func (d *Discord) Reply(ctx context.Context, channelID, messageID, text string) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	_, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:   text,
		Reference: &discordgo.MessageReference{MessageID: messageID, ChannelID: channelID},
	}, discordgo.WithContext(ctx))
	return err
}

// Send posts a plain message to a channel.
func (d *Discord) Send(ctx context.Context, channelID, text string) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	_, err := d.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return err
}

// CreateWebhook creates a webhook in the channel.
func (d *Discord) CreateWebhook(ctx context.Context, channelID, name, avatarURL string) (string, error) {
	if d.session == nil {
		return "", channels.ErrDisconnected
	}
	wh, err := d.session.WebhookCreate(channelID, name, avatarURL, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: creating webhook in %s: %w", channelID, err)
	}
	return wh.ID, nil
}

// WebhookExists reports whether the channel still has the webhook.
func (d *Discord) WebhookExists(ctx context.Context, channelID, webhookID string) (bool, error) {
	if d.session == nil {
		return false, channels.ErrDisconnected
	}
	hooks, err := d.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("discord: listing webhooks for %s: %w", channelID, err)
	}
	for _, wh := range hooks {
		if wh.ID == webhookID {
			return true, nil
		}
	}
	return false, nil
}

// ExecuteWebhook delivers a message through a webhook, masquerading as the
// persona.
func (d *Discord) ExecuteWebhook(ctx context.Context, webhookID string, msg *channels.WebhookMessage) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}

	// Executing a webhook requires its token, which the session only has
	// after fetching the webhook object.
	wh, err := d.session.Webhook(webhookID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: fetching webhook %s: %w", webhookID, err)
	}

	params := &discordgo.WebhookParams{
		Content:   msg.Content,
		Username:  msg.DisplayName,
		AvatarURL: msg.AvatarURL,
	}
	for _, f := range msg.Files {
		params.Files = append(params.Files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		})
	}

	_, err = d.session.WebhookExecute(wh.ID, wh.Token, false, params, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: executing webhook %s: %w", webhookID, err)
	}
	return nil
}

// onMessageCreate converts gateway events and forwards them.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Only human-authored messages start a dispatch. Bot messages (our own
	// webhook replies included) still appear in fetched history, but
	// letting them trigger personas would chain replies into a loop.
	if m.Author == nil || m.Author.Bot || m.Author.ID == s.State.User.ID {
		return
	}
	if m.GuildID == "" {
		return // guild text channels only
	}
	if len(d.cfg.AllowedGuilds) > 0 && !contains(d.cfg.AllowedGuilds, m.GuildID) {
		return
	}

	msg := convertMessage(m.Message, m.ChannelID)

	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", m.ID)
	}
}

// convertMessage maps a discordgo message onto the platform-agnostic record.
func convertMessage(m *discordgo.Message, channelID string) *persona.PlatformMessage {
	out := &persona.PlatformMessage{
		ID:        m.ID,
		ChannelID: channelID,
		Text:      m.Content,
		CleanText: m.ContentWithMentionsReplaced(),
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorName = m.Author.Username
		out.AuthorIsBot = m.Author.Bot
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, persona.Attachment{
			URL:         a.URL,
			Name:        a.Filename,
			ContentType: a.ContentType,
		})
	}
	for _, e := range m.Embeds {
		out.Embeds = append(out.Embeds, persona.Embed{
			URL:         e.URL,
			Title:       e.Title,
			Description: e.Description,
			JSON:        embedJSON(e),
		})
	}
	for _, u := range m.Mentions {
		out.Mentions = append(out.Mentions, persona.Mention{
			UserID:   u.ID,
			Username: u.Username,
			IsBot:    u.Bot,
		})
	}
	if m.MessageReference != nil {
		out.ReplyToID = m.MessageReference.MessageID
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// embedJSON serializes an embed for the describe collaborator, which wants
// the whole structure, not just the visible fields.
func embedJSON(e *discordgo.MessageEmbed) string {
	data, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	return string(data)
}

var _ channels.Transport = (*Discord)(nil)
