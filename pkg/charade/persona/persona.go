// Package persona defines the configuration records and request-scoped
// message types shared by the compiler, dispatcher, and provider layers.
//
// Persona, ToolSpec, ChannelBinding, and UserPreference are long-lived and
// owned by the configuration store; the rest of the system treats them as
// read-only. PlatformMessage and friends exist only for the duration of one
// dispatch cycle.
package persona

import "time"

// BackendFamily selects which provider adapter handles a persona's requests.
type BackendFamily string

const (
	// FamilyChat is the OpenAI-compatible chat completions API with
	// function calling. Works with OpenAI, Mistral, and any proxy that
	// speaks the same format.
	FamilyChat BackendFamily = "chat"

	// FamilyCompletion is the legacy text completions API. Turns are
	// flattened into a single prompt string.
	FamilyCompletion BackendFamily = "completion"

	// FamilyAnthropic is the Anthropic Messages API with staged tool use.
	FamilyAnthropic BackendFamily = "anthropic"

	// FamilyEndpoint posts the flattened window to a persona-configured
	// HTTP URL and reads the raw text response.
	FamilyEndpoint BackendFamily = "endpoint"
)

// ResponseStyle hints how verbose a persona's replies should be.
type ResponseStyle string

const (
	StyleShort   ResponseStyle = "short"
	StyleMedium  ResponseStyle = "medium"
	StyleLong    ResponseStyle = "long"
	StyleDynamic ResponseStyle = "dynamic"
)

// SpeakerBehavior overrides persona behavior for a specific platform user.
type SpeakerBehavior struct {
	// SpeakerID is the platform user ID this override applies to.
	SpeakerID string

	// Prompt is appended to the persona prompt when this speaker authored
	// the triggering message.
	Prompt string

	// Chance overrides the persona's trigger probability for this speaker.
	Chance float64
}

// Persona is one configured bot identity bound to a channel.
type Persona struct {
	ID        string
	ChannelID string

	// Name is the display name the persona replies under. Engagement
	// matching against mentions and replies is case-insensitive on this.
	Name string

	// Prompt is the persona's character/system prompt.
	Prompt string

	// Style hints the response length ("short", "medium", "long", "dynamic").
	Style ResponseStyle

	// AvatarURL is shown on webhook replies.
	AvatarURL string

	// Default marks the persona that answers when the shared bot account
	// itself is mentioned.
	Default bool

	// Family selects the provider adapter.
	Family BackendFamily

	// Model is the model identifier, or the endpoint URL for
	// FamilyEndpoint personas.
	Model string

	// InitialModel is used for the priming stages when set.
	InitialModel string

	// EndpointURL and APIKey override the family's default endpoint and
	// credential for this persona.
	EndpointURL string
	APIKey      string

	// EnableVision lets the persona see image attachments. With a
	// VisionModel set, images are described as text by that model; without
	// one, images ride along as binary blocks on the same turn.
	EnableVision bool
	VisionModel  string

	// FineTuned suppresses the boilerplate instruction wrapper around the
	// persona prompt.
	FineTuned bool

	// PerSpeaker holds per-user prompt/chance overrides.
	PerSpeaker []SpeakerBehavior

	// Limit is how many recent messages are fetched for compilation.
	Limit int

	// Chance is the probability the persona responds to a message that
	// engaged nobody.
	Chance float64

	// StopToken truncates completion/endpoint output. Defaults to "\n[".
	StopToken string

	// PromptSuffix replaces the generated speaker-prefix cue appended to
	// flattened prompts. Completion/endpoint families only.
	PromptSuffix string

	// MessagePerUser switches turn merging from combined mode to
	// per-speaker mode.
	MessagePerUser bool

	// CanPingUsers keeps raw mention tokens in the compiled window and
	// adds the user roster to the system turn.
	CanPingUsers bool

	// CanPostImages enables the relevance-gated image augmentation step.
	CanPostImages bool
	ImageModel    string
	ImageSize     string

	// CanLookup offers the web lookup tool during orchestration.
	CanLookup bool

	// PrimerID and ResponseTemplateID reference ToolSpec records.
	PrimerID           string
	ResponseTemplateID string
}

// EffectiveLimit returns the message window size, defaulting to 5.
func (p *Persona) EffectiveLimit() int {
	if p.Limit <= 0 {
		return 5
	}
	return p.Limit
}

// EffectiveInitialModel returns the model used by the priming and lookup
// stages, falling back to the main model when none is configured.
func (p *Persona) EffectiveInitialModel() string {
	if p.InitialModel != "" {
		return p.InitialModel
	}
	return p.Model
}

// StopSequences returns the client-side stop sequences for flattened
// completions: the configured stop token (default "\n[") plus a blank line.
func (p *Persona) StopSequences() []string {
	stop := p.StopToken
	if stop == "" {
		stop = "\n["
	}
	return []string{stop, "\n\n"}
}

// BehaviorFor returns the per-speaker override for a platform user,
// or nil when none is configured.
func (p *Persona) BehaviorFor(speakerID string) *SpeakerBehavior {
	for i := range p.PerSpeaker {
		if p.PerSpeaker[i].SpeakerID == speakerID {
			return &p.PerSpeaker[i]
		}
	}
	return nil
}

// ParamType is the primitive type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
)

// ToolParam is one parameter of a ToolSpec.
type ToolParam struct {
	Name          string
	Type          ParamType
	Description   string
	Required      bool
	AllowedValues []string
}

// ToolSpec is a store-backed tool definition offered to the model.
// When Template is set, a forced call's arguments are substituted into
// {{name}} placeholders to produce text.
type ToolSpec struct {
	ID          string
	Name        string
	Description string
	Template    string
	Params      []ToolParam
}

// ChannelBinding pairs a channel with the webhook used to reply into it.
// Created lazily on first reply, reused thereafter.
type ChannelBinding struct {
	ID        string
	ChannelID string
	WebhookID string
}

// Visibility controls which of a user's messages personas may see.
type Visibility string

const (
	// SeeNone hides all of the user's messages.
	SeeNone Visibility = "none"
	// SeeMentions shows only messages that engage the persona.
	SeeMentions Visibility = "mentions"
	// SeeAll shows everything.
	SeeAll Visibility = "all"
)

// UserPreference is a platform user's visibility and ping opt-out record.
type UserPreference struct {
	ID           string
	UserID       string
	Username     string
	Visibility   Visibility
	PreventPings bool
}

// Attachment is a file attached to a platform message.
type Attachment struct {
	URL         string
	Name        string
	ContentType string
	Description string
}

// IsImage reports whether the attachment is an image by content type.
func (a Attachment) IsImage() bool {
	return len(a.ContentType) >= 5 && a.ContentType[:5] == "image"
}

// Embed is a link preview or rich embed on a platform message.
type Embed struct {
	URL         string
	Title       string
	Description string
	JSON        string
}

// Mention is a structured user mention inside a message.
type Mention struct {
	UserID   string
	Username string
	IsBot    bool
}

// PlatformMessage is one inbound or historical chat message. Immutable
// once fetched; only a bounded recent window is ever read.
type PlatformMessage struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	AuthorIsBot bool

	// Text is the raw content including mention tokens; CleanText has
	// mention tokens replaced with plain names.
	Text      string
	CleanText string

	CreatedAt   time.Time
	Attachments []Attachment
	Embeds      []Embed
	Mentions    []Mention

	// ReplyToID references the message this one replies to, if any.
	ReplyToID string
}

// Timestamp renders the message creation time as "yyyy-MM-dd HH:mm:ss" UTC,
// the header format used in compiled windows.
func (m *PlatformMessage) Timestamp() string {
	return m.CreatedAt.UTC().Format("2006-01-02 15:04:05")
}

// MentionsUser reports whether the message structurally mentions the given
// platform user ID.
func (m *PlatformMessage) MentionsUser(userID string) bool {
	for _, mn := range m.Mentions {
		if mn.UserID == userID {
			return true
		}
	}
	return false
}
