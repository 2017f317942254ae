// Package provider – adapters.go implements one adapter per backend
// family. All adapters share the contract: execute compiled turns plus the
// offered tools, return free text or exactly one tool invocation. No
// adapter retries; a transport failure is the caller's explicit no-result
// outcome.
package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jholhewres/charade/pkg/charade/cache"
	"github.com/jholhewres/charade/pkg/charade/persona"
)

// Adapter executes one provider call for a backend family.
type Adapter interface {
	Execute(ctx context.Context, req Request) (Outcome, error)
}

// inlineImage is a fetched attachment ready for base64 embedding.
type inlineImage struct {
	MediaType string
	Data      string
}

// Adapters builds family-specific adapters over the client registry.
type Adapters struct {
	registry *Registry
	images   *cache.TTL[inlineImage]
	logger   *slog.Logger
}

// NewAdapters creates the adapter factory. Fetched attachment bytes are
// memoized for an hour, keyed by URL.
func NewAdapters(registry *Registry, logger *slog.Logger) *Adapters {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapters{
		registry: registry,
		images:   cache.New[inlineImage](time.Hour),
		logger:   logger.With("component", "adapters"),
	}
}

// ForPersona returns the adapter serving a persona's backend family, bound
// to the persona's client.
func (a *Adapters) ForPersona(p *persona.Persona) Adapter {
	client := a.registry.ForPersona(p)
	switch p.Family {
	case persona.FamilyCompletion:
		return &completionAdapter{client: client}
	case persona.FamilyAnthropic:
		return &anthropicAdapter{client: client, images: a.images}
	case persona.FamilyEndpoint:
		return &endpointAdapter{client: client}
	default:
		return &chatAdapter{client: client}
	}
}

// speakerNameRe strips characters the chat API rejects in the name field.
var speakerNameRe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func sanitizeSpeaker(name string) string {
	return speakerNameRe.ReplaceAllString(name, "")
}

// parseInvocation converts a wire tool call into a ToolInvocation.
func parseInvocation(tc wireToolCall) (*ToolInvocation, error) {
	args := map[string]any{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("malformed tool arguments for %q: %w", tc.Function.Name, err)
		}
	}
	return &ToolInvocation{
		ID:      tc.ID,
		Name:    tc.Function.Name,
		Args:    args,
		RawArgs: tc.Function.Arguments,
	}, nil
}

// applyStops truncates text at the first stop sequence found.
func applyStops(text string, stops []string) string {
	for _, stop := range stops {
		if idx := strings.Index(text, stop); idx >= 0 {
			return text[:idx]
		}
	}
	return text
}

// ---------- Chat / tool-calling adapter ----------

// chatAdapter speaks the OpenAI-compatible chat completions API. Supports
// N tools simultaneously and the forced tool choice mode.
type chatAdapter struct {
	client *Client
}

func (a *chatAdapter) Execute(ctx context.Context, req Request) (Outcome, error) {
	messages := make([]chatMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}

	for _, turn := range req.Turns {
		messages = append(messages, chatTurnMessage(turn))
	}

	creq := chatRequest{Model: req.Model, Messages: messages}
	for _, spec := range req.Tools {
		creq.Tools = append(creq.Tools, toolDefinition(spec))
	}
	if req.ToolChoice.Forced != "" {
		creq.ToolChoice = map[string]any{
			"type":     "function",
			"function": map[string]string{"name": req.ToolChoice.Forced},
		}
	}

	resp, err := a.client.completeChat(ctx, creq)
	if err != nil {
		return Outcome{}, err
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		inv, err := parseInvocation(msg.ToolCalls[0])
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Invocation: inv}, nil
	}
	return Outcome{Text: msg.Content}, nil
}

// chatTurnMessage maps one compiled turn onto the chat wire format.
func chatTurnMessage(turn Turn) chatMessage {
	switch turn.Role {
	case RoleToolResult:
		return chatMessage{
			Role:       "tool",
			ToolCallID: turn.ToolResultID,
			Name:       turn.ToolResultName,
			Content:    turn.Text,
		}
	case RoleAssistant:
		msg := chatMessage{Role: "assistant", Content: turn.Text}
		if turn.Speaker != "" {
			msg.Name = sanitizeSpeaker(turn.Speaker)
		}
		for _, inv := range turn.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
				ID:   inv.ID,
				Type: "function",
				Function: wireFunctionCall{
					Name:      inv.Name,
					Arguments: inv.RawArgs,
				},
			})
		}
		return msg
	default:
		msg := chatMessage{Role: "user"}
		if turn.Speaker != "" {
			msg.Name = sanitizeSpeaker(turn.Speaker)
		}
		if len(turn.Images) == 0 {
			msg.Content = turn.Text
			return msg
		}
		// Multimodal: text part first, then image URL parts.
		parts := []contentPart{{Type: "text", Text: turn.Text}}
		for _, img := range turn.Images {
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageRef{URL: img.URL},
			})
		}
		msg.Content = parts
		return msg
	}
}

// ---------- Legacy completion adapter ----------

// completionAdapter flattens the turns into one prompt string and calls
// the legacy completions endpoint, truncating on stop sequences.
type completionAdapter struct {
	client *Client
}

func (a *completionAdapter) Execute(ctx context.Context, req Request) (Outcome, error) {
	prompt := flattenTurns(req)
	text, err := a.client.completeLegacy(ctx, req.Model, prompt, req.StopSequences)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Text: applyStops(text, req.StopSequences)}, nil
}

// flattenTurns renders the window as one prompt string with a trailing
// speaker-prefix cue so the model completes as the persona.
func flattenTurns(req Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n")
	}
	for _, turn := range req.Turns {
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	if req.PromptSuffix != "" {
		b.WriteString(req.PromptSuffix)
	} else {
		timestamp := time.Now().UTC().Format("2006-01-02 15:04:05")
		fmt.Fprintf(&b, "[%s] <%s>", timestamp, req.SpeakerName)
	}
	return b.String()
}

// ---------- Single-endpoint adapter ----------

// endpointAdapter posts the flattened window to a persona-configured URL
// and applies the stop-sequence truncation client-side.
type endpointAdapter struct {
	client *Client
}

func (a *endpointAdapter) Execute(ctx context.Context, req Request) (Outcome, error) {
	// An endpoint persona carries its URL in the model field; EndpointURL
	// is the explicit override.
	url := req.EndpointURL
	if url == "" {
		url = req.Model
	}
	prompt := flattenTurns(req)
	text, err := a.client.postText(ctx, url, prompt)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Text: applyStops(text, req.StopSequences)}, nil
}

// ---------- Staged tool-call (Anthropic) adapter ----------

// turnCloseMarker terminates a trailing user turn so the backend sees an
// unambiguous boundary before it writes the assistant turn.
const turnCloseMarker = "\n[end of messages]"

// anthropicAdapter speaks the Anthropic Messages API. Tool use is staged:
// every tool_use block must be closed with a tool_result turn before the
// next stage begins, which the orchestration loop guarantees.
type anthropicAdapter struct {
	client *Client
	images *cache.TTL[inlineImage]
}

func (a *anthropicAdapter) Execute(ctx context.Context, req Request) (Outcome, error) {
	messages, err := a.buildMessages(ctx, req.Turns)
	if err != nil {
		return Outcome{}, err
	}

	areq := anthropicRequest{
		Model:    req.Model,
		System:   req.System,
		Messages: messages,
	}
	for _, spec := range req.Tools {
		areq.Tools = append(areq.Tools, anthropicToolDefinition(spec))
	}
	if req.ToolChoice.Forced != "" {
		areq.ToolChoice = &anthropicToolChoice{Type: "tool", Name: req.ToolChoice.Forced}
	}

	resp, err := a.client.completeAnthropic(ctx, areq)
	if err != nil {
		return Outcome{}, err
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		args := map[string]any{}
		if len(block.Input) > 0 {
			if err := json.Unmarshal(block.Input, &args); err != nil {
				return Outcome{}, fmt.Errorf("malformed tool input for %q: %w", block.Name, err)
			}
		}
		return Outcome{Invocation: &ToolInvocation{
			ID:      block.ID,
			Name:    block.Name,
			Args:    args,
			RawArgs: string(block.Input),
		}}, nil
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			return Outcome{Text: block.Text}, nil
		}
	}
	return Outcome{}, fmt.Errorf("anthropic message: no text or tool_use block")
}

// buildMessages converts turns to the Anthropic format, inlining images as
// base64 blocks, coalescing adjacent same-role messages (the API requires
// strict alternation), and closing a trailing user turn.
func (a *anthropicAdapter) buildMessages(ctx context.Context, turns []Turn) ([]anthropicMessage, error) {
	var messages []anthropicMessage

	appendBlocks := func(role string, blocks []anthropicContent) {
		if len(messages) > 0 && messages[len(messages)-1].Role == role {
			prev := &messages[len(messages)-1]
			prev.Content = append(prev.Content.([]anthropicContent), blocks...)
			return
		}
		messages = append(messages, anthropicMessage{Role: role, Content: blocks})
	}

	for _, turn := range turns {
		switch turn.Role {
		case RoleToolResult:
			appendBlocks("user", []anthropicContent{{
				Type:      "tool_result",
				ToolUseID: turn.ToolResultID,
				Content:   turn.Text,
			}})
		case RoleAssistant:
			blocks := []anthropicContent{}
			if turn.Text != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: turn.Text})
			}
			for _, inv := range turn.ToolCalls {
				input := json.RawMessage(inv.RawArgs)
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    inv.ID,
					Name:  inv.Name,
					Input: input,
				})
			}
			appendBlocks("assistant", blocks)
		default:
			blocks := []anthropicContent{{Type: "text", Text: turn.Text}}
			for _, img := range turn.Images {
				inline, err := a.fetchInline(ctx, img.URL)
				if err != nil {
					// A missing image degrades to text-only, the
					// same as a persona without vision.
					continue
				}
				blocks = append(blocks, anthropicContent{
					Type: "image",
					Source: &anthropicImage{
						Type:      "base64",
						MediaType: inline.MediaType,
						Data:      inline.Data,
					},
				})
			}
			appendBlocks("user", blocks)
		}
	}

	// Close a trailing user turn so the boundary is unambiguous.
	if len(messages) > 0 {
		last := &messages[len(messages)-1]
		if last.Role == "user" {
			blocks := last.Content.([]anthropicContent)
			for i := range blocks {
				if blocks[i].Type == "text" {
					blocks[i].Text += turnCloseMarker
					break
				}
			}
		}
	}

	return messages, nil
}

// fetchInline downloads an attachment and memoizes the base64 payload.
func (a *anthropicAdapter) fetchInline(ctx context.Context, url string) (inlineImage, error) {
	return a.images.GetOrFill(ctx, url, func(ctx context.Context) (inlineImage, error) {
		data, contentType, err := a.client.FetchBytes(ctx, url)
		if err != nil {
			return inlineImage{}, err
		}
		if contentType == "" || !strings.HasPrefix(contentType, "image/") {
			contentType = "image/png"
		}
		return inlineImage{
			MediaType: contentType,
			Data:      base64.StdEncoding.EncodeToString(data),
		}, nil
	})
}
