// Package provider translates compiled conversation turns and tool
// definitions into each backend family's wire format and interprets the
// response. Adapters are capability-polymorphic: one implementation per
// backend family, selected by Adapters.ForPersona, never by subclassing.
package provider

import (
	"encoding/json"

	"github.com/jholhewres/charade/pkg/charade/persona"
)

// Role tags one compiled turn.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ImageBlock is a binary media block riding on a turn. Adapters decide
// whether to pass the URL through or fetch and inline the bytes.
type ImageBlock struct {
	URL string
}

// Turn is one provider-agnostic unit of compiled conversation content.
// Turns preserve the strict chronological order of their source messages.
type Turn struct {
	Role Role

	// Speaker is the normalized speaker tag, set in per-speaker
	// aggregation mode. Merging in that mode only joins consecutive turns
	// with an identical tag.
	Speaker string

	Text   string
	Images []ImageBlock

	// ToolCalls echoes a model tool invocation back into the window
	// (assistant turns appended by the orchestration loop).
	ToolCalls []ToolInvocation

	// ToolResultID and ToolResultName identify the call a tool_result
	// turn answers.
	ToolResultID   string
	ToolResultName string
}

// ToolInvocation is a tool call emitted by the model. Request-scoped,
// discarded after one orchestration run.
type ToolInvocation struct {
	ID   string
	Name string

	// Args is the parsed argument map; RawArgs keeps the provider's
	// original serialization for echoing back.
	Args    map[string]any
	RawArgs string
}

// StringArg returns a string argument by name, or "" when absent or not a
// string.
func (t *ToolInvocation) StringArg(name string) string {
	if t == nil {
		return ""
	}
	s, _ := t.Args[name].(string)
	return s
}

// BoolArg returns a boolean argument by name.
func (t *ToolInvocation) BoolArg(name string) bool {
	if t == nil {
		return false
	}
	b, _ := t.Args[name].(bool)
	return b
}

// ToolChoice controls whether the model may, must not, or must call a tool.
type ToolChoice struct {
	// Forced names the tool the model is required to call. Empty means
	// free choice among the offered tools.
	Forced string
}

// Request is the adapter contract input: compiled turns plus the tools on
// offer for this stage.
type Request struct {
	Model  string
	System string
	Turns  []Turn

	Tools      []*persona.ToolSpec
	ToolChoice ToolChoice

	// StopSequences truncate flattened-prompt output client-side.
	// Completion and endpoint families only.
	StopSequences []string

	// PromptSuffix overrides the generated speaker-prefix cue appended to
	// flattened prompts.
	PromptSuffix string

	// SpeakerName is the persona name, used for the speaker-prefix cue.
	SpeakerName string

	// EndpointURL targets the single-endpoint family.
	EndpointURL string
}

// Outcome is the adapter contract output: free text or exactly one tool
// invocation, never both. A failed call yields a zero Outcome and an error;
// callers convert that to an empty-result outcome rather than propagating.
type Outcome struct {
	Text       string
	Invocation *ToolInvocation
}

// jsonSchema is the parameters object of an OpenAI-style function
// definition.
type jsonSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type schemaProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Items       *struct {
		Type string `json:"type"`
	} `json:"items,omitempty"`
}

// toolSchema converts a ToolSpec's ordered parameter list into a JSON
// schema parameters object.
func toolSchema(spec *persona.ToolSpec) json.RawMessage {
	schema := jsonSchema{
		Type:       "object",
		Properties: make(map[string]schemaProperty, len(spec.Params)),
	}
	for _, p := range spec.Params {
		prop := schemaProperty{
			Type:        string(p.Type),
			Description: p.Description,
		}
		if len(p.AllowedValues) > 0 {
			prop.Enum = p.AllowedValues
		}
		if p.Type == persona.ParamArray {
			prop.Items = &struct {
				Type string `json:"type"`
			}{Type: "string"}
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		// A ToolSpec is plain strings and bools; this cannot fail.
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return data
}

// toolDefinition converts a ToolSpec to the OpenAI tools wire format.
func toolDefinition(spec *persona.ToolSpec) wireTool {
	return wireTool{
		Type: "function",
		Function: wireFunction{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  toolSchema(spec),
		},
	}
}

// anthropicToolDefinition converts a ToolSpec to the Anthropic tools wire
// format.
func anthropicToolDefinition(spec *persona.ToolSpec) anthropicTool {
	return anthropicTool{
		Name:        spec.Name,
		Description: spec.Description,
		InputSchema: toolSchema(spec),
	}
}
