// Package engine runs the bounded orchestration loop that turns a
// compiled window into reply text: optional priming, optional lookup
// augmentation, then the final answer or template expansion.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/charade/pkg/charade/compiler"
	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/provider"
	"github.com/jholhewres/charade/pkg/charade/store"
)

// state is one stage of the orchestration loop.
type state int

const (
	stateInit state = iota
	statePrimer
	stateLookup
	stateFinal
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "init"
	case statePrimer:
		return "primer"
	case stateLookup:
		return "lookup"
	case stateFinal:
		return "final"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// lookupTool is the fixed free-text tool offered when a persona has
// lookup capability.
var lookupTool = &persona.ToolSpec{
	Name:        "lookup",
	Description: "Look up the answer to a question you do not know the answer to.",
	Params: []persona.ToolParam{{
		Name:        "text",
		Type:        persona.ParamString,
		Description: "The question to look up",
		Required:    true,
	}},
}

// AdapterSource hands out the provider adapter for a persona.
// Satisfied by provider.Adapters.
type AdapterSource interface {
	ForPersona(p *persona.Persona) provider.Adapter
}

// Answerer delegates lookup questions to an external collaborator.
// Satisfied by provider.Describer.
type Answerer interface {
	Lookup(ctx context.Context, question string) (string, error)
}

// Engine drives the orchestration loop for one persona at a time.
type Engine struct {
	store    store.Store
	adapters AdapterSource
	answerer Answerer
	logger   *slog.Logger
}

// New creates an Engine. answerer may be nil, which disables the lookup
// stage even for lookup-capable personas.
func New(st store.Store, adapters AdapterSource, answerer Answerer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		adapters: adapters,
		answerer: answerer,
		logger:   logger.With("component", "engine"),
	}
}

// run is the per-dispatch loop state: the growing turn window plus the
// tools resolved for this persona.
type run struct {
	persona  *persona.Persona
	adapter  provider.Adapter
	system   string
	turns    []provider.Turn
	primer   *persona.ToolSpec
	template *persona.ToolSpec
}

// Respond walks the loop over a compiled window and returns the reply
// text. A failure in any stage short-circuits the remaining stages and
// returns an empty reply alongside the error; turns already built are
// never unwound.
func (e *Engine) Respond(ctx context.Context, p *persona.Persona, compiled *compiler.Compiled) (string, error) {
	r, err := e.prepare(ctx, p, compiled)
	if err != nil {
		return "", err
	}

	st := statePrimer
	for {
		switch st {
		case statePrimer:
			if r.primer == nil {
				st = stateLookup
				continue
			}
			if err := e.runPrimer(ctx, r); err != nil {
				e.logger.Warn("primer stage failed", "persona", p.Name, "error", err)
				return "", err
			}
			st = stateLookup

		case stateLookup:
			if !p.CanLookup || e.answerer == nil {
				st = stateFinal
				continue
			}
			if err := e.runLookup(ctx, r); err != nil {
				e.logger.Warn("lookup stage failed", "persona", p.Name, "error", err)
				return "", err
			}
			st = stateFinal

		case stateFinal:
			text, err := e.runFinal(ctx, r)
			if err != nil {
				e.logger.Warn("final stage failed", "persona", p.Name, "error", err)
				return "", err
			}
			return text, nil
		}
	}
}

// prepare resolves the persona's adapter and tool references.
func (e *Engine) prepare(ctx context.Context, p *persona.Persona, compiled *compiler.Compiled) (*run, error) {
	adapter := e.adapters.ForPersona(p)
	if adapter == nil {
		return nil, fmt.Errorf("no adapter for family %q", p.Family)
	}

	r := &run{
		persona: p,
		adapter: adapter,
		system:  compiled.System,
		turns:   append([]provider.Turn(nil), compiled.Turns...),
	}

	if p.PrimerID != "" {
		tool, err := e.store.ToolByID(ctx, p.PrimerID)
		if err != nil {
			return nil, fmt.Errorf("load primer tool %q: %w", p.PrimerID, err)
		}
		r.primer = tool
	}
	if p.ResponseTemplateID != "" {
		tool, err := e.store.ToolByID(ctx, p.ResponseTemplateID)
		if err != nil {
			return nil, fmt.Errorf("load response template %q: %w", p.ResponseTemplateID, err)
		}
		r.template = tool
	}
	return r, nil
}

// runPrimer forces the primer tool once. A declined call appends
// nothing; a call appends the assistant echo plus its expanded result.
func (e *Engine) runPrimer(ctx context.Context, r *run) error {
	out, err := r.adapter.Execute(ctx, r.request(r.persona.EffectiveInitialModel(), []*persona.ToolSpec{r.primer}, provider.ToolChoice{Forced: r.primer.Name}))
	if err != nil {
		return err
	}
	if out.Invocation == nil {
		return nil
	}
	result := out.Invocation.RawArgs
	if r.primer.Template != "" {
		result = Expand(r.primer.Template, out.Invocation.Args)
	}
	r.appendCall(out.Invocation, result)
	return nil
}

// runLookup offers the lookup tool one round, alongside the primer tool
// when one exists. An unanswerable question (collaborator failure) is
// skipped rather than failing the dispatch.
func (e *Engine) runLookup(ctx context.Context, r *run) error {
	tools := []*persona.ToolSpec{lookupTool}
	if r.primer != nil {
		tools = append(tools, r.primer)
	}
	out, err := r.adapter.Execute(ctx, r.request(r.persona.EffectiveInitialModel(), tools, provider.ToolChoice{}))
	if err != nil {
		return err
	}
	if out.Invocation == nil || out.Invocation.Name != lookupTool.Name {
		return nil
	}

	question := out.Invocation.StringArg("text")
	answer, err := e.answerer.Lookup(ctx, question)
	if err != nil {
		e.logger.Warn("lookup collaborator failed, continuing without", "question", question, "error", err)
		return nil
	}
	r.appendCall(out.Invocation, "(this result is not shown to the user)\n"+answer)
	return nil
}

// runFinal produces the reply: a forced response-template expansion when
// the persona has one, a free-form completion otherwise.
func (e *Engine) runFinal(ctx context.Context, r *run) (string, error) {
	var req provider.Request
	if r.template != nil {
		req = r.request(r.persona.Model, []*persona.ToolSpec{r.template}, provider.ToolChoice{Forced: r.template.Name})
	} else {
		req = r.request(r.persona.Model, nil, provider.ToolChoice{})
	}

	out, err := r.adapter.Execute(ctx, req)
	if err != nil {
		return "", err
	}

	text := out.Text
	if r.template != nil && out.Invocation != nil {
		text = Expand(r.template.Template, out.Invocation.Args)
	}
	return stripSpeakerArtifact(strings.TrimSpace(text)), nil
}

func (r *run) request(model string, tools []*persona.ToolSpec, choice provider.ToolChoice) provider.Request {
	return provider.Request{
		Model:         model,
		System:        r.system,
		Turns:         r.turns,
		Tools:         tools,
		ToolChoice:    choice,
		StopSequences: r.persona.StopSequences(),
		PromptSuffix:  r.persona.PromptSuffix,
		SpeakerName:   r.persona.Name,
		EndpointURL:   r.persona.EndpointURL,
	}
}

// appendCall records a tool call in the window: the assistant turn
// echoing the invocation, then its tool-result turn.
func (r *run) appendCall(inv *provider.ToolInvocation, result string) {
	r.turns = append(r.turns,
		provider.Turn{Role: provider.RoleAssistant, ToolCalls: []provider.ToolInvocation{*inv}},
		provider.Turn{Role: provider.RoleToolResult, Text: result, ToolResultID: inv.ID, ToolResultName: inv.Name},
	)
}

// stripSpeakerArtifact drops a leaked "[ts] <name>: " prefix. The marker
// is the closing ">: " of the speaker header.
func stripSpeakerArtifact(text string) string {
	if i := strings.Index(text, ">: "); i >= 0 {
		return text[i+len(">: "):]
	}
	return text
}
