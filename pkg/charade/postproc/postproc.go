// Package postproc shapes engine output for delivery: ping redaction,
// length-bounded chunking, and relevance-gated image generation.
package postproc

import (
	"context"
	"errors"
	"log/slog"
	"regexp"

	"github.com/jholhewres/charade/pkg/charade/channels"
	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/provider"
	"github.com/jholhewres/charade/pkg/charade/store"
)

// mentionRe matches platform user-mention tokens.
var mentionRe = regexp.MustCompile(`<@!?(\d+)>`)

// classifierTool is the forced tool used to decide whether a reply
// deserves a generated image.
var classifierTool = &persona.ToolSpec{
	Name:        "generate_image",
	Description: "Decide whether the reply would benefit from a generated image, and describe it.",
	Params: []persona.ToolParam{
		{
			Name:        "shouldGenerate",
			Type:        persona.ParamBoolean,
			Description: "Whether an image should accompany the reply",
			Required:    true,
		},
		{
			Name:        "prompt",
			Type:        persona.ParamString,
			Description: "The image generation prompt, when shouldGenerate is true",
		},
	},
}

// NameResolver looks up a platform user's display name.
// Satisfied by channels.Transport.
type NameResolver interface {
	ResolveDisplayName(ctx context.Context, userID string) (string, error)
}

// AdapterSource hands out the provider adapter for a persona.
type AdapterSource interface {
	ForPersona(p *persona.Persona) provider.Adapter
}

// ImageGenerator renders and fetches generated images.
// Satisfied by provider.Client.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, size, model string) (string, error)
	FetchBytes(ctx context.Context, url string) ([]byte, string, error)
}

// GeneratorSource resolves the image client for a persona.
type GeneratorSource interface {
	GeneratorFor(p *persona.Persona) ImageGenerator
}

// RegistryGenerators adapts the provider client registry into a
// GeneratorSource.
type RegistryGenerators struct {
	Registry *provider.Registry
}

func (g RegistryGenerators) GeneratorFor(p *persona.Persona) ImageGenerator {
	return g.Registry.ForPersona(p)
}

// Result is the processed reply: ordered chunks plus files riding on the
// last chunk.
type Result struct {
	Chunks []string
	Files  []*channels.File
}

// Processor applies the post-processing pipeline.
type Processor struct {
	store      store.Store
	resolver   NameResolver
	adapters   AdapterSource
	generators GeneratorSource
	logger     *slog.Logger
}

// New creates a Processor. adapters and generators may be nil, which
// disables image augmentation.
func New(st store.Store, resolver NameResolver, adapters AdapterSource, generators GeneratorSource, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:      st,
		resolver:   resolver,
		adapters:   adapters,
		generators: generators,
		logger:     logger.With("component", "postproc"),
	}
}

// Process redacts pings, chunks the reply under maxLen, and runs the
// image augmentation step for image-capable personas. lastUserText is
// the triggering message body, given to the relevance classifier.
func (pr *Processor) Process(ctx context.Context, p *persona.Persona, lastUserText, reply string, maxLen int) (*Result, error) {
	text := pr.RedactPings(ctx, reply)
	res := &Result{Chunks: Chunk(text, maxLen)}

	if p.CanPostImages && pr.adapters != nil && pr.generators != nil {
		if file := pr.generateImage(ctx, p, lastUserText, text); file != nil {
			res.Files = append(res.Files, file)
		}
	}
	return res, nil
}

// RedactPings rewrites mention tokens for users who opted out of being
// pinged into a plain @displayname string. One store lookup and one
// transport lookup per distinct mentioned id; a failed lookup leaves the
// token untouched. Idempotent: the replacement contains no token.
func (pr *Processor) RedactPings(ctx context.Context, text string) string {
	seen := map[string]string{}
	return mentionRe.ReplaceAllStringFunc(text, func(token string) string {
		userID := mentionRe.FindStringSubmatch(token)[1]
		if replacement, ok := seen[userID]; ok {
			if replacement == "" {
				return token
			}
			return replacement
		}

		pref, err := pr.store.PreferenceByUserID(ctx, userID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				pr.logger.Warn("preference lookup failed", "user", userID, "error", err)
			}
			seen[userID] = ""
			return token
		}
		if !pref.PreventPings {
			seen[userID] = ""
			return token
		}

		name := pref.Username
		if pr.resolver != nil {
			if resolved, err := pr.resolver.ResolveDisplayName(ctx, userID); err == nil && resolved != "" {
				name = resolved
			}
		}
		if name == "" {
			seen[userID] = ""
			return token
		}
		replacement := "@" + name
		seen[userID] = replacement
		return replacement
	})
}

// generateImage runs the forced relevance classifier over the last user
// message plus the reply and, when it says yes, renders the image.
// Every failure here downgrades to a text-only reply.
func (pr *Processor) generateImage(ctx context.Context, p *persona.Persona, lastUserText, reply string) *channels.File {
	adapter := pr.adapters.ForPersona(p)
	out, err := adapter.Execute(ctx, provider.Request{
		Model: p.EffectiveInitialModel(),
		Turns: []provider.Turn{{
			Role: provider.RoleUser,
			Text: lastUserText + "\n" + reply,
		}},
		Tools:       []*persona.ToolSpec{classifierTool},
		ToolChoice:  provider.ToolChoice{Forced: classifierTool.Name},
		SpeakerName: p.Name,
	})
	if err != nil {
		pr.logger.Warn("image classifier failed", "persona", p.Name, "error", err)
		return nil
	}
	if out.Invocation == nil || !out.Invocation.BoolArg("shouldGenerate") {
		return nil
	}
	prompt := out.Invocation.StringArg("prompt")
	if prompt == "" {
		return nil
	}

	gen := pr.generators.GeneratorFor(p)
	url, err := gen.GenerateImage(ctx, prompt, p.ImageSize, p.ImageModel)
	if err != nil {
		pr.logger.Warn("image generation failed", "persona", p.Name, "error", err)
		return nil
	}
	data, contentType, err := gen.FetchBytes(ctx, url)
	if err != nil {
		pr.logger.Warn("image fetch failed", "url", url, "error", err)
		return nil
	}
	if contentType == "" {
		contentType = "image/png"
	}
	return &channels.File{Name: "generated.png", ContentType: contentType, Data: data}
}
