// Package provider – describe.go implements the auxiliary model calls the
// compiler and orchestration loop lean on: image descriptions for vision
// personas, embed descriptions, and the web lookup collaborator. All
// results are memoized for an hour, keyed by URL or text digest, since the
// same attachment tends to be recompiled across consecutive dispatches.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/charade/pkg/charade/cache"
)

const (
	// describeImagePrompt asks for a compressed, reconstructable
	// description rather than prose, so it survives re-inference.
	describeImagePrompt = "Describe the image as succinctly as possible, " +
		"compressed to roughly tweet length. Ensure the whole image is " +
		"described; abbreviations and symbols are fine as long as the " +
		"description would reproduce the image's content in a new " +
		"inference cycle."

	describeEmbedPrompt = "Describe the following embed. Compress the text " +
		"to roughly tweet length such that a language model could " +
		"reconstruct the author's intention. It should stay human readable."

	lookupPrompt = "Answer the following question, adding urls and as much " +
		"detail as possible. If you do not know the answer, say \"I do " +
		"not know\". "
)

// DescriberConfig selects the models behind the describe/lookup calls.
type DescriberConfig struct {
	// Model describes embeds and images when the persona has no vision
	// model of its own.
	Model string `yaml:"model"`

	// Lookup is the endpoint/credential for the question-answering
	// collaborator.
	Lookup Credentials `yaml:"lookup"`

	// LookupModel is the model asked to answer lookup questions.
	LookupModel string `yaml:"lookup_model"`
}

// Describer issues the vision, embed, and lookup calls.
type Describer struct {
	client       *Client
	model        string
	lookupClient *Client
	lookupModel  string

	descriptions *cache.TTL[string]
	lookups      *cache.TTL[string]
	logger       *slog.Logger
}

// NewDescriber creates a describer over the registry. client serves the
// describe calls; the lookup collaborator gets its own credential pair.
func NewDescriber(client *Client, registry *Registry, cfg DescriberConfig, logger *slog.Logger) *Describer {
	if logger == nil {
		logger = slog.Default()
	}
	lookupClient := client
	if cfg.Lookup.BaseURL != "" {
		lookupClient = registry.Acquire(cfg.Lookup.BaseURL, cfg.Lookup.APIKey)
	}
	return &Describer{
		client:       client,
		model:        cfg.Model,
		lookupClient: lookupClient,
		lookupModel:  cfg.LookupModel,
		descriptions: cache.New[string](time.Hour),
		lookups:      cache.New[string](time.Hour),
		logger:       logger.With("component", "describer"),
	}
}

// DescribeImage returns a cached textual description of the image at url,
// produced by the persona's vision model (or the default describe model).
func (d *Describer) DescribeImage(ctx context.Context, url, model string) (string, error) {
	if model == "" {
		model = d.model
	}
	key := model + "\x00" + url
	return d.descriptions.GetOrFill(ctx, key, func(ctx context.Context) (string, error) {
		resp, err := d.client.completeChat(ctx, chatRequest{
			Model: model,
			Messages: []chatMessage{{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: describeImagePrompt},
					{Type: "image_url", ImageURL: &imageRef{URL: url}},
				},
			}},
		})
		if err != nil {
			return "", fmt.Errorf("describe image: %w", err)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// DescribeEmbed returns a cached textual description of an embed, keyed by
// a digest of its serialized form.
func (d *Describer) DescribeEmbed(ctx context.Context, embedJSON string) (string, error) {
	key := "embed\x00" + digest(embedJSON)
	return d.descriptions.GetOrFill(ctx, key, func(ctx context.Context) (string, error) {
		resp, err := d.client.completeChat(ctx, chatRequest{
			Model: d.model,
			Messages: []chatMessage{
				{Role: "system", Content: describeEmbedPrompt},
				{Role: "user", Content: embedJSON},
			},
		})
		if err != nil {
			return "", fmt.Errorf("describe embed: %w", err)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// Lookup forwards a question to the question-answering collaborator and
// returns its cached answer.
func (d *Describer) Lookup(ctx context.Context, question string) (string, error) {
	key := "lookup\x00" + digest(question)
	return d.lookups.GetOrFill(ctx, key, func(ctx context.Context) (string, error) {
		resp, err := d.lookupClient.completeChat(ctx, chatRequest{
			Model: d.lookupModel,
			Messages: []chatMessage{{
				Role:    "user",
				Content: lookupPrompt + question,
			}},
		})
		if err != nil {
			return "", fmt.Errorf("lookup: %w", err)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// Sweep drops expired cache entries, returning how many were removed.
// Called by the maintenance scheduler.
func (d *Describer) Sweep() int {
	return d.descriptions.Sweep() + d.lookups.Sweep()
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
