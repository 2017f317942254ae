package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/user"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/charade/pkg/charade/compiler"
	"github.com/jholhewres/charade/pkg/charade/engine"
	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/provider"
	"github.com/jholhewres/charade/pkg/charade/store"
)

// newChatCmd creates the `charade chat` command, a local REPL against a
// single persona. Useful for prompt iteration without a live channel.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <persona>",
		Short: "Talk to a persona in a local REPL",
		Args:  cobra.ExactArgs(1),
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	p, err := st.PersonaByName(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no persona named %q; create one with 'charade setup'", args[0])
		}
		return err
	}

	registry := provider.NewRegistry(cfg.FamilyCredentials(), logger)
	adapters := provider.NewAdapters(registry, logger)
	describer := provider.NewDescriber(registry.ForFamily(persona.FamilyChat), registry, cfg.Describer, logger)
	comp := compiler.New(st, describer, logger)
	eng := engine.New(st, adapters, describer, logger)

	speaker := "you"
	if u, err := user.Current(); err == nil && u.Username != "" {
		speaker = u.Username
	}

	rl, err := readline.New(speaker + "> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Chatting with %s. Ctrl+D to exit.\n", p.Name)

	var history []*persona.PlatformMessage
	seq := 0
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if line == "" {
			continue
		}

		seq++
		msg := &persona.PlatformMessage{
			ID:         fmt.Sprintf("local-%d", seq),
			ChannelID:  "local",
			AuthorID:   "local-user",
			AuthorName: speaker,
			Text:       line,
			CleanText:  line,
			CreatedAt:  time.Now(),
		}
		history = appendWindow(history, msg, p.EffectiveLimit())

		ctx := context.Background()
		compiled, err := comp.Compile(ctx, p, history, msg, nil, "")
		if err != nil {
			fmt.Printf("! compile failed: %v\n", err)
			continue
		}
		reply, err := eng.Respond(ctx, p, compiled)
		if err != nil {
			fmt.Printf("! %v\n", err)
			continue
		}
		if reply == "" {
			continue
		}
		fmt.Printf("%s> %s\n", p.Name, reply)

		seq++
		history = appendWindow(history, &persona.PlatformMessage{
			ID:          fmt.Sprintf("local-%d", seq),
			ChannelID:   "local",
			AuthorID:    "local-bot",
			AuthorName:  p.Name,
			AuthorIsBot: true,
			Text:        reply,
			CleanText:   reply,
			CreatedAt:   time.Now(),
		}, p.EffectiveLimit())
	}
}

// appendWindow appends and trims the history to the persona's window.
func appendWindow(history []*persona.PlatformMessage, msg *persona.PlatformMessage, limit int) []*persona.PlatformMessage {
	history = append(history, msg)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
