package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/charade/pkg/charade/channels/discord"
	"github.com/jholhewres/charade/pkg/charade/compiler"
	"github.com/jholhewres/charade/pkg/charade/dispatch"
	"github.com/jholhewres/charade/pkg/charade/engine"
	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/postproc"
	"github.com/jholhewres/charade/pkg/charade/provider"
	"github.com/jholhewres/charade/pkg/charade/scheduler"
	"github.com/jholhewres/charade/pkg/charade/store"
)

// newServeCmd creates the `charade serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and route messages to personas",
		Long: `Start charade as a daemon: connect the Discord transport, watch the
bound channels, and dispatch inbound messages to the configured personas.

Examples:
  charade serve
  charade serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	cached := store.NewCached(st, 5*time.Minute)

	transport := discord.New(discord.Config{
		Token:         cfg.Discord.Token,
		AllowedGuilds: cfg.Discord.AllowedGuilds,
	}, logger)

	registry := provider.NewRegistry(cfg.FamilyCredentials(), logger)
	adapters := provider.NewAdapters(registry, logger)
	describer := provider.NewDescriber(registry.ForFamily(persona.FamilyChat), registry, cfg.Describer, logger)

	comp := compiler.New(cached, describer, logger)
	eng := engine.New(cached, adapters, describer, logger)
	proc := postproc.New(cached, transport, adapters, postproc.RegistryGenerators{Registry: registry}, logger)
	dispatcher := dispatch.New(cached, transport, comp, eng, proc, logger)

	sched, err := scheduler.New(cfg.Scheduler.SweepSpec, cfg.Scheduler.RefreshSpec, describer, cached, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	defer transport.Disconnect()

	sched.Start()
	defer sched.Stop()

	runDone := make(chan error, 1)
	go func() { runDone <- dispatcher.Run(ctx) }()

	logger.Info("charade running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping")
		cancel()
	case err := <-runDone:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("dispatcher stopped: %w", err)
		}
	}
	return nil
}
