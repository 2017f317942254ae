package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/charade/pkg/charade/config"
)

// secretKeys are the keyring entries `config set-key` accepts.
var secretKeys = []string{
	config.KeyDiscordToken,
	config.KeyOpenAI,
	config.KeyAnthropic,
	config.KeyLookup,
}

// newConfigCmd creates the `charade config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and secrets",
	}
	cmd.AddCommand(newConfigSetKeyCmd(), newConfigShowCmd())
	return cmd
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <name>",
		Short: "Store a secret in the OS keyring",
		Long: `Store a secret in the operating system keyring so it never has to
live in the config file. Accepted names: ` + strings.Join(secretKeys, ", ") + `.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !validSecretKey(name) {
				return fmt.Errorf("unknown key %q (accepted: %s)", name, strings.Join(secretKeys, ", "))
			}

			value, err := readSecret(fmt.Sprintf("Value for %s (hidden): ", name))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := config.StoreKeyring(name, value); err != nil {
				return fmt.Errorf("store in keyring: %w", err)
			}
			fmt.Printf("Stored %s in the OS keyring.\n", name)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (secrets masked)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("logging:    level=%s format=%s\n", cfg.Logging.Level, cfg.Logging.Format)
			fmt.Printf("store:      %s\n", cfg.Store.Path)
			fmt.Printf("discord:    token=%s guilds=%v\n", mask(cfg.Discord.Token), cfg.Discord.AllowedGuilds)
			fmt.Printf("chat:       %s key=%s\n", cfg.Providers.Chat.BaseURL, mask(cfg.Providers.Chat.APIKey))
			fmt.Printf("completion: %s key=%s\n", cfg.Providers.Completion.BaseURL, mask(cfg.Providers.Completion.APIKey))
			fmt.Printf("anthropic:  %s key=%s\n", cfg.Providers.Anthropic.BaseURL, mask(cfg.Providers.Anthropic.APIKey))
			fmt.Printf("describer:  model=%s lookup=%s\n", cfg.Describer.Model, cfg.Describer.LookupModel)
			fmt.Printf("scheduler:  sweep=%q refresh=%q\n", cfg.Scheduler.SweepSpec, cfg.Scheduler.RefreshSpec)
			return nil
		},
	}
}

func validSecretKey(name string) bool {
	for _, k := range secretKeys {
		if k == name {
			return true
		}
	}
	return false
}

// readSecret prompts for a value without echoing. Falls back to plain
// stdin when not attached to a terminal (piped input).
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	var buf [1024]byte
	n, err := os.Stdin.Read(buf[:])
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

func mask(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}
