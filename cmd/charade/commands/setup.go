package commands

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/charade/pkg/charade/persona"
	"github.com/jholhewres/charade/pkg/charade/store"
)

// newSetupCmd creates the `charade setup` command: an interactive form
// that writes a new persona to the store.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create a persona interactively",
		RunE:  runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var (
		name      string
		channelID string
		prompt    string
		avatarURL string
		family    string
		model     string
		limitStr  = "5"
		chanceStr = "0"
		isDefault bool
		perUser   bool
		canPing   bool
		vision    bool
		lookup    bool
		images    bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Description("The display name the persona replies under").
				Validate(notEmpty).
				Value(&name),
			huh.NewInput().
				Title("Channel ID").
				Description("The Discord channel this persona lives in").
				Validate(notEmpty).
				Value(&channelID),
			huh.NewText().
				Title("Prompt").
				Description("The persona's character prompt").
				Value(&prompt),
			huh.NewInput().
				Title("Avatar URL").
				Value(&avatarURL),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Backend family").
				Options(
					huh.NewOption("Chat (OpenAI-compatible, tool calling)", string(persona.FamilyChat)),
					huh.NewOption("Legacy completion", string(persona.FamilyCompletion)),
					huh.NewOption("Anthropic", string(persona.FamilyAnthropic)),
					huh.NewOption("Custom HTTP endpoint", string(persona.FamilyEndpoint)),
				).
				Value(&family),
			huh.NewInput().
				Title("Model").
				Description("Model identifier, or the endpoint URL for the endpoint family").
				Validate(notEmpty).
				Value(&model),
			huh.NewInput().
				Title("Window size").
				Description("How many recent messages the persona sees").
				Validate(isInt).
				Value(&limitStr),
			huh.NewInput().
				Title("Chance").
				Description("Probability (0-1) of replying to a message that engaged nobody").
				Validate(isFloat).
				Value(&chanceStr),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Default persona for bare bot mentions?").Value(&isDefault),
			huh.NewConfirm().Title("Keep speakers apart (per-speaker turns)?").Value(&perUser),
			huh.NewConfirm().Title("Allow pinging users?").Value(&canPing),
			huh.NewConfirm().Title("Enable vision?").Value(&vision),
			huh.NewConfirm().Title("Enable web lookup?").Value(&lookup),
			huh.NewConfirm().Title("Allow posting generated images?").Value(&images),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	limit, _ := strconv.Atoi(limitStr)
	chance, _ := strconv.ParseFloat(chanceStr, 64)

	p, err := st.CreatePersona(cmd.Context(), &persona.Persona{
		ChannelID:      channelID,
		Name:           name,
		Prompt:         prompt,
		AvatarURL:      avatarURL,
		Default:        isDefault,
		Family:         persona.BackendFamily(family),
		Model:          model,
		Limit:          limit,
		Chance:         chance,
		MessagePerUser: perUser,
		CanPingUsers:   canPing,
		EnableVision:   vision,
		CanLookup:      lookup,
		CanPostImages:  images,
	})
	if err != nil {
		return fmt.Errorf("create persona: %w", err)
	}

	fmt.Printf("Persona %q created (id %s).\n", p.Name, p.ID)
	return nil
}

func notEmpty(s string) error {
	if s == "" {
		return fmt.Errorf("required")
	}
	return nil
}

func isInt(s string) error {
	if _, err := strconv.Atoi(s); err != nil {
		return fmt.Errorf("must be a whole number")
	}
	return nil
}

func isFloat(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 1 {
		return fmt.Errorf("must be a number between 0 and 1")
	}
	return nil
}
