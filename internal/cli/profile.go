package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/policytrace/internal/config"
	"github.com/gyaneshwarpardhi/policytrace/internal/event"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the identity recorded on events",
	}

	setName := &cobra.Command{
		Use:   "set-name NAME",
		Short: "Save the actor name to the config file",
		Long: `Write session.actor to the config file. A running "policytrace run"
picks the new name up on its next config reload; events already buffered keep
the name they were recorded with.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("name must not be empty")
			}
			// The file is rewritten from its own contents, without flag or
			// environment overrides.
			loader, err := config.NewLoader(a.cfgPath, nil)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg := *loader.Config()
			cfg.Session.Actor = name
			if err := config.Save(a.cfgPath, &cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Actor set to %q in %s\n", name, a.cfgPath)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective actor and start page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := a.load(nil)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			actor := cfg.Session.Actor
			if actor == "" {
				actor = event.AnonymousActor
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Actor: %s\nPage:  %s\n", actor, cfg.Session.Page)
			return nil
		},
	}

	cmd.AddCommand(setName, show)
	return cmd
}
