package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/policytrace/internal/transport"
)

func newSpoolCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spool",
		Short: "Inspect and replay the offline fallback spool",
		Long:  "Batches the collector could not take are kept in a local SQLite spool when fallback.mode is spool.",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show how many batches are waiting in the spool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := a.load(nil)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			sp, err := transport.OpenSpool(cfg.Fallback.SpoolPath)
			if err != nil {
				return err
			}
			defer sp.Close()

			n, err := sp.Pending(cmd.Context())
			if err != nil {
				return err
			}
			events, bad, err := sp.PendingEvents(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Spool: %s\nPending batches: %d\nPending events: %d\n", cfg.Fallback.SpoolPath, n, events)
			if bad > 0 {
				fmt.Fprintf(out, "Unreadable batches: %d\n", bad)
			}
			return nil
		},
	}

	var limit int
	drain := &cobra.Command{
		Use:   "drain",
		Short: "Replay spooled batches to the collector, oldest first",
		Long: `Send spooled batches to collector.endpoint oldest first. Each delivered
batch is removed from the spool; the first failure stops the drain and keeps
the rest for a later attempt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := a.load(nil)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Collector.Endpoint == "" {
				return fmt.Errorf("collector endpoint is required (use --endpoint or set collector.endpoint)")
			}
			sp, err := transport.OpenSpool(cfg.Fallback.SpoolPath)
			if err != nil {
				return err
			}
			defer sp.Close()

			client := transport.New(cfg.Collector.Endpoint, cfg.CollectorTimeout())
			res, err := sp.Drain(cmd.Context(), client, limit)
			fmt.Fprintf(cmd.OutOrStdout(), "Sent: %d\nRemaining: %d\n", res.Sent, res.Remaining)
			if err != nil {
				return fmt.Errorf("drain stopped: %w", err)
			}
			return nil
		},
	}
	drain.Flags().IntVar(&limit, "limit", 0, "maximum batches to send (0 = all)")

	cmd.AddCommand(stats, drain)
	return cmd
}
