// Package cli implements the policytrace command line.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfigPath = "policytrace.yaml"

// Settings that flags and POLICYTRACE_* environment variables may override.
var overridable = []string{
	"collector.endpoint",
	"fallback.mode",
	"fallback.spool_path",
	"session.actor",
	"logging.level",
	"logging.format",
	"server.addr",
}

// NewRootCmd builds the command tree. Each call returns an independent tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "policytrace",
		Short: "Interaction telemetry for the climate-adaptation policy dashboard",
		Long: `policytrace buffers dashboard interaction events and ships them to a
collector in batches of up to 20, every 60 seconds, or when the page goes away.

Configuration cascade (priority order):
  1. Command-line flags
  2. POLICYTRACE_* environment variables (POLICYTRACE_COLLECTOR_ENDPOINT, ...)
  3. The YAML config file (--config, default ./policytrace.yaml)
  4. Built-in defaults`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", defaultConfigPath, "config file")
	flags.String("endpoint", "", "collector URL (overrides collector.endpoint)")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "text or json")

	a.v.SetEnvPrefix("POLICYTRACE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()
	for _, key := range overridable {
		_ = a.v.BindEnv(key)
	}
	_ = a.v.BindPFlag("collector.endpoint", flags.Lookup("endpoint"))
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("logging.format", flags.Lookup("log-format"))

	root.AddCommand(
		newRunCmd(a),
		newReplayCmd(a),
		newSimulateCmd(a),
		newSpoolCmd(a),
		newProfileCmd(a),
	)
	return root
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
