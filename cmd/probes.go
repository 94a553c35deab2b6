package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/observ/internal/config"
	"github.com/zjrosen/observ/internal/pubsub"
)

var probesSet string

var probesCmd = &cobra.Command{
	Use:   "probes",
	Short: "List activity probes and choose which are enabled",
	Long: `List the activity probes Observables can report to. Enabled probes are
marked with *.

Examples:
  observ probes
  observ probes --set log,metrics`,
	RunE: runProbes,
}

func init() {
	probesCmd.Flags().StringVar(&probesSet, "set", "", "comma separated probes to enable and save to the config file")
	rootCmd.AddCommand(probesCmd)
}

// knownProbes are the probes the CLI can build, registered or not yet.
var knownProbes = []string{"history", "log", "metrics", "noop"}

func runProbes(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if cmd.Flags().Changed("set") {
		var names []string
		for _, n := range strings.Split(probesSet, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		for _, n := range names {
			if !slices.Contains(knownProbes, n) {
				return fmt.Errorf("%w: %s", pubsub.ErrUnknownProbe, n)
			}
		}
		if err := config.SaveProbes(configPath(), names); err != nil {
			return fmt.Errorf("saving probes: %w", err)
		}
		cfg.Probes = names
		_, _ = fmt.Fprintf(out, "saved probes to %s\n", configPath())
	}

	names := slices.Clone(knownProbes)
	for _, n := range pubsub.ProbeNames() {
		if !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	for _, n := range names {
		mark := " "
		if slices.Contains(cfg.Probes, n) {
			mark = "*"
		}
		_, _ = fmt.Fprintf(out, "%s %s\n", mark, n)
	}
	return nil
}
