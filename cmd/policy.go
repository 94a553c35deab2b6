package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/observ/internal/config"
	"github.com/zjrosen/observ/internal/pubsub"
)

var policyCmd = &cobra.Command{
	Use:   "policy [fail_fast|collect_all]",
	Short: "Show or set how emits report callback failures",
	Long: `Show the configured error policy, or save a new one to the config file.

fail_fast returns the first callback failure once every callback has finished.
collect_all returns every failure aggregated into one error.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{pubsub.FailFast.String(), pubsub.CollectAll.String()},
	RunE:      runPolicy,
}

func init() {
	rootCmd.AddCommand(policyCmd)
}

func runPolicy(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		p, err := cfg.ErrorPolicy()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, p.String())
		return nil
	}

	if err := config.SaveErrorPolicy(configPath(), args[0]); err != nil {
		return fmt.Errorf("saving error policy: %w", err)
	}
	cfg.Emit.ErrorPolicy = args[0]
	_, _ = fmt.Fprintf(out, "saved error policy %s to %s\n", args[0], configPath())
	return nil
}
