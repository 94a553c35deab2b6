package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/observ/internal/log"
	"github.com/zjrosen/observ/internal/pubsub"
	"github.com/zjrosen/observ/internal/report"
	"github.com/zjrosen/observ/internal/scenario"
	"github.com/zjrosen/observ/internal/watcher"
)

// ErrTranscriptMismatch is returned when a scenario's transcript differs from
// its expectation.
var ErrTranscriptMismatch = errors.New("transcript does not match expectation")

var (
	playBuiltin     string
	playWatch       bool
	playMetricsAddr string
	playNoVerify    bool
	playList        bool
)

var playgroundCmd = &cobra.Command{
	Use:   "playground [scenario.yaml]",
	Short: "Replay a pubsub scenario and check its transcript",
	Long: `Replay a YAML scenario against real Observables and Observers.

Every step is written to a transcript. When the scenario has an expect
block the transcript is compared with it and the command fails on a mismatch.

Examples:
  # Run a built-in scenario
  observ playground --builtin weak

  # List built-in scenarios
  observ playground --list

  # Re-run a scenario file whenever it changes, exposing Prometheus metrics
  observ playground my.yaml --watch --metrics-addr localhost:9464`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlayground,
}

func init() {
	playgroundCmd.Flags().StringVarP(&playBuiltin, "builtin", "b", "", "run an embedded scenario by name")
	playgroundCmd.Flags().BoolVarP(&playWatch, "watch", "w", false, "re-run the scenario file when it changes")
	playgroundCmd.Flags().StringVar(&playMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	playgroundCmd.Flags().BoolVar(&playNoVerify, "no-verify", false, "skip comparing the transcript with the expect block")
	playgroundCmd.Flags().BoolVarP(&playList, "list", "l", false, "list embedded scenarios")
	rootCmd.AddCommand(playgroundCmd)
}

func runPlayground(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if playList {
		for _, name := range scenario.BuiltinNames() {
			_, _ = fmt.Fprintln(out, name)
		}
		return nil
	}

	var path string
	switch {
	case len(args) == 1 && playBuiltin != "":
		return fmt.Errorf("give a scenario file or --builtin, not both")
	case len(args) == 1:
		path = args[0]
	case playBuiltin == "":
		return fmt.Errorf("a scenario file or --builtin is required")
	}
	if playWatch && path == "" {
		return fmt.Errorf("--watch needs a scenario file")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg, playMetricsAddr)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Close(shutdownCtx); err != nil {
			log.ErrorErr(log.CatConfig, "engine shutdown", err)
		}
	}()

	load := func() (*scenario.Scenario, error) {
		if path != "" {
			return scenario.Load(path)
		}
		return scenario.Builtin(playBuiltin)
	}

	err = play(ctx, out, eng, load, !playNoVerify)
	if !playWatch {
		return err
	}
	if err != nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), err)
	}
	return watch(ctx, out, cmd.ErrOrStderr(), eng, path, load)
}

// play runs one scenario and renders the report to out.
func play(ctx context.Context, out io.Writer, eng *engine, load func() (*scenario.Scenario, error), verify bool) error {
	sc, err := load()
	if err != nil {
		return err
	}

	r, err := scenario.NewRunner(sc, scenario.Options{
		Policy: eng.policy,
		Probe:  eng.probe,
		Tracer: eng.tracer,
	})
	if err != nil {
		return err
	}
	eng.history.Flush()

	res, err := r.Run(ctx)
	if err != nil {
		return fmt.Errorf("running scenario %s: %w", sc.Name, err)
	}

	in := report.Input{Result: res, Recent: eng.history.Recent("")}
	if verify && sc.Expect != "" {
		in.Verified = true
		in.Diff = scenario.Verify(sc.Expect, res.String())
	}
	_, _ = fmt.Fprintln(out, report.Render(in))

	if in.Diff != nil {
		return fmt.Errorf("%s: %w", sc.Name, ErrTranscriptMismatch)
	}
	return nil
}

// watch re-runs the scenario every time the file changes until ctx ends.
// Changes arrive over a Stream bridged from the watcher Observable; an Observer
// also listens in to log them and undoes its subscription on exit.
func watch(ctx context.Context, out, errOut io.Writer, eng *engine, path string, load func() (*scenario.Scenario, error)) error {
	w, err := watcher.New(watcher.DefaultConfig(path), eng.options("watcher")...)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	changes := pubsub.Stream(ctx, w, watcher.EventChanged, eng.streamSize)

	o := pubsub.NewObserver(pubsub.WithID("playground"), pubsub.WithTracer(eng.tracer))
	o.ListenTo(w, watcher.EventChanged, pubsub.NewHandler("log-change", func(_ context.Context, e pubsub.Event) error {
		changed, _ := e.Arg(0)
		log.Debug(log.CatWatcher, "scenario file changed", "path", changed)
		return nil
	}))
	defer func() { _ = o.Close(context.Background()) }()

	if err := w.Start(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "watching %s (ctrl-c to stop)\n", path)

	// changes is closed once ctx ends
	for e := range changes {
		changed, _ := e.Arg(0)
		_, _ = fmt.Fprintf(out, "\n%v changed, re-running\n", changed)
		if err := play(ctx, out, eng, load, !playNoVerify); err != nil && ctx.Err() == nil {
			_, _ = fmt.Fprintln(errOut, err)
		}
	}
	return nil
}
