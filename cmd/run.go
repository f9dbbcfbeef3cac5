package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"case-bench/internal/config"
	"case-bench/internal/database"
	"case-bench/internal/executor"
	"case-bench/internal/logging"
	"case-bench/internal/notify"
	"case-bench/internal/resources"
	"case-bench/internal/runtime"
	"case-bench/internal/stats"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// exitInterrupted distinguishes a cooperative interruption from a case
// failure in the process exit status.
const exitInterrupted = 130

var (
	configFile  string
	runCount    int
	intervalStr string
	cooldownStr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute all discovered cases",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := runCases(cmd)
		// Exit here, after runCases has unwound its deferred cleanup.
		if errors.Is(err, executor.ErrInterrupted) {
			os.Exit(exitInterrupted)
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to runner configuration file")
	runCmd.Flags().IntVar(&runCount, "runs", 0, "Number of runs per case (must be odd)")
	runCmd.Flags().StringVar(&intervalStr, "interval", "", "Sampling interval (e.g. 100ms)")
	runCmd.Flags().StringVar(&cooldownStr, "cooldown", "", "Pause between runs (e.g. 15s)")
}

func runCases(cmd *cobra.Command) error {
	logger := logging.GetLogger()
	loadEnvironment()

	opts, err := resolveOptions(cmd)
	if err != nil {
		return err
	}
	// Validation happens here, before the container engine is touched.
	if err := opts.Validate(); err != nil {
		return err
	}

	cases, err := discoverCases()
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return nil
	}

	client, err := runtime.NewClient()
	if err != nil {
		return err
	}

	runner := executor.NewRunner(client, resources.DefaultRegistry(), opts)
	if exporter, err := database.FromEnv(); err != nil {
		logger.WithError(err).Warn("Metrics export disabled")
	} else if exporter != nil {
		defer exporter.Close()
		runner.SetExporter(exporter)
	}

	notifier := notify.FromEnv()
	notifier.Notify("Execution started",
		fmt.Sprintf("Executing %d cases with %d runs each", len(cases), opts.Runs))

	ctx := context.Background()
	installSignalHandler(runner, client)
	defer client.StopAll(ctx)

	results, runErr := runner.RunAll(ctx, cases)
	return summarize(results, len(cases), runErr, notifier)
}

// summarize aggregates results, emits the final notifications, and maps
// the outcome to the command error. An interruption is propagated as
// executor.ErrInterrupted so the caller can set the exit status after all
// deferred cleanup has run.
func summarize(results []executor.CaseResult, total int, runErr error, notifier notify.Notifier) error {
	logger := logging.GetLogger()

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			notifier.Notify("Case failed",
				fmt.Sprintf("Case %s: %v", result.Case.Data.Name, result.Err))
			continue
		}
		if err := stats.Aggregate(result.Case.Directory); err != nil {
			logger.WithField("case", result.Case.Data.Name).WithError(err).Warn("Cannot aggregate case")
		}
	}

	if runErr == executor.ErrInterrupted {
		notifier.Notify("Execution interrupted",
			fmt.Sprintf("Stopped after %d of %d cases", len(results), total))
		return executor.ErrInterrupted
	}

	logger.WithFields(logrus.Fields{
		"cases":  len(results),
		"failed": failed,
	}).Info("Execution finished")
	notifier.Notify("Execution finished",
		fmt.Sprintf("%d cases executed, %d failed", len(results), failed))

	if failed > 0 {
		return fmt.Errorf("%d of %d cases failed", failed, len(results))
	}
	return nil
}

// resolveOptions layers the configuration: built-in defaults, then the
// config file, then explicit CLI flags.
func resolveOptions(cmd *cobra.Command) (executor.Options, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return executor.Options{}, err
		}
		cfg = loaded
	}
	if cfg.LogLevel != "" && logLevel == "" {
		if err := logging.SetLogLevel(cfg.LogLevel); err != nil {
			return executor.Options{}, err
		}
	}
	if !cmd.Flags().Changed("root") && cfg.Root != "" {
		rootDir = cfg.Root
	}

	interval, err := cfg.SamplingInterval()
	if err != nil {
		return executor.Options{}, err
	}
	cooldown, err := cfg.CooldownDuration()
	if err != nil {
		return executor.Options{}, err
	}
	opts := executor.Options{
		Runs:     cfg.Runs,
		Interval: interval,
		Cooldown: cooldown,
	}

	if cmd.Flags().Changed("runs") {
		opts.Runs = runCount
	}
	if intervalStr != "" {
		if opts.Interval, err = time.ParseDuration(intervalStr); err != nil {
			return executor.Options{}, fmt.Errorf("invalid interval %q: %w", intervalStr, err)
		}
	}
	if cmd.Flags().Changed("cooldown") {
		if opts.Cooldown, err = time.ParseDuration(cooldownStr); err != nil {
			return executor.Options{}, fmt.Errorf("invalid cooldown %q: %w", cooldownStr, err)
		}
	}
	return opts, nil
}

// installSignalHandler makes interruption cooperative: the first signal
// stops after the current run, the second tears every instance down and
// exits immediately.
func installSignalHandler(runner *executor.Runner, client *runtime.Client) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		runner.RequestStop()
		<-sigChan
		logging.GetLogger().Warn("Forced shutdown, stopping all containers")
		client.StopAll(context.Background())
		os.Exit(exitInterrupted)
	}()
}
