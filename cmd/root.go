package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"case-bench/internal/executor"
	"case-bench/internal/logging"
	"case-bench/internal/resources"
	"case-bench/internal/stats"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

var (
	logLevel string
	rootDir  string
)

var rootCmd = &cobra.Command{
	Use:   "case-bench",
	Short: "Benchmark containerized data-processing tools through multi-step cases",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel != "" {
			if err := logging.SetLogLevel(logLevel); err != nil {
				return err
			}
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "Directory containing the cases")

	rootCmd.AddCommand(listCmd, runCmd, cleanCmd, statsCmd)
	statsCmd.Flags().StringVar(&archivePath, "archive", "", "Write all cases' results into this zip archive")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the discovered cases",
	RunE: func(cmd *cobra.Command, args []string) error {
		cases, err := discoverCases()
		if err != nil {
			return err
		}
		for _, c := range cases {
			state := " "
			if c.Done() {
				state = "*"
			}
			fmt.Printf("%s %-40s %2d steps  %s\n", state, c.Data.Name, len(c.Data.Steps), c.Directory)
		}
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete all results, logs and checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cases, err := discoverCases()
		if err != nil {
			return err
		}
		logger := logging.GetLogger()
		for _, c := range cases {
			if err := c.Clean(); err != nil {
				return fmt.Errorf("failed to clean case %s: %w", c.Data.Name, err)
			}
			logger.WithField("case", c.Data.Name).Info("Cleaned case")
		}
		return nil
	},
}

var archivePath string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate completed runs and optionally archive the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		cases, err := discoverCases()
		if err != nil {
			return err
		}
		logger := logging.GetLogger()
		for _, c := range cases {
			if err := stats.Aggregate(c.Directory); err != nil {
				logger.WithField("case", c.Data.Name).WithError(err).Warn("Cannot aggregate case")
				continue
			}
			logger.WithField("case", c.Data.Name).Info("Aggregated case statistics")
		}
		if archivePath != "" {
			if err := stats.Archive(rootDir, archivePath); err != nil {
				return fmt.Errorf("failed to write archive: %w", err)
			}
			logger.WithField("archive", archivePath).Info("Wrote results archive")
		}
		return nil
	},
}

func discoverCases() ([]*executor.Case, error) {
	cases, err := executor.Discover(rootDir, resources.DefaultRegistry())
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		logging.GetLogger().WithField("root", rootDir).Warn("No cases found")
	}
	return cases, nil
}

// loadEnvironment loads a .env next to the working directory or the binary.
func loadEnvironment() {
	logger := logging.GetLogger()

	envFile := ".env"
	if _, err := os.Stat(envFile); err != nil {
		execPath, err := os.Executable()
		if err != nil {
			return
		}
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(envFile); err != nil {
			return
		}
	}
	if err := godotenv.Load(envFile); err != nil {
		logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		return
	}
	logger.WithFields(logrus.Fields{"file": envFile}).Debug("Loaded environment variables")
}
