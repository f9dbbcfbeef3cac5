// Package config loads the runner configuration file: execution defaults
// that CLI flags may override.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"case-bench/internal/logging"

	"gopkg.in/yaml.v3"
)

// RunnerConfig carries the execution defaults.
type RunnerConfig struct {
	Root     string `yaml:"root"`
	Runs     int    `yaml:"runs"`
	Interval string `yaml:"interval"`
	Cooldown string `yaml:"cooldown"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in execution defaults.
func Default() *RunnerConfig {
	return &RunnerConfig{
		Root:     ".",
		Runs:     3,
		Interval: "100ms",
		Cooldown: "15s",
	}
}

func LoadConfig(filepath string) (*RunnerConfig, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, err
	}

	expanded := expandEnvVars(string(data))

	config := Default()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, err
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func validateConfig(config *RunnerConfig) error {
	if config.Runs < 1 {
		return fmt.Errorf("runs must be at least 1, got %d", config.Runs)
	}
	if _, err := config.SamplingInterval(); err != nil {
		return fmt.Errorf("invalid interval %q: %w", config.Interval, err)
	}
	if _, err := config.CooldownDuration(); err != nil {
		return fmt.Errorf("invalid cooldown %q: %w", config.Cooldown, err)
	}
	return nil
}

func (c *RunnerConfig) SamplingInterval() (time.Duration, error) {
	return time.ParseDuration(c.Interval)
}

func (c *RunnerConfig) CooldownDuration() (time.Duration, error) {
	return time.ParseDuration(c.Cooldown)
}

// expandEnvVars substitutes ${VAR} references with environment values.
// Unset variables leave the reference in place.
func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}
