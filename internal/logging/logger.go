package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
	})
	logger.SetLevel(logrus.InfoLevel)
}

func GetLogger() *logrus.Logger {
	return logger
}

func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	return nil
}

func SetFormatter(formatter logrus.Formatter) {
	logger.SetFormatter(formatter)
}

// RunLogCapture tees every log entry into a per-run log file so that each
// run's results directory carries the logs produced while it executed.
// Logrus has no hook removal API, so a single hook is registered for the
// process lifetime and the target file is swapped per run.
type RunLogCapture struct {
	mu   sync.Mutex
	file *os.File
}

var (
	runCapture     = &RunLogCapture{}
	runCaptureOnce sync.Once
)

// CaptureToFile starts capturing all log entries to the given path. A still
// open capture from an earlier run is closed first.
func CaptureToFile(path string) (*RunLogCapture, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log file: %w", err)
	}
	runCaptureOnce.Do(func() {
		logger.AddHook(runCapture)
	})

	runCapture.mu.Lock()
	defer runCapture.mu.Unlock()
	if runCapture.file != nil {
		runCapture.file.Close()
	}
	runCapture.file = f
	return runCapture, nil
}

func (c *RunLogCapture) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (c *RunLogCapture) Fire(entry *logrus.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = c.file.WriteString(line)
	return err
}

// Close stops the capture. The hook stays registered but is inert until
// the next CaptureToFile call hands it a new file.
func (c *RunLogCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
