package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func infoHookCount() int {
	old := logger.ReplaceHooks(make(logrus.LevelHooks))
	defer logger.ReplaceHooks(old)
	return len(old[logrus.InfoLevel])
}

func TestCaptureToFile_ReusesOneHookAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "run1.log")
	second := filepath.Join(dir, "run2.log")

	c, err := CaptureToFile(first)
	if err != nil {
		t.Fatalf("CaptureToFile: %v", err)
	}
	GetLogger().Info("first entry")
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c, err = CaptureToFile(second)
	if err != nil {
		t.Fatalf("CaptureToFile: %v", err)
	}
	GetLogger().Info("second entry")
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := infoHookCount(); got != 1 {
		t.Fatalf("expected a single registered hook after two captures, got %d", got)
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read first log: %v", err)
	}
	if !strings.Contains(string(data), "first entry") || strings.Contains(string(data), "second entry") {
		t.Fatalf("first log carries wrong entries: %q", data)
	}

	data, err = os.ReadFile(second)
	if err != nil {
		t.Fatalf("read second log: %v", err)
	}
	if !strings.Contains(string(data), "second entry") || strings.Contains(string(data), "first entry") {
		t.Fatalf("second log carries wrong entries: %q", data)
	}
}
