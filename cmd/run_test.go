package cmd

import (
	"errors"
	"testing"

	"case-bench/internal/executor"
)

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Notify(title, body string) {
	n.events = append(n.events, title)
}

func TestSummarize_InterruptedReturnsErrInterrupted(t *testing.T) {
	n := &recordingNotifier{}

	err := summarize(nil, 3, executor.ErrInterrupted, n)
	if !errors.Is(err, executor.ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if len(n.events) != 1 || n.events[0] != "Execution interrupted" {
		t.Fatalf("unexpected notifications: %v", n.events)
	}
}

func TestSummarize_FailuresYieldError(t *testing.T) {
	n := &recordingNotifier{}
	results := []executor.CaseResult{
		{
			Case: &executor.Case{
				Directory: t.TempDir(),
				Data:      executor.Descriptor{Name: "x"},
			},
			Err: errors.New("step failed"),
		},
	}

	err := summarize(results, 1, nil, n)
	if err == nil {
		t.Fatalf("expected an error for a failed case")
	}
	want := []string{"Case failed", "Execution finished"}
	if len(n.events) != len(want) || n.events[0] != want[0] || n.events[1] != want[1] {
		t.Fatalf("unexpected notifications: %v", n.events)
	}
}
