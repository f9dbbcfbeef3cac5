package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"case-bench/internal/resources"
	"case-bench/internal/runtime"
	"case-bench/internal/sampler"
)

// harness records every adapter interaction across runs. The adapter is
// rebuilt each run, so the run number is derived from Initialize calls.
type harness struct {
	mu          sync.Mutex
	run         int
	created     int
	executions  []string        // "<command>@run<n>"
	failOn      map[string]bool // "<command>@run<n>" -> fail
	stopped     int
	initialized int
	onExecute   func(key string) // invoked after each step execution
}

func (h *harness) registry() *resources.Registry {
	r := resources.NewRegistry()
	r.Register("FAKE", []string{"load", "transform", "query"}, func(env resources.Env) resources.Adapter {
		h.mu.Lock()
		h.created++
		h.mu.Unlock()
		return &harnessAdapter{h: h}
	})
	return r
}

func (h *harness) key(command string) string {
	return fmt.Sprintf("%s@run%d", command, h.run)
}

type harnessAdapter struct {
	h *harness
}

func (a *harnessAdapter) Name() string { return "FAKE" }

func (a *harnessAdapter) Initialize(ctx context.Context) error {
	a.h.mu.Lock()
	defer a.h.mu.Unlock()
	a.h.run++
	a.h.initialized++
	return nil
}

func (a *harnessAdapter) WaitUntilReady(ctx context.Context) bool { return true }

func (a *harnessAdapter) Execute(ctx context.Context, command string, params resources.Params) ([]string, error) {
	a.h.mu.Lock()
	key := a.h.key(command)
	a.h.executions = append(a.h.executions, key)
	fail := a.h.failOn[key]
	hook := a.h.onExecute
	a.h.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if fail {
		return nil, errors.New("command failed")
	}
	return nil, nil
}

func (a *harnessAdapter) Stop(ctx context.Context) {
	a.h.mu.Lock()
	a.h.stopped++
	a.h.mu.Unlock()
}

func (a *harnessAdapter) Instance() *runtime.Instance { return nil }

type fakeSampler struct{}

func (fakeSampler) Start(ctx context.Context) {}

func (fakeSampler) Stop() (sampler.Series, error) {
	return sampler.Series{
		{Offset: 0, CPUTotal: 1e9, MemoryUsage: 1024},
		{Offset: 0.1, CPUTotal: 2e9, MemoryUsage: 2048},
	}, nil
}

// unavailableSampler simulates the monitored container dying mid-step.
type unavailableSampler struct{}

func (unavailableSampler) Start(ctx context.Context) {}

func (unavailableSampler) Stop() (sampler.Series, error) {
	return sampler.Series{
		{Offset: 0, CPUTotal: 1e9},
		{Offset: 0.1, Unavailable: true},
	}, sampler.ErrUnavailable
}

const runnerDescriptor = `{
	"@id": "http://example.com/cases#pipeline",
	"name": "Pipeline",
	"description": "load, transform, query",
	"steps": [
		{"@id": "#s1", "name": "Load", "resource": "FAKE", "command": "load", "parameters": {}},
		{"@id": "#s2", "name": "Transform", "resource": "FAKE", "command": "transform", "parameters": {}},
		{"@id": "#s3", "name": "Query", "resource": "FAKE", "command": "query", "parameters": {}, "may_fail": true}
	]
}`

func newTestRunner(t *testing.T, h *harness, runs int) (*Runner, *Case) {
	t.Helper()
	dir := t.TempDir()
	path := writeDescriptor(t, dir, runnerDescriptor)
	c, err := LoadCase(path, h.registry())
	if err != nil {
		t.Fatalf("LoadCase: %v", err)
	}

	runner := NewRunner(nil, h.registry(), Options{
		Runs:     runs,
		Interval: 10 * time.Millisecond,
	})
	runner.SetSamplerFactory(func(resources.Adapter) StepSampler { return fakeSampler{} })
	return runner, c
}

func TestOptionsValidate_EvenRunCountRejected(t *testing.T) {
	err := Options{Runs: 4, Interval: time.Millisecond}.Validate()
	if err == nil {
		t.Fatalf("expected even run count to be rejected")
	}
	var configErr *ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}

	if err := (Options{Runs: 3, Interval: time.Millisecond}).Validate(); err != nil {
		t.Fatalf("odd run count must pass: %v", err)
	}
	if err := (Options{Runs: 0, Interval: time.Millisecond}).Validate(); err == nil {
		t.Fatalf("expected zero runs to be rejected")
	}
	if err := (Options{Runs: 3}).Validate(); err == nil {
		t.Fatalf("expected zero interval to be rejected")
	}
}

func TestRunCase_EvenRunCountRejectedBeforeAnyStart(t *testing.T) {
	h := &harness{}
	runner, c := newTestRunner(t, h, 4)

	if err := runner.RunCase(context.Background(), c); err == nil {
		t.Fatalf("expected configuration error")
	}
	if h.created != 0 {
		t.Fatalf("no adapter may be built for an even run count, got %d", h.created)
	}
	if _, err := os.Stat(c.RunPath(1)); !os.IsNotExist(err) {
		t.Fatalf("no run directory may be created for an even run count")
	}
}

func TestRunCase_CompletesAllRuns(t *testing.T) {
	h := &harness{}
	runner, c := newTestRunner(t, h, 3)

	if err := runner.RunCase(context.Background(), c); err != nil {
		t.Fatalf("RunCase: %v", err)
	}

	for run := 1; run <= 3; run++ {
		if !c.RunDone(run) {
			t.Fatalf("run %d missing its completion marker", run)
		}
		for step := 1; step <= 3; step++ {
			metrics := filepath.Join(c.RunPath(run), fmt.Sprintf("metrics_step_%d.csv", step))
			if _, err := os.Stat(metrics); err != nil {
				t.Fatalf("run %d step %d metrics missing: %v", run, step, err)
			}
		}
	}
	if !c.Done() {
		t.Fatalf("case completion marker missing")
	}
	if len(h.executions) != 9 {
		t.Fatalf("expected 9 step executions, got %d: %v", len(h.executions), h.executions)
	}
	if h.stopped != h.initialized {
		t.Fatalf("every initialized adapter must be stopped: %d initialized, %d stopped", h.initialized, h.stopped)
	}
}

func TestRunCase_ResumesAtFirstIncompleteRun(t *testing.T) {
	h := &harness{}
	runner, c := newTestRunner(t, h, 3)

	// Runs 1 and 2 completed by an earlier invocation.
	sentinel := filepath.Join(c.RunPath(1), "metrics_step_1.csv")
	for run := 1; run <= 2; run++ {
		if err := os.MkdirAll(c.RunPath(run), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		marker := filepath.Join(c.RunPath(run), CheckpointFile)
		if err := os.WriteFile(marker, []byte("done\n"), 0o644); err != nil {
			t.Fatalf("write marker: %v", err)
		}
	}
	if err := os.WriteFile(sentinel, []byte("previous\n"), 0o644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	if err := runner.RunCase(context.Background(), c); err != nil {
		t.Fatalf("RunCase: %v", err)
	}

	if h.initialized != 1 {
		t.Fatalf("expected exactly one resumed run, got %d", h.initialized)
	}
	if len(h.executions) != 3 {
		t.Fatalf("expected 3 step executions for the resumed run, got %d", len(h.executions))
	}
	data, err := os.ReadFile(sentinel)
	if err != nil || string(data) != "previous\n" {
		t.Fatalf("completed runs must be left untouched: %v %q", err, data)
	}
	if !c.Done() {
		t.Fatalf("case completion marker missing after resume")
	}
}

func TestRunCase_SkipsFullyCompletedCase(t *testing.T) {
	h := &harness{}
	runner, c := newTestRunner(t, h, 3)

	for run := 1; run <= 3; run++ {
		if err := os.MkdirAll(c.RunPath(run), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		marker := filepath.Join(c.RunPath(run), CheckpointFile)
		if err := os.WriteFile(marker, []byte("done\n"), 0o644); err != nil {
			t.Fatalf("write marker: %v", err)
		}
	}

	if err := runner.RunCase(context.Background(), c); err != nil {
		t.Fatalf("RunCase: %v", err)
	}
	if h.created != 0 {
		t.Fatalf("a completed case must not be re-executed")
	}
	if !c.Done() {
		t.Fatalf("case completion marker missing")
	}
}

func TestRunCase_MayFailStepDoesNotBlockMarker(t *testing.T) {
	h := &harness{failOn: map[string]bool{
		"query@run2": true, // may_fail step fails on the middle run only
	}}
	runner, c := newTestRunner(t, h, 3)

	if err := runner.RunCase(context.Background(), c); err != nil {
		t.Fatalf("RunCase: %v", err)
	}
	for run := 1; run <= 3; run++ {
		if !c.RunDone(run) {
			t.Fatalf("run %d must carry its completion marker", run)
		}
	}
	if len(h.executions) != 9 {
		t.Fatalf("soft failure must not halt the pipeline, got %d executions", len(h.executions))
	}
}

func TestRunCase_FatalStepFailureHaltsRun(t *testing.T) {
	h := &harness{failOn: map[string]bool{
		"transform@run1": true, // transform is not may_fail
	}}
	runner, c := newTestRunner(t, h, 3)

	if err := runner.RunCase(context.Background(), c); err == nil {
		t.Fatalf("expected the case to fail")
	}

	if c.RunDone(1) {
		t.Fatalf("a failed run must not carry a completion marker")
	}
	if c.Done() {
		t.Fatalf("a failed case must not carry a completion marker")
	}
	for _, key := range h.executions {
		if key == "query@run1" {
			t.Fatalf("steps after a fatal failure must not execute")
		}
	}
	if h.initialized != 1 {
		t.Fatalf("remaining runs must be aborted, got %d runs", h.initialized)
	}
}

func TestRunCase_SamplingUnavailableDoesNotFailRun(t *testing.T) {
	h := &harness{}
	runner, c := newTestRunner(t, h, 1)
	runner.SetSamplerFactory(func(resources.Adapter) StepSampler { return unavailableSampler{} })

	if err := runner.RunCase(context.Background(), c); err != nil {
		t.Fatalf("a truncated series must not fail the run: %v", err)
	}
	if !c.RunDone(1) {
		t.Fatalf("run completion marker missing")
	}

	series, err := sampler.LoadCSV(filepath.Join(c.RunPath(1), "metrics_step_1.csv"))
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(series) == 0 || !series[len(series)-1].Unavailable {
		t.Fatalf("persisted series must end in the terminal unavailable sample")
	}
}

func TestRunAll_StopRequestInterruptsBetweenCases(t *testing.T) {
	h := &harness{}
	runner, c := newTestRunner(t, h, 3)

	runner.RequestStop()
	results, err := runner.RunAll(context.Background(), []*Case{c})
	if err != ErrInterrupted {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("no case may execute after a stop request, got %d results", len(results))
	}
	if h.created != 0 {
		t.Fatalf("no adapter may be built after a stop request")
	}
}

func TestRunCase_StopRequestFinishesCurrentRun(t *testing.T) {
	h := &harness{}
	runner, c := newTestRunner(t, h, 3)

	// The request arrives during the last step of run 1. The run in flight
	// must still be committed; run 2 must never start.
	h.onExecute = func(key string) {
		if key == "query@run1" {
			runner.RequestStop()
		}
	}

	if err := runner.RunCase(context.Background(), c); err != ErrInterrupted {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if !c.RunDone(1) {
		t.Fatalf("the run in flight must be committed before stopping")
	}
	if c.RunDone(2) {
		t.Fatalf("no run may start after a stop request")
	}
	if h.initialized != 1 {
		t.Fatalf("expected exactly one run, got %d", h.initialized)
	}
	if c.Done() {
		t.Fatalf("an interrupted case must not carry a completion marker")
	}
}

func TestRunAll_CaseFailuresAreIsolated(t *testing.T) {
	h := &harness{failOn: map[string]bool{
		"transform@run1": true,
	}}
	runner, failing := newTestRunner(t, h, 3)

	okDir := t.TempDir()
	okPath := writeDescriptor(t, okDir, runnerDescriptor)
	// Adapter state is shared, so runs 2..4 belong to the second case.
	ok, err := LoadCase(okPath, h.registry())
	if err != nil {
		t.Fatalf("LoadCase: %v", err)
	}

	results, err := runner.RunAll(context.Background(), []*Case{failing, ok})
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Fatalf("first case must fail")
	}
	if results[1].Err != nil {
		t.Fatalf("second case must succeed despite the first failing: %v", results[1].Err)
	}
	if !ok.Done() {
		t.Fatalf("second case completion marker missing")
	}
}
