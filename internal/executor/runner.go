package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"case-bench/internal/logging"
	"case-bench/internal/resources"
	"case-bench/internal/runtime"
	"case-bench/internal/sampler"

	"github.com/sirupsen/logrus"
)

// StepStatus is the outcome of one step. Step failures are values, not
// faults; hard faults are reserved for programming errors.
type StepStatus int

const (
	StepSucceeded StepStatus = iota
	StepSoftFailed
	StepFailed
)

// Options configures an execution.
type Options struct {
	Runs     int           // total runs per case, must be odd
	Interval time.Duration // sampling interval
	Cooldown time.Duration // hardware cooldown pause between runs
}

// Validate rejects invalid options before any container is started. The
// median-based aggregation needs an odd run count for a well-defined
// midpoint.
func (o Options) Validate() error {
	if o.Runs < 1 {
		return &ConfigError{Msg: fmt.Sprintf("run count must be at least 1, got %d", o.Runs)}
	}
	if o.Runs%2 == 0 {
		return &ConfigError{Msg: fmt.Sprintf("run count must be odd, got %d", o.Runs)}
	}
	if o.Interval <= 0 {
		return &ConfigError{Msg: "sampling interval must be positive"}
	}
	return nil
}

// StepSampler is the sampling surface the runner drives around each step.
type StepSampler interface {
	Start(ctx context.Context)
	Stop() (sampler.Series, error)
}

// SamplerFactory builds the sampler observing the given adapter's instance
// for one step.
type SamplerFactory func(adapter resources.Adapter) StepSampler

// Exporter receives each completed run's metric series. Export failures
// never fail a run.
type Exporter interface {
	ExportRun(caseName string, run int, series map[int]sampler.Series) error
}

// CaseResult pairs a case with its execution outcome.
type CaseResult struct {
	Case *Case
	Err  error
}

// Runner orchestrates cases: it drives each case's ordered steps across the
// configured runs with crash-safe checkpointing, coordinates the sampler
// around each step, and enforces the may-fail policy.
type Runner struct {
	client     *runtime.Client
	registry   *resources.Registry
	opts       Options
	newSampler SamplerFactory
	exporter   Exporter

	stopRequested atomic.Bool
}

func NewRunner(client *runtime.Client, registry *resources.Registry, opts Options) *Runner {
	r := &Runner{
		client:   client,
		registry: registry,
		opts:     opts,
	}
	r.newSampler = func(adapter resources.Adapter) StepSampler {
		return sampler.New(&adapterReader{client: client, adapter: adapter}, opts.Interval)
	}
	return r
}

// SetSamplerFactory overrides how step samplers are built.
func (r *Runner) SetSamplerFactory(factory SamplerFactory) {
	r.newSampler = factory
}

// SetExporter enables per-run metric series export.
func (r *Runner) SetExporter(exporter Exporter) {
	r.exporter = exporter
}

// RequestStop asks the runner to stop after the current run. Checked
// between runs, not between steps, to avoid leaving a run half-committed.
func (r *Runner) RequestStop() {
	r.stopRequested.Store(true)
	logging.GetLogger().Warn("Stop requested, finishing current run")
}

// RunAll executes every case. Case failures are isolated from each other;
// the returned results carry the per-case outcome. The error is non-nil
// only for interruption.
func (r *Runner) RunAll(ctx context.Context, cases []*Case) ([]CaseResult, error) {
	results := make([]CaseResult, 0, len(cases))
	for _, c := range cases {
		if r.stopRequested.Load() {
			return results, ErrInterrupted
		}
		err := r.RunCase(ctx, c)
		if err == ErrInterrupted {
			return results, err
		}
		results = append(results, CaseResult{Case: c, Err: err})
	}
	return results, nil
}

// RunCase executes one case across all configured runs, resuming at the
// first run without a completion marker. A non-nil return means the case
// failed; other cases still execute.
func (r *Runner) RunCase(ctx context.Context, c *Case) error {
	logger := logging.GetLogger()

	if err := r.opts.Validate(); err != nil {
		return err
	}

	startRun := r.opts.Runs + 1
	for run := 1; run <= r.opts.Runs; run++ {
		if !c.RunDone(run) {
			startRun = run
			break
		}
	}
	if startRun > r.opts.Runs {
		logger.WithField("case", c.Data.Name).Info("All runs already completed, skipping case")
		return r.markCaseDone(c)
	}

	// A fresh case starts from a clean slate; a resumed one must leave the
	// completed runs untouched.
	if startRun == 1 {
		if err := c.Clean(); err != nil {
			return fmt.Errorf("failed to clean case %s: %w", c.Data.Name, err)
		}
	}

	logger.WithFields(logrus.Fields{
		"case":      c.Data.Name,
		"start_run": startRun,
		"runs":      r.opts.Runs,
	}).Info("Executing case")

	for run := startRun; run <= r.opts.Runs; run++ {
		if r.stopRequested.Load() {
			return ErrInterrupted
		}
		if err := r.runOnce(ctx, c, run); err != nil {
			logger.WithFields(logrus.Fields{
				"case": c.Data.Name,
				"run":  run,
			}).WithError(err).Error("Run failed")
			return err
		}
		if r.opts.Cooldown > 0 {
			logger.WithField("cooldown", r.opts.Cooldown).Debug("Cooling down")
			time.Sleep(r.opts.Cooldown)
		}
	}

	return r.markCaseDone(c)
}

// runOnce executes all steps of one run. The completion marker is written
// as the final action, only if every non-may-fail step succeeded.
func (r *Runner) runOnce(ctx context.Context, c *Case, run int) (err error) {
	logger := logging.GetLogger()
	runPath := c.RunPath(run)

	if err := os.MkdirAll(filepath.Join(c.DataPath(), "shared"), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(runPath, 0o755); err != nil {
		return err
	}

	capture, err := logging.CaptureToFile(filepath.Join(runPath, "case-bench.log"))
	if err != nil {
		return err
	}
	defer capture.Close()

	if err := sampler.WriteCaseInfo(filepath.Join(runPath, "case-info.txt"), sampler.CaseInfo{
		CaseName:  c.Data.Name,
		Directory: c.Directory,
		Run:       run,
		Steps:     len(c.Data.Steps),
	}); err != nil {
		logger.WithError(err).Warn("Failed to write case info")
	}

	adapters, err := r.initializeAdapters(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		for _, adapter := range adapters {
			adapter.Stop(ctx)
		}
	}()

	allSeries := make(map[int]sampler.Series, len(c.Data.Steps))
	for index, step := range c.Data.Steps {
		status, series := r.executeStep(ctx, c, run, index, step, adapters[step.Resource], runPath)
		allSeries[index+1] = series

		switch status {
		case StepFailed:
			return fmt.Errorf("step %q failed for resource %q", step.Name, step.Resource)
		case StepSoftFailed:
			logger.WithFields(logrus.Fields{
				"step":     step.Name,
				"resource": step.Resource,
			}).Warn("Step failed but is marked may_fail, continuing run")
		}
	}

	if r.exporter != nil {
		if err := r.exporter.ExportRun(c.Data.Name, run, allSeries); err != nil {
			logger.WithError(err).Warn("Failed to export run metrics")
		}
	}

	return writeMarker(filepath.Join(runPath, CheckpointFile))
}

// executeStep drives one step: readiness, sampling, command execution,
// artifact persistence. Sampler teardown happens on every exit path.
func (r *Runner) executeStep(ctx context.Context, c *Case, run, index int, step Step, adapter resources.Adapter, runPath string) (StepStatus, sampler.Series) {
	logger := logging.GetLogger()
	stepLogger := logger.WithFields(logrus.Fields{
		"case":     c.Data.Name,
		"run":      run,
		"step":     step.Name,
		"resource": step.Resource,
	})

	if !adapter.WaitUntilReady(ctx) {
		stepLogger.Error("Resource did not become ready")
		return StepFailed, nil
	}
	stepLogger.Debug("Resource ready")

	smp := r.newSampler(adapter)
	smp.Start(ctx)
	artifacts, execErr := adapter.Execute(ctx, step.Command, step.Parameters)
	series, sampErr := smp.Stop()

	metricsFile := filepath.Join(runPath, fmt.Sprintf("metrics_step_%d.csv", index+1))
	if err := series.WriteCSV(metricsFile); err != nil {
		stepLogger.WithError(err).Warn("Failed to persist metric series")
	}
	if sampErr != nil {
		// A dead container mid-measurement truncates its series; the run
		// continues.
		stepLogger.WithError(sampErr).Warn("Metric series truncated")
	}

	r.captureStepLogs(ctx, adapter, runPath, index)
	r.collectArtifacts(step, artifacts, runPath, stepLogger)

	if execErr != nil {
		if step.MayFail {
			stepLogger.WithError(execErr).Warn("Step command failed")
			return StepSoftFailed, series
		}
		stepLogger.WithError(execErr).Error("Step command failed")
		return StepFailed, series
	}

	stepLogger.Debug("Step completed")
	return StepSucceeded, series
}

// initializeAdapters builds one adapter per distinct resource of the case
// and runs its one-time initialization.
func (r *Runner) initializeAdapters(ctx context.Context, c *Case) (map[string]resources.Adapter, error) {
	env := resources.Env{
		Client:   r.client,
		DataPath: c.DataPath(),
		CaseDir:  c.Directory,
	}

	adapters := make(map[string]resources.Adapter)
	for _, step := range c.Data.Steps {
		if _, ok := adapters[step.Resource]; ok {
			continue
		}
		factory, ok := r.registry.Lookup(step.Resource)
		if !ok {
			return nil, &ConfigError{Msg: fmt.Sprintf("unknown resource %q", step.Resource)}
		}
		adapter := factory(env)
		if err := adapter.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize resource %s: %w", step.Resource, err)
		}
		adapters[step.Resource] = adapter
	}
	return adapters, nil
}

func (r *Runner) captureStepLogs(ctx context.Context, adapter resources.Adapter, runPath string, index int) {
	inst := adapter.Instance()
	if inst == nil || r.client == nil {
		return
	}
	lines, err := r.client.Logs(ctx, inst)
	if err != nil {
		logging.GetLogger().WithError(err).Debug("Failed to capture step logs")
		return
	}
	path := filepath.Join(runPath, fmt.Sprintf("step_%d.log", index+1))
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		logging.GetLogger().WithError(err).Debug("Failed to write step logs")
	}
}

// collectArtifacts moves a step's output artifacts into the run's results
// directory, under a subdirectory named after the resource.
func (r *Runner) collectArtifacts(step Step, artifacts []string, runPath string, stepLogger *logrus.Entry) {
	if len(artifacts) == 0 {
		return
	}
	subdir := filepath.Join(runPath, strings.ToLower(step.Resource))
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		stepLogger.WithError(err).Warn("Failed to create artifact directory")
		return
	}
	for _, artifact := range artifacts {
		target := filepath.Join(subdir, filepath.Base(artifact))
		if err := os.Rename(artifact, target); err != nil {
			stepLogger.WithField("artifact", artifact).WithError(err).Warn("Cannot collect artifact")
		}
	}
}

func (r *Runner) markCaseDone(c *Case) error {
	return writeMarker(filepath.Join(c.Directory, CheckpointFile))
}

// writeMarker writes a completion marker atomically: the content lands in a
// temporary file first and is renamed into place.
func writeMarker(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, CheckpointFile+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(time.Now().Format(time.RFC3339) + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	ok = true
	return nil
}

// adapterReader samples the container backing an adapter. Adapters whose
// container only exists during command execution report zero counters until
// the container appears.
type adapterReader struct {
	client  *runtime.Client
	adapter resources.Adapter
}

func (a *adapterReader) ReadSample(ctx context.Context) (sampler.Sample, error) {
	inst := a.adapter.Instance()
	if inst == nil {
		return sampler.Sample{}, nil
	}
	return sampler.NewDockerReader(a.client, inst).ReadSample(ctx)
}
