package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"case-bench/internal/executor"
	"case-bench/internal/logging"
	"case-bench/internal/sampler"
)

const (
	AggregatedFile = "aggregated.csv"
	SummaryFile    = "summary.csv"
)

// metricOrder fixes the row and column order of the output tables so
// repeated aggregation is byte-identical.
var metricOrder = []string{
	"duration_seconds",
	"cpu_seconds",
	"peak_memory_bytes",
	"disk_read_bytes",
	"disk_write_bytes",
	"network_rx_bytes",
	"network_tx_bytes",
}

var runDirPattern = regexp.MustCompile(`^run_(\d+)$`)
var stepFilePattern = regexp.MustCompile(`^metrics_step_(\d+)\.csv$`)

// stepMetrics holds one run's derived metrics for one step.
type stepMetrics map[string]float64

// Aggregate reduces a case's completed runs into aggregated.csv and
// summary.csv under the case's results directory. If both outputs already
// exist the call returns immediately without re-reading any run series.
func Aggregate(caseDir string) error {
	resultsDir := filepath.Join(caseDir, "results")
	aggregatedPath := filepath.Join(resultsDir, AggregatedFile)
	summaryPath := filepath.Join(resultsDir, SummaryFile)

	if fileExists(aggregatedPath) && fileExists(summaryPath) {
		logging.GetLogger().WithField("case", caseDir).Debug("Statistics already aggregated, skipping")
		return nil
	}

	runs, err := completedRuns(resultsDir)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return fmt.Errorf("no completed runs under %s", resultsDir)
	}

	// byStep[step] collects each run's derived metrics for that step.
	byStep := make(map[int][]stepMetrics)
	for _, runDir := range runs {
		perStep, err := deriveRun(runDir)
		if err != nil {
			return err
		}
		for step, metrics := range perStep {
			byStep[step] = append(byStep[step], metrics)
		}
	}

	steps := make([]int, 0, len(byStep))
	for step := range byStep {
		steps = append(steps, step)
	}
	sort.Ints(steps)

	if err := writeAggregated(aggregatedPath, steps, byStep); err != nil {
		return err
	}
	return writeSummary(summaryPath, steps, byStep, len(runs))
}

// completedRuns returns the run directories carrying a completion marker,
// in ascending run order.
func completedRuns(resultsDir string) ([]string, error) {
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type numbered struct {
		n    int
		path string
	}
	var runs []numbered
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := runDirPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		path := filepath.Join(resultsDir, entry.Name())
		if !fileExists(filepath.Join(path, executor.CheckpointFile)) {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		runs = append(runs, numbered{n: n, path: path})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].n < runs[j].n })

	paths := make([]string, len(runs))
	for i, run := range runs {
		paths[i] = run.path
	}
	return paths, nil
}

// deriveRun reduces one run's per-step series files to derived metrics.
func deriveRun(runDir string) (map[int]stepMetrics, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, err
	}

	perStep := make(map[int]stepMetrics)
	for _, entry := range entries {
		m := stepFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		step, _ := strconv.Atoi(m[1])
		series, err := sampler.LoadCSV(filepath.Join(runDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load series for step %d in %s: %w", step, runDir, err)
		}
		perStep[step] = derive(series)
	}
	return perStep, nil
}

// derive computes a step's metrics from its raw cumulative series. Counter
// deltas use the first and last usable samples; a terminal unavailable
// sample carries no counters and is excluded.
func derive(series sampler.Series) stepMetrics {
	metrics := stepMetrics{}
	for _, name := range metricOrder {
		metrics[name] = 0
	}
	if len(series) == 0 {
		return metrics
	}

	metrics["duration_seconds"] = series[len(series)-1].Offset

	var usable sampler.Series
	for _, sample := range series {
		if !sample.Unavailable {
			usable = append(usable, sample)
		}
	}
	if len(usable) == 0 {
		return metrics
	}

	first, last := usable[0], usable[len(usable)-1]
	metrics["cpu_seconds"] = float64(last.CPUTotal-first.CPUTotal) / 1e9
	metrics["disk_read_bytes"] = float64(last.DiskRead - first.DiskRead)
	metrics["disk_write_bytes"] = float64(last.DiskWrite - first.DiskWrite)
	metrics["network_rx_bytes"] = float64(last.NetworkRx - first.NetworkRx)
	metrics["network_tx_bytes"] = float64(last.NetworkTx - first.NetworkTx)

	var peak uint64
	for _, sample := range usable {
		if sample.MemoryUsage > peak {
			peak = sample.MemoryUsage
		}
	}
	metrics["peak_memory_bytes"] = float64(peak)

	return metrics
}

// writeAggregated writes one row per step and metric with its median, min
// and max across runs.
func writeAggregated(path string, steps []int, byStep map[int][]stepMetrics) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"step", "metric", "median", "min", "max"}); err != nil {
		return err
	}
	for _, step := range steps {
		for _, metric := range metricOrder {
			values := collect(byStep[step], metric)
			if err := w.Write([]string{
				strconv.Itoa(step),
				metric,
				formatFloat(median(values)),
				formatFloat(minOf(values)),
				formatFloat(maxOf(values)),
			}); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// writeSummary writes one row per step carrying the median of each metric.
func writeSummary(path string, steps []int, byStep map[int][]stepMetrics, runs int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := append([]string{"step", "runs"}, metricOrder...)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, step := range steps {
		row := []string{strconv.Itoa(step), strconv.Itoa(runs)}
		for _, metric := range metricOrder {
			row = append(row, formatFloat(median(collect(byStep[step], metric))))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func collect(runs []stepMetrics, metric string) []float64 {
	values := make([]float64, 0, len(runs))
	for _, metrics := range runs {
		values = append(values, metrics[metric])
	}
	return values
}

// median returns the middle value; the run count is odd by configuration,
// but an even count from a partial result set averages the two middles.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
