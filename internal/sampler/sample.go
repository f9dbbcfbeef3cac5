package sampler

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// SeriesVersion is the format version of persisted metric series files.
const SeriesVersion = 1

// Sample is one point in a step's metric time series. Counters are raw
// cumulative values since instance start; rate computation is deferred to
// the aggregator to avoid compounding rounding error across samples.
type Sample struct {
	Offset      float64 // seconds since sampling start
	CPUTotal    uint64  // cumulative CPU time, nanoseconds
	CPUKernel   uint64
	CPUUser     uint64
	MemoryUsage uint64 // bytes
	MemoryRSS   uint64 // bytes
	DiskRead    uint64 // cumulative block I/O bytes
	DiskWrite   uint64
	NetworkRx   uint64 // cumulative network bytes
	NetworkTx   uint64
	Unavailable bool // terminal marker: accounting interface vanished
}

// Series is the ordered, time-ascending sample sequence of one step.
type Series []Sample

var seriesFields = []string{
	"index",
	"offset_seconds",
	"version",
	"cpu_total_ns",
	"cpu_kernel_ns",
	"cpu_user_ns",
	"memory_usage_bytes",
	"memory_rss_bytes",
	"disk_read_bytes",
	"disk_write_bytes",
	"network_rx_bytes",
	"network_tx_bytes",
	"unavailable",
}

// WriteCSV persists the series. The file is immutable once written.
func (s Series) WriteCSV(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(seriesFields); err != nil {
		return err
	}
	for i, sample := range s {
		unavailable := "0"
		if sample.Unavailable {
			unavailable = "1"
		}
		record := []string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(sample.Offset, 'f', 4, 64),
			strconv.Itoa(SeriesVersion),
			strconv.FormatUint(sample.CPUTotal, 10),
			strconv.FormatUint(sample.CPUKernel, 10),
			strconv.FormatUint(sample.CPUUser, 10),
			strconv.FormatUint(sample.MemoryUsage, 10),
			strconv.FormatUint(sample.MemoryRSS, 10),
			strconv.FormatUint(sample.DiskRead, 10),
			strconv.FormatUint(sample.DiskWrite, 10),
			strconv.FormatUint(sample.NetworkRx, 10),
			strconv.FormatUint(sample.NetworkTx, 10),
			unavailable,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// LoadCSV reads a persisted metric series. Corrupt rows are skipped.
func LoadCSV(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse metrics file %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("metrics file %s is empty", path)
	}

	column := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		column[name] = i
	}

	var series Series
	for _, record := range records[1:] {
		sample, ok := parseRecord(record, column)
		if !ok {
			continue
		}
		series = append(series, sample)
	}
	return series, nil
}

func parseRecord(record []string, column map[string]int) (Sample, bool) {
	get := func(name string) (string, bool) {
		i, ok := column[name]
		if !ok || i >= len(record) {
			return "", false
		}
		return record[i], true
	}

	var sample Sample
	offset, ok := get("offset_seconds")
	if !ok {
		return sample, false
	}
	var err error
	if sample.Offset, err = strconv.ParseFloat(offset, 64); err != nil {
		return sample, false
	}

	for name, dst := range map[string]*uint64{
		"cpu_total_ns":       &sample.CPUTotal,
		"cpu_kernel_ns":      &sample.CPUKernel,
		"cpu_user_ns":        &sample.CPUUser,
		"memory_usage_bytes": &sample.MemoryUsage,
		"memory_rss_bytes":   &sample.MemoryRSS,
		"disk_read_bytes":    &sample.DiskRead,
		"disk_write_bytes":   &sample.DiskWrite,
		"network_rx_bytes":   &sample.NetworkRx,
		"network_tx_bytes":   &sample.NetworkTx,
	} {
		value, ok := get(name)
		if !ok {
			return sample, false
		}
		if *dst, err = strconv.ParseUint(value, 10, 64); err != nil {
			return sample, false
		}
	}

	if value, ok := get("unavailable"); ok {
		sample.Unavailable = value == "1"
	}
	return sample, true
}
