// Package database exports run metric series to InfluxDB. Export is
// optional and best-effort: the engine runs identically without it.
package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"case-bench/internal/logging"
	"case-bench/internal/sampler"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

type InfluxDBExporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

// FromEnv connects to InfluxDB when INFLUXDB_HOST is set. Returns (nil,
// nil) when export is not configured.
func FromEnv() (*InfluxDBExporter, error) {
	host := os.Getenv("INFLUXDB_HOST")
	if host == "" {
		return nil, nil
	}
	return NewInfluxDBExporter(host,
		os.Getenv("INFLUXDB_TOKEN"),
		os.Getenv("INFLUXDB_ORG"),
		os.Getenv("INFLUXDB_BUCKET"))
}

func NewInfluxDBExporter(host, token, org, bucket string) (*InfluxDBExporter, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(host, token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}
	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{
			"host":    host,
			"status":  health.Status,
			"message": health.Message,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health status %s", health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   host,
		"bucket": bucket,
		"org":    org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBExporter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		bucket:   bucket,
		org:      org,
	}, nil
}

// ExportRun writes one run's per-step series. Sample timestamps are
// reconstructed from the export moment minus each sample's offset from the
// end of its step.
func (e *InfluxDBExporter) ExportRun(caseName string, run int, series map[int]sampler.Series) error {
	ctx := context.Background()

	var points []*write.Point
	for step, samples := range series {
		if len(samples) == 0 {
			continue
		}
		base := time.Now().Add(-time.Duration(samples[len(samples)-1].Offset * float64(time.Second)))
		for _, sample := range samples {
			point := influxdb2.NewPoint("case_metrics",
				map[string]string{
					"case": caseName,
					"run":  fmt.Sprintf("%d", run),
					"step": fmt.Sprintf("%d", step),
				},
				map[string]interface{}{
					"offset_seconds":     sample.Offset,
					"cpu_total_ns":       int64(sample.CPUTotal),
					"cpu_kernel_ns":      int64(sample.CPUKernel),
					"cpu_user_ns":        int64(sample.CPUUser),
					"memory_usage_bytes": int64(sample.MemoryUsage),
					"memory_rss_bytes":   int64(sample.MemoryRSS),
					"disk_read_bytes":    int64(sample.DiskRead),
					"disk_write_bytes":   int64(sample.DiskWrite),
					"network_rx_bytes":   int64(sample.NetworkRx),
					"network_tx_bytes":   int64(sample.NetworkTx),
					"unavailable":        sample.Unavailable,
				},
				base.Add(time.Duration(sample.Offset*float64(time.Second))))
			points = append(points, point)
		}
	}

	if len(points) == 0 {
		return nil
	}
	if err := e.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write metric points: %w", err)
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"case":   caseName,
		"run":    run,
		"points": len(points),
	}).Debug("Exported run metrics")
	return nil
}

func (e *InfluxDBExporter) Close() {
	e.client.Close()
}
