package sampler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// scriptedReader returns counters advancing on every read and can be told
// to start failing, simulating the monitored instance vanishing.
type scriptedReader struct {
	mu    sync.Mutex
	reads int
	dead  bool
}

func (r *scriptedReader) ReadSample(ctx context.Context) (Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return Sample{}, errors.New("no such container")
	}
	r.reads++
	n := uint64(r.reads)
	return Sample{
		CPUTotal:    n * 1e9,
		CPUKernel:   n * 2e8,
		CPUUser:     n * 8e8,
		MemoryUsage: n * 1024,
		MemoryRSS:   n * 512,
		DiskRead:    n * 10,
		DiskWrite:   n * 20,
		NetworkRx:   n * 30,
		NetworkTx:   n * 40,
	}, nil
}

func (r *scriptedReader) kill() {
	r.mu.Lock()
	r.dead = true
	r.mu.Unlock()
}

func TestSampler_CollectsAscendingSeries(t *testing.T) {
	reader := &scriptedReader{}
	s := New(reader, 5*time.Millisecond)

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	series, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(series) < 3 {
		t.Fatalf("expected at least initial, ticked and final samples, got %d", len(series))
	}
	for i := 1; i < len(series); i++ {
		if series[i].Offset < series[i-1].Offset {
			t.Fatalf("offsets must ascend: %v then %v", series[i-1].Offset, series[i].Offset)
		}
		if series[i].CPUTotal <= series[i-1].CPUTotal {
			t.Fatalf("cumulative counters must grow: %d then %d", series[i-1].CPUTotal, series[i].CPUTotal)
		}
	}
}

func TestSampler_VanishedInstanceEndsSeriesWithTerminalSample(t *testing.T) {
	reader := &scriptedReader{}
	s := New(reader, 5*time.Millisecond)

	s.Start(context.Background())
	time.Sleep(15 * time.Millisecond)
	reader.kill()
	time.Sleep(15 * time.Millisecond)

	series, err := s.Stop()
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(series) == 0 {
		t.Fatalf("series must not be empty")
	}
	last := series[len(series)-1]
	if !last.Unavailable {
		t.Fatalf("series must end in a terminal unavailable sample")
	}
	for _, sample := range series[:len(series)-1] {
		if sample.Unavailable {
			t.Fatalf("only the terminal sample may be unavailable")
		}
	}

	// Stop is safe to repeat after the loop already ended on its own.
	again, err := s.Stop()
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("repeated Stop: %v", err)
	}
	if len(again) != len(series) {
		t.Fatalf("repeated Stop must return the same series")
	}
}

func TestSampler_StopTakesFinalSample(t *testing.T) {
	reader := &scriptedReader{}
	s := New(reader, time.Hour) // no tick will ever fire

	s.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	series, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected the initial and final samples, got %d", len(series))
	}
}

func TestSeries_CSVRoundTrip(t *testing.T) {
	series := Series{
		{Offset: 0, CPUTotal: 1e9, CPUKernel: 2e8, CPUUser: 8e8, MemoryUsage: 4096, MemoryRSS: 2048, DiskRead: 10, DiskWrite: 20, NetworkRx: 30, NetworkTx: 40},
		{Offset: 0.5, CPUTotal: 3e9, CPUKernel: 6e8, CPUUser: 24e8, MemoryUsage: 8192, MemoryRSS: 4096, DiskRead: 100, DiskWrite: 200, NetworkRx: 300, NetworkTx: 400},
		{Offset: 1.25, Unavailable: true},
	}

	path := filepath.Join(t.TempDir(), "metrics_step_1.csv")
	if err := series.WriteCSV(path); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	loaded, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(loaded) != len(series) {
		t.Fatalf("expected %d samples, got %d", len(series), len(loaded))
	}
	for i := range series {
		if loaded[i] != series[i] {
			t.Fatalf("sample %d mismatch: %+v vs %+v", i, loaded[i], series[i])
		}
	}
}
