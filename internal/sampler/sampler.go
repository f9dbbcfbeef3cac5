package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	"case-bench/internal/logging"
)

// ErrUnavailable reports that the accounting interface vanished while
// sampling was active. The series still ends in a terminal unavailable
// sample; a dead container mid-measurement is expected, not exceptional.
var ErrUnavailable = errors.New("resource accounting unavailable")

// StatsReader reads the monitored instance's cumulative resource counters
// once.
type StatsReader interface {
	ReadSample(ctx context.Context) (Sample, error)
}

// Sampler produces the metric time series for exactly one (instance, step)
// pairing between Start and Stop. It observes the instance by reference and
// never owns it.
type Sampler struct {
	reader   StatsReader
	interval time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}

	// Owned exclusively by the sampling goroutine until Stop hands it over.
	series      Series
	unavailable bool
	start       time.Time
}

func New(reader StatsReader, interval time.Duration) *Sampler {
	return &Sampler{
		reader:   reader,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the concurrently-scheduled sampling loop.
func (s *Sampler) Start(ctx context.Context) {
	s.start = time.Now()
	go s.run(ctx)
}

// Stop signals the loop to take one final sample and terminate, then
// returns the accumulated series. Safe to call even if the instance already
// stopped on its own; ErrUnavailable reports a truncated series.
func (s *Sampler) Stop() (Series, error) {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.doneChan

	if s.unavailable {
		return s.series, ErrUnavailable
	}
	return s.series, nil
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.doneChan)

	// Initial sample at offset zero.
	if !s.takeSample(ctx) {
		return
	}

	// Cadence is wall-clock based. A delayed tick samples the current
	// cumulative counters at whatever moment it runs; no catch-up.
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			s.takeSample(ctx)
			return
		case <-ticker.C:
			if !s.takeSample(ctx) {
				return
			}
		}
	}
}

func (s *Sampler) takeSample(ctx context.Context) bool {
	sample, err := s.reader.ReadSample(ctx)
	offset := time.Since(s.start).Seconds()
	if err != nil {
		logging.GetLogger().WithError(err).Debug("Sampling target unavailable, ending series")
		s.series = append(s.series, Sample{Offset: offset, Unavailable: true})
		s.unavailable = true
		return false
	}
	sample.Offset = offset
	s.series = append(s.series, sample)
	return true
}
