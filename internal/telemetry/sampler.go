package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CountFunc returns the row count of a table.
type CountFunc func(ctx context.Context, table string) (int64, error)

// Sampler periodically records the row count of each table in the
// gatekeep_table_rows gauge.
type Sampler struct {
	metrics  *Metrics
	count    CountFunc
	tables   []string
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSampler returns nil when metrics are disabled or interval is not
// positive; a nil Sampler's methods do nothing.
func NewSampler(m *Metrics, count CountFunc, tables []string, interval time.Duration, logger *slog.Logger) *Sampler {
	if m == nil || interval <= 0 {
		return nil
	}
	return &Sampler{metrics: m, count: count, tables: tables, interval: interval, logger: logger}
}

// Start samples once immediately and then every interval. Non-blocking.
func (s *Sampler) Start() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Sample(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sample(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the background loop and waits for it to exit.
func (s *Sampler) Shutdown() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Sample counts every table once. Failures leave the previous value.
func (s *Sampler) Sample(ctx context.Context) {
	if s == nil {
		return
	}
	for _, t := range s.tables {
		n, err := s.count(ctx, t)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("table sample failed", "table", t, "error", err)
			}
			continue
		}
		s.metrics.setTableRows(t, n)
	}
}
