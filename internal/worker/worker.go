// Package worker runs background maintenance for the subscription store.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/subledger/internal/metrics"
)

// Expirer moves ended cancellations to expired.
type Expirer interface {
	ExpireEndedCancellations(ctx context.Context, limit int) (int, error)
}

// Archive prunes archived webhook payloads.
type Archive interface {
	DeleteOldEvents(ctx context.Context, maxAge time.Duration) (int, error)
}

// Worker periodically sweeps cancelled subscriptions whose period has ended
// and prunes the event archive.
type Worker struct {
	expirer          Expirer
	archive          Archive // Optional
	interval         time.Duration
	batchSize        int
	archiveRetention time.Duration
	stop             chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
	logger           *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	Interval         time.Duration
	BatchSize        int
	ArchiveRetention time.Duration // Zero disables archive pruning
}

// New creates a new worker.
func New(expirer Expirer, archive Archive, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		expirer:          expirer,
		archive:          archive,
		interval:         cfg.Interval,
		batchSize:        cfg.BatchSize,
		archiveRetention: cfg.ArchiveRetention,
		stop:             make(chan struct{}),
		logger:           logger.With("component", "expiry-sweeper"),
	}
}

// Start begins sweeping in the background. The first sweep runs immediately.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "interval", w.interval.String())

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping")
		close(w.stop)
	})
	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sweep(ctx)

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Batches are drained until a short batch is returned.
func (w *Worker) Sweep(ctx context.Context) {
	total := 0
	for ctx.Err() == nil {
		n, err := w.expirer.ExpireEndedCancellations(ctx, w.batchSize)
		total += n
		metrics.SweepTransitionsTotal.Add(float64(n))
		if err != nil {
			metrics.SweepErrorsTotal.Inc()
			w.logger.Error("failed to expire ended cancellations", "expired", n, "error", err)
			break
		}
		if n < w.batchSize {
			break
		}
	}
	if total > 0 {
		w.logger.Info("expired ended cancellations", "count", total)
	}

	if w.archive != nil && w.archiveRetention > 0 {
		if _, err := w.archive.DeleteOldEvents(ctx, w.archiveRetention); err != nil {
			w.logger.Warn("event archive cleanup failed", "error", err)
		}
	}
}
