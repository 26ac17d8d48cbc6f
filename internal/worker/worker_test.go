package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeExpirer struct {
	mu      sync.Mutex
	batches []int // Results returned per call, then zero
	err     error
	calls   int
}

func (f *fakeExpirer) ExpireEndedCancellations(_ context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := min(f.batches[0], limit)
	f.batches = f.batches[1:]
	return n, nil
}

func (f *fakeExpirer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchive struct {
	maxAge time.Duration
	calls  int
}

func (f *fakeArchive) DeleteOldEvents(_ context.Context, maxAge time.Duration) (int, error) {
	f.calls++
	f.maxAge = maxAge
	return 0, nil
}

// ========================================
// New Worker Tests
// ========================================

func TestNew_Defaults(t *testing.T) {
	w := New(&fakeExpirer{}, nil, Config{}, nil)

	if w.interval != 15*time.Minute {
		t.Errorf("interval = %v, want 15m (default)", w.interval)
	}
	if w.batchSize != 100 {
		t.Errorf("batchSize = %d, want 100 (default)", w.batchSize)
	}
	if w.logger == nil {
		t.Error("logger should be set to default")
	}
	if w.stop == nil {
		t.Error("stop channel should be initialized")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	w := New(&fakeExpirer{}, nil, Config{Interval: time.Minute, BatchSize: 10}, slog.Default())

	if w.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", w.interval)
	}
	if w.batchSize != 10 {
		t.Errorf("batchSize = %d, want 10", w.batchSize)
	}
}

// ========================================
// Sweep Tests
// ========================================

func TestWorker_SweepDrainsFullBatches(t *testing.T) {
	expirer := &fakeExpirer{batches: []int{10, 10, 3}}
	w := New(expirer, nil, Config{BatchSize: 10}, nil)

	w.Sweep(context.Background())

	if expirer.calls != 3 {
		t.Errorf("calls = %d, want 3", expirer.calls)
	}
}

func TestWorker_SweepStopsOnError(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("database is locked")}
	w := New(expirer, nil, Config{}, nil)

	w.Sweep(context.Background())

	if expirer.calls != 1 {
		t.Errorf("calls = %d, want 1", expirer.calls)
	}
}

func TestWorker_SweepPrunesArchive(t *testing.T) {
	archive := &fakeArchive{}
	w := New(&fakeExpirer{}, archive, Config{ArchiveRetention: 48 * time.Hour}, nil)

	w.Sweep(context.Background())

	if archive.calls != 1 || archive.maxAge != 48*time.Hour {
		t.Errorf("archive calls = %d, maxAge = %v", archive.calls, archive.maxAge)
	}
}

func TestWorker_SweepSkipsArchiveWithoutRetention(t *testing.T) {
	archive := &fakeArchive{}
	w := New(&fakeExpirer{}, archive, Config{}, nil)

	w.Sweep(context.Background())

	if archive.calls != 0 {
		t.Errorf("archive calls = %d, want 0", archive.calls)
	}
}

// ========================================
// Start/Stop Tests
// ========================================

func TestWorker_StartStop(t *testing.T) {
	expirer := &fakeExpirer{}
	w := New(expirer, nil, Config{Interval: 20 * time.Millisecond}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	time.Sleep(70 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() timed out")
	}

	if expirer.callCount() < 2 {
		t.Errorf("calls = %d, want an immediate sweep plus ticks", expirer.callCount())
	}
}

func TestWorker_StopViaContext(t *testing.T) {
	w := New(&fakeExpirer{}, nil, Config{Interval: 50 * time.Millisecond}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop() // Safe to call twice
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Error("Stop() timed out after context cancellation")
	}
}
