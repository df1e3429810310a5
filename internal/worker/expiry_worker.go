package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/observability"
	"github.com/riscambio/riscambio/internal/service"
)

// ExpiryWorker sweeps stale recharges into the expired state. Safe for
// concurrent instances thanks to FOR UPDATE SKIP LOCKED.
type ExpiryWorker struct {
	recharges    *service.RechargeService
	window       time.Duration
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewExpiryWorker constructs a worker with a 30 minute staleness window and
// a one minute poll interval.
func NewExpiryWorker(recharges *service.RechargeService) *ExpiryWorker {
	return &ExpiryWorker{
		recharges:    recharges,
		window:       30 * time.Minute,
		pollInterval: time.Minute,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

// WithWindow updates the staleness window.
func (w *ExpiryWorker) WithWindow(window time.Duration) *ExpiryWorker {
	if window > 0 {
		w.window = window
	}
	return w
}

// WithPollInterval updates the poll interval.
func (w *ExpiryWorker) WithPollInterval(interval time.Duration) *ExpiryWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize updates the sweep batch size.
func (w *ExpiryWorker) WithBatchSize(size int32) *ExpiryWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *ExpiryWorker) Start(ctx context.Context) {
	zap.L().Info("expiry worker starting",
		zap.Duration("window", w.window),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("expiry worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("expiry worker stop signal received")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ExpiryWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce runs a single sweep immediately. Useful for tests and manual
// triggering.
func (w *ExpiryWorker) SweepOnce(ctx context.Context) (int, error) {
	return w.recharges.ExpireStale(ctx, w.window, w.batchSize)
}

func (w *ExpiryWorker) sweepOnce(ctx context.Context) {
	if _, err := w.SweepOnce(ctx); err != nil {
		observability.IncrementWorkerRun("expiry", "failed")
		zap.L().Error("expiry sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("expiry", "success")
}
