package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reconciler runs ReconcileAll on its own ticker. Stop halts future ticks and
// waits for a pass in flight to finish; it never cancels that pass.
type Reconciler struct {
	service  BracketService
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewReconciler(service BracketService, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{service: service, interval: interval, logger: logger}
}

// Start runs one pass immediately, then one per interval, until Stop is
// called or ctx is done. Calling Start on a running reconciler does nothing.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(ctx, r.stop, r.done)
}

// Stop blocks until the loop has exited.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (r *Reconciler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("reconciler started", slog.Duration("interval", r.interval))

	r.RunOnce(ctx)
	for {
		select {
		case <-stop:
			r.logger.Info("reconciler stopped")
			return
		case <-ctx.Done():
			r.logger.Info("reconciler context done", slog.Any("error", ctx.Err()))
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass. The pass keeps ctx's values but not its
// cancellation.
func (r *Reconciler) RunOnce(ctx context.Context) []*ReconcileReport {
	reports, err := r.service.ReconcileAll(context.WithoutCancel(ctx))
	if err != nil {
		r.logger.Error("reconcile pass finished with errors", slog.Any("error", err))
	}
	changed := 0
	for _, report := range reports {
		if report.Changed() {
			changed++
		}
	}
	r.logger.Debug("reconcile pass done",
		slog.Int("tournaments", len(reports)),
		slog.Int("changed", changed),
	)
	return reports
}
