package services

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passRecorder stands in for the bracket service; only ReconcileAll is used
// by the reconciler.
type passRecorder struct {
	BracketService

	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	passErr atomic.Value
}

func (p *passRecorder) ReconcileAll(ctx context.Context) ([]*ReconcileReport, error) {
	p.calls.Add(1)
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	if p.release != nil {
		<-p.release
	}
	p.passErr.Store(errBox{ctx.Err()})
	return []*ReconcileReport{{TournamentID: 1, RoundCreated: 2}}, nil
}

type errBox struct{ err error }

func TestReconciler_TicksUntilStopped(t *testing.T) {
	svc := &passRecorder{}
	r := NewReconciler(svc, 5*time.Millisecond, slog.New(slog.DiscardHandler))

	r.Start(context.Background())
	r.Start(context.Background()) // already running
	require.Eventually(t, func() bool { return svc.calls.Load() >= 3 }, time.Second, time.Millisecond)

	r.Stop()
	after := svc.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, svc.calls.Load(), "no pass may start after Stop returns")

	r.Stop() // stopping twice is harmless
}

func TestReconciler_StopWaitsForInFlightPass(t *testing.T) {
	svc := &passRecorder{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	r := NewReconciler(svc, time.Hour, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	<-svc.started

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	cancel()

	assert.Never(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(svc.release)
	require.Eventually(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	box, ok := svc.passErr.Load().(errBox)
	require.True(t, ok)
	assert.NoError(t, box.err, "the in-flight pass must not be cancelled")
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestReconciler_RunOnce(t *testing.T) {
	svc := &passRecorder{}
	r := NewReconciler(svc, time.Hour, nil)

	reports := r.RunOnce(context.Background())
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Changed())
}
