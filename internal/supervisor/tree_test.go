package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeWorker struct {
	stopped atomic.Bool
	waited  atomic.Bool
}

func (w *fakeWorker) Stop() error {
	w.stopped.Store(true)
	return nil
}

func (w *fakeWorker) Wait(context.Context) error {
	w.waited.Store(true)
	return nil
}

func TestTreeRunsServicesAndStopsWorkers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tree := New(logger, Config{ShutdownTimeout: time.Second})

	started := make(chan struct{})
	tree.Add(Func{Name: "probe", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	w := &fakeWorker{}
	tree.Add(StopOnShutdown("sweep", w, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("service not started")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not shut down")
	}
	if !w.stopped.Load() || !w.waited.Load() {
		t.Error("worker was not stopped on shutdown")
	}
}
