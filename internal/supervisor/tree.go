// Package supervisor runs the long-lived services of the sync daemon under a
// suture supervision tree.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// Config tunes restart behaviour
type Config struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultConfig returns the restart policy used by the daemon
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the root supervisor
type Tree struct {
	root *suture.Supervisor
}

// New builds an empty tree whose events are logged through logger
func New(logger *slog.Logger, cfg Config) *Tree {
	def := DefaultConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	// MustHook has a pointer receiver.
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	return &Tree{
		root: suture.New("garmin2dawarich", suture.Spec{
			EventHook:        hook,
			FailureThreshold: cfg.FailureThreshold,
			FailureDecay:     cfg.FailureDecay,
			FailureBackoff:   cfg.FailureBackoff,
			Timeout:          cfg.ShutdownTimeout,
		}),
	}
}

// Add registers a service
func (t *Tree) Add(svc suture.Service) suture.ServiceToken {
	return t.root.Add(svc)
}

// Serve runs the tree until ctx is done. A cancelled context is a clean
// shutdown and returns nil.
func (t *Tree) Serve(ctx context.Context) error {
	err := t.root.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Func adapts a function to a named suture service
type Func struct {
	Name string
	Run  func(ctx context.Context) error
}

func (f Func) Serve(ctx context.Context) error { return f.Run(ctx) }

func (f Func) String() string { return f.Name }

// Stoppable is a background worker that is asked to stop on shutdown
type Stoppable interface {
	Stop() error
	Wait(ctx context.Context) error
}

// StopOnShutdown returns a service that idles until shutdown, then stops w
// and waits up to timeout for it to finish.
func StopOnShutdown(name string, w Stoppable, timeout time.Duration) suture.Service {
	return Func{Name: name, Run: func(ctx context.Context) error {
		<-ctx.Done()
		_ = w.Stop()
		waitCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = w.Wait(waitCtx)
		return ctx.Err()
	}}
}
