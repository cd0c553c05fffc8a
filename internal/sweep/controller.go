// Package sweep replays a historical date range day by day in the
// background, persisting the start date as a resumable cursor.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sstent/garmin2dawarich/internal/db"
	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/metrics"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

// State of the sweep worker
type State int32

const (
	Idle State = iota
	Running
	Completed
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// MarshalText renders the state by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrAlreadyRunning = errors.New("a sweep is already running")
	ErrNotRunning     = errors.New("no sweep is running")
)

// Settings is the persisted sweep range and cursor
type Settings interface {
	GetSettings(ctx context.Context) (db.UserSettings, error)
	AdvanceCursor(ctx context.Context, next time.Time) error
}

// Downloader ingests activities for a date window
type Downloader interface {
	Download(ctx context.Context, start, end time.Time) (int, error)
}

// DayHook runs after a day has been ingested and before the cursor moves
type DayHook func(ctx context.Context, day time.Time) error

// Status is a point-in-time view of the controller
type Status struct {
	State      State     `json:"state"`
	Message    string    `json:"message"`
	RunID      string    `json:"run_id,omitempty"`
	Day        string    `json:"day,omitempty"`
	Days       int       `json:"days_processed"`
	Downloaded int       `json:"downloaded"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Controller owns the single background sweep worker
type Controller struct {
	settings Settings
	ingest   Downloader
	afterDay DayHook
	log      zerolog.Logger

	state atomic.Int32

	mu     sync.Mutex
	status Status
	stop   chan struct{}
	done   chan struct{}
}

// NewController creates an idle controller
func NewController(settings Settings, ingest Downloader) *Controller {
	return &Controller{
		settings: settings,
		ingest:   ingest,
		log:      logging.With().Str("component", "sweep").Logger(),
		status:   Status{State: Idle, Message: "Idle"},
	}
}

// SetDayHook installs a hook that runs after each day's ingestion. A hook
// error fails the sweep like an ingestion error.
func (c *Controller) SetDayHook(h DayHook) {
	c.mu.Lock()
	c.afterDay = h
	c.mu.Unlock()
}

// State returns the current state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Status returns a copy of the current status
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.State = c.State()
	return s
}

// Start validates the persisted range and launches the worker. It returns
// ErrAlreadyRunning while another sweep holds the worker and a
// Configuration error for an unusable range. The worker outlives ctx's
// cancellation; use Stop to end it.
func (c *Controller) Start(ctx context.Context) (string, error) {
	prev, ok := c.acquire()
	if !ok {
		return "", ErrAlreadyRunning
	}

	s, err := c.settings.GetSettings(ctx)
	if err == nil {
		err = validate(s)
	}
	if err != nil {
		c.state.Store(int32(prev))
		return "", err
	}

	runID := uuid.NewString()
	stop, done := make(chan struct{}), make(chan struct{})

	c.mu.Lock()
	c.stop, c.done = stop, done
	c.status = Status{
		State:     Running,
		Message:   "Starting",
		RunID:     runID,
		StartedAt: time.Now(),
	}
	hook := c.afterDay
	c.mu.Unlock()
	metrics.SweepState.Set(float64(Running))

	c.log.Info().
		Str("run_id", runID).
		Str("start", s.StartDate.Format(db.DateLayout)).
		Str("end", s.EndDate.Format(db.DateLayout)).
		Int("delay_seconds", s.DelaySeconds).
		Msg("Sweep started")

	go c.run(context.WithoutCancel(ctx), runID, s, hook, stop, done)
	return runID, nil
}

// acquire moves the controller to Running unless it already is.
func (c *Controller) acquire() (State, bool) {
	for {
		cur := State(c.state.Load())
		if cur == Running {
			return cur, false
		}
		if c.state.CompareAndSwap(int32(cur), int32(Running)) {
			return cur, true
		}
	}
}

func validate(s db.UserSettings) error {
	if s.StartDate == nil || s.EndDate == nil {
		return syncerr.Configuration("sweep", "start date and end date must be set")
	}
	if s.DelaySeconds < 0 {
		return syncerr.Configuration("sweep", "delay must not be negative")
	}
	if s.StartDate.After(*s.EndDate) {
		return syncerr.Configuration("sweep", "start date %s is after end date %s",
			s.StartDate.Format(db.DateLayout), s.EndDate.Format(db.DateLayout))
	}
	return nil
}

// Stop asks the running sweep to end at the next day boundary
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != Running || c.stop == nil {
		return ErrNotRunning
	}
	select {
	case <-c.stop:
	default:
		close(c.stop)
		c.status.Message = "Stopping after current day"
		c.log.Info().Str("run_id", c.status.RunID).Msg("Stop requested")
	}
	return nil
}

// Wait blocks until the current sweep, if any, has finished
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run(ctx context.Context, runID string, s db.UserSettings, hook DayHook, stop, done chan struct{}) {
	defer close(done)
	log := c.log.With().Str("run_id", runID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("day", c.Status().Day).Msg("Sweep worker panicked")
			c.finish(Failed, fmt.Sprintf("Sweep aborted: %v", r))
		}
	}()

	cursor, end := *s.StartDate, *s.EndDate
	delay := s.Delay()

	for !cursor.After(end) {
		select {
		case <-stop:
			c.finish(Stopped, fmt.Sprintf("Stopped before %s", cursor.Format(db.DateLayout)))
			return
		default:
		}

		day := cursor.Format(db.DateLayout)
		c.update(func(st *Status) {
			st.Day = day
			st.Message = "Processing " + day
		})

		n, err := c.ingest.Download(ctx, cursor, cursor)
		if err == nil && hook != nil {
			err = hook(ctx, cursor)
		}
		if err != nil {
			log.Error().Err(err).Str("day", day).Msg("Sweep day failed")
			c.finish(Failed, fmt.Sprintf("Failed on %s: %s", day, syncerr.Summary(err)))
			return
		}

		next := cursor.AddDate(0, 0, 1)
		if err := c.settings.AdvanceCursor(ctx, next); err != nil {
			log.Error().Err(err).Str("day", day).Msg("Failed to persist sweep cursor")
			c.finish(Failed, fmt.Sprintf("Failed to save progress after %s: %s", day, syncerr.Summary(err)))
			return
		}
		metrics.SweepDaysProcessed.Inc()
		c.update(func(st *Status) {
			st.Days++
			st.Downloaded += n
		})
		log.Info().Str("day", day).Int("downloaded", n).Msg("Sweep day complete")

		cursor = next
		if !cursor.After(end) && delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-stop:
			case <-t.C:
			}
			t.Stop()
		}
	}

	c.finish(Completed, fmt.Sprintf("Completed through %s", end.Format(db.DateLayout)))
}

func (c *Controller) update(fn func(*Status)) {
	c.mu.Lock()
	fn(&c.status)
	c.mu.Unlock()
}

// finish records the terminal state and releases the worker handle.
func (c *Controller) finish(state State, msg string) {
	c.mu.Lock()
	c.status.Message = msg
	c.status.FinishedAt = time.Now()
	c.stop = nil
	c.state.Store(int32(state))
	c.mu.Unlock()

	metrics.SweepState.Set(float64(state))
	ev := c.log.Info()
	if state == Failed {
		ev = c.log.Warn()
	}
	ev.Str("state", state.String()).Msg(msg)
}
