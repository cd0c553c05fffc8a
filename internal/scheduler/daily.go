// Package scheduler runs the daily download-then-upload job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sstent/garmin2dawarich/internal/config"
	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/upload"
)

// Downloader ingests activities for a date window
type Downloader interface {
	Download(ctx context.Context, start, end time.Time) (int, error)
}

// Uploader drains pending uploads
type Uploader interface {
	UploadPending(ctx context.Context, scope upload.Scope) (upload.Result, error)
}

// Daily fires once a day at a fixed local wall-clock time
type Daily struct {
	hour, minute int
	ingest       Downloader
	uploads      Uploader
	now          func() time.Time
	log          zerolog.Logger
}

// NewDaily creates a job that fires at clock ("HH:MM")
func NewDaily(clock string, ingest Downloader, uploads Uploader) (*Daily, error) {
	h, m, err := config.ParseClock(clock)
	if err != nil {
		return nil, err
	}
	return &Daily{
		hour:    h,
		minute:  m,
		ingest:  ingest,
		uploads: uploads,
		now:     time.Now,
		log:     logging.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Next returns the first firing time strictly after t
func (d *Daily) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), d.hour, d.minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Serve waits for each firing time and runs the job until ctx is done.
// A failed run is logged and the job waits for the next day.
func (d *Daily) Serve(ctx context.Context) error {
	for {
		next := d.Next(d.now())
		d.log.Info().Time("next_run", next).Msg("Scheduled daily sync")

		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		if err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error().Err(err).Msg("Daily sync failed")
		}
	}
}

// RunOnce downloads yesterday's activities and then uploads the backlog.
// The upload runs even if the download failed.
func (d *Daily) RunOnce(ctx context.Context) error {
	yesterday := d.now().AddDate(0, 0, -1)
	d.log.Info().Str("day", yesterday.Format("2006-01-02")).Msg("Running daily sync")

	var errs []error
	n, err := d.ingest.Download(ctx, yesterday, yesterday)
	if err != nil {
		errs = append(errs, fmt.Errorf("download: %w", err))
	}

	res, err := d.uploads.UploadPending(ctx, upload.All)
	if err != nil {
		errs = append(errs, fmt.Errorf("upload: %w", err))
	}

	d.log.Info().
		Int("downloaded", n).
		Int("uploaded", res.Succeeded).
		Int("upload_failures", res.Failed).
		Msg("Daily sync finished")
	return errors.Join(errs...)
}
