package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sstent/garmin2dawarich/internal/config"
	"github.com/sstent/garmin2dawarich/internal/dawarich"
	"github.com/sstent/garmin2dawarich/internal/db"
	"github.com/sstent/garmin2dawarich/internal/garmin"
	"github.com/sstent/garmin2dawarich/internal/ingest"
	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/sweep"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
	"github.com/sstent/garmin2dawarich/internal/upload"
)

// app holds the components shared by every command
type app struct {
	cfg     *config.Config
	db      *db.Database
	ingest  *ingest.Ingester
	gate    *dawarich.Gate
	uploads *upload.Dispatcher
	sweep   *sweep.Controller
}

// newApp opens the ledger and wires the sync components. Missing Dawarich
// settings do not fail here; operations that need them report the
// configuration error when they run.
func newApp(cfg *config.Config) (*app, error) {
	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := os.MkdirAll(cfg.ActivitiesDir, 0755); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create activities directory: %w", err)
	}

	connect := func(ctx context.Context) (garmin.Source, error) {
		client, err := garmin.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	in := ingest.New(connect, database, cfg.ActivitiesDir, cfg.Exclude)

	opts := dawarich.OptionsFromConfig(cfg)
	gate := dawarich.NewGate(opts, cfg.AcceptedVersions, cfg.HealthTTL, &dawarich.StatusCache{}, database)

	var submitter dawarich.Submitter
	importer, err := dawarich.NewImporter(opts)
	switch {
	case err == nil:
		submitter = importer
	case errors.Is(err, syncerr.ErrConfiguration):
		logging.Warn().Str("reason", syncerr.Summary(err)).Msg("Dawarich is not configured, uploads will fail")
		submitter = unconfigured{err: err}
	default:
		database.Close()
		return nil, err
	}

	uploads := upload.NewDispatcher(database, gate, submitter, cfg.ActivitiesDir, cfg.UploadDelay)

	sw := sweep.NewController(database, in)
	if cfg.SweepUpload {
		sw.SetDayHook(func(ctx context.Context, _ time.Time) error {
			_, err := uploads.UploadPending(ctx, upload.All)
			return err
		})
	}

	return &app{
		cfg:     cfg,
		db:      database,
		ingest:  in,
		gate:    gate,
		uploads: uploads,
		sweep:   sw,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// unconfigured reports the configuration error for every submission
type unconfigured struct{ err error }

func (u unconfigured) Submit(context.Context, string) (dawarich.ImportResult, error) {
	return dawarich.ImportResult{}, u.err
}

// parseDay parses a YYYY-MM-DD flag value in local time
func parseDay(name, value string) (time.Time, error) {
	t, err := time.ParseInLocation(db.DateLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD, got %q", name, value)
	}
	return t, nil
}
