// Package ingest downloads new Garmin activities into the local activity
// directory and records them in the ledger.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tkrajina/gpxgo/gpx"

	"github.com/sstent/garmin2dawarich/internal/db"
	"github.com/sstent/garmin2dawarich/internal/garmin"
	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/metrics"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

// Ledger is the part of the database ingestion writes to
type Ledger interface {
	RecordExists(ctx context.Context, filename string) (bool, error)
	InsertRecord(ctx context.Context, filename string, downloadedAt time.Time) (db.DownloadRecord, error)
}

// Connector authenticates against the activity source
type Connector func(ctx context.Context) (garmin.Source, error)

// Ingester materializes activities from a date window as GPX files
type Ingester struct {
	connect Connector
	ledger  Ledger
	dir     string
	exclude map[string]struct{}
	now     func() time.Time
	log     zerolog.Logger

	mu     sync.Mutex
	source garmin.Source
}

// New creates an Ingester. The source is connected lazily on first use and
// reused afterwards.
func New(connect Connector, ledger Ledger, dir string, exclude []string) *Ingester {
	ex := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		ex[name] = struct{}{}
	}
	return &Ingester{
		connect: connect,
		ledger:  ledger,
		dir:     dir,
		exclude: ex,
		now:     time.Now,
		log:     logging.With().Str("component", "ingest").Logger(),
	}
}

// Filename is the deterministic local name of an activity's GPX file
func Filename(a garmin.Activity) string {
	return fmt.Sprintf("%s_%d.gpx", a.StartLocal.Format(db.DateLayout), a.ID)
}

func (in *Ingester) activitySource(ctx context.Context) (garmin.Source, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.source != nil {
		return in.source, nil
	}
	src, err := in.connect(ctx)
	if err != nil {
		return nil, err
	}
	in.source = src
	return src, nil
}

// Download fetches activities whose local start date lies between the
// calendar days of start and end, inclusive, and returns how many new files
// were stored.
func (in *Ingester) Download(ctx context.Context, start, end time.Time) (int, error) {
	src, err := in.activitySource(ctx)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(in.dir, 0755); err != nil {
		return 0, syncerr.Configuration("ingest", "failed to create activities directory %s: %v", in.dir, err)
	}

	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, int(time.Second-1), time.UTC)

	activities, err := src.List(ctx, from, to)
	if err != nil {
		return 0, err
	}
	in.log.Info().
		Str("start", from.Format(db.DateLayout)).
		Str("end", to.Format(db.DateLayout)).
		Int("activities", len(activities)).
		Msg("Listed activities")

	saved := 0
	for _, a := range activities {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		ok, err := in.ingestOne(ctx, src, a)
		if err != nil {
			return saved, err
		}
		if ok {
			saved++
		}
	}

	in.log.Info().Int("saved", saved).Msg("Download complete")
	return saved, nil
}

func (in *Ingester) ingestOne(ctx context.Context, src garmin.Source, a garmin.Activity) (bool, error) {
	log := in.log.With().Int("activity_id", a.ID).Str("name", a.Name).Logger()

	if _, skip := in.exclude[a.Name]; skip {
		log.Info().Msg("Skipping excluded activity")
		metrics.ActivitiesSkipped.WithLabelValues("excluded").Inc()
		return false, nil
	}

	filename := Filename(a)
	exists, err := in.ledger.RecordExists(ctx, filename)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger for %s: %w", filename, err)
	}
	if exists {
		log.Debug().Str("file", filename).Msg("Already downloaded, skipping")
		metrics.ActivitiesSkipped.WithLabelValues("already_downloaded").Inc()
		return false, nil
	}

	data, err := src.DownloadGPX(ctx, a.ID)
	if err != nil {
		return false, err
	}

	points, err := countPoints(data)
	if err != nil {
		log.Warn().Err(err).Str("file", filename).Msg("Unparseable GPX, skipping")
		metrics.ActivitiesSkipped.WithLabelValues("invalid_track").Inc()
		return false, nil
	}
	if points == 0 {
		log.Info().Str("file", filename).Msg("Track has no points, skipping")
		metrics.ActivitiesSkipped.WithLabelValues("empty_track").Inc()
		return false, nil
	}

	path := filepath.Join(in.dir, filename)
	if err := writeFile(path, data); err != nil {
		return false, err
	}

	if _, err := in.ledger.InsertRecord(ctx, filename, in.now()); err != nil {
		if errors.Is(err, db.ErrDuplicateRecord) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record %s: %w", filename, err)
	}

	log.Info().Str("file", filename).Int("points", points).Msg("Saved activity")
	metrics.ActivitiesDownloaded.Inc()
	return true, nil
}

// countPoints returns the number of track and route points in a GPX document
func countPoints(data []byte) (int, error) {
	g, err := gpx.ParseBytes(data)
	if err != nil {
		return 0, syncerr.Data("ingest.parse", "invalid GPX: %v", err)
	}
	n := 0
	for _, trk := range g.Tracks {
		for _, seg := range trk.Segments {
			n += len(seg.Points)
		}
	}
	for _, rte := range g.Routes {
		n += len(rte.Points)
	}
	return n, nil
}

// writeFile writes data via a temporary file so a partial download never
// appears under the final name.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}
