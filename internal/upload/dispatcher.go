// Package upload drains ledger entries that have not reached Dawarich yet.
package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/sstent/garmin2dawarich/internal/dawarich"
	"github.com/sstent/garmin2dawarich/internal/db"
	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/metrics"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

// Ledger is the part of the database the dispatcher reads and updates
type Ledger interface {
	PendingRecords(ctx context.Context) ([]db.DownloadRecord, error)
	LatestPending(ctx context.Context) (db.DownloadRecord, error)
	GetRecord(ctx context.Context, id int64) (db.DownloadRecord, error)
	MarkUploaded(ctx context.Context, id int64) error
}

// HealthChecker gates each upload attempt
type HealthChecker interface {
	CheckStatus(ctx context.Context, force bool) dawarich.Status
}

// Scope selects which pending records a dispatch covers. The zero value is
// the whole backlog.
type Scope struct {
	RecordID int64 // a single record by id
	Latest   bool  // the most recent pending record
}

// All is the whole backlog, oldest first
var All = Scope{}

// Result aggregates the outcome of a dispatch
type Result struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Dispatcher uploads pending activity files one at a time
type Dispatcher struct {
	ledger    Ledger
	gate      HealthChecker
	submitter dawarich.Submitter
	dir       string
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

// NewDispatcher creates a dispatcher that waits delay between items
func NewDispatcher(ledger Ledger, gate HealthChecker, submitter dawarich.Submitter, dir string, delay time.Duration) *Dispatcher {
	return &Dispatcher{
		ledger:    ledger,
		gate:      gate,
		submitter: submitter,
		dir:       dir,
		delay:     delay,
		sleep:     sleepCtx,
		log:       logging.With().Str("component", "upload").Logger(),
	}
}

// UploadPending uploads the records selected by scope. Per-record failures
// are counted and do not stop the batch; the returned error is reserved for
// failures to read the ledger.
func (d *Dispatcher) UploadPending(ctx context.Context, scope Scope) (Result, error) {
	var res Result

	records, err := d.candidates(ctx, scope)
	if err != nil {
		return res, err
	}
	if len(records) == 0 {
		d.log.Info().Msg("No pending uploads")
		return res, nil
	}
	d.log.Info().Int("pending", len(records)).Msg("Uploading pending activities")

	for i, rec := range records {
		if i > 0 && d.delay > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return res, err
			}
		}
		if err := d.uploadOne(ctx, rec); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, rec.Filename+": "+syncerr.Summary(err))
			continue
		}
		res.Succeeded++
	}

	d.log.Info().Int("succeeded", res.Succeeded).Int("failed", res.Failed).Msg("Upload batch finished")
	return res, nil
}

func (d *Dispatcher) candidates(ctx context.Context, scope Scope) ([]db.DownloadRecord, error) {
	switch {
	case scope.RecordID != 0:
		rec, err := d.ledger.GetRecord(ctx, scope.RecordID)
		if err != nil {
			return nil, err
		}
		if rec.Uploaded {
			return nil, nil
		}
		return []db.DownloadRecord{rec}, nil
	case scope.Latest:
		rec, err := d.ledger.LatestPending(ctx)
		if errors.Is(err, db.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []db.DownloadRecord{rec}, nil
	default:
		return d.ledger.PendingRecords(ctx)
	}
}

func (d *Dispatcher) uploadOne(ctx context.Context, rec db.DownloadRecord) error {
	log := d.log.With().Int64("record_id", rec.ID).Str("file", rec.Filename).Logger()
	path := filepath.Join(d.dir, rec.Filename)

	if _, err := os.Stat(path); err != nil {
		log.Warn().Err(err).Msg("Activity file missing, skipping")
		metrics.UploadsTotal.WithLabelValues("missing_file").Inc()
		return syncerr.Data("upload", "file not found: %s", rec.Filename)
	}

	if st := d.gate.CheckStatus(ctx, false); !st.Healthy {
		msg := st.Message
		if msg == "" {
			msg = "connection health check failed"
		}
		log.Warn().Str("reason", msg).Msg("Dawarich connection unhealthy, skipping upload")
		metrics.UploadsTotal.WithLabelValues("unhealthy").Inc()
		return syncerr.Network("upload", errors.New(msg))
	}

	if _, err := d.submitter.Submit(ctx, path); err != nil {
		log.Error().Err(err).Msg("Upload failed")
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return err
	}

	if err := d.ledger.MarkUploaded(ctx, rec.ID); err != nil {
		log.Error().Err(err).Msg("Uploaded but failed to mark record")
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return err
	}

	log.Info().Msg("Uploaded activity")
	metrics.UploadsTotal.WithLabelValues("success").Inc()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
