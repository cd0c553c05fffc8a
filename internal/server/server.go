// Package server exposes the sync control API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sstent/garmin2dawarich/internal/dawarich"
	"github.com/sstent/garmin2dawarich/internal/db"
	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/sweep"
	"github.com/sstent/garmin2dawarich/internal/upload"
)

// RecordsPerPage is the page size of the records listing
const RecordsPerPage = 20

// Store is the ledger and settings store
type Store interface {
	ListRecordsPaginated(ctx context.Context, filter db.RecordFilter, page, pageSize int) ([]db.DownloadRecord, error)
	CountRecords(ctx context.Context, filter db.RecordFilter) (int, error)
	GetRecord(ctx context.Context, id int64) (db.DownloadRecord, error)
	DeleteRecord(ctx context.Context, id int64) error
	GetSettings(ctx context.Context) (db.UserSettings, error)
	SaveSettings(ctx context.Context, s db.UserSettings) error
}

// HealthGate reports the Dawarich connection status
type HealthGate interface {
	CheckStatus(ctx context.Context, force bool) dawarich.Status
	Cached() (dawarich.Status, bool)
}

// Downloader ingests activities for a date window
type Downloader interface {
	Download(ctx context.Context, start, end time.Time) (int, error)
}

// Uploader drains pending uploads
type Uploader interface {
	UploadPending(ctx context.Context, scope upload.Scope) (upload.Result, error)
}

// Sweeper controls the background sweep
type Sweeper interface {
	Start(ctx context.Context) (string, error)
	Stop() error
	Status() sweep.Status
}

// Deps are the components the API drives
type Deps struct {
	Store         Store
	Gate          HealthGate
	Ingest        Downloader
	Uploads       Uploader
	Sweep         Sweeper
	ActivitiesDir string
}

// Server handles the control API
type Server struct {
	deps Deps
	now  func() time.Time
	log  zerolog.Logger
}

// New creates a Server
func New(deps Deps) *Server {
	return &Server{
		deps: deps,
		now:  time.Now,
		log:  logging.With().Str("component", "api").Logger(),
	}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/records", func(r chi.Router) {
			r.Get("/", s.listRecords)
			r.Get("/{id}", s.getRecord)
			r.Delete("/{id}", s.deleteRecord)
			r.Post("/{id}/upload", s.uploadRecord)
		})

		r.Post("/check", s.check)
		r.Post("/upload", s.upload)

		r.Get("/health", s.health)
		r.Post("/health/check", s.healthCheck)

		r.Route("/sweep", func(r chi.Router) {
			r.Get("/", s.sweepStatus)
			r.Post("/start", s.sweepStart)
			r.Post("/stop", s.sweepStop)
		})

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// HTTPService runs the API as a supervised service
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService binds handler to addr
func NewHTTPService(addr string, handler http.Handler) *HTTPService {
	return &HTTPService{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: 10 * time.Second,
	}
}

// Serve listens until ctx is done, then shuts the server down gracefully
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.Info().Str("addr", h.server.Addr).Msg("Control API listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	return "http-server"
}
