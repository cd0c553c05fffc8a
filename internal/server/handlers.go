package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sstent/garmin2dawarich/internal/db"
	"github.com/sstent/garmin2dawarich/internal/sweep"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
	"github.com/sstent/garmin2dawarich/internal/upload"
)

type recordsQuery struct {
	Page   int    `json:"page" validate:"min=1"`
	Filter string `json:"filter" validate:"omitempty,oneof=all pending uploaded"`
}

type recordsResponse struct {
	Records    []db.DownloadRecord `json:"records"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	Total      int                 `json:"total"`
	TotalPages int                 `json:"total_pages"`
	Filter     string              `json:"filter"`
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	q := recordsQuery{Page: 1, Filter: r.URL.Query().Get("filter")}
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("page must be a number"))
			return
		}
		q.Page = n
	}
	if err := validateRequest(&q); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	filter, _ := db.ParseRecordFilter(q.Filter)

	ctx := r.Context()
	total, err := s.deps.Store.CountRecords(ctx, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	records, err := s.deps.Store.ListRecordsPaginated(ctx, filter, q.Page, RecordsPerPage)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []db.DownloadRecord{}
	}

	respondJSON(w, http.StatusOK, recordsResponse{
		Records:    records,
		Page:       q.Page,
		PerPage:    RecordsPerPage,
		Total:      total,
		TotalPages: (total + RecordsPerPage - 1) / RecordsPerPage,
		Filter:     filter.String(),
	})
}

func recordID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.deps.Store.GetRecord(r.Context(), id)
	if errors.Is(err, db.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// deleteRecord removes a ledger entry; ?file=true also removes the local file.
func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()
	rec, err := s.deps.Store.GetRecord(ctx, id)
	if errors.Is(err, db.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.deps.Store.DeleteRecord(ctx, id); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	removed := false
	if r.URL.Query().Get("file") == "true" {
		path := filepath.Join(s.deps.ActivitiesDir, rec.Filename)
		if err := os.Remove(path); err == nil {
			removed = true
		} else if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("file", rec.Filename).Msg("Failed to remove activity file")
		}
	}

	s.log.Info().Int64("record_id", id).Str("file", rec.Filename).Bool("file_removed", removed).Msg("Record deleted")
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id, "file_removed": removed})
}

func (s *Server) uploadRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	s.runUpload(w, r, upload.Scope{RecordID: id})
}

// upload drains the backlog, or only the newest pending record with
// ?scope=latest.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	var scope upload.Scope
	switch r.URL.Query().Get("scope") {
	case "", "all":
	case "latest":
		scope.Latest = true
	default:
		respondError(w, http.StatusBadRequest, errors.New("scope must be all or latest"))
		return
	}
	s.runUpload(w, r, scope)
}

func (s *Server) runUpload(w http.ResponseWriter, r *http.Request, scope upload.Scope) {
	res, err := s.deps.Uploads.UploadPending(r.Context(), scope)
	if errors.Is(err, db.ErrRecordNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type checkRequest struct {
	Start string `json:"start" validate:"omitempty,datetime=2006-01-02"`
	End   string `json:"end" validate:"omitempty,datetime=2006-01-02"`
}

// check downloads activities for a window, yesterday by default.
func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	yesterday := s.now().AddDate(0, 0, -1)
	start, end := yesterday, yesterday
	if req.Start != "" {
		start, _ = time.Parse(db.DateLayout, req.Start)
		end = start
	}
	if req.End != "" {
		end, _ = time.Parse(db.DateLayout, req.End)
	}
	if end.Before(start) {
		respondError(w, http.StatusBadRequest, errors.New("end must not be before start"))
		return
	}

	n, err := s.deps.Ingest.Download(r.Context(), start, end)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"downloaded": n,
		"start":      start.Format(db.DateLayout),
		"end":        end.Format(db.DateLayout),
	})
}

// health returns the cached connection status without contacting Dawarich.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	status, ok := s.deps.Gate.Cached()
	if !ok {
		respondJSON(w, http.StatusOK, map[string]any{"checked": false})
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	respondJSON(w, http.StatusOK, s.deps.Gate.CheckStatus(r.Context(), force))
}

func (s *Server) sweepStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Sweep.Status())
}

func (s *Server) sweepStart(w http.ResponseWriter, r *http.Request) {
	runID, err := s.deps.Sweep.Start(r.Context())
	switch {
	case errors.Is(err, sweep.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, err)
	case err != nil:
		respondError(w, statusFor(err), err)
	default:
		respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	}
}

func (s *Server) sweepStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Sweep.Stop(); err != nil {
		respondError(w, http.StatusConflict, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.deps.Sweep.Status())
}

type settingsPayload struct {
	DeleteOldFiles         bool   `json:"delete_old_files"`
	StartDate              string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate                string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	DelaySeconds           *int   `json:"delay_seconds" validate:"required,min=0,max=86400"`
	IgnoreSafeVersionCheck bool   `json:"ignore_safe_version_check"`
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Store.GetSettings(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, toPayload(settings))
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	settings := db.UserSettings{
		DeleteOldFiles:         req.DeleteOldFiles,
		DelaySeconds:           *req.DelaySeconds,
		IgnoreSafeVersionCheck: req.IgnoreSafeVersionCheck,
	}
	if req.StartDate != "" {
		t, _ := time.Parse(db.DateLayout, req.StartDate)
		settings.StartDate = &t
	}
	if req.EndDate != "" {
		t, _ := time.Parse(db.DateLayout, req.EndDate)
		settings.EndDate = &t
	}
	if settings.StartDate != nil && settings.EndDate != nil && settings.StartDate.After(*settings.EndDate) {
		respondError(w, http.StatusBadRequest, errors.New("start_date must not be after end_date"))
		return
	}

	if err := s.deps.Store.SaveSettings(r.Context(), settings); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info().
		Str("start_date", req.StartDate).
		Str("end_date", req.EndDate).
		Int("delay_seconds", settings.DelaySeconds).
		Bool("ignore_safe_version_check", settings.IgnoreSafeVersionCheck).
		Msg("Settings updated")
	respondJSON(w, http.StatusOK, toPayload(settings))
}

func toPayload(s db.UserSettings) settingsPayload {
	delay := s.DelaySeconds
	p := settingsPayload{
		DeleteOldFiles:         s.DeleteOldFiles,
		DelaySeconds:           &delay,
		IgnoreSafeVersionCheck: s.IgnoreSafeVersionCheck,
	}
	if s.StartDate != nil {
		p.StartDate = s.StartDate.Format(db.DateLayout)
	}
	if s.EndDate != nil {
		p.EndDate = s.EndDate.Format(db.DateLayout)
	}
	return p
}

// statusFor maps a classified failure to an HTTP status.
func statusFor(err error) int {
	switch syncerr.KindOf(err) {
	case syncerr.KindConfiguration:
		return http.StatusBadRequest
	case syncerr.KindAuthentication, syncerr.KindNetwork, syncerr.KindProtocol:
		return http.StatusBadGateway
	case syncerr.KindData:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
