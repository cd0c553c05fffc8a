package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError reports err to the client as a one-line summary; the full
// error goes to the log.
func respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).Int("status", status).Msg("API error")
	}
	resp := errorResponse{Error: syncerr.Summary(err)}
	if k := syncerr.KindOf(err); k != syncerr.KindUnknown {
		resp.Kind = strings.ToLower(k.String())
	}
	respondJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

var validationMessages = map[string]string{
	"required": "%s is required",
	"datetime": "%s must be a date in YYYY-MM-DD format",
	"oneof":    "%s must be one of: %s",
	"min":      "%s must be at least %s",
	"max":      "%s must be at most %s",
}

// validateRequest returns a readable error for the first invalid fields
func validateRequest(v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		tmpl, ok := validationMessages[fe.Tag()]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
			continue
		}
		if strings.Count(tmpl, "%s") == 2 {
			msgs = append(msgs, fmt.Sprintf(tmpl, fe.Field(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf(tmpl, fe.Field()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
