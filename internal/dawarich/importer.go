package dawarich

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/sstent/garmin2dawarich/internal/config"
	"github.com/sstent/garmin2dawarich/internal/metrics"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

// Submitter imports one local activity file into Dawarich
type Submitter interface {
	Submit(ctx context.Context, path string) (ImportResult, error)
}

// ImportResult describes a completed import
type ImportResult struct {
	Filename string
	SignedID string
}

// Importer runs the five step import sequence on a fresh session per file
type Importer struct {
	opts Options
}

// NewImporter validates opts and returns an Importer
func NewImporter(opts Options) (*Importer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.ImportSource == "" {
		opts.ImportSource = "gpx"
	}
	switch opts.ImportEncoding {
	case "":
		opts.ImportEncoding = config.EncodingMultipart
	case config.EncodingMultipart, config.EncodingForm:
	default:
		return nil, syncerr.Configuration("dawarich", "unknown import encoding %q", opts.ImportEncoding)
	}
	return &Importer{opts: opts}, nil
}

type blobMetadata struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ByteSize    int    `json:"byte_size"`
	Checksum    string `json:"checksum"`
}

type directUploadResponse struct {
	SignedID     string `json:"signed_id"`
	DirectUpload struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"direct_upload"`
}

// Submit logs in, registers a blob for the file, uploads its bytes and
// submits the import form. The first failing step aborts the sequence.
func (i *Importer) Submit(ctx context.Context, path string) (ImportResult, error) {
	filename := filepath.Base(path)
	result := ImportResult{Filename: filename}

	data, err := os.ReadFile(path)
	if err != nil {
		return result, syncerr.Data("dawarich.import", "failed to read %s: %v", filename, err).With("file", filename)
	}

	s, err := NewSession(i.opts)
	if err != nil {
		return result, err
	}
	log := s.log.With().Str("file", filename).Str("source", i.opts.ImportSource).Logger()
	log.Info().Msg("Starting import")

	// 1) login
	if _, err := s.Login(ctx); err != nil {
		return result, stepFailed(1, filename, err)
	}

	// 2) import form
	target, err := s.ImportTarget(ctx)
	if err != nil {
		return result, stepFailed(2, filename, err)
	}

	// 3) blob registration
	blob := blobMetadata{
		Filename:    filename,
		ContentType: contentType(filename),
		ByteSize:    len(data),
		Checksum:    checksum(data),
	}
	upload, err := i.registerBlob(ctx, s, target, blob)
	if err != nil {
		return result, stepFailed(3, filename, err)
	}
	result.SignedID = upload.SignedID
	log.Info().Str("signed_id", syncerr.Truncate(upload.SignedID, 15)).Msg("Registered upload blob")

	// 4) raw bytes
	uploadURL := resolve(s.host, upload.DirectUpload.URL)
	hdr := http.Header{}
	for k, v := range upload.DirectUpload.Headers {
		hdr.Set(k, v)
	}
	if _, err := s.do(ctx, "dawarich.import.upload", http.MethodPut, uploadURL, bytes.NewReader(data), hdr); err != nil {
		return result, stepFailed(4, filename, err)
	}
	log.Debug().Str("url", uploadURL).Msg("Uploaded file bytes")

	// 5) import form submission
	if err := i.submitImport(ctx, s, target, upload.SignedID); err != nil {
		return result, stepFailed(5, filename, err)
	}

	log.Info().Str("signed_id", syncerr.Truncate(upload.SignedID, 15)).Msg("Import submitted")
	return result, nil
}

func (i *Importer) registerBlob(ctx context.Context, s *Session, target ImportTarget, blob blobMetadata) (directUploadResponse, error) {
	const op = "dawarich.import.blob"
	var out directUploadResponse

	payload, err := json.Marshal(map[string]blobMetadata{"blob": blob})
	if err != nil {
		return out, syncerr.Protocol(op, "failed to encode blob metadata: %v", err)
	}

	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Accept", "application/json")
	hdr.Set("X-CSRF-Token", target.Token)
	hdr.Set("X-Requested-With", "XMLHttpRequest")
	hdr.Set("Referer", target.FormURL)
	hdr.Set("Origin", s.origin)

	page, err := s.do(ctx, op, http.MethodPost, target.UploadURL, bytes.NewReader(payload), hdr)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(page.Body, &out); err != nil {
		return out, syncerr.Protocol(op, "invalid direct upload response: %v", err).
			With("response", syncerr.Truncate(string(page.Body), snippetLimit))
	}
	if out.SignedID == "" || out.DirectUpload.URL == "" {
		return out, syncerr.Protocol(op, "direct upload response missing signed_id or upload url").
			With("response", syncerr.Truncate(string(page.Body), snippetLimit))
	}
	return out, nil
}

func (i *Importer) submitImport(ctx context.Context, s *Session, target ImportTarget, signedID string) error {
	const op = "dawarich.import.submit"

	fields := [][2]string{
		{"authenticity_token", target.Token},
		{"import[source]", i.opts.ImportSource},
		{"import[files][]", signedID},
	}

	var (
		body  bytes.Buffer
		ctype string
	)
	switch i.opts.ImportEncoding {
	case config.EncodingForm:
		form := url.Values{}
		for _, f := range fields {
			form.Add(f[0], f[1])
		}
		body.WriteString(form.Encode())
		ctype = "application/x-www-form-urlencoded"
	default:
		w := multipart.NewWriter(&body)
		for _, f := range fields {
			if err := w.WriteField(f[0], f[1]); err != nil {
				return syncerr.Protocol(op, "failed to encode import form: %v", err)
			}
		}
		if err := w.Close(); err != nil {
			return syncerr.Protocol(op, "failed to encode import form: %v", err)
		}
		ctype = w.FormDataContentType()
	}

	hdr := http.Header{}
	hdr.Set("Content-Type", ctype)
	hdr.Set("Accept", acceptHTML)
	hdr.Set("Referer", target.FormURL)
	hdr.Set("Origin", s.origin)

	_, err := s.do(ctx, op, http.MethodPost, s.endpoint("/imports"), &body, hdr)
	return err
}

// stepFailed tags err with the failing step and counts it.
func stepFailed(step int, filename string, err error) error {
	metrics.ProtocolStepFailures.WithLabelValues(fmt.Sprint(step)).Inc()
	var se *syncerr.Error
	if errors.As(err, &se) {
		se.With("step", fmt.Sprint(step)).With("file", filename)
		return err
	}
	return fmt.Errorf("step %d (%s): %w", step, filename, err)
}

func checksum(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func contentType(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}
