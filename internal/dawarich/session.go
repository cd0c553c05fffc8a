// Package dawarich drives the Dawarich web application the way a browser
// does: cookie session, CSRF tokens scraped from forms, and the Active
// Storage direct upload sequence used by the import page.
package dawarich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"

	"github.com/sstent/garmin2dawarich/internal/config"
	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

const (
	browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"
	acceptHTML       = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	snippetLimit     = 500
)

// Options configures a Session
type Options struct {
	Host               string
	Email              string
	Password           string
	LoginFailureMarker string
	ImportSource       string
	ImportEncoding     string
	RequestTimeout     time.Duration
}

// OptionsFromConfig builds session options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Host:               cfg.DawarichHost,
		Email:              cfg.DawarichEmail,
		Password:           cfg.DawarichPassword,
		LoginFailureMarker: cfg.LoginFailureMarker,
		ImportSource:       cfg.ImportSource,
		ImportEncoding:     cfg.ImportEncoding,
		RequestTimeout:     cfg.RequestTimeout,
	}
}

func (o Options) validate() error {
	if strings.TrimSpace(o.Host) == "" {
		return syncerr.Configuration("dawarich", "DAWARICH_HOST not configured")
	}
	if o.Email == "" || o.Password == "" {
		return syncerr.Configuration("dawarich", "DAWARICH_EMAIL or DAWARICH_PASSWORD not configured")
	}
	return nil
}

// Session is one authenticated browser-like session. Cookies persist across
// every request made through it; a Session is not safe for concurrent use.
type Session struct {
	opts   Options
	host   *url.URL
	origin string
	base   *colly.Collector
	log    zerolog.Logger
}

// NewSession creates an unauthenticated session against opts.Host
func NewSession(opts Options) (*Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	host, err := url.Parse(strings.TrimRight(opts.Host, "/"))
	if err != nil || host.Scheme == "" || host.Host == "" {
		return nil, syncerr.Configuration("dawarich", "invalid DAWARICH_HOST %q", opts.Host)
	}

	c := colly.NewCollector(
		colly.UserAgent(browserUserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	// Status codes are judged per step, so error responses are delivered too.
	c.ParseHTTPErrorResponse = true
	if opts.RequestTimeout > 0 {
		c.SetRequestTimeout(opts.RequestTimeout)
	}

	return &Session{
		opts:   opts,
		host:   host,
		origin: host.Scheme + "://" + host.Host,
		base:   c,
		log:    logging.With().Str("component", "dawarich").Str("host", host.Host).Logger(),
	}, nil
}

func (s *Session) endpoint(path string) string {
	return s.host.String() + path
}

// do issues one request on the shared cookie jar. Any status outside 2xx is
// a Network error carrying a snippet of the response body.
func (s *Session) do(ctx context.Context, op, method, target string, body io.Reader, hdr http.Header) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := s.base.Clone()
	var page *Page
	c.OnResponse(func(r *colly.Response) {
		page = &Page{URL: r.Request.URL, Status: r.StatusCode, Body: r.Body}
	})

	if hdr == nil {
		hdr = http.Header{}
	}
	if err := c.Request(method, target, body, nil, hdr); err != nil {
		if page != nil && page.Status != 0 {
			return nil, s.statusError(op, method, target, page)
		}
		return nil, syncerr.Network(op, fmt.Errorf("%s %s: %w", method, target, err)).With("url", target)
	}
	if page == nil {
		return nil, syncerr.Network(op, fmt.Errorf("%s %s: no response", method, target)).With("url", target)
	}
	if page.Status < 200 || page.Status > 299 {
		return nil, s.statusError(op, method, target, page)
	}
	return page, nil
}

func (s *Session) statusError(op, method, target string, page *Page) error {
	snippet := syncerr.Truncate(string(page.Body), snippetLimit)
	s.log.Error().
		Str("op", op).
		Int("status", page.Status).
		Str("url", target).
		Str("response", snippet).
		Msg("Request failed")
	return syncerr.Network(op, fmt.Errorf("%s %s returned HTTP %d", method, target, page.Status)).
		With("url", target).
		With("status", fmt.Sprint(page.Status))
}

// Login signs in with the configured credentials and returns the page the
// sign-in POST lands on.
func (s *Session) Login(ctx context.Context) (*Page, error) {
	const op = "dawarich.login"
	loginURL := s.endpoint("/users/sign_in")

	page, err := s.do(ctx, op, http.MethodGet, loginURL, nil, http.Header{"Accept": {acceptHTML}})
	if err != nil {
		return nil, err
	}
	doc, err := page.Document()
	if err != nil {
		return nil, syncerr.Protocol(op, "failed to parse sign-in page: %v", err)
	}
	token := signInToken(doc)
	if token == "" {
		return nil, syncerr.Protocol(op, "authenticity_token not found on sign-in page")
	}
	s.log.Debug().Str("token", syncerr.Truncate(token, 8)).Msg("Fetched sign-in token")

	form := url.Values{}
	form.Set("user[email]", s.opts.Email)
	form.Set("user[password]", s.opts.Password)
	form.Set("authenticity_token", token)

	hdr := http.Header{}
	hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	hdr.Set("Accept", acceptHTML)
	hdr.Set("Referer", loginURL)
	hdr.Set("Origin", s.origin)

	landed, err := s.do(ctx, op, http.MethodPost, loginURL, strings.NewReader(form.Encode()), hdr)
	if err != nil {
		return nil, err
	}
	if loginFailed(landed.Body, s.opts.LoginFailureMarker) {
		return nil, syncerr.Authentication(op, fmt.Errorf("login failed: %s", s.opts.LoginFailureMarker))
	}

	s.log.Info().Str("url", loginURL).Msg("Login successful")
	return landed, nil
}

// ImportTarget fetches the import form and extracts the import token and the
// direct upload endpoint. The session must be logged in.
func (s *Session) ImportTarget(ctx context.Context) (ImportTarget, error) {
	const op = "dawarich.import_form"
	formURL := s.endpoint("/imports/new")

	page, err := s.do(ctx, op, http.MethodGet, formURL, nil, http.Header{"Accept": {acceptHTML}})
	if err != nil {
		return ImportTarget{}, err
	}
	doc, err := page.Document()
	if err != nil {
		return ImportTarget{}, syncerr.Protocol(op, "failed to parse import form: %v", err)
	}

	target := ImportTarget{FormURL: formURL}
	if target.Token = importToken(doc); target.Token == "" {
		return ImportTarget{}, syncerr.Protocol(op, "could not find authenticity_token (meta or input) on import page")
	}
	if target.UploadURL = directUploadURL(doc, page.URL); target.UploadURL == "" {
		return ImportTarget{}, syncerr.Protocol(op, "direct upload URL not found on import page")
	}

	s.log.Info().
		Str("token", syncerr.Truncate(target.Token, 8)).
		Str("direct_upload_url", target.UploadURL).
		Msg("Fetched import form")
	return target, nil
}
