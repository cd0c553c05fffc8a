package garmin

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	garminconnect "github.com/abrander/garmin-connect"
	"github.com/goccy/go-json"

	"github.com/sstent/garmin2dawarich/internal/config"
	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

// connectAPI is the subset of *garminconnect.Client used here
type connectAPI interface {
	Authenticate() error
	Activities(displayName string, start int, limit int) ([]garminconnect.Activity, error)
	ExportActivity(id int, w io.Writer, format garminconnect.ActivityFormat) error
}

// Client represents a Garmin Connect API client
type Client struct {
	api       connectAPI
	rateLimit time.Duration
	pageSize  int

	// Listing pages are reused for pageTTL so consecutive day windows of a
	// sweep do not re-fetch the newer pages each time.
	pageTTL time.Duration
	now     func() time.Time
	mu      sync.Mutex
	pages   map[int]cachedPage
}

type cachedPage struct {
	activities []garminconnect.Activity
	fetched    time.Time
}

const (
	defaultPageSize = 50
	defaultPageTTL  = 10 * time.Minute
)

// NewClient authenticates against Garmin Connect. A cached session from the
// token store is tried first; credentials are the fallback, and a fresh
// session is written back to the token store for reuse.
func NewClient(cfg *config.Config) (*Client, error) {
	log := logging.With().Str("component", "garmin").Logger()

	client := garminconnect.NewClient(garminconnect.AutoRenewSession(true))
	haveCreds := cfg.GarminEmail != "" && cfg.GarminPassword != ""

	if loadTokenStore(cfg.GarminTokenStore, client) {
		if haveCreds {
			garminconnect.Credentials(cfg.GarminEmail, cfg.GarminPassword)(client)
		}
		_, err := client.Activities("", 0, 1)
		if err == nil {
			log.Debug().Str("token_store", cfg.GarminTokenStore).Msg("Using cached Garmin session")
			return newClient(client, cfg.GarminRateLimit), nil
		}
		log.Info().Err(err).Msg("Cached Garmin session rejected, falling back to credentials")
	}

	if !haveCreds {
		return nil, syncerr.Configuration("garmin.login", "missing Garmin credentials and no usable token cache")
	}

	garminconnect.Credentials(cfg.GarminEmail, cfg.GarminPassword)(client)
	if err := client.Authenticate(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "mfa") {
			return nil, syncerr.Authentication("garmin.login",
				fmt.Errorf("MFA required, pre-populate the token store at %s: %w", cfg.GarminTokenStore, err))
		}
		return nil, syncerr.Authentication("garmin.login", fmt.Errorf("authentication failed: %w", err))
	}

	if err := saveTokenStore(cfg.GarminTokenStore, client); err != nil {
		log.Warn().Err(err).Msg("Failed to persist Garmin session")
	}

	return newClient(client, cfg.GarminRateLimit), nil
}

func newClient(api connectAPI, rateLimit time.Duration) *Client {
	return &Client{
		api:       api,
		rateLimit: rateLimit,
		pageSize:  defaultPageSize,
		pageTTL:   defaultPageTTL,
		now:       time.Now,
		pages:     make(map[int]cachedPage),
	}
}

// List retrieves activities started in [start, end], oldest first.
// Garmin returns activities newest first, so pages are fetched until one
// reaches past start.
func (c *Client) List(ctx context.Context, start, end time.Time) ([]Activity, error) {
	from, to := wallClock(start), wallClock(end)

	var activities []Activity
	for offset := 0; ; offset += c.pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := c.page(offset)
		if err != nil {
			return nil, syncerr.Network("garmin.list", fmt.Errorf("failed to get activities: %w", err))
		}
		if len(page) == 0 {
			break
		}

		reachedStart := false
		for _, ga := range page {
			started := wallClock(ga.StartLocal.Time)
			if started.Before(from) {
				reachedStart = true
				continue
			}
			if started.After(to) {
				continue
			}
			activities = append(activities, Activity{
				ID:         ga.ID,
				Name:       ga.ActivityName,
				StartLocal: started,
			})
		}
		if reachedStart || len(page) < c.pageSize {
			break
		}
	}

	sort.Slice(activities, func(i, j int) bool {
		return activities[i].StartLocal.Before(activities[j].StartLocal)
	})
	return activities, nil
}

// page returns one listing page, from the cache while it is fresh.
func (c *Client) page(offset int) ([]garminconnect.Activity, error) {
	c.mu.Lock()
	p, ok := c.pages[offset]
	c.mu.Unlock()
	if ok && c.now().Sub(p.fetched) < c.pageTTL {
		return p.activities, nil
	}

	activities, err := c.api.Activities("", offset, c.pageSize)
	if err != nil {
		return nil, err
	}
	if c.pageTTL > 0 {
		c.mu.Lock()
		c.pages[offset] = cachedPage{activities: activities, fetched: c.now()}
		c.mu.Unlock()
	}
	return activities, nil
}

// DownloadGPX downloads the GPX export of an activity
func (c *Client) DownloadGPX(ctx context.Context, id int) ([]byte, error) {
	if c.rateLimit > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.rateLimit):
		}
	}

	var buf bytes.Buffer
	if err := c.api.ExportActivity(id, &buf, garminconnect.ActivityFormatGPX); err != nil {
		return nil, syncerr.Network("garmin.download", fmt.Errorf("failed to export activity %d: %w", id, err))
	}
	return buf.Bytes(), nil
}

// wallClock drops the location so local start times compare by their
// calendar value.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func loadTokenStore(path string, client *garminconnect.Client) bool {
	if path == "" {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, client); err != nil {
		return false
	}
	return client.SessionID != ""
}

// saveTokenStore writes the session and a base64 copy next to it. The
// account credentials are left out.
func saveTokenStore(path string, client *garminconnect.Client) error {
	if path == "" {
		return nil
	}
	data, err := sessionJSON(client)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create token store directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token store: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	if err := os.WriteFile(path+"_base64", []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write base64 token store: %w", err)
	}
	return nil
}

func sessionJSON(client *garminconnect.Client) ([]byte, error) {
	raw, err := json.Marshal(client)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for key := range fields {
		switch strings.ToLower(key) {
		case "email", "password":
			delete(fields, key)
		}
	}
	return json.Marshal(fields)
}
