package dawarich

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sstent/garmin2dawarich/internal/db"
	"github.com/sstent/garmin2dawarich/internal/logging"
	"github.com/sstent/garmin2dawarich/internal/metrics"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

// DefaultHealthTTL is how long a health check result is reused.
const DefaultHealthTTL = 900 * time.Second

// Status is the outcome of a connection health check
type Status struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Message   string    `json:"message"`
	Version   string    `json:"version,omitempty"`
}

// StatusCache holds the most recent health check result. The zero value is
// an empty cache.
type StatusCache struct {
	mu     sync.RWMutex
	status Status
	set    bool
}

// Load returns the cached status and whether one has been stored
func (c *StatusCache) Load() (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.set
}

// Store replaces the cached status
func (c *StatusCache) Store(s Status) {
	c.mu.Lock()
	c.status, c.set = s, true
	c.mu.Unlock()
}

// SettingsReader provides the ignore-version-check flag
type SettingsReader interface {
	GetSettings(ctx context.Context) (db.UserSettings, error)
}

// Gate verifies reachability, credentials and server version before uploads
type Gate struct {
	opts     Options
	accepted []string
	ttl      time.Duration
	cache    *StatusCache
	settings SettingsReader
	now      func() time.Time
	log      zerolog.Logger
}

// NewGate creates a health gate. A zero ttl means DefaultHealthTTL; settings
// may be nil, in which case the version check is always enforced.
func NewGate(opts Options, accepted []string, ttl time.Duration, cache *StatusCache, settings SettingsReader) *Gate {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	if cache == nil {
		cache = &StatusCache{}
	}
	return &Gate{
		opts:     opts,
		accepted: accepted,
		ttl:      ttl,
		cache:    cache,
		settings: settings,
		now:      time.Now,
		log:      logging.With().Str("component", "health").Logger(),
	}
}

// Cached returns the last stored status without checking
func (g *Gate) Cached() (Status, bool) {
	return g.cache.Load()
}

// Check reports whether uploads may proceed.
func (g *Gate) Check(ctx context.Context, force bool) bool {
	return g.CheckStatus(ctx, force).Healthy
}

// CheckStatus returns a cached status younger than the TTL unless force is
// set; otherwise it signs in, inspects the server version and stores the
// result. It never returns an error: failures are reported in the status.
func (g *Gate) CheckStatus(ctx context.Context, force bool) Status {
	if !force {
		if cached, ok := g.cache.Load(); ok && g.now().Sub(cached.CheckedAt) < g.ttl {
			metrics.HealthChecksTotal.WithLabelValues("cached").Inc()
			if !cached.Healthy {
				g.log.Warn().Str("message", cached.Message).Msg("Dawarich connection unhealthy (cached)")
			}
			return cached
		}
	}

	status := g.probe(ctx)
	status.CheckedAt = g.now()
	g.cache.Store(status)

	if status.Healthy {
		metrics.HealthChecksTotal.WithLabelValues("healthy").Inc()
		metrics.RemoteHealthy.Set(1)
		g.log.Info().Str("version", status.Version).Msg(status.Message)
	} else {
		metrics.HealthChecksTotal.WithLabelValues("unhealthy").Inc()
		metrics.RemoteHealthy.Set(0)
		g.log.Warn().Str("version", status.Version).Msg(status.Message)
	}
	return status
}

func (g *Gate) probe(ctx context.Context) Status {
	s, err := NewSession(g.opts)
	if err != nil {
		return Status{Message: syncerr.Summary(err)}
	}

	page, err := s.Login(ctx)
	if err != nil {
		return Status{Message: "Dawarich login failed: " + syncerr.Summary(err)}
	}

	var version string
	if doc, err := page.Document(); err == nil {
		version = remoteVersion(doc)
	}

	if g.ignoreVersionCheck(ctx) {
		g.log.Warn().Str("version", version).Msg("Version check disabled by settings")
		return Status{Healthy: true, Version: version, Message: "Connected to Dawarich (version check skipped)"}
	}
	if version == "" {
		return Status{Message: "Cannot determine Dawarich version, aborting as a precaution"}
	}
	if !slices.Contains(g.accepted, version) {
		return Status{
			Version: version,
			Message: fmt.Sprintf("Dawarich version %s is not in the accepted list %v", version, g.accepted),
		}
	}
	return Status{Healthy: true, Version: version, Message: "Connected to Dawarich " + version}
}

func (g *Gate) ignoreVersionCheck(ctx context.Context) bool {
	if g.settings == nil {
		return false
	}
	s, err := g.settings.GetSettings(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("Failed to read settings, enforcing version check")
		return false
	}
	return s.IgnoreSafeVersionCheck
}
