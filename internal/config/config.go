package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

// Config holds application configuration
type Config struct {
	GarminEmail      string
	GarminPassword   string
	GarminTokenStore string
	GarminRateLimit  time.Duration

	DawarichHost       string
	DawarichEmail      string
	DawarichPassword   string
	AcceptedVersions   []string
	ImportSource       string
	ImportEncoding     string
	LoginFailureMarker string
	HealthTTL          time.Duration
	RequestTimeout     time.Duration

	Exclude       []string
	DatabaseDSN   string
	ActivitiesDir string
	UploadDelay   time.Duration
	SweepUpload   bool
	ScheduleTime  string
	Listen        string
	LogLevel      string
	LogFormat     string
}

// Import encodings for the final import submission.
const (
	EncodingMultipart = "multipart"
	EncodingForm      = "form"
)

// EnvPrefix is the prefix of every environment variable read by viper.
const EnvPrefix = "G2D"

// legacyEnv maps config keys to the unprefixed variables older deployments use.
var legacyEnv = map[string]string{
	"garmin.email":      "GARMIN_EMAIL",
	"garmin.password":   "GARMIN_PASSWORD",
	"dawarich.host":     "DAWARICH_HOST",
	"dawarich.email":    "DAWARICH_EMAIL",
	"dawarich.password": "DAWARICH_PASSWORD",
	"exclude":           "EXCLUDE",
	"database.dsn":      "DATABASE_PATH",
}

// SetDefaults registers defaults and env bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}

	v.SetDefault("garmin.token_store", "/garmin/.garminconnect")
	v.SetDefault("garmin.rate_limit", "1s")
	v.SetDefault("dawarich.accepted_versions", []string{"0.28.1", "0.29.1", "0.30.0"})
	v.SetDefault("dawarich.import_source", "gpx")
	v.SetDefault("dawarich.import_encoding", EncodingMultipart)
	v.SetDefault("dawarich.login_failure_marker", "Invalid Email or password")
	v.SetDefault("dawarich.health_ttl", "15m")
	v.SetDefault("dawarich.request_timeout", "30s")
	v.SetDefault("exclude", "[]")
	v.SetDefault("database.dsn", "garmin.db")
	v.SetDefault("activities_dir", "/garmin/activities")
	v.SetDefault("upload.delay", "3s")
	v.SetDefault("sweep.upload", false)
	v.SetDefault("schedule.time", "02:00")
	v.SetDefault("listen", ":5000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig loads configuration from v (environment, optional config file, defaults)
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		GarminEmail:        v.GetString("garmin.email"),
		GarminPassword:     v.GetString("garmin.password"),
		GarminTokenStore:   v.GetString("garmin.token_store"),
		GarminRateLimit:    parseDuration(v.GetString("garmin.rate_limit"), time.Second),
		DawarichHost:       strings.TrimRight(strings.TrimSpace(v.GetString("dawarich.host")), "/"),
		DawarichEmail:      v.GetString("dawarich.email"),
		DawarichPassword:   v.GetString("dawarich.password"),
		AcceptedVersions:   parseList(v.Get("dawarich.accepted_versions")),
		ImportSource:       v.GetString("dawarich.import_source"),
		ImportEncoding:     strings.ToLower(v.GetString("dawarich.import_encoding")),
		LoginFailureMarker: v.GetString("dawarich.login_failure_marker"),
		HealthTTL:          parseDuration(v.GetString("dawarich.health_ttl"), 15*time.Minute),
		RequestTimeout:     parseDuration(v.GetString("dawarich.request_timeout"), 30*time.Second),
		Exclude:            parseList(v.Get("exclude")),
		DatabaseDSN:        v.GetString("database.dsn"),
		ActivitiesDir:      v.GetString("activities_dir"),
		UploadDelay:        parseDuration(v.GetString("upload.delay"), 3*time.Second),
		SweepUpload:        v.GetBool("sweep.upload"),
		ScheduleTime:       v.GetString("schedule.time"),
		Listen:             v.GetString("listen"),
		LogLevel:           v.GetString("log.level"),
		LogFormat:          v.GetString("log.format"),
	}

	switch cfg.ImportEncoding {
	case EncodingMultipart, EncodingForm:
	default:
		return nil, fmt.Errorf("dawarich.import_encoding must be %q or %q, got %q", EncodingMultipart, EncodingForm, cfg.ImportEncoding)
	}
	if _, _, err := ParseClock(cfg.ScheduleTime); err != nil {
		return nil, err
	}

	// Ensure token store directory exists
	if cfg.GarminTokenStore != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GarminTokenStore), 0755); err != nil {
			return nil, fmt.Errorf("failed to create token store directory: %w", err)
		}
	}

	return cfg, nil
}

// RequireDawarich returns a ConfigurationError unless host and credentials
// for the tracking service are set.
func (c *Config) RequireDawarich() error {
	if c.DawarichHost == "" {
		return syncerr.Configuration("config", "DAWARICH_HOST not configured")
	}
	if c.DawarichEmail == "" || c.DawarichPassword == "" {
		return syncerr.Configuration("config", "DAWARICH_EMAIL or DAWARICH_PASSWORD not configured")
	}
	return nil
}

// ParseClock parses "HH:MM" into hour and minute
func ParseClock(value string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid schedule time %q (want HH:MM): %w", value, err)
	}
	return t.Hour(), t.Minute(), nil
}

// parseDuration parses a duration string with a default
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return d
}

// parseList accepts a YAML list, a comma separated string, or the
// bracketed literal form "['Yoga', 'Strength']".
func parseList(raw any) []string {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil
	case []string:
		items = val
	case []any:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	default:
		s := strings.TrimSpace(fmt.Sprint(val))
		s = strings.TrimPrefix(s, "[")
		s = strings.TrimSuffix(s, "]")
		items = strings.Split(s, ",")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.Trim(strings.TrimSpace(item), `'"`)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
