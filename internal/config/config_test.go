package config

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.Set("garmin.token_store", filepath.Join(t.TempDir(), ".garminconnect"))
	return v
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(newViper(t))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if !reflect.DeepEqual(cfg.AcceptedVersions, []string{"0.28.1", "0.29.1", "0.30.0"}) {
		t.Errorf("AcceptedVersions = %v", cfg.AcceptedVersions)
	}
	if cfg.HealthTTL != 15*time.Minute {
		t.Errorf("HealthTTL = %v, want 15m", cfg.HealthTTL)
	}
	if cfg.ImportEncoding != EncodingMultipart {
		t.Errorf("ImportEncoding = %q", cfg.ImportEncoding)
	}
	if len(cfg.Exclude) != 0 {
		t.Errorf("Exclude = %v, want empty", cfg.Exclude)
	}
	if cfg.UploadDelay != 3*time.Second {
		t.Errorf("UploadDelay = %v", cfg.UploadDelay)
	}
}

func TestLoadConfigLegacyEnv(t *testing.T) {
	t.Setenv("DAWARICH_HOST", "https://dawarich.example.com/")
	t.Setenv("DAWARICH_EMAIL", "me@example.com")
	t.Setenv("DAWARICH_PASSWORD", "secret")
	t.Setenv("EXCLUDE", "['Yoga', 'Strength Training']")

	cfg, err := LoadConfig(newViper(t))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DawarichHost != "https://dawarich.example.com" {
		t.Errorf("DawarichHost = %q", cfg.DawarichHost)
	}
	if !reflect.DeepEqual(cfg.Exclude, []string{"Yoga", "Strength Training"}) {
		t.Errorf("Exclude = %#v", cfg.Exclude)
	}
	if err := cfg.RequireDawarich(); err != nil {
		t.Errorf("RequireDawarich: %v", err)
	}
}

func TestLoadConfigPrefixedEnvWins(t *testing.T) {
	t.Setenv("G2D_DAWARICH_ACCEPTED_VERSIONS", "0.30.0, 0.31.0")
	t.Setenv("G2D_UPLOAD_DELAY", "5s")

	cfg, err := LoadConfig(newViper(t))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(cfg.AcceptedVersions, []string{"0.30.0", "0.31.0"}) {
		t.Errorf("AcceptedVersions = %v", cfg.AcceptedVersions)
	}
	if cfg.UploadDelay != 5*time.Second {
		t.Errorf("UploadDelay = %v", cfg.UploadDelay)
	}
}

func TestLoadConfigRejectsBadEncoding(t *testing.T) {
	v := newViper(t)
	v.Set("dawarich.import_encoding", "xml")
	if _, err := LoadConfig(v); err == nil {
		t.Fatal("expected error for unknown import encoding")
	}
}

func TestRequireDawarich(t *testing.T) {
	cfg := &Config{DawarichHost: "http://x"}
	err := cfg.RequireDawarich()
	if !errors.Is(err, syncerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	cfg = &Config{}
	if err := cfg.RequireDawarich(); !errors.Is(err, syncerr.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing host, got %v", err)
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("02:30")
	if err != nil || h != 2 || m != 30 {
		t.Errorf("ParseClock = %d, %d, %v", h, m, err)
	}
	if _, _, err := ParseClock("25:00"); err == nil {
		t.Error("expected error for 25:00")
	}
}
