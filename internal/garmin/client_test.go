package garmin

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	garminconnect "github.com/abrander/garmin-connect"

	"github.com/sstent/garmin2dawarich/internal/config"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

type fakeAPI struct {
	activities []garminconnect.Activity // newest first, as Garmin returns them
	calls      int
	exported   map[int]string
	exportErr  error
}

func (f *fakeAPI) Authenticate() error { return nil }

func (f *fakeAPI) Activities(_ string, start int, limit int) ([]garminconnect.Activity, error) {
	f.calls++
	if start >= len(f.activities) {
		return nil, nil
	}
	end := start + limit
	if end > len(f.activities) {
		end = len(f.activities)
	}
	return f.activities[start:end], nil
}

func (f *fakeAPI) ExportActivity(id int, w io.Writer, format garminconnect.ActivityFormat) error {
	if f.exportErr != nil {
		return f.exportErr
	}
	if format != garminconnect.ActivityFormatGPX {
		return errors.New("unexpected format")
	}
	_, err := io.WriteString(w, f.exported[id])
	return err
}

func act(id int, name string, start time.Time) garminconnect.Activity {
	return garminconnect.Activity{
		ID:           id,
		ActivityName: name,
		StartLocal:   garminconnect.Time{Time: start},
	}
}

func TestListFiltersWindowAndPages(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2024, 6, d, h, 0, 0, 0, time.UTC) }
	api := &fakeAPI{activities: []garminconnect.Activity{
		act(6, "Evening Ride", day(3, 18)),
		act(5, "Morning Run", day(2, 7)),
		act(4, "Lunch Walk", day(1, 12)),
		act(3, "Morning Run", day(1, 6)),
		act(2, "Old", day(0, 0)), // May 31
		act(1, "Older", day(-1, 0)),
	}}
	c := newClient(api, 0)
	c.pageSize = 2

	got, err := c.List(context.Background(), day(1, 0), day(2, 23))
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	var ids []int
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 4 || ids[2] != 5 {
		t.Fatalf("ids = %v, want [3 4 5] oldest first", ids)
	}
	if api.calls != 3 {
		t.Errorf("expected paging to stop once the window start was passed, calls = %d", api.calls)
	}
}

func TestDownloadGPX(t *testing.T) {
	api := &fakeAPI{exported: map[int]string{7: "<gpx/>"}}
	c := newClient(api, 0)

	data, err := c.DownloadGPX(context.Background(), 7)
	if err != nil || string(data) != "<gpx/>" {
		t.Fatalf("DownloadGPX = %q, %v", data, err)
	}

	api.exportErr = errors.New("boom")
	if _, err := c.DownloadGPX(context.Background(), 7); !errors.Is(err, syncerr.ErrNetwork) {
		t.Errorf("expected network error, got %v", err)
	}
}

func TestNewClientWithoutCredentialsOrTokens(t *testing.T) {
	cfg := &config.Config{GarminTokenStore: filepath.Join(t.TempDir(), ".garminconnect")}
	_, err := NewClient(cfg)
	if !errors.Is(err, syncerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestListReusesPagesAcrossDays(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2024, 6, d, h, 0, 0, 0, time.UTC) }
	var acts []garminconnect.Activity
	for d := 30; d >= 1; d-- {
		acts = append(acts, act(d, "Run", day(d, 7)))
	}
	api := &fakeAPI{activities: acts}
	c := newClient(api, 0)
	c.pageSize = 5
	now := day(1, 0)
	c.now = func() time.Time { return now }

	for d := 1; d <= 3; d++ {
		got, err := c.List(context.Background(), day(d, 0), day(d, 23))
		if err != nil || len(got) != 1 || got[0].ID != d {
			t.Fatalf("day %d: %v, %v", d, got, err)
		}
	}
	// six full pages and the empty one past the end, each fetched once
	if api.calls != 7 {
		t.Errorf("calls = %d, want 7", api.calls)
	}

	now = now.Add(defaultPageTTL)
	if _, err := c.List(context.Background(), day(30, 0), day(30, 23)); err != nil {
		t.Fatal(err)
	}
	if api.calls != 8 {
		t.Errorf("calls after expiry = %d, want 8", api.calls)
	}
}

func TestSaveTokenStoreOmitsCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garmin", ".garminconnect")
	client := garminconnect.NewClient(garminconnect.Credentials("me@example.com", "hunter2"))
	client.SessionID = "session-123"

	if err := saveTokenStore(path, client); err != nil {
		t.Fatalf("saveTokenStore: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := os.ReadFile(path + "_base64")
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string][]byte{"token store": data, "base64 copy": decoded} {
		if bytes.Contains(content, []byte("hunter2")) || bytes.Contains(content, []byte("me@example.com")) {
			t.Errorf("%s contains credentials: %s", name, content)
		}
		if !bytes.Contains(content, []byte("session-123")) {
			t.Errorf("%s lost the session: %s", name, content)
		}
	}

	restored := garminconnect.NewClient()
	if !loadTokenStore(path, restored) || restored.SessionID != "session-123" {
		t.Errorf("session not restored: %q", restored.SessionID)
	}
}
