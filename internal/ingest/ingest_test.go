package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sstent/garmin2dawarich/internal/db"
	"github.com/sstent/garmin2dawarich/internal/garmin"
	"github.com/sstent/garmin2dawarich/internal/syncerr"
)

const trackGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="Garmin Connect" xmlns="http://www.topografix.com/GPX/1/1">
<trk><name>Morning Run</name><trkseg>
<trkpt lat="52.3702" lon="4.8952"><ele>1.0</ele><time>2024-06-01T06:00:00Z</time></trkpt>
<trkpt lat="52.3710" lon="4.8960"><ele>1.2</ele><time>2024-06-01T06:00:10Z</time></trkpt>
</trkseg></trk></gpx>`

const emptyGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="Garmin Connect" xmlns="http://www.topografix.com/GPX/1/1">
<trk><name>Strength</name><trkseg></trkseg></trk></gpx>`

type fakeSource struct {
	activities []garmin.Activity
	gpx        map[int]string
	downloads  int
	listErr    error
}

func (f *fakeSource) List(_ context.Context, start, end time.Time) ([]garmin.Activity, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []garmin.Activity
	for _, a := range f.activities {
		if !a.StartLocal.Before(start) && !a.StartLocal.After(end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeSource) DownloadGPX(_ context.Context, id int) ([]byte, error) {
	f.downloads++
	return []byte(f.gpx[id]), nil
}

func setup(t *testing.T, src *fakeSource, exclude ...string) (*Ingester, *db.Database, string) {
	t.Helper()
	d, err := db.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	dir := filepath.Join(t.TempDir(), "activities")
	connect := func(context.Context) (garmin.Source, error) { return src, nil }
	return New(connect, d, dir, exclude), d, dir
}

func at(day, hour int) time.Time {
	return time.Date(2024, 6, day, hour, 0, 0, 0, time.UTC)
}

func TestDownloadSingleDay(t *testing.T) {
	src := &fakeSource{
		activities: []garmin.Activity{
			{ID: 1001, Name: "Morning Run", StartLocal: at(1, 6)},
			{ID: 1002, Name: "Evening Run", StartLocal: at(2, 18)},
		},
		gpx: map[int]string{1001: trackGPX, 1002: trackGPX},
	}
	in, d, dir := setup(t, src)
	ctx := context.Background()

	n, err := in.Download(ctx, at(1, 0), at(1, 0))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != 1 {
		t.Fatalf("saved = %d, want 1", n)
	}

	rec, err := d.LatestPending(ctx)
	if err != nil {
		t.Fatalf("LatestPending: %v", err)
	}
	if rec.Filename != "2024-06-01_1001.gpx" || rec.Uploaded {
		t.Errorf("record = %+v", rec)
	}
	data, err := os.ReadFile(filepath.Join(dir, rec.Filename))
	if err != nil || string(data) != trackGPX {
		t.Errorf("stored file = %q, %v", data, err)
	}
}

func TestDownloadIsIdempotent(t *testing.T) {
	src := &fakeSource{
		activities: []garmin.Activity{{ID: 7, Name: "Ride", StartLocal: at(1, 9)}},
		gpx:        map[int]string{7: trackGPX},
	}
	in, d, _ := setup(t, src)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := in.Download(ctx, at(1, 0), at(1, 0)); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	n, err := d.CountRecords(ctx, db.FilterAll)
	if err != nil || n != 1 {
		t.Errorf("records = %d, %v; want 1", n, err)
	}
	if src.downloads != 1 {
		t.Errorf("downloads = %d, want 1", src.downloads)
	}
}

func TestDownloadSkipsExcludedAndEmpty(t *testing.T) {
	src := &fakeSource{
		activities: []garmin.Activity{
			{ID: 1, Name: "Yoga", StartLocal: at(1, 7)},
			{ID: 2, Name: "Strength", StartLocal: at(1, 8)},
			{ID: 3, Name: "Broken", StartLocal: at(1, 9)},
		},
		gpx: map[int]string{1: trackGPX, 2: emptyGPX, 3: "not xml"},
	}
	in, d, dir := setup(t, src, "Yoga")

	n, err := in.Download(context.Background(), at(1, 0), at(1, 0))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != 0 {
		t.Errorf("saved = %d, want 0", n)
	}
	if src.downloads != 2 {
		t.Errorf("downloads = %d, excluded activity should not be fetched", src.downloads)
	}
	if c, _ := d.CountRecords(context.Background(), db.FilterAll); c != 0 {
		t.Errorf("records = %d, want 0", c)
	}
	if _, err := os.Stat(filepath.Join(dir, "2024-06-01_2.gpx")); !os.IsNotExist(err) {
		t.Errorf("empty track written to disk: %v", err)
	}
}

func TestDownloadPropagatesConnectError(t *testing.T) {
	d, err := db.NewDatabase(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	connect := func(context.Context) (garmin.Source, error) {
		return nil, syncerr.Configuration("garmin.login", "missing Garmin credentials and no usable token cache")
	}
	in := New(connect, d, t.TempDir(), nil)
	if _, err := in.Download(context.Background(), at(1, 0), at(1, 0)); !errors.Is(err, syncerr.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestFilename(t *testing.T) {
	a := garmin.Activity{ID: 15001234567, StartLocal: time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC)}
	if got := Filename(a); got != "2024-06-01_15001234567.gpx" {
		t.Errorf("Filename = %q", got)
	}
}
