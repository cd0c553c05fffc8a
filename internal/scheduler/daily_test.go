package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sstent/garmin2dawarich/internal/upload"
)

type fakeIngest struct {
	start, end time.Time
	err        error
}

func (f *fakeIngest) Download(_ context.Context, start, end time.Time) (int, error) {
	f.start, f.end = start, end
	return 2, f.err
}

type fakeUploads struct{ calls int }

func (f *fakeUploads) UploadPending(_ context.Context, scope upload.Scope) (upload.Result, error) {
	f.calls++
	if scope != upload.All {
		return upload.Result{}, errors.New("unexpected scope")
	}
	return upload.Result{Succeeded: 2}, nil
}

func TestNext(t *testing.T) {
	d, err := NewDaily("02:00", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	loc := time.UTC
	tests := []struct {
		now, want time.Time
	}{
		{time.Date(2024, 6, 1, 1, 0, 0, 0, loc), time.Date(2024, 6, 1, 2, 0, 0, 0, loc)},
		{time.Date(2024, 6, 1, 2, 0, 0, 0, loc), time.Date(2024, 6, 2, 2, 0, 0, 0, loc)},
		{time.Date(2024, 6, 30, 23, 0, 0, 0, loc), time.Date(2024, 7, 1, 2, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := d.Next(tt.now); !got.Equal(tt.want) {
			t.Errorf("Next(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestRunOnceDownloadsYesterdayThenUploads(t *testing.T) {
	ing := &fakeIngest{}
	up := &fakeUploads{}
	d, err := NewDaily("02:00", ing, up)
	if err != nil {
		t.Fatal(err)
	}
	d.now = func() time.Time { return time.Date(2024, 6, 2, 2, 0, 0, 0, time.UTC) }

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := ing.start.Format("2006-01-02"); got != "2024-06-01" || !ing.end.Equal(ing.start) {
		t.Errorf("download window = %v..%v", ing.start, ing.end)
	}
	if up.calls != 1 {
		t.Errorf("upload calls = %d", up.calls)
	}
}

func TestRunOnceUploadsAfterDownloadFailure(t *testing.T) {
	ing := &fakeIngest{err: errors.New("garmin down")}
	up := &fakeUploads{}
	d, _ := NewDaily("02:00", ing, up)

	if err := d.RunOnce(context.Background()); err == nil {
		t.Fatal("expected download error")
	}
	if up.calls != 1 {
		t.Errorf("backlog not drained after failed download")
	}
}

func TestNewDailyRejectsBadClock(t *testing.T) {
	if _, err := NewDaily("25:00", nil, nil); err == nil {
		t.Error("expected error for invalid clock")
	}
}

func TestServeStopsWithContext(t *testing.T) {
	d, _ := NewDaily("02:00", &fakeIngest{}, &fakeUploads{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve err = %v", err)
	}
}
