package garmin

import (
	"context"
	"time"
)

// Activity represents a Garmin Connect activity
type Activity struct {
	ID         int
	Name       string
	StartLocal time.Time
}

// Source lists and downloads activities from the remote activity service
type Source interface {
	// List returns activities whose local start time falls in [start, end].
	List(ctx context.Context, start, end time.Time) ([]Activity, error)
	// DownloadGPX returns the raw GPX export of an activity.
	DownloadGPX(ctx context.Context, id int) ([]byte, error)
}
