package reader

import (
	"context"
	"time"

	"barflow/models"
)

// Provider fetches daily bars for one symbol over the inclusive day range
// [start, end]. It never fails: problems are logged and an empty series is
// returned, which callers treat as nothing to ingest.
type Provider interface {
	FetchBars(ctx context.Context, symbol string, start, end time.Time) models.Series
	Name() string
}
