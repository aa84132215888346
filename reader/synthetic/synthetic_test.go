package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barflow/logger"
)

func TestFetchBarsDeterministic(t *testing.T) {
	r := NewReader(logger.Discard())
	ctx := context.Background()
	start := time.Date(2023, 1, 1, 15, 30, 0, 0, time.UTC)
	end := time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)

	a := r.FetchBars(ctx, "AAPL", start, end)
	b := r.FetchBars(ctx, "AAPL", start, end)
	c := r.FetchBars(ctx, "MSFT", start, end)

	require.Equal(t, 10, a.Len())
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, a.IsSorted())
	assert.True(t, a.At(0).Date.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFetchBarsShape(t *testing.T) {
	r := NewReader(logger.Discard())
	s := r.FetchBars(context.Background(), "SPY",
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC))

	for _, b := range s.Bars() {
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.LessOrEqual(t, b.Low, b.Close)
		assert.Equal(t, b.Open, b.Close)
		assert.GreaterOrEqual(t, b.Volume, int64(minVolume))
		assert.Less(t, b.Volume, int64(maxVolume))
	}
}

func TestFetchBarsEmptyRange(t *testing.T) {
	r := NewReader(logger.Discard())
	s := r.FetchBars(context.Background(), "SPY",
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, s.Empty())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, r.FetchBars(ctx, "SPY", time.Now(), time.Now()).Empty())
}
