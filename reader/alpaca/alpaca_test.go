package alpaca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barflow/config"
	"barflow/logger"
)

type fakeBars struct {
	symbol string
	req    marketdata.GetBarsRequest
	bars   []marketdata.Bar
	err    error
}

func (f *fakeBars) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.symbol = symbol
	f.req = req
	return f.bars, f.err
}

func testConfig() config.ProviderConfig {
	return config.ProviderConfig{Kind: "alpaca", Feed: "iex", RequestsPerSecond: 100}
}

func TestFetchBarsRequest(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	fake := &fakeBars{bars: []marketdata.Bar{
		{Timestamp: time.Date(2023, 1, 4, 5, 0, 0, 0, time.UTC), Open: 2, High: 3, Low: 1, Close: 2.5, Volume: 200},
		{Timestamp: time.Date(2023, 1, 3, 0, 0, 0, 0, ny), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
	}}
	r := NewReaderWithClient(fake, testConfig(), logger.Discard())

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC)
	series := r.FetchBars(context.Background(), "AAPL", start, end)

	assert.Equal(t, "AAPL", fake.symbol)
	assert.Equal(t, marketdata.OneDay, fake.req.TimeFrame)
	assert.True(t, fake.req.End.Equal(time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)), "end is exclusive")
	assert.True(t, fake.req.Start.Equal(start))
	assert.EqualValues(t, "iex", fake.req.Feed)

	require.Equal(t, 2, series.Len())
	assert.True(t, series.IsSorted())
	assert.True(t, series.At(0).Date.Equal(time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(100), series.At(0).Volume)
	assert.Equal(t, 2.5, series.At(1).Close)
}

func TestFetchBarsErrorIsEmpty(t *testing.T) {
	fake := &fakeBars{err: errors.New("forbidden")}
	r := NewReaderWithClient(fake, testConfig(), logger.Discard())

	series := r.FetchBars(context.Background(), "AAPL", time.Now().AddDate(0, 0, -5), time.Now())
	assert.True(t, series.Empty())
}

func TestFetchBarsCancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerSecond = 0.001
	fake := &fakeBars{}
	r := NewReaderWithClient(fake, cfg, logger.Discard())

	ctx := context.Background()
	r.FetchBars(ctx, "A", time.Now(), time.Now())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	fake.symbol = ""
	assert.True(t, r.FetchBars(cancelled, "B", time.Now(), time.Now()).Empty())
	assert.Empty(t, fake.symbol, "no request once the limiter wait is cancelled")
}
