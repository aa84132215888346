package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barflow/config"
	"barflow/internal/recorder"
	"barflow/logger"
	"barflow/models"
	"barflow/storage"
)

var runDay = time.Date(2023, 1, 10, 15, 0, 0, 0, time.UTC)

type fakeProvider struct {
	series map[string]models.Series
	calls  []string
	start  time.Time
	end    time.Time
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) FetchBars(_ context.Context, symbol string, start, end time.Time) models.Series {
	p.calls = append(p.calls, symbol)
	p.start, p.end = start, end
	if s, ok := p.series[symbol]; ok {
		return s
	}
	return models.EmptySeries()
}

type fakeSink struct {
	subjects []string
	bodies   []string
}

func (s *fakeSink) Notify(_ context.Context, subject, body string) {
	s.subjects = append(s.subjects, subject)
	s.bodies = append(s.bodies, body)
}

type fakeRecorder struct {
	runs []*recorder.RunRecord
}

func (r *fakeRecorder) RecordRun(rec *recorder.RunRecord) error {
	r.runs = append(r.runs, rec)
	return nil
}

func (r *fakeRecorder) Close() error { return nil }

// faultyStore fails reads or writes for selected keys.
type faultyStore struct {
	Store
	readFail  map[string]bool
	writeFail map[string]bool
}

func (s *faultyStore) Read(ctx context.Context, key string) (models.Series, error) {
	if s.readFail[key] {
		return models.Series{}, errors.New("read denied")
	}
	return s.Store.Read(ctx, key)
}

func (s *faultyStore) Write(ctx context.Context, key string, series models.Series) error {
	if s.writeFail[key] {
		return &storage.StoreWriteError{Key: key, Err: errors.New("bucket full")}
	}
	return s.Store.Write(ctx, key, series)
}

func days(from string, n int, base float64) models.Series {
	start, _ := time.Parse(models.DateLayout, from)
	bars := make([]models.Bar, n)
	for i := range bars {
		p := base + float64(i)
		bars[i] = models.Bar{Date: start.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: int64(1000 + i)}
	}
	return models.NewSeries(bars)
}

type harness struct {
	cfg      *config.Config
	dir      string
	store    Store
	provider *fakeProvider
	sink     *fakeSink
	rec      *fakeRecorder
}

func newHarness(t *testing.T, symbols ...string) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Symbols = symbols
	cfg.DaysToFetch = 9
	cfg.Features.MAWindows = []int{2}
	cfg.Features.RSIWindow = 2

	dir := t.TempDir()
	backend, err := storage.NewLocalBackend(dir)
	require.NoError(t, err)

	return &harness{
		cfg:      &cfg,
		dir:      dir,
		store:    storage.New(backend, logger.Discard()),
		provider: &fakeProvider{series: map[string]models.Series{}},
		sink:     &fakeSink{},
		rec:      &fakeRecorder{},
	}
}

func (h *harness) job(t *testing.T) *Job {
	t.Helper()
	j, err := NewJob(h.cfg, Deps{
		Provider: h.provider,
		Store:    h.store,
		Sink:     h.sink,
		Recorder: h.rec,
	}, logger.Discard())
	require.NoError(t, err)
	j.now = func() time.Time { return runDay }
	return j
}

func (h *harness) exists(name string) bool {
	_, err := os.Stat(filepath.Join(h.dir, name))
	return err == nil
}

func TestRunProcessesAllSymbols(t *testing.T) {
	h := newHarness(t, "AAPL", "MSFT")
	h.provider.series["AAPL"] = days("2023-01-01", 10, 100)
	h.provider.series["MSFT"] = days("2023-01-01", 10, 200)

	report, err := h.job(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 200, report.StatusCode)
	assert.Equal(t, 2, report.Processed())
	assert.Equal(t, FeatureOK, report.FeatureStatus)
	assert.Equal(t, 10, report.FeatureRows)
	assert.Equal(t, []string{"AAPL", "MSFT"}, h.provider.calls)
	assert.True(t, h.provider.start.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, h.provider.end.Equal(time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)))

	assert.True(t, h.exists("AAPL.csv"))
	assert.True(t, h.exists("MSFT.csv"))
	features, err := os.ReadFile(filepath.Join(h.dir, "features.csv"))
	require.NoError(t, err)
	header := strings.SplitN(string(features), "\n", 2)[0]
	assert.Contains(t, header, "AAPL_close")
	assert.Contains(t, header, "MSFT_ma_2")
	assert.Contains(t, header, "MSFT_rsi")

	require.Len(t, h.sink.subjects, 1)
	assert.Equal(t, "Daily Stock Data Update - Success", h.sink.subjects[0])
	require.Len(t, h.rec.runs, 1)
	assert.Equal(t, report.RunID, h.rec.runs[0].RunID)
}

func TestRunMergesWithExistingHistory(t *testing.T) {
	h := newHarness(t, "AAPL")
	h.cfg.Features.Enabled = false
	ctx := context.Background()

	require.NoError(t, h.store.Write(ctx, "AAPL.csv", days("2022-12-30", 4, 50)))
	h.provider.series["AAPL"] = days("2023-01-01", 3, 100)

	report, err := h.job(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, FeatureDisabled, report.FeatureStatus)

	got, err := h.store.Read(ctx, "AAPL.csv")
	require.NoError(t, err)
	require.Equal(t, 5, got.Len())
	assert.True(t, got.IsSorted())
	assert.Equal(t, 50.0, got.At(0).Close)
	assert.Equal(t, 100.0, got.At(2).Close, "incoming bar wins on 2023-01-01")
	assert.Equal(t, 102.0, got.At(4).Close)
	assert.False(t, h.exists("features.csv"))
}

func TestRunSkipsEmptyFetch(t *testing.T) {
	h := newHarness(t, "AAPL", "NODATA", "MSFT")
	h.provider.series["AAPL"] = days("2023-01-01", 5, 100)
	h.provider.series["MSFT"] = days("2023-01-01", 5, 200)

	report, err := h.job(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed())
	assert.Equal(t, 1, report.Skipped())
	assert.False(t, h.exists("NODATA.csv"))
	assert.Equal(t, FeatureOK, report.FeatureStatus, "absent symbol is skipped by alignment")
	assert.Equal(t, "Daily Stock Data Update - Completed with Issues", h.sink.subjects[0])
	assert.Contains(t, h.sink.bodies[0], "NODATA: skipped")
}

func TestRunContinuesPastStoreFailures(t *testing.T) {
	h := newHarness(t, "READ", "WRITE", "OK")
	h.cfg.Features.Enabled = false
	h.store = &faultyStore{
		Store:     h.store,
		readFail:  map[string]bool{"READ.csv": true},
		writeFail: map[string]bool{"WRITE.csv": true},
	}
	for _, s := range []string{"READ", "WRITE", "OK"} {
		h.provider.series[s] = days("2023-01-01", 3, 10)
	}

	report, err := h.job(t).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Symbols, 3)
	assert.Equal(t, StatusSkipped, report.Symbols[0].Status)
	assert.Equal(t, StatusFailed, report.Symbols[1].Status)
	assert.Contains(t, report.Symbols[1].Message, "bucket full")
	assert.Equal(t, StatusProcessed, report.Symbols[2].Status)
	assert.False(t, h.exists("READ.csv"))
	assert.True(t, h.exists("OK.csv"))
	assert.Equal(t, 200, report.StatusCode)
}

func TestRunStrictAlignmentFailureIsReported(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.provider.series["A"] = days("2023-01-01", 2, 1)
	h.provider.series["B"] = days("2023-01-01", 3, 1)

	report, err := h.job(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 200, report.StatusCode)
	assert.Equal(t, 2, report.Processed())
	assert.Equal(t, FeatureFailed, report.FeatureStatus)
	assert.Contains(t, report.FeatureError, "index mismatch: A has 2 rows")
	assert.False(t, h.exists("features.csv"))
	assert.Contains(t, h.sink.bodies[0], "Features: failed")
}

func TestRunLenientAlignmentWritesFeatures(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.cfg.Features.AllowIndexMismatch = true
	h.cfg.Features.ParquetKey = "features.parquet"
	h.provider.series["A"] = days("2023-01-01", 2, 1)
	h.provider.series["B"] = days("2023-01-01", 3, 1)

	report, err := h.job(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, FeatureOK, report.FeatureStatus)
	assert.Equal(t, 3, report.FeatureRows)
	assert.True(t, h.exists("features.csv"))
	assert.True(t, h.exists("features.parquet"))
}

func TestRunKeyPrefix(t *testing.T) {
	h := newHarness(t, "AAPL")
	h.cfg.Storage.KeyPrefix = "daily/"
	h.provider.series["AAPL"] = days("2023-01-01", 3, 10)

	_, err := h.job(t).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, h.exists("daily/AAPL.csv"))
	assert.True(t, h.exists("daily/features.csv"))
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, "AAPL")
	h.provider.series["AAPL"] = days("2023-01-01", 3, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.job(t).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 500, report.StatusCode)
	assert.Empty(t, h.provider.calls)
	assert.Len(t, h.sink.subjects, 1, "notification is still attempted")
}

func TestNewJobRejectsBadFeatureConfig(t *testing.T) {
	h := newHarness(t, "AAPL")
	h.cfg.Features.MAWindows = []int{-1}
	_, err := NewJob(h.cfg, Deps{Provider: h.provider, Store: h.store, Sink: h.sink}, logger.Discard())
	assert.True(t, config.IsConfigError(err))
}
