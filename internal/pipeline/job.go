package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"barflow/config"
	"barflow/internal/metrics"
	"barflow/internal/notify"
	"barflow/internal/recorder"
	"barflow/logger"
	"barflow/models"
	"barflow/processor"
	"barflow/reader"
	"barflow/storage"
)

// Store is the object store surface the job needs.
type Store interface {
	Read(ctx context.Context, key string) (models.Series, error)
	Write(ctx context.Context, key string, s models.Series) error
	WriteWide(ctx context.Context, key string, t *models.WideTable) error
	WriteObject(ctx context.Context, key string, body []byte, contentType string) error
}

// Deps are the collaborators a Job drives. Recorder and Metrics may be nil.
type Deps struct {
	Provider reader.Provider
	Store    Store
	Sink     notify.Sink
	Recorder recorder.Recorder
	Metrics  *metrics.Metrics
}

// Job runs one ingestion pass: per-symbol fetch/merge/persist, then the
// feature stage, then notification and bookkeeping.
type Job struct {
	cfg       *config.Config
	deps      Deps
	extractor *processor.FeatureExtractor
	log       *logger.Log
	now       func() time.Time
}

func NewJob(cfg *config.Config, deps Deps, log *logger.Log) (*Job, error) {
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	j := &Job{cfg: cfg, deps: deps, log: log, now: time.Now}

	if cfg.Features.Enabled {
		x, err := processor.NewFeatureExtractor(processor.FeatureConfig{
			Enabled:   cfg.Features.EnabledFeatures,
			MAWindows: cfg.Features.MAWindows,
			RSIWindow: cfg.Features.RSIWindow,
		}, log)
		if err != nil {
			return nil, &config.ConfigError{Field: "features", Err: err}
		}
		j.extractor = x
	}
	return j, nil
}

func (j *Job) key(name string) string {
	return j.cfg.Storage.KeyPrefix + name
}

// SymbolKey is where a symbol's history lives.
func (j *Job) SymbolKey(symbol string) string {
	return j.key(symbol + ".csv")
}

// Run processes every configured symbol in order. Per-symbol and feature
// failures are reported, not returned; the error is non-nil only when ctx
// ends the run early.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:         uuid.NewString(),
		StartedAt:     j.now(),
		FeatureStatus: FeatureDisabled,
	}
	log := j.log.WithComponent("pipeline").WithFields(logger.Fields{"run_id": report.RunID})
	log.WithFields(logger.Fields{
		"symbols":  len(j.cfg.Symbols),
		"provider": j.deps.Provider.Name(),
	}).Info("run started")

	end := models.Day(report.StartedAt)
	start := end.AddDate(0, 0, -j.cfg.DaysToFetch)

	var runErr error
	for _, symbol := range j.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		res := j.processSymbol(ctx, log, symbol, start, end)
		report.Symbols = append(report.Symbols, res)
		if j.deps.Metrics != nil {
			j.deps.Metrics.Symbol(res.Status)
		}
	}

	if runErr == nil && j.extractor != nil {
		j.runFeatures(ctx, log, report)
	}

	report.FinishedAt = j.now()
	report.StatusCode = 200
	report.Body = "Stock data processing complete."
	if runErr != nil {
		report.StatusCode = 500
		report.Body = "Run interrupted: " + runErr.Error()
	}

	j.deps.Sink.Notify(context.WithoutCancel(ctx), report.Subject(), report.Summary())
	j.finish(log, report)

	log.WithFields(logger.Fields{
		"processed":   report.Processed(),
		"skipped":     report.Skipped(),
		"failed":      report.Failed(),
		"features":    report.FeatureStatus,
		"status_code": report.StatusCode,
	}).Info("run finished")
	return report, runErr
}

func (j *Job) processSymbol(ctx context.Context, log *logger.Entry, symbol string, start, end time.Time) recorder.SymbolResult {
	log = log.WithFields(logger.Fields{"symbol": symbol})
	log.Info("processing stock")
	res := recorder.SymbolResult{Symbol: symbol}

	incoming := j.deps.Provider.FetchBars(ctx, symbol, start, end)
	if incoming.Empty() {
		err := &FetchError{Symbol: symbol, Start: start, End: end}
		log.WithError(err).Warn("no data fetched, skipping")
		res.Status, res.Message = StatusSkipped, err.Error()
		return res
	}

	key := j.SymbolKey(symbol)
	existing, err := j.deps.Store.Read(ctx, key)
	if err != nil {
		log.WithError(err).Error("failed to read existing data, skipping")
		res.Status, res.Message = StatusSkipped, err.Error()
		return res
	}

	merged := processor.Merge(existing, incoming)
	logger.LogDataFlowEntry(log, j.deps.Provider.Name(), key, incoming.Len(), "daily_bars")

	if err := j.deps.Store.Write(ctx, key, merged); err != nil {
		log.WithError(err).Error("failed to write merged data")
		res.Status, res.Message = StatusFailed, err.Error()
		return res
	}

	if j.deps.Metrics != nil {
		j.deps.Metrics.RowsWritten(symbol, merged.Len())
	}
	log.WithFields(logger.Fields{
		"existing_rows": existing.Len(),
		"fetched_rows":  incoming.Len(),
		"merged_rows":   merged.Len(),
	}).Info("stored merged data")
	res.Status, res.Rows = StatusProcessed, merged.Len()
	return res
}

// loadAll reads every symbol's stored history for alignment. Symbols that
// cannot be read are left out.
func (j *Job) loadAll(ctx context.Context, log *logger.Entry) []models.SymbolSeries {
	tables := make([]models.SymbolSeries, 0, len(j.cfg.Symbols))
	for _, symbol := range j.cfg.Symbols {
		s, err := j.deps.Store.Read(ctx, j.SymbolKey(symbol))
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("failed to load series for features")
			continue
		}
		tables = append(tables, models.SymbolSeries{Symbol: symbol, Series: s})
	}
	return tables
}

func (j *Job) runFeatures(ctx context.Context, log *logger.Entry, report *Report) {
	log = log.WithComponent("features")
	fail := func(err error) {
		log.WithError(err).Error("feature stage failed")
		report.FeatureStatus = FeatureFailed
		report.FeatureError = err.Error()
		if j.deps.Metrics != nil {
			j.deps.Metrics.FeatureRun(FeatureFailed)
		}
	}

	startTime := time.Now()
	wide, err := processor.Align(j.loadAll(ctx, log), !j.cfg.Features.AllowIndexMismatch, j.log)
	if err != nil {
		fail(err)
		return
	}
	features, err := j.extractor.Extract(wide)
	if err != nil {
		fail(err)
		return
	}

	if err := j.deps.Store.WriteWide(ctx, j.key(j.cfg.Features.OutputKey), features); err != nil {
		fail(err)
		return
	}
	if j.cfg.Features.ParquetKey != "" {
		data, err := storage.MarshalParquet(features)
		if err == nil {
			err = j.deps.Store.WriteObject(ctx, j.key(j.cfg.Features.ParquetKey), data, "application/vnd.apache.parquet")
		}
		if err != nil {
			fail(err)
			return
		}
	}

	report.FeatureStatus = FeatureOK
	report.FeatureRows = features.Len()
	if j.deps.Metrics != nil {
		j.deps.Metrics.FeatureRun(FeatureOK)
	}
	logger.LogPerformanceEntry(log, "features", "extract", time.Since(startTime), logger.Fields{
		"rows":    features.Len(),
		"columns": len(features.Columns()),
	})
}

func (j *Job) finish(log *logger.Entry, report *Report) {
	if err := j.deps.Recorder.RecordRun(report.record()); err != nil {
		log.WithError(err).Warn("failed to record run")
	}
	if j.deps.Metrics != nil {
		j.deps.Metrics.RunDuration(report.FinishedAt.Sub(report.StartedAt))
	}
	dims := func() logger.Fields { return logger.Fields{"job": j.cfg.Job.Name} }
	log.LogMetric("pipeline", "symbols_processed", report.Processed(), "counter", dims())
	log.LogMetric("pipeline", "symbols_skipped", report.Skipped(), "counter", dims())
	log.LogMetric("pipeline", "symbols_failed", report.Failed(), "counter", dims())
}
