// Package metrics exposes run counters for Prometheus:
//
//	barflow_symbols_total{status}
//	barflow_rows_written_total{symbol}
//	barflow_feature_runs_total{status}
//	barflow_run_duration_seconds
//	go_* and process_* runtime metrics
//
// Serve publishes them on <addr>/metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barflow/logger"
)

type Metrics struct {
	registry     *prometheus.Registry
	symbols      *prometheus.CounterVec
	rowsWritten  *prometheus.CounterVec
	featureRuns  *prometheus.CounterVec
	runDurations prometheus.Histogram
}

// New registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		symbols: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barflow_symbols_total",
				Help: "Symbols handled per run by outcome",
			},
			[]string{"status"},
		),
		rowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barflow_rows_written_total",
				Help: "Rows persisted per symbol",
			},
			[]string{"symbol"},
		),
		featureRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barflow_feature_runs_total",
				Help: "Feature stage executions by outcome",
			},
			[]string{"status"},
		),
		runDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "barflow_run_duration_seconds",
			Help:    "Wall time of a full ingestion run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	m.registry.MustRegister(
		m.symbols,
		m.rowsWritten,
		m.featureRuns,
		m.runDurations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Symbol(status string) {
	m.symbols.WithLabelValues(status).Inc()
}

func (m *Metrics) RowsWritten(symbol string, rows int) {
	m.rowsWritten.WithLabelValues(symbol).Add(float64(rows))
}

func (m *Metrics) FeatureRun(status string) {
	m.featureRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) RunDuration(d time.Duration) {
	m.runDurations.Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve blocks serving /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *logger.Log) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithComponent("metrics").WithFields(logger.Fields{"addr": addr}).Info("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
