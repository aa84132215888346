package recorder

import "time"

// SymbolResult is the outcome of one symbol in a run.
type SymbolResult struct {
	Symbol  string
	Status  string // "processed", "skipped" or "failed"
	Rows    int
	Message string
}

// RunRecord summarises one ingestion run.
type RunRecord struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	StatusCode    int
	FeatureStatus string
	FeatureRows   int
	Symbols       []SymbolResult
}

// Recorder keeps a ledger of past runs.
type Recorder interface {
	RecordRun(rec *RunRecord) error
	Close() error
}

// NoopRecorder is used when no ledger path is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRun(_ *RunRecord) error { return nil }
func (n *NoopRecorder) Close() error                 { return nil }
