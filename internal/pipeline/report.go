package pipeline

import (
	"fmt"
	"strings"
	"time"

	"barflow/internal/recorder"
)

const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"

	FeatureOK       = "ok"
	FeatureFailed   = "failed"
	FeatureDisabled = "disabled"
)

// Report is the outcome of one Run.
type Report struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	StatusCode    int
	Body          string
	Symbols       []recorder.SymbolResult
	FeatureStatus string
	FeatureRows   int
	FeatureError  string
}

func (r *Report) count(status string) int {
	n := 0
	for _, s := range r.Symbols {
		if s.Status == status {
			n++
		}
	}
	return n
}

func (r *Report) Processed() int { return r.count(StatusProcessed) }
func (r *Report) Skipped() int   { return r.count(StatusSkipped) }
func (r *Report) Failed() int    { return r.count(StatusFailed) }

// Clean reports a run with every symbol processed and no feature failure.
func (r *Report) Clean() bool {
	return r.Skipped() == 0 && r.Failed() == 0 && r.FeatureStatus != FeatureFailed
}

func (r *Report) Subject() string {
	if r.StatusCode >= 500 {
		return "Daily Stock Data Update - Failed"
	}
	if r.Clean() {
		return "Daily Stock Data Update - Success"
	}
	return "Daily Stock Data Update - Completed with Issues"
}

// Summary renders the notification body.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s finished in %s.\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "Processed: %d, skipped: %d, failed: %d.\n", r.Processed(), r.Skipped(), r.Failed())
	for _, s := range r.Symbols {
		line := fmt.Sprintf("- %s: %s", s.Symbol, s.Status)
		if s.Rows > 0 {
			line += fmt.Sprintf(" (%d rows)", s.Rows)
		}
		if s.Message != "" {
			line += ": " + s.Message
		}
		b.WriteString(line + "\n")
	}
	switch r.FeatureStatus {
	case FeatureOK:
		fmt.Fprintf(&b, "Features: written (%d rows).\n", r.FeatureRows)
	case FeatureFailed:
		fmt.Fprintf(&b, "Features: failed: %s\n", r.FeatureError)
	default:
		b.WriteString("Features: disabled.\n")
	}
	return b.String()
}

func (r *Report) record() *recorder.RunRecord {
	return &recorder.RunRecord{
		RunID:         r.RunID,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		StatusCode:    r.StatusCode,
		FeatureStatus: r.FeatureStatus,
		FeatureRows:   r.FeatureRows,
		Symbols:       r.Symbols,
	}
}
