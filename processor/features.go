package processor

import (
	"fmt"
	"math"
	"strconv"

	"github.com/guregu/null/v6"
	"github.com/markcheno/go-talib"

	"barflow/logger"
	"barflow/models"
)

// Feature group names accepted in FeatureConfig.Enabled.
const (
	FeatureMovingAverages      = "moving_averages"
	FeatureTechnicalIndicators = "technical_indicators"
	FeaturePriceChanges        = "price_changes"
)

var allFeatures = []string{FeatureMovingAverages, FeatureTechnicalIndicators, FeaturePriceChanges}

// FeatureConfig selects the derived columns. A nil Enabled slice enables
// every group.
type FeatureConfig struct {
	Enabled   []string
	MAWindows []int
	RSIWindow int
}

// DefaultFeatureConfig enables all groups with windows 5/20/50 and RSI 14.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		Enabled:   append([]string(nil), allFeatures...),
		MAWindows: []int{5, 20, 50},
		RSIWindow: 14,
	}
}

// FeatureExtractor appends rolling and derived columns to a wide table.
type FeatureExtractor struct {
	cfg     FeatureConfig
	enabled map[string]bool
	log     *logger.Log
}

// NewFeatureExtractor validates cfg. Windows must be positive and group
// names must be known.
func NewFeatureExtractor(cfg FeatureConfig, log *logger.Log) (*FeatureExtractor, error) {
	if cfg.Enabled == nil {
		cfg.Enabled = append([]string(nil), allFeatures...)
	}
	enabled := make(map[string]bool, len(cfg.Enabled))
	for _, f := range cfg.Enabled {
		switch f {
		case FeatureMovingAverages, FeatureTechnicalIndicators, FeaturePriceChanges:
			enabled[f] = true
		default:
			return nil, fmt.Errorf("unknown feature %q", f)
		}
	}
	for _, w := range cfg.MAWindows {
		if w <= 0 {
			return nil, fmt.Errorf("moving average window %d must be positive", w)
		}
	}
	if enabled[FeatureTechnicalIndicators] && cfg.RSIWindow <= 0 {
		return nil, fmt.Errorf("rsi window %d must be positive", cfg.RSIWindow)
	}
	return &FeatureExtractor{cfg: cfg, enabled: enabled, log: log}, nil
}

type closeColumn struct {
	symbol string
	values []null.Float
}

// Extract returns a copy of wide with derived columns appended per symbol
// that has a registered close column: {symbol}_ma_{w}, {symbol}_rsi,
// {symbol}_returns and {symbol}_price_change. Every group reads only the
// original close columns. Leading rows without enough history are null.
func (x *FeatureExtractor) Extract(wide *models.WideTable) (*models.WideTable, error) {
	out := wide.Clone()

	var closes []closeColumn
	for _, sym := range wide.Symbols() {
		name, ok := wide.Field(sym, "close")
		if !ok {
			continue
		}
		vals, _ := wide.Column(name)
		closes = append(closes, closeColumn{symbol: sym, values: vals})
	}

	entry := x.log.WithComponent("features").WithFields(logger.Fields{
		"close_columns": len(closes),
		"rows":          wide.Len(),
		"features":      x.cfg.Enabled,
	})
	if len(closes) == 0 {
		entry.Warn("no close columns registered, nothing to derive")
		return out, nil
	}
	entry.Info("extracting features")

	type derived struct {
		symbol string
		field  string
		vals   []null.Float
	}
	var cols []derived
	if x.enabled[FeatureMovingAverages] {
		for _, c := range closes {
			for _, w := range x.cfg.MAWindows {
				cols = append(cols, derived{c.symbol, "ma_" + strconv.Itoa(w), RollingMean(c.values, w)})
			}
		}
	}
	if x.enabled[FeatureTechnicalIndicators] {
		for _, c := range closes {
			cols = append(cols, derived{c.symbol, "rsi", RSI(c.values, x.cfg.RSIWindow)})
		}
	}
	if x.enabled[FeaturePriceChanges] {
		for _, c := range closes {
			cols = append(cols,
				derived{c.symbol, "returns", Returns(c.values)},
				derived{c.symbol, "price_change", Diff(c.values)})
		}
	}
	for _, d := range cols {
		if _, err := out.AddColumn(d.symbol, d.field, d.vals); err != nil {
			return nil, fmt.Errorf("derive %s for %s: %w", d.field, d.symbol, err)
		}
	}
	return out, nil
}

func defined(v null.Float) bool {
	return v.Valid && !math.IsNaN(v.Float64)
}

func cell(v float64) null.Float {
	if math.IsNaN(v) {
		return null.Float{}
	}
	return null.FloatFrom(v)
}

// RollingMean is the trailing simple mean over w observations, current row
// included. A window that touches a null cell is null, so each contiguous
// run of defined values starts with w-1 null rows. A window of w equal
// values yields exactly that value; talib's running total would otherwise
// leave rounding residue from values that already left the window.
func RollingMean(vals []null.Float, w int) []null.Float {
	out := make([]null.Float, len(vals))
	if w <= 0 {
		return out
	}
	for start := 0; start < len(vals); {
		if !defined(vals[start]) {
			start++
			continue
		}
		end := start
		for end < len(vals) && defined(vals[end]) {
			end++
		}
		if end-start >= w {
			run := make([]float64, end-start)
			for i := range run {
				run[i] = vals[start+i].Float64
			}
			sma := talib.Sma(run, w)
			same := 0
			for i := range run {
				if i > 0 && run[i] == run[i-1] {
					same++
				} else {
					same = 1
				}
				if i < w-1 {
					continue
				}
				if same >= w {
					out[start+i] = null.FloatFrom(run[i])
				} else {
					out[start+i] = null.FloatFrom(sma[i])
				}
			}
		}
		start = end
	}
	return out
}

// Diff is close[t] - close[t-1]; row 0 and rows next to a null are null.
func Diff(vals []null.Float) []null.Float {
	out := make([]null.Float, len(vals))
	for t := 1; t < len(vals); t++ {
		if defined(vals[t]) && defined(vals[t-1]) {
			out[t] = cell(vals[t].Float64 - vals[t-1].Float64)
		}
	}
	return out
}

// Returns is (close[t] - close[t-1]) / close[t-1]. A zero previous close
// gives an infinite return, kept as is.
func Returns(vals []null.Float) []null.Float {
	out := make([]null.Float, len(vals))
	for t := 1; t < len(vals); t++ {
		if defined(vals[t]) && defined(vals[t-1]) {
			prev := vals[t-1].Float64
			out[t] = cell((vals[t].Float64 - prev) / prev)
		}
	}
	return out
}

// RSI computes the relative strength index with simple rolling means of
// gains and losses over window deltas: rs = avgGain/avgLoss and
// rsi = 100 - 100/(1+rs). When avgLoss is zero rs is +Inf and rsi is 100;
// when both averages are zero the result is NaN and stored as null.
func RSI(vals []null.Float, window int) []null.Float {
	delta := Diff(vals)
	gain := make([]null.Float, len(delta))
	loss := make([]null.Float, len(delta))
	for i, d := range delta {
		if !defined(d) {
			continue
		}
		gain[i] = null.FloatFrom(math.Max(d.Float64, 0))
		loss[i] = null.FloatFrom(math.Max(-d.Float64, 0))
	}

	avgGain := RollingMean(gain, window)
	avgLoss := RollingMean(loss, window)

	out := make([]null.Float, len(vals))
	for i := range out {
		if !defined(avgGain[i]) || !defined(avgLoss[i]) {
			continue
		}
		rs := avgGain[i].Float64 / avgLoss[i].Float64
		out[i] = cell(100 - 100/(1+rs))
	}
	return out
}
