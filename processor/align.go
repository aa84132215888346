package processor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"barflow/logger"
	"barflow/models"
)

// SeriesRange summarises one side of a join for diagnostics.
type SeriesRange struct {
	Symbol string
	Rows   int
	First  time.Time
	Last   time.Time
}

func (r SeriesRange) String() string {
	return fmt.Sprintf("%s has %d rows (%s to %s)", r.Symbol, r.Rows,
		r.First.Format(models.DateLayout), r.Last.Format(models.DateLayout))
}

// AlignmentError is returned in strict mode when the day sets of the
// already-joined symbols and the next symbol differ.
type AlignmentError struct {
	Left  SeriesRange
	Right SeriesRange
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("index mismatch: %s, %s", e.Left, e.Right)
}

// Align joins per-symbol series into one wide table keyed by day. Columns
// are named {symbol}_{field}. Empty inputs are logged and skipped. The
// tables are folded left to right with an outer join; before each join
// the accumulated day set is compared with the next table's. A mismatch
// fails with *AlignmentError when strict is set and is logged as a warning
// otherwise, in which case missing cells stay null.
func Align(tables []models.SymbolSeries, strict bool, log *logger.Log) (*models.WideTable, error) {
	entry := log.WithComponent("aligner")

	inputs := make([]models.SymbolSeries, 0, len(tables))
	for _, t := range tables {
		if t.Series.Empty() {
			entry.WithFields(logger.Fields{"symbol": t.Symbol}).Warn("empty series, excluded from alignment")
			continue
		}
		s := dedupeSorted(t.Series)
		first, last := s.Range()
		entry.WithFields(logger.Fields{
			"symbol": t.Symbol,
			"rows":   s.Len(),
			"first":  first.Format(models.DateLayout),
			"last":   last.Format(models.DateLayout),
		}).Info("loaded series")
		inputs = append(inputs, models.SymbolSeries{Symbol: t.Symbol, Series: s})
	}

	if len(inputs) == 0 {
		return models.NewWideTable(nil), nil
	}

	acc := newKeySet(inputs[0].Series.Keys())
	folded := []string{inputs[0].Symbol}
	for _, next := range inputs[1:] {
		nextKeys := newKeySet(next.Series.Keys())
		if !acc.equal(nextKeys) {
			mismatch := &AlignmentError{
				Left:  acc.describe(strings.Join(folded, "+")),
				Right: nextKeys.describe(next.Symbol),
			}
			if strict {
				return nil, mismatch
			}
			entry.WithFields(logger.Fields{
				"left":  mismatch.Left.Symbol,
				"right": mismatch.Right.Symbol,
			}).Warn(mismatch.Error())
		}
		acc.union(nextKeys)
		folded = append(folded, next.Symbol)
	}

	keys := acc.sorted()
	index := make([]time.Time, len(keys))
	row := make(map[int64]int, len(keys))
	for i, k := range keys {
		index[i] = time.Unix(k, 0).UTC()
		row[k] = i
	}

	wide := models.NewWideTable(index)
	for _, in := range inputs {
		cols := make([][]null.Float, len(models.BarFields))
		for f := range cols {
			cols[f] = make([]null.Float, len(index))
		}
		for _, b := range in.Series.Bars() {
			i := row[models.DayKey(b.Date)]
			for f, field := range models.BarFields {
				v, _ := b.Value(field)
				cols[f][i] = null.FloatFrom(v)
			}
		}
		for f, field := range models.BarFields {
			if _, err := wide.AddColumn(in.Symbol, field, cols[f]); err != nil {
				return nil, fmt.Errorf("align %s: %w", in.Symbol, err)
			}
		}
	}

	entry.WithFields(logger.Fields{
		"symbols": strings.Join(folded, ","),
		"rows":    wide.Len(),
	}).Info("aligned series")
	return wide, nil
}

type keySet map[int64]struct{}

func newKeySet(keys []int64) keySet {
	s := make(keySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s keySet) equal(o keySet) bool {
	if len(s) != len(o) {
		return false
	}
	for k := range s {
		if _, ok := o[k]; !ok {
			return false
		}
	}
	return true
}

func (s keySet) union(o keySet) {
	for k := range o {
		s[k] = struct{}{}
	}
}

func (s keySet) sorted() []int64 {
	out := make([]int64, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s keySet) describe(symbol string) SeriesRange {
	r := SeriesRange{Symbol: symbol, Rows: len(s)}
	keys := s.sorted()
	if len(keys) > 0 {
		r.First = time.Unix(keys[0], 0).UTC()
		r.Last = time.Unix(keys[len(keys)-1], 0).UTC()
	}
	return r
}
