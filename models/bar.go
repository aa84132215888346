package models

import (
	"sort"
	"time"
)

// DateLayout is the calendar-date form used for persisted day keys.
const DateLayout = "2006-01-02"

// BarFields lists the per-bar columns in their persisted order.
var BarFields = []string{"open", "high", "low", "close", "volume"}

// Bar is one day of aggregated trade data for a single symbol.
type Bar struct {
	Date   time.Time `json:"timestamp"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Value returns the named bar field as a float.
func (b Bar) Value(field string) (float64, bool) {
	switch field {
	case "open":
		return b.Open, true
	case "high":
		return b.High, true
	case "low":
		return b.Low, true
	case "close":
		return b.Close, true
	case "volume":
		return float64(b.Volume), true
	}
	return 0, false
}

// Day converts t to UTC and truncates it to midnight. It is the only
// normalisation applied to timestamps: provider bars and stored rows both
// pass through it, so day keys compare equal across sources.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey is the map key for the day containing t.
func DayKey(t time.Time) int64 {
	return Day(t).Unix()
}

// Series is a daily bar table for one symbol. A Series is never mutated
// after construction; operations that change rows return a new Series.
type Series struct {
	bars []Bar
}

// NewSeries copies bars into a new Series, normalising every date.
func NewSeries(bars []Bar) Series {
	out := make([]Bar, len(bars))
	for i, b := range bars {
		b.Date = Day(b.Date)
		out[i] = b
	}
	return Series{bars: out}
}

// EmptySeries returns a Series with zero rows.
func EmptySeries() Series {
	return Series{}
}

func (s Series) Len() int { return len(s.bars) }
func (s Series) Empty() bool { return len(s.bars) == 0 }
func (s Series) At(i int) Bar { return s.bars[i] }

// Bars returns a copy of the rows.
func (s Series) Bars() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Sorted returns a copy ordered by ascending date. The sort is stable so
// rows sharing a date keep their relative order.
func (s Series) Sorted() Series {
	out := s.Bars()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return Series{bars: out}
}

// IsSorted reports whether dates are strictly ascending.
func (s Series) IsSorted() bool {
	for i := 1; i < len(s.bars); i++ {
		if !s.bars[i-1].Date.Before(s.bars[i].Date) {
			return false
		}
	}
	return true
}

// Keys returns the day keys in row order.
func (s Series) Keys() []int64 {
	keys := make([]int64, len(s.bars))
	for i, b := range s.bars {
		keys[i] = DayKey(b.Date)
	}
	return keys
}

// Range returns the first and last date of a sorted series.
func (s Series) Range() (first, last time.Time) {
	if len(s.bars) == 0 {
		return time.Time{}, time.Time{}
	}
	first, last = s.bars[0].Date, s.bars[0].Date
	for _, b := range s.bars[1:] {
		if b.Date.Before(first) {
			first = b.Date
		}
		if b.Date.After(last) {
			last = b.Date
		}
	}
	return first, last
}

// Equal reports whether both series hold the same rows in the same order.
func (s Series) Equal(o Series) bool {
	if len(s.bars) != len(o.bars) {
		return false
	}
	for i := range s.bars {
		a, b := s.bars[i], o.bars[i]
		if !a.Date.Equal(b.Date) || a.Open != b.Open || a.High != b.High ||
			a.Low != b.Low || a.Close != b.Close || a.Volume != b.Volume {
			return false
		}
	}
	return true
}

// SymbolSeries pairs a series with the symbol it belongs to.
type SymbolSeries struct {
	Symbol string
	Series Series
}
