package processor

import (
	"sort"

	"barflow/models"
)

// Merge combines the persisted series with freshly fetched bars. Rows are
// keyed by day; when both sides carry the same day the incoming row wins.
// The result is sorted ascending and neither operand is modified.
//
// Merge(Merge(a, b), b) equals Merge(a, b).
func Merge(existing, incoming models.Series) models.Series {
	if existing.Empty() {
		return dedupeSorted(incoming)
	}
	if incoming.Empty() {
		return dedupeSorted(existing)
	}

	byDay := make(map[int64]models.Bar, existing.Len()+incoming.Len())
	for _, b := range existing.Bars() {
		byDay[models.DayKey(b.Date)] = b
	}
	for _, b := range incoming.Bars() {
		byDay[models.DayKey(b.Date)] = b
	}
	return fromMap(byDay)
}

// dedupeSorted sorts a single series. Tables never hold duplicate days, but
// a provider response is not trusted to honour that; the later row wins.
func dedupeSorted(s models.Series) models.Series {
	if s.IsSorted() {
		return s
	}
	byDay := make(map[int64]models.Bar, s.Len())
	for _, b := range s.Bars() {
		byDay[models.DayKey(b.Date)] = b
	}
	return fromMap(byDay)
}

func fromMap(byDay map[int64]models.Bar) models.Series {
	keys := make([]int64, 0, len(byDay))
	for k := range byDay {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	bars := make([]models.Bar, len(keys))
	for i, k := range keys {
		bars[i] = byDay[k]
	}
	return models.NewSeries(bars)
}
