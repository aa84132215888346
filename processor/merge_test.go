package processor

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barflow/models"
)

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func bar(d string, o, h, l, c float64, v int64) models.Bar {
	return models.Bar{Date: day(d), Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestMergeNoOverlap(t *testing.T) {
	existing := models.NewSeries([]models.Bar{bar("2023-01-01", 100, 101, 99, 100.5, 1000)})
	incoming := models.NewSeries([]models.Bar{bar("2023-01-02", 102, 103, 101.5, 102.5, 1100)})

	merged := Merge(existing, incoming)

	require.Equal(t, 2, merged.Len())
	assert.Equal(t, bar("2023-01-01", 100, 101, 99, 100.5, 1000), merged.At(0))
	assert.Equal(t, bar("2023-01-02", 102, 103, 101.5, 102.5, 1100), merged.At(1))
}

func TestMergeWithOverlapIncomingWins(t *testing.T) {
	existing := models.NewSeries([]models.Bar{
		bar("2023-01-01", 100, 101, 99, 100.5, 1000),
		bar("2023-01-02", 102, 103, 101.5, 102.5, 1100),
	})
	incoming := models.NewSeries([]models.Bar{
		bar("2023-01-03", 104, 105, 103.5, 104.5, 1200),
		bar("2023-01-02", 102.1, 103.2, 101.6, 102.9, 1150),
	})

	merged := Merge(existing, incoming)

	want := models.NewSeries([]models.Bar{
		bar("2023-01-01", 100, 101, 99, 100.5, 1000),
		bar("2023-01-02", 102.1, 103.2, 101.6, 102.9, 1150),
		bar("2023-01-03", 104, 105, 103.5, 104.5, 1200),
	})
	assert.True(t, want.Equal(merged), "got %+v", merged.Bars())
	// operands untouched
	assert.Equal(t, 102.5, existing.At(1).Close)
	assert.Equal(t, 2, incoming.Len())
}

func TestMergeEmptySides(t *testing.T) {
	unsorted := models.NewSeries([]models.Bar{
		bar("2023-01-02", 2, 2, 2, 2, 2),
		bar("2023-01-01", 1, 1, 1, 1, 1),
	})

	left := Merge(unsorted, models.EmptySeries())
	right := Merge(models.EmptySeries(), unsorted)

	assert.True(t, unsorted.Sorted().Equal(left))
	assert.True(t, unsorted.Sorted().Equal(right))
	assert.Equal(t, 0, Merge(models.EmptySeries(), models.EmptySeries()).Len())
}

func TestMergeIdempotent(t *testing.T) {
	a := models.NewSeries([]models.Bar{
		bar("2023-01-01", 1, 1, 1, 1, 1),
		bar("2023-01-02", 2, 2, 2, 2, 2),
	})
	b := models.NewSeries([]models.Bar{
		bar("2023-01-02", 3, 3, 3, 3, 3),
		bar("2023-01-03", 4, 4, 4, 4, 4),
	})

	once := Merge(a, b)
	twice := Merge(once, b)
	assert.True(t, once.Equal(twice))
}

func TestMergeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := day("2023-01-01")

	randomSeries := func() models.Series {
		n := rng.Intn(15)
		used := map[int]bool{}
		var bars []models.Bar
		for len(bars) < n {
			off := rng.Intn(30)
			if used[off] {
				continue
			}
			used[off] = true
			v := rng.Float64() * 100
			bars = append(bars, models.Bar{Date: base.AddDate(0, 0, off), Open: v, High: v, Low: v, Close: v, Volume: rng.Int63n(1000)})
		}
		return models.NewSeries(bars)
	}

	for i := 0; i < 200; i++ {
		a, b := randomSeries(), randomSeries()
		m := Merge(a, b)

		require.True(t, m.IsSorted(), "merge must be strictly ascending")

		union := map[int64]bool{}
		for _, k := range a.Keys() {
			union[k] = true
		}
		for _, k := range b.Keys() {
			union[k] = true
		}
		require.Equal(t, len(union), m.Len())

		byKey := map[int64]models.Bar{}
		for _, r := range m.Bars() {
			byKey[models.DayKey(r.Date)] = r
		}
		for _, r := range b.Bars() {
			require.Equal(t, r, byKey[models.DayKey(r.Date)], "incoming row must win")
		}

		require.True(t, m.Equal(Merge(m, b)))
	}
}
