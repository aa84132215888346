package processor

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barflow/logger"
	"barflow/models"
)

func closes(dates []string, vals ...float64) models.Series {
	bars := make([]models.Bar, len(dates))
	for i, d := range dates {
		bars[i] = bar(d, vals[i], vals[i], vals[i], vals[i], int64(i+1))
	}
	return models.NewSeries(bars)
}

func captureLogger() (*logger.Log, *bytes.Buffer) {
	var buf bytes.Buffer
	log := logger.New()
	log.SetOutput(&buf)
	return log, &buf
}

func TestAlignMatchingIndices(t *testing.T) {
	dates := []string{"2023-01-01", "2023-01-02"}
	tables := []models.SymbolSeries{
		{Symbol: "file1", Series: closes(dates, 100, 101)},
		{Symbol: "file2", Series: closes(dates, 200, 201)},
	}

	wide, err := Align(tables, true, logger.Discard())
	require.NoError(t, err)

	assert.Equal(t, 2, wide.Len())
	cols := wide.Columns()
	assert.Contains(t, cols, "file1_close")
	assert.Contains(t, cols, "file2_volume")
	assert.Len(t, cols, 10)
	assert.Equal(t, []string{"file1", "file2"}, wide.Symbols())
	assert.Equal(t, 201.0, wide.Cell("file2_close", 1).Float64)
}

func TestAlignStrictMismatch(t *testing.T) {
	tables := []models.SymbolSeries{
		{Symbol: "A", Series: closes([]string{"2023-01-01", "2023-01-02"}, 1, 2)},
		{Symbol: "B", Series: closes([]string{"2023-01-01", "2023-01-02", "2023-01-03"}, 1, 2, 3)},
	}

	wide, err := Align(tables, true, logger.Discard())
	require.Error(t, err)
	assert.Nil(t, wide)

	var ae *AlignmentError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "A", ae.Left.Symbol)
	assert.Equal(t, 2, ae.Left.Rows)
	assert.Equal(t, "B", ae.Right.Symbol)
	assert.Equal(t, 3, ae.Right.Rows)
	assert.True(t, day("2023-01-03").Equal(ae.Right.Last))
	assert.Equal(t,
		"index mismatch: A has 2 rows (2023-01-01 to 2023-01-02), B has 3 rows (2023-01-01 to 2023-01-03)",
		err.Error())
}

func TestAlignLenientOuterJoin(t *testing.T) {
	log, buf := captureLogger()
	tables := []models.SymbolSeries{
		{Symbol: "A", Series: closes([]string{"2023-01-01", "2023-01-02"}, 1, 2)},
		{Symbol: "B", Series: closes([]string{"2023-01-01", "2023-01-02", "2023-01-03"}, 1, 2, 3)},
	}

	wide, err := Align(tables, false, log)
	require.NoError(t, err)

	require.Equal(t, 3, wide.Len())
	assert.Contains(t, buf.String(), "index mismatch")
	assert.Contains(t, buf.String(), `"level":"warning"`)

	for _, f := range models.BarFields {
		assert.False(t, wide.Cell("A_"+f, 2).Valid, "A_%s should be null on the day A lacks", f)
		assert.True(t, wide.Cell("B_"+f, 2).Valid)
	}
	assert.Equal(t, 3.0, wide.Cell("B_close", 2).Float64)
	assert.True(t, wide.Index()[2].Equal(day("2023-01-03")))
}

func TestAlignSkipsEmptyTables(t *testing.T) {
	log, buf := captureLogger()
	tables := []models.SymbolSeries{
		{Symbol: "EMPTY", Series: models.EmptySeries()},
		{Symbol: "A", Series: closes([]string{"2023-01-02", "2023-01-01"}, 2, 1)},
	}

	wide, err := Align(tables, true, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, wide.Symbols())
	assert.Equal(t, 1.0, wide.Cell("A_close", 0).Float64, "result must be sorted ascending")
	assert.Contains(t, buf.String(), "EMPTY")

	none, err := Align([]models.SymbolSeries{{Symbol: "X", Series: models.EmptySeries()}}, true, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 0, none.Len())
	assert.Empty(t, none.Columns())
}

func TestAlignAccumulatorLabel(t *testing.T) {
	tables := []models.SymbolSeries{
		{Symbol: "A", Series: closes([]string{"2023-01-01"}, 1)},
		{Symbol: "B", Series: closes([]string{"2023-01-01"}, 1)},
		{Symbol: "C", Series: closes([]string{"2023-01-02"}, 1)},
	}

	_, err := Align(tables, true, logger.Discard())
	var ae *AlignmentError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "A+B", ae.Left.Symbol)
	assert.Equal(t, "C", ae.Right.Symbol)

	wide, err := Align(tables, false, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 2, wide.Len())
	assert.False(t, wide.Cell("A_close", 1).Valid)
	assert.False(t, wide.Cell("C_close", 0).Valid)
}
