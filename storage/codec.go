package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"barflow/models"
)

const timestampColumn = "timestamp"

// Layouts accepted when reading stored timestamps. Older objects carry a
// time-of-day and offset; they are normalised to the UTC day on read.
var timestampLayouts = []string{
	models.DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
}

// FormatFloat renders v with four decimal places. Non-finite values use
// the inf/-inf/nan spellings.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return decimal.NewFromFloat(v).StringFixed(4)
}

// EncodeSeries writes the header timestamp,open,high,low,close,volume and
// one row per bar.
func EncodeSeries(w io.Writer, s models.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{timestampColumn}, models.BarFields...)); err != nil {
		return err
	}
	for _, b := range s.Bars() {
		rec := []string{
			b.Date.Format(models.DateLayout),
			FormatFloat(b.Open),
			FormatFloat(b.High),
			FormatFloat(b.Low),
			FormatFloat(b.Close),
			strconv.FormatInt(b.Volume, 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalSeries is EncodeSeries into a byte slice.
func MarshalSeries(s models.Series) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeSeries(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSeries parses a stored series. Columns are matched by header name
// so column order does not matter; extra columns are ignored. An empty
// body is an empty series.
func DecodeSeries(r io.Reader) (models.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return models.EmptySeries(), nil
	}
	if err != nil {
		return models.Series{}, fmt.Errorf("read header: %w", err)
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range append([]string{timestampColumn}, models.BarFields...) {
		if _, ok := pos[col]; !ok {
			return models.Series{}, fmt.Errorf("missing column %q", col)
		}
	}

	var bars []models.Bar
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return models.Series{}, fmt.Errorf("line %d: %w", line, err)
		}
		b, err := parseBar(rec, pos)
		if err != nil {
			return models.Series{}, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	return models.NewSeries(bars), nil
}

// UnmarshalSeries is DecodeSeries over a byte slice.
func UnmarshalSeries(data []byte) (models.Series, error) {
	return DecodeSeries(bytes.NewReader(data))
}

func parseBar(rec []string, pos map[string]int) (models.Bar, error) {
	field := func(name string) string {
		i := pos[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	ts, err := parseTimestamp(field(timestampColumn))
	if err != nil {
		return models.Bar{}, err
	}
	b := models.Bar{Date: ts}

	floats := []*float64{&b.Open, &b.High, &b.Low, &b.Close}
	for i, name := range models.BarFields[:4] {
		v, err := strconv.ParseFloat(field(name), 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("%s: %w", name, err)
		}
		*floats[i] = v
	}

	// pandas may have written volume as a float
	vol, err := strconv.ParseFloat(field("volume"), 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("volume: %w", err)
	}
	if math.IsNaN(vol) || math.IsInf(vol, 0) {
		return models.Bar{}, fmt.Errorf("volume: non-finite value %q", field("volume"))
	}
	if math.Abs(vol) >= math.MaxInt64 {
		return models.Bar{}, fmt.Errorf("volume: %q out of range", field("volume"))
	}
	b.Volume = int64(math.Round(vol))
	return b, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// EncodeWide writes a wide table with the same timestamp column and number
// format as EncodeSeries. Null cells are empty.
func EncodeWide(w io.Writer, t *models.WideTable) error {
	cw := csv.NewWriter(w)
	cols := t.Columns()
	if err := cw.Write(append([]string{timestampColumn}, cols...)); err != nil {
		return err
	}
	rec := make([]string, len(cols)+1)
	for i, d := range t.Index() {
		rec[0] = d.Format(models.DateLayout)
		for j, c := range cols {
			v := t.Cell(c, i)
			if !v.Valid {
				rec[j+1] = ""
				continue
			}
			rec[j+1] = FormatFloat(v.Float64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
