package synthetic

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"barflow/logger"
	"barflow/models"
)

const (
	basePrice  = 100.0
	volatility = 0.02
	wickSpread = 0.01
	minVolume  = 1_000_000
	maxVolume  = 10_000_000
)

// Reader generates a reproducible random walk per symbol. It needs no
// credentials and is used for local runs and tests.
type Reader struct {
	log *logger.Log
}

func NewReader(log *logger.Log) *Reader {
	return &Reader{log: log}
}

func (r *Reader) Name() string { return "synthetic" }

func seed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64()
}

// FetchBars returns one bar per calendar day in [start, end]. The same
// symbol and range always produce the same bars.
func (r *Reader) FetchBars(ctx context.Context, symbol string, start, end time.Time) models.Series {
	if ctx.Err() != nil {
		return models.EmptySeries()
	}
	first, last := models.Day(start), models.Day(end)
	if last.Before(first) {
		return models.EmptySeries()
	}

	s := seed(symbol)
	rng := rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))

	var closes []float64
	price := basePrice
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		price *= 1 + rng.NormFloat64()*volatility
		closes = append(closes, price)
	}

	bars := make([]models.Bar, len(closes))
	d := first
	for i, p := range closes {
		bars[i] = models.Bar{Date: d, Open: p, Close: p}
		d = d.AddDate(0, 0, 1)
	}
	for i := range bars {
		bars[i].High = bars[i].Close * (1 + math.Abs(rng.NormFloat64()*wickSpread))
	}
	for i := range bars {
		bars[i].Low = bars[i].Close * (1 - math.Abs(rng.NormFloat64()*wickSpread))
	}
	for i := range bars {
		bars[i].Volume = minVolume + rng.Int64N(maxVolume-minVolume)
	}

	r.log.WithComponent("synthetic_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"rows":   len(bars),
	}).Info("generated synthetic data")
	return models.NewSeries(bars)
}
