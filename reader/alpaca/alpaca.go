package alpaca

import (
	"context"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"barflow/config"
	"barflow/logger"
	"barflow/models"
)

// BarsClient is the slice of the Alpaca market data client used here.
type BarsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Credentials for the market data API.
type Credentials struct {
	KeyID     string
	SecretKey string
}

// Reader fetches daily bars from Alpaca, one request per symbol, paced by
// a token bucket.
type Reader struct {
	client  BarsClient
	feed    string
	limiter *rate.Limiter
	log     *logger.Log
}

// NewReader builds a Reader backed by the Alpaca REST client.
func NewReader(cfg config.ProviderConfig, creds Credentials, log *logger.Log) *Reader {
	opts := marketdata.ClientOpts{
		APIKey:     creds.KeyID,
		APISecret:  creds.SecretKey,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return NewReaderWithClient(marketdata.NewClient(opts), cfg, log)
}

func NewReaderWithClient(client BarsClient, cfg config.ProviderConfig, log *logger.Log) *Reader {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	log.WithComponent("alpaca_reader").WithFields(logger.Fields{
		"feed":                cfg.Feed,
		"data_url":            cfg.DataURL,
		"requests_per_second": cfg.RequestsPerSecond,
	}).Info("alpaca reader initialized")

	return &Reader{
		client:  client,
		feed:    cfg.Feed,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

func (r *Reader) Name() string { return "alpaca" }

// FetchBars requests OneDay bars for symbol. Alpaca treats End as
// exclusive for daily bars so one day is added to include end itself.
func (r *Reader) FetchBars(ctx context.Context, symbol string, start, end time.Time) models.Series {
	log := r.log.WithComponent("alpaca_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"start":  start.Format(models.DateLayout),
		"end":    end.Format(models.DateLayout),
	})

	if err := r.limiter.Wait(ctx); err != nil {
		log.WithError(err).Warn("rate limiter wait aborted")
		return models.EmptySeries()
	}

	startTime := time.Now()
	raw, err := r.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     models.Day(start),
		End:       models.Day(end).AddDate(0, 0, 1),
		Feed:      marketdata.Feed(r.feed),
	})
	if err != nil {
		log.WithError(err).Error("error fetching data")
		return models.EmptySeries()
	}

	bars := make([]models.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, models.Bar{
			Date:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}
	series := models.NewSeries(bars).Sorted()

	logger.LogPerformanceEntry(log, "alpaca_reader", "get_bars", time.Since(startTime), logger.Fields{
		"rows": series.Len(),
	})
	return series
}
