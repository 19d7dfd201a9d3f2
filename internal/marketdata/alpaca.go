package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"capindex/internal/domain"
)

var _ BarSource = (*AlpacaBars)(nil)

// AlpacaBars serves bars from the Alpaca market-data API. Alpaca has a true
// multi-symbol bars endpoint, so a whole basket costs one request.
type AlpacaBars struct {
	client *marketdata.Client
	feed   string
	now    func() time.Time
	log    *slog.Logger
}

// NewAlpacaBars creates an Alpaca bar source. dataURL may be empty for the
// production endpoint; feed is "iex" or "sip".
func NewAlpacaBars(apiKey, apiSecret, dataURL, feed string, log *slog.Logger) *AlpacaBars {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}
	if log == nil {
		log = slog.Default()
	}

	return &AlpacaBars{
		client: marketdata.NewClient(opts),
		feed:   feed,
		now:    time.Now,
		log:    log.With("source", "alpaca"),
	}
}

// Name returns the source identifier.
func (a *AlpacaBars) Name() string { return "alpaca" }

// Bars fetches bars for all symbols in a single GetMultiBars call.
func (a *AlpacaBars) Bars(ctx context.Context, symbols []string, q Query) (map[string][]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	now := a.now()
	start, end := q.Range(now)
	tf := marketdata.OneDay
	if q.Timespan == Minute {
		tf = marketdata.OneMin
	}

	multiBars, err := a.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
		Feed:      a.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	out := make(map[string][]domain.Bar, len(multiBars))
	for symbol, alpacaBars := range multiBars {
		sym := strings.ToUpper(symbol)
		for _, ab := range alpacaBars {
			out[sym] = append(out[sym], domain.Bar{
				Symbol:    sym,
				Timestamp: ab.Timestamp,
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    int64(ab.Volume),
			})
		}
	}

	out = q.Trim(out, now)
	if len(out) == 0 {
		return nil, ErrNoData
	}
	a.log.Debug("bars fetched", "timeframe", q.Timespan, "symbols", len(out))
	return out, nil
}
