package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"capindex/internal/domain"
	"capindex/internal/marketdata"
)

// FetchKind tags where a FetchResult's prices came from.
type FetchKind int

const (
	Unavailable FetchKind = iota
	Intraday
	Daily
)

func (k FetchKind) String() string {
	switch k {
	case Intraday:
		return "intraday"
	case Daily:
		return "daily"
	default:
		return "unavailable"
	}
}

// ParseFetchKind is the inverse of FetchKind.String.
func ParseFetchKind(s string) FetchKind {
	switch s {
	case "intraday":
		return Intraday
	case "daily":
		return Daily
	default:
		return Unavailable
	}
}

// FetchResult is the outcome of one latest-price fetch.
//
// Prices holds the last close per basket symbol and is non-empty unless Kind
// is Unavailable. IntradayErr records why the intraday attempt was abandoned
// when Kind is Daily or Unavailable; Err records why the daily fallback
// failed when Kind is Unavailable.
type FetchResult struct {
	Kind        FetchKind
	Prices      map[string]float64
	IntradayErr error
	Err         error
}

// errEmpty marks a fetch that succeeded but quoted no basket symbol.
var errEmpty = errors.New("no prices for basket")

// FetchLatest tries 1-minute bars over the trailing window first and falls
// back once to the latest daily bar. There is no further retry.
func FetchLatest(ctx context.Context, src marketdata.BarSource, symbols []string, window time.Duration) FetchResult {
	prices, err := latestPrices(ctx, src, symbols, marketdata.Intraday(window))
	if err == nil {
		return FetchResult{Kind: Intraday, Prices: prices}
	}
	intradayErr := err

	prices, err = latestPrices(ctx, src, symbols, marketdata.LatestDaily())
	if err == nil {
		return FetchResult{Kind: Daily, Prices: prices, IntradayErr: intradayErr}
	}
	return FetchResult{Kind: Unavailable, IntradayErr: intradayErr, Err: err}
}

func latestPrices(ctx context.Context, src marketdata.BarSource, symbols []string, q marketdata.Query) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bars, err := src.Bars(ctx, symbols, q)
	if err != nil {
		return nil, fmt.Errorf("%s bars: %w", q.Timespan, err)
	}

	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if px, ok := domain.LastClose(bars[sym]); ok && px > 0 {
			prices[sym] = px
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%s bars: %w", q.Timespan, errEmpty)
	}
	return prices, nil
}
