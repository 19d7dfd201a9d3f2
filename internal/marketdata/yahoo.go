package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"capindex/internal/domain"
)

var _ BarSource = (*Yahoo)(nil)
var _ FundamentalsSource = (*Yahoo)(nil)

// yahooConcurrency bounds the per-symbol chart requests in flight.
const yahooConcurrency = 4

// Yahoo serves bars and fundamentals from Yahoo Finance. It needs no
// credentials. The chart endpoint is per symbol, so batches fan out.
type Yahoo struct {
	log *slog.Logger
	now func() time.Time

	// Overridable in tests.
	chartFn  func(symbol string, interval datetime.Interval, start, end time.Time) ([]domain.Bar, error)
	equityFn func(symbol string) (domain.Fundamentals, error)
}

// NewYahoo creates a Yahoo source.
func NewYahoo(log *slog.Logger) *Yahoo {
	if log == nil {
		log = slog.Default()
	}
	return &Yahoo{
		log:      log.With("source", "yahoo"),
		now:      time.Now,
		chartFn:  yahooChart,
		equityFn: yahooEquity,
	}
}

// Name returns the source identifier.
func (y *Yahoo) Name() string { return "yahoo" }

// Bars fetches bars for each symbol. Symbols whose request fails are logged
// and left out; ErrNoData is returned if every symbol came back empty.
func (y *Yahoo) Bars(ctx context.Context, symbols []string, q Query) (map[string][]domain.Bar, error) {
	now := y.now()
	start, end := q.Range(now)
	interval := datetime.OneDay
	if q.Timespan == Minute {
		interval = datetime.OneMin
	}

	var (
		mu       sync.Mutex
		out      = make(map[string][]domain.Bar, len(symbols))
		firstErr error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(yahooConcurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			bars, err := y.chartFn(sym, interval, start, end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				y.log.Debug("chart request failed", "symbol", sym, "interval", interval, "error", err)
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", sym, err)
				}
				return nil
			}
			if len(bars) > 0 {
				out[sym] = bars
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out = q.Trim(out, now)
	if len(out) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoData, firstErr)
		}
		return nil, ErrNoData
	}
	return out, nil
}

// Fundamentals returns shares outstanding, market cap and previous close
// from the Yahoo quote endpoint. Missing fields are left zero.
func (y *Yahoo) Fundamentals(ctx context.Context, symbol string) (domain.Fundamentals, error) {
	if err := ctx.Err(); err != nil {
		return domain.Fundamentals{}, err
	}
	f, err := y.equityFn(symbol)
	if err != nil {
		return domain.Fundamentals{}, fmt.Errorf("yahoo quote %s: %w", symbol, err)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// finance-go adapters
// ---------------------------------------------------------------------------

func yahooChart(symbol string, interval datetime.Interval, start, end time.Time) ([]domain.Bar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: interval,
	})

	var bars []domain.Bar
	for iter.Next() {
		b := iter.Bar()
		closePx := decFloat(b.Close)
		if closePx <= 0 {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: time.Unix(int64(b.Timestamp), 0).UTC(),
			Open:      decFloat(b.Open),
			High:      decFloat(b.High),
			Low:       decFloat(b.Low),
			Close:     closePx,
			Volume:    int64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}

// decFloat converts a chart price; Yahoo returns empty decimals for
// halted minutes, which map to 0.
func decFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(6).Float64()
	return f
}

func yahooEquity(symbol string) (domain.Fundamentals, error) {
	e, err := equity.Get(symbol)
	if err != nil {
		return domain.Fundamentals{}, err
	}
	if e == nil {
		return domain.Fundamentals{}, fmt.Errorf("no quote for %s", symbol)
	}
	return domain.Fundamentals{
		Symbol:            strings.ToUpper(symbol),
		SharesOutstanding: float64(e.SharesOutstanding),
		MarketCap:         float64(e.MarketCap),
		PreviousClose:     e.RegularMarketPreviousClose,
	}, nil
}
