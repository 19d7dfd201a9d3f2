package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	polygonrest "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"capindex/internal/domain"
	"capindex/internal/util"
)

var _ BarSource = (*Polygon)(nil)
var _ FundamentalsSource = (*Polygon)(nil)

// Polygon serves bars and fundamentals from the Polygon REST API. Every
// request waits on the shared rate limiter; the free tier allows five calls
// per minute.
type Polygon struct {
	rest    *polygonrest.Client
	limiter *util.RateLimiter
	now     func() time.Time
	log     *slog.Logger
}

// NewPolygon creates a Polygon source. A nil limiter disables throttling.
func NewPolygon(apiKey string, httpClient *http.Client, limiter *util.RateLimiter, log *slog.Logger) *Polygon {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Polygon{
		rest:    polygonrest.NewWithClient(apiKey, httpClient),
		limiter: limiter,
		now:     time.Now,
		log:     log.With("source", "polygon"),
	}
}

// Name returns the source identifier.
func (p *Polygon) Name() string { return "polygon" }

// Bars fetches aggregates one symbol at a time. Per-symbol failures are
// logged and the symbol is left out of the result.
func (p *Polygon) Bars(ctx context.Context, symbols []string, q Query) (map[string][]domain.Bar, error) {
	now := p.now()
	start, end := q.Range(now)

	out := make(map[string][]domain.Bar, len(symbols))
	var firstErr error
	for _, sym := range symbols {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		bars, err := p.aggs(ctx, sym, q, start, end)
		if err != nil {
			p.log.Debug("aggregates request failed", "symbol", sym, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", sym, err)
			}
			continue
		}
		if len(bars) > 0 {
			out[sym] = bars
		}
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

func (p *Polygon) aggs(ctx context.Context, symbol string, q Query, start, end time.Time) ([]domain.Bar, error) {
	timespan := models.Day
	if q.Timespan == Minute {
		timespan = models.Minute
	}
	params := &models.ListAggsParams{
		Ticker:     symbol,
		Timespan:   timespan,
		Multiplier: 1,
		From:       models.Millis(start),
		// The upper bound is exclusive.
		To: models.Millis(end.Add(time.Minute)),
	}
	lim := 5000
	asc := models.Asc
	adj := true
	params.Limit = &lim
	params.Order = &asc
	params.Adjusted = &adj

	iter := p.rest.ListAggs(ctx, params)
	var bars []domain.Bar
	for iter.Next() {
		bars = append(bars, aggToBar(symbol, iter.Item()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}

// Fundamentals combines ticker details (shares, market cap) with the
// previous-close aggregate. Share class shares are preferred over weighted
// shares because market cap is quoted per class.
func (p *Polygon) Fundamentals(ctx context.Context, symbol string) (domain.Fundamentals, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Fundamentals{}, err
	}
	details, err := p.rest.GetTickerDetails(ctx, &models.GetTickerDetailsParams{Ticker: symbol})
	if err != nil {
		return domain.Fundamentals{}, fmt.Errorf("polygon ticker details %s: %w", symbol, err)
	}

	f := domain.Fundamentals{
		Symbol:    strings.ToUpper(symbol),
		MarketCap: details.Results.MarketCap,
	}
	f.SharesOutstanding = float64(details.Results.ShareClassSharesOutstanding)
	if f.SharesOutstanding <= 0 {
		f.SharesOutstanding = float64(details.Results.WeightedSharesOutstanding)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Fundamentals{}, err
	}
	prev, err := p.rest.GetPreviousCloseAgg(ctx, &models.GetPreviousCloseAggParams{Ticker: symbol})
	if err != nil {
		// Previous close also comes from daily history; this is best effort.
		p.log.Debug("previous close unavailable", "symbol", symbol, "error", err)
		return f, nil
	}
	if len(prev.Results) > 0 {
		f.PreviousClose = prev.Results[len(prev.Results)-1].Close
	}
	return f, nil
}

func aggToBar(symbol string, a models.Agg) domain.Bar {
	return domain.Bar{
		Symbol:    strings.ToUpper(symbol),
		Timestamp: time.Time(a.Timestamp).UTC(),
		Open:      a.Open,
		High:      a.High,
		Low:       a.Low,
		Close:     a.Close,
		Volume:    int64(a.Volume),
	}
}
