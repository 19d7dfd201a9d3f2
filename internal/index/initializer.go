package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"capindex/internal/domain"
	"capindex/internal/marketdata"
)

// Params fixes the index definition.
type Params struct {
	Name        string
	BaseValue   float64
	Tickers     []string
	MaxPoints   int
	HistoryDays int
}

// InitDeps are the collaborators Initialize needs.
type InitDeps struct {
	Bars         marketdata.BarSource
	Fundamentals marketdata.FundamentalsSource
	Log          *slog.Logger
}

// Initialize fetches the bootstrap data and fixes the base market cap.
//
// Daily history for the whole basket is fetched in one batch; the
// second-to-last close of each ticker's series is its previous close, since
// the last row may be an unfinished session. A ticker whose fundamentals or
// history cannot be used is logged and dropped once the loop is done.
//
// The returned error wraps ErrInsufficientHistory when the batch covers
// fewer than two sessions, and ErrZeroBaseCap when nothing contributed to the
// base.
func Initialize(ctx context.Context, deps InitDeps, p Params) (*State, error) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "initializer")

	days := p.HistoryDays
	if days < 2 {
		days = 5
	}

	log.Info("initializing index", "name", p.Name, "tickers", len(p.Tickers))

	hist, err := deps.Bars.Bars(ctx, p.Tickers, marketdata.DailyHistory(days))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientHistory, err)
	}
	if n := sessionCount(hist); n < 2 {
		return nil, fmt.Errorf("%w: %d sessions for %d tickers", ErrInsufficientHistory, n, len(p.Tickers))
	}

	var (
		constituents []Constituent
		failed       []string
		baseCap      float64
	)
	for _, sym := range p.Tickers {
		c, err := initConstituent(ctx, deps.Fundamentals, sym, hist[sym], log)
		if err != nil {
			log.Warn("could not initialize ticker, excluding it", "symbol", sym, "error", err)
			failed = append(failed, sym)
			continue
		}
		constituents = append(constituents, c)
		baseCap += c.BaseCap()
		log.Info("initialized ticker", "symbol", sym, "prevClose", c.PrevClose, "shares", c.Shares)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(failed) > 0 {
		log.Warn("tickers excluded", "symbols", failed)
	}

	if len(constituents) == 0 || baseCap == 0 {
		return nil, fmt.Errorf("%w: %d of %d tickers initialized", ErrZeroBaseCap, len(constituents), len(p.Tickers))
	}

	log.Info("initialization complete", "baseCap", baseCap, "constituents", len(constituents))
	return &State{
		Name:         p.Name,
		BaseValue:    p.BaseValue,
		BaseCap:      baseCap,
		Constituents: constituents,
		History:      NewHistory(p.MaxPoints),
	}, nil
}

func initConstituent(ctx context.Context, src marketdata.FundamentalsSource, sym string, bars []domain.Bar, log *slog.Logger) (Constituent, error) {
	if len(bars) < 2 {
		return Constituent{}, fmt.Errorf("only %d daily bars", len(bars))
	}
	prevClose := bars[len(bars)-2].Close
	if prevClose <= 0 {
		return Constituent{}, fmt.Errorf("invalid previous close %v", prevClose)
	}

	f, err := src.Fundamentals(ctx, sym)
	if err != nil {
		return Constituent{}, err
	}

	shares := f.SharesOutstanding
	if shares <= 0 {
		if f.MarketCap > 0 && f.PreviousClose <= 0 {
			return Constituent{}, fmt.Errorf("cannot estimate shares: market cap %v with previous close %v", f.MarketCap, f.PreviousClose)
		}
		if f.PreviousClose > 0 {
			shares = f.MarketCap / f.PreviousClose
		}
		log.Warn("estimating shares outstanding", "symbol", sym, "marketCap", f.MarketCap, "previousClose", f.PreviousClose)
	}
	if shares <= 0 {
		return Constituent{}, fmt.Errorf("no shares outstanding or market cap")
	}

	return Constituent{
		Symbol:    sym,
		Shares:    shares,
		PrevClose: prevClose,
		LastPrice: prevClose,
	}, nil
}

// sessionCount returns the number of distinct session dates across the
// batch, the row count of a date-indexed table of closes.
func sessionCount(hist map[string][]domain.Bar) int {
	days := make(map[string]struct{})
	for _, bars := range hist {
		for _, b := range bars {
			days[b.Timestamp.In(time.UTC).Format(time.DateOnly)] = struct{}{}
		}
	}
	return len(days)
}
