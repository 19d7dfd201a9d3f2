package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"capindex/internal/config"
	"capindex/internal/domain"
	"capindex/internal/util"
)

// ErrNoData is returned by a BarSource when none of the requested symbols
// produced a bar.
var ErrNoData = errors.New("marketdata: no data")

// BarSource fetches OHLCV bars for a batch of symbols.
//
// The returned map holds bars in ascending time order per symbol. Symbols
// the source could not serve are absent from the map; an error is returned
// only when the request as a whole failed.
type BarSource interface {
	Name() string
	Bars(ctx context.Context, symbols []string, q Query) (map[string][]domain.Bar, error)
}

// FundamentalsSource fetches per-symbol share and capitalization data.
type FundamentalsSource interface {
	Name() string
	Fundamentals(ctx context.Context, symbol string) (domain.Fundamentals, error)
}

// Provider pairs a bar source with a fundamentals source. The two may be
// backed by different vendors.
type Provider struct {
	Bars         BarSource
	Fundamentals FundamentalsSource
}

// New builds the Provider selected by cfg.Provider.
func New(cfg *config.Config, log *slog.Logger) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "marketdata")
	httpClient := &http.Client{Timeout: cfg.Provider.Timeout}

	var polygon *Polygon
	getPolygon := func() (*Polygon, error) {
		if polygon != nil {
			return polygon, nil
		}
		if cfg.Polygon.APIKey == "" {
			return nil, fmt.Errorf("polygon: POLYGON_API_KEY is not set")
		}
		polygon = NewPolygon(cfg.Polygon.APIKey, httpClient,
			util.NewRateLimiter(cfg.Polygon.RateLimitPerMin), log)
		return polygon, nil
	}
	yahoo := NewYahoo(log)

	p := &Provider{}
	switch cfg.Provider.Bars {
	case "yahoo":
		p.Bars = yahoo
	case "alpaca":
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, fmt.Errorf("alpaca: APCA_API_KEY_ID and APCA_API_SECRET_KEY must be set")
		}
		p.Bars = NewAlpacaBars(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			cfg.Alpaca.DataURL, cfg.Alpaca.Feed, log)
	case "polygon":
		pg, err := getPolygon()
		if err != nil {
			return nil, err
		}
		p.Bars = pg
	default:
		return nil, fmt.Errorf("unknown bar source %q", cfg.Provider.Bars)
	}

	switch cfg.Provider.Fundamentals {
	case "yahoo":
		p.Fundamentals = yahoo
	case "polygon":
		pg, err := getPolygon()
		if err != nil {
			return nil, err
		}
		p.Fundamentals = pg
	default:
		return nil, fmt.Errorf("unknown fundamentals source %q", cfg.Provider.Fundamentals)
	}

	log.Info("provider ready", "bars", p.Bars.Name(), "fundamentals", p.Fundamentals.Name())
	return p, nil
}
