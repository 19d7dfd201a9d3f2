// Package domain defines the core market-data types shared across capindex:
// bars, fundamentals, and the market identifiers used by the calendar.
package domain

import "time"

// Market identifies the exchange calendar a basket trades on.
type Market string

const (
	MarketUS Market = "us"
)

// Bar is a single OHLCV bar for one symbol.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Fundamentals holds the descriptive per-symbol fields needed to weight a
// constituent by market capitalization. Zero means "not reported".
type Fundamentals struct {
	Symbol            string
	SharesOutstanding float64
	MarketCap         float64
	PreviousClose     float64
}

// LastClose returns the close of the most recent bar, or false if bars is
// empty. Bars must be ordered by time.
func LastClose(bars []Bar) (float64, bool) {
	if len(bars) == 0 {
		return 0, false
	}
	return bars[len(bars)-1].Close, true
}
