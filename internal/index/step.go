package index

import (
	"math"
	"time"
)

// Quote is the per-ticker annotation produced by one step.
type Quote struct {
	Symbol     string
	Price      float64
	PrevClose  float64
	DailyPct   float64
	DailyTrend Trend // up iff DailyPct >= 0
	TickTrend  Trend // versus the previously stored last price
	// Weight is the ticker's share of the priced total cap.
	Weight float64
	Shares float64
}

// Axis is the plotting range for the history after a step.
type Axis struct {
	XMin, XMax float64
	YMin, YMax float64
}

// Tick is the result of one successful step.
type Tick struct {
	Name     string
	Time     time.Time
	Value    float64
	TotalCap float64
	Source   FetchKind
	// Quotes follow basket order and cover only the tickers that were priced.
	Quotes []Quote
	// History is a snapshot taken after the append.
	History History
	Axis    Axis
}

// Step applies one fetch result to s and returns the next state and the tick
// describing it. s is not modified. An Unavailable result returns s unchanged
// and a zero Tick.
func Step(s State, r FetchResult, now time.Time) (State, Tick) {
	if r.Kind == Unavailable || len(r.Prices) == 0 {
		return s, Tick{}
	}

	next := s.Clone()

	var total float64
	quotes := make([]Quote, 0, len(r.Prices))
	for i, c := range next.Constituents {
		price, ok := r.Prices[c.Symbol]
		if !ok {
			continue
		}
		total += c.Shares * price

		pct := (price - c.PrevClose) / c.PrevClose * 100
		daily := TrendUp
		if pct < 0 {
			daily = TrendDown
		}
		tick := TrendFlat
		switch {
		case price > c.LastPrice:
			tick = TrendUp
		case price < c.LastPrice:
			tick = TrendDown
		}

		quotes = append(quotes, Quote{
			Symbol:     c.Symbol,
			Price:      price,
			PrevClose:  c.PrevClose,
			DailyPct:   pct,
			DailyTrend: daily,
			TickTrend:  tick,
			Shares:     c.Shares,
		})
		next.Constituents[i].LastPrice = price
	}

	if total > 0 {
		for i := range quotes {
			quotes[i].Weight = quotes[i].Shares * quotes[i].Price / total
		}
	}

	// Ratio first so equal caps give exactly BaseValue.
	value := next.BaseValue * (total / next.BaseCap)
	next.History = next.History.Append(value, now)

	return next, Tick{
		Name:     next.Name,
		Time:     now,
		Value:    value,
		TotalCap: total,
		Source:   r.Kind,
		Quotes:   quotes,
		History:  next.History.Clone(),
		Axis:     AxisFor(next.History.Values),
	}
}

// AxisFor returns the plotting range for values: x spans [0, max(n-1, 1)] and
// y spans the value range padded by 10% of its width plus 0.01, so a flat
// series still has non-zero height.
func AxisFor(values []float64) Axis {
	a := Axis{XMax: math.Max(float64(len(values)-1), 1)}
	if len(values) == 0 {
		return a
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	pad := (hi-lo)*0.1 + 0.01
	a.YMin, a.YMax = lo-pad, hi+pad
	return a
}
