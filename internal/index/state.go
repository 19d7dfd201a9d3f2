// Package index computes a market-capitalization-weighted index over a fixed
// basket. Initialize fixes the base; Step advances the state by one fetch;
// Updater drives Step on each cycle and hands the result to recorders.
package index

import (
	"errors"
	"time"
)

var (
	// ErrInsufficientHistory means the bootstrap daily history was empty or
	// covered fewer than two sessions, so no previous close can be derived.
	ErrInsufficientHistory = errors.New("index: insufficient daily history")

	// ErrZeroBaseCap means no constituent contributed to the base market cap.
	ErrZeroBaseCap = errors.New("index: base market cap is zero")
)

// Trend classifies a price move.
type Trend int

const (
	TrendFlat Trend = iota
	TrendUp
	TrendDown
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "up"
	case TrendDown:
		return "down"
	default:
		return "flat"
	}
}

// ParseTrend is the inverse of Trend.String. Unknown strings are flat.
func ParseTrend(s string) Trend {
	switch s {
	case "up":
		return TrendUp
	case "down":
		return TrendDown
	default:
		return TrendFlat
	}
}

// Constituent is the per-ticker state. Shares and PrevClose are fixed at
// initialization; LastPrice moves on every update that quotes the ticker.
type Constituent struct {
	Symbol    string
	Shares    float64
	PrevClose float64
	LastPrice float64
}

// BaseCap is the constituent's contribution to the base market cap.
func (c Constituent) BaseCap() float64 { return c.Shares * c.PrevClose }

// State is everything the update loop owns between cycles.
type State struct {
	Name      string
	BaseValue float64
	// BaseCap is computed once by Initialize and never recomputed.
	BaseCap      float64
	Constituents []Constituent
	History      History
}

// Symbols returns the basket in order.
func (s *State) Symbols() []string {
	out := make([]string, len(s.Constituents))
	for i, c := range s.Constituents {
		out[i] = c.Symbol
	}
	return out
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Constituents = append([]Constituent(nil), s.Constituents...)
	out.History = s.History.Clone()
	return out
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// History is a bounded series of index values with parallel timestamps.
// len(Values) == len(Times) after every operation.
type History struct {
	Values []float64
	Times  []time.Time
	Max    int
}

// NewHistory creates an empty history keeping at most max points. max <= 0
// means unbounded.
func NewHistory(max int) History {
	return History{Max: max}
}

// Len returns the number of points held.
func (h History) Len() int { return len(h.Values) }

// Append adds a point and drops the oldest points beyond Max. The receiver's
// backing arrays are not modified.
func (h History) Append(v float64, t time.Time) History {
	n := len(h.Values) + 1
	drop := 0
	if h.Max > 0 && n > h.Max {
		drop = n - h.Max
	}

	values := make([]float64, 0, n-drop)
	times := make([]time.Time, 0, n-drop)
	values = append(append(values, h.Values[drop:]...), v)
	times = append(append(times, h.Times[drop:]...), t)
	return History{Values: values, Times: times, Max: h.Max}
}

// Last returns the most recent value and time.
func (h History) Last() (float64, time.Time, bool) {
	if len(h.Values) == 0 {
		return 0, time.Time{}, false
	}
	i := len(h.Values) - 1
	return h.Values[i], h.Times[i], true
}

// Clone returns a deep copy of h.
func (h History) Clone() History {
	return History{
		Values: append([]float64(nil), h.Values...),
		Times:  append([]time.Time(nil), h.Times...),
		Max:    h.Max,
	}
}
