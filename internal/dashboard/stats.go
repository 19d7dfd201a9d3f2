// Package dashboard provides the formatting and summary helpers shared by the
// terminal UI and the console client.
package dashboard

import (
	"sort"

	"capindex/internal/index"
)

// SeriesStats summarizes the index values held in memory.
type SeriesStats struct {
	Points    int
	Open      float64 // first value in the window
	High      float64
	Low       float64
	Last      float64
	Change    float64 // Last - Open
	ChangePct float64
	MaxGain   float64 // largest rise from a trough to a later value, as a fraction
	MaxLoss   float64 // largest fall from a peak to a later value, as a fraction
}

// ComputeSeriesStats walks values once in time order.
func ComputeSeriesStats(values []float64) SeriesStats {
	var s SeriesStats
	if len(values) == 0 {
		return s
	}
	s.Points = len(values)
	s.Open, s.High, s.Low = values[0], values[0], values[0]
	minSoFar, maxSoFar := values[0], values[0]

	for _, v := range values {
		if v > s.High {
			s.High = v
		}
		if v < s.Low {
			s.Low = v
		}

		// Max gain: bought at the lowest seen so far, sold now.
		if v < minSoFar {
			minSoFar = v
		}
		if minSoFar > 0 {
			if g := (v - minSoFar) / minSoFar; g > s.MaxGain {
				s.MaxGain = g
			}
		}
		// Max loss: bought at the highest seen so far, sold now.
		if v > maxSoFar {
			maxSoFar = v
		}
		if maxSoFar > 0 {
			if l := (maxSoFar - v) / maxSoFar; l > s.MaxLoss {
				s.MaxLoss = l
			}
		}
	}

	s.Last = values[len(values)-1]
	s.Change = s.Last - s.Open
	if s.Open != 0 {
		s.ChangePct = s.Change / s.Open * 100
	}
	return s
}

// Sidebar sort modes.
const (
	SortBasket    = 0 // configured basket order (default)
	SortDailyPct  = 1 // daily % change, best first
	SortWeight    = 2 // index weight, heaviest first
	SortModeCount = 3
)

// SortModeLabel returns a short label for the given sort mode.
func SortModeLabel(mode int) string {
	switch mode {
	case SortBasket:
		return "BASKET"
	case SortDailyPct:
		return "DAY%"
	case SortWeight:
		return "WEIGHT"
	default:
		return "?"
	}
}

// SortQuotes returns quotes ordered for the given mode. basket gives the
// configured order; symbols missing from it sort last. The input is not
// modified.
func SortQuotes(quotes []index.Quote, basket []string, mode int) []index.Quote {
	out := append([]index.Quote(nil), quotes...)
	rank := make(map[string]int, len(basket))
	for i, s := range basket {
		rank[s] = i
	}
	pos := func(sym string) int {
		if r, ok := rank[sym]; ok {
			return r
		}
		return len(basket)
	}

	sort.SliceStable(out, func(i, j int) bool {
		switch mode {
		case SortDailyPct:
			if out[i].DailyPct != out[j].DailyPct {
				return out[i].DailyPct > out[j].DailyPct
			}
		case SortWeight:
			if out[i].Weight != out[j].Weight {
				return out[i].Weight > out[j].Weight
			}
		}
		return pos(out[i].Symbol) < pos(out[j].Symbol)
	})
	return out
}
