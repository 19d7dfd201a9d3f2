package marketdata

import (
	"sort"
	"time"

	"capindex/internal/domain"
)

// Timespan is the bar resolution of a query.
type Timespan int

const (
	Minute Timespan = iota
	Day
)

func (t Timespan) String() string {
	if t == Minute {
		return "1m"
	}
	return "1d"
}

// Query describes which bars to fetch for a basket.
//
// Daily queries ask for the most recent Sessions daily bars per symbol.
// Intraday queries ask for the minute bars inside the trailing Window.
type Query struct {
	Timespan Timespan
	Sessions int
	Window   time.Duration
}

// DailyHistory asks for the last n daily sessions per symbol.
func DailyHistory(n int) Query { return Query{Timespan: Day, Sessions: n} }

// LatestDaily asks for the most recent daily bar per symbol.
func LatestDaily() Query { return Query{Timespan: Day, Sessions: 1} }

// Intraday asks for 1-minute bars over the trailing window w.
func Intraday(w time.Duration) Query { return Query{Timespan: Minute, Window: w} }

// Range returns the [start, end] wall-clock range a source should request
// for q at now. Daily ranges are padded with calendar days so weekends and
// holidays still yield q.Sessions bars; the result is trimmed afterwards.
func (q Query) Range(now time.Time) (time.Time, time.Time) {
	if q.Timespan == Minute {
		return now.Add(-q.Window), now
	}
	days := q.Sessions*2 + 7
	return now.AddDate(0, 0, -days), now
}

// Trim sorts each symbol's bars by time and keeps what q asked for: the last
// Sessions bars of a daily query, or the bars inside the window of an
// intraday query. Symbols left without bars are removed.
func (q Query) Trim(bars map[string][]domain.Bar, now time.Time) map[string][]domain.Bar {
	for sym, bs := range bars {
		sort.Slice(bs, func(i, j int) bool { return bs[i].Timestamp.Before(bs[j].Timestamp) })
		switch q.Timespan {
		case Day:
			if q.Sessions > 0 && len(bs) > q.Sessions {
				bs = bs[len(bs)-q.Sessions:]
			}
		case Minute:
			start := now.Add(-q.Window)
			i := sort.Search(len(bs), func(i int) bool { return !bs[i].Timestamp.Before(start) })
			bs = bs[i:]
		}
		if len(bs) == 0 {
			delete(bars, sym)
			continue
		}
		bars[sym] = bs
	}
	return bars
}
