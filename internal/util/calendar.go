package util

import (
	"time"

	"capindex/internal/domain"
)

// Session is the trading-session phase at an instant.
type Session string

const (
	SessionClosed  Session = "closed"
	SessionPre     Session = "pre-market"
	SessionRegular Session = "regular"
	SessionPost    Session = "after-hours"
)

// TradingCalendar provides market-hours awareness for a specific market.
// Exchange holidays are not modelled; a holiday looks like a regular weekday
// with no intraday data, which the updater already tolerates.
type TradingCalendar struct {
	market domain.Market
	loc    *time.Location
}

// NewTradingCalendar creates a TradingCalendar for the given market. It falls
// back to a fixed UTC-5 zone if tzdata is unavailable.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("ET", -5*60*60)
	}
	return &TradingCalendar{market: market, loc: loc}
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// SessionAt classifies t: pre-market 04:00-09:30, regular 09:30-16:00,
// after-hours 16:00-20:00 ET on weekdays, closed otherwise.
func (tc *TradingCalendar) SessionAt(t time.Time) Session {
	et := t.In(tc.loc)
	if isWeekend(et) {
		return SessionClosed
	}
	mins := et.Hour()*60 + et.Minute()
	switch {
	case mins >= 4*60 && mins < 9*60+30:
		return SessionPre
	case mins >= 9*60+30 && mins < 16*60:
		return SessionRegular
	case mins >= 16*60 && mins < 20*60:
		return SessionPost
	default:
		return SessionClosed
	}
}

// IsMarketOpen reports whether t falls in the regular session.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	return tc.SessionAt(t) == SessionRegular
}

// NextOpen returns the next regular-session open strictly after t, or t's own
// open if t is before it on a weekday.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	et := t.In(tc.loc)
	for i := 0; i < 8; i++ {
		d := et.AddDate(0, 0, i)
		open := time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, tc.loc)
		if !isWeekend(open) && open.After(et) {
			return open
		}
	}
	return time.Time{}
}

// NextClose returns the next regular-session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	et := t.In(tc.loc)
	for i := 0; i < 8; i++ {
		d := et.AddDate(0, 0, i)
		cl := time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, tc.loc)
		if !isWeekend(cl) && !cl.Before(et) {
			return cl
		}
	}
	return time.Time{}
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
