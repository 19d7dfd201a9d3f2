package dashboard

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatPrice formats a constituent price as "$%7.2f", or "-" when unknown.
func FormatPrice(p float64) string {
	if p == 0 || math.IsNaN(p) {
		return "-"
	}
	return fmt.Sprintf("$%7.2f", p)
}

// FormatPct formats a daily percent change as "(+1.23%)".
func FormatPct(pct float64) string {
	return fmt.Sprintf("(%+.2f%%)", pct)
}

// FormatValue formats an index level with thousands separators and two
// decimals.
func FormatValue(v float64) string {
	return commaf2(v)
}

// FormatChange formats an index move as "+12.34 (+1.23%)".
func FormatChange(delta, pct float64) string {
	return fmt.Sprintf("%+.2f (%+.2f%%)", delta, pct)
}

// FormatCap formats a dollar market cap with T/B/M suffixes.
func FormatCap(v float64) string {
	switch {
	case v >= 1e12:
		return fmt.Sprintf("$%.2fT", v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("$%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.1fM", v/1e6)
	default:
		return "$" + humanize.CommafWithDigits(v, 2)
	}
}

// FormatMoney formats a dollar amount in full, e.g. "$2,000.00", the way the
// initializer reports the base cap.
func FormatMoney(v float64) string {
	return "$" + commaf2(v)
}

// FormatClock formats a timestamp as HH:MM:SS in loc (local time when nil).
func FormatClock(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("15:04:05")
}

// commaf2 is humanize.CommafWithDigits with the trailing zeros kept.
func commaf2(v float64) string {
	s := humanize.CommafWithDigits(math.Round(v*100)/100, 2)
	switch i := strings.IndexByte(s, '.'); {
	case i < 0:
		s += ".00"
	case i == len(s)-2:
		s += "0"
	}
	return s
}
