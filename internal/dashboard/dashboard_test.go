package dashboard

import (
	"math"
	"testing"
	"time"

	"capindex/internal/index"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "-"},
		{math.NaN(), "-"},
		{5.5, "$   5.50"},
		{123.456, "$ 123.46"},
		{1234.5, "$1234.50"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.in); got != tt.want {
			t.Errorf("FormatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPct(t *testing.T) {
	if got := FormatPct(1.234); got != "(+1.23%)" {
		t.Errorf("FormatPct(1.234) = %q", got)
	}
	if got := FormatPct(-0.5); got != "(-0.50%)" {
		t.Errorf("FormatPct(-0.5) = %q", got)
	}
	if got := FormatPct(0); got != "(+0.00%)" {
		t.Errorf("FormatPct(0) = %q", got)
	}
}

func TestFormatValueAndMoney(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1000, "1,000.00"},
		{1050.5, "1,050.50"},
		{999.999, "1,000.00"},
		{12.34, "12.34"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := FormatMoney(2000); got != "$2,000.00" {
		t.Errorf("FormatMoney(2000) = %q", got)
	}
}

func TestFormatCap(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{3.2e12, "$3.20T"},
		{450e9, "$450.0B"},
		{12.5e6, "$12.5M"},
	}
	for _, tt := range tests {
		if got := FormatCap(tt.in); got != tt.want {
			t.Errorf("FormatCap(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	ts := time.Date(2024, 6, 3, 14, 5, 9, 0, time.UTC)
	if got := FormatClock(ts, time.UTC); got != "14:05:09" {
		t.Errorf("FormatClock = %q, want 14:05:09", got)
	}
}

func TestComputeSeriesStats(t *testing.T) {
	s := ComputeSeriesStats([]float64{100, 110, 90, 99})
	if s.Points != 4 || s.Open != 100 || s.Last != 99 || s.High != 110 || s.Low != 90 {
		t.Errorf("stats = %+v", s)
	}
	if math.Abs(s.ChangePct-(-1)) > 1e-9 {
		t.Errorf("ChangePct = %v, want -1", s.ChangePct)
	}
	if math.Abs(s.MaxGain-0.10) > 1e-9 {
		t.Errorf("MaxGain = %v, want 0.10", s.MaxGain)
	}
	// Peak 110 to 90.
	if math.Abs(s.MaxLoss-20.0/110) > 1e-9 {
		t.Errorf("MaxLoss = %v, want %v", s.MaxLoss, 20.0/110)
	}

	if empty := ComputeSeriesStats(nil); empty.Points != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestSortQuotes(t *testing.T) {
	basket := []string{"A", "B", "C"}
	quotes := []index.Quote{
		{Symbol: "C", DailyPct: 2, Weight: 0.2},
		{Symbol: "A", DailyPct: -1, Weight: 0.5},
		{Symbol: "B", DailyPct: 3, Weight: 0.3},
	}

	order := func(qs []index.Quote) string {
		var s string
		for _, q := range qs {
			s += q.Symbol
		}
		return s
	}

	if got := order(SortQuotes(quotes, basket, SortBasket)); got != "ABC" {
		t.Errorf("basket order = %s, want ABC", got)
	}
	if got := order(SortQuotes(quotes, basket, SortDailyPct)); got != "BCA" {
		t.Errorf("daily order = %s, want BCA", got)
	}
	if got := order(SortQuotes(quotes, basket, SortWeight)); got != "ABC" {
		t.Errorf("weight order = %s, want ABC", got)
	}
	if quotes[0].Symbol != "C" {
		t.Error("SortQuotes modified its input")
	}
	if SortModeLabel(SortWeight) != "WEIGHT" {
		t.Errorf("SortModeLabel(SortWeight) = %q", SortModeLabel(SortWeight))
	}
}
