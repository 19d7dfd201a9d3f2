package domain

import (
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	f := Fundamentals{}
	if f.SharesOutstanding != 0 || f.MarketCap != 0 || f.PreviousClose != 0 {
		t.Error("expected zero fields for zero-value Fundamentals")
	}

	if MarketUS != "us" {
		t.Errorf("MarketUS = %q, want %q", MarketUS, "us")
	}
}

func TestLastClose(t *testing.T) {
	if _, ok := LastClose(nil); ok {
		t.Error("LastClose(nil) reported ok")
	}

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	bars := []Bar{
		{Symbol: "AAPL", Timestamp: day, Close: 190.5},
		{Symbol: "AAPL", Timestamp: day.AddDate(0, 0, 1), Close: 192.25},
	}
	got, ok := LastClose(bars)
	if !ok {
		t.Fatal("LastClose reported !ok for non-empty bars")
	}
	if got != 192.25 {
		t.Errorf("LastClose = %f, want %f", got, 192.25)
	}
}
