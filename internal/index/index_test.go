package index

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"capindex/internal/domain"
	"capindex/internal/marketdata"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeBars struct {
	daily    map[string][]domain.Bar // DailyHistory and LatestDaily
	intraday map[string][]domain.Bar
	dailyErr error
	minErr   error
	panicMsg string
	calls    []marketdata.Query
}

func (f *fakeBars) Name() string { return "fake" }

func (f *fakeBars) Bars(ctx context.Context, symbols []string, q marketdata.Query) (map[string][]domain.Bar, error) {
	f.calls = append(f.calls, q)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	src, err := f.daily, f.dailyErr
	if q.Timespan == marketdata.Minute {
		src, err = f.intraday, f.minErr
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string][]domain.Bar)
	for _, s := range symbols {
		bars := src[s]
		if q.Timespan == marketdata.Day && q.Sessions > 0 && len(bars) > q.Sessions {
			bars = bars[len(bars)-q.Sessions:]
		}
		if len(bars) > 0 {
			out[s] = bars
		}
	}
	return out, nil
}

type fakeFundamentals map[string]domain.Fundamentals

func (f fakeFundamentals) Name() string { return "fake" }

func (f fakeFundamentals) Fundamentals(ctx context.Context, symbol string) (domain.Fundamentals, error) {
	v, ok := f[symbol]
	if !ok {
		return domain.Fundamentals{}, errors.New("unknown symbol")
	}
	return v, nil
}

var day0 = time.Date(2024, 6, 3, 20, 0, 0, 0, time.UTC)

func closes(sym string, cs ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(cs))
	for i, c := range cs {
		bars[i] = domain.Bar{Symbol: sym, Timestamp: day0.AddDate(0, 0, i), Close: c}
	}
	return bars
}

func bar(sym string, c float64) []domain.Bar {
	return []domain.Bar{{Symbol: sym, Timestamp: day0, Close: c}}
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// twoTickerState is basket [A, B] with shares {A:10, B:5} and previous
// closes {A:100, B:200}: base cap 2000.
func twoTickerState(maxPoints int) State {
	return State{
		Name:      "Test",
		BaseValue: 1000,
		BaseCap:   2000,
		Constituents: []Constituent{
			{Symbol: "A", Shares: 10, PrevClose: 100, LastPrice: 100},
			{Symbol: "B", Shares: 5, PrevClose: 200, LastPrice: 200},
		},
		History: NewHistory(maxPoints),
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

func TestStepWorkedExample(t *testing.T) {
	s := twoTickerState(300)

	next, tick := Step(s, FetchResult{Kind: Intraday, Prices: map[string]float64{"A": 110, "B": 200}}, day0)

	if !approx(tick.TotalCap, 2100) {
		t.Errorf("TotalCap = %v, want 2100", tick.TotalCap)
	}
	if !approx(tick.Value, 1050) {
		t.Errorf("Value = %v, want 1050", tick.Value)
	}
	if next.History.Len() != 1 || !approx(next.History.Values[0], 1050) {
		t.Errorf("History = %v, want [1050]", next.History.Values)
	}
	if tick.Source != Intraday {
		t.Errorf("Source = %v, want intraday", tick.Source)
	}
}

func TestStepEqualCapIsBaseValue(t *testing.T) {
	s := twoTickerState(10)
	s.BaseCap = 10*123.456 + 5*0.1
	s.Constituents[0].PrevClose = 123.456
	s.Constituents[1].PrevClose = 0.1

	_, tick := Step(s, FetchResult{Kind: Daily, Prices: map[string]float64{"A": 123.456, "B": 0.1}}, day0)
	if tick.Value != 1000 {
		t.Errorf("Value = %v, want exactly 1000", tick.Value)
	}
}

func TestStepDoesNotMutateInput(t *testing.T) {
	s := twoTickerState(10)
	s.History = s.History.Append(999, day0.Add(-time.Minute))

	next, _ := Step(s, FetchResult{Kind: Intraday, Prices: map[string]float64{"A": 150}}, day0)

	if s.Constituents[0].LastPrice != 100 {
		t.Errorf("input LastPrice mutated to %v", s.Constituents[0].LastPrice)
	}
	if s.History.Len() != 1 {
		t.Errorf("input history length = %d, want 1", s.History.Len())
	}
	if next.Constituents[0].LastPrice != 150 {
		t.Errorf("next LastPrice = %v, want 150", next.Constituents[0].LastPrice)
	}
	// B was not quoted, so its last price is untouched.
	if next.Constituents[1].LastPrice != 200 {
		t.Errorf("next B LastPrice = %v, want 200", next.Constituents[1].LastPrice)
	}
}

func TestStepPartialPrices(t *testing.T) {
	s := twoTickerState(10)

	_, tick := Step(s, FetchResult{Kind: Intraday, Prices: map[string]float64{"A": 100, "GONE": 50}}, day0)

	// Only basket tickers present in the fetch count toward the total.
	if !approx(tick.TotalCap, 1000) {
		t.Errorf("TotalCap = %v, want 1000", tick.TotalCap)
	}
	if len(tick.Quotes) != 1 || tick.Quotes[0].Symbol != "A" {
		t.Errorf("Quotes = %+v, want only A", tick.Quotes)
	}
}

func TestStepTrends(t *testing.T) {
	s := twoTickerState(10)
	s.Constituents[0].LastPrice = 105 // A
	s.Constituents[1].LastPrice = 190 // B

	next, tick := Step(s, FetchResult{Kind: Intraday, Prices: map[string]float64{"A": 100, "B": 190}}, day0)

	a, b := tick.Quotes[0], tick.Quotes[1]
	// A: unchanged on the day counts as up; below the last price ticks down.
	if a.DailyPct != 0 || a.DailyTrend != TrendUp || a.TickTrend != TrendDown {
		t.Errorf("A = %+v, want pct 0, daily up, tick down", a)
	}
	// B: down 5% on the day; equal to last price is flat.
	if !approx(b.DailyPct, -5) || b.DailyTrend != TrendDown || b.TickTrend != TrendFlat {
		t.Errorf("B = %+v, want pct -5, daily down, tick flat", b)
	}

	_, tick = Step(next, FetchResult{Kind: Intraday, Prices: map[string]float64{"A": 101}}, day0.Add(time.Minute))
	if tick.Quotes[0].TickTrend != TrendUp {
		t.Errorf("A tick trend = %v, want up", tick.Quotes[0].TickTrend)
	}
}

func TestStepUnavailableIsNoop(t *testing.T) {
	s := twoTickerState(10)
	next, tick := Step(s, FetchResult{Kind: Unavailable}, day0)
	if next.History.Len() != 0 || tick.Value != 0 {
		t.Errorf("Unavailable step changed state: history=%d value=%v", next.History.Len(), tick.Value)
	}
}

// ---------------------------------------------------------------------------
// History and axis
// ---------------------------------------------------------------------------

func TestHistoryFIFO(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h = h.Append(float64(i), day0.Add(time.Duration(i)*time.Second))
		if len(h.Values) != len(h.Times) {
			t.Fatalf("len(Values)=%d != len(Times)=%d", len(h.Values), len(h.Times))
		}
		if h.Len() > 3 {
			t.Fatalf("Len() = %d exceeds max 3", h.Len())
		}
	}
	want := []float64{2, 3, 4}
	for i, v := range want {
		if h.Values[i] != v {
			t.Errorf("Values[%d] = %v, want %v", i, h.Values[i], v)
		}
		if !h.Times[i].Equal(day0.Add(time.Duration(v) * time.Second)) {
			t.Errorf("Times[%d] = %v, not aligned with value %v", i, h.Times[i], v)
		}
	}

	v, _, ok := h.Last()
	if !ok || v != 4 {
		t.Errorf("Last() = %v, %v; want 4, true", v, ok)
	}
}

func TestHistoryAppendCopies(t *testing.T) {
	h1 := NewHistory(0).Append(1, day0)
	h2 := h1.Append(2, day0)
	h2.Values[0] = 42
	if h1.Values[0] != 1 {
		t.Error("Append shares its backing array with the receiver")
	}
}

func TestAxisFor(t *testing.T) {
	a := AxisFor([]float64{1000})
	if a.XMin != 0 || a.XMax != 1 {
		t.Errorf("single point x range = [%v, %v], want [0, 1]", a.XMin, a.XMax)
	}
	if !approx(a.YMin, 999.99) || !approx(a.YMax, 1000.01) {
		t.Errorf("flat y range = [%v, %v], want [999.99, 1000.01]", a.YMin, a.YMax)
	}

	a = AxisFor([]float64{1000, 1100, 1050})
	if a.XMax != 2 {
		t.Errorf("XMax = %v, want 2", a.XMax)
	}
	if !approx(a.YMin, 1000-10.01) || !approx(a.YMax, 1100+10.01) {
		t.Errorf("y range = [%v, %v], want [989.99, 1110.01]", a.YMin, a.YMax)
	}
}

// ---------------------------------------------------------------------------
// FetchLatest
// ---------------------------------------------------------------------------

func TestFetchLatestIntraday(t *testing.T) {
	src := &fakeBars{intraday: map[string][]domain.Bar{"A": {{Close: 1}, {Close: 2}}}}
	r := FetchLatest(context.Background(), src, []string{"A", "B"}, 2*time.Minute)
	if r.Kind != Intraday || r.Prices["A"] != 2 {
		t.Errorf("result = %+v, want intraday A=2", r)
	}
	if len(src.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(src.calls))
	}
}

func TestFetchLatestFallsBackOnEmpty(t *testing.T) {
	src := &fakeBars{daily: map[string][]domain.Bar{"A": closes("A", 90, 95)}}
	r := FetchLatest(context.Background(), src, []string{"A"}, 2*time.Minute)
	if r.Kind != Daily || r.Prices["A"] != 95 {
		t.Errorf("result = %+v, want daily A=95", r)
	}
	if r.IntradayErr == nil {
		t.Error("IntradayErr should explain the fallback")
	}
	if len(src.calls) != 2 || src.calls[1].Timespan != marketdata.Day || src.calls[1].Sessions != 1 {
		t.Errorf("calls = %+v, want intraday then latest daily", src.calls)
	}
}

func TestFetchLatestFallsBackOnError(t *testing.T) {
	src := &fakeBars{minErr: errors.New("feed down"), daily: map[string][]domain.Bar{"A": bar("A", 95)}}
	r := FetchLatest(context.Background(), src, []string{"A"}, 2*time.Minute)
	if r.Kind != Daily {
		t.Errorf("Kind = %v, want daily", r.Kind)
	}
}

func TestFetchLatestUnavailable(t *testing.T) {
	src := &fakeBars{dailyErr: errors.New("closed")}
	r := FetchLatest(context.Background(), src, []string{"A"}, 2*time.Minute)
	if r.Kind != Unavailable || r.Err == nil {
		t.Errorf("result = %+v, want unavailable with error", r)
	}
	if len(src.calls) != 2 {
		t.Errorf("calls = %d, want the daily fallback attempted", len(src.calls))
	}
}

// ---------------------------------------------------------------------------
// Updater
// ---------------------------------------------------------------------------

func TestUpdaterSkipsWhenUnavailable(t *testing.T) {
	s := twoTickerState(10)
	src := &fakeBars{}
	u := NewUpdater(&s, src, UpdaterOptions{Log: quietLog()})

	if _, ok := u.Cycle(context.Background()); ok {
		t.Fatal("Cycle should be skipped when both fetches are empty")
	}
	got := u.State()
	if got.History.Len() != 0 {
		t.Errorf("history length = %d, want 0", got.History.Len())
	}
	if got.Constituents[0].LastPrice != 100 || got.Constituents[1].LastPrice != 200 {
		t.Errorf("last prices changed: %+v", got.Constituents)
	}
	if len(src.calls) != 2 {
		t.Errorf("calls = %d, want intraday and daily attempts", len(src.calls))
	}
}

func TestUpdaterFallbackWarnsOnlyFirstFrames(t *testing.T) {
	s := twoTickerState(10)
	src := &fakeBars{daily: map[string][]domain.Bar{"A": bar("A", 101), "B": bar("B", 199)}}
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	u := NewUpdater(&s, src, UpdaterOptions{Log: log})

	for i := 0; i < 5; i++ {
		tick, ok := u.Cycle(context.Background())
		if !ok || tick.Source != Daily {
			t.Fatalf("cycle %d = %v, %v; want a daily tick", i, tick.Source, ok)
		}
	}
	if n := strings.Count(buf.String(), "using last daily price"); n != 2 {
		t.Errorf("fallback warnings = %d, want 2\n%s", n, buf.String())
	}
}

func TestUpdaterRecoversPanic(t *testing.T) {
	s := twoTickerState(10)
	src := &fakeBars{panicMsg: "boom"}
	u := NewUpdater(&s, src, UpdaterOptions{Log: quietLog()})

	if _, ok := u.Cycle(context.Background()); ok {
		t.Fatal("panicking cycle should report false")
	}
	if u.State().History.Len() != 0 {
		t.Error("panicking cycle mutated history")
	}

	// The next cycle works normally.
	src.panicMsg = ""
	src.intraday = map[string][]domain.Bar{"A": bar("A", 100), "B": bar("B", 200)}
	tick, ok := u.Cycle(context.Background())
	if !ok || !approx(tick.Value, 1000) {
		t.Errorf("Cycle = %v, %v; want 1000, true", tick.Value, ok)
	}
	if u.Frame() != 2 {
		t.Errorf("Frame() = %d, want 2", u.Frame())
	}
}

func TestUpdaterRecorders(t *testing.T) {
	s := twoTickerState(2)
	src := &fakeBars{intraday: map[string][]domain.Bar{"A": bar("A", 110), "B": bar("B", 200)}}

	var got []float64
	good := RecorderFunc(func(ctx context.Context, tk Tick) error {
		got = append(got, tk.Value)
		return nil
	})
	bad := RecorderFunc(func(ctx context.Context, tk Tick) error { return errors.New("disk full") })
	panicky := RecorderFunc(func(ctx context.Context, tk Tick) error { panic("oops") })

	u := NewUpdater(&s, src, UpdaterOptions{
		Log:      quietLog(),
		Recorder: NewRecorders(quietLog(), bad, good),
	})
	for i := 0; i < 3; i++ {
		if _, ok := u.Cycle(context.Background()); !ok {
			t.Fatalf("cycle %d skipped despite a failing recorder", i)
		}
	}
	if len(got) != 3 || !approx(got[0], 1050) {
		t.Errorf("recorded = %v, want three ticks at 1050", got)
	}
	if n := u.State().History.Len(); n != 2 {
		t.Errorf("history length = %d, want max 2", n)
	}

	u = NewUpdater(&s, src, UpdaterOptions{Log: quietLog(), Recorder: panicky})
	if _, ok := u.Cycle(context.Background()); !ok {
		t.Error("a panicking recorder should not fail the cycle")
	}
	if u.State().History.Len() != 1 {
		t.Error("state should advance even when the recorder panics")
	}
}

// ---------------------------------------------------------------------------
// Initialize
// ---------------------------------------------------------------------------

func TestInitializeWorkedExample(t *testing.T) {
	bars := &fakeBars{daily: map[string][]domain.Bar{
		// The last row may be an unfinished session; the second-to-last is
		// the previous close.
		"A": closes("A", 90, 95, 100, 104),
		"B": closes("B", 180, 190, 200, 199),
	}}
	fund := fakeFundamentals{
		"A": {Symbol: "A", SharesOutstanding: 10},
		"B": {Symbol: "B", SharesOutstanding: 5},
	}

	s, err := Initialize(context.Background(), InitDeps{Bars: bars, Fundamentals: fund, Log: quietLog()},
		Params{Name: "Test", BaseValue: 1000, Tickers: []string{"A", "B"}, MaxPoints: 300, HistoryDays: 5})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !approx(s.BaseCap, 2000) {
		t.Errorf("BaseCap = %v, want 2000", s.BaseCap)
	}
	if s.Constituents[0].PrevClose != 100 || s.Constituents[0].LastPrice != 100 {
		t.Errorf("A = %+v, want prevClose and lastPrice 100", s.Constituents[0])
	}
	if s.History.Max != 300 {
		t.Errorf("History.Max = %d, want 300", s.History.Max)
	}
}

func TestInitializeDropsFailedTickers(t *testing.T) {
	bars := &fakeBars{daily: map[string][]domain.Bar{
		"A":     closes("A", 100, 101),
		"SHORT": closes("SHORT", 50), // one bar: no previous close
		"NOFUN": closes("NOFUN", 10, 11),
		"EST":   closes("EST", 20, 21),
		"NOPX":  closes("NOPX", 30, 31),
	}}
	fund := fakeFundamentals{
		"A":     {SharesOutstanding: 10},
		"SHORT": {SharesOutstanding: 10},
		"EST":   {MarketCap: 2000, PreviousClose: 20}, // 100 estimated shares
		"NOPX":  {MarketCap: 3000},                    // no quoted previous close to divide by
	}

	s, err := Initialize(context.Background(), InitDeps{Bars: bars, Fundamentals: fund, Log: quietLog()},
		Params{Name: "Test", BaseValue: 1000, Tickers: []string{"A", "SHORT", "NOFUN", "EST", "NOPX"}, MaxPoints: 10})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	syms := s.Symbols()
	if len(syms) != 2 || syms[0] != "A" || syms[1] != "EST" {
		t.Fatalf("Symbols = %v, want [A EST]", syms)
	}
	if !approx(s.Constituents[1].Shares, 100) {
		t.Errorf("estimated shares = %v, want 100", s.Constituents[1].Shares)
	}
	if !approx(s.BaseCap, 10*100+100*20) {
		t.Errorf("BaseCap = %v, want 3000", s.BaseCap)
	}

	// Dropped tickers never reach the update cycle or its quotes.
	src := &fakeBars{intraday: map[string][]domain.Bar{
		"A": bar("A", 100), "EST": bar("EST", 20), "NOFUN": bar("NOFUN", 1e6),
	}}
	u := NewUpdater(s, src, UpdaterOptions{Log: quietLog()})
	tick, ok := u.Cycle(context.Background())
	if !ok {
		t.Fatal("cycle skipped")
	}
	if !approx(tick.TotalCap, 3000) || !approx(tick.Value, 1000) {
		t.Errorf("TotalCap = %v, Value = %v; want 3000, 1000", tick.TotalCap, tick.Value)
	}
	for _, q := range tick.Quotes {
		if q.Symbol == "NOFUN" || q.Symbol == "SHORT" {
			t.Errorf("dropped ticker %s appears in quotes", q.Symbol)
		}
	}
}

func TestInitializeInsufficientHistory(t *testing.T) {
	fund := fakeFundamentals{"A": {SharesOutstanding: 10}}
	params := Params{Name: "Test", BaseValue: 1000, Tickers: []string{"A"}, MaxPoints: 10}

	cases := map[string]*fakeBars{
		"empty":       {daily: map[string][]domain.Bar{}},
		"one session": {daily: map[string][]domain.Bar{"A": closes("A", 100)}},
		"error":       {dailyErr: errors.New("offline")},
	}
	for name, bars := range cases {
		_, err := Initialize(context.Background(), InitDeps{Bars: bars, Fundamentals: fund, Log: quietLog()}, params)
		if !errors.Is(err, ErrInsufficientHistory) {
			t.Errorf("%s: err = %v, want ErrInsufficientHistory", name, err)
		}
	}
}

func TestInitializeZeroBaseCap(t *testing.T) {
	bars := &fakeBars{daily: map[string][]domain.Bar{"A": closes("A", 100, 101), "B": closes("B", 5, 6)}}
	fund := fakeFundamentals{} // every fundamentals lookup fails

	_, err := Initialize(context.Background(), InitDeps{Bars: bars, Fundamentals: fund, Log: quietLog()},
		Params{Name: "Test", BaseValue: 1000, Tickers: []string{"A", "B"}, MaxPoints: 10})
	if !errors.Is(err, ErrZeroBaseCap) {
		t.Errorf("err = %v, want ErrZeroBaseCap", err)
	}
}

func TestRecordersClose(t *testing.T) {
	c := &closingRecorder{}
	r := NewRecorders(quietLog(), nil, c)
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (nil skipped)", r.Len())
	}
	if err := r.Close(); err != nil || !c.closed {
		t.Errorf("Close() = %v, closed = %v", err, c.closed)
	}
}

type closingRecorder struct{ closed bool }

func (c *closingRecorder) Record(context.Context, Tick) error { return nil }
func (c *closingRecorder) Close() error                       { c.closed = true; return nil }
