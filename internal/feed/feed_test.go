package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"capindex/internal/index"
)

var t0 = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testTick(value float64, n int) index.Tick {
	h := index.NewHistory(10)
	for i := 0; i < n; i++ {
		h = h.Append(value-float64(n-1-i), t0.Add(time.Duration(i)*15*time.Second))
	}
	return index.Tick{
		Name:     "Test Index",
		Time:     t0.Add(time.Duration(n-1) * 15 * time.Second),
		Value:    value,
		TotalCap: 2100,
		Source:   index.Intraday,
		Quotes: []index.Quote{
			{Symbol: "A", Price: 110, PrevClose: 100, DailyPct: 10, DailyTrend: index.TrendUp, TickTrend: index.TrendUp, Weight: 1100.0 / 2100},
			{Symbol: "B", Price: 200, PrevClose: 200, DailyPct: 0, DailyTrend: index.TrendUp, TickTrend: index.TrendFlat, Weight: 1000.0 / 2100},
		},
		History: h,
		Axis:    index.AxisFor(h.Values),
	}
}

// ---------------------------------------------------------------------------
// Hub
// ---------------------------------------------------------------------------

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub("run-1", quietLog())
	if _, ok := h.Latest(); ok {
		t.Fatal("Latest() before any tick should report false")
	}

	id, ch := h.Subscribe(4)
	if err := h.Record(context.Background(), testTick(1050, 3)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	select {
	case s := <-ch:
		if s.Value != 1050 || s.RunID != "run-1" || s.Source != "intraday" || len(s.Quotes) != 2 {
			t.Errorf("snapshot = %+v", s)
		}
		if s.Quotes[1].TickTrend != "flat" {
			t.Errorf("B tick trend = %q, want flat", s.Quotes[1].TickTrend)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	latest, ok := h.Latest()
	if !ok || latest.Value != 1050 || latest.Points != 3 {
		t.Errorf("Latest() = %+v, %v", latest, ok)
	}
	if pts := h.History(); len(pts) != 3 || pts[2].Value != 1050 {
		t.Errorf("History() = %+v", pts)
	}

	h.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", h.Subscribers())
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub("", quietLog())
	_, ch := h.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Record(context.Background(), testTick(1000+float64(i), 1))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if s := <-ch; s.Value != 1000 {
		t.Errorf("first buffered value = %v, want 1000", s.Value)
	}
	if latest, _ := h.Latest(); latest.Value != 1004 {
		t.Errorf("Latest().Value = %v, want 1004", latest.Value)
	}
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

func TestHTTPIndexAndHistory(t *testing.T) {
	h := NewHub("run-1", quietLog())
	srv := httptest.NewServer(NewHTTPServer(h, quietLog()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/index")
	if err != nil {
		t.Fatalf("GET /api/index: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status before first tick = %d, want 503", resp.StatusCode)
	}

	h.Record(context.Background(), testTick(1050, 4))

	resp, err = http.Get(srv.URL + "/api/index")
	if err != nil {
		t.Fatalf("GET /api/index: %v", err)
	}
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	resp.Body.Close()
	if snap.Value != 1050 || snap.Name != "Test Index" {
		t.Errorf("snapshot = %+v", snap)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	resp, err = http.Get(srv.URL + "/api/history?limit=2")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	var hist HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	resp.Body.Close()
	if len(hist.Points) != 2 || hist.Points[1].Value != 1050 || hist.Name != "Test Index" {
		t.Errorf("history = %+v", hist)
	}

	resp, err = http.Get(srv.URL + "/api/history?limit=x")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/index", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
}

func TestWebSocketStream(t *testing.T) {
	h := NewHub("", quietLog())
	h.Record(context.Background(), testTick(1000, 1))

	srv := httptest.NewServer(NewHTTPServer(h, quietLog()).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading latest: %v", err)
	}
	if first.Value != 1000 {
		t.Errorf("first value = %v, want latest 1000", first.Value)
	}

	// Wait for the subscription to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Record(context.Background(), testTick(1010, 2))

	var next Snapshot
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("reading live: %v", err)
	}
	if next.Value != 1010 {
		t.Errorf("live value = %v, want 1010", next.Value)
	}
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

func TestGRPCWatch(t *testing.T) {
	h := NewHub("run-9", quietLog())
	h.Record(context.Background(), testTick(1000, 1))

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- NewGRPCServer(h, quietLog()).Serve(ctx, lis) }()

	client := NewClient("passthrough:///bufnet", quietLog(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)

	errStop := errors.New("stop")
	var got []Snapshot
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- client.Watch(ctx, func(s Snapshot) error {
			got = append(got, s)
			if len(got) == 1 {
				// The latest snapshot arrived; publish a live one.
				go func() {
					deadline := time.Now().Add(2 * time.Second)
					for h.Subscribers() == 0 && time.Now().Before(deadline) {
						time.Sleep(5 * time.Millisecond)
					}
					h.Record(context.Background(), testTick(1025.5, 2))
				}()
				return nil
			}
			return errStop
		})
	}()

	select {
	case err := <-watchErr:
		if !errors.Is(err, errStop) {
			t.Fatalf("Watch returned %v, want errStop", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshots")
	}

	if len(got) != 2 {
		t.Fatalf("received %d snapshots, want 2", len(got))
	}
	if got[0].Value != 1000 || got[0].RunID != "run-9" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Value != 1025.5 || len(got[1].Quotes) != 2 || got[1].Quotes[0].Symbol != "A" {
		t.Errorf("second = %+v", got[1])
	}
	if !got[1].Time.Equal(t0.Add(15 * time.Second)) {
		t.Errorf("second time = %v, want %v", got[1].Time, t0.Add(15*time.Second))
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server did not stop after cancel")
	}
}
