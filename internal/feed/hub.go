// Package feed publishes computed index ticks to network clients. A Hub
// keeps the latest snapshot and fans live snapshots out to subscribers; the
// HTTP, WebSocket and gRPC servers read only from the Hub.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"capindex/internal/index"
)

// QuoteView is the wire form of one constituent annotation.
type QuoteView struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	PrevClose  float64 `json:"prev_close"`
	DailyPct   float64 `json:"daily_pct"`
	DailyTrend string  `json:"daily_trend"`
	TickTrend  string  `json:"tick_trend"`
	Weight     float64 `json:"weight"`
}

// AxisView is the wire form of the plotting range.
type AxisView struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Point is one history sample.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Snapshot is the wire form of an index tick.
type Snapshot struct {
	Name     string      `json:"name"`
	RunID    string      `json:"run_id,omitempty"`
	Time     time.Time   `json:"time"`
	Value    float64     `json:"value"`
	TotalCap float64     `json:"total_cap"`
	Source   string      `json:"source"`
	Points   int         `json:"points"`
	Quotes   []QuoteView `json:"quotes"`
	Axis     AxisView    `json:"axis"`
}

// SnapshotFromTick converts a tick to its wire form.
func SnapshotFromTick(t index.Tick, runID string) Snapshot {
	s := Snapshot{
		Name:     t.Name,
		RunID:    runID,
		Time:     t.Time.UTC(),
		Value:    t.Value,
		TotalCap: t.TotalCap,
		Source:   t.Source.String(),
		Points:   t.History.Len(),
		Quotes:   make([]QuoteView, len(t.Quotes)),
		Axis:     AxisView{XMin: t.Axis.XMin, XMax: t.Axis.XMax, YMin: t.Axis.YMin, YMax: t.Axis.YMax},
	}
	for i, q := range t.Quotes {
		s.Quotes[i] = QuoteView{
			Symbol:     q.Symbol,
			Price:      q.Price,
			PrevClose:  q.PrevClose,
			DailyPct:   q.DailyPct,
			DailyTrend: q.DailyTrend.String(),
			TickTrend:  q.TickTrend.String(),
			Weight:     q.Weight,
		}
	}
	return s
}

// PointsFromHistory converts an index history to wire points.
func PointsFromHistory(h index.History) []Point {
	pts := make([]Point, len(h.Values))
	for i, v := range h.Values {
		pts[i] = Point{Time: h.Times[i].UTC(), Value: v}
	}
	return pts
}

// ---------------------------------------------------------------------------
// Hub
// ---------------------------------------------------------------------------

// Hub holds the latest snapshot and history, with pub/sub for streaming.
type Hub struct {
	runID string
	log   *slog.Logger

	mu      sync.RWMutex
	latest  *Snapshot
	history []Point

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Snapshot
}

var _ index.Recorder = (*Hub)(nil)

// NewHub creates an empty hub. runID tags every snapshot it publishes.
func NewHub(runID string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		runID: runID,
		log:   log.With("component", "feed"),
		subs:  make(map[int]chan Snapshot),
	}
}

// Name identifies the hub among recorders.
func (h *Hub) Name() string { return "feed" }

// Record publishes t. It never fails.
func (h *Hub) Record(_ context.Context, t index.Tick) error {
	h.Publish(SnapshotFromTick(t, h.runID), PointsFromHistory(t.History))
	return nil
}

// Publish replaces the latest snapshot and history and notifies subscribers.
// Slow subscribers miss the snapshot rather than block the publisher.
func (h *Hub) Publish(s Snapshot, history []Point) {
	h.mu.Lock()
	h.latest = &s
	h.history = history
	h.mu.Unlock()

	h.subsMu.Lock()
	for id, ch := range h.subs {
		select {
		case ch <- s:
		default:
			h.log.Debug("dropping snapshot for slow subscriber", "subID", id)
		}
	}
	h.subsMu.Unlock()
}

// Latest returns the most recent snapshot, or false before the first tick.
func (h *Hub) Latest() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return Snapshot{}, false
	}
	return *h.latest, true
}

// History returns a copy of the history as of the latest snapshot.
func (h *Hub) History() []Point {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Point, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe creates a new subscription channel for live snapshots.
func (h *Hub) Subscribe(bufSize int) (id int, ch <-chan Snapshot) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	id = h.nextSubID
	h.nextSubID++
	c := make(chan Snapshot, bufSize)
	h.subs[id] = c
	return id, c
}

// Unsubscribe removes and closes a subscription channel.
func (h *Hub) Unsubscribe(id int) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	return len(h.subs)
}
