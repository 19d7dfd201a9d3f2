// Package capindex is a Go client for the capindex-server HTTP API.
package capindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"capindex/internal/feed"
)

// Wire types, shared with the server.
type (
	Snapshot        = feed.Snapshot
	QuoteView       = feed.QuoteView
	Point           = feed.Point
	HistoryResponse = feed.HistoryResponse
)

// ErrNotReady is returned while the server has not computed a value yet.
var ErrNotReady = errors.New("capindex: no index value yet")

// Client provides a Go SDK for interacting with the capindex-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new capindex API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Latest returns the most recent snapshot.
func (c *Client) Latest(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.getJSON(ctx, "/api/index", &s)
	return s, err
}

// History returns the in-memory history, or only its last limit points when
// limit > 0.
func (c *Client) History(ctx context.Context, limit int) (HistoryResponse, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var h HistoryResponse
	err := c.getJSON(ctx, path, &h)
	return h, err
}

// Stream calls fn with the latest snapshot and then every live snapshot
// until ctx is cancelled or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(Snapshot) error) error {
	u, err := url.Parse(c.baseURL + "/api/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", u, err)
	}
	defer conn.Close()

	// Unblock ReadJSON on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var s Snapshot
		if err := conn.ReadJSON(&s); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading snapshot: %w", err)
		}
		if err := fn(s); err != nil {
			return err
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return ErrNotReady
	default:
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
