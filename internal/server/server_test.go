// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/lobbyscope/internal/roster"
)

type fakeSource struct {
	mu   sync.Mutex
	snap roster.Roster
	subs map[int]chan roster.Roster
	next int
}

func newFakeSource(snap roster.Roster) *fakeSource {
	return &fakeSource{snap: snap, subs: make(map[int]chan roster.Roster)}
}

func (f *fakeSource) Snapshot() roster.Roster {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) Subscribe() (<-chan roster.Roster, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan roster.Roster, 16)
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
}

func (f *fakeSource) push(snap roster.Roster) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	for _, ch := range f.subs {
		ch <- snap
	}
}

func testRoster(epoch uint64, names ...string) roster.Roster {
	players := make([]roster.Entry, 0, len(names))
	for _, name := range names {
		players = append(players, roster.Entry{Name: name, State: roster.StatePending})
	}
	return roster.Roster{Epoch: epoch, WorldID: "mini217B", Players: players, UpdatedAt: time.Now()}
}

func newTestServer(t *testing.T, cfg Config, source RosterSource) *httptest.Server {
	t.Helper()
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = []string{"*"}
	}
	ts := httptest.NewServer(New(cfg, source, "test").Routes())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestRosterEndpoint(t *testing.T) {
	source := newFakeSource(testRoster(3, "Alice", "Bob"))
	ts := newTestServer(t, Config{}, source)

	var got roster.Roster
	resp := getJSON(t, ts.URL+"/api/v1/roster", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got.Epoch != 3 || len(got.Players) != 2 {
		t.Errorf("roster = epoch %d with %d players, want epoch 3 with 2", got.Epoch, len(got.Players))
	}
	if got.Players[0].Name != "Alice" {
		t.Errorf("first player = %q, want Alice", got.Players[0].Name)
	}
}

func TestStatusEndpoint(t *testing.T) {
	source := newFakeSource(testRoster(7, "Alice"))
	ts := newTestServer(t, Config{}, source)

	var got statusResponse
	getJSON(t, ts.URL+"/api/v1/status", &got)
	if got.Version != "test" {
		t.Errorf("version = %q, want test", got.Version)
	}
	if got.Epoch != 7 || got.Players != 1 || got.WorldID != "mini217B" {
		t.Errorf("status = %+v", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{}, newFakeSource(roster.Roster{}))

	var got map[string]string
	resp := getJSON(t, ts.URL+"/api/v1/health", &got)
	if resp.StatusCode != http.StatusOK || got["status"] != "ok" {
		t.Fatalf("health = %d %v", resp.StatusCode, got)
	}
}

func TestMetricsMounted(t *testing.T) {
	ts := newTestServer(t, Config{}, newFakeSource(roster.Roster{}))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t, Config{}, newFakeSource(roster.Roster{}))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "trace-42" {
		t.Errorf("X-Request-ID = %q, want trace-42", got)
	}

	resp2 := getJSON(t, ts.URL+"/api/v1/health", nil)
	if resp2.Header.Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID when none supplied")
	}
}

func TestRateLimitRejectsBursts(t *testing.T) {
	ts := newTestServer(t, Config{RateLimitReqs: 3}, newFakeSource(roster.Roster{}))

	var limited bool
	for range 6 {
		resp, err := http.Get(ts.URL + "/api/v1/health")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("expected at least one 429 after exceeding the per-minute limit")
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func readRoster(t *testing.T, conn *websocket.Conn) roster.Roster {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got roster.Roster
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return got
}

func TestWebSocketInitialSnapshotAndUpdates(t *testing.T) {
	source := newFakeSource(testRoster(1, "Alice"))
	ts := newTestServer(t, Config{}, source)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	if got := readRoster(t, conn); got.Epoch != 1 || len(got.Players) != 1 {
		t.Fatalf("initial snapshot = epoch %d with %d players", got.Epoch, len(got.Players))
	}

	source.push(testRoster(2, "Alice", "Bob"))
	if got := readRoster(t, conn); got.Epoch != 2 || len(got.Players) != 2 {
		t.Fatalf("update = epoch %d with %d players", got.Epoch, len(got.Players))
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, Config{CORSOrigins: []string{"http://localhost:3876"}}, newFakeSource(roster.Roster{}))

	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake rejection for a foreign origin")
	}
	if resp != nil {
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
	}
}

func TestWebSocketAllowsConfiguredOrigin(t *testing.T) {
	source := newFakeSource(testRoster(5, "Alice"))
	ts := newTestServer(t, Config{CORSOrigins: []string{"http://localhost:3876"}}, source)

	header := http.Header{"Origin": []string{"http://localhost:3876"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	if got := readRoster(t, conn); got.Epoch != 5 {
		t.Errorf("epoch = %d, want 5", got.Epoch)
	}
}
