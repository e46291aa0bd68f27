// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

package roster

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/lobbyscope/internal/cache"
	"github.com/tomtom215/lobbyscope/internal/events"
	"github.com/tomtom215/lobbyscope/internal/httpclient"
	"github.com/tomtom215/lobbyscope/internal/identity"
	"github.com/tomtom215/lobbyscope/internal/logging"
	"github.com/tomtom215/lobbyscope/internal/stats"
)

const chatPrefix = "[Client thread/INFO]: [CHAT] "

type pipeline struct {
	orch      *Orchestrator
	lines     chan string
	restarts  chan struct{}
	updates   <-chan Roster
	overrides *identity.OverrideTable

	// canceledFetches counts stats requests aborted by the caller.
	canceledFetches atomic.Int32

	// statsArrived signals each stats request reaching a blocked
	// handler, so tests can wait until the fetch is truly in flight.
	statsArrived chan struct{}
}

// playerExp maps known test players to experience values. Unknown names
// get a 404 from the accounts handler, marking them as aliases.
var playerExp = map[string]int64{
	"Alice":   487000, // 100 stars
	"Bob":     7000,   // 4 stars
	"Carol":   500,    // 1 star
	"Legit99": 500,
}

func newPipeline(t *testing.T, statsDelay <-chan struct{}) *pipeline {
	t.Helper()

	p := &pipeline{statsArrived: make(chan struct{}, 16)}

	accounts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if _, ok := playerExp[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"id":"uuid-%s","name":"%s"}`, name, name)
	}))
	t.Cleanup(accounts.Close)

	statsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if statsDelay != nil {
			select {
			case p.statsArrived <- struct{}{}:
			default:
			}
			select {
			case <-statsDelay:
			case <-r.Context().Done():
				p.canceledFetches.Add(1)
				return
			}
		}
		name := strings.TrimPrefix(r.URL.Query().Get("uuid"), "uuid-")
		exp, ok := playerExp[name]
		if !ok {
			w.Write([]byte(`{"success":true,"player":null}`))
			return
		}
		fmt.Fprintf(w, `{"success":true,"player":{"stats":{"Bedwars":{"Experience":%d,"final_kills_bedwars":10,"final_deaths_bedwars":5,"wins_bedwars":1,"winstreak":2}}}}`, exp)
	}))
	t.Cleanup(statsSrv.Close)

	clientCfg := httpclient.Config{
		Timeout: 2 * time.Second, RateLimit: 1000, RateBurst: 100,
		RetryLimit: 1, RetryBackoff: time.Millisecond,
	}
	clientCfg.Name = "accounts-test"
	overrides, _ := identity.NewOverrideTable("")
	resolver := identity.NewResolver(
		httpclient.New(clientCfg), accounts.URL,
		cache.New[identity.Account]("id-test", 64, time.Minute, time.Minute/2), overrides)

	clientCfg.Name = "stats-test"
	fetcher := stats.NewFetcher(
		httpclient.New(clientCfg), statsSrv.URL, "",
		cache.New[stats.Stats]("st-test", 64, time.Minute, time.Minute/2))

	lines := make(chan string, 64)
	restarts := make(chan struct{}, 4)
	orch := New(Config{Workers: 4, LobbyCapacity: 16}, resolver, fetcher, lines, restarts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	updates, unsub := orch.Subscribe()
	t.Cleanup(unsub)

	p.orch = orch
	p.lines = lines
	p.restarts = restarts
	p.updates = updates
	p.overrides = overrides
	return p
}

// waitFor polls published rosters until cond holds.
func (p *pipeline) waitFor(t *testing.T, cond func(Roster) bool) Roster {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		if r := p.orch.Snapshot(); cond(r) {
			return r
		}
		select {
		case <-p.updates:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("Timed out waiting for roster condition; last snapshot: %+v", p.orch.Snapshot())
		}
	}
}

func allLoaded(r Roster) bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, e := range r.Players {
		if e.State == StatePending {
			return false
		}
	}
	return true
}

func TestWhoReplyResolvesAndSortsByIndex(t *testing.T) {
	p := newPipeline(t, nil)

	p.lines <- chatPrefix + "ONLINE: Carol, Alice, Bob"

	r := p.waitFor(t, func(r Roster) bool { return len(r.Players) == 3 && allLoaded(r) })

	// Same FKDR everywhere, so index ordering is star ordering.
	want := []string{"Alice", "Bob", "Carol"}
	for i, name := range want {
		if r.Players[i].Name != name {
			t.Fatalf("Position %d = %q, want %q (roster %+v)", i, r.Players[i].Name, name, r.Players)
		}
		if r.Players[i].State != StateLoaded {
			t.Errorf("%s state = %s, want loaded", name, r.Players[i].State)
		}
	}
	if r.Players[0].Stats == nil || r.Players[0].Stats.Stars != 100 {
		t.Errorf("Expected Alice at 100 stars, got %+v", r.Players[0].Stats)
	}
}

func TestAliasSortsFirst(t *testing.T) {
	p := newPipeline(t, nil)

	p.lines <- chatPrefix + "ONLINE: Carol, SneakyOne"

	r := p.waitFor(t, func(r Roster) bool { return len(r.Players) == 2 && allLoaded(r) })

	if r.Players[0].Name != "SneakyOne" || r.Players[0].State != StateAlias {
		t.Errorf("Expected alias first, got %+v", r.Players)
	}
	if r.Players[1].Name != "Carol" || r.Players[1].State != StateLoaded {
		t.Errorf("Expected Carol loaded second, got %+v", r.Players)
	}
}

func TestIncrementalJoinAndLeave(t *testing.T) {
	p := newPipeline(t, nil)

	p.lines <- chatPrefix + "Carol has joined (1/16)!"
	p.waitFor(t, func(r Roster) bool {
		return len(r.Players) == 1 && r.Players[0].State == StateLoaded
	})

	p.lines <- chatPrefix + "Bob has joined (2/16)!"
	p.waitFor(t, func(r Roster) bool { return len(r.Players) == 2 })

	p.lines <- chatPrefix + "Carol has quit!"
	r := p.waitFor(t, func(r Roster) bool { return len(r.Players) == 1 })
	if r.Players[0].Name != "Bob" {
		t.Errorf("Expected only Bob, got %+v", r.Players)
	}
}

func TestWorldChangeDiscardsInFlightResolution(t *testing.T) {
	release := make(chan struct{})
	p := newPipeline(t, release)

	p.lines <- chatPrefix + "ONLINE: Alice, Bob"
	p.waitFor(t, func(r Roster) bool { return len(r.Players) == 2 })

	// New world while the stats fetches are still blocked.
	p.lines <- chatPrefix + "Sending you to mini217B!"
	r := p.waitFor(t, func(r Roster) bool { return len(r.Players) == 0 })
	epochAfterChange := r.Epoch

	close(release)

	// The stale results must not resurrect players in the new epoch.
	time.Sleep(200 * time.Millisecond)
	final := p.orch.Snapshot()
	if len(final.Players) != 0 {
		t.Errorf("Stale resolutions leaked into the new world: %+v", final.Players)
	}
	if final.Epoch != epochAfterChange {
		t.Errorf("Epoch moved unexpectedly: %d -> %d", epochAfterChange, final.Epoch)
	}
}

func TestClientRestartClearsRoster(t *testing.T) {
	p := newPipeline(t, nil)

	p.lines <- chatPrefix + "ONLINE: Carol"
	p.waitFor(t, func(r Roster) bool { return len(r.Players) == 1 })

	p.restarts <- struct{}{}

	r := p.waitFor(t, func(r Roster) bool { return len(r.Players) == 0 })
	if r.Epoch == 0 {
		t.Error("Expected the epoch to advance on restart")
	}
}

func TestPartyFlagSurvivesWhoReply(t *testing.T) {
	p := newPipeline(t, nil)

	p.lines <- chatPrefix + "You'll be partying with: Bob"
	p.waitFor(t, func(r Roster) bool { return len(r.Players) == 1 })

	p.lines <- chatPrefix + "ONLINE: Bob, Carol"
	r := p.waitFor(t, func(r Roster) bool { return len(r.Players) == 2 && allLoaded(r) })

	for _, e := range r.Players {
		wantParty := e.Name == "Bob"
		if e.Party != wantParty {
			t.Errorf("%s party flag = %v, want %v", e.Name, e.Party, wantParty)
		}
	}
}

func TestOwnPlayerFlagged(t *testing.T) {
	p := newPipeline(t, nil)

	p.lines <- "[Client thread/INFO]: Setting user: Legit99"
	p.lines <- chatPrefix + "ONLINE: Legit99, Carol"

	r := p.waitFor(t, func(r Roster) bool { return len(r.Players) == 2 && allLoaded(r) })
	for _, e := range r.Players {
		wantOwn := e.Name == "Legit99"
		if e.Own != wantOwn {
			t.Errorf("%s own flag = %v, want %v", e.Name, e.Own, wantOwn)
		}
	}
}

func TestOwnNicknameResolvesToOwnAccount(t *testing.T) {
	p := newPipeline(t, nil)

	p.lines <- "[Client thread/INFO]: Setting user: Legit99"
	p.lines <- chatPrefix + "You are now nicked as Sneaky42!"

	// The pin lands asynchronously once the own account resolves.
	deadline := time.After(3 * time.Second)
	for {
		if _, ok := p.overrides.Lookup("Sneaky42"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Nickname was never pinned to the own account")
		case <-time.After(10 * time.Millisecond):
		}
	}

	p.lines <- chatPrefix + "ONLINE: Sneaky42, Carol"
	r := p.waitFor(t, func(r Roster) bool { return len(r.Players) == 2 && allLoaded(r) })

	var found bool
	for _, e := range r.Players {
		if e.Name != "Sneaky42" {
			continue
		}
		found = true
		if e.State != StateLoaded {
			t.Errorf("Nicked self state = %s, want loaded", e.State)
		}
		if e.Account == nil || e.Account.ID != "uuid-Legit99" {
			t.Errorf("Nicked self account = %+v, want own uuid", e.Account)
		}
		if e.Account != nil && !e.Account.Overridden {
			t.Error("Nicked self should resolve through the override layer")
		}
		if !e.Own {
			t.Error("Nicked self should carry the own flag")
		}
	}
	if !found {
		t.Fatalf("Nick missing from roster: %+v", r.Players)
	}
}

func TestRemovedPlayerCancelsInFlightFetch(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newPipeline(t, release)

	p.lines <- chatPrefix + "Carol has joined (1/16)!"
	p.waitFor(t, func(r Roster) bool { return len(r.Players) == 1 })

	// Only quit once the stats request is actually blocked upstream;
	// otherwise the cancel lands before there is anything to abort.
	select {
	case <-p.statsArrived:
	case <-time.After(3 * time.Second):
		t.Fatal("Stats request never reached the blocked server")
	}

	p.lines <- chatPrefix + "Carol has quit!"
	p.waitFor(t, func(r Roster) bool { return len(r.Players) == 0 })

	// The blocked stats request must be aborted, not left to finish.
	deadline := time.After(3 * time.Second)
	for p.canceledFetches.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("In-flight stats fetch was never canceled after the player left")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if r := p.orch.Snapshot(); len(r.Players) != 0 {
		t.Errorf("Canceled resolution leaked an entry: %+v", r.Players)
	}
}

func TestStateMachineLogsOwnComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf))
	defer logging.SetLogger(prev)

	orch := New(Config{Workers: 1, LobbyCapacity: 16}, nil, nil, nil, nil)
	orch.machine.Apply(events.WorldChange{WorldID: "mini1A"})

	if out := buf.String(); !strings.Contains(out, `"component":"state"`) {
		t.Errorf("State machine log missing its component label: %s", out)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	p := newPipeline(t, nil)

	ch, cancel := p.orch.Subscribe()
	defer cancel()

	p.lines <- chatPrefix + "ONLINE: Carol"

	select {
	case r := <-ch:
		if r.Epoch != p.orch.Snapshot().Epoch {
			t.Errorf("Subscription roster epoch mismatch")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for subscription update")
	}
}
