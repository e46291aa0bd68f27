// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package roster is the pipeline hub: log lines in, a sorted stat
// roster out. It owns the state machine on a single goroutine, fans
// player resolution out to a bounded worker pool, and publishes
// immutable roster snapshots to subscribers.
package roster

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/lobbyscope/internal/events"
	"github.com/tomtom215/lobbyscope/internal/identity"
	"github.com/tomtom215/lobbyscope/internal/logging"
	"github.com/tomtom215/lobbyscope/internal/metrics"
	"github.com/tomtom215/lobbyscope/internal/parser"
	"github.com/tomtom215/lobbyscope/internal/state"
	"github.com/tomtom215/lobbyscope/internal/stats"
)

// EntryState describes how far a roster entry's resolution has gotten.
type EntryState string

const (
	// StatePending means resolution is still in flight.
	StatePending EntryState = "pending"

	// StateLoaded means the stat line is available.
	StateLoaded EntryState = "loaded"

	// StateAlias means the name has no account or no stats record,
	// which in practice means the player is hiding behind an alias.
	StateAlias EntryState = "alias"

	// StateError means resolution failed transiently; the entry will
	// refresh on the next roster change.
	StateError EntryState = "error"
)

// Entry is one player's row in the roster.
type Entry struct {
	Name  string     `json:"name"`
	State EntryState `json:"state"`
	Party bool       `json:"party"`
	Own   bool       `json:"own,omitempty"`

	Account *identity.Account `json:"account,omitempty"`
	Stats   *stats.Stats      `json:"stats,omitempty"`
}

// Roster is a published snapshot. Slices are never mutated after
// publish, so holders may read without locking.
type Roster struct {
	Epoch     uint64    `json:"epoch"`
	WorldID   string    `json:"world_id,omitempty"`
	InQueue   bool      `json:"in_queue"`
	OutOfSync bool      `json:"out_of_sync"`
	UpdatedAt time.Time `json:"updated_at"`
	Players   []Entry   `json:"players"`
}

// Config sizes the orchestrator.
type Config struct {
	// Workers bounds concurrent resolve+fetch pipelines.
	Workers int64

	// LobbyCapacity is forwarded to the state machine.
	LobbyCapacity int
}

// Orchestrator runs the log-to-roster pipeline. Create with New, then
// run Serve under the supervisor.
type Orchestrator struct {
	machine  *state.Machine
	resolver *identity.Resolver
	fetcher  *stats.Fetcher
	log      zerolog.Logger

	lines    <-chan string
	restarts <-chan struct{}

	sem     *semaphore.Weighted
	results chan result

	// entries is the working set, keyed by lowercased name. Owned by
	// the Serve goroutine, as is cancels, which holds the in-flight
	// resolution context for each pending entry.
	entries map[string]*Entry
	cancels map[string]context.CancelFunc

	mu      sync.RWMutex
	current Roster

	subMu       sync.Mutex
	subscribers map[uint64]chan Roster
	nextSubID   uint64
}

type result struct {
	epoch uint64
	key   string
	entry Entry
}

// New wires the orchestrator. lines and restarts come from the log
// tailer; the channels are owned by the tailer.
func New(cfg Config, resolver *identity.Resolver, fetcher *stats.Fetcher, lines <-chan string, restarts <-chan struct{}) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	log := logging.With().Str("component", "roster").Logger()
	stateLog := logging.With().Str("component", "state").Logger()
	return &Orchestrator{
		machine:     state.New(state.Config{LobbyCapacity: cfg.LobbyCapacity}, stateLog),
		resolver:    resolver,
		fetcher:     fetcher,
		log:         log,
		lines:       lines,
		restarts:    restarts,
		sem:         semaphore.NewWeighted(cfg.Workers),
		results:     make(chan result, 64),
		entries:     make(map[string]*Entry),
		cancels:     make(map[string]context.CancelFunc),
		current:     Roster{UpdatedAt: time.Now(), Players: []Entry{}},
		subscribers: make(map[uint64]chan Roster),
	}
}

// String implements fmt.Stringer for supervisor log messages.
func (o *Orchestrator) String() string {
	return "roster-orchestrator"
}

// Serve consumes log lines until ctx is canceled or the line channel
// closes. It implements suture.Service.
func (o *Orchestrator) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-o.lines:
			if !ok {
				return nil
			}
			o.handleLine(ctx, line)
		case <-o.restarts:
			o.handleEvent(ctx, events.ClientRestart{})
		case res := <-o.results:
			o.handleResult(res)
		}
	}
}

// Snapshot returns the latest published roster.
func (o *Orchestrator) Snapshot() Roster {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Subscribe registers for roster updates. Slow subscribers miss
// intermediate snapshots but always converge via Snapshot. The returned
// cancel func must be called to release the subscription.
func (o *Orchestrator) Subscribe() (<-chan Roster, func()) {
	ch := make(chan Roster, 16)

	o.subMu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = ch
	o.subMu.Unlock()

	cancel := func() {
		o.subMu.Lock()
		delete(o.subscribers, id)
		o.subMu.Unlock()
	}
	return ch, cancel
}

func (o *Orchestrator) handleLine(ctx context.Context, line string) {
	ev, ok := parser.Parse(line)
	if !ok {
		return
	}
	metrics.LogEventsParsed.WithLabelValues(string(ev.Kind())).Inc()
	o.handleEvent(ctx, ev)
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev events.Event) {
	before := o.machine.Snapshot()
	diff, changed := o.machine.Apply(ev)

	if e, ok := ev.(events.NewNickname); ok {
		o.pinOwnNick(ctx, e.Nick)
	}

	if changed {
		for _, name := range diff.Removed {
			key := strings.ToLower(name)
			delete(o.entries, key)
			if cancel, ok := o.cancels[key]; ok {
				cancel()
				delete(o.cancels, key)
			}
		}
		for _, name := range diff.Added {
			key := strings.ToLower(name)
			o.entries[key] = &Entry{Name: name, State: StatePending}
			o.spawn(ctx, diff.Epoch, name)
		}
		o.publish(diff.Snapshot)
		return
	}

	// Membership unchanged, but flags the renderer shows may have
	// moved (queue entry, world change, sync recovery).
	after := o.machine.Snapshot()
	if after.Epoch != before.Epoch || after.InQueue != before.InQueue ||
		after.OutOfSync != before.OutOfSync || after.WorldID != before.WorldID {
		o.publish(after)
	}
}

// spawn resolves one player off the Serve goroutine. The resolution
// runs under its own context so removing the player aborts the upstream
// calls; the result additionally carries the epoch it was computed for,
// and anything stale is dropped on receipt.
func (o *Orchestrator) spawn(ctx context.Context, epoch uint64, name string) {
	key := strings.ToLower(name)
	pctx, cancel := context.WithCancel(ctx)
	o.cancels[key] = cancel

	go func() {
		if err := o.sem.Acquire(pctx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)

		rctx := logging.ContextWithCorrelationID(pctx, logging.GenerateCorrelationID())
		entry := o.resolve(rctx, name)
		if pctx.Err() != nil {
			// The player left or the lobby reset mid-resolution.
			return
		}

		select {
		case o.results <- result{epoch: epoch, key: key, entry: entry}:
		case <-pctx.Done():
		}
	}()
}

// pinOwnNick maps the assumed nickname to the local player's own
// account in the resolver's override layer, so the nicked local player
// still resolves when the nick shows up in a who reply.
func (o *Orchestrator) pinOwnNick(ctx context.Context, nick string) {
	ownName := o.machine.Snapshot().OwnName
	if ownName == "" {
		o.log.Warn().Str("nick", nick).Msg("Nickname assumed before the user is known, cannot pin")
		return
	}

	go func() {
		rctx := logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())
		account, err := o.resolver.Resolve(rctx, ownName)
		if err != nil {
			o.log.Warn().Err(err).Str("nick", nick).Str("name", ownName).
				Msg("Could not resolve own account to pin nickname")
			return
		}
		o.resolver.RegisterAlias(nick, account.ID, "own nickname")
		o.log.Info().Str("nick", nick).Str("account_id", account.ID).Msg("Pinned own nickname")
	}()
}

// resolve runs the two-stage pipeline for one name.
func (o *Orchestrator) resolve(ctx context.Context, name string) Entry {
	account, err := o.resolver.Resolve(ctx, name)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownName) {
			return Entry{Name: name, State: StateAlias}
		}
		if ctx.Err() == nil {
			o.log.Warn().Err(err).Str("name", name).Msg("Account resolution failed")
		}
		return Entry{Name: name, State: StateError}
	}

	line, err := o.fetcher.Fetch(ctx, account.ID)
	if err != nil {
		if errors.Is(err, stats.ErrPlayerNotFound) {
			// Resolvable name with no stats record: an alias bought
			// or borrowed from an account that never played here.
			return Entry{Name: name, State: StateAlias, Account: &account}
		}
		if ctx.Err() == nil {
			o.log.Warn().Err(err).Str("name", name).Msg("Stats fetch failed")
		}
		return Entry{Name: name, State: StateError, Account: &account}
	}

	return Entry{Name: name, State: StateLoaded, Account: &account, Stats: &line}
}

func (o *Orchestrator) handleResult(res result) {
	if res.epoch != o.machine.Epoch() {
		metrics.StaleResultsDiscarded.Inc()
		o.log.Debug().Str("name", res.entry.Name).Uint64("epoch", res.epoch).
			Msg("Discarding resolution from a previous lobby")
		return
	}

	// Epochs match, so this is the current spawn for the key; release
	// its context.
	if cancel, ok := o.cancels[res.key]; ok {
		cancel()
		delete(o.cancels, res.key)
	}

	existing, ok := o.entries[res.key]
	if !ok {
		// Player left while resolution was in flight.
		return
	}
	res.entry.Name = existing.Name // keep the display form from the log
	o.entries[res.key] = &res.entry

	o.publish(o.machine.Snapshot())
}

// publish rebuilds the sorted roster from the working set and hands a
// copy to every subscriber.
func (o *Orchestrator) publish(snap state.Snapshot) {
	partySet := make(map[string]struct{}, len(snap.Party))
	for _, name := range snap.Party {
		partySet[strings.ToLower(name)] = struct{}{}
	}
	ownKey := strings.ToLower(snap.OwnName)
	nickKey := strings.ToLower(snap.OwnNick)

	players := make([]Entry, 0, len(o.entries))
	for key, entry := range o.entries {
		e := *entry
		_, e.Party = partySet[key]
		e.Own = (ownKey != "" && key == ownKey) || (nickKey != "" && key == nickKey)
		players = append(players, e)
	}
	sortEntries(players)

	roster := Roster{
		Epoch:     snap.Epoch,
		WorldID:   snap.WorldID,
		InQueue:   snap.InQueue,
		OutOfSync: snap.OutOfSync,
		UpdatedAt: time.Now(),
		Players:   players,
	}

	o.mu.Lock()
	o.current = roster
	o.mu.Unlock()

	metrics.RosterUpdates.Inc()
	metrics.RosterSize.Set(float64(len(players)))

	o.subMu.Lock()
	for _, ch := range o.subscribers {
		select {
		case ch <- roster:
		default:
		}
	}
	o.subMu.Unlock()
}

// sortEntries orders by threat: aliased players first (unknown means
// assume the worst), then loaded entries by index descending, then
// transient errors, with still-pending entries last. Names break ties.
func sortEntries(players []Entry) {
	sort.SliceStable(players, func(i, j int) bool {
		ri, rj := stateRank(players[i].State), stateRank(players[j].State)
		if ri != rj {
			return ri < rj
		}
		if players[i].State == StateLoaded && players[j].State == StateLoaded {
			if players[i].Stats.Index != players[j].Stats.Index {
				return players[i].Stats.Index > players[j].Stats.Index
			}
		}
		return strings.ToLower(players[i].Name) < strings.ToLower(players[j].Name)
	})
}

func stateRank(s EntryState) int {
	switch s {
	case StateAlias:
		return 0
	case StateLoaded:
		return 1
	case StateError:
		return 2
	default:
		return 3
	}
}
