// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package state folds parsed log events into the authoritative lobby and
// party membership view.
//
// A single Machine instance is owned exclusively by the log-reading
// goroutine; it is not safe for concurrent mutation. Consumers receive
// immutable Diff values and Snapshot copies instead of reading the
// machine directly.
//
// Membership is keyed by lowercased display name: the machine never holds
// two entries differing only by case. Party membership is independent of
// lobby membership; neither is a subset of the other.
package state

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lobbyscope/internal/events"
)

// minLobbyCapacity filters join messages from gamemodes too small to be
// a queue lobby; those are transient noise.
const minLobbyCapacity = 8

// Config tunes the state machine.
type Config struct {
	// LobbyCapacity is the upper bound of players accepted through
	// incremental joins before the machine goes out of sync and waits
	// for a who-reply to reconcile.
	LobbyCapacity int
}

// Snapshot is an immutable copy of the membership view at one instant.
type Snapshot struct {
	// Epoch identifies the lobby generation. A world change or client
	// restart starts a new epoch; results computed for an older epoch
	// must be discarded.
	Epoch uint64

	WorldID string
	OwnName string
	OwnNick string

	// Lobby and Party hold display names sorted case-insensitively.
	Lobby []string
	Party []string

	// InQueue reports whether the player is waiting in a game queue.
	InQueue bool

	// OutOfSync reports that incremental events have likely diverged
	// from the true lobby; a who-reply clears it.
	OutOfSync bool
}

// Members returns the union of lobby and party display names.
func (s Snapshot) Members() []string {
	seen := make(map[string]struct{}, len(s.Lobby)+len(s.Party))
	var out []string
	for _, lists := range [][]string{s.Lobby, s.Party} {
		for _, name := range lists {
			key := strings.ToLower(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// Diff reports the membership change produced by one event, together
// with the snapshot taken right after the transition.
type Diff struct {
	Epoch    uint64
	Added    []string
	Removed  []string
	Snapshot Snapshot
}

// Machine folds events into lobby/party state.
type Machine struct {
	cfg Config
	log zerolog.Logger

	epoch   uint64
	worldID string
	ownName string
	ownNick string

	inQueue   bool
	outOfSync bool

	// lowercased name -> display form
	lobby map[string]string
	party map[string]string
}

// New creates an empty state machine.
func New(cfg Config, logger zerolog.Logger) *Machine {
	if cfg.LobbyCapacity < minLobbyCapacity {
		cfg.LobbyCapacity = minLobbyCapacity
	}
	return &Machine{
		cfg:   cfg,
		log:   logger,
		lobby: make(map[string]string),
		party: make(map[string]string),
	}
}

// Epoch returns the current lobby generation.
func (m *Machine) Epoch() uint64 {
	return m.epoch
}

// Snapshot returns an immutable copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		Epoch:     m.epoch,
		WorldID:   m.worldID,
		OwnName:   m.ownName,
		OwnNick:   m.ownNick,
		Lobby:     sortedValues(m.lobby),
		Party:     sortedValues(m.party),
		InQueue:   m.inQueue,
		OutOfSync: m.outOfSync,
	}
}

// Apply folds one event into the state. The returned bool reports
// whether the roster membership changed; when it is true the Diff names
// the added and removed players and carries the post-transition
// snapshot.
func (m *Machine) Apply(ev events.Event) (Diff, bool) {
	before := m.memberSet()

	switch e := ev.(type) {
	case events.InitializeAs:
		// Startup or account switch: everything before is stale.
		m.log.Info().Str("name", e.Name).Msg("Playing as user, clearing state")
		m.ownName = e.Name
		m.ownNick = ""
		m.reset("")

	case events.NewNickname:
		m.log.Info().Str("nick", e.Nick).Msg("Assumed nickname")
		m.ownNick = e.Nick

	case events.LobbyJoin:
		m.applyLobbyJoin(e)

	case events.LobbyLeave:
		// Leaving a lobby never touches party membership.
		delete(m.lobby, strings.ToLower(e.Name))

	case events.WhoReply:
		// Authoritative list: replace wholesale and resync.
		m.log.Info().Int("count", len(e.Names)).Msg("Reconciling lobby from who reply")
		m.lobby = make(map[string]string, len(e.Names))
		for _, name := range e.Names {
			m.lobby[strings.ToLower(name)] = name
		}
		m.outOfSync = false

	case events.WorldChange:
		m.log.Info().Str("world", e.WorldID).Msg("World change, clearing roster")
		m.reset(e.WorldID)

	case events.ClientRestart:
		m.log.Info().Msg("Client restart, clearing roster")
		m.reset("")

	case events.GameStart:
		m.inQueue = false
		// The game hides join/leave messages; assume divergence until
		// the next who reply.
		m.outOfSync = true

	case events.PartyAttach:
		// Joining another party replaces any previous party.
		m.party = make(map[string]string, 1)
		m.party[strings.ToLower(e.Leader)] = e.Leader

	case events.PartyJoin:
		for _, name := range e.Names {
			m.party[strings.ToLower(name)] = name
		}

	case events.PartyLeave:
		m.applyPartyLeave(e)

	case events.PartyDisband:
		m.party = make(map[string]string)

	case events.ChatMessage:
		// Chatting in the queue reveals lobby presence even when the
		// join message was missed.
		if m.inQueue {
			key := strings.ToLower(e.Username)
			if _, ok := m.lobby[key]; !ok {
				m.lobby[key] = e.Username
			}
		}
	}

	return m.diffFrom(before)
}

// applyLobbyJoin implements the capacity heuristic: joins from tiny
// gamemodes are noise, and joins beyond the configured capacity mark the
// state out of sync instead of growing the set unboundedly.
func (m *Machine) applyLobbyJoin(e events.LobbyJoin) {
	if e.Capacity < minLobbyCapacity {
		m.log.Debug().Str("name", e.Name).Int("capacity", e.Capacity).
			Msg("Ignoring join for small gamemode")
		return
	}

	if !m.inQueue {
		// First join of a new queue: the previous lobby is gone.
		m.log.Info().Msg("Joining a new queue, clearing lobby")
		m.lobby = make(map[string]string)
		m.inQueue = true
	}

	limit := m.cfg.LobbyCapacity
	if e.Capacity > 0 && e.Capacity < limit {
		limit = e.Capacity
	}
	key := strings.ToLower(e.Name)
	if _, ok := m.lobby[key]; !ok && len(m.lobby) >= limit {
		m.log.Warn().Str("name", e.Name).Int("limit", limit).
			Msg("Lobby over capacity, ignoring join and marking out of sync")
		m.outOfSync = true
		return
	}
	m.lobby[key] = e.Name
}

// applyPartyLeave removes members, treating the local player leaving (or
// the party emptying out) as a disband. Inference fallback: an explicit
// disband message is not required to reach the empty-party state.
func (m *Machine) applyPartyLeave(e events.PartyLeave) {
	for _, name := range e.Names {
		if m.ownName != "" && strings.EqualFold(name, m.ownName) {
			m.party = make(map[string]string)
			return
		}
		key := strings.ToLower(name)
		if _, ok := m.party[key]; !ok {
			m.log.Warn().Str("name", name).Msg("Removing player absent from party")
			continue
		}
		delete(m.party, key)
	}
}

// reset clears membership and starts a new epoch.
func (m *Machine) reset(worldID string) {
	m.epoch++
	m.worldID = worldID
	m.lobby = make(map[string]string)
	m.party = make(map[string]string)
	m.inQueue = false
	m.outOfSync = false
}

// memberSet returns the current union keyed by lowercase name.
func (m *Machine) memberSet() map[string]string {
	union := make(map[string]string, len(m.lobby)+len(m.party))
	for k, v := range m.lobby {
		union[k] = v
	}
	for k, v := range m.party {
		union[k] = v
	}
	return union
}

// diffFrom compares the current union against a previous one and builds
// the emitted Diff. Reconciliations produce only the genuine delta, so
// players already present are not re-resolved.
func (m *Machine) diffFrom(before map[string]string) (Diff, bool) {
	after := m.memberSet()

	var added, removed []string
	for k, v := range after {
		if _, ok := before[k]; !ok {
			added = append(added, v)
		}
	}
	for k, v := range before {
		if _, ok := after[k]; !ok {
			removed = append(removed, v)
		}
	}

	if len(added) == 0 && len(removed) == 0 {
		return Diff{}, false
	}

	sort.Strings(added)
	sort.Strings(removed)
	return Diff{
		Epoch:    m.epoch,
		Added:    added,
		Removed:  removed,
		Snapshot: m.Snapshot(),
	}, true
}

// sortedValues returns map values sorted case-insensitively.
func sortedValues(set map[string]string) []string {
	out := make([]string, 0, len(set))
	for _, v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}
