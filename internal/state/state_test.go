// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

package state

import (
	"io"
	"reflect"
	"testing"

	"github.com/tomtom215/lobbyscope/internal/events"
	"github.com/tomtom215/lobbyscope/internal/logging"
)

func newMachine(t *testing.T) *Machine {
	t.Helper()
	return New(Config{LobbyCapacity: 16}, logging.NewTestLogger(io.Discard))
}

func join(name string) events.LobbyJoin {
	return events.LobbyJoin{Name: name, Count: 1, Capacity: 16}
}

func TestLobbyJoinLeave(t *testing.T) {
	m := newMachine(t)

	m.Apply(join("X"))
	m.Apply(join("Y"))

	if got := m.Snapshot().Lobby; !reflect.DeepEqual(got, []string{"X", "Y"}) {
		t.Fatalf("Expected lobby [X Y], got %v", got)
	}

	m.Apply(events.LobbyLeave{Name: "X"})
	if got := m.Snapshot().Lobby; !reflect.DeepEqual(got, []string{"Y"}) {
		t.Fatalf("Expected lobby [Y], got %v", got)
	}
}

func TestLeaveOfAbsentMemberIsNoop(t *testing.T) {
	m := newMachine(t)
	m.Apply(join("X"))

	if _, changed := m.Apply(events.LobbyLeave{Name: "Ghost"}); changed {
		t.Error("Expected leave of absent member to emit no diff")
	}
	if got := m.Snapshot().Lobby; !reflect.DeepEqual(got, []string{"X"}) {
		t.Errorf("Expected lobby [X], got %v", got)
	}
}

func TestCaseInsensitiveMembership(t *testing.T) {
	m := newMachine(t)
	m.Apply(join("Player1"))
	m.Apply(join("PLAYER1"))

	if got := m.Snapshot().Lobby; len(got) != 1 {
		t.Errorf("Expected single entry for case-variant names, got %v", got)
	}

	m.Apply(events.LobbyLeave{Name: "player1"})
	if got := m.Snapshot().Lobby; len(got) != 0 {
		t.Errorf("Expected empty lobby after case-variant leave, got %v", got)
	}
}

func TestWhoReplyReconciliationIsAbsolute(t *testing.T) {
	m := newMachine(t)
	m.Apply(join("X"))
	m.Apply(join("Y"))

	diff, changed := m.Apply(events.WhoReply{Names: []string{"X", "Z"}})
	if !changed {
		t.Fatal("Expected who reply to emit a diff")
	}

	if got := m.Snapshot().Lobby; !reflect.DeepEqual(got, []string{"X", "Z"}) {
		t.Errorf("Expected lobby [X Z], got %v", got)
	}
	// The diff is the genuine delta: X untouched, Y removed, Z added.
	if !reflect.DeepEqual(diff.Added, []string{"Z"}) {
		t.Errorf("Expected added [Z], got %v", diff.Added)
	}
	if !reflect.DeepEqual(diff.Removed, []string{"Y"}) {
		t.Errorf("Expected removed [Y], got %v", diff.Removed)
	}
}

func TestWhoReplyClearsOutOfSync(t *testing.T) {
	m := newMachine(t)
	m.Apply(events.GameStart{})
	if !m.Snapshot().OutOfSync {
		t.Fatal("Expected game start to mark state out of sync")
	}

	m.Apply(events.WhoReply{Names: []string{"X"}})
	if m.Snapshot().OutOfSync {
		t.Error("Expected who reply to clear out-of-sync flag")
	}
}

func TestWorldChangeClearsEverything(t *testing.T) {
	m := newMachine(t)
	m.Apply(join("X"))
	m.Apply(events.PartyJoin{Names: []string{"A"}})

	diff, changed := m.Apply(events.WorldChange{WorldID: "mini42A"})
	if !changed {
		t.Fatal("Expected world change to emit a diff")
	}

	snap := m.Snapshot()
	if len(snap.Lobby) != 0 || len(snap.Party) != 0 {
		t.Errorf("Expected empty lobby and party, got %v / %v", snap.Lobby, snap.Party)
	}
	if snap.WorldID != "mini42A" {
		t.Errorf("Expected world id mini42A, got %q", snap.WorldID)
	}
	if len(diff.Removed) != 2 {
		t.Errorf("Expected both members removed, got %v", diff.Removed)
	}
}

func TestWorldChangeBumpsEpoch(t *testing.T) {
	m := newMachine(t)
	e0 := m.Epoch()

	m.Apply(events.WorldChange{})
	if m.Epoch() != e0+1 {
		t.Errorf("Expected epoch %d, got %d", e0+1, m.Epoch())
	}

	m.Apply(events.ClientRestart{})
	if m.Epoch() != e0+2 {
		t.Errorf("Expected epoch %d, got %d", e0+2, m.Epoch())
	}
}

func TestPartySurvivesLobbyChurn(t *testing.T) {
	m := newMachine(t)

	m.Apply(events.PartyJoin{Names: []string{"A"}})
	if got := m.Snapshot().Party; !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("Expected party [A], got %v", got)
	}

	m.Apply(events.LobbyLeave{Name: "A"})
	if got := m.Snapshot().Party; !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("Expected party [A] after lobby leave, got %v", got)
	}

	m.Apply(join("A"))
	if got := m.Snapshot().Party; !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("Expected party [A] after lobby rejoin, got %v", got)
	}
}

func TestPartyDisband(t *testing.T) {
	m := newMachine(t)
	m.Apply(events.PartyJoin{Names: []string{"A", "B"}})

	m.Apply(events.PartyDisband{})
	if got := m.Snapshot().Party; len(got) != 0 {
		t.Errorf("Expected empty party after disband, got %v", got)
	}
}

func TestPartyLeaveOfSelfClearsParty(t *testing.T) {
	m := newMachine(t)
	m.Apply(events.InitializeAs{Name: "Me"})
	m.Apply(events.PartyJoin{Names: []string{"A", "B"}})

	m.Apply(events.PartyLeave{Names: []string{"Me"}})
	if got := m.Snapshot().Party; len(got) != 0 {
		t.Errorf("Expected empty party after leaving it, got %v", got)
	}
}

func TestPartyAttachReplacesParty(t *testing.T) {
	m := newMachine(t)
	m.Apply(events.PartyJoin{Names: []string{"Old"}})

	m.Apply(events.PartyAttach{Leader: "Leader1"})
	if got := m.Snapshot().Party; !reflect.DeepEqual(got, []string{"Leader1"}) {
		t.Errorf("Expected party [Leader1], got %v", got)
	}
}

func TestSmallGamemodeJoinsIgnored(t *testing.T) {
	m := newMachine(t)

	_, changed := m.Apply(events.LobbyJoin{Name: "X", Count: 1, Capacity: 4})
	if changed {
		t.Error("Expected small-capacity join to be ignored")
	}
	if got := m.Snapshot().Lobby; len(got) != 0 {
		t.Errorf("Expected empty lobby, got %v", got)
	}
}

func TestOverCapacityJoinMarksOutOfSync(t *testing.T) {
	m := New(Config{LobbyCapacity: 8}, logging.NewTestLogger(io.Discard))

	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		m.Apply(events.LobbyJoin{Name: name, Count: 1, Capacity: 8})
	}

	_, changed := m.Apply(events.LobbyJoin{Name: "overflow", Count: 9, Capacity: 8})
	if changed {
		t.Error("Expected over-capacity join to be ignored")
	}
	if !m.Snapshot().OutOfSync {
		t.Error("Expected over-capacity join to mark state out of sync")
	}
}

func TestInitializeAsClearsState(t *testing.T) {
	m := newMachine(t)
	m.Apply(join("X"))
	m.Apply(events.PartyJoin{Names: []string{"A"}})
	e0 := m.Epoch()

	m.Apply(events.InitializeAs{Name: "Me"})

	snap := m.Snapshot()
	if snap.OwnName != "Me" {
		t.Errorf("Expected own name Me, got %q", snap.OwnName)
	}
	if len(snap.Lobby) != 0 || len(snap.Party) != 0 {
		t.Errorf("Expected cleared state, got %v / %v", snap.Lobby, snap.Party)
	}
	if m.Epoch() != e0+1 {
		t.Errorf("Expected epoch bump on account switch")
	}
}

func TestChatRevealsLobbyPresenceInQueue(t *testing.T) {
	m := newMachine(t)
	m.Apply(join("X")) // enters queue

	diff, changed := m.Apply(events.ChatMessage{Username: "Hidden", Message: "gl"})
	if !changed {
		t.Fatal("Expected chat in queue to add player to lobby")
	}
	if !reflect.DeepEqual(diff.Added, []string{"Hidden"}) {
		t.Errorf("Expected added [Hidden], got %v", diff.Added)
	}

	// Outside a queue, chat does not imply lobby membership.
	m.Apply(events.WorldChange{})
	if _, changed := m.Apply(events.ChatMessage{Username: "Other", Message: "hi"}); changed {
		t.Error("Expected chat outside queue to be membership-neutral")
	}
}

func TestNewQueueClearsPreviousLobby(t *testing.T) {
	m := newMachine(t)
	m.Apply(join("Old1"))
	m.Apply(join("Old2"))
	m.Apply(events.GameStart{}) // leaves the queue

	m.Apply(join("New1"))
	if got := m.Snapshot().Lobby; !reflect.DeepEqual(got, []string{"New1"}) {
		t.Errorf("Expected fresh lobby [New1], got %v", got)
	}
}

func TestDiffSnapshotMatchesState(t *testing.T) {
	m := newMachine(t)

	diff, changed := m.Apply(join("X"))
	if !changed {
		t.Fatal("Expected join to emit diff")
	}
	if !reflect.DeepEqual(diff.Snapshot, m.Snapshot()) {
		t.Error("Expected diff snapshot to equal machine snapshot")
	}
	if diff.Epoch != m.Epoch() {
		t.Error("Expected diff epoch to match machine epoch")
	}
}

func TestSnapshotMembersUnion(t *testing.T) {
	m := newMachine(t)
	m.Apply(join("X"))
	m.Apply(events.PartyJoin{Names: []string{"A", "X"}})

	got := m.Snapshot().Members()
	if !reflect.DeepEqual(got, []string{"A", "X"}) {
		t.Errorf("Expected members [A X], got %v", got)
	}
}
