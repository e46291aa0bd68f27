// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package events defines the typed log events produced by the parser and
// consumed by the state machine. The Event interface is sealed: every kind
// is declared here so the state machine can match exhaustively, and a new
// kind forces review of every consumer.
package events

// Kind identifies an event variant.
type Kind string

const (
	KindChatMessage   Kind = "chat_message"
	KindInitializeAs  Kind = "initialize_as"
	KindNewNickname   Kind = "new_nickname"
	KindLobbyJoin     Kind = "lobby_join"
	KindLobbyLeave    Kind = "lobby_leave"
	KindWhoReply      Kind = "who_reply"
	KindWorldChange   Kind = "world_change"
	KindGameStart     Kind = "game_start"
	KindPartyAttach   Kind = "party_attach"
	KindPartyJoin     Kind = "party_join"
	KindPartyLeave    Kind = "party_leave"
	KindPartyDisband  Kind = "party_disband"
	KindClientRestart Kind = "client_restart"
)

// Event is the sealed union of all log events. Events are immutable once
// produced.
type Event interface {
	Kind() Kind
	sealed()
}

// ChatMessage is a player chat line. Carried for consumers that surface
// chat; it does not affect roster state.
type ChatMessage struct {
	Username string
	Message  string
}

// InitializeAs reports the local player's own username, printed by the
// client at startup and on account switch.
type InitializeAs struct {
	Name string
}

// NewNickname reports that the local player assumed a nickname.
type NewNickname struct {
	Nick string
}

// LobbyJoin reports a player joining the current lobby. Count and
// Capacity come from the "(x/N)!" suffix of the join message and feed the
// capacity heuristic in the state machine.
type LobbyJoin struct {
	Name     string
	Count    int
	Capacity int
}

// LobbyLeave reports a player leaving the current lobby.
type LobbyLeave struct {
	Name string
}

// WhoReply carries the complete authoritative lobby member list at the
// instant it was printed. It triggers a full reconciliation.
type WhoReply struct {
	Names []string
}

// WorldChange reports the client being moved to a new world/lobby
// instance. Prior lobby membership is invalid after this event.
type WorldChange struct {
	WorldID string
}

// GameStart reports the queued game beginning.
type GameStart struct{}

// PartyAttach reports the local player joining someone else's party.
type PartyAttach struct {
	Leader string
}

// PartyJoin reports one or more players joining the party.
type PartyJoin struct {
	Names []string
}

// PartyLeave reports one or more players leaving or being removed from
// the party.
type PartyLeave struct {
	Names []string
}

// PartyDisband reports the party dissolving entirely.
type PartyDisband struct{}

// ClientRestart is synthesized by the log watcher when the log file is
// truncated or replaced. It is never produced by the parser.
type ClientRestart struct{}

func (ChatMessage) Kind() Kind   { return KindChatMessage }
func (InitializeAs) Kind() Kind  { return KindInitializeAs }
func (NewNickname) Kind() Kind   { return KindNewNickname }
func (LobbyJoin) Kind() Kind     { return KindLobbyJoin }
func (LobbyLeave) Kind() Kind    { return KindLobbyLeave }
func (WhoReply) Kind() Kind      { return KindWhoReply }
func (WorldChange) Kind() Kind   { return KindWorldChange }
func (GameStart) Kind() Kind     { return KindGameStart }
func (PartyAttach) Kind() Kind   { return KindPartyAttach }
func (PartyJoin) Kind() Kind     { return KindPartyJoin }
func (PartyLeave) Kind() Kind    { return KindPartyLeave }
func (PartyDisband) Kind() Kind  { return KindPartyDisband }
func (ClientRestart) Kind() Kind { return KindClientRestart }

func (ChatMessage) sealed()   {}
func (InitializeAs) sealed()  {}
func (NewNickname) sealed()   {}
func (LobbyJoin) sealed()     {}
func (LobbyLeave) sealed()    {}
func (WhoReply) sealed()      {}
func (WorldChange) sealed()   {}
func (GameStart) sealed()     {}
func (PartyAttach) sealed()   {}
func (PartyJoin) sealed()     {}
func (PartyLeave) sealed()    {}
func (PartyDisband) sealed()  {}
func (ClientRestart) sealed() {}
