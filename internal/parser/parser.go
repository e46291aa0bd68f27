// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

// Package parser turns raw client log lines into typed events.
//
// Parse is a pure function with no side effects: unrecognized lines yield
// (nil, false) and are dropped. Matching keys on stable substrings and
// prefixes rather than exact full-line equality, so formatting drift
// between client versions does not break recognition.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tomtom215/lobbyscope/internal/events"
)

// Chat prefixes for the supported client flavors. Chat content is user
// controlled, so the earliest-ending prefix wins: a player typing a log
// prefix into chat cannot inject a fake event.
var chatPrefixes = []string{
	"(Client thread) Info [CHAT] ",
	"[Client thread/INFO]: [CHAT] ",
	"[Render thread/INFO]: [CHAT] ",
	"[Render thread/INFO]: [System] [CHAT] ",
}

// Client info prefixes. These lines are not user controlled, so the
// latest-ending prefix wins (some prefixes share a prefix).
var clientInfoPrefixes = []string{
	"(Client thread) Info ",
	"[Client thread/INFO]: ",
	"[Render thread/INFO]: ",
}

var (
	// rankRegex matches rank tags like "[MVP+] ". Permissive on purpose
	// so unknown future ranks still strip.
	rankRegex = regexp.MustCompile(`\[[a-zA-Z+]+\] `)

	// colorRegex matches formatting codes: a paragraph sign (or its
	// mojibake replacement) followed by a color/formatting digit.
	colorRegex = regexp.MustCompile(`[§\x{fffd}][0-9a-fklmnor]`)

	// lobbyFillRegex matches the "(x/N)!" suffix of lobby join messages.
	lobbyFillRegex = regexp.MustCompile(`^\((\d+)/(\d+)\)!$`)
)

const punctuationAndWhitespace = ".!:, \t"

// Parse parses a raw log line into a typed event. The second return is
// false when the line is not a recognized event.
func Parse(line string) (events.Event, bool) {
	if prefix := lowestIndex(line, chatPrefixes); prefix != "" {
		return parseChatMessage(stripUntil(line, prefix))
	}

	if prefix := highestIndex(line, clientInfoPrefixes); prefix != "" {
		return parseClientInfo(stripUntil(line, prefix))
	}

	return nil, false
}

// parseClientInfo handles non-chat info lines from the client itself.
func parseClientInfo(info string) (events.Event, bool) {
	const settingUserPrefix = "Setting user: "
	if strings.HasPrefix(info, settingUserPrefix) {
		name := stripUntil(info, settingUserPrefix)
		if !ValidUsername(name) {
			return nil, false
		}
		return events.InitializeAs{Name: name}, true
	}

	return nil, false
}

// parseChatMessage handles a chat line with its log prefix already
// removed, e.g. "Player1 has joined (3/16)!".
func parseChatMessage(message string) (events.Event, bool) {
	message = RemoveColors(removeDedupSuffix(message))

	const whoPrefix = "ONLINE: "
	if rest, ok := strings.CutPrefix(message, whoPrefix); ok {
		// ONLINE: <name1>, <name2>, ..., <nameN>
		return events.WhoReply{Names: strings.Split(rest, ", ")}, true
	}

	if strings.HasPrefix(message, "You are now nicked as ") {
		words := strings.Split(message, " ")
		if !wordsMatch(words[:len(words)-1], "You are now nicked as") {
			return nil, false
		}
		nick := strings.Trim(words[len(words)-1], punctuationAndWhitespace)
		return events.NewNickname{Nick: nick}, true
	}

	const sendingPrefix = "Sending you to "
	if rest, ok := strings.CutPrefix(message, sendingPrefix); ok {
		world := strings.Trim(rest, punctuationAndWhitespace)
		return events.WorldChange{WorldID: world}, true
	}

	if strings.Trim(message, punctuationAndWhitespace) ==
		"You were sent to a lobby because someone in your party left" {
		return events.WorldChange{}, true
	}

	if isGameStart(message) {
		return events.GameStart{}, true
	}

	if strings.Contains(message, " has joined (") {
		return parseLobbyJoin(message)
	}

	if strings.Contains(message, " has quit") {
		words := strings.Split(message, " ")
		if len(words) < 3 || !wordsMatch(words[1:3], "has quit!") {
			return nil, false
		}
		return events.LobbyLeave{Name: words[0]}, true
	}

	if ev, ok := parsePartyMessage(message); ok {
		return ev, true
	}

	if ev, ok := parsePlayerChat(message); ok {
		return ev, true
	}

	return nil, false
}

// isGameStart recognizes the game-start banner.
func isGameStart(message string) bool {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "Bed Wars") {
		return false
	}
	// Duels shares the banner but runs a different lobby lifecycle.
	return !strings.HasPrefix(trimmed, "Bed Wars Duels")
}

// parseLobbyJoin parses "<name> has joined (<x>/<N>)!".
func parseLobbyJoin(message string) (events.Event, bool) {
	words := strings.Split(message, " ")
	if len(words) < 4 {
		return nil, false
	}
	if !wordsMatch(words[1:3], "has joined") {
		return nil, false
	}

	name := words[0]
	if !ValidUsername(name) {
		return nil, false
	}

	m := lobbyFillRegex.FindStringSubmatch(words[3])
	if m == nil {
		return nil, false
	}
	count, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, false
	}
	capacity, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}

	return events.LobbyJoin{Name: name, Count: count, Capacity: capacity}, true
}

// parsePartyMessage recognizes every party membership message variant.
func parsePartyMessage(message string) (events.Event, bool) {
	trimmed := strings.Trim(message, punctuationAndWhitespace)

	// Explicit disband and detach variants
	switch {
	case strings.HasPrefix(message, "You left the party"),
		strings.HasPrefix(message, "You are not currently in a party"),
		strings.HasPrefix(message, "You have been kicked from the party by "),
		trimmed == "The party was disbanded because all invites expired and the party was empty":
		return events.PartyDisband{}, true
	}

	if strings.Contains(message, " has disbanded the party") {
		words := strings.Split(RemoveRanks(message), " ")
		if len(words) < 5 || !wordsMatch(words[1:], "has disbanded the party!") {
			return nil, false
		}
		return events.PartyDisband{}, true
	}

	const youJoinPrefix = "You have joined "
	if rest, ok := strings.CutPrefix(message, youJoinPrefix); ok {
		// You have joined [MVP++] <name>'s party!
		apostrophe := strings.Index(rest, "'")
		if apostrophe == -1 {
			return nil, false
		}
		leader := RemoveRanks(rest[:apostrophe])
		return events.PartyAttach{Leader: leader}, true
	}

	const partyingWithPrefix = "You'll be partying with: "
	if rest, ok := strings.CutPrefix(message, partyingWithPrefix); ok {
		names := strings.Split(RemoveRanks(rest), ", ")
		return events.PartyJoin{Names: names}, true
	}

	if strings.Contains(message, " joined the party") {
		words := strings.Split(RemoveRanks(message), " ")
		if len(words) < 4 || !wordsMatch(words[1:4], "joined the party.") {
			return nil, false
		}
		return events.PartyJoin{Names: []string{words[0]}}, true
	}

	if strings.Contains(message, " has left the party") {
		words := strings.Split(RemoveRanks(message), " ")
		if len(words) < 5 || !wordsMatch(words[1:5], "has left the party.") {
			return nil, false
		}
		return events.PartyLeave{Names: []string{words[0]}}, true
	}

	if strings.Contains(message, " has been removed from the party") {
		words := strings.Split(RemoveRanks(message), " ")
		if len(words) < 7 || !wordsMatch(words[1:], "has been removed from the party.") {
			return nil, false
		}
		return events.PartyLeave{Names: []string{words[0]}}, true
	}

	if strings.Contains(message, " was removed from the party because they disconnected") ||
		strings.Contains(message, " was removed from your party because they disconnected") {
		words := strings.Split(RemoveRanks(message), " ")
		if len(words) < 9 {
			return nil, false
		}
		if !wordsMatch(words[1:], "was removed from the party because they disconnected") &&
			!wordsMatch(words[1:], "was removed from your party because they disconnected.") {
			return nil, false
		}
		return events.PartyLeave{Names: []string{words[0]}}, true
	}

	const kickOfflinePrefix = "Kicked "
	if strings.HasPrefix(message, kickOfflinePrefix) &&
		strings.Contains(message, " because they were offline") {
		// Kicked [VIP] <name1>, <name2> because they were offline.
		rest := strings.TrimPrefix(message, kickOfflinePrefix)
		words := strings.Split(RemoveRanks(rest), " ")
		if len(words) < 5 || !wordsMatch(words[len(words)-4:], "because they were offline.") {
			return nil, false
		}
		names := strings.Split(strings.Join(words[:len(words)-4], " "), ", ")
		return events.PartyLeave{Names: names}, true
	}

	const transferPrefix = "The party was transferred to "
	if rest, ok := strings.CutPrefix(message, transferPrefix); ok {
		// ... transferred to <someone> because <name> left
		words := strings.Split(RemoveRanks(rest), " ")
		if len(words) < 4 {
			return nil, false
		}
		if !wordsMatch([]string{words[1], words[3]}, "because left") {
			return nil, false
		}
		return events.PartyLeave{Names: []string{words[2]}}, true
	}

	return nil, false
}

// parsePlayerChat recognizes "<name>: <message>" player chat.
func parsePlayerChat(message string) (events.Event, bool) {
	colon := strings.Index(message, ":")
	if colon == -1 {
		return nil, false
	}

	name := RemoveRanks(message[:colon])
	if !ValidUsername(name) {
		return nil, false
	}

	// Require ": " so timestamps and system lines don't match.
	if len(message) <= colon+1 || message[colon+1] != ' ' {
		return nil, false
	}

	return events.ChatMessage{
		Username: name,
		Message:  message[colon+2:],
	}, true
}

// stripUntil removes the first occurrence of until and everything before
// it, plus trailing whitespace.
func stripUntil(line, until string) string {
	idx := strings.Index(line, until)
	if idx == -1 {
		return line
	}
	return strings.TrimRight(line[idx+len(until):], " \t\r\n")
}

// lowestIndex returns the candidate whose end position in source is the
// earliest, or "" if none is a substring of source.
func lowestIndex(source string, candidates []string) string {
	best := ""
	bestEnd := -1
	for _, c := range candidates {
		idx := strings.Index(source, c)
		if idx == -1 {
			continue
		}
		end := idx + len(c)
		if bestEnd == -1 || end < bestEnd {
			best = c
			bestEnd = end
		}
	}
	return best
}

// highestIndex returns the candidate whose end position in source is the
// latest, or "" if none is a substring of source.
func highestIndex(source string, candidates []string) string {
	best := ""
	bestEnd := -1
	for _, c := range candidates {
		idx := strings.Index(source, c)
		if idx == -1 {
			continue
		}
		end := idx + len(c)
		if end > bestEnd {
			best = c
			bestEnd = end
		}
	}
	return best
}

// RemoveColors strips all formatting codes from a string.
func RemoveColors(s string) string {
	return colorRegex.ReplaceAllString(s, "")
}

// RemoveRanks strips rank tags like "[MVP+] " from a string.
func RemoveRanks(s string) string {
	return rankRegex.ReplaceAllString(s, "")
}

// removeDedupSuffix drops the "[xN]" marker appended to repeated chat
// messages.
func removeDedupSuffix(message string) string {
	if !strings.HasSuffix(message, "]") {
		return message
	}
	words := strings.Split(message, " ")
	last := words[len(words)-1]
	if strings.HasPrefix(last, "[x") && len(last) > 3 {
		if _, err := strconv.Atoi(last[2 : len(last)-1]); err == nil {
			return strings.Join(words[:len(words)-1], " ")
		}
	}
	return message
}

// wordsMatch reports whether words joined by spaces equals target,
// ignoring surrounding punctuation and whitespace.
func wordsMatch(words []string, target string) bool {
	joined := strings.Trim(strings.Join(words, " "), punctuationAndWhitespace)
	return joined == strings.Trim(target, punctuationAndWhitespace)
}

// ValidUsername reports whether name is a plausible account name:
// 1-25 characters from [0-9A-Za-z_]. The lower bound is deliberately lax
// because some legacy accounts break the official 3-char minimum.
func ValidUsername(name string) bool {
	if len(name) < 1 || len(name) > 25 {
		return false
	}
	for _, r := range name {
		switch {
		case r == '_':
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
