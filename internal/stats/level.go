// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

package stats

// Level progression constants. Each prestige is 100 levels; the first
// four levels after a prestige are cheaper than the flat per-level cost.
const (
	levelsPerPrestige = 100
	levelCost         = 5000
)

var easyLevelCosts = [4]int64{500, 1000, 2000, 3500}

// prestigeExp is the total experience in one full prestige.
var prestigeExp = func() int64 {
	total := int64(levelsPerPrestige-len(easyLevelCosts)) * levelCost
	for _, cost := range easyLevelCosts {
		total += cost
	}
	return total
}()

// LevelFromExp converts raw experience to a level. The fractional part
// is progress toward the next level.
func LevelFromExp(exp int64) float64 {
	if exp < 0 {
		exp = 0
	}

	levels := (exp / prestigeExp) * levelsPerPrestige
	exp %= prestigeExp

	for _, cost := range easyLevelCosts {
		if exp < cost {
			break
		}
		levels++
		exp -= cost
	}

	levels += exp / levelCost
	exp %= levelCost

	nextLevelCost := int64(levelCost)
	if next := (levels + 1) % levelsPerPrestige; next >= 1 && next <= int64(len(easyLevelCosts)) {
		nextLevelCost = easyLevelCosts[next-1]
	}

	return float64(levels) + float64(exp)/float64(nextLevelCost)
}
