// Package feed turns the unlock stream into the grouped achievement feed
// shown per kicker, and fans unlock notifications out to delivery sinks.
package feed

import (
	"sort"
	"time"

	"github.com/kicker-achievements/internal/domain"
)

// PlayerGroup is one player's unlocks within a match group, newest first
type PlayerGroup struct {
	PlayerID     string                      `json:"player_id"`
	LatestAt     time.Time                   `json:"latest_at"`
	Achievements []domain.UnlockNotification `json:"achievements"`
}

// MatchGroup collects the unlocks one match produced. Unlocks without a
// match form a group of their own keyed by the unlock id.
type MatchGroup struct {
	Key      string        `json:"key"`
	MatchID  *string       `json:"match_id,omitempty"`
	LatestAt time.Time     `json:"latest_at"`
	Players  []PlayerGroup `json:"players"`
}

// Group builds the feed from unlock entries. The result depends only on
// the set of entries, not on their order, so replaying history yields the
// same structure as the live stream.
func Group(entries []domain.UnlockNotification) []MatchGroup {
	sorted := make([]domain.UnlockNotification, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return newer(sorted[i], sorted[j]) })

	var groups []MatchGroup
	groupIdx := make(map[string]int)
	playerIdx := make(map[string]map[string]int)

	for _, e := range sorted {
		key := groupKey(e)
		gi, ok := groupIdx[key]
		if !ok {
			gi = len(groups)
			groupIdx[key] = gi
			playerIdx[key] = make(map[string]int)
			groups = append(groups, MatchGroup{Key: key, MatchID: e.MatchID, LatestAt: e.UnlockedAt})
		}
		g := &groups[gi]

		pi, ok := playerIdx[key][e.PlayerID]
		if !ok {
			pi = len(g.Players)
			playerIdx[key][e.PlayerID] = pi
			g.Players = append(g.Players, PlayerGroup{PlayerID: e.PlayerID, LatestAt: e.UnlockedAt})
		}
		g.Players[pi].Achievements = append(g.Players[pi].Achievements, e)
	}
	return groups
}

func groupKey(e domain.UnlockNotification) string {
	if e.MatchID != nil && *e.MatchID != "" {
		return "match:" + *e.MatchID
	}
	return "unlock:" + e.UnlockID
}

// newer orders by unlock time, then by ids so equal timestamps still
// produce a stable order
func newer(a, b domain.UnlockNotification) bool {
	if !a.UnlockedAt.Equal(b.UnlockedAt) {
		return a.UnlockedAt.After(b.UnlockedAt)
	}
	if a.UnlockID != b.UnlockID {
		return a.UnlockID > b.UnlockID
	}
	return a.TimesCompleted > b.TimesCompleted
}

// Collapse keeps the latest notification per unlock record. Repeat
// unlocks of one record then show up once, matching what a replay of the
// stored history produces.
func Collapse(entries []domain.UnlockNotification) []domain.UnlockNotification {
	latest := make(map[string]domain.UnlockNotification, len(entries))
	for _, e := range entries {
		if prev, ok := latest[e.UnlockID]; ok && !newer(e, prev) {
			continue
		}
		latest[e.UnlockID] = e
	}
	out := make([]domain.UnlockNotification, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}
