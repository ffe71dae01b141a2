package feed

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kicker-achievements/internal/domain"
)

var base = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func unlock(id, player string, match *string, minute int) domain.UnlockNotification {
	return domain.UnlockNotification{
		UnlockID:       id,
		KickerID:       "k1",
		PlayerID:       player,
		AchievementID:  "a-" + id,
		MatchID:        match,
		UnlockedAt:     base.Add(time.Duration(minute) * time.Minute),
		TimesCompleted: 1,
		Points:         10,
		Kind:           domain.UnlockNew,
	}
}

func strp(s string) *string { return &s }

func TestGroup_MatchAndStandalone(t *testing.T) {
	m := strp("M")
	entries := []domain.UnlockNotification{
		unlock("u1", "P1", m, 1),
		unlock("u2", "P2", m, 2),
		unlock("u3", "P3", nil, 0),
	}

	groups := Group(entries)

	require.Len(t, groups, 2)
	assert.Equal(t, "match:M", groups[0].Key)
	require.Len(t, groups[0].Players, 2)
	assert.Equal(t, "P2", groups[0].Players[0].PlayerID, "most recent unlock first")
	assert.Equal(t, "P1", groups[0].Players[1].PlayerID)
	assert.Equal(t, "unlock:u3", groups[1].Key)
	assert.Nil(t, groups[1].MatchID)
}

func TestGroup_PlayerAchievementsNewestFirst(t *testing.T) {
	m := strp("M")
	groups := Group([]domain.UnlockNotification{
		unlock("u1", "P1", m, 1),
		unlock("u2", "P1", m, 5),
		unlock("u3", "P1", m, 3),
	})

	require.Len(t, groups, 1)
	require.Len(t, groups[0].Players, 1)
	var ids []string
	for _, a := range groups[0].Players[0].Achievements {
		ids = append(ids, a.UnlockID)
	}
	assert.Equal(t, []string{"u2", "u3", "u1"}, ids)
	assert.Equal(t, base.Add(5*time.Minute), groups[0].LatestAt)
}

func TestGroup_StandaloneUnlocksStaySeparate(t *testing.T) {
	groups := Group([]domain.UnlockNotification{
		unlock("u1", "P1", nil, 1),
		unlock("u2", "P1", nil, 2),
	})
	assert.Len(t, groups, 2)
}

func TestGroup_OrderIndependent(t *testing.T) {
	m1, m2 := strp("M1"), strp("M2")
	entries := []domain.UnlockNotification{
		unlock("u1", "P1", m1, 1),
		unlock("u2", "P2", m1, 1),
		unlock("u3", "P1", m2, 4),
		unlock("u4", "P3", nil, 4),
		unlock("u5", "P2", m2, 2),
		unlock("u6", "P1", nil, 3),
	}
	want := Group(entries)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.UnlockNotification(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Group(shuffled))
	}
}

func TestGroup_Empty(t *testing.T) {
	assert.Empty(t, Group(nil))
}

func TestCollapse_KeepsLatestCompletion(t *testing.T) {
	first := unlock("u1", "P1", strp("M1"), 1)
	repeat := first
	repeat.TimesCompleted = 2
	repeat.MatchID = strp("M2")
	repeat.UnlockedAt = base.Add(10 * time.Minute)
	repeat.Kind = domain.UnlockRepeat

	out := Collapse([]domain.UnlockNotification{repeat, first, unlock("u2", "P2", nil, 2)})

	require.Len(t, out, 2)
	assert.Equal(t, repeat, out[0])
	assert.Equal(t, "u2", out[1].UnlockID)
}

func TestRankPoints(t *testing.T) {
	a := unlock("u1", "P1", nil, 1)
	b := unlock("u2", "P2", nil, 2)
	b.TimesCompleted = 3
	c := unlock("u3", "P1", nil, 3)
	c.Points = 5
	d := unlock("u4", "P3", nil, 4)
	d.Points = 15

	ranking := RankPoints([]domain.UnlockNotification{a, b, c, d})

	assert.Equal(t, []PointsEntry{
		{Rank: 1, PlayerID: "P2", Points: 30},
		{Rank: 2, PlayerID: "P1", Points: 15},
		{Rank: 3, PlayerID: "P3", Points: 15},
	}, ranking)
}
