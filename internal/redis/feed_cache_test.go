package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kicker-achievements/internal/domain"
	"github.com/kicker-achievements/internal/feed"
)

var base = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, entries int) (*FeedCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return newFeedCache(client, entries, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func note(id, player string, points, times, minute int) domain.UnlockNotification {
	kind := domain.UnlockNew
	if times > 1 {
		kind = domain.UnlockRepeat
	}
	return domain.UnlockNotification{
		UnlockID:       id,
		KickerID:       "k1",
		PlayerID:       player,
		AchievementID:  "a-" + id,
		AchievementKey: "key-" + id,
		Points:         points,
		TimesCompleted: times,
		UnlockedAt:     base.Add(time.Duration(minute) * time.Minute),
		Kind:           kind,
	}
}

func recentIDs(t *testing.T, c *FeedCache, kickerID string) []string {
	t.Helper()
	entries, err := c.Recent(context.Background(), kickerID, 100)
	require.NoError(t, err)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.UnlockID
	}
	return ids
}

func top(t *testing.T, c *FeedCache, kickerID string) []feed.PointsEntry {
	t.Helper()
	entries, err := c.TopPlayers(context.Background(), kickerID, 10)
	require.NoError(t, err)
	return entries
}

func TestKeysShareTheKickerHashTag(t *testing.T) {
	assert.Equal(t, "achievements:feed:{k1}", feedKey("k1"))
	assert.Equal(t, "achievements:feed:{k1}:entries", entriesKey("k1"))
	assert.Equal(t, "achievements:points:{k1}", pointsKey("k1"))
	assert.Equal(t, "achievements:awarded:{k1}", awardedKey("k1"))
}

func TestNewFeedCache_DefaultsEntries(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.Equal(t, 1000, newFeedCache(client, 0, logger).entries)
	assert.Equal(t, 25, newFeedCache(client, 25, logger).entries)
}

func TestDeliver_RepeatUnlockMovesToFrontAndAddsPoints(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 100)

	require.NoError(t, c.Deliver(ctx, note("u1", "P1", 10, 1, 0)))
	require.NoError(t, c.Deliver(ctx, note("u2", "P2", 25, 1, 1)))
	require.NoError(t, c.Deliver(ctx, note("u1", "P1", 10, 2, 2)))

	assert.Equal(t, []string{"u1", "u2"}, recentIDs(t, c, "k1"))
	entries, err := c.Recent(ctx, "k1", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].TimesCompleted)
	assert.Equal(t, domain.UnlockRepeat, entries[0].Kind)

	assert.Equal(t, []feed.PointsEntry{
		{Rank: 1, PlayerID: "P2", Points: 25},
		{Rank: 2, PlayerID: "P1", Points: 20},
	}, top(t, c, "k1"))
}

func TestDeliver_IsIdempotentPerCompletion(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 100)

	second := note("u1", "P1", 10, 2, 5)
	require.NoError(t, c.Deliver(ctx, second))
	require.NoError(t, c.Deliver(ctx, second))
	// an older completion arriving late changes nothing
	require.NoError(t, c.Deliver(ctx, note("u1", "P1", 10, 1, 0)))

	assert.Equal(t, []feed.PointsEntry{{Rank: 1, PlayerID: "P1", Points: 20}}, top(t, c, "k1"))
	entries, err := c.Recent(ctx, "k1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].TimesCompleted)
	assert.True(t, second.UnlockedAt.Equal(entries[0].UnlockedAt))
}

func TestDeliver_TrimsOldestEntriesButKeepsPoints(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, 2)

	require.NoError(t, c.Deliver(ctx, note("u1", "P1", 10, 1, 0)))
	require.NoError(t, c.Deliver(ctx, note("u2", "P2", 10, 1, 1)))
	require.NoError(t, c.Deliver(ctx, note("u3", "P3", 10, 1, 2)))

	assert.Equal(t, []string{"u3", "u2"}, recentIDs(t, c, "k1"))
	assert.Len(t, top(t, c, "k1"), 3)
	assert.Empty(t, mr.HGet(entriesKey("k1"), "u1"), "trimmed entry payload is removed")
}

func TestRecent_SkipsUnreadableEntries(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, 100)

	require.NoError(t, c.Deliver(ctx, note("u1", "P1", 10, 1, 0)))
	require.NoError(t, c.Deliver(ctx, note("u2", "P2", 10, 1, 1)))
	mr.HSet(entriesKey("k1"), "u2", "not json")

	assert.Equal(t, []string{"u1"}, recentIDs(t, c, "k1"))
	assert.Empty(t, recentIDs(t, c, "unknown"))
}

func TestSync_MatchesLiveDelivery(t *testing.T) {
	ctx := context.Background()
	live, _ := newTestCache(t, 2)
	replayed, mr := newTestCache(t, 2)

	stream := []domain.UnlockNotification{
		note("u1", "P1", 10, 1, 0),
		note("u2", "P2", 25, 1, 1),
		note("u3", "P3", 5, 1, 2),
		note("u1", "P1", 10, 2, 3),
		note("u1", "P1", 10, 3, 4),
	}
	for _, n := range stream {
		require.NoError(t, live.Deliver(ctx, n))
	}

	// the store holds the latest state of each record, newest first
	history := []domain.UnlockNotification{stream[4], stream[2], stream[1]}
	mr.Set(keyPrefix+"feed:{gone}", "left over")
	require.NoError(t, replayed.Clear(ctx))
	require.NoError(t, replayed.Sync(ctx, "k1", history))

	assert.False(t, mr.Exists(keyPrefix+"feed:{gone}"))
	assert.Equal(t, recentIDs(t, live, "k1"), recentIDs(t, replayed, "k1"))
	assert.Equal(t, top(t, live, "k1"), top(t, replayed, "k1"))
	assert.Equal(t, []feed.PointsEntry{
		{Rank: 1, PlayerID: "P1", Points: 30},
		{Rank: 2, PlayerID: "P2", Points: 25},
		{Rank: 3, PlayerID: "P3", Points: 5},
	}, top(t, replayed, "k1"))

	liveEntries, err := live.Recent(ctx, "k1", 10)
	require.NoError(t, err)
	replayedEntries, err := replayed.Recent(ctx, "k1", 10)
	require.NoError(t, err)
	assert.Equal(t, feed.Group(liveEntries), feed.Group(replayedEntries))
}

func TestSync_RestoresMissedUnlockWithoutDoubleCounting(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 100)

	first := note("u1", "P1", 10, 1, 0)
	missed := note("u2", "P1", 25, 1, 1)
	require.NoError(t, c.Deliver(ctx, first))

	require.NoError(t, c.Sync(ctx, "k1", []domain.UnlockNotification{missed, first}))
	require.NoError(t, c.Sync(ctx, "k1", []domain.UnlockNotification{missed, first}))

	assert.Equal(t, []string{"u2", "u1"}, recentIDs(t, c, "k1"))
	assert.Equal(t, []feed.PointsEntry{{Rank: 1, PlayerID: "P1", Points: 35}}, top(t, c, "k1"))
}
