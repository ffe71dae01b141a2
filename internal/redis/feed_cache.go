package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kicker-achievements/internal/config"
	"github.com/kicker-achievements/internal/domain"
	"github.com/kicker-achievements/internal/feed"
)

const keyPrefix = "achievements:"

// FeedCache keeps recent unlocks and achievement points per kicker in
// sorted sets. It implements feed.Cache; writes reach it through
// feed.Service.
type FeedCache struct {
	client  *redis.Client
	entries int
	logger  *slog.Logger
}

// NewFeedCache connects to Redis
func NewFeedCache(cfg *config.RedisConfig, feedCfg *config.FeedConfig, logger *slog.Logger) (*FeedCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return newFeedCache(client, feedCfg.CachedEntries, logger), nil
}

func newFeedCache(client *redis.Client, entries int, logger *slog.Logger) *FeedCache {
	if entries <= 0 {
		entries = 1000
	}
	return &FeedCache{
		client:  client,
		entries: entries,
		logger:  logger,
	}
}

// Close closes the Redis connection
func (c *FeedCache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *FeedCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Keys of one kicker share the {kickerID} hash tag so the merge script
// touches a single cluster slot.

// feedKey is the sorted set of unlock ids scored by unlock time
func feedKey(kickerID string) string {
	return fmt.Sprintf("%sfeed:{%s}", keyPrefix, kickerID)
}

// entriesKey is the hash of unlock id to notification JSON
func entriesKey(kickerID string) string {
	return fmt.Sprintf("%sfeed:{%s}:entries", keyPrefix, kickerID)
}

// pointsKey is the sorted set of player id scored by points
func pointsKey(kickerID string) string {
	return fmt.Sprintf("%spoints:{%s}", keyPrefix, kickerID)
}

// awardedKey is the hash of unlock id to the completions already counted
// in pointsKey
func awardedKey(kickerID string) string {
	return fmt.Sprintf("%sawarded:{%s}", keyPrefix, kickerID)
}

// mergeScript applies one unlock record. Points are added only for
// completions not counted before, and the feed entry only moves forward
// in time, so replaying a record any number of times in any order leaves
// the same state.
//
// KEYS: feed, entries, points, awarded
// ARGV: unlock id, score, payload, player id, points, times completed, in feed (1/0)
var mergeScript = redis.NewScript(`
local counted = tonumber(redis.call('HGET', KEYS[4], ARGV[1]) or '0')
local times = tonumber(ARGV[6])
if times > counted then
	redis.call('ZINCRBY', KEYS[3], (times - counted) * tonumber(ARGV[5]), ARGV[4])
	redis.call('HSET', KEYS[4], ARGV[1], times)
end
if ARGV[7] == '1' then
	local current = redis.call('ZSCORE', KEYS[1], ARGV[1])
	if (not current) or tonumber(current) <= tonumber(ARGV[2]) then
		redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
		redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
	end
end
return times - counted
`)

func mergeArgs(n domain.UnlockNotification, inFeed bool) ([]string, []interface{}, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding notification: %w", err)
	}
	flag := "0"
	if inFeed {
		flag = "1"
	}
	keys := []string{feedKey(n.KickerID), entriesKey(n.KickerID), pointsKey(n.KickerID), awardedKey(n.KickerID)}
	args := []interface{}{n.UnlockID, n.UnlockedAt.UnixMilli(), payload, n.PlayerID, n.Points, n.TimesCompleted, flag}
	return keys, args, nil
}

// Deliver implements feed.Cache. A repeat unlock moves its record to the
// front of the feed and adds the definition's points again.
func (c *FeedCache) Deliver(ctx context.Context, n domain.UnlockNotification) error {
	keys, args, err := mergeArgs(n, true)
	if err != nil {
		return err
	}
	if err := mergeScript.Run(ctx, c.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("caching unlock: %w", err)
	}
	return c.trim(ctx, n.KickerID)
}

// Sync implements feed.Cache. history is newest first; only the newest
// records enter the feed, every record counts toward points.
func (c *FeedCache) Sync(ctx context.Context, kickerID string, history []domain.UnlockNotification) error {
	entries := feed.Collapse(history)
	if len(entries) == 0 {
		return nil
	}
	if err := mergeScript.Load(ctx, c.client).Err(); err != nil {
		return fmt.Errorf("loading merge script: %w", err)
	}

	pipe := c.client.Pipeline()
	for i, n := range entries {
		if n.KickerID != kickerID {
			continue
		}
		keys, args, err := mergeArgs(n, i < c.entries)
		if err != nil {
			return err
		}
		mergeScript.EvalSha(ctx, pipe, keys, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("syncing kicker %s: %w", kickerID, err)
	}
	c.logger.Debug("synced kicker feed", "kicker_id", kickerID, "unlocks", len(entries))
	return c.trim(ctx, kickerID)
}

// trim drops the oldest entries beyond the configured size
func (c *FeedCache) trim(ctx context.Context, kickerID string) error {
	stale, err := c.client.ZRange(ctx, feedKey(kickerID), 0, int64(-c.entries-1)).Result()
	if err != nil {
		return fmt.Errorf("reading stale entries: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	members := make([]interface{}, len(stale))
	for i, id := range stale {
		members[i] = id
	}
	pipe := c.client.Pipeline()
	pipe.ZRem(ctx, feedKey(kickerID), members...)
	pipe.HDel(ctx, entriesKey(kickerID), stale...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("trimming feed: %w", err)
	}
	return nil
}

// Recent implements feed.Cache
func (c *FeedCache) Recent(ctx context.Context, kickerID string, limit int) ([]domain.UnlockNotification, error) {
	ids, err := c.client.ZRevRange(ctx, feedKey(kickerID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting recent unlocks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := c.client.HMGet(ctx, entriesKey(kickerID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting unlock entries: %w", err)
	}

	out := make([]domain.UnlockNotification, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var n domain.UnlockNotification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			c.logger.Warn("skipping unreadable feed entry",
				"kicker_id", kickerID,
				"unlock_id", ids[i],
				"error", err,
			)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// TopPlayers implements feed.Cache
func (c *FeedCache) TopPlayers(ctx context.Context, kickerID string, n int) ([]feed.PointsEntry, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, pointsKey(kickerID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top players: %w", err)
	}

	entries := make([]feed.PointsEntry, len(results))
	for i, result := range results {
		entries[i] = feed.PointsEntry{
			Rank:     int64(i + 1),
			PlayerID: result.Member.(string),
			Points:   int64(result.Score),
		}
	}
	return entries, nil
}

// Clear implements feed.Cache by removing every key the cache owns
func (c *FeedCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning cache keys: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
	}
	return nil
}
