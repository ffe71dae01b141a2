package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kicker-achievements/internal/config"
	"github.com/kicker-achievements/internal/domain"
)

var cacheResyncs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "achievement_feed_cache_resyncs_total",
	Help: "Feed cache resyncs from the store, by scope and outcome.",
}, []string{"scope", "outcome"})

// Source is the durable unlock history
type Source interface {
	ListDefinitions(ctx context.Context) ([]domain.Definition, error)
	ListUnlocks(ctx context.Context, f domain.UnlockFilter) ([]domain.Unlock, error)
}

// Cache is a fast copy of recent unlocks and points per kicker. It is a
// projection of Source. Deliver and Sync must be idempotent per unlock
// record so that a kicker can be merged again from Source at any time.
type Cache interface {
	Recent(ctx context.Context, kickerID string, limit int) ([]domain.UnlockNotification, error)
	TopPlayers(ctx context.Context, kickerID string, n int) ([]PointsEntry, error)
	Deliver(ctx context.Context, n domain.UnlockNotification) error
	// Sync merges a kicker's stored history, newest first, into the cache
	Sync(ctx context.Context, kickerID string, history []domain.UnlockNotification) error
	// Clear drops everything cached
	Clear(ctx context.Context) error
}

// PointsEntry is one row of a kicker's achievement points ranking
type PointsEntry struct {
	Rank     int64  `json:"rank"`
	PlayerID string `json:"player_id"`
	Points   int64  `json:"points"`
}

// Service serves the grouped feed and points ranking, from the cache when
// one is configured and from the store otherwise. It is also the sink that
// feeds the cache. A kicker whose notification never reached the cache is
// stale: it is served from the store and merged into the cache again on
// its next read.
type Service struct {
	source Source
	cache  Cache
	config *config.FeedConfig
	logger *slog.Logger

	rebuilding   sync.Mutex
	mu           sync.Mutex
	seq          uint64
	stale        map[string]uint64
	needsRebuild bool
}

// NewService creates a feed service. cache may be nil.
func NewService(source Source, cache Cache, cfg *config.FeedConfig, logger *slog.Logger) *Service {
	return &Service{
		source:       source,
		cache:        cache,
		config:       cfg,
		logger:       logger,
		stale:        make(map[string]uint64),
		needsRebuild: cache != nil,
	}
}

// Limit clamps a requested page size to the configured bounds
func (s *Service) Limit(requested int) int {
	if requested <= 0 {
		return s.config.DefaultLimit
	}
	if requested > s.config.MaxLimit {
		return s.config.MaxLimit
	}
	return requested
}

// Name implements Sink
func (s *Service) Name() string {
	return "feed_cache"
}

// Deliver implements Sink by writing the notification to the cache. A
// failed write leaves the kicker stale.
func (s *Service) Deliver(ctx context.Context, n domain.UnlockNotification) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Deliver(ctx, n); err != nil {
		s.MarkStale(n)
		return err
	}
	return nil
}

// MarkStale records that n never reached the cache
func (s *Service) MarkStale(n domain.UnlockNotification) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.stale[n.KickerID] = s.seq
}

// Feed returns the newest unlocks of a kicker grouped by match and player
func (s *Service) Feed(ctx context.Context, kickerID string, limit int) ([]MatchGroup, error) {
	limit = s.Limit(limit)
	if s.cacheUsable(ctx, kickerID) {
		entries, err := s.cache.Recent(ctx, kickerID, limit)
		if err == nil {
			return Group(entries), nil
		}
		s.logger.Warn("feed cache read failed, falling back to store",
			"kicker_id", kickerID,
			"error", err,
		)
	}

	entries, err := s.History(ctx, domain.UnlockFilter{KickerID: kickerID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return Group(entries), nil
}

// TopPlayers ranks a kicker's players by achievement points
func (s *Service) TopPlayers(ctx context.Context, kickerID string, n int) ([]PointsEntry, error) {
	n = s.Limit(n)
	if s.cacheUsable(ctx, kickerID) {
		entries, err := s.cache.TopPlayers(ctx, kickerID, n)
		if err == nil {
			return entries, nil
		}
		s.logger.Warn("points cache read failed, falling back to store",
			"kicker_id", kickerID,
			"error", err,
		)
	}

	history, err := s.History(ctx, domain.UnlockFilter{KickerID: kickerID})
	if err != nil {
		return nil, err
	}
	ranking := RankPoints(history)
	if len(ranking) > n {
		ranking = ranking[:n]
	}
	return ranking, nil
}

// cacheUsable reports whether the cache holds everything stored for the
// kicker, resyncing it first when it does not.
func (s *Service) cacheUsable(ctx context.Context, kickerID string) bool {
	if s.cache == nil {
		return false
	}

	s.mu.Lock()
	rebuild, mark := s.needsRebuild, s.stale[kickerID]
	s.mu.Unlock()

	if rebuild {
		// another reader is already rebuilding
		if !s.rebuilding.TryLock() {
			return false
		}
		err := s.rebuildLocked(ctx)
		s.rebuilding.Unlock()
		if err != nil {
			s.logger.Warn("feed cache rebuild failed, serving from store", "error", err)
			return false
		}
		return true
	}
	if mark == 0 {
		return true
	}

	if err := s.resync(ctx, kickerID); err != nil {
		cacheResyncs.WithLabelValues("kicker", "failed").Inc()
		s.logger.Warn("feed cache resync failed, serving from store",
			"kicker_id", kickerID,
			"error", err,
		)
		return false
	}
	cacheResyncs.WithLabelValues("kicker", "ok").Inc()

	s.mu.Lock()
	if s.stale[kickerID] == mark {
		delete(s.stale, kickerID)
	}
	s.mu.Unlock()
	return true
}

func (s *Service) resync(ctx context.Context, kickerID string) error {
	history, err := s.History(ctx, domain.UnlockFilter{KickerID: kickerID})
	if err != nil {
		return err
	}
	return s.cache.Sync(ctx, kickerID, history)
}

// History reads unlock records from the store as notifications, newest first
func (s *Service) History(ctx context.Context, f domain.UnlockFilter) ([]domain.UnlockNotification, error) {
	defs, err := s.source.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing definitions: %w", err)
	}
	byID := make(map[string]domain.Definition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}

	unlocks, err := s.source.ListUnlocks(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing unlocks: %w", err)
	}
	out := make([]domain.UnlockNotification, 0, len(unlocks))
	for _, u := range unlocks {
		def, ok := byID[u.AchievementID]
		if !ok {
			def = domain.Definition{ID: u.AchievementID}
		}
		kind := domain.UnlockNew
		if u.TimesCompleted > 1 {
			kind = domain.UnlockRepeat
		}
		out = append(out, domain.NotificationFromUnlock(u, def, kind))
	}
	return out, nil
}

// Rebuild drops the cache and replays the stored unlock history into it.
// The cache is cleared before history is read, so a notification landing
// meanwhile is either part of the history or merged on top of it.
func (s *Service) Rebuild(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	s.rebuilding.Lock()
	defer s.rebuilding.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *Service) rebuildLocked(ctx context.Context) error {
	s.logger.Info("rebuilding feed cache from store")

	s.mu.Lock()
	from := s.seq
	s.mu.Unlock()

	err := s.rebuild(ctx)
	if err != nil {
		cacheResyncs.WithLabelValues("full", "failed").Inc()
		s.mu.Lock()
		s.needsRebuild = true
		s.mu.Unlock()
		return err
	}
	cacheResyncs.WithLabelValues("full", "ok").Inc()

	s.mu.Lock()
	s.needsRebuild = false
	for kickerID, mark := range s.stale {
		if mark <= from {
			delete(s.stale, kickerID)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Service) rebuild(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clearing feed cache: %w", err)
	}
	history, err := s.History(ctx, domain.UnlockFilter{})
	if err != nil {
		return err
	}

	byKicker := make(map[string][]domain.UnlockNotification)
	for _, n := range history {
		byKicker[n.KickerID] = append(byKicker[n.KickerID], n)
	}
	for kickerID, entries := range byKicker {
		if err := s.cache.Sync(ctx, kickerID, entries); err != nil {
			return fmt.Errorf("rebuilding feed cache for kicker %s: %w", kickerID, err)
		}
	}

	s.logger.Info("rebuilt feed cache", "unlocks", len(history), "kickers", len(byKicker))
	return nil
}

// RankPoints sums points times completions per player, highest first
func RankPoints(entries []domain.UnlockNotification) []PointsEntry {
	totals := make(map[string]int64)
	for _, e := range Collapse(entries) {
		totals[e.PlayerID] += int64(e.Points) * int64(e.TimesCompleted)
	}
	out := make([]PointsEntry, 0, len(totals))
	for playerID, points := range totals {
		out = append(out, PointsEntry{PlayerID: playerID, Points: points})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	for i := range out {
		out[i].Rank = int64(i + 1)
	}
	return out
}
