// Package memstore is an in-process store with the same contract as the
// Postgres repository. It backs the "memory" store driver and the tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kicker-achievements/internal/domain"
	"github.com/kicker-achievements/internal/engine"
)

type pairKey struct {
	eventID       string
	achievementID string
}

// Store keeps all state in maps guarded by one mutex. Pair transactions
// hold the mutex for their whole duration, which serializes every writer.
type Store struct {
	mu          sync.Mutex
	categories  map[string]domain.Category
	definitions map[string]domain.Definition
	rewards     map[string]domain.RewardDefinition
	progress    map[domain.ProgressKey]domain.Progress
	unlocks     map[domain.ProgressKey]domain.Unlock
	access      map[string]map[string]time.Time
	selected    map[string]map[domain.RewardType]domain.PlayerSelectedReward
	processed   map[pairKey]struct{}
	failures    map[pairKey]domain.EvaluationFailure
	now         func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		categories:  make(map[string]domain.Category),
		definitions: make(map[string]domain.Definition),
		rewards:     make(map[string]domain.RewardDefinition),
		progress:    make(map[domain.ProgressKey]domain.Progress),
		unlocks:     make(map[domain.ProgressKey]domain.Unlock),
		access:      make(map[string]map[string]time.Time),
		selected:    make(map[string]map[domain.RewardType]domain.PlayerSelectedReward),
		processed:   make(map[pairKey]struct{}),
		failures:    make(map[pairKey]domain.EvaluationFailure),
		now:         time.Now,
	}
}

// RunPair implements engine.Store
func (s *Store) RunPair(ctx context.Context, eventID, achievementID string, fn func(ctx context.Context, tx engine.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := pairKey{eventID: eventID, achievementID: achievementID}
	if _, done := s.processed[pk]; done {
		return domain.ErrDuplicateEvent
	}

	tx := &pairTx{
		store:    s,
		progress: make(map[domain.ProgressKey]domain.Progress),
		unlocks:  make(map[domain.ProgressKey]domain.Unlock),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for k, p := range tx.progress {
		s.progress[k] = p
	}
	for k, u := range tx.unlocks {
		s.unlocks[k] = u
	}
	for _, g := range tx.grants {
		s.grantLocked(g.playerID, g.rewardID)
	}
	s.processed[pk] = struct{}{}
	return nil
}

func (s *Store) grantLocked(playerID, rewardID string) {
	granted, ok := s.access[playerID]
	if !ok {
		granted = make(map[string]time.Time)
		s.access[playerID] = granted
	}
	if _, ok := granted[rewardID]; !ok {
		granted[rewardID] = s.now()
	}
}

type grant struct {
	playerID string
	rewardID string
}

// pairTx stages writes until RunPair commits them
type pairTx struct {
	store    *Store
	progress map[domain.ProgressKey]domain.Progress
	unlocks  map[domain.ProgressKey]domain.Unlock
	grants   []grant
}

func (t *pairTx) LockProgress(ctx context.Context, key domain.ProgressKey, kickerID string) (domain.Progress, error) {
	if p, ok := t.progress[key]; ok {
		return p, nil
	}
	if p, ok := t.store.progress[key]; ok {
		return p, nil
	}
	p := domain.Progress{
		PlayerID:      key.PlayerID,
		AchievementID: key.AchievementID,
		KickerID:      kickerID,
		SeasonID:      key.Bucket.SeasonID(),
		UpdatedAt:     t.store.now(),
	}
	t.progress[key] = p
	return p, nil
}

func (t *pairTx) SaveProgress(ctx context.Context, p domain.Progress) error {
	t.progress[p.Key()] = p
	return nil
}

func (t *pairTx) GetUnlock(ctx context.Context, key domain.ProgressKey) (*domain.Unlock, error) {
	if u, ok := t.unlocks[key]; ok {
		return &u, nil
	}
	if u, ok := t.store.unlocks[key]; ok {
		return &u, nil
	}
	return nil, nil
}

func (t *pairTx) SaveUnlock(ctx context.Context, u domain.Unlock) error {
	t.unlocks[u.Key()] = u
	return nil
}

func (t *pairTx) RewardsForAchievement(ctx context.Context, achievementKey string) ([]domain.RewardDefinition, error) {
	var out []domain.RewardDefinition
	for _, r := range t.store.rewards {
		if r.AchievementKey != nil && *r.AchievementKey == achievementKey {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (t *pairTx) GrantRewardAccess(ctx context.Context, playerID, rewardID string) error {
	t.grants = append(t.grants, grant{playerID: playerID, rewardID: rewardID})
	return nil
}

// RecordFailure implements engine.Store
func (s *Store) RecordFailure(ctx context.Context, f domain.EvaluationFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := pairKey{eventID: f.EventID, achievementID: f.AchievementID}
	if prev, ok := s.failures[pk]; ok {
		f.CreatedAt = prev.CreatedAt
		f.Attempts = prev.Attempts + 1
	}
	s.failures[pk] = f
	return nil
}

// ListFailures implements engine.Store
func (s *Store) ListFailures(ctx context.Context, limit int) ([]domain.EvaluationFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EvaluationFailure, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].EventID+out[i].AchievementID < out[j].EventID+out[j].AchievementID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteFailure implements engine.Store
func (s *Store) DeleteFailure(ctx context.Context, eventID, achievementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, pairKey{eventID: eventID, achievementID: achievementID})
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *Store) Close() {}
