package memstore

import (
	"context"
	"sort"

	"github.com/kicker-achievements/internal/domain"
)

// ListProgress returns every progress row of a player
func (s *Store) ListProgress(ctx context.Context, playerID string) ([]domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Progress
	for k, p := range s.progress {
		if k.PlayerID == playerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}

// ListUnlocks returns unlock records matching f, newest first
func (s *Store) ListUnlocks(ctx context.Context, f domain.UnlockFilter) ([]domain.Unlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Unlock
	for _, u := range s.unlocks {
		if f.KickerID != "" && u.KickerID != f.KickerID {
			continue
		}
		if f.PlayerID != "" && u.PlayerID != f.PlayerID {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.After(out[j].UnlockedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListRewardAccess returns the rewards granted to a player
func (s *Store) ListRewardAccess(ctx context.Context, playerID string) ([]domain.RewardAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RewardAccess
	for rewardID, at := range s.access[playerID] {
		out = append(out, domain.RewardAccess{PlayerID: playerID, RewardID: rewardID, GrantedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RewardID < out[j].RewardID })
	return out, nil
}

// ListSelectedRewards returns the player's selection per reward type
func (s *Store) ListSelectedRewards(ctx context.Context, playerID string) ([]domain.PlayerSelectedReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PlayerSelectedReward
	for _, sel := range s.selected[playerID] {
		out = append(out, sel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RewardType < out[j].RewardType })
	return out, nil
}

// SelectReward makes rewardID the player's only selected reward of its
// type; a nil rewardID selects "none".
func (s *Store) SelectReward(ctx context.Context, playerID string, rewardType domain.RewardType, rewardID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType, ok := s.selected[playerID]
	if !ok {
		byType = make(map[domain.RewardType]domain.PlayerSelectedReward)
		s.selected[playerID] = byType
	}
	byType[rewardType] = domain.PlayerSelectedReward{
		PlayerID:   playerID,
		RewardType: rewardType,
		RewardID:   rewardID,
		IsSelected: true,
		UpdatedAt:  s.now(),
	}
	return nil
}
