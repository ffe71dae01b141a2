package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kicker-achievements/internal/domain"
)

// PlayerStore is the player-facing read side plus reward selection
type PlayerStore interface {
	ListDefinitions(ctx context.Context) ([]domain.Definition, error)
	ListProgress(ctx context.Context, playerID string) ([]domain.Progress, error)
	ListUnlocks(ctx context.Context, f domain.UnlockFilter) ([]domain.Unlock, error)
	ListRewards(ctx context.Context) ([]domain.RewardDefinition, error)
	GetReward(ctx context.Context, id string) (*domain.RewardDefinition, error)
	ListRewardAccess(ctx context.Context, playerID string) ([]domain.RewardAccess, error)
	ListSelectedRewards(ctx context.Context, playerID string) ([]domain.PlayerSelectedReward, error)
	SelectReward(ctx context.Context, playerID string, rewardType domain.RewardType, rewardID *string) error
}

// AchievementQuery scopes a player's achievement view
type AchievementQuery struct {
	KickerID string
	SeasonID *string
}

// AchievementView is one definition as a player sees it
type AchievementView struct {
	Definition         domain.Definition `json:"definition"`
	CurrentProgress    int               `json:"current_progress"`
	CurrentStreakValue int               `json:"current_streak_value"`
	Target             int               `json:"target"`
	Unlocked           bool              `json:"unlocked"`
	UnlockedAt         *time.Time        `json:"unlocked_at,omitempty"`
	TimesCompleted     int               `json:"times_completed"`
}

// PlayerAchievements is a player's achievement page
type PlayerAchievements struct {
	PlayerID     string            `json:"player_id"`
	SeasonID     *string           `json:"season_id,omitempty"`
	TotalPoints  int               `json:"total_points"`
	Unlocked     int               `json:"unlocked"`
	Achievements []AchievementView `json:"achievements"`
}

// RewardView is a reward the player may select
type RewardView struct {
	domain.RewardDefinition
	Selected bool `json:"selected"`
}

// PlayerService serves player achievement pages and reward selection
type PlayerService struct {
	store  PlayerStore
	logger *slog.Logger
}

// NewPlayerService creates a new player service
func NewPlayerService(store PlayerStore, logger *slog.Logger) *PlayerService {
	return &PlayerService{
		store:  store,
		logger: logger,
	}
}

// Achievements lists the definitions a player can see with their progress.
// Hidden definitions appear once the player has progress or an unlock.
func (s *PlayerService) Achievements(ctx context.Context, playerID string, q AchievementQuery) (*PlayerAchievements, error) {
	defs, err := s.store.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing definitions: %w", err)
	}
	progressRows, err := s.store.ListProgress(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing progress: %w", err)
	}
	unlockRows, err := s.store.ListUnlocks(ctx, domain.UnlockFilter{KickerID: q.KickerID, PlayerID: playerID})
	if err != nil {
		return nil, fmt.Errorf("listing unlocks: %w", err)
	}

	progress := make(map[domain.ProgressKey]domain.Progress, len(progressRows))
	for _, p := range progressRows {
		if q.KickerID != "" && p.KickerID != q.KickerID {
			continue
		}
		progress[p.Key()] = p
	}
	unlocks := make(map[domain.ProgressKey]domain.Unlock, len(unlockRows))
	for _, u := range unlockRows {
		unlocks[u.Key()] = u
	}

	out := &PlayerAchievements{PlayerID: playerID, SeasonID: q.SeasonID, Achievements: []AchievementView{}}
	for _, def := range defs {
		view := AchievementView{Definition: def, Target: def.Target()}
		if bucket, ok := def.Bucket(q.SeasonID); ok {
			key := domain.ProgressKey{PlayerID: playerID, AchievementID: def.ID, Bucket: bucket}
			if p, ok := progress[key]; ok {
				view.CurrentProgress = p.CurrentProgress
				view.CurrentStreakValue = p.CurrentStreakValue
			}
			if u, ok := unlocks[key]; ok {
				at := u.UnlockedAt
				view.Unlocked = true
				view.UnlockedAt = &at
				view.TimesCompleted = u.TimesCompleted
			}
		}
		if def.IsHidden && !view.Unlocked && view.CurrentProgress == 0 {
			continue
		}
		if view.Unlocked {
			out.Unlocked++
			out.TotalPoints += def.Points * view.TimesCompleted
		}
		out.Achievements = append(out.Achievements, view)
	}
	return out, nil
}

// Rewards lists the rewards a player may select: every reward without a
// linked achievement plus the ones granted by unlocks.
func (s *PlayerService) Rewards(ctx context.Context, playerID string) ([]RewardView, error) {
	rewards, err := s.store.ListRewards(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rewards: %w", err)
	}
	granted, err := s.granted(ctx, playerID)
	if err != nil {
		return nil, err
	}
	selected, err := s.store.ListSelectedRewards(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing selected rewards: %w", err)
	}
	active := make(map[string]bool, len(selected))
	for _, sel := range selected {
		if sel.IsSelected && sel.RewardID != nil {
			active[*sel.RewardID] = true
		}
	}

	out := []RewardView{}
	for _, r := range rewards {
		if r.AchievementKey != nil && !granted[r.ID] {
			continue
		}
		out = append(out, RewardView{RewardDefinition: r, Selected: active[r.ID]})
	}
	return out, nil
}

// SelectedRewards returns the player's selection per reward type
func (s *PlayerService) SelectedRewards(ctx context.Context, playerID string) ([]domain.PlayerSelectedReward, error) {
	return s.store.ListSelectedRewards(ctx, playerID)
}

// SelectReward makes rewardID the player's selected reward of rewardType.
// A nil rewardID clears the selection.
func (s *PlayerService) SelectReward(ctx context.Context, playerID string, rewardType domain.RewardType, rewardID *string) error {
	if !rewardType.Valid() {
		return domain.NewValidationError("reward_type", "must be one of [title frame]")
	}
	if rewardID != nil {
		reward, err := s.store.GetReward(ctx, *rewardID)
		if err != nil {
			return err
		}
		if reward.Type != rewardType {
			return domain.NewValidationError("reward_id", fmt.Sprintf("reward is a %s, not a %s", reward.Type, rewardType))
		}
		if reward.AchievementKey != nil {
			granted, err := s.granted(ctx, playerID)
			if err != nil {
				return err
			}
			if !granted[reward.ID] {
				return domain.ErrRewardNotAccessible
			}
		}
	}

	if err := s.store.SelectReward(ctx, playerID, rewardType, rewardID); err != nil {
		return err
	}
	selected := "none"
	if rewardID != nil {
		selected = *rewardID
	}
	s.logger.Info("reward selected",
		"player_id", playerID,
		"reward_type", rewardType,
		"reward_id", selected,
	)
	return nil
}

func (s *PlayerService) granted(ctx context.Context, playerID string) (map[string]bool, error) {
	access, err := s.store.ListRewardAccess(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing reward access: %w", err)
	}
	granted := make(map[string]bool, len(access))
	for _, a := range access {
		granted[a.RewardID] = true
	}
	return granted, nil
}
