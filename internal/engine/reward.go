package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// RewardLinker grants access to the rewards linked to an unlocked
// achievement. It never selects a reward for the player.
type RewardLinker struct {
	logger *slog.Logger
}

// NewRewardLinker creates a reward linker
func NewRewardLinker(logger *slog.Logger) *RewardLinker {
	return &RewardLinker{logger: logger}
}

// OnUnlock grants every reward whose achievement_key is achievementKey
func (l *RewardLinker) OnUnlock(ctx context.Context, tx Tx, playerID, achievementKey string) error {
	rewards, err := tx.RewardsForAchievement(ctx, achievementKey)
	if err != nil {
		return fmt.Errorf("listing rewards for %s: %w", achievementKey, err)
	}
	for _, r := range rewards {
		if err := tx.GrantRewardAccess(ctx, playerID, r.ID); err != nil {
			return fmt.Errorf("granting reward %s: %w", r.Key, err)
		}
		l.logger.Debug("reward access granted",
			"player_id", playerID,
			"reward_key", r.Key,
			"achievement_key", achievementKey,
		)
	}
	return nil
}
