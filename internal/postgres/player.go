package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kicker-achievements/internal/domain"
)

// ListProgress retrieves every progress row of a player
func (r *Repository) ListProgress(ctx context.Context, playerID string) ([]domain.Progress, error) {
	query := `
		SELECT player_id, achievement_id, kicker_id, season_bucket, current_progress,
			current_streak_value, last_event_id, updated_at
		FROM player_achievement_progress
		WHERE player_id = $1
		ORDER BY achievement_id, season_bucket
	`
	rows, err := r.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing progress: %w", err)
	}
	defer rows.Close()

	var progress []domain.Progress
	for rows.Next() {
		var (
			p      domain.Progress
			bucket string
		)
		err := rows.Scan(&p.PlayerID, &p.AchievementID, &p.KickerID, &bucket, &p.CurrentProgress,
			&p.CurrentStreakValue, &p.LastEventID, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning progress: %w", err)
		}
		p.SeasonID = domain.SeasonBucket(bucket).SeasonID()
		progress = append(progress, p)
	}
	return progress, rows.Err()
}

// ListUnlocks retrieves unlock records matching f, newest first
func (r *Repository) ListUnlocks(ctx context.Context, f domain.UnlockFilter) ([]domain.Unlock, error) {
	var (
		where []string
		args  []any
	)
	if f.KickerID != "" {
		args = append(args, f.KickerID)
		where = append(where, fmt.Sprintf("kicker_id = $%d", len(args)))
	}
	if f.PlayerID != "" {
		args = append(args, f.PlayerID)
		where = append(where, fmt.Sprintf("player_id = $%d", len(args)))
	}

	query := `
		SELECT id, player_id, achievement_id, kicker_id, match_id, season_bucket, unlocked_at, times_completed
		FROM player_achievements`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY unlocked_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing unlocks: %w", err)
	}
	defer rows.Close()

	var unlocks []domain.Unlock
	for rows.Next() {
		var (
			u      domain.Unlock
			bucket string
		)
		err := rows.Scan(&u.ID, &u.PlayerID, &u.AchievementID, &u.KickerID, &u.MatchID, &bucket,
			&u.UnlockedAt, &u.TimesCompleted)
		if err != nil {
			return nil, fmt.Errorf("scanning unlock: %w", err)
		}
		u.SeasonID = domain.SeasonBucket(bucket).SeasonID()
		unlocks = append(unlocks, u)
	}
	return unlocks, rows.Err()
}

// ListRewardAccess retrieves the rewards granted to a player
func (r *Repository) ListRewardAccess(ctx context.Context, playerID string) ([]domain.RewardAccess, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT player_id, reward_id, granted_at
		FROM player_reward_access
		WHERE player_id = $1
		ORDER BY reward_id
	`, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing reward access: %w", err)
	}
	defer rows.Close()

	var access []domain.RewardAccess
	for rows.Next() {
		var a domain.RewardAccess
		if err := rows.Scan(&a.PlayerID, &a.RewardID, &a.GrantedAt); err != nil {
			return nil, fmt.Errorf("scanning reward access: %w", err)
		}
		access = append(access, a)
	}
	return access, rows.Err()
}

// ListSelectedRewards retrieves the player's selection per reward type
func (r *Repository) ListSelectedRewards(ctx context.Context, playerID string) ([]domain.PlayerSelectedReward, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT player_id, reward_type, reward_id, is_selected, updated_at
		FROM player_selected_rewards
		WHERE player_id = $1
		ORDER BY reward_type
	`, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing selected rewards: %w", err)
	}
	defer rows.Close()

	var selected []domain.PlayerSelectedReward
	for rows.Next() {
		var s domain.PlayerSelectedReward
		if err := rows.Scan(&s.PlayerID, &s.RewardType, &s.RewardID, &s.IsSelected, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning selected reward: %w", err)
		}
		selected = append(selected, s)
	}
	return selected, rows.Err()
}

// SelectReward upserts the player's single selection row for rewardType.
// A nil rewardID selects "none".
func (r *Repository) SelectReward(ctx context.Context, playerID string, rewardType domain.RewardType, rewardID *string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO player_selected_rewards (player_id, reward_type, reward_id, is_selected, updated_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (player_id, reward_type)
		DO UPDATE SET reward_id = $3, is_selected = TRUE, updated_at = $4
	`, playerID, string(rewardType), rewardID, time.Now())
	if err != nil {
		return fmt.Errorf("selecting reward: %w", mapError(err))
	}
	return nil
}
