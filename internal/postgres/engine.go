package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kicker-achievements/internal/domain"
	"github.com/kicker-achievements/internal/engine"
)

// RunPair implements engine.Store. The processed_pairs row is inserted
// first, so a concurrent attempt at the same pair blocks on the unique key
// and then sees it as a duplicate.
func (r *Repository) RunPair(ctx context.Context, eventID, achievementID string, fn func(ctx context.Context, tx engine.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		INSERT INTO processed_pairs (event_id, achievement_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, achievement_id) DO NOTHING
	`, eventID, achievementID, time.Now())
	if err != nil {
		return fmt.Errorf("marking pair processed: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return domain.ErrDuplicateEvent
	}

	if err := fn(ctx, &pairTx{tx: tx}); err != nil {
		return mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing pair: %w", mapError(err))
	}
	return nil
}

// pairTx is the engine's view of one open transaction
type pairTx struct {
	tx pgx.Tx
}

func (t *pairTx) LockProgress(ctx context.Context, key domain.ProgressKey, kickerID string) (domain.Progress, error) {
	bucket := string(key.Bucket)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO player_achievement_progress (player_id, achievement_id, kicker_id, season_bucket, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (player_id, achievement_id, season_bucket) DO NOTHING
	`, key.PlayerID, key.AchievementID, kickerID, bucket, time.Now())
	if err != nil {
		return domain.Progress{}, fmt.Errorf("creating progress row: %w", err)
	}

	p := domain.Progress{PlayerID: key.PlayerID, AchievementID: key.AchievementID, SeasonID: key.Bucket.SeasonID()}
	err = t.tx.QueryRow(ctx, `
		SELECT kicker_id, current_progress, current_streak_value, last_event_id, updated_at
		FROM player_achievement_progress
		WHERE player_id = $1 AND achievement_id = $2 AND season_bucket = $3
		FOR UPDATE
	`, key.PlayerID, key.AchievementID, bucket).Scan(
		&p.KickerID, &p.CurrentProgress, &p.CurrentStreakValue, &p.LastEventID, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("locking progress row: %w", err)
	}
	return p, nil
}

func (t *pairTx) SaveProgress(ctx context.Context, p domain.Progress) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE player_achievement_progress
		SET current_progress = $4, current_streak_value = $5, last_event_id = $6, updated_at = $7
		WHERE player_id = $1 AND achievement_id = $2 AND season_bucket = $3
	`, p.PlayerID, p.AchievementID, bucketOf(p.SeasonID),
		p.CurrentProgress, p.CurrentStreakValue, p.LastEventID, p.UpdatedAt)
	return err
}

func (t *pairTx) GetUnlock(ctx context.Context, key domain.ProgressKey) (*domain.Unlock, error) {
	u := domain.Unlock{PlayerID: key.PlayerID, AchievementID: key.AchievementID, SeasonID: key.Bucket.SeasonID()}
	err := t.tx.QueryRow(ctx, `
		SELECT id, kicker_id, match_id, unlocked_at, times_completed
		FROM player_achievements
		WHERE player_id = $1 AND achievement_id = $2 AND season_bucket = $3
	`, key.PlayerID, key.AchievementID, string(key.Bucket)).Scan(
		&u.ID, &u.KickerID, &u.MatchID, &u.UnlockedAt, &u.TimesCompleted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *pairTx) SaveUnlock(ctx context.Context, u domain.Unlock) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO player_achievements (id, player_id, achievement_id, kicker_id, match_id, season_bucket, unlocked_at, times_completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (player_id, achievement_id, season_bucket)
		DO UPDATE SET match_id = $5, unlocked_at = $7, times_completed = $8
	`, u.ID, u.PlayerID, u.AchievementID, u.KickerID, u.MatchID, bucketOf(u.SeasonID), u.UnlockedAt, u.TimesCompleted)
	return err
}

func (t *pairTx) RewardsForAchievement(ctx context.Context, achievementKey string) ([]domain.RewardDefinition, error) {
	return queryRewards(ctx, t.tx,
		`SELECT `+rewardColumns+` FROM reward_definitions WHERE achievement_key = $1 ORDER BY key`,
		achievementKey,
	)
}

func (t *pairTx) GrantRewardAccess(ctx context.Context, playerID, rewardID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO player_reward_access (player_id, reward_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id, reward_id) DO NOTHING
	`, playerID, rewardID, time.Now())
	return err
}

// RecordFailure implements engine.Store
func (r *Repository) RecordFailure(ctx context.Context, f domain.EvaluationFailure) error {
	payload, err := json.Marshal(f.Event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO evaluation_failures (event_id, achievement_id, event, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, achievement_id)
		DO UPDATE SET attempts = evaluation_failures.attempts + 1, last_error = $5, updated_at = $7
	`, f.EventID, f.AchievementID, payload, f.Attempts, f.LastError, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("recording failure: %w", err)
	}
	return nil
}

// ListFailures implements engine.Store
func (r *Repository) ListFailures(ctx context.Context, limit int) ([]domain.EvaluationFailure, error) {
	query := `
		SELECT event_id, achievement_id, event, attempts, last_error, created_at, updated_at
		FROM evaluation_failures
		ORDER BY created_at, event_id, achievement_id
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	defer rows.Close()

	var failures []domain.EvaluationFailure
	for rows.Next() {
		var (
			f       domain.EvaluationFailure
			payload []byte
		)
		if err := rows.Scan(&f.EventID, &f.AchievementID, &payload, &f.Attempts, &f.LastError, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning failure: %w", err)
		}
		if err := json.Unmarshal(payload, &f.Event); err != nil {
			r.logger.Warn("skipping unreadable evaluation failure",
				"event_id", f.EventID,
				"achievement_id", f.AchievementID,
				"error", err,
			)
			continue
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// DeleteFailure implements engine.Store
func (r *Repository) DeleteFailure(ctx context.Context, eventID, achievementID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM evaluation_failures WHERE event_id = $1 AND achievement_id = $2`,
		eventID, achievementID,
	)
	if err != nil {
		return fmt.Errorf("deleting failure: %w", err)
	}
	return nil
}
