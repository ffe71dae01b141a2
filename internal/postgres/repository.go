package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kicker-achievements/internal/config"
	"github.com/kicker-achievements/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// migrations creates the schema. season_bucket is '' for all-time rows so
// it can take part in unique constraints. Deleting a definition keeps the
// progress and unlock rows that reference it.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS achievement_categories (
		id VARCHAR(64) PRIMARY KEY,
		key VARCHAR(64) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		sort_order INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS achievement_definitions (
		id VARCHAR(64) PRIMARY KEY,
		key VARCHAR(64) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category_id VARCHAR(64) NOT NULL REFERENCES achievement_categories(id) ON DELETE CASCADE,
		trigger_event VARCHAR(32) NOT NULL,
		condition JSONB NOT NULL,
		points INT NOT NULL CHECK (points >= 1),
		icon TEXT NOT NULL DEFAULT '',
		is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
		is_repeatable BOOLEAN NOT NULL DEFAULT FALSE,
		max_progress INT NOT NULL DEFAULT 1 CHECK (max_progress >= 1),
		parent_id VARCHAR(64) REFERENCES achievement_definitions(id),
		sort_order INT NOT NULL DEFAULT 0,
		is_season_specific BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_definitions_parent
		ON achievement_definitions(parent_id) WHERE parent_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS reward_definitions (
		id VARCHAR(64) PRIMARY KEY,
		key VARCHAR(64) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(16) NOT NULL,
		display_value TEXT NOT NULL,
		display_position VARCHAR(16) NOT NULL DEFAULT '',
		achievement_key VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS player_achievement_progress (
		id BIGSERIAL PRIMARY KEY,
		player_id VARCHAR(64) NOT NULL,
		achievement_id VARCHAR(64) NOT NULL,
		kicker_id VARCHAR(64) NOT NULL,
		season_bucket VARCHAR(64) NOT NULL DEFAULT '',
		current_progress INT NOT NULL DEFAULT 0,
		current_streak_value INT NOT NULL DEFAULT 0,
		last_event_id VARCHAR(128) NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(player_id, achievement_id, season_bucket)
	)`,
	`CREATE TABLE IF NOT EXISTS player_achievements (
		id VARCHAR(64) PRIMARY KEY,
		player_id VARCHAR(64) NOT NULL,
		achievement_id VARCHAR(64) NOT NULL,
		kicker_id VARCHAR(64) NOT NULL,
		match_id VARCHAR(64),
		season_bucket VARCHAR(64) NOT NULL DEFAULT '',
		unlocked_at TIMESTAMPTZ NOT NULL,
		times_completed INT NOT NULL DEFAULT 1,
		UNIQUE(player_id, achievement_id, season_bucket)
	)`,
	`CREATE TABLE IF NOT EXISTS player_reward_access (
		player_id VARCHAR(64) NOT NULL,
		reward_id VARCHAR(64) NOT NULL REFERENCES reward_definitions(id),
		granted_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (player_id, reward_id)
	)`,
	`CREATE TABLE IF NOT EXISTS player_selected_rewards (
		player_id VARCHAR(64) NOT NULL,
		reward_type VARCHAR(16) NOT NULL,
		reward_id VARCHAR(64) REFERENCES reward_definitions(id),
		is_selected BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (player_id, reward_type)
	)`,
	`CREATE TABLE IF NOT EXISTS processed_pairs (
		event_id VARCHAR(128) NOT NULL,
		achievement_id VARCHAR(64) NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (event_id, achievement_id)
	)`,
	`CREATE TABLE IF NOT EXISTS evaluation_failures (
		event_id VARCHAR(128) NOT NULL,
		achievement_id VARCHAR(64) NOT NULL,
		event JSONB NOT NULL,
		attempts INT NOT NULL DEFAULT 1,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (event_id, achievement_id)
	)`,
	// progress and unlocks outlive their definition; older schemas cascaded
	`ALTER TABLE player_achievement_progress DROP CONSTRAINT IF EXISTS player_achievement_progress_achievement_id_fkey`,
	`ALTER TABLE player_achievements DROP CONSTRAINT IF EXISTS player_achievements_achievement_id_fkey`,
	`CREATE INDEX IF NOT EXISTS idx_player_achievements_kicker ON player_achievements(kicker_id, unlocked_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_player_achievements_player ON player_achievements(player_id, unlocked_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_progress_player ON player_achievement_progress(player_id)`,
	`CREATE INDEX IF NOT EXISTS idx_evaluation_failures_created ON evaluation_failures(created_at)`,
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// Postgres error codes the repository translates
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// mapError translates constraint violations into domain errors
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		if pgErr.ConstraintName == "idx_definitions_parent" {
			return fmt.Errorf("%w: %s", domain.ErrChainIntegrity, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", domain.ErrKeyExists, pgErr.Message)
	case codeForeignKeyViolation:
		if pgErr.ConstraintName == "achievement_definitions_parent_id_fkey" {
			return fmt.Errorf("%w: %s", domain.ErrChainParentInUse, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, pgErr.Message)
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", domain.ErrStoreConflict, pgErr.Message)
	}
	return err
}

// notFound maps pgx.ErrNoRows to target
func notFound(err error, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}

// bucketOf returns the stored season_bucket value
func bucketOf(seasonID *string) string {
	if seasonID == nil {
		return string(domain.AllTimeBucket)
	}
	return *seasonID
}
