package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kicker-achievements/internal/domain"
)

// CreateCategory inserts a category
func (r *Repository) CreateCategory(ctx context.Context, c domain.Category) error {
	query := `
		INSERT INTO achievement_categories (id, key, name, icon, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query, c.ID, c.Key, c.Name, c.Icon, c.SortOrder, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating category: %w", mapError(err))
	}
	return nil
}

// UpdateCategory replaces a category's mutable fields
func (r *Repository) UpdateCategory(ctx context.Context, c domain.Category) error {
	query := `
		UPDATE achievement_categories
		SET key = $2, name = $3, icon = $4, sort_order = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, c.ID, c.Key, c.Name, c.Icon, c.SortOrder, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating category: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return domain.ErrCategoryNotFound
	}
	return nil
}

// GetCategory retrieves a category by id
func (r *Repository) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	query := `
		SELECT id, key, name, icon, sort_order, created_at, updated_at
		FROM achievement_categories
		WHERE id = $1
	`
	var c domain.Category
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Key, &c.Name, &c.Icon, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, domain.ErrCategoryNotFound)
	}
	return &c, nil
}

// ListCategories retrieves all categories by sort order
func (r *Repository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	query := `
		SELECT id, key, name, icon, sort_order, created_at, updated_at
		FROM achievement_categories
		ORDER BY sort_order, key
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var categories []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Key, &c.Name, &c.Icon, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// DeleteCategory removes a category; its definitions go with it. The
// parent_id foreign key rejects the delete when a cascaded definition
// still parents a definition in another category.
func (r *Repository) DeleteCategory(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM achievement_categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting category: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return domain.ErrCategoryNotFound
	}
	return nil
}

const definitionColumns = `id, key, name, description, category_id, trigger_event, condition, points, icon,
	is_hidden, is_repeatable, max_progress, parent_id, sort_order, is_season_specific, created_at, updated_at`

// CreateDefinition inserts an achievement definition
func (r *Repository) CreateDefinition(ctx context.Context, d domain.Definition) error {
	cond, err := json.Marshal(d.Condition)
	if err != nil {
		return fmt.Errorf("encoding condition: %w", err)
	}
	query := `INSERT INTO achievement_definitions (` + definitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err = r.pool.Exec(ctx, query,
		d.ID, d.Key, d.Name, d.Description, d.CategoryID, string(d.TriggerEvent), cond, d.Points, d.Icon,
		d.IsHidden, d.IsRepeatable, d.MaxProgress, d.ParentID, d.SortOrder, d.IsSeasonSpecific, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating definition: %w", definitionWriteError(err))
	}
	return nil
}

// UpdateDefinition replaces a definition's mutable fields
func (r *Repository) UpdateDefinition(ctx context.Context, d domain.Definition) error {
	cond, err := json.Marshal(d.Condition)
	if err != nil {
		return fmt.Errorf("encoding condition: %w", err)
	}
	query := `
		UPDATE achievement_definitions
		SET key = $2, name = $3, description = $4, category_id = $5, trigger_event = $6, condition = $7,
			points = $8, icon = $9, is_hidden = $10, is_repeatable = $11, max_progress = $12,
			parent_id = $13, sort_order = $14, is_season_specific = $15, updated_at = $16
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		d.ID, d.Key, d.Name, d.Description, d.CategoryID, string(d.TriggerEvent), cond,
		d.Points, d.Icon, d.IsHidden, d.IsRepeatable, d.MaxProgress,
		d.ParentID, d.SortOrder, d.IsSeasonSpecific, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating definition: %w", definitionWriteError(err))
	}
	if result.RowsAffected() == 0 {
		return domain.ErrDefinitionNotFound
	}
	return nil
}

// definitionWriteError reports a missing category or parent as not found
func definitionWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		switch pgErr.ConstraintName {
		case "achievement_definitions_category_id_fkey":
			return domain.ErrCategoryNotFound
		case "achievement_definitions_parent_id_fkey":
			return domain.ErrDefinitionNotFound
		}
	}
	return mapError(err)
}

// GetDefinition retrieves a definition by id
func (r *Repository) GetDefinition(ctx context.Context, id string) (*domain.Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM achievement_definitions WHERE id = $1`
	d, err := scanDefinition(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, domain.ErrDefinitionNotFound)
	}
	return &d, nil
}

// ListDefinitions implements engine.Store
func (r *Repository) ListDefinitions(ctx context.Context) ([]domain.Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM achievement_definitions ORDER BY sort_order, key`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing definitions: %w", err)
	}
	defer rows.Close()

	var defs []domain.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// DeleteDefinition removes a definition; the parent_id foreign key rejects
// deleting a chain parent.
func (r *Repository) DeleteDefinition(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM achievement_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting definition: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		return domain.ErrDefinitionNotFound
	}
	return nil
}

func scanDefinition(row pgx.Row) (domain.Definition, error) {
	var (
		d    domain.Definition
		cond []byte
	)
	err := row.Scan(
		&d.ID, &d.Key, &d.Name, &d.Description, &d.CategoryID, &d.TriggerEvent, &cond, &d.Points, &d.Icon,
		&d.IsHidden, &d.IsRepeatable, &d.MaxProgress, &d.ParentID, &d.SortOrder, &d.IsSeasonSpecific,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return d, err
	}
	if d.Condition, err = domain.DecodeStoredCondition(cond); err != nil {
		return d, err
	}
	return d, nil
}

const rewardColumns = `id, key, name, type, display_value, display_position, achievement_key, created_at`

// CreateReward inserts a reward definition
func (r *Repository) CreateReward(ctx context.Context, rd domain.RewardDefinition) error {
	query := `INSERT INTO reward_definitions (` + rewardColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		rd.ID, rd.Key, rd.Name, string(rd.Type), rd.DisplayValue, string(rd.DisplayPosition), rd.AchievementKey, rd.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating reward: %w", mapError(err))
	}
	return nil
}

// GetReward retrieves a reward by id
func (r *Repository) GetReward(ctx context.Context, id string) (*domain.RewardDefinition, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_definitions WHERE id = $1`
	rd, err := scanReward(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, domain.ErrRewardNotFound)
	}
	return &rd, nil
}

// ListRewards retrieves every reward definition
func (r *Repository) ListRewards(ctx context.Context) ([]domain.RewardDefinition, error) {
	return queryRewards(ctx, r.pool, `SELECT `+rewardColumns+` FROM reward_definitions ORDER BY key`)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryRewards(ctx context.Context, q querier, query string, args ...any) ([]domain.RewardDefinition, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing rewards: %w", err)
	}
	defer rows.Close()

	var rewards []domain.RewardDefinition
	for rows.Next() {
		rd, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reward: %w", err)
		}
		rewards = append(rewards, rd)
	}
	return rewards, rows.Err()
}

func scanReward(row pgx.Row) (domain.RewardDefinition, error) {
	var rd domain.RewardDefinition
	err := row.Scan(
		&rd.ID, &rd.Key, &rd.Name, &rd.Type, &rd.DisplayValue, &rd.DisplayPosition, &rd.AchievementKey, &rd.CreatedAt,
	)
	return rd, err
}
