package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kicker-achievements/internal/domain"
)

// AdminStore is the catalog storage the admin service writes to
type AdminStore interface {
	CreateCategory(ctx context.Context, c domain.Category) error
	UpdateCategory(ctx context.Context, c domain.Category) error
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error

	CreateDefinition(ctx context.Context, d domain.Definition) error
	UpdateDefinition(ctx context.Context, d domain.Definition) error
	GetDefinition(ctx context.Context, id string) (*domain.Definition, error)
	ListDefinitions(ctx context.Context) ([]domain.Definition, error)
	DeleteDefinition(ctx context.Context, id string) error

	CreateReward(ctx context.Context, r domain.RewardDefinition) error
	GetReward(ctx context.Context, id string) (*domain.RewardDefinition, error)
	ListRewards(ctx context.Context) ([]domain.RewardDefinition, error)
}

// AdminService manages the achievement catalog: categories, definitions
// and rewards. Every write is validated before it reaches the store.
type AdminService struct {
	store  AdminStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAdminService creates a new admin service
func NewAdminService(store AdminStore, logger *slog.Logger) *AdminService {
	return &AdminService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// CreateCategory creates a new category
func (s *AdminService) CreateCategory(ctx context.Context, c domain.Category) (*domain.Category, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	c.ID = uuid.New().String()
	c.CreatedAt, c.UpdatedAt = now, now

	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("category created", "category_id", c.ID, "key", c.Key)
	return &c, nil
}

// UpdateCategory replaces a category
func (s *AdminService) UpdateCategory(ctx context.Context, id string, c domain.Category) (*domain.Category, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	c.ID = id
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now()

	if err := s.store.UpdateCategory(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCategory returns a category by id
func (s *AdminService) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	return s.store.GetCategory(ctx, id)
}

// ListCategories returns all categories
func (s *AdminService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.store.ListCategories(ctx)
}

// DeleteCategory deletes a category together with its definitions
func (s *AdminService) DeleteCategory(ctx context.Context, id string) error {
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logger.Info("category deleted", "category_id", id)
	return nil
}

// CreateDefinition creates a new achievement definition
func (s *AdminService) CreateDefinition(ctx context.Context, d domain.Definition) (*domain.Definition, error) {
	d.ID = uuid.New().String()
	if err := s.checkDefinition(ctx, d); err != nil {
		return nil, err
	}
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now

	if err := s.store.CreateDefinition(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info("achievement definition created", "achievement_id", d.ID, "key", d.Key)
	return &d, nil
}

// UpdateDefinition replaces a definition. Existing progress is kept; a
// lowered target takes effect on the player's next qualifying event.
func (s *AdminService) UpdateDefinition(ctx context.Context, id string, d domain.Definition) (*domain.Definition, error) {
	existing, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	d.ID = id
	if err := s.checkDefinition(ctx, d); err != nil {
		return nil, err
	}
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = s.now()

	if err := s.store.UpdateDefinition(ctx, d); err != nil {
		return nil, err
	}
	return &d, nil
}

// checkDefinition validates d and its place in the catalog
func (s *AdminService) checkDefinition(ctx context.Context, d domain.Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, err := s.store.GetCategory(ctx, d.CategoryID); err != nil {
		return err
	}
	if d.ParentID == nil {
		return nil
	}

	defs, err := s.store.ListDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("listing definitions: %w", err)
	}
	// index the catalog as it would look after the write
	next := make([]domain.Definition, 0, len(defs)+1)
	for _, existing := range defs {
		if existing.ID != d.ID {
			next = append(next, existing)
		}
	}
	next = append(next, d)
	return domain.NewChainIndex(next).CheckLink(d.ID, *d.ParentID)
}

// GetDefinition returns a definition by id
func (s *AdminService) GetDefinition(ctx context.Context, id string) (*domain.Definition, error) {
	return s.store.GetDefinition(ctx, id)
}

// ListDefinitions returns all definitions
func (s *AdminService) ListDefinitions(ctx context.Context) ([]domain.Definition, error) {
	return s.store.ListDefinitions(ctx)
}

// DeleteDefinition deletes a definition. Chain parents cannot be deleted.
func (s *AdminService) DeleteDefinition(ctx context.Context, id string) error {
	if err := s.store.DeleteDefinition(ctx, id); err != nil {
		return err
	}
	s.logger.Info("achievement definition deleted", "achievement_id", id)
	return nil
}

// CreateReward creates a reward definition. A linked achievement must exist.
func (s *AdminService) CreateReward(ctx context.Context, r domain.RewardDefinition) (*domain.RewardDefinition, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.AchievementKey != nil {
		defs, err := s.store.ListDefinitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing definitions: %w", err)
		}
		found := false
		for _, d := range defs {
			if d.Key == *r.AchievementKey {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("achievement %q: %w", *r.AchievementKey, domain.ErrDefinitionNotFound)
		}
	}
	r.ID = uuid.New().String()
	r.CreatedAt = s.now()

	if err := s.store.CreateReward(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("reward created", "reward_id", r.ID, "key", r.Key)
	return &r, nil
}

// GetReward returns a reward by id
func (s *AdminService) GetReward(ctx context.Context, id string) (*domain.RewardDefinition, error) {
	return s.store.GetReward(ctx, id)
}

// ListRewards returns all reward definitions
func (s *AdminService) ListRewards(ctx context.Context) ([]domain.RewardDefinition, error) {
	return s.store.ListRewards(ctx)
}
