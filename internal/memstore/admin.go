package memstore

import (
	"context"
	"sort"

	"github.com/kicker-achievements/internal/domain"
)

// CreateCategory stores a new category
func (s *Store) CreateCategory(ctx context.Context, c domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.categories {
		if existing.Key == c.Key {
			return domain.ErrKeyExists
		}
	}
	s.categories[c.ID] = c
	return nil
}

// UpdateCategory replaces a category
func (s *Store) UpdateCategory(ctx context.Context, c domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[c.ID]; !ok {
		return domain.ErrCategoryNotFound
	}
	for id, existing := range s.categories {
		if id != c.ID && existing.Key == c.Key {
			return domain.ErrKeyExists
		}
	}
	s.categories[c.ID] = c
	return nil
}

// GetCategory returns a category by id
func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, domain.ErrCategoryNotFound
	}
	return &c, nil
}

// ListCategories returns categories by sort order
func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// DeleteCategory removes a category and its definitions. It fails with
// domain.ErrChainParentInUse when a removed definition is the parent of
// a definition in another category.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return domain.ErrCategoryNotFound
	}
	for _, d := range s.definitions {
		if d.CategoryID == id || d.ParentID == nil {
			continue
		}
		if parent, ok := s.definitions[*d.ParentID]; ok && parent.CategoryID == id {
			return domain.ErrChainParentInUse
		}
	}
	for defID, d := range s.definitions {
		if d.CategoryID == id {
			delete(s.definitions, defID)
		}
	}
	delete(s.categories, id)
	return nil
}

// CreateDefinition stores a new definition
func (s *Store) CreateDefinition(ctx context.Context, d domain.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDefinitionLocked(d); err != nil {
		return err
	}
	s.definitions[d.ID] = d
	return nil
}

// UpdateDefinition replaces a definition
func (s *Store) UpdateDefinition(ctx context.Context, d domain.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[d.ID]; !ok {
		return domain.ErrDefinitionNotFound
	}
	if err := s.checkDefinitionLocked(d); err != nil {
		return err
	}
	s.definitions[d.ID] = d
	return nil
}

// checkDefinitionLocked enforces the constraints the Postgres schema has:
// unique key, existing category and parent, one successor per parent.
func (s *Store) checkDefinitionLocked(d domain.Definition) error {
	if _, ok := s.categories[d.CategoryID]; !ok {
		return domain.ErrCategoryNotFound
	}
	for id, existing := range s.definitions {
		if id == d.ID {
			continue
		}
		if existing.Key == d.Key {
			return domain.ErrKeyExists
		}
		if d.ParentID != nil && existing.ParentID != nil && *existing.ParentID == *d.ParentID {
			return domain.ErrChainIntegrity
		}
	}
	if d.ParentID != nil {
		if _, ok := s.definitions[*d.ParentID]; !ok {
			return domain.ErrDefinitionNotFound
		}
	}
	return nil
}

// GetDefinition returns a definition by id
func (s *Store) GetDefinition(ctx context.Context, id string) (*domain.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.definitions[id]
	if !ok {
		return nil, domain.ErrDefinitionNotFound
	}
	return &d, nil
}

// ListDefinitions implements engine.Store
func (s *Store) ListDefinitions(ctx context.Context) ([]domain.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Definition, 0, len(s.definitions))
	for _, d := range s.definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// DeleteDefinition removes a definition that no other definition chains
// from. Progress and unlocks recorded for it are kept.
func (s *Store) DeleteDefinition(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[id]; !ok {
		return domain.ErrDefinitionNotFound
	}
	for _, d := range s.definitions {
		if d.ParentID != nil && *d.ParentID == id {
			return domain.ErrChainParentInUse
		}
	}
	delete(s.definitions, id)
	return nil
}

// CreateReward stores a new reward definition
func (s *Store) CreateReward(ctx context.Context, r domain.RewardDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rewards {
		if existing.Key == r.Key {
			return domain.ErrKeyExists
		}
	}
	s.rewards[r.ID] = r
	return nil
}

// GetReward returns a reward by id
func (s *Store) GetReward(ctx context.Context, id string) (*domain.RewardDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rewards[id]
	if !ok {
		return nil, domain.ErrRewardNotFound
	}
	return &r, nil
}

// ListRewards returns every reward definition
func (s *Store) ListRewards(ctx context.Context) ([]domain.RewardDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RewardDefinition, 0, len(s.rewards))
	for _, r := range s.rewards {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
