package engine

import (
	"context"

	"github.com/kicker-achievements/internal/domain"
)

// Store is the durable state the engine reads and mutates. Implementations
// must make RunPair atomic and serialize concurrent writers of the same
// progress row.
type Store interface {
	// ListDefinitions returns every achievement definition
	ListDefinitions(ctx context.Context) ([]domain.Definition, error)

	// RunPair runs fn in one transaction keyed by (eventID, achievementID).
	// If the pair was already committed, fn is not called and
	// domain.ErrDuplicateEvent is returned. The pair is marked processed in
	// the same transaction when fn returns nil.
	RunPair(ctx context.Context, eventID, achievementID string, fn func(ctx context.Context, tx Tx) error) error

	// RecordFailure stores or refreshes a pending retry for a pair
	RecordFailure(ctx context.Context, f domain.EvaluationFailure) error

	// ListFailures returns up to limit pending retries, oldest first
	ListFailures(ctx context.Context, limit int) ([]domain.EvaluationFailure, error)

	// DeleteFailure drops a pending retry
	DeleteFailure(ctx context.Context, eventID, achievementID string) error
}

// Tx is the view of the store inside one RunPair transaction
type Tx interface {
	// LockProgress returns the progress row for key, creating a zero row
	// if none exists, and holds it exclusively until the transaction ends.
	LockProgress(ctx context.Context, key domain.ProgressKey, kickerID string) (domain.Progress, error)

	// SaveProgress overwrites a locked progress row
	SaveProgress(ctx context.Context, p domain.Progress) error

	// GetUnlock returns the unlock record for key or nil
	GetUnlock(ctx context.Context, key domain.ProgressKey) (*domain.Unlock, error)

	// SaveUnlock inserts or updates the unlock record for u.Key()
	SaveUnlock(ctx context.Context, u domain.Unlock) error

	// RewardsForAchievement lists rewards linked to an achievement key
	RewardsForAchievement(ctx context.Context, achievementKey string) ([]domain.RewardDefinition, error)

	// GrantRewardAccess records that a player may select a reward. Granting
	// twice is a no-op.
	GrantRewardAccess(ctx context.Context, playerID, rewardID string) error
}
