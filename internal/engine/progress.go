package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kicker-achievements/internal/condition"
	"github.com/kicker-achievements/internal/domain"
)

// Accessor applies matcher contributions to progress rows
type Accessor struct {
	now func() time.Time
}

// NewAccessor creates a progress accessor
func NewAccessor(now func() time.Time) *Accessor {
	if now == nil {
		now = time.Now
	}
	return &Accessor{now: now}
}

// Applied is the result of applying one contribution
type Applied struct {
	Before    domain.Progress
	After     domain.Progress
	Duplicate bool
}

// Apply mutates the progress row for key with contribution c. If the row
// already carries eventID the row is returned unchanged with Duplicate set.
func (a *Accessor) Apply(ctx context.Context, tx Tx, key domain.ProgressKey, kickerID, eventID string, c condition.Contribution) (Applied, error) {
	before, err := tx.LockProgress(ctx, key, kickerID)
	if err != nil {
		return Applied{}, fmt.Errorf("locking progress: %w", err)
	}
	if before.LastEventID == eventID {
		return Applied{Before: before, After: before, Duplicate: true}, nil
	}

	after := before
	switch c.Op {
	case condition.OpAdd:
		after.CurrentProgress += c.Value
	case condition.OpSet:
		after.CurrentProgress = c.Value
	case condition.OpExtendStreak:
		// a step in the opposite direction means the previous run was of
		// the other result, so the new run starts from zero
		if (c.Value > 0 && after.CurrentStreakValue < 0) || (c.Value < 0 && after.CurrentStreakValue > 0) {
			after.CurrentStreakValue = 0
		}
		after.CurrentStreakValue += c.Value
		after.CurrentProgress = abs(after.CurrentStreakValue)
	case condition.OpBreakStreak:
		after.CurrentStreakValue = 0
		after.CurrentProgress = 0
	default:
		return Applied{Before: before, After: before}, nil
	}
	after.LastEventID = eventID
	after.UpdatedAt = a.now()

	if err := tx.SaveProgress(ctx, after); err != nil {
		return Applied{}, fmt.Errorf("saving progress: %w", err)
	}
	return Applied{Before: before, After: after}, nil
}

// Reset zeroes a row after a repeatable unlock, keeping the dedup key
func (a *Accessor) Reset(ctx context.Context, tx Tx, p domain.Progress) (domain.Progress, error) {
	p.CurrentProgress = 0
	p.CurrentStreakValue = 0
	p.UpdatedAt = a.now()
	if err := tx.SaveProgress(ctx, p); err != nil {
		return p, fmt.Errorf("resetting progress: %w", err)
	}
	return p, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
