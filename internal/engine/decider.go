package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kicker-achievements/internal/condition"
	"github.com/kicker-achievements/internal/domain"
)

// Outcome is the decider's verdict for one progress update
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeNewUnlock
	OutcomeRepeatUnlock
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNewUnlock:
		return "new_unlock"
	case OutcomeRepeatUnlock:
		return "repeat_unlock"
	}
	return "none"
}

// Decider turns progress updates into unlocks. It is indifferent to is_hidden.
type Decider struct {
	accessor *Accessor
}

// NewDecider creates a decider that resets repeatable progress through accessor
func NewDecider(accessor *Accessor) *Decider {
	return &Decider{accessor: accessor}
}

// Decide compares progress before and after a contribution. existing is the
// current unlock record for the same key, if any.
func (d *Decider) Decide(def domain.Definition, before, after domain.Progress, c condition.Contribution, existing *domain.Unlock) Outcome {
	if !c.Contributes() || before == after {
		return OutcomeNone
	}
	if existing != nil && !def.IsRepeatable {
		return OutcomeNone
	}
	if !reached(def, after) {
		return OutcomeNone
	}
	if existing != nil {
		return OutcomeRepeatUnlock
	}
	return OutcomeNewUnlock
}

// reached reports whether p meets the definition's target
func reached(def domain.Definition, p domain.Progress) bool {
	if def.Condition.Type == domain.ConditionStreak {
		return condition.Satisfied(def.Condition, p.CurrentStreakValue)
	}
	return p.CurrentProgress >= def.Target()
}

// Commit persists an unlock outcome: it writes or bumps the unlock record
// and, for repeatable definitions, resets progress so it can accrue again.
func (d *Decider) Commit(ctx context.Context, tx Tx, def domain.Definition, ev domain.Event, progress domain.Progress, existing *domain.Unlock, outcome Outcome, at time.Time) (domain.Unlock, error) {
	var u domain.Unlock
	switch outcome {
	case OutcomeNewUnlock:
		u = domain.Unlock{
			ID:             uuid.New().String(),
			PlayerID:       progress.PlayerID,
			AchievementID:  def.ID,
			KickerID:       ev.KickerID,
			MatchID:        ev.MatchID,
			SeasonID:       progress.SeasonID,
			UnlockedAt:     at,
			TimesCompleted: 1,
		}
	case OutcomeRepeatUnlock:
		u = *existing
		u.TimesCompleted++
		u.UnlockedAt = at
		u.MatchID = ev.MatchID
	default:
		return domain.Unlock{}, fmt.Errorf("committing outcome %s: %w", outcome, domain.ErrInvalidRequest)
	}

	if err := tx.SaveUnlock(ctx, u); err != nil {
		return domain.Unlock{}, fmt.Errorf("saving unlock: %w", err)
	}
	if def.IsRepeatable {
		if _, err := d.accessor.Reset(ctx, tx, progress); err != nil {
			return domain.Unlock{}, err
		}
	}
	return u, nil
}
