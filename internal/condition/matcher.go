// Package condition evaluates achievement conditions against one
// participant's share of an event. It holds no state.
package condition

import (
	"fmt"

	"github.com/kicker-achievements/internal/domain"
)

// Op tells the progress accessor how to mutate a progress row
type Op int

const (
	// OpNone leaves the row untouched
	OpNone Op = iota
	// OpAdd adds Value to current_progress (counter)
	OpAdd
	// OpSet replaces current_progress with Value (threshold)
	OpSet
	// OpExtendStreak moves current_streak_value one step in the direction of Value
	OpExtendStreak
	// OpBreakStreak resets current_streak_value to 0
	OpBreakStreak
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpSet:
		return "set"
	case OpExtendStreak:
		return "extend_streak"
	case OpBreakStreak:
		return "break_streak"
	}
	return "none"
}

// EventContext is what the matcher sees of an event for one participant
type EventContext struct {
	Trigger     domain.TriggerEvent
	Participant domain.Participant
	Match       domain.MatchContext
}

// Contribution is the matcher's verdict. Type mirrors the condition type so
// callers know whether Value is an increment, an absolute level or a step.
type Contribution struct {
	Type  domain.ConditionType
	Op    Op
	Value int
}

// Contributes reports whether the event feeds the condition. For streaks
// this only says the streak moved; use Satisfied for completion.
func (c Contribution) Contributes() bool {
	return c.Op != OpNone
}

// Evaluate matches a condition against an event context. A malformed
// condition yields a *domain.ValidationError.
func Evaluate(cond domain.Condition, ev EventContext) (Contribution, error) {
	if err := cond.Validate(); err != nil {
		return Contribution{}, err
	}
	out := Contribution{Type: cond.Type}
	if !matchFilters(cond.Filters, ev) {
		return out, nil
	}

	switch cond.Type {
	case domain.ConditionCounter:
		delta, ok := ev.Participant.Delta(ev.Trigger, cond.Metric)
		if !ok || delta <= 0 {
			return out, nil
		}
		out.Op, out.Value = OpAdd, delta

	case domain.ConditionThreshold:
		total, ok := ev.Participant.Total(cond.Metric)
		if !ok {
			return out, nil
		}
		out.Op, out.Value = OpSet, total

	case domain.ConditionStreak:
		result := ev.Participant.Result
		if !result.Valid() {
			return out, nil
		}
		if result != cond.Streak.Result {
			out.Op = OpBreakStreak
			return out, nil
		}
		out.Op, out.Value = OpExtendStreak, streakStep(cond.Streak.Result)

	default:
		return out, fmt.Errorf("condition type %q: %w", cond.Type, domain.ErrInvalidRequest)
	}
	return out, nil
}

// Satisfied reports whether a streak value completes a streak condition.
// Loss streaks count down, so the magnitude is compared.
func Satisfied(cond domain.Condition, streakValue int) bool {
	if cond.Type != domain.ConditionStreak || cond.Streak == nil {
		return false
	}
	return abs(streakValue) >= cond.Streak.MinStreak
}

// streakStep is +1 for win streaks and -1 for loss streaks
func streakStep(r domain.Result) int {
	if r == domain.ResultLoss {
		return -1
	}
	return 1
}

func matchFilters(f *domain.Filters, ev EventContext) bool {
	if f == nil {
		return true
	}
	if f.Gamemode != nil {
		if ev.Match.Gamemode == nil || *ev.Match.Gamemode != *f.Gamemode {
			return false
		}
	}
	if f.Result != nil {
		if !ev.Participant.Result.Valid() || ev.Participant.Result != *f.Result {
			return false
		}
	}
	return inRange(f.ScoreDiff, ev.Match.ScoreDiff) &&
		inRange(f.OpponentMMR, ev.Match.OpponentMMR) &&
		inRange(f.DurationSeconds, ev.Match.DurationSeconds)
}

// inRange is true when no range is set; otherwise the value must be
// reported and inside the range.
func inRange(r *domain.Range, v *int) bool {
	if r == nil {
		return true
	}
	if v == nil {
		return false
	}
	return r.Contains(*v)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
