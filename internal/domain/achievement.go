package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TriggerEvent is the domain occurrence that causes evaluation
type TriggerEvent string

const (
	TriggerMatchEnded  TriggerEvent = "MATCH_ENDED"
	TriggerGoalScored  TriggerEvent = "GOAL_SCORED"
	TriggerSeasonEnded TriggerEvent = "SEASON_ENDED"
)

// Valid reports whether t is a known trigger
func (t TriggerEvent) Valid() bool {
	switch t {
	case TriggerMatchEnded, TriggerGoalScored, TriggerSeasonEnded:
		return true
	}
	return false
}

// ConditionType selects the comparison mode of a condition
type ConditionType string

const (
	ConditionCounter   ConditionType = "counter"
	ConditionThreshold ConditionType = "threshold"
	ConditionStreak    ConditionType = "streak"
)

// Metric is a per-player stat a condition reads
type Metric string

const (
	MetricWins       Metric = "wins"
	MetricLosses     Metric = "losses"
	MetricMatches    Metric = "matches"
	MetricGoals      Metric = "goals"
	MetricOwnGoals   Metric = "own_goals"
	MetricFatalities Metric = "fatalities"
	MetricMMR        Metric = "mmr"
)

// Valid reports whether m is a known metric
func (m Metric) Valid() bool {
	switch m {
	case MetricWins, MetricLosses, MetricMatches, MetricGoals, MetricOwnGoals, MetricFatalities, MetricMMR:
		return true
	}
	return false
}

// Result is a participant's match outcome
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
)

// Valid reports whether r is win or loss
func (r Result) Valid() bool {
	return r == ResultWin || r == ResultLoss
}

// Range is an inclusive numeric bound; either side may be open
type Range struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// Contains reports whether v lies within the range
func (r Range) Contains(v int) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Filters narrow which events feed a condition. All set filters must match.
type Filters struct {
	Gamemode        *string `json:"gamemode,omitempty"`
	Result          *Result `json:"result,omitempty"`
	ScoreDiff       *Range  `json:"score_diff,omitempty"`
	OpponentMMR     *Range  `json:"opponent_mmr,omitempty"`
	DurationSeconds *Range  `json:"duration_seconds,omitempty"`
}

// StreakCondition configures a streak-type condition
type StreakCondition struct {
	Result    Result `json:"result"`
	MinStreak int    `json:"min_streak"`
}

// Condition is the declarative rule embedded in a definition. Type selects
// one of three variants: counter, threshold or streak. Streak is set iff
// Type is streak.
type Condition struct {
	Type    ConditionType    `json:"type"`
	Metric  Metric           `json:"metric"`
	Filters *Filters         `json:"filters,omitempty"`
	Streak  *StreakCondition `json:"streak_condition,omitempty"`
}

// UnmarshalJSON decodes strictly: unknown fields and unknown type tags are rejected.
func (c *Condition) UnmarshalJSON(data []byte) error {
	type plain Condition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return &ValidationError{Problems: []FieldProblem{{Field: "condition", Reason: err.Error()}}}
	}
	*c = Condition(p)
	return c.Validate()
}

// Validate checks the condition schema.
func (c Condition) Validate() error {
	ve := &ValidationError{}
	switch c.Type {
	case ConditionCounter, ConditionThreshold:
		if c.Streak != nil {
			ve.add("condition.streak_condition", "only allowed for streak conditions")
		}
	case ConditionStreak:
		if c.Streak == nil {
			ve.add("condition.streak_condition", "required for streak conditions")
		} else {
			if !c.Streak.Result.Valid() {
				ve.add("condition.streak_condition.result", "must be win or loss")
			}
			if c.Streak.MinStreak < 1 {
				ve.add("condition.streak_condition.min_streak", "must be at least 1")
			}
		}
	default:
		ve.add("condition.type", fmt.Sprintf("unknown condition type %q", c.Type))
	}
	if !c.Metric.Valid() {
		ve.add("condition.metric", fmt.Sprintf("%s %q", ErrUnknownMetric, c.Metric))
	}
	if f := c.Filters; f != nil {
		if f.Result != nil && !f.Result.Valid() {
			ve.add("condition.filters.result", "must be win or loss")
		}
		checkRange(ve, "condition.filters.score_diff", f.ScoreDiff)
		checkRange(ve, "condition.filters.opponent_mmr", f.OpponentMMR)
		checkRange(ve, "condition.filters.duration_seconds", f.DurationSeconds)
	}
	return ve.orNil()
}

func checkRange(ve *ValidationError, field string, r *Range) {
	if r == nil {
		return
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		ve.add(field, "min exceeds max")
	}
}

// Category groups achievement definitions
type Category struct {
	ID        string    `json:"id"`
	Key       string    `json:"key" validate:"required,max=64"`
	Name      string    `json:"name" validate:"required,max=255"`
	Icon      string    `json:"icon,omitempty"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Definition is a declarative achievement
type Definition struct {
	ID               string       `json:"id"`
	Key              string       `json:"key" validate:"required,max=64"`
	Name             string       `json:"name" validate:"required,max=255"`
	Description      string       `json:"description,omitempty"`
	CategoryID       string       `json:"category_id" validate:"required"`
	TriggerEvent     TriggerEvent `json:"trigger_event" validate:"required,oneof=MATCH_ENDED GOAL_SCORED SEASON_ENDED"`
	Condition        Condition    `json:"condition"`
	Points           int          `json:"points" validate:"gte=1"`
	Icon             string       `json:"icon,omitempty"`
	IsHidden         bool         `json:"is_hidden"`
	IsRepeatable     bool         `json:"is_repeatable"`
	MaxProgress      int          `json:"max_progress" validate:"gte=1"`
	ParentID         *string      `json:"parent_id,omitempty"`
	SortOrder        int          `json:"sort_order"`
	IsSeasonSpecific bool         `json:"is_season_specific"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Bucket resolves the season-bucket this definition keys its state under.
// ok is false when the definition is season-specific and no season is active.
func (d Definition) Bucket(seasonID *string) (SeasonBucket, bool) {
	if !d.IsSeasonSpecific {
		return AllTimeBucket, true
	}
	if seasonID == nil || *seasonID == "" {
		return AllTimeBucket, false
	}
	return SeasonBucket(*seasonID), true
}

// Target is the progress value at which the definition unlocks.
// Streaks unlock at min_streak; everything else at max_progress.
func (d Definition) Target() int {
	if d.Condition.Type == ConditionStreak && d.Condition.Streak != nil {
		return d.Condition.Streak.MinStreak
	}
	return d.MaxProgress
}

// DecodeStoredCondition decodes a condition previously persisted without
// re-validating it, so a corrupt row surfaces at evaluation time for that
// definition only instead of failing a whole listing.
func DecodeStoredCondition(data []byte) (Condition, error) {
	type plain Condition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return Condition{}, fmt.Errorf("decoding stored condition: %w", err)
	}
	return Condition(p), nil
}
