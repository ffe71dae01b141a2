package domain

import "time"

// MatchContext carries match-wide facts used by condition filters.
// A nil field means the event does not report it.
type MatchContext struct {
	Gamemode        *string `json:"gamemode,omitempty"`
	ScoreDiff       *int    `json:"score_diff,omitempty"`
	OpponentMMR     *int    `json:"opponent_mmr,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
}

// Participant is one player's share of an event
type Participant struct {
	PlayerID   string         `json:"player_id" validate:"required"`
	Result     Result         `json:"result,omitempty" validate:"omitempty,oneof=win loss"`
	StatDeltas map[Metric]int `json:"stat_deltas,omitempty"`
	StatTotals map[Metric]int `json:"stat_totals,omitempty"`
}

// Delta returns the change of a metric carried by this participant. For
// match endings, wins, losses and matches fall back to the result.
func (p Participant) Delta(trigger TriggerEvent, metric Metric) (int, bool) {
	if v, ok := p.StatDeltas[metric]; ok {
		return v, true
	}
	if trigger != TriggerMatchEnded || !p.Result.Valid() {
		return 0, false
	}
	switch metric {
	case MetricMatches:
		return 1, true
	case MetricWins:
		if p.Result == ResultWin {
			return 1, true
		}
		return 0, true
	case MetricLosses:
		if p.Result == ResultLoss {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Total returns the absolute value of a metric, e.g. current MMR
func (p Participant) Total(metric Metric) (int, bool) {
	v, ok := p.StatTotals[metric]
	return v, ok
}

// Event is an inbound domain event
type Event struct {
	EventID      string        `json:"event_id" validate:"required,max=128"`
	Type         TriggerEvent  `json:"type" validate:"required,oneof=MATCH_ENDED GOAL_SCORED SEASON_ENDED"`
	KickerID     string        `json:"kicker_id" validate:"required"`
	SeasonID     *string       `json:"season_id,omitempty"`
	MatchID      *string       `json:"match_id,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at,omitempty"`
	Participants []Participant `json:"participants" validate:"required,min=1,dive"`
	MatchContext MatchContext  `json:"match_context"`
}

// UnlockKind distinguishes first unlocks from repeats
type UnlockKind string

const (
	UnlockNew    UnlockKind = "new"
	UnlockRepeat UnlockKind = "repeat"
)

// UnlockNotification is published for every unlock, new or repeat
type UnlockNotification struct {
	UnlockID       string     `json:"unlock_id"`
	KickerID       string     `json:"kicker_id"`
	PlayerID       string     `json:"player_id"`
	AchievementID  string     `json:"achievement_id"`
	AchievementKey string     `json:"achievement_key,omitempty"`
	MatchID        *string    `json:"match_id,omitempty"`
	SeasonID       *string    `json:"season_id,omitempty"`
	UnlockedAt     time.Time  `json:"unlocked_at"`
	TimesCompleted int        `json:"times_completed"`
	Points         int        `json:"points"`
	Kind           UnlockKind `json:"kind"`
}

// NotificationFromUnlock builds the notification for a stored unlock
func NotificationFromUnlock(u Unlock, def Definition, kind UnlockKind) UnlockNotification {
	return UnlockNotification{
		UnlockID:       u.ID,
		KickerID:       u.KickerID,
		PlayerID:       u.PlayerID,
		AchievementID:  u.AchievementID,
		AchievementKey: def.Key,
		MatchID:        u.MatchID,
		SeasonID:       u.SeasonID,
		UnlockedAt:     u.UnlockedAt,
		TimesCompleted: u.TimesCompleted,
		Points:         def.Points,
		Kind:           kind,
	}
}
