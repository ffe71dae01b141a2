package domain

import "time"

// SeasonBucket partitions progress and unlock state. AllTimeBucket holds
// state of definitions that are not season-specific.
type SeasonBucket string

// AllTimeBucket is the bucket for all-time accumulation
const AllTimeBucket SeasonBucket = ""

// SeasonID returns the season id for a bucket, nil for all-time
func (b SeasonBucket) SeasonID() *string {
	if b == AllTimeBucket {
		return nil
	}
	s := string(b)
	return &s
}

// ProgressKey identifies one progress row and the matching unlock row
type ProgressKey struct {
	PlayerID      string
	AchievementID string
	Bucket        SeasonBucket
}

// Progress is the per-player, per-achievement, per-bucket accumulator
type Progress struct {
	PlayerID           string    `json:"player_id"`
	AchievementID      string    `json:"achievement_id"`
	KickerID           string    `json:"kicker_id"`
	SeasonID           *string   `json:"season_id,omitempty"`
	CurrentProgress    int       `json:"current_progress"`
	CurrentStreakValue int       `json:"current_streak_value"`
	LastEventID        string    `json:"last_event_id,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Key returns the row key
func (p Progress) Key() ProgressKey {
	k := ProgressKey{PlayerID: p.PlayerID, AchievementID: p.AchievementID}
	if p.SeasonID != nil {
		k.Bucket = SeasonBucket(*p.SeasonID)
	}
	return k
}

// Unlock is the durable record that a player completed an achievement
type Unlock struct {
	ID             string    `json:"id"`
	PlayerID       string    `json:"player_id"`
	AchievementID  string    `json:"achievement_id"`
	KickerID       string    `json:"kicker_id"`
	MatchID        *string   `json:"match_id,omitempty"`
	SeasonID       *string   `json:"season_id,omitempty"`
	UnlockedAt     time.Time `json:"unlocked_at"`
	TimesCompleted int       `json:"times_completed"`
}

// Key returns the row key
func (u Unlock) Key() ProgressKey {
	k := ProgressKey{PlayerID: u.PlayerID, AchievementID: u.AchievementID}
	if u.SeasonID != nil {
		k.Bucket = SeasonBucket(*u.SeasonID)
	}
	return k
}

// EvaluationFailure records an (event, achievement) pair that could not be
// evaluated and is waiting for the retry worker.
type EvaluationFailure struct {
	EventID       string    `json:"event_id"`
	AchievementID string    `json:"achievement_id"`
	Event         Event     `json:"event"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UnlockFilter narrows unlock listings. Empty fields match everything;
// Limit <= 0 means no limit. Results are newest first.
type UnlockFilter struct {
	KickerID string
	PlayerID string
	Limit    int
}
