package domain

import "time"

// RewardType is the kind of cosmetic
type RewardType string

const (
	RewardTitle RewardType = "title"
	RewardFrame RewardType = "frame"
)

// Valid reports whether t is title or frame
func (t RewardType) Valid() bool {
	return t == RewardTitle || t == RewardFrame
}

// DisplayPosition places a title relative to the player name
type DisplayPosition string

const (
	DisplayPrefix DisplayPosition = "prefix"
	DisplaySuffix DisplayPosition = "suffix"
)

// RewardDefinition is a cosmetic granted by an achievement. A nil
// AchievementKey makes the reward available to everyone.
type RewardDefinition struct {
	ID              string          `json:"id"`
	Key             string          `json:"key" validate:"required,max=64"`
	Name            string          `json:"name" validate:"required,max=255"`
	Type            RewardType      `json:"type" validate:"required,oneof=title frame"`
	DisplayValue    string          `json:"display_value" validate:"required"`
	DisplayPosition DisplayPosition `json:"display_position,omitempty" validate:"omitempty,oneof=prefix suffix"`
	AchievementKey  *string         `json:"achievement_key,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PlayerSelectedReward is the player's active cosmetic of one type.
// A nil RewardID means "none selected".
type PlayerSelectedReward struct {
	PlayerID   string     `json:"player_id"`
	RewardType RewardType `json:"reward_type"`
	RewardID   *string    `json:"reward_id,omitempty"`
	IsSelected bool       `json:"is_selected"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RewardAccess is the derived fact that a player may select a reward
type RewardAccess struct {
	PlayerID  string    `json:"player_id"`
	RewardID  string    `json:"reward_id"`
	GrantedAt time.Time `json:"granted_at"`
}
