package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func problemFields(t *testing.T, err error) map[string]bool {
	t.Helper()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	fields := map[string]bool{}
	for _, p := range ve.Problems {
		fields[p.Field] = true
	}
	return fields
}

func TestEventValidate(t *testing.T) {
	valid := Event{
		EventID:      "e1",
		Type:         TriggerMatchEnded,
		KickerID:     "k1",
		Participants: []Participant{{PlayerID: "p1", Result: ResultWin}},
	}
	require.NoError(t, valid.Validate())

	t.Run("missing fields", func(t *testing.T) {
		fields := problemFields(t, Event{}.Validate())
		assert.True(t, fields["event_id"])
		assert.True(t, fields["type"])
		assert.True(t, fields["kicker_id"])
		assert.True(t, fields["participants"])
	})

	t.Run("duplicate participant", func(t *testing.T) {
		ev := valid
		ev.Participants = []Participant{{PlayerID: "p1"}, {PlayerID: "p1"}}
		assert.True(t, problemFields(t, ev.Validate())["participants[1].player_id"])
	})

	t.Run("unknown metric", func(t *testing.T) {
		ev := valid
		ev.Participants = []Participant{{PlayerID: "p1", StatDeltas: map[Metric]int{"assists": 1}}}
		assert.True(t, problemFields(t, ev.Validate())["participants[0].stat_deltas"])
	})

	t.Run("unknown type", func(t *testing.T) {
		ev := valid
		ev.Type = "MATCH_STARTED"
		assert.True(t, problemFields(t, ev.Validate())["type"])
	})
}

func TestParticipantDelta(t *testing.T) {
	win := Participant{PlayerID: "p1", Result: ResultWin, StatDeltas: map[Metric]int{MetricGoals: 3}}

	tests := []struct {
		name    string
		p       Participant
		trigger TriggerEvent
		metric  Metric
		want    int
		ok      bool
	}{
		{"explicit delta", win, TriggerMatchEnded, MetricGoals, 3, true},
		{"win from result", win, TriggerMatchEnded, MetricWins, 1, true},
		{"no loss on a win", win, TriggerMatchEnded, MetricLosses, 0, true},
		{"match counted", win, TriggerMatchEnded, MetricMatches, 1, true},
		{"no result outside match end", win, TriggerGoalScored, MetricWins, 0, false},
		{"missing metric", win, TriggerMatchEnded, MetricFatalities, 0, false},
		{"no result reported", Participant{PlayerID: "p1"}, TriggerMatchEnded, MetricWins, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.p.Delta(tt.trigger, tt.metric)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionUnmarshalStrict(t *testing.T) {
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(`{"type":"streak","metric":"wins","streak_condition":{"result":"win","min_streak":5}}`), &c))
	assert.Equal(t, 5, c.Streak.MinStreak)

	err := json.Unmarshal([]byte(`{"type":"counter","metric":"wins","bogus":1}`), &c)
	assert.True(t, IsValidationError(err))

	err = json.Unmarshal([]byte(`{"type":"combo","metric":"wins"}`), &c)
	assert.True(t, problemFields(t, err)["condition.type"])

	err = json.Unmarshal([]byte(`{"type":"streak","metric":"wins"}`), &c)
	assert.True(t, problemFields(t, err)["condition.streak_condition"])

	lo, hi := 5, 1
	bad := Condition{Type: ConditionCounter, Metric: MetricWins, Filters: &Filters{ScoreDiff: &Range{Min: &lo, Max: &hi}}}
	assert.True(t, problemFields(t, bad.Validate())["condition.filters.score_diff"])
}

func TestDefinitionValidate(t *testing.T) {
	def := Definition{
		Key:          "mmr-1500",
		Name:         "Rising",
		CategoryID:   "c1",
		TriggerEvent: TriggerMatchEnded,
		Condition:    Condition{Type: ConditionThreshold, Metric: MetricMMR},
		Points:       10,
		MaxProgress:  1500,
	}
	require.NoError(t, def.Validate())

	def.IsRepeatable = true
	assert.True(t, problemFields(t, def.Validate())["is_repeatable"])

	def.IsRepeatable = false
	def.ID = "d1"
	def.ParentID = &def.ID
	assert.True(t, problemFields(t, def.Validate())["parent_id"])
}

func TestDefinitionBucketAndTarget(t *testing.T) {
	season := "s1"
	allTime := Definition{MaxProgress: 10}
	b, ok := allTime.Bucket(&season)
	assert.True(t, ok)
	assert.Equal(t, AllTimeBucket, b)

	seasonal := Definition{IsSeasonSpecific: true}
	_, ok = seasonal.Bucket(nil)
	assert.False(t, ok)
	b, ok = seasonal.Bucket(&season)
	assert.True(t, ok)
	assert.Equal(t, SeasonBucket("s1"), b)

	streak := Definition{MaxProgress: 1, Condition: Condition{Type: ConditionStreak, Streak: &StreakCondition{Result: ResultWin, MinStreak: 3}}}
	assert.Equal(t, 3, streak.Target())
	assert.Equal(t, 10, allTime.Target())
}

func TestChainIndexCheckLink(t *testing.T) {
	a, b := "a", "b"
	idx := NewChainIndex([]Definition{
		{ID: "a"},
		{ID: "b", ParentID: &a},
		{ID: "c", ParentID: &b},
		{ID: "d"},
	})

	parent, ok := idx.Parent("c")
	require.True(t, ok)
	assert.Equal(t, "b", parent.ID)
	assert.Equal(t, 0, idx.Depth("a"))
	assert.Equal(t, 2, idx.Depth("c"))
	assert.Equal(t, 0, idx.Depth("zzz"))

	assert.NoError(t, idx.CheckLink("d", "c"), "extending the chain tail")
	assert.NoError(t, idx.CheckLink("b", "a"), "re-saving an existing link")
	assert.ErrorIs(t, idx.CheckLink("d", "a"), ErrChainIntegrity, "second successor")
	assert.ErrorIs(t, idx.CheckLink("a", "c"), ErrChainIntegrity, "cycle")
	assert.ErrorIs(t, idx.CheckLink("d", "zzz"), ErrDefinitionNotFound)
}

func TestRewardValidate(t *testing.T) {
	title := RewardDefinition{Key: "champ", Name: "Champ", Type: RewardTitle, DisplayValue: "Champ"}
	assert.True(t, problemFields(t, title.Validate())["display_position"])

	title.DisplayPosition = DisplaySuffix
	assert.NoError(t, title.Validate())

	assert.True(t, RewardFrame.Valid())
	assert.False(t, RewardType("badge").Valid())
}
