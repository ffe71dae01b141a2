package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kicker-achievements/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func matchEnded(result domain.Result, gamemode string) EventContext {
	return EventContext{
		Trigger:     domain.TriggerMatchEnded,
		Participant: domain.Participant{PlayerID: "p1", Result: result},
		Match:       domain.MatchContext{Gamemode: ptr(gamemode), ScoreDiff: ptr(3), DurationSeconds: ptr(420)},
	}
}

func TestEvaluate_CounterWinsFromResult(t *testing.T) {
	cond := domain.Condition{Type: domain.ConditionCounter, Metric: domain.MetricWins}

	c, err := Evaluate(cond, matchEnded(domain.ResultWin, "1on1"))
	require.NoError(t, err)
	assert.True(t, c.Contributes())
	assert.Equal(t, OpAdd, c.Op)
	assert.Equal(t, 1, c.Value)

	c, err = Evaluate(cond, matchEnded(domain.ResultLoss, "1on1"))
	require.NoError(t, err)
	assert.False(t, c.Contributes(), "a loss carries no win delta")
}

func TestEvaluate_CounterGoalsUsesDelta(t *testing.T) {
	cond := domain.Condition{Type: domain.ConditionCounter, Metric: domain.MetricGoals}
	ev := matchEnded(domain.ResultWin, "1on1")
	ev.Participant.StatDeltas = map[domain.Metric]int{domain.MetricGoals: 7}

	c, err := Evaluate(cond, ev)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Value)
}

func TestEvaluate_GamemodeFilterExcludesOtherModes(t *testing.T) {
	cond := domain.Condition{
		Type:    domain.ConditionCounter,
		Metric:  domain.MetricGoals,
		Filters: &domain.Filters{Gamemode: ptr("1on1")},
	}
	ev := matchEnded(domain.ResultWin, "2on2")
	ev.Participant.StatDeltas = map[domain.Metric]int{domain.MetricGoals: 5}

	c, err := Evaluate(cond, ev)
	require.NoError(t, err)
	assert.False(t, c.Contributes())
}

func TestEvaluate_MissingFilteredFieldNeverContributes(t *testing.T) {
	cond := domain.Condition{
		Type:    domain.ConditionCounter,
		Metric:  domain.MetricWins,
		Filters: &domain.Filters{OpponentMMR: &domain.Range{Min: ptr(1000)}},
	}
	c, err := Evaluate(cond, matchEnded(domain.ResultWin, "1on1"))
	require.NoError(t, err)
	assert.False(t, c.Contributes(), "event has no opponent_mmr")
}

func TestEvaluate_RangeFiltersAreANDed(t *testing.T) {
	cond := domain.Condition{
		Type:   domain.ConditionCounter,
		Metric: domain.MetricWins,
		Filters: &domain.Filters{
			Result:          ptr(domain.ResultWin),
			ScoreDiff:       &domain.Range{Min: ptr(3)},
			DurationSeconds: &domain.Range{Max: ptr(300)},
		},
	}
	c, err := Evaluate(cond, matchEnded(domain.ResultWin, "1on1"))
	require.NoError(t, err)
	assert.False(t, c.Contributes(), "duration 420 exceeds max 300")

	ev := matchEnded(domain.ResultWin, "1on1")
	ev.Match.DurationSeconds = ptr(300)
	c, err = Evaluate(cond, ev)
	require.NoError(t, err)
	assert.True(t, c.Contributes())
}

func TestEvaluate_ThresholdReadsAbsoluteTotal(t *testing.T) {
	cond := domain.Condition{Type: domain.ConditionThreshold, Metric: domain.MetricMMR}
	ev := matchEnded(domain.ResultWin, "1on1")
	ev.Participant.StatDeltas = map[domain.Metric]int{domain.MetricMMR: 12}
	ev.Participant.StatTotals = map[domain.Metric]int{domain.MetricMMR: 1512}

	c, err := Evaluate(cond, ev)
	require.NoError(t, err)
	assert.Equal(t, OpSet, c.Op)
	assert.Equal(t, 1512, c.Value)
	assert.Equal(t, domain.ConditionThreshold, c.Type)
}

func TestEvaluate_Streak(t *testing.T) {
	cond := domain.Condition{
		Type:   domain.ConditionStreak,
		Metric: domain.MetricWins,
		Streak: &domain.StreakCondition{Result: domain.ResultWin, MinStreak: 3},
	}

	c, err := Evaluate(cond, matchEnded(domain.ResultWin, "1on1"))
	require.NoError(t, err)
	assert.Equal(t, OpExtendStreak, c.Op)
	assert.Equal(t, 1, c.Value)

	c, err = Evaluate(cond, matchEnded(domain.ResultLoss, "1on1"))
	require.NoError(t, err)
	assert.Equal(t, OpBreakStreak, c.Op)

	assert.False(t, Satisfied(cond, 2))
	assert.True(t, Satisfied(cond, 3))
}

func TestEvaluate_LossStreakCountsDown(t *testing.T) {
	cond := domain.Condition{
		Type:   domain.ConditionStreak,
		Metric: domain.MetricLosses,
		Streak: &domain.StreakCondition{Result: domain.ResultLoss, MinStreak: 2},
	}
	c, err := Evaluate(cond, matchEnded(domain.ResultLoss, "1on1"))
	require.NoError(t, err)
	assert.Equal(t, -1, c.Value)
	assert.True(t, Satisfied(cond, -2))
}

func TestEvaluate_MalformedConditionIsValidationError(t *testing.T) {
	tests := []struct {
		name string
		cond domain.Condition
	}{
		{"unknown metric", domain.Condition{Type: domain.ConditionCounter, Metric: "assists"}},
		{"unknown type", domain.Condition{Type: "ratio", Metric: domain.MetricWins}},
		{"streak without streak_condition", domain.Condition{Type: domain.ConditionStreak, Metric: domain.MetricWins}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.cond, matchEnded(domain.ResultWin, "1on1"))
			require.Error(t, err)
			assert.True(t, domain.IsValidationError(err))
		})
	}
}
