package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kicker-achievements/internal/domain"
	"github.com/kicker-achievements/internal/engine"
	"github.com/kicker-achievements/internal/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strp(s string) *string { return &s }

func newAdmin(t *testing.T) (*AdminService, *memstore.Store, *domain.Category) {
	t.Helper()
	store := memstore.New()
	svc := NewAdminService(store, discardLogger())
	cat, err := svc.CreateCategory(context.Background(), domain.Category{Key: "wins", Name: "Wins"})
	require.NoError(t, err)
	return svc, store, cat
}

func counterDef(categoryID, key string) domain.Definition {
	return domain.Definition{
		Key:          key,
		Name:         key,
		CategoryID:   categoryID,
		TriggerEvent: domain.TriggerMatchEnded,
		Condition:    domain.Condition{Type: domain.ConditionCounter, Metric: domain.MetricWins},
		Points:       10,
		MaxProgress:  5,
	}
}

func TestAdmin_CreateDefinitionAssignsIDAndTimestamps(t *testing.T) {
	svc, _, cat := newAdmin(t)

	def, err := svc.CreateDefinition(context.Background(), counterDef(cat.ID, "wins-5"))
	require.NoError(t, err)

	assert.NotEmpty(t, def.ID)
	assert.False(t, def.CreatedAt.IsZero())
	got, err := svc.GetDefinition(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Equal(t, "wins-5", got.Key)
}

func TestAdmin_CreateDefinitionRejectsInvalid(t *testing.T) {
	svc, _, cat := newAdmin(t)

	bad := counterDef(cat.ID, "")
	bad.Points = 0
	bad.Condition.Metric = "assists"
	_, err := svc.CreateDefinition(context.Background(), bad)

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	fields := map[string]bool{}
	for _, p := range ve.Problems {
		fields[p.Field] = true
	}
	assert.True(t, fields["key"])
	assert.True(t, fields["points"])
	assert.True(t, fields["condition.metric"])
}

func TestAdmin_CreateDefinitionUnknownCategory(t *testing.T) {
	svc, _, _ := newAdmin(t)
	_, err := svc.CreateDefinition(context.Background(), counterDef("missing", "wins-5"))
	assert.ErrorIs(t, err, domain.ErrCategoryNotFound)
}

func TestAdmin_DuplicateKey(t *testing.T) {
	svc, _, cat := newAdmin(t)
	ctx := context.Background()
	_, err := svc.CreateDefinition(ctx, counterDef(cat.ID, "wins-5"))
	require.NoError(t, err)

	_, err = svc.CreateDefinition(ctx, counterDef(cat.ID, "wins-5"))
	assert.ErrorIs(t, err, domain.ErrKeyExists)
}

func TestAdmin_ChainRules(t *testing.T) {
	svc, _, cat := newAdmin(t)
	ctx := context.Background()

	a, err := svc.CreateDefinition(ctx, counterDef(cat.ID, "a"))
	require.NoError(t, err)
	b := counterDef(cat.ID, "b")
	b.ParentID = &a.ID
	bDef, err := svc.CreateDefinition(ctx, b)
	require.NoError(t, err)

	t.Run("second successor rejected", func(t *testing.T) {
		c := counterDef(cat.ID, "c")
		c.ParentID = &a.ID
		_, err := svc.CreateDefinition(ctx, c)
		assert.ErrorIs(t, err, domain.ErrChainIntegrity)
	})

	t.Run("cycle rejected", func(t *testing.T) {
		cycle := *a
		cycle.ParentID = &bDef.ID
		_, err := svc.UpdateDefinition(ctx, a.ID, cycle)
		assert.ErrorIs(t, err, domain.ErrChainIntegrity)
	})

	t.Run("unknown parent", func(t *testing.T) {
		c := counterDef(cat.ID, "c")
		c.ParentID = strp("nope")
		_, err := svc.CreateDefinition(ctx, c)
		assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
	})

	t.Run("parent delete rejected", func(t *testing.T) {
		err := svc.DeleteDefinition(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrChainParentInUse)
	})

	t.Run("updating a link in place is allowed", func(t *testing.T) {
		update := *bDef
		update.Name = "Renamed"
		got, err := svc.UpdateDefinition(ctx, bDef.ID, update)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, bDef.CreatedAt, got.CreatedAt)
	})
}

func TestAdmin_DeleteCategoryCascades(t *testing.T) {
	svc, _, cat := newAdmin(t)
	ctx := context.Background()
	a, err := svc.CreateDefinition(ctx, counterDef(cat.ID, "a"))
	require.NoError(t, err)
	b := counterDef(cat.ID, "b")
	b.ParentID = &a.ID
	_, err = svc.CreateDefinition(ctx, b)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCategory(ctx, cat.ID))

	defs, err := svc.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestAdmin_DeleteCategoryRejectedWhenParentingOutside(t *testing.T) {
	svc, _, cat := newAdmin(t)
	ctx := context.Background()
	other, err := svc.CreateCategory(ctx, domain.Category{Key: "goals", Name: "Goals"})
	require.NoError(t, err)
	a, err := svc.CreateDefinition(ctx, counterDef(cat.ID, "a"))
	require.NoError(t, err)
	b := counterDef(other.ID, "b")
	b.ParentID = &a.ID
	_, err = svc.CreateDefinition(ctx, b)
	require.NoError(t, err)

	err = svc.DeleteCategory(ctx, cat.ID)
	assert.ErrorIs(t, err, domain.ErrChainParentInUse)
}

func TestAdmin_CreateRewardRequiresKnownAchievement(t *testing.T) {
	svc, _, cat := newAdmin(t)
	ctx := context.Background()
	_, err := svc.CreateDefinition(ctx, counterDef(cat.ID, "wins-5"))
	require.NoError(t, err)

	title := domain.RewardDefinition{
		Key: "champ", Name: "Champ", Type: domain.RewardTitle,
		DisplayValue: "Champ", DisplayPosition: domain.DisplaySuffix,
		AchievementKey: strp("wins-5"),
	}
	got, err := svc.CreateReward(ctx, title)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)

	title.Key = "other"
	title.AchievementKey = strp("nope")
	_, err = svc.CreateReward(ctx, title)
	assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
}

func TestAdmin_CreateRewardValidatesPosition(t *testing.T) {
	svc, _, _ := newAdmin(t)
	_, err := svc.CreateReward(context.Background(), domain.RewardDefinition{
		Key: "gold", Name: "Gold", Type: domain.RewardFrame, DisplayValue: "#ffd700", DisplayPosition: domain.DisplayPrefix,
	})
	assert.True(t, domain.IsValidationError(err))
}

func TestAdmin_DeleteDefinitionKeepsUnlocksAndProgress(t *testing.T) {
	svc, store, cat := newAdmin(t)
	ctx := context.Background()
	def, err := svc.CreateDefinition(ctx, counterDef(cat.ID, "wins-5"))
	require.NoError(t, err)

	require.NoError(t, store.RunPair(ctx, "e1", def.ID, func(ctx context.Context, tx engine.Tx) error {
		key := domain.ProgressKey{PlayerID: "p1", AchievementID: def.ID}
		p, err := tx.LockProgress(ctx, key, "k1")
		if err != nil {
			return err
		}
		p.CurrentProgress = 5
		if err := tx.SaveProgress(ctx, p); err != nil {
			return err
		}
		return tx.SaveUnlock(ctx, domain.Unlock{
			ID: "u1", PlayerID: "p1", AchievementID: def.ID, KickerID: "k1",
			UnlockedAt: time.Now(), TimesCompleted: 1,
		})
	}))

	require.NoError(t, svc.DeleteDefinition(ctx, def.ID))

	unlocks, err := store.ListUnlocks(ctx, domain.UnlockFilter{PlayerID: "p1"})
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, def.ID, unlocks[0].AchievementID)

	progress, err := store.ListProgress(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 5, progress[0].CurrentProgress)
}
