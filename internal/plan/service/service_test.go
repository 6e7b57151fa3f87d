package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/plan/domain"
	"github.com/forgeapps/metering/internal/plan/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Plan{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
}

func TestCreatePlanDefaults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, domain.CreatePlanRequest{
		Name:           "  starter  ",
		MonthlyCredits: 8000,
	})
	require.NoError(t, err)
	assert.Equal(t, "starter", plan.Name)
	assert.Equal(t, "usd", plan.Currency)
	assert.Equal(t, 60, plan.APIRateLimit)
	assert.True(t, plan.Active)
}

func TestCreatePlanValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreatePlanRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidPlanName)

	_, err = svc.Create(ctx, domain.CreatePlanRequest{Name: "bad", MonthlyCredits: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidCredits)

	_, err = svc.Create(ctx, domain.CreatePlanRequest{Name: "bad", MonthlyPrice: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestCreatePlanDuplicateName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreatePlanRequest{Name: "pro"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, domain.CreatePlanRequest{Name: "pro"})
	assert.ErrorIs(t, err, domain.ErrDuplicatePlanName)
}

func TestUpdatePlan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, domain.CreatePlanRequest{
		Name:           "starter",
		MonthlyCredits: 8000,
	})
	require.NoError(t, err)

	credits := int64(10000)
	inactive := false
	updated, err := svc.Update(ctx, plan.ID, domain.UpdatePlanRequest{
		MonthlyCredits: &credits,
		Active:         &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), updated.MonthlyCredits)
	assert.False(t, updated.Active)

	// Deactivation sticks across reads.
	got, err := svc.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestGetPlanNotFound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetByID(ctx, snowflake.ID(12345))
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)

	_, err = svc.GetByID(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestListPlansFiltersInactive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	active, err := svc.Create(ctx, domain.CreatePlanRequest{Name: "free", SortOrder: 1})
	require.NoError(t, err)
	retired, err := svc.Create(ctx, domain.CreatePlanRequest{Name: "legacy", SortOrder: 2})
	require.NoError(t, err)

	inactive := false
	_, err = svc.Update(ctx, retired.ID, domain.UpdatePlanRequest{Active: &inactive})
	require.NoError(t, err)

	visible, err := svc.List(ctx, domain.ListPlanFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, active.ID, visible[0].ID)

	all, err := svc.List(ctx, domain.ListPlanFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
