package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/config"
	"github.com/forgeapps/metering/internal/integration/connector"
	"github.com/forgeapps/metering/internal/integration/domain"
	"github.com/forgeapps/metering/internal/integration/repository"
	ledgerdomain "github.com/forgeapps/metering/internal/ledger/domain"
	ledgerservice "github.com/forgeapps/metering/internal/ledger/service"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	planrepository "github.com/forgeapps/metering/internal/plan/repository"
	planservice "github.com/forgeapps/metering/internal/plan/service"
	subscriptiondomain "github.com/forgeapps/metering/internal/subscription/domain"
	subscriptionrepository "github.com/forgeapps/metering/internal/subscription/repository"
	subscriptionservice "github.com/forgeapps/metering/internal/subscription/service"
	usagedomain "github.com/forgeapps/metering/internal/usage/domain"
	usageservice "github.com/forgeapps/metering/internal/usage/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	conn      *gorm.DB
	integSvc  domain.Service
	planSvc   plandomain.Service
	subSvc    subscriptiondomain.Service
	ledgerSvc ledgerdomain.Service
	usageSvc  usagedomain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&ledgerdomain.CreditBalance{},
		&ledgerdomain.CreditTransaction{},
		&usagedomain.UsageRecord{},
		&domain.Integration{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	holder := config.NewStaticMeteringConfigHolder(config.DefaultMeteringConfig())

	planSvc := planservice.NewService(planservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  planrepository.Provide(),
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Metering: holder,
	})
	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:        conn,
		Log:       log,
		GenID:     node,
		Repo:      subscriptionrepository.Provide(),
		PlanSvc:   planSvc,
		LedgerSvc: ledgerSvc,
	})
	usageSvc := usageservice.NewService(usageservice.Params{
		DB:        conn,
		Log:       log,
		GenID:     node,
		LedgerSvc: ledgerSvc,
		Metering:  holder,
	})
	integSvc := NewService(Params{
		DB:         conn,
		Log:        log,
		GenID:      node,
		Repo:       repository.Provide(),
		Connectors: connector.NewRegistry(),
		PlanSvc:    planSvc,
		SubSvc:     subSvc,
		UsageSvc:   usageSvc,
		Metering:   holder,
	})

	return &testEnv{
		conn:      conn,
		integSvc:  integSvc,
		planSvc:   planSvc,
		subSvc:    subSvc,
		ledgerSvc: ledgerSvc,
		usageSvc:  usageSvc,
	}
}

func (e *testEnv) subscribe(t *testing.T, member snowflake.ID, maxIntegrations plandomain.Limit, monthlyCredits int64) {
	t.Helper()
	ctx := context.Background()

	plan, err := e.planSvc.Create(ctx, plandomain.CreatePlanRequest{
		Name:            fmt.Sprintf("plan-%s", t.Name()),
		MonthlyCredits:  monthlyCredits,
		MaxIntegrations: maxIntegrations,
	})
	require.NoError(t, err)

	_, err = e.subSvc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		MemberID:      member,
		PlanID:        plan.ID,
		BillingPeriod: subscriptiondomain.BillingPeriodMonthly,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		balance, err := e.ledgerSvc.GetBalance(ctx, member)
		return err == nil && balance.Balance == monthlyCredits
	}, 5*time.Second, 20*time.Millisecond)
}

func restConfig(baseURL string) map[string]any {
	return map[string]any{"baseUrl": baseURL}
}

func TestCreateEnforcesPlanLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := snowflake.ID(7001)
	env.subscribe(t, member, plandomain.Limit(2), 1000)

	for i := 0; i < 2; i++ {
		_, err := env.integSvc.Create(ctx, domain.CreateIntegrationRequest{
			MemberID: member,
			Name:     fmt.Sprintf("api-%d", i),
			Provider: domain.ProviderRESTAPI,
			Config:   restConfig("https://api.example.com"),
		})
		require.NoError(t, err)
	}

	_, err := env.integSvc.Create(ctx, domain.CreateIntegrationRequest{
		MemberID: member,
		Name:     "one-too-many",
		Provider: domain.ProviderRESTAPI,
		Config:   restConfig("https://api.example.com"),
	})
	require.ErrorIs(t, err, domain.ErrIntegrationLimitReached)
	assert.Contains(t, err.Error(), "plan allows 2 integrations")
}

func TestCreateDefaultLimitWithoutSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := snowflake.ID(7002)

	_, err := env.integSvc.Create(ctx, domain.CreateIntegrationRequest{
		MemberID: member,
		Name:     "first",
		Provider: domain.ProviderRESTAPI,
		Config:   restConfig("https://api.example.com"),
	})
	require.NoError(t, err)

	_, err = env.integSvc.Create(ctx, domain.CreateIntegrationRequest{
		MemberID: member,
		Name:     "second",
		Provider: domain.ProviderRESTAPI,
		Config:   restConfig("https://api.example.com"),
	})
	assert.ErrorIs(t, err, domain.ErrIntegrationLimitReached)
}

func TestCreateValidatesConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := snowflake.ID(7003)

	_, err := env.integSvc.Create(ctx, domain.CreateIntegrationRequest{
		MemberID: member,
		Name:     "missing base url",
		Provider: domain.ProviderRESTAPI,
		Config:   map[string]any{"headers": map[string]any{"X-Key": "k"}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = env.integSvc.Create(ctx, domain.CreateIntegrationRequest{
		MemberID: member,
		Name:     "unknown provider",
		Provider: domain.Provider("mysql"),
		Config:   map[string]any{},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)
}

func TestExecuteMetersQuery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := snowflake.ID(7004)
	env.subscribe(t, member, plandomain.Unlimited, 1000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/items", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[1,2,3]}`)
	}))
	defer srv.Close()

	integ, err := env.integSvc.Create(ctx, domain.CreateIntegrationRequest{
		MemberID: member,
		Name:     "items api",
		Provider: domain.ProviderRESTAPI,
		Config:   restConfig(srv.URL),
	})
	require.NoError(t, err)

	result, err := env.integSvc.Execute(ctx, member, integ.ID, domain.QueryRequest{Path: "/v1/items"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.GreaterOrEqual(t, result.CreditCost, int64(1))
	require.NotZero(t, result.UsageRecordID)

	// The query is billed as usage against the credit balance.
	balance, err := env.ledgerSvc.GetBalance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(1000)-result.CreditCost, balance.Balance)

	records, err := env.usageSvc.List(ctx, usagedomain.ListUsageRequest{
		MemberID:     member,
		ResourceType: usagedomain.ResourceDataSourceQuery,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, result.UsageRecordID, records[0].ID)
	require.NotNil(t, records[0].IntegrationID)
	assert.Equal(t, integ.ID, *records[0].IntegrationID)

	// The integration remembers its last successful use.
	refreshed, err := env.integSvc.Get(ctx, member, integ.ID)
	require.NoError(t, err)
	assert.NotNil(t, refreshed.LastUsedAt)
	assert.Zero(t, refreshed.FailureCount)
}

func TestConnectionFailuresFlagIntegration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := snowflake.ID(7005)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	integ, err := env.integSvc.Create(ctx, domain.CreateIntegrationRequest{
		MemberID: member,
		Name:     "flaky api",
		Provider: domain.ProviderRESTAPI,
		Config:   restConfig(srv.URL),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := env.integSvc.TestConnection(ctx, member, integ.ID)
		require.ErrorIs(t, err, domain.ErrConnectorFailure)
	}

	flagged, err := env.integSvc.Get(ctx, member, integ.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrationStatusError, flagged.Status)
	assert.Equal(t, int64(3), flagged.FailureCount)
	require.NotNil(t, flagged.LastError)

	// Fresh credentials reset the failure state.
	updated, err := env.integSvc.Update(ctx, member, integ.ID, domain.UpdateIntegrationRequest{
		Config: restConfig("https://fixed.example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrationStatusActive, updated.Status)
	assert.Zero(t, updated.FailureCount)
	assert.Nil(t, updated.LastError)
}

func TestExecuteDisabledIntegration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := snowflake.ID(7006)

	integ, err := env.integSvc.Create(ctx, domain.CreateIntegrationRequest{
		MemberID: member,
		Name:     "paused api",
		Provider: domain.ProviderRESTAPI,
		Config:   restConfig("https://api.example.com"),
	})
	require.NoError(t, err)

	disabled := domain.IntegrationStatusDisabled
	_, err = env.integSvc.Update(ctx, member, integ.ID, domain.UpdateIntegrationRequest{Status: &disabled})
	require.NoError(t, err)

	_, err = env.integSvc.Execute(ctx, member, integ.ID, domain.QueryRequest{Path: "/"})
	assert.ErrorIs(t, err, domain.ErrIntegrationDisabled)
}

func TestIntegrationsAreMemberScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := snowflake.ID(7007)
	intruder := snowflake.ID(7008)

	integ, err := env.integSvc.Create(ctx, domain.CreateIntegrationRequest{
		MemberID: owner,
		Name:     "private api",
		Provider: domain.ProviderRESTAPI,
		Config:   restConfig("https://api.example.com"),
	})
	require.NoError(t, err)

	_, err = env.integSvc.Get(ctx, intruder, integ.ID)
	assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)

	err = env.integSvc.Delete(ctx, intruder, integ.ID)
	assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)

	require.NoError(t, env.integSvc.Delete(ctx, owner, integ.ID))
	_, err = env.integSvc.Get(ctx, owner, integ.ID)
	assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)
}
