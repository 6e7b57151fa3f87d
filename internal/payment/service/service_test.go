package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/config"
	ledgerdomain "github.com/forgeapps/metering/internal/ledger/domain"
	ledgerservice "github.com/forgeapps/metering/internal/ledger/service"
	"github.com/forgeapps/metering/internal/payment/domain"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	planrepository "github.com/forgeapps/metering/internal/plan/repository"
	planservice "github.com/forgeapps/metering/internal/plan/service"
	subscriptiondomain "github.com/forgeapps/metering/internal/subscription/domain"
	subscriptionrepository "github.com/forgeapps/metering/internal/subscription/repository"
	subscriptionservice "github.com/forgeapps/metering/internal/subscription/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	conn       *gorm.DB
	paymentSvc domain.Service
	subSvc     subscriptiondomain.Service
	ledgerSvc  ledgerdomain.Service
	member     snowflake.ID
	sub        *subscriptiondomain.Subscription
}

const (
	externalSubID      = "sub_ext_1"
	externalCustomerID = "cus_1"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&ledgerdomain.CreditBalance{},
		&ledgerdomain.CreditTransaction{},
		&domain.Payment{},
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
	paymentSvc := NewService(Params{
		DB:     conn,
		Log:    log,
		GenID:  node,
		SubSvc: subSvc,
	})

	ctx := context.Background()
	plan, err := planSvc.Create(ctx, plandomain.CreatePlanRequest{Name: "starter", MonthlyCredits: 1000})
	require.NoError(t, err)

	member := snowflake.ID(6001)
	externalID := externalSubID
	customerID := externalCustomerID
	sub, err := subSvc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		MemberID:               member,
		PlanID:                 plan.ID,
		BillingPeriod:          subscriptiondomain.BillingPeriodMonthly,
		ExternalSubscriptionID: &externalID,
		ExternalCustomerID:     &customerID,
	})
	require.NoError(t, err)

	// Let the async initial allocation settle so balance assertions are stable.
	require.Eventually(t, func() bool {
		balance, err := ledgerSvc.GetBalance(ctx, member)
		return err == nil && balance.Balance == 1000
	}, 5*time.Second, 20*time.Millisecond)

	return &testEnv{
		conn:       conn,
		paymentSvc: paymentSvc,
		subSvc:     subSvc,
		ledgerSvc:  ledgerSvc,
		member:     member,
		sub:        sub,
	}
}

func stripeEvent(t *testing.T, id, eventType string, object any) domain.ProviderEvent {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)

	event := domain.ProviderEvent{ID: id, Type: eventType}
	event.Data.Object = raw
	return event
}

func TestSubscriptionUpdatedEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	periodStart := time.Now().UTC().Truncate(time.Second)
	periodEnd := periodStart.Add(30 * 24 * time.Hour)
	event := stripeEvent(t, "evt_1", "customer.subscription.updated", map[string]any{
		"id":                   externalSubID,
		"customer":             "cus_1",
		"status":               "past_due",
		"current_period_start": periodStart.Unix(),
		"current_period_end":   periodEnd.Unix(),
	})

	require.NoError(t, env.paymentSvc.HandleStripeEvent(ctx, event))

	sub, err := env.subSvc.GetByID(ctx, env.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, sub.Status)
	assert.WithinDuration(t, periodEnd, sub.CurrentPeriodEnd, time.Second)
}

func TestSubscriptionDeletedEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	event := stripeEvent(t, "evt_2", "customer.subscription.deleted", map[string]any{
		"id": externalSubID,
	})
	require.NoError(t, env.paymentSvc.HandleStripeEvent(ctx, event))

	sub, err := env.subSvc.GetByID(ctx, env.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, sub.Status)
}

func TestInvoicePaidRecordsPaymentWithoutGrantingCredits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	event := stripeEvent(t, "evt_3", "invoice.paid", map[string]any{
		"id":           "in_1",
		"customer":     "cus_1",
		"subscription": externalSubID,
		"amount_paid":  1900,
		"currency":     "usd",
	})
	require.NoError(t, env.paymentSvc.HandleStripeEvent(ctx, event))

	payments, err := env.paymentSvc.ListPayments(ctx, env.member, 10)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusSucceeded, payments[0].Status)
	assert.Equal(t, int64(1900), payments[0].Amount)
	require.NotNil(t, payments[0].PaidAt)

	// Credit allocation is renewal's job; a paid invoice must not double-grant.
	balance, err := env.ledgerSvc.GetBalance(ctx, env.member)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Balance)

	// Redelivery collapses into the existing row.
	require.NoError(t, env.paymentSvc.HandleStripeEvent(ctx, event))
	payments, err = env.paymentSvc.ListPayments(ctx, env.member, 10)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestInvoicePaidResolvesMemberThroughCustomerID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One-off invoices carry no subscription reference, only the customer.
	event := stripeEvent(t, "evt_8", "invoice.paid", map[string]any{
		"id":          "in_3",
		"customer":    externalCustomerID,
		"amount_paid": 900,
	})
	require.NoError(t, env.paymentSvc.HandleStripeEvent(ctx, event))

	payments, err := env.paymentSvc.ListPayments(ctx, env.member, 10)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, int64(900), payments[0].Amount)
	require.NotNil(t, payments[0].SubscriptionID)
	assert.Equal(t, env.sub.ID, *payments[0].SubscriptionID)

	// Unknown customers are acknowledged without writing anything.
	foreign := stripeEvent(t, "evt_9", "invoice.paid", map[string]any{
		"id":          "in_4",
		"customer":    "cus_foreign",
		"amount_paid": 900,
	})
	require.NoError(t, env.paymentSvc.HandleStripeEvent(ctx, foreign))
	payments, err = env.paymentSvc.ListPayments(ctx, env.member, 10)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestInvoicePaymentFailedMarksPastDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	event := stripeEvent(t, "evt_4", "invoice.payment_failed", map[string]any{
		"id":           "in_2",
		"customer":     "cus_1",
		"subscription": externalSubID,
		"amount_due":   1900,
	})
	require.NoError(t, env.paymentSvc.HandleStripeEvent(ctx, event))

	sub, err := env.subSvc.GetByID(ctx, env.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, sub.Status)

	payments, err := env.paymentSvc.ListPayments(ctx, env.member, 10)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusFailed, payments[0].Status)
}

func TestUnknownAndMalformedEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unknown := stripeEvent(t, "evt_5", "charge.refunded", map[string]any{"id": "ch_1"})
	assert.NoError(t, env.paymentSvc.HandleStripeEvent(ctx, unknown))

	// Events for subscriptions we never issued are acknowledged, not retried.
	orphan := stripeEvent(t, "evt_6", "customer.subscription.updated", map[string]any{
		"id":     "sub_foreign",
		"status": "active",
	})
	assert.NoError(t, env.paymentSvc.HandleStripeEvent(ctx, orphan))

	malformed := domain.ProviderEvent{ID: "evt_7", Type: "invoice.paid"}
	assert.ErrorIs(t, env.paymentSvc.HandleStripeEvent(ctx, malformed), domain.ErrMalformedEvent)

	// An invoice with neither subscription nor customer cannot be attributed.
	unattributable := stripeEvent(t, "evt_10", "invoice.paid", map[string]any{"id": "in_bare"})
	assert.ErrorIs(t, env.paymentSvc.HandleStripeEvent(ctx, unattributable), domain.ErrMalformedEvent)
}
