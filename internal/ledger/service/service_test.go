package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/config"
	"github.com/forgeapps/metering/internal/ledger/domain"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.CreditBalance{}, &domain.CreditTransaction{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Metering: config.NewStaticMeteringConfigHolder(config.DefaultMeteringConfig()),
	})
	return svc, conn
}

func TestAllocateAndDeduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	member := snowflake.ID(1001)

	balance, err := svc.Allocate(ctx, domain.AllocateRequest{
		MemberID:    member,
		Amount:      1000,
		Type:        domain.TransactionTypePurchase,
		Description: "Credit purchase",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	balance, err = svc.Deduct(ctx, domain.DeductRequest{
		MemberID:    member,
		Amount:      300,
		Description: "Usage: llm_tokens x300",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(700), balance)

	got, err := svc.GetBalance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(700), got.Balance)
	assert.Equal(t, int64(1000), got.LifetimeEarned)
	assert.Equal(t, int64(300), got.LifetimeSpent)
	assert.Equal(t, got.Balance, got.LifetimeEarned-got.LifetimeSpent)

	transactions, err := svc.ListTransactions(ctx, member, 10)
	require.NoError(t, err)
	require.Len(t, transactions, 2)

	// Most recent first; every entry carries the balance it produced.
	assert.Equal(t, int64(-300), transactions[0].Amount)
	assert.Equal(t, int64(700), transactions[0].BalanceAfter)
	assert.Equal(t, domain.TransactionTypeUsageDeduction, transactions[0].Type)
	assert.Equal(t, int64(1000), transactions[1].Amount)

	var sum int64
	for _, tx := range transactions {
		sum += tx.Amount
	}
	assert.Equal(t, got.Balance, sum)
}

func TestDeductInsufficientCredits(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	member := snowflake.ID(1002)

	// No balance row at all.
	_, err := svc.Deduct(ctx, domain.DeductRequest{MemberID: member, Amount: 10})
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	_, err = svc.Allocate(ctx, domain.AllocateRequest{
		MemberID: member,
		Amount:   150,
		Type:     domain.TransactionTypeBonus,
	})
	require.NoError(t, err)

	_, err = svc.Deduct(ctx, domain.DeductRequest{MemberID: member, Amount: 100})
	require.NoError(t, err)

	_, err = svc.Deduct(ctx, domain.DeductRequest{MemberID: member, Amount: 100})
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	// The rejected deduction must leave no trace.
	got, err := svc.GetBalance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Balance)

	var count int64
	require.NoError(t, conn.Model(&domain.CreditTransaction{}).Where("member_id = ?", member).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestConcurrentDeductsSingleWinner(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	member := snowflake.ID(1003)

	_, err := svc.Allocate(ctx, domain.AllocateRequest{
		MemberID: member,
		Amount:   150,
		Type:     domain.TransactionTypePurchase,
	})
	require.NoError(t, err)

	// Two racing deducts of 100 against a balance of 150: the conditional
	// update lets exactly one through.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Deduct(ctx, domain.DeductRequest{MemberID: member, Amount: 100})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientCredits):
			rejected++
		default:
			t.Fatalf("unexpected deduct error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	got, err := svc.GetBalance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Balance)
	assert.Equal(t, got.Balance, got.LifetimeEarned-got.LifetimeSpent)

	// The losing deduct must not have appended a transaction.
	var count int64
	require.NoError(t, conn.Model(&domain.CreditTransaction{}).
		Where("member_id = ? AND type = ?", member, domain.TransactionTypeUsageDeduction).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDeductValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Deduct(ctx, domain.DeductRequest{MemberID: 0, Amount: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidMember)

	_, err = svc.Deduct(ctx, domain.DeductRequest{MemberID: 1, Amount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Allocate(ctx, domain.AllocateRequest{MemberID: 1, Amount: -5, Type: domain.TransactionTypeBonus})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Allocate(ctx, domain.AllocateRequest{MemberID: 1, Amount: 5, Type: "mystery"})
	assert.ErrorIs(t, err, domain.ErrInvalidType)
}

func TestAllocateMonthlyRollover(t *testing.T) {
	maxRollover := int64(5000)

	tests := []struct {
		name            string
		plan            plandomain.Plan
		startingBalance int64
		expected        int64
	}{
		{
			name:            "no rollover plan keeps remaining balance untouched",
			plan:            plandomain.Plan{MonthlyCredits: 1000},
			startingBalance: 500,
			expected:        1500,
		},
		{
			name: "rollover capped by max_rollover_credits",
			plan: plandomain.Plan{
				MonthlyCredits:     10000,
				RolloverCredits:    true,
				MaxRolloverCredits: &maxRollover,
			},
			startingBalance: 8000,
			// 8000 + 10000 monthly + min(8000, 5000) rollover bonus
			expected: 23000,
		},
		{
			name: "rollover cap defaults to monthly grant",
			plan: plandomain.Plan{
				MonthlyCredits:  1000,
				RolloverCredits: true,
			},
			startingBalance: 2000,
			expected:        4000,
		},
		{
			name: "first allocation with no balance row",
			plan: plandomain.Plan{
				MonthlyCredits:  1000,
				RolloverCredits: true,
			},
			startingBalance: 0,
			expected:        1000,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			ctx := context.Background()
			member := snowflake.ID(2000 + i)

			if tt.startingBalance > 0 {
				_, err := svc.Allocate(ctx, domain.AllocateRequest{
					MemberID: member,
					Amount:   tt.startingBalance,
					Type:     domain.TransactionTypePurchase,
				})
				require.NoError(t, err)
			}

			plan := tt.plan
			plan.ID = snowflake.ID(900 + i)
			plan.Name = "test"

			balance, err := svc.AllocateMonthly(ctx, member, &plan, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, balance)

			got, err := svc.GetBalance(ctx, member)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Balance)
			require.NotNil(t, got.LastResetAt)
		})
	}
}

func TestGetBalanceZeroProjection(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	member := snowflake.ID(3001)

	got, err := svc.GetBalance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, member, got.MemberID)
	assert.Zero(t, got.Balance)

	// Reading must not create the row.
	var count int64
	require.NoError(t, conn.Model(&domain.CreditBalance{}).Where("member_id = ?", member).Count(&count).Error)
	assert.Zero(t, count)
}
