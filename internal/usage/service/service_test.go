package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/config"
	ledgerdomain "github.com/forgeapps/metering/internal/ledger/domain"
	ledgerservice "github.com/forgeapps/metering/internal/ledger/service"
	"github.com/forgeapps/metering/internal/usage/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestServices(t *testing.T) (domain.Service, ledgerdomain.Service, *gorm.DB) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&ledgerdomain.CreditBalance{},
		&ledgerdomain.CreditTransaction{},
		&domain.UsageRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	holder := config.NewStaticMeteringConfigHolder(config.DefaultMeteringConfig())

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Metering: holder,
	})
	usageSvc := NewService(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		LedgerSvc: ledgerSvc,
		Metering:  holder,
	})
	return usageSvc, ledgerSvc, conn
}

func TestRecordUsageDeductsCredits(t *testing.T) {
	usageSvc, ledgerSvc, _ := newTestServices(t)
	ctx := context.Background()
	member := snowflake.ID(4001)

	_, err := ledgerSvc.Allocate(ctx, ledgerdomain.AllocateRequest{
		MemberID: member,
		Amount:   1000,
		Type:     ledgerdomain.TransactionTypePurchase,
	})
	require.NoError(t, err)

	chatID := "chat-42"
	record, err := usageSvc.RecordUsage(ctx, domain.RecordUsageRequest{
		MemberID:     member,
		ResourceType: domain.ResourceLLMTokens,
		Quantity:     150,
		CreditCost:   150,
		ChatID:       &chatID,
	})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(150), record.CreditCost)

	balance, err := ledgerSvc.GetBalance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(850), balance.Balance)

	// The deduction references the usage record it paid for.
	transactions, err := ledgerSvc.ListTransactions(ctx, member, 10)
	require.NoError(t, err)
	require.NotEmpty(t, transactions)
	require.NotNil(t, transactions[0].UsageRecordID)
	assert.Equal(t, record.ID, *transactions[0].UsageRecordID)
}

func TestRecordUsageKeepsRecordOnInsufficientCredits(t *testing.T) {
	usageSvc, ledgerSvc, conn := newTestServices(t)
	ctx := context.Background()
	member := snowflake.ID(4002)

	_, err := ledgerSvc.Allocate(ctx, ledgerdomain.AllocateRequest{
		MemberID: member,
		Amount:   50,
		Type:     ledgerdomain.TransactionTypeBonus,
	})
	require.NoError(t, err)

	record, err := usageSvc.RecordUsage(ctx, domain.RecordUsageRequest{
		MemberID:     member,
		ResourceType: domain.ResourceAPICall,
		Quantity:     1,
		CreditCost:   100,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
	require.NotNil(t, record)

	// The record survives, flagged instead of deleted.
	var stored domain.UsageRecord
	require.NoError(t, conn.Where("id = ?", record.ID).First(&stored).Error)
	assert.Equal(t, true, stored.Metadata["creditDeductionFailed"])
	assert.NotEmpty(t, stored.Metadata["creditDeductionError"])

	balance, err := ledgerSvc.GetBalance(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance)
}

func TestRecordUsageDefaultsCostFromConfig(t *testing.T) {
	usageSvc, ledgerSvc, _ := newTestServices(t)
	ctx := context.Background()
	member := snowflake.ID(4003)

	_, err := ledgerSvc.Allocate(ctx, ledgerdomain.AllocateRequest{
		MemberID: member,
		Amount:   100,
		Type:     ledgerdomain.TransactionTypePurchase,
	})
	require.NoError(t, err)

	// Default llm_tokens cost is 1 credit per unit.
	record, err := usageSvc.RecordUsage(ctx, domain.RecordUsageRequest{
		MemberID:     member,
		ResourceType: domain.ResourceLLMTokens,
		Quantity:     25,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), record.CreditCost)
}

func TestRecordUsageValidation(t *testing.T) {
	usageSvc, _, _ := newTestServices(t)
	ctx := context.Background()

	_, err := usageSvc.RecordUsage(ctx, domain.RecordUsageRequest{ResourceType: domain.ResourceStorage, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidMember)

	_, err = usageSvc.RecordUsage(ctx, domain.RecordUsageRequest{MemberID: 1, ResourceType: "gpu_seconds", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidResourceType)

	_, err = usageSvc.RecordUsage(ctx, domain.RecordUsageRequest{MemberID: 1, ResourceType: domain.ResourceStorage, Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = usageSvc.RecordUsage(ctx, domain.RecordUsageRequest{MemberID: 1, ResourceType: domain.ResourceStorage, Quantity: 1, CreditCost: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidCreditCost)
}

func TestQueryCost(t *testing.T) {
	usageSvc, _, _ := newTestServices(t)

	tests := []struct {
		millis   int64
		expected int64
	}{
		{0, 1},
		{1, 2},
		{99, 2},
		{100, 2},
		{101, 3},
		{250, 4},
		{1000, 11},
		{-5, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, usageSvc.QueryCost(tt.millis), "millis=%d", tt.millis)
	}
}

func TestListUsage(t *testing.T) {
	usageSvc, ledgerSvc, _ := newTestServices(t)
	ctx := context.Background()
	member := snowflake.ID(4004)

	_, err := ledgerSvc.Allocate(ctx, ledgerdomain.AllocateRequest{
		MemberID: member,
		Amount:   1000,
		Type:     ledgerdomain.TransactionTypePurchase,
	})
	require.NoError(t, err)

	for _, rt := range []domain.ResourceType{domain.ResourceLLMTokens, domain.ResourceAPICall, domain.ResourceLLMTokens} {
		_, err := usageSvc.RecordUsage(ctx, domain.RecordUsageRequest{
			MemberID:     member,
			ResourceType: rt,
			Quantity:     1,
			CreditCost:   1,
		})
		require.NoError(t, err)
	}

	all, err := usageSvc.List(ctx, domain.ListUsageRequest{MemberID: member})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	tokens, err := usageSvc.List(ctx, domain.ListUsageRequest{MemberID: member, ResourceType: domain.ResourceLLMTokens})
	require.NoError(t, err)
	assert.Len(t, tokens, 2)
}
