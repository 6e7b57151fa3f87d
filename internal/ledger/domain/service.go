package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
)

// RelatedRefs links a ledger mutation back to the records that caused it.
type RelatedRefs struct {
	SubscriptionID *snowflake.ID
	UsageRecordID  *snowflake.ID
	ChatID         *string
}

type AllocateRequest struct {
	MemberID    snowflake.ID
	Amount      int64
	Type        CreditTransactionType
	Description string
	Refs        RelatedRefs
	Metadata    map[string]any
}

type DeductRequest struct {
	MemberID    snowflake.ID
	Amount      int64
	Description string
	Refs        RelatedRefs
	Metadata    map[string]any
}

type Service interface {
	// Allocate credits a positive amount, lazily creating the balance row.
	Allocate(ctx context.Context, req AllocateRequest) (int64, error)
	// Deduct debits a positive amount; it fails with ErrInsufficientCredits
	// when the balance row is missing or too small, writing nothing.
	Deduct(ctx context.Context, req DeductRequest) (int64, error)
	// AllocateMonthly applies the plan's monthly grant plus the rollover
	// bonus, recording the reset timestamp.
	AllocateMonthly(ctx context.Context, memberID snowflake.ID, plan *plandomain.Plan, subscriptionID *snowflake.ID) (int64, error)
	// GetBalance returns a zeroed projection when no row exists; it never
	// creates one.
	GetBalance(ctx context.Context, memberID snowflake.ID) (CreditBalance, error)
	// ListTransactions returns up to limit entries, most recent first.
	ListTransactions(ctx context.Context, memberID snowflake.ID, limit int) ([]CreditTransaction, error)
}

var (
	ErrInvalidMember       = errors.New("invalid_member")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidType         = errors.New("invalid_transaction_type")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrLedgerUnavailable   = errors.New("ledger_unavailable")
)

// ValidTransactionType reports whether t is a known ledger mutation reason.
func ValidTransactionType(t CreditTransactionType) bool {
	switch t {
	case TransactionTypePurchase,
		TransactionTypeMonthlyAllocation,
		TransactionTypeBonus,
		TransactionTypeRefund,
		TransactionTypeUsageDeduction,
		TransactionTypeRollover:
		return true
	default:
		return false
	}
}
