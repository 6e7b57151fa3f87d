// Package domain contains the credit ledger models: the per-member balance
// row and the append-only transaction trail that reconciles against it.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CreditTransactionType is the business reason for a ledger mutation.
type CreditTransactionType string

const (
	TransactionTypePurchase          CreditTransactionType = "purchase"
	TransactionTypeMonthlyAllocation CreditTransactionType = "monthly_allocation"
	TransactionTypeBonus             CreditTransactionType = "bonus"
	TransactionTypeRefund            CreditTransactionType = "refund"
	TransactionTypeUsageDeduction    CreditTransactionType = "usage_deduction"
	TransactionTypeRollover          CreditTransactionType = "rollover"
)

// CreditBalance is the authoritative running balance for one member.
// Invariants: balance == lifetime_earned - lifetime_spent, balance >= 0.
// Only the ledger service writes this table.
type CreditBalance struct {
	MemberID       snowflake.ID `gorm:"primaryKey" json:"member_id"`
	Balance        int64        `gorm:"not null;default:0" json:"balance"`
	LifetimeEarned int64        `gorm:"not null;default:0" json:"lifetime_earned"`
	LifetimeSpent  int64        `gorm:"not null;default:0" json:"lifetime_spent"`
	LastResetAt    *time.Time   `gorm:"" json:"last_reset_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

// CreditTransaction is an immutable audit record for one balance mutation.
// Amount is signed: positive for credits, negative for debits. BalanceAfter
// snapshots the balance as committed by the same transaction.
type CreditTransaction struct {
	ID             snowflake.ID          `gorm:"primaryKey" json:"id"`
	MemberID       snowflake.ID          `gorm:"not null;index:idx_credit_transactions_member_time,priority:1" json:"member_id"`
	Amount         int64                 `gorm:"not null" json:"amount"`
	BalanceAfter   int64                 `gorm:"not null" json:"balance_after"`
	Type           CreditTransactionType `gorm:"type:text;not null" json:"type"`
	Description    string                `gorm:"type:text;not null" json:"description"`
	SubscriptionID *snowflake.ID         `gorm:"index" json:"subscription_id,omitempty"`
	UsageRecordID  *snowflake.ID         `gorm:"index" json:"usage_record_id,omitempty"`
	ChatID         *string               `gorm:"type:text" json:"chat_id,omitempty"`
	Metadata       datatypes.JSONMap     `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_credit_transactions_member_time,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }
