// Package domain contains payment records and normalized provider events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment is a ledger of money movements reported by the billing provider.
// The external invoice id is unique so webhook redeliveries collapse into one
// row.
type Payment struct {
	ID                 snowflake.ID  `gorm:"primaryKey" json:"id"`
	MemberID           snowflake.ID  `gorm:"not null;index" json:"member_id"`
	SubscriptionID     *snowflake.ID `gorm:"index" json:"subscription_id,omitempty"`
	Amount             int64         `gorm:"not null" json:"amount"`
	Currency           string        `gorm:"type:text;not null;default:'usd'" json:"currency"`
	Status             PaymentStatus `gorm:"type:text;not null" json:"status"`
	Provider           string        `gorm:"type:text;not null;default:'stripe'" json:"provider"`
	ExternalInvoiceID  *string       `gorm:"type:text;uniqueIndex" json:"external_invoice_id,omitempty"`
	ExternalCustomerID *string       `gorm:"type:text" json:"external_customer_id,omitempty"`
	FailureMessage     *string       `gorm:"type:text" json:"failure_message,omitempty"`
	PaidAt             *time.Time    `gorm:"" json:"paid_at,omitempty"`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }
