// Package domain contains persistence models for member subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
)

// BillingPeriod is the renewal cadence.
type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodYearly  BillingPeriod = "yearly"
)

// Subscription captures a member's plan agreement. A member has at most one
// subscription in "active" status at a time; this is enforced by Create, not
// by a uniqueness constraint. Old records are cancelled, never deleted.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey" json:"id"`
	MemberID               snowflake.ID       `gorm:"not null;index" json:"member_id"`
	PlanID                 snowflake.ID       `gorm:"not null;index" json:"plan_id"`
	Status                 SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	BillingPeriod          BillingPeriod      `gorm:"type:text;not null" json:"billing_period"`
	CurrentPeriodStart     time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `gorm:"not null" json:"current_period_end"`
	CancelAtPeriodEnd      bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt             *time.Time         `gorm:"" json:"canceled_at,omitempty"`
	TrialStart             *time.Time         `gorm:"" json:"trial_start,omitempty"`
	TrialEnd               *time.Time         `gorm:"" json:"trial_end,omitempty"`
	ExternalSubscriptionID *string            `gorm:"type:text;index" json:"external_subscription_id,omitempty"`
	ExternalCustomerID     *string            `gorm:"type:text;index" json:"external_customer_id,omitempty"`
	Metadata               datatypes.JSONMap  `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// PeriodLength returns the duration of one billing period.
func (p BillingPeriod) PeriodLength() time.Duration {
	if p == BillingPeriodYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// ValidBillingPeriod reports whether p is a known cadence.
func ValidBillingPeriod(p BillingPeriod) bool {
	return p == BillingPeriodMonthly || p == BillingPeriodYearly
}

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s SubscriptionStatus) bool {
	switch s {
	case SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusCancelled,
		SubscriptionStatusPaused:
		return true
	default:
		return false
	}
}
