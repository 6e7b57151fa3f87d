package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateSubscriptionRequest struct {
	MemberID               snowflake.ID   `json:"member_id"`
	PlanID                 snowflake.ID   `json:"plan_id"`
	BillingPeriod          BillingPeriod  `json:"billing_period"`
	TrialDays              *int           `json:"trial_days,omitempty"`
	ExternalSubscriptionID *string        `json:"external_subscription_id,omitempty"`
	ExternalCustomerID     *string        `json:"external_customer_id,omitempty"`
	Metadata               map[string]any `json:"metadata,omitempty"`
}

// ProviderUpdate carries provider-reported subscription state, matched by the
// external subscription id.
type ProviderUpdate struct {
	ExternalSubscriptionID string
	Status                 SubscriptionStatus
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      *bool
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Subscription, error)
	GetActiveByMemberID(ctx context.Context, memberID snowflake.ID) (*Subscription, error)
	// GetByExternalID resolves a subscription from the billing provider's id.
	GetByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	// GetByExternalCustomerID resolves the customer's most recent
	// subscription from the billing provider's customer id.
	GetByExternalCustomerID(ctx context.Context, customerID string) (*Subscription, error)
	// UpdateStatus is a direct status patch used by the payment event
	// translator. Cancelled records stay cancelled.
	UpdateStatus(ctx context.Context, id snowflake.ID, status SubscriptionStatus, cancelAtPeriodEnd *bool) (*Subscription, error)
	// Cancel ends the subscription now (immediate) or flags it to lapse at
	// period end, leaving status and credit access untouched until then.
	Cancel(ctx context.Context, id snowflake.ID, immediate bool) (*Subscription, error)
	// ApplyProviderUpdate patches the subscription matching the external id.
	ApplyProviderUpdate(ctx context.Context, update ProviderUpdate) (*Subscription, error)
	// CancelByExternalID force-cancels the subscription matching the
	// provider's id (subscription deleted upstream).
	CancelByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	// RenewPeriod advances the current period and triggers the monthly
	// credit allocation for the member.
	RenewPeriod(ctx context.Context, id snowflake.ID) (*Subscription, error)
}

var (
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrInvalidMember         = errors.New("invalid_member")
	ErrInvalidBillingPeriod  = errors.New("invalid_billing_period")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidTrialDays      = errors.New("invalid_trial_days")
	ErrSubscriptionCancelled = errors.New("subscription_cancelled")
)
