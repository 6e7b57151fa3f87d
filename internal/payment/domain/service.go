package domain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// ProviderEvent is a raw webhook payload in the provider's envelope shape.
type ProviderEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type Service interface {
	// HandleStripeEvent translates a Stripe webhook event into local state:
	// subscription patches, cancellations, and payment records. Unrecognized
	// event types are logged and acknowledged.
	HandleStripeEvent(ctx context.Context, event ProviderEvent) error
	ListPayments(ctx context.Context, memberID snowflake.ID, limit int) ([]Payment, error)
}

var (
	ErrMalformedEvent = errors.New("malformed_event")
	ErrInvalidMember  = errors.New("invalid_member")
)
