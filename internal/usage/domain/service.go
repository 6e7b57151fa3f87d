package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type RecordUsageRequest struct {
	MemberID         snowflake.ID   `json:"member_id"`
	ResourceType     ResourceType   `json:"resource_type"`
	Quantity         int64          `json:"quantity"`
	CreditCost       int64          `json:"credit_cost"`
	ChatID           *string        `json:"chat_id,omitempty"`
	IntegrationID    *snowflake.ID  `json:"integration_id,omitempty"`
	PromptTokens     *int64         `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64         `json:"completion_tokens,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type ListUsageRequest struct {
	MemberID     snowflake.ID
	ResourceType ResourceType
	Limit        int
}

type Service interface {
	// RecordUsage writes the usage record first, then attempts the credit
	// deduction. On deduction failure the record is annotated and kept, and
	// the ledger error is returned.
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*UsageRecord, error)
	List(ctx context.Context, req ListUsageRequest) ([]UsageRecord, error)
	// QueryCost converts data-source query latency into credits.
	QueryCost(executionMillis int64) int64
}

var (
	ErrInvalidMember       = errors.New("invalid_member")
	ErrInvalidResourceType = errors.New("invalid_resource_type")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidCreditCost   = errors.New("invalid_credit_cost")
)
