// Package domain contains persistence models for metered usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ResourceType classifies a unit of metered consumption.
type ResourceType string

const (
	ResourceLLMTokens       ResourceType = "llm_tokens"
	ResourceAPICall         ResourceType = "api_call"
	ResourceStorage         ResourceType = "storage"
	ResourceDeployment      ResourceType = "deployment"
	ResourceDataSourceQuery ResourceType = "data_source_query"
)

// UsageRecord stores a single metered action. The record is written before
// the credit deduction is attempted and is never deleted; a failed deduction
// is marked in metadata instead.
type UsageRecord struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	MemberID         snowflake.ID      `gorm:"not null;index:idx_usage_records_member_time,priority:1" json:"member_id"`
	ChatID           *string           `gorm:"type:text" json:"chat_id,omitempty"`
	ResourceType     ResourceType      `gorm:"type:text;not null" json:"resource_type"`
	Quantity         int64             `gorm:"not null" json:"quantity"`
	CreditCost       int64             `gorm:"not null" json:"credit_cost"`
	PromptTokens     *int64            `gorm:"" json:"prompt_tokens,omitempty"`
	CompletionTokens *int64            `gorm:"" json:"completion_tokens,omitempty"`
	IntegrationID    *snowflake.ID     `gorm:"index" json:"integration_id,omitempty"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_usage_records_member_time,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// ValidResourceType reports whether t is a known resource type.
func ValidResourceType(t ResourceType) bool {
	switch t {
	case ResourceLLMTokens, ResourceAPICall, ResourceStorage, ResourceDeployment, ResourceDataSourceQuery:
		return true
	default:
		return false
	}
}
