package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateIntegrationRequest struct {
	MemberID snowflake.ID   `json:"member_id"`
	Name     string         `json:"name"`
	Provider Provider       `json:"provider"`
	Config   map[string]any `json:"config"`
}

type UpdateIntegrationRequest struct {
	Name   *string            `json:"name,omitempty"`
	Config map[string]any     `json:"config,omitempty"`
	Status *IntegrationStatus `json:"status,omitempty"`
}

// QueryRequest is a single call against an integration. Query carries the SQL
// or GraphQL text; Path and Method apply to rest_api integrations only.
type QueryRequest struct {
	Query     string         `json:"query,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Path      string         `json:"path,omitempty"`
	Method    string         `json:"method,omitempty"`
}

type QueryResult struct {
	Data            any          `json:"data"`
	StatusCode      int          `json:"status_code,omitempty"`
	RowCount        int          `json:"row_count,omitempty"`
	ExecutionMillis int64        `json:"execution_millis"`
	CreditCost      int64        `json:"credit_cost"`
	UsageRecordID   snowflake.ID `json:"usage_record_id,omitempty"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, integ *Integration) error
	Save(ctx context.Context, db *gorm.DB, integ *Integration) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Integration, error)
	ListByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]Integration, error)
	CountByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (int64, error)
}

type Service interface {
	// Create enforces the member's plan integration allowance.
	Create(ctx context.Context, req CreateIntegrationRequest) (*Integration, error)
	Get(ctx context.Context, memberID, id snowflake.ID) (*Integration, error)
	List(ctx context.Context, memberID snowflake.ID) ([]Integration, error)
	Update(ctx context.Context, memberID, id snowflake.ID, req UpdateIntegrationRequest) (*Integration, error)
	Delete(ctx context.Context, memberID, id snowflake.ID) error
	// TestConnection probes the external system without billing credits.
	TestConnection(ctx context.Context, memberID, id snowflake.ID) error
	// Execute runs a query, then meters it as data_source_query usage priced
	// by execution time.
	Execute(ctx context.Context, memberID, id snowflake.ID, req QueryRequest) (*QueryResult, error)
}

var (
	ErrIntegrationNotFound     = errors.New("integration_not_found")
	ErrIntegrationDisabled     = errors.New("integration_disabled")
	ErrInvalidIntegrationName  = errors.New("invalid_integration_name")
	ErrInvalidProvider         = errors.New("invalid_provider")
	ErrInvalidConfig           = errors.New("invalid_integration_config")
	ErrIntegrationLimitReached = errors.New("integration_limit_reached")
	ErrConnectorFailure        = errors.New("connector_failure")
	ErrQueryNotAllowed         = errors.New("query_not_allowed")
)
