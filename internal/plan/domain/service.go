package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreatePlanRequest struct {
	Name               string `json:"name"`
	MonthlyPrice       int64  `json:"monthly_price"`
	YearlyPrice        int64  `json:"yearly_price"`
	Currency           string `json:"currency"`
	MonthlyCredits     int64  `json:"monthly_credits"`
	RolloverCredits    bool   `json:"rollover_credits"`
	MaxRolloverCredits *int64 `json:"max_rollover_credits,omitempty"`
	MaxProjects        Limit  `json:"max_projects"`
	MaxIntegrations    Limit  `json:"max_integrations"`
	MaxTeamMembers     Limit  `json:"max_team_members"`
	MaxDeployments     Limit  `json:"max_deployments"`
	APIRateLimit       int    `json:"api_rate_limit"`
	SortOrder          int    `json:"sort_order"`
}

type UpdatePlanRequest struct {
	Name               *string `json:"name,omitempty"`
	MonthlyPrice       *int64  `json:"monthly_price,omitempty"`
	YearlyPrice        *int64  `json:"yearly_price,omitempty"`
	MonthlyCredits     *int64  `json:"monthly_credits,omitempty"`
	RolloverCredits    *bool   `json:"rollover_credits,omitempty"`
	MaxRolloverCredits *int64  `json:"max_rollover_credits,omitempty"`
	MaxIntegrations    *Limit  `json:"max_integrations,omitempty"`
	APIRateLimit       *int    `json:"api_rate_limit,omitempty"`
	Active             *bool   `json:"active,omitempty"`
	SortOrder          *int    `json:"sort_order,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	Update(ctx context.Context, id snowflake.ID, req UpdatePlanRequest) (*Plan, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Plan, error)
	List(ctx context.Context, filter ListPlanFilter) ([]*Plan, error)
}

var (
	ErrPlanNotFound      = errors.New("plan_not_found")
	ErrInvalidPlanName   = errors.New("invalid_plan_name")
	ErrInvalidCredits    = errors.New("invalid_credits")
	ErrInvalidPrice      = errors.New("invalid_price")
	ErrDuplicatePlanName = errors.New("duplicate_plan_name")
)
