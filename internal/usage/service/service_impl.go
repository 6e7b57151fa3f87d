package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/config"
	ledgerdomain "github.com/forgeapps/metering/internal/ledger/domain"
	"github.com/forgeapps/metering/internal/observability/metrics"
	"github.com/forgeapps/metering/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	LedgerSvc ledgerdomain.Service
	Metering  *config.MeteringConfigHolder
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	ledgerSvc ledgerdomain.Service
	metering  *config.MeteringConfigHolder
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("usage.service"),
		genID:     p.GenID,
		ledgerSvc: p.LedgerSvc,
		metering:  p.Metering,
		metrics:   p.Metrics,
	}
}

func (s *Service) RecordUsage(ctx context.Context, req domain.RecordUsageRequest) (*domain.UsageRecord, error) {
	if req.MemberID == 0 {
		return nil, domain.ErrInvalidMember
	}
	if !domain.ValidResourceType(req.ResourceType) {
		return nil, domain.ErrInvalidResourceType
	}
	if req.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if req.CreditCost < 0 {
		return nil, domain.ErrInvalidCreditCost
	}

	cost := req.CreditCost
	if cost == 0 {
		cost = s.defaultCost(req.ResourceType, req.Quantity)
	}
	if cost <= 0 {
		return nil, domain.ErrInvalidCreditCost
	}

	record := &domain.UsageRecord{
		ID:               s.genID.Generate(),
		MemberID:         req.MemberID,
		ChatID:           req.ChatID,
		ResourceType:     req.ResourceType,
		Quantity:         req.Quantity,
		CreditCost:       cost,
		PromptTokens:     req.PromptTokens,
		CompletionTokens: req.CompletionTokens,
		IntegrationID:    req.IntegrationID,
		Metadata:         datatypes.JSONMap(req.Metadata),
		CreatedAt:        time.Now().UTC(),
	}

	// The record is committed before the deduction so that usage is never
	// lost, even when the member runs out of credits mid-action.
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}

	_, err := s.ledgerSvc.Deduct(ctx, ledgerdomain.DeductRequest{
		MemberID:    req.MemberID,
		Amount:      cost,
		Description: fmt.Sprintf("Usage: %s x%d", req.ResourceType, req.Quantity),
		Refs: ledgerdomain.RelatedRefs{
			UsageRecordID: &record.ID,
			ChatID:        req.ChatID,
		},
	})
	if err != nil {
		s.markDeductionFailed(ctx, record, err)
		s.metrics.RecordUsage(ctx, string(req.ResourceType), true)
		return record, err
	}

	s.metrics.RecordUsage(ctx, string(req.ResourceType), false)
	return record, nil
}

func (s *Service) List(ctx context.Context, req domain.ListUsageRequest) ([]domain.UsageRecord, error) {
	if req.MemberID == 0 {
		return nil, domain.ErrInvalidMember
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	q := s.db.WithContext(ctx).Where("member_id = ?", req.MemberID)
	if req.ResourceType != "" {
		if !domain.ValidResourceType(req.ResourceType) {
			return nil, domain.ErrInvalidResourceType
		}
		q = q.Where("resource_type = ?", req.ResourceType)
	}

	var records []domain.UsageRecord
	err := q.Order("created_at desc, id desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// QueryCost bills one credit per started latency window plus a flat base cost.
func (s *Service) QueryCost(executionMillis int64) int64 {
	cfg := s.metering.Get()
	if executionMillis < 0 {
		executionMillis = 0
	}
	window := cfg.QueryLatencyWindowMillis
	windows := (executionMillis + window - 1) / window
	return windows + cfg.QueryBaseCost
}

func (s *Service) defaultCost(resourceType domain.ResourceType, quantity int64) int64 {
	perUnit, ok := s.metering.Get().CreditCosts[string(resourceType)]
	if !ok {
		return 0
	}
	return perUnit * quantity
}

// markDeductionFailed annotates the already-persisted record. Annotation
// failures are logged only, the ledger error is what the caller needs.
func (s *Service) markDeductionFailed(ctx context.Context, record *domain.UsageRecord, cause error) {
	if record.Metadata == nil {
		record.Metadata = datatypes.JSONMap{}
	}
	record.Metadata["creditDeductionFailed"] = true
	record.Metadata["creditDeductionError"] = cause.Error()

	err := s.db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("id = ?", record.ID).
		Update("metadata", record.Metadata).Error
	if err != nil {
		s.log.Error("failed to annotate usage record",
			zap.String("usage_record_id", record.ID.String()),
			zap.Error(err),
		)
	}
}
