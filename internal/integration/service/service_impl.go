package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/config"
	"github.com/forgeapps/metering/internal/integration/connector"
	"github.com/forgeapps/metering/internal/integration/domain"
	"github.com/forgeapps/metering/internal/observability/metrics"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	subscriptiondomain "github.com/forgeapps/metering/internal/subscription/domain"
	usagedomain "github.com/forgeapps/metering/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// defaultIntegrationLimit applies to members without an active subscription.
const defaultIntegrationLimit = plandomain.Limit(1)

// errorStatusThreshold is the consecutive failure count after which an
// integration is flagged as errored in listings.
const errorStatusThreshold = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Connectors connector.Registry
	PlanSvc    plandomain.Service
	SubSvc     subscriptiondomain.Service
	UsageSvc   usagedomain.Service
	Metering   *config.MeteringConfigHolder
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	connectors connector.Registry
	planSvc    plandomain.Service
	subSvc     subscriptiondomain.Service
	usageSvc   usagedomain.Service
	metering   *config.MeteringConfigHolder
	metrics    *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("integration.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		connectors: p.Connectors,
		planSvc:    p.PlanSvc,
		subSvc:     p.SubSvc,
		usageSvc:   p.UsageSvc,
		metering:   p.Metering,
		metrics:    p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateIntegrationRequest) (*domain.Integration, error) {
	if req.MemberID == 0 {
		return nil, subscriptiondomain.ErrInvalidMember
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, domain.ErrInvalidIntegrationName
	}
	if !domain.ValidProvider(req.Provider) {
		return nil, domain.ErrInvalidProvider
	}

	cfg := datatypes.JSONMap(req.Config)
	if err := validateConfig(req.Provider, cfg); err != nil {
		return nil, err
	}

	limit, err := s.integrationLimit(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	count, err := s.repo.CountByMember(ctx, s.db, req.MemberID)
	if err != nil {
		return nil, err
	}
	if !limit.Allows(count) {
		return nil, fmt.Errorf("%w: plan allows %d integrations", domain.ErrIntegrationLimitReached, limit.Value())
	}

	now := time.Now().UTC()
	integ := &domain.Integration{
		ID:        s.genID.Generate(),
		MemberID:  req.MemberID,
		Name:      strings.TrimSpace(req.Name),
		Provider:  req.Provider,
		Config:    cfg,
		Status:    domain.IntegrationStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, integ); err != nil {
		return nil, err
	}
	return integ, nil
}

func (s *Service) Get(ctx context.Context, memberID, id snowflake.ID) (*domain.Integration, error) {
	integ, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if integ == nil || integ.MemberID != memberID {
		return nil, domain.ErrIntegrationNotFound
	}
	return integ, nil
}

func (s *Service) List(ctx context.Context, memberID snowflake.ID) ([]domain.Integration, error) {
	if memberID == 0 {
		return nil, subscriptiondomain.ErrInvalidMember
	}
	return s.repo.ListByMember(ctx, s.db, memberID)
}

func (s *Service) Update(ctx context.Context, memberID, id snowflake.ID, req domain.UpdateIntegrationRequest) (*domain.Integration, error) {
	integ, err := s.Get(ctx, memberID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, domain.ErrInvalidIntegrationName
		}
		integ.Name = strings.TrimSpace(*req.Name)
	}
	if req.Config != nil {
		cfg := datatypes.JSONMap(req.Config)
		if err := validateConfig(integ.Provider, cfg); err != nil {
			return nil, err
		}
		integ.Config = cfg
		// New credentials get a clean slate.
		integ.FailureCount = 0
		integ.LastError = nil
		if integ.Status == domain.IntegrationStatusError {
			integ.Status = domain.IntegrationStatusActive
		}
	}
	if req.Status != nil {
		switch *req.Status {
		case domain.IntegrationStatusActive, domain.IntegrationStatusDisabled:
			integ.Status = *req.Status
		default:
			return nil, domain.ErrInvalidConfig
		}
	}
	integ.UpdatedAt = time.Now().UTC()

	if err := s.repo.Save(ctx, s.db, integ); err != nil {
		return nil, err
	}
	return integ, nil
}

func (s *Service) Delete(ctx context.Context, memberID, id snowflake.ID) error {
	if _, err := s.Get(ctx, memberID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, s.db, id)
}

func (s *Service) TestConnection(ctx context.Context, memberID, id snowflake.ID) error {
	integ, err := s.Get(ctx, memberID, id)
	if err != nil {
		return err
	}
	conn, ok := s.connectors.For(integ.Provider)
	if !ok {
		return domain.ErrInvalidProvider
	}

	testCtx, cancel := context.WithTimeout(ctx, s.metering.Get().ConnectorTestTimeout())
	defer cancel()

	start := time.Now()
	err = conn.Test(testCtx, integ)
	s.metrics.RecordConnectorCall(ctx, string(integ.Provider), err == nil, time.Since(start))

	if err != nil {
		s.recordFailure(ctx, integ, err)
		return fmt.Errorf("%w: %v", domain.ErrConnectorFailure, err)
	}
	s.recordSuccess(ctx, integ)
	return nil
}

func (s *Service) Execute(ctx context.Context, memberID, id snowflake.ID, req domain.QueryRequest) (*domain.QueryResult, error) {
	integ, err := s.Get(ctx, memberID, id)
	if err != nil {
		return nil, err
	}
	if integ.Status == domain.IntegrationStatusDisabled {
		return nil, domain.ErrIntegrationDisabled
	}
	conn, ok := s.connectors.For(integ.Provider)
	if !ok {
		return nil, domain.ErrInvalidProvider
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.metering.Get().ConnectorQueryTimeout())
	defer cancel()

	start := time.Now()
	result, err := conn.Query(queryCtx, integ, req)
	elapsed := time.Since(start)
	s.metrics.RecordConnectorCall(ctx, string(integ.Provider), err == nil, elapsed)

	if err != nil {
		s.recordFailure(ctx, integ, err)
		if errors.Is(err, domain.ErrInvalidConfig) || errors.Is(err, domain.ErrQueryNotAllowed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectorFailure, err)
	}
	s.recordSuccess(ctx, integ)

	executionMillis := elapsed.Milliseconds()
	cost := s.usageSvc.QueryCost(executionMillis)

	record, err := s.usageSvc.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		MemberID:      memberID,
		ResourceType:  usagedomain.ResourceDataSourceQuery,
		Quantity:      1,
		CreditCost:    cost,
		IntegrationID: &integ.ID,
		Metadata: map[string]any{
			"provider":        string(integ.Provider),
			"executionMillis": executionMillis,
		},
	})
	if err != nil {
		return nil, err
	}

	result.ExecutionMillis = executionMillis
	result.CreditCost = cost
	result.UsageRecordID = record.ID
	return result, nil
}

func (s *Service) integrationLimit(ctx context.Context, memberID snowflake.ID) (plandomain.Limit, error) {
	sub, err := s.subSvc.GetActiveByMemberID(ctx, memberID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return defaultIntegrationLimit, nil
		}
		return 0, err
	}
	plan, err := s.planSvc.GetByID(ctx, sub.PlanID)
	if err != nil {
		return 0, err
	}
	return plan.MaxIntegrations, nil
}

func (s *Service) recordFailure(ctx context.Context, integ *domain.Integration, cause error) {
	msg := cause.Error()
	integ.FailureCount++
	integ.LastError = &msg
	if integ.FailureCount >= errorStatusThreshold && integ.Status == domain.IntegrationStatusActive {
		integ.Status = domain.IntegrationStatusError
	}
	integ.UpdatedAt = time.Now().UTC()

	if err := s.repo.Save(ctx, s.db, integ); err != nil {
		s.log.Error("failed to record connector failure",
			zap.String("integration_id", integ.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) recordSuccess(ctx context.Context, integ *domain.Integration) {
	now := time.Now().UTC()
	integ.FailureCount = 0
	integ.LastError = nil
	integ.LastUsedAt = &now
	if integ.Status == domain.IntegrationStatusError {
		integ.Status = domain.IntegrationStatusActive
	}
	integ.UpdatedAt = now

	if err := s.repo.Save(ctx, s.db, integ); err != nil {
		s.log.Error("failed to record connector success",
			zap.String("integration_id", integ.ID.String()),
			zap.Error(err),
		)
	}
}

func validateConfig(p domain.Provider, cfg datatypes.JSONMap) error {
	var err error
	switch p {
	case domain.ProviderRESTAPI:
		_, err = domain.ParseRESTConfig(cfg)
	case domain.ProviderGraphQL:
		_, err = domain.ParseGraphQLConfig(cfg)
	case domain.ProviderPostgres:
		_, err = domain.ParsePostgresConfig(cfg)
	default:
		return domain.ErrInvalidProvider
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}
