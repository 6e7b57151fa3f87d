package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	subscriptiondomain "github.com/forgeapps/metering/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// defaultIngestRatePerMinute applies to members without an active plan.
const defaultIngestRatePerMinute = 60

type UsageIngestParams struct {
	fx.In

	Log     *zap.Logger
	Bucket  *TokenBucket `optional:"true"`
	PlanSvc plandomain.Service
	SubSvc  subscriptiondomain.Service
}

// UsageIngestLimiter throttles usage recording per member at the rate the
// member's plan grants. With no redis configured it admits everything.
type UsageIngestLimiter struct {
	log     *zap.Logger
	bucket  *TokenBucket
	planSvc plandomain.Service
	subSvc  subscriptiondomain.Service
}

func NewUsageIngestLimiter(p UsageIngestParams) *UsageIngestLimiter {
	return &UsageIngestLimiter{
		log:     p.Log.Named("ratelimit.usage_ingest"),
		bucket:  p.Bucket,
		planSvc: p.PlanSvc,
		subSvc:  p.SubSvc,
	}
}

var ErrRateLimited = errors.New("rate_limited")

// Allow admits or rejects one usage ingest call for the member. Redis
// failures fail open; throttling is protection, not a ledger.
func (l *UsageIngestLimiter) Allow(ctx context.Context, memberID snowflake.ID) (*Result, error) {
	if l == nil || l.bucket == nil {
		return &Result{Allowed: true}, nil
	}

	perMinute := l.ratePerMinute(ctx, memberID)
	res, err := l.bucket.Allow(ctx,
		fmt.Sprintf("usage_ingest:%s", memberID),
		float64(perMinute)/60.0,
		perMinute,
	)
	if err != nil {
		l.log.Warn("rate limiter unavailable, admitting request",
			zap.String("member_id", memberID.String()),
			zap.Error(err),
		)
		return &Result{Allowed: true}, nil
	}
	if !res.Allowed {
		return res, ErrRateLimited
	}
	return res, nil
}

func (l *UsageIngestLimiter) ratePerMinute(ctx context.Context, memberID snowflake.ID) int {
	sub, err := l.subSvc.GetActiveByMemberID(ctx, memberID)
	if err != nil {
		return defaultIngestRatePerMinute
	}
	plan, err := l.planSvc.GetByID(ctx, sub.PlanID)
	if err != nil || plan.APIRateLimit <= 0 {
		return defaultIngestRatePerMinute
	}
	return plan.APIRateLimit
}
