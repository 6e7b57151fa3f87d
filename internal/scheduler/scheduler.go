// Package scheduler drives time-based billing work, currently the period
// renewal sweep.
package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/forgeapps/metering/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultSweepInterval = time.Hour
	sweepBatchSize       = 100
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	SubscriptionSvc subscriptiondomain.Service
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	subscriptionSvc subscriptiondomain.Service
	interval        time.Duration
	stop            chan struct{}
	done            chan struct{}
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler"),
		subscriptionSvc: p.SubscriptionSvc,
		interval:        defaultSweepInterval,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.loop()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			s.RenewDueSubscriptions(ctx)
			cancel()
		}
	}
}

// RenewDueSubscriptions advances every subscription whose period has lapsed.
// Failures are logged per subscription so one bad row cannot stall the sweep.
func (s *Scheduler) RenewDueSubscriptions(ctx context.Context) {
	now := time.Now().UTC()

	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("status IN ? AND current_period_end <= ?",
			[]subscriptiondomain.SubscriptionStatus{
				subscriptiondomain.SubscriptionStatusActive,
				subscriptiondomain.SubscriptionStatusTrialing,
			},
			now,
		).
		Order("current_period_end asc").
		Limit(sweepBatchSize).
		Pluck("id", &ids).Error
	if err != nil {
		s.log.Error("renewal sweep query failed", zap.Error(err))
		return
	}

	for _, id := range ids {
		if _, err := s.subscriptionSvc.RenewPeriod(ctx, id); err != nil {
			s.log.Error("subscription renewal failed",
				zap.String("subscription_id", id.String()),
				zap.Error(err),
			)
		}
	}
	if len(ids) > 0 {
		s.log.Info("renewal sweep complete", zap.Int("renewed", len(ids)))
	}
}
