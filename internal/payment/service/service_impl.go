package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/observability/metrics"
	"github.com/forgeapps/metering/internal/payment/domain"
	subscriptiondomain "github.com/forgeapps/metering/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	SubSvc  subscriptiondomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	subSvc  subscriptiondomain.Service
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("payment.service"),
		genID:   p.GenID,
		subSvc:  p.SubSvc,
		metrics: p.Metrics,
	}
}

// stripeSubscription is the subset of Stripe's subscription object we consume.
type stripeSubscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
}

// stripeInvoice is the subset of Stripe's invoice object we consume.
type stripeInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
}

func (s *Service) HandleStripeEvent(ctx context.Context, event domain.ProviderEvent) error {
	if event.Type == "" || len(event.Data.Object) == 0 {
		return domain.ErrMalformedEvent
	}
	s.metrics.RecordWebhookEvent(ctx, event.Type)

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return s.applySubscriptionEvent(ctx, event)
	case "customer.subscription.deleted":
		return s.applySubscriptionDeleted(ctx, event)
	case "invoice.paid":
		return s.applyInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return s.applyInvoicePaymentFailed(ctx, event)
	default:
		s.log.Info("ignoring webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return nil
	}
}

func (s *Service) applySubscriptionEvent(ctx context.Context, event domain.ProviderEvent) error {
	var obj stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if obj.ID == "" {
		return domain.ErrMalformedEvent
	}

	update := subscriptiondomain.ProviderUpdate{
		ExternalSubscriptionID: obj.ID,
		Status:                 translateStatus(obj.Status),
		CancelAtPeriodEnd:      &obj.CancelAtPeriodEnd,
	}
	if obj.CurrentPeriodStart > 0 {
		t := time.Unix(obj.CurrentPeriodStart, 0).UTC()
		update.CurrentPeriodStart = &t
	}
	if obj.CurrentPeriodEnd > 0 {
		t := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		update.CurrentPeriodEnd = &t
	}

	_, err := s.subSvc.ApplyProviderUpdate(ctx, update)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		// The provider knows about subscriptions we never created, for
		// example from a previous product. Acknowledge and move on.
		s.log.Warn("webhook for unknown subscription",
			zap.String("event_type", event.Type),
			zap.String("external_subscription_id", obj.ID),
		)
		return nil
	}
	return err
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, event domain.ProviderEvent) error {
	var obj stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if obj.ID == "" {
		return domain.ErrMalformedEvent
	}

	_, err := s.subSvc.CancelByExternalID(ctx, obj.ID)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		s.log.Warn("deletion webhook for unknown subscription",
			zap.String("external_subscription_id", obj.ID),
		)
		return nil
	}
	return err
}

// resolveInvoiceMember locates the subscription an invoice bills. The
// subscription reference wins when present; one-off invoices carry only the
// customer id, which resolves to the customer's latest subscription.
func (s *Service) resolveInvoiceMember(ctx context.Context, obj stripeInvoice) (*subscriptiondomain.Subscription, error) {
	if obj.Subscription != "" {
		return s.subSvc.GetByExternalID(ctx, obj.Subscription)
	}
	return s.subSvc.GetByExternalCustomerID(ctx, obj.Customer)
}

// applyInvoicePaid records the payment only. Credit allocation is driven by
// period renewal, so a paid invoice never grants credits a second time.
func (s *Service) applyInvoicePaid(ctx context.Context, event domain.ProviderEvent) error {
	var obj stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if obj.ID == "" || (obj.Subscription == "" && obj.Customer == "") {
		return domain.ErrMalformedEvent
	}

	sub, err := s.resolveInvoiceMember(ctx, obj)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			s.log.Warn("paid invoice for unknown subscription",
				zap.String("external_invoice_id", obj.ID),
				zap.String("external_subscription_id", obj.Subscription),
				zap.String("external_customer_id", obj.Customer),
			)
			return nil
		}
		return err
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:                 s.genID.Generate(),
		MemberID:           sub.MemberID,
		SubscriptionID:     &sub.ID,
		Amount:             obj.AmountPaid,
		Currency:           currencyOrDefault(obj.Currency),
		Status:             domain.PaymentStatusSucceeded,
		Provider:           "stripe",
		ExternalInvoiceID:  &obj.ID,
		ExternalCustomerID: optional(obj.Customer),
		PaidAt:             &now,
		CreatedAt:          now,
	}
	return s.insertPayment(ctx, payment)
}

func (s *Service) applyInvoicePaymentFailed(ctx context.Context, event domain.ProviderEvent) error {
	var obj stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if obj.ID == "" || (obj.Subscription == "" && obj.Customer == "") {
		return domain.ErrMalformedEvent
	}

	sub, err := s.resolveInvoiceMember(ctx, obj)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			s.log.Warn("failed invoice for unknown subscription",
				zap.String("external_invoice_id", obj.ID),
				zap.String("external_subscription_id", obj.Subscription),
				zap.String("external_customer_id", obj.Customer),
			)
			return nil
		}
		return err
	}

	if sub.Status != subscriptiondomain.SubscriptionStatusCancelled {
		if _, err := s.subSvc.UpdateStatus(ctx, sub.ID, subscriptiondomain.SubscriptionStatusPastDue, nil); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:                 s.genID.Generate(),
		MemberID:           sub.MemberID,
		SubscriptionID:     &sub.ID,
		Amount:             obj.AmountDue,
		Currency:           currencyOrDefault(obj.Currency),
		Status:             domain.PaymentStatusFailed,
		Provider:           "stripe",
		ExternalInvoiceID:  &obj.ID,
		ExternalCustomerID: optional(obj.Customer),
		CreatedAt:          now,
	}
	return s.insertPayment(ctx, payment)
}

func (s *Service) ListPayments(ctx context.Context, memberID snowflake.ID, limit int) ([]domain.Payment, error) {
	if memberID == 0 {
		return nil, domain.ErrInvalidMember
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var payments []domain.Payment
	err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// insertPayment relies on the external invoice id's unique index to absorb
// webhook redeliveries.
func (s *Service) insertPayment(ctx context.Context, payment *domain.Payment) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_invoice_id"}},
			DoNothing: true,
		}).
		Create(payment).Error
}

// translateStatus maps the provider's subscription status vocabulary onto
// ours. Unknown values come back invalid and are skipped by the update.
func translateStatus(providerStatus string) subscriptiondomain.SubscriptionStatus {
	switch providerStatus {
	case "active":
		return subscriptiondomain.SubscriptionStatusActive
	case "trialing":
		return subscriptiondomain.SubscriptionStatusTrialing
	case "past_due", "unpaid", "incomplete":
		return subscriptiondomain.SubscriptionStatusPastDue
	case "canceled":
		return subscriptiondomain.SubscriptionStatusCancelled
	case "paused":
		return subscriptiondomain.SubscriptionStatusPaused
	default:
		return subscriptiondomain.SubscriptionStatus(providerStatus)
	}
}

func currencyOrDefault(c string) string {
	if c == "" {
		return "usd"
	}
	return c
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
