package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/forgeapps/metering/internal/config"
	"github.com/forgeapps/metering/internal/integration"
	integrationdomain "github.com/forgeapps/metering/internal/integration/domain"
	"github.com/forgeapps/metering/internal/ledger"
	ledgerdomain "github.com/forgeapps/metering/internal/ledger/domain"
	"github.com/forgeapps/metering/internal/payment"
	paymentdomain "github.com/forgeapps/metering/internal/payment/domain"
	"github.com/forgeapps/metering/internal/plan"
	plandomain "github.com/forgeapps/metering/internal/plan/domain"
	"github.com/forgeapps/metering/internal/ratelimit"
	"github.com/forgeapps/metering/internal/subscription"
	subscriptiondomain "github.com/forgeapps/metering/internal/subscription/domain"
	"github.com/forgeapps/metering/internal/usage"
	usagedomain "github.com/forgeapps/metering/internal/usage/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	plan.Module,
	ledger.Module,
	usage.Module,
	subscription.Module,
	integration.Module,
	payment.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	genID           *snowflake.Node
	planSvc         plandomain.Service
	ledgerSvc       ledgerdomain.Service
	usageSvc        usagedomain.Service
	subscriptionSvc subscriptiondomain.Service
	integrationSvc  integrationdomain.Service
	paymentSvc      paymentdomain.Service
	usageLimiter    *ratelimit.UsageIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	GenID           *snowflake.Node
	PlanSvc         plandomain.Service
	LedgerSvc       ledgerdomain.Service
	UsageSvc        usagedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	IntegrationSvc  integrationdomain.Service
	PaymentSvc      paymentdomain.Service
	UsageLimiter    *ratelimit.UsageIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		genID:           p.GenID,
		planSvc:         p.PlanSvc,
		ledgerSvc:       p.LedgerSvc,
		usageSvc:        p.UsageSvc,
		subscriptionSvc: p.SubscriptionSvc,
		integrationSvc:  p.IntegrationSvc,
		paymentSvc:      p.PaymentSvc,
		usageLimiter:    p.UsageLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/plans", s.CreatePlan)
	api.GET("/plans", s.ListPlans)
	api.GET("/plans/:id", s.GetPlan)
	api.PATCH("/plans/:id", s.UpdatePlan)

	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:id", s.GetSubscription)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:id/renew", s.RenewSubscription)

	api.GET("/members/:member_id/subscription", s.GetMemberSubscription)
	api.GET("/members/:member_id/credits", s.GetCreditBalance)
	api.GET("/members/:member_id/credits/transactions", s.ListCreditTransactions)
	api.POST("/members/:member_id/credits/allocate", s.AllocateCredits)
	api.GET("/members/:member_id/usage", s.ListUsage)
	api.GET("/members/:member_id/payments", s.ListPayments)

	api.POST("/usage", s.RecordUsage)

	api.POST("/integrations", s.CreateIntegration)
	api.GET("/integrations", s.ListIntegrations)
	api.GET("/integrations/:id", s.GetIntegration)
	api.PATCH("/integrations/:id", s.UpdateIntegration)
	api.DELETE("/integrations/:id", s.DeleteIntegration)
	api.POST("/integrations/:id/test", s.TestIntegration)
	api.POST("/integrations/:id/query", s.QueryIntegration)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}
