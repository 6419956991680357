package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railmeter/internal/apikey"
	apikeydomain "github.com/smallbiznis/railmeter/internal/apikey/domain"
	"github.com/smallbiznis/railmeter/internal/assistant"
	assistantdomain "github.com/smallbiznis/railmeter/internal/assistant/domain"
	"github.com/smallbiznis/railmeter/internal/authorization"
	"github.com/smallbiznis/railmeter/internal/billing"
	billingdomain "github.com/smallbiznis/railmeter/internal/billing/domain"
	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	"github.com/smallbiznis/railmeter/internal/clock"
	"github.com/smallbiznis/railmeter/internal/config"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"github.com/smallbiznis/railmeter/internal/kpi"
	kpidomain "github.com/smallbiznis/railmeter/internal/kpi/domain"
	"github.com/smallbiznis/railmeter/internal/observability"
	obsmiddleware "github.com/smallbiznis/railmeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railmeter/internal/observability/metrics"
	obstracing "github.com/smallbiznis/railmeter/internal/observability/tracing"
	"github.com/smallbiznis/railmeter/internal/ratelimit"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	"github.com/smallbiznis/railmeter/internal/tenant"
	tenantdomain "github.com/smallbiznis/railmeter/internal/tenant/domain"
	"github.com/smallbiznis/railmeter/internal/tools"
	toolsdomain "github.com/smallbiznis/railmeter/internal/tools/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the HTTP API. The metering core, briefs and the redis
// clients are composed by the binary so the scheduler can share them.
var Module = fx.Module("http.server",
	authorization.Module,
	apikey.Module,
	tenant.Module,
	billing.Module,
	tools.Module,
	assistant.Module,
	kpi.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	clock          clock.Clock
	catalogSvc     catalogdomain.Service
	entitlementSvc entitlementdomain.Service
	dailyQuotaSvc  dailyquotadomain.Service
	rollupSvc      rollupdomain.Service
	tenantSvc      tenantdomain.Service
	apiKeySvc      apikeydomain.Service
	billingSvc     billingdomain.Service
	toolsSvc       toolsdomain.Service
	assistantSvc   assistantdomain.Service
	briefsSvc      briefsdomain.Service
	kpiSvc         kpidomain.Service
	authzSvc       authorization.Service
	limiter        *ratelimit.TenantLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Clock       clock.Clock
	Catalog     catalogdomain.Service
	Entitlement entitlementdomain.Service
	DailyQuota  dailyquotadomain.Service
	Rollup      rollupdomain.Service
	Tenants     tenantdomain.Service
	APIKeys     apikeydomain.Service
	Billing     billingdomain.Service
	Tools       toolsdomain.Service
	Assistant   assistantdomain.Service
	Briefs      briefsdomain.Service
	KPI         kpidomain.Service
	Authz       authorization.Service
	Limiter     *ratelimit.TenantLimiter `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http"),
		clock:          p.Clock,
		catalogSvc:     p.Catalog,
		entitlementSvc: p.Entitlement,
		dailyQuotaSvc:  p.DailyQuota,
		rollupSvc:      p.Rollup,
		tenantSvc:      p.Tenants,
		apiKeySvc:      p.APIKeys,
		billingSvc:     p.Billing,
		toolsSvc:       p.Tools,
		assistantSvc:   p.Assistant,
		briefsSvc:      p.Briefs,
		kpiSvc:         p.KPI,
		authzSvc:       p.Authz,
		limiter:        p.Limiter,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")

	admin := v1.Group("/admin", s.PlatformAdminRequired())
	{
		admin.GET("/metered-events", s.ListMeteredEvents)
		admin.POST("/metered-events", s.CreateMeteredEvent)
		admin.PUT("/metered-events/:event_key", s.UpdateMeteredEvent)

		admin.GET("/capabilities", s.ListCapabilities)
		admin.GET("/plans", s.ListPlans)
		admin.POST("/plans", s.CreatePlan)
		admin.GET("/plans/:plan_id", s.GetPlan)
		admin.PUT("/plans/:plan_id", s.UpdatePlan)
		admin.PUT("/plans/:plan_id/capabilities", s.ReplacePlanCapabilities)
		admin.PUT("/plans/:plan_id/caps", s.ReplacePlanCaps)

		admin.GET("/tenants", s.ListTenants)
		admin.POST("/tenants", s.ProvisionTenant)
		admin.GET("/tenants/:tenant_id", s.GetTenant)
		admin.GET("/tenants/:tenant_id/users", s.ListTenantUsers)
		admin.POST("/tenants/:tenant_id/users", s.CreateTenantUser)
		admin.GET("/tenants/:tenant_id/subscription", s.GetTenantSubscription)
		admin.PUT("/tenants/:tenant_id/subscription", s.UpdateTenantSubscription)

		admin.POST("/reconcile", s.Reconcile)
	}

	tenantAPI := v1.Group("", s.TenantAuthRequired())
	{
		billingGroup := tenantAPI.Group("/billing", s.requireAction(authorization.ObjectBilling, authorization.ActionBillingView))
		billingGroup.GET("/events", s.ListBillingEvents)
		billingGroup.GET("/plan", s.GetBillingPlan)
		billingGroup.GET("/usage", s.GetBillingUsage)
		billingGroup.GET("/ledger", s.GetBillingLedger)
		billingGroup.GET("/statement.pdf", s.GetBillingStatement)

		tenantAPI.GET("/limits", s.requireAction(authorization.ObjectLimits, authorization.ActionLimitsView), s.GetLimits)
		tenantAPI.PUT("/limits", s.requireAction(authorization.ObjectLimits, authorization.ActionLimitsUpdate), s.UpdateLimits)
		tenantAPI.GET("/usage/daily", s.requireAction(authorization.ObjectLimits, authorization.ActionLimitsView), s.GetDailyUsage)

		keys := tenantAPI.Group("/api-keys")
		keys.GET("", s.requireAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
		keys.POST("", s.requireAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
		keys.POST("/:key_id/rotate", s.requireAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRotate), s.RotateAPIKey)
		keys.POST("/:key_id/revoke", s.requireAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)

		tenantAPI.GET("/users", s.requireAction(authorization.ObjectUsers, authorization.ActionUsersView), s.ListOwnUsers)

		tenantAPI.GET("/tools", s.ListTools)
		tenantAPI.GET("/kpis", s.requireAction(authorization.ObjectKPIs, authorization.ActionKPIsRead), s.ListKPIs)
		tenantAPI.GET("/kpis/:kpi_id/latest", s.requireAction(authorization.ObjectKPIs, authorization.ActionKPIsRead), s.GetKPILatest)

		briefs := tenantAPI.Group("/briefs", s.requireAction(authorization.ObjectBriefs, authorization.ActionBriefsView))
		briefs.GET("/latest", s.GetLatestBrief)
		briefs.GET("/:date", s.GetBrief)

		tenantAPI.GET("/notifications/outbox", s.requireAction(authorization.ObjectOutbox, authorization.ActionOutboxView), s.ListOutbox)
		tenantAPI.POST("/notifications/:notification_id/ack", s.requireAction(authorization.ObjectOutbox, authorization.ActionOutboxAck), s.AckNotification)

		billable := tenantAPI.Group("", s.TenantRateLimit())
		billable.POST("/tools/invoke", s.InvokeTool)
		billable.POST("/assistant/chat", s.Chat)
		billable.POST("/briefs/run", s.RunBrief)
		billable.POST("/kpis", s.CreateKPI)
		billable.POST("/kpis/:kpi_id/points", s.IngestKPIPoints)
	}
}
