package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/billingsync/internal/audit"
	auditdomain "github.com/smallbiznis/billingsync/internal/audit/domain"
	"github.com/smallbiznis/billingsync/internal/billingdocument"
	billingdocumentdomain "github.com/smallbiznis/billingsync/internal/billingdocument/domain"
	"github.com/smallbiznis/billingsync/internal/compliance"
	compliancedomain "github.com/smallbiznis/billingsync/internal/compliance/domain"
	"github.com/smallbiznis/billingsync/internal/config"
	"github.com/smallbiznis/billingsync/internal/notification"
	"github.com/smallbiznis/billingsync/internal/numbering"
	"github.com/smallbiznis/billingsync/internal/observability"
	obslogger "github.com/smallbiznis/billingsync/internal/observability/logger"
	obstracing "github.com/smallbiznis/billingsync/internal/observability/tracing"
	"github.com/smallbiznis/billingsync/internal/payment"
	paymentdomain "github.com/smallbiznis/billingsync/internal/payment/domain"
	"github.com/smallbiznis/billingsync/internal/plan"
	plandomain "github.com/smallbiznis/billingsync/internal/plan/domain"
	"github.com/smallbiznis/billingsync/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/billingsync/internal/subscription/domain"
	"github.com/smallbiznis/billingsync/internal/tenantsettings"
	tenantsettingsdomain "github.com/smallbiznis/billingsync/internal/tenantsettings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	audit.Module,
	notification.Module,
	tenantsettings.Module,
	numbering.Module,
	billingdocument.Module,
	compliance.Module,
	plan.Module,
	payment.Module,
	subscription.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ServerParams struct {
	fx.In

	Engine          *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	DocumentSvc     billingdocumentdomain.Service
	ComplianceSvc   compliancedomain.Service
	SettingsSvc     tenantsettingsdomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	WebhookSvc      paymentdomain.Service
	AuditSvc        auditdomain.Service
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	documentSvc     billingdocumentdomain.Service
	complianceSvc   compliancedomain.Service
	settingsSvc     tenantsettingsdomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	webhookSvc      paymentdomain.Service
	auditSvc        auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Engine,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		documentSvc:     p.DocumentSvc,
		complianceSvc:   p.ComplianceSvc,
		settingsSvc:     p.SettingsSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		webhookSvc:      p.WebhookSvc,
		auditSvc:        p.AuditSvc,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerWebhookRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", TenantContext())

	// -------- Billing documents --------
	api.GET("/documents", s.ListDocuments)
	api.POST("/documents", s.CreateDocument)
	api.GET("/documents/:id", s.GetDocument)
	api.PATCH("/documents/:id", s.UpdateDocument)
	api.DELETE("/documents/:id", s.DeleteDocument)
	api.POST("/documents/:id/convert", s.ConvertDocument)
	api.POST("/documents/:id/status", s.TransitionDocumentStatus)
	api.POST("/documents/:id/payments", s.RecordDocumentPayment)
	api.GET("/documents/:id/compliance", s.CheckDocumentCompliance)

	// -------- Document items --------
	api.GET("/documents/:id/items", s.ListDocumentItems)
	api.POST("/documents/:id/items", s.AddDocumentItem)
	api.PATCH("/documents/:id/items/:item_id", s.UpdateDocumentItem)
	api.DELETE("/documents/:id/items/:item_id", s.RemoveDocumentItem)

	// -------- Settings --------
	api.GET("/settings", s.GetSettings)
	api.PUT("/settings", s.UpsertSettings)

	// -------- Plans --------
	api.GET("/plans", s.ListPlans)
	api.GET("/plans/:id", s.GetPlan)

	// -------- Subscription --------
	api.GET("/subscription", s.GetSubscription)
	api.GET("/subscription/history", s.ListSubscriptionHistory)
	api.POST("/subscription/change-plan", s.ChangeSubscriptionPlan)
	api.POST("/subscription/sync", s.SyncSubscription)

	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", TenantContext(), s.RequirePlatformTenant())

	admin.PUT("/subscriptions", s.AdminUpsertSubscription)
	admin.GET("/tenants/:tenant_id/subscription", s.AdminGetSubscription)
	admin.POST("/tenants/:tenant_id/subscription/sync", s.AdminSyncSubscription)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
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

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}
