package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/stockopname/internal/audit/domain"
	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/internal/config"
	notificationdomain "github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/internal/observability"
	obsmiddleware "github.com/smallbiznis/stockopname/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stockopname/internal/observability/metrics"
	obstracing "github.com/smallbiznis/stockopname/internal/observability/tracing"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/internal/ratelimit"
	"github.com/smallbiznis/stockopname/internal/report"
	scheduledomain "github.com/smallbiznis/stockopname/internal/schedule/domain"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(provideTokenVerifier),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonTagName)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func provideTokenVerifier(cfg config.Config, log *zap.Logger) (*TokenVerifier, error) {
	if cfg.Auth.JWTSecret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("AUTH_JWT_SECRET is required in production")
		}
		log.Warn("AUTH_JWT_SECRET is empty, every API request will be rejected")
	}
	return NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer), nil
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	tokens          *TokenVerifier
	staff           staffdomain.Directory
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	opnameSvc       opnamedomain.Service
	scheduleSvc     scheduledomain.Service
	notificationSvc notificationdomain.Service
	exporter        report.Exporter
	scanLimiter     *ratelimit.ScanLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Tokens          *TokenVerifier
	Staff           staffdomain.Directory
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	OpnameSvc       opnamedomain.Service
	ScheduleSvc     scheduledomain.Service
	NotificationSvc notificationdomain.Service
	Exporter        report.Exporter
	ScanLimiter     *ratelimit.ScanLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		tokens:          p.Tokens,
		staff:           p.Staff,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		opnameSvc:       p.OpnameSvc,
		scheduleSvc:     p.ScheduleSvc,
		notificationSvc: p.NotificationSvc,
		exporter:        p.Exporter,
		scanLimiter:     p.ScanLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1", s.AuthRequired())

	api.GET("/me", s.Me)

	// -------- Branches --------
	api.GET("/branches/:branch_id/assignable-staff", s.ListAssignableStaff)
	api.GET("/branches/:branch_id/schedules", s.ListSchedules)
	api.POST("/branches/:branch_id/schedules", s.CreateSchedule)

	// -------- Schedules --------
	api.PATCH("/schedules/:schedule_id", s.UpdateSchedule)
	api.DELETE("/schedules/:schedule_id", s.DeleteSchedule)

	// -------- Sessions --------
	api.POST("/sessions", s.CreateSession)
	api.GET("/sessions", s.ListSessions)
	api.GET("/sessions/:id", s.GetSession)
	api.DELETE("/sessions/:id", s.DeleteSession)
	api.GET("/sessions/:id/capabilities", s.GetSessionCapabilities)
	api.PUT("/sessions/:id/assignments", s.UpdateAssignments)
	api.POST("/sessions/:id/complete", s.CompleteSession)
	api.POST("/sessions/:id/lock", s.LockSession)
	api.GET("/sessions/:id/sales-since-start", s.SalesSinceStart)
	api.GET("/sessions/:id/export", s.ExportSession)

	// -------- Snapshot --------
	api.GET("/sessions/:id/snapshot", s.ListSnapshotItems)
	api.PUT("/sessions/:id/snapshot/:item_id/resolution", s.ResolveSnapshotItem)

	// -------- Scans --------
	api.GET("/sessions/:id/scans", s.ListScannedItems)
	api.POST("/sessions/:id/scans", s.ScanRateLimit(false), s.Scan)
	api.POST("/sessions/:id/scans/batch", s.ScanRateLimit(true), s.BatchScan)
	api.DELETE("/sessions/:id/scans/:scan_id", s.DeleteScan)
	api.PUT("/sessions/:id/scans/:scan_id/resolution", s.ResolveScannedItem)

	// -------- Notifications --------
	api.GET("/notifications", s.ListNotifications)
	api.POST("/notifications/:id/read", s.MarkNotificationRead)

	// -------- Audit --------
	api.GET("/audit-logs", s.ListAuditLogs)
}
