package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/insightzen/internal/authorization"
	"github.com/smallbiznis/insightzen/internal/config"
	dialerdomain "github.com/smallbiznis/insightzen/internal/dialer/domain"
	membershipdomain "github.com/smallbiznis/insightzen/internal/membership/domain"
	"github.com/smallbiznis/insightzen/internal/observability"
	obsmiddleware "github.com/smallbiznis/insightzen/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/insightzen/internal/observability/metrics"
	obstracing "github.com/smallbiznis/insightzen/internal/observability/tracing"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
	sampledomain "github.com/smallbiznis/insightzen/internal/sample/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obsCfg.ServiceName)...)
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	authzSvc      authorization.Service
	membershipSvc membershipdomain.Service
	quotaSvc      quotadomain.Service
	sampleSvc     sampledomain.Service
	dialerSvc     dialerdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	MembershipSvc membershipdomain.Service
	QuotaSvc      quotadomain.Service
	SampleSvc     sampledomain.Service
	DialerSvc     dialerdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		membershipSvc: p.MembershipSvc,
		quotaSvc:      p.QuotaSvc,
		sampleSvc:     p.SampleSvc,
		dialerSvc:     p.DialerSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.IdentityRequired())

	// -------- Dialer --------
	// The dialer service gates these itself so the role check and the
	// reservation share one code path.
	api.POST("/projects/:project_id/dialer/next", s.ReserveNext)
	api.GET("/projects/:project_id/dialer/assignments", s.ListAssignments)
	api.GET("/dialer/assignments/:id", s.GetAssignment)
	api.POST("/dialer/assignments/:id/complete", s.CompleteAssignment)
	api.POST("/dialer/assignments/:id/cancel", s.CancelAssignment)

	// -------- Quota schemes --------
	api.POST("/projects/:project_id/quota/schemes", s.authorizeProjectAction(authorization.ObjectQuotaScheme, authorization.ActionQuotaSchemeManage), s.CreateScheme)
	api.GET("/projects/:project_id/quota/schemes", s.authorizeProjectAction(authorization.ObjectQuotaScheme, authorization.ActionQuotaSchemeView), s.ListSchemes)
	api.GET("/quota/schemes/:id", s.GetScheme)
	api.GET("/quota/schemes/:id/cells", s.ListCells)
	api.PUT("/quota/schemes/:id/cells", s.UpsertCells)
	api.POST("/quota/schemes/:id/publish", s.PublishScheme)
	api.POST("/quota/schemes/:id/archive", s.ArchiveScheme)

	// -------- Samples --------
	api.POST("/projects/:project_id/samples", s.authorizeProjectAction(authorization.ObjectSampleContact, authorization.ActionSampleContactManage), s.ImportSamples)
	api.GET("/projects/:project_id/samples", s.authorizeProjectAction(authorization.ObjectSampleContact, authorization.ActionSampleContactView), s.ListSamples)
	api.DELETE("/projects/:project_id/samples/:id", s.authorizeProjectAction(authorization.ObjectSampleContact, authorization.ActionSampleContactManage), s.DeactivateSample)

	// -------- Members --------
	api.GET("/projects/:project_id/members", s.authorizeProjectAction(authorization.ObjectMembership, authorization.ActionMembershipView), s.ListMembers)
	api.PUT("/projects/:project_id/members/:user_id", s.authorizeProjectAction(authorization.ObjectMembership, authorization.ActionMembershipManage), s.GrantMember)
	api.DELETE("/projects/:project_id/members/:user_id", s.authorizeProjectAction(authorization.ObjectMembership, authorization.ActionMembershipManage), s.RevokeMember)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
