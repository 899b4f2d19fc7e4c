package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tollgate-ai/tollgate/internal/apikey"
	apikeydomain "github.com/tollgate-ai/tollgate/internal/apikey/domain"
	"github.com/tollgate-ai/tollgate/internal/app"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	"github.com/tollgate-ai/tollgate/internal/config"
	"github.com/tollgate-ai/tollgate/internal/escrow"
	"github.com/tollgate-ai/tollgate/internal/facilitator"
	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
	"github.com/tollgate-ai/tollgate/internal/identity"
	identitydomain "github.com/tollgate-ai/tollgate/internal/identity/domain"
	"github.com/tollgate-ai/tollgate/internal/ledger"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
	"github.com/tollgate-ai/tollgate/internal/logger"
	"github.com/tollgate-ai/tollgate/internal/observability"
	obsmetrics "github.com/tollgate-ai/tollgate/internal/observability/metrics"
	obstracing "github.com/tollgate-ai/tollgate/internal/observability/tracing"
	"github.com/tollgate-ai/tollgate/internal/pricing"
	pricingdomain "github.com/tollgate-ai/tollgate/internal/pricing/domain"
	"github.com/tollgate-ai/tollgate/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	app.Module,
	apikey.Module,
	pricing.Module,
	ledger.Module,
	identity.Module,
	facilitator.Module,
	escrow.Module,
	ratelimit.Module,
	fx.Provide(NewUpstream),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(log.Named("http"), obsCfg.Debug()))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(obsCfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	db             *gorm.DB
	genID          *snowflake.Node
	apiKeySvc      apikeydomain.Service
	appSvc         appdomain.Service
	pricingSvc     pricingdomain.Service
	ledgerSvc      ledgerdomain.Service
	identitySvc    identitydomain.Service
	facilitatorCli facilitatordomain.Client
	escrowOrch     *escrow.Orchestrator
	signer         *escrow.Signer
	upstream       Upstream
	proxyLimiter   *ratelimit.ProxyLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	DB             *gorm.DB
	GenID          *snowflake.Node
	APIKeySvc      apikeydomain.Service
	AppSvc         appdomain.Service
	PricingSvc     pricingdomain.Service
	LedgerSvc      ledgerdomain.Service
	IdentitySvc    identitydomain.Service
	FacilitatorCli facilitatordomain.Client
	EscrowOrch     *escrow.Orchestrator
	Signer         *escrow.Signer
	Upstream       Upstream
	ProxyLimiter   *ratelimit.ProxyLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		db:             p.DB,
		genID:          p.GenID,
		apiKeySvc:      p.APIKeySvc,
		appSvc:         p.AppSvc,
		pricingSvc:     p.PricingSvc,
		ledgerSvc:      p.LedgerSvc,
		identitySvc:    p.IdentitySvc,
		facilitatorCli: p.FacilitatorCli,
		escrowOrch:     p.EscrowOrch,
		signer:         p.Signer,
		upstream:       p.Upstream,
		proxyLimiter:   p.ProxyLimiter,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerProxyRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Applications --------
	api.POST("/applications", s.UserTokenRequired(), s.CreateApplication)
	api.GET("/applications/:id", s.UserTokenRequired(), s.GetApplication)
	api.PATCH("/applications/:id/markup", s.UserTokenRequired(), s.UpdateApplicationMarkup)
	api.POST("/applications/:id/archive", s.UserTokenRequired(), s.ArchiveApplication)

	// -------- API keys --------
	api.POST("/api_keys", s.UserTokenRequired(), s.CreateAPIKey)
	api.GET("/api_keys", s.UserTokenRequired(), s.ListAPIKeys)
	api.DELETE("/api_keys/:keyId", s.UserTokenRequired(), s.RevokeAPIKey)

	// -------- Credits --------
	api.POST("/credits/grants", s.UserTokenRequired(), s.CreateCreditGrant)
	api.GET("/credits/balance", s.UserTokenRequired(), s.GetBalance)

	// -------- Prices --------
	api.PUT("/prices", s.UserTokenRequired(), s.UpsertModelPrice)
}

func (s *Server) registerProxyRoutes() {
	// Proxy paths carry the application identifier as their leading
	// segments, so they cannot be declared as fixed routes.
	s.engine.NoRoute(s.ProxyAuth(), s.ProxyRateLimit(), s.Proxy)
}
