package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/session-security/internal/infra/config"
	"github.com/arklim/session-security/internal/infra/security"
	"github.com/arklim/session-security/internal/transport/http/handlers"
	"github.com/arklim/session-security/internal/transport/http/middleware"
)

const (
	SessionSecurityPath      = "/functions/v1/session-security"
	SessionSecurityAliasPath = "/api/v1/session-security"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Sessions   handlers.SessionSecurity
	Alerts     handlers.AlertReader
	Lockdowns  handlers.LockdownManager
	Validation handlers.InputValidator
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config        *config.AppConfig
	Logger        *zap.Logger
	RateLimiter   *middleware.RateLimiter
	Services      ServiceSet
	TokenVerifier *security.TokenVerifier
	HTTPMetrics   *middleware.HTTPMetrics
	Gatherer      prometheus.Gatherer
	Database      DatabaseChecker
	Cache         CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	Check(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.HTTPMetrics.Handler())
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("postgres", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.Check))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(metricsHandler(deps.Gatherer)))

	if deps.Services.Sessions != nil {
		sessionHandler := handlers.NewSessionSecurityHandler(deps.Services.Sessions)
		chain := append(buildSessionMiddlewares(deps), sessionHandler.Handle)

		r.POST(SessionSecurityPath, chain...)
		r.POST(SessionSecurityAliasPath, chain...)
		r.OPTIONS(SessionSecurityPath, preflight)
		r.OPTIONS(SessionSecurityAliasPath, preflight)
	}

	api := r.Group("/api/v1")
	{
		if deps.Services.Alerts != nil && deps.Services.Lockdowns != nil && deps.TokenVerifier != nil {
			adminGroup := api.Group("/admin/security")
			adminGroup.Use(middleware.RequireAdmin(deps.TokenVerifier, deps.Config.Auth.AllowedRoles...))
			handlers.NewAdminSecurityHandler(deps.Services.Alerts, deps.Services.Lockdowns).RegisterRoutes(adminGroup)
		}

		if deps.Services.Validation != nil {
			handlers.NewValidationHandler(deps.Services.Validation).RegisterRoutes(api.Group("/validation"))
		}
	}

	return r
}

// preflight answers OPTIONS on the session endpoints with an empty 200.
func preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func buildSessionMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.SessionMaxRequests
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "session_security_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
