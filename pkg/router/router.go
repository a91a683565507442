package router

import (
	"net/http"
	"strings"
	"time"

	"speaking-practice/backend/internal/api"
	"speaking-practice/backend/pkg/config"
	"speaking-practice/backend/pkg/di"
	"speaking-practice/backend/pkg/errors"
	"speaking-practice/backend/pkg/logger"
	"speaking-practice/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	RateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())

	rateLimiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: time.Hour,
	})

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		RateLimiter: rateLimiter,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() error {
	r.Engine.Use(corsMiddleware(r.Config.Security.AllowedOrigins))

	r.setupHealthRoutes()

	// The gateway applies its own per-connection event limit
	r.Engine.GET("/ws", r.Container.Gateway.ServeWS)

	if !r.Config.Features.EnableRESTAPI {
		return nil
	}

	validate, err := r.openAPIValidation()
	if err != nil {
		return err
	}

	v1 := r.Engine.Group("/api/v1", r.RateLimiter.Middleware(), bodyLimit(r.Config.Security.MaxBodySize))

	if r.Config.Features.EnableDevTokens {
		public := v1.Group("", validate...)
		api.NewAuthHandler(r.Container.JWTService, r.Logger).RegisterRoutes(public)
		r.Logger.Warn("development token endpoint enabled", "path", "/api/v1/auth/token")
	}

	protected := v1.Group("", append([]gin.HandlerFunc{middleware.JWTAuthMiddleware(r.Container.JWTService, r.Logger)}, validate...)...)
	api.NewSessionHandler(
		r.Container.Store,
		r.Container.Registry,
		r.Config.Security.MaxBodySize,
		r.Logger.WithComponent("api"),
	).RegisterRoutes(protected)

	return nil
}

func bodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if max > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}

// corsMiddleware allows the configured origins and the headers a WebSocket upgrade needs
func corsMiddleware(allowed []string) gin.HandlerFunc {
	anyOrigin := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			anyOrigin = true
		}
		set[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin == "":
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case anyOrigin || set[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
