// Package http serves the devconsole JSON API: the OAuth login flow and the
// float panel with its inspectors.
package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	authapp "devconsole/internal/auth/app"
	"devconsole/internal/config"
	"devconsole/internal/devpanel/inspect"
	"devconsole/internal/devpanel/panel"
	"devconsole/internal/logging"
	"devconsole/internal/observability"
)

// RouterDeps carries everything the router wires together. Auth may be nil,
// in which case the auth routes are not mounted and the panel is open.
type RouterDeps struct {
	Config   config.ServerConfig
	Auth     *authapp.Service
	Panel    *panel.Panel
	Registry *inspect.Registry
	Metrics  *observability.Metrics
	Logger   logging.Logger
	Started  time.Time
}

// NewRouter builds the gin engine.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := logging.OrNop(deps.Logger)
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}

	engine := gin.New()
	engine.Use(gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error("panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal error"))
	}))
	engine.Use(TracingMiddleware())
	engine.Use(MetricsMiddleware(deps.Metrics))
	engine.Use(LoggingMiddleware(logger))
	engine.Use(cors.New(corsConfig(deps.Config.AllowedOrigins)))

	engine.GET("/health", healthHandler(deps))
	engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := engine.Group("/api")
	api.Use(RateLimitMiddleware(RateLimitConfig{
		RequestsPerSecond: deps.Config.RateLimitRPS,
		Burst:             deps.Config.RateLimitBurst,
	}))

	if deps.Auth != nil {
		authHandler := NewAuthHandler(deps.Auth, deps.Config.SecureCookies, logger)
		auth := api.Group("/auth")
		auth.GET("/providers", authHandler.HandleProviders)
		auth.GET("/:provider/login", authHandler.HandleOAuthStart)
		auth.GET("/:provider/callback", authHandler.HandleOAuthCallback)
		auth.POST("/refresh", authHandler.HandleRefresh)
		auth.POST("/logout", authHandler.HandleLogout)
		auth.GET("/me", AuthMiddleware(deps.Auth), authHandler.HandleMe)
	}

	if deps.Panel != nil && deps.Registry != nil {
		panelHandler := NewDevPanelHandler(deps.Panel, deps.Registry, deps.Config.AllowedOrigins, deps.Config.StreamInterval, logger)
		devpanel := api.Group("/devpanel")
		if deps.Auth != nil {
			devpanel.Use(AuthMiddleware(deps.Auth))
		}
		devpanel.GET("/state", panelHandler.HandleGetState)
		devpanel.PUT("/state", panelHandler.HandlePutState)
		devpanel.GET("/inspectors", panelHandler.HandleListInspectors)
		devpanel.GET("/inspectors/:key", panelHandler.HandleInspect)
		devpanel.GET("/inspectors/:key/stream", panelHandler.HandleStream)
	}
	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	cfg.AllowCredentials = true
	cfg.AllowWebSockets = true
	cfg.MaxAge = 12 * time.Hour
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowCredentials = false
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	if len(origins) == 0 {
		cfg.AllowOrigins = []string{"http://localhost:3000"}
	}
	return cfg
}

func healthHandler(deps RouterDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status": "ok",
			"uptime": time.Since(deps.Started).Round(time.Second).String(),
		}
		if deps.Auth != nil {
			body["providers"] = deps.Auth.Providers()
		}
		if deps.Registry != nil {
			body["inspectors"] = len(deps.Registry.List())
		}
		c.JSON(http.StatusOK, body)
	}
}
