package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	authapp "devconsole/internal/auth/app"
	"devconsole/internal/auth/domain"
	"devconsole/internal/logging"
	"devconsole/internal/observability"
)

const (
	accessCookieName  = "devconsole_access_token"
	refreshCookieName = "devconsole_refresh_token"
	claimsContextKey  = "devconsole.claims"
)

func errorBody(message string) gin.H {
	return gin.H{"error": message}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// LoggingMiddleware logs one line per request. Query strings are redacted
// because OAuth callbacks carry codes.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start).Round(time.Microsecond)
		target := logging.Redact(c.Request.URL.RequestURI())
		status := c.Writer.Status()
		switch {
		case status >= http.StatusInternalServerError:
			logger.Warn("%s %s -> %d (%s)", c.Request.Method, target, status, elapsed)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			logger.Debug("%s %s -> %d (%s)", c.Request.Method, target, status, elapsed)
		default:
			logger.Info("%s %s -> %d (%s)", c.Request.Method, target, status, elapsed)
		}
	}
}

// MetricsMiddleware records request counts and latency by route template.
func MetricsMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.RecordHTTPRequest(c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

// TracingMiddleware opens a server span per request, continuing any trace
// propagated by the caller.
func TracingMiddleware() gin.HandlerFunc {
	tracer := observability.Tracer("devconsole/server/http")
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, observability.SpanHTTPServer,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.request.method", c.Request.Method)))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.route", routeOf(c)),
			attribute.Int("http.response.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
		}
	}
}

// AuthMiddleware requires a valid access token from the Authorization header
// or the access cookie and stores its claims on the context.
func AuthMiddleware(service *authapp.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := accessToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("authorization required"))
			return
		}
		claims, err := service.ParseAccessToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid token"))
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// CurrentClaims returns the claims stored by AuthMiddleware.
func CurrentClaims(c *gin.Context) (domain.Claims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return domain.Claims{}, false
	}
	claims, ok := value.(domain.Claims)
	return claims, ok
}

func accessToken(c *gin.Context) string {
	if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if cookie, err := c.Cookie(accessCookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
