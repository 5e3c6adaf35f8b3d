package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront-service/internal/auth"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
	"storefront-service/pkg/metrics"
)

type Mid struct {
	k *auth.Keys
}

func NewMid(k *auth.Keys) (*Mid, error) {
	if k == nil {
		return nil, errors.New("keys cannot be nil")
	}
	return &Mid{k: k}, nil
}

// Logger gives every request a trace id and logs its outcome.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceId := c.GetHeader("X-Request-ID")
		if traceId == "" {
			traceId = uuid.NewString()
		}
		c.Request = c.Request.WithContext(ctxmanage.WithTraceId(c.Request.Context(), traceId))
		c.Header("X-Request-ID", traceId)

		start := time.Now()
		slog.Info("started", slog.String(logkey.TraceID, traceId), slog.String("Method", c.Request.Method),
			slog.Any("URL Path", c.Request.URL.Path))

		c.Next()

		attrs := []any{
			slog.String(logkey.TraceID, traceId),
			slog.String("Method", c.Request.Method),
			slog.Any("URL Path", c.Request.URL.Path),
			slog.Int("Status Code", c.Writer.Status()),
			slog.Duration("Latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String(logkey.ERROR, c.Errors.String()))
		}
		slog.Info("completed", attrs...)
	}
}

// Metrics counts requests per route and status and records their latency.
func Metrics(m *metrics.ServerMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(route, c.Writer.Status(), time.Since(start))
	}
}

// Authentication rejects requests without a valid session token.
func (m *Mid) Authentication() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceId := ctxmanage.GetTraceIdOfRequest(c)
		claims, err := m.claims(c)
		if err != nil {
			slog.Info("authentication failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			return
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), auth.ClaimsKey, claims))
		c.Next()
	}
}

// OptionalAuthentication attaches the claims of a valid token and lets everyone else through.
func (m *Mid) OptionalAuthentication() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, err := m.claims(c); err == nil {
			c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), auth.ClaimsKey, claims))
		}
		c.Next()
	}
}

func (m *Mid) claims(c *gin.Context) (auth.Claims, error) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return auth.Claims{}, errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	token := parts[len(parts)-1]
	if len(parts) > 2 || (len(parts) == 2 && !strings.EqualFold(parts[0], "bearer")) {
		return auth.Claims{}, errors.New("expected authorization header format: Bearer <token>")
	}
	return m.k.ValidateToken(token)
}

// Claims returns the session claims put on the request by the authentication middleware.
func Claims(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(auth.ClaimsKey).(auth.Claims)
	return claims, ok
}
