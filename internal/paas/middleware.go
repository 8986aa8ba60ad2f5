package paas

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// AccountHeader carries the acting account; the gateway is trusted to set it.
	AccountHeader   = "X-Nest-Account"
	RequestIDHeader = "X-Request-Id"
	projectHeader   = "X-Easyweb3-Project"
	roleHeader      = "X-Easyweb3-Role"
)

// AuthOptions controls RequireBearerMiddleware.
type AuthOptions struct {
	Disabled       bool
	RequireGateway bool
}

// AuthOptionsFromEnv reads NEST_AUTH_DISABLED and NEST_REQUIRE_GATEWAY.
func AuthOptionsFromEnv() AuthOptions {
	return AuthOptions{
		Disabled:       envFlag("NEST_AUTH_DISABLED"),
		RequireGateway: envFlag("NEST_REQUIRE_GATEWAY"),
	}
}

func envFlag(name string) bool {
	v := strings.TrimSpace(os.Getenv(name))
	return strings.EqualFold(v, "true") || v == "1"
}

func publicPath(p string) bool {
	return p == "/healthz" || p == "/readyz"
}

func protectedPath(p string) bool {
	return strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/swagger") || p == "/docs"
}

func RequireBearerMiddleware(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if opts.Disabled || publicPath(p) || !protectedPath(p) {
			c.Next()
			return
		}
		auth := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "missing bearer token"})
			return
		}
		if opts.RequireGateway && strings.TrimSpace(c.GetHeader(projectHeader)) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "missing " + projectHeader})
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware echoes the caller's request id or assigns one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// PaaSWriteAuditMiddleware records every state-changing API call. Reads are
// not audited.
func PaaSWriteAuditMiddleware(p *Client, logger *zap.Logger) gin.HandlerFunc {
	if p == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if agent := strings.TrimSpace(os.Getenv("NEST_PAAS_AGENT")); agent != "" {
		p.Agent = agent
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		method := strings.ToUpper(c.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		status := c.Writer.Status()
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		err := p.CreateLog(ctx, CreateLogRequest{
			Action: "nest_http_write",
			Level:  levelFromStatus(status),
			Details: map[string]any{
				"method":     method,
				"route":      c.FullPath(),
				"path":       path,
				"status":     status,
				"duration":   time.Since(start).String(),
				"project":    strings.TrimSpace(c.GetHeader(projectHeader)),
				"role":       strings.TrimSpace(c.GetHeader(roleHeader)),
				"account":    strings.TrimSpace(c.GetHeader(AccountHeader)),
				"request_id": c.GetString(RequestIDHeader),
			},
		})
		if err != nil && logger != nil {
			logger.Debug("paas audit log failed", zap.Error(err))
		}
	}
}

func levelFromStatus(status int) string {
	switch {
	case status >= 500:
		return "error"
	case status >= 400:
		return "warn"
	default:
		return "info"
	}
}
