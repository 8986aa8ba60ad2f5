package paas

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

const auditTimeout = 2 * time.Second

type ctxKey struct{}

func WithClient(ctx context.Context, c *Client) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, c)
}

func ClientFromContext(ctx context.Context) *Client {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(ctxKey{}).(*Client)
	return c
}

// InjectClientMiddleware makes the client reachable from request contexts so
// services can audit without holding a reference.
func InjectClientMiddleware(p *Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil && c.Request != nil {
			c.Request = c.Request.WithContext(WithClient(c.Request.Context(), p))
		}
		c.Next()
	}
}

// LogBestEffortCtx mirrors a protocol action to the PaaS log API. It does
// nothing without a client and survives cancellation of ctx.
func LogBestEffortCtx(ctx context.Context, action, level string, details map[string]any) {
	p := ClientFromContext(ctx)
	if p == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	_ = p.CreateLog(actx, CreateLogRequest{
		Action:  action,
		Level:   level,
		Details: details,
	})
}

// LogBestEffort is LogBestEffortCtx for handlers; the acting account is added
// to details.
func LogBestEffort(c *gin.Context, action, level string, details map[string]any) {
	if c == nil || c.Request == nil {
		return
	}
	if account := c.GetHeader(AccountHeader); account != "" {
		if details == nil {
			details = map[string]any{}
		}
		details["account"] = account
	}
	LogBestEffortCtx(c.Request.Context(), action, level, details)
}
