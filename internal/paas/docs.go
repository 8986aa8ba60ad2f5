package paas

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Nest Oracle Service (SaaS)

Optimistic assertions with bonded disputes, escalated to a commit-reveal vote.
This service is intended to be accessed via easyweb3 PaaS Gateway.

## Access via PaaS

Base path (through gateway):
- /api/v1/services/nest-oracle/

Examples:
- GET /api/v1/services/nest-oracle/healthz
- POST /api/v1/services/nest-oracle/api/v1/transfers/incoming
- GET /api/v1/services/nest-oracle/api/v1/assertions

## Auth

All /api/* routes require a Bearer token (validated by the PaaS gateway).
The acting account is taken from the X-Nest-Account header.
Health endpoints are public.

## Notable Routes (upstream)

- GET /healthz
- GET /readyz
- GET /swagger/index.html
- POST /api/v1/transfers/incoming
- GET /api/v1/assertions
- POST /api/v1/assertions/{id}/settle
- GET /api/v1/voting/requests
- POST /api/v1/voting/requests/{id}/reveal
- GET /api/v1/policies
- GET /api/v1/events
- GET /api/v1/events/stream (websocket)
- GET /api/v1/system-settings/switches
`)
	})
}
