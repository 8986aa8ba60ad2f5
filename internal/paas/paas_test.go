package paas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireBearerLeavesHealthOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireBearerMiddleware(AuthOptions{RequireGateway: true}))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/assertions", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(path string, headers map[string]string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, call("/healthz", nil))
	assert.Equal(t, http.StatusUnauthorized, call("/api/v1/assertions", nil))
	assert.Equal(t, http.StatusUnauthorized, call("/api/v1/assertions", map[string]string{"Authorization": "Bearer x"}))
	assert.Equal(t, http.StatusOK, call("/api/v1/assertions", map[string]string{"Authorization": "Bearer x", projectHeader: "p1"}))
}

func TestCreateLogRenewsRejectedToken(t *testing.T) {
	var logins, logs atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			n := logins.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "t" + string(rune('0'+n))})
		case "/api/v1/logs":
			logs.Add(1)
			if r.Header.Get("Authorization") != "Bearer t2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var req CreateLogRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Agent != Agent {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}
	require.NoError(t, c.CreateLog(context.Background(), CreateLogRequest{Action: "nest_test", Level: "info"}))
	assert.Equal(t, int32(2), logins.Load())
	assert.Equal(t, int32(2), logs.Load())
}

func TestLogBestEffortWithoutClientIsNoop(t *testing.T) {
	LogBestEffortCtx(context.Background(), "nest_test", "info", nil)
}
