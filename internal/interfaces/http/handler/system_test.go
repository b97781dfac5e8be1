package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/erp/fulfillment/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSystemHandler_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := NewSystemHandler("test", map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		})
		engine := gin.New()
		engine.GET("/health", h.Health)

		w := testutil.PerformRequest(engine, http.MethodGet, "/health", "", "", nil)
		resp := testutil.AssertSuccessResponse(t, w)
		data := resp["data"].(map[string]any)
		assert.Equal(t, "healthy", data["status"])
	})

	t.Run("unhealthy dependency", func(t *testing.T) {
		h := NewSystemHandler("test", map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		})
		engine := gin.New()
		engine.GET("/health", h.Health)

		w := testutil.PerformRequest(engine, http.MethodGet, "/health", "", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := testutil.JSONResponse(t, w)
		deps := resp["data"].(map[string]any)["dependencies"].(map[string]any)
		assert.Equal(t, "ok", deps["database"])
		assert.Equal(t, "connection refused", deps["redis"])
	})
}

func TestSystemHandler_Info(t *testing.T) {
	h := NewSystemHandler("1.2.3", nil)
	engine := gin.New()
	engine.GET("/system/info", h.GetSystemInfo)

	w := testutil.PerformRequest(engine, http.MethodGet, "/system/info", "", "", nil)
	resp := testutil.AssertSuccessResponse(t, w)
	assert.Equal(t, "1.2.3", resp["data"].(map[string]any)["version"])
}
