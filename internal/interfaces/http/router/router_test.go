package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/fulfillment/internal/application/webhook"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/erp/fulfillment/internal/interfaces/http/handler"
	"github.com/erp/fulfillment/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())

	assert.NotNil(t, r)
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestDomainGroup(t *testing.T) {
	t.Run("routes and middleware", func(t *testing.T) {
		engine := gin.New()
		r := NewRouter(engine)

		var hits int
		group := NewDomainGroup("test", "/test").
			Use(func(c *gin.Context) {
				hits++
				c.Next()
			}).
			GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") }).
			POST("/echo", func(c *gin.Context) { c.String(http.StatusCreated, "created") })
		assert.Equal(t, "test", group.Name())
		assert.Equal(t, "/test", group.Prefix())

		r.Register(group).Setup()

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/test/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "pong", w.Body.String())

		w = httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/test/echo", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, 2, hits)
	})

	t.Run("subgroups inherit middleware", func(t *testing.T) {
		engine := gin.New()
		r := NewRouter(engine)

		parent := NewDomainGroup("parent", "/parent").Use(func(c *gin.Context) {
			c.Header("X-Parent", "yes")
			c.Next()
		})
		parent.Group("child", "/child").GET("/leaf", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		r.Register(parent).Setup()

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/parent/child/leaf", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "yes", w.Header().Get("X-Parent"))
	})
}

type staticIngester struct{}

func (staticIngester) Ingest(_ context.Context, source fulfillment.EventSource, _ string, _ []byte) []webhook.ProcessingResult {
	return []webhook.ProcessingResult{{Source: source, Status: webhook.StatusIgnored}}
}

func TestRegisterFulfillmentRoutes(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)
	RegisterFulfillmentRoutes(r, Handlers{
		Webhook: handler.NewWebhookHandler(staticIngester{}),
		Admin:   handler.NewAdminHandler(nil, nil, nil, nil),
		System:  handler.NewSystemHandler("test", nil),
	}, Options{AdminToken: "s3cret"})
	r.Setup()

	t.Run("webhooks are public", func(t *testing.T) {
		w := testutil.PerformRequest(engine, http.MethodPost, "/api/v1/webhooks/carrier", "application/json", `{}`, nil)
		testutil.AssertSuccessResponse(t, w)
	})

	t.Run("admin requires token", func(t *testing.T) {
		w := testutil.PerformRequest(engine, http.MethodGet, "/api/v1/admin/scheduler/history", "", "", nil)
		testutil.AssertErrorResponse(t, w, http.StatusUnauthorized, dto.ErrCodeUnauthorized)
	})

	t.Run("admin with token reaches handler", func(t *testing.T) {
		w := testutil.PerformRequest(engine, http.MethodGet, "/api/v1/admin/scheduler/history", "", "",
			map[string]string{"Authorization": "Bearer s3cret"})
		// scheduler not wired in this router
		testutil.AssertErrorResponse(t, w, http.StatusUnprocessableEntity, dto.ErrCodeInvalidState)
	})

	t.Run("system health", func(t *testing.T) {
		w := testutil.PerformRequest(engine, http.MethodGet, "/api/v1/system/health", "", "", nil)
		testutil.AssertSuccessResponse(t, w)
	})
}
