package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAdminAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(token string) *gin.Engine {
		router := gin.New()
		router.Use(AdminAuth(token))
		router.GET("/admin/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})
		return router
	}

	tests := []struct {
		name       string
		configured string
		headers    map[string]string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "bearer token accepted",
			configured: "s3cret",
			headers:    map[string]string{"Authorization": "Bearer s3cret"},
			wantStatus: http.StatusOK,
			wantBody:   "pong",
		},
		{
			name:       "header token accepted",
			configured: "s3cret",
			headers:    map[string]string{AdminTokenHeader: "s3cret"},
			wantStatus: http.StatusOK,
			wantBody:   "pong",
		},
		{
			name:       "wrong token rejected",
			configured: "s3cret",
			headers:    map[string]string{"Authorization": "Bearer nope"},
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Invalid admin token",
		},
		{
			name:       "missing token rejected",
			configured: "s3cret",
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Missing admin token",
		},
		{
			name:       "basic scheme ignored",
			configured: "s3cret",
			headers:    map[string]string{"Authorization": "Basic s3cret"},
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Missing admin token",
		},
		{
			name:       "unconfigured token disables admin api",
			configured: "",
			headers:    map[string]string{"Authorization": "Bearer "},
			wantStatus: http.StatusUnauthorized,
			wantBody:   "Admin API is disabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			newRouter(tt.configured).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}
