package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupValidator(t *testing.T) {
	SetupValidator()

	v, ok := binding.Validator.Engine().(*validator.Validate)
	assert.True(t, ok)
	assert.NotNil(t, v)
}

func TestHandleValidationError(t *testing.T) {
	SetupValidator()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(RequestIDKey, "req-42")
		c.Next()
	})
	router.POST("/tracker", func(c *gin.Context) {
		var req dto.LinkTrackerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(req))
	})

	t.Run("reports field details with json names", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/tracker", strings.NewReader(`{"tracker":"123"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.Equal(t, "req-42", resp.Error.RequestID)
		require.Len(t, resp.Error.Details, 1)
		assert.Equal(t, "tracker", resp.Error.Details[0].Field)
		assert.Equal(t, "Must be at least 8 characters", resp.Error.Details[0].Message)
	})

	t.Run("missing field is required", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/tracker", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "This field is required")
	})

	t.Run("malformed json keeps the decoder message", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/tracker", strings.NewReader(`{"tracker":`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Error.Details)
		assert.NotEqual(t, "Request validation failed", resp.Error.Message)
	})

	t.Run("valid tracker passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/tracker", strings.NewReader(`{"tracker":"1234567890"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetValidationMessage(t *testing.T) {
	type input struct {
		Required string `validate:"required"`
		Max      string `validate:"max=3"`
		OneOf    string `validate:"oneof=shipments untracked"`
		Gt       int    `validate:"gt=0"`
	}

	err := validator.New().Struct(input{Max: "toolong", OneOf: "other"})
	require.Error(t, err)

	got := map[string]string{}
	for _, e := range err.(validator.ValidationErrors) {
		got[e.Field()] = getValidationMessage(e)
	}

	assert.Equal(t, "This field is required", got["Required"])
	assert.Equal(t, "Must be at most 3 characters", got["Max"])
	assert.Equal(t, "Must be one of: shipments untracked", got["OneOf"])
	assert.Equal(t, "Must be greater than 0", got["Gt"])
}

func TestGetRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("prefers context value", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.Header.Set(RequestIDHeader, "from-header")
		c.Set(RequestIDKey, "from-context")
		assert.Equal(t, "from-context", GetRequestID(c))
	})

	t.Run("truncates oversized header", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.Header.Set(RequestIDHeader, strings.Repeat("a", MaxRequestIDLength+20))
		assert.Len(t, GetRequestID(c), MaxRequestIDLength)
	})
}
