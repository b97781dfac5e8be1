package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/erp/fulfillment/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBaseHandler_HandleError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "not found",
			err:            fmt.Errorf("load order: %w", shared.ErrNotFound),
			expectedStatus: http.StatusNotFound,
			expectedCode:   dto.ErrCodeNotFound,
		},
		{
			name:           "invalid lead id",
			err:            fulfillment.ErrInvalidLeadID,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   dto.ErrCodeInvalidInput,
		},
		{
			name:           "upstream failure",
			err:            fmt.Errorf("%w: crm status field: %w", shared.ErrUpstreamFailure, fulfillment.ErrGatewayUnavailable),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   dto.ErrCodeUpstreamFailure,
		},
		{
			name:           "concurrency conflict",
			err:            shared.ErrConcurrencyConflict,
			expectedStatus: http.StatusConflict,
			expectedCode:   dto.ErrCodeConcurrencyConflict,
		},
		{
			name:           "tracker conflict",
			err:            fulfillment.ErrTrackerAlreadySet,
			expectedStatus: http.StatusConflict,
			expectedCode:   dto.ErrCodeAlreadyExists,
		},
		{
			name:           "plain error",
			err:            errors.New("disk on fire"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   dto.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := gin.New()
			h := &BaseHandler{}
			engine.GET("/", func(c *gin.Context) { h.HandleError(c, tt.err) })

			w := testutil.PerformRequest(engine, http.MethodGet, "/", "", "", nil)
			testutil.AssertErrorResponse(t, w, tt.expectedStatus, tt.expectedCode)
		})
	}
}

func TestBaseHandler_UpstreamMessageKeepsDetail(t *testing.T) {
	engine := gin.New()
	h := &BaseHandler{}
	engine.GET("/", func(c *gin.Context) {
		c.Set("request_id", "req-7")
		h.HandleError(c, fmt.Errorf("%w: carrier status: %w", shared.ErrUpstreamFailure, fulfillment.ErrGatewayRateLimited))
	})

	w := testutil.PerformRequest(engine, http.MethodGet, "/", "", "", nil)
	resp := testutil.JSONResponseAs[dto.Response](t, w)

	assert.Equal(t, "req-7", resp.Error.RequestID)
	assert.Contains(t, resp.Error.Message, "carrier status")
	assert.Contains(t, resp.Error.Message, "rate limited")
}

func TestBaseHandler_HandleErrorNil(t *testing.T) {
	engine := gin.New()
	h := &BaseHandler{}
	engine.GET("/", func(c *gin.Context) {
		h.HandleError(c, nil)
		c.Status(http.StatusNoContent)
	})

	w := testutil.PerformRequest(engine, http.MethodGet, "/", "", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
