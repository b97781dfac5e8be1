package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"info", zapcore.InfoLevel},
		{"nonsense", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	cfg := ProductionConfig()
	cfg.Output = path
	cfg.Service = "fulfillment"

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("Shipment poll started", zap.Int("orders", 3))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Shipment poll started"`)
	assert.Contains(t, string(data), `"service":"fulfillment"`)
	assert.Contains(t, string(data), `"orders":3`)
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestEnrich_AddsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	Enrich(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-1", logs.All()[0].ContextMap()["request_id"])
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
	assert.NotNil(t, L(context.Background()))
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	r := gin.New()
	r.Use(RequestID(base), GinMiddleware(base))
	r.GET("/ping", func(c *gin.Context) {
		assert.Equal(t, c.GetString("request_id"), GetRequestID(c.Request.Context()))
		c.Status(http.StatusNoContent)
	})

	t.Run("generates id", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	})

	t.Run("propagates incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(RequestIDHeader, "abc")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
	})

	assert.Equal(t, 2, logs.FilterMessage("HTTP Request").Len())
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.ErrorLevel)

	r := gin.New()
	r.Use(Recovery(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

func TestGormLogger_Trace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Info, time.Second)

	gl.Trace(context.Background(), nowMinus(0), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)
	gl.Trace(context.Background(), nowMinus(0), func() (string, int64) {
		return `SELECT * FROM "orders" WHERE tracker = '1234567890'`, 0
	}, gormlogger.ErrRecordNotFound)

	queries := logs.FilterMessage("SQL")
	assert.Equal(t, 2, queries.Len())
	assert.Equal(t, "select", queries.All()[0].ContextMap()["op"])
	assert.Equal(t, 0, logs.FilterMessage("SQL failed").Len())
}

func TestGormLogger_TraceLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Warn, 10*time.Millisecond)
	ctx, _ := WithRequestID(context.Background(), zap.NewNop(), "req-1")

	gl.Trace(ctx, nowMinus(0), func() (string, int64) { return "SELECT 1", 1 }, nil)
	gl.Trace(ctx, nowMinus(time.Second), func() (string, int64) { return "UPDATE orders SET version = 2", 1 }, nil)
	gl.Trace(ctx, nowMinus(0), func() (string, int64) { return "INSERT INTO orders", 0 }, errors.New("duplicate key"))

	assert.Equal(t, 0, logs.FilterMessage("SQL").Len())
	slow := logs.FilterMessage("Slow SQL").All()
	require.Len(t, slow, 1)
	assert.Equal(t, "update", slow[0].ContextMap()["op"])
	assert.Equal(t, "req-1", slow[0].ContextMap()["request_id"])
	assert.Equal(t, 1, logs.FilterMessage("SQL failed").Len())

	silent := gl.LogMode(gormlogger.Silent)
	silent.Trace(ctx, nowMinus(time.Second), func() (string, int64) { return "SELECT 1", 1 }, errors.New("boom"))
	assert.Equal(t, 1, logs.FilterMessage("SQL failed").Len())
}

func TestNewGormLogger_DefaultSlowQuery(t *testing.T) {
	gl := NewGormLogger(nil, gormlogger.Warn, 0)
	assert.Equal(t, DefaultSlowQuery, gl.slowQuery)
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("unknown"))
}

func nowMinus(d time.Duration) time.Time {
	return time.Now().Add(-d)
}
