package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowQuery is used when no slow query threshold is configured
const DefaultSlowQuery = 200 * time.Millisecond

// GormLogger routes order store SQL through zap under the "gorm" name.
// Missed lookups are not errors here: webhooks for unknown trackers and
// leads hit them all the time.
type GormLogger struct {
	logger    *zap.Logger
	level     gormlogger.LogLevel
	slowQuery time.Duration
}

// NewGormLogger creates a GORM logger. A non-positive slowQuery falls back
// to DefaultSlowQuery.
func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, slowQuery time.Duration) *GormLogger {
	if slowQuery <= 0 {
		slowQuery = DefaultSlowQuery
	}
	return &GormLogger{
		logger:    OrNop(zapLogger).Named("gorm"),
		level:     level,
		slowQuery: slowQuery,
	}
}

// LogMode implements gormlogger.Interface
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.logger.Sugar().Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.logger.Sugar().Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.logger.Sugar().Errorf(msg, data...)
	}
}

// Trace logs one statement. Failures log at error, statements over the slow
// query threshold at warn, everything else at debug when the level is info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if err != nil && errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	elapsed := time.Since(begin)
	slow := elapsed > l.slowQuery
	switch {
	case err != nil && l.level >= gormlogger.Error:
	case slow && l.level >= gormlogger.Warn:
	case l.level >= gormlogger.Info:
	default:
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.String("op", statementKind(sql)),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	switch {
	case err != nil:
		l.logger.Error("SQL failed", append(fields, zap.Error(err))...)
	case slow:
		l.logger.Warn("Slow SQL", append(fields, zap.Duration("threshold", l.slowQuery))...)
	default:
		l.logger.Debug("SQL", fields...)
	}
}

// statementKind returns the leading SQL keyword, lower-cased
func statementKind(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \n\t"); i > 0 {
		sql = sql[:i]
	}
	return strings.ToLower(sql)
}

// MapGormLogLevel maps the log.gorm_level setting to a GORM level
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug", "all":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
