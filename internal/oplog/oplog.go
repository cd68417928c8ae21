// Package oplog adapts zap to the playtime.OperationLogger hook.
package oplog

import (
	"context"

	"github.com/soferio/minertimer/pkg/playtime"
	"go.uber.org/zap"
)

// ZapLogger emits one structured log line per quota-engine operation.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps a zap logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// LogOperation implements playtime.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry playtime.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("player", entry.Player.String()),
		zap.String("day", entry.Day.String()),
		zap.Int64("played_seconds", entry.Played.Int64()),
		zap.Int64("budget_seconds", entry.Budget.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Actor != "" {
		fields = append(fields, zap.String("actor", entry.Actor))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("playtime operation failed", fields...)
		return
	}
	zapLogger.logger.Info("playtime operation", fields...)
}
