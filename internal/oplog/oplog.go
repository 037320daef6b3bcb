// Package oplog writes loyalty operation callbacks to zap.
package oplog

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"go.uber.org/zap"
)

const operationMessage = "loyalty operation"

// Logger implements loyalty.OperationLogger.
type Logger struct {
	logger *zap.Logger
}

// New wraps logger. A nil logger discards everything.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// LogOperation logs ok and replayed outcomes at info, expected domain
// rejections at warn, and everything else at error.
func (operationLogger *Logger) LogOperation(_ context.Context, entry loyalty.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("tenant_id", entry.TenantID.String()),
		zap.String("recorded_by", entry.RecordedBy.String()),
	}
	if !entry.AccountID.IsZero() {
		fields = append(fields, zap.String("account_id", entry.AccountID.String()))
	}
	if !entry.EntryID.IsZero() {
		fields = append(fields, zap.String("entry_id", entry.EntryID.String()))
	}
	if entry.PointDelta != 0 {
		fields = append(fields, zap.Int64("point_delta", entry.PointDelta.Int64()))
	}
	if !entry.SpendAmount.IsZero() {
		fields = append(fields, zap.String("spend_amount", entry.SpendAmount.String()))
	}
	if key := entry.IdempotencyKey.String(); key != "" {
		fields = append(fields, zap.String("idempotency_key", key))
	}

	switch {
	case entry.Error == nil:
		operationLogger.logger.Info(operationMessage, fields...)
	case errors.Is(entry.Error, loyalty.ErrUnknownAccount):
		operationLogger.logger.Error(operationMessage, append(fields, zap.Error(entry.Error))...)
	case loyalty.IsRecoverable(entry.Error):
		operationLogger.logger.Warn(operationMessage, append(fields, zap.Error(entry.Error))...)
	default:
		operationLogger.logger.Error(operationMessage, append(fields, zap.Error(entry.Error))...)
	}
}
