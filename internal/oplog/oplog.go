// Package oplog adapts a zap logger to the coin operation log contract.
package oplog

import (
	"context"

	"github.com/campuscoin/ledger/pkg/coin"
	"go.uber.org/zap"
)

// Logger emits one structured line per coin operation.
type Logger struct {
	base *zap.Logger
}

// New wraps a zap logger. A nil logger yields a no-op adapter.
func New(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{base: base.Named("coin")}
}

// LogOperation implements coin.OperationLogger.
func (logger *Logger) LogOperation(_ context.Context, entry coin.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.AccountID.String() != "" {
		fields = append(fields, zap.String("account_id", entry.AccountID.String()))
	}
	if entry.CounterpartID != nil {
		fields = append(fields, zap.String("counterpart_id", entry.CounterpartID.String()))
	}
	if entry.AdvantageID != nil {
		fields = append(fields, zap.String("advantage_id", entry.AdvantageID.String()))
	}
	if entry.CouponCode != nil {
		fields = append(fields, zap.String("coupon_code", entry.CouponCode.String()))
	}
	if entry.Amount > 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		logger.base.Warn("coin operation failed", fields...)
		return
	}
	logger.base.Info("coin operation", fields...)
}
