package coin

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsTransferOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	sourceID := store.mustAddAccount(test, "student-1", OwnerStudent, 1000)
	destinationID := store.mustAddAccount(test, "student-2", OwnerStudent, 0)
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	amount := mustAmount(test, 250)

	if _, err := service.Transfer(context.Background(), sourceID, destinationID, amount, mustReason(test, "gift"), mustMetadata(test, "{}")); err != nil {
		test.Fatalf("transfer: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationTransfer || entry.AccountID != sourceID || entry.Amount != amount {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.CounterpartID == nil || *entry.CounterpartID != destinationID {
		test.Fatalf("expected counterpart %s, got %v", destinationID, entry.CounterpartID)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	accountID := store.mustAddAccount(test, "student-1", OwnerStudent, 0)
	store.appendError = errors.New("boom")
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	_, err := service.Credit(context.Background(), accountID, mustAmount(test, 10), mustReason(test, "award"), mustMetadata(test, "{}"))
	if err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
}

func TestServiceLogsCouponOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	code := store.mustAddCoupon(test, freshCoupon(test, "code-1"))
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	if _, err := service.UseCoupon(context.Background(), code); err != nil {
		test.Fatalf("use coupon: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationUseCoupon {
		test.Fatalf("unexpected operation %q", entry.Operation)
	}
	if entry.CouponCode == nil || *entry.CouponCode != code {
		test.Fatalf("expected coupon code %s, got %v", code, entry.CouponCode)
	}
}
