package coin

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the coin service.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAdvantageNotFound    = errors.New("advantage not found")
	ErrSameAccount          = errors.New("source and destination are the same account")
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrCouponAlreadyUsed    = errors.New("coupon already used")
	ErrCouponInvalid        = errors.New("coupon invalid")
	ErrCouponExpired        = errors.New("coupon expired")
	ErrCouponCodeTaken      = errors.New("coupon code already exists")
	ErrConsistencyViolation = errors.New("consistency violation")
	ErrInvalidAccountID     = errors.New("invalid account id")
	ErrInvalidAdvantageID   = errors.New("invalid advantage id")
	ErrInvalidCompanyID     = errors.New("invalid company id")
	ErrInvalidCouponCode    = errors.New("invalid coupon code")
	ErrInvalidOwnerKind     = errors.New("invalid owner kind")
	ErrInvalidDisplayName   = errors.New("invalid display name")
	ErrInvalidAmountCents   = errors.New("invalid amount cents")
	ErrInvalidBalanceCents  = errors.New("invalid balance cents")
	ErrInvalidKind          = errors.New("invalid transaction kind")
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	ErrInvalidReason        = errors.New("invalid reason")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
