package coin

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing coin operation.
type OperationLog struct {
	Operation     string
	AccountID     AccountID
	CounterpartID *AccountID
	AdvantageID   *AdvantageID
	CouponCode    *CouponCode
	Amount        AmountCents
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithCouponPolicy overrides the default coupon issuance policy.
func WithCouponPolicy(policy CouponPolicy) ServiceOption {
	return func(service *Service) {
		service.couponPolicy = policy
	}
}

// WithIDGenerator overrides the identifier source (tests inject a
// deterministic one).
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}
