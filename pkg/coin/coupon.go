package coin

import "context"

// UseCoupon consumes a single-use coupon. The checks run in a fixed order so
// error reporting stays deterministic: unknown code, administratively
// revoked, already used, expired. The winning caller flips used under the
// same row lock, so concurrent attempts on one code yield exactly one
// success.
func (service *Service) UseCoupon(ctx context.Context, code CouponCode) (ConsumedCoupon, error) {
	var consumed ConsumedCoupon
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		coupon, err := transactionStore.GetCouponForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if !coupon.Valid {
			return ErrCouponInvalid
		}
		if coupon.Used {
			return ErrCouponAlreadyUsed
		}
		nowUnixUTC := service.nowFn()
		if coupon.ExpiresAtUnixUTC != 0 && coupon.ExpiresAtUnixUTC < nowUnixUTC {
			return ErrCouponExpired
		}
		if err := transactionStore.MarkCouponUsed(ctx, code, nowUnixUTC); err != nil {
			return err
		}
		consumed = ConsumedCoupon{
			Code:          coupon.Code,
			AdvantageID:   coupon.AdvantageID,
			UsedAtUnixUTC: nowUnixUTC,
		}
		return nil
	})
	codeRef := code
	service.logOperation(ctx, OperationLog{
		Operation:  operationUseCoupon,
		CouponCode: &codeRef,
		Error:      operationError,
	})
	if operationError != nil {
		return ConsumedCoupon{}, operationError
	}
	return consumed, nil
}
