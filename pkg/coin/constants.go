package coin

const (
	operationCredit    = "credit"
	operationTransfer  = "transfer"
	operationRedeem    = "redeem"
	operationUseCoupon = "use_coupon"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	redemptionReasonPrefix = "Redemption of "
)
