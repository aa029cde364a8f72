package httpserver

import (
	"errors"
	"net/http"

	"github.com/campuscoin/ledger/internal/catalog"
	"github.com/campuscoin/ledger/pkg/coin"
	"github.com/gin-gonic/gin"
)

const (
	errorInsufficientFunds = "insufficient_funds"
	errorAccountNotFound   = "account_not_found"
	errorAdvantageNotFound = "advantage_not_found"
	errorInvalidAmount     = "invalid_amount"
	errorSameAccount       = "same_account"
	errorCouponNotFound    = "coupon_not_found"
	errorCouponInvalid     = "coupon_invalid"
	errorCouponAlreadyUsed = "coupon_already_used"
	errorCouponExpired     = "coupon_expired"
	errorNotCompany        = "not_a_company"
	errorInvalidPayload    = "invalid_payload"
	errorInvalidQuery      = "invalid_query"
	errorUnauthorized      = "unauthorized"
	errorInternal          = "internal_error"
)

// httpStatusCode maps domain errors to stable client-facing codes. Business
// rule violations keep 4xx statuses; a consistency violation is a server
// bug and surfaces as 500.
func httpStatusCode(err error) (int, string) {
	switch {
	case errors.Is(err, coin.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, errorInsufficientFunds
	case errors.Is(err, coin.ErrAccountNotFound):
		return http.StatusNotFound, errorAccountNotFound
	case errors.Is(err, coin.ErrAdvantageNotFound):
		return http.StatusNotFound, errorAdvantageNotFound
	case errors.Is(err, coin.ErrSameAccount):
		return http.StatusBadRequest, errorSameAccount
	case errors.Is(err, coin.ErrCouponNotFound):
		return http.StatusNotFound, errorCouponNotFound
	case errors.Is(err, coin.ErrCouponInvalid):
		return http.StatusUnprocessableEntity, errorCouponInvalid
	case errors.Is(err, coin.ErrCouponAlreadyUsed):
		return http.StatusConflict, errorCouponAlreadyUsed
	case errors.Is(err, coin.ErrCouponExpired):
		return http.StatusGone, errorCouponExpired
	case errors.Is(err, catalog.ErrNotCompany):
		return http.StatusForbidden, errorNotCompany
	case errors.Is(err, coin.ErrInvalidAmountCents),
		errors.Is(err, coin.ErrInvalidBalanceCents):
		return http.StatusBadRequest, errorInvalidAmount
	case errors.Is(err, coin.ErrInvalidAccountID),
		errors.Is(err, coin.ErrInvalidAdvantageID),
		errors.Is(err, coin.ErrInvalidCompanyID),
		errors.Is(err, coin.ErrInvalidCouponCode),
		errors.Is(err, coin.ErrInvalidOwnerKind),
		errors.Is(err, coin.ErrInvalidDisplayName),
		errors.Is(err, coin.ErrInvalidKind),
		errors.Is(err, coin.ErrInvalidReason),
		errors.Is(err, coin.ErrInvalidMetadataJSON),
		errors.Is(err, catalog.ErrInvalidDescription):
		return http.StatusBadRequest, errorInvalidPayload
	}
	return http.StatusInternalServerError, errorInternal
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
