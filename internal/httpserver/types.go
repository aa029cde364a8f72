package httpserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/campuscoin/ledger/pkg/coin"
	"github.com/shopspring/decimal"
)

var centsPerCoin = decimal.NewFromInt(100)

// parseCoinAmount converts a decimal coin string ("300.00") into cents.
// Sub-cent precision is rejected rather than rounded so no request silently
// loses value.
func parseCoinAmount(raw string) (coin.AmountCents, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal amount", coin.ErrInvalidAmountCents, raw)
	}
	cents := value.Mul(centsPerCoin)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: %q has sub-cent precision", coin.ErrInvalidAmountCents, raw)
	}
	return coin.NewAmountCents(cents.IntPart())
}

func formatCoinAmount(cents int64) string {
	return decimal.NewFromInt(cents).Div(centsPerCoin).StringFixed(2)
}

type openAccountRequest struct {
	OwnerKind   string `json:"owner_kind"`
	DisplayName string `json:"display_name"`
}

type transferRequest struct {
	SourceID      string          `json:"source_id"`
	DestinationID string          `json:"destination_id"`
	Amount        string          `json:"amount"`
	Reason        string          `json:"reason"`
	Metadata      json.RawMessage `json:"metadata"`
}

type creditRequest struct {
	AccountID string          `json:"account_id"`
	Amount    string          `json:"amount"`
	Reason    string          `json:"reason"`
	Metadata  json.RawMessage `json:"metadata"`
}

type redeemRequest struct {
	AccountID   string          `json:"account_id"`
	AdvantageID string          `json:"advantage_id"`
	Metadata    json.RawMessage `json:"metadata"`
}

type advantageRequest struct {
	Description string `json:"description"`
	Cost        string `json:"cost"`
}

type accountPayload struct {
	AccountID   string `json:"account_id"`
	OwnerKind   string `json:"owner_kind"`
	DisplayName string `json:"display_name"`
	Balance     string `json:"balance"`
	CreatedUnix int64  `json:"created_unix_utc"`
}

type transactionPayload struct {
	TransactionID string          `json:"transaction_id"`
	SourceID      string          `json:"source_id"`
	DestinationID string          `json:"destination_id,omitempty"`
	Kind          string          `json:"kind"`
	Amount        string          `json:"amount"`
	Reason        string          `json:"reason"`
	Metadata      json.RawMessage `json:"metadata"`
	CreatedUnix   int64           `json:"created_unix_utc"`
}

type advantagePayload struct {
	AdvantageID string `json:"advantage_id"`
	CompanyID   string `json:"company_id"`
	CompanyName string `json:"company_name"`
	Description string `json:"description"`
	Cost        string `json:"cost"`
	CreatedUnix int64  `json:"created_unix_utc"`
	UpdatedUnix int64  `json:"updated_unix_utc"`
}

type couponPayload struct {
	Code        string `json:"code"`
	AdvantageID string `json:"advantage_id"`
	IssuedUnix  int64  `json:"issued_unix_utc"`
	ExpiresUnix int64  `json:"expires_unix_utc,omitempty"`
}

type receiptPayload struct {
	TransactionID string         `json:"transaction_id"`
	Advantage     advantageView  `json:"advantage"`
	Coupon        *couponPayload `json:"coupon,omitempty"`
	Balance       string         `json:"balance"`
}

type advantageView struct {
	AdvantageID string `json:"advantage_id"`
	Description string `json:"description"`
	Cost        string `json:"cost"`
	CompanyName string `json:"company_name"`
}

type consumedCouponPayload struct {
	Code        string `json:"code"`
	AdvantageID string `json:"advantage_id"`
	UsedUnix    int64  `json:"used_unix_utc"`
}

func mapAccountPayload(account coin.Account) accountPayload {
	return accountPayload{
		AccountID:   account.AccountID.String(),
		OwnerKind:   account.OwnerKind.String(),
		DisplayName: account.DisplayName,
		Balance:     formatCoinAmount(account.BalanceCents.Int64()),
		CreatedUnix: account.CreatedUnixUTC,
	}
}

func mapTransactionPayload(record coin.TransactionRecord) transactionPayload {
	payload := transactionPayload{
		TransactionID: record.TransactionID,
		SourceID:      record.SourceID.String(),
		Kind:          record.Kind.String(),
		Amount:        formatCoinAmount(record.AmountCents.Int64()),
		Reason:        record.Reason,
		Metadata:      json.RawMessage(record.MetadataJSON),
		CreatedUnix:   record.CreatedUnixUTC,
	}
	if record.DestinationID != nil {
		payload.DestinationID = record.DestinationID.String()
	}
	return payload
}

func mapAdvantagePayload(advantage coin.Advantage) advantagePayload {
	return advantagePayload{
		AdvantageID: advantage.AdvantageID.String(),
		CompanyID:   advantage.CompanyID.String(),
		CompanyName: advantage.CompanyName,
		Description: advantage.Description,
		Cost:        formatCoinAmount(advantage.CostCents.Int64()),
		CreatedUnix: advantage.CreatedUnixUTC,
		UpdatedUnix: advantage.UpdatedUnixUTC,
	}
}

func mapReceiptPayload(receipt coin.RedemptionReceipt) receiptPayload {
	payload := receiptPayload{
		TransactionID: receipt.TransactionID,
		Advantage: advantageView{
			AdvantageID: receipt.Advantage.AdvantageID.String(),
			Description: receipt.Advantage.Description,
			Cost:        formatCoinAmount(receipt.Advantage.CostCents.Int64()),
			CompanyName: receipt.Advantage.CompanyName,
		},
		Balance: formatCoinAmount(receipt.BalanceCents.Int64()),
	}
	if receipt.Coupon != nil {
		payload.Coupon = &couponPayload{
			Code:        receipt.Coupon.Code.String(),
			AdvantageID: receipt.Coupon.AdvantageID.String(),
			IssuedUnix:  receipt.Coupon.IssuedUnixUTC,
			ExpiresUnix: receipt.Coupon.ExpiresAtUnixUTC,
		}
	}
	return payload
}

func metadataString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}
