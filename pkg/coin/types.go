package coin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCents is a strictly positive integer amount in coin cents.
type AmountCents int64

// BalanceCents is a non-negative account balance in coin cents.
type BalanceCents int64

// AccountID identifies a coin account.
type AccountID struct {
	value string
}

// AdvantageID identifies a catalog advantage.
type AdvantageID struct {
	value string
}

// CompanyID identifies a partner company.
type CompanyID struct {
	value string
}

// CouponCode is the opaque single-use token handed out at redemption time.
type CouponCode struct {
	value string
}

// DisplayName is the human-readable name shown for an account.
type DisplayName struct {
	value string
}

// Reason is the free-text motive attached to a transaction.
type Reason struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// OwnerKind classifies the principal behind an account.
type OwnerKind string

const (
	OwnerStudent    OwnerKind = "student"
	OwnerInstructor OwnerKind = "instructor"
	OwnerCompany    OwnerKind = "company"
)

// TransactionKind enumerates balance-affecting event kinds.
type TransactionKind string

const (
	KindTransfer   TransactionKind = "transfer"
	KindRedemption TransactionKind = "redemption"
	KindCredit     TransactionKind = "credit"
)

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewAdvantageID validates and normalizes an advantage id.
func NewAdvantageID(raw string) (AdvantageID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AdvantageID{}, fmt.Errorf("%w: empty value", ErrInvalidAdvantageID)
	}
	return AdvantageID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AdvantageID) String() string {
	return id.value
}

// NewCompanyID validates and normalizes a company id.
func NewCompanyID(raw string) (CompanyID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CompanyID{}, fmt.Errorf("%w: empty value", ErrInvalidCompanyID)
	}
	return CompanyID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CompanyID) String() string {
	return id.value
}

// NewCouponCode validates and normalizes a coupon code.
func NewCouponCode(raw string) (CouponCode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CouponCode{}, fmt.Errorf("%w: empty value", ErrInvalidCouponCode)
	}
	return CouponCode{value: trimmed}, nil
}

// String returns the normalized code.
func (code CouponCode) String() string {
	return code.value
}

// NewDisplayName validates and normalizes an account display name.
func NewDisplayName(raw string) (DisplayName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DisplayName{}, fmt.Errorf("%w: empty value", ErrInvalidDisplayName)
	}
	return DisplayName{value: trimmed}, nil
}

// String returns the normalized name.
func (name DisplayName) String() string {
	return name.value
}

// NewReason validates a transaction motive.
func NewReason(raw string) (Reason, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reason{}, fmt.Errorf("%w: empty value", ErrInvalidReason)
	}
	return Reason{value: trimmed}, nil
}

// String returns the normalized motive.
func (reason Reason) String() string {
	return reason.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewAmountCents validates an amount and ensures it is strictly positive.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cent value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewBalanceCents validates a balance and ensures it is non-negative.
func NewBalanceCents(raw int64) (BalanceCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidBalanceCents)
	}
	return BalanceCents(raw), nil
}

// Int64 returns the raw cent value.
func (balance BalanceCents) Int64() int64 {
	return int64(balance)
}

// Debit subtracts amount, failing with ErrInsufficientFunds when the balance
// would go negative.
func (balance BalanceCents) Debit(amount AmountCents) (BalanceCents, error) {
	remaining := balance.Int64() - amount.Int64()
	if remaining < 0 {
		return 0, ErrInsufficientFunds
	}
	return BalanceCents(remaining), nil
}

// Credit adds amount to the balance.
func (balance BalanceCents) Credit(amount AmountCents) BalanceCents {
	return BalanceCents(balance.Int64() + amount.Int64())
}

// ParseOwnerKind validates a stored owner kind.
func ParseOwnerKind(raw string) (OwnerKind, error) {
	switch OwnerKind(raw) {
	case OwnerStudent, OwnerInstructor, OwnerCompany:
		return OwnerKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOwnerKind, raw)
}

// String returns the stored representation.
func (kind OwnerKind) String() string {
	return string(kind)
}

// ParseTransactionKind validates a stored transaction kind.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case KindTransfer, KindRedemption, KindCredit:
		return TransactionKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
}

// String returns the stored representation.
func (kind TransactionKind) String() string {
	return string(kind)
}

// Account is the balance-bearing record for a principal.
type Account struct {
	AccountID      AccountID
	OwnerKind      OwnerKind
	DisplayName    string
	BalanceCents   BalanceCents
	CreatedUnixUTC int64
}

// TransactionRecord is a single immutable line in the transaction log.
// Destination is nil for redemptions and credits; the counterparty there is
// the catalog or the institution, not another account.
type TransactionRecord struct {
	TransactionID  string
	SourceID       AccountID
	DestinationID  *AccountID
	Kind           TransactionKind
	AmountCents    AmountCents
	Reason         string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// TransactionInput is a validated, not-yet-persisted transaction record.
type TransactionInput struct {
	transactionID  string
	sourceID       AccountID
	destinationID  *AccountID
	kind           TransactionKind
	amountCents    AmountCents
	reason         Reason
	metadata       MetadataJSON
	createdUnixUTC int64
}

// NewTransactionInput validates the record-level invariants: the amount is
// positive by construction, redemptions and credits carry no destination,
// and transfers carry a destination distinct from the source.
func NewTransactionInput(
	transactionID string,
	sourceID AccountID,
	destinationID *AccountID,
	kind TransactionKind,
	amountCents AmountCents,
	reason Reason,
	metadata MetadataJSON,
	createdUnixUTC int64,
) (TransactionInput, error) {
	if strings.TrimSpace(transactionID) == "" {
		return TransactionInput{}, fmt.Errorf("%w: empty transaction id", ErrInvalidTransactionID)
	}
	switch kind {
	case KindTransfer:
		if destinationID == nil {
			return TransactionInput{}, fmt.Errorf("%w: transfer requires a destination", ErrInvalidKind)
		}
		if *destinationID == sourceID {
			return TransactionInput{}, ErrSameAccount
		}
	case KindRedemption, KindCredit:
		if destinationID != nil {
			return TransactionInput{}, fmt.Errorf("%w: %s carries no destination", ErrInvalidKind, kind)
		}
	default:
		return TransactionInput{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return TransactionInput{
		transactionID:  transactionID,
		sourceID:       sourceID,
		destinationID:  destinationID,
		kind:           kind,
		amountCents:    amountCents,
		reason:         reason,
		metadata:       metadata,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

// TransactionID returns the pre-generated identifier.
func (input TransactionInput) TransactionID() string {
	return input.transactionID
}

// SourceID returns the debited or initiating account.
func (input TransactionInput) SourceID() AccountID {
	return input.sourceID
}

// DestinationID returns the credited account when one exists.
func (input TransactionInput) DestinationID() (AccountID, bool) {
	if input.destinationID == nil {
		return AccountID{}, false
	}
	return *input.destinationID, true
}

// Kind returns the transaction kind.
func (input TransactionInput) Kind() TransactionKind {
	return input.kind
}

// AmountCents returns the positive amount.
func (input TransactionInput) AmountCents() AmountCents {
	return input.amountCents
}

// Reason returns the motive.
func (input TransactionInput) Reason() Reason {
	return input.reason
}

// MetadataJSON returns the metadata blob.
func (input TransactionInput) MetadataJSON() MetadataJSON {
	return input.metadata
}

// CreatedUnixUTC returns the creation timestamp.
func (input TransactionInput) CreatedUnixUTC() int64 {
	return input.createdUnixUTC
}

// Advantage is the catalog entry consumed by the redemption engine.
// CompanyName is the denormalized display name used in receipts.
type Advantage struct {
	AdvantageID    AdvantageID
	CompanyID      CompanyID
	CompanyName    string
	Description    string
	CostCents      AmountCents
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Coupon is the single-use token issued at redemption time.
// ExpiresAtUnixUTC and UsedAtUnixUTC are zero when unset.
type Coupon struct {
	CouponID         string
	Code             CouponCode
	AdvantageID      AdvantageID
	AccountID        AccountID
	IssuedUnixUTC    int64
	ExpiresAtUnixUTC int64
	Used             bool
	UsedAtUnixUTC    int64
	Valid            bool
	MetadataJSON     string
}

// ConsumedCoupon is the snapshot returned after a successful coupon use.
type ConsumedCoupon struct {
	Code          CouponCode
	AdvantageID   AdvantageID
	UsedAtUnixUTC int64
}

// AdvantageView is the public projection carried by a redemption receipt.
type AdvantageView struct {
	AdvantageID AdvantageID
	Description string
	CostCents   AmountCents
	CompanyName string
}

// RedemptionReceipt reports the outcome of a redemption. Coupon is nil when
// the deployment policy does not issue coupons.
type RedemptionReceipt struct {
	TransactionID string
	Advantage     AdvantageView
	Coupon        *Coupon
	BalanceCents  BalanceCents
}

// CouponPolicy controls whether redemptions issue coupons and how long the
// issued coupon stays redeemable. TTLSeconds of zero means no expiry.
type CouponPolicy struct {
	IssueCoupons bool
	TTLSeconds   int64
}

// Store is the persistence contract used by Service. Implementations must
// make WithTx a real transaction: everything the closure writes becomes
// visible atomically or not at all, and ForUpdate reads block concurrent
// writers of the same row until the transaction ends.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, accountID AccountID) (Account, error)
	GetAccountForUpdate(ctx context.Context, accountID AccountID) (Account, error)
	SetBalance(ctx context.Context, accountID AccountID, from BalanceCents, to BalanceCents) error
	AppendTransaction(ctx context.Context, input TransactionInput) error
	ListTransactionsByAccount(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]TransactionRecord, error)
	ListTransactionsByKind(ctx context.Context, kind TransactionKind, beforeUnixUTC int64, limit int) ([]TransactionRecord, error)
	GetAdvantage(ctx context.Context, advantageID AdvantageID) (Advantage, error)
	CreateCoupon(ctx context.Context, coupon Coupon) error
	GetCouponForUpdate(ctx context.Context, code CouponCode) (Coupon, error)
	MarkCouponUsed(ctx context.Context, code CouponCode, usedAtUnixUTC int64) error
}
