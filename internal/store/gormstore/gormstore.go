package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/campuscoin/ledger/pkg/coin"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintCouponCode  = "uniq_coupons_code"
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectTx        = "transaction"
	errorSubjectAdvantage = "advantage"
	errorSubjectCoupon    = "coupon"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeSetBalance   = "set_balance"
	errorCodeUpdate       = "update"
	errorCodeDelete       = "delete"
	errorCodeMarkUsed     = "mark_used"

	advantageSelect = "advantages.advantage_id, advantages.company_id, advantages.description, advantages.cost_cents, advantages.created_at, advantages.updated_at, accounts.display_name as company_name"
	advantageJoin   = "join accounts on accounts.account_id = advantages.company_id"
)

// Store implements coin.Store and the catalog store contract using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coin.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, account coin.Account) error {
	model := Account{
		AccountID:    account.AccountID.String(),
		OwnerKind:    account.OwnerKind.String(),
		DisplayName:  account.DisplayName,
		BalanceCents: account.BalanceCents.Int64(),
		CreatedAt:    time.Unix(account.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, accountID coin.AccountID) (coin.Account, error) {
	return store.getAccount(ctx, accountID, false)
}

func (store *Store) GetAccountForUpdate(ctx context.Context, accountID coin.AccountID) (coin.Account, error) {
	return store.getAccount(ctx, accountID, true)
}

func (store *Store) getAccount(ctx context.Context, accountID coin.AccountID, forUpdate bool) (coin.Account, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Account
	err := query.Where("account_id = ?", accountID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return coin.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, coin.ErrAccountNotFound)
		}
		return coin.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return coin.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

// SetBalance is a guarded write: it only applies when the stored balance
// still matches the value observed under the row lock. Zero rows affected
// after a successful lock means the invariant machinery is broken.
func (store *Store) SetBalance(ctx context.Context, accountID coin.AccountID, from coin.BalanceCents, to coin.BalanceCents) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND balance_cents = ?", accountID.String(), from.Int64()).
		Update("balance_cents", to.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSetBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSetBalance, coin.ErrConsistencyViolation)
	}
	return nil
}

func (store *Store) AppendTransaction(ctx context.Context, input coin.TransactionInput) error {
	var destID *string
	if destination, ok := input.DestinationID(); ok {
		value := destination.String()
		destID = &value
	}
	model := Transaction{
		TransactionID:   input.TransactionID(),
		SourceAccountID: input.SourceID().String(),
		DestAccountID:   destID,
		Kind:            input.Kind().String(),
		AmountCents:     input.AmountCents().Int64(),
		Reason:          input.Reason().String(),
		Metadata:        datatypesJSON(input.MetadataJSON().String()),
		CreatedAt:       time.Unix(input.CreatedUnixUTC(), 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListTransactionsByAccount(ctx context.Context, accountID coin.AccountID, beforeUnixUTC int64, limit int) ([]coin.TransactionRecord, error) {
	var rows []Transaction
	err := store.db.WithContext(ctx).
		Where("(source_account_id = ? OR dest_account_id = ?) AND created_at < ?", accountID.String(), accountID.String(), cutoffTime(beforeUnixUTC)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTx, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) ListTransactionsByKind(ctx context.Context, kind coin.TransactionKind, beforeUnixUTC int64, limit int) ([]coin.TransactionRecord, error) {
	var rows []Transaction
	err := store.db.WithContext(ctx).
		Where("kind = ? AND created_at < ?", kind.String(), cutoffTime(beforeUnixUTC)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTx, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) GetAdvantage(ctx context.Context, advantageID coin.AdvantageID) (coin.Advantage, error) {
	var row advantageRow
	err := store.db.WithContext(ctx).
		Table("advantages").
		Select(advantageSelect).
		Joins(advantageJoin).
		Where("advantages.advantage_id = ?", advantageID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return coin.Advantage{}, wrapStoreError(errorSubjectAdvantage, errorCodeGet, coin.ErrAdvantageNotFound)
		}
		return coin.Advantage{}, wrapStoreError(errorSubjectAdvantage, errorCodeGet, err)
	}
	advantage, err := mapAdvantage(row)
	if err != nil {
		return coin.Advantage{}, wrapStoreError(errorSubjectAdvantage, errorCodeInvalid, err)
	}
	return advantage, nil
}

func (store *Store) CreateCoupon(ctx context.Context, coupon coin.Coupon) error {
	var expiresAt *time.Time
	if coupon.ExpiresAtUnixUTC != 0 {
		value := time.Unix(coupon.ExpiresAtUnixUTC, 0).UTC()
		expiresAt = &value
	}
	model := Coupon{
		CouponID:    coupon.CouponID,
		Code:        coupon.Code.String(),
		AdvantageID: coupon.AdvantageID.String(),
		AccountID:   coupon.AccountID.String(),
		IssuedAt:    time.Unix(coupon.IssuedUnixUTC, 0).UTC(),
		ExpiresAt:   expiresAt,
		Used:        coupon.Used,
		Valid:       coupon.Valid,
		Metadata:    datatypesJSON(coupon.MetadataJSON),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintCouponCode) {
		return wrapStoreError(errorSubjectCoupon, errorCodeDuplicate, coin.ErrCouponCodeTaken)
	}
	if err != nil {
		return wrapStoreError(errorSubjectCoupon, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetCouponForUpdate(ctx context.Context, code coin.CouponCode) (coin.Coupon, error) {
	var model Coupon
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return coin.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeGet, coin.ErrCouponNotFound)
		}
		return coin.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeGet, err)
	}
	coupon, err := mapCoupon(model)
	if err != nil {
		return coin.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	return coupon, nil
}

// MarkCouponUsed flips used exactly once. The caller checked the flag under
// the row lock, so a zero-row update here indicates a broken atomic unit.
func (store *Store) MarkCouponUsed(ctx context.Context, code coin.CouponCode, usedAtUnixUTC int64) error {
	usedAt := time.Unix(usedAtUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Coupon{}).
		Where("code = ? AND used = ?", code.String(), false).
		Updates(map[string]interface{}{"used": true, "used_at": usedAt})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCoupon, errorCodeMarkUsed, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCoupon, errorCodeMarkUsed, coin.ErrConsistencyViolation)
	}
	return nil
}

// Catalog contract ------------------------------------------------------

func (store *Store) CreateAdvantage(ctx context.Context, advantage coin.Advantage) error {
	model := Advantage{
		AdvantageID: advantage.AdvantageID.String(),
		CompanyID:   advantage.CompanyID.String(),
		Description: advantage.Description,
		CostCents:   advantage.CostCents.Int64(),
		CreatedAt:   time.Unix(advantage.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:   time.Unix(advantage.UpdatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAdvantage, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) UpdateAdvantage(ctx context.Context, advantage coin.Advantage) error {
	result := store.db.WithContext(ctx).
		Model(&Advantage{}).
		Where("advantage_id = ? AND company_id = ?", advantage.AdvantageID.String(), advantage.CompanyID.String()).
		Updates(map[string]interface{}{
			"description": advantage.Description,
			"cost_cents":  advantage.CostCents.Int64(),
			"updated_at":  time.Unix(advantage.UpdatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAdvantage, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAdvantage, errorCodeUpdate, coin.ErrAdvantageNotFound)
	}
	return nil
}

func (store *Store) DeleteAdvantage(ctx context.Context, companyID coin.CompanyID, advantageID coin.AdvantageID) error {
	result := store.db.WithContext(ctx).
		Where("advantage_id = ? AND company_id = ?", advantageID.String(), companyID.String()).
		Delete(&Advantage{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAdvantage, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAdvantage, errorCodeDelete, coin.ErrAdvantageNotFound)
	}
	return nil
}

func (store *Store) ListAdvantages(ctx context.Context, beforeUnixUTC int64, limit int) ([]coin.Advantage, error) {
	return store.listAdvantages(ctx, nil, beforeUnixUTC, limit)
}

func (store *Store) ListAdvantagesByCompany(ctx context.Context, companyID coin.CompanyID, beforeUnixUTC int64, limit int) ([]coin.Advantage, error) {
	return store.listAdvantages(ctx, &companyID, beforeUnixUTC, limit)
}

func (store *Store) listAdvantages(ctx context.Context, companyID *coin.CompanyID, beforeUnixUTC int64, limit int) ([]coin.Advantage, error) {
	query := store.db.WithContext(ctx).
		Table("advantages").
		Select(advantageSelect).
		Joins(advantageJoin).
		Where("advantages.created_at < ?", cutoffTime(beforeUnixUTC))
	if companyID != nil {
		query = query.Where("advantages.company_id = ?", companyID.String())
	}
	var rows []advantageRow
	err := query.Order("advantages.created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAdvantage, errorCodeList, err)
	}
	advantages := make([]coin.Advantage, 0, len(rows))
	for _, row := range rows {
		advantage, err := mapAdvantage(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAdvantage, errorCodeInvalid, err)
		}
		advantages = append(advantages, advantage)
	}
	return advantages, nil
}

// Mapping helpers -------------------------------------------------------

type advantageRow struct {
	AdvantageID string
	CompanyID   string
	Description string
	CostCents   int64
	CompanyName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func mapAccount(model Account) (coin.Account, error) {
	accountID, err := coin.NewAccountID(model.AccountID)
	if err != nil {
		return coin.Account{}, err
	}
	kind, err := coin.ParseOwnerKind(model.OwnerKind)
	if err != nil {
		return coin.Account{}, err
	}
	balance, err := coin.NewBalanceCents(model.BalanceCents)
	if err != nil {
		return coin.Account{}, err
	}
	return coin.Account{
		AccountID:      accountID,
		OwnerKind:      kind,
		DisplayName:    model.DisplayName,
		BalanceCents:   balance,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func mapAdvantage(row advantageRow) (coin.Advantage, error) {
	advantageID, err := coin.NewAdvantageID(row.AdvantageID)
	if err != nil {
		return coin.Advantage{}, err
	}
	companyID, err := coin.NewCompanyID(row.CompanyID)
	if err != nil {
		return coin.Advantage{}, err
	}
	cost, err := coin.NewAmountCents(row.CostCents)
	if err != nil {
		return coin.Advantage{}, err
	}
	return coin.Advantage{
		AdvantageID:    advantageID,
		CompanyID:      companyID,
		CompanyName:    row.CompanyName,
		Description:    row.Description,
		CostCents:      cost,
		CreatedUnixUTC: row.CreatedAt.Unix(),
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}, nil
}

func mapTransactions(rows []Transaction) ([]coin.TransactionRecord, error) {
	records := make([]coin.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		record, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTx, errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func mapTransaction(row Transaction) (coin.TransactionRecord, error) {
	sourceID, err := coin.NewAccountID(row.SourceAccountID)
	if err != nil {
		return coin.TransactionRecord{}, err
	}
	var destinationID *coin.AccountID
	if row.DestAccountID != nil {
		parsed, err := coin.NewAccountID(*row.DestAccountID)
		if err != nil {
			return coin.TransactionRecord{}, err
		}
		destinationID = &parsed
	}
	kind, err := coin.ParseTransactionKind(row.Kind)
	if err != nil {
		return coin.TransactionRecord{}, err
	}
	amount, err := coin.NewAmountCents(row.AmountCents)
	if err != nil {
		return coin.TransactionRecord{}, err
	}
	return coin.TransactionRecord{
		TransactionID:  row.TransactionID,
		SourceID:       sourceID,
		DestinationID:  destinationID,
		Kind:           kind,
		AmountCents:    amount,
		Reason:         row.Reason,
		MetadataJSON:   string(row.Metadata),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapCoupon(model Coupon) (coin.Coupon, error) {
	code, err := coin.NewCouponCode(model.Code)
	if err != nil {
		return coin.Coupon{}, err
	}
	advantageID, err := coin.NewAdvantageID(model.AdvantageID)
	if err != nil {
		return coin.Coupon{}, err
	}
	accountID, err := coin.NewAccountID(model.AccountID)
	if err != nil {
		return coin.Coupon{}, err
	}
	return coin.Coupon{
		CouponID:         model.CouponID,
		Code:             code,
		AdvantageID:      advantageID,
		AccountID:        accountID,
		IssuedUnixUTC:    model.IssuedAt.Unix(),
		ExpiresAtUnixUTC: timeOrZero(model.ExpiresAt),
		Used:             model.Used,
		UsedAtUnixUTC:    timeOrZero(model.UsedAt),
		Valid:            model.Valid,
		MetadataJSON:     string(model.Metadata),
	}, nil
}

func cutoffTime(beforeUnixUTC int64) time.Time {
	if beforeUnixUTC == 0 {
		return time.Now().UTC().Add(time.Second)
	}
	return time.Unix(beforeUnixUTC, 0).UTC()
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func wrapStoreError(subject string, code string, err error) error {
	return coin.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
