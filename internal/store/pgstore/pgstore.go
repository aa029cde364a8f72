package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/campuscoin/ledger/pkg/coin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintCouponCode  = "uniq_coupons_code"
	pgUniqueViolationCode = "23505"
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectTx        = "transaction"
	errorSubjectAdvantage = "advantage"
	errorSubjectCoupon    = "coupon"
	errorCodeBegin        = "begin"
	errorCodeCommit       = "commit"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeSetBalance   = "set_balance"
	errorCodeMarkUsed     = "mark_used"
	errorCodeUpdate       = "update"
	errorCodeDelete       = "delete"

	sqlInsertAccount = `
		insert into accounts(account_id, owner_kind, display_name, balance_cents, created_at)
		values($1, $2, $3, $4, to_timestamp($5))
	`

	sqlGetAccount = `
		select account_id::text, owner_kind, display_name, balance_cents, extract(epoch from created_at)::bigint
		from accounts
		where account_id = $1
	`

	sqlGetAccountForUpdate = sqlGetAccount + ` for update`

	sqlSetBalance = `
		update accounts set balance_cents = $3
		where account_id = $1 and balance_cents = $2
	`

	sqlInsertTransaction = `
		insert into transactions(
			transaction_id, source_account_id, dest_account_id, kind, amount_cents, reason, metadata, created_at
		)
		values(
			$1, $2, nullif($3,'')::uuid, $4, $5, $6,
			coalesce(nullif($7,''),'{}')::jsonb,
			to_timestamp($8)
		)
	`

	sqlTransactionColumns = `
		select
			transaction_id::text,
			source_account_id::text,
			coalesce(dest_account_id::text,''),
			kind,
			amount_cents,
			reason,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from transactions
	`

	sqlListTransactionsByAccount = sqlTransactionColumns + `
		where (source_account_id = $1 or dest_account_id = $1) and created_at < to_timestamp($2)
		order by created_at desc
		limit $3
	`

	sqlListTransactionsByKind = sqlTransactionColumns + `
		where kind = $1 and created_at < to_timestamp($2)
		order by created_at desc
		limit $3
	`

	sqlGetAdvantage = sqlAdvantageColumns + `
		where advantages.advantage_id = $1
	`

	sqlInsertCoupon = `
		insert into coupons(
			coupon_id, code, advantage_id, account_id, issued_at, expires_at, used, used_at, valid, metadata
		)
		values(
			$1, $2, $3, $4,
			to_timestamp($5),
			to_timestamp(nullif($6,0)),
			false, null, $7,
			coalesce(nullif($8,''),'{}')::jsonb
		)
	`

	sqlGetCouponForUpdate = `
		select
			coupon_id::text,
			code,
			advantage_id::text,
			account_id::text,
			extract(epoch from issued_at)::bigint,
			coalesce(extract(epoch from expires_at)::bigint,0),
			used,
			coalesce(extract(epoch from used_at)::bigint,0),
			valid,
			coalesce(metadata::text,'{}')
		from coupons
		where code = $1
		for update
	`

	sqlMarkCouponUsed = `
		update coupons
		set used = true, used_at = to_timestamp($2)
		where code = $1 and used = false
	`

	sqlInsertAdvantage = `
		insert into advantages(advantage_id, company_id, description, cost_cents, created_at, updated_at)
		values($1, $2, $3, $4, to_timestamp($5), to_timestamp($6))
	`

	sqlUpdateAdvantage = `
		update advantages
		set description = $3, cost_cents = $4, updated_at = to_timestamp($5)
		where advantage_id = $1 and company_id = $2
	`

	sqlDeleteAdvantage = `
		delete from advantages
		where advantage_id = $1 and company_id = $2
	`

	sqlAdvantageColumns = `
		select
			advantages.advantage_id::text,
			advantages.company_id::text,
			accounts.display_name,
			advantages.description,
			advantages.cost_cents,
			extract(epoch from advantages.created_at)::bigint,
			extract(epoch from advantages.updated_at)::bigint
		from advantages
		join accounts on accounts.account_id = advantages.company_id
	`

	sqlListAdvantages = sqlAdvantageColumns + `
		where advantages.created_at < to_timestamp($1)
		order by advantages.created_at desc
		limit $2
	`

	sqlListAdvantagesByCompany = sqlAdvantageColumns + `
		where advantages.company_id = $1 and advantages.created_at < to_timestamp($2)
		order by advantages.created_at desc
		limit $3
	`
)

// querier is the subset of pgx satisfied by both a pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements coin.Store over a pgx pool; WithTx hands the service a
// Store bound to one open transaction.
type Store struct {
	pool *pgxpool.Pool
	conn querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, conn: pool}
}

// WithTx executes fn within a transaction. A Store already bound to a
// transaction runs fn in place, keeping nested atomic units in one commit.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coin.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	transactionStore := &Store{conn: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CreateAccount(ctx context.Context, account coin.Account) error {
	_, err := store.conn.Exec(ctx, sqlInsertAccount,
		account.AccountID.String(),
		account.OwnerKind.String(),
		account.DisplayName,
		account.BalanceCents.Int64(),
		account.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, accountID coin.AccountID) (coin.Account, error) {
	return store.getAccount(ctx, sqlGetAccount, accountID)
}

func (store *Store) GetAccountForUpdate(ctx context.Context, accountID coin.AccountID) (coin.Account, error) {
	return store.getAccount(ctx, sqlGetAccountForUpdate, accountID)
}

func (store *Store) getAccount(ctx context.Context, query string, accountID coin.AccountID) (coin.Account, error) {
	var (
		accountValue string
		kindValue    string
		displayName  string
		balanceValue int64
		createdUnix  int64
	)
	err := store.conn.QueryRow(ctx, query, accountID.String()).Scan(
		&accountValue,
		&kindValue,
		&displayName,
		&balanceValue,
		&createdUnix,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coin.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, coin.ErrAccountNotFound)
		}
		return coin.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	parsedAccountID, err := coin.NewAccountID(accountValue)
	if err != nil {
		return coin.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	kind, err := coin.ParseOwnerKind(kindValue)
	if err != nil {
		return coin.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	balance, err := coin.NewBalanceCents(balanceValue)
	if err != nil {
		return coin.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return coin.Account{
		AccountID:      parsedAccountID,
		OwnerKind:      kind,
		DisplayName:    displayName,
		BalanceCents:   balance,
		CreatedUnixUTC: createdUnix,
	}, nil
}

func (store *Store) SetBalance(ctx context.Context, accountID coin.AccountID, from coin.BalanceCents, to coin.BalanceCents) error {
	tag, err := store.conn.Exec(ctx, sqlSetBalance, accountID.String(), from.Int64(), to.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSetBalance, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSetBalance, coin.ErrConsistencyViolation)
	}
	return nil
}

func (store *Store) AppendTransaction(ctx context.Context, input coin.TransactionInput) error {
	destinationValue := ""
	if destination, ok := input.DestinationID(); ok {
		destinationValue = destination.String()
	}
	_, err := store.conn.Exec(ctx, sqlInsertTransaction,
		input.TransactionID(),
		input.SourceID().String(),
		destinationValue,
		input.Kind().String(),
		input.AmountCents().Int64(),
		input.Reason().String(),
		input.MetadataJSON().String(),
		input.CreatedUnixUTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListTransactionsByAccount(ctx context.Context, accountID coin.AccountID, beforeUnixUTC int64, limit int) ([]coin.TransactionRecord, error) {
	rows, err := store.conn.Query(ctx, sqlListTransactionsByAccount, accountID.String(), cutoffUnix(beforeUnixUTC), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTx, errorCodeList, err)
	}
	defer rows.Close()
	records, err := scanTransactions(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTx, errorCodeInvalid, err)
	}
	return records, nil
}

func (store *Store) ListTransactionsByKind(ctx context.Context, kind coin.TransactionKind, beforeUnixUTC int64, limit int) ([]coin.TransactionRecord, error) {
	rows, err := store.conn.Query(ctx, sqlListTransactionsByKind, kind.String(), cutoffUnix(beforeUnixUTC), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTx, errorCodeList, err)
	}
	defer rows.Close()
	records, err := scanTransactions(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTx, errorCodeInvalid, err)
	}
	return records, nil
}

func (store *Store) GetAdvantage(ctx context.Context, advantageID coin.AdvantageID) (coin.Advantage, error) {
	var (
		advantageValue string
		companyValue   string
		companyName    string
		description    string
		costValue      int64
		createdUnix    int64
		updatedUnix    int64
	)
	err := store.conn.QueryRow(ctx, sqlGetAdvantage, advantageID.String()).Scan(
		&advantageValue,
		&companyValue,
		&companyName,
		&description,
		&costValue,
		&createdUnix,
		&updatedUnix,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coin.Advantage{}, wrapStoreError(errorSubjectAdvantage, errorCodeGet, coin.ErrAdvantageNotFound)
		}
		return coin.Advantage{}, wrapStoreError(errorSubjectAdvantage, errorCodeGet, err)
	}
	parsedAdvantageID, err := coin.NewAdvantageID(advantageValue)
	if err != nil {
		return coin.Advantage{}, wrapStoreError(errorSubjectAdvantage, errorCodeInvalid, err)
	}
	companyID, err := coin.NewCompanyID(companyValue)
	if err != nil {
		return coin.Advantage{}, wrapStoreError(errorSubjectAdvantage, errorCodeInvalid, err)
	}
	cost, err := coin.NewAmountCents(costValue)
	if err != nil {
		return coin.Advantage{}, wrapStoreError(errorSubjectAdvantage, errorCodeInvalid, err)
	}
	return coin.Advantage{
		AdvantageID:    parsedAdvantageID,
		CompanyID:      companyID,
		CompanyName:    companyName,
		Description:    description,
		CostCents:      cost,
		CreatedUnixUTC: createdUnix,
		UpdatedUnixUTC: updatedUnix,
	}, nil
}

func (store *Store) CreateCoupon(ctx context.Context, coupon coin.Coupon) error {
	_, err := store.conn.Exec(ctx, sqlInsertCoupon,
		coupon.CouponID,
		coupon.Code.String(),
		coupon.AdvantageID.String(),
		coupon.AccountID.String(),
		coupon.IssuedUnixUTC,
		coupon.ExpiresAtUnixUTC,
		coupon.Valid,
		coupon.MetadataJSON,
	)
	if isCouponCodeConflict(err) {
		return wrapStoreError(errorSubjectCoupon, errorCodeDuplicate, coin.ErrCouponCodeTaken)
	}
	if err != nil {
		return wrapStoreError(errorSubjectCoupon, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetCouponForUpdate(ctx context.Context, code coin.CouponCode) (coin.Coupon, error) {
	var (
		couponID      string
		codeValue     string
		advantageVal  string
		accountValue  string
		issuedUnix    int64
		expiresUnix   int64
		used          bool
		usedUnix      int64
		valid         bool
		metadataValue string
	)
	err := store.conn.QueryRow(ctx, sqlGetCouponForUpdate, code.String()).Scan(
		&couponID,
		&codeValue,
		&advantageVal,
		&accountValue,
		&issuedUnix,
		&expiresUnix,
		&used,
		&usedUnix,
		&valid,
		&metadataValue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coin.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeGet, coin.ErrCouponNotFound)
		}
		return coin.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeGet, err)
	}
	parsedCode, err := coin.NewCouponCode(codeValue)
	if err != nil {
		return coin.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	advantageID, err := coin.NewAdvantageID(advantageVal)
	if err != nil {
		return coin.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	accountID, err := coin.NewAccountID(accountValue)
	if err != nil {
		return coin.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	return coin.Coupon{
		CouponID:         couponID,
		Code:             parsedCode,
		AdvantageID:      advantageID,
		AccountID:        accountID,
		IssuedUnixUTC:    issuedUnix,
		ExpiresAtUnixUTC: expiresUnix,
		Used:             used,
		UsedAtUnixUTC:    usedUnix,
		Valid:            valid,
		MetadataJSON:     metadataValue,
	}, nil
}

func (store *Store) MarkCouponUsed(ctx context.Context, code coin.CouponCode, usedAtUnixUTC int64) error {
	tag, err := store.conn.Exec(ctx, sqlMarkCouponUsed, code.String(), usedAtUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectCoupon, errorCodeMarkUsed, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectCoupon, errorCodeMarkUsed, coin.ErrConsistencyViolation)
	}
	return nil
}

func (store *Store) CreateAdvantage(ctx context.Context, advantage coin.Advantage) error {
	_, err := store.conn.Exec(ctx, sqlInsertAdvantage,
		advantage.AdvantageID.String(),
		advantage.CompanyID.String(),
		advantage.Description,
		advantage.CostCents.Int64(),
		advantage.CreatedUnixUTC,
		advantage.UpdatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAdvantage, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) UpdateAdvantage(ctx context.Context, advantage coin.Advantage) error {
	tag, err := store.conn.Exec(ctx, sqlUpdateAdvantage,
		advantage.AdvantageID.String(),
		advantage.CompanyID.String(),
		advantage.Description,
		advantage.CostCents.Int64(),
		advantage.UpdatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAdvantage, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAdvantage, errorCodeUpdate, coin.ErrAdvantageNotFound)
	}
	return nil
}

func (store *Store) DeleteAdvantage(ctx context.Context, companyID coin.CompanyID, advantageID coin.AdvantageID) error {
	tag, err := store.conn.Exec(ctx, sqlDeleteAdvantage, advantageID.String(), companyID.String())
	if err != nil {
		return wrapStoreError(errorSubjectAdvantage, errorCodeDelete, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAdvantage, errorCodeDelete, coin.ErrAdvantageNotFound)
	}
	return nil
}

func (store *Store) ListAdvantages(ctx context.Context, beforeUnixUTC int64, limit int) ([]coin.Advantage, error) {
	rows, err := store.conn.Query(ctx, sqlListAdvantages, cutoffUnix(beforeUnixUTC), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAdvantage, errorCodeList, err)
	}
	defer rows.Close()
	advantages, err := scanAdvantages(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAdvantage, errorCodeInvalid, err)
	}
	return advantages, nil
}

func (store *Store) ListAdvantagesByCompany(ctx context.Context, companyID coin.CompanyID, beforeUnixUTC int64, limit int) ([]coin.Advantage, error) {
	rows, err := store.conn.Query(ctx, sqlListAdvantagesByCompany, companyID.String(), cutoffUnix(beforeUnixUTC), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAdvantage, errorCodeList, err)
	}
	defer rows.Close()
	advantages, err := scanAdvantages(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAdvantage, errorCodeInvalid, err)
	}
	return advantages, nil
}

func scanAdvantages(rows pgx.Rows) ([]coin.Advantage, error) {
	advantages := make([]coin.Advantage, 0, 16)
	for rows.Next() {
		var (
			advantageValue string
			companyValue   string
			companyName    string
			description    string
			costValue      int64
			createdUnix    int64
			updatedUnix    int64
		)
		if err := rows.Scan(
			&advantageValue,
			&companyValue,
			&companyName,
			&description,
			&costValue,
			&createdUnix,
			&updatedUnix,
		); err != nil {
			return nil, err
		}
		advantageID, err := coin.NewAdvantageID(advantageValue)
		if err != nil {
			return nil, err
		}
		companyID, err := coin.NewCompanyID(companyValue)
		if err != nil {
			return nil, err
		}
		cost, err := coin.NewAmountCents(costValue)
		if err != nil {
			return nil, err
		}
		advantages = append(advantages, coin.Advantage{
			AdvantageID:    advantageID,
			CompanyID:      companyID,
			CompanyName:    companyName,
			Description:    description,
			CostCents:      cost,
			CreatedUnixUTC: createdUnix,
			UpdatedUnixUTC: updatedUnix,
		})
	}
	return advantages, rows.Err()
}

// cutoffUnix treats a zero cursor as "everything so far". The one second of
// slack covers records stamped within the current second.
func cutoffUnix(beforeUnixUTC int64) int64 {
	if beforeUnixUTC > 0 {
		return beforeUnixUTC
	}
	return time.Now().UTC().Unix() + 1
}

func scanTransactions(rows pgx.Rows) ([]coin.TransactionRecord, error) {
	records := make([]coin.TransactionRecord, 0, 32)
	for rows.Next() {
		var (
			transactionID string
			sourceValue   string
			destValue     string
			kindValue     string
			amountValue   int64
			reason        string
			metadataValue string
			createdUnix   int64
		)
		if err := rows.Scan(
			&transactionID,
			&sourceValue,
			&destValue,
			&kindValue,
			&amountValue,
			&reason,
			&metadataValue,
			&createdUnix,
		); err != nil {
			return nil, err
		}
		sourceID, err := coin.NewAccountID(sourceValue)
		if err != nil {
			return nil, err
		}
		var destinationID *coin.AccountID
		if destValue != "" {
			parsed, err := coin.NewAccountID(destValue)
			if err != nil {
				return nil, err
			}
			destinationID = &parsed
		}
		kind, err := coin.ParseTransactionKind(kindValue)
		if err != nil {
			return nil, err
		}
		amount, err := coin.NewAmountCents(amountValue)
		if err != nil {
			return nil, err
		}
		records = append(records, coin.TransactionRecord{
			TransactionID:  transactionID,
			SourceID:       sourceID,
			DestinationID:  destinationID,
			Kind:           kind,
			AmountCents:    amount,
			Reason:         reason,
			MetadataJSON:   metadataValue,
			CreatedUnixUTC: createdUnix,
		})
	}
	return records, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return coin.WrapError(errorOperationStore, subject, code, err)
}

func isCouponCodeConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintCouponCode
	}
	return false
}
