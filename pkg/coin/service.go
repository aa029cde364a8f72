package coin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the domain logic over a Store: the ledger primitives,
// the transaction log, the redemption engine, and the coupon validator.
type Service struct {
	store        Store
	nowFn        func() int64
	newID        func() string
	logger       OperationLogger
	couponPolicy CouponPolicy
}

// NewService wires a Service. Coupon issuance is off unless a policy enables it.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// OpenAccount creates a zero-balance account for a principal.
func (service *Service) OpenAccount(ctx context.Context, kind OwnerKind, displayName string) (Account, error) {
	name, err := NewDisplayName(displayName)
	if err != nil {
		return Account{}, err
	}
	accountID, err := NewAccountID(service.newID())
	if err != nil {
		return Account{}, err
	}
	account := Account{
		AccountID:      accountID,
		OwnerKind:      kind,
		DisplayName:    name.String(),
		BalanceCents:   0,
		CreatedUnixUTC: service.nowFn(),
	}
	if err := service.store.CreateAccount(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// GetAccount returns the account snapshot including its current balance.
func (service *Service) GetAccount(ctx context.Context, accountID AccountID) (Account, error) {
	return service.store.GetAccount(ctx, accountID)
}

// Credit grants coins to an account and appends one credit record, both
// inside a single transaction.
func (service *Service) Credit(ctx context.Context, accountID AccountID, amount AmountCents, reason Reason, metadata MetadataJSON) (string, error) {
	transactionID := service.newID()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		credited := account.BalanceCents.Credit(amount)
		if err := transactionStore.SetBalance(ctx, accountID, account.BalanceCents, credited); err != nil {
			return err
		}
		input, err := NewTransactionInput(transactionID, accountID, nil, KindCredit, amount, reason, metadata, service.nowFn())
		if err != nil {
			return err
		}
		return transactionStore.AppendTransaction(ctx, input)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		AccountID: accountID,
		Amount:    amount,
		Error:     operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return transactionID, nil
}

// Transfer moves coins between two accounts and appends one transfer record
// with both endpoints populated, all inside a single transaction. The debit
// and the sufficiency check run against the same locked balance, so two
// transfers racing on one source account cannot jointly overdraw it.
func (service *Service) Transfer(ctx context.Context, sourceID AccountID, destinationID AccountID, amount AmountCents, reason Reason, metadata MetadataJSON) (string, error) {
	transactionID := service.newID()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if sourceID == destinationID {
			return ErrSameAccount
		}
		source, destination, err := lockAccountPair(ctx, transactionStore, sourceID, destinationID)
		if err != nil {
			return err
		}
		debited, err := source.BalanceCents.Debit(amount)
		if err != nil {
			return err
		}
		if err := transactionStore.SetBalance(ctx, sourceID, source.BalanceCents, debited); err != nil {
			return err
		}
		if err := transactionStore.SetBalance(ctx, destinationID, destination.BalanceCents, destination.BalanceCents.Credit(amount)); err != nil {
			return err
		}
		input, err := NewTransactionInput(transactionID, sourceID, &destinationID, KindTransfer, amount, reason, metadata, service.nowFn())
		if err != nil {
			return err
		}
		return transactionStore.AppendTransaction(ctx, input)
	})
	counterpart := destinationID
	service.logOperation(ctx, OperationLog{
		Operation:     operationTransfer,
		AccountID:     sourceID,
		CounterpartID: &counterpart,
		Amount:        amount,
		Error:         operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return transactionID, nil
}

// Redeem spends coins for an advantage: debit, one redemption record with no
// destination, and (policy permitting) a freshly issued coupon, all inside a
// single transaction. Nothing is mutated on any failure path. Redeem is not
// idempotent; retry deduplication is the caller's concern.
func (service *Service) Redeem(ctx context.Context, accountID AccountID, advantageID AdvantageID, metadata MetadataJSON) (RedemptionReceipt, error) {
	var receipt RedemptionReceipt
	transactionID := service.newID()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		advantage, err := transactionStore.GetAdvantage(ctx, advantageID)
		if err != nil {
			return err
		}
		account, err := transactionStore.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		debited, err := account.BalanceCents.Debit(advantage.CostCents)
		if err != nil {
			return err
		}
		if err := transactionStore.SetBalance(ctx, accountID, account.BalanceCents, debited); err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		reason, err := NewReason(redemptionReasonPrefix + advantage.Description)
		if err != nil {
			return err
		}
		input, err := NewTransactionInput(transactionID, accountID, nil, KindRedemption, advantage.CostCents, reason, metadata, nowUnixUTC)
		if err != nil {
			return err
		}
		if err := transactionStore.AppendTransaction(ctx, input); err != nil {
			return err
		}
		receipt = RedemptionReceipt{
			TransactionID: transactionID,
			Advantage: AdvantageView{
				AdvantageID: advantage.AdvantageID,
				Description: advantage.Description,
				CostCents:   advantage.CostCents,
				CompanyName: advantage.CompanyName,
			},
			BalanceCents: debited,
		}
		if !service.couponPolicy.IssueCoupons {
			return nil
		}
		coupon, err := service.issueCoupon(ctx, transactionStore, account.AccountID, advantage, nowUnixUTC)
		if err != nil {
			return err
		}
		receipt.Coupon = &coupon
		return nil
	})
	advantageRef := advantageID
	service.logOperation(ctx, OperationLog{
		Operation:   operationRedeem,
		AccountID:   accountID,
		AdvantageID: &advantageRef,
		Amount:      receipt.Advantage.CostCents,
		Error:       operationError,
	})
	if operationError != nil {
		return RedemptionReceipt{}, operationError
	}
	return receipt, nil
}

// ListTransactions lists an account's transaction records before a cutoff
// time, newest first.
func (service *Service) ListTransactions(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]TransactionRecord, error) {
	if _, err := service.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return service.store.ListTransactionsByAccount(ctx, accountID, beforeUnixUTC, limit)
}

// ListTransactionsByKind lists transaction records of one kind, newest first.
func (service *Service) ListTransactionsByKind(ctx context.Context, kind TransactionKind, beforeUnixUTC int64, limit int) ([]TransactionRecord, error) {
	return service.store.ListTransactionsByKind(ctx, kind, beforeUnixUTC, limit)
}

func (service *Service) issueCoupon(ctx context.Context, transactionStore Store, accountID AccountID, advantage Advantage, nowUnixUTC int64) (Coupon, error) {
	code, err := NewCouponCode(service.newID())
	if err != nil {
		return Coupon{}, err
	}
	var expiresAtUnixUTC int64
	if service.couponPolicy.TTLSeconds > 0 {
		expiresAtUnixUTC = nowUnixUTC + service.couponPolicy.TTLSeconds
	}
	coupon := Coupon{
		CouponID:         service.newID(),
		Code:             code,
		AdvantageID:      advantage.AdvantageID,
		AccountID:        accountID,
		IssuedUnixUTC:    nowUnixUTC,
		ExpiresAtUnixUTC: expiresAtUnixUTC,
		Valid:            true,
		MetadataJSON:     "{}",
	}
	if err := transactionStore.CreateCoupon(ctx, coupon); err != nil {
		return Coupon{}, err
	}
	return coupon, nil
}

// lockAccountPair locks both rows in a fixed order so that two transfers
// touching the same accounts in opposite directions cannot deadlock.
func lockAccountPair(ctx context.Context, transactionStore Store, sourceID AccountID, destinationID AccountID) (Account, Account, error) {
	first, second := sourceID, destinationID
	if second.String() < first.String() {
		first, second = second, first
	}
	firstAccount, err := transactionStore.GetAccountForUpdate(ctx, first)
	if err != nil {
		return Account{}, Account{}, err
	}
	secondAccount, err := transactionStore.GetAccountForUpdate(ctx, second)
	if err != nil {
		return Account{}, Account{}, err
	}
	if first == sourceID {
		return firstAccount, secondAccount, nil
	}
	return secondAccount, firstAccount, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
