package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/campuscoin/ledger/pkg/coin"
	"github.com/google/uuid"
)

// Service manages the advantage catalog offered by partner companies. The
// redemption engine only reads from it; all writes come through here and are
// scoped to the owning company.
type Service struct {
	store Store
	nowFn func() int64
	newID func() string
}

// NewService wires a catalog Service.
func NewService(store Store, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidConfig)
	}
	return &Service{store: store, nowFn: now, newID: uuid.NewString}, nil
}

// Create registers a new advantage for a company. The company must be an
// existing account of company kind.
func (service *Service) Create(ctx context.Context, companyID coin.CompanyID, input AdvantageInput) (coin.Advantage, error) {
	company, err := service.companyAccount(ctx, companyID)
	if err != nil {
		return coin.Advantage{}, err
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return coin.Advantage{}, fmt.Errorf("%w: empty value", ErrInvalidDescription)
	}
	advantageID, err := coin.NewAdvantageID(service.newID())
	if err != nil {
		return coin.Advantage{}, err
	}
	nowUnixUTC := service.nowFn()
	advantage := coin.Advantage{
		AdvantageID:    advantageID,
		CompanyID:      companyID,
		CompanyName:    company.DisplayName,
		Description:    description,
		CostCents:      input.CostCents,
		CreatedUnixUTC: nowUnixUTC,
		UpdatedUnixUTC: nowUnixUTC,
	}
	if err := service.store.CreateAdvantage(ctx, advantage); err != nil {
		return coin.Advantage{}, err
	}
	return advantage, nil
}

// Update rewrites an advantage's description and cost, provided it belongs
// to the given company.
func (service *Service) Update(ctx context.Context, companyID coin.CompanyID, advantageID coin.AdvantageID, input AdvantageInput) (coin.Advantage, error) {
	if _, err := service.companyAccount(ctx, companyID); err != nil {
		return coin.Advantage{}, err
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return coin.Advantage{}, fmt.Errorf("%w: empty value", ErrInvalidDescription)
	}
	advantage := coin.Advantage{
		AdvantageID:    advantageID,
		CompanyID:      companyID,
		Description:    description,
		CostCents:      input.CostCents,
		UpdatedUnixUTC: service.nowFn(),
	}
	if err := service.store.UpdateAdvantage(ctx, advantage); err != nil {
		return coin.Advantage{}, err
	}
	return service.store.GetAdvantage(ctx, advantageID)
}

// Delete removes an advantage, provided it belongs to the given company.
// Transaction records referencing it stay untouched; they carry their own
// copy of the description in the reason text.
func (service *Service) Delete(ctx context.Context, companyID coin.CompanyID, advantageID coin.AdvantageID) error {
	if _, err := service.companyAccount(ctx, companyID); err != nil {
		return err
	}
	return service.store.DeleteAdvantage(ctx, companyID, advantageID)
}

// Get returns a single advantage with its company projection.
func (service *Service) Get(ctx context.Context, advantageID coin.AdvantageID) (coin.Advantage, error) {
	return service.store.GetAdvantage(ctx, advantageID)
}

// List returns advantages created before a cutoff time, newest first.
func (service *Service) List(ctx context.Context, beforeUnixUTC int64, limit int) ([]coin.Advantage, error) {
	return service.store.ListAdvantages(ctx, beforeUnixUTC, limit)
}

// ListByCompany returns one company's advantages, newest first.
func (service *Service) ListByCompany(ctx context.Context, companyID coin.CompanyID, beforeUnixUTC int64, limit int) ([]coin.Advantage, error) {
	if _, err := service.companyAccount(ctx, companyID); err != nil {
		return nil, err
	}
	return service.store.ListAdvantagesByCompany(ctx, companyID, beforeUnixUTC, limit)
}

func (service *Service) companyAccount(ctx context.Context, companyID coin.CompanyID) (coin.Account, error) {
	accountID, err := coin.NewAccountID(companyID.String())
	if err != nil {
		return coin.Account{}, err
	}
	account, err := service.store.GetAccount(ctx, accountID)
	if err != nil {
		return coin.Account{}, err
	}
	if account.OwnerKind != coin.OwnerCompany {
		return coin.Account{}, ErrNotCompany
	}
	return account, nil
}
