package catalog

import (
	"context"

	"github.com/campuscoin/ledger/pkg/coin"
)

// Store is the persistence contract used by the catalog service.
// (gormstore implements this alongside coin.Store.)
type Store interface {
	GetAccount(ctx context.Context, accountID coin.AccountID) (coin.Account, error)
	CreateAdvantage(ctx context.Context, advantage coin.Advantage) error
	UpdateAdvantage(ctx context.Context, advantage coin.Advantage) error
	DeleteAdvantage(ctx context.Context, companyID coin.CompanyID, advantageID coin.AdvantageID) error
	GetAdvantage(ctx context.Context, advantageID coin.AdvantageID) (coin.Advantage, error)
	ListAdvantages(ctx context.Context, beforeUnixUTC int64, limit int) ([]coin.Advantage, error)
	ListAdvantagesByCompany(ctx context.Context, companyID coin.CompanyID, beforeUnixUTC int64, limit int) ([]coin.Advantage, error)
}

// AdvantageInput carries the caller-supplied fields of an advantage.
type AdvantageInput struct {
	Description string
	CostCents   coin.AmountCents
}
