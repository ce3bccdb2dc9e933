// Package partners aggregates open receivable and payable balances per
// partner under the ledger read filter.
package partners

import (
	"cmp"
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
)

// Query selects the partners and the ledger scope of a balance read.
type Query struct {
	PartnerIDs []int64
	CompanyID  int64
	Scope      moves.FilterContext
}

// Balance is the open position of one partner. Credit is the payable side,
// reported as a positive amount owed.
type Balance struct {
	PartnerID int64           `json:"partner_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// Service reads partner balances.
type Service struct {
	store accounting.Store
}

// NewService constructs the reader.
func NewService(store accounting.Store) *Service {
	return &Service{store: store}
}

// Balances returns the unreconciled receivable and payable totals of each
// partner, ordered by partner id.
func (s *Service) Balances(ctx context.Context, q Query) ([]Balance, error) {
	var out []Balance
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		filter, err := moves.QueryFilter(ctx, tx, q.Scope)
		if err != nil {
			return err
		}
		receivable, err := tx.PartnerBalances(ctx, accounting.PartnerBalanceQuery{
			Types:      []accounting.AccountType{accounting.AccountTypeReceivable},
			PartnerIDs: q.PartnerIDs,
			CompanyID:  q.CompanyID,
			Filter:     filter,
		})
		if err != nil {
			return err
		}
		payable, err := tx.PartnerBalances(ctx, accounting.PartnerBalanceQuery{
			Types:      []accounting.AccountType{accounting.AccountTypePayable},
			PartnerIDs: q.PartnerIDs,
			CompanyID:  q.CompanyID,
			Filter:     filter,
		})
		if err != nil {
			return err
		}
		out = merge(receivable, payable)
		return nil
	})
	return out, err
}

func merge(receivable, payable map[int64]decimal.Decimal) []Balance {
	byPartner := make(map[int64]*Balance)
	get := func(id int64) *Balance {
		b, ok := byPartner[id]
		if !ok {
			b = &Balance{PartnerID: id, Debit: decimal.Zero, Credit: decimal.Zero}
			byPartner[id] = b
		}
		return b
	}
	for id, amount := range receivable {
		get(id).Debit = amount
	}
	for id, amount := range payable {
		get(id).Credit = amount.Neg()
	}
	out := make([]Balance, 0, len(byPartner))
	for _, b := range byPartner {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Balance) int { return cmp.Compare(a.PartnerID, b.PartnerID) })
	return out
}
