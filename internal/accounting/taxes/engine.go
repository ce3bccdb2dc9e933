// Package taxes computes percentage taxes and the tax code amounts a line
// contributes to.
package taxes

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Source loads tax definitions.
type Source interface {
	Taxes(ctx context.Context, ids []int64) ([]accounting.Tax, error)
}

// Engine applies percentage taxes. Rates are fractions, 0.21 for 21%.
type Engine struct {
	source Source
}

// NewEngine constructs the engine.
func NewEngine(source Source) *Engine {
	return &Engine{source: source}
}

// Compute returns one result per tax, in the order of taxIDs.
func (e *Engine) Compute(ctx context.Context, taxIDs []int64, base, quantity decimal.Decimal) ([]accounting.TaxResult, error) {
	if len(taxIDs) == 0 {
		return nil, nil
	}
	defs, err := e.source.Taxes(ctx, taxIDs)
	if err != nil {
		return nil, fmt.Errorf("taxes: load: %w", err)
	}
	total := base.Mul(quantity)
	out := make([]accounting.TaxResult, 0, len(defs))
	for _, t := range defs {
		out = append(out, accounting.TaxResult{
			Tax:    t,
			Base:   total,
			Amount: total.Mul(t.Rate),
		})
	}
	return out, nil
}

// Suggester derives the tax code lines of a move line from the taxes of
// its account.
type Suggester struct {
	engine   accounting.TaxEngine
	currency accounting.Currency
}

// NewSuggester constructs a suggester.
func NewSuggester(engine accounting.TaxEngine, currency accounting.Currency) *Suggester {
	return &Suggester{engine: engine, currency: currency}
}

// CodeLines returns the base and tax code amounts of a line. Only revenue
// and expense journals carry codes. A line on the usual side of its journal
// (credit for revenue, debit for expense) uses the invoice codes, otherwise
// the refund codes.
func (s *Suggester) CodeLines(ctx context.Context, journal accounting.Journal, account accounting.Account, currency string, debit, credit decimal.Decimal) ([]accounting.TaxLine, error) {
	if len(account.TaxIDs) == 0 {
		return nil, nil
	}
	var refund bool
	switch journal.Type {
	case accounting.JournalTypeRevenue:
		refund = debit.GreaterThan(credit)
	case accounting.JournalTypeExpense:
		refund = credit.GreaterThan(debit)
	default:
		return nil, nil
	}
	base := debit.Sub(credit).Abs()
	results, err := s.engine.Compute(ctx, account.TaxIDs, base, decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	var out []accounting.TaxLine
	add := func(code *int64, amount, sign decimal.Decimal) {
		if code == nil {
			return
		}
		if sign.IsZero() {
			sign = decimal.NewFromInt(1)
		}
		out = append(out, accounting.TaxLine{CodeID: *code, Amount: s.currency.Round(currency, amount.Mul(sign))})
	}
	for _, r := range results {
		if refund {
			add(r.Tax.RefundBaseCodeID, r.Base, r.Tax.RefundBaseSign)
			add(r.Tax.RefundTaxCodeID, r.Amount, r.Tax.RefundTaxSign)
			continue
		}
		add(r.Tax.InvoiceBaseCodeID, r.Base, r.Tax.InvoiceBaseSign)
		add(r.Tax.InvoiceTaxCodeID, r.Amount, r.Tax.InvoiceTaxSign)
	}
	return out, nil
}
