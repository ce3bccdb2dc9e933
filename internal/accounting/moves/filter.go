package moves

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
)

// FilterContext is the caller side of a ledger read. The first set field
// among Date, PeriodIDs and FiscalYearID decides the scope.
type FilterContext struct {
	Date         *time.Time
	PeriodIDs    []int64
	FiscalYearID int64
	PostedOnly   bool
}

// QueryFilter resolves fc into exactly one filter branch. A date outside
// every fiscal year yields a filter that matches nothing.
func QueryFilter(ctx context.Context, tx accounting.Tx, fc FilterContext) (accounting.LineFilter, error) {
	f := accounting.LineFilter{PostedOnly: fc.PostedOnly}
	switch {
	case fc.Date != nil:
		f.Scope = accounting.ScopeDate
		f.Date = accounting.Day(*fc.Date)
		fy, found, err := periods.LookupFiscalYear(ctx, tx, f.Date, false)
		if err != nil {
			return accounting.LineFilter{}, err
		}
		if found {
			f.FiscalYearIDs = []int64{fy.ID}
		}
	case len(fc.PeriodIDs) > 0:
		f.Scope = accounting.ScopePeriods
		f.PeriodIDs = append([]int64(nil), fc.PeriodIDs...)
	case fc.FiscalYearID != 0:
		f.Scope = accounting.ScopeFiscalYears
		f.FiscalYearIDs = []int64{fc.FiscalYearID}
	default:
		f.Scope = accounting.ScopeFiscalYears
		open, err := tx.ListFiscalYears(ctx, accounting.FiscalYearQuery{State: accounting.StateOpen})
		if err != nil {
			return accounting.LineFilter{}, err
		}
		for _, fy := range open {
			f.FiscalYearIDs = append(f.FiscalYearIDs, fy.ID)
		}
	}
	return f, nil
}
