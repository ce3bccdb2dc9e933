package accounting

import (
	"slices"
	"time"
)

// FilterScope selects the single branch a LineFilter resolves to.
type FilterScope int

const (
	// ScopeFiscalYears restricts lines to the periods of FiscalYearIDs.
	ScopeFiscalYears FilterScope = iota
	// ScopePeriods restricts lines to PeriodIDs.
	ScopePeriods
	// ScopeDate restricts lines to the fiscal year containing Date, up to Date.
	ScopeDate
)

func (s FilterScope) String() string {
	switch s {
	case ScopePeriods:
		return "periods"
	case ScopeDate:
		return "date"
	default:
		return "fiscalyear"
	}
}

// LineFilter is the read predicate every ledger reader applies to move lines.
// Lines must be active and not draft, and their move must match Scope.
type LineFilter struct {
	Scope         FilterScope
	FiscalYearIDs []int64
	PeriodIDs     []int64
	Date          time.Time
	PostedOnly    bool
}

// Match evaluates the filter for a line, its move and the move period.
func (f LineFilter) Match(line Line, move Move, period Period) bool {
	if !line.Active || line.State == LineStateDraft {
		return false
	}
	if f.PostedOnly && move.State != MoveStatePosted {
		return false
	}
	switch f.Scope {
	case ScopeDate:
		return slices.Contains(f.FiscalYearIDs, period.FiscalYearID) && !move.Date.After(f.Date)
	case ScopePeriods:
		return slices.Contains(f.PeriodIDs, move.PeriodID)
	default:
		return slices.Contains(f.FiscalYearIDs, period.FiscalYearID)
	}
}
