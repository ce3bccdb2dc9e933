package accounting

import (
	"time"

	"github.com/shopspring/decimal"
)

// State enumerates open/close lifecycle values of fiscal years, periods and
// journal-period gates.
type State string

const (
	StateOpen  State = "open"
	StateClose State = "close"
)

// MoveState enumerates move lifecycle values.
type MoveState string

const (
	MoveStateDraft  MoveState = "draft"
	MoveStatePosted MoveState = "posted"
)

// LineState reflects whether the parent move balanced at the last validation.
type LineState string

const (
	LineStateDraft LineState = "draft"
	LineStateValid LineState = "valid"
)

// AccountType enumerates chart of accounts categories.
type AccountType string

const (
	AccountTypeView       AccountType = "view"
	AccountTypeClosed     AccountType = "closed"
	AccountTypeReceivable AccountType = "receivable"
	AccountTypePayable    AccountType = "payable"
	AccountTypeAsset      AccountType = "asset"
	AccountTypeLiability  AccountType = "liability"
	AccountTypeEquity     AccountType = "equity"
	AccountTypeRevenue    AccountType = "revenue"
	AccountTypeExpense    AccountType = "expense"
)

// CloseMethod is the per-account policy applied when a fiscal year closes.
type CloseMethod string

const (
	CloseMethodNone         CloseMethod = "none"
	CloseMethodBalance      CloseMethod = "balance"
	CloseMethodDetail       CloseMethod = "detail"
	CloseMethodUnreconciled CloseMethod = "unreconciled"
)

// Valid reports whether m is one of the known close methods.
func (m CloseMethod) Valid() bool {
	switch m {
	case CloseMethodNone, CloseMethodBalance, CloseMethodDetail, CloseMethodUnreconciled:
		return true
	}
	return false
}

// JournalType drives tax code suggestion on lines.
type JournalType string

const (
	JournalTypeGeneral JournalType = "general"
	JournalTypeRevenue JournalType = "revenue"
	JournalTypeExpense JournalType = "expense"
	JournalTypeCash    JournalType = "cash"
)

// Company owns accounts; its currency defines zero tolerance for moves.
type Company struct {
	ID       int64
	Name     string
	Currency string
}

// FiscalYear is a bookkeeping year split into periods.
type FiscalYear struct {
	ID                 int64
	Name               string
	Code               string
	StartDate          time.Time
	EndDate            time.Time
	State              State
	PostMoveSequenceID int64
	CompanyID          int64
}

// Contains reports whether date falls inside the fiscal year, bounds included.
func (fy FiscalYear) Contains(date time.Time) bool {
	return !date.Before(fy.StartDate) && !date.After(fy.EndDate)
}

// Period is a sub-range of a fiscal year.
type Period struct {
	ID                 int64
	Name               string
	Code               string
	FiscalYearID       int64
	StartDate          time.Time
	EndDate            time.Time
	State              State
	PostMoveSequenceID int64
}

// Contains reports whether date falls inside the period, bounds included.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}

// Journal groups moves and carries their numbering sequence.
type Journal struct {
	ID              int64
	Name            string
	Code            string
	Type            JournalType
	SequenceID      int64
	Centralised     bool
	UpdatePosted    bool
	DebitAccountID  *int64
	CreditAccountID *int64
}

// Account is a chart of accounts node.
type Account struct {
	ID          int64
	Code        string
	Name        string
	Type        AccountType
	CompanyID   int64
	Currency    string
	Reconcile   bool
	Active      bool
	CloseMethod CloseMethod
	TaxIDs      []int64
}

// JournalPeriod gates line writes for one (journal, period) pair.
type JournalPeriod struct {
	ID        int64
	Name      string
	JournalID int64
	PeriodID  int64
	State     State
}

// Move is a journal entry.
type Move struct {
	ID                int64
	Name              string
	Reference         string
	PeriodID          int64
	JournalID         int64
	Date              time.Time
	PostDate          *time.Time
	State             MoveState
	CentralisedLineID *int64
}

// TaxLine records the amount a line contributes to a tax code.
type TaxLine struct {
	CodeID int64
	Amount decimal.Decimal
}

// Line is one debit or credit leg of a move.
type Line struct {
	ID                   int64
	MoveID               int64
	Name                 string
	Reference            string
	Debit                decimal.Decimal
	Credit               decimal.Decimal
	AccountID            int64
	PartnerID            *int64
	MaturityDate         *time.Time
	SecondCurrency       string
	AmountSecondCurrency *decimal.Decimal
	Blocked              bool
	State                LineState
	Active               bool
	ReconciliationID     *int64
	TaxLines             []TaxLine
}

// Net returns debit minus credit.
func (l Line) Net() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// LineView pairs a line with its parent move. Journal, period, date and move
// state are read through the move; the line has no copy of its own.
type LineView struct {
	Line
	Move Move
}

// Journal returns the parent move journal.
func (v LineView) Journal() int64 { return v.Move.JournalID }

// Period returns the parent move period.
func (v LineView) Period() int64 { return v.Move.PeriodID }

// Date returns the parent move date.
func (v LineView) Date() time.Time { return v.Move.Date }

// MoveState returns the parent move state.
func (v LineView) MoveState() MoveState { return v.Move.State }

// Reconciliation groups settled lines of one account.
type Reconciliation struct {
	ID      int64
	Name    string
	LineIDs []int64
}

// Tax describes a tax as consumed by the tax engine.
type Tax struct {
	ID                int64
	Name              string
	Rate              decimal.Decimal
	InvoiceBaseCodeID *int64
	InvoiceBaseSign   decimal.Decimal
	InvoiceTaxCodeID  *int64
	InvoiceTaxSign    decimal.Decimal
	RefundBaseCodeID  *int64
	RefundBaseSign    decimal.Decimal
	RefundTaxCodeID   *int64
	RefundTaxSign     decimal.Decimal
}

// TaxResult is one computed tax for a base amount.
type TaxResult struct {
	Tax    Tax
	Base   decimal.Decimal
	Amount decimal.Decimal
}

// Day truncates t to midnight UTC. Ledger dates carry no time of day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
