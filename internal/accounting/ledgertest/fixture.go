// Package ledgertest seeds an in-memory ledger for engine and handler tests.
package ledgertest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/store/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/currency"
)

// Today is the fixed clock of every fixture.
var Today = Date(2024, time.May, 17)

// Date builds a ledger date.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Now returns Today.
func Now() time.Time { return Today }

// Amount parses a decimal literal.
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Year is a fiscal year with its monthly periods.
type Year struct {
	FiscalYear accounting.FiscalYear
	Periods    []accounting.Period
}

// Month returns the period starting in month m.
func (y Year) Month(m time.Month) accounting.Period {
	for _, p := range y.Periods {
		if p.StartDate.Month() == m {
			return p
		}
	}
	panic(fmt.Sprintf("ledgertest: no period for %s", m))
}

// Fixture is a seeded ledger: one EUR company, a small chart of accounts, a
// general journal, a centralised opening journal and fiscal year 2024.
type Fixture struct {
	Store    *memory.Store
	Currency *currency.Service
	Periods  *periods.Service

	CompanyID int64

	Receivable int64
	Payable    int64
	Bank       int64
	Revenue    int64
	Expense    int64
	Equity     int64
	WriteOff   int64
	View       int64

	General      int64
	Opening      int64
	Cancellable  int64
	JournalSeqID int64
	OpeningSeqID int64
	ReconcileSeq int64
	Year2024     Year
}

// New seeds the fixture.
func New(t testing.TB) *Fixture {
	t.Helper()
	store := memory.New()
	f := &Fixture{
		Store:    store,
		Currency: currency.NewService("EUR"),
		Periods:  periods.NewService(store).WithNow(Now),
	}
	f.CompanyID = store.AddCompany(accounting.Company{Name: "Odyssey Trading", Currency: "EUR"})
	account := func(code, name string, typ accounting.AccountType, reconcile bool, method accounting.CloseMethod) int64 {
		return store.AddAccount(accounting.Account{
			Code:        code,
			Name:        name,
			Type:        typ,
			CompanyID:   f.CompanyID,
			Currency:    "EUR",
			Reconcile:   reconcile,
			Active:      true,
			CloseMethod: method,
		})
	}
	f.View = account("1", "Balance sheet", accounting.AccountTypeView, false, accounting.CloseMethodNone)
	f.Receivable = account("1100", "Receivables", accounting.AccountTypeReceivable, true, accounting.CloseMethodUnreconciled)
	f.Bank = account("1200", "Bank", accounting.AccountTypeAsset, false, accounting.CloseMethodBalance)
	f.Payable = account("2100", "Payables", accounting.AccountTypePayable, true, accounting.CloseMethodDetail)
	f.Equity = account("3000", "Retained earnings", accounting.AccountTypeEquity, false, accounting.CloseMethodBalance)
	f.Revenue = account("4000", "Sales", accounting.AccountTypeRevenue, false, accounting.CloseMethodNone)
	f.Expense = account("6000", "Purchases", accounting.AccountTypeExpense, false, accounting.CloseMethodNone)
	f.WriteOff = account("6500", "Exchange differences", accounting.AccountTypeExpense, false, accounting.CloseMethodNone)

	f.JournalSeqID = store.AddSequence(memory.Sequence{Prefix: "GJ/", Padding: 4})
	f.OpeningSeqID = store.AddSequence(memory.Sequence{Prefix: "OPEN/", Padding: 4})
	f.ReconcileSeq = store.AddSequence(memory.Sequence{Prefix: "REC/", Padding: 4})
	f.General = store.AddJournal(accounting.Journal{
		Name:       "General",
		Code:       "GJ",
		Type:       accounting.JournalTypeGeneral,
		SequenceID: f.JournalSeqID,
	})
	f.Cancellable = store.AddJournal(accounting.Journal{
		Name:         "Miscellaneous",
		Code:         "MISC",
		Type:         accounting.JournalTypeGeneral,
		SequenceID:   f.JournalSeqID,
		UpdatePosted: true,
	})
	f.Opening = store.AddJournal(accounting.Journal{
		Name:            "Opening Entries",
		Code:            "OPEN",
		Type:            accounting.JournalTypeGeneral,
		SequenceID:      f.OpeningSeqID,
		Centralised:     true,
		DebitAccountID:  &f.Equity,
		CreditAccountID: &f.Equity,
	})
	f.Year2024 = f.AddYear(t, 2024)
	return f
}

// AddYear creates a calendar fiscal year with its own post sequence and
// twelve monthly periods.
func (f *Fixture) AddYear(t testing.TB, year int) Year {
	t.Helper()
	seq := f.Store.AddSequence(memory.Sequence{Prefix: fmt.Sprintf("%d/", year), Padding: 5})
	ctx := context.Background()
	fy, err := f.Periods.CreateFiscalYear(ctx, periods.FiscalYearInput{
		Name:               fmt.Sprintf("FY %d", year),
		Code:               fmt.Sprintf("%d", year),
		StartDate:          Date(year, time.January, 1),
		EndDate:            Date(year, time.December, 31),
		PostMoveSequenceID: seq,
		CompanyID:          f.CompanyID,
	})
	require.NoError(t, err)
	ps, err := f.Periods.CreatePeriods(ctx, []int64{fy.ID}, 1)
	require.NoError(t, err)
	return Year{FiscalYear: fy, Periods: ps}
}

// Debit builds a debit line input.
func Debit(accountID int64, amount string) LineSpec {
	return LineSpec{AccountID: accountID, Debit: Amount(amount), Credit: decimal.Zero}
}

// Credit builds a credit line input.
func Credit(accountID int64, amount string) LineSpec {
	return LineSpec{AccountID: accountID, Debit: decimal.Zero, Credit: Amount(amount)}
}

// LineSpec is the minimal description of a test line.
type LineSpec struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	PartnerID *int64
}

// WithPartner sets the partner of the line.
func (l LineSpec) WithPartner(id int64) LineSpec {
	l.PartnerID = &id
	return l
}

// Lines converts specs into move line inputs.
func Lines(specs ...LineSpec) []moves.LineInput {
	out := make([]moves.LineInput, 0, len(specs))
	for i, s := range specs {
		out = append(out, moves.LineInput{
			Name:      fmt.Sprintf("line %d", i+1),
			AccountID: s.AccountID,
			Debit:     s.Debit,
			Credit:    s.Credit,
			PartnerID: s.PartnerID,
		})
	}
	return out
}

// Moves returns a move engine over the fixture store.
func (f *Fixture) Moves() *moves.Service {
	return moves.NewService(f.Store, f.Currency).WithNow(Now)
}

// Post creates a move in the general journal with the given lines and posts
// it.
func (f *Fixture) Post(t testing.TB, period accounting.Period, date time.Time, specs ...LineSpec) moves.MoveDetail {
	t.Helper()
	svc := f.Moves()
	ctx := context.Background()
	detail, err := svc.CreateMove(ctx, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  period.ID,
		Date:      &date,
		Lines:     Lines(specs...),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Post(ctx, []int64{detail.Move.ID}))
	detail, err = svc.GetMove(ctx, detail.Move.ID)
	require.NoError(t, err)
	return detail
}
