package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store opens ledger transactions. Every engine call runs inside exactly one
// transaction; an error returned by fn rolls back every write made through tx.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx is the transactional view of the ledger tables.
type Tx interface {
	FiscalYearStore
	PeriodStore
	ReferenceStore
	JournalPeriodStore
	MoveStore
	LineStore
	ReconciliationStore
	Sequencer
}

// DateRange is an inclusive date interval.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether both inclusive ranges share at least one day.
func (r DateRange) Overlaps(start, end time.Time) bool {
	return !r.Start.After(end) && !start.After(r.End)
}

// FiscalYearQuery filters fiscal years. Zero fields are ignored.
type FiscalYearQuery struct {
	State              State
	ContainsDate       *time.Time
	Overlapping        *DateRange
	PostMoveSequenceID int64
	ExcludeID          int64
}

// FiscalYearStore persists fiscal years and their close lines.
type FiscalYearStore interface {
	GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error)
	// ListFiscalYears returns matches ordered by start date ascending.
	ListFiscalYears(ctx context.Context, q FiscalYearQuery) ([]FiscalYear, error)
	InsertFiscalYear(ctx context.Context, fy *FiscalYear) error
	UpdateFiscalYear(ctx context.Context, fy FiscalYear) error
	SetFiscalYearState(ctx context.Context, ids []int64, state State) error
	AddCloseLines(ctx context.Context, fiscalYearID int64, lineIDs []int64) error
	CloseLineIDs(ctx context.Context, fiscalYearID int64) ([]int64, error)
	ClearCloseLines(ctx context.Context, fiscalYearID int64) error
}

// PeriodQuery filters periods. Zero fields are ignored.
type PeriodQuery struct {
	FiscalYearIDs []int64
	ContainsDate  *time.Time
	Overlapping   *DateRange
	ExcludeID     int64
}

// PeriodStore persists periods.
type PeriodStore interface {
	GetPeriod(ctx context.Context, id int64) (Period, error)
	// ListPeriods returns matches ordered by start date ascending.
	ListPeriods(ctx context.Context, q PeriodQuery) ([]Period, error)
	InsertPeriod(ctx context.Context, p *Period) error
	UpdatePeriod(ctx context.Context, p Period) error
	SetPeriodState(ctx context.Context, ids []int64, state State) error
}

// ReferenceStore reads master data maintained outside the ledger core.
type ReferenceStore interface {
	GetCompany(ctx context.Context, id int64) (Company, error)
	GetJournal(ctx context.Context, id int64) (Journal, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	// ListAccounts returns every account ordered by id.
	ListAccounts(ctx context.Context) ([]Account, error)
}

// JournalPeriodStore persists journal-period gate records.
type JournalPeriodStore interface {
	GetJournalPeriod(ctx context.Context, journalID, periodID int64) (JournalPeriod, bool, error)
	// EnsureJournalPeriod inserts jp unless a record for the same pair exists
	// and returns the stored record either way.
	EnsureJournalPeriod(ctx context.Context, jp JournalPeriod) (JournalPeriod, error)
	SetJournalPeriodState(ctx context.Context, id int64, state State) error
}

// MoveQuery filters moves. Zero fields are ignored.
type MoveQuery struct {
	PeriodIDs []int64
	JournalID int64
	State     MoveState
	NotState  MoveState
}

// MoveStore persists moves.
type MoveStore interface {
	GetMove(ctx context.Context, id int64) (Move, error)
	// ListMoves returns matches ordered by id.
	ListMoves(ctx context.Context, q MoveQuery) ([]Move, error)
	InsertMove(ctx context.Context, m *Move) error
	UpdateMove(ctx context.Context, m Move) error
	DeleteMove(ctx context.Context, id int64) error
}

// LineQuery filters lines. Zero fields are ignored; Limit 0 means no limit.
type LineQuery struct {
	IDs              []int64
	MoveIDs          []int64
	PeriodIDs        []int64
	AccountID        int64
	ReconciliationID int64
	Unreconciled     bool
	Offset           int
	Limit            int
}

// PartnerBalanceQuery selects the lines summed per partner.
type PartnerBalanceQuery struct {
	Types      []AccountType
	PartnerIDs []int64
	CompanyID  int64
	Filter     LineFilter
}

// LineStore persists move lines.
type LineStore interface {
	GetLine(ctx context.Context, id int64) (Line, error)
	// ListLines returns matches ordered by id.
	ListLines(ctx context.Context, q LineQuery) ([]Line, error)
	InsertLine(ctx context.Context, l *Line) error
	UpdateLine(ctx context.Context, l Line) error
	DeleteLines(ctx context.Context, ids []int64) error
	SetLineState(ctx context.Context, ids []int64, state LineState) error
	SetLinesReconciliation(ctx context.Context, ids []int64, reconciliationID *int64) error
	// AccountBalance sums debit minus credit of the account lines matching f.
	AccountBalance(ctx context.Context, accountID int64, f LineFilter) (decimal.Decimal, error)
	// PartnerBalances sums debit minus credit of unreconciled lines per partner.
	PartnerBalances(ctx context.Context, q PartnerBalanceQuery) (map[int64]decimal.Decimal, error)
}

// ReconciliationStore persists reconciliation records.
type ReconciliationStore interface {
	GetReconciliation(ctx context.Context, id int64) (Reconciliation, error)
	InsertReconciliation(ctx context.Context, r *Reconciliation) error
	DeleteReconciliation(ctx context.Context, id int64) error
}

// Sequencer issues the next value of a numbering sequence inside the
// transaction, so a rolled back batch never consumes a number.
type Sequencer interface {
	NextValue(ctx context.Context, sequenceID int64) (string, error)
}

// Currency rounds amounts and tests them against a currency precision.
type Currency interface {
	Round(code string, amount decimal.Decimal) decimal.Decimal
	IsZero(code string, amount decimal.Decimal) bool
}

// TaxEngine computes the taxes applied to a base amount.
type TaxEngine interface {
	Compute(ctx context.Context, taxIDs []int64, base, quantity decimal.Decimal) ([]TaxResult, error)
}
