// Package closing closes a fiscal year into the opening period of the next
// one and reopens it by removing what the close wrote.
package closing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	ledgershared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// DefaultPageSize bounds the lines copied per page by detail sweeps.
const DefaultPageSize = 1000

// Locker serializes close and reopen of one fiscal year across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// CloseInput names the fiscal year to close and where its entries go.
type CloseInput struct {
	FiscalYearID     int64  `json:"fiscal_year_id" validate:"required,gt=0"`
	DestFiscalYearID int64  `json:"dest_fiscal_year_id" validate:"required,gt=0"`
	DestPeriodID     int64  `json:"dest_period_id" validate:"required,gt=0"`
	DestJournalID    int64  `json:"dest_journal_id" validate:"required,gt=0"`
	EntriesName      string `json:"entries_name" validate:"max=128"`
}

// CloseResult summarizes a close.
type CloseResult struct {
	FiscalYearID int64
	MoveID       int64
	CloseLineIDs []int64

	// Carried counts the close lines written per close method.
	Carried map[accounting.CloseMethod]int
}

// Service is the closing engine.
type Service struct {
	moves    *moves.Service
	locker   Locker
	pageSize int
	logger   *slog.Logger
}

// NewService constructs the engine. A pageSize of zero uses DefaultPageSize.
func NewService(m *moves.Service, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Service{moves: m, pageSize: pageSize, logger: slog.Default()}
}

// WithLocker serializes close and reopen through l.
func (s *Service) WithLocker(l Locker) *Service {
	s.locker = l
	return s
}

// WithLogger sets the logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Service) acquire(ctx context.Context, ids []int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	var releases []func(context.Context) error
	unlock := func() {
		for _, release := range releases {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release fiscal year lock", slog.Any("error", err))
			}
		}
	}
	for _, id := range slices.Sorted(slices.Values(ids)) {
		release, err := s.locker.Acquire(ctx, ledgershared.FiscalYearLockKey(id))
		if err != nil {
			unlock()
			if errors.Is(err, lock.ErrNotAcquired) {
				return nil, fmt.Errorf("fiscal year %d: %w", id, shared.ErrCloseInProgress)
			}
			return nil, err
		}
		releases = append(releases, release)
	}
	return unlock, nil
}

// CloseFiscalYear sweeps every account of the fiscal year by close method,
// books the resulting lines into the destination period and closes the
// fiscal year with its periods.
func (s *Service) CloseFiscalYear(ctx context.Context, in CloseInput) (CloseResult, error) {
	unlock, err := s.acquire(ctx, []int64{in.FiscalYearID})
	if err != nil {
		return CloseResult{}, err
	}
	defer unlock()

	var out CloseResult
	err = s.moves.WithSession(ctx, func(ctx context.Context, ss *moves.Session) error {
		sw, err := s.prepare(ctx, ss, in)
		if err != nil {
			return err
		}
		if out, err = sw.run(ctx); err != nil {
			return err
		}
		return periods.Close(ctx, ss.Tx(), []int64{in.FiscalYearID})
	})
	if err != nil {
		return CloseResult{}, err
	}
	s.logger.Info("fiscal year closed",
		slog.Int64("fiscal_year_id", in.FiscalYearID),
		slog.Int64("move_id", out.MoveID),
		slog.Int("close_lines", len(out.CloseLineIDs)),
	)
	return out, nil
}

func (s *Service) prepare(ctx context.Context, ss *moves.Session, in CloseInput) (*sweep, error) {
	tx := ss.Tx()
	if in.FiscalYearID == in.DestFiscalYearID {
		return nil, shared.ErrCloseSameFiscalYear
	}
	target, err := tx.GetFiscalYear(ctx, in.FiscalYearID)
	if err != nil {
		return nil, err
	}
	if target.State == accounting.StateClose {
		return nil, fmt.Errorf("fiscal year %s: %w", target.Name, shared.ErrCloseTargetState)
	}
	dest, err := tx.GetFiscalYear(ctx, in.DestFiscalYearID)
	if err != nil {
		return nil, err
	}
	period, err := tx.GetPeriod(ctx, in.DestPeriodID)
	if err != nil {
		return nil, err
	}
	if period.FiscalYearID != dest.ID {
		return nil, fmt.Errorf("period %s: %w", period.Name, shared.ErrClosePeriodMismatch)
	}
	journal, err := tx.GetJournal(ctx, in.DestJournalID)
	if err != nil {
		return nil, err
	}
	if !journal.Centralised {
		return nil, fmt.Errorf("journal %s: %w", journal.Name, shared.ErrCloseJournalNotCentral)
	}
	if journal.DebitAccountID == nil || journal.CreditAccountID == nil {
		return nil, fmt.Errorf("journal %s: %w", journal.Name, shared.ErrCloseJournalAccounts)
	}
	if dest.State == accounting.StateClose || period.State == accounting.StateClose {
		return nil, shared.ErrCloseDestinationState
	}
	filter, err := moves.QueryFilter(ctx, tx, moves.FilterContext{FiscalYearID: target.ID})
	if err != nil {
		return nil, err
	}
	owned, err := tx.ListPeriods(ctx, accounting.PeriodQuery{FiscalYearIDs: []int64{target.ID}})
	if err != nil {
		return nil, err
	}
	sw := &sweep{
		ss:       ss,
		target:   target,
		period:   period,
		journal:  journal,
		name:     in.EntriesName,
		filter:   filter,
		pageSize: s.pageSize,
		currency: s.moves.Currency(),
		counts:   make(map[accounting.CloseMethod]int),
	}
	for _, p := range owned {
		sw.periodIDs = append(sw.periodIDs, p.ID)
	}
	return sw, nil
}

// ReopenFiscalYears deletes the close lines of each closed fiscal year and
// sets it and its periods back to open. Open fiscal years are skipped.
func (s *Service) ReopenFiscalYears(ctx context.Context, ids []int64) error {
	unlock, err := s.acquire(ctx, ids)
	if err != nil {
		return err
	}
	defer unlock()

	var reopened []int64
	err = s.moves.WithSession(ctx, func(ctx context.Context, ss *moves.Session) error {
		tx := ss.Tx()
		for _, id := range ids {
			fy, err := tx.GetFiscalYear(ctx, id)
			if err != nil {
				return err
			}
			if fy.State != accounting.StateClose {
				continue
			}
			lineIDs, err := tx.CloseLineIDs(ctx, id)
			if err != nil {
				return err
			}
			if err := ss.RemoveLines(ctx, lineIDs); err != nil {
				return fmt.Errorf("fiscal year %s: remove close lines: %w", fy.Name, err)
			}
			if err := tx.ClearCloseLines(ctx, id); err != nil {
				return err
			}
			if err := periods.Reopen(ctx, tx, []int64{id}); err != nil {
				return err
			}
			reopened = append(reopened, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("fiscal years reopened", slog.Any("fiscal_year_ids", reopened))
	return nil
}

// sweep carries one close through the chart of accounts.
type sweep struct {
	ss        *moves.Session
	target    accounting.FiscalYear
	period    accounting.Period
	journal   accounting.Journal
	name      string
	filter    accounting.LineFilter
	periodIDs []int64
	pageSize  int
	currency  accounting.Currency
	move      accounting.Move
	balances  []moves.LineInput
	lineIDs   []int64
	counts    map[accounting.CloseMethod]int
}

func (sw *sweep) run(ctx context.Context) (CloseResult, error) {
	tx := sw.ss.Tx()
	if err := sw.openMove(ctx); err != nil {
		return CloseResult{}, err
	}
	accounts, err := tx.ListAccounts(ctx)
	if err != nil {
		return CloseResult{}, err
	}
	for _, account := range accounts {
		if account.Type == accounting.AccountTypeView {
			continue
		}
		if sw.target.CompanyID != 0 && account.CompanyID != sw.target.CompanyID {
			continue
		}
		if err := sw.close(ctx, account); err != nil {
			return CloseResult{}, fmt.Errorf("account %s: %w", account.Code, err)
		}
	}
	if len(sw.balances) > 0 {
		lines, err := sw.ss.InsertLines(ctx, sw.move, sw.balances)
		if err != nil {
			return CloseResult{}, err
		}
		for _, l := range lines {
			sw.lineIDs = append(sw.lineIDs, l.ID)
		}
	}
	if err := tx.AddCloseLines(ctx, sw.target.ID, sw.lineIDs); err != nil {
		return CloseResult{}, fmt.Errorf("closing: record close lines: %w", err)
	}
	return CloseResult{
		FiscalYearID: sw.target.ID,
		MoveID:       sw.move.ID,
		CloseLineIDs: sw.lineIDs,
		Carried:      sw.counts,
	}, nil
}

// openMove reuses the open move of the destination journal and period or
// creates it on the first day of the period.
func (sw *sweep) openMove(ctx context.Context) error {
	open, err := sw.ss.Tx().ListMoves(ctx, accounting.MoveQuery{
		PeriodIDs: []int64{sw.period.ID},
		JournalID: sw.journal.ID,
		NotState:  accounting.MoveStatePosted,
	})
	if err != nil {
		return err
	}
	if len(open) > 0 {
		sw.move = open[0]
		return nil
	}
	start := sw.period.StartDate
	sw.move, err = sw.ss.CreateMove(ctx, moves.MoveInput{
		Name:      sw.name,
		JournalID: sw.journal.ID,
		PeriodID:  sw.period.ID,
		Date:      &start,
	})
	return err
}

// close dispatches on the close method of the account.
func (sw *sweep) close(ctx context.Context, account accounting.Account) error {
	switch account.CloseMethod {
	case accounting.CloseMethodNone, "":
		return nil
	case accounting.CloseMethodBalance:
		return sw.closeBalance(ctx, account)
	case accounting.CloseMethodDetail:
		return sw.copyLines(ctx, account, false)
	case accounting.CloseMethodUnreconciled:
		return sw.copyLines(ctx, account, true)
	default:
		return fmt.Errorf("close method %q: %w", account.CloseMethod, shared.ErrValidationFailed)
	}
}

// closeBalance carries the account balance into the destination move.
func (sw *sweep) closeBalance(ctx context.Context, account accounting.Account) error {
	tx := sw.ss.Tx()
	balance, err := tx.AccountBalance(ctx, account.ID, sw.filter)
	if err != nil {
		return err
	}
	company, err := tx.GetCompany(ctx, account.CompanyID)
	if err != nil {
		return err
	}
	balance = sw.currency.Round(company.Currency, balance)
	if sw.currency.IsZero(company.Currency, balance) {
		return nil
	}
	name := sw.name
	if name == "" {
		name = account.Name
	}
	in := moves.LineInput{Name: name, AccountID: account.ID, Debit: decimal.Zero, Credit: decimal.Zero, SkipTaxCodes: true}
	if balance.IsPositive() {
		in.Debit = balance
	} else {
		in.Credit = balance.Neg()
	}
	sw.balances = append(sw.balances, in)
	sw.counts[accounting.CloseMethodBalance]++
	return nil
}

// copyLines copies every active line of the account, draft or not, page by
// page into the destination move without their tax lines.
func (sw *sweep) copyLines(ctx context.Context, account accounting.Account, unreconciled bool) error {
	tx := sw.ss.Tx()
	method := accounting.CloseMethodDetail
	if unreconciled {
		method = accounting.CloseMethodUnreconciled
	}
	for offset := 0; ; offset += sw.pageSize {
		page, err := tx.ListLines(ctx, accounting.LineQuery{
			PeriodIDs:    sw.periodIDs,
			AccountID:    account.ID,
			Unreconciled: unreconciled,
			Offset:       offset,
			Limit:        sw.pageSize,
		})
		if err != nil {
			return err
		}
		ins := make([]moves.LineInput, 0, len(page))
		for _, l := range page {
			if !l.Active {
				continue
			}
			ins = append(ins, copyInput(l))
		}
		if len(ins) > 0 {
			lines, err := sw.ss.InsertLines(ctx, sw.move, ins)
			if err != nil {
				return err
			}
			for _, l := range lines {
				sw.lineIDs = append(sw.lineIDs, l.ID)
			}
			sw.counts[method] += len(lines)
		}
		if len(page) < sw.pageSize {
			return nil
		}
	}
}

func copyInput(l accounting.Line) moves.LineInput {
	return moves.LineInput{
		Name:                 l.Name,
		Reference:            l.Reference,
		Debit:                l.Debit,
		Credit:               l.Credit,
		AccountID:            l.AccountID,
		PartnerID:            l.PartnerID,
		MaturityDate:         l.MaturityDate,
		SecondCurrency:       l.SecondCurrency,
		AmountSecondCurrency: l.AmountSecondCurrency,
		Blocked:              l.Blocked,
		SkipTaxCodes:         true,
	}
}
