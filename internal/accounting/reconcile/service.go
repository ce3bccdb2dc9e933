// Package reconcile groups settled lines of one account into reconciliation
// records, booking a write-off when a residual remains.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// WriteOffName labels both lines of a write-off move.
const WriteOffName = "Write-Off"

// WriteOff says where the residual of a reconciliation is booked.
type WriteOff struct {
	JournalID int64
	PeriodID  int64
	AccountID int64
	Date      *time.Time
}

// Service is the reconciliation engine.
type Service struct {
	moves      *moves.Service
	sequenceID int64
	logger     *slog.Logger
}

// NewService constructs the engine. Reconciliation names come from the
// sequence when sequenceID is set.
func NewService(m *moves.Service, sequenceID int64) *Service {
	return &Service{moves: m, sequenceID: sequenceID, logger: slog.Default()}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Reconcile creates one reconciliation over lineIDs. With a write-off a
// balancing move is booked first and its line on the reconciled account
// joins the group.
func (s *Service) Reconcile(ctx context.Context, lineIDs []int64, wo *WriteOff) (accounting.Reconciliation, error) {
	var out accounting.Reconciliation
	err := s.moves.WithSession(ctx, func(ctx context.Context, ss *moves.Session) error {
		var err error
		out, err = s.reconcile(ctx, ss, lineIDs, wo)
		return err
	})
	if err != nil {
		return accounting.Reconciliation{}, err
	}
	s.logger.Info("reconciliation created", slog.String("name", out.Name), slog.Int("lines", len(out.LineIDs)))
	return out, nil
}

func (s *Service) reconcile(ctx context.Context, ss *moves.Session, lineIDs []int64, wo *WriteOff) (accounting.Reconciliation, error) {
	tx := ss.Tx()
	ids := slices.Compact(slices.Sorted(slices.Values(lineIDs)))
	if len(ids) == 0 {
		return accounting.Reconciliation{}, shared.ErrReconcileEmpty
	}
	lines, err := tx.ListLines(ctx, accounting.LineQuery{IDs: ids})
	if err != nil {
		return accounting.Reconciliation{}, err
	}
	if len(lines) != len(ids) {
		return accounting.Reconciliation{}, fmt.Errorf("move lines %v: %w", ids, shared.ErrRecordNotFound)
	}
	accountID := lines[0].AccountID
	for _, l := range lines {
		if l.ReconciliationID != nil {
			return accounting.Reconciliation{}, fmt.Errorf("line %d: %w", l.ID, shared.ErrLineReconciled)
		}
		if l.AccountID != accountID {
			return accounting.Reconciliation{}, shared.ErrReconcileAccount
		}
		if l.State != accounting.LineStateValid {
			return accounting.Reconciliation{}, fmt.Errorf("line %d: %w", l.ID, shared.ErrReconcileDraftLine)
		}
	}
	account, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return accounting.Reconciliation{}, err
	}
	if !account.Reconcile {
		return accounting.Reconciliation{}, fmt.Errorf("account %s: %w", account.Code, shared.ErrReconcileNotReconcilable)
	}
	company, err := tx.GetCompany(ctx, account.CompanyID)
	if err != nil {
		return accounting.Reconciliation{}, err
	}
	currency := s.moves.Currency()
	residual := decimal.Zero
	for _, l := range lines {
		residual = residual.Add(l.Net())
	}
	residual = currency.Round(company.Currency, residual)
	if !currency.IsZero(company.Currency, residual) {
		if wo == nil {
			return accounting.Reconciliation{}, fmt.Errorf("residual %s: %w", residual, shared.ErrReconcileUnbalanced)
		}
		lineID, err := s.writeOff(ctx, ss, account.ID, residual, *wo)
		if err != nil {
			return accounting.Reconciliation{}, err
		}
		ids = append(ids, lineID)
	}
	rec := accounting.Reconciliation{Name: "REC/" + uuid.NewString()}
	if s.sequenceID != 0 {
		if rec.Name, err = tx.NextValue(ctx, s.sequenceID); err != nil {
			return accounting.Reconciliation{}, fmt.Errorf("reconcile: sequence: %w", err)
		}
	}
	if err := tx.InsertReconciliation(ctx, &rec); err != nil {
		return accounting.Reconciliation{}, fmt.Errorf("reconcile: insert: %w", err)
	}
	if err := tx.SetLinesReconciliation(ctx, ids, &rec.ID); err != nil {
		return accounting.Reconciliation{}, fmt.Errorf("reconcile: attach lines: %w", err)
	}
	slices.Sort(ids)
	rec.LineIDs = ids
	return rec, nil
}

// writeOff books a two-line move cancelling residual on the reconciled
// account and returns the id of that account-side line.
func (s *Service) writeOff(ctx context.Context, ss *moves.Session, accountID int64, residual decimal.Decimal, wo WriteOff) (int64, error) {
	side := moves.LineInput{Name: WriteOffName, AccountID: accountID, Debit: decimal.Zero, Credit: decimal.Zero}
	other := moves.LineInput{Name: WriteOffName, AccountID: wo.AccountID, Debit: decimal.Zero, Credit: decimal.Zero}
	if residual.IsPositive() {
		side.Credit, other.Debit = residual, residual
	} else {
		side.Debit, other.Credit = residual.Neg(), residual.Neg()
	}
	move, err := ss.CreateMove(ctx, moves.MoveInput{
		JournalID: wo.JournalID,
		PeriodID:  wo.PeriodID,
		Date:      wo.Date,
		Lines:     []moves.LineInput{side, other},
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile: write-off: %w", err)
	}
	detail, err := ss.Detail(ctx, move.ID)
	if err != nil {
		return 0, err
	}
	for _, l := range detail.Lines {
		if l.AccountID == accountID && l.Name == WriteOffName && !l.Net().IsZero() {
			if l.State != accounting.LineStateValid {
				return 0, fmt.Errorf("line %d: %w", l.ID, shared.ErrReconcileDraftLine)
			}
			return l.ID, nil
		}
	}
	return 0, fmt.Errorf("reconcile: write-off line missing: %w", shared.ErrReconcileUnbalanced)
}

// Unreconcile detaches the member lines of each reconciliation and deletes
// the records.
func (s *Service) Unreconcile(ctx context.Context, ids []int64) error {
	err := s.moves.WithSession(ctx, func(ctx context.Context, ss *moves.Session) error {
		return Unreconcile(ctx, ss.Tx(), ids)
	})
	if err != nil {
		return err
	}
	s.logger.Info("reconciliations removed", slog.Any("reconciliation_ids", ids))
	return nil
}

// UnreconcileLines removes every reconciliation referenced by the lines.
func (s *Service) UnreconcileLines(ctx context.Context, lineIDs []int64) error {
	return s.moves.WithSession(ctx, func(ctx context.Context, ss *moves.Session) error {
		lines, err := ss.Tx().ListLines(ctx, accounting.LineQuery{IDs: lineIDs})
		if err != nil {
			return err
		}
		var ids []int64
		for _, l := range lines {
			if l.ReconciliationID != nil && !slices.Contains(ids, *l.ReconciliationID) {
				ids = append(ids, *l.ReconciliationID)
			}
		}
		return Unreconcile(ctx, ss.Tx(), ids)
	})
}

// Get returns a reconciliation with its member lines.
func (s *Service) Get(ctx context.Context, id int64) (accounting.Reconciliation, error) {
	var out accounting.Reconciliation
	err := s.moves.WithSession(ctx, func(ctx context.Context, ss *moves.Session) error {
		var err error
		out, err = ss.Tx().GetReconciliation(ctx, id)
		return err
	})
	return out, err
}

// Unreconcile is the transactional core of Service.Unreconcile.
func Unreconcile(ctx context.Context, tx accounting.Tx, ids []int64) error {
	for _, id := range ids {
		rec, err := tx.GetReconciliation(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.SetLinesReconciliation(ctx, rec.LineIDs, nil); err != nil {
			return fmt.Errorf("reconcile: detach lines: %w", err)
		}
		if err := tx.DeleteReconciliation(ctx, id); err != nil {
			return fmt.Errorf("reconcile: delete: %w", err)
		}
	}
	return nil
}
