// Package moves implements journal entries and their lines: balance,
// company, date and centralisation rules, posting and the ledger read filter.
package moves

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journalperiods"
)

// CounterpartName labels the rolling line of centralised moves.
const CounterpartName = "Centralised Counterpart"

// MoveInput carries the fields of a new move. Lines, when present, are
// created with the move and validated once at the end.
type MoveInput struct {
	Name      string
	PeriodID  int64
	JournalID int64
	Date      *time.Time
	Lines     []LineInput
}

// MoveUpdate carries the fields to change on a draft move.
type MoveUpdate struct {
	Name      *string
	PeriodID  *int64
	JournalID *int64
	Date      *time.Time
}

// LineInput carries the fields of a new line. Without MoveID the line is
// placed in the open move of a centralised journal or in a new move built
// from JournalID, PeriodID and Date.
type LineInput struct {
	MoveID               int64
	JournalID            int64
	PeriodID             int64
	Date                 *time.Time
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
	TaxLines             []accounting.TaxLine

	// SkipTaxCodes keeps a line without tax lines free of suggested codes.
	SkipTaxCodes bool
}

// LineUpdate carries the fields to change on a line. JournalID, PeriodID and
// Date belong to the parent move: setting them rewrites the move and so
// every sibling line.
type LineUpdate struct {
	MoveID               *int64
	JournalID            *int64
	PeriodID             *int64
	Date                 *time.Time
	Name                 *string
	Reference            *string
	Debit                *decimal.Decimal
	Credit               *decimal.Decimal
	AccountID            *int64
	PartnerID            *int64
	MaturityDate         *time.Time
	SecondCurrency       *string
	AmountSecondCurrency *decimal.Decimal
	Blocked              *bool
	TaxLines             *[]accounting.TaxLine
}

// CopyOptions overrides fields of a copied line. The copy never keeps the
// source move or reconciliation.
type CopyOptions struct {
	MoveID       int64
	JournalID    int64
	PeriodID     int64
	Date         *time.Time
	Name         string
	DropTaxLines bool
}

// MoveDetail is a move with its lines.
type MoveDetail struct {
	Move  accounting.Move
	Lines []accounting.Line
}

// TaxCodes suggests the tax code lines of a new line.
type TaxCodes interface {
	CodeLines(ctx context.Context, journal accounting.Journal, account accounting.Account, currency string, debit, credit decimal.Decimal) ([]accounting.TaxLine, error)
}

// Service is the move engine.
type Service struct {
	store    accounting.Store
	currency accounting.Currency
	taxes    TaxCodes
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the move engine.
func NewService(store accounting.Store, currency accounting.Currency) *Service {
	return &Service{
		store:    store,
		currency: currency,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// WithNow overrides the clock used for default and post dates.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithLogger sets the logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithTaxCodes fills the tax lines of new lines that come without any.
func (s *Service) WithTaxCodes(taxes TaxCodes) *Service {
	s.taxes = taxes
	return s
}

// Currency exposes the currency service shared with dependent engines.
func (s *Service) Currency() accounting.Currency {
	return s.currency
}

// Today returns the current ledger date.
func (s *Service) Today() time.Time {
	return accounting.Day(s.now())
}

// Session binds the engine to tx with a fresh journal-period gate cache.
func (s *Service) Session(tx accounting.Tx) *Session {
	return &Session{
		svc:       s,
		tx:        tx,
		gate:      journalperiods.NewBatch(),
		accounts:  make(map[int64]accounting.Account),
		journals:  make(map[int64]accounting.Journal),
		companies: make(map[int64]accounting.Company),
	}
}

// WithSession runs fn in one transaction. The session, and its gate cache,
// end with the transaction.
func (s *Service) WithSession(ctx context.Context, fn func(context.Context, *Session) error) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		return fn(ctx, s.Session(tx))
	})
}

// CreateMove creates a move, its centralised counterpart and inline lines.
func (s *Service) CreateMove(ctx context.Context, in MoveInput) (MoveDetail, error) {
	var out MoveDetail
	err := s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		move, err := ss.CreateMove(ctx, in)
		if err != nil {
			return err
		}
		out, err = ss.Detail(ctx, move.ID)
		return err
	})
	return out, err
}

// UpdateMove changes a draft move and revalidates it.
func (s *Service) UpdateMove(ctx context.Context, id int64, upd MoveUpdate) (MoveDetail, error) {
	var out MoveDetail
	err := s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		if err := ss.UpdateMove(ctx, id, upd); err != nil {
			return err
		}
		var err error
		out, err = ss.Detail(ctx, id)
		return err
	})
	return out, err
}

// DeleteMoves deletes draft moves and their lines.
func (s *Service) DeleteMoves(ctx context.Context, ids []int64) error {
	return s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		return ss.DeleteMoves(ctx, ids)
	})
}

// GetMove returns a move with its lines.
func (s *Service) GetMove(ctx context.Context, id int64) (MoveDetail, error) {
	var out MoveDetail
	err := s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		var err error
		out, err = ss.Detail(ctx, id)
		return err
	})
	return out, err
}

// GetLine returns a line with its parent move.
func (s *Service) GetLine(ctx context.Context, id int64) (accounting.LineView, error) {
	var out accounting.LineView
	err := s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		var err error
		out, err = ss.View(ctx, id)
		return err
	})
	return out, err
}

// CreateLine adds a line and revalidates its move.
func (s *Service) CreateLine(ctx context.Context, in LineInput) (accounting.LineView, error) {
	var out accounting.LineView
	err := s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		line, err := ss.CreateLine(ctx, in)
		if err != nil {
			return err
		}
		out, err = ss.View(ctx, line.ID)
		return err
	})
	return out, err
}

// UpdateLine changes a line and revalidates the moves involved.
func (s *Service) UpdateLine(ctx context.Context, id int64, upd LineUpdate) (accounting.LineView, error) {
	var out accounting.LineView
	err := s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		if err := ss.UpdateLine(ctx, id, upd); err != nil {
			return err
		}
		var err error
		out, err = ss.View(ctx, id)
		return err
	})
	return out, err
}

// RemoveLines deletes lines and revalidates their moves.
func (s *Service) RemoveLines(ctx context.Context, ids []int64) error {
	return s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		return ss.RemoveLines(ctx, ids)
	})
}

// CopyLine duplicates a line into another move.
func (s *Service) CopyLine(ctx context.Context, id int64, opts CopyOptions) (accounting.LineView, error) {
	var out accounting.LineView
	err := s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		line, err := ss.CopyLine(ctx, id, opts)
		if err != nil {
			return err
		}
		out, err = ss.View(ctx, line.ID)
		return err
	})
	return out, err
}

// Validate recomputes line states of the moves.
func (s *Service) Validate(ctx context.Context, moveIDs []int64) error {
	return s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		return ss.Validate(ctx, moveIDs)
	})
}

// Post posts every move or none of them.
func (s *Service) Post(ctx context.Context, moveIDs []int64) error {
	err := s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		return ss.Post(ctx, moveIDs)
	})
	if err != nil {
		return err
	}
	s.logger.Info("moves posted", slog.Int("count", len(moveIDs)))
	return nil
}

// Draft reverts posted moves of journals that allow it.
func (s *Service) Draft(ctx context.Context, moveIDs []int64) error {
	err := s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		return ss.Draft(ctx, moveIDs)
	})
	if err != nil {
		return err
	}
	s.logger.Info("moves reverted to draft", slog.Int("count", len(moveIDs)))
	return nil
}

// QueryFilter resolves fc into the line read filter.
func (s *Service) QueryFilter(ctx context.Context, fc FilterContext) (accounting.LineFilter, error) {
	var out accounting.LineFilter
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		out, err = QueryFilter(ctx, tx, fc)
		return err
	})
	return out, err
}

// SuggestBalancingLine proposes the line that would balance a move.
func (s *Service) SuggestBalancingLine(ctx context.Context, moveID int64) (Suggestion, error) {
	var out Suggestion
	err := s.WithSession(ctx, func(ctx context.Context, ss *Session) error {
		var err error
		out, err = ss.SuggestBalancingLine(ctx, moveID)
		return err
	})
	return out, err
}
