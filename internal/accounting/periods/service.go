// Package periods manages fiscal years and their periods.
package periods

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// FiscalYearInput carries the fields of a new fiscal year.
type FiscalYearInput struct {
	Name               string
	Code               string
	StartDate          time.Time
	EndDate            time.Time
	PostMoveSequenceID int64
	CompanyID          int64
}

// FiscalYearUpdate carries the fields to change on a fiscal year. Nil fields
// are left untouched.
type FiscalYearUpdate struct {
	Name               *string
	Code               *string
	StartDate          *time.Time
	EndDate            *time.Time
	PostMoveSequenceID *int64
}

// PeriodInput carries the fields of a new period. A zero posting sequence
// inherits the one of the fiscal year.
type PeriodInput struct {
	Name               string
	Code               string
	FiscalYearID       int64
	StartDate          time.Time
	EndDate            time.Time
	PostMoveSequenceID int64
}

// PeriodUpdate carries the fields to change on a period.
type PeriodUpdate struct {
	Name               *string
	Code               *string
	StartDate          *time.Time
	EndDate            *time.Time
	PostMoveSequenceID *int64
}

// Service is the period manager.
type Service struct {
	store  accounting.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a period manager.
func NewService(store accounting.Store) *Service {
	return &Service{store: store, logger: slog.Default(), now: time.Now}
}

// WithNow overrides the clock used when no date is supplied.
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

// CreateFiscalYear stores an open fiscal year after checking overlaps and
// posting sequence uniqueness.
func (s *Service) CreateFiscalYear(ctx context.Context, in FiscalYearInput) (accounting.FiscalYear, error) {
	fy := accounting.FiscalYear{
		Name:               in.Name,
		Code:               in.Code,
		StartDate:          accounting.Day(in.StartDate),
		EndDate:            accounting.Day(in.EndDate),
		State:              accounting.StateOpen,
		PostMoveSequenceID: in.PostMoveSequenceID,
		CompanyID:          in.CompanyID,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		if err := checkFiscalYear(ctx, tx, fy); err != nil {
			return err
		}
		return tx.InsertFiscalYear(ctx, &fy)
	})
	if err != nil {
		return accounting.FiscalYear{}, err
	}
	s.logger.Info("fiscal year created", slog.Int64("fiscal_year_id", fy.ID), slog.String("name", fy.Name))
	return fy, nil
}

// UpdateFiscalYear applies upd. Dates of a closed fiscal year are read only
// and a posting sequence cannot change once set.
func (s *Service) UpdateFiscalYear(ctx context.Context, id int64, upd FiscalYearUpdate) (accounting.FiscalYear, error) {
	var out accounting.FiscalYear
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		current, err := tx.GetFiscalYear(ctx, id)
		if err != nil {
			return err
		}
		next := current
		if upd.Name != nil {
			next.Name = *upd.Name
		}
		if upd.Code != nil {
			next.Code = *upd.Code
		}
		if upd.StartDate != nil {
			next.StartDate = accounting.Day(*upd.StartDate)
		}
		if upd.EndDate != nil {
			next.EndDate = accounting.Day(*upd.EndDate)
		}
		if upd.PostMoveSequenceID != nil {
			if current.PostMoveSequenceID != 0 && *upd.PostMoveSequenceID != current.PostMoveSequenceID {
				return shared.ErrPostSequenceImmutable
			}
			next.PostMoveSequenceID = *upd.PostMoveSequenceID
		}
		datesChanged := !next.StartDate.Equal(current.StartDate) || !next.EndDate.Equal(current.EndDate)
		if datesChanged && current.State == accounting.StateClose {
			return fmt.Errorf("%s: %w", current.Name, shared.ErrFiscalYearClosed)
		}
		if err := checkFiscalYear(ctx, tx, next); err != nil {
			return err
		}
		if datesChanged {
			owned, err := tx.ListPeriods(ctx, accounting.PeriodQuery{FiscalYearIDs: []int64{id}})
			if err != nil {
				return err
			}
			for _, p := range owned {
				if !next.Contains(p.StartDate) || !next.Contains(p.EndDate) {
					return fmt.Errorf("%s: %w", p.Name, shared.ErrPeriodOutsideFiscalYear)
				}
			}
		}
		out = next
		return tx.UpdateFiscalYear(ctx, next)
	})
	return out, err
}

func checkFiscalYear(ctx context.Context, tx accounting.Tx, fy accounting.FiscalYear) error {
	if fy.EndDate.Before(fy.StartDate) {
		return shared.ErrFiscalYearDates
	}
	overlapping, err := tx.ListFiscalYears(ctx, accounting.FiscalYearQuery{
		Overlapping: &accounting.DateRange{Start: fy.StartDate, End: fy.EndDate},
		ExcludeID:   fy.ID,
	})
	if err != nil {
		return err
	}
	if len(overlapping) > 0 {
		return fmt.Errorf("%s and %s: %w", fy.Name, overlapping[0].Name, shared.ErrFiscalYearOverlap)
	}
	if fy.PostMoveSequenceID == 0 {
		return nil
	}
	sharing, err := tx.ListFiscalYears(ctx, accounting.FiscalYearQuery{
		PostMoveSequenceID: fy.PostMoveSequenceID,
		ExcludeID:          fy.ID,
	})
	if err != nil {
		return err
	}
	if len(sharing) > 0 {
		return fmt.Errorf("%s: %w", sharing[0].Name, shared.ErrDuplicatePostSequence)
	}
	return nil
}

// CreatePeriods slices each fiscal year into periods of intervalMonths.
func (s *Service) CreatePeriods(ctx context.Context, fiscalYearIDs []int64, intervalMonths int) ([]accounting.Period, error) {
	var out []accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		created, err := Generate(ctx, tx, fiscalYearIDs, intervalMonths)
		out = created
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("periods created", slog.Int("count", len(out)), slog.Int("interval_months", intervalMonths))
	return out, nil
}

// Generate is CreatePeriods inside an existing transaction.
func Generate(ctx context.Context, tx accounting.Tx, fiscalYearIDs []int64, intervalMonths int) ([]accounting.Period, error) {
	if intervalMonths <= 0 {
		return nil, shared.ErrInvalidInterval
	}
	var out []accounting.Period
	for _, id := range fiscalYearIDs {
		fy, err := tx.GetFiscalYear(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, p := range Slice(fy, intervalMonths) {
			if err := insertPeriod(ctx, tx, fy, &p); err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// CreatePeriod stores a single open period.
func (s *Service) CreatePeriod(ctx context.Context, in PeriodInput) (accounting.Period, error) {
	p := accounting.Period{
		Name:               in.Name,
		Code:               in.Code,
		FiscalYearID:       in.FiscalYearID,
		StartDate:          accounting.Day(in.StartDate),
		EndDate:            accounting.Day(in.EndDate),
		State:              accounting.StateOpen,
		PostMoveSequenceID: in.PostMoveSequenceID,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		fy, err := tx.GetFiscalYear(ctx, p.FiscalYearID)
		if err != nil {
			return err
		}
		if p.PostMoveSequenceID == 0 {
			p.PostMoveSequenceID = fy.PostMoveSequenceID
		}
		return insertPeriod(ctx, tx, fy, &p)
	})
	return p, err
}

// UpdatePeriod applies upd to an open period of an open fiscal year.
func (s *Service) UpdatePeriod(ctx context.Context, id int64, upd PeriodUpdate) (accounting.Period, error) {
	var out accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		current, err := tx.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if current.State == accounting.StateClose {
			return fmt.Errorf("%s: %w", current.Name, shared.ErrPeriodClosed)
		}
		fy, err := tx.GetFiscalYear(ctx, current.FiscalYearID)
		if err != nil {
			return err
		}
		next := current
		if upd.Name != nil {
			next.Name = *upd.Name
		}
		if upd.Code != nil {
			next.Code = *upd.Code
		}
		if upd.StartDate != nil {
			next.StartDate = accounting.Day(*upd.StartDate)
		}
		if upd.EndDate != nil {
			next.EndDate = accounting.Day(*upd.EndDate)
		}
		if upd.PostMoveSequenceID != nil {
			if current.PostMoveSequenceID != 0 && *upd.PostMoveSequenceID != current.PostMoveSequenceID {
				return shared.ErrPostSequenceImmutable
			}
			next.PostMoveSequenceID = *upd.PostMoveSequenceID
		}
		if err := checkPeriod(ctx, tx, fy, next); err != nil {
			return err
		}
		out = next
		return tx.UpdatePeriod(ctx, next)
	})
	return out, err
}

func insertPeriod(ctx context.Context, tx accounting.Tx, fy accounting.FiscalYear, p *accounting.Period) error {
	if err := checkPeriod(ctx, tx, fy, *p); err != nil {
		return err
	}
	return tx.InsertPeriod(ctx, p)
}

// checkPeriod rejects writes on closed fiscal years, so periods cannot be
// added while a close is sweeping the fiscal year.
func checkPeriod(ctx context.Context, tx accounting.Tx, fy accounting.FiscalYear, p accounting.Period) error {
	if fy.State == accounting.StateClose {
		return fmt.Errorf("%s: %w", fy.Name, shared.ErrFiscalYearClosed)
	}
	if p.EndDate.Before(p.StartDate) {
		return shared.ErrPeriodDates
	}
	if !fy.Contains(p.StartDate) || !fy.Contains(p.EndDate) {
		return fmt.Errorf("%s: %w", p.Name, shared.ErrPeriodOutsideFiscalYear)
	}
	siblings, err := tx.ListPeriods(ctx, accounting.PeriodQuery{
		FiscalYearIDs: []int64{fy.ID},
		Overlapping:   &accounting.DateRange{Start: p.StartDate, End: p.EndDate},
		ExcludeID:     p.ID,
	})
	if err != nil {
		return err
	}
	if len(siblings) > 0 {
		return fmt.Errorf("%s and %s: %w", p.Name, siblings[0].Name, shared.ErrPeriodOverlap)
	}
	return nil
}

// FindPeriod returns the most recent period containing date, today when date
// is nil. When nothing matches it fails with shared.ErrNoPeriod if
// failIfMissing is set and reports found=false otherwise.
func (s *Service) FindPeriod(ctx context.Context, date *time.Time, failIfMissing bool) (accounting.Period, bool, error) {
	var (
		out   accounting.Period
		found bool
	)
	day := s.day(date)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		out, found, err = Lookup(ctx, tx, day, failIfMissing)
		return err
	})
	return out, found, err
}

// FindFiscalYear is FindPeriod for fiscal years.
func (s *Service) FindFiscalYear(ctx context.Context, date *time.Time, failIfMissing bool) (accounting.FiscalYear, bool, error) {
	var (
		out   accounting.FiscalYear
		found bool
	)
	day := s.day(date)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		out, found, err = LookupFiscalYear(ctx, tx, day, failIfMissing)
		return err
	})
	return out, found, err
}

func (s *Service) day(date *time.Time) time.Time {
	if date == nil {
		return accounting.Day(s.now())
	}
	return accounting.Day(*date)
}

// Lookup is FindPeriod inside an existing transaction.
func Lookup(ctx context.Context, tx accounting.Tx, date time.Time, failIfMissing bool) (accounting.Period, bool, error) {
	day := accounting.Day(date)
	matches, err := tx.ListPeriods(ctx, accounting.PeriodQuery{ContainsDate: &day})
	if err != nil {
		return accounting.Period{}, false, err
	}
	if len(matches) == 0 {
		if failIfMissing {
			return accounting.Period{}, false, fmt.Errorf("%s: %w", day.Format(time.DateOnly), shared.ErrNoPeriod)
		}
		return accounting.Period{}, false, nil
	}
	return matches[len(matches)-1], true, nil
}

// LookupFiscalYear is FindFiscalYear inside an existing transaction.
func LookupFiscalYear(ctx context.Context, tx accounting.Tx, date time.Time, failIfMissing bool) (accounting.FiscalYear, bool, error) {
	day := accounting.Day(date)
	matches, err := tx.ListFiscalYears(ctx, accounting.FiscalYearQuery{ContainsDate: &day})
	if err != nil {
		return accounting.FiscalYear{}, false, err
	}
	if len(matches) == 0 {
		if failIfMissing {
			return accounting.FiscalYear{}, false, fmt.Errorf("%s: %w", day.Format(time.DateOnly), shared.ErrNoFiscalYear)
		}
		return accounting.FiscalYear{}, false, nil
	}
	return matches[len(matches)-1], true, nil
}

// CloseFiscalYears closes the fiscal years and then all of their periods.
func (s *Service) CloseFiscalYears(ctx context.Context, ids []int64) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		return Close(ctx, tx, ids)
	})
	if err != nil {
		return err
	}
	s.logger.Info("fiscal years closed", slog.Any("fiscal_year_ids", ids))
	return nil
}

// Close is CloseFiscalYears inside an existing transaction. The fiscal year
// state flips first so period creation racing the sweep is rejected.
func Close(ctx context.Context, tx accounting.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.SetFiscalYearState(ctx, ids, accounting.StateClose); err != nil {
		return fmt.Errorf("periods: close fiscal years: %w", err)
	}
	owned, err := tx.ListPeriods(ctx, accounting.PeriodQuery{FiscalYearIDs: ids})
	if err != nil {
		return err
	}
	if err := tx.SetPeriodState(ctx, periodIDs(owned), accounting.StateClose); err != nil {
		return fmt.Errorf("periods: close periods: %w", err)
	}
	return nil
}

// Reopen sets the fiscal years and all of their periods back to open.
func Reopen(ctx context.Context, tx accounting.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.SetFiscalYearState(ctx, ids, accounting.StateOpen); err != nil {
		return fmt.Errorf("periods: reopen fiscal years: %w", err)
	}
	owned, err := tx.ListPeriods(ctx, accounting.PeriodQuery{FiscalYearIDs: ids})
	if err != nil {
		return err
	}
	if err := tx.SetPeriodState(ctx, periodIDs(owned), accounting.StateOpen); err != nil {
		return fmt.Errorf("periods: reopen periods: %w", err)
	}
	return nil
}

func periodIDs(periods []accounting.Period) []int64 {
	ids := make([]int64, 0, len(periods))
	for _, p := range periods {
		ids = append(ids, p.ID)
	}
	return ids
}
