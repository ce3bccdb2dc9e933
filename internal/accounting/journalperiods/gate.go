// Package journalperiods guards line writes per (journal, period) pair.
package journalperiods

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

type pair struct {
	journalID int64
	periodID  int64
}

// Batch memoizes the pairs already opened during one write batch. A Batch
// belongs to a single transaction and must not outlive it.
type Batch struct {
	seen map[pair]struct{}
}

// NewBatch returns an empty gate cache.
func NewBatch() *Batch {
	return &Batch{seen: make(map[pair]struct{})}
}

// EnsureOpenForWrite fails with shared.ErrJournalPeriodClosed when the gate
// record of the pair is closed and creates an open record when none exists.
// Each pair is checked once per batch.
func (b *Batch) EnsureOpenForWrite(ctx context.Context, tx accounting.Tx, journalID, periodID int64) error {
	key := pair{journalID: journalID, periodID: periodID}
	if _, ok := b.seen[key]; ok {
		return nil
	}
	jp, found, err := tx.GetJournalPeriod(ctx, journalID, periodID)
	if err != nil {
		return fmt.Errorf("journal period: lookup: %w", err)
	}
	if found {
		if jp.State == accounting.StateClose {
			return fmt.Errorf("%s: %w", jp.Name, shared.ErrJournalPeriodClosed)
		}
		b.seen[key] = struct{}{}
		return nil
	}
	journal, err := tx.GetJournal(ctx, journalID)
	if err != nil {
		return err
	}
	period, err := tx.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	jp, err = tx.EnsureJournalPeriod(ctx, accounting.JournalPeriod{
		Name:      journal.Name + " - " + period.Name,
		JournalID: journalID,
		PeriodID:  periodID,
		State:     accounting.StateOpen,
	})
	if err != nil {
		return fmt.Errorf("journal period: create: %w", err)
	}
	// A concurrent writer may have created and closed the record first.
	if jp.State == accounting.StateClose {
		return fmt.Errorf("%s: %w", jp.Name, shared.ErrJournalPeriodClosed)
	}
	b.seen[key] = struct{}{}
	return nil
}

// Forget drops the memo of a pair, for callers that change its state within
// the batch.
func (b *Batch) Forget(journalID, periodID int64) {
	delete(b.seen, pair{journalID: journalID, periodID: periodID})
}

// SetState opens or closes the gate of a pair, materializing it if needed.
func SetState(ctx context.Context, tx accounting.Tx, journalID, periodID int64, state accounting.State) (accounting.JournalPeriod, error) {
	journal, err := tx.GetJournal(ctx, journalID)
	if err != nil {
		return accounting.JournalPeriod{}, err
	}
	period, err := tx.GetPeriod(ctx, periodID)
	if err != nil {
		return accounting.JournalPeriod{}, err
	}
	if state == accounting.StateOpen && period.State == accounting.StateClose {
		return accounting.JournalPeriod{}, fmt.Errorf("%s: %w", period.Name, shared.ErrPeriodClosed)
	}
	jp, err := tx.EnsureJournalPeriod(ctx, accounting.JournalPeriod{
		Name:      journal.Name + " - " + period.Name,
		JournalID: journalID,
		PeriodID:  periodID,
		State:     accounting.StateOpen,
	})
	if err != nil {
		return accounting.JournalPeriod{}, fmt.Errorf("journal period: create: %w", err)
	}
	if jp.State == state {
		return jp, nil
	}
	if err := tx.SetJournalPeriodState(ctx, jp.ID, state); err != nil {
		return accounting.JournalPeriod{}, fmt.Errorf("journal period: set state: %w", err)
	}
	jp.State = state
	return jp, nil
}

// Service exposes gate administration in its own transaction.
type Service struct {
	store accounting.Store
}

// NewService constructs a gate Service.
func NewService(store accounting.Store) *Service {
	return &Service{store: store}
}

// Close blocks further line writes for the pair.
func (s *Service) Close(ctx context.Context, journalID, periodID int64) (accounting.JournalPeriod, error) {
	return s.set(ctx, journalID, periodID, accounting.StateClose)
}

// Reopen allows line writes for the pair again.
func (s *Service) Reopen(ctx context.Context, journalID, periodID int64) (accounting.JournalPeriod, error) {
	return s.set(ctx, journalID, periodID, accounting.StateOpen)
}

func (s *Service) set(ctx context.Context, journalID, periodID int64, state accounting.State) (accounting.JournalPeriod, error) {
	var out accounting.JournalPeriod
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		jp, err := SetState(ctx, tx, journalID, periodID, state)
		out = jp
		return err
	})
	return out, err
}
