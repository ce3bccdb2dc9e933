package journalperiods

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/store/memory"
)

type countingTx struct {
	accounting.Tx
	lookups int
}

func (c *countingTx) GetJournalPeriod(ctx context.Context, journalID, periodID int64) (accounting.JournalPeriod, bool, error) {
	c.lookups++
	return c.Tx.GetJournalPeriod(ctx, journalID, periodID)
}

func seed(t *testing.T) (*memory.Store, int64, int64) {
	t.Helper()
	store := memory.New()
	journalID := store.AddJournal(accounting.Journal{Name: "Sales"})
	var periodID int64
	err := store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		p := accounting.Period{
			Name:      "2024-01 - 2024-01",
			StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			State:     accounting.StateOpen,
		}
		if err := tx.InsertPeriod(ctx, &p); err != nil {
			return err
		}
		periodID = p.ID
		return nil
	})
	require.NoError(t, err)
	return store, journalID, periodID
}

func TestEnsureOpenForWriteCreatesRecordOnce(t *testing.T) {
	store, journalID, periodID := seed(t)

	err := store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		counting := &countingTx{Tx: tx}
		batch := NewBatch()
		require.NoError(t, batch.EnsureOpenForWrite(ctx, counting, journalID, periodID))
		require.NoError(t, batch.EnsureOpenForWrite(ctx, counting, journalID, periodID))
		require.Equal(t, 1, counting.lookups)

		jp, found, err := tx.GetJournalPeriod(ctx, journalID, periodID)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "Sales - 2024-01 - 2024-01", jp.Name)
		require.Equal(t, accounting.StateOpen, jp.State)
		return nil
	})
	require.NoError(t, err)
}

func TestEnsureOpenForWriteRejectsClosedGate(t *testing.T) {
	store, journalID, periodID := seed(t)
	svc := NewService(store)

	jp, err := svc.Close(context.Background(), journalID, periodID)
	require.NoError(t, err)
	require.Equal(t, accounting.StateClose, jp.State)

	err = store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		return NewBatch().EnsureOpenForWrite(ctx, tx, journalID, periodID)
	})
	require.ErrorIs(t, err, shared.ErrJournalPeriodClosed)
	require.ErrorIs(t, err, shared.ErrModificationBlocked)

	_, err = svc.Reopen(context.Background(), journalID, periodID)
	require.NoError(t, err)
	err = store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		return NewBatch().EnsureOpenForWrite(ctx, tx, journalID, periodID)
	})
	require.NoError(t, err)
}

func TestBatchesDoNotShareMemo(t *testing.T) {
	store, journalID, periodID := seed(t)

	err := store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		first := NewBatch()
		require.NoError(t, first.EnsureOpenForWrite(ctx, tx, journalID, periodID))

		jp, _, err := tx.GetJournalPeriod(ctx, journalID, periodID)
		require.NoError(t, err)
		require.NoError(t, tx.SetJournalPeriodState(ctx, jp.ID, accounting.StateClose))

		require.ErrorIs(t, NewBatch().EnsureOpenForWrite(ctx, tx, journalID, periodID), shared.ErrJournalPeriodClosed)
		return nil
	})
	require.NoError(t, err)
}
