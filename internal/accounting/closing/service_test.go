package closing_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	ledgershared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type books struct {
	f     *lt.Fixture
	y2025 lt.Year
	input closing.CloseInput
}

func lineOn(t *testing.T, detail moves.MoveDetail, accountID int64) accounting.Line {
	t.Helper()
	for _, l := range detail.Lines {
		if l.AccountID == accountID {
			return l
		}
	}
	t.Fatalf("no line on account %d", accountID)
	return accounting.Line{}
}

// newBooks posts a small year: capital, an invoice partly paid, a supplier
// bill, a settled receivable pair and a pending draft line.
func newBooks(t *testing.T) books {
	t.Helper()
	f := lt.New(t)
	y := f.Year2024
	ctx := context.Background()

	f.Post(t, y.Month(time.January), lt.Date(2024, 1, 2), lt.Debit(f.Bank, "500"), lt.Credit(f.Equity, "500"))
	f.Post(t, y.Month(time.May), lt.Date(2024, 5, 3), lt.Debit(f.Receivable, "100").WithPartner(7), lt.Credit(f.Revenue, "100"))
	f.Post(t, y.Month(time.June), lt.Date(2024, 6, 3), lt.Debit(f.Bank, "60"), lt.Credit(f.Receivable, "60").WithPartner(7))
	f.Post(t, y.Month(time.June), lt.Date(2024, 6, 4), lt.Debit(f.Expense, "40"), lt.Credit(f.Payable, "40").WithPartner(8))
	inv := f.Post(t, y.Month(time.July), lt.Date(2024, 7, 1), lt.Debit(f.Receivable, "25"), lt.Credit(f.Bank, "25"))
	pay := f.Post(t, y.Month(time.July), lt.Date(2024, 7, 9), lt.Debit(f.Bank, "25"), lt.Credit(f.Receivable, "25"))
	_, err := reconcile.NewService(f.Moves(), 0).Reconcile(ctx, []int64{lineOn(t, inv, f.Receivable).ID, lineOn(t, pay, f.Receivable).ID}, nil)
	require.NoError(t, err)
	_, err = f.Moves().CreateMove(ctx, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  y.Month(time.August).ID,
		Lines:     lt.Lines(lt.Debit(f.Bank, "9")),
	})
	require.NoError(t, err)

	y2025 := f.AddYear(t, 2025)
	return books{
		f:     f,
		y2025: y2025,
		input: closing.CloseInput{
			FiscalYearID:     y.FiscalYear.ID,
			DestFiscalYearID: y2025.FiscalYear.ID,
			DestPeriodID:     y2025.Month(time.January).ID,
			DestJournalID:    f.Opening,
			EntriesName:      "Opening 2025",
		},
	}
}

func netByAccount(lines []accounting.Line) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal)
	for _, l := range lines {
		out[l.AccountID] = out[l.AccountID].Add(l.Net())
	}
	return out
}

func TestCloseFiscalYear(t *testing.T) {
	b := newBooks(t)
	f := b.f
	ctx := context.Background()
	svc := closing.NewService(f.Moves(), 0)

	res, err := svc.CloseFiscalYear(ctx, b.input)
	require.NoError(t, err)

	assert.Len(t, res.CloseLineIDs, 5)
	assert.Equal(t, map[accounting.CloseMethod]int{
		accounting.CloseMethodBalance:      2,
		accounting.CloseMethodDetail:       1,
		accounting.CloseMethodUnreconciled: 2,
	}, res.Carried)

	detail, err := f.Moves().GetMove(ctx, res.MoveID)
	require.NoError(t, err)
	assert.Equal(t, "Opening 2025", detail.Move.Name)
	assert.Equal(t, lt.Date(2025, 1, 1), detail.Move.Date)
	require.Len(t, detail.Lines, 6)

	sum := decimal.Zero
	var closeLines []accounting.Line
	for _, l := range detail.Lines {
		sum = sum.Add(l.Net())
		assert.Equal(t, accounting.LineStateValid, l.State)
		assert.Empty(t, l.TaxLines)
		if l.ID != *detail.Move.CentralisedLineID {
			closeLines = append(closeLines, l)
		}
	}
	assert.True(t, sum.IsZero())

	nets := netByAccount(closeLines)
	assert.True(t, nets[f.Bank].Equal(lt.Amount("560")), nets[f.Bank].String())
	assert.True(t, nets[f.Equity].Equal(lt.Amount("-500")), nets[f.Equity].String())
	assert.True(t, nets[f.Receivable].Equal(lt.Amount("40")), nets[f.Receivable].String())
	assert.True(t, nets[f.Payable].Equal(lt.Amount("-40")), nets[f.Payable].String())
	_, hasRevenue := nets[f.Revenue]
	assert.False(t, hasRevenue)

	err = f.Store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		fy, err := tx.GetFiscalYear(ctx, b.input.FiscalYearID)
		require.NoError(t, err)
		assert.Equal(t, accounting.StateClose, fy.State)
		owned, err := tx.ListPeriods(ctx, accounting.PeriodQuery{FiscalYearIDs: []int64{fy.ID}})
		require.NoError(t, err)
		for _, p := range owned {
			assert.Equal(t, accounting.StateClose, p.State)
		}
		ids, err := tx.CloseLineIDs(ctx, fy.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, res.CloseLineIDs, ids)
		return nil
	})
	require.NoError(t, err)

	_, err = f.Moves().CreateMove(ctx, moves.MoveInput{JournalID: f.General, PeriodID: f.Year2024.Month(time.December).ID})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
}

func TestCloseFiscalYearPaginatesDetail(t *testing.T) {
	b := newBooks(t)
	f := b.f
	for i := 0; i < 3; i++ {
		f.Post(t, f.Year2024.Month(time.September), lt.Date(2024, 9, 2+i), lt.Debit(f.Expense, "1"), lt.Credit(f.Payable, "1"))
	}

	res, err := closing.NewService(f.Moves(), 2).CloseFiscalYear(context.Background(), b.input)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Carried[accounting.CloseMethodDetail])
	assert.Len(t, res.CloseLineIDs, 8)
}

func TestCloseFiscalYearCopiesDraftDetailLines(t *testing.T) {
	b := newBooks(t)
	f := b.f
	ctx := context.Background()
	draft, err := f.Moves().CreateMove(ctx, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  f.Year2024.Month(time.October).ID,
		Lines:     lt.Lines(lt.Credit(f.Payable, "7").WithPartner(8)),
	})
	require.NoError(t, err)
	require.Equal(t, accounting.LineStateDraft, draft.Lines[0].State)

	res, err := closing.NewService(f.Moves(), 0).CloseFiscalYear(ctx, b.input)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Carried[accounting.CloseMethodDetail])
	assert.Len(t, res.CloseLineIDs, 6)

	detail, err := f.Moves().GetMove(ctx, res.MoveID)
	require.NoError(t, err)
	var payable []accounting.Line
	for _, l := range detail.Lines {
		if l.AccountID == f.Payable {
			payable = append(payable, l)
		}
	}
	require.Len(t, payable, 2)
	assert.True(t, netByAccount(payable)[f.Payable].Equal(lt.Amount("-47")))
}

func TestReopenRemovesCloseLines(t *testing.T) {
	b := newBooks(t)
	f := b.f
	ctx := context.Background()
	svc := closing.NewService(f.Moves(), 0)
	res, err := svc.CloseFiscalYear(ctx, b.input)
	require.NoError(t, err)

	require.NoError(t, svc.ReopenFiscalYears(ctx, []int64{b.input.FiscalYearID, b.y2025.FiscalYear.ID}))

	detail, err := f.Moves().GetMove(ctx, res.MoveID)
	require.NoError(t, err)
	require.Len(t, detail.Lines, 1)
	assert.True(t, detail.Lines[0].Net().IsZero())

	err = f.Store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		fy, err := tx.GetFiscalYear(ctx, b.input.FiscalYearID)
		require.NoError(t, err)
		assert.Equal(t, accounting.StateOpen, fy.State)
		ids, err := tx.CloseLineIDs(ctx, fy.ID)
		require.NoError(t, err)
		assert.Empty(t, ids)
		owned, err := tx.ListPeriods(ctx, accounting.PeriodQuery{FiscalYearIDs: []int64{fy.ID}})
		require.NoError(t, err)
		for _, p := range owned {
			assert.Equal(t, accounting.StateOpen, p.State)
		}
		return nil
	})
	require.NoError(t, err)

	_, err = svc.CloseFiscalYear(ctx, b.input)
	require.NoError(t, err, "a reopened year closes again")
}

func TestClosePreconditions(t *testing.T) {
	b := newBooks(t)
	f := b.f
	ctx := context.Background()
	svc := closing.NewService(f.Moves(), 0)
	noAccounts := f.Store.AddJournal(accounting.Journal{Name: "Bare", Centralised: true, SequenceID: f.OpeningSeqID})

	cases := []struct {
		name   string
		mutate func(*closing.CloseInput)
		want   error
	}{
		{"same fiscal year", func(in *closing.CloseInput) { in.DestFiscalYearID = in.FiscalYearID }, shared.ErrCloseSameFiscalYear},
		{"period of another year", func(in *closing.CloseInput) { in.DestPeriodID = f.Year2024.Month(time.March).ID }, shared.ErrClosePeriodMismatch},
		{"journal not centralised", func(in *closing.CloseInput) { in.DestJournalID = f.General }, shared.ErrCloseJournalNotCentral},
		{"journal without accounts", func(in *closing.CloseInput) { in.DestJournalID = noAccounts }, shared.ErrCloseJournalAccounts},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := b.input
			tc.mutate(&in)
			_, err := svc.CloseFiscalYear(ctx, in)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, shared.ErrPreconditionFailed)
		})
	}

	t.Run("destination closed", func(t *testing.T) {
		require.NoError(t, f.Periods.CloseFiscalYears(ctx, []int64{b.y2025.FiscalYear.ID}))
		_, err := svc.CloseFiscalYear(ctx, b.input)
		require.ErrorIs(t, err, shared.ErrCloseDestinationState)
	})

	t.Run("target closed", func(t *testing.T) {
		require.NoError(t, f.Periods.CloseFiscalYears(ctx, []int64{b.input.FiscalYearID}))
		_, err := svc.CloseFiscalYear(ctx, b.input)
		require.ErrorIs(t, err, shared.ErrCloseTargetState)
	})
}

func TestCloseHoldsFiscalYearLock(t *testing.T) {
	b := newBooks(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locks := lock.NewRedis(client, time.Minute)
	svc := closing.NewService(b.f.Moves(), 0).WithLocker(locks)

	release, err := locks.Acquire(ctx, ledgershared.FiscalYearLockKey(b.input.FiscalYearID))
	require.NoError(t, err)

	_, err = svc.CloseFiscalYear(ctx, b.input)
	require.ErrorIs(t, err, shared.ErrCloseInProgress)

	require.NoError(t, release(ctx))
	_, err = svc.CloseFiscalYear(ctx, b.input)
	require.NoError(t, err)
	assert.False(t, mr.Exists(ledgershared.FiscalYearLockKey(b.input.FiscalYearID)))
}
