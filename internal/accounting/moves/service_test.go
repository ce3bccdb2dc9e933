package moves_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journalperiods"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

func ptr[T any](v T) *T { return &v }

func createMove(t *testing.T, svc *moves.Service, in moves.MoveInput) moves.MoveDetail {
	t.Helper()
	detail, err := svc.CreateMove(context.Background(), in)
	require.NoError(t, err)
	return detail
}

func states(lines []accounting.Line) []accounting.LineState {
	out := make([]accounting.LineState, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.State)
	}
	return out
}

func TestBalancedMoveIsValidAndPostable(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	may := f.Year2024.Month(time.May)

	detail := createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  may.ID,
		Lines:     lt.Lines(lt.Debit(f.Receivable, "100.00"), lt.Credit(f.Revenue, "100.00")),
	})

	assert.Equal(t, "GJ/0001", detail.Move.Name)
	assert.Equal(t, lt.Today, detail.Move.Date)
	assert.Equal(t, []accounting.LineState{accounting.LineStateValid, accounting.LineStateValid}, states(detail.Lines))

	require.NoError(t, svc.Post(ctx, []int64{detail.Move.ID}))
	posted, err := svc.GetMove(ctx, detail.Move.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.MoveStatePosted, posted.Move.State)
	assert.Equal(t, "2024/00001", posted.Move.Reference)
	require.NotNil(t, posted.Move.PostDate)
	assert.Equal(t, lt.Today, *posted.Move.PostDate)
}

func TestUnbalancedMoveStaysDraftAndPostWritesNothing(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	may := f.Year2024.Month(time.May)

	detail := createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  may.ID,
		Lines:     lt.Lines(lt.Debit(f.Receivable, "50.00")),
	})
	assert.Equal(t, []accounting.LineState{accounting.LineStateDraft}, states(detail.Lines))

	err := svc.Post(ctx, []int64{detail.Move.ID})
	require.ErrorIs(t, err, shared.ErrValidationFailed)
	require.ErrorIs(t, err, shared.ErrMoveUnbalanced)

	after, err := svc.GetMove(ctx, detail.Move.ID)
	require.NoError(t, err)
	assert.Equal(t, detail, after)

	balanced := f.Post(t, may, lt.Today, lt.Debit(f.Bank, "10"), lt.Credit(f.Revenue, "10"))
	assert.Equal(t, "2024/00001", balanced.Move.Reference, "rejected post must not consume a number")
}

func TestPostBatchIsAllOrNothing(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	may := f.Year2024.Month(time.May)

	good := createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  may.ID,
		Lines:     lt.Lines(lt.Debit(f.Bank, "20"), lt.Credit(f.Revenue, "20")),
	})
	bad := createMove(t, svc, moves.MoveInput{JournalID: f.General, PeriodID: may.ID})

	err := svc.Post(ctx, []int64{good.Move.ID, bad.Move.ID})
	require.ErrorIs(t, err, shared.ErrMoveEmpty)

	after, err := svc.GetMove(ctx, good.Move.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.MoveStateDraft, after.Move.State)
	assert.Empty(t, after.Move.Reference)
}

func TestPostRepeatedIDTakesOneNumber(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	may := f.Year2024.Month(time.May)
	detail := createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  may.ID,
		Lines:     lt.Lines(lt.Debit(f.Bank, "20"), lt.Credit(f.Revenue, "20")),
	})

	require.NoError(t, svc.Post(ctx, []int64{detail.Move.ID, detail.Move.ID}))

	posted, err := svc.GetMove(ctx, detail.Move.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024/00001", posted.Move.Reference)
	next := f.Post(t, may, lt.Today, lt.Debit(f.Bank, "3"), lt.Credit(f.Revenue, "3"))
	assert.Equal(t, "2024/00002", next.Move.Reference)
}

func TestPostRejectsPostedMove(t *testing.T) {
	f := lt.New(t)
	posted := f.Post(t, f.Year2024.Month(time.May), lt.Today, lt.Debit(f.Bank, "5"), lt.Credit(f.Revenue, "5"))

	err := f.Moves().Post(context.Background(), []int64{posted.Move.ID})

	require.ErrorIs(t, err, shared.ErrModificationBlocked)
}

func TestCreateMoveDefaultsAndChecks(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	jan := f.Year2024.Month(time.January)

	t.Run("date defaults to period start outside today", func(t *testing.T) {
		detail := createMove(t, svc, moves.MoveInput{JournalID: f.General, PeriodID: jan.ID})
		assert.Equal(t, jan.StartDate, detail.Move.Date)
	})

	t.Run("explicit name skips sequence", func(t *testing.T) {
		detail := createMove(t, svc, moves.MoveInput{Name: "manual", JournalID: f.General, PeriodID: jan.ID})
		assert.Equal(t, "manual", detail.Move.Name)
	})

	t.Run("date outside period", func(t *testing.T) {
		_, err := svc.CreateMove(ctx, moves.MoveInput{JournalID: f.General, PeriodID: jan.ID, Date: ptr(lt.Date(2024, 2, 1))})
		require.ErrorIs(t, err, shared.ErrMoveDate)
	})

	t.Run("journal without sequence", func(t *testing.T) {
		bare := f.Store.AddJournal(accounting.Journal{Name: "Bare", Type: accounting.JournalTypeGeneral})
		_, err := svc.CreateMove(ctx, moves.MoveInput{JournalID: bare, PeriodID: jan.ID})
		require.ErrorIs(t, err, shared.ErrJournalSequence)
	})

	t.Run("line with debit and credit", func(t *testing.T) {
		_, err := svc.CreateMove(ctx, moves.MoveInput{
			JournalID: f.General,
			PeriodID:  jan.ID,
			Lines: []moves.LineInput{{
				AccountID: f.Bank,
				Debit:     lt.Amount("1"),
				Credit:    lt.Amount("1"),
			}},
		})
		require.ErrorIs(t, err, shared.ErrLineAmounts)
	})

	t.Run("view account", func(t *testing.T) {
		_, err := svc.CreateMove(ctx, moves.MoveInput{
			JournalID: f.General,
			PeriodID:  jan.ID,
			Lines:     lt.Lines(lt.Debit(f.View, "1")),
		})
		require.ErrorIs(t, err, shared.ErrAccountType)
	})

	t.Run("accounts of two companies", func(t *testing.T) {
		other := f.Store.AddCompany(accounting.Company{Name: "Other", Currency: "EUR"})
		foreign := f.Store.AddAccount(accounting.Account{Code: "9", Type: accounting.AccountTypeAsset, CompanyID: other, Active: true})
		_, err := svc.CreateMove(ctx, moves.MoveInput{
			JournalID: f.General,
			PeriodID:  jan.ID,
			Lines:     lt.Lines(lt.Debit(f.Bank, "1"), lt.Credit(foreign, "1")),
		})
		require.ErrorIs(t, err, shared.ErrMoveCompany)
	})
}

func TestCentralisedJournalKeepsOneOpenMove(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	jan := f.Year2024.Month(time.January)

	first, err := svc.CreateLine(ctx, moves.LineInput{
		JournalID: f.Opening,
		PeriodID:  jan.ID,
		Name:      "bank",
		AccountID: f.Bank,
		Debit:     lt.Amount("100"),
		Credit:    decimal.Zero,
	})
	require.NoError(t, err)
	assert.Equal(t, accounting.LineStateValid, first.State)

	second, err := svc.CreateLine(ctx, moves.LineInput{
		JournalID: f.Opening,
		PeriodID:  jan.ID,
		Name:      "payables",
		AccountID: f.Payable,
		Debit:     decimal.Zero,
		Credit:    lt.Amount("30"),
	})
	require.NoError(t, err)
	assert.Equal(t, first.MoveID, second.MoveID)

	detail, err := svc.GetMove(ctx, first.MoveID)
	require.NoError(t, err)
	require.Len(t, detail.Lines, 3)
	require.NotNil(t, detail.Move.CentralisedLineID)
	var counterpart accounting.Line
	sum := decimal.Zero
	for _, l := range detail.Lines {
		sum = sum.Add(l.Net())
		assert.Equal(t, accounting.LineStateValid, l.State)
		if l.ID == *detail.Move.CentralisedLineID {
			counterpart = l
		}
	}
	assert.True(t, sum.IsZero())
	assert.Equal(t, moves.CounterpartName, counterpart.Name)
	assert.True(t, counterpart.Credit.Equal(lt.Amount("70")))
	assert.Equal(t, f.Equity, counterpart.AccountID)

	_, err = svc.CreateMove(ctx, moves.MoveInput{JournalID: f.Opening, PeriodID: jan.ID})
	require.ErrorIs(t, err, shared.ErrCentralisation)

	err = svc.RemoveLines(ctx, []int64{counterpart.ID})
	require.ErrorIs(t, err, shared.ErrCounterpartLine)
}

func TestCentralisedCounterpartSwitchesSide(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	jan := f.Year2024.Month(time.January)

	line, err := svc.CreateLine(ctx, moves.LineInput{
		JournalID: f.Opening,
		PeriodID:  jan.ID,
		AccountID: f.Payable,
		Debit:     decimal.Zero,
		Credit:    lt.Amount("40"),
	})
	require.NoError(t, err)

	detail, err := svc.GetMove(ctx, line.MoveID)
	require.NoError(t, err)
	for _, l := range detail.Lines {
		if l.ID == *detail.Move.CentralisedLineID {
			assert.True(t, l.Debit.Equal(lt.Amount("40")))
			assert.True(t, l.Credit.IsZero())
		}
	}
}

func TestPostedMoveBlocksLineWrites(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	posted := f.Post(t, f.Year2024.Month(time.May), lt.Today, lt.Debit(f.Bank, "5"), lt.Credit(f.Revenue, "5"))

	_, err := svc.UpdateLine(ctx, posted.Lines[0].ID, moves.LineUpdate{Name: ptr("renamed")})
	require.ErrorIs(t, err, shared.ErrMovePosted)

	err = svc.RemoveLines(ctx, []int64{posted.Lines[0].ID})
	require.ErrorIs(t, err, shared.ErrModificationBlocked)

	err = svc.DeleteMoves(ctx, []int64{posted.Move.ID})
	require.ErrorIs(t, err, shared.ErrMovePosted)

	err = svc.Draft(ctx, []int64{posted.Move.ID})
	require.ErrorIs(t, err, shared.ErrUpdatePosted)
}

func TestDraftRevertsCancellableJournal(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	may := f.Year2024.Month(time.May)
	detail := createMove(t, svc, moves.MoveInput{
		JournalID: f.Cancellable,
		PeriodID:  may.ID,
		Lines:     lt.Lines(lt.Debit(f.Bank, "5"), lt.Credit(f.Revenue, "5")),
	})
	require.NoError(t, svc.Post(ctx, []int64{detail.Move.ID}))

	require.NoError(t, svc.Draft(ctx, []int64{detail.Move.ID}))

	after, err := svc.GetMove(ctx, detail.Move.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.MoveStateDraft, after.Move.State)
	_, err = svc.UpdateLine(ctx, after.Lines[0].ID, moves.LineUpdate{Name: ptr("fixed")})
	require.NoError(t, err)
}

func TestDraftRepeatedIDRevertsOnce(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	detail := createMove(t, svc, moves.MoveInput{
		JournalID: f.Cancellable,
		PeriodID:  f.Year2024.Month(time.May).ID,
		Lines:     lt.Lines(lt.Debit(f.Bank, "5"), lt.Credit(f.Revenue, "5")),
	})
	require.NoError(t, svc.Post(ctx, []int64{detail.Move.ID}))

	require.NoError(t, svc.Draft(ctx, []int64{detail.Move.ID, detail.Move.ID}))

	after, err := svc.GetMove(ctx, detail.Move.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.MoveStateDraft, after.Move.State)
	assert.Equal(t, []accounting.LineState{accounting.LineStateValid, accounting.LineStateValid}, states(after.Lines))
}

func TestClosedJournalPeriodBlocksWrites(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	may := f.Year2024.Month(time.May)
	detail := createMove(t, svc, moves.MoveInput{JournalID: f.General, PeriodID: may.ID})

	_, err := journalperiods.NewService(f.Store).Close(ctx, f.General, may.ID)
	require.NoError(t, err)

	_, err = svc.CreateLine(ctx, moves.LineInput{MoveID: detail.Move.ID, AccountID: f.Bank, Debit: lt.Amount("1"), Credit: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrJournalPeriodClosed)
	require.ErrorIs(t, err, shared.ErrModificationBlocked)
}

func TestLineWithoutMoveNeedsJournalAndPeriod(t *testing.T) {
	f := lt.New(t)

	_, err := f.Moves().CreateLine(context.Background(), moves.LineInput{AccountID: f.Bank, Debit: lt.Amount("1"), Credit: decimal.Zero})

	require.ErrorIs(t, err, shared.ErrLineJournalRequired)
}

func TestLineDateWriteRedirectsToMove(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	may := f.Year2024.Month(time.May)
	detail := createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  may.ID,
		Lines:     lt.Lines(lt.Debit(f.Bank, "5"), lt.Credit(f.Revenue, "5")),
	})

	view, err := svc.UpdateLine(ctx, detail.Lines[0].ID, moves.LineUpdate{Date: ptr(lt.Date(2024, 5, 2))})
	require.NoError(t, err)
	assert.Equal(t, lt.Date(2024, 5, 2), view.Date())

	sibling, err := svc.GetLine(ctx, detail.Lines[1].ID)
	require.NoError(t, err)
	assert.Equal(t, lt.Date(2024, 5, 2), sibling.Date())
}

func TestRemovingLineUnbalancesMove(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	detail := createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  f.Year2024.Month(time.May).ID,
		Lines:     lt.Lines(lt.Debit(f.Bank, "5"), lt.Credit(f.Revenue, "5")),
	})

	require.NoError(t, svc.RemoveLines(ctx, []int64{detail.Lines[1].ID}))

	after, err := svc.GetMove(ctx, detail.Move.ID)
	require.NoError(t, err)
	assert.Equal(t, []accounting.LineState{accounting.LineStateDraft}, states(after.Lines))
}

func TestUpdateLineRebalances(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	detail := createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  f.Year2024.Month(time.May).ID,
		Lines:     lt.Lines(lt.Debit(f.Bank, "5"), lt.Credit(f.Revenue, "4")),
	})
	assert.Equal(t, []accounting.LineState{accounting.LineStateDraft, accounting.LineStateDraft}, states(detail.Lines))

	_, err := svc.UpdateLine(ctx, detail.Lines[1].ID, moves.LineUpdate{Credit: ptr(lt.Amount("5"))})
	require.NoError(t, err)

	after, err := svc.GetMove(ctx, detail.Move.ID)
	require.NoError(t, err)
	assert.Equal(t, []accounting.LineState{accounting.LineStateValid, accounting.LineStateValid}, states(after.Lines))
}

func TestDeleteDraftMove(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	detail := createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  f.Year2024.Month(time.May).ID,
		Lines:     lt.Lines(lt.Debit(f.Bank, "5"), lt.Credit(f.Revenue, "5")),
	})

	require.NoError(t, svc.DeleteMoves(ctx, []int64{detail.Move.ID}))

	_, err := svc.GetMove(ctx, detail.Move.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.GetLine(ctx, detail.Lines[0].ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCopyLineIntoAnotherPeriod(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	detail := createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  f.Year2024.Month(time.May).ID,
		Lines: []moves.LineInput{{
			Name:      "taxed",
			AccountID: f.Revenue,
			Debit:     decimal.Zero,
			Credit:    lt.Amount("12"),
			TaxLines:  []accounting.TaxLine{{CodeID: 1, Amount: lt.Amount("12")}},
		}},
	})
	june := f.Year2024.Month(time.June)

	copied, err := svc.CopyLine(ctx, detail.Lines[0].ID, moves.CopyOptions{
		JournalID:    f.General,
		PeriodID:     june.ID,
		DropTaxLines: true,
	})
	require.NoError(t, err)

	assert.NotEqual(t, detail.Move.ID, copied.MoveID)
	assert.Equal(t, june.ID, copied.Period())
	assert.Equal(t, "taxed", copied.Name)
	assert.True(t, copied.Credit.Equal(lt.Amount("12")))
	assert.Empty(t, copied.TaxLines)
	assert.Nil(t, copied.ReconciliationID)
}

func TestSuggestBalancingLine(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	general := createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  f.Year2024.Month(time.March).ID,
		Lines:     lt.Lines(lt.Debit(f.Receivable, "80").WithPartner(9)),
	})

	got, err := svc.SuggestBalancingLine(ctx, general.Move.ID)
	require.NoError(t, err)

	assert.False(t, got.Balanced)
	assert.True(t, got.Credit.Equal(lt.Amount("80")))
	assert.True(t, got.Debit.IsZero())
	require.NotNil(t, got.PartnerID)
	assert.Equal(t, int64(9), *got.PartnerID)
	assert.Equal(t, "line 1", got.Name)
}

func TestQueryFilterBranches(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	y2025 := f.AddYear(t, 2025)

	t.Run("date resolves its fiscal year", func(t *testing.T) {
		got, err := svc.QueryFilter(ctx, moves.FilterContext{Date: ptr(lt.Date(2025, 3, 3)), PeriodIDs: []int64{1}, PostedOnly: true})
		require.NoError(t, err)
		assert.Equal(t, accounting.ScopeDate, got.Scope)
		assert.Equal(t, []int64{y2025.FiscalYear.ID}, got.FiscalYearIDs)
		assert.Equal(t, lt.Date(2025, 3, 3), got.Date)
		assert.Nil(t, got.PeriodIDs)
		assert.True(t, got.PostedOnly)
	})

	t.Run("date outside fiscal years matches nothing", func(t *testing.T) {
		got, err := svc.QueryFilter(ctx, moves.FilterContext{Date: ptr(lt.Date(2030, 1, 1))})
		require.NoError(t, err)
		assert.Empty(t, got.FiscalYearIDs)
	})

	t.Run("periods", func(t *testing.T) {
		got, err := svc.QueryFilter(ctx, moves.FilterContext{PeriodIDs: []int64{3, 4}, FiscalYearID: 1})
		require.NoError(t, err)
		assert.Equal(t, accounting.ScopePeriods, got.Scope)
		assert.Equal(t, []int64{3, 4}, got.PeriodIDs)
		assert.Nil(t, got.FiscalYearIDs)
	})

	t.Run("explicit fiscal year", func(t *testing.T) {
		got, err := svc.QueryFilter(ctx, moves.FilterContext{FiscalYearID: y2025.FiscalYear.ID})
		require.NoError(t, err)
		assert.Equal(t, accounting.ScopeFiscalYears, got.Scope)
		assert.Equal(t, []int64{y2025.FiscalYear.ID}, got.FiscalYearIDs)
	})

	t.Run("open fiscal years by default", func(t *testing.T) {
		require.NoError(t, f.Periods.CloseFiscalYears(ctx, []int64{f.Year2024.FiscalYear.ID}))
		got, err := svc.QueryFilter(ctx, moves.FilterContext{})
		require.NoError(t, err)
		assert.Equal(t, accounting.ScopeFiscalYears, got.Scope)
		assert.Equal(t, []int64{y2025.FiscalYear.ID}, got.FiscalYearIDs)
	})
}

func TestFilterHidesDraftLines(t *testing.T) {
	f := lt.New(t)
	svc := f.Moves()
	ctx := context.Background()
	may := f.Year2024.Month(time.May)
	f.Post(t, may, lt.Today, lt.Debit(f.Bank, "30"), lt.Credit(f.Revenue, "30"))
	createMove(t, svc, moves.MoveInput{
		JournalID: f.General,
		PeriodID:  may.ID,
		Lines:     lt.Lines(lt.Debit(f.Bank, "7")),
	})
	filter, err := svc.QueryFilter(ctx, moves.FilterContext{})
	require.NoError(t, err)

	var balance decimal.Decimal
	err = f.Store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		balance, err = tx.AccountBalance(ctx, f.Bank, filter)
		return err
	})
	require.NoError(t, err)
	assert.True(t, balance.Equal(lt.Amount("30")), balance.String())
}
