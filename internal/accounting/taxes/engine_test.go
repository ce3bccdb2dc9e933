package taxes_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/taxes"
)

func ptr[T any](v T) *T { return &v }

func vat(f *lt.Fixture) int64 {
	return f.Store.AddTax(accounting.Tax{
		Name:              "VAT 21%",
		Rate:              lt.Amount("0.21"),
		InvoiceBaseCodeID: ptr(int64(10)),
		InvoiceBaseSign:   decimal.NewFromInt(1),
		InvoiceTaxCodeID:  ptr(int64(11)),
		InvoiceTaxSign:    decimal.NewFromInt(1),
		RefundBaseCodeID:  ptr(int64(20)),
		RefundBaseSign:    decimal.NewFromInt(-1),
		RefundTaxCodeID:   ptr(int64(21)),
		RefundTaxSign:     decimal.NewFromInt(-1),
	})
}

func TestComputePercentage(t *testing.T) {
	f := lt.New(t)
	id := vat(f)

	got, err := taxes.NewEngine(f.Store).Compute(context.Background(), []int64{id}, lt.Amount("50"), lt.Amount("2"))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.True(t, got[0].Base.Equal(lt.Amount("100")))
	assert.True(t, got[0].Amount.Equal(lt.Amount("21")))
	assert.Equal(t, "VAT 21%", got[0].Tax.Name)
}

func TestComputeUnknownTax(t *testing.T) {
	f := lt.New(t)

	_, err := taxes.NewEngine(f.Store).Compute(context.Background(), []int64{404}, lt.Amount("1"), lt.Amount("1"))

	require.Error(t, err)
}

func TestCodeLines(t *testing.T) {
	f := lt.New(t)
	ctx := context.Background()
	s := taxes.NewSuggester(taxes.NewEngine(f.Store), f.Currency)
	account := accounting.Account{TaxIDs: []int64{vat(f)}}
	sales := accounting.Journal{Type: accounting.JournalTypeRevenue}

	t.Run("invoice side", func(t *testing.T) {
		got, err := s.CodeLines(ctx, sales, account, "EUR", decimal.Zero, lt.Amount("10.05"))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(10), got[0].CodeID)
		assert.True(t, got[0].Amount.Equal(lt.Amount("10.05")))
		assert.Equal(t, int64(11), got[1].CodeID)
		assert.True(t, got[1].Amount.Equal(lt.Amount("2.11")), got[1].Amount.String())
	})

	t.Run("refund side", func(t *testing.T) {
		got, err := s.CodeLines(ctx, sales, account, "EUR", lt.Amount("10"), decimal.Zero)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(20), got[0].CodeID)
		assert.True(t, got[0].Amount.Equal(lt.Amount("-10")))
	})

	t.Run("general journal", func(t *testing.T) {
		got, err := s.CodeLines(ctx, accounting.Journal{Type: accounting.JournalTypeGeneral}, account, "EUR", lt.Amount("10"), decimal.Zero)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestMoveLinesGetTaxCodes(t *testing.T) {
	f := lt.New(t)
	ctx := context.Background()
	taxed := f.Store.AddAccount(accounting.Account{
		Code:      "4010",
		Type:      accounting.AccountTypeRevenue,
		CompanyID: f.CompanyID,
		Active:    true,
		TaxIDs:    []int64{vat(f)},
	})
	journal := f.Store.AddJournal(accounting.Journal{Name: "Sales", Type: accounting.JournalTypeRevenue, SequenceID: f.JournalSeqID})
	svc := f.Moves().WithTaxCodes(taxes.NewSuggester(taxes.NewEngine(f.Store), f.Currency))

	detail, err := svc.CreateMove(ctx, moves.MoveInput{
		JournalID: journal,
		PeriodID:  f.Year2024.Month(time.May).ID,
		Lines:     lt.Lines(lt.Debit(f.Receivable, "121"), lt.Credit(taxed, "100"), lt.Credit(f.Payable, "21")),
	})
	require.NoError(t, err)

	assert.Empty(t, detail.Lines[0].TaxLines)
	require.Len(t, detail.Lines[1].TaxLines, 2)
	assert.True(t, detail.Lines[1].TaxLines[1].Amount.Equal(lt.Amount("21")))

	copied, err := svc.CopyLine(ctx, detail.Lines[1].ID, moves.CopyOptions{DropTaxLines: true})
	require.NoError(t, err)
	assert.Empty(t, copied.TaxLines)
}
