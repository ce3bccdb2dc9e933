package moves

import (
	"context"

	"github.com/shopspring/decimal"
)

// Suggestion pre-fills the next line of a move so that it balances.
type Suggestion struct {
	MoveID    int64
	Name      string
	Reference string
	PartnerID *int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Balanced  bool
}

// SuggestBalancingLine proposes the line that clears the move balance on the
// journal default account. Name, reference and partner come from the first
// lines that carry one.
func (ss *Session) SuggestBalancingLine(ctx context.Context, moveID int64) (Suggestion, error) {
	detail, err := ss.Detail(ctx, moveID)
	if err != nil {
		return Suggestion{}, err
	}
	out := Suggestion{MoveID: moveID, Debit: decimal.Zero, Credit: decimal.Zero}
	for _, l := range detail.Lines {
		if out.Name == "" {
			out.Name = l.Name
		}
		if out.Reference == "" {
			out.Reference = l.Reference
		}
		if out.PartnerID == nil && l.PartnerID != nil {
			out.PartnerID = l.PartnerID
		}
	}
	if len(detail.Lines) == 0 {
		out.Balanced = true
		return out, nil
	}
	currency, err := ss.moveCurrency(ctx, detail.Move, detail.Lines)
	if err != nil {
		return Suggestion{}, err
	}
	amount := total(detail.Lines)
	if ss.svc.currency.IsZero(currency, amount) {
		out.Balanced = true
		return out, nil
	}
	journal, err := ss.journal(ctx, detail.Move.JournalID)
	if err != nil {
		return Suggestion{}, err
	}
	if amount.IsPositive() {
		out.Credit = amount
		if journal.CreditAccountID != nil {
			out.AccountID = *journal.CreditAccountID
		}
	} else {
		out.Debit = amount.Neg()
		if journal.DebitAccountID != nil {
			out.AccountID = *journal.DebitAccountID
		}
	}
	return out, nil
}
