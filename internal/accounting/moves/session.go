package moves

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journalperiods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Session runs move operations inside one transaction. It memoizes the
// journal-period gate and reference data for the lifetime of the batch.
type Session struct {
	svc       *Service
	tx        accounting.Tx
	gate      *journalperiods.Batch
	accounts  map[int64]accounting.Account
	journals  map[int64]accounting.Journal
	companies map[int64]accounting.Company
}

// Tx returns the transaction bound to the session.
func (ss *Session) Tx() accounting.Tx {
	return ss.tx
}

// Gate returns the journal-period gate cache of the batch.
func (ss *Session) Gate() *journalperiods.Batch {
	return ss.gate
}

func (ss *Session) account(ctx context.Context, id int64) (accounting.Account, error) {
	if a, ok := ss.accounts[id]; ok {
		return a, nil
	}
	a, err := ss.tx.GetAccount(ctx, id)
	if err != nil {
		return accounting.Account{}, err
	}
	ss.accounts[id] = a
	return a, nil
}

func (ss *Session) journal(ctx context.Context, id int64) (accounting.Journal, error) {
	if j, ok := ss.journals[id]; ok {
		return j, nil
	}
	j, err := ss.tx.GetJournal(ctx, id)
	if err != nil {
		return accounting.Journal{}, err
	}
	ss.journals[id] = j
	return j, nil
}

func (ss *Session) company(ctx context.Context, id int64) (accounting.Company, error) {
	if c, ok := ss.companies[id]; ok {
		return c, nil
	}
	c, err := ss.tx.GetCompany(ctx, id)
	if err != nil {
		return accounting.Company{}, err
	}
	ss.companies[id] = c
	return c, nil
}

func (ss *Session) openPeriod(ctx context.Context, id int64) (accounting.Period, error) {
	period, err := ss.tx.GetPeriod(ctx, id)
	if err != nil {
		return accounting.Period{}, err
	}
	if period.State == accounting.StateClose {
		return accounting.Period{}, fmt.Errorf("period %s: %w", period.Name, shared.ErrPeriodClosed)
	}
	return period, nil
}

// Detail loads a move with its lines.
func (ss *Session) Detail(ctx context.Context, moveID int64) (MoveDetail, error) {
	move, err := ss.tx.GetMove(ctx, moveID)
	if err != nil {
		return MoveDetail{}, err
	}
	lines, err := ss.tx.ListLines(ctx, accounting.LineQuery{MoveIDs: []int64{moveID}})
	if err != nil {
		return MoveDetail{}, err
	}
	return MoveDetail{Move: move, Lines: lines}, nil
}

// View loads a line with its parent move.
func (ss *Session) View(ctx context.Context, lineID int64) (accounting.LineView, error) {
	line, err := ss.tx.GetLine(ctx, lineID)
	if err != nil {
		return accounting.LineView{}, err
	}
	move, err := ss.tx.GetMove(ctx, line.MoveID)
	if err != nil {
		return accounting.LineView{}, err
	}
	return accounting.LineView{Line: line, Move: move}, nil
}

func (ss *Session) defaultDate(period accounting.Period, date *time.Time) time.Time {
	if date != nil {
		return accounting.Day(*date)
	}
	today := ss.svc.Today()
	if period.Contains(today) {
		return today
	}
	return period.StartDate
}

// checkCentralisation rejects a second non-posted move of a centralised
// journal in the same period.
func (ss *Session) checkCentralisation(ctx context.Context, journal accounting.Journal, periodID, excludeID int64) error {
	if !journal.Centralised {
		return nil
	}
	open, err := ss.tx.ListMoves(ctx, accounting.MoveQuery{
		PeriodIDs: []int64{periodID},
		JournalID: journal.ID,
		NotState:  accounting.MoveStatePosted,
	})
	if err != nil {
		return err
	}
	for _, m := range open {
		if m.ID != excludeID {
			return fmt.Errorf("journal %s: %w", journal.Name, shared.ErrCentralisation)
		}
	}
	return nil
}

// CreateMove inserts a draft move. Centralised journals get their
// counterpart line straight away; inline lines are validated once.
func (ss *Session) CreateMove(ctx context.Context, in MoveInput) (accounting.Move, error) {
	journal, err := ss.journal(ctx, in.JournalID)
	if err != nil {
		return accounting.Move{}, err
	}
	period, err := ss.openPeriod(ctx, in.PeriodID)
	if err != nil {
		return accounting.Move{}, err
	}
	move := accounting.Move{
		Name:      in.Name,
		PeriodID:  period.ID,
		JournalID: journal.ID,
		Date:      ss.defaultDate(period, in.Date),
		State:     accounting.MoveStateDraft,
	}
	if !period.Contains(move.Date) {
		return accounting.Move{}, fmt.Errorf("%s not in %s: %w", move.Date.Format(time.DateOnly), period.Name, shared.ErrMoveDate)
	}
	if err := ss.checkCentralisation(ctx, journal, period.ID, 0); err != nil {
		return accounting.Move{}, err
	}
	if move.Name == "" {
		if journal.SequenceID == 0 {
			return accounting.Move{}, fmt.Errorf("journal %s: %w", journal.Name, shared.ErrJournalSequence)
		}
		if move.Name, err = ss.tx.NextValue(ctx, journal.SequenceID); err != nil {
			return accounting.Move{}, fmt.Errorf("moves: journal sequence: %w", err)
		}
	}
	if err := ss.tx.InsertMove(ctx, &move); err != nil {
		return accounting.Move{}, fmt.Errorf("moves: insert: %w", err)
	}
	if journal.Centralised {
		if err := ss.gate.EnsureOpenForWrite(ctx, ss.tx, journal.ID, period.ID); err != nil {
			return accounting.Move{}, err
		}
		if _, err := ss.insertCounterpart(ctx, &move, journal, decimal.Zero); err != nil {
			return accounting.Move{}, err
		}
	}
	if len(in.Lines) == 0 {
		return move, nil
	}
	if _, err := ss.InsertLines(ctx, move, in.Lines); err != nil {
		return accounting.Move{}, err
	}
	return move, nil
}

func (ss *Session) insertCounterpart(ctx context.Context, move *accounting.Move, journal accounting.Journal, net decimal.Decimal) (accounting.Line, error) {
	if journal.DebitAccountID == nil || journal.CreditAccountID == nil {
		return accounting.Line{}, fmt.Errorf("journal %s: %w", journal.Name, shared.ErrCentralisedAccounts)
	}
	line := accounting.Line{
		MoveID:    move.ID,
		Name:      CounterpartName,
		AccountID: *journal.CreditAccountID,
		Debit:     decimal.Zero,
		Credit:    decimal.Zero,
		State:     accounting.LineStateDraft,
		Active:    true,
	}
	setCounterpart(&line, journal, net)
	if err := ss.tx.InsertLine(ctx, &line); err != nil {
		return accounting.Line{}, fmt.Errorf("moves: insert counterpart: %w", err)
	}
	move.CentralisedLineID = &line.ID
	if err := ss.tx.UpdateMove(ctx, *move); err != nil {
		return accounting.Line{}, fmt.Errorf("moves: link counterpart: %w", err)
	}
	return line, nil
}

// setCounterpart books net on the debit account when positive and on the
// credit account otherwise.
func setCounterpart(line *accounting.Line, journal accounting.Journal, net decimal.Decimal) {
	if net.IsPositive() {
		line.Debit, line.Credit = net, decimal.Zero
		line.AccountID = *journal.DebitAccountID
		return
	}
	line.Debit, line.Credit = decimal.Zero, net.Neg()
	line.AccountID = *journal.CreditAccountID
}

// OpenMove returns the move a line without move lands in: the open move of
// a centralised journal when there is one, a new move otherwise.
func (ss *Session) OpenMove(ctx context.Context, journalID, periodID int64, date *time.Time) (accounting.Move, error) {
	if journalID == 0 || periodID == 0 {
		return accounting.Move{}, shared.ErrLineJournalRequired
	}
	journal, err := ss.journal(ctx, journalID)
	if err != nil {
		return accounting.Move{}, err
	}
	if journal.Centralised {
		open, err := ss.tx.ListMoves(ctx, accounting.MoveQuery{
			PeriodIDs: []int64{periodID},
			JournalID: journalID,
			NotState:  accounting.MoveStatePosted,
		})
		if err != nil {
			return accounting.Move{}, err
		}
		if len(open) > 0 {
			move := open[0]
			if date != nil && !accounting.Day(*date).Equal(move.Date) {
				if err := ss.UpdateMove(ctx, move.ID, MoveUpdate{Date: date}); err != nil {
					return accounting.Move{}, err
				}
				return ss.tx.GetMove(ctx, move.ID)
			}
			return move, nil
		}
	}
	return ss.CreateMove(ctx, MoveInput{JournalID: journalID, PeriodID: periodID, Date: date})
}

// checkLine enforces the amount and account rules of a line.
func (ss *Session) checkLine(ctx context.Context, line accounting.Line) error {
	if line.Debit.IsNegative() || line.Credit.IsNegative() || (!line.Debit.IsZero() && !line.Credit.IsZero()) {
		return fmt.Errorf("line %q: %w", line.Name, shared.ErrLineAmounts)
	}
	account, err := ss.account(ctx, line.AccountID)
	if err != nil {
		return err
	}
	if account.Type == accounting.AccountTypeView || account.Type == accounting.AccountTypeClosed {
		return fmt.Errorf("account %s: %w", account.Code, shared.ErrAccountType)
	}
	if !account.Active {
		return fmt.Errorf("account %s: %w", account.Code, shared.ErrAccountInactive)
	}
	return nil
}

// checkWritable guards any line write into move.
func (ss *Session) checkWritable(ctx context.Context, move accounting.Move) error {
	if err := ss.gate.EnsureOpenForWrite(ctx, ss.tx, move.JournalID, move.PeriodID); err != nil {
		return err
	}
	if move.State == accounting.MoveStatePosted {
		return fmt.Errorf("move %s: %w", move.Name, shared.ErrMovePosted)
	}
	_, err := ss.openPeriod(ctx, move.PeriodID)
	return err
}

// checkModify guards updates and deletions of an existing line.
func (ss *Session) checkModify(ctx context.Context, line accounting.Line, move accounting.Move) error {
	if err := ss.checkWritable(ctx, move); err != nil {
		return err
	}
	if line.ReconciliationID != nil {
		return fmt.Errorf("line %d: %w", line.ID, shared.ErrLineReconciled)
	}
	return nil
}

func lineFromInput(moveID int64, in LineInput) accounting.Line {
	return accounting.Line{
		MoveID:               moveID,
		Name:                 in.Name,
		Reference:            in.Reference,
		Debit:                in.Debit,
		Credit:               in.Credit,
		AccountID:            in.AccountID,
		PartnerID:            in.PartnerID,
		MaturityDate:         in.MaturityDate,
		SecondCurrency:       in.SecondCurrency,
		AmountSecondCurrency: in.AmountSecondCurrency,
		Blocked:              in.Blocked,
		State:                accounting.LineStateDraft,
		Active:               true,
		TaxLines:             slices.Clone(in.TaxLines),
	}
}

// InsertLines adds lines to move and validates it once afterwards.
func (ss *Session) InsertLines(ctx context.Context, move accounting.Move, ins []LineInput) ([]accounting.Line, error) {
	if err := ss.checkWritable(ctx, move); err != nil {
		return nil, err
	}
	out := make([]accounting.Line, 0, len(ins))
	for _, in := range ins {
		line := lineFromInput(move.ID, in)
		if err := ss.checkLine(ctx, line); err != nil {
			return nil, err
		}
		if line.TaxLines == nil && !in.SkipTaxCodes && ss.svc.taxes != nil {
			codes, err := ss.taxCodes(ctx, move, line)
			if err != nil {
				return nil, err
			}
			line.TaxLines = codes
		}
		if err := ss.tx.InsertLine(ctx, &line); err != nil {
			return nil, fmt.Errorf("moves: insert line: %w", err)
		}
		out = append(out, line)
	}
	if err := ss.Validate(ctx, []int64{move.ID}); err != nil {
		return nil, err
	}
	return out, nil
}

func (ss *Session) taxCodes(ctx context.Context, move accounting.Move, line accounting.Line) ([]accounting.TaxLine, error) {
	journal, err := ss.journal(ctx, move.JournalID)
	if err != nil {
		return nil, err
	}
	account, err := ss.account(ctx, line.AccountID)
	if err != nil {
		return nil, err
	}
	company, err := ss.company(ctx, account.CompanyID)
	if err != nil {
		return nil, err
	}
	return ss.svc.taxes.CodeLines(ctx, journal, account, company.Currency, line.Debit, line.Credit)
}

// CreateLine adds one line, creating or reusing its move when MoveID is unset.
func (ss *Session) CreateLine(ctx context.Context, in LineInput) (accounting.Line, error) {
	var (
		move accounting.Move
		err  error
	)
	if in.MoveID == 0 {
		move, err = ss.OpenMove(ctx, in.JournalID, in.PeriodID, in.Date)
		if err != nil {
			return accounting.Line{}, err
		}
	} else {
		if move, err = ss.tx.GetMove(ctx, in.MoveID); err != nil {
			return accounting.Line{}, err
		}
		upd := redirect(move, in.JournalID, in.PeriodID, in.Date)
		if upd != nil {
			if err := ss.UpdateMove(ctx, move.ID, *upd); err != nil {
				return accounting.Line{}, err
			}
			if move, err = ss.tx.GetMove(ctx, move.ID); err != nil {
				return accounting.Line{}, err
			}
		}
	}
	lines, err := ss.InsertLines(ctx, move, []LineInput{in})
	if err != nil {
		return accounting.Line{}, err
	}
	return ss.tx.GetLine(ctx, lines[0].ID)
}

// redirect builds the move update for journal, period and date written
// through a line, or nil when nothing changes.
func redirect(move accounting.Move, journalID, periodID int64, date *time.Time) *MoveUpdate {
	var upd MoveUpdate
	changed := false
	if journalID != 0 && journalID != move.JournalID {
		upd.JournalID = &journalID
		changed = true
	}
	if periodID != 0 && periodID != move.PeriodID {
		upd.PeriodID = &periodID
		changed = true
	}
	if date != nil && !accounting.Day(*date).Equal(move.Date) {
		d := accounting.Day(*date)
		upd.Date = &d
		changed = true
	}
	if !changed {
		return nil
	}
	return &upd
}

// UpdateLine applies upd to a line. Journal, period and date go to the
// parent move and so affect every sibling line.
func (ss *Session) UpdateLine(ctx context.Context, id int64, upd LineUpdate) error {
	line, err := ss.tx.GetLine(ctx, id)
	if err != nil {
		return err
	}
	move, err := ss.tx.GetMove(ctx, line.MoveID)
	if err != nil {
		return err
	}
	if err := ss.checkModify(ctx, line, move); err != nil {
		return err
	}
	oldMoveID := line.MoveID
	if upd.MoveID != nil && *upd.MoveID != line.MoveID {
		if move, err = ss.tx.GetMove(ctx, *upd.MoveID); err != nil {
			return err
		}
		if err := ss.checkWritable(ctx, move); err != nil {
			return err
		}
		line.MoveID = move.ID
	}
	applyLineUpdate(&line, upd)
	if err := ss.checkLine(ctx, line); err != nil {
		return err
	}
	if err := ss.tx.UpdateLine(ctx, line); err != nil {
		return fmt.Errorf("moves: update line: %w", err)
	}
	var journalID, periodID int64
	if upd.JournalID != nil {
		journalID = *upd.JournalID
	}
	if upd.PeriodID != nil {
		periodID = *upd.PeriodID
	}
	if mu := redirect(move, journalID, periodID, upd.Date); mu != nil {
		if err := ss.UpdateMove(ctx, move.ID, *mu); err != nil {
			return err
		}
	}
	return ss.Validate(ctx, []int64{oldMoveID, line.MoveID})
}

func applyLineUpdate(line *accounting.Line, upd LineUpdate) {
	if upd.Name != nil {
		line.Name = *upd.Name
	}
	if upd.Reference != nil {
		line.Reference = *upd.Reference
	}
	if upd.Debit != nil {
		line.Debit = *upd.Debit
	}
	if upd.Credit != nil {
		line.Credit = *upd.Credit
	}
	if upd.AccountID != nil {
		line.AccountID = *upd.AccountID
	}
	if upd.PartnerID != nil {
		line.PartnerID = upd.PartnerID
	}
	if upd.MaturityDate != nil {
		d := accounting.Day(*upd.MaturityDate)
		line.MaturityDate = &d
	}
	if upd.SecondCurrency != nil {
		line.SecondCurrency = *upd.SecondCurrency
	}
	if upd.AmountSecondCurrency != nil {
		line.AmountSecondCurrency = upd.AmountSecondCurrency
	}
	if upd.Blocked != nil {
		line.Blocked = *upd.Blocked
	}
	if upd.TaxLines != nil {
		line.TaxLines = slices.Clone(*upd.TaxLines)
	}
}

// RemoveLines deletes lines and revalidates the moves they belonged to. A
// centralised counterpart only goes together with every other line of its
// move.
func (ss *Session) RemoveLines(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	lines, err := ss.tx.ListLines(ctx, accounting.LineQuery{IDs: ids})
	if err != nil {
		return err
	}
	if len(lines) != len(slices.Compact(slices.Sorted(slices.Values(ids)))) {
		return fmt.Errorf("move lines %v: %w", ids, shared.ErrRecordNotFound)
	}
	moveIDs := make([]int64, 0, len(lines))
	for _, line := range lines {
		move, err := ss.tx.GetMove(ctx, line.MoveID)
		if err != nil {
			return err
		}
		if err := ss.checkModify(ctx, line, move); err != nil {
			return err
		}
		if move.CentralisedLineID != nil && *move.CentralisedLineID == line.ID {
			siblings, err := ss.tx.ListLines(ctx, accounting.LineQuery{MoveIDs: []int64{move.ID}})
			if err != nil {
				return err
			}
			for _, s := range siblings {
				if !slices.Contains(ids, s.ID) {
					return fmt.Errorf("move %s: %w", move.Name, shared.ErrCounterpartLine)
				}
			}
		}
		if !slices.Contains(moveIDs, move.ID) {
			moveIDs = append(moveIDs, move.ID)
		}
	}
	if err := ss.tx.DeleteLines(ctx, ids); err != nil {
		return fmt.Errorf("moves: delete lines: %w", err)
	}
	return ss.Validate(ctx, moveIDs)
}

// CopyLine duplicates a line. Without target move, journal or period the
// copy lands in the source move.
func (ss *Session) CopyLine(ctx context.Context, id int64, opts CopyOptions) (accounting.Line, error) {
	src, err := ss.View(ctx, id)
	if err != nil {
		return accounting.Line{}, err
	}
	in := LineInput{
		MoveID:               opts.MoveID,
		JournalID:            opts.JournalID,
		PeriodID:             opts.PeriodID,
		Date:                 opts.Date,
		Name:                 src.Name,
		Reference:            src.Reference,
		Debit:                src.Debit,
		Credit:               src.Credit,
		AccountID:            src.AccountID,
		PartnerID:            src.PartnerID,
		MaturityDate:         src.MaturityDate,
		SecondCurrency:       src.SecondCurrency,
		AmountSecondCurrency: src.AmountSecondCurrency,
		Blocked:              src.Blocked,
	}
	if opts.Name != "" {
		in.Name = opts.Name
	}
	if opts.DropTaxLines {
		in.SkipTaxCodes = true
	} else {
		in.TaxLines = src.TaxLines
	}
	if in.MoveID == 0 && in.JournalID == 0 && in.PeriodID == 0 {
		in.MoveID = src.MoveID
	}
	if in.MoveID == 0 {
		if in.JournalID == 0 {
			in.JournalID = src.Journal()
		}
		if in.PeriodID == 0 {
			in.PeriodID = src.Period()
		}
	}
	return ss.CreateLine(ctx, in)
}

// UpdateMove changes a draft move. Period and journal changes pass the gate
// of both the old and the new pair.
func (ss *Session) UpdateMove(ctx context.Context, id int64, upd MoveUpdate) error {
	move, err := ss.tx.GetMove(ctx, id)
	if err != nil {
		return err
	}
	if move.State == accounting.MoveStatePosted {
		return fmt.Errorf("move %s: %w", move.Name, shared.ErrMovePosted)
	}
	moved := upd.JournalID != nil || upd.PeriodID != nil || upd.Date != nil
	if moved {
		if err := ss.gate.EnsureOpenForWrite(ctx, ss.tx, move.JournalID, move.PeriodID); err != nil {
			return err
		}
		lines, err := ss.tx.ListLines(ctx, accounting.LineQuery{MoveIDs: []int64{id}})
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.ReconciliationID != nil {
				return fmt.Errorf("line %d: %w", l.ID, shared.ErrLineReconciled)
			}
		}
	}
	if upd.Name != nil {
		move.Name = *upd.Name
	}
	if upd.JournalID != nil {
		move.JournalID = *upd.JournalID
	}
	if upd.PeriodID != nil {
		move.PeriodID = *upd.PeriodID
	}
	if upd.Date != nil {
		move.Date = accounting.Day(*upd.Date)
	}
	period, err := ss.openPeriod(ctx, move.PeriodID)
	if err != nil {
		return err
	}
	if !period.Contains(move.Date) {
		return fmt.Errorf("%s not in %s: %w", move.Date.Format(time.DateOnly), period.Name, shared.ErrMoveDate)
	}
	if moved {
		journal, err := ss.journal(ctx, move.JournalID)
		if err != nil {
			return err
		}
		if err := ss.gate.EnsureOpenForWrite(ctx, ss.tx, move.JournalID, move.PeriodID); err != nil {
			return err
		}
		if err := ss.checkCentralisation(ctx, journal, move.PeriodID, move.ID); err != nil {
			return err
		}
	}
	if err := ss.tx.UpdateMove(ctx, move); err != nil {
		return fmt.Errorf("moves: update: %w", err)
	}
	return ss.Validate(ctx, []int64{id})
}

// DeleteMoves removes draft moves with their lines.
func (ss *Session) DeleteMoves(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		move, err := ss.tx.GetMove(ctx, id)
		if err != nil {
			return err
		}
		if move.State == accounting.MoveStatePosted {
			return fmt.Errorf("move %s: %w", move.Name, shared.ErrMovePosted)
		}
		lines, err := ss.tx.ListLines(ctx, accounting.LineQuery{MoveIDs: []int64{id}})
		if err != nil {
			return err
		}
		lineIDs := make([]int64, 0, len(lines))
		for _, line := range lines {
			if err := ss.checkModify(ctx, line, move); err != nil {
				return err
			}
			lineIDs = append(lineIDs, line.ID)
		}
		if err := ss.tx.DeleteLines(ctx, lineIDs); err != nil {
			return fmt.Errorf("moves: delete lines: %w", err)
		}
		if err := ss.tx.DeleteMove(ctx, id); err != nil {
			return fmt.Errorf("moves: delete: %w", err)
		}
	}
	return nil
}

// moveCurrency checks that every line of the move uses accounts of one
// company, taken from the first line, and returns that company currency.
func (ss *Session) moveCurrency(ctx context.Context, move accounting.Move, lines []accounting.Line) (string, error) {
	var companyID int64
	for i, line := range lines {
		account, err := ss.account(ctx, line.AccountID)
		if err != nil {
			return "", err
		}
		if i == 0 {
			companyID = account.CompanyID
			continue
		}
		if account.CompanyID != companyID {
			return "", fmt.Errorf("move %s: %w", move.Name, shared.ErrMoveCompany)
		}
	}
	company, err := ss.company(ctx, companyID)
	if err != nil {
		return "", err
	}
	return company.Currency, nil
}

func total(lines []accounting.Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Net())
	}
	return sum
}

// Validate recomputes the line states of each move from its balance.
// Centralised moves are balanced through their counterpart line.
func (ss *Session) Validate(ctx context.Context, moveIDs []int64) error {
	seen := make(map[int64]struct{}, len(moveIDs))
	for _, id := range moveIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if err := ss.validate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (ss *Session) validate(ctx context.Context, moveID int64) error {
	move, err := ss.tx.GetMove(ctx, moveID)
	if err != nil {
		return err
	}
	lines, err := ss.tx.ListLines(ctx, accounting.LineQuery{MoveIDs: []int64{moveID}})
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	currency, err := ss.moveCurrency(ctx, move, lines)
	if err != nil {
		return err
	}
	journal, err := ss.journal(ctx, move.JournalID)
	if err != nil {
		return err
	}
	amount := total(lines)
	if !ss.svc.currency.IsZero(currency, amount) {
		if !journal.Centralised {
			var valid []int64
			for _, l := range lines {
				if l.State != accounting.LineStateDraft {
					valid = append(valid, l.ID)
				}
			}
			if len(valid) == 0 {
				return nil
			}
			return ss.tx.SetLineState(ctx, valid, accounting.LineStateDraft)
		}
		if err := ss.balanceCounterpart(ctx, &move, journal, lines, amount); err != nil {
			return err
		}
		if lines, err = ss.tx.ListLines(ctx, accounting.LineQuery{MoveIDs: []int64{moveID}}); err != nil {
			return err
		}
	}
	var drafts []int64
	for _, l := range lines {
		if l.State == accounting.LineStateDraft {
			drafts = append(drafts, l.ID)
		}
	}
	if len(drafts) == 0 {
		return nil
	}
	return ss.tx.SetLineState(ctx, drafts, accounting.LineStateValid)
}

// balanceCounterpart moves the imbalance onto the counterpart line,
// creating it when the move lost it.
func (ss *Session) balanceCounterpart(ctx context.Context, move *accounting.Move, journal accounting.Journal, lines []accounting.Line, amount decimal.Decimal) error {
	if journal.DebitAccountID == nil || journal.CreditAccountID == nil {
		return fmt.Errorf("journal %s: %w", journal.Name, shared.ErrCentralisedAccounts)
	}
	idx := -1
	if move.CentralisedLineID != nil {
		idx = slices.IndexFunc(lines, func(l accounting.Line) bool { return l.ID == *move.CentralisedLineID })
	}
	if idx < 0 {
		_, err := ss.insertCounterpart(ctx, move, journal, amount.Neg())
		return err
	}
	counterpart := lines[idx]
	setCounterpart(&counterpart, journal, counterpart.Net().Sub(amount))
	if err := ss.tx.UpdateLine(ctx, counterpart); err != nil {
		return fmt.Errorf("moves: update counterpart: %w", err)
	}
	return nil
}

// Post checks every move first and only then numbers and posts them, so a
// rejected batch writes nothing.
func (ss *Session) Post(ctx context.Context, moveIDs []int64) error {
	type pending struct {
		move   accounting.Move
		period accounting.Period
		lines  []int64
	}
	batch := make([]pending, 0, len(moveIDs))
	seen := make(map[int64]struct{}, len(moveIDs))
	for _, id := range moveIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		move, err := ss.tx.GetMove(ctx, id)
		if err != nil {
			return err
		}
		if move.State == accounting.MoveStatePosted {
			return fmt.Errorf("move %s: %w", move.Name, shared.ErrMovePosted)
		}
		lines, err := ss.tx.ListLines(ctx, accounting.LineQuery{MoveIDs: []int64{id}})
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("move %s: %w", move.Name, shared.ErrMoveEmpty)
		}
		currency, err := ss.moveCurrency(ctx, move, lines)
		if err != nil {
			return err
		}
		if !ss.svc.currency.IsZero(currency, total(lines)) {
			return fmt.Errorf("move %s: %w", move.Name, shared.ErrMoveUnbalanced)
		}
		period, err := ss.openPeriod(ctx, move.PeriodID)
		if err != nil {
			return err
		}
		if period.PostMoveSequenceID == 0 {
			return fmt.Errorf("period %s: %w", period.Name, shared.ErrPeriodSequence)
		}
		ids := make([]int64, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.ID)
		}
		batch = append(batch, pending{move: move, period: period, lines: ids})
	}
	today := ss.svc.Today()
	for _, p := range batch {
		ref, err := ss.tx.NextValue(ctx, p.period.PostMoveSequenceID)
		if err != nil {
			return fmt.Errorf("moves: post sequence: %w", err)
		}
		p.move.Reference = ref
		p.move.State = accounting.MoveStatePosted
		p.move.PostDate = &today
		if err := ss.tx.UpdateMove(ctx, p.move); err != nil {
			return fmt.Errorf("moves: post: %w", err)
		}
		if err := ss.tx.SetLineState(ctx, p.lines, accounting.LineStateValid); err != nil {
			return err
		}
	}
	return nil
}

// Draft reverts posted moves whose journal allows cancelling entries.
func (ss *Session) Draft(ctx context.Context, moveIDs []int64) error {
	moves := make([]accounting.Move, 0, len(moveIDs))
	seen := make(map[int64]struct{}, len(moveIDs))
	for _, id := range moveIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		move, err := ss.tx.GetMove(ctx, id)
		if err != nil {
			return err
		}
		journal, err := ss.journal(ctx, move.JournalID)
		if err != nil {
			return err
		}
		if !journal.UpdatePosted {
			return fmt.Errorf("journal %s: %w", journal.Name, shared.ErrUpdatePosted)
		}
		if _, err := ss.openPeriod(ctx, move.PeriodID); err != nil {
			return err
		}
		moves = append(moves, move)
	}
	for _, move := range moves {
		move.State = accounting.MoveStateDraft
		if err := ss.tx.UpdateMove(ctx, move); err != nil {
			return fmt.Errorf("moves: draft: %w", err)
		}
	}
	return ss.Validate(ctx, moveIDs)
}
