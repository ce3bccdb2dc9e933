package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

const moveColumns = `id, name, reference, period_id, journal_id, date, post_date, state, centralised_line_id`

func scanMove(row pgx.CollectableRow) (accounting.Move, error) {
	var m accounting.Move
	err := row.Scan(&m.ID, &m.Name, &m.Reference, &m.PeriodID, &m.JournalID, &m.Date, &m.PostDate, &m.State, &m.CentralisedLineID)
	return m, err
}

func (t *txStore) GetMove(ctx context.Context, id int64) (accounting.Move, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+moveColumns+` FROM ledger_moves WHERE id=$1`, id)
	if err != nil {
		return accounting.Move{}, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMove)
	if err != nil {
		return accounting.Move{}, notFound(err, "move", id)
	}
	return m, nil
}

func (t *txStore) ListMoves(ctx context.Context, q accounting.MoveQuery) ([]accounting.Move, error) {
	var w where
	if len(q.PeriodIDs) > 0 {
		w.add("period_id = ANY($%d)", q.PeriodIDs)
	}
	if q.JournalID != 0 {
		w.add("journal_id = $%d", q.JournalID)
	}
	if q.State != "" {
		w.add("state = $%d", q.State)
	}
	if q.NotState != "" {
		w.add("state <> $%d", q.NotState)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+moveColumns+` FROM ledger_moves`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMove)
}

func (t *txStore) InsertMove(ctx context.Context, m *accounting.Move) error {
	return t.tx.QueryRow(ctx, `INSERT INTO ledger_moves (name, reference, period_id, journal_id, date, post_date, state, centralised_line_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		m.Name, m.Reference, m.PeriodID, m.JournalID, m.Date, m.PostDate, m.State, m.CentralisedLineID).Scan(&m.ID)
}

func (t *txStore) UpdateMove(ctx context.Context, m accounting.Move) error {
	tag, err := t.tx.Exec(ctx, `UPDATE ledger_moves SET name=$2, reference=$3, period_id=$4, journal_id=$5, date=$6, post_date=$7,
state=$8, centralised_line_id=$9 WHERE id=$1`,
		m.ID, m.Name, m.Reference, m.PeriodID, m.JournalID, m.Date, m.PostDate, m.State, m.CentralisedLineID)
	if err != nil {
		return err
	}
	return expectOne(tag, "move", m.ID)
}

func (t *txStore) DeleteMove(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM ledger_moves WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return expectOne(tag, "move", id)
}

type taxLine struct {
	CodeID int64           `json:"code_id"`
	Amount decimal.Decimal `json:"amount"`
}

func encodeTaxLines(lines []accounting.TaxLine) ([]byte, error) {
	out := make([]taxLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, taxLine{CodeID: l.CodeID, Amount: l.Amount})
	}
	return json.Marshal(out)
}

const lineColumns = `l.id, l.move_id, l.name, l.reference, l.debit, l.credit, l.account_id, l.partner_id, l.maturity_date,
l.second_currency, l.amount_second_currency, l.blocked, l.state, l.active, l.reconciliation_id, l.tax_lines`

func scanLine(row pgx.CollectableRow) (accounting.Line, error) {
	var (
		l        accounting.Line
		second   decimal.NullDecimal
		rawTaxes []byte
	)
	err := row.Scan(&l.ID, &l.MoveID, &l.Name, &l.Reference, &l.Debit, &l.Credit, &l.AccountID, &l.PartnerID, &l.MaturityDate,
		&l.SecondCurrency, &second, &l.Blocked, &l.State, &l.Active, &l.ReconciliationID, &rawTaxes)
	if err != nil {
		return accounting.Line{}, err
	}
	if second.Valid {
		l.AmountSecondCurrency = &second.Decimal
	}
	var taxes []taxLine
	if err := json.Unmarshal(rawTaxes, &taxes); err != nil {
		return accounting.Line{}, fmt.Errorf("postgres: line %d tax lines: %w", l.ID, err)
	}
	for _, tl := range taxes {
		l.TaxLines = append(l.TaxLines, accounting.TaxLine{CodeID: tl.CodeID, Amount: tl.Amount})
	}
	return l, nil
}

func (t *txStore) GetLine(ctx context.Context, id int64) (accounting.Line, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+lineColumns+` FROM ledger_move_lines l WHERE l.id=$1`, id)
	if err != nil {
		return accounting.Line{}, err
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanLine)
	if err != nil {
		return accounting.Line{}, notFound(err, "line", id)
	}
	return l, nil
}

func (t *txStore) ListLines(ctx context.Context, q accounting.LineQuery) ([]accounting.Line, error) {
	var w where
	if len(q.IDs) > 0 {
		w.add("l.id = ANY($%d)", q.IDs)
	}
	if len(q.MoveIDs) > 0 {
		w.add("l.move_id = ANY($%d)", q.MoveIDs)
	}
	if len(q.PeriodIDs) > 0 {
		w.add("m.period_id = ANY($%d)", q.PeriodIDs)
	}
	if q.AccountID != 0 {
		w.add("l.account_id = $%d", q.AccountID)
	}
	if q.ReconciliationID != 0 {
		w.add("l.reconciliation_id = $%d", q.ReconciliationID)
	}
	if q.Unreconciled {
		w.raw("l.reconciliation_id IS NULL")
	}
	sql := `SELECT ` + lineColumns + ` FROM ledger_move_lines l JOIN ledger_moves m ON m.id = l.move_id` + w.String() + ` ORDER BY l.id`
	args := w.args
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanLine)
}

func (t *txStore) InsertLine(ctx context.Context, l *accounting.Line) error {
	taxes, err := encodeTaxLines(l.TaxLines)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx, `INSERT INTO ledger_move_lines (move_id, name, reference, debit, credit, account_id, partner_id, maturity_date,
second_currency, amount_second_currency, blocked, state, active, reconciliation_id, tax_lines)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`,
		l.MoveID, l.Name, l.Reference, l.Debit, l.Credit, l.AccountID, l.PartnerID, l.MaturityDate,
		l.SecondCurrency, l.AmountSecondCurrency, l.Blocked, l.State, l.Active, l.ReconciliationID, taxes).Scan(&l.ID)
	return translate(err)
}

func (t *txStore) UpdateLine(ctx context.Context, l accounting.Line) error {
	taxes, err := encodeTaxLines(l.TaxLines)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE ledger_move_lines SET move_id=$2, name=$3, reference=$4, debit=$5, credit=$6, account_id=$7,
partner_id=$8, maturity_date=$9, second_currency=$10, amount_second_currency=$11, blocked=$12, state=$13, active=$14,
reconciliation_id=$15, tax_lines=$16 WHERE id=$1`,
		l.ID, l.MoveID, l.Name, l.Reference, l.Debit, l.Credit, l.AccountID, l.PartnerID, l.MaturityDate,
		l.SecondCurrency, l.AmountSecondCurrency, l.Blocked, l.State, l.Active, l.ReconciliationID, taxes)
	if err != nil {
		return translate(err)
	}
	return expectOne(tag, "line", l.ID)
}

// DeleteLines also clears counterpart references; close line entries
// cascade through their foreign key.
func (t *txStore) DeleteLines(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `UPDATE ledger_moves SET centralised_line_id = NULL WHERE centralised_line_id = ANY($1)`, ids); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM ledger_move_lines WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	if int(tag.RowsAffected()) != len(ids) {
		return fmt.Errorf("postgres: deleted %d of %d lines", tag.RowsAffected(), len(ids))
	}
	return nil
}

func (t *txStore) SetLineState(ctx context.Context, ids []int64, state accounting.LineState) error {
	_, err := t.tx.Exec(ctx, `UPDATE ledger_move_lines SET state=$2 WHERE id = ANY($1)`, ids, state)
	return err
}

func (t *txStore) SetLinesReconciliation(ctx context.Context, ids []int64, reconciliationID *int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE ledger_move_lines SET reconciliation_id=$2 WHERE id = ANY($1)`, ids, reconciliationID)
	return err
}

// applyFilter renders f over lines l, moves m and periods p.
func applyFilter(w *where, f accounting.LineFilter) {
	w.raw("l.active")
	w.add("l.state <> $%d", accounting.LineStateDraft)
	if f.PostedOnly {
		w.add("m.state = $%d", accounting.MoveStatePosted)
	}
	switch f.Scope {
	case accounting.ScopeDate:
		w.add("p.fiscal_year_id = ANY($%d)", f.FiscalYearIDs)
		w.add("m.date <= $%d", f.Date)
	case accounting.ScopePeriods:
		w.add("m.period_id = ANY($%d)", f.PeriodIDs)
	default:
		w.add("p.fiscal_year_id = ANY($%d)", f.FiscalYearIDs)
	}
}

const filteredLines = ` FROM ledger_move_lines l
JOIN ledger_moves m ON m.id = l.move_id
JOIN ledger_periods p ON p.id = m.period_id
JOIN ledger_accounts a ON a.id = l.account_id`

func (t *txStore) AccountBalance(ctx context.Context, accountID int64, f accounting.LineFilter) (decimal.Decimal, error) {
	var w where
	w.add("l.account_id = $%d", accountID)
	applyFilter(&w, f)
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit - l.credit), 0)`+filteredLines+w.String(), w.args...).Scan(&total)
	return total, err
}

func (t *txStore) PartnerBalances(ctx context.Context, q accounting.PartnerBalanceQuery) (map[int64]decimal.Decimal, error) {
	var w where
	w.raw("l.partner_id IS NOT NULL")
	w.raw("l.reconciliation_id IS NULL")
	w.raw("a.active")
	types := make([]string, 0, len(q.Types))
	for _, typ := range q.Types {
		types = append(types, string(typ))
	}
	w.add("a.type = ANY($%d)", types)
	if len(q.PartnerIDs) > 0 {
		w.add("l.partner_id = ANY($%d)", q.PartnerIDs)
	}
	if q.CompanyID != 0 {
		w.add("a.company_id = $%d", q.CompanyID)
	}
	applyFilter(&w, q.Filter)
	rows, err := t.tx.Query(ctx, `SELECT l.partner_id, SUM(l.debit - l.credit)`+filteredLines+w.String()+` GROUP BY l.partner_id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			partnerID int64
			amount    decimal.Decimal
		)
		if err := rows.Scan(&partnerID, &amount); err != nil {
			return nil, err
		}
		out[partnerID] = amount
	}
	return out, rows.Err()
}

func (t *txStore) GetReconciliation(ctx context.Context, id int64) (accounting.Reconciliation, error) {
	var r accounting.Reconciliation
	err := t.tx.QueryRow(ctx, `SELECT id, name FROM ledger_reconciliations WHERE id=$1`, id).Scan(&r.ID, &r.Name)
	if err != nil {
		return accounting.Reconciliation{}, notFound(err, "reconciliation", id)
	}
	rows, err := t.tx.Query(ctx, `SELECT id FROM ledger_move_lines WHERE reconciliation_id=$1 ORDER BY id`, id)
	if err != nil {
		return accounting.Reconciliation{}, err
	}
	if r.LineIDs, err = pgx.CollectRows(rows, pgx.RowTo[int64]); err != nil {
		return accounting.Reconciliation{}, err
	}
	return r, nil
}

func (t *txStore) InsertReconciliation(ctx context.Context, r *accounting.Reconciliation) error {
	return t.tx.QueryRow(ctx, `INSERT INTO ledger_reconciliations (name) VALUES ($1) RETURNING id`, r.Name).Scan(&r.ID)
}

func (t *txStore) DeleteReconciliation(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM ledger_reconciliations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return expectOne(tag, "reconciliation", id)
}
