package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

const fiscalYearColumns = `id, name, code, start_date, end_date, state, post_move_sequence_id, COALESCE(company_id, 0)`

func scanFiscalYear(row pgx.CollectableRow) (accounting.FiscalYear, error) {
	var fy accounting.FiscalYear
	err := row.Scan(&fy.ID, &fy.Name, &fy.Code, &fy.StartDate, &fy.EndDate, &fy.State, &fy.PostMoveSequenceID, &fy.CompanyID)
	return fy, err
}

func (t *txStore) GetFiscalYear(ctx context.Context, id int64) (accounting.FiscalYear, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+fiscalYearColumns+` FROM ledger_fiscal_years WHERE id=$1`, id)
	if err != nil {
		return accounting.FiscalYear{}, err
	}
	fy, err := pgx.CollectExactlyOneRow(rows, scanFiscalYear)
	if err != nil {
		return accounting.FiscalYear{}, notFound(err, "fiscal year", id)
	}
	return fy, nil
}

func (t *txStore) ListFiscalYears(ctx context.Context, q accounting.FiscalYearQuery) ([]accounting.FiscalYear, error) {
	var w where
	if q.State != "" {
		w.add("state = $%d", q.State)
	}
	if q.ContainsDate != nil {
		w.add("$%d::date BETWEEN start_date AND end_date", *q.ContainsDate)
	}
	if q.Overlapping != nil {
		w.add("start_date <= $%d", q.Overlapping.End)
		w.add("end_date >= $%d", q.Overlapping.Start)
	}
	if q.PostMoveSequenceID != 0 {
		w.add("post_move_sequence_id = $%d", q.PostMoveSequenceID)
	}
	if q.ExcludeID != 0 {
		w.add("id <> $%d", q.ExcludeID)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+fiscalYearColumns+` FROM ledger_fiscal_years`+w.String()+` ORDER BY start_date, id`, w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanFiscalYear)
}

func (t *txStore) InsertFiscalYear(ctx context.Context, fy *accounting.FiscalYear) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO ledger_fiscal_years (name, code, start_date, end_date, state, post_move_sequence_id, company_id)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		fy.Name, fy.Code, fy.StartDate, fy.EndDate, fy.State, fy.PostMoveSequenceID, nullID(fy.CompanyID)).Scan(&fy.ID)
	return translate(err)
}

func (t *txStore) UpdateFiscalYear(ctx context.Context, fy accounting.FiscalYear) error {
	tag, err := t.tx.Exec(ctx, `UPDATE ledger_fiscal_years SET name=$2, code=$3, start_date=$4, end_date=$5, state=$6,
post_move_sequence_id=$7, company_id=$8 WHERE id=$1`,
		fy.ID, fy.Name, fy.Code, fy.StartDate, fy.EndDate, fy.State, fy.PostMoveSequenceID, nullID(fy.CompanyID))
	if err != nil {
		return translate(err)
	}
	return expectOne(tag, "fiscal year", fy.ID)
}

func (t *txStore) SetFiscalYearState(ctx context.Context, ids []int64, state accounting.State) error {
	_, err := t.tx.Exec(ctx, `UPDATE ledger_fiscal_years SET state=$2 WHERE id = ANY($1)`, ids, state)
	return err
}

func (t *txStore) AddCloseLines(ctx context.Context, fiscalYearID int64, lineIDs []int64) error {
	if len(lineIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO ledger_fiscal_year_close_lines (fiscal_year_id, line_id)
SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, fiscalYearID, lineIDs)
	return err
}

func (t *txStore) CloseLineIDs(ctx context.Context, fiscalYearID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `SELECT line_id FROM ledger_fiscal_year_close_lines WHERE fiscal_year_id=$1 ORDER BY line_id`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *txStore) ClearCloseLines(ctx context.Context, fiscalYearID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM ledger_fiscal_year_close_lines WHERE fiscal_year_id=$1`, fiscalYearID)
	return err
}

const periodColumns = `id, name, code, fiscal_year_id, start_date, end_date, state, COALESCE(post_move_sequence_id, 0)`

func scanPeriod(row pgx.CollectableRow) (accounting.Period, error) {
	var p accounting.Period
	err := row.Scan(&p.ID, &p.Name, &p.Code, &p.FiscalYearID, &p.StartDate, &p.EndDate, &p.State, &p.PostMoveSequenceID)
	return p, err
}

func (t *txStore) GetPeriod(ctx context.Context, id int64) (accounting.Period, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+periodColumns+` FROM ledger_periods WHERE id=$1`, id)
	if err != nil {
		return accounting.Period{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPeriod)
	if err != nil {
		return accounting.Period{}, notFound(err, "period", id)
	}
	return p, nil
}

func (t *txStore) ListPeriods(ctx context.Context, q accounting.PeriodQuery) ([]accounting.Period, error) {
	var w where
	if len(q.FiscalYearIDs) > 0 {
		w.add("fiscal_year_id = ANY($%d)", q.FiscalYearIDs)
	}
	if q.ContainsDate != nil {
		w.add("$%d::date BETWEEN start_date AND end_date", *q.ContainsDate)
	}
	if q.Overlapping != nil {
		w.add("start_date <= $%d", q.Overlapping.End)
		w.add("end_date >= $%d", q.Overlapping.Start)
	}
	if q.ExcludeID != 0 {
		w.add("id <> $%d", q.ExcludeID)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+periodColumns+` FROM ledger_periods`+w.String()+` ORDER BY start_date, id`, w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPeriod)
}

func (t *txStore) InsertPeriod(ctx context.Context, p *accounting.Period) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO ledger_periods (name, code, fiscal_year_id, start_date, end_date, state, post_move_sequence_id)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		p.Name, p.Code, p.FiscalYearID, p.StartDate, p.EndDate, p.State, nullID(p.PostMoveSequenceID)).Scan(&p.ID)
	return translate(err)
}

func (t *txStore) UpdatePeriod(ctx context.Context, p accounting.Period) error {
	tag, err := t.tx.Exec(ctx, `UPDATE ledger_periods SET name=$2, code=$3, start_date=$4, end_date=$5, state=$6, post_move_sequence_id=$7
WHERE id=$1`, p.ID, p.Name, p.Code, p.StartDate, p.EndDate, p.State, nullID(p.PostMoveSequenceID))
	if err != nil {
		return translate(err)
	}
	return expectOne(tag, "period", p.ID)
}

func (t *txStore) SetPeriodState(ctx context.Context, ids []int64, state accounting.State) error {
	_, err := t.tx.Exec(ctx, `UPDATE ledger_periods SET state=$2 WHERE id = ANY($1)`, ids, state)
	return err
}

func (t *txStore) GetJournalPeriod(ctx context.Context, journalID, periodID int64) (accounting.JournalPeriod, bool, error) {
	var jp accounting.JournalPeriod
	err := t.tx.QueryRow(ctx, `SELECT id, name, journal_id, period_id, state FROM ledger_journal_periods
WHERE journal_id=$1 AND period_id=$2`, journalID, periodID).Scan(&jp.ID, &jp.Name, &jp.JournalID, &jp.PeriodID, &jp.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return accounting.JournalPeriod{}, false, nil
	}
	if err != nil {
		return accounting.JournalPeriod{}, false, err
	}
	return jp, true, nil
}

// EnsureJournalPeriod relies on uq_journal_period: a concurrent insert of
// the same pair leaves the existing record in place and it is read back.
func (t *txStore) EnsureJournalPeriod(ctx context.Context, jp accounting.JournalPeriod) (accounting.JournalPeriod, error) {
	_, err := t.tx.Exec(ctx, `INSERT INTO ledger_journal_periods (name, journal_id, period_id, state) VALUES ($1,$2,$3,$4)
ON CONFLICT ON CONSTRAINT uq_journal_period DO NOTHING`, jp.Name, jp.JournalID, jp.PeriodID, jp.State)
	if err != nil {
		return accounting.JournalPeriod{}, translate(err)
	}
	stored, found, err := t.GetJournalPeriod(ctx, jp.JournalID, jp.PeriodID)
	if err != nil {
		return accounting.JournalPeriod{}, err
	}
	if !found {
		return accounting.JournalPeriod{}, fmt.Errorf("postgres: journal period %d/%d vanished after insert", jp.JournalID, jp.PeriodID)
	}
	return stored, nil
}

func (t *txStore) SetJournalPeriodState(ctx context.Context, id int64, state accounting.State) error {
	tag, err := t.tx.Exec(ctx, `UPDATE ledger_journal_periods SET state=$2 WHERE id=$1`, id, state)
	if err != nil {
		return err
	}
	return expectOne(tag, "journal period", id)
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
