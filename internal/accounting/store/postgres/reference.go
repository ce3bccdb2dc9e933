package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

func (t *txStore) GetCompany(ctx context.Context, id int64) (accounting.Company, error) {
	return t.store.company(ctx, t.tx, id)
}

const journalColumns = `id, name, code, type, COALESCE(sequence_id, 0), centralised, update_posted, debit_account_id, credit_account_id`

func (t *txStore) GetJournal(ctx context.Context, id int64) (accounting.Journal, error) {
	var j accounting.Journal
	err := t.tx.QueryRow(ctx, `SELECT `+journalColumns+` FROM ledger_journals WHERE id=$1`, id).
		Scan(&j.ID, &j.Name, &j.Code, &j.Type, &j.SequenceID, &j.Centralised, &j.UpdatePosted, &j.DebitAccountID, &j.CreditAccountID)
	if err != nil {
		return accounting.Journal{}, notFound(err, "journal", id)
	}
	return j, nil
}

const accountColumns = `id, code, name, type, company_id, currency, reconcile, active, close_method, tax_ids`

func scanAccount(row pgx.CollectableRow) (accounting.Account, error) {
	var a accounting.Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.CompanyID, &a.Currency, &a.Reconcile, &a.Active, &a.CloseMethod, &a.TaxIDs)
	return a, err
}

func (t *txStore) GetAccount(ctx context.Context, id int64) (accounting.Account, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id=$1`, id)
	if err != nil {
		return accounting.Account{}, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if err != nil {
		return accounting.Account{}, notFound(err, "account", id)
	}
	return a, nil
}

func (t *txStore) ListAccounts(ctx context.Context) ([]accounting.Account, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAccount)
}

// NextValue formats and advances the sequence inside the transaction, so a
// rolled back batch returns its numbers.
func (t *txStore) NextValue(ctx context.Context, sequenceID int64) (string, error) {
	var (
		prefix  string
		padding int
		value   int64
	)
	err := t.tx.QueryRow(ctx, `UPDATE ledger_sequences SET next_value = next_value + 1 WHERE id=$1
RETURNING prefix, padding, next_value - 1`, sequenceID).Scan(&prefix, &padding, &value)
	if err != nil {
		return "", notFound(err, "sequence", sequenceID)
	}
	return fmt.Sprintf("%s%0*d", prefix, padding, value), nil
}
