// Package postgres implements the ledger ports on PostgreSQL through pgx.
// Every transaction runs at serializable isolation.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

//go:embed schema.sql
var schema string

// Store is the PostgreSQL accounting.Store.
type Store struct {
	pool *pgxpool.Pool

	companies sync.Map
	loads     singleflight.Group
}

// New wraps pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the ledger tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// WithTx runs fn in a serializable transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx, store: s})
	})
}

// Taxes loads tax definitions for the tax engine.
func (s *Store) Taxes(ctx context.Context, ids []int64) ([]accounting.Tax, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, rate, invoice_base_code_id, invoice_base_sign, invoice_tax_code_id, invoice_tax_sign,
refund_base_code_id, refund_base_sign, refund_tax_code_id, refund_tax_sign
FROM ledger_taxes WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (accounting.Tax, error) {
		var t accounting.Tax
		err := row.Scan(&t.ID, &t.Name, &t.Rate, &t.InvoiceBaseCodeID, &t.InvoiceBaseSign, &t.InvoiceTaxCodeID, &t.InvoiceTaxSign,
			&t.RefundBaseCodeID, &t.RefundBaseSign, &t.RefundTaxCodeID, &t.RefundTaxSign)
		return t, err
	})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]accounting.Tax, len(defs))
	for _, t := range defs {
		byID[t.ID] = t
	}
	out := make([]accounting.Tax, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, shared.NotFound("tax", id)
		}
		out = append(out, t)
	}
	return out, nil
}

// company reads a company through a process-wide cache. Concurrent misses
// for the same id share one query.
func (s *Store) company(ctx context.Context, q querier, id int64) (accounting.Company, error) {
	if c, ok := s.companies.Load(id); ok {
		return c.(accounting.Company), nil
	}
	v, err, _ := s.loads.Do(fmt.Sprintf("company:%d", id), func() (any, error) {
		var c accounting.Company
		err := q.QueryRow(ctx, `SELECT id, name, currency FROM ledger_companies WHERE id=$1`, id).Scan(&c.ID, &c.Name, &c.Currency)
		if err != nil {
			return nil, notFound(err, "company", id)
		}
		s.companies.Store(id, c)
		return c, nil
	})
	if err != nil {
		return accounting.Company{}, err
	}
	return v.(accounting.Company), nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStore struct {
	tx    pgx.Tx
	store *Store
}

func notFound(err error, entity string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound(entity, id)
	}
	return err
}

// translate maps constraint violations onto ledger errors.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.ConstraintName {
	case "uq_fiscal_year_sequence":
		return fmt.Errorf("%w (%s)", shared.ErrDuplicatePostSequence, pgErr.Detail)
	case "ck_fiscal_year_dates":
		return shared.ErrFiscalYearDates
	case "ck_period_dates":
		return shared.ErrPeriodDates
	case "ck_line_amounts":
		return shared.ErrLineAmounts
	}
	return err
}

func expectOne(tag pgconn.CommandTag, entity string, id int64) error {
	if tag.RowsAffected() == 0 {
		return shared.NotFound(entity, id)
	}
	return nil
}

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	clauses []string
	args    []any
}

// add appends a predicate; %d in clause is replaced by the argument index.
func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) raw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
