package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// Violation kinds reported by the integrity check.
const (
	ViolationUnbalancedMove = "unbalanced_move"
	ViolationLineAmounts    = "line_amounts"
)

// Violation is one broken ledger invariant.
type Violation struct {
	Kind   string
	MoveID int64
	LineID int64
	Detail string
}

// IntegrityReport is the outcome for one fiscal year.
type IntegrityReport struct {
	FiscalYearID int64
	Moves        int
	Lines        int
	Violations   []Violation
}

// GLIntegrityJob checks that every posted move balances and that every line
// carries a single non-negative amount.
type GLIntegrityJob struct {
	store       accounting.Store
	currency    accounting.Currency
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
	concurrency int
}

// NewGLIntegrityJob initialises the integrity check.
func NewGLIntegrityJob(store accounting.Store, currency accounting.Currency, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GLIntegrityJob{store: store, currency: currency, logger: logger, metrics: metrics, concurrency: 4}
}

// Handle runs TaskGLIntegrity.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.store == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload IntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("gl integrity: payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.metrics.Track(TaskGLIntegrity)
	defer func() {
		err = tracker.End(err)
	}()
	_, err = j.Run(ctx, payload.FiscalYearIDs)
	return err
}

// Run checks the given fiscal years, or all of them when ids is empty, and
// returns one report per fiscal year in id order.
func (j *GLIntegrityJob) Run(ctx context.Context, ids []int64) ([]IntegrityReport, error) {
	if len(ids) == 0 {
		err := j.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
			years, err := tx.ListFiscalYears(ctx, accounting.FiscalYearQuery{})
			if err != nil {
				return err
			}
			for _, fy := range years {
				ids = append(ids, fy.ID)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("gl integrity: list fiscal years: %w", err)
		}
	}

	reports := make([]IntegrityReport, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			report, err := j.check(gctx, id)
			if err != nil {
				return fmt.Errorf("gl integrity: fiscal year %d: %w", id, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		j.logger.Error("gl integrity check failed", slog.Any("error", err))
		return nil, err
	}

	for _, r := range reports {
		counts := make(map[string]int)
		for _, v := range r.Violations {
			counts[v.Kind]++
			j.logger.Warn("gl integrity violation",
				slog.Int64("fiscal_year_id", r.FiscalYearID),
				slog.String("kind", v.Kind),
				slog.Int64("move_id", v.MoveID),
				slog.Int64("line_id", v.LineID),
				slog.String("detail", v.Detail),
			)
		}
		for kind, n := range counts {
			j.metrics.AddViolations(kind, r.FiscalYearID, n)
		}
		j.logger.Info("gl integrity checked",
			slog.Int64("fiscal_year_id", r.FiscalYearID),
			slog.Int("moves", r.Moves),
			slog.Int("lines", r.Lines),
			slog.Int("violations", len(r.Violations)),
		)
	}
	return reports, nil
}

func (j *GLIntegrityJob) check(ctx context.Context, fiscalYearID int64) (IntegrityReport, error) {
	report := IntegrityReport{FiscalYearID: fiscalYearID}
	err := j.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		fy, err := tx.GetFiscalYear(ctx, fiscalYearID)
		if err != nil {
			return err
		}
		currency := ""
		if fy.CompanyID != 0 {
			company, err := tx.GetCompany(ctx, fy.CompanyID)
			if err != nil {
				return err
			}
			currency = company.Currency
		}
		ps, err := tx.ListPeriods(ctx, accounting.PeriodQuery{FiscalYearIDs: []int64{fiscalYearID}})
		if err != nil || len(ps) == 0 {
			return err
		}
		periodIDs := make([]int64, 0, len(ps))
		for _, p := range ps {
			periodIDs = append(periodIDs, p.ID)
		}
		lines, err := tx.ListLines(ctx, accounting.LineQuery{PeriodIDs: periodIDs})
		if err != nil {
			return err
		}
		report.Lines = len(lines)
		byMove := make(map[int64][]accounting.Line)
		for _, l := range lines {
			byMove[l.MoveID] = append(byMove[l.MoveID], l)
			if l.Debit.IsNegative() || l.Credit.IsNegative() || !l.Debit.Mul(l.Credit).IsZero() {
				report.Violations = append(report.Violations, Violation{
					Kind:   ViolationLineAmounts,
					MoveID: l.MoveID,
					LineID: l.ID,
					Detail: fmt.Sprintf("debit %s credit %s", l.Debit, l.Credit),
				})
			}
		}
		posted, err := tx.ListMoves(ctx, accounting.MoveQuery{PeriodIDs: periodIDs, State: accounting.MoveStatePosted})
		if err != nil {
			return err
		}
		report.Moves = len(posted)
		for _, m := range posted {
			sum := decimal.Zero
			for _, l := range byMove[m.ID] {
				sum = sum.Add(l.Net())
			}
			if !j.isZero(currency, sum) {
				report.Violations = append(report.Violations, Violation{
					Kind:   ViolationUnbalancedMove,
					MoveID: m.ID,
					Detail: fmt.Sprintf("%s off by %s", m.Name, sum),
				})
			}
		}
		return nil
	})
	return report, err
}

func (j *GLIntegrityJob) isZero(currency string, amount decimal.Decimal) bool {
	if j.currency == nil || currency == "" {
		return amount.IsZero()
	}
	return j.currency.IsZero(currency, amount)
}
