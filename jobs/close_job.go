package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// Closer closes a fiscal year.
type Closer interface {
	CloseFiscalYear(ctx context.Context, in closing.CloseInput) (closing.CloseResult, error)
}

// FiscalYearCloseJob runs TaskFiscalYearClose.
type FiscalYearCloseJob struct {
	closer    Closer
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
	validator *validator.Validate
}

// NewFiscalYearCloseJob initialises the close handler.
func NewFiscalYearCloseJob(closer Closer, logger *slog.Logger, metrics *jobmetrics.Metrics) *FiscalYearCloseJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &FiscalYearCloseJob{closer: closer, logger: logger, metrics: metrics, validator: validator.New()}
}

// Handle closes the fiscal year of the task payload. Rejected setups are not
// retried; a close already running elsewhere is.
func (j *FiscalYearCloseJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.closer == nil {
		return errors.New("fiscal year close: handler not configured")
	}
	var in closing.CloseInput
	if err := json.Unmarshal(t.Payload(), &in); err != nil {
		return fmt.Errorf("fiscal year close: payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := j.validator.Struct(in); err != nil {
		return fmt.Errorf("fiscal year close: payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics.Track(TaskFiscalYearClose)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger.With(
		slog.Int64("fiscal_year_id", in.FiscalYearID),
		slog.Int64("dest_period_id", in.DestPeriodID),
	)
	res, err := j.closer.CloseFiscalYear(ctx, in)
	if err != nil {
		if permanent(err) {
			logger.Warn("fiscal year close rejected", slog.Any("error", err))
			return fmt.Errorf("fiscal year close: %v: %w", err, asynq.SkipRetry)
		}
		logger.Error("fiscal year close failed", slog.Any("error", err))
		return err
	}
	for method, n := range res.Carried {
		j.metrics.AddClosedLines(string(method), n)
	}
	logger.Info("fiscal year closed",
		slog.Int64("move_id", res.MoveID),
		slog.Int("close_lines", len(res.CloseLineIDs)),
	)
	return nil
}

// permanent reports whether a retry cannot succeed without operator action.
func permanent(err error) bool {
	if errors.Is(err, shared.ErrCloseInProgress) {
		return false
	}
	return errors.Is(err, shared.ErrPreconditionFailed) ||
		errors.Is(err, shared.ErrValidationFailed) ||
		errors.Is(err, shared.ErrModificationBlocked) ||
		errors.Is(err, shared.ErrNotFound)
}
