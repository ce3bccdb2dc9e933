package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueClose runs fiscal year closes apart from the periodic checks.
	QueueClose = "ledger-close"

	// TaskFiscalYearClose closes a fiscal year into a destination period.
	TaskFiscalYearClose = "ledger:fiscalyear:close"
	// TaskGLIntegrity verifies posted moves and line amounts.
	TaskGLIntegrity = "ledger:gl:integrity"
)

// IntegrityPayload selects the fiscal years to check; empty means all.
type IntegrityPayload struct {
	FiscalYearIDs []int64 `json:"fiscal_year_ids,omitempty"`
}

// NewFiscalYearCloseTask builds the close task. Identical requests enqueued
// within an hour collapse into one.
func NewFiscalYearCloseTask(in closing.CloseInput) (*asynq.Task, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFiscalYearClose, data,
		asynq.Queue(QueueClose),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Unique(time.Hour),
	), nil
}

// NewGLIntegrityTask builds the integrity task.
func NewGLIntegrityTask(fiscalYearIDs ...int64) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityPayload{FiscalYearIDs: fiscalYearIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, data, asynq.Queue(QueueDefault), asynq.Timeout(10*time.Minute)), nil
}
