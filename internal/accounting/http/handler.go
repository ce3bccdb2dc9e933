// Package ledgerhttp exposes the general ledger as a JSON API.
package ledgerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journalperiods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/partners"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// CloseEnqueuer schedules a fiscal year close on the worker.
type CloseEnqueuer interface {
	EnqueueClose(ctx context.Context, in closing.CloseInput) (string, error)
}

// Services groups the ledger engines served by the Handler.
type Services struct {
	Periods        *periods.Service
	JournalPeriods *journalperiods.Service
	Moves          *moves.Service
	Reconcile      *reconcile.Service
	Closing        *closing.Service
	Partners       *partners.Service
	// Enqueuer is optional; without it asynchronous close requests fail.
	Enqueuer CloseEnqueuer
}

// Handler serves the ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	svc       Services
	validator *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, svc Services) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, svc: svc, validator: validator.New()}
}

// MountRoutes registers the ledger endpoints on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/fiscal-years", func(r chi.Router) {
		r.Post("/", h.createFiscalYear)
		r.Get("/lookup", h.lookupFiscalYear)
		r.Post("/close", h.closeFiscalYear)
		r.Post("/reopen", h.reopenFiscalYears)
		r.Post("/lock", h.lockFiscalYears)
		r.Patch("/{id}", h.updateFiscalYear)
		r.Post("/{id}/periods", h.generatePeriods)
	})
	r.Route("/periods", func(r chi.Router) {
		r.Post("/", h.createPeriod)
		r.Get("/lookup", h.lookupPeriod)
		r.Patch("/{id}", h.updatePeriod)
	})
	r.Post("/journal-periods/close", h.closeJournalPeriod)
	r.Post("/journal-periods/reopen", h.reopenJournalPeriod)
	r.Route("/moves", func(r chi.Router) {
		r.Post("/", h.createMove)
		r.Post("/delete", h.deleteMoves)
		r.Post("/validate", h.validateMoves)
		r.Post("/post", h.postMoves)
		r.Post("/draft", h.draftMoves)
		r.Get("/{id}", h.getMove)
		r.Patch("/{id}", h.updateMove)
		r.Get("/{id}/suggestion", h.suggestLine)
	})
	r.Route("/lines", func(r chi.Router) {
		r.Post("/", h.createLine)
		r.Post("/delete", h.removeLines)
		r.Get("/{id}", h.getLine)
		r.Patch("/{id}", h.updateLine)
		r.Post("/{id}/copy", h.copyLine)
	})
	r.Route("/reconciliations", func(r chi.Router) {
		r.Post("/", h.reconcile)
		r.Post("/unreconcile", h.unreconcile)
		r.Get("/{id}", h.getReconciliation)
	})
	r.Get("/partners/balances", h.partnerBalances)
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
	}
	if err := h.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: field %s failed %s", httpx.ErrBadRequest, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
	}
	return nil
}

// fail writes err as a problem response. Server errors are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, _ := httpx.Status(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		h.logger.Debug(op, slog.Int("status", status), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", httpx.ErrBadRequest, raw)
	}
	return id, nil
}

func queryIDs(r *http.Request, key string) ([]int64, error) {
	values := r.URL.Query()[key]
	out := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: invalid %s %q", httpx.ErrBadRequest, key, v)
		}
		out = append(out, id)
	}
	return out, nil
}
