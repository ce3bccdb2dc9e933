package ledgerhttp

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

var errNoEnqueuer = errors.New("ledger: asynchronous close is not configured")

func (h *Handler) createFiscalYear(w http.ResponseWriter, r *http.Request) {
	var req fiscalYearRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "create fiscal year", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, "create fiscal year", err)
		return
	}
	fy, err := h.svc.Periods.CreateFiscalYear(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create fiscal year", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newFiscalYearResponse(fy))
}

func (h *Handler) updateFiscalYear(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "update fiscal year", err)
		return
	}
	var req fiscalYearPatch
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "update fiscal year", err)
		return
	}
	upd, err := req.update()
	if err != nil {
		h.fail(w, r, "update fiscal year", err)
		return
	}
	fy, err := h.svc.Periods.UpdateFiscalYear(r.Context(), id, upd)
	if err != nil {
		h.fail(w, r, "update fiscal year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newFiscalYearResponse(fy))
}

func (h *Handler) lookupFiscalYear(w http.ResponseWriter, r *http.Request) {
	date, err := parseOptionalDate("date", optionalQuery(r, "date"))
	if err != nil {
		h.fail(w, r, "lookup fiscal year", err)
		return
	}
	fy, _, err := h.svc.Periods.FindFiscalYear(r.Context(), date, true)
	if err != nil {
		h.fail(w, r, "lookup fiscal year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newFiscalYearResponse(fy))
}

func (h *Handler) generatePeriods(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "generate periods", err)
		return
	}
	var req generatePeriodsRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "generate periods", err)
		return
	}
	created, err := h.svc.Periods.CreatePeriods(r.Context(), []int64{id}, req.IntervalMonths)
	if err != nil {
		h.fail(w, r, "generate periods", err)
		return
	}
	out := make([]periodResponse, 0, len(created))
	for _, p := range created {
		out = append(out, newPeriodResponse(p))
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) lockFiscalYears(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "lock fiscal years", err)
		return
	}
	if err := h.svc.Periods.CloseFiscalYears(r.Context(), req.IDs); err != nil {
		h.fail(w, r, "lock fiscal years", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) closeFiscalYear(w http.ResponseWriter, r *http.Request) {
	var in closing.CloseInput
	if err := h.decode(r, &in); err != nil {
		h.fail(w, r, "close fiscal year", err)
		return
	}
	if r.URL.Query().Get("async") == "true" {
		if h.svc.Enqueuer == nil {
			h.fail(w, r, "close fiscal year", errNoEnqueuer)
			return
		}
		taskID, err := h.svc.Enqueuer.EnqueueClose(r.Context(), in)
		if err != nil {
			h.fail(w, r, "enqueue close", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, enqueuedResponse{TaskID: taskID})
		return
	}
	res, err := h.svc.Closing.CloseFiscalYear(r.Context(), in)
	if err != nil {
		h.fail(w, r, "close fiscal year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newCloseResponse(res))
}

func (h *Handler) reopenFiscalYears(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "reopen fiscal years", err)
		return
	}
	if err := h.svc.Closing.ReopenFiscalYears(r.Context(), req.IDs); err != nil {
		h.fail(w, r, "reopen fiscal years", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "create period", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, "create period", err)
		return
	}
	p, err := h.svc.Periods.CreatePeriod(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newPeriodResponse(p))
}

func (h *Handler) updatePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "update period", err)
		return
	}
	var req periodPatch
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "update period", err)
		return
	}
	upd, err := req.update()
	if err != nil {
		h.fail(w, r, "update period", err)
		return
	}
	p, err := h.svc.Periods.UpdatePeriod(r.Context(), id, upd)
	if err != nil {
		h.fail(w, r, "update period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPeriodResponse(p))
}

func (h *Handler) lookupPeriod(w http.ResponseWriter, r *http.Request) {
	date, err := parseOptionalDate("date", optionalQuery(r, "date"))
	if err != nil {
		h.fail(w, r, "lookup period", err)
		return
	}
	p, _, err := h.svc.Periods.FindPeriod(r.Context(), date, true)
	if err != nil {
		h.fail(w, r, "lookup period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPeriodResponse(p))
}

func (h *Handler) closeJournalPeriod(w http.ResponseWriter, r *http.Request) {
	h.setJournalPeriod(w, r, accounting.StateClose)
}

func (h *Handler) reopenJournalPeriod(w http.ResponseWriter, r *http.Request) {
	h.setJournalPeriod(w, r, accounting.StateOpen)
}

func (h *Handler) setJournalPeriod(w http.ResponseWriter, r *http.Request, state accounting.State) {
	var req journalPeriodRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "set journal period", err)
		return
	}
	var (
		jp  accounting.JournalPeriod
		err error
	)
	if state == accounting.StateClose {
		jp, err = h.svc.JournalPeriods.Close(r.Context(), req.JournalID, req.PeriodID)
	} else {
		jp, err = h.svc.JournalPeriods.Reopen(r.Context(), req.JournalID, req.PeriodID)
	}
	if err != nil {
		h.fail(w, r, "set journal period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newJournalPeriodResponse(jp))
}

func optionalQuery(r *http.Request, key string) *string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	return &v
}
