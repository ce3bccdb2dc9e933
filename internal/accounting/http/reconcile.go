package ledgerhttp

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/partners"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "reconcile", err)
		return
	}
	wo, err := req.writeOff()
	if err != nil {
		h.fail(w, r, "reconcile", err)
		return
	}
	rec, err := h.svc.Reconcile.Reconcile(r.Context(), req.LineIDs, wo)
	if err != nil {
		h.fail(w, r, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newReconciliationResponse(rec))
}

func (h *Handler) unreconcile(w http.ResponseWriter, r *http.Request) {
	var req unreconcileRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "unreconcile", err)
		return
	}
	var err error
	switch {
	case len(req.IDs) > 0 && len(req.LineIDs) > 0:
		err = fmt.Errorf("%w: ids and line_ids are exclusive", httpx.ErrBadRequest)
	case len(req.IDs) > 0:
		err = h.svc.Reconcile.Unreconcile(r.Context(), req.IDs)
	case len(req.LineIDs) > 0:
		err = h.svc.Reconcile.UnreconcileLines(r.Context(), req.LineIDs)
	default:
		err = fmt.Errorf("%w: ids or line_ids required", httpx.ErrBadRequest)
	}
	if err != nil {
		h.fail(w, r, "unreconcile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "get reconciliation", err)
		return
	}
	rec, err := h.svc.Reconcile.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newReconciliationResponse(rec))
}

// partnerBalances reads ?partner_id=&company_id= plus one scope among date,
// period_id and fiscal_year_id; posted_only=true restricts to posted moves.
func (h *Handler) partnerBalances(w http.ResponseWriter, r *http.Request) {
	q, err := partnerQuery(r)
	if err != nil {
		h.fail(w, r, "partner balances", err)
		return
	}
	balances, err := h.svc.Partners.Balances(r.Context(), q)
	if err != nil {
		h.fail(w, r, "partner balances", err)
		return
	}
	if balances == nil {
		balances = []partners.Balance{}
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func partnerQuery(r *http.Request) (partners.Query, error) {
	var q partners.Query
	var err error
	if q.PartnerIDs, err = queryIDs(r, "partner_id"); err != nil {
		return q, err
	}
	values := r.URL.Query()
	if raw := values.Get("company_id"); raw != "" {
		if q.CompanyID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return q, fmt.Errorf("%w: invalid company_id %q", httpx.ErrBadRequest, raw)
		}
	}
	var fc moves.FilterContext
	if fc.Date, err = parseOptionalDate("date", optionalQuery(r, "date")); err != nil {
		return q, err
	}
	if fc.PeriodIDs, err = queryIDs(r, "period_id"); err != nil {
		return q, err
	}
	if raw := values.Get("fiscal_year_id"); raw != "" {
		if fc.FiscalYearID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return q, fmt.Errorf("%w: invalid fiscal_year_id %q", httpx.ErrBadRequest, raw)
		}
	}
	if raw := values.Get("posted_only"); raw != "" {
		if fc.PostedOnly, err = strconv.ParseBool(raw); err != nil {
			return q, fmt.Errorf("%w: invalid posted_only %q", httpx.ErrBadRequest, raw)
		}
	}
	q.Scope = fc
	return q, nil
}
