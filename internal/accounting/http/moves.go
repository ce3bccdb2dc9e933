package ledgerhttp

import (
	"context"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func (h *Handler) createMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "create move", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, "create move", err)
		return
	}
	detail, err := h.svc.Moves.CreateMove(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create move", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newMoveResponse(detail))
}

func (h *Handler) getMove(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "get move", err)
		return
	}
	detail, err := h.svc.Moves.GetMove(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get move", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newMoveResponse(detail))
}

func (h *Handler) updateMove(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "update move", err)
		return
	}
	var req movePatch
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "update move", err)
		return
	}
	upd, err := req.update()
	if err != nil {
		h.fail(w, r, "update move", err)
		return
	}
	detail, err := h.svc.Moves.UpdateMove(r.Context(), id, upd)
	if err != nil {
		h.fail(w, r, "update move", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newMoveResponse(detail))
}

func (h *Handler) deleteMoves(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, "delete moves", h.svc.Moves.DeleteMoves)
}

func (h *Handler) validateMoves(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, "validate moves", h.svc.Moves.Validate)
}

func (h *Handler) postMoves(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, "post moves", h.svc.Moves.Post)
}

func (h *Handler) draftMoves(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, "draft moves", h.svc.Moves.Draft)
}

// batch runs an all-or-nothing operation over the ids of the request body.
func (h *Handler) batch(w http.ResponseWriter, r *http.Request, op string, run func(context.Context, []int64) error) {
	var req idsRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := run(r.Context(), req.IDs); err != nil {
		h.fail(w, r, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) suggestLine(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "suggest line", err)
		return
	}
	s, err := h.svc.Moves.SuggestBalancingLine(r.Context(), id)
	if err != nil {
		h.fail(w, r, "suggest line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSuggestionResponse(s))
}

func (h *Handler) createLine(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "create line", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, "create line", err)
		return
	}
	view, err := h.svc.Moves.CreateLine(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create line", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newLineViewResponse(view))
}

func (h *Handler) getLine(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "get line", err)
		return
	}
	view, err := h.svc.Moves.GetLine(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newLineViewResponse(view))
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "update line", err)
		return
	}
	var req linePatch
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "update line", err)
		return
	}
	upd, err := req.update()
	if err != nil {
		h.fail(w, r, "update line", err)
		return
	}
	view, err := h.svc.Moves.UpdateLine(r.Context(), id, upd)
	if err != nil {
		h.fail(w, r, "update line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newLineViewResponse(view))
}

func (h *Handler) removeLines(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, "remove lines", h.svc.Moves.RemoveLines)
}

func (h *Handler) copyLine(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, "copy line", err)
		return
	}
	var req copyLineRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "copy line", err)
		return
	}
	opts, err := req.options()
	if err != nil {
		h.fail(w, r, "copy line", err)
		return
	}
	view, err := h.svc.Moves.CopyLine(r.Context(), id, opts)
	if err != nil {
		h.fail(w, r, "copy line", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newLineViewResponse(view))
}

// lineViewResponse is a line with the fields it reads through from its move.
type lineViewResponse struct {
	lineResponse
	JournalID int64  `json:"journal_id"`
	PeriodID  int64  `json:"period_id"`
	Date      string `json:"date"`
	MoveState string `json:"move_state"`
}

func newLineViewResponse(v accounting.LineView) lineViewResponse {
	return lineViewResponse{
		lineResponse: newLineResponse(v.Line),
		JournalID:    v.Move.JournalID,
		PeriodID:     v.Move.PeriodID,
		Date:         v.Move.Date.Format(dateLayout),
		MoveState:    string(v.Move.State),
	}
}
