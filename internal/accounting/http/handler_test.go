package ledgerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journalperiods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/partners"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

type stubEnqueuer struct {
	got closing.CloseInput
}

func (s *stubEnqueuer) EnqueueClose(_ context.Context, in closing.CloseInput) (string, error) {
	s.got = in
	return "task-1", nil
}

type testServer struct {
	fx       *ledgertest.Fixture
	router   http.Handler
	enqueuer *stubEnqueuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fx := ledgertest.New(t)
	m := fx.Moves()
	enq := &stubEnqueuer{}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), Services{
		Periods:        fx.Periods,
		JournalPeriods: journalperiods.NewService(fx.Store),
		Moves:          m,
		Reconcile:      reconcile.NewService(m, fx.ReconcileSeq),
		Closing:        closing.NewService(m, 0),
		Partners:       partners.NewService(fx.Store),
		Enqueuer:       enq,
	})
	r := chi.NewRouter()
	r.Route("/ledger", h.MountRoutes)
	return &testServer{fx: fx, router: r, enqueuer: enq}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, "/ledger"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func (s *testServer) createMove(t *testing.T, periodID int64, lines ...map[string]any) moveResponse {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/moves", map[string]any{
		"journal_id": s.fx.General,
		"period_id":  periodID,
		"lines":      lines,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeBody[moveResponse](t, rr)
}

func line(accountID int64, debit, credit string) map[string]any {
	return map[string]any{"name": "line", "account_id": accountID, "debit": debit, "credit": credit}
}

func TestMoveLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	may := s.fx.Year2024.Month(time.May)

	move := s.createMove(t, may.ID, line(s.fx.Bank, "100", "0"), line(s.fx.Revenue, "0", "100"))
	assert.Equal(t, "GJ/0001", move.Name)
	assert.Equal(t, "2024-05-17", move.Date)
	require.Len(t, move.Lines, 2)
	for _, l := range move.Lines {
		assert.Equal(t, "valid", l.State)
	}

	rr := s.do(t, http.MethodPost, "/moves/post", map[string]any{"ids": []int64{move.ID}})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodGet, fmt.Sprintf("/moves/%d", move.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	posted := decodeBody[moveResponse](t, rr)
	assert.Equal(t, "posted", posted.State)
	assert.Equal(t, "2024/00001", posted.Reference)
	require.NotNil(t, posted.PostDate)
	assert.Equal(t, "2024-05-17", *posted.PostDate)

	rr = s.do(t, http.MethodPost, "/lines", map[string]any{
		"move_id": move.ID, "name": "late", "account_id": s.fx.Bank, "debit": "5",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	problem := decodeBody[httpx.ProblemDetail](t, rr)
	assert.Equal(t, "Modification Blocked", problem.Title)
}

func TestPostUnbalancedMoveIsUnprocessable(t *testing.T) {
	s := newTestServer(t)
	move := s.createMove(t, s.fx.Year2024.Month(time.May).ID, line(s.fx.Bank, "50", "0"))
	assert.Equal(t, "draft", move.Lines[0].State)

	rr := s.do(t, http.MethodPost, "/moves/post", map[string]any{"ids": []int64{move.ID}})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(t, http.MethodGet, fmt.Sprintf("/moves/%d/suggestion", move.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	suggestion := decodeBody[suggestionResponse](t, rr)
	assert.True(t, suggestion.Credit.Equal(ledgertest.Amount("50")))
}

func TestMalformedRequestsAreBadRequests(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "broken json", method: http.MethodPost, path: "/moves", body: "{"},
		{name: "missing journal", method: http.MethodPost, path: "/moves", body: map[string]any{"period_id": 1}},
		{name: "bad date", method: http.MethodPost, path: "/moves", body: map[string]any{"period_id": 1, "journal_id": 1, "date": "17/05/2024"}},
		{name: "bad id", method: http.MethodGet, path: "/moves/abc"},
		{name: "empty batch", method: http.MethodPost, path: "/moves/post", body: map[string]any{"ids": []int64{}}},
		{name: "unreconcile without ids", method: http.MethodPost, path: "/reconciliations/unreconcile", body: map[string]any{}},
		{name: "bad partner id", method: http.MethodGet, path: "/partners/balances?partner_id=x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestMissingRecordsAreNotFound(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/moves/999", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/periods/lookup?date=2030-01-01", nil).Code)

	rr := s.do(t, http.MethodGet, "/periods/lookup?date=2024-03-10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2024-03-01", decodeBody[periodResponse](t, rr).StartDate)
}

func TestOverlappingFiscalYearIsUnprocessable(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodPost, "/fiscal-years", map[string]any{
		"name": "Overlap", "code": "OV", "start_date": "2024-06-01", "end_date": "2025-05-31", "company_id": s.fx.CompanyID,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(t, http.MethodPost, "/fiscal-years", map[string]any{
		"name": "FY 2025", "code": "2025", "start_date": "2025-01-01", "end_date": "2025-12-31", "company_id": s.fx.CompanyID,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	fy := decodeBody[fiscalYearResponse](t, rr)

	rr = s.do(t, http.MethodPost, fmt.Sprintf("/fiscal-years/%d/periods", fy.ID), map[string]any{"interval_months": 3})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	quarters := decodeBody[[]periodResponse](t, rr)
	require.Len(t, quarters, 4)
	assert.Equal(t, "2025-10-01", quarters[3].StartDate)
	assert.Equal(t, "2025-12-31", quarters[3].EndDate)
}

func TestClosedJournalPeriodConflicts(t *testing.T) {
	s := newTestServer(t)
	may := s.fx.Year2024.Month(time.May)
	rr := s.do(t, http.MethodPost, "/journal-periods/close", map[string]any{"journal_id": s.fx.General, "period_id": may.ID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "close", decodeBody[journalPeriodResponse](t, rr).State)

	rr = s.do(t, http.MethodPost, "/moves", map[string]any{
		"journal_id": s.fx.General,
		"period_id":  may.ID,
		"lines":      []map[string]any{line(s.fx.Bank, "10", "0")},
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPost, "/journal-periods/reopen", map[string]any{"journal_id": s.fx.General, "period_id": may.ID})
	require.Equal(t, http.StatusOK, rr.Code)
	s.createMove(t, may.ID, line(s.fx.Bank, "10", "0"))
}

func TestReconcileAndPartnerBalances(t *testing.T) {
	s := newTestServer(t)
	may := s.fx.Year2024.Month(time.May)
	invoice := s.fx.Post(t, may, ledgertest.Today,
		ledgertest.Debit(s.fx.Receivable, "100").WithPartner(7),
		ledgertest.Credit(s.fx.Revenue, "100"))
	payment := s.fx.Post(t, may, ledgertest.Today,
		ledgertest.Debit(s.fx.Bank, "100"),
		ledgertest.Credit(s.fx.Receivable, "100").WithPartner(7))

	rr := s.do(t, http.MethodGet, "/partners/balances?partner_id=7&fiscal_year_id="+fmt.Sprint(s.fx.Year2024.FiscalYear.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	balances := decodeBody[[]partners.Balance](t, rr)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].Debit.IsZero())

	ids := append(linesOn(invoice.Lines, s.fx.Receivable), linesOn(payment.Lines, s.fx.Receivable)...)
	require.Len(t, ids, 2)
	rr = s.do(t, http.MethodPost, "/reconciliations", map[string]any{"line_ids": ids})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rec := decodeBody[reconciliationResponse](t, rr)
	assert.Equal(t, "REC/0001", rec.Name)
	assert.ElementsMatch(t, ids, rec.LineIDs)

	rr = s.do(t, http.MethodPost, "/reconciliations", map[string]any{"line_ids": ids})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPost, "/reconciliations/unreconcile", map[string]any{"line_ids": ids[:1]})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, fmt.Sprintf("/reconciliations/%d", rec.ID), nil).Code)
}

func linesOn(lines []accounting.Line, accountID int64) []int64 {
	var out []int64
	for _, l := range lines {
		if l.AccountID == accountID {
			out = append(out, l.ID)
		}
	}
	return out
}

func TestCloseFiscalYearAsync(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{
		"fiscal_year_id":      s.fx.Year2024.FiscalYear.ID,
		"dest_fiscal_year_id": 99,
		"dest_period_id":      98,
		"dest_journal_id":     s.fx.Opening,
		"entries_name":        "Opening",
	}
	rr := s.do(t, http.MethodPost, "/fiscal-years/close?async=true", body)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, "task-1", decodeBody[enqueuedResponse](t, rr).TaskID)
	assert.Equal(t, int64(98), s.enqueuer.got.DestPeriodID)

	rr = s.do(t, http.MethodPost, "/fiscal-years/close", body)
	assert.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
}
