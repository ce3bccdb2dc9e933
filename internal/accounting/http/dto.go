package ledgerhttp

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/closing"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/moves"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", httpx.ErrBadRequest, field, err)
	}
	return t, nil
}

func parseOptionalDate(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseDate(field, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

type idsRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

type fiscalYearRequest struct {
	Name               string `json:"name" validate:"required,max=128"`
	Code               string `json:"code" validate:"required,max=32"`
	StartDate          string `json:"start_date" validate:"required"`
	EndDate            string `json:"end_date" validate:"required"`
	PostMoveSequenceID int64  `json:"post_move_sequence_id" validate:"gte=0"`
	CompanyID          int64  `json:"company_id" validate:"gte=0"`
}

func (r fiscalYearRequest) input() (periods.FiscalYearInput, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return periods.FiscalYearInput{}, err
	}
	end, err := parseDate("end_date", r.EndDate)
	if err != nil {
		return periods.FiscalYearInput{}, err
	}
	return periods.FiscalYearInput{
		Name:               r.Name,
		Code:               r.Code,
		StartDate:          start,
		EndDate:            end,
		PostMoveSequenceID: r.PostMoveSequenceID,
		CompanyID:          r.CompanyID,
	}, nil
}

type fiscalYearPatch struct {
	Name               *string `json:"name" validate:"omitempty,max=128"`
	Code               *string `json:"code" validate:"omitempty,max=32"`
	StartDate          *string `json:"start_date"`
	EndDate            *string `json:"end_date"`
	PostMoveSequenceID *int64  `json:"post_move_sequence_id" validate:"omitempty,gt=0"`
}

func (r fiscalYearPatch) update() (periods.FiscalYearUpdate, error) {
	start, err := parseOptionalDate("start_date", r.StartDate)
	if err != nil {
		return periods.FiscalYearUpdate{}, err
	}
	end, err := parseOptionalDate("end_date", r.EndDate)
	if err != nil {
		return periods.FiscalYearUpdate{}, err
	}
	return periods.FiscalYearUpdate{
		Name:               r.Name,
		Code:               r.Code,
		StartDate:          start,
		EndDate:            end,
		PostMoveSequenceID: r.PostMoveSequenceID,
	}, nil
}

type fiscalYearResponse struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Code               string `json:"code"`
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`
	State              string `json:"state"`
	PostMoveSequenceID int64  `json:"post_move_sequence_id"`
	CompanyID          int64  `json:"company_id"`
}

func newFiscalYearResponse(fy accounting.FiscalYear) fiscalYearResponse {
	return fiscalYearResponse{
		ID:                 fy.ID,
		Name:               fy.Name,
		Code:               fy.Code,
		StartDate:          fy.StartDate.Format(dateLayout),
		EndDate:            fy.EndDate.Format(dateLayout),
		State:              string(fy.State),
		PostMoveSequenceID: fy.PostMoveSequenceID,
		CompanyID:          fy.CompanyID,
	}
}

type generatePeriodsRequest struct {
	IntervalMonths int `json:"interval_months" validate:"required,gt=0,lte=12"`
}

type periodRequest struct {
	Name               string `json:"name" validate:"required,max=128"`
	Code               string `json:"code" validate:"max=32"`
	FiscalYearID       int64  `json:"fiscal_year_id" validate:"required,gt=0"`
	StartDate          string `json:"start_date" validate:"required"`
	EndDate            string `json:"end_date" validate:"required"`
	PostMoveSequenceID int64  `json:"post_move_sequence_id" validate:"gte=0"`
}

func (r periodRequest) input() (periods.PeriodInput, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return periods.PeriodInput{}, err
	}
	end, err := parseDate("end_date", r.EndDate)
	if err != nil {
		return periods.PeriodInput{}, err
	}
	return periods.PeriodInput{
		Name:               r.Name,
		Code:               r.Code,
		FiscalYearID:       r.FiscalYearID,
		StartDate:          start,
		EndDate:            end,
		PostMoveSequenceID: r.PostMoveSequenceID,
	}, nil
}

type periodPatch struct {
	Name               *string `json:"name" validate:"omitempty,max=128"`
	Code               *string `json:"code" validate:"omitempty,max=32"`
	StartDate          *string `json:"start_date"`
	EndDate            *string `json:"end_date"`
	PostMoveSequenceID *int64  `json:"post_move_sequence_id" validate:"omitempty,gt=0"`
}

func (r periodPatch) update() (periods.PeriodUpdate, error) {
	start, err := parseOptionalDate("start_date", r.StartDate)
	if err != nil {
		return periods.PeriodUpdate{}, err
	}
	end, err := parseOptionalDate("end_date", r.EndDate)
	if err != nil {
		return periods.PeriodUpdate{}, err
	}
	return periods.PeriodUpdate{
		Name:               r.Name,
		Code:               r.Code,
		StartDate:          start,
		EndDate:            end,
		PostMoveSequenceID: r.PostMoveSequenceID,
	}, nil
}

type periodResponse struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Code               string `json:"code"`
	FiscalYearID       int64  `json:"fiscal_year_id"`
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`
	State              string `json:"state"`
	PostMoveSequenceID int64  `json:"post_move_sequence_id"`
}

func newPeriodResponse(p accounting.Period) periodResponse {
	return periodResponse{
		ID:                 p.ID,
		Name:               p.Name,
		Code:               p.Code,
		FiscalYearID:       p.FiscalYearID,
		StartDate:          p.StartDate.Format(dateLayout),
		EndDate:            p.EndDate.Format(dateLayout),
		State:              string(p.State),
		PostMoveSequenceID: p.PostMoveSequenceID,
	}
}

type journalPeriodRequest struct {
	JournalID int64 `json:"journal_id" validate:"required,gt=0"`
	PeriodID  int64 `json:"period_id" validate:"required,gt=0"`
}

type journalPeriodResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	JournalID int64  `json:"journal_id"`
	PeriodID  int64  `json:"period_id"`
	State     string `json:"state"`
}

func newJournalPeriodResponse(jp accounting.JournalPeriod) journalPeriodResponse {
	return journalPeriodResponse{
		ID:        jp.ID,
		Name:      jp.Name,
		JournalID: jp.JournalID,
		PeriodID:  jp.PeriodID,
		State:     string(jp.State),
	}
}

type taxLineDTO struct {
	CodeID int64           `json:"code_id" validate:"gt=0"`
	Amount decimal.Decimal `json:"amount"`
}

func taxLinesInput(in []taxLineDTO) []accounting.TaxLine {
	if in == nil {
		return nil
	}
	out := make([]accounting.TaxLine, 0, len(in))
	for _, tl := range in {
		out = append(out, accounting.TaxLine{CodeID: tl.CodeID, Amount: tl.Amount})
	}
	return out
}

type lineRequest struct {
	MoveID               int64            `json:"move_id" validate:"gte=0"`
	JournalID            int64            `json:"journal_id" validate:"gte=0"`
	PeriodID             int64            `json:"period_id" validate:"gte=0"`
	Date                 *string          `json:"date"`
	Name                 string           `json:"name" validate:"required,max=256"`
	Reference            string           `json:"reference" validate:"max=64"`
	Debit                decimal.Decimal  `json:"debit"`
	Credit               decimal.Decimal  `json:"credit"`
	AccountID            int64            `json:"account_id" validate:"required,gt=0"`
	PartnerID            *int64           `json:"partner_id" validate:"omitempty,gt=0"`
	MaturityDate         *string          `json:"maturity_date"`
	SecondCurrency       string           `json:"second_currency" validate:"omitempty,len=3"`
	AmountSecondCurrency *decimal.Decimal `json:"amount_second_currency"`
	Blocked              bool             `json:"blocked"`
	TaxLines             []taxLineDTO     `json:"tax_lines" validate:"omitempty,dive"`
}

func (r lineRequest) input() (moves.LineInput, error) {
	date, err := parseOptionalDate("date", r.Date)
	if err != nil {
		return moves.LineInput{}, err
	}
	maturity, err := parseOptionalDate("maturity_date", r.MaturityDate)
	if err != nil {
		return moves.LineInput{}, err
	}
	return moves.LineInput{
		MoveID:               r.MoveID,
		JournalID:            r.JournalID,
		PeriodID:             r.PeriodID,
		Date:                 date,
		Name:                 r.Name,
		Reference:            r.Reference,
		Debit:                r.Debit,
		Credit:               r.Credit,
		AccountID:            r.AccountID,
		PartnerID:            r.PartnerID,
		MaturityDate:         maturity,
		SecondCurrency:       r.SecondCurrency,
		AmountSecondCurrency: r.AmountSecondCurrency,
		Blocked:              r.Blocked,
		TaxLines:             taxLinesInput(r.TaxLines),
	}, nil
}

type linePatch struct {
	MoveID               *int64           `json:"move_id" validate:"omitempty,gt=0"`
	JournalID            *int64           `json:"journal_id" validate:"omitempty,gt=0"`
	PeriodID             *int64           `json:"period_id" validate:"omitempty,gt=0"`
	Date                 *string          `json:"date"`
	Name                 *string          `json:"name" validate:"omitempty,max=256"`
	Reference            *string          `json:"reference" validate:"omitempty,max=64"`
	Debit                *decimal.Decimal `json:"debit"`
	Credit               *decimal.Decimal `json:"credit"`
	AccountID            *int64           `json:"account_id" validate:"omitempty,gt=0"`
	PartnerID            *int64           `json:"partner_id" validate:"omitempty,gt=0"`
	MaturityDate         *string          `json:"maturity_date"`
	SecondCurrency       *string          `json:"second_currency" validate:"omitempty,len=3"`
	AmountSecondCurrency *decimal.Decimal `json:"amount_second_currency"`
	Blocked              *bool            `json:"blocked"`
	TaxLines             *[]taxLineDTO    `json:"tax_lines"`
}

func (r linePatch) update() (moves.LineUpdate, error) {
	date, err := parseOptionalDate("date", r.Date)
	if err != nil {
		return moves.LineUpdate{}, err
	}
	maturity, err := parseOptionalDate("maturity_date", r.MaturityDate)
	if err != nil {
		return moves.LineUpdate{}, err
	}
	upd := moves.LineUpdate{
		MoveID:               r.MoveID,
		JournalID:            r.JournalID,
		PeriodID:             r.PeriodID,
		Date:                 date,
		Name:                 r.Name,
		Reference:            r.Reference,
		Debit:                r.Debit,
		Credit:               r.Credit,
		AccountID:            r.AccountID,
		PartnerID:            r.PartnerID,
		MaturityDate:         maturity,
		SecondCurrency:       r.SecondCurrency,
		AmountSecondCurrency: r.AmountSecondCurrency,
		Blocked:              r.Blocked,
	}
	if r.TaxLines != nil {
		taxes := taxLinesInput(*r.TaxLines)
		if taxes == nil {
			taxes = []accounting.TaxLine{}
		}
		upd.TaxLines = &taxes
	}
	return upd, nil
}

type copyLineRequest struct {
	MoveID       int64   `json:"move_id" validate:"gte=0"`
	JournalID    int64   `json:"journal_id" validate:"gte=0"`
	PeriodID     int64   `json:"period_id" validate:"gte=0"`
	Date         *string `json:"date"`
	Name         string  `json:"name" validate:"max=256"`
	DropTaxLines bool    `json:"drop_tax_lines"`
}

func (r copyLineRequest) options() (moves.CopyOptions, error) {
	date, err := parseOptionalDate("date", r.Date)
	if err != nil {
		return moves.CopyOptions{}, err
	}
	return moves.CopyOptions{
		MoveID:       r.MoveID,
		JournalID:    r.JournalID,
		PeriodID:     r.PeriodID,
		Date:         date,
		Name:         r.Name,
		DropTaxLines: r.DropTaxLines,
	}, nil
}

type lineResponse struct {
	ID                   int64            `json:"id"`
	MoveID               int64            `json:"move_id"`
	Name                 string           `json:"name"`
	Reference            string           `json:"reference,omitempty"`
	Debit                decimal.Decimal  `json:"debit"`
	Credit               decimal.Decimal  `json:"credit"`
	AccountID            int64            `json:"account_id"`
	PartnerID            *int64           `json:"partner_id,omitempty"`
	MaturityDate         *string          `json:"maturity_date,omitempty"`
	SecondCurrency       string           `json:"second_currency,omitempty"`
	AmountSecondCurrency *decimal.Decimal `json:"amount_second_currency,omitempty"`
	Blocked              bool             `json:"blocked"`
	State                string           `json:"state"`
	ReconciliationID     *int64           `json:"reconciliation_id,omitempty"`
	TaxLines             []taxLineDTO     `json:"tax_lines,omitempty"`
}

func newLineResponse(l accounting.Line) lineResponse {
	out := lineResponse{
		ID:                   l.ID,
		MoveID:               l.MoveID,
		Name:                 l.Name,
		Reference:            l.Reference,
		Debit:                l.Debit,
		Credit:               l.Credit,
		AccountID:            l.AccountID,
		PartnerID:            l.PartnerID,
		MaturityDate:         formatDate(l.MaturityDate),
		SecondCurrency:       l.SecondCurrency,
		AmountSecondCurrency: l.AmountSecondCurrency,
		Blocked:              l.Blocked,
		State:                string(l.State),
		ReconciliationID:     l.ReconciliationID,
	}
	for _, tl := range l.TaxLines {
		out.TaxLines = append(out.TaxLines, taxLineDTO{CodeID: tl.CodeID, Amount: tl.Amount})
	}
	return out
}

type moveRequest struct {
	Name      string        `json:"name" validate:"max=64"`
	PeriodID  int64         `json:"period_id" validate:"required,gt=0"`
	JournalID int64         `json:"journal_id" validate:"required,gt=0"`
	Date      *string       `json:"date"`
	Lines     []lineRequest `json:"lines" validate:"omitempty,dive"`
}

func (r moveRequest) input() (moves.MoveInput, error) {
	date, err := parseOptionalDate("date", r.Date)
	if err != nil {
		return moves.MoveInput{}, err
	}
	in := moves.MoveInput{
		Name:      r.Name,
		PeriodID:  r.PeriodID,
		JournalID: r.JournalID,
		Date:      date,
	}
	for _, lr := range r.Lines {
		line, err := lr.input()
		if err != nil {
			return moves.MoveInput{}, err
		}
		in.Lines = append(in.Lines, line)
	}
	return in, nil
}

type movePatch struct {
	Name      *string `json:"name" validate:"omitempty,max=64"`
	PeriodID  *int64  `json:"period_id" validate:"omitempty,gt=0"`
	JournalID *int64  `json:"journal_id" validate:"omitempty,gt=0"`
	Date      *string `json:"date"`
}

func (r movePatch) update() (moves.MoveUpdate, error) {
	date, err := parseOptionalDate("date", r.Date)
	if err != nil {
		return moves.MoveUpdate{}, err
	}
	return moves.MoveUpdate{Name: r.Name, PeriodID: r.PeriodID, JournalID: r.JournalID, Date: date}, nil
}

type moveResponse struct {
	ID                int64          `json:"id"`
	Name              string         `json:"name"`
	Reference         string         `json:"reference,omitempty"`
	PeriodID          int64          `json:"period_id"`
	JournalID         int64          `json:"journal_id"`
	Date              string         `json:"date"`
	PostDate          *string        `json:"post_date,omitempty"`
	State             string         `json:"state"`
	CentralisedLineID *int64         `json:"centralised_line_id,omitempty"`
	Lines             []lineResponse `json:"lines"`
}

func newMoveResponse(d moves.MoveDetail) moveResponse {
	m := d.Move
	out := moveResponse{
		ID:                m.ID,
		Name:              m.Name,
		Reference:         m.Reference,
		PeriodID:          m.PeriodID,
		JournalID:         m.JournalID,
		Date:              m.Date.Format(dateLayout),
		PostDate:          formatDate(m.PostDate),
		State:             string(m.State),
		CentralisedLineID: m.CentralisedLineID,
		Lines:             make([]lineResponse, 0, len(d.Lines)),
	}
	for _, l := range d.Lines {
		out.Lines = append(out.Lines, newLineResponse(l))
	}
	return out
}

type suggestionResponse struct {
	MoveID    int64           `json:"move_id"`
	Name      string          `json:"name"`
	Reference string          `json:"reference,omitempty"`
	PartnerID *int64          `json:"partner_id,omitempty"`
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balanced  bool            `json:"balanced"`
}

func newSuggestionResponse(s moves.Suggestion) suggestionResponse {
	return suggestionResponse{
		MoveID:    s.MoveID,
		Name:      s.Name,
		Reference: s.Reference,
		PartnerID: s.PartnerID,
		AccountID: s.AccountID,
		Debit:     s.Debit,
		Credit:    s.Credit,
		Balanced:  s.Balanced,
	}
}

type writeOffRequest struct {
	JournalID int64   `json:"journal_id" validate:"required,gt=0"`
	PeriodID  int64   `json:"period_id" validate:"required,gt=0"`
	AccountID int64   `json:"account_id" validate:"required,gt=0"`
	Date      *string `json:"date"`
}

type reconcileRequest struct {
	LineIDs  []int64          `json:"line_ids" validate:"required,min=1,dive,gt=0"`
	WriteOff *writeOffRequest `json:"write_off" validate:"omitempty"`
}

func (r reconcileRequest) writeOff() (*reconcile.WriteOff, error) {
	if r.WriteOff == nil {
		return nil, nil
	}
	date, err := parseOptionalDate("write_off.date", r.WriteOff.Date)
	if err != nil {
		return nil, err
	}
	return &reconcile.WriteOff{
		JournalID: r.WriteOff.JournalID,
		PeriodID:  r.WriteOff.PeriodID,
		AccountID: r.WriteOff.AccountID,
		Date:      date,
	}, nil
}

type unreconcileRequest struct {
	IDs     []int64 `json:"ids" validate:"omitempty,dive,gt=0"`
	LineIDs []int64 `json:"line_ids" validate:"omitempty,dive,gt=0"`
}

type reconciliationResponse struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	LineIDs []int64 `json:"line_ids"`
}

func newReconciliationResponse(r accounting.Reconciliation) reconciliationResponse {
	ids := r.LineIDs
	if ids == nil {
		ids = []int64{}
	}
	return reconciliationResponse{ID: r.ID, Name: r.Name, LineIDs: ids}
}

type closeResponse struct {
	FiscalYearID int64          `json:"fiscal_year_id"`
	MoveID       int64          `json:"move_id"`
	CloseLineIDs []int64        `json:"close_line_ids"`
	Carried      map[string]int `json:"carried"`
}

func newCloseResponse(res closing.CloseResult) closeResponse {
	out := closeResponse{
		FiscalYearID: res.FiscalYearID,
		MoveID:       res.MoveID,
		CloseLineIDs: res.CloseLineIDs,
		Carried:      make(map[string]int, len(res.Carried)),
	}
	if out.CloseLineIDs == nil {
		out.CloseLineIDs = []int64{}
	}
	for method, n := range res.Carried {
		out.Carried[string(method)] = n
	}
	return out
}

type enqueuedResponse struct {
	TaskID string `json:"task_id"`
}
