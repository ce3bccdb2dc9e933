// Package memory keeps the ledger in process memory. Each transaction works
// on a private copy that replaces the committed state only when the callback
// succeeds, so a failed batch leaves nothing behind.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Sequence is a numbering sequence.
type Sequence struct {
	ID      int64
	Prefix  string
	Padding int
	Next    int64
}

type state struct {
	ids             map[string]int64
	companies       map[int64]accounting.Company
	journals        map[int64]accounting.Journal
	accounts        map[int64]accounting.Account
	sequences       map[int64]Sequence
	fiscalYears     map[int64]accounting.FiscalYear
	closeLines      map[int64][]int64
	periods         map[int64]accounting.Period
	journalPeriods  map[int64]accounting.JournalPeriod
	moves           map[int64]accounting.Move
	lines           map[int64]accounting.Line
	reconciliations map[int64]accounting.Reconciliation
}

func newState() *state {
	return &state{
		ids:             make(map[string]int64),
		companies:       make(map[int64]accounting.Company),
		journals:        make(map[int64]accounting.Journal),
		accounts:        make(map[int64]accounting.Account),
		sequences:       make(map[int64]Sequence),
		fiscalYears:     make(map[int64]accounting.FiscalYear),
		closeLines:      make(map[int64][]int64),
		periods:         make(map[int64]accounting.Period),
		journalPeriods:  make(map[int64]accounting.JournalPeriod),
		moves:           make(map[int64]accounting.Move),
		lines:           make(map[int64]accounting.Line),
		reconciliations: make(map[int64]accounting.Reconciliation),
	}
}

func (s *state) clone() *state {
	c := &state{
		ids:             maps.Clone(s.ids),
		companies:       maps.Clone(s.companies),
		journals:        maps.Clone(s.journals),
		accounts:        maps.Clone(s.accounts),
		sequences:       maps.Clone(s.sequences),
		fiscalYears:     maps.Clone(s.fiscalYears),
		closeLines:      make(map[int64][]int64, len(s.closeLines)),
		periods:         maps.Clone(s.periods),
		journalPeriods:  maps.Clone(s.journalPeriods),
		moves:           maps.Clone(s.moves),
		lines:           maps.Clone(s.lines),
		reconciliations: maps.Clone(s.reconciliations),
	}
	for id, lineIDs := range s.closeLines {
		c.closeLines[id] = slices.Clone(lineIDs)
	}
	return c
}

func (s *state) nextID(table string) int64 {
	s.ids[table]++
	return s.ids[table]
}

// Store is an in-memory accounting.Store. Transactions are serialized.
// Taxes sit outside the transactional state so that the tax engine can read
// them while a transaction holds the store.
type Store struct {
	mu   sync.Mutex
	data *state

	taxMu  sync.RWMutex
	taxes  map[int64]accounting.Tax
	taxSeq int64
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState(), taxes: make(map[int64]accounting.Tax)}
}

// WithTx runs fn against a private copy of the ledger and commits it when fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

// AddCompany seeds a company and returns its id.
func (s *Store) AddCompany(c accounting.Company) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.data.nextID("company")
	}
	s.data.companies[c.ID] = c
	return c.ID
}

// AddJournal seeds a journal and returns its id.
func (s *Store) AddJournal(j accounting.Journal) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == 0 {
		j.ID = s.data.nextID("journal")
	}
	s.data.journals[j.ID] = j
	return j.ID
}

// AddAccount seeds an account and returns its id.
func (s *Store) AddAccount(a accounting.Account) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.data.nextID("account")
	}
	if a.CloseMethod == "" {
		a.CloseMethod = accounting.CloseMethodNone
	}
	a.TaxIDs = slices.Clone(a.TaxIDs)
	s.data.accounts[a.ID] = a
	return a.ID
}

// AddTax seeds a tax and returns its id.
func (s *Store) AddTax(t accounting.Tax) int64 {
	s.taxMu.Lock()
	defer s.taxMu.Unlock()
	if t.ID == 0 {
		s.taxSeq++
		t.ID = s.taxSeq
	}
	s.taxes[t.ID] = t
	return t.ID
}

// AddSequence seeds a numbering sequence and returns its id.
func (s *Store) AddSequence(seq Sequence) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq.ID == 0 {
		seq.ID = s.data.nextID("sequence")
	}
	if seq.Next == 0 {
		seq.Next = 1
	}
	s.data.sequences[seq.ID] = seq
	return seq.ID
}

// Taxes returns the taxes with the given ids in input order.
func (s *Store) Taxes(_ context.Context, ids []int64) ([]accounting.Tax, error) {
	s.taxMu.RLock()
	defer s.taxMu.RUnlock()
	out := make([]accounting.Tax, 0, len(ids))
	for _, id := range ids {
		t, ok := s.taxes[id]
		if !ok {
			return nil, shared.NotFound("tax", id)
		}
		out = append(out, t)
	}
	return out, nil
}

type tx struct {
	st *state
}

func (t *tx) GetCompany(_ context.Context, id int64) (accounting.Company, error) {
	c, ok := t.st.companies[id]
	if !ok {
		return accounting.Company{}, shared.NotFound("company", id)
	}
	return c, nil
}

func (t *tx) GetJournal(_ context.Context, id int64) (accounting.Journal, error) {
	j, ok := t.st.journals[id]
	if !ok {
		return accounting.Journal{}, shared.NotFound("journal", id)
	}
	return j, nil
}

func (t *tx) GetAccount(_ context.Context, id int64) (accounting.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return accounting.Account{}, shared.NotFound("account", id)
	}
	return a, nil
}

func (t *tx) ListAccounts(context.Context) ([]accounting.Account, error) {
	out := slices.Collect(maps.Values(t.st.accounts))
	slices.SortFunc(out, func(a, b accounting.Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) NextValue(_ context.Context, sequenceID int64) (string, error) {
	seq, ok := t.st.sequences[sequenceID]
	if !ok {
		return "", shared.NotFound("sequence", sequenceID)
	}
	value := fmt.Sprintf("%s%0*d", seq.Prefix, seq.Padding, seq.Next)
	seq.Next++
	t.st.sequences[sequenceID] = seq
	return value, nil
}

func (t *tx) GetFiscalYear(_ context.Context, id int64) (accounting.FiscalYear, error) {
	fy, ok := t.st.fiscalYears[id]
	if !ok {
		return accounting.FiscalYear{}, shared.NotFound("fiscal year", id)
	}
	return fy, nil
}

func (t *tx) ListFiscalYears(_ context.Context, q accounting.FiscalYearQuery) ([]accounting.FiscalYear, error) {
	var out []accounting.FiscalYear
	for _, fy := range t.st.fiscalYears {
		switch {
		case q.ExcludeID != 0 && fy.ID == q.ExcludeID:
			continue
		case q.State != "" && fy.State != q.State:
			continue
		case q.ContainsDate != nil && !fy.Contains(*q.ContainsDate):
			continue
		case q.Overlapping != nil && !q.Overlapping.Overlaps(fy.StartDate, fy.EndDate):
			continue
		case q.PostMoveSequenceID != 0 && fy.PostMoveSequenceID != q.PostMoveSequenceID:
			continue
		}
		out = append(out, fy)
	}
	slices.SortFunc(out, func(a, b accounting.FiscalYear) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) InsertFiscalYear(_ context.Context, fy *accounting.FiscalYear) error {
	fy.ID = t.st.nextID("fiscal_year")
	t.st.fiscalYears[fy.ID] = *fy
	return nil
}

func (t *tx) UpdateFiscalYear(_ context.Context, fy accounting.FiscalYear) error {
	if _, ok := t.st.fiscalYears[fy.ID]; !ok {
		return shared.NotFound("fiscal year", fy.ID)
	}
	t.st.fiscalYears[fy.ID] = fy
	return nil
}

func (t *tx) SetFiscalYearState(_ context.Context, ids []int64, state accounting.State) error {
	for _, id := range ids {
		fy, ok := t.st.fiscalYears[id]
		if !ok {
			return shared.NotFound("fiscal year", id)
		}
		fy.State = state
		t.st.fiscalYears[id] = fy
	}
	return nil
}

func (t *tx) AddCloseLines(_ context.Context, fiscalYearID int64, lineIDs []int64) error {
	t.st.closeLines[fiscalYearID] = append(t.st.closeLines[fiscalYearID], lineIDs...)
	return nil
}

func (t *tx) CloseLineIDs(_ context.Context, fiscalYearID int64) ([]int64, error) {
	return slices.Clone(t.st.closeLines[fiscalYearID]), nil
}

func (t *tx) ClearCloseLines(_ context.Context, fiscalYearID int64) error {
	delete(t.st.closeLines, fiscalYearID)
	return nil
}

func (t *tx) GetPeriod(_ context.Context, id int64) (accounting.Period, error) {
	p, ok := t.st.periods[id]
	if !ok {
		return accounting.Period{}, shared.NotFound("period", id)
	}
	return p, nil
}

func (t *tx) ListPeriods(_ context.Context, q accounting.PeriodQuery) ([]accounting.Period, error) {
	var out []accounting.Period
	for _, p := range t.st.periods {
		switch {
		case q.ExcludeID != 0 && p.ID == q.ExcludeID:
			continue
		case len(q.FiscalYearIDs) > 0 && !slices.Contains(q.FiscalYearIDs, p.FiscalYearID):
			continue
		case q.ContainsDate != nil && !p.Contains(*q.ContainsDate):
			continue
		case q.Overlapping != nil && !q.Overlapping.Overlaps(p.StartDate, p.EndDate):
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b accounting.Period) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) InsertPeriod(_ context.Context, p *accounting.Period) error {
	p.ID = t.st.nextID("period")
	t.st.periods[p.ID] = *p
	return nil
}

func (t *tx) UpdatePeriod(_ context.Context, p accounting.Period) error {
	if _, ok := t.st.periods[p.ID]; !ok {
		return shared.NotFound("period", p.ID)
	}
	t.st.periods[p.ID] = p
	return nil
}

func (t *tx) SetPeriodState(_ context.Context, ids []int64, state accounting.State) error {
	for _, id := range ids {
		p, ok := t.st.periods[id]
		if !ok {
			return shared.NotFound("period", id)
		}
		p.State = state
		t.st.periods[id] = p
	}
	return nil
}

func (t *tx) GetJournalPeriod(_ context.Context, journalID, periodID int64) (accounting.JournalPeriod, bool, error) {
	for _, jp := range t.st.journalPeriods {
		if jp.JournalID == journalID && jp.PeriodID == periodID {
			return jp, true, nil
		}
	}
	return accounting.JournalPeriod{}, false, nil
}

func (t *tx) EnsureJournalPeriod(ctx context.Context, jp accounting.JournalPeriod) (accounting.JournalPeriod, error) {
	existing, ok, err := t.GetJournalPeriod(ctx, jp.JournalID, jp.PeriodID)
	if err != nil || ok {
		return existing, err
	}
	jp.ID = t.st.nextID("journal_period")
	t.st.journalPeriods[jp.ID] = jp
	return jp, nil
}

func (t *tx) SetJournalPeriodState(_ context.Context, id int64, state accounting.State) error {
	jp, ok := t.st.journalPeriods[id]
	if !ok {
		return shared.NotFound("journal period", id)
	}
	jp.State = state
	t.st.journalPeriods[id] = jp
	return nil
}

func (t *tx) GetMove(_ context.Context, id int64) (accounting.Move, error) {
	m, ok := t.st.moves[id]
	if !ok {
		return accounting.Move{}, shared.NotFound("move", id)
	}
	return m, nil
}

func (t *tx) ListMoves(_ context.Context, q accounting.MoveQuery) ([]accounting.Move, error) {
	var out []accounting.Move
	for _, m := range t.st.moves {
		switch {
		case len(q.PeriodIDs) > 0 && !slices.Contains(q.PeriodIDs, m.PeriodID):
			continue
		case q.JournalID != 0 && m.JournalID != q.JournalID:
			continue
		case q.State != "" && m.State != q.State:
			continue
		case q.NotState != "" && m.State == q.NotState:
			continue
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b accounting.Move) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) InsertMove(_ context.Context, m *accounting.Move) error {
	m.ID = t.st.nextID("move")
	t.st.moves[m.ID] = *m
	return nil
}

func (t *tx) UpdateMove(_ context.Context, m accounting.Move) error {
	if _, ok := t.st.moves[m.ID]; !ok {
		return shared.NotFound("move", m.ID)
	}
	t.st.moves[m.ID] = m
	return nil
}

func (t *tx) DeleteMove(_ context.Context, id int64) error {
	if _, ok := t.st.moves[id]; !ok {
		return shared.NotFound("move", id)
	}
	var lineIDs []int64
	for _, l := range t.st.lines {
		if l.MoveID == id {
			lineIDs = append(lineIDs, l.ID)
		}
	}
	t.deleteLines(lineIDs)
	delete(t.st.moves, id)
	return nil
}

func (t *tx) GetLine(_ context.Context, id int64) (accounting.Line, error) {
	l, ok := t.st.lines[id]
	if !ok {
		return accounting.Line{}, shared.NotFound("line", id)
	}
	return l, nil
}

func (t *tx) ListLines(_ context.Context, q accounting.LineQuery) ([]accounting.Line, error) {
	var out []accounting.Line
	for _, l := range t.st.lines {
		switch {
		case len(q.IDs) > 0 && !slices.Contains(q.IDs, l.ID):
			continue
		case len(q.MoveIDs) > 0 && !slices.Contains(q.MoveIDs, l.MoveID):
			continue
		case len(q.PeriodIDs) > 0 && !slices.Contains(q.PeriodIDs, t.st.moves[l.MoveID].PeriodID):
			continue
		case q.AccountID != 0 && l.AccountID != q.AccountID:
			continue
		case q.ReconciliationID != 0 && (l.ReconciliationID == nil || *l.ReconciliationID != q.ReconciliationID):
			continue
		case q.Unreconciled && l.ReconciliationID != nil:
			continue
		}
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b accounting.Line) int { return cmp.Compare(a.ID, b.ID) })
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (t *tx) InsertLine(_ context.Context, l *accounting.Line) error {
	if _, ok := t.st.moves[l.MoveID]; !ok {
		return shared.NotFound("move", l.MoveID)
	}
	l.ID = t.st.nextID("line")
	stored := *l
	stored.TaxLines = slices.Clone(l.TaxLines)
	t.st.lines[l.ID] = stored
	return nil
}

func (t *tx) UpdateLine(_ context.Context, l accounting.Line) error {
	if _, ok := t.st.lines[l.ID]; !ok {
		return shared.NotFound("line", l.ID)
	}
	l.TaxLines = slices.Clone(l.TaxLines)
	t.st.lines[l.ID] = l
	return nil
}

func (t *tx) DeleteLines(_ context.Context, ids []int64) error {
	for _, id := range ids {
		if _, ok := t.st.lines[id]; !ok {
			return shared.NotFound("line", id)
		}
	}
	t.deleteLines(ids)
	return nil
}

// deleteLines mirrors the foreign keys of the SQL schema: close line entries
// cascade and centralised counterpart references are nulled.
func (t *tx) deleteLines(ids []int64) {
	for _, id := range ids {
		delete(t.st.lines, id)
	}
	for fyID, lineIDs := range t.st.closeLines {
		t.st.closeLines[fyID] = slices.DeleteFunc(lineIDs, func(id int64) bool { return slices.Contains(ids, id) })
	}
	for id, m := range t.st.moves {
		if m.CentralisedLineID != nil && slices.Contains(ids, *m.CentralisedLineID) {
			m.CentralisedLineID = nil
			t.st.moves[id] = m
		}
	}
}

func (t *tx) SetLineState(_ context.Context, ids []int64, state accounting.LineState) error {
	for _, id := range ids {
		l, ok := t.st.lines[id]
		if !ok {
			return shared.NotFound("line", id)
		}
		l.State = state
		t.st.lines[id] = l
	}
	return nil
}

func (t *tx) SetLinesReconciliation(_ context.Context, ids []int64, reconciliationID *int64) error {
	for _, id := range ids {
		l, ok := t.st.lines[id]
		if !ok {
			return shared.NotFound("line", id)
		}
		if reconciliationID != nil {
			rid := *reconciliationID
			l.ReconciliationID = &rid
		} else {
			l.ReconciliationID = nil
		}
		t.st.lines[id] = l
	}
	return nil
}

func (t *tx) matches(l accounting.Line, f accounting.LineFilter) bool {
	move := t.st.moves[l.MoveID]
	return f.Match(l, move, t.st.periods[move.PeriodID])
}

func (t *tx) AccountBalance(_ context.Context, accountID int64, f accounting.LineFilter) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, l := range t.st.lines {
		if l.AccountID == accountID && t.matches(l, f) {
			total = total.Add(l.Net())
		}
	}
	return total, nil
}

func (t *tx) PartnerBalances(_ context.Context, q accounting.PartnerBalanceQuery) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal)
	for _, l := range t.st.lines {
		if l.PartnerID == nil || l.ReconciliationID != nil {
			continue
		}
		if len(q.PartnerIDs) > 0 && !slices.Contains(q.PartnerIDs, *l.PartnerID) {
			continue
		}
		acct := t.st.accounts[l.AccountID]
		if !acct.Active || !slices.Contains(q.Types, acct.Type) {
			continue
		}
		if q.CompanyID != 0 && acct.CompanyID != q.CompanyID {
			continue
		}
		if !t.matches(l, q.Filter) {
			continue
		}
		out[*l.PartnerID] = out[*l.PartnerID].Add(l.Net())
	}
	return out, nil
}

func (t *tx) GetReconciliation(_ context.Context, id int64) (accounting.Reconciliation, error) {
	r, ok := t.st.reconciliations[id]
	if !ok {
		return accounting.Reconciliation{}, shared.NotFound("reconciliation", id)
	}
	r.LineIDs = nil
	for _, l := range t.st.lines {
		if l.ReconciliationID != nil && *l.ReconciliationID == id {
			r.LineIDs = append(r.LineIDs, l.ID)
		}
	}
	slices.Sort(r.LineIDs)
	return r, nil
}

func (t *tx) InsertReconciliation(_ context.Context, r *accounting.Reconciliation) error {
	r.ID = t.st.nextID("reconciliation")
	t.st.reconciliations[r.ID] = accounting.Reconciliation{ID: r.ID, Name: r.Name}
	return nil
}

func (t *tx) DeleteReconciliation(_ context.Context, id int64) error {
	if _, ok := t.st.reconciliations[id]; !ok {
		return shared.NotFound("reconciliation", id)
	}
	for lid, l := range t.st.lines {
		if l.ReconciliationID != nil && *l.ReconciliationID == id {
			l.ReconciliationID = nil
			t.st.lines[lid] = l
		}
	}
	delete(t.st.reconciliations, id)
	return nil
}
