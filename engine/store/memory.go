// Package store provides an in-memory engine.TxStore for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/rosca-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements engine.TxStore with copy-on-write transactions: a
// WithTx body runs against a deep copy of the state and the copy is
// swapped in only on success, so a failed operation leaves nothing
// behind. One mutex serializes writers, which gives the re-check-inside-
// the-transaction invariants their teeth.
type Memory struct {
	mu sync.Mutex
	st *state
}

type colKey struct {
	Cycle  engine.CycleID
	Period int
}

type memberKey struct {
	Cycle  engine.CycleID
	Member engine.MemberID
}

type state struct {
	cycles       map[engine.CycleID]engine.Cycle
	members      map[engine.MemberID]engine.Member
	memberships  map[memberKey]engine.Membership
	collections  map[engine.CollectionID]engine.Collection
	colIndex     map[colKey]engine.CollectionID
	payments     map[engine.PaymentID]engine.Payment
	accounts     map[engine.AccountID]engine.SavingsAccount
	acctIndex    map[engine.MemberID]engine.AccountID
	savingsTxs   map[engine.TransactionID]engine.SavingsTransaction
	loans        map[engine.LoanID]engine.Loan
	loanIndex    map[memberKey]engine.LoanID
	loanTxs      map[engine.TransactionID]engine.LoanTransaction
}

func newState() *state {
	return &state{
		cycles:      make(map[engine.CycleID]engine.Cycle),
		members:     make(map[engine.MemberID]engine.Member),
		memberships: make(map[memberKey]engine.Membership),
		collections: make(map[engine.CollectionID]engine.Collection),
		colIndex:    make(map[colKey]engine.CollectionID),
		payments:    make(map[engine.PaymentID]engine.Payment),
		accounts:    make(map[engine.AccountID]engine.SavingsAccount),
		acctIndex:   make(map[engine.MemberID]engine.AccountID),
		savingsTxs:  make(map[engine.TransactionID]engine.SavingsTransaction),
		loans:       make(map[engine.LoanID]engine.Loan),
		loanIndex:   make(map[memberKey]engine.LoanID),
		loanTxs:     make(map[engine.TransactionID]engine.LoanTransaction),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.cycles {
		c.cycles[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	for k, v := range s.collections {
		c.collections[k] = v
	}
	for k, v := range s.colIndex {
		c.colIndex[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.acctIndex {
		c.acctIndex[k] = v
	}
	for k, v := range s.savingsTxs {
		c.savingsTxs[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.loanIndex {
		c.loanIndex[k] = v
	}
	for k, v := range s.loanTxs {
		c.loanTxs[k] = v
	}
	return c
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx runs fn against a deep copy and commits it atomically.
func (m *Memory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	if err := fn(&view{st: work}); err != nil {
		return err
	}
	m.st = work
	return nil
}

// Non-transactional reads/writes lock per call.

func (m *Memory) do(fn func(*view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{st: m.st})
}

// =============================================================================
// VIEW - engine.Store over a state
// =============================================================================

type view struct {
	st *state
}

// --- cycles / members / memberships ---

func (v *view) GetCycle(_ context.Context, id engine.CycleID) (*engine.Cycle, error) {
	c, ok := v.st.cycles[id]
	if !ok {
		return nil, engine.ErrCycleNotFound
	}
	return &c, nil
}

func (v *view) PutCycle(_ context.Context, c *engine.Cycle) error {
	v.st.cycles[c.ID] = *c
	return nil
}

func (v *view) GetMember(_ context.Context, id engine.MemberID) (*engine.Member, error) {
	m, ok := v.st.members[id]
	if !ok {
		return nil, engine.ErrMemberNotFound
	}
	return &m, nil
}

func (v *view) PutMember(_ context.Context, m *engine.Member) error {
	v.st.members[m.ID] = *m
	return nil
}

func (v *view) Memberships(_ context.Context, cycleID engine.CycleID) ([]*engine.Membership, error) {
	var out []*engine.Membership
	for k, ms := range v.st.memberships {
		if k.Cycle == cycleID {
			cp := ms
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinPeriod != out[j].JoinPeriod {
			return out[i].JoinPeriod < out[j].JoinPeriod
		}
		return out[i].MemberID < out[j].MemberID
	})
	return out, nil
}

func (v *view) GetMembership(_ context.Context, cycleID engine.CycleID, memberID engine.MemberID) (*engine.Membership, error) {
	ms, ok := v.st.memberships[memberKey{cycleID, memberID}]
	if !ok {
		return nil, engine.ErrNotInCycle
	}
	return &ms, nil
}

func (v *view) PutMembership(_ context.Context, ms *engine.Membership) error {
	v.st.memberships[memberKey{ms.CycleID, ms.MemberID}] = *ms
	return nil
}

// --- collections / payments ---

func (v *view) GetCollection(_ context.Context, cycleID engine.CycleID, period int) (*engine.Collection, error) {
	id, ok := v.st.colIndex[colKey{cycleID, period}]
	if !ok {
		return nil, engine.ErrCollectionNotFound
	}
	c := v.st.collections[id]
	return &c, nil
}

func (v *view) GetCollectionByID(_ context.Context, id engine.CollectionID) (*engine.Collection, error) {
	c, ok := v.st.collections[id]
	if !ok {
		return nil, engine.ErrCollectionNotFound
	}
	return &c, nil
}

func (v *view) Collections(_ context.Context, cycleID engine.CycleID) ([]*engine.Collection, error) {
	var out []*engine.Collection
	for _, c := range v.st.collections {
		if c.CycleID == cycleID {
			cp := c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func (v *view) PutCollection(_ context.Context, c *engine.Collection) error {
	if prior, ok := v.st.colIndex[colKey{c.CycleID, c.Period}]; ok && prior != c.ID {
		return engine.ErrDuplicateCollection
	}
	v.st.collections[c.ID] = *c
	v.st.colIndex[colKey{c.CycleID, c.Period}] = c.ID
	return nil
}

func (v *view) GetPayment(_ context.Context, collectionID engine.CollectionID, memberID engine.MemberID) (*engine.Payment, error) {
	for _, p := range v.st.payments {
		if p.CollectionID == collectionID && p.MemberID == memberID {
			cp := p
			return &cp, nil
		}
	}
	return nil, engine.ErrPaymentNotFound
}

func (v *view) Payments(_ context.Context, collectionID engine.CollectionID) ([]*engine.Payment, error) {
	var out []*engine.Payment
	for _, p := range v.st.payments {
		if p.CollectionID == collectionID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

func (v *view) PutPayment(_ context.Context, p *engine.Payment) error {
	v.st.payments[p.ID] = *p
	return nil
}

// --- savings ---

func (v *view) AccountByMember(_ context.Context, memberID engine.MemberID) (*engine.SavingsAccount, error) {
	id, ok := v.st.acctIndex[memberID]
	if !ok {
		return nil, engine.ErrAccountNotFound
	}
	a := v.st.accounts[id]
	return &a, nil
}

func (v *view) AccountByID(_ context.Context, id engine.AccountID) (*engine.SavingsAccount, error) {
	a, ok := v.st.accounts[id]
	if !ok {
		return nil, engine.ErrAccountNotFound
	}
	return &a, nil
}

func (v *view) PutAccount(_ context.Context, a *engine.SavingsAccount) error {
	v.st.accounts[a.ID] = *a
	v.st.acctIndex[a.MemberID] = a.ID
	return nil
}

func (v *view) GetSavingsTransaction(_ context.Context, id engine.TransactionID) (*engine.SavingsTransaction, error) {
	tx, ok := v.st.savingsTxs[id]
	if !ok {
		return nil, engine.ErrTransactionNotFound
	}
	return &tx, nil
}

func (v *view) SavingsTransactions(_ context.Context, accountID engine.AccountID) ([]*engine.SavingsTransaction, error) {
	var out []*engine.SavingsTransaction
	for _, tx := range v.st.savingsTxs {
		if tx.AccountID == accountID {
			cp := tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) PutSavingsTransaction(_ context.Context, tx *engine.SavingsTransaction) error {
	v.st.savingsTxs[tx.ID] = *tx
	return nil
}

func (v *view) DeleteSavingsTransaction(_ context.Context, id engine.TransactionID) error {
	if _, ok := v.st.savingsTxs[id]; !ok {
		return engine.ErrTransactionNotFound
	}
	delete(v.st.savingsTxs, id)
	return nil
}

// --- loans ---

func (v *view) GetLoan(_ context.Context, id engine.LoanID) (*engine.Loan, error) {
	l, ok := v.st.loans[id]
	if !ok {
		return nil, engine.ErrLoanNotFound
	}
	return &l, nil
}

func (v *view) LoanByMember(_ context.Context, cycleID engine.CycleID, memberID engine.MemberID) (*engine.Loan, error) {
	id, ok := v.st.loanIndex[memberKey{cycleID, memberID}]
	if !ok {
		return nil, engine.ErrLoanNotFound
	}
	l := v.st.loans[id]
	return &l, nil
}

func (v *view) Loans(_ context.Context, cycleID engine.CycleID) ([]*engine.Loan, error) {
	var out []*engine.Loan
	for _, l := range v.st.loans {
		if l.CycleID == cycleID {
			cp := l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisbursedPeriod < out[j].DisbursedPeriod })
	return out, nil
}

func (v *view) PutLoan(_ context.Context, l *engine.Loan) error {
	v.st.loans[l.ID] = *l
	if l.CycleID != "" {
		v.st.loanIndex[memberKey{l.CycleID, l.MemberID}] = l.ID
	}
	return nil
}

func (v *view) DeleteLoan(_ context.Context, id engine.LoanID) error {
	l, ok := v.st.loans[id]
	if !ok {
		return engine.ErrLoanNotFound
	}
	delete(v.st.loans, id)
	if l.CycleID != "" {
		delete(v.st.loanIndex, memberKey{l.CycleID, l.MemberID})
	}
	return nil
}

func (v *view) LoanTransactions(_ context.Context, loanID engine.LoanID) ([]*engine.LoanTransaction, error) {
	var out []*engine.LoanTransaction
	for _, tx := range v.st.loanTxs {
		if tx.LoanID == loanID {
			cp := tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func (v *view) PutLoanTransaction(_ context.Context, tx *engine.LoanTransaction) error {
	v.st.loanTxs[tx.ID] = *tx
	return nil
}

func (v *view) DeleteLoanTransactions(_ context.Context, loanID engine.LoanID) error {
	for id, tx := range v.st.loanTxs {
		if tx.LoanID == loanID {
			delete(v.st.loanTxs, id)
		}
	}
	return nil
}

// =============================================================================
// DIRECT (AUTO-COMMIT) OPERATIONS
// =============================================================================
// Each call is its own atomic unit, matching a single-statement
// database write.

func (m *Memory) GetCycle(ctx context.Context, id engine.CycleID) (*engine.Cycle, error) {
	var out *engine.Cycle
	err := m.do(func(v *view) (e error) { out, e = v.GetCycle(ctx, id); return })
	return out, err
}

func (m *Memory) PutCycle(ctx context.Context, c *engine.Cycle) error {
	return m.do(func(v *view) error { return v.PutCycle(ctx, c) })
}

func (m *Memory) GetMember(ctx context.Context, id engine.MemberID) (*engine.Member, error) {
	var out *engine.Member
	err := m.do(func(v *view) (e error) { out, e = v.GetMember(ctx, id); return })
	return out, err
}

func (m *Memory) PutMember(ctx context.Context, mb *engine.Member) error {
	return m.do(func(v *view) error { return v.PutMember(ctx, mb) })
}

func (m *Memory) Memberships(ctx context.Context, cycleID engine.CycleID) ([]*engine.Membership, error) {
	var out []*engine.Membership
	err := m.do(func(v *view) (e error) { out, e = v.Memberships(ctx, cycleID); return })
	return out, err
}

func (m *Memory) GetMembership(ctx context.Context, cycleID engine.CycleID, memberID engine.MemberID) (*engine.Membership, error) {
	var out *engine.Membership
	err := m.do(func(v *view) (e error) { out, e = v.GetMembership(ctx, cycleID, memberID); return })
	return out, err
}

func (m *Memory) PutMembership(ctx context.Context, ms *engine.Membership) error {
	return m.do(func(v *view) error { return v.PutMembership(ctx, ms) })
}

func (m *Memory) GetCollection(ctx context.Context, cycleID engine.CycleID, period int) (*engine.Collection, error) {
	var out *engine.Collection
	err := m.do(func(v *view) (e error) { out, e = v.GetCollection(ctx, cycleID, period); return })
	return out, err
}

func (m *Memory) GetCollectionByID(ctx context.Context, id engine.CollectionID) (*engine.Collection, error) {
	var out *engine.Collection
	err := m.do(func(v *view) (e error) { out, e = v.GetCollectionByID(ctx, id); return })
	return out, err
}

func (m *Memory) Collections(ctx context.Context, cycleID engine.CycleID) ([]*engine.Collection, error) {
	var out []*engine.Collection
	err := m.do(func(v *view) (e error) { out, e = v.Collections(ctx, cycleID); return })
	return out, err
}

func (m *Memory) PutCollection(ctx context.Context, c *engine.Collection) error {
	return m.do(func(v *view) error { return v.PutCollection(ctx, c) })
}

func (m *Memory) GetPayment(ctx context.Context, collectionID engine.CollectionID, memberID engine.MemberID) (*engine.Payment, error) {
	var out *engine.Payment
	err := m.do(func(v *view) (e error) { out, e = v.GetPayment(ctx, collectionID, memberID); return })
	return out, err
}

func (m *Memory) Payments(ctx context.Context, collectionID engine.CollectionID) ([]*engine.Payment, error) {
	var out []*engine.Payment
	err := m.do(func(v *view) (e error) { out, e = v.Payments(ctx, collectionID); return })
	return out, err
}

func (m *Memory) PutPayment(ctx context.Context, p *engine.Payment) error {
	return m.do(func(v *view) error { return v.PutPayment(ctx, p) })
}

func (m *Memory) AccountByMember(ctx context.Context, memberID engine.MemberID) (*engine.SavingsAccount, error) {
	var out *engine.SavingsAccount
	err := m.do(func(v *view) (e error) { out, e = v.AccountByMember(ctx, memberID); return })
	return out, err
}

func (m *Memory) AccountByID(ctx context.Context, id engine.AccountID) (*engine.SavingsAccount, error) {
	var out *engine.SavingsAccount
	err := m.do(func(v *view) (e error) { out, e = v.AccountByID(ctx, id); return })
	return out, err
}

func (m *Memory) PutAccount(ctx context.Context, a *engine.SavingsAccount) error {
	return m.do(func(v *view) error { return v.PutAccount(ctx, a) })
}

func (m *Memory) GetSavingsTransaction(ctx context.Context, id engine.TransactionID) (*engine.SavingsTransaction, error) {
	var out *engine.SavingsTransaction
	err := m.do(func(v *view) (e error) { out, e = v.GetSavingsTransaction(ctx, id); return })
	return out, err
}

func (m *Memory) SavingsTransactions(ctx context.Context, accountID engine.AccountID) ([]*engine.SavingsTransaction, error) {
	var out []*engine.SavingsTransaction
	err := m.do(func(v *view) (e error) { out, e = v.SavingsTransactions(ctx, accountID); return })
	return out, err
}

func (m *Memory) PutSavingsTransaction(ctx context.Context, tx *engine.SavingsTransaction) error {
	return m.do(func(v *view) error { return v.PutSavingsTransaction(ctx, tx) })
}

func (m *Memory) DeleteSavingsTransaction(ctx context.Context, id engine.TransactionID) error {
	return m.do(func(v *view) error { return v.DeleteSavingsTransaction(ctx, id) })
}

func (m *Memory) GetLoan(ctx context.Context, id engine.LoanID) (*engine.Loan, error) {
	var out *engine.Loan
	err := m.do(func(v *view) (e error) { out, e = v.GetLoan(ctx, id); return })
	return out, err
}

func (m *Memory) LoanByMember(ctx context.Context, cycleID engine.CycleID, memberID engine.MemberID) (*engine.Loan, error) {
	var out *engine.Loan
	err := m.do(func(v *view) (e error) { out, e = v.LoanByMember(ctx, cycleID, memberID); return })
	return out, err
}

func (m *Memory) Loans(ctx context.Context, cycleID engine.CycleID) ([]*engine.Loan, error) {
	var out []*engine.Loan
	err := m.do(func(v *view) (e error) { out, e = v.Loans(ctx, cycleID); return })
	return out, err
}

func (m *Memory) PutLoan(ctx context.Context, l *engine.Loan) error {
	return m.do(func(v *view) error { return v.PutLoan(ctx, l) })
}

func (m *Memory) DeleteLoan(ctx context.Context, id engine.LoanID) error {
	return m.do(func(v *view) error { return v.DeleteLoan(ctx, id) })
}

func (m *Memory) LoanTransactions(ctx context.Context, loanID engine.LoanID) ([]*engine.LoanTransaction, error) {
	var out []*engine.LoanTransaction
	err := m.do(func(v *view) (e error) { out, e = v.LoanTransactions(ctx, loanID); return })
	return out, err
}

func (m *Memory) PutLoanTransaction(ctx context.Context, tx *engine.LoanTransaction) error {
	return m.do(func(v *view) error { return v.PutLoanTransaction(ctx, tx) })
}

func (m *Memory) DeleteLoanTransactions(ctx context.Context, loanID engine.LoanID) error {
	return m.do(func(v *view) error { return v.DeleteLoanTransactions(ctx, loanID) })
}
