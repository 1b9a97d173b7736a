/*
store.go - Persistence interfaces for the engine

PURPOSE:
  Defines the interface between the engine and the database. The engine
  assembles typed aggregates (Cycle, Collection, Loan) from these
  repositories itself - the storage layer never traverses relations on
  the engine's behalf.

KEY INTERFACES:
  CycleStore:      Cycles, members, memberships
  CollectionStore: Period collections and their payments
  SavingsStore:    Savings accounts and their transaction logs
  LoanStore:       Loans and their repayment logs
  Store:           All of the above
  TxStore:         Store plus atomic multi-entity transactions

ORDERING CONTRACTS:
  Collections(cycle)   -> ascending period index
  SavingsTransactions  -> ascending date, then created-at
  LoanTransactions     -> ascending period

ATOMICITY:
  Every engine mutation that touches more than one entity (payment +
  collection totals + savings ledger; loan + collection + cycle) runs
  inside WithTx. Implementations must guarantee all-or-nothing
  visibility and must serialize conflicting writers: two concurrent
  give-loan calls against the same collection must not both commit.

NOT FOUND:
  Getters return the matching Err*NotFound sentinel from errors.go, not
  a nil result, when no row exists.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Durable SQLite store
  - engine/store/memory.go: In-memory store for tests/dev

SEE ALSO:
  - ledger.go, contribution.go, loan.go, scheduler.go: Consumers
*/
package engine

import "context"

// =============================================================================
// CYCLE STORE - Cycles, members, memberships
// =============================================================================

type CycleStore interface {
	GetCycle(ctx context.Context, id CycleID) (*Cycle, error)
	PutCycle(ctx context.Context, c *Cycle) error

	GetMember(ctx context.Context, id MemberID) (*Member, error)
	PutMember(ctx context.Context, m *Member) error

	// Memberships returns the cycle's memberships ordered by join
	// period, then member id.
	Memberships(ctx context.Context, cycleID CycleID) ([]*Membership, error)

	// GetMembership returns ErrNotInCycle when the member has no
	// membership in the cycle.
	GetMembership(ctx context.Context, cycleID CycleID, memberID MemberID) (*Membership, error)
	PutMembership(ctx context.Context, ms *Membership) error
}

// =============================================================================
// COLLECTION STORE - Period collections and payments
// =============================================================================

type CollectionStore interface {
	// GetCollection resolves by the (cycle, period) unique key.
	GetCollection(ctx context.Context, cycleID CycleID, period int) (*Collection, error)
	GetCollectionByID(ctx context.Context, id CollectionID) (*Collection, error)

	// Collections returns all of a cycle's collections, ascending period.
	Collections(ctx context.Context, cycleID CycleID) ([]*Collection, error)
	PutCollection(ctx context.Context, c *Collection) error

	// GetPayment resolves by the (collection, member) unique key.
	GetPayment(ctx context.Context, collectionID CollectionID, memberID MemberID) (*Payment, error)
	Payments(ctx context.Context, collectionID CollectionID) ([]*Payment, error)
	PutPayment(ctx context.Context, p *Payment) error
}

// =============================================================================
// SAVINGS STORE - Accounts and transaction logs
// =============================================================================

type SavingsStore interface {
	AccountByMember(ctx context.Context, memberID MemberID) (*SavingsAccount, error)
	AccountByID(ctx context.Context, id AccountID) (*SavingsAccount, error)
	PutAccount(ctx context.Context, a *SavingsAccount) error

	GetSavingsTransaction(ctx context.Context, id TransactionID) (*SavingsTransaction, error)

	// SavingsTransactions returns the account's log ordered by date
	// ascending, created-at as tiebreak. This ordering is the basis of
	// the running-total recompute (ledger.go).
	SavingsTransactions(ctx context.Context, accountID AccountID) ([]*SavingsTransaction, error)
	PutSavingsTransaction(ctx context.Context, tx *SavingsTransaction) error
	DeleteSavingsTransaction(ctx context.Context, id TransactionID) error
}

// =============================================================================
// LOAN STORE - Loans and repayment logs
// =============================================================================

type LoanStore interface {
	GetLoan(ctx context.Context, id LoanID) (*Loan, error)

	// LoanByMember resolves the (cycle, member) unique key - at most one
	// loan per member per cycle.
	LoanByMember(ctx context.Context, cycleID CycleID, memberID MemberID) (*Loan, error)

	// Loans returns all loans of a cycle.
	Loans(ctx context.Context, cycleID CycleID) ([]*Loan, error)
	PutLoan(ctx context.Context, l *Loan) error
	DeleteLoan(ctx context.Context, id LoanID) error

	// LoanTransactions returns the repayment log, ascending period.
	LoanTransactions(ctx context.Context, loanID LoanID) ([]*LoanTransaction, error)
	PutLoanTransaction(ctx context.Context, tx *LoanTransaction) error
	DeleteLoanTransactions(ctx context.Context, loanID LoanID) error
}

// =============================================================================
// COMBINED + TRANSACTIONAL STORES
// =============================================================================

// Store is the full repository surface the engine consumes.
type Store interface {
	CycleStore
	CollectionStore
	SavingsStore
	LoanStore
}

// TxStore wraps Store with transaction support.
//
// WithTx executes fn against a Store view whose writes become visible
// all-or-nothing: if fn returns an error, nothing is applied. Invariant
// re-checks (loanDisbursed, prior loan existence) happen inside fn, so
// implementations must not allow two conflicting fns to interleave.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
