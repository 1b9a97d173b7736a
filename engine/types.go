/*
Package engine provides the core ROSCA ledger engine.

PURPOSE:
  This package contains the types and algorithms for administering a
  rotating savings-and-credit association: members contribute periodic
  installments into a pooled fund, the pool is disbursed as an
  interest-free loan to one member per period, and loans are repaid in
  equal installments over the remaining periods of the rotation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Cycle: One full rotation (one loan slot per member)
  - Membership: A member's terms inside a cycle (join period, rate)
  - Collection: The aggregate of all payments due for one period
  - Payment: One member's installment into one collection
  - SavingsAccount / SavingsTransaction: Per-member running-total ledger
  - Loan / LoanTransaction: Disbursement and its repayment log

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for money - no floating point,
     no epsilon comparisons. "Fully repaid" means remaining == 0 exactly.
  2. Type Safety: Strong typing for IDs prevents mixing cycle/member IDs
  3. Derived totals: Every cached total (collection collected, savings
     total, loan remaining) is recomputable from its transaction log.

USAGE:
  eng := engine.New(store)
  _, totals, err := eng.RecordPayment(ctx, cycleID, 1, memberID,
      decimal.NewFromInt(2000), date)

SEE ALSO:
  - ledger.go: Savings running-total recompute rules
  - contribution.go: Payment recording and collection totals
  - loan.go: Loan lifecycle state machine
  - scheduler.go: Period advancement and mid-cycle joins
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CycleID string
type MemberID string
type CollectionID string
type PaymentID string
type AccountID string
type LoanID string
type TransactionID string

// =============================================================================
// CYCLE - One full rotation of the fund
// =============================================================================

// Cycle is the set of members and rules governing one full rotation.
// TotalPeriods always equals the number of members: one loan slot each.
//
// INVARIANTS:
//   - CurrentPeriod never exceeds TotalPeriods
//   - Active flips to false only when every member has exactly one loan
type Cycle struct {
	ID     CycleID
	Name   string
	Amount decimal.Decimal // nominal per-period contribution

	TotalPeriods  int
	CurrentPeriod int
	Active        bool

	CreatedAt time.Time
}

// Member is an identity referenced (never owned) by cycles, collections,
// savings accounts and loans.
type Member struct {
	ID       MemberID
	Name     string
	JoinedAt time.Time
}

// Membership is a member's terms inside one cycle. Contribution amounts
// may differ per member; JoinPeriod records when they entered the
// rotation (1 for founding members).
//
// Benefit and Contributed are written only by CommitBenefit - computing
// a benefit alone never persists (see benefit.go).
type Membership struct {
	CycleID    CycleID
	MemberID   MemberID
	JoinPeriod int
	Amount     decimal.Decimal // this member's per-period contribution

	Benefit     decimal.Decimal
	Contributed decimal.Decimal
}

// =============================================================================
// COLLECTION - All payments due for one (cycle, period)
// =============================================================================

// Collection aggregates one period's payments. There is exactly one per
// (cycle, period index) pair.
//
// Expected is frozen at creation time: later membership edits do not
// retroactively change what an existing period was owed.
// Collected is always recomputed from PAID payments, never incremented.
//
// Once LoanDisbursed is set, the collection is locked: its payments can
// no longer be edited.
type Collection struct {
	ID      CollectionID
	CycleID CycleID
	Period  int

	Expected  decimal.Decimal
	Collected decimal.Decimal
	Completed bool // Collected >= Expected

	LoanDisbursed bool
	LoanID        LoanID
	LoanMemberID  MemberID
	LoanAmount    decimal.Decimal

	CreatedAt time.Time
}

// PaymentStatus is the settlement state of a single installment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// Payment is one member's installment into one collection.
// A member pays at most once per period: (CollectionID, MemberID) is a
// unique key. Edits are allowed, duplicates are rejected.
type Payment struct {
	ID           PaymentID
	CollectionID CollectionID
	MemberID     MemberID

	Amount decimal.Decimal
	Date   time.Time
	Status PaymentStatus
}

// CollectionTotals is the aggregate returned to callers after a mutation.
type CollectionTotals struct {
	CollectionID CollectionID
	Period       int
	Expected     decimal.Decimal
	Collected    decimal.Decimal
	Completed    bool
}

// =============================================================================
// SAVINGS - Per-member running-total ledger
// =============================================================================

// SavingsAccount holds a cached running total for one member. The total
// is derived: it is always recomputable from the account's transactions
// (see ledger.go for the exact clamp rules) and never goes negative.
type SavingsAccount struct {
	ID       AccountID
	MemberID MemberID
	Total    decimal.Decimal
}

// SavingsTransaction is one signed entry in a savings ledger.
// Positive = contribution in, negative = disbursed-out deduction.
// RunningTotal is the account total as of this transaction, in date
// order, with the never-below-zero clamp applied at each step.
type SavingsTransaction struct {
	ID        TransactionID
	AccountID AccountID

	Amount       decimal.Decimal
	Date         time.Time
	RunningTotal decimal.Decimal

	CreatedAt time.Time
}

// =============================================================================
// LOAN - Interest-free disbursement of the pooled fund
// =============================================================================

// LoanStatus is the lifecycle state of a loan.
//
//	PENDING -> ACTIVE -> COMPLETED
//	           ACTIVE -> DEFAULTED (admin-only, terminal)
//
// PENDING exists only for ad hoc loans drawn against the savings pool;
// rotation loans start directly in ACTIVE (or COMPLETED when prior
// contributions already cover the principal).
type LoanStatus string

const (
	LoanPending   LoanStatus = "PENDING"
	LoanActive    LoanStatus = "ACTIVE"
	LoanCompleted LoanStatus = "COMPLETED"
	LoanDefaulted LoanStatus = "DEFAULTED"
)

// Loan records a disbursement and its repayment bookkeeping.
//
// INVARIANT: at most one loan per member per cycle.
//
// For rotation loans, TotalPeriods is the number of periods remaining in
// the rotation at disbursement (totalMembers - disbursedPeriod + 1), and
// PeriodsCredited counts whole periods covered by the member's own
// contributions from before the loan period.
type Loan struct {
	ID           LoanID
	CycleID      CycleID // empty for ad hoc loans
	MemberID     MemberID
	CollectionID CollectionID // empty for ad hoc loans

	Principal       decimal.Decimal
	Remaining       decimal.Decimal
	TotalPeriods    int
	CurrentPeriod   int
	PeriodsCredited int
	PrincipalPaid   decimal.Decimal

	Status          LoanStatus
	DisbursedPeriod int
	CreatedAt       time.Time
}

// LoanTransaction is one repayment application. Period is the repayment
// slot it settles (1..TotalPeriods); at most one transaction per slot.
type LoanTransaction struct {
	ID     TransactionID
	LoanID LoanID

	Period int
	Amount decimal.Decimal
	Date   time.Time
}

// =============================================================================
// BENEFIT - Proportional claim on the pooled fund
// =============================================================================

// Benefit is a member's proportional claim on one period's pool, driven
// by join period and per-period contribution (see benefit.go).
type Benefit struct {
	CycleID  CycleID
	MemberID MemberID
	AsOf     int // period index the computation is anchored at

	Contributed decimal.Decimal // member's contribution-to-date
	Pool        decimal.Decimal // period's pooled amount
	Benefit     decimal.Decimal // proportional share of Pool
}
