/*
loan.go - Loan lifecycle state machine

PURPOSE:
  Disbursement eligibility, repayment application, completion detection
  and reversal for the rotating fund, plus ad hoc loans drawn against a
  member's savings pool.

STATES:
  PENDING -> ACTIVE -> COMPLETED
             ACTIVE -> DEFAULTED (admin-only, terminal)

  Rotation loans never sit in PENDING: they are funded by a completed
  collection and start ACTIVE (or COMPLETED outright when the member's
  prior contributions already cover the principal). PENDING exists only
  for ad hoc loans awaiting activation.

DISBURSEMENT:
  GiveLoan hands the FULL pool of the earliest completed, undisbursed
  collection to the member - not a per-member share. The member's own
  contributions from periods before the loan period are credited as
  already-repaid principal: remaining = principal - contributed, and the
  current period advances by the whole installments covered. Loan
  creation, the credited repayment transactions, the collection's
  loan-link fields and the cycle-closure check commit atomically;
  loanDisbursed and prior-loan existence are verified inside the
  transaction, so two racing calls cannot both succeed.

REPAYMENT:
  Equal installments, no interest, from the schedule generated by
  InstallmentSchedule - each capped at remaining, with the final
  installment absorbing the rounding residue so remaining reaches zero
  exactly. One repayment per period slot: a second call for the same
  slot is rejected and leaves the loan untouched.

REVERSAL:
  Deletes the repayment log and the loan, clears the collection's
  loan-link fields and reactivates the cycle when the loan count drops
  below the member count. The engine has no guard against reversing a
  loan whose cycle-closure side effects are themselves irreversible;
  that is the caller's responsibility.

SEE ALSO:
  - policy.go: Installment schedule and credit arithmetic
  - ledger.go: Savings deductions for ad hoc loans
*/
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LOAN ENGINE
// =============================================================================

type LoanEngine struct {
	Store   TxStore
	Savings *SavingsLedger
	Clock   func() time.Time
}

// GiveLoan disburses the earliest completed, undisbursed collection of
// the cycle to the member as an interest-free loan.
func (e *LoanEngine) GiveLoan(ctx context.Context, cycleID CycleID, memberID MemberID) (*Loan, error) {
	var out *Loan
	err := e.Store.WithTx(ctx, func(s Store) error {
		loan, err := e.giveLoanIn(ctx, s, cycleID, memberID)
		out = loan
		return err
	})
	if err != nil {
		return nil, storeFail("give loan", err)
	}
	return out, nil
}

func (e *LoanEngine) giveLoanIn(ctx context.Context, s Store, cycleID CycleID, memberID MemberID) (*Loan, error) {
	cycle, err := s.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if !cycle.Active {
		return nil, ErrCycleInactive
	}
	if _, err := s.GetMembership(ctx, cycleID, memberID); err != nil {
		return nil, err
	}

	// At most one loan per member per cycle, checked inside the
	// transaction so a racing call cannot slip through.
	if _, err := s.LoanByMember(ctx, cycleID, memberID); err == nil {
		return nil, ErrDuplicateLoan
	} else if !errors.Is(err, ErrLoanNotFound) {
		return nil, err
	}

	col, err := eligibleCollection(ctx, s, cycleID)
	if err != nil {
		return nil, err
	}

	principal := col.Collected
	if principal.Sign() <= 0 {
		return nil, &InsufficientFundsError{
			MemberID:  memberID,
			Requested: col.Expected,
			Available: principal,
		}
	}
	totalPeriods := cycle.TotalPeriods - col.Period + 1

	// Credit contributions the member made before the loan period; the
	// payment at the loan period itself stays in the pool being handed
	// over.
	contributed, err := contributedBefore(ctx, s, cycleID, memberID, col.Period)
	if err != nil {
		return nil, err
	}

	now := e.now()
	loan := &Loan{
		ID:              LoanID(uuid.NewString()),
		CycleID:         cycleID,
		MemberID:        memberID,
		CollectionID:    col.ID,
		Principal:       principal,
		Remaining:       principal.Sub(contributed),
		TotalPeriods:    totalPeriods,
		PrincipalPaid:   contributed,
		Status:          LoanActive,
		DisbursedPeriod: col.Period,
		CreatedAt:       now,
	}
	if loan.Remaining.Sign() < 0 {
		loan.Remaining = decimal.Zero
	}

	// Credited repayment transactions for whole periods already covered.
	schedule := InstallmentSchedule(principal, totalPeriods)
	covered := PeriodsCovered(contributed, Installment(principal, totalPeriods), totalPeriods)
	for i := 0; i < covered; i++ {
		ltx := &LoanTransaction{
			ID:     TransactionID(uuid.NewString()),
			LoanID: loan.ID,
			Period: i + 1,
			Amount: schedule[i],
			Date:   now,
		}
		if err := s.PutLoanTransaction(ctx, ltx); err != nil {
			return nil, err
		}
	}
	loan.CurrentPeriod = covered
	loan.PeriodsCredited = covered

	if loan.Remaining.IsZero() || loan.CurrentPeriod >= loan.TotalPeriods {
		loan.Remaining = decimal.Zero
		loan.Status = LoanCompleted
	}
	if err := s.PutLoan(ctx, loan); err != nil {
		return nil, err
	}

	col.LoanDisbursed = true
	col.LoanID = loan.ID
	col.LoanMemberID = memberID
	col.LoanAmount = principal
	if err := s.PutCollection(ctx, col); err != nil {
		return nil, err
	}

	if err := reconcileCycleClosure(ctx, s, cycle); err != nil {
		return nil, err
	}
	return loan, nil
}

// Repay applies the next period's installment to an active loan.
func (e *LoanEngine) Repay(ctx context.Context, loanID LoanID, date time.Time) (*Loan, *LoanTransaction, error) {
	var (
		loan *Loan
		ltx  *LoanTransaction
	)
	err := e.Store.WithTx(ctx, func(s Store) error {
		l, tx, err := e.repayIn(ctx, s, loanID, date)
		loan, ltx = l, tx
		return err
	})
	if err != nil {
		return nil, nil, storeFail("repay loan", err)
	}
	return loan, ltx, nil
}

func (e *LoanEngine) repayIn(ctx context.Context, s Store, loanID LoanID, date time.Time) (*Loan, *LoanTransaction, error) {
	loan, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}
	if loan.Status != LoanActive {
		return nil, nil, ErrLoanClosed
	}

	next := loan.CurrentPeriod + 1
	txs, err := s.LoanTransactions(ctx, loan.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, tx := range txs {
		if tx.Period == next {
			return nil, nil, &PeriodAlreadyPaidError{LoanID: loan.ID, Period: next}
		}
	}

	schedule := InstallmentSchedule(loan.Principal, loan.TotalPeriods)
	amount := schedule[next-1]
	if amount.GreaterThan(loan.Remaining) {
		amount = loan.Remaining
	}

	ltx := &LoanTransaction{
		ID:     TransactionID(uuid.NewString()),
		LoanID: loan.ID,
		Period: next,
		Amount: amount,
		Date:   date,
	}
	if err := s.PutLoanTransaction(ctx, ltx); err != nil {
		return nil, nil, err
	}

	loan.Remaining = loan.Remaining.Sub(amount)
	if loan.Remaining.Sign() < 0 {
		loan.Remaining = decimal.Zero
	}
	loan.PrincipalPaid = loan.PrincipalPaid.Add(amount)
	loan.CurrentPeriod = next
	if loan.Remaining.IsZero() || loan.CurrentPeriod >= loan.TotalPeriods {
		loan.Remaining = decimal.Zero
		loan.Status = LoanCompleted
	}
	if err := s.PutLoan(ctx, loan); err != nil {
		return nil, nil, err
	}
	return loan, ltx, nil
}

// Reverse un-disburses a loan: repayment log and loan are deleted, the
// funding collection is unlinked and the cycle reactivates if the loan
// count drops below the member count. Ad hoc loans instead get their
// savings deduction removed.
func (e *LoanEngine) Reverse(ctx context.Context, loanID LoanID) error {
	err := e.Store.WithTx(ctx, func(s Store) error {
		return e.reverseIn(ctx, s, loanID)
	})
	return storeFail("reverse loan", err)
}

func (e *LoanEngine) reverseIn(ctx context.Context, s Store, loanID LoanID) error {
	loan, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if err := s.DeleteLoanTransactions(ctx, loan.ID); err != nil {
		return err
	}
	if err := s.DeleteLoan(ctx, loan.ID); err != nil {
		return err
	}

	if loan.CycleID == "" {
		return e.removeAdHocDeduction(ctx, s, loan)
	}

	col, err := s.GetCollectionByID(ctx, loan.CollectionID)
	if err != nil {
		return err
	}
	col.LoanDisbursed = false
	col.LoanID = ""
	col.LoanMemberID = ""
	col.LoanAmount = decimal.Zero
	if err := s.PutCollection(ctx, col); err != nil {
		return err
	}

	cycle, err := s.GetCycle(ctx, loan.CycleID)
	if err != nil {
		return err
	}
	return reconcileCycleClosure(ctx, s, cycle)
}

// MarkDefaulted is the admin-only terminal transition for an active
// loan that will not be repaid.
func (e *LoanEngine) MarkDefaulted(ctx context.Context, loanID LoanID) error {
	err := e.Store.WithTx(ctx, func(s Store) error {
		loan, err := s.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanActive {
			return ErrLoanClosed
		}
		loan.Status = LoanDefaulted
		return s.PutLoan(ctx, loan)
	})
	return storeFail("mark defaulted", err)
}

// =============================================================================
// AD HOC LOANS - Drawn against the member's savings pool
// =============================================================================

// GrantAdHocLoan creates a PENDING loan against the member's savings.
// The savings balance must cover the principal at grant time; it is
// re-checked at activation.
func (e *LoanEngine) GrantAdHocLoan(ctx context.Context, memberID MemberID, amount decimal.Decimal, totalPeriods int) (*Loan, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if totalPeriods < 1 {
		return nil, ErrInvalidPeriod
	}

	var out *Loan
	err := e.Store.WithTx(ctx, func(s Store) error {
		acct, err := ensureAccount(ctx, s, memberID)
		if err != nil {
			return err
		}
		if acct.Total.LessThan(amount) {
			return &InsufficientFundsError{
				MemberID:  memberID,
				Requested: amount,
				Available: acct.Total,
			}
		}
		loan := &Loan{
			ID:           LoanID(uuid.NewString()),
			MemberID:     memberID,
			Principal:    amount,
			Remaining:    amount,
			TotalPeriods: totalPeriods,
			Status:       LoanPending,
			CreatedAt:    e.now(),
		}
		out = loan
		return s.PutLoan(ctx, loan)
	})
	if err != nil {
		return nil, storeFail("grant ad hoc loan", err)
	}
	return out, nil
}

// ActivateAdHocLoan moves a PENDING loan to ACTIVE and records the
// disbursed-out deduction on the member's savings ledger.
func (e *LoanEngine) ActivateAdHocLoan(ctx context.Context, loanID LoanID, date time.Time) (*Loan, error) {
	var out *Loan
	err := e.Store.WithTx(ctx, func(s Store) error {
		loan, err := s.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanPending {
			return ErrLoanClosed
		}
		acct, err := ensureAccount(ctx, s, loan.MemberID)
		if err != nil {
			return err
		}
		if acct.Total.LessThan(loan.Principal) {
			return &InsufficientFundsError{
				MemberID:  loan.MemberID,
				Requested: loan.Principal,
				Available: acct.Total,
			}
		}
		if _, err := e.Savings.appendIn(ctx, s, acct.ID, loan.Principal.Neg(), date); err != nil {
			return err
		}
		loan.Status = LoanActive
		out = loan
		return s.PutLoan(ctx, loan)
	})
	if err != nil {
		return nil, storeFail("activate ad hoc loan", err)
	}
	return out, nil
}

// removeAdHocDeduction deletes the savings entry recorded at
// activation, if the loan ever activated.
func (e *LoanEngine) removeAdHocDeduction(ctx context.Context, s Store, loan *Loan) error {
	if loan.Status == LoanPending {
		return nil
	}
	acct, err := s.AccountByMember(ctx, loan.MemberID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return err
	}
	txs, err := s.SavingsTransactions(ctx, acct.ID)
	if err != nil {
		return err
	}
	want := loan.Principal.Neg()
	for _, tx := range txs {
		if tx.Amount.Equal(want) {
			if err := s.DeleteSavingsTransaction(ctx, tx.ID); err != nil {
				return err
			}
			return e.Savings.recomputeIn(ctx, s, acct.ID)
		}
	}
	return nil
}

func (e *LoanEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// eligibleCollection returns the earliest completed, undisbursed
// collection of the cycle.
func eligibleCollection(ctx context.Context, s Store, cycleID CycleID) (*Collection, error) {
	cols, err := s.Collections(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	for _, col := range cols {
		if col.Completed && !col.LoanDisbursed {
			return col, nil
		}
	}
	return nil, ErrNoEligibleCollection
}

// contributedBefore sums the member's PAID payments for periods
// strictly before the given one.
func contributedBefore(ctx context.Context, s Store, cycleID CycleID, memberID MemberID, period int) (decimal.Decimal, error) {
	cols, err := s.Collections(ctx, cycleID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, col := range cols {
		if col.Period >= period {
			continue
		}
		p, err := s.GetPayment(ctx, col.ID, memberID)
		if errors.Is(err, ErrPaymentNotFound) {
			continue
		}
		if err != nil {
			return decimal.Zero, err
		}
		if p.Status == PaymentPaid {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

// reconcileCycleClosure flips the cycle inactive when every member has
// a loan, and back to active when a reversal drops the count below.
func reconcileCycleClosure(ctx context.Context, s Store, cycle *Cycle) error {
	loans, err := s.Loans(ctx, cycle.ID)
	if err != nil {
		return err
	}
	memberships, err := s.Memberships(ctx, cycle.ID)
	if err != nil {
		return err
	}
	active := len(loans) < len(memberships)
	if cycle.Active == active {
		return nil
	}
	cycle.Active = active
	return s.PutCycle(ctx, cycle)
}
