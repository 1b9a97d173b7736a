/*
errors.go - Centralized error types for the ROSCA engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify errors with the helpers at the bottom and decide
  transport-level status codes themselves - no HTTP concepts here.

ERROR CATEGORIES:
  1. Validation errors - Malformed or missing input (caller's fault)
  2. Conflict errors   - Business-rule violations (duplicate payment,
                         double loan, already-disbursed, period paid)
  3. Not-found errors  - Unknown member/cycle/collection/loan id
  4. Insufficient funds - Pool or savings too small for the request
  5. Storage errors    - Transaction/commit failures. The ONLY fatal
                         category: never retried by the engine,
                         propagated verbatim to the caller.

Every rejection carries enough structured context to render an
actionable message without a second round-trip: the existing payment's
date and amount, required vs. available funds, current vs. requested
period.

USAGE:
  if errors.Is(err, engine.ErrDuplicatePayment) {
      var dup *engine.DuplicatePaymentError
      errors.As(err, &dup)
      // dup.PriorDate, dup.PriorAmount
  }

SEE ALSO:
  - contribution.go, loan.go, ledger.go: Produce these errors
*/
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidPeriod = errors.New("period index out of range")
	ErrNotInCycle    = errors.New("member does not belong to cycle")

	// Conflict - business-rule violations, recovered locally
	ErrDuplicatePayment     = errors.New("member already paid this period")
	ErrDuplicateCollection  = errors.New("collection already exists for this period")
	ErrDuplicateLoan        = errors.New("member already received a loan in this cycle")
	ErrAlreadyDisbursed     = errors.New("collection loan already disbursed")
	ErrPeriodAlreadyPaid    = errors.New("repayment for this period already recorded")
	ErrLoanClosed           = errors.New("loan is not open for this transition")
	ErrLoanPeriodPassed     = errors.New("member's loan period has passed; no further contributions owed")
	ErrCollectionLocked     = errors.New("collection is locked after disbursement")
	ErrCycleInactive        = errors.New("cycle is not active")
	ErrAlreadyMember        = errors.New("member already belongs to cycle")
	ErrRotationComplete     = errors.New("rotation complete: every member has received a loan")
	ErrNoEligibleCollection = errors.New("no completed, undisbursed collection to fund a loan")

	// Not found
	ErrCycleNotFound       = errors.New("cycle not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrAccountNotFound     = errors.New("savings account not found")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// Insufficient funds
	ErrInsufficientFunds = errors.New("insufficient funds")

	// Storage - the only fatal category
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry display context
// =============================================================================

// DuplicatePaymentError reports an existing PAID payment for the same
// (collection, member) pair, with the prior payment's details so the
// caller can render them.
type DuplicatePaymentError struct {
	MemberID    MemberID
	Period      int
	PriorDate   time.Time
	PriorAmount decimal.Decimal
}

func (e *DuplicatePaymentError) Error() string {
	return fmt.Sprintf("member %s already paid %s for period %d on %s",
		e.MemberID, e.PriorAmount, e.Period, e.PriorDate.Format("2006-01-02"))
}

func (e *DuplicatePaymentError) Unwrap() error { return ErrDuplicatePayment }

// LoanPeriodPassedError reports a contribution attempt for a period
// strictly after the member's loan disbursement period.
type LoanPeriodPassedError struct {
	MemberID        MemberID
	LoanPeriod      int
	RequestedPeriod int
}

func (e *LoanPeriodPassedError) Error() string {
	return fmt.Sprintf("member %s received their loan at period %d; period %d is no longer owed",
		e.MemberID, e.LoanPeriod, e.RequestedPeriod)
}

func (e *LoanPeriodPassedError) Unwrap() error { return ErrLoanPeriodPassed }

// PeriodAlreadyPaidError reports a double repayment for the same slot.
type PeriodAlreadyPaidError struct {
	LoanID LoanID
	Period int
}

func (e *PeriodAlreadyPaidError) Error() string {
	return fmt.Sprintf("loan %s: repayment for period %d already recorded", e.LoanID, e.Period)
}

func (e *PeriodAlreadyPaidError) Unwrap() error { return ErrPeriodAlreadyPaid }

// InsufficientFundsError reports a shortfall, with both sides so the
// caller can show "requested X, available Y".
type InsufficientFundsError struct {
	MemberID  MemberID
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s, available %s",
		e.Requested, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// StorageError wraps a store/transaction failure. It is considered
// fatal: the engine never retries it and never partially applies the
// operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// storeFail wraps err as a StorageError unless it is already classified.
func storeFail(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || IsConflict(err) || IsNotFound(err) || IsInsufficientFunds(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsValidation returns true for malformed/missing input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrNotInCycle)
}

// IsConflict returns true for business-rule violations. These are not
// bugs: the engine rejects the operation without applying any part of it.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicatePayment) ||
		errors.Is(err, ErrDuplicateCollection) ||
		errors.Is(err, ErrDuplicateLoan) ||
		errors.Is(err, ErrAlreadyDisbursed) ||
		errors.Is(err, ErrPeriodAlreadyPaid) ||
		errors.Is(err, ErrLoanClosed) ||
		errors.Is(err, ErrLoanPeriodPassed) ||
		errors.Is(err, ErrCollectionLocked) ||
		errors.Is(err, ErrCycleInactive) ||
		errors.Is(err, ErrAlreadyMember) ||
		errors.Is(err, ErrRotationComplete) ||
		errors.Is(err, ErrNoEligibleCollection)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCycleNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrCollectionNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsInsufficientFunds returns true when the pool or savings balance is
// too small for the requested operation.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// IsStorage returns true for transaction/commit failures - the only
// category the engine treats as fatal.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}
