/*
contribution.go - Recording period contributions

PURPOSE:
  The write path for member installments. Resolves (or lazily creates)
  the period's collection, enforces the one-payment-per-member-per-period
  rule, recomputes collection totals and mirrors the payment into the
  member's savings ledger - all in one atomic transaction.

RULES:
  - Expected amount is frozen when the collection is created: the sum of
    per-period amounts of members whose join period <= the index. Later
    membership edits never retroactively change it.
  - A PAID payment for (collection, member) is never silently
    overwritten: the caller gets a DuplicatePaymentError carrying the
    prior payment's date and amount. A PENDING payment is settled in
    place.
  - A member whose loan period has passed no longer owes contributions:
    periods strictly after their disbursement period are rejected.
    Periods at or before it are accepted (those fund the pool the loan
    was - or will be - drawn from).
  - Collected is recomputed by summing all PAID payments, never by
    adding a delta, so a replayed call converges instead of
    double-counting. Completion is collected >= expected.
  - The savings append is deduped by (account, date, amount) to guard
    against double-application when a collection is recreated.

SEE ALSO:
  - ledger.go: Savings mirror of each payment
  - scheduler.go: Back-dated payments for mid-cycle joins reuse this path
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
// CONTRIBUTION ENGINE
// =============================================================================

type ContributionEngine struct {
	Store   TxStore
	Savings *SavingsLedger
	Clock   func() time.Time
}

// RecordPayment records one member's installment for one period and
// returns the stored payment plus the collection's updated totals.
func (e *ContributionEngine) RecordPayment(ctx context.Context, cycleID CycleID, period int, memberID MemberID, amount decimal.Decimal, date time.Time) (*Payment, *CollectionTotals, error) {
	if amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if period < 1 {
		return nil, nil, ErrInvalidPeriod
	}

	var (
		payment *Payment
		totals  *CollectionTotals
	)
	err := e.Store.WithTx(ctx, func(s Store) error {
		p, t, err := e.recordPaymentIn(ctx, s, cycleID, period, memberID, amount, date)
		payment, totals = p, t
		return err
	})
	if err != nil {
		return nil, nil, storeFail("record payment", err)
	}
	return payment, totals, nil
}

func (e *ContributionEngine) recordPaymentIn(ctx context.Context, s Store, cycleID CycleID, period int, memberID MemberID, amount decimal.Decimal, date time.Time) (*Payment, *CollectionTotals, error) {
	cycle, err := s.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, nil, err
	}
	if period > cycle.TotalPeriods {
		return nil, nil, ErrInvalidPeriod
	}
	// Membership is required; periods before the member's join period
	// are legal because mid-cycle joiners back-pay them (scheduler.go).
	if _, err := s.GetMembership(ctx, cycleID, memberID); err != nil {
		return nil, nil, err
	}

	// Members stop owing once their loan period has passed.
	loan, err := s.LoanByMember(ctx, cycleID, memberID)
	switch {
	case err == nil:
		if period > loan.DisbursedPeriod {
			return nil, nil, &LoanPeriodPassedError{
				MemberID:        memberID,
				LoanPeriod:      loan.DisbursedPeriod,
				RequestedPeriod: period,
			}
		}
	case errors.Is(err, ErrLoanNotFound):
		// No loan yet; nothing to enforce.
	default:
		return nil, nil, err
	}

	col, err := e.ensureCollectionIn(ctx, s, cycle, period)
	if err != nil {
		return nil, nil, err
	}
	if col.LoanDisbursed {
		return nil, nil, ErrCollectionLocked
	}

	payment, err := s.GetPayment(ctx, col.ID, memberID)
	switch {
	case err == nil:
		if payment.Status == PaymentPaid {
			return nil, nil, &DuplicatePaymentError{
				MemberID:    memberID,
				Period:      period,
				PriorDate:   payment.Date,
				PriorAmount: payment.Amount,
			}
		}
		// Settle the pending payment in place.
		payment.Amount = amount
		payment.Date = date
		payment.Status = PaymentPaid
	case errors.Is(err, ErrPaymentNotFound):
		payment = &Payment{
			ID:           PaymentID(uuid.NewString()),
			CollectionID: col.ID,
			MemberID:     memberID,
			Amount:       amount,
			Date:         date,
			Status:       PaymentPaid,
		}
	default:
		return nil, nil, err
	}
	if err := s.PutPayment(ctx, payment); err != nil {
		return nil, nil, err
	}

	if err := recomputeCollectedIn(ctx, s, col); err != nil {
		return nil, nil, err
	}

	// Mirror into savings, exactly once per successful payment.
	acct, err := ensureAccount(ctx, s, memberID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.Savings.appendDedupedIn(ctx, s, acct.ID, amount, date); err != nil {
		return nil, nil, err
	}

	return payment, totalsOf(col), nil
}

// ensureCollectionIn resolves the (cycle, period) collection, creating
// it lazily with the expected amount frozen as of now.
func (e *ContributionEngine) ensureCollectionIn(ctx context.Context, s Store, cycle *Cycle, period int) (*Collection, error) {
	col, err := s.GetCollection(ctx, cycle.ID, period)
	if err == nil {
		return col, nil
	}
	if !errors.Is(err, ErrCollectionNotFound) {
		return nil, err
	}

	memberships, err := s.Memberships(ctx, cycle.ID)
	if err != nil {
		return nil, err
	}
	col = &Collection{
		ID:        CollectionID(uuid.NewString()),
		CycleID:   cycle.ID,
		Period:    period,
		Expected:  expectedAmount(memberships, period),
		Collected: decimal.Zero,
		CreatedAt: e.now(),
	}
	if err := s.PutCollection(ctx, col); err != nil {
		return nil, err
	}
	return col, nil
}

func (e *ContributionEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

// recomputeCollectedIn rebuilds Collected from all PAID payments and
// refreshes the completion flag. Summing from scratch keeps the write
// path idempotent against partial failures and double-submits.
func recomputeCollectedIn(ctx context.Context, s Store, col *Collection) error {
	payments, err := s.Payments(ctx, col.ID)
	if err != nil {
		return err
	}
	collected := decimal.Zero
	for _, p := range payments {
		if p.Status == PaymentPaid {
			collected = collected.Add(p.Amount)
		}
	}
	col.Collected = collected
	col.Completed = collected.GreaterThanOrEqual(col.Expected)
	return s.PutCollection(ctx, col)
}

func totalsOf(col *Collection) *CollectionTotals {
	return &CollectionTotals{
		CollectionID: col.ID,
		Period:       col.Period,
		Expected:     col.Expected,
		Collected:    col.Collected,
		Completed:    col.Completed,
	}
}
