/*
engine.go - Facade wiring the engine components

PURPOSE:
  Composes the savings ledger, contribution engine, loan state machine,
  benefit calculator and scheduler over one transactional store, and
  exposes the operations external callers consume: RecordPayment,
  GiveLoan, RepayLoan, ReverseLoan, AdvancePeriod, ComputeBenefit,
  EditLedgerTransaction, DeleteLedgerTransaction.

  Inputs are plain identifiers, amounts and dates; outputs are typed
  results or classified errors (errors.go). No transport concepts leak
  in either direction.

USAGE:
  st, _ := sqlite.New("rosca.db")
  eng := engine.New(st)
  _, totals, err := eng.RecordPayment(ctx, cycleID, 1, memberID,
      decimal.NewFromInt(2000), date)
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store TxStore

	// Clock supplies "now"; defaults to time.Now. Inject in tests.
	Clock func() time.Time

	Savings      *SavingsLedger
	Contribution *ContributionEngine
	Loans        *LoanEngine
	Benefits     *BenefitCalculator
	Scheduler    *Scheduler
}

// New wires an Engine over the given store.
func New(store TxStore) *Engine {
	e := &Engine{Store: store, Clock: time.Now}
	e.Savings = &SavingsLedger{Store: store, Clock: e.now}
	e.Contribution = &ContributionEngine{Store: store, Savings: e.Savings, Clock: e.now}
	e.Loans = &LoanEngine{Store: store, Savings: e.Savings, Clock: e.now}
	e.Benefits = &BenefitCalculator{Store: store, Clock: e.now}
	e.Scheduler = &Scheduler{Store: store, Contribution: e.Contribution, Clock: e.now}
	return e
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

// =============================================================================
// SETUP - Cycles and members
// =============================================================================

// CreateCycle opens a new cycle with the given founding members, all
// joining at period 1. TotalPeriods equals the member count.
func (e *Engine) CreateCycle(ctx context.Context, name string, amount decimal.Decimal, founders []*Member) (*Cycle, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	cycle := &Cycle{
		ID:            CycleID(uuid.NewString()),
		Name:          name,
		Amount:        amount,
		TotalPeriods:  len(founders),
		CurrentPeriod: 0,
		Active:        true,
		CreatedAt:     e.now(),
	}
	err := e.Store.WithTx(ctx, func(s Store) error {
		if err := s.PutCycle(ctx, cycle); err != nil {
			return err
		}
		for _, m := range founders {
			if m.ID == "" {
				m.ID = MemberID(uuid.NewString())
			}
			if m.JoinedAt.IsZero() {
				m.JoinedAt = e.now()
			}
			if err := s.PutMember(ctx, m); err != nil {
				return err
			}
			ms := &Membership{
				CycleID:    cycle.ID,
				MemberID:   m.ID,
				JoinPeriod: 1,
				Amount:     amount,
			}
			if err := s.PutMembership(ctx, ms); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeFail("create cycle", err)
	}
	return cycle, nil
}

// JoinCycle adds a member to a running cycle, back-paying owed periods
// at their own per-period amount.
func (e *Engine) JoinCycle(ctx context.Context, cycleID CycleID, member *Member, amount decimal.Decimal, date time.Time) (*Membership, error) {
	return e.Scheduler.JoinMidCycle(ctx, cycleID, member, amount, date)
}

// =============================================================================
// INBOUND OPERATIONS
// =============================================================================

// RecordPayment records one member's installment for a period.
func (e *Engine) RecordPayment(ctx context.Context, cycleID CycleID, period int, memberID MemberID, amount decimal.Decimal, date time.Time) (*Payment, *CollectionTotals, error) {
	return e.Contribution.RecordPayment(ctx, cycleID, period, memberID, amount, date)
}

// GiveLoan disburses the earliest completed, undisbursed collection.
func (e *Engine) GiveLoan(ctx context.Context, cycleID CycleID, memberID MemberID) (*Loan, error) {
	return e.Loans.GiveLoan(ctx, cycleID, memberID)
}

// RepayLoan applies the next period's installment.
func (e *Engine) RepayLoan(ctx context.Context, loanID LoanID, date time.Time) (*Loan, *LoanTransaction, error) {
	return e.Loans.Repay(ctx, loanID, date)
}

// ReverseLoan un-disburses a loan and reopens the cycle if needed.
func (e *Engine) ReverseLoan(ctx context.Context, loanID LoanID) error {
	return e.Loans.Reverse(ctx, loanID)
}

// MarkDefaulted moves an active loan to DEFAULTED.
func (e *Engine) MarkDefaulted(ctx context.Context, loanID LoanID) error {
	return e.Loans.MarkDefaulted(ctx, loanID)
}

// GrantAdHocLoan creates a pending loan against a member's savings.
func (e *Engine) GrantAdHocLoan(ctx context.Context, memberID MemberID, amount decimal.Decimal, totalPeriods int) (*Loan, error) {
	return e.Loans.GrantAdHocLoan(ctx, memberID, amount, totalPeriods)
}

// ActivateAdHocLoan hands out a pending ad hoc loan, deducting it from
// the member's savings.
func (e *Engine) ActivateAdHocLoan(ctx context.Context, loanID LoanID, date time.Time) (*Loan, error) {
	return e.Loans.ActivateAdHocLoan(ctx, loanID, date)
}

// AdvancePeriod opens the cycle's next period.
func (e *Engine) AdvancePeriod(ctx context.Context, cycleID CycleID) (*CollectionTotals, error) {
	return e.Scheduler.AdvancePeriod(ctx, cycleID)
}

// ComputeBenefit returns a member's proportional claim on the pool.
// Read-only; use CommitBenefit to persist the result.
func (e *Engine) ComputeBenefit(ctx context.Context, cycleID CycleID, memberID MemberID, asOfPeriod int) (*Benefit, error) {
	return e.Benefits.ComputeBenefit(ctx, cycleID, memberID, asOfPeriod)
}

// CommitBenefit persists the computed benefit onto the membership.
func (e *Engine) CommitBenefit(ctx context.Context, cycleID CycleID, memberID MemberID, asOfPeriod int) (*Benefit, error) {
	return e.Benefits.CommitBenefit(ctx, cycleID, memberID, asOfPeriod)
}

// EditLedgerTransaction edits a savings entry and recomputes the
// account's running totals. Nil arguments leave the field unchanged.
func (e *Engine) EditLedgerTransaction(ctx context.Context, id TransactionID, newAmount *decimal.Decimal, newDate *time.Time) error {
	return e.Savings.Edit(ctx, id, newAmount, newDate)
}

// DeleteLedgerTransaction deletes a savings entry and recomputes the
// account's running totals.
func (e *Engine) DeleteLedgerTransaction(ctx context.Context, id TransactionID) error {
	return e.Savings.Delete(ctx, id)
}
