package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/engine"
)

// =============================================================================
// DISBURSEMENT TESTS
// =============================================================================

func TestGiveLoan_DisbursesCompletedCollection(t *testing.T) {
	// GIVEN: Four members at 2000, period 1 fully collected (8000)
	// WHEN: The pot is disbursed to Ann
	// THEN: Principal 8000, remaining 8000, four repayment periods

	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")

	loan, err := e.GiveLoan(ctx, cycle.ID, "ann")
	require.NoError(t, err)

	assert.True(t, loan.Principal.Equal(money(8000)))
	assert.True(t, loan.Remaining.Equal(money(8000)))
	assert.Equal(t, 4, loan.TotalPeriods)
	assert.Equal(t, 0, loan.CurrentPeriod)
	assert.Equal(t, 1, loan.DisbursedPeriod)
	assert.Equal(t, engine.LoanActive, loan.Status)

	col, err := e.Store.GetCollection(ctx, cycle.ID, 1)
	require.NoError(t, err)
	assert.True(t, col.LoanDisbursed)
	assert.Equal(t, loan.ID, col.LoanID)
	assert.Equal(t, engine.MemberID("ann"), col.LoanMemberID)
	assert.True(t, col.LoanAmount.Equal(money(8000)))
}

func TestGiveLoan_RequiresCompletedCollection(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam") // 6000 of 8000

	_, err := e.GiveLoan(ctx, cycle.ID, "ann")
	assert.ErrorIs(t, err, engine.ErrNoEligibleCollection)
}

func TestGiveLoan_OnePerMemberPerCycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")

	_, err := e.GiveLoan(ctx, cycle.ID, "ann")
	require.NoError(t, err)

	_, err = e.GiveLoan(ctx, cycle.ID, "ann")
	assert.ErrorIs(t, err, engine.ErrDuplicateLoan)
	assert.True(t, engine.IsConflict(err))
}

func TestGiveLoan_RequiresMembership(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")

	_, err := e.GiveLoan(ctx, cycle.ID, "stranger")
	assert.ErrorIs(t, err, engine.ErrNotInCycle)
}

func TestGiveLoan_CreditsPriorContributions(t *testing.T) {
	// GIVEN: All four members paid periods 1..3 before any disbursement
	// WHEN: Cam takes the period 3 pot (periods 1 and 2 already taken)
	// THEN: His 4000 of prior contributions settle one whole installment

	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")
	payPeriod(t, e, cycle, 2, "ann", "ben", "cam", "dee")
	payPeriod(t, e, cycle, 3, "ann", "ben", "cam", "dee")

	_, err := e.GiveLoan(ctx, cycle.ID, "ann") // period 1 pot
	require.NoError(t, err)
	_, err = e.GiveLoan(ctx, cycle.ID, "ben") // period 2 pot
	require.NoError(t, err)

	loan, err := e.GiveLoan(ctx, cycle.ID, "cam") // period 3 pot
	require.NoError(t, err)

	// Principal 8000 over periods 3..4 => 2 periods of 4000. Cam paid
	// 4000 before period 3, covering installment 1 outright.
	assert.True(t, loan.Principal.Equal(money(8000)))
	assert.Equal(t, 2, loan.TotalPeriods)
	assert.Equal(t, 3, loan.DisbursedPeriod)
	assert.True(t, loan.PrincipalPaid.Equal(money(4000)))
	assert.True(t, loan.Remaining.Equal(money(4000)))
	assert.Equal(t, 1, loan.CurrentPeriod)
	assert.Equal(t, 1, loan.PeriodsCredited)
	assert.Equal(t, engine.LoanActive, loan.Status)

	txs, err := e.Store.LoanTransactions(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, 1, txs[0].Period)
	assert.True(t, txs[0].Amount.Equal(money(4000)))

	// One repayment finishes it.
	done, _, err := e.RepayLoan(ctx, loan.ID, day(20))
	require.NoError(t, err)
	assert.Equal(t, engine.LoanCompleted, done.Status)
	assert.True(t, done.Remaining.IsZero())
}

func TestGiveLoan_PartialCreditDoesNotAdvancePeriods(t *testing.T) {
	// GIVEN: Ben paid 2000 before taking the period 2 pot of 8000
	// WHEN: The loan spans periods 2..4 (installment 2666.67)
	// THEN: 2000 covers no whole installment; remaining is 6000

	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")
	payPeriod(t, e, cycle, 2, "ann", "ben", "cam", "dee")

	_, err := e.GiveLoan(ctx, cycle.ID, "ann") // period 1 pot
	require.NoError(t, err)

	loan, err := e.GiveLoan(ctx, cycle.ID, "ben") // period 2 pot
	require.NoError(t, err)

	assert.Equal(t, 3, loan.TotalPeriods)
	assert.True(t, loan.PrincipalPaid.Equal(money(2000)))
	assert.True(t, loan.Remaining.Equal(money(6000)))
	assert.Equal(t, 0, loan.CurrentPeriod)
	assert.Equal(t, 0, loan.PeriodsCredited)
}

// =============================================================================
// REPAYMENT TESTS
// =============================================================================

func TestGiveLoan_ConcurrentCallsDisburseOnce(t *testing.T) {
	// GIVEN: One completed collection and two members racing for it
	// WHEN: Both GiveLoan calls run concurrently
	// THEN: Exactly one succeeds; the loser finds no eligible pot

	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")

	errs := make(chan error, 2)
	for _, m := range []engine.MemberID{"ann", "ben"} {
		go func(m engine.MemberID) {
			_, err := e.GiveLoan(ctx, cycle.ID, m)
			errs <- err
		}(m)
	}

	var ok, lost int
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			ok++
			continue
		}
		lost++
		assert.ErrorIs(t, err, engine.ErrNoEligibleCollection)
	}
	assert.Equal(t, 1, ok, "exactly one racer should win the pot")
	assert.Equal(t, 1, lost)

	loans, err := e.Store.Loans(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Len(t, loans, 1)
}

func TestGiveLoan_ConcurrentSameMemberGetsOneLoan(t *testing.T) {
	// GIVEN: A member issuing the same GiveLoan twice concurrently
	// WHEN: Both calls race
	// THEN: One wins; the other hits the one-loan-per-cycle rule

	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := e.GiveLoan(ctx, cycle.ID, "ann")
			errs <- err
		}()
	}

	var ok int
	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, engine.ErrDuplicateLoan)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestRepay_FullScheduleCompletes(t *testing.T) {
	// GIVEN: Ann's 8000 loan over 4 periods
	// WHEN: She repays once per period
	// THEN: Remaining steps 6000, 4000, 2000, 0 and the loan completes

	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")

	loan, err := e.GiveLoan(ctx, cycle.ID, "ann")
	require.NoError(t, err)

	want := []string{"6000", "4000", "2000", "0"}
	for i, remaining := range want {
		l, tx, err := e.RepayLoan(ctx, loan.ID, day(10+i))
		require.NoError(t, err)
		assert.Equal(t, remaining, l.Remaining.String())
		assert.Equal(t, i+1, l.CurrentPeriod)
		assert.True(t, tx.Amount.Equal(money(2000)))
	}

	final, err := e.Store.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.LoanCompleted, final.Status)
	assert.True(t, final.Remaining.IsZero(), "fully repaid means exactly zero")
}

func TestRepay_CompletedLoanRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")

	loan, err := e.GiveLoan(ctx, cycle.ID, "ann")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, _, err := e.RepayLoan(ctx, loan.ID, day(10+i))
		require.NoError(t, err)
	}

	_, _, err = e.RepayLoan(ctx, loan.ID, day(20))
	assert.ErrorIs(t, err, engine.ErrLoanClosed)
}

func TestRepay_UnevenScheduleReachesZeroExactly(t *testing.T) {
	// GIVEN: Ben's 8000 period 2 loan over 3 periods (2666.67 each,
	//        2000 already credited as prior contributions)
	// WHEN: He pays every remaining installment
	// THEN: The final installment absorbs the residue; remaining is
	//       exactly zero, no epsilon

	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")
	payPeriod(t, e, cycle, 2, "ann", "ben", "cam", "dee")

	_, err := e.GiveLoan(ctx, cycle.ID, "ann") // period 1 pot
	require.NoError(t, err)
	loan, err := e.GiveLoan(ctx, cycle.ID, "ben") // period 2 pot
	require.NoError(t, err)
	require.True(t, loan.Remaining.Equal(money(6000)))

	_, tx1, err := e.RepayLoan(ctx, loan.ID, day(10))
	require.NoError(t, err)
	assert.Equal(t, "2666.67", tx1.Amount.String())

	_, tx2, err := e.RepayLoan(ctx, loan.ID, day(11))
	require.NoError(t, err)
	assert.Equal(t, "2666.67", tx2.Amount.String())

	// Schedule says 2666.66 but only 666.66 is still owed.
	final, tx3, err := e.RepayLoan(ctx, loan.ID, day(12))
	require.NoError(t, err)
	assert.Equal(t, "666.66", tx3.Amount.String())
	assert.Equal(t, engine.LoanCompleted, final.Status)
	assert.True(t, final.Remaining.IsZero())
}

func TestRepay_UnknownLoan(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	_, _, err := e.RepayLoan(ctx, "no-such-loan", day(1))
	assert.ErrorIs(t, err, engine.ErrLoanNotFound)
}

// =============================================================================
// REVERSAL AND DEFAULT TESTS
// =============================================================================

func TestReverse_ReopensCollectionAndAllowsRedisbursement(t *testing.T) {
	// GIVEN: The period 1 pot disbursed to Ann
	// WHEN: The disbursement is reversed
	// THEN: The collection unlocks and Ben can take the same pot

	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")

	loan, err := e.GiveLoan(ctx, cycle.ID, "ann")
	require.NoError(t, err)

	require.NoError(t, e.ReverseLoan(ctx, loan.ID))

	col, err := e.Store.GetCollection(ctx, cycle.ID, 1)
	require.NoError(t, err)
	assert.False(t, col.LoanDisbursed)
	assert.Empty(t, col.LoanID)
	assert.True(t, col.LoanAmount.IsZero())

	_, err = e.Store.GetLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, engine.ErrLoanNotFound)

	redo, err := e.GiveLoan(ctx, cycle.ID, "ben")
	require.NoError(t, err)
	assert.True(t, redo.Principal.Equal(money(8000)))
}

func TestReverse_ReactivatesClosedCycle(t *testing.T) {
	// GIVEN: A two-member cycle where both pots were handed out
	// WHEN: One loan is reversed
	// THEN: The cycle flips back to active

	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 1000, []*engine.Member{
		{ID: "ann"}, {ID: "ben"},
	})
	payPeriod(t, e, cycle, 1, "ann", "ben")
	payPeriod(t, e, cycle, 2, "ann", "ben")

	_, err := e.GiveLoan(ctx, cycle.ID, "ann")
	require.NoError(t, err)
	second, err := e.GiveLoan(ctx, cycle.ID, "ben")
	require.NoError(t, err)

	closed, err := e.Store.GetCycle(ctx, cycle.ID)
	require.NoError(t, err)
	assert.False(t, closed.Active, "cycle closes once every member holds a loan")

	require.NoError(t, e.ReverseLoan(ctx, second.ID))

	reopened, err := e.Store.GetCycle(ctx, cycle.ID)
	require.NoError(t, err)
	assert.True(t, reopened.Active)
}

func TestMarkDefaulted_TerminalTransition(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	cycle := newRotation(t, e, 2000, fourFounders())
	payPeriod(t, e, cycle, 1, "ann", "ben", "cam", "dee")

	loan, err := e.GiveLoan(ctx, cycle.ID, "ann")
	require.NoError(t, err)

	require.NoError(t, e.MarkDefaulted(ctx, loan.ID))

	defaulted, err := e.Store.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.LoanDefaulted, defaulted.Status)

	// No repayments and no second default.
	_, _, err = e.RepayLoan(ctx, loan.ID, day(10))
	assert.ErrorIs(t, err, engine.ErrLoanClosed)
	assert.ErrorIs(t, e.MarkDefaulted(ctx, loan.ID), engine.ErrLoanClosed)
}

// =============================================================================
// AD HOC LOAN TESTS
// =============================================================================

func TestAdHocLoan_GrantActivateRepay(t *testing.T) {
	// GIVEN: Ann has 5000 in savings
	// WHEN: A 3000 ad hoc loan is granted and activated
	// THEN: Savings drop to 2000 and the loan repays on schedule

	ctx := context.Background()
	e := newTestEngine()
	acct := newTestAccount(t, e, "ann")
	_, err := e.Savings.Append(ctx, acct.ID, money(5000), day(1))
	require.NoError(t, err)

	loan, err := e.GrantAdHocLoan(ctx, "ann", money(3000), 3)
	require.NoError(t, err)
	assert.Equal(t, engine.LoanPending, loan.Status)
	assert.Empty(t, loan.CycleID)

	active, err := e.ActivateAdHocLoan(ctx, loan.ID, day(2))
	require.NoError(t, err)
	assert.Equal(t, engine.LoanActive, active.Status)

	acct, err = e.Store.AccountByMember(ctx, "ann")
	require.NoError(t, err)
	assert.True(t, acct.Total.Equal(money(2000)), "activation deducts the principal")

	for i := 0; i < 3; i++ {
		_, _, err := e.RepayLoan(ctx, loan.ID, day(5+i))
		require.NoError(t, err)
	}
	done, err := e.Store.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.LoanCompleted, done.Status)
	assert.True(t, done.Remaining.IsZero())
}

func TestAdHocLoan_InsufficientSavingsRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	acct := newTestAccount(t, e, "ann")
	_, err := e.Savings.Append(ctx, acct.ID, money(1000), day(1))
	require.NoError(t, err)

	_, err = e.GrantAdHocLoan(ctx, "ann", money(3000), 3)
	require.Error(t, err)
	assert.True(t, engine.IsInsufficientFunds(err))

	var insufficient *engine.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Requested.Equal(money(3000)))
	assert.True(t, insufficient.Available.Equal(money(1000)))
}

func TestAdHocLoan_ActivationRechecksFunds(t *testing.T) {
	// GIVEN: A pending loan granted while savings covered it
	// WHEN: The savings drain before activation
	// THEN: Activation is rejected

	ctx := context.Background()
	e := newTestEngine()
	acct := newTestAccount(t, e, "ann")
	deposit, err := e.Savings.Append(ctx, acct.ID, money(5000), day(1))
	require.NoError(t, err)

	loan, err := e.GrantAdHocLoan(ctx, "ann", money(3000), 3)
	require.NoError(t, err)

	require.NoError(t, e.DeleteLedgerTransaction(ctx, deposit.ID))

	_, err = e.ActivateAdHocLoan(ctx, loan.ID, day(2))
	assert.True(t, engine.IsInsufficientFunds(err))
}

func TestAdHocLoan_ReverseRestoresSavings(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	acct := newTestAccount(t, e, "ann")
	_, err := e.Savings.Append(ctx, acct.ID, money(5000), day(1))
	require.NoError(t, err)

	loan, err := e.GrantAdHocLoan(ctx, "ann", money(3000), 3)
	require.NoError(t, err)
	_, err = e.ActivateAdHocLoan(ctx, loan.ID, day(2))
	require.NoError(t, err)

	require.NoError(t, e.ReverseLoan(ctx, loan.ID))

	acct, err = e.Store.AccountByMember(ctx, "ann")
	require.NoError(t, err)
	assert.True(t, acct.Total.Equal(money(5000)), "reversal removes the deduction")
}

func TestAdHocLoan_ValidatesInput(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	_, err := e.GrantAdHocLoan(ctx, "ann", money(0), 3)
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	_, err = e.GrantAdHocLoan(ctx, "ann", money(100), 0)
	assert.ErrorIs(t, err, engine.ErrInvalidPeriod)
}
