package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/engine"
)

func newTestAccount(t *testing.T, e *engine.Engine, memberID engine.MemberID) *engine.SavingsAccount {
	t.Helper()
	acct, err := e.Savings.Account(context.Background(), memberID)
	require.NoError(t, err)
	return acct
}

func runningTotals(t *testing.T, e *engine.Engine, accountID engine.AccountID) []string {
	t.Helper()
	txs, err := e.Store.SavingsTransactions(context.Background(), accountID)
	require.NoError(t, err)
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.RunningTotal.String()
	}
	return out
}

// =============================================================================
// RUNNING TOTAL TESTS
// =============================================================================

func TestSavings_RunningTotalClampsAtZero(t *testing.T) {
	// GIVEN: Deposits of +100, -300, +50 in date order
	// WHEN: The account recomputes
	// THEN: Running totals are 100, 0 (clamped), 50; cached total 50

	ctx := context.Background()
	e := newTestEngine()
	acct := newTestAccount(t, e, "ann")

	_, err := e.Savings.Append(ctx, acct.ID, money(100), day(1))
	require.NoError(t, err)
	_, err = e.Savings.Append(ctx, acct.ID, money(-300), day(2))
	require.NoError(t, err)
	_, err = e.Savings.Append(ctx, acct.ID, money(50), day(3))
	require.NoError(t, err)

	assert.Equal(t, []string{"100", "0", "50"}, runningTotals(t, e, acct.ID))

	acct, err = e.Store.AccountByMember(ctx, "ann")
	require.NoError(t, err)
	assert.True(t, acct.Total.Equal(money(50)), "cached total should be 50, got %v", acct.Total)
}

func TestSavings_OutOfOrderInsertsRecomputeByDate(t *testing.T) {
	// GIVEN: An entry on day 5, then a back-dated entry on day 1
	// WHEN: Reading the ledger
	// THEN: Totals run in date order, not insertion order

	ctx := context.Background()
	e := newTestEngine()
	acct := newTestAccount(t, e, "ann")

	_, err := e.Savings.Append(ctx, acct.ID, money(100), day(5))
	require.NoError(t, err)
	_, err = e.Savings.Append(ctx, acct.ID, money(40), day(1))
	require.NoError(t, err)

	assert.Equal(t, []string{"40", "140"}, runningTotals(t, e, acct.ID))
}

func TestSavings_AppendReturnsRecomputedEntry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	acct := newTestAccount(t, e, "ann")

	_, err := e.Savings.Append(ctx, acct.ID, money(100), day(1))
	require.NoError(t, err)
	tx, err := e.Savings.Append(ctx, acct.ID, money(25), day(2))
	require.NoError(t, err)

	assert.True(t, tx.RunningTotal.Equal(money(125)))
}

// =============================================================================
// EDIT / DELETE TESTS
// =============================================================================

func TestSavings_EditAmountRecomputesDownstream(t *testing.T) {
	// GIVEN: Entries 100, 200
	// WHEN: The first is edited to 500
	// THEN: Every downstream running total shifts; cached total follows

	ctx := context.Background()
	e := newTestEngine()
	acct := newTestAccount(t, e, "ann")

	first, err := e.Savings.Append(ctx, acct.ID, money(100), day(1))
	require.NoError(t, err)
	_, err = e.Savings.Append(ctx, acct.ID, money(200), day(2))
	require.NoError(t, err)

	amt := money(500)
	require.NoError(t, e.EditLedgerTransaction(ctx, first.ID, &amt, nil))

	assert.Equal(t, []string{"500", "700"}, runningTotals(t, e, acct.ID))

	acct, err = e.Store.AccountByMember(ctx, "ann")
	require.NoError(t, err)
	assert.True(t, acct.Total.Equal(money(700)))
}

func TestSavings_EditDateReordersLedger(t *testing.T) {
	// GIVEN: A withdrawal dated before the deposit funding it
	// WHEN: The withdrawal is moved after the deposit
	// THEN: The clamp disappears and totals reflect the true sequence

	ctx := context.Background()
	e := newTestEngine()
	acct := newTestAccount(t, e, "ann")

	withdrawal, err := e.Savings.Append(ctx, acct.ID, money(-60), day(1))
	require.NoError(t, err)
	_, err = e.Savings.Append(ctx, acct.ID, money(100), day(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "100"}, runningTotals(t, e, acct.ID))

	moved := day(3)
	require.NoError(t, e.EditLedgerTransaction(ctx, withdrawal.ID, nil, &moved))

	assert.Equal(t, []string{"100", "40"}, runningTotals(t, e, acct.ID))
}

func TestSavings_DeleteRecomputes(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	acct := newTestAccount(t, e, "ann")

	_, err := e.Savings.Append(ctx, acct.ID, money(100), day(1))
	require.NoError(t, err)
	mid, err := e.Savings.Append(ctx, acct.ID, money(-300), day(2))
	require.NoError(t, err)
	_, err = e.Savings.Append(ctx, acct.ID, money(50), day(3))
	require.NoError(t, err)

	require.NoError(t, e.DeleteLedgerTransaction(ctx, mid.ID))

	assert.Equal(t, []string{"100", "150"}, runningTotals(t, e, acct.ID))

	acct, err = e.Store.AccountByMember(ctx, "ann")
	require.NoError(t, err)
	assert.True(t, acct.Total.Equal(money(150)))
}

func TestSavings_EditUnknownTransaction(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	amt := money(1)
	err := e.EditLedgerTransaction(ctx, "no-such-tx", &amt, nil)
	assert.ErrorIs(t, err, engine.ErrTransactionNotFound)
	assert.True(t, engine.IsNotFound(err))

	err = e.DeleteLedgerTransaction(ctx, "no-such-tx")
	assert.ErrorIs(t, err, engine.ErrTransactionNotFound)
}

func TestSavings_AccountCreatedOnFirstUse(t *testing.T) {
	// GIVEN: A member ID with no prior registration anywhere
	// WHEN: Their savings account is looked up
	// THEN: It is created empty, and a second lookup reuses it

	ctx := context.Background()
	e := newTestEngine()

	first, err := e.Savings.Account(ctx, "ann")
	require.NoError(t, err)
	assert.True(t, first.Total.IsZero())

	again, err := e.Savings.Account(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "second lookup should reuse the account")
}

func TestSavings_AccountNeedsNoCycleRegistration(t *testing.T) {
	// GIVEN: A member who has never joined a cycle
	// WHEN: They open an account and deposit
	// THEN: The ledger works without any membership record

	ctx := context.Background()
	e := newTestEngine()

	acct, err := e.Savings.Account(ctx, "drifter")
	require.NoError(t, err)

	_, err = e.Savings.Append(ctx, acct.ID, money(250), day(1))
	require.NoError(t, err)

	acct, err = e.Store.AccountByMember(ctx, "drifter")
	require.NoError(t, err)
	assert.True(t, acct.Total.Equal(money(250)))
}
