package engine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/engine"
	"github.com/warp/rosca-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// newTestEngine wires the engine over the in-memory store with a
// deterministic, strictly-advancing clock.
func newTestEngine() *engine.Engine {
	e := engine.New(store.NewMemory())
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	e.Clock = func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	}
	return e
}

func money(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// day returns a fixed payment date for a period. Distinct per period so
// the savings dedupe never collapses two different installments.
func day(n int) time.Time {
	return time.Date(2025, time.March, n, 12, 0, 0, 0, time.UTC)
}

func fourFounders() []*engine.Member {
	return []*engine.Member{
		{ID: "ann", Name: "Ann"},
		{ID: "ben", Name: "Ben"},
		{ID: "cam", Name: "Cam"},
		{ID: "dee", Name: "Dee"},
	}
}

func newRotation(t *testing.T, e *engine.Engine, amount int64, founders []*engine.Member) *engine.Cycle {
	t.Helper()
	cycle, err := e.CreateCycle(context.Background(), "test rotation", money(amount), founders)
	require.NoError(t, err)
	return cycle
}

// payPeriod records the cycle's per-period amount for each member and
// returns the final collection totals.
func payPeriod(t *testing.T, e *engine.Engine, cycle *engine.Cycle, period int, members ...engine.MemberID) *engine.CollectionTotals {
	t.Helper()
	var totals *engine.CollectionTotals
	for _, id := range members {
		_, tt, err := e.RecordPayment(context.Background(), cycle.ID, period, id, cycle.Amount, day(period))
		require.NoError(t, err)
		totals = tt
	}
	return totals
}

// =============================================================================
// CYCLE SETUP TESTS
// =============================================================================

func TestCreateCycle_SetsUpRotation(t *testing.T) {
	// GIVEN: Four founding members at 2000 per period
	// WHEN: Creating the cycle
	// THEN: Four periods, all founders joined at period 1, cycle active

	ctx := context.Background()
	e := newTestEngine()

	cycle := newRotation(t, e, 2000, fourFounders())

	assert.Equal(t, 4, cycle.TotalPeriods)
	assert.Equal(t, 0, cycle.CurrentPeriod)
	assert.True(t, cycle.Active)

	memberships, err := e.Store.Memberships(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, memberships, 4)
	for _, ms := range memberships {
		assert.Equal(t, 1, ms.JoinPeriod)
		assert.True(t, ms.Amount.Equal(money(2000)))
	}
}

func TestCreateCycle_RejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	_, err := e.CreateCycle(ctx, "bad", money(0), fourFounders())
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
	assert.True(t, engine.IsValidation(err))

	_, err = e.CreateCycle(ctx, "bad", money(-5), fourFounders())
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
}

func TestCreateCycle_GeneratesMemberIDs(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	cycle, err := e.CreateCycle(ctx, "anon", money(100), []*engine.Member{
		{Name: "no id yet"},
	})
	require.NoError(t, err)

	memberships, err := e.Store.Memberships(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.NotEmpty(t, memberships[0].MemberID)
}
