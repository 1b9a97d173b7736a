/*
scheduler.go - Cycle rotation and mid-cycle joins

PURPOSE:
  Advances a cycle through its periods and handles members joining an
  already-running rotation.

ADVANCE:
  The next period index is the last existing collection's index + 1 (or
  1 when none exist). Advancing past the member count is a rotation-
  complete rejection; advancing an inactive cycle is rejected outright.
  Advancing creates the period's collection with its expected amount
  frozen, and moves the cycle's current-period pointer.

MID-CYCLE JOIN:
  A member joining at period k > 1 owes back-payments for every period
  from 1 through the cycle's current period, at their own rate. The join
  registers the membership first, then walks the periods IN ORDER, one
  transaction per period: create the missing collection if needed
  (its expected amount now includes the joiner) and record the
  back-dated payment through the normal contribution path, savings
  append included. An interruption leaves a consistent prefix - the
  remaining periods can be replayed, and the payment dedupe rules make
  the replay converge.

SEE ALSO:
  - contribution.go: The payment path each back-payment reuses
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
// SCHEDULER
// =============================================================================

type Scheduler struct {
	Store        TxStore
	Contribution *ContributionEngine
	Clock        func() time.Time
}

// AdvancePeriod opens the cycle's next period and returns its
// collection totals.
func (sc *Scheduler) AdvancePeriod(ctx context.Context, cycleID CycleID) (*CollectionTotals, error) {
	var out *CollectionTotals
	err := sc.Store.WithTx(ctx, func(s Store) error {
		cycle, err := s.GetCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		if !cycle.Active {
			return ErrCycleInactive
		}

		cols, err := s.Collections(ctx, cycleID)
		if err != nil {
			return err
		}
		next := 1
		if n := len(cols); n > 0 {
			next = cols[n-1].Period + 1
		}
		if next > cycle.TotalPeriods {
			return ErrRotationComplete
		}

		col, err := sc.Contribution.ensureCollectionIn(ctx, s, cycle, next)
		if err != nil {
			return err
		}
		if next > cycle.CurrentPeriod {
			cycle.CurrentPeriod = next
			if err := s.PutCycle(ctx, cycle); err != nil {
				return err
			}
		}
		out = totalsOf(col)
		return nil
	})
	if err != nil {
		return nil, storeFail("advance period", err)
	}
	return out, nil
}

// JoinMidCycle registers a member into a running cycle and records
// their back-payments for periods 1..currentPeriod, one period at a
// time so an interruption leaves a consistent prefix.
func (sc *Scheduler) JoinMidCycle(ctx context.Context, cycleID CycleID, member *Member, amount decimal.Decimal, date time.Time) (*Membership, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	var ms *Membership
	err := sc.Store.WithTx(ctx, func(s Store) error {
		m, err := sc.registerIn(ctx, s, cycleID, member, amount)
		ms = m
		return err
	})
	if err != nil {
		return nil, storeFail("join cycle", err)
	}

	// Back-payments run period by period, each in its own transaction.
	cycle, err := sc.Store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, storeFail("join cycle", err)
	}
	for period := 1; period <= cycle.CurrentPeriod; period++ {
		if err := sc.ensureBackPayCollection(ctx, cycleID, ms, period); err != nil {
			return nil, err
		}
		// Each period gets its own back-dated timestamp, one day apart:
		// the savings dedupe keys on (date, amount), and a replayed join
		// regenerates the same dates so it still converges.
		paidAt := date.AddDate(0, 0, period-cycle.CurrentPeriod)
		_, _, err := sc.Contribution.RecordPayment(ctx, cycleID, period, member.ID, amount, paidAt)
		if err != nil && !errors.Is(err, ErrDuplicatePayment) {
			return nil, err
		}
	}
	return ms, nil
}

// ensureBackPayCollection creates a missing collection for a back-paid
// period. Unlike lazy creation, its expected amount includes the joiner
// even though their join period is later: they owe this period too.
// Collections that already exist keep their frozen expected amount.
func (sc *Scheduler) ensureBackPayCollection(ctx context.Context, cycleID CycleID, ms *Membership, period int) error {
	err := sc.Store.WithTx(ctx, func(s Store) error {
		_, err := s.GetCollection(ctx, cycleID, period)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCollectionNotFound) {
			return err
		}
		memberships, err := s.Memberships(ctx, cycleID)
		if err != nil {
			return err
		}
		expected := expectedAmount(memberships, period)
		if ms.JoinPeriod > period {
			expected = expected.Add(ms.Amount)
		}
		col := &Collection{
			ID:        CollectionID(uuid.NewString()),
			CycleID:   cycleID,
			Period:    period,
			Expected:  expected,
			Collected: decimal.Zero,
			CreatedAt: sc.now(),
		}
		return s.PutCollection(ctx, col)
	})
	return storeFail("join cycle", err)
}

func (sc *Scheduler) registerIn(ctx context.Context, s Store, cycleID CycleID, member *Member, amount decimal.Decimal) (*Membership, error) {
	cycle, err := s.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if !cycle.Active {
		return nil, ErrCycleInactive
	}

	if _, err := s.GetMember(ctx, member.ID); errors.Is(err, ErrMemberNotFound) {
		if member.ID == "" {
			member.ID = MemberID(uuid.NewString())
		}
		if member.JoinedAt.IsZero() {
			member.JoinedAt = sc.now()
		}
		if err := s.PutMember(ctx, member); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if _, err := s.GetMembership(ctx, cycleID, member.ID); err == nil {
		return nil, ErrAlreadyMember
	} else if !errors.Is(err, ErrNotInCycle) {
		return nil, err
	}

	join := cycle.CurrentPeriod
	if join < 1 {
		join = 1
	}
	ms := &Membership{
		CycleID:    cycleID,
		MemberID:   member.ID,
		JoinPeriod: join,
		Amount:     amount,
	}
	if err := s.PutMembership(ctx, ms); err != nil {
		return nil, err
	}

	// The rotation grows by one slot: one loan per member.
	memberships, err := s.Memberships(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	cycle.TotalPeriods = len(memberships)
	return ms, s.PutCycle(ctx, cycle)
}

func (sc *Scheduler) now() time.Time {
	if sc.Clock != nil {
		return sc.Clock().UTC()
	}
	return time.Now().UTC()
}
