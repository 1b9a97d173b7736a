/*
benefit.go - Proportional benefit calculation

PURPOSE:
  Computes each member's proportional claim on the pooled fund, driven
  by join period and per-period contribution amount. Used for loan
  fairness and for redistributing any interest or penalty income across
  members who joined at different times.

FORMULA:
  contribution(m) = (asOfPeriod - joinPeriod(m) + 1) * amount(m), >= 0
  pool            = sum of amount(m) for members with joinPeriod <= asOf
  benefit(m)      = contribution(m) / sum(contribution) * pool

  When nobody has contributed yet (zero denominator), the pool splits
  equally among the members active at asOfPeriod.

CONSERVATION:
  Summing ComputeBenefit over all active members returns the pool
  amount to within one unit of display rounding.

PERSISTENCE:
  ComputeBenefit is pure - it never writes. CommitBenefit is the
  explicit step that persists the computed figures onto the member's
  cycle-membership record. Callers must not assume computation alone
  persisted anything.
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BENEFIT CALCULATOR
// =============================================================================

type BenefitCalculator struct {
	Store TxStore
	Clock func() time.Time
}

// ComputeBenefit returns the member's proportional claim on the pool as
// of the given period. Read-only.
func (c *BenefitCalculator) ComputeBenefit(ctx context.Context, cycleID CycleID, memberID MemberID, asOfPeriod int) (*Benefit, error) {
	if asOfPeriod < 1 {
		return nil, ErrInvalidPeriod
	}
	if _, err := c.Store.GetCycle(ctx, cycleID); err != nil {
		return nil, storeFail("compute benefit", err)
	}
	memberships, err := c.Store.Memberships(ctx, cycleID)
	if err != nil {
		return nil, storeFail("compute benefit", err)
	}

	var target *Membership
	for _, ms := range memberships {
		if ms.MemberID == memberID {
			target = ms
			break
		}
	}
	if target == nil {
		return nil, ErrNotInCycle
	}

	return computeBenefit(memberships, target, cycleID, asOfPeriod), nil
}

// CommitBenefit computes the benefit and persists it onto the member's
// cycle-membership record, atomically.
func (c *BenefitCalculator) CommitBenefit(ctx context.Context, cycleID CycleID, memberID MemberID, asOfPeriod int) (*Benefit, error) {
	if asOfPeriod < 1 {
		return nil, ErrInvalidPeriod
	}
	var out *Benefit
	err := c.Store.WithTx(ctx, func(s Store) error {
		ms, err := s.GetMembership(ctx, cycleID, memberID)
		if err != nil {
			return err
		}
		memberships, err := s.Memberships(ctx, cycleID)
		if err != nil {
			return err
		}
		out = computeBenefit(memberships, ms, cycleID, asOfPeriod)
		ms.Benefit = out.Benefit
		ms.Contributed = out.Contributed
		return s.PutMembership(ctx, ms)
	})
	if err != nil {
		return nil, storeFail("commit benefit", err)
	}
	return out, nil
}

// computeBenefit is the pure core shared by both entry points.
func computeBenefit(memberships []*Membership, target *Membership, cycleID CycleID, asOfPeriod int) *Benefit {
	pool := expectedAmount(memberships, asOfPeriod)
	contributed := contributionToDate(target, asOfPeriod)

	denominator := decimal.Zero
	activeCount := 0
	for _, ms := range memberships {
		denominator = denominator.Add(contributionToDate(ms, asOfPeriod))
		if ms.JoinPeriod <= asOfPeriod {
			activeCount++
		}
	}

	var benefit decimal.Decimal
	if denominator.IsZero() {
		// Nobody has contributed yet: equal split among active members.
		if activeCount > 0 {
			benefit = RoundMoney(pool.Div(decimal.NewFromInt(int64(activeCount))))
		}
	} else {
		benefit = RoundMoney(contributed.Div(denominator).Mul(pool))
	}

	return &Benefit{
		CycleID:     cycleID,
		MemberID:    target.MemberID,
		AsOf:        asOfPeriod,
		Contributed: contributed,
		Pool:        pool,
		Benefit:     benefit,
	}
}
