/*
policy.go - Pure arithmetic and policy utilities

PURPOSE:
  Rounding rules, installment schedule generation, contribution credit
  math and the late-penalty formula. Pure functions, no state, no store.

MONEY:
  All amounts are decimal.Decimal. Display precision is two places,
  rounded half-even. Installment schedules are generated so the parts
  sum back to the principal EXACTLY: the final installment absorbs the
  rounding residue. This is what lets loan completion be defined as
  remaining == 0 with no epsilon.

SEE ALSO:
  - loan.go: Consumes InstallmentSchedule and PeriodsCovered
*/
package engine

import "github.com/shopspring/decimal"

// moneyPlaces is the display precision for monetary amounts.
const moneyPlaces = 2

// RoundMoney rounds to two decimal places, half-even.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(moneyPlaces)
}

// Installment returns the equal per-period repayment for a principal
// over n periods, rounded. The last period of a schedule may differ -
// use InstallmentSchedule when the exact final amount matters.
func Installment(principal decimal.Decimal, periods int) decimal.Decimal {
	if periods <= 0 {
		return decimal.Zero
	}
	return RoundMoney(principal.Div(decimal.NewFromInt(int64(periods))))
}

// InstallmentSchedule splits principal into n installments that sum to
// principal exactly. Installments 1..n-1 are equal (rounded half-even);
// the final installment absorbs the residue.
func InstallmentSchedule(principal decimal.Decimal, periods int) []decimal.Decimal {
	if periods <= 0 {
		return nil
	}
	schedule := make([]decimal.Decimal, periods)
	each := Installment(principal, periods)
	rest := principal
	for i := 0; i < periods-1; i++ {
		schedule[i] = each
		rest = rest.Sub(each)
	}
	schedule[periods-1] = rest
	return schedule
}

// PeriodsCovered returns how many whole repayment periods a cumulative
// contribution settles at the given installment, never more than the
// schedule has.
func PeriodsCovered(contributed, installment decimal.Decimal, totalPeriods int) int {
	if installment.Sign() <= 0 || contributed.Sign() <= 0 {
		return 0
	}
	n := int(contributed.Div(installment).IntPart())
	if n > totalPeriods {
		n = totalPeriods
	}
	return n
}

// LatePenalty computes the penalty for an installment that is
// periodsLate periods overdue: amount * rate * periodsLate, rounded.
//
// Advisory only: no mutation path in this engine applies penalties.
// Callers that surface overdue figures compute them on the fly.
func LatePenalty(amount, rate decimal.Decimal, periodsLate int) decimal.Decimal {
	if periodsLate <= 0 {
		return decimal.Zero
	}
	return RoundMoney(amount.Mul(rate).Mul(decimal.NewFromInt(int64(periodsLate))))
}

// expectedAmount sums the per-period contribution of every membership
// that had joined by the given period.
func expectedAmount(memberships []*Membership, period int) decimal.Decimal {
	total := decimal.Zero
	for _, ms := range memberships {
		if ms.JoinPeriod <= period {
			total = total.Add(ms.Amount)
		}
	}
	return total
}

// contributionToDate is a membership's schedule-implied contribution
// through asOfPeriod: (asOf - join + 1) * amount, clamped at zero.
func contributionToDate(ms *Membership, asOfPeriod int) decimal.Decimal {
	n := asOfPeriod - ms.JoinPeriod + 1
	if n <= 0 {
		return decimal.Zero
	}
	return ms.Amount.Mul(decimal.NewFromInt(int64(n)))
}
