package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/engine"
)

func TestInstallmentSchedule_SumsToPrincipalExactly(t *testing.T) {
	cases := []struct {
		name      string
		principal int64
		periods   int
		first     string
		last      string
	}{
		{"even split", 8000, 4, "2000", "2000"},
		{"residue on last", 8000, 3, "2666.67", "2666.66"},
		{"single period", 8000, 1, "8000", "8000"},
		{"small awkward", 100, 7, "14.29", "14.26"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			principal := decimal.NewFromInt(tc.principal)
			schedule := engine.InstallmentSchedule(principal, tc.periods)
			require.Len(t, schedule, tc.periods)

			assert.Equal(t, tc.first, schedule[0].String())
			assert.Equal(t, tc.last, schedule[len(schedule)-1].String())

			sum := decimal.Zero
			for _, part := range schedule {
				sum = sum.Add(part)
			}
			assert.True(t, sum.Equal(principal), "schedule must sum to principal exactly, got %v", sum)
		})
	}
}

func TestInstallmentSchedule_NoPeriods(t *testing.T) {
	assert.Nil(t, engine.InstallmentSchedule(money(100), 0))
	assert.True(t, engine.Installment(money(100), 0).IsZero())
}

func TestPeriodsCovered(t *testing.T) {
	installment := money(2000)

	assert.Equal(t, 0, engine.PeriodsCovered(money(1999), installment, 4))
	assert.Equal(t, 1, engine.PeriodsCovered(money(2000), installment, 4))
	assert.Equal(t, 1, engine.PeriodsCovered(money(3999), installment, 4))
	assert.Equal(t, 2, engine.PeriodsCovered(money(4000), installment, 4))

	// Never more than the schedule has.
	assert.Equal(t, 4, engine.PeriodsCovered(money(99999), installment, 4))

	// Degenerate inputs cover nothing.
	assert.Equal(t, 0, engine.PeriodsCovered(money(0), installment, 4))
	assert.Equal(t, 0, engine.PeriodsCovered(money(2000), money(0), 4))
}

func TestRoundMoney_HalfEven(t *testing.T) {
	assert.Equal(t, "2.12", engine.RoundMoney(decimal.RequireFromString("2.125")).String())
	assert.Equal(t, "2.14", engine.RoundMoney(decimal.RequireFromString("2.135")).String())
	assert.Equal(t, "2.13", engine.RoundMoney(decimal.RequireFromString("2.131")).String())
}

func TestLatePenalty(t *testing.T) {
	rate := decimal.RequireFromString("0.05")

	assert.True(t, engine.LatePenalty(money(2000), rate, 0).IsZero())
	assert.True(t, engine.LatePenalty(money(2000), rate, -1).IsZero())
	assert.Equal(t, "100", engine.LatePenalty(money(2000), rate, 1).String())
	assert.Equal(t, "300", engine.LatePenalty(money(2000), rate, 3).String())
}
