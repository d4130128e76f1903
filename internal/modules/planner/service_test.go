package planner

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrortrader/internal/domain"
)

func TestPlanSellsBeforeBuys(t *testing.T) {
	planner := NewPlanner(zerolog.Nop())

	holdings := []domain.Holding{
		{Symbol: "SH600000", Name: "浦发银行", Shares: 5000, CurrentPrice: 10},
		{Symbol: "SZ000001", Name: "平安银行", Shares: 1000, CurrentPrice: 12},
	}
	targets := []domain.ResolvedTarget{
		{Symbol: "SH600000", Name: "浦发银行", TargetShares: 2000, Price: 10, WeightPercent: 20},
		{Symbol: "SH600519", Name: "贵州茅台", TargetShares: 100, Price: 1700, WeightPercent: 17},
	}

	plan, atTarget := planner.Plan("ZH123456", holdings, targets)
	require.Len(t, plan, 3)
	assert.Empty(t, atTarget)

	// Sells first: reduce SH600000, close out SZ000001, then buy SH600519
	assert.Equal(t, domain.ActionSell, plan[0].Action)
	assert.Equal(t, "SH600000", plan[0].Symbol)
	assert.Equal(t, int64(3000), plan[0].Shares)
	assert.Equal(t, "overweight", plan[0].Reason)

	assert.Equal(t, domain.ActionSell, plan[1].Action)
	assert.Equal(t, "SZ000001", plan[1].Symbol)
	assert.Equal(t, int64(1000), plan[1].Shares)
	assert.Equal(t, "not in target", plan[1].Reason)

	assert.Equal(t, domain.ActionBuy, plan[2].Action)
	assert.Equal(t, "SH600519", plan[2].Symbol)
	assert.Equal(t, int64(100), plan[2].Shares)
	assert.Equal(t, "ZH123456", plan[2].Portfolio)
}

func TestPlanIsIdempotentAtTarget(t *testing.T) {
	planner := NewPlanner(zerolog.Nop())

	holdings := []domain.Holding{
		{Symbol: "SH600000", Shares: 5000, CurrentPrice: 10},
	}
	targets := []domain.ResolvedTarget{
		{Symbol: "SH600000", TargetShares: 5000, Price: 10, WeightPercent: 50},
	}

	plan, atTarget := planner.Plan("ZH123456", holdings, targets)
	assert.Empty(t, plan)
	require.Len(t, atTarget, 1)
	assert.Equal(t, "already at target", atTarget[0].Reason)
	assert.False(t, planner.NeedsSync(holdings, targets))
}

func TestPlanEmptyHoldingsBuysEverything(t *testing.T) {
	planner := NewPlanner(zerolog.Nop())

	targets := []domain.ResolvedTarget{
		{Symbol: "SH600000", TargetShares: 5000, Price: 10, WeightPercent: 50},
		{Symbol: "SZ000001", TargetShares: 800, Price: 12, WeightPercent: 10},
	}

	plan, _ := planner.Plan("ZH123456", nil, targets)
	require.Len(t, plan, 2)
	for _, instruction := range plan {
		assert.Equal(t, domain.ActionBuy, instruction.Action)
	}
}

func TestPlanZeroShareTargetProducesNoBuy(t *testing.T) {
	planner := NewPlanner(zerolog.Nop())

	// Weight too small for a single lot resolves to zero shares
	targets := []domain.ResolvedTarget{
		{Symbol: "SH600000", TargetShares: 0, Price: 10, WeightPercent: 0.5},
	}

	plan, atTarget := planner.Plan("ZH123456", nil, targets)
	assert.Empty(t, plan)
	require.Len(t, atTarget, 1)
	assert.False(t, planner.NeedsSync(nil, targets))
}

func TestNeedsSyncDetectsDeviations(t *testing.T) {
	planner := NewPlanner(zerolog.Nop())

	holdings := []domain.Holding{
		{Symbol: "SH600000", Shares: 5000},
	}

	// Share count off target
	assert.True(t, planner.NeedsSync(holdings, []domain.ResolvedTarget{
		{Symbol: "SH600000", TargetShares: 4800},
	}))

	// Held position missing from targets
	assert.True(t, planner.NeedsSync(holdings, nil))

	// Target missing from holdings
	assert.True(t, planner.NeedsSync(nil, []domain.ResolvedTarget{
		{Symbol: "SZ000001", TargetShares: 100},
	}))
}
