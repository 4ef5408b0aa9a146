package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradepilot/tradepilot/pkg/types"
)

func TestCalculateTrailingStop_neverTrailsALoss(t *testing.T) {
	levels := Levels{Entry: 100, CurrentStop: 95, CurrentTarget: 110}

	res := CalculateTrailingStop(types.DirectionLong, levels, 99, Indicators{ATR: 2})
	assert.False(t, res.ShouldTrail)

	res = CalculateTrailingStop(types.DirectionLong, levels, 100, Indicators{ATR: 2})
	assert.False(t, res.ShouldTrail, "flat is not profit")

	short := Levels{Entry: 100, CurrentStop: 105, CurrentTarget: 90}
	res = CalculateTrailingStop(types.DirectionShort, short, 101, Indicators{ATR: 2})
	assert.False(t, res.ShouldTrail)
}

func TestCalculateTrailingStop_atrBeatsBreakeven(t *testing.T) {
	// entry=100, stop=95, price=106, atr=2: the ATR stop lands at 103,
	// well above breakeven at 100
	levels := Levels{Entry: 100, CurrentStop: 95, CurrentTarget: 110}
	res := CalculateTrailingStop(types.DirectionLong, levels, 106, Indicators{ATR: 2})

	assert.True(t, res.ShouldTrail)
	assert.Equal(t, 103.0, res.NewStop)
}

func TestCalculateTrailingStop_tieBreakIsDeterministic(t *testing.T) {
	// at 6% gain both ATR_TRAIL and LOCK_PROFIT_SCALED compute 103; the
	// fixed method order makes the profit lock win the label
	levels := Levels{Entry: 100, CurrentStop: 95, CurrentTarget: 110}
	res := CalculateTrailingStop(types.DirectionLong, levels, 106, Indicators{ATR: 2})

	assert.True(t, res.ShouldTrail)
	assert.Equal(t, 103.0, res.NewStop)
	assert.Equal(t, TrailLockProfitScaled, res.Method)
}

func TestCalculateTrailingStop_breakevenGate(t *testing.T) {
	levels := Levels{Entry: 100, CurrentStop: 95, CurrentTarget: 110}

	// 1.5% gain: no profit-based candidate, no indicators either
	res := CalculateTrailingStop(types.DirectionLong, levels, 101.5, Indicators{})
	assert.False(t, res.ShouldTrail)

	// 2% gain unlocks breakeven
	res = CalculateTrailingStop(types.DirectionLong, levels, 102, Indicators{})
	assert.True(t, res.ShouldTrail)
	assert.Equal(t, TrailBreakeven, res.Method)
	assert.Equal(t, 100.0, res.NewStop)
}

func TestCalculateTrailingStop_lockProfitGates(t *testing.T) {
	levels := Levels{Entry: 100, CurrentStop: 95, CurrentTarget: 120}

	// 3% gain: entry*1.01 beats breakeven
	res := CalculateTrailingStop(types.DirectionLong, levels, 103, Indicators{})
	assert.True(t, res.ShouldTrail)
	assert.Equal(t, TrailLockProfit, res.Method)
	assert.Equal(t, 101.0, res.NewStop)

	// 8% gain: half the move is locked
	res = CalculateTrailingStop(types.DirectionLong, levels, 108, Indicators{})
	assert.True(t, res.ShouldTrail)
	assert.Equal(t, TrailLockProfitScaled, res.Method)
	assert.Equal(t, 104.0, res.NewStop)
}

func TestCalculateTrailingStop_candidateMustImproveStop(t *testing.T) {
	// stop already at 104: breakeven (100) and lock profit (101) are
	// regressions and must be ignored
	levels := Levels{Entry: 100, CurrentStop: 104, CurrentTarget: 120}
	res := CalculateTrailingStop(types.DirectionLong, levels, 106, Indicators{})
	assert.False(t, res.ShouldTrail)

	// a further advance beats 104 again via the scaled lock
	res = CalculateTrailingStop(types.DirectionLong, levels, 112, Indicators{})
	assert.True(t, res.ShouldTrail)
	assert.Equal(t, 106.0, res.NewStop)
}

func TestCalculateTrailingStop_stopMustStayBelowPrice(t *testing.T) {
	// a swing level above price can not become the stop; with only 1% gain
	// there is no profit-based fallback either
	levels := Levels{Entry: 100, CurrentStop: 95, CurrentTarget: 200}
	res := CalculateTrailingStop(types.DirectionLong, levels, 101, Indicators{Swing: 120})
	assert.False(t, res.ShouldTrail)
}

func TestCalculateTrailingStop_targetCeiling(t *testing.T) {
	// the winning stop would land on the target: reject the whole trail
	levels := Levels{Entry: 100, CurrentStop: 95, CurrentTarget: 103}
	res := CalculateTrailingStop(types.DirectionLong, levels, 106, Indicators{ATR: 2})
	assert.False(t, res.ShouldTrail)
	assert.Contains(t, res.Reason, "target")
}

func TestCalculateTrailingStop_invariant(t *testing.T) {
	levels := Levels{Entry: 100, CurrentStop: 95, CurrentTarget: 115}

	prices := []float64{100.5, 101, 102, 103, 104, 105, 106, 108, 110, 112, 114}
	for _, price := range prices {
		res := CalculateTrailingStop(types.DirectionLong, levels, price, Indicators{ATR: 2, Swing: price - 3, EMA20: price - 2})
		if !res.ShouldTrail {
			continue
		}
		assert.Greater(t, res.NewStop, levels.CurrentStop, "price %.1f", price)
		assert.Less(t, res.NewStop, levels.CurrentTarget, "price %.1f", price)
		assert.Less(t, res.NewStop, price, "price %.1f", price)
	}
}

func TestCalculateTrailingStop_short(t *testing.T) {
	// short from 100, stop 105, price fell to 94: atr trail at 97
	levels := Levels{Entry: 100, CurrentStop: 105, CurrentTarget: 88}
	res := CalculateTrailingStop(types.DirectionShort, levels, 94, Indicators{ATR: 2})

	assert.True(t, res.ShouldTrail)
	assert.Equal(t, TrailLockProfitScaled, res.Method, "a 6 percent gain locks half the move")
	assert.Equal(t, 97.0, res.NewStop)
	assert.Less(t, res.NewStop, levels.CurrentStop)
	assert.Greater(t, res.NewStop, levels.CurrentTarget)
}

func TestCalculateTrailingStop_pure(t *testing.T) {
	levels := Levels{Entry: 100, CurrentStop: 95, CurrentTarget: 115}
	ind := Indicators{ATR: 2, Swing: 103, EMA20: 104}

	first := CalculateTrailingStop(types.DirectionLong, levels, 106, ind)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, CalculateTrailingStop(types.DirectionLong, levels, 106, ind))
	}
}
