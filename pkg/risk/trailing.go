package risk

import (
	"fmt"
	"math"

	"github.com/tradepilot/tradepilot/pkg/types"
)

// TrailMethod names one trailing-stop candidate computation.
type TrailMethod string

const (
	TrailATR              TrailMethod = "ATR_TRAIL"
	TrailSwing            TrailMethod = "SWING_LOW"
	TrailEMA              TrailMethod = "EMA_TRAIL"
	TrailBreakeven        TrailMethod = "BREAKEVEN"
	TrailLockProfit       TrailMethod = "LOCK_PROFIT"
	TrailLockProfitScaled TrailMethod = "LOCK_PROFIT_SCALED"
)

// methodOrder breaks exact ties between equally protective candidates.
// Profit-locking methods outrank indicator-derived ones so the reported
// method is stable across runs and platforms.
var methodOrder = []TrailMethod{
	TrailLockProfitScaled,
	TrailLockProfit,
	TrailBreakeven,
	TrailATR,
	TrailSwing,
	TrailEMA,
}

const (
	atrStopMultiplier   = 1.5
	swingBufferATRRatio = 0.1
	swingBufferFallback = 1.0
	emaBufferATRRatio   = 0.2
	emaBufferFallback   = 2.0

	breakevenGainPct  = 2.0
	lockProfitGainPct = 3.0
	scaledGainPct     = 5.0
	lockProfitRatio   = 0.01
	scaledLockRatio   = 0.5

	priceEpsilon = 1e-9
)

// Levels are the position's current protective prices.
type Levels struct {
	Entry         float64 `json:"entry"`
	CurrentStop   float64 `json:"currentStop"`
	CurrentTarget float64 `json:"currentTarget"`
}

// Indicators are the optional inputs the indicator-derived methods need.
// Zero means absent. Swing is the protective swing level: the recent swing
// low for a long position, the swing high for a short.
type Indicators struct {
	ATR   float64 `json:"atr,omitempty"`
	Swing float64 `json:"swingLow,omitempty"`
	EMA20 float64 `json:"ema20,omitempty"`
}

// TrailResult reports whether the stop should move and where.
type TrailResult struct {
	ShouldTrail bool        `json:"shouldTrail"`
	NewStop     float64     `json:"newStop,omitempty"`
	Method      TrailMethod `json:"method,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

type candidate struct {
	method TrailMethod
	stop   float64
}

// CalculateTrailingStop computes the most protective valid stop for a
// position in profit. Pure: identical inputs always produce the identical
// result.
//
// Every candidate must strictly improve on the current stop and stay on
// the protective side of the current price; the winner must additionally
// leave room to the target. Whenever ShouldTrail is set, the returned stop
// satisfies currentStop < NewStop < currentTarget for a long (mirrored for
// a short).
func CalculateTrailingStop(direction types.Direction, levels Levels, price float64, ind Indicators) TrailResult {
	sign := direction.Sign()

	if levels.Entry <= 0 {
		return TrailResult{Reason: "entry level missing"}
	}

	// never trail a position that is not in profit
	if (price-levels.Entry)*sign <= 0 {
		return TrailResult{Reason: "position not in profit"}
	}

	gainPct := (price - levels.Entry) * sign / levels.Entry * 100

	raw := map[TrailMethod]*float64{}
	put := func(m TrailMethod, stop float64) {
		raw[m] = &stop
	}

	if ind.ATR > 0 {
		put(TrailATR, price-atrStopMultiplier*ind.ATR*sign)
	}
	if ind.Swing > 0 {
		buffer := swingBufferFallback
		if ind.ATR > 0 {
			buffer = swingBufferATRRatio * ind.ATR
		}
		put(TrailSwing, ind.Swing-buffer*sign)
	}
	if ind.EMA20 > 0 {
		buffer := emaBufferFallback
		if ind.ATR > 0 {
			buffer = emaBufferATRRatio * ind.ATR
		}
		put(TrailEMA, ind.EMA20-buffer*sign)
	}
	if gainPct >= breakevenGainPct {
		put(TrailBreakeven, levels.Entry)
	}
	if gainPct >= lockProfitGainPct {
		put(TrailLockProfit, levels.Entry*(1+lockProfitRatio*sign))
	}
	if gainPct > scaledGainPct {
		put(TrailLockProfitScaled, levels.Entry+scaledLockRatio*(price-levels.Entry))
	}

	// keep only candidates that strictly improve on the current stop and
	// stay on the protective side of price; then take the most protective,
	// with ties resolved by the fixed method order
	var best *candidate
	for _, m := range methodOrder {
		stopPtr, ok := raw[m]
		if !ok {
			continue
		}
		stop := *stopPtr

		if (stop-levels.CurrentStop)*sign <= 0 {
			continue
		}
		if (price-stop)*sign <= 0 {
			continue
		}

		if best == nil || (stop-best.stop)*sign > priceEpsilon {
			best = &candidate{method: m, stop: stop}
		}
	}

	if best == nil {
		return TrailResult{Reason: "no candidate improves the current stop"}
	}

	// the stop must never cross the target
	if levels.CurrentTarget > 0 && (levels.CurrentTarget-best.stop)*sign <= 0 {
		return TrailResult{Reason: fmt.Sprintf("%s stop %.2f would cross the target %.2f", best.method, best.stop, levels.CurrentTarget)}
	}

	return TrailResult{
		ShouldTrail: true,
		NewStop:     roundPrice(best.stop),
		Method:      best.method,
		Reason:      fmt.Sprintf("%s at %.1f%% gain", best.method, gainPct),
	}
}

// roundPrice clips float noise to a hundredth, the finest tick the engine
// quotes.
func roundPrice(v float64) float64 {
	return math.Round(v*100) / 100
}
