// Package billing converts raw usage counts and per-unit rates into currency
// figures. Everything on the authoritative path is integer arithmetic in the
// ledger's smallest unit; floating point appears only in the last-mile
// display conversion.
package billing

import (
	"fmt"
	"math"
	"time"
)

// Cost returns the raw cost of units at ratePerUnit. Saturates at
// math.MaxUint64 instead of wrapping on overflow.
func Cost(units, ratePerUnit uint64) uint64 {
	if ratePerUnit != 0 && units > math.MaxUint64/ratePerUnit {
		return math.MaxUint64
	}
	return units * ratePerUnit
}

// CappedCost returns Cost(units, ratePerUnit) bounded by deposit. The ledger
// rejects overspend on its own; the cap keeps local bookkeeping consistent
// with that rule.
func CappedCost(units, ratePerUnit, deposit uint64) uint64 {
	cost := Cost(units, ratePerUnit)
	if cost > deposit {
		return deposit
	}
	return cost
}

// Refund returns deposit - finalCost. finalCost above deposit yields zero;
// the ledger never settles for more than the deposit, so a larger value
// indicates disagreement that the caller should surface, not mask.
func Refund(deposit, finalCost uint64) uint64 {
	if finalCost > deposit {
		return 0
	}
	return deposit - finalCost
}

// TargetUsage precomputes the expected usage ceiling for a session of the
// given duration: one increment per tick interval.
func TargetUsage(duration, interval time.Duration, increment uint64) uint64 {
	if interval <= 0 {
		return 0
	}
	ticks := uint64(duration / interval)
	return ticks * increment
}

// Display converts a raw amount to a float scaled by decimals. Display-only;
// never feed the result back into settlement math.
func Display(raw uint64, decimals uint8) float64 {
	return float64(raw) / math.Pow10(int(decimals))
}

// Format renders a raw amount as a fixed-point decimal string using integer
// arithmetic, e.g. Format(84000, 3) == "84.000".
func Format(raw uint64, decimals uint8) string {
	if decimals == 0 {
		return fmt.Sprintf("%d", raw)
	}
	scale := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		scale *= 10
	}
	return fmt.Sprintf("%d.%0*d", raw/scale, decimals, raw%scale)
}
