// Package safe holds the checked arithmetic behind the copier's
// volume-ratio math. Ratios are int64 values scaled by quant.LotScale
// (1e6), so the intermediate product of a volume and a scaled ratio
// can exceed int64 even when the final quotient fits.
package safe

import (
	"math"
	"math/bits"
)

// MulDiv returns a*b/den truncated toward zero, computing the product
// in 128 bits so scaled ratios never overflow the intermediate.
// Panics on a zero divisor or a quotient outside int64: either means a
// corrupt volume or ratio reached the sizing path, and trading on it
// is worse than crashing.
func MulDiv(a, b, den int64) int64 {
	if den == 0 {
		panic("COPIER_RATIO_DIV_BY_ZERO")
	}
	neg := (a < 0) != (b < 0)
	if den < 0 {
		neg = !neg
	}

	hi, lo := bits.Mul64(absU(a), absU(b))
	d := absU(den)
	if hi >= d {
		panic("COPIER_RATIO_OVERFLOW")
	}
	q, _ := bits.Div64(hi, lo, d)
	if q > math.MaxInt64 {
		panic("COPIER_RATIO_OVERFLOW")
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}

func absU(v int64) uint64 {
	if v < 0 {
		// Two's-complement negate handles MinInt64.
		return uint64(-v)
	}
	return uint64(v)
}
