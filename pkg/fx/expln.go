package fx

import (
	"math/big"

	"versecore/internal/apperr"
)

// ln2 ~= 0.6931471805599453, precomputed to 64.64 precision.
var ln2 = Must(FromString("0.69314718055994530942"))

// expTaylorTerms bounds the Taylor expansion of exp(r) for the
// range-reduced remainder |r| <= ln2/2; 16 terms is comfortably within
// 1 ULP over that range at 64.64 precision.
const expTaylorTerms = 16

// workingRangeLimit is the documented working range for exp_approx/
// ln_approx accuracy (spec.md §4.A: [-10, 10]).
var workingRangeLimit = FromInt64(10)

// ExpApprox computes exp(x) for x in [-10, 10] to within ~1 ULP,
// accurate enough for the AMM kernels' exponentials (spec.md §4.A/§4.C).
// It never uses floating point: range reduction against ln2 is done in
// Fx, the integer part of the reduction is applied as a power-of-two
// bit shift (exact, since the Fx scale is itself a power of two), and
// the remainder is evaluated by a fixed-length Taylor series in Fx.
func ExpApprox(x Fx) (Fx, error) {
	if x.Abs().Cmp(workingRangeLimit) > 0 {
		return Zero, apperr.New(apperr.InvalidAmount, "exp_approx: argument outside working range [-10,10]")
	}

	// x = k*ln2 + r, with k integer and |r| <= ln2/2.
	k, r, err := reduceByLn2(x)
	if err != nil {
		return Zero, err
	}

	// exp(r) via Taylor series: sum_{n=0}^{N} r^n / n!
	term := One
	sum := One
	for n := 1; n <= expTaylorTerms; n++ {
		term, err = term.Mul(r)
		if err != nil {
			return Zero, err
		}
		term, err = term.Div(FromInt64(int64(n)))
		if err != nil {
			return Zero, err
		}
		sum, err = sum.Add(term)
		if err != nil {
			return Zero, err
		}
	}

	return scaleByPow2(sum, k)
}

// reduceByLn2 splits x into k*ln2 + r with |r| <= ln2/2.
func reduceByLn2(x Fx) (int, Fx, error) {
	halfLn2, err := ln2.Div(FromInt64(2))
	if err != nil {
		return 0, Zero, err
	}

	k := 0
	r := x
	for r.Cmp(halfLn2) > 0 {
		r, err = r.Sub(ln2)
		if err != nil {
			return 0, Zero, err
		}
		k++
	}
	negHalfLn2 := halfLn2.Neg()
	for r.Cmp(negHalfLn2) < 0 {
		r, err = r.Add(ln2)
		if err != nil {
			return 0, Zero, err
		}
		k--
	}
	return k, r, nil
}

// scaleByPow2 multiplies v by 2^k using an exact bit shift on the raw
// 64.64 representation (k may be negative).
func scaleByPow2(v Fx, k int) (Fx, error) {
	raw := new(big.Int)
	if k >= 0 {
		raw.Lsh(&v.raw, uint(k))
	} else {
		raw.Rsh(&v.raw, uint(-k))
	}
	if err := checkRange(raw); err != nil {
		return Zero, err
	}
	return fromRaw(raw), nil
}

// LnApprox computes ln(x) for x > 0 by solving exp(y) = x via the
// shared Newton-Raphson solver (spec.md §4.A), so the approximation is
// exact-in-spirit with exp_approx rather than a second independent
// series.
func LnApprox(x Fx) (Fx, error) {
	if x.Sign() <= 0 {
		return Zero, apperr.New(apperr.InvalidAmount, "ln_approx: argument must be positive")
	}

	// Seed y0 with a cheap bit-length estimate of ln(x) so Newton
	// converges within the spec's iteration budget.
	y0 := seedLn(x)

	tol := Must(FromString("0.000000000001"))
	f := func(y Fx) (Fx, error) {
		e, err := ExpApprox(y)
		if err != nil {
			return Zero, err
		}
		return e.Sub(x)
	}
	fp := func(y Fx) (Fx, error) {
		return ExpApprox(y)
	}

	return NewtonRaphson(f, fp, y0, tol, MaxNewtonIter)
}

// seedLn returns a rough ln(x) estimate from the bit length of the raw
// representation (ln(x) ~= log2(x)*ln2), used only to seed Newton-Raphson;
// its precision does not affect the result, only iteration count.
func seedLn(x Fx) Fx {
	log2 := x.raw.BitLen() - fracBits - 1
	seed, err := FromInt64(int64(log2)).Mul(ln2)
	if err != nil {
		return Zero
	}
	return seed
}
