// Package fx implements the deterministic 64.64 signed fixed-point
// scalar used throughout the trading core. Floating point never
// appears on the hot path: every arithmetic operation is checked and
// returns an error instead of wrapping or losing precision silently.
package fx

import (
	"math/big"

	"github.com/pkg/errors"

	"versecore/internal/apperr"
)

// fracBits is the number of fractional bits: values are stored as
// raw * 2^-fracBits.
const fracBits = 64

// microScale is the integer micro-unit scale used at system boundaries
// (prices, probabilities, bps) per spec.md §3/§6.
const microScale = 1_000_000

var (
	one     = new(big.Int).Lsh(big.NewInt(1), fracBits)
	maxRaw  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minRaw  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	bigZero = big.NewInt(0)
)

// Fx is a signed 64.64 fixed-point number. The zero value is 0.
type Fx struct {
	raw big.Int
}

// Zero is the additive identity.
var Zero = Fx{}

// One is the multiplicative identity.
var One = fromRaw(new(big.Int).Set(one))

func fromRaw(raw *big.Int) Fx {
	var f Fx
	f.raw.Set(raw)
	return f
}

func checkRange(raw *big.Int) error {
	if raw.Cmp(maxRaw) > 0 || raw.Cmp(minRaw) < 0 {
		return apperr.New(apperr.MathOverflow, "fixed-point value out of 64.64 range")
	}
	return nil
}

// FromInt64 constructs an Fx from a plain integer (scale factor 1).
func FromInt64(v int64) Fx {
	raw := new(big.Int).Lsh(big.NewInt(v), fracBits)
	return fromRaw(raw)
}

// FromMicro constructs an Fx from an integer micro-unit value (1e6 scale),
// e.g. a price or probability as carried at the system boundary (spec.md §3).
func FromMicro(v uint64) Fx {
	num := new(big.Int).Lsh(new(big.Int).SetUint64(v), fracBits)
	raw := new(big.Int).Quo(num, big.NewInt(microScale))
	return fromRaw(raw)
}

// FromMicroSigned is FromMicro for signed micro-unit quantities (e.g. PnL).
func FromMicroSigned(v int64) Fx {
	neg := v < 0
	u := v
	if neg {
		u = -u
	}
	f := FromMicro(uint64(u))
	if neg {
		f.raw.Neg(&f.raw)
	}
	return f
}

// ToMicro converts back to an integer micro-unit value, truncating
// toward zero.
func (a Fx) ToMicro() int64 {
	num := new(big.Int).Mul(&a.raw, big.NewInt(microScale))
	q := new(big.Int).Quo(num, one)
	return q.Int64()
}

// Sign returns -1, 0 or 1.
func (a Fx) Sign() int { return a.raw.Sign() }

// IsZero reports whether a is exactly zero.
func (a Fx) IsZero() bool { return a.raw.Sign() == 0 }

// Neg returns -a.
func (a Fx) Neg() Fx {
	var out Fx
	out.raw.Neg(&a.raw)
	return out
}

// Abs returns |a|.
func (a Fx) Abs() Fx {
	var out Fx
	out.raw.Abs(&a.raw)
	return out
}

// Cmp compares a and b (-1, 0, 1).
func (a Fx) Cmp(b Fx) int { return a.raw.Cmp(&b.raw) }

// Add computes a+b, failing with MathOverflow on wrap.
func (a Fx) Add(b Fx) (Fx, error) {
	raw := new(big.Int).Add(&a.raw, &b.raw)
	if err := checkRange(raw); err != nil {
		return Zero, err
	}
	return fromRaw(raw), nil
}

// Sub computes a-b, failing with MathOverflow on wrap.
func (a Fx) Sub(b Fx) (Fx, error) {
	raw := new(big.Int).Sub(&a.raw, &b.raw)
	if err := checkRange(raw); err != nil {
		return Zero, err
	}
	return fromRaw(raw), nil
}

// Mul computes a*b, failing with MathOverflow on wrap.
func (a Fx) Mul(b Fx) (Fx, error) {
	prod := new(big.Int).Mul(&a.raw, &b.raw)
	raw := new(big.Int).Quo(prod, one)
	if err := checkRange(raw); err != nil {
		return Zero, err
	}
	return fromRaw(raw), nil
}

// Div computes a/b, failing with DivisionByZero or MathOverflow.
func (a Fx) Div(b Fx) (Fx, error) {
	if b.raw.Sign() == 0 {
		return Zero, apperr.New(apperr.DivisionByZero, "division by zero")
	}
	num := new(big.Int).Mul(&a.raw, one)
	raw := new(big.Int).Quo(num, &b.raw)
	if err := checkRange(raw); err != nil {
		return Zero, err
	}
	return fromRaw(raw), nil
}

// Sqrt computes the principal square root, failing with InvalidAmount
// if a is negative.
func (a Fx) Sqrt() (Fx, error) {
	if a.raw.Sign() < 0 {
		return Zero, apperr.New(apperr.InvalidAmount, "sqrt of negative fixed-point value")
	}
	if a.raw.Sign() == 0 {
		return Zero, nil
	}
	scaled := new(big.Int).Lsh(&a.raw, fracBits)
	raw := new(big.Int).Sqrt(scaled)
	if err := checkRange(raw); err != nil {
		return Zero, err
	}
	return fromRaw(raw), nil
}

// MulDiv computes a*b/c in a single widened step, used by callers that
// would otherwise overflow doing it in two checked Fx operations (e.g.
// LMSR cost-function ratios). Fails with DivisionByZero/MathOverflow.
func MulDiv(a, b, c Fx) (Fx, error) {
	if c.raw.Sign() == 0 {
		return Zero, apperr.New(apperr.DivisionByZero, "division by zero")
	}
	prod := new(big.Int).Mul(&a.raw, &b.raw)
	prod.Quo(prod, one)
	num := new(big.Int).Mul(prod, one)
	raw := new(big.Int).Quo(num, &c.raw)
	if err := checkRange(raw); err != nil {
		return Zero, err
	}
	return fromRaw(raw), nil
}

// String renders a human-readable decimal approximation, for logs only.
func (a Fx) String() string {
	f := new(big.Float).SetPrec(200).SetInt(&a.raw)
	scale := new(big.Float).SetPrec(200).SetInt(one)
	f.Quo(f, scale)
	return f.Text('f', 10)
}

// Must panics on error; reserved for package-init-time constant building
// where the inputs are known-good literals, never for trading-path code.
func Must(v Fx, err error) Fx {
	if err != nil {
		panic(errors.Wrap(err, "fx: Must"))
	}
	return v
}

// FromString parses a decimal literal (e.g. "0.693147180559945309")
// into an Fx. It is intended for building known-good package-level
// constants at init time, not for parsing untrusted input.
func FromString(s string) (Fx, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Zero, apperr.New(apperr.InvalidAmount, "fx: invalid decimal literal "+s)
	}
	scale := new(big.Rat).SetInt(one)
	r.Mul(r, scale)
	num := r.Num()
	den := r.Denom()
	raw := new(big.Int).Quo(num, den)
	if err := checkRange(raw); err != nil {
		return Zero, err
	}
	return fromRaw(raw), nil
}
