package fx

import (
	"math"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"versecore/internal/apperr"
)

// tableLow/tableHigh/tableStride describe the sampling grid for the
// normal-distribution table cache (spec.md §4.A: N~=800 samples on
// [-4,4] at stride 0.01).
const (
	tableLow    = -4.0
	tableHigh   = 4.0
	tableStride = 0.01
)

// Table holds precomputed Phi (CDF), phi (PDF) and erf samples over
// [-4,4] at a 0.01 stride. It is built once at construction from
// stdlib math (float64) — the one deliberate, documented exception to
// "no floating point in the trading core": this happens a single time,
// off the hot path, to produce a read-only lookup table; every later
// query is pure Fx linear interpolation with no float arithmetic (see
// DESIGN.md for the Open Question this resolves).
type Table struct {
	cdf  []Fx
	pdf  []Fx
	erf  []Fx
	n    int
}

var (
	defaultTable     *Table
	defaultTableOnce sync.Once
	defaultTableGrp  singleflight.Group
)

// DefaultTable returns the process-wide table cache, building it on
// first use. Concurrent callers racing to build it collapse onto a
// single build via singleflight; once built it is read-only and safe
// for unsynchronized concurrent reads.
func DefaultTable() *Table {
	defaultTableOnce.Do(func() {
		v, _, _ := defaultTableGrp.Do("build", func() (interface{}, error) {
			return NewTable(), nil
		})
		defaultTable = v.(*Table)
	})
	return defaultTable
}

// NewTable builds a fresh table; exported for tests and for callers
// that want an isolated instance instead of the process-wide default.
func NewTable() *Table {
	n := int((tableHigh-tableLow)/tableStride) + 1
	t := &Table{
		cdf: make([]Fx, n),
		pdf: make([]Fx, n),
		erf: make([]Fx, n),
		n:   n,
	}
	for i := 0; i < n; i++ {
		x := tableLow + float64(i)*tableStride
		t.cdf[i] = Must(FromString(formatFloat(normalCDF(x))))
		t.pdf[i] = Must(FromString(formatFloat(normalPDF(x))))
		t.erf[i] = Must(FromString(formatFloat(math.Erf(x))))
	}
	return t
}

func normalCDF(x float64) float64 { return 0.5 * math.Erfc(-x/math.Sqrt2) }
func normalPDF(x float64) float64 { return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi) }

// formatFloat renders f with enough decimal digits to exceed 64.64
// precision (2^-64 ~= 5.4e-20) for the one-time, off-hot-path table
// build; see the Table doc comment for why this is the sole place the
// trading core touches float64.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 20, 64)
}

// Query looks up Phi(x), phi(x) and erf(x) via linear interpolation
// between the two bracketing table entries. x outside [-4,4] is
// clamped to the boundary value (Phi saturates to 0/1 there in
// practice, consistent with the working range used elsewhere).
func (t *Table) Query(x Fx) (cdf, pdf, erf Fx, err error) {
	idxF, frac, err := t.locate(x)
	if err != nil {
		return Zero, Zero, Zero, err
	}
	cdf, err = interpolate(t.cdf, idxF, frac)
	if err != nil {
		return Zero, Zero, Zero, err
	}
	pdf, err = interpolate(t.pdf, idxF, frac)
	if err != nil {
		return Zero, Zero, Zero, err
	}
	erf, err = interpolate(t.erf, idxF, frac)
	if err != nil {
		return Zero, Zero, Zero, err
	}
	return cdf, pdf, erf, nil
}

// locate returns the lower bracketing index and the fractional
// position within [0,1) between it and the next index.
func (t *Table) locate(x Fx) (int, Fx, error) {
	lowFx := Must(FromString("-4"))
	strideFx := Must(FromString("0.01"))

	clamped := x
	if clamped.Cmp(lowFx) < 0 {
		clamped = lowFx
	}
	highFx := Must(FromString("4"))
	if clamped.Cmp(highFx) > 0 {
		clamped = highFx
	}

	offset, err := clamped.Sub(lowFx)
	if err != nil {
		return 0, Zero, err
	}
	steps, err := offset.Div(strideFx)
	if err != nil {
		return 0, Zero, err
	}
	idx := int(steps.ToMicro() / 1_000_000)
	if idx >= t.n-1 {
		idx = t.n - 2
	}
	if idx < 0 {
		idx = 0
	}

	frac, err := steps.Sub(FromInt64(int64(idx)))
	if err != nil {
		return 0, Zero, err
	}
	return idx, frac, nil
}

func interpolate(vals []Fx, idx int, frac Fx) (Fx, error) {
	if idx < 0 || idx+1 >= len(vals) {
		return Zero, apperr.New(apperr.InvalidAmount, "table: index out of range")
	}
	lo, hi := vals[idx], vals[idx+1]
	delta, err := hi.Sub(lo)
	if err != nil {
		return Zero, err
	}
	adj, err := delta.Mul(frac)
	if err != nil {
		return Zero, err
	}
	return lo.Add(adj)
}
