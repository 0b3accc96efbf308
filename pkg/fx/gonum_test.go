package fx_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/distuv"

	"versecore/pkg/fx"
)

// TestSimpsonAgainstGonumQuadrature cross-checks fx.Simpson's 16-
// subinterval fixed-point quadrature against gonum's own fixed-rule
// integrator, a second floating-point ground truth independent of the
// closed-form integral already checked elsewhere.
func TestSimpsonAgainstGonumQuadrature(t *testing.T) {
	cases := []struct {
		name   string
		f      func(x fx.Fx) (fx.Fx, error)
		ff     func(x float64) float64
		lo, hi float64
	}{
		{
			name: "x^2",
			f:    func(x fx.Fx) (fx.Fx, error) { return x.Mul(x) },
			ff:   func(x float64) float64 { return x * x },
			lo:   0, hi: 1,
		},
		{
			name: "x^3",
			f: func(x fx.Fx) (fx.Fx, error) {
				sq, err := x.Mul(x)
				if err != nil {
					return fx.Zero, err
				}
				return sq.Mul(x)
			},
			ff: func(x float64) float64 { return x * x * x },
			lo: 0, hi: 2,
		},
	}

	for _, c := range cases {
		lo := fx.Must(fx.FromString(ftoa(c.lo)))
		hi := fx.Must(fx.FromString(ftoa(c.hi)))
		got, err := fx.Simpson(c.f, lo, hi)
		require.NoError(t, err)

		want := quad.Fixed(c.ff, c.lo, c.hi, 64, quad.Legendre{}, 0)
		require.InDelta(t, want, float64(got.ToMicro())/1_000_000, 0.01, c.name)
	}
}

// TestTableAgainstGonumNormal cross-checks the normal-CDF table cache
// against gonum's distuv.Normal, independent of the math.Erfc
// construction used to build the table itself.
func TestTableAgainstGonumNormal(t *testing.T) {
	n := distuv.Normal{Mu: 0, Sigma: 1}
	table := fx.NewTable()

	for _, c := range []float64{-3.2, -1.5, 0, 0.75, 2.1, 3.6} {
		x := fx.Must(fx.FromString(ftoa(c)))
		cdf, pdf, _, err := table.Query(x)
		require.NoError(t, err)

		require.InDelta(t, n.CDF(c), float64(cdf.ToMicro())/1_000_000, 0.01)
		require.InDelta(t, n.Prob(c), float64(pdf.ToMicro())/1_000_000, 0.01)
	}
}

// TestStdlibExpLogRoundTrip is a light sanity check that the standard
// library's math.Exp and math.Log, the float64 reference fx_test.go
// cross-checks against, round-trip on a few values.
func TestStdlibExpLogRoundTrip(t *testing.T) {
	for _, c := range []float64{0.5, 1, 2, 10} {
		require.InDelta(t, math.Exp(math.Log(c)), c, 1e-9)
	}
}
