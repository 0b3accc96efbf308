package fx_test

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"versecore/pkg/fx"
)

func TestFromMicroToMicroRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 500_000, 1_000_000, 999_999, 123_456_789} {
		f := fx.FromMicro(v)
		require.InDelta(t, float64(v), float64(f.ToMicro()), 1, "micro round trip for %d", v)
	}
}

func TestAddSubMulDiv(t *testing.T) {
	a := fx.FromInt64(3)
	b := fx.FromInt64(4)

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, int64(7), sum.ToMicro()/1_000_000)

	diff, err := b.Sub(a)
	require.NoError(t, err)
	require.Equal(t, int64(1), diff.ToMicro()/1_000_000)

	prod, err := a.Mul(b)
	require.NoError(t, err)
	require.Equal(t, int64(12), prod.ToMicro()/1_000_000)

	quot, err := b.Div(a)
	require.NoError(t, err)
	require.InDelta(t, 4.0/3.0, float64(quot.ToMicro())/1_000_000, 0.001)
}

func TestDivisionByZero(t *testing.T) {
	a := fx.FromInt64(1)
	_, err := a.Div(fx.Zero)
	require.Error(t, err)
}

func TestSqrt(t *testing.T) {
	v := fx.FromInt64(16)
	r, err := v.Sqrt()
	require.NoError(t, err)
	require.Equal(t, int64(4), r.ToMicro()/1_000_000)

	_, err = fx.FromInt64(-1).Sqrt()
	require.Error(t, err)
}

func TestExpApproxAgainstMath(t *testing.T) {
	cases := []float64{-3, -1, -0.5, 0, 0.5, 1, 2, 5}
	for _, c := range cases {
		x := fx.Must(fx.FromString(ftoa(c)))
		got, err := fx.ExpApprox(x)
		require.NoError(t, err)
		want := math.Exp(c)
		require.InDelta(t, want, float64(got.ToMicro())/1_000_000, want*0.001+1e-6, "exp(%v)", c)
	}
}

func TestLnApproxAgainstMath(t *testing.T) {
	cases := []float64{0.01, 0.5, 1, 2, 10, 100}
	for _, c := range cases {
		x := fx.Must(fx.FromString(ftoa(c)))
		got, err := fx.LnApprox(x)
		require.NoError(t, err)
		want := math.Log(c)
		require.InDelta(t, want, float64(got.ToMicro())/1_000_000, math.Abs(want)*0.002+1e-4, "ln(%v)", c)
	}
}

func TestNewtonRaphsonSquareRoot(t *testing.T) {
	target := fx.FromInt64(2)
	f := func(x fx.Fx) (fx.Fx, error) {
		sq, err := x.Mul(x)
		if err != nil {
			return fx.Zero, err
		}
		return sq.Sub(target)
	}
	fp := func(x fx.Fx) (fx.Fx, error) {
		return x.Mul(fx.FromInt64(2))
	}

	tol := fx.Must(fx.FromString("0.000001"))
	root, err := fx.NewtonRaphson(f, fp, fx.FromInt64(1), tol, 10)
	require.NoError(t, err)
	require.InDelta(t, math.Sqrt2, float64(root.ToMicro())/1_000_000, 0.001)
}

func TestSimpsonIntegratesXSquared(t *testing.T) {
	f := func(x fx.Fx) (fx.Fx, error) { return x.Mul(x) }
	result, err := fx.Simpson(f, fx.Zero, fx.FromInt64(1))
	require.NoError(t, err)
	// integral of x^2 over [0,1] is 1/3
	require.InDelta(t, 1.0/3.0, float64(result.ToMicro())/1_000_000, 0.01)
}

func TestTableQueryAgainstMath(t *testing.T) {
	table := fx.NewTable()
	cases := []float64{-3.5, -1, 0, 1.23, 3.9}
	for _, c := range cases {
		x := fx.Must(fx.FromString(ftoa(c)))
		cdf, pdf, erf, err := table.Query(x)
		require.NoError(t, err)

		wantCDF := 0.5 * math.Erfc(-c/math.Sqrt2)
		wantPDF := math.Exp(-c*c/2) / math.Sqrt(2*math.Pi)
		wantErf := math.Erf(c)

		require.InDelta(t, wantCDF, float64(cdf.ToMicro())/1_000_000, 0.01)
		require.InDelta(t, wantPDF, float64(pdf.ToMicro())/1_000_000, 0.01)
		require.InDelta(t, wantErf, float64(erf.ToMicro())/1_000_000, 0.01)
	}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', 10, 64)
}
