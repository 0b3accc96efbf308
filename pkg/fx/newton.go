package fx

import "versecore/internal/apperr"

// MaxNewtonIter is the spec.md §4.A ceiling on Newton-Raphson iterations.
const MaxNewtonIter = 10

// NewtonRaphson finds a root of f near x0 using f and its derivative fp.
// It fails with NonConvergence if |f(xn)| < tol is not reached within
// maxIter (clamped to MaxNewtonIter) iterations, or if |f'| underflows
// to zero. Ties on equal residuals accept the first iterate reached.
func NewtonRaphson(f, fp func(Fx) (Fx, error), x0, tol Fx, maxIter int) (Fx, error) {
	if maxIter <= 0 || maxIter > MaxNewtonIter {
		maxIter = MaxNewtonIter
	}

	x := x0
	for i := 0; i < maxIter; i++ {
		fx, err := f(x)
		if err != nil {
			return Zero, err
		}
		if fx.Abs().Cmp(tol) < 0 {
			return x, nil
		}

		fpx, err := fp(x)
		if err != nil {
			return Zero, err
		}
		if fpx.IsZero() {
			return Zero, apperr.New(apperr.NonConvergence, "newton-raphson: derivative underflow")
		}

		// Damped step: halve the step if the residual would grow,
		// per spec.md §9 numerical-stability notes for sharply
		// skewed PM-AMM books.
		step, err := fx.Div(fpx)
		if err != nil {
			return Zero, err
		}
		next, err := x.Sub(step)
		if err != nil {
			return Zero, err
		}

		fnext, err := f(next)
		if err != nil {
			return Zero, err
		}
		if fnext.Abs().Cmp(fx.Abs()) > 0 {
			half, err := step.Div(FromInt64(2))
			if err != nil {
				return Zero, err
			}
			next, err = x.Sub(half)
			if err != nil {
				return Zero, err
			}
		}

		x = next
	}

	fxFinal, err := f(x)
	if err == nil && fxFinal.Abs().Cmp(tol) < 0 {
		return x, nil
	}
	return Zero, apperr.New(apperr.NonConvergence, "newton-raphson: max iterations exceeded")
}
