package fx

// simpsonIntervals is the number of equal subintervals used by the
// composite Simpson's rule. spec.md §4.A calls for "exactly 16 sample
// points"; composite Simpson requires an even subinterval count, so we
// read that as 16 subintervals (17 evaluation points) rather than 16
// evaluation points over 15 (odd) subintervals — see DESIGN.md.
const simpsonIntervals = 16

// Simpson integrates f over [a,b] with the composite Simpson's rule at
// a fixed 16-subinterval resolution (budgeted at <=2k compute units).
func Simpson(f func(Fx) (Fx, error), a, b Fx) (Fx, error) {
	n := simpsonIntervals
	width, err := b.Sub(a)
	if err != nil {
		return Zero, err
	}
	h, err := width.Div(FromInt64(int64(n)))
	if err != nil {
		return Zero, err
	}

	sum := Zero
	for i := 0; i <= n; i++ {
		offset, err := h.Mul(FromInt64(int64(i)))
		if err != nil {
			return Zero, err
		}
		xi, err := a.Add(offset)
		if err != nil {
			return Zero, err
		}
		yi, err := f(xi)
		if err != nil {
			return Zero, err
		}

		weight := int64(2)
		switch {
		case i == 0 || i == n:
			weight = 1
		case i%2 != 0:
			weight = 4
		}

		term, err := yi.Mul(FromInt64(weight))
		if err != nil {
			return Zero, err
		}
		sum, err = sum.Add(term)
		if err != nil {
			return Zero, err
		}
	}

	hOver3, err := h.Div(FromInt64(3))
	if err != nil {
		return Zero, err
	}
	return sum.Mul(hOver3)
}
