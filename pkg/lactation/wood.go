// Package lactation implements Wood's incomplete-gamma lactation curve.
//
// Wood's model describes daily milk yield over a lactation cycle as
//
//	Y(t) = a * t^b * e^(-c*t)
//
// where t is days in milk (DIM), a scales the overall yield, b controls the
// pre-peak incline and c the post-peak decline. The curve rises from zero,
// peaks at t = b/c, and decays exponentially afterwards.
package lactation

import "math"

// epsilon is added to t before exponentiation so that t=0 with a
// non-integer b does not hit the undefined 0^b case.
const epsilon = 1e-9

// Params holds the three Wood's model coefficients.
//
// A physically meaningful curve has A > 0, B > 0, C > 0. The fit does not
// enforce positivity; consumers should treat out-of-range values as suspect.
type Params struct {
	A float64 `json:"a"` // overall yield scaling factor
	B float64 `json:"b"` // pre-peak incline rate
	C float64 `json:"c"` // post-peak decline rate
}

// Valid reports whether all three coefficients are in the physically
// meaningful positive range.
func (p Params) Valid() bool {
	return p.A > 0 && p.B > 0 && p.C > 0
}

// Yield evaluates the model at a single time point.
// Total over t >= 0; never returns an error.
func Yield(t float64, p Params) float64 {
	ts := t + epsilon
	return p.A * math.Pow(ts, p.B) * math.Exp(-p.C*ts)
}

// YieldAll evaluates the model element-wise over ts.
func YieldAll(ts []float64, p Params) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = Yield(t, p)
	}
	return out
}

// Grid samples the model at n evenly spaced points across [from, to],
// inclusive of both endpoints. Useful for plotting the fitted curve next to
// the raw observations. n < 2 returns a single sample at from.
func Grid(from, to float64, n int, p Params) (ts, ys []float64) {
	if n < 2 {
		return []float64{from}, []float64{Yield(from, p)}
	}

	ts = make([]float64, n)
	step := (to - from) / float64(n-1)
	for i := range ts {
		ts[i] = from + float64(i)*step
	}
	return ts, YieldAll(ts, p)
}

// Gradient returns the partial derivatives of Y(t) with respect to a, b and c
// at time t. Used by the fitter to build an analytic Jacobian:
//
//	dY/da = t^b * e^(-c*t)
//	dY/db = Y * ln(t)
//	dY/dc = -Y * t
func Gradient(t float64, p Params) (da, db, dc float64) {
	ts := t + epsilon
	da = math.Pow(ts, p.B) * math.Exp(-p.C*ts)
	y := p.A * da
	db = y * math.Log(ts)
	dc = -y * ts
	return da, db, dc
}
