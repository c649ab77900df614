// Package fit estimates Wood's model coefficients from observed milk-yield
// measurements using Levenberg-Marquardt nonlinear least squares.
//
// The fitter minimizes the sum of squared residuals between the model and the
// observed (day, yield) pairs. Each iteration solves the damped normal
// equations
//
//	(JᵀJ + λI) δ = Jᵀr
//
// with an analytic Jacobian, shrinking the damping factor λ after accepted
// steps and growing it after rejected ones. A hard budget on function
// evaluations guarantees termination on non-converging inputs.
package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/dairylab/lactra/pkg/lactation"
)

// MinObservations is the smallest dataset that can determine three free
// parameters with any stability.
const MinObservations = 5

// DefaultGuess is a starting point plausible for dairy-cow magnitudes
// (kg/day). Callers fitting other species or units should supply their own.
var DefaultGuess = lactation.Params{A: 15, B: 0.2, C: 0.003}

// ErrTooFewObservations is returned when fewer than MinObservations points
// are supplied. Callers are expected to validate upstream; the fitter
// re-checks defensively.
var ErrTooFewObservations = errors.New("fit: need at least 5 observations")

const (
	maxEvaluations = 10000 // residual-vector evaluation budget
	lambdaInit     = 1e-3
	lambdaUp       = 10
	lambdaDown     = 10
	lambdaMax      = 1e12
	lambdaMin      = 1e-12
	ftol           = 1e-10 // relative SSR improvement
	gtol           = 1e-10 // gradient infinity norm
)

// Observation is a single milk-yield measurement.
// Day is days in milk (DIM); Yield is the measured daily yield.
type Observation struct {
	Day   int     `json:"day"`
	Yield float64 `json:"yield"`
}

// Result holds the converged fit.
type Result struct {
	// Params are the estimated Wood's model coefficients.
	Params lactation.Params

	// Covariance is the 3x3 parameter covariance estimate
	// (JᵀJ)⁻¹ · RSS/(n-3), or nil when it cannot be formed (singular
	// Jacobian or n <= 3). Diagnostic only; KPI derivation does not need it.
	Covariance *mat.SymDense

	// RSS is the residual sum of squares at the solution.
	RSS float64

	// Evaluations counts residual-vector evaluations spent.
	Evaluations int
}

// StdErr returns the per-parameter standard errors (a, b, c) from the
// covariance diagonal, or ok=false when no covariance is available.
func (r Result) StdErr() (se [3]float64, ok bool) {
	if r.Covariance == nil {
		return se, false
	}
	for i := 0; i < 3; i++ {
		v := r.Covariance.At(i, i)
		if v < 0 {
			return se, false
		}
		se[i] = math.Sqrt(v)
	}
	return se, true
}

// DivergenceError reports a fit that did not converge: either the evaluation
// budget ran out or the residuals became non-finite.
type DivergenceError struct {
	Reason      string
	Evaluations int
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("fit: did not converge after %d evaluations: %s", e.Evaluations, e.Reason)
}

// Fit runs a single deterministic Levenberg-Marquardt optimization from the
// given starting point. A zero-value guess selects DefaultGuess.
//
// On success the returned Result carries the converged parameters. The fit
// does not clamp parameters to the physically meaningful positive range;
// callers should treat non-positive coefficients as suspect.
func Fit(obs []Observation, guess lactation.Params) (Result, error) {
	if len(obs) < MinObservations {
		return Result{}, ErrTooFewObservations
	}

	if guess == (lactation.Params{}) {
		guess = DefaultGuess
	}

	days := make([]float64, len(obs))
	yields := make([]float64, len(obs))
	for i, o := range obs {
		days[i] = float64(o.Day)
		yields[i] = o.Yield
	}

	n := len(obs)
	p := guess
	lambda := lambdaInit
	evals := 0

	resid := make([]float64, n)
	sse, finite := residuals(days, yields, p, resid)
	evals++
	if !finite {
		return Result{}, &DivergenceError{Reason: "non-finite residual at initial guess", Evaluations: evals}
	}

	var (
		hess   = mat.NewSymDense(3, nil)
		damped = mat.NewSymDense(3, nil)
		grad   = mat.NewVecDense(3, nil)
		delta  = mat.NewVecDense(3, nil)
		trial  = make([]float64, n)
	)

	for evals < maxEvaluations {
		jacobianNormal(days, p, resid, hess, grad)

		// First-order optimality: gradient effectively zero.
		if math.Max(math.Abs(grad.AtVec(0)), math.Max(math.Abs(grad.AtVec(1)), math.Abs(grad.AtVec(2)))) < gtol {
			return finish(p, hess, sse, n, evals), nil
		}

		accepted := false
		for evals < maxEvaluations {
			for i := 0; i < 3; i++ {
				for j := i; j < 3; j++ {
					v := hess.At(i, j)
					if i == j {
						v += lambda
					}
					damped.SetSym(i, j, v)
				}
			}

			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				// Not positive definite at this damping; add more.
				lambda *= lambdaUp
				if lambda > lambdaMax {
					return Result{}, &DivergenceError{Reason: "normal equations singular", Evaluations: evals}
				}
				continue
			}
			if err := chol.SolveVecTo(delta, grad); err != nil {
				lambda *= lambdaUp
				if lambda > lambdaMax {
					return Result{}, &DivergenceError{Reason: "normal equations singular", Evaluations: evals}
				}
				continue
			}

			next := lactation.Params{
				A: p.A - delta.AtVec(0),
				B: p.B - delta.AtVec(1),
				C: p.C - delta.AtVec(2),
			}

			trialSSE, trialFinite := residuals(days, yields, next, trial)
			evals++

			if trialFinite && trialSSE < sse {
				improvement := sse - trialSSE
				p = next
				copy(resid, trial)
				converged := improvement <= ftol*(sse+1e-30)
				sse = trialSSE
				lambda = math.Max(lambda/lambdaDown, lambdaMin)
				accepted = true
				if converged {
					jacobianNormal(days, p, resid, hess, grad)
					return finish(p, hess, sse, n, evals), nil
				}
				break
			}

			// Rejected step: damp harder and retry from the same point.
			lambda *= lambdaUp
			if lambda > lambdaMax {
				reason := "step rejected at maximum damping"
				if !trialFinite {
					reason = "non-finite residuals during parameter excursion"
				}
				return Result{}, &DivergenceError{Reason: reason, Evaluations: evals}
			}
		}

		if !accepted {
			break
		}
	}

	return Result{}, &DivergenceError{Reason: "evaluation budget exhausted", Evaluations: evals}
}

// residuals fills r with model-minus-observed values and returns the sum of
// squares. finite is false as soon as any residual overflows.
func residuals(days, yields []float64, p lactation.Params, r []float64) (sse float64, finite bool) {
	for i := range days {
		r[i] = lactation.Yield(days[i], p) - yields[i]
		if math.IsNaN(r[i]) || math.IsInf(r[i], 0) {
			return 0, false
		}
		sse += r[i] * r[i]
	}
	if math.IsInf(sse, 0) {
		return 0, false
	}
	return sse, true
}

// jacobianNormal accumulates JᵀJ into hess and Jᵀr into grad using the
// analytic model gradient.
func jacobianNormal(days []float64, p lactation.Params, resid []float64, hess *mat.SymDense, grad *mat.VecDense) {
	var h [3][3]float64
	var g [3]float64

	for i, day := range days {
		da, db, dc := lactation.Gradient(day, p)
		row := [3]float64{da, db, dc}
		for j := 0; j < 3; j++ {
			g[j] += row[j] * resid[i]
			for k := j; k < 3; k++ {
				h[j][k] += row[j] * row[k]
			}
		}
	}

	for j := 0; j < 3; j++ {
		grad.SetVec(j, g[j])
		for k := j; k < 3; k++ {
			hess.SetSym(j, k, h[j][k])
		}
	}
}

// finish assembles the Result, attaching a covariance estimate when the
// normal matrix is invertible and there are residual degrees of freedom.
func finish(p lactation.Params, hess *mat.SymDense, sse float64, n, evals int) Result {
	res := Result{Params: p, RSS: sse, Evaluations: evals}

	if n <= 3 {
		return res
	}

	var chol mat.Cholesky
	if !chol.Factorize(hess) {
		return res
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return res
	}

	sigma2 := sse / float64(n-3)
	inv.ScaleSym(sigma2, &inv)
	res.Covariance = &inv
	return res
}
