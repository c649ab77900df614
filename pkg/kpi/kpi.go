// Package kpi derives zootechnical performance indicators from fitted Wood's
// model coefficients.
//
// Three indicators follow from closed-form algebra (the peak of Wood's curve
// is at t = b/c) and one from a definite integral of the curve over the
// lactation period. The four are computed together and returned as one atomic
// set: if any defining formula is undefined the whole derivation fails, so
// presentation layers never see a partially populated result.
package kpi

import (
	"fmt"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/dairylab/lactra/pkg/lactation"
)

// PersistencyDay is the fixed reference day for the persistency ratio,
// independent of the lactation-period length.
const PersistencyDay = 250

// Set holds the derived indicators for one lactation analysis.
type Set struct {
	// PeakYield is the model's maximum daily yield, Y(b/c).
	PeakYield float64 `json:"peakYield"`

	// TimeToPeak is the day of peak yield, b/c.
	TimeToPeak float64 `json:"timeToPeak"`

	// TotalPeriodYield is the integral of the curve over [1, periodDays].
	// Day 0 is not counted, by convention.
	TotalPeriodYield float64 `json:"totalPeriodYield"`

	// PersistencyPct is 100 * Y(250) / PeakYield, or exactly 0 when the
	// peak yield is non-positive (degenerate fit policy, not an error).
	PersistencyPct float64 `json:"persistencyPct"`
}

// UndefinedError reports a KPI whose defining formula has an undefined
// denominator, currently only time-to-peak when c = 0.
type UndefinedError struct {
	KPI    string
	Reason string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("kpi: %s undefined: %s", e.KPI, e.Reason)
}

// Derive computes the full indicator set for the given coefficients over a
// lactation period of periodDays days.
//
// The period length is caller-bounded (typically [100, 500] days); Derive
// itself only requires it to be >= 1 so the integral's bounds are ordered.
func Derive(p lactation.Params, periodDays int) (Set, error) {
	if periodDays < 1 {
		return Set{}, fmt.Errorf("kpi: period length %d days, need >= 1", periodDays)
	}

	// dY/dt = 0  =>  t = b/c. Undefined when c = 0; the whole set fails
	// rather than silently propagating an infinity.
	if p.C == 0 {
		return Set{}, &UndefinedError{KPI: "time_to_peak", Reason: "decline rate c is zero"}
	}
	timeToPeak := p.B / p.C

	peak := lactation.Yield(timeToPeak, p)

	total, err := integrate(p, 1, float64(periodDays))
	if err != nil {
		return Set{}, err
	}

	persistency := 0.0
	if peak > 0 {
		persistency = 100 * lactation.Yield(PersistencyDay, p) / peak
	}

	return Set{
		PeakYield:        peak,
		TimeToPeak:       timeToPeak,
		TotalPeriodYield: total,
		PersistencyPct:   persistency,
	}, nil
}

const (
	quadTol      = 1e-8
	quadMinNodes = 16
	quadMaxNodes = 4096
)

// integrate evaluates the definite integral of the curve over [from, to] by
// Gauss-Legendre quadrature, doubling the node count until two successive
// estimates agree within tolerance. The integrand is smooth and
// exponentially decaying, so convergence is fast for realistic coefficients.
func integrate(p lactation.Params, from, to float64) (float64, error) {
	f := func(t float64) float64 { return lactation.Yield(t, p) }

	prev := quad.Fixed(f, from, to, quadMinNodes, nil, 0)
	for n := quadMinNodes * 2; n <= quadMaxNodes; n *= 2 {
		cur := quad.Fixed(f, from, to, n, nil, 0)
		diff := cur - prev
		if diff < 0 {
			diff = -diff
		}
		scale := cur
		if scale < 0 {
			scale = -scale
		}
		if scale < 1 {
			scale = 1
		}
		if diff <= quadTol*scale {
			return cur, nil
		}
		prev = cur
	}

	return 0, fmt.Errorf("kpi: total-period yield integral did not converge over [%g, %g] with params %+v", from, to, p)
}
