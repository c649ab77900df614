// Package analysis orchestrates the lactation analysis pipeline:
// validate → fit → derive.
//
// One call to Analyze runs the whole pipeline for a single animal's
// observations and returns a complete Report or a typed error. The pipeline
// is synchronous and stateless: nothing is shared between requests.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dairylab/lactra/pkg/fit"
	"github.com/dairylab/lactra/pkg/kpi"
	"github.com/dairylab/lactra/pkg/lactation"
)

// ErrInsufficientData is returned when fewer than fit.MinObservations
// measurements are supplied.
var ErrInsufficientData = errors.New("analysis: at least 5 observations required")

// Request is one analysis invocation. Observations need not be sorted or
// have unique days; duplicate days with differing yields degrade fit quality
// but are not rejected.
type Request struct {
	// Animal identifies whose lactation is being analyzed. Optional for
	// direct library use; required when reports are stored.
	Animal string

	// Observations are the measured (day, yield) pairs, at least 5.
	Observations []fit.Observation

	// PeriodDays is the standard lactation length for the total-yield
	// integral. The UI layer bounds it to [100, 500].
	PeriodDays int

	// Guess optionally overrides the fit starting point. The zero value
	// selects fit.DefaultGuess.
	Guess lactation.Params
}

// Report is the complete outcome of one analysis.
type Report struct {
	Animal string `json:"animal,omitempty"`

	// Params are the fitted Wood's model coefficients.
	Params lactation.Params `json:"params"`

	// StdErr holds per-coefficient standard errors (a, b, c) when the fit
	// produced a covariance estimate.
	StdErr    [3]float64 `json:"stdErr,omitempty"`
	HasStdErr bool       `json:"hasStdErr"`

	// Suspect is set when any fitted coefficient is non-positive. Such a
	// fit is physically meaningless but is reported rather than rejected.
	Suspect bool `json:"suspect"`

	KPIs kpi.Set `json:"kpis"`

	PeriodDays   int       `json:"periodDays"`
	Observations int       `json:"observations"`
	RSS          float64   `json:"rss"`
	Evaluations  int       `json:"evaluations"`
	GeneratedAt  time.Time `json:"generatedAt"`

	// FitDuration and DeriveDuration are per-stage wall-clock timings for
	// instrumentation. Not serialized.
	FitDuration    time.Duration `json:"-"`
	DeriveDuration time.Duration `json:"-"`
}

// Analyze runs the pipeline to completion. Every error is terminal for the
// request; there are no retries and no partial results. The error taxonomy:
//
//   - ErrInsufficientData — fewer than 5 observations
//   - *fit.DivergenceError — the optimizer did not converge
//   - *kpi.UndefinedError — a KPI denominator is undefined (c = 0)
//
// All are distinguishable with errors.Is / errors.As and carry the failed
// stage in their message.
func Analyze(ctx context.Context, req Request) (Report, error) {
	if len(req.Observations) < fit.MinObservations {
		return Report{}, fmt.Errorf("%w: got %d", ErrInsufficientData, len(req.Observations))
	}
	if req.PeriodDays < 1 {
		return Report{}, fmt.Errorf("analysis: period length %d days, need >= 1", req.PeriodDays)
	}

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	fitStart := time.Now()
	fitRes, err := fit.Fit(req.Observations, req.Guess)
	fitDuration := time.Since(fitStart)
	if err != nil {
		if errors.Is(err, fit.ErrTooFewObservations) {
			return Report{}, fmt.Errorf("%w: got %d", ErrInsufficientData, len(req.Observations))
		}
		return Report{}, fmt.Errorf("fit: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	deriveStart := time.Now()
	set, err := kpi.Derive(fitRes.Params, req.PeriodDays)
	deriveDuration := time.Since(deriveStart)
	if err != nil {
		return Report{}, fmt.Errorf("derive: %w", err)
	}

	report := Report{
		Animal:         req.Animal,
		Params:         fitRes.Params,
		Suspect:        !fitRes.Params.Valid(),
		KPIs:           set,
		PeriodDays:     req.PeriodDays,
		Observations:   len(req.Observations),
		RSS:            fitRes.RSS,
		Evaluations:    fitRes.Evaluations,
		GeneratedAt:    time.Now().UTC(),
		FitDuration:    fitDuration,
		DeriveDuration: deriveDuration,
	}
	if se, ok := fitRes.StdErr(); ok {
		report.StdErr = se
		report.HasStdErr = true
	}

	return report, nil
}
