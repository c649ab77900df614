package kpi

import (
	"errors"
	"math"
	"testing"

	"github.com/dairylab/lactra/pkg/lactation"
)

func TestDerive_TimeToPeakIdentity(t *testing.T) {
	p := lactation.Params{A: 14.5, B: 0.24, C: 0.004}

	set, err := Derive(p, 305)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	if set.TimeToPeak != p.B/p.C {
		t.Errorf("TimeToPeak = %v, want exactly b/c = %v", set.TimeToPeak, p.B/p.C)
	}
	if set.PeakYield != lactation.Yield(set.TimeToPeak, p) {
		t.Errorf("PeakYield = %v, want Y(b/c) = %v", set.PeakYield, lactation.Yield(set.TimeToPeak, p))
	}
}

func TestDerive_PeakIsMaximumOverDomain(t *testing.T) {
	p := lactation.Params{A: 14.5, B: 0.24, C: 0.004}
	const period = 305

	set, err := Derive(p, period)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	ts, ys := lactation.Grid(1, period, 3000, p)
	for i, y := range ys {
		if y > set.PeakYield+1e-9 {
			t.Fatalf("Y(%v) = %v exceeds peak %v", ts[i], y, set.PeakYield)
		}
	}
}

func TestDerive_TotalYieldMonotoneInPeriod(t *testing.T) {
	p := lactation.Params{A: 15, B: 0.2, C: 0.003}

	prev := 0.0
	for _, period := range []int{100, 150, 200, 305, 400, 500} {
		set, err := Derive(p, period)
		if err != nil {
			t.Fatalf("Derive(period=%d) error = %v", period, err)
		}
		if set.TotalPeriodYield < prev {
			t.Errorf("TotalPeriodYield(%d) = %v < previous %v", period, set.TotalPeriodYield, prev)
		}
		prev = set.TotalPeriodYield
	}
}

func TestDerive_RealisticScenarioRanges(t *testing.T) {
	// Coefficients in the neighbourhood a fit of the reference 8-point
	// dataset lands in: peak in [40, 45] kg/day between days 40 and 80,
	// total 305-day yield on the order of 8,000-11,000 kg.
	p := lactation.Params{A: 17.5, B: 0.28, C: 0.0047}

	set, err := Derive(p, 305)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	if set.TimeToPeak < 40 || set.TimeToPeak > 80 {
		t.Errorf("TimeToPeak = %v, want in [40, 80]", set.TimeToPeak)
	}
	if set.PeakYield < 40 || set.PeakYield > 45 {
		t.Errorf("PeakYield = %v, want in [40, 45]", set.PeakYield)
	}
	if set.TotalPeriodYield < 8000 || set.TotalPeriodYield > 11000 {
		t.Errorf("TotalPeriodYield = %v, want in [8000, 11000]", set.TotalPeriodYield)
	}
	if set.PersistencyPct <= 0 || set.PersistencyPct >= 100 {
		t.Errorf("PersistencyPct = %v, want strictly between 0 and 100", set.PersistencyPct)
	}
}

func TestDerive_ZeroDeclineRateUndefined(t *testing.T) {
	p := lactation.Params{A: 15, B: 0.2, C: 0}

	_, err := Derive(p, 305)

	var ue *UndefinedError
	if !errors.As(err, &ue) {
		t.Fatalf("Derive() error = %v, want *UndefinedError", err)
	}
	if ue.KPI != "time_to_peak" {
		t.Errorf("UndefinedError.KPI = %q, want %q", ue.KPI, "time_to_peak")
	}
}

func TestDerive_NonPositivePeakPersistencyPolicy(t *testing.T) {
	// Negative scale flips the curve below zero: peak yield <= 0 must give
	// persistency exactly 0, never a division error.
	p := lactation.Params{A: -5, B: 0.2, C: 0.003}

	set, err := Derive(p, 305)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if set.PersistencyPct != 0 {
		t.Errorf("PersistencyPct = %v, want exactly 0", set.PersistencyPct)
	}
	if set.PeakYield > 0 {
		t.Errorf("PeakYield = %v, expected non-positive for negative a", set.PeakYield)
	}
}

func TestDerive_PeriodBounds(t *testing.T) {
	p := lactation.Params{A: 15, B: 0.2, C: 0.003}

	if _, err := Derive(p, 0); err == nil {
		t.Error("Derive(period=0) succeeded, want error")
	}
	if _, err := Derive(p, -10); err == nil {
		t.Error("Derive(period=-10) succeeded, want error")
	}
}

func TestDerive_IntegralMatchesSimpson(t *testing.T) {
	// Cross-check the quadrature against a dense composite Simpson rule.
	p := lactation.Params{A: 15, B: 0.2, C: 0.003}
	const period = 305

	set, err := Derive(p, period)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	const n = 20000 // even
	h := (float64(period) - 1) / n
	sum := lactation.Yield(1, p) + lactation.Yield(float64(period), p)
	for i := 1; i < n; i++ {
		x := 1 + float64(i)*h
		if i%2 == 1 {
			sum += 4 * lactation.Yield(x, p)
		} else {
			sum += 2 * lactation.Yield(x, p)
		}
	}
	want := sum * h / 3

	if math.Abs(set.TotalPeriodYield-want)/want > 1e-6 {
		t.Errorf("TotalPeriodYield = %v, Simpson reference %v", set.TotalPeriodYield, want)
	}
}
