package fit

import (
	"errors"
	"math"
	"testing"

	"github.com/dairylab/lactra/pkg/lactation"
)

// sampleCurve generates noise-free observations from the model itself.
func sampleCurve(p lactation.Params, days []int) []Observation {
	obs := make([]Observation, len(days))
	for i, d := range days {
		obs[i] = Observation{Day: d, Yield: lactation.Yield(float64(d), p)}
	}
	return obs
}

func TestFit_RecoversExactParameters(t *testing.T) {
	truth := lactation.Params{A: 14.2, B: 0.23, C: 0.0035}
	obs := sampleCurve(truth, []int{10, 30, 60, 90, 120, 180, 240, 300})

	res, err := Fit(obs, DefaultGuess)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	checkRel := func(name string, got, want float64) {
		t.Helper()
		rel := math.Abs(got-want) / math.Abs(want)
		if rel > 1e-4 {
			t.Errorf("%s = %v, want %v (rel err %v)", name, got, want, rel)
		}
	}
	checkRel("a", res.Params.A, truth.A)
	checkRel("b", res.Params.B, truth.B)
	checkRel("c", res.Params.C, truth.C)

	if res.RSS > 1e-12 {
		t.Errorf("RSS = %v on noise-free data, want ~0", res.RSS)
	}
	if res.Evaluations <= 0 || res.Evaluations > 10000 {
		t.Errorf("Evaluations = %d, want within (0, 10000]", res.Evaluations)
	}
}

func TestFit_TooFewObservations(t *testing.T) {
	obs := sampleCurve(DefaultGuess, []int{15, 30, 45, 60})

	_, err := Fit(obs, DefaultGuess)
	if !errors.Is(err, ErrTooFewObservations) {
		t.Fatalf("Fit() error = %v, want ErrTooFewObservations", err)
	}
}

func TestFit_FivePointsSucceed(t *testing.T) {
	truth := lactation.Params{A: 16, B: 0.2, C: 0.004}
	obs := sampleCurve(truth, []int{10, 60, 120, 200, 290})

	res, err := Fit(obs, DefaultGuess)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if !res.Params.Valid() {
		t.Errorf("fitted params %+v, want all positive", res.Params)
	}
}

func TestFit_NoisyRealisticData(t *testing.T) {
	// The worked scenario from the original analysis tool.
	obs := []Observation{
		{15, 25.5}, {30, 35.1}, {45, 40.2}, {60, 42.5},
		{90, 40.1}, {150, 36.2}, {210, 31.5}, {270, 26.8},
	}

	res, err := Fit(obs, DefaultGuess)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	// The sparse late-lactation sampling of this subset pulls the global
	// least-squares optimum out to roughly day 84, later than the visual
	// peak of the raw points.
	peakDay := res.Params.B / res.Params.C
	if peakDay < 40 || peakDay > 90 {
		t.Errorf("implied peak day = %v, want in [40, 90]", peakDay)
	}

	peak := lactation.Yield(peakDay, res.Params)
	if peak < 40 || peak > 45 {
		t.Errorf("implied peak yield = %v, want in [40, 45]", peak)
	}
}

func TestFit_Deterministic(t *testing.T) {
	obs := []Observation{
		{15, 25.5}, {30, 35.1}, {45, 40.2}, {60, 42.5},
		{90, 40.1}, {150, 36.2}, {210, 31.5}, {270, 26.8},
	}

	first, err := Fit(obs, DefaultGuess)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	second, err := Fit(obs, DefaultGuess)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if first.Params != second.Params || first.RSS != second.RSS || first.Evaluations != second.Evaluations {
		t.Errorf("repeated fits differ: %+v vs %+v", first, second)
	}
}

func TestFit_ZeroGuessUsesDefault(t *testing.T) {
	truth := lactation.Params{A: 15, B: 0.22, C: 0.003}
	obs := sampleCurve(truth, []int{10, 40, 80, 150, 250, 300})

	res, err := Fit(obs, lactation.Params{})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if math.Abs(res.Params.A-truth.A)/truth.A > 1e-4 {
		t.Errorf("a = %v, want %v", res.Params.A, truth.A)
	}
}

func TestFit_NonFiniteGuessDiverges(t *testing.T) {
	obs := []Observation{
		{15, 25.5}, {30, 35.1}, {45, 40.2}, {60, 42.5}, {90, 40.1},
	}

	// Overflows the exponential at the very first residual evaluation.
	_, err := Fit(obs, lactation.Params{A: 1, B: 800, C: -800})

	var de *DivergenceError
	if !errors.As(err, &de) {
		t.Fatalf("Fit() error = %v, want *DivergenceError", err)
	}
	if de.Evaluations <= 0 {
		t.Errorf("Evaluations = %d, want > 0", de.Evaluations)
	}
}

func TestResult_StdErr(t *testing.T) {
	obs := []Observation{
		{15, 25.5}, {30, 35.1}, {45, 40.2}, {60, 42.5},
		{90, 40.1}, {150, 36.2}, {210, 31.5}, {270, 26.8},
	}

	res, err := Fit(obs, DefaultGuess)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if res.Covariance == nil {
		t.Fatal("Covariance = nil, want estimate for 8-point fit")
	}

	se, ok := res.StdErr()
	if !ok {
		t.Fatal("StdErr() not available despite covariance")
	}
	for i, v := range se {
		if v <= 0 || math.IsNaN(v) {
			t.Errorf("se[%d] = %v, want positive", i, v)
		}
	}

	if se2, ok := (Result{}).StdErr(); ok {
		t.Errorf("zero Result StdErr() = %v, ok = true; want ok = false", se2)
	}
}
