// Package dataset parses raw milk-yield recordings into observations.
//
// The accepted format is one measurement per line as "Day,Yield", e.g.
//
//	15,25.5
//	30,35.1
//
// Blank lines are skipped; anything else malformed is rejected with the
// offending line number so operators can fix their pasted data.
package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dairylab/lactra/pkg/fit"
)

// ParseObservations parses Day,Yield lines into observations.
// It validates shape only (numeric fields, day >= 0); whether the values
// make a fittable dataset is the analysis pipeline's concern.
func ParseObservations(text string) ([]fit.Observation, error) {
	var obs []fit.Observation

	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		dayStr, yieldStr, found := strings.Cut(line, ",")
		if !found {
			return nil, fmt.Errorf("dataset: line %d: expected \"Day,Yield\", got %q", i+1, line)
		}

		day, err := strconv.Atoi(strings.TrimSpace(dayStr))
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: invalid day %q: %w", i+1, dayStr, err)
		}
		if day < 0 {
			return nil, fmt.Errorf("dataset: line %d: day %d is negative", i+1, day)
		}

		yield, err := strconv.ParseFloat(strings.TrimSpace(yieldStr), 64)
		if err != nil {
			return nil, fmt.Errorf("dataset: line %d: invalid yield %q: %w", i+1, yieldStr, err)
		}

		obs = append(obs, fit.Observation{Day: day, Yield: yield})
	}

	if len(obs) == 0 {
		return nil, fmt.Errorf("dataset: no observations found")
	}

	return obs, nil
}
