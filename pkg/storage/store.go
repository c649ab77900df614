// Package storage provides analysis report storage implementations.
//
// The service keeps the latest lactation analysis report per animal so that
// dashboards and downstream tooling can retrieve it without re-running the
// fit. Two backends are available: an in-memory store for single-instance
// deployments and a Redis store for shared setups.
package storage

import (
	"context"

	"github.com/dairylab/lactra/pkg/analysis"
)

// Store persists the latest analysis report per animal.
type Store interface {
	// Put stores a report, replacing any existing report for the same
	// animal. The report's Animal field must be non-empty.
	Put(ctx context.Context, report analysis.Report) error

	// GetLatest retrieves the most recent report for an animal.
	// found is false when no report exists; that is not an error.
	GetLatest(ctx context.Context, animal string) (analysis.Report, bool, error)
}
