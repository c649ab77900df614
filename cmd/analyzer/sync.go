// Package main implements the herd sync loop orchestration.
//
// This file contains the Syncer type which keeps stored reports fresh for a
// configured set of animals:
//
//	fetch records → analyze (fit + derive) → store report
//
// The Syncer runs continuously via Run(), executing Tick() at regular
// intervals. Each tick refreshes every configured animal; a failure for one
// animal is logged and counted but does not stop the others.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dairylab/lactra/cmd/analyzer/metrics"
	"github.com/dairylab/lactra/pkg/analysis"
	"github.com/dairylab/lactra/pkg/fit"
	"github.com/dairylab/lactra/pkg/kpi"
	"github.com/dairylab/lactra/pkg/storage"
)

// RecordSource fetches an animal's observations. Satisfied by
// *records.Client; a narrow interface keeps the sync loop testable.
type RecordSource interface {
	Fetch(ctx context.Context, animal string) ([]fit.Observation, error)
}

// Syncer refreshes lactation reports for a fixed set of animals.
type Syncer struct {
	source     RecordSource
	store      storage.Store
	animals    []string
	periodDays int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewSyncer creates a Syncer.
func NewSyncer(source RecordSource, store storage.Store, animals []string, periodDays int, logger *slog.Logger, m *metrics.Metrics) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		source:     source,
		store:      store,
		animals:    animals,
		periodDays: periodDays,
		logger:     logger,
		metrics:    m,
	}
}

// Run executes the sync loop at regular intervals, starting with an
// immediate tick. Blocks until the context is canceled.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("starting herd sync loop", "interval", interval, "animals", len(s.animals))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("herd sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick refreshes every configured animal once.
// Exported for testing purposes.
func (s *Syncer) Tick(ctx context.Context) {
	start := time.Now()
	refreshed := 0

	for _, animal := range s.animals {
		if ctx.Err() != nil {
			return
		}
		if err := s.syncAnimal(ctx, animal); err != nil {
			s.logger.Error("animal sync failed", "animal", animal, "error", err)
			continue
		}
		refreshed++
	}

	s.logger.Info("herd sync tick complete",
		"refreshed", refreshed,
		"animals", len(s.animals),
		"total_ms", time.Since(start).Milliseconds(),
	)
}

// syncAnimal runs the fetch → analyze → store pipeline for one animal.
func (s *Syncer) syncAnimal(ctx context.Context, animal string) error {
	collectStart := time.Now()
	obs, err := s.source.Fetch(ctx, animal)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordError("records", "fetch_failed")
		}
		return fmt.Errorf("fetch records: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordCollect(time.Since(collectStart).Seconds())
	}

	report, err := analysis.Analyze(ctx, analysis.Request{
		Animal:       animal,
		Observations: obs,
		PeriodDays:   s.periodDays,
	})
	if err != nil {
		outcome := classifySyncError(err)
		if s.metrics != nil {
			s.metrics.RecordAnalysis(outcome)
			s.metrics.RecordError("analysis", outcome)
		}
		return fmt.Errorf("analyze: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordFit(report.FitDuration.Seconds(), report.Evaluations)
		s.metrics.RecordKPI(report.DeriveDuration.Seconds())
		s.metrics.RecordAnalysis("ok")
		s.metrics.SetKPIs(animal, report.KPIs.PeakYield, report.KPIs.TimeToPeak, report.KPIs.PersistencyPct)
	}

	if report.Suspect {
		s.logger.Warn("fit produced non-positive coefficients",
			"animal", animal,
			"a", report.Params.A, "b", report.Params.B, "c", report.Params.C,
		)
	}

	if err := s.store.Put(ctx, report); err != nil {
		if s.metrics != nil {
			s.metrics.RecordError("store", "put_failed")
		}
		return fmt.Errorf("store report: %w", err)
	}

	s.logger.Debug("report refreshed",
		"animal", animal,
		"observations", report.Observations,
		"peak_yield", report.KPIs.PeakYield,
		"time_to_peak", report.KPIs.TimeToPeak,
	)
	return nil
}

func classifySyncError(err error) string {
	var de *fit.DivergenceError
	var ue *kpi.UndefinedError

	switch {
	case errors.Is(err, analysis.ErrInsufficientData):
		return "insufficient_data"
	case errors.As(err, &de):
		return "divergence"
	case errors.As(err, &ue):
		return "undefined_kpi"
	default:
		return "error"
	}
}
