// Package router configures HTTP routes for the analyzer's API.
//
// Routes:
//   - POST /analyze - Fit a lactation curve and derive KPIs. The body is
//     either JSON ({"animal", "periodDays", "observations": [{"day","yield"}]})
//     or text/plain Day,Yield lines with ?animal= and ?period= query
//     parameters. The report is stored when an animal ID is present.
//   - GET /report/latest?animal=<id> - Retrieve the stored report.
//   - GET /healthz - Health check endpoint.
//   - GET /metrics - Prometheus metrics endpoint.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dairylab/lactra/cmd/analyzer/config"
	"github.com/dairylab/lactra/cmd/analyzer/metrics"
	"github.com/dairylab/lactra/pkg/analysis"
	"github.com/dairylab/lactra/pkg/dataset"
	"github.com/dairylab/lactra/pkg/fit"
	"github.com/dairylab/lactra/pkg/httpx"
	"github.com/dairylab/lactra/pkg/kpi"
	"github.com/dairylab/lactra/pkg/lactation"
	"github.com/dairylab/lactra/pkg/storage"
)

var animalNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,62}[a-zA-Z0-9])?$`)

const maxBodyBytes = 1 << 20

// SetupRoutes configures the analyzer's HTTP endpoints.
func SetupRoutes(store storage.Store, defaultPeriod int, m *metrics.Metrics, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.HandleFunc("/analyze", handleAnalyze(store, defaultPeriod, m, logger))
	mux.HandleFunc("/report/latest", handleGetReport(store, logger))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// analyzeRequest is the JSON request body for POST /analyze.
type analyzeRequest struct {
	Animal       string            `json:"animal"`
	PeriodDays   int               `json:"periodDays"`
	Observations []fit.Observation `json:"observations"`
	Guess        *lactation.Params `json:"guess,omitempty"`
}

func handleAnalyze(store storage.Store, defaultPeriod int, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "POST required")
			return
		}

		req, err := decodeAnalyzeRequest(r)
		if err != nil {
			m.RecordAnalysis("error")
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}

		if req.PeriodDays == 0 {
			req.PeriodDays = defaultPeriod
		}
		if req.PeriodDays < config.MinPeriodDays || req.PeriodDays > config.MaxPeriodDays {
			m.RecordAnalysis("error")
			httpx.WriteErrorMessage(w, http.StatusBadRequest,
				fmt.Sprintf("periodDays %d out of range [%d, %d]", req.PeriodDays, config.MinPeriodDays, config.MaxPeriodDays))
			return
		}
		if req.Animal != "" && !animalNameRegex.MatchString(req.Animal) {
			m.RecordAnalysis("error")
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid animal name format")
			return
		}

		areq := analysis.Request{
			Animal:       req.Animal,
			Observations: req.Observations,
			PeriodDays:   req.PeriodDays,
		}
		if req.Guess != nil {
			areq.Guess = *req.Guess
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report, err := analysis.Analyze(ctx, areq)
		if err != nil {
			status, outcome := classifyAnalysisError(err)
			m.RecordAnalysis(outcome)
			m.RecordError("analysis", outcome)
			logger.Warn("analysis failed", "animal", req.Animal, "outcome", outcome, "error", err)
			httpx.WriteError(w, status, err)
			return
		}
		m.RecordFit(report.FitDuration.Seconds(), report.Evaluations)
		m.RecordKPI(report.DeriveDuration.Seconds())
		m.RecordAnalysis("ok")

		if report.Animal != "" {
			m.SetKPIs(report.Animal, report.KPIs.PeakYield, report.KPIs.TimeToPeak, report.KPIs.PersistencyPct)

			if err := store.Put(ctx, report); err != nil {
				m.RecordError("store", "put_failed")
				logger.Error("failed to store report", "animal", report.Animal, "error", err)
				// The analysis itself succeeded; still return it.
			}
		}

		if report.Suspect {
			logger.Warn("fit produced non-positive coefficients",
				"animal", report.Animal,
				"a", report.Params.A, "b", report.Params.B, "c", report.Params.C,
			)
		}

		if err := httpx.WriteJSON(w, http.StatusOK, report); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// decodeAnalyzeRequest reads the request body as JSON or, for text/plain,
// as Day,Yield lines with animal/period taken from query parameters.
func decodeAnalyzeRequest(r *http.Request) (analyzeRequest, error) {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/plain") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return analyzeRequest{}, fmt.Errorf("read body: %w", err)
		}

		obs, err := dataset.ParseObservations(string(raw))
		if err != nil {
			return analyzeRequest{}, err
		}

		req := analyzeRequest{
			Animal:       r.URL.Query().Get("animal"),
			Observations: obs,
		}
		if periodStr := r.URL.Query().Get("period"); periodStr != "" {
			period, err := strconv.Atoi(periodStr)
			if err != nil {
				return analyzeRequest{}, fmt.Errorf("invalid period %q: %w", periodStr, err)
			}
			req.PeriodDays = period
		}
		return req, nil
	}

	var req analyzeRequest
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return analyzeRequest{}, fmt.Errorf("decode JSON body: %w", err)
	}
	return req, nil
}

// classifyAnalysisError maps pipeline errors onto HTTP statuses and metric
// outcomes. Bad input is 400; a well-formed request whose numbers defeat the
// fit is 422.
func classifyAnalysisError(err error) (status int, outcome string) {
	var de *fit.DivergenceError
	var ue *kpi.UndefinedError

	switch {
	case errors.Is(err, analysis.ErrInsufficientData):
		return http.StatusBadRequest, "insufficient_data"
	case errors.As(err, &de):
		return http.StatusUnprocessableEntity, "divergence"
	case errors.As(err, &ue):
		return http.StatusUnprocessableEntity, "undefined_kpi"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "error"
	}
}

func handleGetReport(store storage.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		animal := r.URL.Query().Get("animal")
		if animal == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "animal parameter required")
			return
		}
		if !animalNameRegex.MatchString(animal) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid animal name format")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		report, found, err := store.GetLatest(ctx, animal)
		if err != nil {
			logger.Error("failed to get report", "animal", animal, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("report not found for animal %q", animal))
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, report); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
