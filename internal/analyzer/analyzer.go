// Package analyzer runs the end-to-end claim analysis pipeline: document
// consistency checks, tariff scoring and aggregation into a single report.
package analyzer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sinavika/fraudwatch/internal/aggregate"
	"github.com/sinavika/fraudwatch/internal/consistency"
	"github.com/sinavika/fraudwatch/internal/domain"
	"github.com/sinavika/fraudwatch/internal/history"
	"github.com/sinavika/fraudwatch/internal/tariff"
)

const engineVersion = "fraudwatch-1.0"

// Service orchestrates the analysis pipeline. Both the API handlers and the
// async worker run claims through it.
type Service struct {
	docs       *consistency.Engine
	scorer     *tariff.Scorer
	aggregator *aggregate.Aggregator
	history    *history.Service
	logger     *slog.Logger

	// AlertThreshold is the combined score at or above which an analysis
	// is treated as an alert.
	AlertThreshold int
}

// New creates an analysis service. The history service is optional; without
// it claims are scored with whatever history the caller supplied.
func New(docs *consistency.Engine, scorer *tariff.Scorer, aggregator *aggregate.Aggregator, hist *history.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		docs:           docs,
		scorer:         scorer,
		aggregator:     aggregator,
		history:        hist,
		logger:         logger,
		AlertThreshold: 60,
	}
}

// Input carries one claim through the pipeline.
type Input struct {
	TenantID  string
	TraceID   string
	Claim     *domain.ClaimSnapshot
	StartTime time.Time
}

// Analyze evaluates a claim and returns the persisted-ready analysis. A
// failed tariff assessment degrades the report to document findings only.
func (s *Service) Analyze(ctx context.Context, input *Input) (*domain.Analysis, error) {
	if input.StartTime.IsZero() {
		input.StartTime = time.Now()
	}
	claim := input.Claim

	if s.history != nil {
		s.history.Enrich(ctx, claim)
	}

	docStart := time.Now()
	docResult := s.docs.Evaluate(claim)
	docMs := time.Since(docStart).Milliseconds()

	tariffStart := time.Now()
	assessment, err := s.scorer.Score(ctx, input.TenantID, tariff.FromClaim(claim))
	if err != nil {
		s.logger.Warn("tariff scoring failed, falling back to document findings",
			"claim_id", claim.ID,
			"tenant_id", input.TenantID,
			"error", err)
		assessment = nil
	}
	tariffMs := time.Since(tariffStart).Milliseconds()

	report := s.aggregator.Combine(&docResult, assessment)

	rulesEvaluated := len(report.DocumentIssues)
	rulesEvaluated += len(report.MLRiskFactors)

	analysis := &domain.Analysis{
		ID:        uuid.New().String(),
		TenantID:  input.TenantID,
		ClaimID:   claim.ID,
		Timestamp: time.Now().UTC(),
		Report:    report,
		Metadata: domain.AnalysisMetadata{
			TraceID:        input.TraceID,
			DocumentMs:     docMs,
			TariffMs:       tariffMs,
			TotalMs:        time.Since(input.StartTime).Milliseconds(),
			RulesEvaluated: rulesEvaluated,
			EngineVersion:  engineVersion,
		},
	}

	return analysis, nil
}

// ShouldAlert reports whether an analysis crosses the alert threshold.
func (s *Service) ShouldAlert(analysis *domain.Analysis) bool {
	return analysis.Report.CombinedScore >= s.AlertThreshold
}
