// Package aggregate blends the document consistency score and the tariff
// anomaly score into one combined fraud report.
package aggregate

import (
	"fmt"
	"math"

	"github.com/sinavika/fraudwatch/internal/consistency"
	"github.com/sinavika/fraudwatch/internal/domain"
	"github.com/sinavika/fraudwatch/internal/tariff"
)

// Aggregator combines the two independent 0-100 scores. The two scorers
// observe disjoint evidence, so the default is an equal-weight average.
type Aggregator struct {
	documentWeight float64
	tariffWeight   float64
}

// New creates an aggregator from configuration. Non-positive or unset
// weights fall back to 0.5/0.5.
func New(cfg domain.AggregationConfig) *Aggregator {
	dw, tw := cfg.DocumentWeight, cfg.TariffWeight
	if dw <= 0 || tw <= 0 {
		dw, tw = 0.5, 0.5
	}
	total := dw + tw
	return &Aggregator{
		documentWeight: dw / total,
		tariffWeight:   tw / total,
	}
}

// Combine builds the final report. Either side may be nil: a missing side is
// flagged as absent rather than scored zero, and the combined score carries
// the available signal at full weight so "unknown" never reads as "clean".
func (a *Aggregator) Combine(doc *consistency.Result, ml *tariff.Assessment) domain.FraudAnalysisReport {
	report := domain.FraudAnalysisReport{}

	if doc != nil {
		report.DocumentAvailable = true
		report.DocumentIssues = doc.Issues
		report.DocumentConfidence = doc.Confidence
	}
	if ml != nil {
		report.MLAvailable = true
		report.MLRiskFactors = ml.RiskFactors
		report.MLConfidence = ml.RiskScore
		report.MLRiskLevel = ml.RiskLevel
		rec := ml.Recommendation
		report.MLRecommendation = &rec
	}

	switch {
	case doc != nil && ml != nil:
		report.CombinedScore = int(math.Round(
			a.documentWeight*float64(doc.Confidence) + a.tariffWeight*float64(ml.RiskScore)))
	case doc != nil:
		report.CombinedScore = doc.Confidence
	case ml != nil:
		report.CombinedScore = ml.RiskScore
	}

	report.Summary = fmt.Sprintf("Found %d potential document anomalies; combined fraud score %d/100.",
		len(report.DocumentIssues), report.CombinedScore)

	return report
}
