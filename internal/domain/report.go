package domain

import (
	"time"
)

// Issue severities for document consistency findings.
const (
	IssueSeverityLow    = "LOW"
	IssueSeverityMedium = "MEDIUM"
	IssueSeverityHigh   = "HIGH"
)

// Issue is a single document/claim-consistency finding.
// Code is the deduplication key: within one report each code appears at most once.
type Issue struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Score       int    `json:"score"`
}

// Risk factor severities for tariff anomaly findings.
const (
	FactorSeverityMedium   = "medium"
	FactorSeverityHigh     = "high"
	FactorSeverityCritical = "critical"
)

// RiskFactor is a single tariff/utilization anomaly finding.
// Reports carry risk factors sorted non-increasing by Contribution.
type RiskFactor struct {
	Factor       string  `json:"factor"`
	Severity     string  `json:"severity"`
	Detail       string  `json:"detail"`
	Contribution float64 `json:"contribution"`
}

// Risk tiers for the discretized tariff risk score.
const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// Recommendation is the review guidance attached to a risk tier.
type Recommendation struct {
	Action           string   `json:"action"`
	Message          string   `json:"message"`
	ReviewPriority   string   `json:"review_priority"`
	SuggestedActions []string `json:"suggested_actions"`
}

// FraudAnalysisReport is the combined output of both scoring strategies.
// It is a pure function of the claim snapshot: identical input produces an
// identical report. Identifiers and timestamps live on Analysis, not here.
type FraudAnalysisReport struct {
	// Document consistency side
	DocumentIssues     []Issue `json:"documentIssues"`
	DocumentConfidence int     `json:"documentConfidence"`
	// DocumentAvailable is false when the consistency engine could not run;
	// the missing side is flagged as absent rather than scored zero.
	DocumentAvailable bool `json:"documentAvailable"`

	// Tariff anomaly side
	MLRiskFactors    []RiskFactor    `json:"mlRiskFactors"`
	MLConfidence     int             `json:"mlConfidence"`
	MLRiskLevel      string          `json:"mlRiskLevel"`
	MLRecommendation *Recommendation `json:"mlRecommendation,omitempty"`
	MLAvailable      bool            `json:"mlAvailable"`

	CombinedScore int    `json:"combinedScore"`
	Summary       string `json:"summary"`
}

// Analysis wraps a report with identity and processing metadata for
// persistence and retrieval by the review workflow.
type Analysis struct {
	ID        string              `json:"id"`
	TenantID  string              `json:"tenantId"`
	ClaimID   string              `json:"claimId"`
	Timestamp time.Time           `json:"timestamp"`
	Report    FraudAnalysisReport `json:"report"`
	Metadata  AnalysisMetadata    `json:"metadata"`
}

// AnalysisMetadata contains processing information.
type AnalysisMetadata struct {
	TraceID        string `json:"traceId"`
	DocumentMs     int64  `json:"documentMs"`
	TariffMs       int64  `json:"tariffMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}
