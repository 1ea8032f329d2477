package tariff

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sinavika/fraudwatch/internal/domain"
)

func TestScoreRequiresPositiveTariffs(t *testing.T) {
	tests := []struct {
		name     string
		features Features
	}{
		{"missing both", Features{}},
		{"missing inacbg", Features{TariffHospital: 5_000_000}},
		{"missing hospital", Features{TariffInaCbg: 3_000_000}},
		{"negative inacbg", Features{TariffHospital: 5_000_000, TariffInaCbg: -1}},
	}

	scorer := NewScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scorer.Score(context.Background(), "tenant-1", tt.features)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestScoreOverchargingWithUpcodingCombo(t *testing.T) {
	// Ratio 1.667 trips the top overcharging tier, and the combination of a
	// high ratio, normal severity, and a single procedure trips the upcoding
	// combo as well.
	scorer := NewScorer()
	assessment, err := scorer.Score(context.Background(), "tenant-1", Features{
		TariffHospital:    5_000_000,
		TariffInaCbg:      3_000_000,
		LengthOfStayDays:  2,
		NumProcedures:     1,
		DiagnosisSeverity: "normal",
	})
	if err != nil {
		t.Fatal(err)
	}

	if assessment.RiskScore != 45 {
		t.Errorf("expected risk score 45, got %d", assessment.RiskScore)
	}
	if assessment.RiskLevel != domain.RiskLevelMedium {
		t.Errorf("expected medium risk, got %s", assessment.RiskLevel)
	}
	if assessment.EvidenceCount != 2 {
		t.Errorf("expected 2 risk factors, got %d", assessment.EvidenceCount)
	}
	if assessment.RiskFactors[0].Factor != "Extreme Overcharging" {
		t.Errorf("expected Extreme Overcharging first, got %s", assessment.RiskFactors[0].Factor)
	}
	if assessment.Recommendation.Action != "STANDARD_REVIEW" {
		t.Errorf("expected STANDARD_REVIEW, got %s", assessment.Recommendation.Action)
	}
}

func TestOverchargingBoundaryIsStrict(t *testing.T) {
	scorer := NewScorer()

	// Exactly 1.5 falls through to the >1.3 tier.
	at, err := scorer.Score(context.Background(), "tenant-1", Features{
		TariffHospital: 150,
		TariffInaCbg:   100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := at.RiskFactors[0].Factor; got != "Significant Overcharging" {
		t.Errorf("ratio 1.5: expected Significant Overcharging, got %s", got)
	}
	if at.RiskFactors[0].Contribution != 0.25 {
		t.Errorf("ratio 1.5: expected contribution 0.25, got %v", at.RiskFactors[0].Contribution)
	}

	// Just above 1.5 trips the top tier.
	above, err := scorer.Score(context.Background(), "tenant-1", Features{
		TariffHospital: 1_500_010,
		TariffInaCbg:   1_000_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := above.RiskFactors[0].Factor; got != "Extreme Overcharging" {
		t.Errorf("ratio 1.50001: expected Extreme Overcharging, got %s", got)
	}
}

func TestOnlyHighestTierFires(t *testing.T) {
	scorer := NewScorer()
	assessment, err := scorer.Score(context.Background(), "tenant-1", Features{
		TariffHospital: 2_000_000,
		TariffInaCbg:   1_000_000, // ratio 2.0 matches all three tiers
	})
	if err != nil {
		t.Fatal(err)
	}

	count := 0
	for _, rf := range assessment.RiskFactors {
		switch rf.Factor {
		case "Extreme Overcharging", "Significant Overcharging", "Moderate Overcharging":
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one overcharging factor, got %d", count)
	}
}

func TestProbabilityCap(t *testing.T) {
	// Seven rules firing at max weight sum to 1.20, so the cap at 0.99
	// must be exercised.
	scorer := NewScorer()
	assessment, err := scorer.Score(context.Background(), "tenant-1", Features{
		TariffHospital:           20_000_000,
		TariffInaCbg:             1_000_000,
		LengthOfStayDays:         6, // expected 2, so > 2*2.5
		NumProcedures:            13,
		DiagnosisSeverity:        "normal",
		ProviderFraudHistoryRate: 0.6,
		HospitalFraudHistoryRate: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}

	if assessment.Probability != 0.99 {
		t.Errorf("expected probability capped at 0.99, got %v", assessment.Probability)
	}
	if assessment.RiskScore != 99 {
		t.Errorf("expected risk score 99, got %d", assessment.RiskScore)
	}
	if assessment.RiskLevel != domain.RiskLevelCritical {
		t.Errorf("expected critical risk, got %s", assessment.RiskLevel)
	}
	if assessment.Recommendation.Action != "REJECT_OR_INVESTIGATE" {
		t.Errorf("expected REJECT_OR_INVESTIGATE, got %s", assessment.Recommendation.Action)
	}
}

func TestRiskLevelBands(t *testing.T) {
	tests := []struct {
		score int
		level string
	}{
		{0, domain.RiskLevelLow},
		{39, domain.RiskLevelLow},
		{40, domain.RiskLevelMedium},
		{59, domain.RiskLevelMedium},
		{60, domain.RiskLevelHigh},
		{79, domain.RiskLevelHigh},
		{80, domain.RiskLevelCritical},
		{99, domain.RiskLevelCritical},
	}
	for _, tt := range tests {
		if got := levelFor(tt.score); got != tt.level {
			t.Errorf("levelFor(%d) = %s, want %s", tt.score, got, tt.level)
		}
	}
}

func TestRiskFactorsSortedByContribution(t *testing.T) {
	scorer := NewScorer()
	assessment, err := scorer.Score(context.Background(), "tenant-1", Features{
		TariffHospital:           20_000_000,
		TariffInaCbg:             1_000_000,
		LengthOfStayDays:         6,
		NumProcedures:            13,
		ProviderFraudHistoryRate: 0.35,
		HospitalFraudHistoryRate: 0.3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(assessment.RiskFactors) < 3 {
		t.Fatalf("expected several risk factors, got %d", len(assessment.RiskFactors))
	}
	for i := 1; i < len(assessment.RiskFactors); i++ {
		if assessment.RiskFactors[i].Contribution > assessment.RiskFactors[i-1].Contribution {
			t.Errorf("risk factors not sorted: %v before %v",
				assessment.RiskFactors[i-1].Contribution, assessment.RiskFactors[i].Contribution)
		}
	}
}

func TestExpectedLOSBrackets(t *testing.T) {
	tests := []struct {
		tariff   float64
		expected int
	}{
		{15_000_000, 5},
		{10_000_000, 4}, // boundary is strict
		{7_000_000, 4},
		{4_000_000, 3},
		{3_000_000, 2},
		{1_000_000, 2},
	}
	scorer := NewScorer()
	for _, tt := range tests {
		if got := scorer.expectedLOS(tt.tariff, "normal"); got != tt.expected {
			t.Errorf("expectedLOS(%v) = %d, want %d", tt.tariff, got, tt.expected)
		}
	}
}

func TestSeverityAdjustment(t *testing.T) {
	plain := NewScorer()
	adjusted := NewScorer(WithSeverityAdjustment(true))

	// 4M bracket: base 3. With high severity the adjusted scorer expects
	// round(3*1.3) = 4 days.
	if got := plain.expectedLOS(4_000_000, "high"); got != 3 {
		t.Errorf("plain scorer expectedLOS = %d, want 3", got)
	}
	if got := adjusted.expectedLOS(4_000_000, "high"); got != 4 {
		t.Errorf("adjusted scorer expectedLOS = %d, want 4", got)
	}
	if got := adjusted.expectedLOS(4_000_000, "low"); got != 2 {
		t.Errorf("adjusted scorer low severity expectedLOS = %d, want 2", got)
	}

	// At 9 days the plain scorer sees 9 > 3*2.5 (extended stay) while the
	// adjusted one sees only 9 > 4*2 (long stay).
	features := Features{
		TariffHospital:    4_000_000,
		TariffInaCbg:      4_000_000,
		LengthOfStayDays:  9,
		DiagnosisSeverity: "high",
	}
	plainResult, err := plain.Score(context.Background(), "tenant-1", features)
	if err != nil {
		t.Fatal(err)
	}
	adjResult, err := adjusted.Score(context.Background(), "tenant-1", features)
	if err != nil {
		t.Fatal(err)
	}
	if plainResult.RiskFactors[0].Factor != "Extended Hospital Stay" {
		t.Errorf("plain: expected Extended Hospital Stay, got %s", plainResult.RiskFactors[0].Factor)
	}
	if adjResult.RiskFactors[0].Factor != "Long Hospital Stay" {
		t.Errorf("adjusted: expected Long Hospital Stay, got %s", adjResult.RiskFactors[0].Factor)
	}
}

type staticExtra struct {
	factors []domain.RiskFactor
}

func (s *staticExtra) EvaluateFeatures(_ context.Context, _ string, _ Features, _ Derived) []domain.RiskFactor {
	return s.factors
}

func TestExtraEvaluatorContributes(t *testing.T) {
	extra := &staticExtra{factors: []domain.RiskFactor{{
		Factor:       "Custom Anomaly",
		Severity:     domain.FactorSeverityHigh,
		Detail:       "configured rule fired",
		Contribution: 0.2,
	}}}
	scorer := NewScorer(WithExtraEvaluator(extra))

	assessment, err := scorer.Score(context.Background(), "tenant-1", Features{
		TariffHospital: 1_000_000,
		TariffInaCbg:   1_000_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if assessment.Probability != 0.2 {
		t.Errorf("expected probability 0.2, got %v", assessment.Probability)
	}
	if assessment.EvidenceCount != 1 || assessment.RiskFactors[0].Factor != "Custom Anomaly" {
		t.Errorf("expected the custom factor, got %+v", assessment.RiskFactors)
	}
}

func TestScoreIsIdempotent(t *testing.T) {
	scorer := NewScorer()
	features := Features{
		TariffHospital:           8_000_000,
		TariffInaCbg:             4_000_000,
		LengthOfStayDays:         3,
		NumProcedures:            2,
		DiagnosisSeverity:        "normal",
		ProviderFraudHistoryRate: 0.4,
	}

	a, err := scorer.Score(context.Background(), "tenant-1", features)
	if err != nil {
		t.Fatal(err)
	}
	b, err := scorer.Score(context.Background(), "tenant-1", features)
	if err != nil {
		t.Fatal(err)
	}

	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	if string(aj) != string(bj) {
		t.Errorf("scoring is not idempotent:\n%s\n%s", aj, bj)
	}
}

func TestRecommendationFallback(t *testing.T) {
	rec := RecommendationFor("unheard-of", 10)
	if rec.Action != "APPROVE_WITH_MONITORING" {
		t.Errorf("unknown level must fall back to the low tier, got %s", rec.Action)
	}
	if rec.ReviewPriority != "LOW" {
		t.Errorf("expected LOW priority, got %s", rec.ReviewPriority)
	}
}
