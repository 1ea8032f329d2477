// Package tariff implements the tariff-and-utilization anomaly scorer. It
// derives financial shape features from a claim and runs them through tiered
// threshold rules, accumulating a fraud probability.
package tariff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sinavika/fraudwatch/internal/domain"
)

// ErrValidation is returned when the mandatory tariff fields are missing or
// non-positive. Callers map it to HTTP 400.
var ErrValidation = errors.New("validation failed")

// averageDailyCost is the reference daily inpatient cost in IDR used by the
// high-daily-cost rule.
const averageDailyCost = 1_500_000

// Features is the raw scorer input.
type Features struct {
	TariffHospital           float64 `json:"tarif_rs"`
	TariffInaCbg             float64 `json:"tarif_inacbg"`
	LengthOfStayDays         int     `json:"los_days"`
	NumProcedures            int     `json:"num_procedures"`
	CareClass                string  `json:"care_class"`
	DiagnosisSeverity        string  `json:"diagnosis_severity"`
	ProviderClaimsCount      int     `json:"provider_claims_count"`
	ProviderFraudHistoryRate float64 `json:"provider_fraud_history_rate"`
	HospitalFraudHistoryRate float64 `json:"hospital_fraud_history_rate"`
}

// FromClaim builds scorer features from a claim snapshot.
func FromClaim(c *domain.ClaimSnapshot) Features {
	return Features{
		TariffHospital:           c.TariffHospital,
		TariffInaCbg:             c.TariffInaCbg,
		LengthOfStayDays:         c.LengthOfStayDays,
		NumProcedures:            len(c.Procedures),
		CareClass:                c.CareClass,
		DiagnosisSeverity:        c.DiagnosisSeverity,
		ProviderClaimsCount:      c.ProviderClaimsCount,
		ProviderFraudHistoryRate: c.ProviderFraudHistoryRate,
		HospitalFraudHistoryRate: c.HospitalFraudHistoryRate,
	}
}

// Derived holds the features computed once and shared by all rules.
type Derived struct {
	TariffRatio          float64 `json:"tariff_ratio"`
	TariffDiffPercentage float64 `json:"tariff_diff_percentage"`
	TariffDifference     float64 `json:"tariff_difference"`
	TariffPerDay         float64 `json:"tariff_per_day"`
	ProcedureIntensity   float64 `json:"procedure_intensity"`
	LengthOfStayDays     int     `json:"los_days"`
	NumProcedures        int     `json:"num_procedures"`
	ExpectedLOS          int     `json:"-"`
}

// Assessment is the scorer output.
type Assessment struct {
	Probability    float64               `json:"fraud_probability"`
	RiskScore      int                   `json:"risk_score"`
	RiskLevel      string                `json:"risk_level"`
	EvidenceCount  int                   `json:"evidence_count"`
	RiskFactors    []domain.RiskFactor   `json:"risk_factors"`
	Features       Derived               `json:"features_analyzed"`
	Recommendation domain.Recommendation `json:"recommendation"`
}

// tier is one rung of a threshold ladder. Only the first matching tier of a
// rule fires.
type tier struct {
	Match    func(f Features, d Derived) bool
	Factor   string
	Severity string
	Weight   float64
	Detail   func(f Features, d Derived) string
}

// ladder is an ordered set of mutually exclusive tiers for one signal.
type ladder struct {
	Name  string
	Tiers []tier
}

// ExtraEvaluator contributes additional risk factors to the probability
// accumulator, e.g. operator-defined anomaly rules. Implementations must be
// side-effect free with respect to the scorer.
type ExtraEvaluator interface {
	EvaluateFeatures(ctx context.Context, tenantID string, f Features, d Derived) []domain.RiskFactor
}

// Scorer evaluates tariff anomaly rules over claim features.
type Scorer struct {
	ladders            []ladder
	extra              ExtraEvaluator
	severityAdjustment bool
	avgDailyCost       float64
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithExtraEvaluator wires an additional rule source into the accumulator.
func WithExtraEvaluator(ev ExtraEvaluator) Option {
	return func(s *Scorer) { s.extra = ev }
}

// WithSeverityAdjustment scales the expected length of stay by diagnosis
// severity (low 0.7x, normal 1.0x, high 1.3x). Off by default.
func WithSeverityAdjustment(enabled bool) Option {
	return func(s *Scorer) { s.severityAdjustment = enabled }
}

// WithAverageDailyCost overrides the reference daily cost constant.
func WithAverageDailyCost(cost float64) Option {
	return func(s *Scorer) {
		if cost > 0 {
			s.avgDailyCost = cost
		}
	}
}

// NewScorer creates a scorer with the standard rule ladders.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{avgDailyCost: averageDailyCost}
	for _, opt := range opts {
		opt(s)
	}
	s.ladders = standardLadders(s.avgDailyCost)
	return s
}

// Score validates the features, computes the derived feature set, and runs
// each rule ladder in isolation. Only the highest matching tier per ladder
// contributes. The probability is capped at 0.99.
func (s *Scorer) Score(ctx context.Context, tenantID string, f Features) (*Assessment, error) {
	if f.TariffHospital <= 0 || f.TariffInaCbg <= 0 {
		return nil, fmt.Errorf("%w: tarif_rs and tarif_inacbg must be positive", ErrValidation)
	}

	d := s.derive(f)

	probability := 0.0
	var factors []domain.RiskFactor

	for _, l := range s.ladders {
		for _, t := range l.Tiers {
			if !t.Match(f, d) {
				continue
			}
			probability += t.Weight
			factors = append(factors, domain.RiskFactor{
				Factor:       t.Factor,
				Severity:     t.Severity,
				Detail:       t.Detail(f, d),
				Contribution: t.Weight,
			})
			break
		}
	}

	if s.extra != nil {
		for _, rf := range s.extra.EvaluateFeatures(ctx, tenantID, f, d) {
			probability += rf.Contribution
			factors = append(factors, rf)
		}
	}

	if probability > 0.99 {
		probability = 0.99
	}
	probability = math.Round(probability*10000) / 10000

	riskScore := int(math.Round(probability * 100))
	riskLevel := levelFor(riskScore)

	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Contribution > factors[j].Contribution
	})

	return &Assessment{
		Probability:    probability,
		RiskScore:      riskScore,
		RiskLevel:      riskLevel,
		EvidenceCount:  len(factors),
		RiskFactors:    factors,
		Features:       d.rounded(),
		Recommendation: RecommendationFor(riskLevel, riskScore),
	}, nil
}

// derive keeps full precision; rounding happens only when the feature set is
// attached to the assessment, so threshold comparisons stay exact.
func (s *Scorer) derive(f Features) Derived {
	los := f.LengthOfStayDays
	if los < 1 {
		los = 1
	}
	d := Derived{
		TariffRatio:          f.TariffHospital / f.TariffInaCbg,
		TariffDiffPercentage: (f.TariffHospital - f.TariffInaCbg) / f.TariffInaCbg * 100,
		TariffDifference:     f.TariffHospital - f.TariffInaCbg,
		TariffPerDay:         f.TariffHospital / float64(los),
		ProcedureIntensity:   float64(f.NumProcedures) / float64(los),
		LengthOfStayDays:     f.LengthOfStayDays,
		NumProcedures:        f.NumProcedures,
	}
	d.ExpectedLOS = s.expectedLOS(f.TariffInaCbg, f.DiagnosisSeverity)
	return d
}

// rounded returns a display copy of the derived features.
func (d Derived) rounded() Derived {
	d.TariffRatio = round4(d.TariffRatio)
	d.TariffDiffPercentage = round2(d.TariffDiffPercentage)
	d.TariffDifference = round2(d.TariffDifference)
	d.TariffPerDay = round2(d.TariffPerDay)
	d.ProcedureIntensity = round4(d.ProcedureIntensity)
	return d
}

// expectedLOS is a step function of the INA-CBG tariff bracket, optionally
// scaled by diagnosis severity.
func (s *Scorer) expectedLOS(tariffInaCbg float64, severity string) int {
	base := 2
	switch {
	case tariffInaCbg > 10_000_000:
		base = 5
	case tariffInaCbg > 5_000_000:
		base = 4
	case tariffInaCbg > 3_000_000:
		base = 3
	}
	if !s.severityAdjustment {
		return base
	}
	multiplier := 1.0
	switch severity {
	case "low":
		multiplier = 0.7
	case "high":
		multiplier = 1.3
	}
	return int(math.Round(float64(base) * multiplier))
}

func levelFor(riskScore int) string {
	switch {
	case riskScore >= 80:
		return domain.RiskLevelCritical
	case riskScore >= 60:
		return domain.RiskLevelHigh
	case riskScore >= 40:
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}

func standardLadders(avgDailyCost float64) []ladder {
	return []ladder{
		{
			Name: "overcharging",
			Tiers: []tier{
				{
					Match:    func(_ Features, d Derived) bool { return d.TariffRatio > 1.5 },
					Factor:   "Extreme Overcharging",
					Severity: domain.FactorSeverityCritical,
					Weight:   0.35,
					Detail: func(_ Features, d Derived) string {
						return fmt.Sprintf("Hospital tariff is %.2fx the INA-CBG rate (%.1f%% above)", d.TariffRatio, d.TariffDiffPercentage)
					},
				},
				{
					Match:    func(_ Features, d Derived) bool { return d.TariffRatio > 1.3 },
					Factor:   "Significant Overcharging",
					Severity: domain.FactorSeverityHigh,
					Weight:   0.25,
					Detail: func(_ Features, d Derived) string {
						return fmt.Sprintf("Hospital tariff is %.1f%% above the INA-CBG rate", d.TariffDiffPercentage)
					},
				},
				{
					Match:    func(_ Features, d Derived) bool { return d.TariffRatio > 1.2 },
					Factor:   "Moderate Overcharging",
					Severity: domain.FactorSeverityMedium,
					Weight:   0.15,
					Detail: func(_ Features, d Derived) string {
						return fmt.Sprintf("Hospital tariff is %.1f%% above the INA-CBG rate", d.TariffDiffPercentage)
					},
				},
			},
		},
		{
			Name: "provider_history",
			Tiers: []tier{
				{
					Match:    func(f Features, _ Derived) bool { return f.ProviderFraudHistoryRate > 0.5 },
					Factor:   "Provider Fraud History",
					Severity: domain.FactorSeverityCritical,
					Weight:   0.25,
					Detail: func(f Features, _ Derived) string {
						return fmt.Sprintf("Provider has a %.0f%% rate of risky claims", f.ProviderFraudHistoryRate*100)
					},
				},
				{
					Match:    func(f Features, _ Derived) bool { return f.ProviderFraudHistoryRate > 0.3 },
					Factor:   "Provider Suspicious Pattern",
					Severity: domain.FactorSeverityHigh,
					Weight:   0.15,
					Detail: func(f Features, _ Derived) string {
						return fmt.Sprintf("Provider has a %.0f%% rate of risky claims", f.ProviderFraudHistoryRate*100)
					},
				},
			},
		},
		{
			Name: "hospital_history",
			Tiers: []tier{
				{
					Match:    func(f Features, _ Derived) bool { return f.HospitalFraudHistoryRate > 0.4 },
					Factor:   "Hospital Fraud Pattern",
					Severity: domain.FactorSeverityCritical,
					Weight:   0.20,
					Detail: func(f Features, _ Derived) string {
						return fmt.Sprintf("Hospital has a %.0f%% rate of problematic claims", f.HospitalFraudHistoryRate*100)
					},
				},
				{
					Match:    func(f Features, _ Derived) bool { return f.HospitalFraudHistoryRate > 0.25 },
					Factor:   "Hospital Suspicious Pattern",
					Severity: domain.FactorSeverityMedium,
					Weight:   0.12,
					Detail: func(f Features, _ Derived) string {
						return fmt.Sprintf("Hospital has a %.0f%% problem rate", f.HospitalFraudHistoryRate*100)
					},
				},
			},
		},
		{
			Name: "excessive_procedures",
			Tiers: []tier{
				{
					Match:    func(f Features, _ Derived) bool { return f.NumProcedures >= 5 && f.TariffInaCbg < 5_000_000 },
					Factor:   "Excessive Procedures",
					Severity: domain.FactorSeverityHigh,
					Weight:   0.15,
					Detail: func(f Features, _ Derived) string {
						return fmt.Sprintf("%d procedures for a low-tariff diagnosis (possibly unnecessary)", f.NumProcedures)
					},
				},
				{
					Match:    func(f Features, _ Derived) bool { return f.NumProcedures >= 4 && f.TariffInaCbg < 3_000_000 },
					Factor:   "High Procedure Count",
					Severity: domain.FactorSeverityMedium,
					Weight:   0.10,
					Detail: func(f Features, _ Derived) string {
						return fmt.Sprintf("%d procedures for a relatively simple case", f.NumProcedures)
					},
				},
			},
		},
		{
			Name: "extended_stay",
			Tiers: []tier{
				{
					Match: func(f Features, d Derived) bool {
						return float64(f.LengthOfStayDays) > float64(d.ExpectedLOS)*2.5
					},
					Factor:   "Extended Hospital Stay",
					Severity: domain.FactorSeverityHigh,
					Weight:   0.10,
					Detail: func(f Features, d Derived) string {
						return fmt.Sprintf("Stay of %d days far exceeds the expected %d days", f.LengthOfStayDays, d.ExpectedLOS)
					},
				},
				{
					Match: func(f Features, d Derived) bool {
						return float64(f.LengthOfStayDays) > float64(d.ExpectedLOS)*2
					},
					Factor:   "Long Hospital Stay",
					Severity: domain.FactorSeverityMedium,
					Weight:   0.07,
					Detail: func(f Features, d Derived) string {
						return fmt.Sprintf("Stay of %d days exceeds the expected %d days", f.LengthOfStayDays, d.ExpectedLOS)
					},
				},
			},
		},
		{
			Name: "upcoding_combo",
			Tiers: []tier{
				{
					Match: func(f Features, d Derived) bool {
						return d.TariffRatio > 1.4 && f.DiagnosisSeverity == "normal" && f.NumProcedures <= 1
					},
					Factor:   "Possible Upcoding",
					Severity: domain.FactorSeverityHigh,
					Weight:   0.10,
					Detail: func(Features, Derived) string {
						return "High tariff despite normal diagnosis severity and minimal procedures"
					},
				},
			},
		},
		{
			Name: "high_daily_cost",
			Tiers: []tier{
				{
					Match:    func(_ Features, d Derived) bool { return d.TariffPerDay > avgDailyCost*2 },
					Factor:   "High Daily Cost",
					Severity: domain.FactorSeverityMedium,
					Weight:   0.08,
					Detail: func(_ Features, d Derived) string {
						return fmt.Sprintf("Daily cost of Rp %.1f million exceeds the average", d.TariffPerDay/1_000_000)
					},
				},
			},
		},
		{
			Name: "procedure_intensity",
			Tiers: []tier{
				{
					Match:    func(_ Features, d Derived) bool { return d.ProcedureIntensity > 2 },
					Factor:   "High Procedure Intensity",
					Severity: domain.FactorSeverityMedium,
					Weight:   0.07,
					Detail: func(_ Features, d Derived) string {
						return fmt.Sprintf("%.1f procedures per day (possibly excessive)", d.ProcedureIntensity)
					},
				},
			},
		},
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
