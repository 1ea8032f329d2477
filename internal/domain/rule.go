package domain

import "time"

// AnomalyRuleConfig defines an operator-configured tariff anomaly rule.
// The expression is a CEL formula over the derived tariff feature set
// (tariff_ratio, tariff_per_day, los_days, num_procedures, ...). When it
// evaluates to true the rule contributes Weight to the fraud probability
// accumulator and emits a risk factor.
type AnomalyRuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression; must evaluate to bool.
	Expression string `json:"expression"`

	// Weight added to the probability accumulator when the rule fires.
	Weight float64 `json:"weight"`

	// Severity of the emitted risk factor: medium, high, or critical.
	Severity string `json:"severity"`

	// Detail is the human-readable explanation attached to the risk factor.
	Detail string `json:"detail"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// UpcodingPair is one row of the unlikely diagnosis/procedure lookup table:
// a procedure that is implausible for the given primary diagnosis.
type UpcodingPair struct {
	DiagnosisICD10  string `json:"diagnosisIcd10"`
	ProcedureICD9CM string `json:"procedureIcd9cm"`
	Note            string `json:"note,omitempty"`
}
