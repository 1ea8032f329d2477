// Package consistency implements the document and claim-consistency rule
// engine. It cross-checks a claim snapshot against its supporting documents
// (SEP, medical resume, lab results) and produces scored issues.
package consistency

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sinavika/fraudwatch/internal/domain"
)

// Result is the outcome of a document consistency evaluation.
type Result struct {
	Issues []domain.Issue `json:"issues"`

	// Confidence is the capped sum of issue scores, 0-100.
	Confidence int `json:"confidenceScore"`

	Summary string `json:"summary"`
}

// checkFunc evaluates one rule against a claim. It returns whether the rule
// fired and a specific description; an empty description falls back to the
// rule default. Rules must tolerate missing optional fields by not firing.
type checkFunc func(claim *domain.ClaimSnapshot, tables *Tables) (bool, string)

// rule pairs a fixed code/severity/score with its predicate.
type rule struct {
	Code        string
	Description string
	Severity    string
	Score       int
	Check       checkFunc
}

// Engine runs the document consistency rules over claim snapshots.
// Evaluation is pure: it performs no I/O and depends only on the snapshot
// and the injected lookup tables.
type Engine struct {
	mu     sync.RWMutex
	tables *Tables
	rules  []rule
	logger *slog.Logger
}

// NewEngine creates a consistency engine with the given lookup tables.
func NewEngine(tables *Tables, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if tables == nil {
		tables = NewTables(nil)
	}
	return &Engine{
		tables: tables,
		rules:  defaultRules(),
		logger: logger,
	}
}

// ReloadTables swaps in new lookup tables without restarting the engine.
func (e *Engine) ReloadTables(tables *Tables) {
	if tables == nil {
		return
	}
	e.mu.Lock()
	e.tables = tables
	e.mu.Unlock()
}

// Evaluate runs every rule against the claim, deduplicates fired issues by
// code keeping the first occurrence, and caps the summed score at 100.
// It never fails: a rule that cannot evaluate simply does not fire.
func (e *Engine) Evaluate(claim *domain.ClaimSnapshot) Result {
	e.mu.RLock()
	tables := e.tables
	rules := e.rules
	e.mu.RUnlock()

	var issues []domain.Issue
	seen := make(map[string]bool)

	for _, r := range rules {
		fired, detail := e.runRule(r, claim, tables)
		if !fired || seen[r.Code] {
			continue
		}
		seen[r.Code] = true
		desc := r.Description
		if detail != "" {
			desc = detail
		}
		issues = append(issues, domain.Issue{
			Code:        r.Code,
			Description: desc,
			Severity:    r.Severity,
			Score:       r.Score,
		})
	}

	total := 0
	for _, iss := range issues {
		total += iss.Score
	}
	if total > 100 {
		total = 100
	}

	return Result{
		Issues:     issues,
		Confidence: total,
		Summary:    fmt.Sprintf("Found %d potential anomalies with a fraud confidence score of %d%%.", len(issues), total),
	}
}

// runRule isolates a single rule so a panic in one predicate cannot abort
// the rest of the evaluation.
func (e *Engine) runRule(r rule, claim *domain.ClaimSnapshot, tables *Tables) (fired bool, detail string) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("consistency rule panicked, treating as not fired",
				"rule", r.Code,
				"claim_id", claim.ID,
				"panic", rec)
			fired = false
			detail = ""
		}
	}()
	return r.Check(claim, tables)
}

func defaultRules() []rule {
	return []rule{
		{
			Code:        "TIMELINE_SEP_AFTER_DISCHARGE",
			Description: "SEP was issued after the patient was discharged.",
			Severity:    domain.IssueSeverityHigh,
			Score:       40,
			Check: func(c *domain.ClaimSnapshot, _ *Tables) (bool, string) {
				if c.SEPIssuedDate == nil || c.DischargeDate == nil {
					return false, ""
				}
				return c.SEPIssuedDate.After(*c.DischargeDate), ""
			},
		},
		{
			Code:        "TIMELINE_LAB_OUTSIDE_TREATMENT",
			Description: "Lab test date falls outside the treatment period.",
			Severity:    domain.IssueSeverityHigh,
			Score:       30,
			Check: func(c *domain.ClaimSnapshot, _ *Tables) (bool, string) {
				if c.LabTestDate == nil || c.AdmissionDate == nil || c.DischargeDate == nil {
					return false, ""
				}
				return c.LabTestDate.Before(*c.AdmissionDate) || c.LabTestDate.After(*c.DischargeDate), ""
			},
		},
		{
			Code:        "PATIENT_NAME_MISMATCH",
			Description: "Patient name on the SEP does not match the claim.",
			Severity:    domain.IssueSeverityHigh,
			Score:       50,
			Check: func(c *domain.ClaimSnapshot, _ *Tables) (bool, string) {
				a := normalizeName(c.PatientName)
				b := normalizeName(c.SEPPatientName)
				if a == "" || b == "" || a == b {
					return false, ""
				}
				return true, fmt.Sprintf("Patient name on the claim (%s) does not match the name on the SEP (%s).", c.PatientName, c.SEPPatientName)
			},
		},
		{
			Code:        "MEDICAL_UPCODING_SUSPICION",
			Description: "Diagnosis and procedure combination is uncommon (possible upcoding).",
			Severity:    domain.IssueSeverityMedium,
			Score:       25,
			Check:       checkUpcoding,
		},
		{
			Code:        "MEDICAL_DIAGNOSIS_INCONSISTENCY",
			Description: "Primary diagnosis on the medical resume differs from the initial SEP diagnosis.",
			Severity:    domain.IssueSeverityLow,
			Score:       10,
			Check: func(c *domain.ClaimSnapshot, _ *Tables) (bool, string) {
				if c.PrimaryDiagnosis == nil {
					return false, ""
				}
				initial := normalizeName(c.SEPInitialDiagnosis)
				primary := normalizeName(c.PrimaryDiagnosis.Name)
				if initial == "" || primary == "" {
					return false, ""
				}
				if strings.Contains(primary, initial) || strings.Contains(initial, primary) {
					return false, ""
				}
				return true, fmt.Sprintf("Initial SEP diagnosis (%s) differs from the primary diagnosis on the medical resume (%s).", c.SEPInitialDiagnosis, c.PrimaryDiagnosis.Name)
			},
		},
		{
			Code:        "MEDICAL_EXCESSIVE_PROCEDURES",
			Description: "Procedure count is excessive for the diagnosis and length of stay.",
			Severity:    domain.IssueSeverityMedium,
			Score:       20,
			Check:       checkExcessiveProcedures,
		},
	}
}

// checkUpcoding flags implausible diagnosis/procedure pairings, first via the
// configured upcoding table, then via ICD chapter compatibility. Diagnostic
// and therapeutic procedures are skipped in the compatibility pass, and
// unknown categories get the benefit of the doubt.
func checkUpcoding(c *domain.ClaimSnapshot, tables *Tables) (bool, string) {
	if c.PrimaryDiagnosis == nil || len(c.Procedures) == 0 {
		return false, ""
	}
	dxCategory := tables.DiagnosisCategory(c.PrimaryDiagnosis.ICD10)
	for _, proc := range c.Procedures {
		if tables.Implausible(c.PrimaryDiagnosis.ICD10, proc.ICD9CM) {
			return true, fmt.Sprintf("Procedure %s (%s) is listed as implausible for diagnosis %s (%s).",
				proc.Name, proc.ICD9CM, c.PrimaryDiagnosis.Name, c.PrimaryDiagnosis.ICD10)
		}
		procCategory := tables.ProcedureCategory(proc.ICD9CM)
		if procCategory == "diagnostic" || procCategory == "therapeutic" {
			continue
		}
		if !tables.Compatible(dxCategory, procCategory) {
			return true, fmt.Sprintf("Diagnosis %s (category %s) combined with procedure %s (category %s) is suspicious - the procedures target a different organ system.",
				c.PrimaryDiagnosis.Name, dxCategory, proc.Name, procCategory)
		}
	}
	return false, ""
}

// checkExcessiveProcedures flags claims packing many procedures into a short
// stay: three or more major surgical procedures within three days, or eight
// or more total procedures within five days.
func checkExcessiveProcedures(c *domain.ClaimSnapshot, tables *Tables) (bool, string) {
	los := c.LengthOfStayDays
	if los < 1 {
		los = 1
	}

	major := 0
	for _, proc := range c.Procedures {
		switch tables.ProcedureCategory(proc.ICD9CM) {
		case "diagnostic", "therapeutic", "unknown":
		default:
			major++
		}
	}

	if major >= 3 && los <= 3 {
		return true, fmt.Sprintf("%d major surgical procedures performed within a %d-day stay - possible unbundling or unnecessary procedures.", major, los)
	}
	if len(c.Procedures) >= 8 && los <= 5 {
		return true, fmt.Sprintf("%d total procedures within a %d-day stay - excessive number of interventions.", len(c.Procedures), los)
	}
	return false, ""
}

// normalizeName lowercases and collapses internal whitespace so that
// cosmetic differences do not count as mismatches.
func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
