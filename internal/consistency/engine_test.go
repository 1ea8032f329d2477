package consistency

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sinavika/fraudwatch/internal/domain"
)

func dateRef(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestEvaluateCleanClaim(t *testing.T) {
	engine := NewEngine(nil, nil)
	claim := &domain.ClaimSnapshot{
		ID:             "claim-1",
		PatientName:    "Budi Santoso",
		SEPPatientName: "Budi Santoso",
		AdmissionDate:  dateRef(2026, 1, 10),
		DischargeDate:  dateRef(2026, 1, 14),
		SEPIssuedDate:  dateRef(2026, 1, 10),
		LabTestDate:    dateRef(2026, 1, 11),
		PrimaryDiagnosis: &domain.Diagnosis{
			Name:  "Acute bronchitis",
			ICD10: "J20.9",
		},
		SEPInitialDiagnosis: "Acute bronchitis",
		Procedures: []domain.Procedure{
			{Name: "Chest X-ray", ICD9CM: "87.44"},
		},
		LengthOfStayDays: 4,
	}

	result := engine.Evaluate(claim)
	if len(result.Issues) != 0 {
		t.Errorf("expected no issues, got %d: %+v", len(result.Issues), result.Issues)
	}
	if result.Confidence != 0 {
		t.Errorf("expected confidence 0, got %d", result.Confidence)
	}
}

func TestTimelineSEPAfterDischarge(t *testing.T) {
	engine := NewEngine(nil, nil)
	claim := &domain.ClaimSnapshot{
		ID:            "claim-2",
		DischargeDate: dateRef(2026, 1, 14),
		SEPIssuedDate: dateRef(2026, 1, 15), // one day after discharge
	}

	result := engine.Evaluate(claim)
	if len(result.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(result.Issues))
	}
	iss := result.Issues[0]
	if iss.Code != "TIMELINE_SEP_AFTER_DISCHARGE" {
		t.Errorf("expected TIMELINE_SEP_AFTER_DISCHARGE, got %s", iss.Code)
	}
	if iss.Score != 40 {
		t.Errorf("expected score 40, got %d", iss.Score)
	}
	if iss.Severity != domain.IssueSeverityHigh {
		t.Errorf("expected HIGH severity, got %s", iss.Severity)
	}
	if result.Confidence != 40 {
		t.Errorf("expected confidence 40, got %d", result.Confidence)
	}
}

func TestTimelineLabOutsideTreatment(t *testing.T) {
	tests := []struct {
		name   string
		lab    *time.Time
		expect bool
	}{
		{"before admission", dateRef(2026, 1, 9), true},
		{"after discharge", dateRef(2026, 1, 15), true},
		{"during treatment", dateRef(2026, 1, 12), false},
		{"on admission day", dateRef(2026, 1, 10), false},
		{"on discharge day", dateRef(2026, 1, 14), false},
		{"missing", nil, false},
	}

	engine := NewEngine(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := &domain.ClaimSnapshot{
				AdmissionDate: dateRef(2026, 1, 10),
				DischargeDate: dateRef(2026, 1, 14),
				LabTestDate:   tt.lab,
			}
			result := engine.Evaluate(claim)
			fired := hasIssue(result.Issues, "TIMELINE_LAB_OUTSIDE_TREATMENT")
			if fired != tt.expect {
				t.Errorf("fired=%v, expected %v", fired, tt.expect)
			}
		})
	}
}

func TestPatientNameMismatch(t *testing.T) {
	tests := []struct {
		name      string
		claimName string
		sepName   string
		expect    bool
	}{
		{"exact match", "Budi Santoso", "Budi Santoso", false},
		{"case difference only", "BUDI SANTOSO", "budi santoso", false},
		{"whitespace difference only", "Budi  Santoso", "  Budi Santoso ", false},
		{"real mismatch", "Budi Santoso", "Siti Aminah", true},
		{"claim name missing", "", "Budi Santoso", false},
		{"sep name missing", "Budi Santoso", "", false},
	}

	engine := NewEngine(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := &domain.ClaimSnapshot{
				PatientName:    tt.claimName,
				SEPPatientName: tt.sepName,
			}
			result := engine.Evaluate(claim)
			fired := hasIssue(result.Issues, "PATIENT_NAME_MISMATCH")
			if fired != tt.expect {
				t.Errorf("fired=%v, expected %v", fired, tt.expect)
			}
			if fired {
				if result.Issues[0].Score != 50 {
					t.Errorf("expected score 50, got %d", result.Issues[0].Score)
				}
			}
		})
	}
}

func TestUpcodingViaConfiguredTable(t *testing.T) {
	tables := NewTables([]*domain.UpcodingPair{
		{DiagnosisICD10: "J06", ProcedureICD9CM: "36.01", Note: "PTCA for a common cold"},
	})
	engine := NewEngine(tables, nil)

	claim := &domain.ClaimSnapshot{
		PrimaryDiagnosis: &domain.Diagnosis{Name: "Acute upper respiratory infection", ICD10: "J06"},
		Procedures: []domain.Procedure{
			{Name: "PTCA", ICD9CM: "36.01"},
		},
	}

	result := engine.Evaluate(claim)
	if !hasIssue(result.Issues, "MEDICAL_UPCODING_SUSPICION") {
		t.Fatal("expected MEDICAL_UPCODING_SUSPICION to fire for a configured implausible pair")
	}
}

func TestUpcodingViaCategoryIncompatibility(t *testing.T) {
	engine := NewEngine(nil, nil)

	// Respiratory diagnosis with a cardiovascular surgical procedure.
	claim := &domain.ClaimSnapshot{
		PrimaryDiagnosis: &domain.Diagnosis{Name: "Pneumonia", ICD10: "J18.9"},
		Procedures: []domain.Procedure{
			{Name: "Coronary bypass", ICD9CM: "36.10"},
		},
	}
	result := engine.Evaluate(claim)
	if !hasIssue(result.Issues, "MEDICAL_UPCODING_SUSPICION") {
		t.Error("expected upcoding suspicion for respiratory diagnosis with cardiac surgery")
	}

	// Same diagnosis with a diagnostic procedure must not fire.
	claim.Procedures = []domain.Procedure{{Name: "Chest X-ray", ICD9CM: "87.44"}}
	result = engine.Evaluate(claim)
	if hasIssue(result.Issues, "MEDICAL_UPCODING_SUSPICION") {
		t.Error("diagnostic procedures must not trigger upcoding suspicion")
	}

	// Unknown diagnosis chapter gets the benefit of the doubt.
	claim.PrimaryDiagnosis = &domain.Diagnosis{Name: "Unknown", ICD10: "U07.1"}
	claim.Procedures = []domain.Procedure{{Name: "Coronary bypass", ICD9CM: "36.10"}}
	result = engine.Evaluate(claim)
	if hasIssue(result.Issues, "MEDICAL_UPCODING_SUSPICION") {
		t.Error("unknown diagnosis category must not trigger upcoding suspicion")
	}
}

func TestDiagnosisInconsistency(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		primary string
		expect  bool
	}{
		{"same text", "pneumonia", "Pneumonia", false},
		{"initial is substring", "pneumonia", "Bacterial pneumonia", false},
		{"primary is substring", "Bacterial pneumonia", "pneumonia", false},
		{"unrelated", "Gastritis", "Pneumonia", true},
		{"initial missing", "", "Pneumonia", false},
	}

	engine := NewEngine(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := &domain.ClaimSnapshot{
				SEPInitialDiagnosis: tt.initial,
				PrimaryDiagnosis:    &domain.Diagnosis{Name: tt.primary, ICD10: "J18.9"},
			}
			result := engine.Evaluate(claim)
			fired := hasIssue(result.Issues, "MEDICAL_DIAGNOSIS_INCONSISTENCY")
			if fired != tt.expect {
				t.Errorf("fired=%v, expected %v", fired, tt.expect)
			}
		})
	}
}

func TestExcessiveProcedures(t *testing.T) {
	engine := NewEngine(nil, nil)

	majorProc := domain.Procedure{Name: "Bowel resection", ICD9CM: "45.62"}
	diagProc := domain.Procedure{Name: "CT scan", ICD9CM: "88.01"}

	t.Run("three major procedures in short stay", func(t *testing.T) {
		claim := &domain.ClaimSnapshot{
			PrimaryDiagnosis: &domain.Diagnosis{Name: "Bowel obstruction", ICD10: "K56.6"},
			Procedures:       []domain.Procedure{majorProc, majorProc, majorProc},
			LengthOfStayDays: 2,
		}
		result := engine.Evaluate(claim)
		if !hasIssue(result.Issues, "MEDICAL_EXCESSIVE_PROCEDURES") {
			t.Error("expected excessive procedures to fire")
		}
	})

	t.Run("two major procedures do not fire", func(t *testing.T) {
		claim := &domain.ClaimSnapshot{
			PrimaryDiagnosis: &domain.Diagnosis{Name: "Bowel obstruction", ICD10: "K56.6"},
			Procedures:       []domain.Procedure{majorProc, majorProc},
			LengthOfStayDays: 2,
		}
		result := engine.Evaluate(claim)
		if hasIssue(result.Issues, "MEDICAL_EXCESSIVE_PROCEDURES") {
			t.Error("two major procedures must not fire")
		}
	})

	t.Run("eight total procedures in five days", func(t *testing.T) {
		procs := make([]domain.Procedure, 8)
		for i := range procs {
			procs[i] = diagProc
		}
		claim := &domain.ClaimSnapshot{
			PrimaryDiagnosis: &domain.Diagnosis{Name: "Bowel obstruction", ICD10: "K56.6"},
			Procedures:       procs,
			LengthOfStayDays: 5,
		}
		result := engine.Evaluate(claim)
		if !hasIssue(result.Issues, "MEDICAL_EXCESSIVE_PROCEDURES") {
			t.Error("expected excessive procedures to fire for eight procedures")
		}
	})
}

func TestDeduplicationAndCap(t *testing.T) {
	// A claim tripping every high-value rule at once. The raw sum exceeds
	// 100 so the cap must kick in, and each code must appear exactly once.
	engine := NewEngine(nil, nil)
	majorProc := domain.Procedure{Name: "Bowel resection", ICD9CM: "45.62"}
	claim := &domain.ClaimSnapshot{
		PatientName:         "Budi Santoso",
		SEPPatientName:      "Siti Aminah",
		AdmissionDate:       dateRef(2026, 1, 10),
		DischargeDate:       dateRef(2026, 1, 12),
		SEPIssuedDate:       dateRef(2026, 1, 20),
		LabTestDate:         dateRef(2026, 1, 25),
		PrimaryDiagnosis:    &domain.Diagnosis{Name: "Pneumonia", ICD10: "J18.9"},
		SEPInitialDiagnosis: "Gastritis",
		Procedures:          []domain.Procedure{majorProc, majorProc, majorProc},
		LengthOfStayDays:    2,
	}

	result := engine.Evaluate(claim)

	seen := make(map[string]int)
	for _, iss := range result.Issues {
		seen[iss.Code]++
	}
	for code, n := range seen {
		if n > 1 {
			t.Errorf("code %s appears %d times, want at most 1", code, n)
		}
	}
	if result.Confidence != 100 {
		t.Errorf("expected confidence capped at 100, got %d", result.Confidence)
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	engine := NewEngine(nil, nil)
	claim := &domain.ClaimSnapshot{
		PatientName:         "Budi Santoso",
		SEPPatientName:      "Siti Aminah",
		DischargeDate:       dateRef(2026, 1, 14),
		SEPIssuedDate:       dateRef(2026, 1, 15),
		PrimaryDiagnosis:    &domain.Diagnosis{Name: "Pneumonia", ICD10: "J18.9"},
		SEPInitialDiagnosis: "Gastritis",
	}

	first, err := json.Marshal(engine.Evaluate(claim))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(engine.Evaluate(claim))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Errorf("evaluation is not idempotent:\n%s\n%s", first, second)
	}
}

func TestRulePanicIsIsolated(t *testing.T) {
	engine := NewEngine(nil, nil)
	engine.rules = append([]rule{{
		Code:     "ALWAYS_PANICS",
		Severity: domain.IssueSeverityHigh,
		Score:    99,
		Check: func(c *domain.ClaimSnapshot, _ *Tables) (bool, string) {
			panic("boom")
		},
	}}, engine.rules...)

	claim := &domain.ClaimSnapshot{
		DischargeDate: dateRef(2026, 1, 14),
		SEPIssuedDate: dateRef(2026, 1, 15),
	}
	result := engine.Evaluate(claim)

	if hasIssue(result.Issues, "ALWAYS_PANICS") {
		t.Error("panicking rule must be treated as not fired")
	}
	if !hasIssue(result.Issues, "TIMELINE_SEP_AFTER_DISCHARGE") {
		t.Error("a panic in one rule must not abort the others")
	}
}

func TestReloadTables(t *testing.T) {
	engine := NewEngine(nil, nil)
	claim := &domain.ClaimSnapshot{
		PrimaryDiagnosis: &domain.Diagnosis{Name: "Acute upper respiratory infection", ICD10: "J06"},
		Procedures:       []domain.Procedure{{Name: "Chest X-ray", ICD9CM: "87.44"}},
	}

	if hasIssue(engine.Evaluate(claim).Issues, "MEDICAL_UPCODING_SUSPICION") {
		t.Fatal("pair must not be flagged before reload")
	}

	engine.ReloadTables(NewTables([]*domain.UpcodingPair{
		{DiagnosisICD10: "J06", ProcedureICD9CM: "87.44"},
	}))

	if !hasIssue(engine.Evaluate(claim).Issues, "MEDICAL_UPCODING_SUSPICION") {
		t.Error("pair must be flagged after reload")
	}
}

func hasIssue(issues []domain.Issue, code string) bool {
	for _, iss := range issues {
		if iss.Code == code {
			return true
		}
	}
	return false
}
