package domain

import (
	"time"
)

// ClaimSnapshot is a fully assembled, read-only view of one insurance claim
// as supplied by the claims store. The scoring engines never mutate it.
type ClaimSnapshot struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Provider context
	ProviderID   string `json:"providerId,omitempty"`
	HospitalCode string `json:"hospitalCode,omitempty"`

	// Patient identity as recorded on the claim and on the SEP
	// (Surat Eligibilitas Peserta, the insurer-issued eligibility document).
	PatientName    string `json:"patientName,omitempty"`
	SEPPatientName string `json:"sepPatientName,omitempty"`

	// Timeline. All optional: a rule that needs a missing date does not fire.
	AdmissionDate *time.Time `json:"admissionDate,omitempty"`
	DischargeDate *time.Time `json:"dischargeDate,omitempty"`
	SEPIssuedDate *time.Time `json:"sepIssuedDate,omitempty"`
	LabTestDate   *time.Time `json:"labTestDate,omitempty"`

	// Clinical
	PrimaryDiagnosis    *Diagnosis  `json:"primaryDiagnosis,omitempty"`
	Procedures          []Procedure `json:"procedures,omitempty"`
	SEPInitialDiagnosis string      `json:"sepInitialDiagnosis,omitempty"`

	// Financial and utilization
	TariffHospital   float64 `json:"tariffHospital"`
	TariffInaCbg     float64 `json:"tariffInaCbg"`
	LengthOfStayDays int     `json:"lengthOfStayDays,omitempty"`
	CareClass        string  `json:"careClass,omitempty"`

	// DiagnosisSeverity is one of "low", "normal", "high".
	DiagnosisSeverity string `json:"diagnosisSeverity,omitempty"`

	// Provider/hospital history. Rates are fractions in [0,1].
	ProviderClaimsCount      int     `json:"providerClaimsCount,omitempty"`
	ProviderFraudHistoryRate float64 `json:"providerFraudHistoryRate,omitempty"`
	HospitalFraudHistoryRate float64 `json:"hospitalFraudHistoryRate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Diagnosis is a coded diagnosis entry.
type Diagnosis struct {
	Name  string `json:"name"`
	ICD10 string `json:"icd10"`
}

// Procedure is a coded procedure entry.
type Procedure struct {
	Name   string `json:"name"`
	ICD9CM string `json:"icd9cm"`
}

// ClaimRequest is the API request payload for claim submission.
type ClaimRequest struct {
	ID           string `json:"id,omitempty"`
	ProviderID   string `json:"providerId,omitempty"`
	HospitalCode string `json:"hospitalCode,omitempty"`

	PatientName    string `json:"patientName"`
	SEPPatientName string `json:"sepPatientName,omitempty"`

	AdmissionDate *time.Time `json:"admissionDate,omitempty"`
	DischargeDate *time.Time `json:"dischargeDate,omitempty"`
	SEPIssuedDate *time.Time `json:"sepIssuedDate,omitempty"`
	LabTestDate   *time.Time `json:"labTestDate,omitempty"`

	PrimaryDiagnosis    *Diagnosis  `json:"primaryDiagnosis,omitempty"`
	Procedures          []Procedure `json:"procedures,omitempty"`
	SEPInitialDiagnosis string      `json:"sepInitialDiagnosis,omitempty"`

	TariffHospital    float64 `json:"tariffHospital"`
	TariffInaCbg      float64 `json:"tariffInaCbg"`
	LengthOfStayDays  int     `json:"lengthOfStayDays,omitempty"`
	CareClass         string  `json:"careClass,omitempty"`
	DiagnosisSeverity string  `json:"diagnosisSeverity,omitempty"`

	ProviderClaimsCount      int     `json:"providerClaimsCount,omitempty"`
	ProviderFraudHistoryRate float64 `json:"providerFraudHistoryRate,omitempty"`
	HospitalFraudHistoryRate float64 `json:"hospitalFraudHistoryRate,omitempty"`
}

// ToSnapshot converts a request to a ClaimSnapshot domain object.
func (r *ClaimRequest) ToSnapshot(tenantID string) *ClaimSnapshot {
	los := r.LengthOfStayDays
	if los == 0 && r.AdmissionDate != nil && r.DischargeDate != nil {
		days := int(r.DischargeDate.Sub(*r.AdmissionDate).Hours() / 24)
		if days < 1 {
			days = 1
		}
		los = days
	}

	return &ClaimSnapshot{
		ID:                       r.ID,
		TenantID:                 tenantID,
		ProviderID:               r.ProviderID,
		HospitalCode:             r.HospitalCode,
		PatientName:              r.PatientName,
		SEPPatientName:           r.SEPPatientName,
		AdmissionDate:            r.AdmissionDate,
		DischargeDate:            r.DischargeDate,
		SEPIssuedDate:            r.SEPIssuedDate,
		LabTestDate:              r.LabTestDate,
		PrimaryDiagnosis:         r.PrimaryDiagnosis,
		Procedures:               r.Procedures,
		SEPInitialDiagnosis:      r.SEPInitialDiagnosis,
		TariffHospital:           r.TariffHospital,
		TariffInaCbg:             r.TariffInaCbg,
		LengthOfStayDays:         los,
		CareClass:                r.CareClass,
		DiagnosisSeverity:        r.DiagnosisSeverity,
		ProviderClaimsCount:      r.ProviderClaimsCount,
		ProviderFraudHistoryRate: r.ProviderFraudHistoryRate,
		HospitalFraudHistoryRate: r.HospitalFraudHistoryRate,
		CreatedAt:                time.Now().UTC(),
	}
}
