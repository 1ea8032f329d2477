// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sinavika/fraudwatch/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// riskyScoreThreshold is the combined score at or above which a stored
// analysis counts toward a provider's fraud history rate.
const riskyScoreThreshold = 60

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveClaim stores a claim snapshot with tenant isolation. Resubmitting the
// same claim ID replaces the stored snapshot.
func (r *SQLRepository) SaveClaim(ctx context.Context, tenantID string, claim *domain.ClaimSnapshot) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if claim.ID == "" {
		return fmt.Errorf("%w: claim ID is required", ErrInvalidInput)
	}

	// Inline-submitted claims arrive without a timestamp; stamp them here so
	// they count toward provider history lookbacks.
	createdAt := claim.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	diagnosis, _ := json.Marshal(claim.PrimaryDiagnosis)
	procedures, _ := json.Marshal(claim.Procedures)

	query := `
		INSERT INTO claims (
			id, tenant_id, provider_id, hospital_code,
			patient_name, sep_patient_name,
			admission_date, discharge_date, sep_issued_date, lab_test_date,
			primary_diagnosis, procedures, sep_initial_diagnosis,
			tariff_hospital, tariff_inacbg, los_days, care_class,
			diagnosis_severity, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider_id = excluded.provider_id,
			hospital_code = excluded.hospital_code,
			patient_name = excluded.patient_name,
			sep_patient_name = excluded.sep_patient_name,
			admission_date = excluded.admission_date,
			discharge_date = excluded.discharge_date,
			sep_issued_date = excluded.sep_issued_date,
			lab_test_date = excluded.lab_test_date,
			primary_diagnosis = excluded.primary_diagnosis,
			procedures = excluded.procedures,
			sep_initial_diagnosis = excluded.sep_initial_diagnosis,
			tariff_hospital = excluded.tariff_hospital,
			tariff_inacbg = excluded.tariff_inacbg,
			los_days = excluded.los_days,
			care_class = excluded.care_class,
			diagnosis_severity = excluded.diagnosis_severity
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		claim.ID, tenantID, claim.ProviderID, claim.HospitalCode,
		claim.PatientName, claim.SEPPatientName,
		nullTime(claim.AdmissionDate), nullTime(claim.DischargeDate),
		nullTime(claim.SEPIssuedDate), nullTime(claim.LabTestDate),
		string(diagnosis), string(procedures), claim.SEPInitialDiagnosis,
		claim.TariffHospital, claim.TariffInaCbg, claim.LengthOfStayDays,
		claim.CareClass, claim.DiagnosisSeverity, createdAt,
	)
	return err
}

// GetClaim retrieves a claim snapshot by ID with tenant isolation.
func (r *SQLRepository) GetClaim(ctx context.Context, tenantID string, claimID string) (*domain.ClaimSnapshot, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, provider_id, hospital_code,
			   patient_name, sep_patient_name,
			   admission_date, discharge_date, sep_issued_date, lab_test_date,
			   primary_diagnosis, procedures, sep_initial_diagnosis,
			   tariff_hospital, tariff_inacbg, los_days, care_class,
			   diagnosis_severity, created_at
		FROM claims
		WHERE tenant_id = ? AND id = ?
	`

	var claim domain.ClaimSnapshot
	var admission, discharge, sepIssued, labTest sql.NullTime
	var diagnosis, procedures string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimID).Scan(
		&claim.ID, &claim.TenantID, &claim.ProviderID, &claim.HospitalCode,
		&claim.PatientName, &claim.SEPPatientName,
		&admission, &discharge, &sepIssued, &labTest,
		&diagnosis, &procedures, &claim.SEPInitialDiagnosis,
		&claim.TariffHospital, &claim.TariffInaCbg, &claim.LengthOfStayDays,
		&claim.CareClass, &claim.DiagnosisSeverity, &claim.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	claim.AdmissionDate = timePtr(admission)
	claim.DischargeDate = timePtr(discharge)
	claim.SEPIssuedDate = timePtr(sepIssued)
	claim.LabTestDate = timePtr(labTest)

	if diagnosis != "" && diagnosis != "null" {
		json.Unmarshal([]byte(diagnosis), &claim.PrimaryDiagnosis)
	}
	if procedures != "" && procedures != "null" {
		json.Unmarshal([]byte(procedures), &claim.Procedures)
	}

	return &claim, nil
}

// SaveAnalysis stores an analysis result with tenant isolation.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, analysis *domain.Analysis) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	report, _ := json.Marshal(analysis.Report)
	metadata, _ := json.Marshal(analysis.Metadata)

	// Provider context is denormalized from the claim for history queries.
	var providerID, hospitalCode string
	if claim, err := r.GetClaim(ctx, tenantID, analysis.ClaimID); err == nil {
		providerID = claim.ProviderID
		hospitalCode = claim.HospitalCode
	}

	query := `
		INSERT INTO analyses (
			id, tenant_id, claim_id, provider_id, hospital_code,
			combined_score, timestamp, report, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		analysis.ID, tenantID, analysis.ClaimID, providerID, hospitalCode,
		analysis.Report.CombinedScore, analysis.Timestamp,
		string(report), string(metadata),
	)
	return err
}

// GetAnalysis retrieves an analysis by ID with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*domain.Analysis, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, claim_id, timestamp, report, metadata
		FROM analyses
		WHERE tenant_id = ? AND id = ?
	`

	return r.scanAnalysis(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID))
}

// GetAnalysisByClaim retrieves the most recent analysis for a claim.
func (r *SQLRepository) GetAnalysisByClaim(ctx context.Context, tenantID string, claimID string) (*domain.Analysis, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, claim_id, timestamp, report, metadata
		FROM analyses
		WHERE tenant_id = ? AND claim_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	return r.scanAnalysis(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimID))
}

func (r *SQLRepository) scanAnalysis(row *sql.Row) (*domain.Analysis, error) {
	var analysis domain.Analysis
	var report, metadata string

	err := row.Scan(
		&analysis.ID, &analysis.TenantID, &analysis.ClaimID,
		&analysis.Timestamp, &report, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(report), &analysis.Report); err != nil {
		return nil, fmt.Errorf("failed to parse analysis report: %w", err)
	}
	json.Unmarshal([]byte(metadata), &analysis.Metadata)

	return &analysis, nil
}

// GetProviderHistory derives the claims count and fraud history rates for a
// provider and hospital from stored claims and analyses.
func (r *SQLRepository) GetProviderHistory(ctx context.Context, tenantID string, providerID string, hospitalCode string, since time.Time) (*domain.ProviderHistory, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	h := &domain.ProviderHistory{
		ProviderID:   providerID,
		HospitalCode: hospitalCode,
	}

	if providerID != "" {
		countQuery := `
			SELECT COUNT(*) FROM claims
			WHERE tenant_id = ? AND provider_id = ? AND created_at >= ?
		`
		if err := r.db.QueryRowContext(ctx, r.rebind(countQuery), tenantID, providerID, since).Scan(&h.ClaimsCount); err != nil {
			return nil, fmt.Errorf("failed to count provider claims: %w", err)
		}

		rate, err := r.riskyRate(ctx, tenantID, "provider_id", providerID, since)
		if err != nil {
			return nil, err
		}
		h.ProviderFraudRate = rate
	}

	if hospitalCode != "" {
		rate, err := r.riskyRate(ctx, tenantID, "hospital_code", hospitalCode, since)
		if err != nil {
			return nil, err
		}
		h.HospitalFraudRate = rate
	}

	return h, nil
}

// riskyRate returns the share of analyses at or above the risky score
// threshold for one provider or hospital. Zero analyses means rate zero.
func (r *SQLRepository) riskyRate(ctx context.Context, tenantID, column, value string, since time.Time) (float64, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*),
			   SUM(CASE WHEN combined_score >= %d THEN 1 ELSE 0 END)
		FROM analyses
		WHERE tenant_id = ? AND %s = ? AND timestamp >= ?
	`, riskyScoreThreshold, column)

	var total int64
	var risky sql.NullInt64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, value, since).Scan(&total, &risky); err != nil {
		return 0, fmt.Errorf("failed to compute risky rate: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(risky.Int64) / float64(total), nil
}

// SaveAnomalyRule stores an anomaly rule configuration with tenant isolation.
func (r *SQLRepository) SaveAnomalyRule(ctx context.Context, tenantID string, rule *domain.AnomalyRuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO anomaly_rules (
			id, tenant_id, name, description, version, expression,
			weight, severity, detail, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			severity = excluded.severity,
			detail = excluded.detail,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression,
		rule.Weight, rule.Severity, rule.Detail, enabled,
		now, now,
	)
	return err
}

// GetAnomalyRule retrieves an anomaly rule configuration with tenant isolation.
func (r *SQLRepository) GetAnomalyRule(ctx context.Context, tenantID string, ruleID string) (*domain.AnomalyRuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression,
			   weight, severity, detail, enabled
		FROM anomaly_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.AnomalyRuleConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression,
		&cfg.Weight, &cfg.Severity, &cfg.Detail, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListAnomalyRules retrieves all active anomaly rules for a tenant.
func (r *SQLRepository) ListAnomalyRules(ctx context.Context, tenantID string) ([]*domain.AnomalyRuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression,
			   weight, severity, detail, enabled
		FROM anomaly_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.AnomalyRuleConfig
	for rows.Next() {
		var cfg domain.AnomalyRuleConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression,
			&cfg.Weight, &cfg.Severity, &cfg.Detail, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// SaveUpcodingPair stores one row of the implausible diagnosis/procedure
// lookup table.
func (r *SQLRepository) SaveUpcodingPair(ctx context.Context, tenantID string, pair *domain.UpcodingPair) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if pair.DiagnosisICD10 == "" || pair.ProcedureICD9CM == "" {
		return fmt.Errorf("%w: diagnosis and procedure codes are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO upcoding_pairs (
			tenant_id, diagnosis_icd10, procedure_icd9cm, note, created_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, diagnosis_icd10, procedure_icd9cm) DO UPDATE SET
			note = excluded.note
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, pair.DiagnosisICD10, pair.ProcedureICD9CM, pair.Note,
		time.Now().UTC(),
	)
	return err
}

// ListUpcodingPairs retrieves the full upcoding lookup table for a tenant.
func (r *SQLRepository) ListUpcodingPairs(ctx context.Context, tenantID string) ([]*domain.UpcodingPair, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT diagnosis_icd10, procedure_icd9cm, note
		FROM upcoding_pairs
		WHERE tenant_id = ?
		ORDER BY diagnosis_icd10, procedure_icd9cm
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*domain.UpcodingPair
	for rows.Next() {
		var p domain.UpcodingPair
		var note sql.NullString
		if err := rows.Scan(&p.DiagnosisICD10, &p.ProcedureICD9CM, &note); err != nil {
			return nil, err
		}
		p.Note = note.String
		pairs = append(pairs, &p)
	}

	return pairs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
