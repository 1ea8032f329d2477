package repository

// Schema definitions for the Fraudwatch database.
// Compatible with both SQLite and PostgreSQL.

const schemaClaims = `
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    provider_id TEXT,
    hospital_code TEXT,
    patient_name TEXT,
    sep_patient_name TEXT,
    admission_date TIMESTAMP,
    discharge_date TIMESTAMP,
    sep_issued_date TIMESTAMP,
    lab_test_date TIMESTAMP,
    primary_diagnosis TEXT,
    procedures TEXT,
    sep_initial_diagnosis TEXT,
    tariff_hospital REAL NOT NULL,
    tariff_inacbg REAL NOT NULL,
    los_days INTEGER NOT NULL DEFAULT 0,
    care_class TEXT,
    diagnosis_severity TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_tenant ON claims(tenant_id);
CREATE INDEX IF NOT EXISTS idx_claims_provider ON claims(tenant_id, provider_id);
CREATE INDEX IF NOT EXISTS idx_claims_hospital ON claims(tenant_id, hospital_code);
CREATE INDEX IF NOT EXISTS idx_claims_created ON claims(tenant_id, created_at);
`

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    provider_id TEXT,
    hospital_code TEXT,
    combined_score INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    report TEXT NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_tenant ON analyses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_analyses_claim ON analyses(tenant_id, claim_id);
CREATE INDEX IF NOT EXISTS idx_analyses_provider ON analyses(tenant_id, provider_id);
CREATE INDEX IF NOT EXISTS idx_analyses_hospital ON analyses(tenant_id, hospital_code);
CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(tenant_id, timestamp);
`

const schemaAnomalyRules = `
CREATE TABLE IF NOT EXISTS anomaly_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 0.1,
    severity TEXT NOT NULL DEFAULT 'medium',
    detail TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_anomaly_rules_tenant ON anomaly_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_anomaly_rules_enabled ON anomaly_rules(tenant_id, enabled);
`

const schemaUpcodingPairs = `
CREATE TABLE IF NOT EXISTS upcoding_pairs (
    tenant_id TEXT NOT NULL,
    diagnosis_icd10 TEXT NOT NULL,
    procedure_icd9cm TEXT NOT NULL,
    note TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, diagnosis_icd10, procedure_icd9cm)
);

CREATE INDEX IF NOT EXISTS idx_upcoding_tenant ON upcoding_pairs(tenant_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClaims,
		schemaAnalyses,
		schemaAnomalyRules,
		schemaUpcodingPairs,
	}
}
