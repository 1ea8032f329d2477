// Package domain defines the core interfaces and types for Fraudwatch.
package domain

import (
	"context"
	"time"
)

// ProviderHistory summarizes the stored fraud track record of a provider
// and its hospital, derived from past claims and their analyses.
type ProviderHistory struct {
	ProviderID        string  `json:"providerId"`
	HospitalCode      string  `json:"hospitalCode"`
	ClaimsCount       int     `json:"claimsCount"`
	ProviderFraudRate float64 `json:"providerFraudRate"`
	HospitalFraudRate float64 `json:"hospitalFraudRate"`
}

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Claim operations
	SaveClaim(ctx context.Context, tenantID string, claim *ClaimSnapshot) error
	GetClaim(ctx context.Context, tenantID string, claimID string) (*ClaimSnapshot, error)

	// Analysis results
	SaveAnalysis(ctx context.Context, tenantID string, analysis *Analysis) error
	GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*Analysis, error)
	GetAnalysisByClaim(ctx context.Context, tenantID string, claimID string) (*Analysis, error)

	// Provider history over stored claims and analyses
	GetProviderHistory(ctx context.Context, tenantID string, providerID string, hospitalCode string, since time.Time) (*ProviderHistory, error)

	// Anomaly rule configuration operations
	SaveAnomalyRule(ctx context.Context, tenantID string, rule *AnomalyRuleConfig) error
	GetAnomalyRule(ctx context.Context, tenantID string, ruleID string) (*AnomalyRuleConfig, error)
	ListAnomalyRules(ctx context.Context, tenantID string) ([]*AnomalyRuleConfig, error)

	// Upcoding lookup table operations
	SaveUpcodingPair(ctx context.Context, tenantID string, pair *UpcodingPair) error
	ListUpcodingPairs(ctx context.Context, tenantID string) ([]*UpcodingPair, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
