// Package history derives provider and hospital fraud track records from
// stored claims and analyses.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sinavika/fraudwatch/internal/domain"
)

// defaultLookback bounds how far back history queries reach.
const defaultLookback = 365 * 24 * time.Hour

// Service computes provider history features for the tariff scorer. Results
// are cached per provider to keep the hot path off the database.
type Service struct {
	repo     domain.Repository
	cache    domain.Cache
	lookback time.Duration
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewService creates a history service. The cache is optional.
func NewService(repo domain.Repository, cache domain.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		lookback: defaultLookback,
		cacheTTL: 5 * time.Minute,
		logger:   logger,
	}
}

// Lookup returns the claims count and fraud history rates for a provider and
// its hospital. Missing history is returned as zeros, never as an error.
func (s *Service) Lookup(ctx context.Context, tenantID, providerID, hospitalCode string) (*domain.ProviderHistory, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if providerID == "" && hospitalCode == "" {
		return &domain.ProviderHistory{}, nil
	}

	cacheKey := fmt.Sprintf("history:%s:%s", providerID, hospitalCode)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, tenantID, cacheKey); err == nil && data != nil {
			var h domain.ProviderHistory
			if err := json.Unmarshal(data, &h); err == nil {
				return &h, nil
			}
		}
	}

	if s.repo == nil {
		return nil, fmt.Errorf("no data source available")
	}

	since := time.Now().Add(-s.lookback)
	h, err := s.repo.GetProviderHistory(ctx, tenantID, providerID, hospitalCode, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider history: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(h); err == nil {
			if err := s.cache.Set(ctx, tenantID, cacheKey, data, s.cacheTTL); err != nil {
				s.logger.Warn("failed to cache provider history", "error", err)
			}
		}
	}

	return h, nil
}

// Enrich fills the history fields of a claim snapshot in place when they are
// unset. Lookup failures are logged and leave the snapshot unchanged; history
// is best-effort enrichment, not a scoring prerequisite.
func (s *Service) Enrich(ctx context.Context, claim *domain.ClaimSnapshot) {
	if claim == nil {
		return
	}
	if claim.ProviderFraudHistoryRate > 0 || claim.HospitalFraudHistoryRate > 0 || claim.ProviderClaimsCount > 0 {
		return
	}

	h, err := s.Lookup(ctx, claim.TenantID, claim.ProviderID, claim.HospitalCode)
	if err != nil {
		s.logger.Warn("provider history lookup failed, scoring without history",
			"claim_id", claim.ID,
			"provider_id", claim.ProviderID,
			"error", err)
		return
	}

	claim.ProviderClaimsCount = h.ClaimsCount
	claim.ProviderFraudHistoryRate = h.ProviderFraudRate
	claim.HospitalFraudHistoryRate = h.HospitalFraudRate
}
