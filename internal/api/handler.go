package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sinavika/fraudwatch/internal/analyzer"
	"github.com/sinavika/fraudwatch/internal/anomaly"
	"github.com/sinavika/fraudwatch/internal/consistency"
	"github.com/sinavika/fraudwatch/internal/domain"
	"github.com/sinavika/fraudwatch/internal/history"
	"github.com/sinavika/fraudwatch/internal/repository"
	"github.com/sinavika/fraudwatch/internal/tariff"
)

// GlobalTenantID is used for rules and tables that apply to all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	pipeline *analyzer.Service
	docs     *consistency.Engine
	scorer   *tariff.Scorer
	rules    *anomaly.Engine
	history  *history.Service
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, pipeline *analyzer.Service, docs *consistency.Engine, scorer *tariff.Scorer, rules *anomaly.Engine, hist *history.Service, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		pipeline: pipeline,
		docs:     docs,
		scorer:   scorer,
		rules:    rules,
		history:  hist,
		version:  version,
	}
}

// DetectRequest is the request body for POST /api/v1/detect. Field names
// follow the claims-platform wire contract.
type DetectRequest struct {
	TariffHospital           *float64 `json:"tarif_rs"`
	TariffInaCbg             *float64 `json:"tarif_inacbg"`
	LengthOfStayDays         int      `json:"los_days"`
	NumProcedures            int      `json:"num_procedures"`
	CareClass                string   `json:"care_class"`
	DiagnosisSeverity        string   `json:"diagnosis_severity"`
	ProviderClaimsCount      int      `json:"provider_claims_count"`
	ProviderFraudHistoryRate float64  `json:"provider_fraud_history_rate"`
	HospitalFraudHistoryRate float64  `json:"hospital_fraud_history_rate"`

	// Optional provider identity for history enrichment
	ProviderID   string `json:"provider_id,omitempty"`
	HospitalCode string `json:"hospital_code,omitempty"`
}

// Detect handles POST /api/v1/detect: standalone tariff scoring without a
// stored claim.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid JSON request body",
		})
		return
	}

	if req.TariffHospital == nil || req.TariffInaCbg == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Missing required fields: tarif_rs, tarif_inacbg",
		})
		return
	}

	features := tariff.Features{
		TariffHospital:           *req.TariffHospital,
		TariffInaCbg:             *req.TariffInaCbg,
		LengthOfStayDays:         req.LengthOfStayDays,
		NumProcedures:            req.NumProcedures,
		CareClass:                req.CareClass,
		DiagnosisSeverity:        req.DiagnosisSeverity,
		ProviderClaimsCount:      req.ProviderClaimsCount,
		ProviderFraudHistoryRate: req.ProviderFraudHistoryRate,
		HospitalFraudHistoryRate: req.HospitalFraudHistoryRate,
	}

	// Fill history from stored claims when the caller sent none
	if h.history != nil && features.ProviderFraudHistoryRate == 0 && features.HospitalFraudHistoryRate == 0 &&
		(req.ProviderID != "" || req.HospitalCode != "") {
		if hist, err := h.history.Lookup(ctx, tenantID, req.ProviderID, req.HospitalCode); err == nil {
			features.ProviderClaimsCount = hist.ClaimsCount
			features.ProviderFraudHistoryRate = hist.ProviderFraudRate
			features.HospitalFraudHistoryRate = hist.HospitalFraudRate
		}
	}

	assessment, err := h.scorer.Score(ctx, tenantID, features)
	if err != nil {
		if errors.Is(err, tariff.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		slog.Error("tariff scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Fraud detection failed",
			"details": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"fraud_detection": assessment,
	})
}

// SubmitClaim handles POST /api/v1/claims: persists the claim and queues it
// for async analysis.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.TariffHospital <= 0 || req.TariffInaCbg <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tariffHospital and tariffInaCbg must be positive",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	claim := req.ToSnapshot(tenantID)

	if h.repo != nil {
		if err := h.repo.SaveClaim(ctx, tenantID, claim); err != nil {
			slog.Error("failed to save claim", "claim_id", claim.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save claim",
			})
			return
		}
	}

	if h.cache != nil {
		if err := h.cache.SetClaim(ctx, tenantID, claim.ID, claim, 10*time.Minute); err != nil {
			slog.Warn("failed to cache claim", "claim_id", claim.ID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"claimId":  claim.ID,
			"tenantId": tenantID,
			"traceId":  traceID,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicClaimSubmitted, payload); err != nil {
			slog.Error("failed to publish claim submitted event", "claim_id", claim.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"claimId": claim.ID,
		"status":  "queued",
	})
}

// GetClaim handles GET /api/v1/claims/{id}.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimID := chi.URLParam(r, "id")

	if h.cache != nil {
		if claim, err := h.cache.GetClaim(ctx, tenantID, claimID); err == nil && claim != nil {
			writeJSON(w, http.StatusOK, claim)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	claim, err := h.repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get claim", "id", claimID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "claim not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// AnalyzeClaim handles POST /api/v1/claims/{id}/analyze: runs the full
// pipeline synchronously and returns the stored analysis.
func (h *Handler) AnalyzeClaim(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	claimID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	claim, err := h.repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "claim not found",
		})
		return
	}

	analysis, err := h.pipeline.Analyze(ctx, &analyzer.Input{
		TenantID:  tenantID,
		TraceID:   traceID,
		Claim:     claim,
		StartTime: start,
	})
	if err != nil {
		slog.Error("claim analysis failed", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}

	if err := h.repo.SaveAnalysis(ctx, tenantID, analysis); err != nil {
		slog.Error("failed to save analysis", "claim_id", claimID, "error", err)
	}

	if h.cache != nil {
		if err := h.cache.SetAnalysis(ctx, tenantID, claimID, analysis, 10*time.Minute); err != nil {
			slog.Warn("failed to cache analysis", "claim_id", claimID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(analysis)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicClaimAnalyzed, payload); err != nil {
			slog.Error("failed to publish analysis result", "claim_id", claimID, "error", err)
		}
		if h.pipeline.ShouldAlert(analysis) {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert", "claim_id", claimID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, analysis)
}

// GetClaimAnalysis handles GET /api/v1/claims/{id}/analysis: returns the
// latest analysis for a claim.
func (h *Handler) GetClaimAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimID := chi.URLParam(r, "id")

	if h.cache != nil {
		if analysis, err := h.cache.GetAnalysis(ctx, tenantID, claimID); err == nil && analysis != nil {
			writeJSON(w, http.StatusOK, analysis)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	analysis, err := h.repo.GetAnalysisByClaim(ctx, tenantID, claimID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get analysis for claim", "claim_id", claimID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// GetAnalysis handles GET /api/v1/analyses/{id}.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	analysis, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get analysis", "id", analysisID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// ListRules returns all anomaly rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.rules.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule retrieves an anomaly rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.rules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating an anomaly rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Severity    string  `json:"severity,omitempty"`
	Detail      string  `json:"detail,omitempty"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule creates a new anomaly rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	if req.Weight <= 0 || req.Weight > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be between 0 (exclusive) and 1",
		})
		return
	}

	ruleConfig := &domain.AnomalyRuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Weight:      req.Weight,
		Severity:    req.Severity,
		Detail:      req.Detail,
		Enabled:     req.Enabled,
	}

	if err := h.rules.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveAnomalyRule(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save anomaly rule", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("anomaly rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all anomaly rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListAnomalyRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list anomaly rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.rules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload anomaly rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("anomaly rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// ListUpcodingPairs returns the configured upcoding lookup table.
func (h *Handler) ListUpcodingPairs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	pairs, err := h.repo.ListUpcodingPairs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list upcoding pairs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load upcoding pairs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pairs": pairs,
		"count": len(pairs),
	})
}

// CreateUpcodingPairRequest is the request body for adding an upcoding pair.
type CreateUpcodingPairRequest struct {
	DiagnosisICD10  string `json:"diagnosisIcd10"`
	ProcedureICD9CM string `json:"procedureIcd9cm"`
	Note            string `json:"note,omitempty"`
}

// CreateUpcodingPair adds a diagnosis/procedure pair to the upcoding table.
// Call POST /tables/upcoding/reload to apply changes.
func (h *Handler) CreateUpcodingPair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateUpcodingPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.DiagnosisICD10 == "" || req.ProcedureICD9CM == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "diagnosisIcd10 and procedureIcd9cm are required",
		})
		return
	}

	pair := &domain.UpcodingPair{
		DiagnosisICD10:  req.DiagnosisICD10,
		ProcedureICD9CM: req.ProcedureICD9CM,
		Note:            req.Note,
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.SaveUpcodingPair(ctx, GlobalTenantID, pair); err != nil {
		slog.Error("failed to save upcoding pair", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save upcoding pair",
		})
		return
	}

	slog.Info("upcoding pair created",
		"diagnosis", pair.DiagnosisICD10,
		"procedure", pair.ProcedureICD9CM,
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"pair":    pair,
		"message": "Pair created. Call POST /tables/upcoding/reload to apply changes.",
	})
}

// ReloadUpcodingTable reloads the upcoding table from the database into the
// consistency engine.
func (h *Handler) ReloadUpcodingTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	pairs, err := h.repo.ListUpcodingPairs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list upcoding pairs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load upcoding pairs",
		})
		return
	}

	h.docs.ReloadTables(consistency.NewTables(pairs))

	slog.Info("upcoding table reloaded", "count", len(pairs))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "upcoding table reloaded successfully",
		"count":   len(pairs),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
