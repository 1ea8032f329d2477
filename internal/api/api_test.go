package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/sinavika/fraudwatch/internal/aggregate"
	"github.com/sinavika/fraudwatch/internal/analyzer"
	"github.com/sinavika/fraudwatch/internal/anomaly"
	"github.com/sinavika/fraudwatch/internal/bus"
	"github.com/sinavika/fraudwatch/internal/cache"
	"github.com/sinavika/fraudwatch/internal/consistency"
	"github.com/sinavika/fraudwatch/internal/domain"
	"github.com/sinavika/fraudwatch/internal/history"
	"github.com/sinavika/fraudwatch/internal/repository"
	"github.com/sinavika/fraudwatch/internal/tariff"
)

// createTestServer builds a server over a temp sqlite repository.
func createTestServer(t *testing.T) *Server {
	server, _ := createTestStack(t)
	return server
}

func createTestStack(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	lruCache := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)

	t.Cleanup(func() {
		eventBus.Close()
		lruCache.Close()
		repo.Close()
		os.Remove(tmpPath)
	})

	rules, err := anomaly.NewEngine(5, nil)
	if err != nil {
		t.Fatalf("failed to create anomaly engine: %v", err)
	}

	docs := consistency.NewEngine(consistency.NewTables(nil), nil)
	scorer := tariff.NewScorer(tariff.WithExtraEvaluator(rules))
	agg := aggregate.New(domain.AggregationConfig{DocumentWeight: 0.5, TariffWeight: 0.5})
	hist := history.NewService(repo, lruCache, nil)
	pipeline := analyzer.New(docs, scorer, agg, hist, nil)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, repo, lruCache, eventBus, pipeline, docs, scorer, rules, hist, "test-v1"), repo
}

func doRequest(t *testing.T, server *Server, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestDetectEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulDetection", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/detect", "tenant-001", map[string]any{
			"tarif_rs":     5_000_000,
			"tarif_inacbg": 1_000_000,
			"los_days":     2,
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Success        bool              `json:"success"`
			FraudDetection tariff.Assessment `json:"fraud_detection"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if !resp.Success {
			t.Error("expected success=true")
		}
		if resp.FraudDetection.RiskScore != 35 {
			t.Errorf("risk_score = %d, want 35", resp.FraudDetection.RiskScore)
		}
		if resp.FraudDetection.RiskLevel != domain.RiskLevelLow {
			t.Errorf("risk_level = %q, want low", resp.FraudDetection.RiskLevel)
		}
		if len(resp.FraudDetection.RiskFactors) != 1 {
			t.Errorf("expected 1 risk factor, got %d", len(resp.FraudDetection.RiskFactors))
		}
	})

	t.Run("MissingRequiredFields", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/detect", "tenant-001", map[string]any{
			"los_days": 3,
		})

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}

		var resp struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Success {
			t.Error("expected success=false")
		}
		if resp.Error != "Missing required fields: tarif_rs, tarif_inacbg" {
			t.Errorf("unexpected error message: %q", resp.Error)
		}
	})

	t.Run("NonPositiveTariffs", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/detect", "tenant-001", map[string]any{
			"tarif_rs":     0,
			"tarif_inacbg": 1_000_000,
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/detect", "", map[string]any{
			"tarif_rs":     1_000_000,
			"tarif_inacbg": 1_000_000,
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/detect", "tenant-001", "not-json")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestClaimLifecycle(t *testing.T) {
	server := createTestServer(t)

	var claimID string

	t.Run("SubmitClaim", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/claims", "tenant-001", map[string]any{
			"patientName":      "Budi Santoso",
			"sepPatientName":   "Budi Santoso",
			"providerId":       "prov-01",
			"hospitalCode":     "RS-001",
			"tariffHospital":   5_000_000,
			"tariffInaCbg":     1_000_000,
			"lengthOfStayDays": 2,
		})

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		claimID = resp["claimId"]
		if claimID == "" {
			t.Fatal("expected claimId in response")
		}
		if resp["status"] != "queued" {
			t.Errorf("status = %q, want queued", resp["status"])
		}
	})

	t.Run("SubmitClaimRejectsMissingTariffs", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/claims", "tenant-001", map[string]any{
			"patientName": "Budi Santoso",
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GetClaim", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/api/v1/claims/"+claimID, "tenant-001", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var claim domain.ClaimSnapshot
		if err := json.Unmarshal(rr.Body.Bytes(), &claim); err != nil {
			t.Fatalf("failed to parse claim: %v", err)
		}
		if claim.PatientName != "Budi Santoso" {
			t.Errorf("PatientName = %q", claim.PatientName)
		}
	})

	t.Run("GetClaimTenantIsolation", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/api/v1/claims/"+claimID, "tenant-002", nil)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for other tenant, got %d", rr.Code)
		}
	})

	t.Run("GetMissingClaim", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/api/v1/claims/no-such-claim", "tenant-001", nil)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	var analysisID string

	t.Run("AnalyzeClaim", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/claims/"+claimID+"/analyze", "tenant-001", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var analysis domain.Analysis
		if err := json.Unmarshal(rr.Body.Bytes(), &analysis); err != nil {
			t.Fatalf("failed to parse analysis: %v", err)
		}
		analysisID = analysis.ID
		if analysis.ClaimID != claimID {
			t.Errorf("ClaimID = %q, want %q", analysis.ClaimID, claimID)
		}
		// Extreme overcharging on the tariff side, clean documents
		if analysis.Report.CombinedScore != 18 {
			t.Errorf("CombinedScore = %d, want 18", analysis.Report.CombinedScore)
		}
		if !analysis.Report.DocumentAvailable || !analysis.Report.MLAvailable {
			t.Error("both scoring sides should be available")
		}
	})

	t.Run("GetClaimAnalysis", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/api/v1/claims/"+claimID+"/analysis", "tenant-001", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var analysis domain.Analysis
		if err := json.Unmarshal(rr.Body.Bytes(), &analysis); err != nil {
			t.Fatalf("failed to parse analysis: %v", err)
		}
		if analysis.ClaimID != claimID {
			t.Errorf("ClaimID = %q, want %q", analysis.ClaimID, claimID)
		}
	})

	t.Run("GetAnalysisByID", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/api/v1/analyses/"+analysisID, "tenant-001", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("AnalyzeMissingClaim", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/claims/no-such-claim/analyze", "tenant-001", nil)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestRuleManagement(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateRule", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/rules", "tenant-001", CreateRuleRequest{
			ID:         "rule-ratio",
			Name:       "Ratio Check",
			Expression: "tariff_ratio > 3.0",
			Weight:     0.2,
			Severity:   "high",
			Enabled:    true,
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateRuleInvalidExpression", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/rules", "tenant-001", CreateRuleRequest{
			ID:         "rule-bad",
			Name:       "Bad Rule",
			Expression: "tariff_ratio >",
			Weight:     0.2,
			Enabled:    true,
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateRuleNonBoolExpression", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/rules", "tenant-001", CreateRuleRequest{
			ID:         "rule-nonbool",
			Name:       "Non Bool",
			Expression: "tariff_ratio + 1.0",
			Weight:     0.2,
			Enabled:    true,
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateRuleMissingFields", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/rules", "tenant-001", CreateRuleRequest{
			ID: "rule-incomplete",
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadRules", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/rules/reload", "tenant-001", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("count = %d, want 1", resp.Count)
		}
	})

	t.Run("ListRules", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/api/v1/rules", "tenant-001", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int                         `json:"count"`
			Rules []*domain.AnomalyRuleConfig `json:"rules"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("count = %d, want 1", resp.Count)
		}
	})

	t.Run("GetRule", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/api/v1/rules/rule-ratio", "tenant-001", nil)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		rr = doRequest(t, server, http.MethodGet, "/api/v1/rules/no-such-rule", "tenant-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestUpcodingTableManagement(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreatePair", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/tables/upcoding", "tenant-001", CreateUpcodingPairRequest{
			DiagnosisICD10:  "J06.9",
			ProcedureICD9CM: "36.01",
			Note:            "URI with coronary angioplasty",
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreatePairMissingFields", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/tables/upcoding", "tenant-001", CreateUpcodingPairRequest{
			DiagnosisICD10: "J06.9",
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadAndList", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/api/v1/tables/upcoding/reload", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("reload: expected status 200, got %d", rr.Code)
		}

		rr = doRequest(t, server, http.MethodGet, "/api/v1/tables/upcoding", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("list: expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("count = %d, want 1", resp.Count)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/health", "", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("status = %q, want healthy", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("version = %q, want test-v1", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/ready", "", nil)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestDetectUsesStoredHistory(t *testing.T) {
	server, repo := createTestStack(t)
	ctx := context.Background()

	// Seed stored claims with high-scoring analyses for one provider
	for i := 0; i < 2; i++ {
		claimID := fmt.Sprintf("hist-claim-%d", i)
		claim := &domain.ClaimSnapshot{
			ID:             claimID,
			TenantID:       "tenant-001",
			ProviderID:     "prov-risky",
			HospitalCode:   "RS-009",
			PatientName:    "Budi Santoso",
			TariffHospital: 9_000_000,
			TariffInaCbg:   1_000_000,
		}
		if err := repo.SaveClaim(ctx, "tenant-001", claim); err != nil {
			t.Fatalf("failed to save claim: %v", err)
		}
		analysis := &domain.Analysis{
			ID:        "analysis-" + claimID,
			TenantID:  "tenant-001",
			ClaimID:   claimID,
			Timestamp: time.Now(),
			Report:    domain.FraudAnalysisReport{CombinedScore: 80},
		}
		if err := repo.SaveAnalysis(ctx, "tenant-001", analysis); err != nil {
			t.Fatalf("failed to save analysis: %v", err)
		}
	}

	rr := doRequest(t, server, http.MethodPost, "/api/v1/detect", "tenant-001", map[string]any{
		"tarif_rs":     1_000_000,
		"tarif_inacbg": 1_000_000,
		"provider_id":  "prov-risky",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("detect: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		FraudDetection tariff.Assessment `json:"fraud_detection"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)

	found := false
	for _, f := range resp.FraudDetection.RiskFactors {
		if f.Factor == "Provider Fraud History" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected provider history factor, factors: %+v", resp.FraudDetection.RiskFactors)
	}
}
