// Fraudwatch - Claim fraud screening for INA-CBG billing.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sinavika/fraudwatch/internal/aggregate"
	"github.com/sinavika/fraudwatch/internal/analyzer"
	"github.com/sinavika/fraudwatch/internal/anomaly"
	"github.com/sinavika/fraudwatch/internal/api"
	"github.com/sinavika/fraudwatch/internal/bus"
	"github.com/sinavika/fraudwatch/internal/cache"
	"github.com/sinavika/fraudwatch/internal/consistency"
	"github.com/sinavika/fraudwatch/internal/domain"
	"github.com/sinavika/fraudwatch/internal/history"
	"github.com/sinavika/fraudwatch/internal/repository"
	"github.com/sinavika/fraudwatch/internal/tariff"
	"github.com/sinavika/fraudwatch/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("FRAUDWATCH_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting fraudwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("FRAUDWATCH_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Anomaly Rule Engine
	rulesEngine, err := anomaly.NewEngine(100, logger)
	if err != nil {
		slog.Error("failed to initialize anomaly engine", "error", err)
		os.Exit(1)
	}

	// Load anomaly rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, rulesEngine); err != nil {
		slog.Error("failed to load anomaly rules", "error", err)
		os.Exit(1)
	}
	slog.Info("anomaly engine initialized", "rules_count", rulesEngine.RulesCount())

	// Initialize Document Consistency Engine with the stored upcoding table
	docsEngine := consistency.NewEngine(loadUpcodingTables(ctx, repo), logger)
	slog.Info("consistency engine initialized")

	// Initialize Tariff Scorer with the anomaly engine wired in
	scorer := tariff.NewScorer(
		tariff.WithExtraEvaluator(rulesEngine),
		tariff.WithSeverityAdjustment(os.Getenv("FRAUDWATCH_SEVERITY_LOS") == "true"),
	)

	// Initialize History Service
	historySvc := history.NewService(repo, cacheImpl, logger)
	slog.Info("history service initialized")

	// Initialize Aggregator and analysis pipeline
	aggregator := aggregate.New(cfg.Aggregation)
	pipeline := analyzer.New(docsEngine, scorer, aggregator, historySvc, logger)
	slog.Info("analysis pipeline initialized",
		"document_weight", cfg.Aggregation.DocumentWeight,
		"tariff_weight", cfg.Aggregation.TariffWeight,
		"alert_threshold", pipeline.AlertThreshold,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("FRAUDWATCH_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, pipeline)

		tenantIDs := []string{}
		if envTenants := os.Getenv("FRAUDWATCH_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, pipeline, docsEngine, scorer, rulesEngine, historySvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudwatch is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudwatch shutdown complete")
}

// GlobalTenantID is used for rules and tables that apply to all tenants.
const GlobalTenantID = "*"

// loadRulesFromDatabase loads anomaly rules from the database into the engine.
// All rules must be configured via POST /rules API - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *anomaly.Engine) error {
	dbRules, err := repo.ListAnomalyRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list anomaly rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading anomaly rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no anomaly rules in database - configure via POST /rules API")
	return nil
}

// loadUpcodingTables builds the consistency tables from the stored upcoding
// pairs, falling back to the built-in compatibility tables on error.
func loadUpcodingTables(ctx context.Context, repo domain.Repository) *consistency.Tables {
	pairs, err := repo.ListUpcodingPairs(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list upcoding pairs from database", "error", err)
		return consistency.NewTables(nil)
	}
	if len(pairs) > 0 {
		slog.Info("loading upcoding pairs from database", "count", len(pairs))
	}
	return consistency.NewTables(pairs)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║             🔍 FRAUDWATCH                 ║")
	fmt.Println("  ║      Claim Fraud Screening Engine         ║")
	fmt.Println("  ║       Eyes on every claim.                ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/detect                 - Score tariff features")
	fmt.Println("    POST /api/v1/claims                 - Submit a claim for analysis")
	fmt.Println("    GET  /api/v1/claims/{id}            - Get claim by ID")
	fmt.Println("    POST /api/v1/claims/{id}/analyze    - Analyze a claim synchronously")
	fmt.Println("    GET  /api/v1/claims/{id}/analysis   - Get latest analysis for a claim")
	fmt.Println("    GET  /api/v1/analyses/{id}          - Get analysis by ID")
	fmt.Println("    GET  /api/v1/rules                  - List anomaly rules")
	fmt.Println("    POST /api/v1/rules                  - Create an anomaly rule")
	fmt.Println("    POST /api/v1/rules/reload           - Hot-reload rules from database")
	fmt.Println("    GET  /api/v1/tables/upcoding        - List upcoding pairs")
	fmt.Println("    POST /api/v1/tables/upcoding        - Add an upcoding pair")
	fmt.Println("    POST /api/v1/tables/upcoding/reload - Hot-reload the upcoding table")
	fmt.Println("    GET  /health                        - Health check")
	fmt.Println()
}
