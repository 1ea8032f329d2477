// Package worker provides async claim processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sinavika/fraudwatch/internal/analyzer"
	"github.com/sinavika/fraudwatch/internal/bus"
	"github.com/sinavika/fraudwatch/internal/domain"
)

// Worker consumes submitted claims from the EventBus, runs them through the
// analysis pipeline and publishes the results.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	cache    domain.Cache
	pipeline *analyzer.Service

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string

	// WorkerCount bounds how many claims are analyzed concurrently
	WorkerCount int
}

// NewWorker creates an async claim worker. Repository and cache are optional;
// without a repository, claims must arrive inline in the message payload.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, pipeline *analyzer.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		cache:    cache,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing claims for the given tenants.
func (w *Worker) Start(cfg Config) error {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	w.sem = make(chan struct{}, workers)

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

func (w *Worker) startGlobalWorker() error {
	// Wildcard subscription: claims are published under their real tenant
	// IDs, so a fixed tenant key would never see them.
	sub, err := w.bus.Subscribe(w.ctx, bus.WildcardTenant, domain.TopicClaimSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicClaimSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.dispatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicClaimSubmitted,
	)

	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.dispatch(ctx, msg.TenantID, msg)
}

// dispatch hands the claim to the bounded worker pool. Blocks when all
// workers are busy so a burst backs up into the bus buffer instead of
// spawning unbounded goroutines.
func (w *Worker) dispatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		_ = w.processClaim(ctx, tenantID, msg)
	}()
	return nil
}

// ClaimMessage is the payload published on the claim submitted topic. Either
// the full claim is inline or ClaimID references a stored claim.
type ClaimMessage struct {
	ClaimID  string                `json:"claimId"`
	TenantID string                `json:"tenantId,omitempty"`
	TraceID  string                `json:"traceId,omitempty"`
	Claim    *domain.ClaimSnapshot `json:"claim,omitempty"`
}

// processClaim runs one claim through the analysis pipeline.
func (w *Worker) processClaim(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var claimMsg ClaimMessage
	if err := json.Unmarshal(msg.Payload, &claimMsg); err != nil {
		slog.Error("failed to parse claim message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if claimMsg.TenantID != "" {
		tenantID = claimMsg.TenantID
	}

	traceID := claimMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	claim := claimMsg.Claim
	if claim == nil {
		if w.repo == nil {
			return fmt.Errorf("claim %s not inline and no repository configured", claimMsg.ClaimID)
		}
		var err error
		claim, err = w.repo.GetClaim(ctx, tenantID, claimMsg.ClaimID)
		if err != nil {
			slog.Error("failed to load claim",
				"claim_id", claimMsg.ClaimID,
				"tenant_id", tenantID,
				"error", err,
			)
			return err
		}
	} else if claim.ID == "" {
		claim.ID = claimMsg.ClaimID
	}

	slog.Debug("processing claim",
		"claim_id", claim.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// Persist inline claims so provider history accumulates
	if claimMsg.Claim != nil && w.repo != nil {
		if err := w.repo.SaveClaim(ctx, tenantID, claim); err != nil {
			slog.Error("failed to save claim",
				"claim_id", claim.ID,
				"error", err,
			)
		}
	}

	analysis, err := w.pipeline.Analyze(ctx, &analyzer.Input{
		TenantID:  tenantID,
		TraceID:   traceID,
		Claim:     claim,
		StartTime: start,
	})
	if err != nil {
		slog.Error("claim analysis failed",
			"claim_id", claim.ID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveAnalysis(ctx, tenantID, analysis); err != nil {
			slog.Error("failed to save analysis",
				"claim_id", claim.ID,
				"error", err,
			)
		}
	}

	if w.cache != nil {
		if err := w.cache.SetAnalysis(ctx, tenantID, claim.ID, analysis, 10*time.Minute); err != nil {
			slog.Warn("failed to cache analysis",
				"claim_id", claim.ID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(analysis)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicClaimAnalyzed, resultPayload); err != nil {
		slog.Error("failed to publish analysis result",
			"claim_id", claim.ID,
			"error", err,
		)
	}

	if w.pipeline.ShouldAlert(analysis) {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"claim_id", claim.ID,
				"error", err,
			)
		}
	}

	slog.Info("claim processed",
		"claim_id", claim.ID,
		"tenant_id", tenantID,
		"combined_score", analysis.Report.CombinedScore,
		"risk_level", analysis.Report.MLRiskLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
