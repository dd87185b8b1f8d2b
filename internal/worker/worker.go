// Package worker provides async evaluation processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/engine"
)

// Worker consumes applicant submissions from the EventBus and runs them
// through the orchestrator. Decision publication is owned by the
// orchestrator itself, so the worker only drives evaluations.
type Worker struct {
	bus          domain.EventBus
	orchestrator *engine.Orchestrator

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, orchestrator *engine.Orchestrator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		orchestrator: orchestrator,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing submissions for the given tenants.
func (w *Worker) Start(cfg Config) error {
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

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicApplicantSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicApplicantSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processSubmission(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicApplicantSubmitted,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processSubmission(ctx, msg.TenantID, msg)
}

// SubmissionMessage is the message payload for an async evaluation.
type SubmissionMessage struct {
	TenantID string                  `json:"tenantId,omitempty"`
	Request  *domain.EvaluateRequest `json:"request"`
}

// processSubmission runs one queued applicant through the orchestrator.
func (w *Worker) processSubmission(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var sub SubmissionMessage
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		slog.Error("failed to parse submission message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if sub.Request == nil {
		// Accept a bare EvaluateRequest payload too.
		var req domain.EvaluateRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.ApplicantID == "" {
			slog.Error("submission message carries no request",
				"message_id", msg.ID,
			)
			return domain.ErrInvalidInput
		}
		sub.Request = &req
	}

	// Use message tenant if provided
	if sub.TenantID != "" {
		tenantID = sub.TenantID
	}
	if sub.Request.TraceID == "" {
		sub.Request.TraceID = msg.ID
	}

	slog.Debug("processing submission",
		"applicant_id", sub.Request.ApplicantID,
		"tenant_id", tenantID,
		"trace_id", sub.Request.TraceID,
	)

	result, err := w.orchestrator.Evaluate(ctx, tenantID, sub.Request)
	if err != nil {
		slog.Error("evaluation failed",
			"applicant_id", sub.Request.ApplicantID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	eligible := 0
	for _, p := range result.Products {
		if p.IsEligible {
			eligible++
		}
	}

	slog.Info("submission processed",
		"applicant_id", sub.Request.ApplicantID,
		"tenant_id", tenantID,
		"evaluation_id", result.EvaluationID,
		"products_evaluated", len(result.Products),
		"products_eligible", eligible,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
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
