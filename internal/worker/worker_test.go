package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/bus"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/engine"
	"github.com/opensource-finance/kite/internal/rules"
	"github.com/shopspring/decimal"
)

// fakeRepo serves a fixed configuration snapshot and records flushed traces.
type fakeRepo struct {
	mu        sync.Mutex
	ruleSet   *domain.RuleSet
	histories []*domain.EvaluationHistory
}

func (r *fakeRepo) GetRuleSet(ctx context.Context, tenantID string) (*domain.RuleSet, error) {
	if r.ruleSet == nil || r.ruleSet.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTenant, tenantID)
	}
	return r.ruleSet, nil
}

func (r *fakeRepo) SaveParameter(ctx context.Context, tenantID string, p *domain.Parameter) error {
	return nil
}
func (r *fakeRepo) SaveFactor(ctx context.Context, tenantID string, f *domain.Factor) error {
	return nil
}
func (r *fakeRepo) SaveRuleMaster(ctx context.Context, tenantID string, m *domain.EruleMaster) error {
	return nil
}
func (r *fakeRepo) SaveEcard(ctx context.Context, tenantID string, c *domain.Ecard) error { return nil }
func (r *fakeRepo) SavePcard(ctx context.Context, tenantID string, c *domain.Pcard) error { return nil }
func (r *fakeRepo) SaveProduct(ctx context.Context, tenantID string, p *domain.Product) error {
	return nil
}
func (r *fakeRepo) SaveAmountEligibility(ctx context.Context, tenantID string, b *domain.AmountEligibility) error {
	return nil
}
func (r *fakeRepo) SaveProductCap(ctx context.Context, tenantID string, c *domain.ProductCap) error {
	return nil
}
func (r *fakeRepo) SaveProductCapAmount(ctx context.Context, tenantID string, c *domain.ProductCapAmount) error {
	return nil
}
func (r *fakeRepo) SaveException(ctx context.Context, tenantID string, e *domain.ExceptionManagement) error {
	return nil
}

func (r *fakeRepo) SaveEvaluationHistory(ctx context.Context, tenantID string, h *domain.EvaluationHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories = append(r.histories, h)
	return nil
}

func (r *fakeRepo) GetEvaluationHistory(ctx context.Context, tenantID string, evalID string) (*domain.EvaluationHistory, error) {
	return nil, domain.ErrNotFound
}

func (r *fakeRepo) ListEvaluationHistory(ctx context.Context, tenantID string, applicantID string, limit int) ([]*domain.EvaluationHistory, error) {
	return nil, nil
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

// testRuleSet builds a single-product configuration: one mandatory Age
// parameter gated through factor, rule, ecard and pcard.
func testRuleSet(tenantID string) *domain.RuleSet {
	return &domain.RuleSet{
		TenantID: tenantID,
		Parameters: []domain.Parameter{
			{ID: "param-age", Name: "Age", DataType: domain.DataTypeNumber, IsMandatory: true,
				RejectionReasonCode: "AGE_LIMIT", RejectionReason: "applicant age outside allowed range"},
		},
		Factors: []domain.Factor{
			{ID: "factor-age", Name: "age_ok", ParameterName: "Age", Operator: domain.OpGreaterEqual, Value1: "18"},
		},
		RuleMasters: []domain.EruleMaster{
			{ID: "rule-age", Name: "age_rule", Versions: []domain.Erule{
				{ID: "rule-age-v1", Version: 1, Expression: "age_ok", ValidFrom: time.Now().Add(-time.Hour), IsPublished: true},
			}},
		},
		Ecards: []domain.Ecard{
			{ID: "ecard-base", Name: "base_card", Expression: "age_rule", EruleNames: []string{"age_rule"}},
		},
		Pcards: []domain.Pcard{
			{ID: "pcard-1", Name: "loan_gate", ProductID: "prod-1", Expression: "base_card", EcardNames: []string{"base_card"}},
		},
		Products: []domain.Product{
			{ID: "prod-1", Name: "Personal Loan", Code: "PL", MaxEligibleAmount: decimal.NewFromInt(50000)},
		},
		AmountBands: []domain.AmountEligibility{
			{ID: "band-1", PcardID: "pcard-1", FromPercent: decimal.Zero, ToPercent: decimal.NewFromInt(100), AmountPercent: decimal.NewFromInt(100)},
		},
		Caps: []domain.ProductCap{
			{ID: "cap-1", ProductID: "prod-1", MinimumScore: 0, MaximumScore: 850, CapPercent: decimal.NewFromInt(100)},
		},
	}
}

func newTestOrchestrator(t *testing.T, repo *fakeRepo, eventBus domain.EventBus) *engine.Orchestrator {
	t.Helper()
	compiler, err := rules.NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	return engine.New(repo, nil, eventBus, compiler, domain.EngineConfig{MaxScore: 850, MaxCascadeDepth: 16}, time.Minute)
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := &fakeRepo{ruleSet: testRuleSet("tenant-test")}
	orchestrator := newTestOrchestrator(t, repo, eventBus)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, orchestrator)

		cfg := Config{
			TenantIDs:   []string{"tenant-test"},
			WorkerCount: 1,
		}

		if err := w.Start(cfg); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessSubmission", func(t *testing.T) {
		w := NewWorker(eventBus, orchestrator)

		cfg := Config{
			TenantIDs: []string{"tenant-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track decision results
		var decisionReceived atomic.Bool
		var decisionPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			decisionPayload = msg.Payload
			decisionReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		req := domain.EvaluateRequest{
			ApplicantID:   "applicant-001",
			NationalID:    "NID-001",
			Parameters:    map[string]any{"Age": 30.0},
			CustomerScore: 850,
			TraceID:       "trace-001",
		}
		payload, _ := json.Marshal(SubmissionMessage{TenantID: "tenant-test", Request: &req})

		if err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicApplicantSubmitted, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(200 * time.Millisecond)

		if !decisionReceived.Load() {
			t.Fatal("expected decision to be published")
		}

		var result domain.EligibleAmountResult
		if err := json.Unmarshal(decisionPayload, &result); err != nil {
			t.Fatalf("failed to parse decision: %v", err)
		}

		if result.TenantID != "tenant-test" {
			t.Errorf("expected tenantID 'tenant-test', got '%s'", result.TenantID)
		}
		if result.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", result.Metadata.TraceID)
		}
		if len(result.Products) != 1 || !result.Products[0].IsEligible {
			t.Errorf("expected one eligible product, got %+v", result.Products)
		}

		repo.mu.Lock()
		defer repo.mu.Unlock()
		if len(repo.histories) == 0 {
			t.Error("expected evaluation trace to be persisted")
		}
	})

	t.Run("BareRequestPayload", func(t *testing.T) {
		w := NewWorker(eventBus, orchestrator)
		w.Start(Config{TenantIDs: []string{"tenant-test"}})
		defer w.Stop()

		var decisionReceived atomic.Bool
		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			decisionReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// A raw EvaluateRequest without the submission envelope is accepted too.
		payload, _ := json.Marshal(domain.EvaluateRequest{
			ApplicantID:   "applicant-002",
			Parameters:    map[string]any{"Age": 45.0},
			CustomerScore: 700,
		})
		eventBus.Publish(context.Background(), "tenant-test", domain.TopicApplicantSubmitted, payload)

		time.Sleep(200 * time.Millisecond)

		if !decisionReceived.Load() {
			t.Error("expected decision for bare request payload")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, orchestrator)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestSubmissionMessageParsing(t *testing.T) {
	msg := SubmissionMessage{
		TenantID: "tenant-001",
		Request: &domain.EvaluateRequest{
			ApplicantID:   "applicant-123",
			NationalID:    "NID-456",
			Parameters:    map[string]any{"Salary": 3200.5},
			ProductIDs:    []string{"prod-1"},
			CustomerScore: 720,
			TraceID:       "trace-789",
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed SubmissionMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.Request == nil {
		t.Fatal("expected request to round-trip")
	}
	if parsed.Request.ApplicantID != msg.Request.ApplicantID {
		t.Errorf("expected ApplicantID '%s', got '%s'", msg.Request.ApplicantID, parsed.Request.ApplicantID)
	}
	if parsed.Request.CustomerScore != msg.Request.CustomerScore {
		t.Errorf("expected CustomerScore %.0f, got %.0f", msg.Request.CustomerScore, parsed.Request.CustomerScore)
	}
}
