// Package engine composes parameter resolution, the boolean cascade,
// scoring, capping, exceptions and trace recording into one applicant
// evaluation.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/params"
	"github.com/opensource-finance/kite/internal/rules"
	"github.com/opensource-finance/kite/internal/scoring"
	"github.com/opensource-finance/kite/internal/trace"
)

// EngineVersion is stamped into evaluation metadata and trace rows.
const EngineVersion = "kite-1.0"

// Orchestrator is the public entry point of the decision engine.
// Each call is independent and stateless with respect to concurrent calls;
// configuration is snapshotted once per evaluation.
type Orchestrator struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	compiler *rules.Compiler
	cfg      domain.EngineConfig
	cacheTTL time.Duration
}

// New creates an orchestrator. Cache and bus are optional; a nil cache reads
// configuration from the repository on every call, a nil bus skips decision
// events.
func New(repo domain.Repository, cache domain.Cache, bus domain.EventBus, compiler *rules.Compiler, cfg domain.EngineConfig, cacheTTL time.Duration) *Orchestrator {
	if cfg.MaxScore <= 0 {
		cfg.MaxScore = 850
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Orchestrator{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		compiler: compiler,
		cfg:      cfg,
		cacheTTL: cacheTTL,
	}
}

// Evaluate runs one applicant evaluation across the candidate products.
//
// Per-rule and per-product failures are isolated into rejection reasons;
// only contract violations (unknown tenant, malformed request, unknown
// requested product) and trace persistence failures return an error. The
// caller always gets either a complete result or a single hard failure.
func (o *Orchestrator) Evaluate(ctx context.Context, tenantID string, req *domain.EvaluateRequest) (*domain.EligibleAmountResult, error) {
	start := time.Now()

	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if req == nil || req.ApplicantID == "" {
		return nil, fmt.Errorf("%w: applicantId is required", domain.ErrInvalidInput)
	}

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	rs, err := o.ruleSet(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	products, err := candidateProducts(rs, req.ProductIDs)
	if err != nil {
		return nil, err
	}

	evalID := uuid.New().String()
	recorder := trace.NewRecorder(o.repo, tenantID, evalID, nil)

	// Parameters are resolved once and shared across all products.
	resolved := params.Resolve(rs, req.Parameters, at)
	for i := range rs.Parameters {
		p := &rs.Parameters[i]
		rp := resolved[p.Name]
		recorder.Parameter(domain.HistoryParameter{
			EntityID:   p.ID,
			Expression: p.Name,
			Value:      parameterValue(rp),
			Result:     !rp.Missing,
		})
	}

	cascade := rules.NewCascade(o.compiler, rs, resolved, at, recorder, o.cfg.MaxCascadeDepth)

	results := make([]domain.ProductEligibilityResult, 0, len(products))
	for _, product := range products {
		// Per-product boundary is the cancellation checkpoint. Nothing has
		// been persisted yet, so aborting here leaves no partial trace.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		results = append(results, o.evaluateProduct(cascade, rs, product, resolved, req, at))
	}

	result := &domain.EligibleAmountResult{
		EvaluationID: evalID,
		TenantID:     tenantID,
		Score:        req.CustomerScore,
		Products:     results,
		Metadata: domain.EvaluationMetadata{
			TraceID:           req.TraceID,
			EvaluatedAt:       at,
			ProductsEvaluated: len(results),
			ProcessMs:         time.Since(start).Milliseconds(),
			EngineVersion:     EngineVersion,
		},
	}

	if err := o.flushTrace(ctx, recorder, req, result, start); err != nil {
		return nil, err
	}

	o.publishDecision(ctx, tenantID, result)

	return result, nil
}

// evaluateProduct runs one product through the cascade and, on pass,
// scoring, capping and the exception overlay.
func (o *Orchestrator) evaluateProduct(cascade *rules.Cascade, rs *domain.RuleSet, product *domain.Product, resolved map[string]params.ResolvedParameter, req *domain.EvaluateRequest, at time.Time) domain.ProductEligibilityResult {
	result := domain.ProductEligibilityResult{
		ProductID:            product.ID,
		ProductName:          product.Name,
		ProductCode:          product.Code,
		State:                domain.StateEvaluating,
		Score:                req.CustomerScore,
		ProbabilityOfDefault: probabilityOfDefault(req.CustomerScore, o.cfg.MaxScore),
	}

	pcard, ok := rs.PcardForProduct(product.ID)
	if !ok {
		result.State = domain.StateConfigError
		result.RejectionReasons = []domain.RejectionReason{{
			Code:        "NOT_CONFIGURED",
			Description: fmt.Sprintf("no product card configured for product %s", product.Name),
		}}
		return result
	}

	outcome := cascade.EvaluatePcard(pcard)
	result.State = outcome.State
	if outcome.State != domain.StatePassed {
		result.RejectionReasons = outcome.Reasons
		return result
	}

	sc := scoring.Compute(scoring.Input{
		Score:      req.CustomerScore,
		MaxScore:   o.cfg.MaxScore,
		BaseAmount: req.BaseAmount,
		Product:    product,
		Pcard:      pcard,
		RuleSet:    rs,
		Resolved:   resolved,
	})
	scoring.ApplyExceptions(o.compiler, rs, product, resolved, at, &sc)

	result.IsEligible = true
	result.EligibleAmount = sc.EligibleAmount
	result.EligibilityPercent = sc.EligibilityPercent
	result.IsProcessedByException = sc.IsProcessedByException
	result.ExceptionScope = sc.ExceptionScope
	return result
}

// ruleSet loads the tenant configuration snapshot, preferring the cache.
func (o *Orchestrator) ruleSet(ctx context.Context, tenantID string) (*domain.RuleSet, error) {
	if o.cache != nil {
		if rs, err := o.cache.GetRuleSet(ctx, tenantID); err == nil && rs != nil {
			return rs, nil
		}
	}

	rs, err := o.repo.GetRuleSet(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		if err := o.cache.SetRuleSet(ctx, tenantID, rs, o.cacheTTL); err != nil {
			slog.Warn("failed to cache rule set", "tenant_id", tenantID, "error", err)
		}
	}
	return rs, nil
}

func (o *Orchestrator) flushTrace(ctx context.Context, recorder *trace.Recorder, req *domain.EvaluateRequest, result *domain.EligibleAmountResult, start time.Time) error {
	outcome := domain.OutcomeIneligible
	var failureReason string
	for _, p := range result.Products {
		if p.IsEligible {
			outcome = domain.OutcomeEligible
			failureReason = ""
			break
		}
		if failureReason == "" && len(p.RejectionReasons) > 0 {
			failureReason = p.RejectionReasons[0].Description
		}
	}

	reqJSON, _ := json.Marshal(req)
	respJSON, _ := json.Marshal(result)

	return recorder.Flush(ctx, &domain.EvaluationHistory{
		ApplicantID:   req.ApplicantID,
		NationalID:    req.NationalID,
		Outcome:       outcome,
		FailureReason: failureReason,
		Score:         req.CustomerScore,
		ProcessMs:     time.Since(start).Milliseconds(),
		Request:       string(reqJSON),
		Response:      string(respJSON),
		CreatedAt:     time.Now().UTC(),
	})
}

// publishDecision emits the decision event. Publication is fire-and-forget:
// the decision is already committed with its trace.
func (o *Orchestrator) publishDecision(ctx context.Context, tenantID string, result *domain.EligibleAmountResult) {
	if o.bus == nil {
		return
	}

	payload, _ := json.Marshal(result)
	if err := o.bus.Publish(ctx, tenantID, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision", "evaluation_id", result.EvaluationID, "error", err)
	}

	anyEligible := false
	for _, p := range result.Products {
		if p.IsEligible {
			anyEligible = true
			break
		}
	}
	if !anyEligible {
		if err := o.bus.Publish(ctx, tenantID, domain.TopicRejected, payload); err != nil {
			slog.Error("failed to publish rejection", "evaluation_id", result.EvaluationID, "error", err)
		}
	}
}

// candidateProducts resolves the requested product subset, or all tenant
// products when no subset is given. An unknown requested product id is a
// contract violation for the whole call.
func candidateProducts(rs *domain.RuleSet, productIDs []string) ([]*domain.Product, error) {
	if len(productIDs) == 0 {
		products := make([]*domain.Product, 0, len(rs.Products))
		for i := range rs.Products {
			products = append(products, &rs.Products[i])
		}
		return products, nil
	}

	products := make([]*domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		p, ok := rs.ProductByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: product %s not found", domain.ErrInvalidInput, id)
		}
		products = append(products, p)
	}
	return products, nil
}

func parameterValue(rp params.ResolvedParameter) string {
	if rp.ComputedValue != "" {
		return rp.ComputedValue
	}
	return rp.Raw
}

// probabilityOfDefault is a monotonic mapping from the customer score onto
// [0,1]: a maximal score maps to 0, a zero score to 1.
func probabilityOfDefault(score, maxScore float64) float64 {
	if maxScore <= 0 {
		return 0
	}
	pod := 1 - score/maxScore
	if pod < 0 {
		return 0
	}
	if pod > 1 {
		return 1
	}
	return pod
}
