package rules

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/params"
)

// TraceSink receives one immutable row per entity evaluated. The trace
// recorder buffers rows and flushes them atomically with the evaluation
// summary.
type TraceSink interface {
	Parameter(row domain.HistoryParameter)
	Erule(row domain.HistoryEr)
	Ecard(row domain.HistoryEc)
	Pcard(row domain.HistoryPc)
}

// Outcome is the result of one pcard cascade.
type Outcome struct {
	State   domain.ProductState
	Pass    bool
	Reasons []domain.RejectionReason
}

// Cascade evaluates the pcard → ecard → erule → factor hierarchy for one
// evaluation. Child results are memoized so shared rules and factors are
// evaluated once per applicant; a visited-set guard turns cyclic
// configuration into an isolated per-entity configuration error.
type Cascade struct {
	compiler *Compiler
	rs       *domain.RuleSet
	resolved map[string]params.ResolvedParameter
	at       time.Time
	sink     TraceSink
	maxDepth int

	factorMemo map[string]nodeResult
	ruleMemo   map[string]nodeResult
	cardMemo   map[string]nodeResult
	visiting   map[string]bool
}

type nodeResult struct {
	pass    bool
	reasons []domain.RejectionReason
}

// NewCascade prepares a cascade over one configuration snapshot and one set
// of resolved parameters.
func NewCascade(compiler *Compiler, rs *domain.RuleSet, resolved map[string]params.ResolvedParameter, at time.Time, sink TraceSink, maxDepth int) *Cascade {
	if maxDepth <= 0 {
		maxDepth = 16
	}
	return &Cascade{
		compiler:   compiler,
		rs:         rs,
		resolved:   resolved,
		at:         at,
		sink:       sink,
		maxDepth:   maxDepth,
		factorMemo: make(map[string]nodeResult),
		ruleMemo:   make(map[string]nodeResult),
		cardMemo:   make(map[string]nodeResult),
		visiting:   make(map[string]bool),
	}
}

// EvaluatePcard runs the full cascade for one product gate.
func (c *Cascade) EvaluatePcard(pcard *domain.Pcard) Outcome {
	cp, err := c.compiler.Compile("pcard:"+pcard.ID, pcard.Expression)
	if err != nil {
		slog.Warn("pcard expression failed to parse",
			"pcard_id", pcard.ID,
			"error", err,
		)
		c.sink.Pcard(domain.HistoryPc{
			PcardID:    pcard.ID,
			ProductID:  pcard.ProductID,
			Expression: pcard.Expression,
			Marker:     domain.MarkerParseError,
		})
		return Outcome{
			State:   domain.StateConfigError,
			Reasons: []domain.RejectionReason{configReason(pcard.Name)},
		}
	}

	values := make(map[string]bool, len(cp.Refs))
	reasonsByChild := make(map[string][]domain.RejectionReason, len(cp.Refs))
	for _, name := range cp.Refs {
		res := c.evaluateEcard(name, 0)
		values[name] = res.pass
		reasonsByChild[name] = res.reasons
	}

	pass, err := cp.Eval(values)
	if err != nil {
		c.sink.Pcard(domain.HistoryPc{
			PcardID:    pcard.ID,
			ProductID:  pcard.ProductID,
			Expression: pcard.Expression,
			Marker:     domain.MarkerParseError,
		})
		return Outcome{
			State:   domain.StateConfigError,
			Reasons: []domain.RejectionReason{configReason(pcard.Name)},
		}
	}

	c.sink.Pcard(domain.HistoryPc{
		PcardID:    pcard.ID,
		ProductID:  pcard.ProductID,
		Expression: pcard.Expression,
		Result:     pass,
	})

	if pass {
		return Outcome{State: domain.StatePassed, Pass: true}
	}
	return Outcome{
		State:   domain.StateFailed,
		Reasons: collectReasons(cp, values, reasonsByChild),
	}
}

// evaluateEcard evaluates one eligibility card by name, memoized.
func (c *Cascade) evaluateEcard(name string, depth int) nodeResult {
	if res, ok := c.cardMemo[name]; ok {
		return res
	}

	key := "ecard:" + name
	if c.visiting[key] || depth >= c.maxDepth {
		slog.Warn("cycle detected in card configuration", "ecard", name)
		c.sink.Ecard(domain.HistoryEc{EcardID: name, Marker: domain.MarkerCycle})
		return c.memoCard(name, failed(configReason(name)))
	}
	c.visiting[key] = true
	defer delete(c.visiting, key)

	ecard, ok := c.rs.EcardByName(name)
	if !ok {
		c.sink.Ecard(domain.HistoryEc{EcardID: name, Marker: domain.MarkerNotConfigured})
		return c.memoCard(name, failed(notConfiguredReason("card", name)))
	}

	cp, err := c.compiler.Compile("ecard:"+ecard.ID, ecard.Expression)
	if err != nil {
		slog.Warn("ecard expression failed to parse",
			"ecard_id", ecard.ID,
			"error", err,
		)
		c.sink.Ecard(domain.HistoryEc{
			EcardID:    ecard.ID,
			Expression: ecard.Expression,
			Marker:     domain.MarkerParseError,
		})
		return c.memoCard(name, failed(configReason(name)))
	}

	values := make(map[string]bool, len(cp.Refs))
	reasonsByChild := make(map[string][]domain.RejectionReason, len(cp.Refs))
	for _, ref := range cp.Refs {
		res := c.evaluateErule(ref, depth+1)
		values[ref] = res.pass
		reasonsByChild[ref] = res.reasons
	}

	pass, err := cp.Eval(values)
	if err != nil {
		c.sink.Ecard(domain.HistoryEc{
			EcardID:    ecard.ID,
			Expression: ecard.Expression,
			Marker:     domain.MarkerParseError,
		})
		return c.memoCard(name, failed(configReason(name)))
	}

	c.sink.Ecard(domain.HistoryEc{
		EcardID:    ecard.ID,
		Expression: ecard.Expression,
		Result:     pass,
	})

	if pass {
		return c.memoCard(name, nodeResult{pass: true})
	}
	return c.memoCard(name, nodeResult{reasons: collectReasons(cp, values, reasonsByChild)})
}

// evaluateErule evaluates the effective version of one rule family, memoized.
func (c *Cascade) evaluateErule(name string, depth int) nodeResult {
	if res, ok := c.ruleMemo[name]; ok {
		return res
	}

	master, ok := c.rs.RuleMasterByName(name)
	if !ok {
		c.sink.Erule(domain.HistoryEr{EruleID: name, Marker: domain.MarkerNotConfigured})
		return c.memoRule(name, failed(notConfiguredReason("rule", name)))
	}

	erule, ok := EffectiveErule(master, c.at)
	if !ok {
		c.sink.Erule(domain.HistoryEr{EruleID: master.ID, Marker: domain.MarkerNotConfigured})
		return c.memoRule(name, failed(notConfiguredReason("rule", name)))
	}

	cacheKey := fmt.Sprintf("erule:%s#%d", erule.ID, erule.Version)
	cp, err := c.compiler.Compile(cacheKey, erule.Expression)
	if err != nil {
		slog.Warn("erule expression failed to parse",
			"erule_id", erule.ID,
			"version", erule.Version,
			"error", err,
		)
		c.sink.Erule(domain.HistoryEr{
			EruleID:    erule.ID,
			Version:    erule.Version,
			Expression: erule.Expression,
			Marker:     domain.MarkerParseError,
		})
		return c.memoRule(name, failed(configReason(name)))
	}

	values := make(map[string]bool, len(cp.Refs))
	reasonsByChild := make(map[string][]domain.RejectionReason, len(cp.Refs))
	for _, ref := range cp.Refs {
		res := c.evaluateFactor(ref)
		values[ref] = res.pass
		reasonsByChild[ref] = res.reasons
	}

	pass, err := cp.Eval(values)
	if err != nil {
		c.sink.Erule(domain.HistoryEr{
			EruleID:    erule.ID,
			Version:    erule.Version,
			Expression: erule.Expression,
			Marker:     domain.MarkerParseError,
		})
		return c.memoRule(name, failed(configReason(name)))
	}

	c.sink.Erule(domain.HistoryEr{
		EruleID:    erule.ID,
		Version:    erule.Version,
		Expression: erule.Expression,
		Result:     pass,
	})

	if pass {
		return c.memoRule(name, nodeResult{pass: true})
	}
	return c.memoRule(name, nodeResult{reasons: collectReasons(cp, values, reasonsByChild)})
}

// evaluateFactor evaluates one factor by name, memoized.
func (c *Cascade) evaluateFactor(name string) nodeResult {
	if res, ok := c.factorMemo[name]; ok {
		return res
	}

	factor, ok := c.rs.FactorByName(name)
	if !ok {
		c.sink.Parameter(domain.HistoryParameter{EntityID: name, Marker: domain.MarkerNotConfigured})
		return c.memoFactor(name, failed(notConfiguredReason("factor", name)))
	}

	fr := params.EvaluateFactor(factor, c.rs, c.resolved)
	c.sink.Parameter(domain.HistoryParameter{
		EntityID:   factor.ID,
		Expression: fr.Expression,
		Value:      fr.Value,
		Result:     fr.Pass,
	})

	if fr.Pass {
		return c.memoFactor(name, nodeResult{pass: true})
	}
	return c.memoFactor(name, nodeResult{reasons: []domain.RejectionReason{fr.Reason}})
}

func (c *Cascade) memoCard(name string, res nodeResult) nodeResult {
	c.cardMemo[name] = res
	return res
}

func (c *Cascade) memoRule(name string, res nodeResult) nodeResult {
	c.ruleMemo[name] = res
	return res
}

func (c *Cascade) memoFactor(name string, res nodeResult) nodeResult {
	c.factorMemo[name] = res
	return res
}

// collectReasons gathers rejection reasons from the children that actually
// caused the false result, honoring short-circuit semantics.
func collectReasons(cp *Compiled, values map[string]bool, byChild map[string][]domain.RejectionReason) []domain.RejectionReason {
	var reasons []domain.RejectionReason
	for _, ref := range cp.FailingRefs(values) {
		reasons = append(reasons, byChild[ref]...)
	}
	return DedupReasons(reasons)
}

func failed(reason domain.RejectionReason) nodeResult {
	return nodeResult{reasons: []domain.RejectionReason{reason}}
}

func configReason(name string) domain.RejectionReason {
	return domain.RejectionReason{
		Code:        "CONFIG_ERROR",
		Description: fmt.Sprintf("configuration for %s could not be evaluated", name),
	}
}

func notConfiguredReason(kind, name string) domain.RejectionReason {
	return domain.RejectionReason{
		Code:        "NOT_CONFIGURED",
		Description: fmt.Sprintf("%s %s is not configured", kind, name),
	}
}
