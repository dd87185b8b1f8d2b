package scoring

import (
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/params"
	"github.com/opensource-finance/kite/internal/rules"
	"github.com/shopspring/decimal"
)

// ApplyExceptions overlays the winning active exception, if any, on top of a
// product's computed result.
//
// Selection precedence: product-scoped before global, then most recently
// updated, ties broken by lowest id. A temporary winner is re-validated
// against its window before it is applied.
func ApplyExceptions(compiler *rules.Compiler, rs *domain.RuleSet, product *domain.Product, resolved map[string]params.ResolvedParameter, at time.Time, res *Result) {
	var candidates []*domain.ExceptionManagement
	for i := range rs.Exceptions {
		e := &rs.Exceptions[i]
		if !e.IsActive || !e.InWindow(at) || !e.AppliesTo(product.ID) {
			continue
		}
		if !activated(compiler, e, resolved) {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Scope != b.Scope {
			return a.Scope == domain.ExceptionScopeProduct
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	winner := candidates[0]

	if winner.IsTemporary && !winner.InWindow(at) {
		return
	}

	percent := res.EligibilityPercent
	switch winner.AmountType {
	case domain.AmountTypeFixed:
		percent = winner.FixedPercent
	case domain.AmountTypeVariation:
		percent = percent.Add(winner.VariationPercent)
	default:
		slog.Warn("exception has unknown amount type",
			"exception_id", winner.ID,
			"amount_type", winner.AmountType,
		)
		return
	}
	percent = clampPercent(percent)

	res.EligibilityPercent = percent
	res.EligibleAmount = applyPercent(res.Ceiling, percent)
	res.IsProcessedByException = true
	res.ExceptionScope = winner.Scope
}

// activated evaluates the exception's activation expression over the
// applicant's resolved parameter values. An empty expression is always
// active; a malformed one deactivates the exception rather than failing
// the evaluation.
func activated(compiler *rules.Compiler, e *domain.ExceptionManagement, resolved map[string]params.ResolvedParameter) bool {
	if e.ActivationExpression == "" {
		return true
	}

	cp, err := compiler.Compile("exception:"+e.ID, e.ActivationExpression)
	if err != nil {
		slog.Warn("exception activation expression failed to parse",
			"exception_id", e.ID,
			"error", err,
		)
		return false
	}

	activation := make(map[string]any, len(resolved))
	for name, rp := range resolved {
		if rp.Missing {
			continue
		}
		switch rp.DataType {
		case domain.DataTypeNumber:
			activation[name] = rp.Number
		default:
			activation[name] = rp.Raw
		}
	}

	ok, err := cp.EvalWith(activation)
	if err != nil {
		slog.Warn("exception activation expression failed to evaluate",
			"exception_id", e.ID,
			"error", err,
		)
		return false
	}
	return ok
}

func clampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
