// Package scoring maps an applicant score into a capped eligibility
// percentage and amount for a passing product, and applies exception
// overrides on top of the computed caps.
package scoring

import (
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/params"
	"github.com/shopspring/decimal"
)

// Parameter names consulted by the flat cap-amount criteria.
const (
	ParamActivity = "Activity"
	ParamAge      = "Age"
	ParamSalary   = "Salary"
)

var hundred = decimal.NewFromInt(100)

// Input carries everything needed to score one passing product.
type Input struct {
	Score    float64
	MaxScore float64

	// BaseAmount is the requested amount; zero means no request ceiling.
	BaseAmount decimal.Decimal

	Product  *domain.Product
	Pcard    *domain.Pcard
	RuleSet  *domain.RuleSet
	Resolved map[string]params.ResolvedParameter
}

// Result is the computed eligibility for one product before and after the
// exception overlay.
type Result struct {
	EligibilityPercent decimal.Decimal
	EligibleAmount     decimal.Decimal

	AmountPercent decimal.Decimal
	CapPercent    decimal.Decimal

	// Ceiling is the flat amount the percentage was applied to:
	// min(cap-amount match, product max, requested base amount).
	Ceiling decimal.Decimal

	IsProcessedByException bool
	ExceptionScope         string
}

// Compute derives the capped eligibility amount for a passing product.
//
// Steps: (1) map the score to a percentile and find the matching
// amount-eligibility band; (2) find the product-cap percentage for the score
// band, defaulting to 0%; (3) find the most specific flat cap-amount row;
// (4) apply the combined percentage to the smallest applicable ceiling.
func Compute(in Input) Result {
	res := Result{
		AmountPercent: matchAmountBand(in.RuleSet.AmountBandsForPcard(in.Pcard.ID), Percentile(in.Score, in.MaxScore)),
		CapPercent:    matchCap(in.RuleSet.CapsForProduct(in.Product.ID), in.Score),
	}

	ceiling := in.Product.MaxEligibleAmount
	if capAmount, ok := matchCapAmount(in.RuleSet.CapAmountsForProduct(in.Product.ID), in.Resolved); ok && capAmount.LessThan(ceiling) {
		ceiling = capAmount
	}
	if in.BaseAmount.IsPositive() && in.BaseAmount.LessThan(ceiling) {
		ceiling = in.BaseAmount
	}
	res.Ceiling = ceiling

	res.EligibilityPercent = res.CapPercent.Mul(res.AmountPercent).Div(hundred)
	res.EligibleAmount = applyPercent(ceiling, res.EligibilityPercent)
	return res
}

// Percentile maps a customer score onto the 0..100 percentile scale.
// The mapping is monotonic and total: every valid score maps to exactly
// one bucket.
func Percentile(score, maxScore float64) decimal.Decimal {
	if maxScore <= 0 {
		maxScore = 850
	}
	p := math.Round(score / maxScore * 100)
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return decimal.NewFromFloat(p)
}

// matchAmountBand finds the band containing the percentile, first band in
// declaration order wins. No matching band means a zero amount, not an error.
func matchAmountBand(bands []domain.AmountEligibility, percentile decimal.Decimal) decimal.Decimal {
	for _, b := range bands {
		if percentile.GreaterThanOrEqual(b.FromPercent) && percentile.LessThanOrEqual(b.ToPercent) {
			return b.AmountPercent
		}
	}
	return decimal.Zero
}

// matchCap finds the product-cap percentage for the score band, 0% default.
func matchCap(caps []domain.ProductCap, score float64) decimal.Decimal {
	for _, c := range caps {
		if score >= c.MinimumScore && score <= c.MaximumScore {
			return c.CapPercent
		}
	}
	return decimal.Zero
}

// matchCapAmount selects the most specific flat cap row: the one with the
// most non-wildcard criteria, all of which match the applicant. Ties between
// equally specific rows are a configuration ambiguity resolved by the lowest
// row id and flagged for review.
func matchCapAmount(rows []domain.ProductCapAmount, resolved map[string]params.ResolvedParameter) (decimal.Decimal, bool) {
	type candidate struct {
		row         *domain.ProductCapAmount
		specificity int
	}

	var candidates []candidate
	for i := range rows {
		row := &rows[i]
		spec, ok := capAmountMatch(row, resolved)
		if ok {
			candidates = append(candidates, candidate{row: row, specificity: spec})
		}
	}
	if len(candidates) == 0 {
		return decimal.Zero, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].specificity != candidates[j].specificity {
			return candidates[i].specificity > candidates[j].specificity
		}
		return candidates[i].row.ID < candidates[j].row.ID
	})

	if len(candidates) > 1 && candidates[0].specificity == candidates[1].specificity {
		slog.Warn("ambiguous product cap amount match",
			"winner_id", candidates[0].row.ID,
			"runner_up_id", candidates[1].row.ID,
		)
	}

	return candidates[0].row.Amount, true
}

// capAmountMatch reports whether a row's criteria all hold for the applicant
// and how many non-wildcard criteria it carries.
func capAmountMatch(row *domain.ProductCapAmount, resolved map[string]params.ResolvedParameter) (int, bool) {
	spec := 0

	if row.Activity != nil {
		activity, ok := resolved[ParamActivity]
		if !ok || activity.Missing || !strings.EqualFold(activity.Raw, *row.Activity) {
			return 0, false
		}
		spec++
	}

	if row.MinAge != nil || row.MaxAge != nil {
		age, ok := resolved[ParamAge]
		if !ok || age.Missing {
			return 0, false
		}
		if row.MinAge != nil && age.Number < float64(*row.MinAge) {
			return 0, false
		}
		if row.MaxAge != nil && age.Number > float64(*row.MaxAge) {
			return 0, false
		}
		spec++
	}

	if row.MinSalary != nil || row.MaxSalary != nil {
		salary, ok := resolved[ParamSalary]
		if !ok || salary.Missing {
			return 0, false
		}
		v := decimal.NewFromFloat(salary.Number)
		if row.MinSalary != nil && v.LessThan(*row.MinSalary) {
			return 0, false
		}
		if row.MaxSalary != nil && v.GreaterThan(*row.MaxSalary) {
			return 0, false
		}
		spec++
	}

	return spec, true
}

func applyPercent(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred).Round(2)
}
