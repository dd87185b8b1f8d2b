package params

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kite/internal/domain"
)

// FactorResult is the boolean outcome of one factor test.
type FactorResult struct {
	Name       string
	Pass       bool
	Expression string
	Value      string

	// Reason is the parameter's configured rejection reason, populated on fail.
	Reason domain.RejectionReason
}

// EvaluateFactor tests one factor against the resolved parameter value.
// An unresolvable or absent parameter evaluates to false with the
// parameter's configured rejection reason, never an error.
func EvaluateFactor(f *domain.Factor, rs *domain.RuleSet, resolved map[string]ResolvedParameter) FactorResult {
	res := FactorResult{
		Name:       f.Name,
		Expression: factorExpression(f),
	}

	p, ok := rs.ParameterByName(f.ParameterName)
	if !ok {
		res.Reason = domain.RejectionReason{
			Code:        "PARAM_NOT_CONFIGURED",
			Description: fmt.Sprintf("parameter %s is not configured", f.ParameterName),
		}
		return res
	}
	res.Reason = ReasonFor(p)

	rp, ok := resolved[f.ParameterName]
	if !ok || rp.Missing {
		return res
	}
	res.Value = rp.Raw

	if f.UseComputedValue {
		res.Pass = compareText(rp.ComputedValue, f.Operator, f.Value1, f.Value2)
		res.Value = rp.ComputedValue
		return res
	}

	switch p.DataType {
	case domain.DataTypeNumber:
		res.Pass = compareNumber(rp.Number, f.Operator, f.Value1, f.Value2)
	case domain.DataTypeDate:
		res.Pass = compareDate(rp, f)
	default:
		res.Pass = compareText(rp.Raw, f.Operator, f.Value1, f.Value2)
	}
	return res
}

func compareNumber(v float64, op, v1, v2 string) bool {
	a, ok := parseFloat(v1)
	if !ok {
		return false
	}
	switch op {
	case domain.OpEqual:
		return v == a
	case domain.OpNotEqual:
		return v != a
	case domain.OpGreater:
		return v > a
	case domain.OpGreaterEqual:
		return v >= a
	case domain.OpLess:
		return v < a
	case domain.OpLessEqual:
		return v <= a
	case domain.OpBetween:
		b, ok := parseFloat(v2)
		return ok && v >= a && v <= b
	case domain.OpIn:
		for _, member := range splitList(v1) {
			if m, ok := parseFloat(member); ok && v == m {
				return true
			}
		}
		return false
	}
	return false
}

func compareDate(rp ResolvedParameter, f *domain.Factor) bool {
	a, ok := parseDate(f.Value1)
	if !ok {
		return false
	}
	v := rp.Date
	switch f.Operator {
	case domain.OpEqual:
		return v.Equal(a)
	case domain.OpNotEqual:
		return !v.Equal(a)
	case domain.OpGreater:
		return v.After(a)
	case domain.OpGreaterEqual:
		return !v.Before(a)
	case domain.OpLess:
		return v.Before(a)
	case domain.OpLessEqual:
		return !v.After(a)
	case domain.OpBetween:
		b, ok := parseDate(f.Value2)
		return ok && !v.Before(a) && !v.After(b)
	}
	return false
}

func compareText(v, op, v1, v2 string) bool {
	switch op {
	case domain.OpEqual:
		return strings.EqualFold(v, v1)
	case domain.OpNotEqual:
		return !strings.EqualFold(v, v1)
	case domain.OpGreater:
		return strings.ToLower(v) > strings.ToLower(v1)
	case domain.OpGreaterEqual:
		return strings.ToLower(v) >= strings.ToLower(v1)
	case domain.OpLess:
		return strings.ToLower(v) < strings.ToLower(v1)
	case domain.OpLessEqual:
		return strings.ToLower(v) <= strings.ToLower(v1)
	case domain.OpBetween:
		lv := strings.ToLower(v)
		return lv >= strings.ToLower(v1) && lv <= strings.ToLower(v2)
	case domain.OpIn:
		for _, member := range splitList(v1) {
			if strings.EqualFold(v, member) {
				return true
			}
		}
		return false
	}
	return false
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func factorExpression(f *domain.Factor) string {
	if f.Operator == domain.OpBetween {
		return fmt.Sprintf("%s between %s and %s", f.ParameterName, f.Value1, f.Value2)
	}
	return fmt.Sprintf("%s %s %s", f.ParameterName, f.Operator, f.Value1)
}
