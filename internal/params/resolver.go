// Package params turns raw applicant input into normalized named values and
// evaluates factors against them.
package params

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// Date layouts accepted for raw date values.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
}

// ResolvedParameter is the normalized form of one applicant attribute.
type ResolvedParameter struct {
	Name     string
	DataType domain.DataType

	// Raw is the normalized string form of the input value.
	Raw string

	// Number and Date are the typed views, valid per DataType.
	Number float64
	Date   time.Time

	// ComputedValue is the bucketed value when computed-value rules matched.
	ComputedValue string

	// Missing marks a value that could not be resolved. Factors depending on
	// a missing parameter evaluate to false rather than raising.
	Missing bool

	Reason domain.RejectionReason
}

// Resolve normalizes every configured parameter for one evaluation.
// Resolution is shared across all products of the evaluation.
func Resolve(rs *domain.RuleSet, raw map[string]any, at time.Time) map[string]ResolvedParameter {
	resolved := make(map[string]ResolvedParameter, len(rs.Parameters))
	for i := range rs.Parameters {
		p := &rs.Parameters[i]
		resolved[p.Name] = resolveOne(p, raw[p.Name], at)
	}
	return resolved
}

func resolveOne(p *domain.Parameter, value any, at time.Time) ResolvedParameter {
	rp := ResolvedParameter{
		Name:     p.Name,
		DataType: p.DataType,
		Reason:   ReasonFor(p),
	}

	if value == nil {
		rp.Missing = true
		return rp
	}

	switch p.DataType {
	case domain.DataTypeNumber:
		n, ok := toNumber(value)
		if !ok {
			rp.Missing = true
			return rp
		}
		rp.Number = n
		rp.Raw = strconv.FormatFloat(n, 'f', -1, 64)

	case domain.DataTypeDate:
		d, ok := toDate(value)
		if !ok {
			rp.Missing = true
			return rp
		}
		rp.Date = d
		rp.Raw = d.Format(time.RFC3339)

	default:
		s := fmt.Sprintf("%v", value)
		if strings.TrimSpace(s) == "" {
			rp.Missing = true
			return rp
		}
		rp.Raw = s
	}

	rp.ComputedValue = bucket(p, &rp, at)
	return rp
}

// bucket applies the parameter's computed-value rules in declaration order.
// First match wins; overlapping ranges are a configuration defect resolved
// by declaration order.
func bucket(p *domain.Parameter, rp *ResolvedParameter, at time.Time) string {
	for _, rule := range p.ComputedRules {
		if rule.ExactValue != "" {
			if strings.EqualFold(rule.ExactValue, rp.Raw) {
				return rule.ComputedValue
			}
			continue
		}
		if matchRange(&rule, rp, at) {
			return rule.ComputedValue
		}
	}
	return ""
}

func matchRange(rule *domain.ComputedValueRule, rp *ResolvedParameter, at time.Time) bool {
	switch rule.RangeType {
	case domain.RangeNumber:
		if rp.DataType != domain.DataTypeNumber {
			return false
		}
		from, okF := parseFloat(rule.FromValue)
		to, okT := parseFloat(rule.ToValue)
		return okF && okT && rp.Number >= from && rp.Number <= to

	case domain.RangeDate:
		if rp.DataType != domain.DataTypeDate {
			return false
		}
		from, okF := parseDate(rule.FromValue)
		to, okT := parseDate(rule.ToValue)
		return okF && okT && !rp.Date.Before(from) && !rp.Date.After(to)

	case domain.RangeDays, domain.RangeHours:
		if rp.DataType != domain.DataTypeDate {
			return false
		}
		elapsed := at.Sub(rp.Date).Hours()
		if rule.RangeType == domain.RangeDays {
			elapsed /= 24
		}
		from, okF := parseFloat(rule.FromValue)
		to, okT := parseFloat(rule.ToValue)
		return okF && okT && elapsed >= from && elapsed <= to
	}
	return false
}

// ReasonFor builds the rejection reason configured on a parameter, with a
// generic fallback when the tenant configured none.
func ReasonFor(p *domain.Parameter) domain.RejectionReason {
	r := domain.RejectionReason{
		Code:        p.RejectionReasonCode,
		Description: p.RejectionReason,
	}
	if r.Code == "" {
		r.Code = "PARAM_" + strings.ToUpper(p.Name)
	}
	if r.Description == "" {
		r.Description = fmt.Sprintf("parameter %s did not satisfy eligibility criteria", p.Name)
	}
	return r
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		return parseFloat(n)
	}
	return 0, false
}

func toDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		return parseDate(d)
	}
	return time.Time{}, false
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}
