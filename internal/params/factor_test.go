package params

import (
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

func factorRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		Parameters: []domain.Parameter{
			{Name: "Age", DataType: domain.DataTypeNumber, RejectionReasonCode: "AGE_LIMIT", RejectionReason: "age outside allowed range"},
			{Name: "Salary", DataType: domain.DataTypeNumber},
			{Name: "Activity", DataType: domain.DataTypeText},
			{Name: "HireDate", DataType: domain.DataTypeDate},
			{Name: "Segment", DataType: domain.DataTypeText, ComputedRules: []domain.ComputedValueRule{
				{ExactValue: "employee", ComputedValue: "salaried"},
			}},
		},
	}
}

func TestEvaluateFactorNumber(t *testing.T) {
	rs := factorRuleSet()
	at := time.Now()
	resolved := Resolve(rs, map[string]any{"Age": 30.0, "Salary": 5000.0}, at)

	cases := []struct {
		name   string
		factor domain.Factor
		pass   bool
	}{
		{"GreaterEqualPass", domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpGreaterEqual, Value1: "18"}, true},
		{"GreaterEqualBoundary", domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpGreaterEqual, Value1: "30"}, true},
		{"GreaterEqualFail", domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpGreaterEqual, Value1: "31"}, false},
		{"Equal", domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpEqual, Value1: "30"}, true},
		{"NotEqual", domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpNotEqual, Value1: "25"}, true},
		{"Less", domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpLess, Value1: "65"}, true},
		{"LessEqualFail", domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpLessEqual, Value1: "29"}, false},
		{"BetweenPass", domain.Factor{Name: "f", ParameterName: "Salary", Operator: domain.OpBetween, Value1: "3000", Value2: "10000"}, true},
		{"BetweenLowerBound", domain.Factor{Name: "f", ParameterName: "Salary", Operator: domain.OpBetween, Value1: "5000", Value2: "10000"}, true},
		{"BetweenFail", domain.Factor{Name: "f", ParameterName: "Salary", Operator: domain.OpBetween, Value1: "6000", Value2: "10000"}, false},
		{"InPass", domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpIn, Value1: "25, 30, 35"}, true},
		{"InFail", domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpIn, Value1: "25, 35"}, false},
		{"BadOperand", domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpGreater, Value1: "abc"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := EvaluateFactor(&tc.factor, rs, resolved)
			if res.Pass != tc.pass {
				t.Errorf("expected pass=%v, got %v", tc.pass, res.Pass)
			}
		})
	}
}

func TestEvaluateFactorText(t *testing.T) {
	rs := factorRuleSet()
	resolved := Resolve(rs, map[string]any{"Activity": "Employee"}, time.Now())

	t.Run("EqualCaseInsensitive", func(t *testing.T) {
		f := domain.Factor{Name: "f", ParameterName: "Activity", Operator: domain.OpEqual, Value1: "employee"}
		if res := EvaluateFactor(&f, rs, resolved); !res.Pass {
			t.Error("expected case-insensitive text match to pass")
		}
	})

	t.Run("InList", func(t *testing.T) {
		f := domain.Factor{Name: "f", ParameterName: "Activity", Operator: domain.OpIn, Value1: "employee, retiree"}
		if res := EvaluateFactor(&f, rs, resolved); !res.Pass {
			t.Error("expected membership match to pass")
		}
	})

	t.Run("NotEqual", func(t *testing.T) {
		f := domain.Factor{Name: "f", ParameterName: "Activity", Operator: domain.OpNotEqual, Value1: "freelancer"}
		if res := EvaluateFactor(&f, rs, resolved); !res.Pass {
			t.Error("expected not-equal to pass")
		}
	})
}

func TestEvaluateFactorDate(t *testing.T) {
	rs := factorRuleSet()
	resolved := Resolve(rs, map[string]any{"HireDate": "2020-03-15"}, time.Now())

	cases := []struct {
		name   string
		factor domain.Factor
		pass   bool
	}{
		{"After", domain.Factor{Name: "f", ParameterName: "HireDate", Operator: domain.OpGreater, Value1: "2019-01-01"}, true},
		{"Before", domain.Factor{Name: "f", ParameterName: "HireDate", Operator: domain.OpLess, Value1: "2021-01-01"}, true},
		{"Equal", domain.Factor{Name: "f", ParameterName: "HireDate", Operator: domain.OpEqual, Value1: "2020-03-15"}, true},
		{"Between", domain.Factor{Name: "f", ParameterName: "HireDate", Operator: domain.OpBetween, Value1: "2020-01-01", Value2: "2020-12-31"}, true},
		{"BetweenFail", domain.Factor{Name: "f", ParameterName: "HireDate", Operator: domain.OpBetween, Value1: "2021-01-01", Value2: "2021-12-31"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := EvaluateFactor(&tc.factor, rs, resolved)
			if res.Pass != tc.pass {
				t.Errorf("expected pass=%v, got %v", tc.pass, res.Pass)
			}
		})
	}
}

func TestEvaluateFactorComputedValue(t *testing.T) {
	rs := factorRuleSet()
	resolved := Resolve(rs, map[string]any{"Segment": "employee"}, time.Now())

	f := domain.Factor{
		Name: "f", ParameterName: "Segment",
		Operator: domain.OpEqual, Value1: "salaried",
		UseComputedValue: true,
	}
	res := EvaluateFactor(&f, rs, resolved)
	if !res.Pass {
		t.Error("expected factor on computed value to pass")
	}
	if res.Value != "salaried" {
		t.Errorf("expected traced value 'salaried', got '%s'", res.Value)
	}
}

func TestEvaluateFactorMissingParameter(t *testing.T) {
	rs := factorRuleSet()

	t.Run("MissingValue", func(t *testing.T) {
		resolved := Resolve(rs, map[string]any{}, time.Now())
		f := domain.Factor{Name: "f", ParameterName: "Age", Operator: domain.OpGreaterEqual, Value1: "18"}

		res := EvaluateFactor(&f, rs, resolved)
		if res.Pass {
			t.Error("expected factor over missing parameter to fail")
		}
		if res.Reason.Code != "AGE_LIMIT" {
			t.Errorf("expected configured reason 'AGE_LIMIT', got '%s'", res.Reason.Code)
		}
	})

	t.Run("UnconfiguredParameter", func(t *testing.T) {
		resolved := Resolve(rs, map[string]any{}, time.Now())
		f := domain.Factor{Name: "f", ParameterName: "Unknown", Operator: domain.OpEqual, Value1: "x"}

		res := EvaluateFactor(&f, rs, resolved)
		if res.Pass {
			t.Error("expected factor over unconfigured parameter to fail")
		}
		if res.Reason.Code != "PARAM_NOT_CONFIGURED" {
			t.Errorf("expected 'PARAM_NOT_CONFIGURED', got '%s'", res.Reason.Code)
		}
	})
}
