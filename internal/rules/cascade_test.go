package rules

import (
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/params"
)

// memorySink collects trace rows for assertions.
type memorySink struct {
	parameters []domain.HistoryParameter
	erules     []domain.HistoryEr
	ecards     []domain.HistoryEc
	pcards     []domain.HistoryPc
}

func (s *memorySink) Parameter(row domain.HistoryParameter) { s.parameters = append(s.parameters, row) }
func (s *memorySink) Erule(row domain.HistoryEr)            { s.erules = append(s.erules, row) }
func (s *memorySink) Ecard(row domain.HistoryEc)            { s.ecards = append(s.ecards, row) }
func (s *memorySink) Pcard(row domain.HistoryPc)            { s.pcards = append(s.pcards, row) }

func cascadeRuleSet() *domain.RuleSet {
	past := time.Now().Add(-time.Hour)
	return &domain.RuleSet{
		TenantID: "tenant-001",
		Parameters: []domain.Parameter{
			{ID: "p-age", Name: "Age", DataType: domain.DataTypeNumber,
				RejectionReasonCode: "AGE_LIMIT", RejectionReason: "age outside allowed range"},
			{ID: "p-salary", Name: "Salary", DataType: domain.DataTypeNumber,
				RejectionReasonCode: "SALARY_LOW", RejectionReason: "salary below minimum"},
		},
		Factors: []domain.Factor{
			{ID: "f-age", Name: "age_ok", ParameterName: "Age", Operator: domain.OpGreaterEqual, Value1: "18"},
			{ID: "f-salary", Name: "salary_ok", ParameterName: "Salary", Operator: domain.OpGreaterEqual, Value1: "3000"},
		},
		RuleMasters: []domain.EruleMaster{
			{ID: "r-age", Name: "age_rule", Versions: []domain.Erule{
				{ID: "r-age-v1", Version: 1, Expression: "age_ok", ValidFrom: past, IsPublished: true},
			}},
			{ID: "r-income", Name: "income_rule", Versions: []domain.Erule{
				{ID: "r-income-v1", Version: 1, Expression: "salary_ok", ValidFrom: past, IsPublished: true},
			}},
		},
		Ecards: []domain.Ecard{
			{ID: "ec-base", Name: "base_card", Expression: "age_rule && income_rule"},
		},
		Pcards: []domain.Pcard{
			{ID: "pc-1", Name: "loan_gate", ProductID: "prod-1", Expression: "base_card"},
			{ID: "pc-2", Name: "card_gate", ProductID: "prod-2", Expression: "base_card"},
		},
		Products: []domain.Product{
			{ID: "prod-1", Name: "Personal Loan"},
			{ID: "prod-2", Name: "Credit Card"},
		},
	}
}

func newCascade(t *testing.T, rs *domain.RuleSet, raw map[string]any, sink TraceSink) *Cascade {
	t.Helper()
	compiler, err := NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	at := time.Now()
	resolved := params.Resolve(rs, raw, at)
	return NewCascade(compiler, rs, resolved, at, sink, 16)
}

func TestCascadePass(t *testing.T) {
	rs := cascadeRuleSet()
	sink := &memorySink{}
	c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 5000.0}, sink)

	pcard, _ := rs.PcardForProduct("prod-1")
	out := c.EvaluatePcard(pcard)

	if out.State != domain.StatePassed || !out.Pass {
		t.Fatalf("expected PASSED, got %+v", out)
	}
	if len(out.Reasons) != 0 {
		t.Errorf("expected no reasons on pass, got %v", out.Reasons)
	}

	if len(sink.pcards) != 1 || !sink.pcards[0].Result {
		t.Errorf("expected one passing pcard row, got %+v", sink.pcards)
	}
	if len(sink.ecards) != 1 || !sink.ecards[0].Result {
		t.Errorf("expected one passing ecard row, got %+v", sink.ecards)
	}
	if len(sink.erules) != 2 {
		t.Errorf("expected two erule rows, got %d", len(sink.erules))
	}
	if len(sink.parameters) != 2 {
		t.Errorf("expected two factor rows, got %d", len(sink.parameters))
	}
}

func TestCascadeFailureAttribution(t *testing.T) {
	rs := cascadeRuleSet()
	sink := &memorySink{}
	c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 1000.0}, sink)

	pcard, _ := rs.PcardForProduct("prod-1")
	out := c.EvaluatePcard(pcard)

	if out.State != domain.StateFailed {
		t.Fatalf("expected FAILED, got %+v", out)
	}
	if len(out.Reasons) != 1 {
		t.Fatalf("expected exactly one reason, got %v", out.Reasons)
	}
	if out.Reasons[0].Code != "SALARY_LOW" {
		t.Errorf("expected SALARY_LOW, got %s", out.Reasons[0].Code)
	}
}

func TestCascadeShortCircuitReasons(t *testing.T) {
	rs := cascadeRuleSet()
	// Either rule is enough; only the applicant's age passes.
	rs.Ecards[0].Expression = "age_rule || income_rule"

	sink := &memorySink{}
	c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 1000.0}, sink)

	pcard, _ := rs.PcardForProduct("prod-1")
	out := c.EvaluatePcard(pcard)

	if out.State != domain.StatePassed {
		t.Fatalf("expected PASSED via OR branch, got %+v", out)
	}
}

func TestCascadeMemoization(t *testing.T) {
	rs := cascadeRuleSet()
	sink := &memorySink{}
	c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 5000.0}, sink)

	pc1, _ := rs.PcardForProduct("prod-1")
	pc2, _ := rs.PcardForProduct("prod-2")

	c.EvaluatePcard(pc1)
	c.EvaluatePcard(pc2)

	// Both pcards share base_card; the shared subtree is traced once.
	if len(sink.pcards) != 2 {
		t.Errorf("expected two pcard rows, got %d", len(sink.pcards))
	}
	if len(sink.ecards) != 1 {
		t.Errorf("expected shared ecard to be evaluated once, got %d rows", len(sink.ecards))
	}
	if len(sink.erules) != 2 {
		t.Errorf("expected each erule evaluated once, got %d rows", len(sink.erules))
	}
	if len(sink.parameters) != 2 {
		t.Errorf("expected each factor evaluated once, got %d rows", len(sink.parameters))
	}
}

func TestCascadeConfigurationGaps(t *testing.T) {
	t.Run("PcardParseError", func(t *testing.T) {
		rs := cascadeRuleSet()
		rs.Pcards[0].Expression = "base_card &&"

		sink := &memorySink{}
		c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 5000.0}, sink)

		pcard, _ := rs.PcardForProduct("prod-1")
		out := c.EvaluatePcard(pcard)

		if out.State != domain.StateConfigError {
			t.Fatalf("expected CONFIG_ERROR, got %v", out.State)
		}
		if len(sink.pcards) != 1 || sink.pcards[0].Marker != domain.MarkerParseError {
			t.Errorf("expected PARSE_ERROR marker, got %+v", sink.pcards)
		}
	})

	t.Run("MissingEcard", func(t *testing.T) {
		rs := cascadeRuleSet()
		rs.Pcards[0].Expression = "missing_card"

		sink := &memorySink{}
		c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 5000.0}, sink)

		pcard, _ := rs.PcardForProduct("prod-1")
		out := c.EvaluatePcard(pcard)

		if out.State != domain.StateFailed {
			t.Fatalf("expected FAILED, got %v", out.State)
		}
		if len(out.Reasons) != 1 || out.Reasons[0].Code != "NOT_CONFIGURED" {
			t.Errorf("expected NOT_CONFIGURED reason, got %v", out.Reasons)
		}
		if len(sink.ecards) != 1 || sink.ecards[0].Marker != domain.MarkerNotConfigured {
			t.Errorf("expected NOT_CONFIGURED marker, got %+v", sink.ecards)
		}
	})

	t.Run("MissingRule", func(t *testing.T) {
		rs := cascadeRuleSet()
		rs.Ecards[0].Expression = "missing_rule"

		sink := &memorySink{}
		c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 5000.0}, sink)

		pcard, _ := rs.PcardForProduct("prod-1")
		out := c.EvaluatePcard(pcard)

		if out.State != domain.StateFailed {
			t.Fatalf("expected FAILED, got %v", out.State)
		}
		if len(sink.erules) != 1 || sink.erules[0].Marker != domain.MarkerNotConfigured {
			t.Errorf("expected NOT_CONFIGURED erule marker, got %+v", sink.erules)
		}
	})

	t.Run("MissingFactor", func(t *testing.T) {
		rs := cascadeRuleSet()
		rs.RuleMasters[0].Versions[0].Expression = "missing_factor"

		sink := &memorySink{}
		c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 5000.0}, sink)

		pcard, _ := rs.PcardForProduct("prod-1")
		out := c.EvaluatePcard(pcard)

		if out.State != domain.StateFailed {
			t.Fatalf("expected FAILED, got %v", out.State)
		}
	})

	t.Run("NoEffectiveRuleVersion", func(t *testing.T) {
		rs := cascadeRuleSet()
		rs.RuleMasters[0].Versions[0].IsPublished = false

		sink := &memorySink{}
		c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 5000.0}, sink)

		pcard, _ := rs.PcardForProduct("prod-1")
		out := c.EvaluatePcard(pcard)

		if out.State != domain.StateFailed {
			t.Fatalf("expected FAILED, got %v", out.State)
		}
		if len(out.Reasons) != 1 || out.Reasons[0].Code != "NOT_CONFIGURED" {
			t.Errorf("expected NOT_CONFIGURED reason, got %v", out.Reasons)
		}
	})

	t.Run("BrokenRuleIsolatedFromSibling", func(t *testing.T) {
		rs := cascadeRuleSet()
		// income_rule parses fine and passes; age_rule is broken.
		rs.RuleMasters[0].Versions[0].Expression = "age_ok &&"
		rs.Ecards[0].Expression = "age_rule || income_rule"

		sink := &memorySink{}
		c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 5000.0}, sink)

		pcard, _ := rs.PcardForProduct("prod-1")
		out := c.EvaluatePcard(pcard)

		if out.State != domain.StatePassed {
			t.Fatalf("expected a broken rule to degrade to false, not poison the sibling: %+v", out)
		}
	})
}

func TestCascadeExpressionEdit(t *testing.T) {
	compiler, err := NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	at := time.Now()
	raw := map[string]any{"Age": 30.0, "Salary": 1000.0}

	rs := cascadeRuleSet()
	rs.Ecards[0].Expression = "age_rule || income_rule"

	resolved := params.Resolve(rs, raw, at)
	out := NewCascade(compiler, rs, resolved, at, &memorySink{}, 16).
		EvaluatePcard(&rs.Pcards[0])
	if out.State != domain.StatePassed {
		t.Fatalf("expected PASSED before the edit, got %+v", out)
	}

	// Tighten the card on the same long-lived compiler; the edited
	// expression must govern the next evaluation and its trace row.
	rs.Ecards[0].Expression = "age_rule && income_rule"

	sink := &memorySink{}
	resolved = params.Resolve(rs, raw, at)
	out = NewCascade(compiler, rs, resolved, at, sink, 16).
		EvaluatePcard(&rs.Pcards[0])
	if out.State != domain.StateFailed {
		t.Fatalf("expected FAILED after the edit, got %+v", out)
	}
	if len(out.Reasons) != 1 || out.Reasons[0].Code != "SALARY_LOW" {
		t.Errorf("expected SALARY_LOW from the edited card, got %v", out.Reasons)
	}
	if len(sink.ecards) != 1 || sink.ecards[0].Expression != "age_rule && income_rule" {
		t.Fatalf("expected the trace to carry the edited expression, got %+v", sink.ecards)
	}
	if sink.ecards[0].Result {
		t.Error("trace row result must reflect the edited expression")
	}
}

func TestCascadeVersionSelection(t *testing.T) {
	rs := cascadeRuleSet()
	past := time.Now().Add(-time.Hour)

	// Version 2 tightens the age rule to an unsatisfiable bound.
	rs.RuleMasters[0].Versions = append(rs.RuleMasters[0].Versions, domain.Erule{
		ID: "r-age-v2", Version: 2, Expression: "age_ok && salary_ok", ValidFrom: past, IsPublished: true,
	})

	sink := &memorySink{}
	c := newCascade(t, rs, map[string]any{"Age": 30.0, "Salary": 1000.0}, sink)

	pcard, _ := rs.PcardForProduct("prod-1")
	out := c.EvaluatePcard(pcard)

	if out.State != domain.StateFailed {
		t.Fatalf("expected version 2 to govern, got %+v", out)
	}

	found := false
	for _, row := range sink.erules {
		if row.EruleID == "r-age-v2" && row.Version == 2 {
			found = true
		}
	}
	if !found {
		t.Error("expected trace to record the selected version 2")
	}
}
