package rules

import (
	"testing"

	"github.com/opensource-finance/kite/internal/domain"
)

func TestCompile(t *testing.T) {
	compiler, err := NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}

	t.Run("SimpleIdentifier", func(t *testing.T) {
		cp, err := compiler.Compile("k1", "age_ok")
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if len(cp.Refs) != 1 || cp.Refs[0] != "age_ok" {
			t.Errorf("expected refs [age_ok], got %v", cp.Refs)
		}
	})

	t.Run("BooleanExpression", func(t *testing.T) {
		cp, err := compiler.Compile("k2", "age_ok && (salary_ok || has_guarantor)")
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if len(cp.Refs) != 3 {
			t.Errorf("expected 3 refs, got %v", cp.Refs)
		}
	})

	t.Run("ParseError", func(t *testing.T) {
		_, err := compiler.Compile("k3", "age_ok &&")
		if err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("CachedBySameKey", func(t *testing.T) {
		before := compiler.Size()
		cp1, _ := compiler.Compile("k4", "a && b")
		cp2, _ := compiler.Compile("k4", "a && b")
		if cp1 != cp2 {
			t.Error("expected the same compiled program for the same key")
		}
		if compiler.Size() != before+1 {
			t.Errorf("expected one new cache entry, size went %d -> %d", before, compiler.Size())
		}
	})

	t.Run("RecompiledWhenExpressionChanges", func(t *testing.T) {
		before := compiler.Size()
		cp1, err := compiler.Compile("k6", "a && b")
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		// A configuration edit reuses the entity key with new expression text.
		cp2, err := compiler.Compile("k6", "a || b")
		if err != nil {
			t.Fatalf("recompile failed: %v", err)
		}
		if cp2 == cp1 || cp2.Expression != "a || b" {
			t.Fatalf("expected a fresh program for the edited expression, got %q", cp2.Expression)
		}

		got, err := cp2.Eval(map[string]bool{"a": true, "b": false})
		if err != nil {
			t.Fatalf("Eval failed: %v", err)
		}
		if !got {
			t.Error("edited expression must govern: a || b with a=true is true")
		}

		if compiler.Size() != before+1 {
			t.Errorf("expected the entry to be replaced, not duplicated, size went %d -> %d", before, compiler.Size())
		}
	})

	t.Run("DuplicateRefsDeduped", func(t *testing.T) {
		cp, err := compiler.Compile("k5", "a && (a || b)")
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if len(cp.Refs) != 2 {
			t.Errorf("expected refs [a b], got %v", cp.Refs)
		}
	})
}

func TestEval(t *testing.T) {
	compiler, _ := NewCompiler()

	cases := []struct {
		name   string
		expr   string
		values map[string]bool
		want   bool
	}{
		{"SingleTrue", "a", map[string]bool{"a": true}, true},
		{"SingleFalse", "a", map[string]bool{"a": false}, false},
		{"MissingRefDefaultsFalse", "a && b", map[string]bool{"a": true}, false},
		{"And", "a && b", map[string]bool{"a": true, "b": true}, true},
		{"Or", "a || b", map[string]bool{"a": false, "b": true}, true},
		{"Not", "!a", map[string]bool{"a": false}, true},
		{"Nested", "(a || b) && !c", map[string]bool{"a": false, "b": true, "c": false}, true},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cp, err := compiler.Compile(tc.name+string(rune('0'+i)), tc.expr)
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			got, err := cp.Eval(tc.values)
			if err != nil {
				t.Fatalf("Eval failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("%s with %v: expected %v, got %v", tc.expr, tc.values, tc.want, got)
			}
		})
	}
}

func TestFailingRefs(t *testing.T) {
	compiler, _ := NewCompiler()

	compile := func(t *testing.T, expr string) *Compiled {
		t.Helper()
		cp, err := compiler.Compile("fr:"+expr, expr)
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		return cp
	}

	t.Run("PassingExpressionHasNoFailures", func(t *testing.T) {
		cp := compile(t, "a && b")
		refs := cp.FailingRefs(map[string]bool{"a": true, "b": true})
		if refs != nil {
			t.Errorf("expected nil, got %v", refs)
		}
	})

	t.Run("AndCollectsAllFailingBranches", func(t *testing.T) {
		cp := compile(t, "a && b && c")
		refs := cp.FailingRefs(map[string]bool{"a": false, "b": true, "c": false})
		if len(refs) != 2 || refs[0] != "a" || refs[1] != "c" {
			t.Errorf("expected [a c], got %v", refs)
		}
	})

	t.Run("OrWithPassingSiblingContributesNothing", func(t *testing.T) {
		cp := compile(t, "(a || b) && c")
		refs := cp.FailingRefs(map[string]bool{"a": false, "b": true, "c": false})
		if len(refs) != 1 || refs[0] != "c" {
			t.Errorf("expected only [c], got %v", refs)
		}
	})

	t.Run("OrAllFailingCollectsAll", func(t *testing.T) {
		cp := compile(t, "a || b")
		refs := cp.FailingRefs(map[string]bool{"a": false, "b": false})
		if len(refs) != 2 {
			t.Errorf("expected [a b], got %v", refs)
		}
	})

	t.Run("NegatedChildContributesNoRefs", func(t *testing.T) {
		cp := compile(t, "!a && b")
		refs := cp.FailingRefs(map[string]bool{"a": true, "b": true})
		if len(refs) != 0 {
			t.Errorf("expected no refs for a negated passing child, got %v", refs)
		}
	})
}

func TestDedupReasons(t *testing.T) {
	r1 := domain.RejectionReason{Code: "A", Description: "first"}
	r2 := domain.RejectionReason{Code: "B", Description: "second"}

	out := DedupReasons([]domain.RejectionReason{r1, r2, r1, r2, r1})
	if len(out) != 2 || out[0] != r1 || out[1] != r2 {
		t.Errorf("expected [A B], got %v", out)
	}
}
