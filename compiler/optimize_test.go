package compiler

import (
	"testing"
)

// optimized parses input, runs all passes, and renders the result.
func optimized(t *testing.T, input string) string {
	t.Helper()
	return Optimize(parseOne(t, input)).String()
}

func TestFoldArithmetic(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"(+ 1 2)", "3"},
		{"(+ 1 2 3 4)", "10"},
		{"(- 10 4)", "6"},
		{"(- 5)", "-5"},
		{"(* 3 4)", "12"},
		{"(/ 10 2)", "5"},
		{"(/ 7 2)", "3"}, // integer division truncates
		{"(mod 7 3)", "1"},
		{"(+ 1.5 2.5)", "4.0"},
		{"(+ 1 2.0)", "3.0"}, // any float operand widens
		{"(* 2 2.5)", "5.0"},
		{"(/ 1 2.0)", "0.5"},
		{"(+ (* 2 3) (- 8 2))", "12"}, // nested folding bottom-up
	}

	for _, tc := range tests {
		if got := optimized(t, tc.input); got != tc.want {
			t.Errorf("Optimize(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestFoldComparisons(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"(= 1 1)", "true"},
		{"(= 1 2)", "false"},
		{"(= 1 1.0)", "true"}, // numeric equality crosses types
		{"(not= 1 2)", "true"},
		{"(< 1 2)", "true"},
		{"(<= 2 2)", "true"},
		{"(> 1 2)", "false"},
		{"(>= 3 2)", "true"},
		{`(= "a" "a")`, "true"},
		{`(= "a" "b")`, "false"},
		{"(= true false)", "false"},
		{`(= 1 "a")`, "false"}, // cross-kind literals are unequal
	}

	for _, tc := range tests {
		if got := optimized(t, tc.input); got != tc.want {
			t.Errorf("Optimize(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestFoldIf(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"(if true a b)", "a"},
		{"(if false a b)", "b"},
		{"(if false a)", "()"},
		{"(if 0 a b)", "a"},     // only false is falsy
		{`(if "" a b)`, "a"},
		{"(if (< 1 2) a b)", "a"}, // condition folds first
		{"(if x a b)", "(if x a b)"},
	}

	for _, tc := range tests {
		if got := optimized(t, tc.input); got != tc.want {
			t.Errorf("Optimize(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNeverFoldFaults(t *testing.T) {
	// Folding must not hide a runtime fault.
	tests := []string{
		"(/ 1 0)",
		"(/ 10 2 0)",
		"(mod 1 0)",
	}
	for _, input := range tests {
		if got := optimized(t, input); got != input {
			t.Errorf("Optimize(%q) = %q, want unchanged", input, got)
		}
	}

	// A float zero divisor likewise stays.
	if got := optimized(t, "(/ 1.0 0.0)"); got != "(/ 1.0 0.0)" {
		t.Errorf("float division by zero folded to %q", got)
	}
}

func TestFoldLeavesNonLiterals(t *testing.T) {
	tests := []string{
		"(+ x 2)",
		"(< x 10)",
		"(f 1 2)",
	}
	for _, input := range tests {
		if got := optimized(t, input); got != input {
			t.Errorf("Optimize(%q) = %q, want unchanged", input, got)
		}
	}
}

func TestQuoteIsOpaqueToOptimizer(t *testing.T) {
	tests := []string{
		"'(+ 1 2)",
		"'(if true a b)",
	}
	for _, input := range tests {
		if got := optimized(t, input); got != input {
			t.Errorf("Optimize(%q) = %q, want unchanged", input, got)
		}
	}
}

func TestSimplifyIdentities(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"(+ x 0)", "x"},
		{"(+ 0 x)", "x"},
		{"(+ x 0 y)", "(+ x y)"},
		{"(* x 1)", "x"},
		{"(* 1 x)", "x"},
		{"(- x 0)", "x"},
		{"(/ x 1)", "x"},
		{"(- (- x))", "x"},
		// Float identities change promotion and must survive.
		{"(+ x 0.0)", "(+ x 0.0)"},
		{"(* x 1.0)", "(* x 1.0)"},
		// Leading operand of a non-commutative form is never dropped.
		{"(- 0 x)", "(- 0 x)"},
	}

	for _, tc := range tests {
		got := Simplify(parseOne(t, tc.input)).String()
		if got != tc.want {
			t.Errorf("Simplify(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestReduceStrength(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"(* x 0)", "0"},
		{"(* 0 x)", "0"},
		{"(* x 0.0)", "0.0"}, // zero keeps its type
		{"(* (f) 0)", "0"},   // operand elided, side effects included
		{"(* x -1)", "(- x)"},
		{"(* -1 x)", "(- x)"},
		{"(* x 2)", "(* x 2)"},
	}

	for _, tc := range tests {
		got := ReduceStrength(parseOne(t, tc.input)).String()
		if got != tc.want {
			t.Errorf("ReduceStrength(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestOptimizeIdempotent(t *testing.T) {
	inputs := []string{
		"(+ 1 2)",
		"(+ x 0)",
		"(* x -1)",
		"(if (< 1 2) (+ 1 2) y)",
		"(f (+ x 0) (* 3 4))",
		"(/ 1 0)",
	}
	for _, input := range inputs {
		once := Optimize(parseOne(t, input))
		twice := Optimize(once)
		if !Equal(once, twice) {
			t.Errorf("Optimize(%q) not idempotent: %s then %s", input, once, twice)
		}
	}
}

func TestOptimizePipelineOrder(t *testing.T) {
	// Folding exposes identities that simplification then removes.
	tests := []struct {
		input string
		want  string
	}{
		{"(+ x (- 2 2))", "x"},
		{"(* x (- 2 1))", "x"},
		{"(* x (- 1 2))", "(- x)"},
	}
	for _, tc := range tests {
		if got := optimized(t, tc.input); got != tc.want {
			t.Errorf("Optimize(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
