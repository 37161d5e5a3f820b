package compiler

import (
	"strings"
	"testing"
)

// expandAll is a test helper: define macros from defs, then expand
// input fully.
func expandAll(t *testing.T, defs, input string) string {
	t.Helper()
	e := NewExpander()
	if defs != "" {
		forms, err := Parse(defs)
		if err != nil {
			t.Fatalf("parse defs: %v", err)
		}
		for _, f := range forms {
			if err := e.Define(f); err != nil {
				t.Fatalf("define: %v", err)
			}
		}
	}
	form := parseOne(t, input)
	out, err := e.ExpandAll(form)
	if err != nil {
		t.Fatalf("ExpandAll(%q): %v", input, err)
	}
	return out.String()
}

func TestExpandNonMacroUntouched(t *testing.T) {
	tests := []string{"(+ 1 2)", "42", "foo", "(f (g x))", "()"}
	for _, input := range tests {
		if got := expandAll(t, "", input); got != input {
			t.Errorf("ExpandAll(%q) = %q, want unchanged", input, got)
		}
	}
}

func TestExpandSimpleMacro(t *testing.T) {
	defs := "(defmacro when (test body) `(if ,test ,body ()))"
	got := expandAll(t, defs, "(when (> x 0) (print x))")
	want := "(if (> x 0) (print x) ())"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandNestedMacroCalls(t *testing.T) {
	defs := `
		(defmacro when (test body) ` + "`" + `(if ,test ,body ()))
		(defmacro unless (test body) ` + "`" + `(when (not ,test) ,body))`
	got := expandAll(t, defs, "(unless done (print 1))")
	want := "(if (not done) (print 1) ())"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandQuoteIsOpaque(t *testing.T) {
	defs := "(defmacro m (x) `(got ,x))"
	got := expandAll(t, defs, "'(m 1)")
	if got != "'(m 1)" {
		t.Errorf("quoted form expanded: %q", got)
	}
}

func TestExpandMacroInArguments(t *testing.T) {
	defs := "(defmacro twice (x) `(+ ,x ,x))"
	got := expandAll(t, defs, "(f (twice 3))")
	want := "(f (+ 3 3))"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpand1SingleStep(t *testing.T) {
	e := NewExpander()
	def := parseOne(t, "(defmacro inc (x) `(+ ,x 1))")
	if err := e.Define(def); err != nil {
		t.Fatal(err)
	}

	form := parseOne(t, "(inc (inc 5))")
	out, expanded, err := e.Expand1(form)
	if err != nil {
		t.Fatal(err)
	}
	if !expanded {
		t.Fatal("Expand1 did not expand")
	}
	// One step: the outer call expands, the inner argument does not.
	if got := out.String(); got != "(+ (inc 5) 1)" {
		t.Errorf("got %q, want %q", got, "(+ (inc 5) 1)")
	}

	// A non-macro form comes back unchanged.
	plain := parseOne(t, "(+ 1 2)")
	out, expanded, err = e.Expand1(plain)
	if err != nil {
		t.Fatal(err)
	}
	if expanded || out.String() != "(+ 1 2)" {
		t.Errorf("Expand1 on non-macro: expanded=%v out=%q", expanded, out)
	}
}

func TestGensymUnique(t *testing.T) {
	e := NewExpander()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := e.Gensym()
		if seen[s] {
			t.Fatalf("gensym repeated %q", s)
		}
		seen[s] = true
		if !strings.HasPrefix(s, "#g") {
			t.Fatalf("gensym %q lacks the unlexable prefix", s)
		}
	}
}

func TestGensymInMacro(t *testing.T) {
	defs := "(defmacro once (x) (quasiquote (let (((unquote (gensym)) (unquote x))) done)))"
	got := expandAll(t, defs, "(once (f))")
	if !strings.Contains(got, "#g") {
		t.Errorf("expansion lacks gensym binding: %q", got)
	}
}

func TestExpandDefunSkipsPatterns(t *testing.T) {
	// Patterns look like calls but are match templates; only clause
	// bodies expand.
	defs := "(defmacro z () `0)"
	got := expandAll(t, defs, "(defun f (((z)) (z)))")
	want := "(defun f (((z)) 0))"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandLambdaSkipsParams(t *testing.T) {
	defs := "(defmacro x () `9)"
	got := expandAll(t, defs, "(lambda (x) (x))")
	want := "(lambda (x) 9)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandLetSkipsBindingNames(t *testing.T) {
	defs := "(defmacro v () `7)"
	got := expandAll(t, defs, "(let ((v (v))) (v))")
	want := "(let ((v 7)) 7)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNestedDefmacroRejected(t *testing.T) {
	e := NewExpander()
	form := parseOne(t, "(defun f (x) (defmacro m (y) y))")
	if _, err := e.ExpandAll(form); err == nil {
		t.Error("nested defmacro: want error")
	}
}

func TestMacroRedefinitionRejected(t *testing.T) {
	e := NewExpander()
	def := parseOne(t, "(defmacro m (x) x)")
	if err := e.Define(def); err != nil {
		t.Fatal(err)
	}
	if err := e.Define(def); err == nil {
		t.Error("redefining macro: want error")
	}
}

func TestMacroUndefine(t *testing.T) {
	e := NewExpander()
	def := parseOne(t, "(defmacro m (x) x)")
	if err := e.Define(def); err != nil {
		t.Fatal(err)
	}
	e.Undefine("m")
	if e.IsMacro("m") {
		t.Error("macro still defined after Undefine")
	}
}

func TestQuasiquoteExpansion(t *testing.T) {
	// Quasiquote without unquotes is equivalent to quote.
	e := NewExpander()
	tests := []struct {
		input string
		// want is matched against the fully-expanded printed form.
		contains []string
	}{
		{"`x", []string{"'x"}},
		{"`(a b)", []string{"cons", "'a", "'b"}},
		{"`(a ,b)", []string{"cons", "'a", "b"}},
	}
	for _, tc := range tests {
		form := parseOne(t, tc.input)
		out, err := e.ExpandAll(form)
		if err != nil {
			t.Fatalf("ExpandAll(%q): %v", tc.input, err)
		}
		s := out.String()
		for _, want := range tc.contains {
			if !strings.Contains(s, want) {
				t.Errorf("ExpandAll(%q) = %q, missing %q", tc.input, s, want)
			}
		}
	}
}

func TestMacroArityError(t *testing.T) {
	e := NewExpander()
	def := parseOne(t, "(defmacro pair (a b) `(,a ,b))")
	if err := e.Define(def); err != nil {
		t.Fatal(err)
	}
	form := parseOne(t, "(pair 1)")
	if _, err := e.ExpandAll(form); err == nil {
		t.Error("macro called with wrong arity: want error")
	}
}
