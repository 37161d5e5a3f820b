package interp

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/calyx/pkg/bytecode"
	"github.com/chazu/calyx/pkg/cache"
	"github.com/chazu/calyx/pkg/value"
)

func newTestInterp(t *testing.T) (*Interp, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return New(&buf), &buf
}

// evalLast evaluates src and renders the value of the last form.
func evalLast(t *testing.T, in *Interp, src string) string {
	t.Helper()
	vals, err := in.Eval(src)
	if err != nil {
		t.Fatalf("Eval(%q): %v", src, err)
	}
	if len(vals) == 0 {
		t.Fatalf("Eval(%q): no results", src)
	}
	out := value.Format(vals[len(vals)-1])
	for _, v := range vals {
		in.Release(v)
	}
	return out
}

func TestPrelude(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"nil", "()"},
		{"(length '(a b c))", "3"},
		{"(length ())", "0"},
		{"(reverse '(1 2 3))", "(3 2 1)"},
		{"(append '(1 2) '(3 4))", "(1 2 3 4)"},
		{"(append () '(1))", "(1)"},
		{"(map (lambda (x) (* x x)) '(1 2 3))", "(1 4 9)"},
		{"(map car '((1 2) (3 4)))", "(1 3)"},
		{"(filter even? (range 10))", "(0 2 4 6 8)"},
		{"(reduce + 0 '(1 2 3 4))", "10"},
		{"(reduce (lambda (acc x) (cons x acc)) () '(1 2))", "(2 1)"},
		{"(nth 0 '(a b c))", "a"},
		{"(nth 2 '(a b c))", "c"},
		{"(first '(1 2))", "1"},
		{"(second '(1 2 3))", "2"},
		{"(last '(1 2 3))", "3"},
		{"(take 2 '(a b c))", "(a b)"},
		{"(take 5 '(a))", "(a)"},
		{"(drop 2 '(a b c))", "(c)"},
		{"(range 4)", "(0 1 2 3)"},
		{"(member? 2 '(1 2 3))", "true"},
		{"(member? 9 '(1 2 3))", "false"},
		{"(zip '(1 2 3) '(a b))", "((1 a) (2 b))"},
		{"(assoc 'b '((a 1) (b 2)))", "(b 2)"},
		{"(assoc 'z '((a 1)))", "false"},
		{"(abs -4)", "4"},
		{"(abs 4)", "4"},
		{"(max 2 9)", "9"},
		{"(min 2 9)", "2"},
		{"(even? 4)", "true"},
		{"(odd? 4)", "false"},
		{"(sum (range 101))", "5050"},
		{"(product '(1 2 3 4))", "24"},
	}
	in, _ := newTestInterp(t)
	for _, tc := range tests {
		if got := evalLast(t, in, tc.src); got != tc.want {
			t.Errorf("eval(%q) = %s, want %s", tc.src, got, tc.want)
		}
	}
}

func TestPreludeMacros(t *testing.T) {
	in, _ := newTestInterp(t)
	tests := []struct {
		src  string
		want string
	}{
		{"(when true 1)", "1"},
		{"(when false 1)", "()"},
		{"(unless false 2)", "2"},
		{"(unless true 2)", "()"},
		{"(swap '(1 2))", "(2 1)"},
	}
	for _, tc := range tests {
		if got := evalLast(t, in, tc.src); got != tc.want {
			t.Errorf("eval(%q) = %s, want %s", tc.src, got, tc.want)
		}
	}
}

func TestPreludeTraversalsScale(t *testing.T) {
	// Prelude traversals are loop/recur based: a 100k list neither
	// overflows the VM nor the Go stack.
	in, _ := newTestInterp(t)
	if got := evalLast(t, in, "(length (range 100000))"); got != "100000" {
		t.Errorf("got %s", got)
	}
	if got := evalLast(t, in, "(sum (map (lambda (x) 1) (range 100000)))"); got != "100000" {
		t.Errorf("got %s", got)
	}
}

func TestNthOutOfRangeFaults(t *testing.T) {
	in, _ := newTestInterp(t)
	_, err := in.Eval("(nth 5 '(1 2))")
	if !bytecode.IsFault(err, bytecode.FaultNoClause) {
		t.Fatalf("got %v, want no-matching-clause fault", err)
	}
}

func TestEvalReturnsPerFormValues(t *testing.T) {
	in, _ := newTestInterp(t)
	vals, err := in.Eval("1 (+ 1 1) 'three")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, v := range vals {
			in.Release(v)
		}
	}()
	if len(vals) != 3 {
		t.Fatalf("got %d values, want 3", len(vals))
	}
	for i, want := range []string{"1", "2", "three"} {
		if got := value.Format(vals[i]); got != want {
			t.Errorf("vals[%d] = %s, want %s", i, got, want)
		}
	}
}

func TestUserMacro(t *testing.T) {
	in, _ := newTestInterp(t)
	got := evalLast(t, in, `
		(defmacro twice (x) `+"`"+`(+ ,x ,x))
		(twice (* 2 3))`)
	if got != "12" {
		t.Errorf("got %s, want 12", got)
	}
}

func TestMacroHygieneViaGensym(t *testing.T) {
	in, _ := newTestInterp(t)
	// The macro introduces a binding whose name cannot collide with
	// user code: gensym names are unlexable.
	got := evalLast(t, in, `
		(defmacro shadow-safe (x)
		  `+"`"+`(let ((,(gensym) 0)) ,x))
		(let ((v 7)) (shadow-safe v))`)
	if got != "7" {
		t.Errorf("got %s, want 7", got)
	}
}

func TestMacroForwardReferenceWithinUnit(t *testing.T) {
	// A macro defined later in the unit is visible to earlier forms:
	// all defmacros register before anything expands.
	in, _ := newTestInterp(t)
	got := evalLast(t, in, `
		(defun use-it (x) (wrap x))
		(defmacro wrap (x) `+"`"+`(list ,x))
		(use-it 5)`)
	if got != "(5)" {
		t.Errorf("got %s, want (5)", got)
	}
}

func TestMacroexpandBuiltins(t *testing.T) {
	in, _ := newTestInterp(t)
	// Not a macro call: returned unchanged.
	if got := evalLast(t, in, "(macroexpand '(+ 1 2))"); got != "(+ 1 2)" {
		t.Errorf("macroexpand = %s", got)
	}
	if got := evalLast(t, in, "(macroexpand '(when a b))"); got != "(if a b ())" {
		t.Errorf("macroexpand = %s", got)
	}
	// Exactly one step at the head: sub-forms are never rewritten.
	if got := evalLast(t, in, "(macroexpand '(list (when a b)))"); got != "(list (when a b))" {
		t.Errorf("macroexpand rewrote a sub-form: %s", got)
	}

	got := evalLast(t, in, `
		(defmacro my-unless (test body) `+"`"+`(when (not ,test) ,body))
		(macroexpand '(my-unless x y))`)
	if got != "(when (not x) y)" {
		t.Errorf("macroexpand expanded past one step: %s", got)
	}
	// macroexpand-1 is an alias.
	if got := evalLast(t, in, "(macroexpand-1 '(my-unless x y))"); got != "(when (not x) y)" {
		t.Errorf("macroexpand-1 = %s", got)
	}
}

func TestGensymBuiltin(t *testing.T) {
	in, _ := newTestInterp(t)
	if got := evalLast(t, in, "(type-of (gensym))"); got != "symbol" {
		t.Errorf("type-of gensym = %s", got)
	}
	if got := evalLast(t, in, "(= (gensym) (gensym))"); got != "false" {
		t.Error("gensym returned equal symbols")
	}
}

func TestUnitCompileAtomicity(t *testing.T) {
	in, _ := newTestInterp(t)
	_, err := in.Eval("(def fresh 1) (no-such-thing)")
	if err == nil {
		t.Fatal("want compile error")
	}
	// The failed unit's declaration was rolled back, so the name is
	// free again.
	if got := evalLast(t, in, "(def fresh 2) fresh"); got != "2" {
		t.Errorf("got %s, want 2", got)
	}
}

func TestUnitMacroRollback(t *testing.T) {
	in, _ := newTestInterp(t)
	_, err := in.Eval("(defmacro m9 (x) x) (no-such-thing)")
	if err == nil {
		t.Fatal("want compile error")
	}
	_, err = in.Eval("(m9 1)")
	if err == nil || !strings.Contains(err.Error(), "unresolved") {
		t.Errorf("macro survived rollback: %v", err)
	}
}

func TestRedefinitionRejected(t *testing.T) {
	in, _ := newTestInterp(t)
	evalLast(t, in, "(def x 1)")
	if _, err := in.Eval("(def x 2)"); err == nil {
		t.Error("redefining x: want error")
	}
	if _, err := in.Eval("(def map 2)"); err == nil {
		t.Error("redefining the prelude's map: want error")
	}
	if _, err := in.Eval("(def car 2)"); err == nil {
		t.Error("redefining the builtin car: want error")
	}
	// The session is intact.
	if got := evalLast(t, in, "x"); got != "1" {
		t.Errorf("x = %s after failed redefinitions", got)
	}
}

func TestDefconst(t *testing.T) {
	in, _ := newTestInterp(t)
	if got := evalLast(t, in, "(defconst k 5) (* k 2)"); got != "10" {
		t.Errorf("got %s", got)
	}
	if _, err := in.Eval("(def k 1)"); err == nil {
		t.Error("redefining a constant: want error")
	}
}

func TestRuntimeFaultKeepsEarlierDefinitions(t *testing.T) {
	in, _ := newTestInterp(t)
	_, err := in.Eval("(def q 1) (car 5) (def r 2)")
	if !bytecode.IsFault(err, bytecode.FaultType) {
		t.Fatalf("got %v, want type fault", err)
	}
	// q ran before the fault and persists.
	if got := evalLast(t, in, "q"); got != "1" {
		t.Errorf("q = %s, want 1", got)
	}
	// r was declared but its definition never ran.
	_, err = in.Eval("r")
	if !bytecode.IsFault(err, bytecode.FaultUnbound) {
		t.Errorf("reading r: got %v, want unbound fault", err)
	}
}

func TestFaultTraceThroughPrelude(t *testing.T) {
	in, _ := newTestInterp(t)
	_, err := in.Eval("(map car '(1 2))")
	if !bytecode.IsFault(err, bytecode.FaultType) {
		t.Fatalf("got %v, want type fault", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "at map (") {
		t.Errorf("trace missing the map frame:\n%s", msg)
	}
	if !strings.Contains(msg, "car expects a non-empty list") {
		t.Errorf("fault line missing:\n%s", msg)
	}
}

func TestPrintBuiltins(t *testing.T) {
	in, buf := newTestInterp(t)
	got := evalLast(t, in, `(println "answer:" (+ 40 2))`)
	if got != "()" {
		t.Errorf("println result = %s, want ()", got)
	}
	if buf.String() != "answer: 42\n" {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	evalLast(t, in, `(print "a") (print "b")`)
	if buf.String() != "ab" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestStrBuiltin(t *testing.T) {
	in, _ := newTestInterp(t)
	if got := evalLast(t, in, `(str 1 "a" 'b)`); got != `"1ab"` {
		t.Errorf("got %s", got)
	}
}

func TestApplyBuiltin(t *testing.T) {
	in, _ := newTestInterp(t)
	tests := []struct{ src, want string }{
		{"(apply + '(1 2 3))", "6"},
		{"(apply max '(2 9))", "9"},
		{"(apply (lambda (a b) (cons a b)) '(1 2))", "(1 . 2)"},
	}
	for _, tc := range tests {
		if got := evalLast(t, in, tc.src); got != tc.want {
			t.Errorf("eval(%q) = %s, want %s", tc.src, got, tc.want)
		}
	}

	_, err := in.Eval("(apply 5 '(1))")
	if !bytecode.IsFault(err, bytecode.FaultNotFunction) {
		t.Errorf("got %v, want not-a-function fault", err)
	}
}

func TestFunctionReflection(t *testing.T) {
	in, _ := newTestInterp(t)
	tests := []struct{ src, want string }{
		{"(function-name max)", `"max"`},
		{"(function-name car)", `"car"`},
		{"(function-arity max)", "2"},
		{"(function-arity car)", "1"},
		{"(function-arity +)", "-1"},
		{"(function-params max)", "(a b)"},
	}
	for _, tc := range tests {
		if got := evalLast(t, in, tc.src); got != tc.want {
			t.Errorf("eval(%q) = %s, want %s", tc.src, got, tc.want)
		}
	}
}

func TestClosureCaptured(t *testing.T) {
	in, _ := newTestInterp(t)
	got := evalLast(t, in, `
		(def f (let ((n 3)) (lambda (x) (+ x n))))
		(closure-captured f)`)
	if !strings.Contains(got, "(n 3)") {
		t.Errorf("captured = %s, want a (n 3) pair", got)
	}

	if got := evalLast(t, in, "(closure-captured (lambda (x) x))"); got != "()" {
		t.Errorf("capture-free closure reported %s", got)
	}
}

func TestTypeOf(t *testing.T) {
	in, _ := newTestInterp(t)
	tests := []struct{ src, want string }{
		{"(type-of 1)", "integer"},
		{"(type-of 1.5)", "float"},
		{`(type-of "s")`, "string"},
		{"(type-of 'a)", "symbol"},
		{"(type-of ())", "list"},
		{"(type-of '(1))", "list"},
		{"(type-of car)", "function"},
		{"(type-of (lambda (x) x))", "function"},
	}
	for _, tc := range tests {
		if got := evalLast(t, in, tc.src); got != tc.want {
			t.Errorf("eval(%q) = %s, want %s", tc.src, got, tc.want)
		}
	}
}

func TestCompileOnlyLeavesSessionUntouched(t *testing.T) {
	in, _ := newTestInterp(t)
	clauses, err := in.CompileOnly("(def zz 1) (defmacro mz (x) x) (+ 1 2)")
	if err != nil {
		t.Fatal(err)
	}
	if len(clauses) != 2 {
		t.Errorf("clauses = %d, want 2 (macro forms emit nothing)", len(clauses))
	}
	if _, err := in.Eval("zz"); err == nil {
		t.Error("zz leaked out of CompileOnly")
	}
	if _, err := in.Eval("(mz 1)"); err == nil {
		t.Error("mz leaked out of CompileOnly")
	}
}

func TestReset(t *testing.T) {
	in, _ := newTestInterp(t)
	evalLast(t, in, "(def x 1)")
	in.Reset()
	if _, err := in.Eval("x"); err == nil {
		t.Error("x survived Reset")
	}
	// The prelude is back.
	if got := evalLast(t, in, "(sum (range 11))"); got != "55" {
		t.Errorf("prelude broken after Reset: %s", got)
	}
}

func TestEvalCached(t *testing.T) {
	c, err := cache.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	src := "(defun cube (x) (* x x x)) (cube 3)"

	a, _ := newTestInterp(t)
	vals, err := a.EvalCached(src, c)
	if err != nil {
		t.Fatal(err)
	}
	cold := value.Format(vals[len(vals)-1])
	for _, v := range vals {
		a.Release(v)
	}
	if cold != "27" {
		t.Fatalf("cold run = %s", cold)
	}

	// A fresh session replays the cached unit: same builtin and
	// prelude registration order means the same slot numbering.
	b, _ := newTestInterp(t)
	vals, err = b.EvalCached(src, c)
	if err != nil {
		t.Fatal(err)
	}
	warm := value.Format(vals[len(vals)-1])
	for _, v := range vals {
		b.Release(v)
	}
	if warm != cold {
		t.Errorf("warm run = %s, want %s", warm, cold)
	}
	// The cached definition is live in the warm session.
	if got := evalLast(t, b, "(cube 4)"); got != "64" {
		t.Errorf("(cube 4) = %s", got)
	}
}

func TestEvalCachedNameCollision(t *testing.T) {
	c, err := cache.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	src := "(def dup 2)"

	a, _ := newTestInterp(t)
	vals, err := a.EvalCached(src, c)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vals {
		a.Release(v)
	}

	// A session that already defines the name recompiles and reports
	// the redefinition with a position instead of replaying the hit.
	b, _ := newTestInterp(t)
	evalLast(t, b, "(def dup 1)")
	if _, err := b.EvalCached(src, c); err == nil {
		t.Error("cached unit redefined a live name without error")
	}
	if got := evalLast(t, b, "dup"); got != "1" {
		t.Errorf("dup = %s after failed cached eval", got)
	}
}

func TestEvalCachedSkewedGlobalTable(t *testing.T) {
	// A session whose global table no longer matches the caching
	// session's must not replay the unit: the chunks address globals
	// by slot, and replaying them shifted would write over unrelated
	// definitions. The mismatch reads as a miss and recompiles.
	c, err := cache.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	src := "(def x 42) x"

	a, _ := newTestInterp(t)
	vals, err := a.EvalCached(src, c)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vals {
		a.Release(v)
	}

	b, _ := newTestInterp(t)
	evalLast(t, b, "(def other 7)")
	vals, err = b.EvalCached(src, c)
	if err != nil {
		t.Fatal(err)
	}
	got := value.Format(vals[len(vals)-1])
	for _, v := range vals {
		b.Release(v)
	}
	if got != "42" {
		t.Errorf("cached unit = %s, want 42", got)
	}
	if got := evalLast(t, b, "other"); got != "7" {
		t.Errorf("other = %s, clobbered by a skewed replay", got)
	}
	if got := evalLast(t, b, "x"); got != "42" {
		t.Errorf("x = %s after recompile", got)
	}
}

func TestMacroAndGlobalCannotShareName(t *testing.T) {
	in, _ := newTestInterp(t)

	// defmacro then defun of the same name in one unit.
	if _, err := in.Eval("(defmacro pick (x) `(list ,x)) (defun pick (x) x)"); err == nil {
		t.Error("defmacro and defun shared a name")
	}
	// The failed unit rolled back both registrations.
	if _, err := in.Eval("(defun pick (x) x)"); err != nil {
		t.Fatalf("pick still registered after rollback: %v", err)
	}
	if got := evalLast(t, in, "(pick 3)"); got != "3" {
		t.Errorf("(pick 3) = %s", got)
	}

	// A macro cannot take the name of a live global either.
	if _, err := in.Eval("(defmacro pick (x) `(list ,x))"); err == nil {
		t.Error("macro shadowed a live function")
	}
	if _, err := in.Eval("(defmacro map (f) `(,f))"); err == nil {
		t.Error("macro shadowed a prelude function")
	}
	// def after defmacro, separate units.
	evalLast(t, in, "(defmacro wrapq (x) `(quote ,x))")
	if _, err := in.Eval("(def wrapq 1)"); err == nil {
		t.Error("def took a macro's name")
	}
}

func TestParseErrorSurfaces(t *testing.T) {
	in, _ := newTestInterp(t)
	if _, err := in.Eval("(+ 1"); err == nil {
		t.Error("unbalanced input: want error")
	}
}
