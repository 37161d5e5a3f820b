// Package interp drives the Calyx pipeline: parse, macro expansion,
// pattern compilation, optimization, emission, and execution. A unit
// (one REPL line or one file) is compiled as a whole before any of it
// runs; a compile error anywhere leaves the session untouched.
package interp

import (
	_ "embed"
	"fmt"
	"io"

	"github.com/tliron/commonlog"

	"github.com/chazu/calyx/compiler"
	"github.com/chazu/calyx/pkg/bytecode"
	"github.com/chazu/calyx/pkg/cache"
	"github.com/chazu/calyx/pkg/value"
)

var log = commonlog.GetLogger("calyx.interp")

//go:embed prelude.cx
var preludeSource string

// Interp is one evaluation session: a macro registry, a global
// table, an environment arena, and a VM, threaded through every unit
// evaluated in the session.
type Interp struct {
	expander *compiler.Expander
	globals  *compiler.Globals
	store    *bytecode.GlobalStore
	arena    *value.Arena
	emitter  *bytecode.Emitter
	vm       *bytecode.VM
	out      io.Writer
}

// New creates a session with the builtins registered and the prelude
// loaded. Output from print goes to out.
func New(out io.Writer) *Interp {
	in := &Interp{out: out}
	in.init()
	return in
}

func (in *Interp) init() {
	in.expander = compiler.NewExpander()
	in.globals = compiler.NewGlobals()
	in.store = bytecode.NewGlobalStore()
	in.arena = value.NewArena()
	in.emitter = bytecode.NewEmitter(in.globals)
	in.vm = bytecode.NewVM(in.arena, in.store)

	in.registerBuiltins()
	if _, err := in.Eval(preludeSource); err != nil {
		panic(fmt.Sprintf("prelude failed to load: %v", err))
	}
	log.Debugf("session initialized with %d globals", in.globals.Count())
}

// Reset discards every definition and restores the session to its
// initial state.
func (in *Interp) Reset() {
	in.init()
}

// Arena returns the session's value arena, the owner of every value
// the session returns.
func (in *Interp) Arena() *value.Arena {
	return in.arena
}

// Globals returns the session's compile-time global table.
func (in *Interp) Globals() *compiler.Globals {
	return in.globals
}

// Release drops a reference on a value returned by Eval.
func (in *Interp) Release(v value.Value) {
	in.arena.Release(v)
}

// Eval compiles and runs one source unit, returning the value of each
// executed top-level form. The caller owns the returned references.
//
// Compilation is atomic: if any form fails to parse, expand, or
// compile, no form runs and the session is unchanged. Execution is
// sequential; a runtime fault stops the unit but definitions made by
// forms that already ran persist.
func (in *Interp) Eval(source string) ([]value.Value, error) {
	forms, err := compiler.Parse(source)
	if err != nil {
		return nil, err
	}
	clauses, _, _, err := in.compileUnit(forms)
	if err != nil {
		return nil, err
	}
	return in.execUnit(clauses)
}

// CompileOnly runs the front end over a unit and returns the compiled
// clauses without executing anything. The session is left exactly as
// it was: definitions and macros the unit introduces are rolled back.
func (in *Interp) CompileOnly(source string) ([]*bytecode.CompiledClause, error) {
	forms, err := compiler.Parse(source)
	if err != nil {
		return nil, err
	}
	snapshot := in.globals.Snapshot()
	clauses, _, newMacros, err := in.compileUnit(forms)
	if err != nil {
		return nil, err
	}
	in.globals.Restore(snapshot)
	for _, m := range newMacros {
		in.expander.Undefine(m)
	}
	return clauses, nil
}

// EvalCached is Eval backed by a compile cache: on a hit the front
// end is skipped entirely. Cached chunks address globals by slot, so
// a unit only replays into a session whose global table matches the
// one it was compiled against, name for name; anything else is a
// miss and recompiles.
func (in *Interp) EvalCached(source string, c *cache.Cache) ([]value.Value, error) {
	key := cache.Key(source)
	if clauses, base, newNames, hit, err := c.Load(key); err == nil && hit {
		if in.sameGlobalBase(base) {
			if err := in.declareNames(newNames); err == nil {
				log.Debugf("compile cache hit for %s", key[:12])
				return in.execUnit(clauses)
			}
			// A name collision with the live session: recompile so
			// the error reports a source position.
		}
	} else if err != nil {
		log.Errorf("compile cache unavailable: %v", err)
	}

	forms, err := compiler.Parse(source)
	if err != nil {
		return nil, err
	}
	base := append([]string(nil), in.globals.Names()...)
	clauses, newNames, _, err := in.compileUnit(forms)
	if err != nil {
		return nil, err
	}
	if err := c.Store(key, clauses, base, newNames); err != nil {
		log.Errorf("compile cache write failed: %v", err)
	}
	return in.execUnit(clauses)
}

// sameGlobalBase reports whether the live global table matches the
// table a cached unit was compiled against. Any difference shifts
// slot numbering, so replaying would read and write the wrong
// globals.
func (in *Interp) sameGlobalBase(base []string) bool {
	names := in.globals.Names()
	if len(names) != len(base) {
		return false
	}
	for i := range names {
		if names[i] != base[i] {
			return false
		}
	}
	return true
}

// compileUnit runs the whole front end over a form sequence: declare
// every top-level name (so later forms can reference earlier
// functions and functions can be mutually recursive), register
// macros, then expand, optimize, and emit each executable form. Any
// error rolls the session back.
func (in *Interp) compileUnit(forms []*compiler.Node) ([]*bytecode.CompiledClause, []string, []string, error) {
	snapshot := in.globals.Snapshot()
	var newMacros []string
	rollback := func() {
		in.globals.Restore(snapshot)
		for _, m := range newMacros {
			in.expander.Undefine(m)
		}
	}

	for _, form := range forms {
		switch {
		case form.IsCallTo("defmacro"):
			name, err := definedName(form)
			if err != nil {
				rollback()
				return nil, nil, nil, err
			}
			// A macro and a global cannot share a name: the expander
			// would rewrite every call site the global expects.
			if _, defined := in.globals.Lookup(name.Str); defined {
				rollback()
				return nil, nil, nil, &compiler.CompileError{
					Pos: name.Pos,
					Msg: fmt.Sprintf("macro %s collides with an existing definition", name.Str),
				}
			}
			if err := in.expander.Define(form); err != nil {
				rollback()
				return nil, nil, nil, err
			}
			newMacros = append(newMacros, name.Str)

		case form.IsCallTo("def"), form.IsCallTo("defconst"), form.IsCallTo("defun"):
			name, err := definedName(form)
			if err != nil {
				rollback()
				return nil, nil, nil, err
			}
			if in.expander.IsMacro(name.Str) {
				rollback()
				return nil, nil, nil, &compiler.CompileError{
					Pos: name.Pos,
					Msg: fmt.Sprintf("%s is already defined as a macro", name.Str),
				}
			}
			if _, err := in.globals.Define(name, form.IsCallTo("defconst")); err != nil {
				rollback()
				return nil, nil, nil, err
			}
		}
	}

	var clauses []*bytecode.CompiledClause
	for _, form := range forms {
		if form.IsCallTo("defmacro") {
			continue
		}
		expanded, err := in.expander.ExpandAll(form)
		if err != nil {
			rollback()
			return nil, nil, nil, err
		}
		optimized := optimizeTop(expanded)
		clause, err := in.emitter.CompileTopForm(optimized, topName(optimized))
		if err != nil {
			rollback()
			return nil, nil, nil, err
		}
		clauses = append(clauses, clause)
	}

	return clauses, in.globals.Names()[snapshot:], newMacros, nil
}

// execUnit runs compiled top-level clauses in order. On a fault,
// values produced by earlier forms are released and the fault is
// returned with its trace.
func (in *Interp) execUnit(clauses []*bytecode.CompiledClause) ([]value.Value, error) {
	in.store.Grow(in.globals.Count())
	results := make([]value.Value, 0, len(clauses))
	for _, clause := range clauses {
		v, err := in.vm.RunTopForm(clause)
		if err != nil {
			for _, r := range results {
				in.arena.Release(r)
			}
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

// declareNames replays a cached unit's global declarations.
func (in *Interp) declareNames(names []string) error {
	snapshot := in.globals.Snapshot()
	for _, name := range names {
		node := compiler.NewSymbol(name, compiler.Position{})
		if _, err := in.globals.Define(node, false); err != nil {
			in.globals.Restore(snapshot)
			return err
		}
	}
	return nil
}

// definedName extracts and validates the name of a definition form.
func definedName(form *compiler.Node) (*compiler.Node, error) {
	head := form.List[0].Str
	if len(form.List) < 3 || form.List[1].Kind != compiler.NodeSymbol {
		return nil, &compiler.CompileError{
			Pos: form.Pos,
			Msg: fmt.Sprintf("%s needs a symbol name", head),
		}
	}
	return form.List[1], nil
}

// optimizeTop optimizes a top-level form. Function definitions have
// only their clause bodies rewritten; patterns look like expressions
// but are match templates and must not be folded.
func optimizeTop(form *compiler.Node) *compiler.Node {
	switch {
	case form.IsCallTo("defun"):
		if len(form.List) < 3 {
			return form
		}
		if len(form.List) >= 4 && compiler.IsSimpleParamList(form.List[2]) {
			for i := 3; i < len(form.List); i++ {
				form.List[i] = compiler.Optimize(form.List[i])
			}
			return form
		}
		for _, clause := range form.List[2:] {
			if clause.Kind != compiler.NodeList {
				continue
			}
			for i := 1; i < len(clause.List); i++ {
				clause.List[i] = compiler.Optimize(clause.List[i])
			}
		}
		return form
	case form.IsCallTo("def"), form.IsCallTo("defconst"):
		if len(form.List) == 3 {
			form.List[2] = compiler.Optimize(form.List[2])
		}
		return form
	default:
		return compiler.Optimize(form)
	}
}

// topName names a top-level form for call traces.
func topName(form *compiler.Node) string {
	if form.Kind == compiler.NodeList && len(form.List) >= 2 {
		head := form.List[0]
		if head.Kind == compiler.NodeSymbol && form.List[1].Kind == compiler.NodeSymbol {
			switch head.Str {
			case "def", "defconst", "defun":
				return form.List[1].Str
			}
		}
	}
	return "top-level"
}
