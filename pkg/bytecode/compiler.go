package bytecode

import (
	"fmt"

	"github.com/chazu/calyx/compiler"
	"github.com/chazu/calyx/pkg/value"
)

// ---------------------------------------------------------------------------
// Emitter: optimized expression trees to bytecode
// ---------------------------------------------------------------------------

// Emitter turns expanded, optimized AST into chunks. It resolves
// identifiers against the session's global table and reports
// compile errors before anything executes.
type Emitter struct {
	globals *compiler.Globals
}

// NewEmitter creates an emitter over the given global table.
func NewEmitter(globals *compiler.Globals) *Emitter {
	return &Emitter{globals: globals}
}

// binaryOps are primitives with a fixed-arity opcode.
var binaryOps = map[string]Opcode{
	"mod":  OpMod,
	"=":    OpEq,
	"not=": OpNe,
	"<":    OpLt,
	"<=":   OpLe,
	">":    OpGt,
	">=":   OpGe,
	"cons": OpCons,
}

// unaryOps are single-argument primitives.
var unaryOps = map[string]Opcode{
	"car":    OpCar,
	"cdr":    OpCdr,
	"empty?": OpIsEmpty,
	"not":    OpNot,
}

// naryArith are the folding arithmetic primitives.
var naryArith = map[string]Opcode{
	"+": OpAdd,
	"-": OpSub,
	"*": OpMul,
	"/": OpDiv,
}

// CompileTopForm compiles one top-level form into a pattern-less
// clause executed with a fresh frame. def/defconst/defun forms store
// into their pre-declared global slot and evaluate to the defined
// name.
func (e *Emitter) CompileTopForm(form *compiler.Node, name string) (*CompiledClause, error) {
	fc := &fnCompiler{
		em:     e,
		chunk:  NewChunk(name),
		blocks: []map[string]int{{}},
		fnName: name,
	}

	switch {
	case form.IsCallTo("def") || form.IsCallTo("defconst"):
		if err := fc.compileDefine(form); err != nil {
			return nil, err
		}
	case form.IsCallTo("defun"):
		if err := fc.compileDefun(form); err != nil {
			return nil, err
		}
	default:
		if err := fc.compile(form, true, false); err != nil {
			return nil, err
		}
	}
	fc.chunk.Emit(OpReturn)

	return &CompiledClause{
		NumLocals: fc.numSlots,
		SlotNames: fc.slotNames,
		Chunk:     fc.chunk,
	}, nil
}

// CompileFunction compiles a multi-clause function definition.
func (e *Emitter) CompileFunction(def *compiler.FunctionDef) (*Function, error) {
	return e.compileFunction(def, nil)
}

func (e *Emitter) compileFunction(def *compiler.FunctionDef, parent *fnCompiler) (*Function, error) {
	fn := &Function{Name: def.Name}
	for _, clause := range def.Clauses {
		compiled, err := e.compileClause(def.Name, clause, parent)
		if err != nil {
			return nil, err
		}
		fn.Clauses = append(fn.Clauses, compiled)
	}
	return fn, nil
}

// compileClause compiles one clause body with its pattern bindings
// occupying the first frame slots.
func (e *Emitter) compileClause(name string, clause *compiler.Clause, parent *fnCompiler) (*CompiledClause, error) {
	fc := &fnCompiler{
		em:     e,
		parent: parent,
		chunk:  NewChunk(name),
		blocks: []map[string]int{{}},
		fnName: name,
	}
	for _, bound := range clause.Bindings {
		fc.defineLocal(bound)
	}

	if err := fc.compileBody(clause.Body, true, false); err != nil {
		return nil, err
	}
	fc.chunk.Emit(OpReturn)

	return &CompiledClause{
		Patterns:  clause.Patterns,
		Bindings:  clause.Bindings,
		NumLocals: fc.numSlots,
		SlotNames: fc.slotNames,
		Chunk:     fc.chunk,
	}, nil
}

// ---------------------------------------------------------------------------
// Per-function compile state
// ---------------------------------------------------------------------------

// loopContext records the reentry target of an active loop.
type loopContext struct {
	slots []int
	start int
}

// fnCompiler holds the lexical scope of one function (or top-level
// form) during emission. Nested blocks share the function's frame;
// nested functions chain through parent.
type fnCompiler struct {
	em        *Emitter
	parent    *fnCompiler
	chunk     *Chunk
	blocks    []map[string]int
	slotNames []string
	numSlots  int
	loops     []*loopContext
	fnName    string
}

// defineLocal allocates a frame slot for name in the current block.
func (c *fnCompiler) defineLocal(name string) int {
	slot := c.numSlots
	c.numSlots++
	c.slotNames = append(c.slotNames, name)
	c.blocks[len(c.blocks)-1][name] = slot
	return slot
}

// resolve finds a name in the lexical scope chain, returning the
// function-nesting depth and frame slot.
func (c *fnCompiler) resolve(name string) (depth, slot int, ok bool) {
	for fc := c; fc != nil; fc = fc.parent {
		for i := len(fc.blocks) - 1; i >= 0; i-- {
			if s, found := fc.blocks[i][name]; found {
				return depth, s, true
			}
		}
		depth++
	}
	return 0, 0, false
}

// locallyBound reports whether name is bound anywhere in the lexical
// scope chain (used to let locals shadow primitive operators).
func (c *fnCompiler) locallyBound(name string) bool {
	_, _, ok := c.resolve(name)
	return ok
}

// knownNames lists every resolvable identifier for suggestions.
func (c *fnCompiler) knownNames() []string {
	var names []string
	for fc := c; fc != nil; fc = fc.parent {
		for _, b := range fc.blocks {
			for n := range b {
				names = append(names, n)
			}
		}
	}
	names = append(names, c.em.globals.Names()...)
	return names
}

// mark records the source position of the next instruction.
func (c *fnCompiler) mark(n *compiler.Node) {
	if n.Pos.Line > 0 {
		c.chunk.AddSourceLocation(c.chunk.CurrentOffset(), n.Pos.Line, n.Pos.Column)
	}
}

// compileBody compiles a form sequence, discarding every result but
// the last.
func (c *fnCompiler) compileBody(body []*compiler.Node, tail, loopTail bool) error {
	if len(body) == 0 {
		c.chunk.Emit(OpEmpty)
		return nil
	}
	for _, form := range body[:len(body)-1] {
		if err := c.compile(form, false, false); err != nil {
			return err
		}
		c.chunk.Emit(OpPop)
	}
	return c.compile(body[len(body)-1], tail, loopTail)
}

// compile emits one expression, leaving exactly one value on the
// stack. tail marks function-tail position (calls reuse the frame);
// loopTail marks loop-body-tail position (recur is legal).
func (c *fnCompiler) compile(n *compiler.Node, tail, loopTail bool) error {
	c.mark(n)

	switch n.Kind {
	case compiler.NodeInteger:
		c.chunk.EmitConstant(value.Int(n.Int))
		return nil
	case compiler.NodeFloat:
		c.chunk.EmitConstant(value.Float(n.Float))
		return nil
	case compiler.NodeBool:
		if n.Bool {
			c.chunk.Emit(OpTrue)
		} else {
			c.chunk.Emit(OpFalse)
		}
		return nil
	case compiler.NodeString:
		c.chunk.EmitConstant(value.Str(n.Str))
		return nil
	case compiler.NodeSymbol:
		return c.compileSymbol(n)
	case compiler.NodeList:
		return c.compileList(n, tail, loopTail)
	}
	return compileErrorf(n, "cannot compile %s", n.Kind)
}

// compileSymbol emits a variable reference.
func (c *fnCompiler) compileSymbol(n *compiler.Node) error {
	if depth, slot, ok := c.resolve(n.Str); ok {
		c.chunk.EmitWithOperand(OpLoadVar, byte(depth), byte(slot))
		return nil
	}
	if slot, ok := c.em.globals.Lookup(n.Str); ok {
		c.chunk.EmitU16(OpLoadGlobal, uint16(slot))
		return nil
	}
	msg := "unresolved identifier: " + n.Str
	if hint := compiler.SuggestClosest(n.Str, c.knownNames()); hint != "" {
		msg += " (did you mean " + hint + "?)"
	}
	return compileErrorf(n, "%s", msg)
}

func (c *fnCompiler) compileList(n *compiler.Node, tail, loopTail bool) error {
	if len(n.List) == 0 && n.Tail == nil {
		c.chunk.Emit(OpEmpty)
		return nil
	}
	if n.Tail != nil {
		return compileErrorf(n, "dotted list is not a valid expression")
	}

	head := n.List[0]
	args := n.List[1:]

	if head.Kind == compiler.NodeSymbol {
		switch head.Str {
		case "quote":
			if len(args) != 1 {
				return compileErrorf(n, "quote takes exactly one form")
			}
			c.chunk.EmitConstant(NodeToValue(args[0]))
			return nil

		case "if":
			return c.compileIf(n, args, tail, loopTail)

		case "let":
			return c.compileLet(n, args, tail, loopTail)

		case "do":
			return c.compileBody(args, tail, loopTail)

		case "lambda":
			return c.compileLambda(n, args)

		case "loop":
			return c.compileLoop(n, args, tail)

		case "recur":
			return c.compileRecur(n, args, loopTail)

		case "and":
			return c.compileAndOr(args, OpJumpFalse, OpTrue)

		case "or":
			return c.compileAndOr(args, OpJumpTrue, OpFalse)

		case "def", "defconst", "defun":
			return compileErrorf(n, "%s is only allowed at the top level", head.Str)

		case "defmacro":
			return compileErrorf(n, "defmacro is only allowed at the top level")
		}

		// Primitive operators compile to opcodes unless shadowed by a
		// local binding.
		if !c.locallyBound(head.Str) {
			if handled, err := c.compilePrimitive(n, head.Str, args); handled {
				return err
			}
		}
	}

	// General call: callee, then arguments left to right.
	if err := c.compile(head, false, false); err != nil {
		return err
	}
	for _, a := range args {
		if err := c.compile(a, false, false); err != nil {
			return err
		}
	}
	c.mark(n)
	if tail {
		c.chunk.EmitWithOperand(OpTailCall, byte(len(args)))
	} else {
		c.chunk.EmitWithOperand(OpCall, byte(len(args)))
	}
	return nil
}

// compilePrimitive emits opcode forms for the builtin operators.
// Returns handled=false when the head is not a primitive.
func (c *fnCompiler) compilePrimitive(n *compiler.Node, op string, args []*compiler.Node) (bool, error) {
	if opcode, ok := naryArith[op]; ok {
		if len(args) == 0 {
			return true, compileErrorf(n, "%s needs at least one argument", op)
		}
		if len(args) == 1 {
			if op == "/" {
				return true, compileErrorf(n, "/ needs at least two arguments")
			}
			if err := c.compile(args[0], false, false); err != nil {
				return true, err
			}
			if op == "-" {
				c.chunk.Emit(OpNeg)
			}
			return true, nil
		}
		if err := c.compile(args[0], false, false); err != nil {
			return true, err
		}
		for _, a := range args[1:] {
			if err := c.compile(a, false, false); err != nil {
				return true, err
			}
			c.mark(n)
			c.chunk.Emit(opcode)
		}
		return true, nil
	}

	if opcode, ok := binaryOps[op]; ok {
		if len(args) != 2 {
			return true, compileErrorf(n, "%s takes exactly two arguments", op)
		}
		for _, a := range args {
			if err := c.compile(a, false, false); err != nil {
				return true, err
			}
		}
		c.mark(n)
		c.chunk.Emit(opcode)
		return true, nil
	}

	if opcode, ok := unaryOps[op]; ok {
		if len(args) != 1 {
			return true, compileErrorf(n, "%s takes exactly one argument", op)
		}
		if err := c.compile(args[0], false, false); err != nil {
			return true, err
		}
		c.mark(n)
		c.chunk.Emit(opcode)
		return true, nil
	}

	if op == "list" {
		for _, a := range args {
			if err := c.compile(a, false, false); err != nil {
				return true, err
			}
		}
		c.chunk.EmitWithOperand(OpList, byte(len(args)))
		return true, nil
	}

	return false, nil
}

func (c *fnCompiler) compileIf(n *compiler.Node, args []*compiler.Node, tail, loopTail bool) error {
	if len(args) != 2 && len(args) != 3 {
		return compileErrorf(n, "if takes a condition and one or two branches")
	}
	if err := c.compile(args[0], false, false); err != nil {
		return err
	}
	elseJump := c.chunk.EmitJump(OpJumpFalse)

	if err := c.compile(args[1], tail, loopTail); err != nil {
		return err
	}
	endJump := c.chunk.EmitJump(OpJump)

	c.chunk.PatchJump(elseJump)
	if len(args) == 3 {
		if err := c.compile(args[2], tail, loopTail); err != nil {
			return err
		}
	} else {
		c.chunk.Emit(OpEmpty)
	}
	c.chunk.PatchJump(endJump)
	return nil
}

// parseBindings validates a ((name init) ...) binding list.
func parseBindings(n *compiler.Node, form string) (*compiler.Node, error) {
	if len(n.List) < 2 || n.List[1].Kind != compiler.NodeList || n.List[1].Tail != nil {
		return nil, compileErrorf(n, "%s needs a binding list", form)
	}
	bindings := n.List[1]
	for _, b := range bindings.List {
		if b.Kind != compiler.NodeList || b.Tail != nil || len(b.List) != 2 || b.List[0].Kind != compiler.NodeSymbol {
			return nil, compileErrorf(b, "%s binding must be (name init)", form)
		}
	}
	return bindings, nil
}

func (c *fnCompiler) compileLet(n *compiler.Node, args []*compiler.Node, tail, loopTail bool) error {
	bindings, err := parseBindings(n, "let")
	if err != nil {
		return err
	}

	c.blocks = append(c.blocks, map[string]int{})
	for _, b := range bindings.List {
		// Sequential binding: each init sees the previous names.
		if err := c.compile(b.List[1], false, false); err != nil {
			return err
		}
		slot := c.defineLocal(b.List[0].Str)
		c.chunk.EmitWithOperand(OpStoreVar, 0, byte(slot))
	}
	err = c.compileBody(args[1:], tail, loopTail)
	c.blocks = c.blocks[:len(c.blocks)-1]
	return err
}

func (c *fnCompiler) compileLoop(n *compiler.Node, args []*compiler.Node, tail bool) error {
	bindings, err := parseBindings(n, "loop")
	if err != nil {
		return err
	}

	// Loop variables bind simultaneously: every init is evaluated
	// before any name becomes visible.
	for _, b := range bindings.List {
		if err := c.compile(b.List[1], false, false); err != nil {
			return err
		}
	}
	c.blocks = append(c.blocks, map[string]int{})
	slots := make([]int, len(bindings.List))
	for i, b := range bindings.List {
		slots[i] = c.defineLocal(b.List[0].Str)
	}
	for i := len(slots) - 1; i >= 0; i-- {
		c.chunk.EmitWithOperand(OpStoreVar, 0, byte(slots[i]))
	}

	loop := &loopContext{slots: slots, start: c.chunk.CurrentOffset()}
	c.loops = append(c.loops, loop)

	err = c.compileBody(args[1:], tail, true)

	c.loops = c.loops[:len(c.loops)-1]
	c.blocks = c.blocks[:len(c.blocks)-1]
	return err
}

func (c *fnCompiler) compileRecur(n *compiler.Node, args []*compiler.Node, loopTail bool) error {
	if len(c.loops) == 0 {
		return compileErrorf(n, "recur outside loop")
	}
	if !loopTail {
		return compileErrorf(n, "recur must be in tail position of the loop body")
	}
	loop := c.loops[len(c.loops)-1]
	if len(args) != len(loop.slots) {
		return compileErrorf(n, "recur takes %d arguments to match the loop bindings, got %d",
			len(loop.slots), len(args))
	}
	for _, a := range args {
		if err := c.compile(a, false, false); err != nil {
			return err
		}
	}
	// All values are on the stack before any store: recur rebinds
	// simultaneously, then jumps without allocating a frame.
	for i := len(loop.slots) - 1; i >= 0; i-- {
		c.chunk.EmitWithOperand(OpStoreVar, 0, byte(loop.slots[i]))
	}
	c.chunk.EmitLoop(loop.start)
	return nil
}

func (c *fnCompiler) compileLambda(n *compiler.Node, args []*compiler.Node) error {
	if len(args) < 2 || !compiler.IsSimpleParamList(args[0]) {
		return compileErrorf(n, "lambda needs a parameter list of symbols and a body")
	}
	params := args[0]
	patterns := make([]*compiler.Pattern, len(params.List))
	bindings := make([]string, len(params.List))
	for i, p := range params.List {
		patterns[i] = &compiler.Pattern{Kind: compiler.PatVariable, Name: p.Str, Pos: p.Pos}
		bindings[i] = p.Str
	}
	def := &compiler.FunctionDef{
		Name: "lambda",
		Clauses: []*compiler.Clause{{
			Patterns: patterns,
			Bindings: bindings,
			Body:     args[1:],
			Pos:      n.Pos,
		}},
		Pos: n.Pos,
	}

	fn, err := c.em.compileFunction(def, c)
	if err != nil {
		return err
	}
	idx := c.chunk.AddFunction(fn)
	c.chunk.EmitU16(OpMakeClosure, idx)
	return nil
}

// compileAndOr emits a short-circuit chain. shortJump pops the tested
// copy; the duplicate carries the deciding value to the end.
func (c *fnCompiler) compileAndOr(args []*compiler.Node, shortJump Opcode, emptyOp Opcode) error {
	if len(args) == 0 {
		c.chunk.Emit(emptyOp)
		return nil
	}
	var exits []int
	for i, a := range args {
		if err := c.compile(a, false, false); err != nil {
			return err
		}
		if i < len(args)-1 {
			c.chunk.Emit(OpDup)
			exits = append(exits, c.chunk.EmitJump(shortJump))
			c.chunk.Emit(OpPop)
		}
	}
	for _, e := range exits {
		c.chunk.PatchJump(e)
	}
	return nil
}

// compileDefine emits (def name expr) / (defconst name expr); the
// slot was declared during unit analysis.
func (c *fnCompiler) compileDefine(form *compiler.Node) error {
	if len(form.List) != 3 || form.List[1].Kind != compiler.NodeSymbol {
		return compileErrorf(form, "%s takes a name and a value", form.List[0].Str)
	}
	name := form.List[1].Str
	slot, ok := c.em.globals.Lookup(name)
	if !ok {
		return compileErrorf(form, "internal: %s was not declared before emission", name)
	}
	if err := c.compile(form.List[2], false, false); err != nil {
		return err
	}
	c.chunk.EmitU16(OpStoreGlobal, uint16(slot))
	c.chunk.EmitConstant(value.Symbol(name))
	return nil
}

// compileDefun compiles a function definition form and stores the
// resulting closure into its global slot.
func (c *fnCompiler) compileDefun(form *compiler.Node) error {
	def, err := compiler.CompileFunctionDef(form)
	if err != nil {
		return err
	}
	slot, ok := c.em.globals.Lookup(def.Name)
	if !ok {
		return compileErrorf(form, "internal: %s was not declared before emission", def.Name)
	}
	fn, err := c.em.compileFunction(def, nil)
	if err != nil {
		return err
	}
	idx := c.chunk.AddFunction(fn)
	c.chunk.EmitU16(OpMakeClosure, idx)
	c.chunk.EmitU16(OpStoreGlobal, uint16(slot))
	c.chunk.EmitConstant(value.Symbol(def.Name))
	return nil
}

// compileErrorf builds a CompileError at a node's position.
func compileErrorf(n *compiler.Node, format string, args ...any) error {
	var pos compiler.Position
	if n != nil {
		pos = n.Pos
	}
	return &compiler.CompileError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
