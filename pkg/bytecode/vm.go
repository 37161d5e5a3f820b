package bytecode

import (
	"fmt"
	"strings"
	"sync"

	"github.com/chazu/calyx/compiler"
	"github.com/chazu/calyx/pkg/value"
)

// MaxCallDepth bounds non-tail recursion. Tail calls and loop/recur
// never consume frames, so only genuinely nested calls count.
const MaxCallDepth = 10000

// ---------------------------------------------------------------------------
// Global store
// ---------------------------------------------------------------------------

// GlobalStore holds the runtime values behind the compiler's global
// slot table. Reads take the read lock so parallel workers can share
// one store; definitions happen only between units, never while
// workers run.
type GlobalStore struct {
	mu   sync.RWMutex
	vals []value.Value
}

// NewGlobalStore creates an empty store.
func NewGlobalStore() *GlobalStore {
	return &GlobalStore{}
}

// Grow extends the store to hold at least n slots.
func (g *GlobalStore) Grow(n int) {
	g.mu.Lock()
	for len(g.vals) < n {
		g.vals = append(g.vals, nil)
	}
	g.mu.Unlock()
}

// Get reads a slot; nil means declared but not yet defined.
func (g *GlobalStore) Get(slot int) value.Value {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if slot >= len(g.vals) {
		return nil
	}
	return g.vals[slot]
}

// Set stores a value, taking ownership of the caller's reference and
// releasing the previous occupant through the arena.
func (g *GlobalStore) Set(slot int, v value.Value, arena *value.Arena) {
	g.mu.Lock()
	for len(g.vals) <= slot {
		g.vals = append(g.vals, nil)
	}
	old := g.vals[slot]
	g.vals[slot] = v
	g.mu.Unlock()
	if old != nil {
		arena.Release(old)
	}
}

// ---------------------------------------------------------------------------
// Virtual machine
// ---------------------------------------------------------------------------

// vmFrame is one activation: the executing chunk, its environment
// frame, and the operand-stack watermark at entry.
type vmFrame struct {
	chunk *Chunk
	ip    int
	site  int // offset of the instruction being executed, for traces
	env   value.Frame
	base  int
}

// VM executes compiled chunks over a shared arena and global store.
// A VM is single-threaded; Spawn creates sibling VMs over the same
// arena and globals for parallel builtins.
type VM struct {
	arena   *value.Arena
	globals *GlobalStore
	stack   []value.Value
	frames  []vmFrame
}

// NewVM creates a VM over the given arena and global store.
func NewVM(arena *value.Arena, globals *GlobalStore) *VM {
	return &VM{
		arena:   arena,
		globals: globals,
		stack:   make([]value.Value, 0, 256),
		frames:  make([]vmFrame, 0, 64),
	}
}

// Arena returns the VM's value arena.
func (vm *VM) Arena() *value.Arena {
	return vm.arena
}

// Globals returns the shared global store.
func (vm *VM) Globals() *GlobalStore {
	return vm.globals
}

// Spawn creates a sibling VM sharing this VM's arena and globals,
// with its own stack and frames. Used by the parallel builtins: each
// worker evaluates on its own VM while sharing immutable values.
func (vm *VM) Spawn() *VM {
	return NewVM(vm.arena, vm.globals)
}

// RunTopForm executes a compiled top-level form and returns its
// value. The caller owns the returned reference.
func (vm *VM) RunTopForm(clause *CompiledClause) (value.Value, error) {
	env := vm.arena.NewFrame(value.NoFrame, clause.NumLocals, clause.SlotNames)
	return vm.run(clause.Chunk, env)
}

// CallClosure applies a closure to arguments, selecting the first
// clause whose patterns match. Arguments are borrowed from the
// caller; the caller owns the result.
func (vm *VM) CallClosure(clo *value.Closure, args []value.Value) (value.Value, error) {
	fn, ok := clo.Proto.(*Function)
	if !ok {
		return nil, vm.fault(FaultNotFunction, "closure has no compiled body")
	}
	clause, binds, err := vm.selectClause(fn, args)
	if err != nil {
		return nil, err
	}
	env := vm.newCallFrame(clo.Env, clause, binds)
	return vm.run(clause.Chunk, env)
}

// newCallFrame allocates the environment for one clause activation,
// storing the matched bindings into the leading slots.
func (vm *VM) newCallFrame(parent value.Frame, clause *CompiledClause, binds []value.Value) value.Frame {
	env := vm.arena.NewFrame(parent, clause.NumLocals, clause.SlotNames)
	for i, b := range binds {
		value.Retain(b)
		vm.arena.Set(env, i, b)
	}
	return env
}

// selectClause finds the first clause matching the arguments and
// returns the values its patterns bind, in slot order. The binds are
// borrowed from args.
func (vm *VM) selectClause(fn *Function, args []value.Value) (*CompiledClause, []value.Value, error) {
	sameArity := false
	for _, clause := range fn.Clauses {
		if len(clause.Patterns) != len(args) {
			continue
		}
		sameArity = true
		binds := make([]value.Value, 0, len(clause.Bindings))
		ok := true
		for i, p := range clause.Patterns {
			if !matchPattern(p, args[i], &binds) {
				ok = false
				break
			}
		}
		if ok {
			return clause, binds, nil
		}
	}
	// Arity is part of the match: a call no clause can take is
	// clause exhaustion, reported with the arity the function does
	// accept.
	if !sameArity {
		return nil, nil, vm.fault(FaultNoClause, "%s expects %s, got %d",
			fn.Name, arityText(fn), len(args))
	}
	return nil, nil, vm.fault(FaultNoClause, "%s has no clause matching (%s)",
		fn.Name, formatArgs(args))
}

func arityText(fn *Function) string {
	if a := fn.FuncArity(); a >= 0 {
		if a == 1 {
			return "1 argument"
		}
		return fmt.Sprintf("%d arguments", a)
	}
	counts := map[int]bool{}
	var list []string
	for _, c := range fn.Clauses {
		if !counts[len(c.Patterns)] {
			counts[len(c.Patterns)] = true
			list = append(list, fmt.Sprintf("%d", len(c.Patterns)))
		}
	}
	return strings.Join(list, " or ") + " arguments"
}

func formatArgs(args []value.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = value.Format(a)
	}
	return strings.Join(parts, " ")
}

// matchPattern tests one pattern against a value, appending bound
// values in binding order. Bindings are borrowed, not retained.
func matchPattern(p *compiler.Pattern, v value.Value, binds *[]value.Value) bool {
	switch p.Kind {
	case compiler.PatWildcard:
		return true
	case compiler.PatVariable:
		*binds = append(*binds, v)
		return true
	case compiler.PatLiteral:
		return literalMatches(p.Literal, v)
	case compiler.PatQuoted:
		if p.Sym == "" {
			_, ok := v.(value.EmptyList)
			return ok
		}
		sym, ok := v.(value.Symbol)
		return ok && string(sym) == p.Sym
	case compiler.PatCons:
		cell, ok := v.(*value.Cons)
		if !ok {
			return false
		}
		return matchPattern(p.Head, cell.Car, binds) && matchPattern(p.Tail, cell.Cdr, binds)
	case compiler.PatList:
		cur := v
		for _, elem := range p.Elems {
			cell, ok := cur.(*value.Cons)
			if !ok {
				return false
			}
			if !matchPattern(elem, cell.Car, binds) {
				return false
			}
			cur = cell.Cdr
		}
		_, ok := cur.(value.EmptyList)
		return ok
	}
	return false
}

// literalMatches compares a literal pattern node to a runtime value.
// Types match exactly: the integer pattern 1 does not match 1.0.
func literalMatches(n *compiler.Node, v value.Value) bool {
	switch n.Kind {
	case compiler.NodeInteger:
		iv, ok := v.(value.Int)
		return ok && int64(iv) == n.Int
	case compiler.NodeFloat:
		fv, ok := v.(value.Float)
		return ok && float64(fv) == n.Float
	case compiler.NodeBool:
		bv, ok := v.(value.Bool)
		return ok && bool(bv) == n.Bool
	case compiler.NodeString:
		sv, ok := v.(value.Str)
		return ok && string(sv) == n.Str
	}
	return false
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
}

// pop transfers ownership of the top of stack to the caller.
func (vm *VM) pop() value.Value {
	n := len(vm.stack) - 1
	v := vm.stack[n]
	vm.stack[n] = nil
	vm.stack = vm.stack[:n]
	return v
}

// popN transfers ownership of the top n values, in push order.
func (vm *VM) popN(n int) []value.Value {
	at := len(vm.stack) - n
	out := make([]value.Value, n)
	copy(out, vm.stack[at:])
	for i := at; i < len(vm.stack); i++ {
		vm.stack[i] = nil
	}
	vm.stack = vm.stack[:at]
	return out
}

func (vm *VM) releaseAll(vals []value.Value) {
	for _, v := range vals {
		vm.arena.Release(v)
	}
}

// fault builds a RuntimeFault carrying the live call trace.
func (vm *VM) fault(kind, format string, args ...any) *RuntimeFault {
	f := &RuntimeFault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	for i := len(vm.frames) - 1; i >= 0; i-- {
		fr := &vm.frames[i]
		line, col := fr.chunk.SourceAt(fr.site)
		f.Trace = append(f.Trace, TraceFrame{Name: fr.chunk.Name, Line: line, Column: col})
	}
	return f
}

// unwind releases everything owned above the given frame depth after
// a fault: operand stack values first, then environment frames.
func (vm *VM) unwind(depth int) {
	if len(vm.frames) == depth {
		return
	}
	base := vm.frames[depth].base
	for i := len(vm.stack) - 1; i >= base; i-- {
		if vm.stack[i] != nil {
			vm.arena.Release(vm.stack[i])
		}
		vm.stack[i] = nil
	}
	vm.stack = vm.stack[:base]
	for i := len(vm.frames) - 1; i >= depth; i-- {
		vm.arena.ReleaseFrame(vm.frames[i].env)
	}
	vm.frames = vm.frames[:depth]
}

// run executes a chunk in the given environment until its frame
// returns. The environment reference is consumed.
func (vm *VM) run(chunk *Chunk, env value.Frame) (value.Value, error) {
	entry := len(vm.frames)
	if entry >= MaxCallDepth {
		vm.arena.ReleaseFrame(env)
		return nil, vm.fault(FaultOverflow, "call depth exceeds %d", MaxCallDepth)
	}
	vm.frames = append(vm.frames, vmFrame{chunk: chunk, env: env, base: len(vm.stack)})

	v, err := vm.loop(entry)
	if err != nil {
		vm.unwind(entry)
		return nil, err
	}
	return v, nil
}

// loop is the dispatch loop. It runs until the frame at entry depth
// returns, then hands back the returned value (owned by the caller).
func (vm *VM) loop(entry int) (value.Value, error) {
	for {
		fr := &vm.frames[len(vm.frames)-1]
		code := fr.chunk.Code
		fr.site = fr.ip
		op := Opcode(code[fr.ip])
		fr.ip++

		switch op {
		case OpNop:

		case OpPop:
			vm.arena.Release(vm.pop())

		case OpDup:
			top := vm.stack[len(vm.stack)-1]
			value.Retain(top)
			vm.push(top)

		case OpConst:
			idx := vm.readU16(fr, code)
			c := fr.chunk.Constants[idx]
			value.Retain(c)
			vm.push(c)

		case OpTrue:
			vm.push(value.Bool(true))
		case OpFalse:
			vm.push(value.Bool(false))
		case OpEmpty:
			vm.push(value.Empty)

		case OpLoadVar:
			depth := int(code[fr.ip])
			slot := int(code[fr.ip+1])
			fr.ip += 2
			env := fr.env
			for i := 0; i < depth; i++ {
				env = vm.arena.Parent(env)
			}
			v := vm.arena.Get(env, slot)
			value.Retain(v)
			vm.push(v)

		case OpStoreVar:
			depth := int(code[fr.ip])
			slot := int(code[fr.ip+1])
			fr.ip += 2
			env := fr.env
			for i := 0; i < depth; i++ {
				env = vm.arena.Parent(env)
			}
			vm.arena.Set(env, slot, vm.pop())

		case OpLoadGlobal:
			slot := int(vm.readU16(fr, code))
			v := vm.globals.Get(slot)
			if v == nil {
				return nil, vm.fault(FaultUnbound, "global slot %d read before definition", slot)
			}
			value.Retain(v)
			vm.push(v)

		case OpStoreGlobal:
			slot := int(vm.readU16(fr, code))
			vm.globals.Set(slot, vm.pop(), vm.arena)

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			if err := vm.arith(op); err != nil {
				return nil, err
			}

		case OpNeg:
			v := vm.pop()
			switch x := v.(type) {
			case value.Int:
				vm.push(value.Int(-x))
			case value.Float:
				vm.push(value.Float(-x))
			default:
				vm.arena.Release(v)
				return nil, vm.fault(FaultType, "- expects a number, got %s", value.TypeName(v))
			}

		case OpEq, OpNe:
			b := vm.pop()
			a := vm.pop()
			eq := value.Equal(a, b)
			vm.arena.Release(a)
			vm.arena.Release(b)
			vm.push(value.Bool(eq == (op == OpEq)))

		case OpLt, OpLe, OpGt, OpGe:
			if err := vm.compare(op); err != nil {
				return nil, err
			}

		case OpNot:
			v := vm.pop()
			truthy := value.Truthy(v)
			vm.arena.Release(v)
			vm.push(value.Bool(!truthy))

		case OpCons:
			cdr := vm.pop()
			car := vm.pop()
			cell := value.NewCons(car, cdr)
			vm.arena.Release(car)
			vm.arena.Release(cdr)
			vm.push(cell)

		case OpCar, OpCdr:
			v := vm.pop()
			cell, ok := v.(*value.Cons)
			if !ok {
				kind := value.TypeName(v)
				vm.arena.Release(v)
				return nil, vm.fault(FaultType, "%s expects a non-empty list, got %s", op.name(), kind)
			}
			var out value.Value
			if op == OpCar {
				out = cell.Car
			} else {
				out = cell.Cdr
			}
			value.Retain(out)
			vm.arena.Release(v)
			vm.push(out)

		case OpIsEmpty:
			v := vm.pop()
			_, empty := v.(value.EmptyList)
			vm.arena.Release(v)
			vm.push(value.Bool(empty))

		case OpList:
			argc := int(code[fr.ip])
			fr.ip++
			elems := vm.popN(argc)
			var list value.Value = value.Empty
			for i := len(elems) - 1; i >= 0; i-- {
				cell := value.NewCons(elems[i], list)
				vm.arena.Release(elems[i])
				vm.arena.Release(list)
				list = cell
			}
			vm.push(list)

		case OpJump:
			fr.ip += vm.readI16(fr, code)

		case OpJumpFalse, OpJumpTrue:
			delta := vm.readI16(fr, code)
			v := vm.pop()
			truthy := value.Truthy(v)
			vm.arena.Release(v)
			if truthy == (op == OpJumpTrue) {
				fr.ip += delta
			}

		case OpMakeClosure:
			idx := vm.readU16(fr, code)
			fn := fr.chunk.Functions[idx]
			vm.arena.RetainFrame(fr.env)
			vm.push(value.NewClosure(fn, fr.env))

		case OpCall:
			argc := int(code[fr.ip])
			fr.ip++
			if err := vm.call(argc, false); err != nil {
				return nil, err
			}

		case OpTailCall:
			argc := int(code[fr.ip])
			fr.ip++
			if err := vm.call(argc, true); err != nil {
				return nil, err
			}

		case OpReturn:
			result := vm.pop()
			top := vm.frames[len(vm.frames)-1]
			vm.arena.ReleaseFrame(top.env)
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == entry {
				return result, nil
			}
			vm.push(result)

		default:
			return nil, vm.fault(FaultType, "illegal opcode 0x%02X", byte(op))
		}
	}
}

func (vm *VM) readU16(fr *vmFrame, code []byte) uint16 {
	v := uint16(code[fr.ip])<<8 | uint16(code[fr.ip+1])
	fr.ip += 2
	return v
}

func (vm *VM) readI16(fr *vmFrame, code []byte) int {
	v := int16(uint16(code[fr.ip])<<8 | uint16(code[fr.ip+1]))
	fr.ip += 2
	return int(v)
}

// name returns a source-level operator name for fault messages.
func (op Opcode) name() string {
	switch op {
	case OpCar:
		return "car"
	case OpCdr:
		return "cdr"
	}
	return strings.ToLower(op.String())
}

// call applies the callee below argc arguments on the stack. A tail
// call tears down the current frame first, so recursion in tail
// position runs in constant frame depth.
func (vm *VM) call(argc int, tail bool) error {
	args := vm.popN(argc)
	callee := vm.pop()

	switch fn := callee.(type) {
	case *value.Native:
		if fn.Arity >= 0 && fn.Arity != argc {
			vm.releaseAll(args)
			vm.arena.Release(callee)
			return vm.fault(FaultArity, "%s expects %d arguments, got %d", fn.Name, fn.Arity, argc)
		}
		result, err := fn.Fn(vm, args)
		vm.releaseAll(args)
		vm.arena.Release(callee)
		if err != nil {
			if rf, ok := err.(*RuntimeFault); ok {
				if rf.Trace == nil {
					rf.Trace = vm.fault(rf.Kind, "%s", rf.Msg).Trace
				}
				return rf
			}
			return vm.fault(FaultType, "%s", err.Error())
		}
		vm.push(result)
		return nil

	case *value.Closure:
		proto, ok := fn.Proto.(*Function)
		if !ok {
			vm.releaseAll(args)
			vm.arena.Release(callee)
			return vm.fault(FaultNotFunction, "closure has no compiled body")
		}
		clause, binds, err := vm.selectClause(proto, args)
		if err != nil {
			vm.releaseAll(args)
			vm.arena.Release(callee)
			return err
		}
		env := vm.newCallFrame(fn.Env, clause, binds)
		vm.releaseAll(args)
		vm.arena.Release(callee)

		if tail {
			// Replace the current frame: same return linkage, no depth
			// growth.
			top := &vm.frames[len(vm.frames)-1]
			vm.arena.ReleaseFrame(top.env)
			top.chunk = clause.Chunk
			top.ip = 0
			top.site = 0
			top.env = env
			return nil
		}
		if len(vm.frames) >= MaxCallDepth {
			vm.arena.ReleaseFrame(env)
			return vm.fault(FaultOverflow, "call depth exceeds %d", MaxCallDepth)
		}
		vm.frames = append(vm.frames, vmFrame{
			chunk: clause.Chunk,
			env:   env,
			base:  len(vm.stack),
		})
		return nil
	}

	kind := value.TypeName(callee)
	vm.releaseAll(args)
	vm.arena.Release(callee)
	return vm.fault(FaultNotFunction, "cannot call a %s", kind)
}

// arith pops two operands and pushes the arithmetic result, promoting
// to float when either side is a float.
func (vm *VM) arith(op Opcode) error {
	b := vm.pop()
	a := vm.pop()
	defer func() {
		vm.arena.Release(a)
		vm.arena.Release(b)
	}()

	ai, aInt := a.(value.Int)
	bi, bInt := b.(value.Int)
	if aInt && bInt {
		switch op {
		case OpAdd:
			vm.push(ai + bi)
		case OpSub:
			vm.push(ai - bi)
		case OpMul:
			vm.push(ai * bi)
		case OpDiv:
			if bi == 0 {
				return vm.fault(FaultDivZero, "%s / 0", value.Format(a))
			}
			vm.push(ai / bi)
		case OpMod:
			if bi == 0 {
				return vm.fault(FaultDivZero, "%s mod 0", value.Format(a))
			}
			vm.push(ai % bi)
		}
		return nil
	}

	if op == OpMod {
		return vm.fault(FaultType, "mod expects integers, got %s and %s",
			value.TypeName(a), value.TypeName(b))
	}

	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		bad := a
		if aok {
			bad = b
		}
		return vm.fault(FaultType, "%s expects numbers, got %s", opSymbol(op), value.TypeName(bad))
	}
	switch op {
	case OpAdd:
		vm.push(value.Float(af + bf))
	case OpSub:
		vm.push(value.Float(af - bf))
	case OpMul:
		vm.push(value.Float(af * bf))
	case OpDiv:
		if bf == 0 {
			return vm.fault(FaultDivZero, "%s / 0.0", value.Format(a))
		}
		vm.push(value.Float(af / bf))
	}
	return nil
}

// compare pops two numeric operands and pushes the ordering result.
func (vm *VM) compare(op Opcode) error {
	b := vm.pop()
	a := vm.pop()
	defer func() {
		vm.arena.Release(a)
		vm.arena.Release(b)
	}()

	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		bad := a
		if aok {
			bad = b
		}
		return vm.fault(FaultType, "%s expects numbers, got %s", opSymbol(op), value.TypeName(bad))
	}

	var r bool
	switch op {
	case OpLt:
		r = af < bf
	case OpLe:
		r = af <= bf
	case OpGt:
		r = af > bf
	case OpGe:
		r = af >= bf
	}
	vm.push(value.Bool(r))
	return nil
}

func asFloat(v value.Value) (float64, bool) {
	switch x := v.(type) {
	case value.Int:
		return float64(x), true
	case value.Float:
		return float64(x), true
	}
	return 0, false
}

func opSymbol(op Opcode) string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "mod"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	}
	return op.String()
}
