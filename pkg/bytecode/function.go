package bytecode

import (
	"fmt"

	"github.com/chazu/calyx/compiler"
	"github.com/chazu/calyx/pkg/value"
)

// CompiledClause is one compiled alternative of a function: its
// pattern row, the names it binds (in slot order), and the bytecode
// for its body. Top-level forms compile to a pattern-less clause.
type CompiledClause struct {
	Patterns  []*compiler.Pattern
	Bindings  []string // pattern-bound names, occupying slots 0..n-1
	NumLocals int      // total frame slots: bindings plus let/loop locals
	SlotNames []string // name per slot, for reflection and the disassembler
	Chunk     *Chunk
}

// Function is a compiled, arity-dispatching function: an ordered
// clause sequence tried in source order at every call. It implements
// value.FuncInfo so closures expose their metadata without
// re-entering compilation.
type Function struct {
	Name    string
	Clauses []*CompiledClause
}

// FuncName returns the function's name.
func (f *Function) FuncName() string {
	return f.Name
}

// FuncArity returns the shared parameter count, or -1 when clauses
// disagree (the variadic sentinel).
func (f *Function) FuncArity() int {
	if len(f.Clauses) == 0 {
		return 0
	}
	n := len(f.Clauses[0].Patterns)
	for _, c := range f.Clauses[1:] {
		if len(c.Patterns) != n {
			return -1
		}
	}
	return n
}

// FuncParams returns the positional parameter names of the first
// clause; non-variable patterns render as their source text.
func (f *Function) FuncParams() []string {
	if len(f.Clauses) == 0 {
		return nil
	}
	out := make([]string, len(f.Clauses[0].Patterns))
	for i, p := range f.Clauses[0].Patterns {
		if p.Kind == compiler.PatVariable {
			out[i] = p.Name
		} else {
			out[i] = p.String()
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// AST <-> value conversion
// ---------------------------------------------------------------------------

// NodeToValue converts a quoted AST node into a runtime value.
// List structure is built as fresh cons cells owned by the caller.
func NodeToValue(n *compiler.Node) value.Value {
	switch n.Kind {
	case compiler.NodeInteger:
		return value.Int(n.Int)
	case compiler.NodeFloat:
		return value.Float(n.Float)
	case compiler.NodeBool:
		return value.Bool(n.Bool)
	case compiler.NodeString:
		return value.Str(n.Str)
	case compiler.NodeSymbol:
		return value.Symbol(n.Str)
	case compiler.NodeList:
		var tail value.Value = value.Empty
		if n.Tail != nil {
			tail = NodeToValue(n.Tail)
		}
		for i := len(n.List) - 1; i >= 0; i-- {
			elem := NodeToValue(n.List[i])
			cell := value.NewCons(elem, tail)
			// NewCons retained both; drop the construction references
			// so the cell is the sole owner.
			value.Release(elem)
			value.Release(tail)
			tail = cell
		}
		return tail
	}
	return value.Empty
}

// ValueToNode converts a runtime value back into an AST node, the
// inverse used by macroexpand. Function values have no source form.
func ValueToNode(v value.Value) (*compiler.Node, error) {
	var pos compiler.Position
	switch x := v.(type) {
	case value.Int:
		return compiler.NewInteger(int64(x), pos), nil
	case value.Float:
		return compiler.NewFloat(float64(x), pos), nil
	case value.Bool:
		return compiler.NewBool(bool(x), pos), nil
	case value.Str:
		return compiler.NewString(string(x), pos), nil
	case value.Symbol:
		return compiler.NewSymbol(string(x), pos), nil
	case value.EmptyList:
		return compiler.NewList(nil, pos), nil
	case *value.Cons:
		var elems []*compiler.Node
		var cur value.Value = x
		for {
			cell, ok := cur.(*value.Cons)
			if !ok {
				break
			}
			elem, err := ValueToNode(cell.Car)
			if err != nil {
				return nil, err
			}
			elems = append(elems, elem)
			cur = cell.Cdr
		}
		node := compiler.NewList(elems, pos)
		if _, isEmpty := cur.(value.EmptyList); !isEmpty {
			tail, err := ValueToNode(cur)
			if err != nil {
				return nil, err
			}
			node.Tail = tail
		}
		return node, nil
	}
	return nil, fmt.Errorf("value has no source form: %s", value.TypeName(v))
}
