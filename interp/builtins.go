package interp

import (
	"fmt"
	"strings"

	"github.com/chazu/calyx/compiler"
	"github.com/chazu/calyx/pkg/bytecode"
	"github.com/chazu/calyx/pkg/value"
)

// registerBuiltins installs the native functions. The operator
// builtins mirror the inlined opcodes so operators work as values in
// higher-order positions: (map car pairs) loads the car native, while
// (car x) compiles to a single instruction.
func (in *Interp) registerBuiltins() {
	in.native("print", -1, in.printNative(""))
	in.native("println", -1, in.printNative("\n"))
	in.native("str", -1, strNative)

	in.native("+", -1, arithNative("+"))
	in.native("-", -1, arithNative("-"))
	in.native("*", -1, arithNative("*"))
	in.native("/", -1, arithNative("/"))
	in.native("mod", 2, arithNative("mod"))

	in.native("=", 2, func(c value.Caller, args []value.Value) (value.Value, error) {
		return value.Bool(value.Equal(args[0], args[1])), nil
	})
	in.native("not=", 2, func(c value.Caller, args []value.Value) (value.Value, error) {
		return value.Bool(!value.Equal(args[0], args[1])), nil
	})
	in.native("<", 2, compareNative("<"))
	in.native("<=", 2, compareNative("<="))
	in.native(">", 2, compareNative(">"))
	in.native(">=", 2, compareNative(">="))
	in.native("not", 1, func(c value.Caller, args []value.Value) (value.Value, error) {
		return value.Bool(!value.Truthy(args[0])), nil
	})

	in.native("cons", 2, func(c value.Caller, args []value.Value) (value.Value, error) {
		return value.NewCons(args[0], args[1]), nil
	})
	in.native("car", 1, carNative)
	in.native("cdr", 1, cdrNative)
	in.native("empty?", 1, func(c value.Caller, args []value.Value) (value.Value, error) {
		_, empty := args[0].(value.EmptyList)
		return value.Bool(empty), nil
	})
	in.native("list", -1, func(c value.Caller, args []value.Value) (value.Value, error) {
		for _, a := range args {
			value.Retain(a)
		}
		return listOf(args...), nil
	})

	in.native("apply", 2, applyNative)
	in.native("type-of", 1, func(c value.Caller, args []value.Value) (value.Value, error) {
		return value.Symbol(value.TypeName(args[0])), nil
	})

	in.native("gensym", 0, func(c value.Caller, args []value.Value) (value.Value, error) {
		return value.Symbol(in.expander.Gensym()), nil
	})
	in.native("macroexpand", 1, in.macroexpandNative)
	in.native("macroexpand-1", 1, in.macroexpandNative)

	in.native("function-name", 1, funcInfoNative("function-name", func(fi value.FuncInfo) value.Value {
		return value.Str(fi.FuncName())
	}))
	in.native("function-arity", 1, funcInfoNative("function-arity", func(fi value.FuncInfo) value.Value {
		return value.Int(fi.FuncArity())
	}))
	in.native("function-params", 1, funcInfoNative("function-params", func(fi value.FuncInfo) value.Value {
		params := fi.FuncParams()
		elems := make([]value.Value, len(params))
		for i, p := range params {
			elems[i] = value.Symbol(p)
		}
		return listOf(elems...)
	}))
	in.native("closure-captured", 1, in.closureCapturedNative)

	in.registerParallel()
}

// native defines a builtin in the global table. Builtins are consts:
// user code cannot redefine them.
func (in *Interp) native(name string, arity int, fn value.NativeFn) {
	node := compiler.NewSymbol(name, compiler.Position{})
	slot, err := in.globals.Define(node, true)
	if err != nil {
		panic(fmt.Sprintf("builtin %s: %v", name, err))
	}
	in.store.Set(slot, &value.Native{Name: name, Arity: arity, Fn: fn}, in.arena)
}

// typeFault builds a type-error fault for a builtin.
func typeFault(format string, args ...any) error {
	return &bytecode.RuntimeFault{Kind: bytecode.FaultType, Msg: fmt.Sprintf(format, args...)}
}

// listOf builds a proper list, taking ownership of the element
// references.
func listOf(elems ...value.Value) value.Value {
	var list value.Value = value.Empty
	for i := len(elems) - 1; i >= 0; i-- {
		cell := value.NewCons(elems[i], list)
		value.Release(elems[i])
		value.Release(list)
		list = cell
	}
	return list
}

func (in *Interp) printNative(suffix string) value.NativeFn {
	return func(c value.Caller, args []value.Value) (value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = value.Display(a)
		}
		if _, err := fmt.Fprint(in.out, strings.Join(parts, " ")+suffix); err != nil {
			return nil, err
		}
		return value.Empty, nil
	}
}

func strNative(c value.Caller, args []value.Value) (value.Value, error) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(value.Display(a))
	}
	return value.Str(sb.String()), nil
}

func carNative(c value.Caller, args []value.Value) (value.Value, error) {
	cell, ok := args[0].(*value.Cons)
	if !ok {
		return nil, typeFault("car expects a non-empty list, got %s", value.TypeName(args[0]))
	}
	value.Retain(cell.Car)
	return cell.Car, nil
}

func cdrNative(c value.Caller, args []value.Value) (value.Value, error) {
	cell, ok := args[0].(*value.Cons)
	if !ok {
		return nil, typeFault("cdr expects a non-empty list, got %s", value.TypeName(args[0]))
	}
	value.Retain(cell.Cdr)
	return cell.Cdr, nil
}

func applyNative(c value.Caller, args []value.Value) (value.Value, error) {
	callArgs, ok := value.ListToSlice(args[1])
	if !ok {
		return nil, typeFault("apply expects a proper argument list, got %s", value.Format(args[1]))
	}
	switch fn := args[0].(type) {
	case *value.Closure:
		return c.CallClosure(fn, callArgs)
	case *value.Native:
		if fn.Arity >= 0 && fn.Arity != len(callArgs) {
			return nil, &bytecode.RuntimeFault{
				Kind: bytecode.FaultArity,
				Msg:  fmt.Sprintf("%s expects %d arguments, got %d", fn.Name, fn.Arity, len(callArgs)),
			}
		}
		return fn.Fn(c, callArgs)
	}
	return nil, &bytecode.RuntimeFault{
		Kind: bytecode.FaultNotFunction,
		Msg:  fmt.Sprintf("cannot apply a %s", value.TypeName(args[0])),
	}
}

// macroexpandNative performs exactly one expansion step on the head
// of the form. Sub-forms are never rewritten, and the result of the
// step is not expanded further; macroexpand-1 is an alias.
func (in *Interp) macroexpandNative(c value.Caller, args []value.Value) (value.Value, error) {
	node, err := bytecode.ValueToNode(args[0])
	if err != nil {
		return nil, err
	}
	expanded, _, err := in.expander.Expand1(node)
	if err != nil {
		return nil, err
	}
	return bytecode.NodeToValue(expanded), nil
}

func funcInfoNative(name string, get func(value.FuncInfo) value.Value) value.NativeFn {
	return func(c value.Caller, args []value.Value) (value.Value, error) {
		switch fn := args[0].(type) {
		case *value.Closure:
			return get(fn.Proto), nil
		case *value.Native:
			return get(nativeInfo{fn}), nil
		}
		return nil, typeFault("%s expects a function, got %s", name, value.TypeName(args[0]))
	}
}

// nativeInfo adapts a builtin to the function metadata surface.
type nativeInfo struct {
	n *value.Native
}

func (ni nativeInfo) FuncName() string     { return ni.n.Name }
func (ni nativeInfo) FuncArity() int       { return ni.n.Arity }
func (ni nativeInfo) FuncParams() []string { return nil }

// closureCapturedNative returns the closure's captured bindings as a
// list of (name value) pairs, innermost frame slots in order.
func (in *Interp) closureCapturedNative(c value.Caller, args []value.Value) (value.Value, error) {
	clo, ok := args[0].(*value.Closure)
	if !ok {
		return nil, typeFault("closure-captured expects a closure, got %s", value.TypeName(args[0]))
	}
	if clo.Env == value.NoFrame {
		return value.Empty, nil
	}
	names, values := in.arena.Snapshot(clo.Env)
	pairs := make([]value.Value, 0, len(names))
	for i, name := range names {
		v := values[i]
		if v == nil {
			continue
		}
		value.Retain(v)
		pairs = append(pairs, listOf(value.Symbol(name), v))
	}
	return listOf(pairs...), nil
}

// ---------------------------------------------------------------------------
// Numeric builtins
// ---------------------------------------------------------------------------

func toFloat(v value.Value) (float64, bool) {
	switch x := v.(type) {
	case value.Int:
		return float64(x), true
	case value.Float:
		return float64(x), true
	}
	return 0, false
}

// arithNative folds the operator left to right with integer/float
// promotion, the value-level twin of the inlined arithmetic opcodes.
func arithNative(op string) value.NativeFn {
	return func(c value.Caller, args []value.Value) (value.Value, error) {
		min := 1
		if op == "/" || op == "mod" {
			min = 2
		}
		if len(args) < min {
			return nil, &bytecode.RuntimeFault{
				Kind: bytecode.FaultArity,
				Msg:  fmt.Sprintf("%s needs at least %d arguments, got %d", op, min, len(args)),
			}
		}
		if len(args) == 1 {
			if op == "-" {
				return negate(args[0])
			}
			if _, ok := toFloat(args[0]); !ok {
				return nil, typeFault("%s expects numbers, got %s", op, value.TypeName(args[0]))
			}
			value.Retain(args[0])
			return args[0], nil
		}
		acc := args[0]
		value.Retain(acc)
		for _, b := range args[1:] {
			next, err := binArith(op, acc, b)
			value.Release(acc)
			if err != nil {
				return nil, err
			}
			acc = next
		}
		return acc, nil
	}
}

func negate(v value.Value) (value.Value, error) {
	switch x := v.(type) {
	case value.Int:
		return value.Int(-x), nil
	case value.Float:
		return value.Float(-x), nil
	}
	return nil, typeFault("- expects a number, got %s", value.TypeName(v))
}

func binArith(op string, a, b value.Value) (value.Value, error) {
	ai, aInt := a.(value.Int)
	bi, bInt := b.(value.Int)
	if aInt && bInt {
		switch op {
		case "+":
			return ai + bi, nil
		case "-":
			return ai - bi, nil
		case "*":
			return ai * bi, nil
		case "/":
			if bi == 0 {
				return nil, &bytecode.RuntimeFault{Kind: bytecode.FaultDivZero, Msg: fmt.Sprintf("%d / 0", int64(ai))}
			}
			return ai / bi, nil
		case "mod":
			if bi == 0 {
				return nil, &bytecode.RuntimeFault{Kind: bytecode.FaultDivZero, Msg: fmt.Sprintf("%d mod 0", int64(ai))}
			}
			return ai % bi, nil
		}
	}
	if op == "mod" {
		return nil, typeFault("mod expects integers, got %s and %s", value.TypeName(a), value.TypeName(b))
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		bad := a
		if aok {
			bad = b
		}
		return nil, typeFault("%s expects numbers, got %s", op, value.TypeName(bad))
	}
	switch op {
	case "+":
		return value.Float(af + bf), nil
	case "-":
		return value.Float(af - bf), nil
	case "*":
		return value.Float(af * bf), nil
	case "/":
		if bf == 0 {
			return nil, &bytecode.RuntimeFault{Kind: bytecode.FaultDivZero, Msg: fmt.Sprintf("%s / 0.0", value.Format(a))}
		}
		return value.Float(af / bf), nil
	}
	return nil, typeFault("unknown operator %s", op)
}

func compareNative(op string) value.NativeFn {
	return func(c value.Caller, args []value.Value) (value.Value, error) {
		af, aok := toFloat(args[0])
		bf, bok := toFloat(args[1])
		if !aok || !bok {
			bad := args[0]
			if aok {
				bad = args[1]
			}
			return nil, typeFault("%s expects numbers, got %s", op, value.TypeName(bad))
		}
		var r bool
		switch op {
		case "<":
			r = af < bf
		case "<=":
			r = af <= bf
		case ">":
			r = af > bf
		case ">=":
			r = af >= bf
		}
		return value.Bool(r), nil
	}
}
