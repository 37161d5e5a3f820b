// Package value defines the Calyx runtime value model: immutable
// scalars, reference-counted persistent cons lists, closures, and the
// environment-frame arena. Shared immutable values are safe for
// unsynchronized concurrent reads; reference-count mutation is
// atomic.
package value

import (
	"strconv"
	"strings"
)

// Value is the runtime value union. Concrete types: Int, Float, Bool,
// Str, Symbol, EmptyList, *Cons, *Closure, *Native.
type Value any

// Scalars

type Int int64
type Float float64
type Bool bool
type Str string

// Symbol is an interned-by-content identifier value.
type Symbol string

// EmptyList is the distinguished empty list (). It is a singleton in
// spirit: never allocated, never freed, compared by type.
type EmptyList struct{}

// Empty is the canonical empty list value.
var Empty = EmptyList{}

// Cons is the fundamental pair building persistent singly-linked
// lists. Cells are shared whenever two lists share a tail;
// persistence is by reference, never by deep copy.
type Cons struct {
	Car  Value
	Cdr  Value
	refs int32
}

// FuncInfo is the compiled-function metadata surface a closure
// exposes without re-entering compilation.
type FuncInfo interface {
	FuncName() string
	FuncArity() int // parameter count, -1 for mismatched clause arities
	FuncParams() []string
}

// Closure owns a code reference plus a captured environment frame.
// The environment is shared, not owned exclusively: its lifetime is
// the longest-lived closure or call frame referencing it.
type Closure struct {
	Proto FuncInfo
	Env   Frame
	refs  int32
}

// NewClosure creates a closure over the given environment. The caller
// must have retained env on the closure's behalf.
func NewClosure(proto FuncInfo, env Frame) *Closure {
	return &Closure{Proto: proto, Env: env, refs: 1}
}

// Caller invokes a closure value from builtin code. The VM implements
// it; natives receive it so higher-order builtins (map, parallel
// workers) can call back into user closures.
type Caller interface {
	CallClosure(clo *Closure, args []Value) (Value, error)
}

// NativeFn is the implementation of a builtin.
type NativeFn func(c Caller, args []Value) (Value, error)

// Native is a builtin function value.
type Native struct {
	Name  string
	Arity int // -1 for variadic
	Fn    NativeFn
}

// TypeName names a value's type for diagnostics.
func TypeName(v Value) string {
	switch v.(type) {
	case Int:
		return "integer"
	case Float:
		return "float"
	case Bool:
		return "boolean"
	case Str:
		return "string"
	case Symbol:
		return "symbol"
	case EmptyList, *Cons:
		return "list"
	case *Closure:
		return "function"
	case *Native:
		return "function"
	case nil:
		return "nil"
	}
	return "unknown"
}

// Truthy reports the conditional interpretation of a value: only the
// boolean false is falsy.
func Truthy(v Value) bool {
	if b, ok := v.(Bool); ok {
		return bool(b)
	}
	return true
}

// Equal reports structural equality. Numbers compare by numeric value
// across integer/float; lists compare element-wise.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Int:
		switch bv := b.(type) {
		case Int:
			return av == bv
		case Float:
			return Float(av) == bv
		}
		return false
	case Float:
		switch bv := b.(type) {
		case Int:
			return av == Float(bv)
		case Float:
			return av == bv
		}
		return false
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Str:
		bv, ok := b.(Str)
		return ok && av == bv
	case Symbol:
		bv, ok := b.(Symbol)
		return ok && av == bv
	case EmptyList:
		_, ok := b.(EmptyList)
		return ok
	case *Cons:
		bv, ok := b.(*Cons)
		if !ok {
			return false
		}
		// Iterative over the spine; lists can be very long.
		x, y := av, bv
		for {
			if !Equal(x.Car, y.Car) {
				return false
			}
			xn, xok := x.Cdr.(*Cons)
			yn, yok := y.Cdr.(*Cons)
			if xok != yok {
				return false
			}
			if !xok {
				return Equal(x.Cdr, y.Cdr)
			}
			x, y = xn, yn
		}
	case *Closure:
		return a == b
	case *Native:
		return a == b
	}
	return a == b
}

// Format renders a value as source-like text.
func Format(v Value) string {
	var sb strings.Builder
	format(&sb, v)
	return sb.String()
}

func format(sb *strings.Builder, v Value) {
	switch x := v.(type) {
	case Int:
		sb.WriteString(strconv.FormatInt(int64(x), 10))
	case Float:
		s := strconv.FormatFloat(float64(x), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		sb.WriteString(s)
	case Bool:
		sb.WriteString(strconv.FormatBool(bool(x)))
	case Str:
		sb.WriteString(strconv.Quote(string(x)))
	case Symbol:
		sb.WriteString(string(x))
	case EmptyList:
		sb.WriteString("()")
	case *Cons:
		sb.WriteByte('(')
		format(sb, x.Car)
		rest := x.Cdr
		for {
			switch r := rest.(type) {
			case *Cons:
				sb.WriteByte(' ')
				format(sb, r.Car)
				rest = r.Cdr
				continue
			case EmptyList:
				sb.WriteByte(')')
				return
			default:
				sb.WriteString(" . ")
				format(sb, rest)
				sb.WriteByte(')')
				return
			}
		}
	case *Closure:
		sb.WriteString("#<fn ")
		sb.WriteString(x.Proto.FuncName())
		sb.WriteByte('>')
	case *Native:
		sb.WriteString("#<builtin ")
		sb.WriteString(x.Name)
		sb.WriteByte('>')
	case nil:
		sb.WriteString("()")
	default:
		sb.WriteString("#<unknown>")
	}
}

// Display renders a value for output: strings print their contents
// without quotes, everything else as Format.
func Display(v Value) string {
	if s, ok := v.(Str); ok {
		return string(s)
	}
	return Format(v)
}

// ListLen returns the element count of a proper list, or -1 for a
// dotted list or non-list.
func ListLen(v Value) int {
	n := 0
	for {
		switch x := v.(type) {
		case EmptyList:
			return n
		case *Cons:
			n++
			v = x.Cdr
		default:
			return -1
		}
	}
}

// ListToSlice flattens a proper list into a slice. The second result
// is false for dotted lists and non-lists.
func ListToSlice(v Value) ([]Value, bool) {
	var out []Value
	for {
		switch x := v.(type) {
		case EmptyList:
			return out, true
		case *Cons:
			out = append(out, x.Car)
			v = x.Cdr
		default:
			return out, false
		}
	}
}
