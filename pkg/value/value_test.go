package value

import (
	"reflect"
	"testing"
)

func list(elems ...Value) Value {
	var v Value = Empty
	for i := len(elems) - 1; i >= 0; i-- {
		c := NewCons(elems[i], v)
		Release(v)
		v = c
	}
	return v
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{Bool(false), false},
		{Bool(true), true},
		{Int(0), true},
		{Float(0), true},
		{Str(""), true},
		{Empty, true},
		{Symbol("x"), true},
	}
	for _, tc := range tests {
		if got := Truthy(tc.v); got != tc.want {
			t.Errorf("Truthy(%s) = %v, want %v", Format(tc.v), got, tc.want)
		}
	}
}

func TestEqualScalars(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{Int(1), Int(1), true},
		{Int(1), Int(2), false},
		{Int(1), Float(1.0), true}, // numeric equality crosses types
		{Float(1.0), Int(1), true},
		{Float(1.5), Float(1.5), true},
		{Int(1), Str("1"), false},
		{Str("a"), Str("a"), true},
		{Str("a"), Symbol("a"), false},
		{Bool(true), Bool(true), true},
		{Bool(true), Int(1), false},
		{Empty, Empty, true},
		{Empty, Int(0), false},
	}
	for _, tc := range tests {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Errorf("Equal(%s, %s) = %v, want %v",
				Format(tc.a), Format(tc.b), got, tc.want)
		}
	}
}

func TestEqualLists(t *testing.T) {
	a := list(Int(1), Int(2), Int(3))
	b := list(Int(1), Int(2), Int(3))
	c := list(Int(1), Int(2))
	d := list(Int(1), Float(2.0), Int(3))
	defer Release(a)
	defer Release(b)
	defer Release(c)
	defer Release(d)

	if !Equal(a, b) {
		t.Error("equal lists compared unequal")
	}
	if Equal(a, c) {
		t.Error("lists of different length compared equal")
	}
	if !Equal(a, d) {
		t.Error("numeric equality does not cross types inside lists")
	}
	if Equal(a, Empty) {
		t.Error("non-empty list equals ()")
	}
}

func TestEqualDottedLists(t *testing.T) {
	a := NewCons(Int(1), Int(2))
	b := NewCons(Int(1), Int(2))
	c := list(Int(1), Int(2))
	defer Release(a)
	defer Release(b)
	defer Release(c)

	if !Equal(a, b) {
		t.Error("equal pairs compared unequal")
	}
	if Equal(a, c) {
		t.Error("(1 . 2) equals (1 2)")
	}
}

func TestFormat(t *testing.T) {
	pair := NewCons(Int(1), Int(2))
	nested := list(Int(1), list(Int(2), Int(3)))
	defer Release(pair)
	defer Release(nested)

	tests := []struct {
		v    Value
		want string
	}{
		{Int(42), "42"},
		{Int(-7), "-7"},
		{Float(2.5), "2.5"},
		{Float(1), "1.0"}, // floats always carry a mark
		{Float(1e20), "1e+20"},
		{Bool(true), "true"},
		{Bool(false), "false"},
		{Str("hi"), `"hi"`},
		{Str("a\"b"), `"a\"b"`},
		{Symbol("foo"), "foo"},
		{Empty, "()"},
		{pair, "(1 . 2)"},
		{nested, "(1 (2 3))"},
	}
	for _, tc := range tests {
		if got := Format(tc.v); got != tc.want {
			t.Errorf("Format = %q, want %q", got, tc.want)
		}
	}
}

func TestDisplay(t *testing.T) {
	if got := Display(Str("hi")); got != "hi" {
		t.Errorf("Display(string) = %q, want unquoted", got)
	}
	if got := Display(Int(3)); got != "3" {
		t.Errorf("Display(3) = %q", got)
	}
}

func TestTypeName(t *testing.T) {
	c := NewCons(Int(1), Empty)
	defer Release(c)

	tests := []struct {
		v    Value
		want string
	}{
		{Int(1), "integer"},
		{Float(1), "float"},
		{Bool(true), "boolean"},
		{Str(""), "string"},
		{Symbol("s"), "symbol"},
		{Empty, "list"},
		{c, "list"},
		{&Native{Name: "car"}, "function"},
	}
	for _, tc := range tests {
		if got := TypeName(tc.v); got != tc.want {
			t.Errorf("TypeName(%s) = %q, want %q", Format(tc.v), got, tc.want)
		}
	}
}

func TestListLen(t *testing.T) {
	proper := list(Int(1), Int(2), Int(3))
	dotted := NewCons(Int(1), Int(2))
	defer Release(proper)
	defer Release(dotted)

	if got := ListLen(Empty); got != 0 {
		t.Errorf("ListLen(()) = %d", got)
	}
	if got := ListLen(proper); got != 3 {
		t.Errorf("ListLen = %d, want 3", got)
	}
	if got := ListLen(dotted); got != -1 {
		t.Errorf("ListLen(dotted) = %d, want -1", got)
	}
	if got := ListLen(Int(5)); got != -1 {
		t.Errorf("ListLen(5) = %d, want -1", got)
	}
}

func TestListToSlice(t *testing.T) {
	proper := list(Int(1), Int(2))
	dotted := NewCons(Int(1), Int(2))
	defer Release(proper)
	defer Release(dotted)

	got, ok := ListToSlice(proper)
	if !ok || !reflect.DeepEqual(got, []Value{Int(1), Int(2)}) {
		t.Errorf("ListToSlice = %v, %v", got, ok)
	}
	if _, ok := ListToSlice(dotted); ok {
		t.Error("ListToSlice accepted a dotted list")
	}
	if got, ok := ListToSlice(Empty); !ok || len(got) != 0 {
		t.Errorf("ListToSlice(()) = %v, %v", got, ok)
	}
}
