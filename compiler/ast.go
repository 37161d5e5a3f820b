package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// AST: S-expression nodes
// ---------------------------------------------------------------------------

// NodeKind identifies the variant of an AST node.
type NodeKind int

const (
	NodeInteger NodeKind = iota
	NodeFloat
	NodeBool
	NodeString
	NodeSymbol
	NodeList
)

var nodeKindNames = map[NodeKind]string{
	NodeInteger: "integer",
	NodeFloat:   "float",
	NodeBool:    "boolean",
	NodeString:  "string",
	NodeSymbol:  "symbol",
	NodeList:    "list",
}

func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// Node is a parsed S-expression. It is a tagged union: exactly the
// fields for its Kind are meaningful. Nodes are immutable once parsed;
// the macro expander and optimizer build new nodes rather than
// mutating existing ones.
type Node struct {
	Kind  NodeKind
	Int   int64   // NodeInteger
	Float float64 // NodeFloat
	Bool  bool    // NodeBool
	Str   string  // NodeString value or NodeSymbol name
	List  []*Node // NodeList elements
	Tail  *Node   // non-nil iff the list is dotted: (a b . tail)
	Pos   Position
}

// Constructors

func NewInteger(v int64, pos Position) *Node {
	return &Node{Kind: NodeInteger, Int: v, Pos: pos}
}

func NewFloat(v float64, pos Position) *Node {
	return &Node{Kind: NodeFloat, Float: v, Pos: pos}
}

func NewBool(v bool, pos Position) *Node {
	return &Node{Kind: NodeBool, Bool: v, Pos: pos}
}

func NewString(v string, pos Position) *Node {
	return &Node{Kind: NodeString, Str: v, Pos: pos}
}

func NewSymbol(name string, pos Position) *Node {
	return &Node{Kind: NodeSymbol, Str: name, Pos: pos}
}

func NewList(elems []*Node, pos Position) *Node {
	return &Node{Kind: NodeList, List: elems, Pos: pos}
}

// NewForm builds a proper list whose head is the named symbol.
func NewForm(head string, pos Position, args ...*Node) *Node {
	elems := make([]*Node, 0, len(args)+1)
	elems = append(elems, NewSymbol(head, pos))
	elems = append(elems, args...)
	return NewList(elems, pos)
}

// Predicates

// IsSymbol reports whether n is the named symbol.
func (n *Node) IsSymbol(name string) bool {
	return n != nil && n.Kind == NodeSymbol && n.Str == name
}

// IsEmptyList reports whether n is the proper empty list ().
func (n *Node) IsEmptyList() bool {
	return n != nil && n.Kind == NodeList && len(n.List) == 0 && n.Tail == nil
}

// IsCallTo reports whether n is a proper list whose head is the named
// symbol.
func (n *Node) IsCallTo(name string) bool {
	return n != nil && n.Kind == NodeList && n.Tail == nil &&
		len(n.List) > 0 && n.List[0].IsSymbol(name)
}

// IsLiteral reports whether n is a self-evaluating literal.
func (n *Node) IsLiteral() bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case NodeInteger, NodeFloat, NodeBool, NodeString:
		return true
	}
	return false
}

// IsNumber reports whether n is an integer or float literal.
func (n *Node) IsNumber() bool {
	return n != nil && (n.Kind == NodeInteger || n.Kind == NodeFloat)
}

// AsFloat returns the numeric value of an integer or float literal.
func (n *Node) AsFloat() float64 {
	if n.Kind == NodeInteger {
		return float64(n.Int)
	}
	return n.Float
}

// Head returns the first element of a list node, or nil.
func (n *Node) Head() *Node {
	if n == nil || n.Kind != NodeList || len(n.List) == 0 {
		return nil
	}
	return n.List[0]
}

// String renders the node back as source text.
func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	if n == nil {
		sb.WriteString("()")
		return
	}
	switch n.Kind {
	case NodeInteger:
		sb.WriteString(strconv.FormatInt(n.Int, 10))
	case NodeFloat:
		sb.WriteString(FormatFloat(n.Float))
	case NodeBool:
		sb.WriteString(strconv.FormatBool(n.Bool))
	case NodeString:
		sb.WriteString(strconv.Quote(n.Str))
	case NodeSymbol:
		sb.WriteString(n.Str)
	case NodeList:
		// Reader sugar prints back as sugar.
		if n.Tail == nil && len(n.List) == 2 {
			switch {
			case n.List[0].IsSymbol("quote"):
				sb.WriteByte('\'')
				n.List[1].write(sb)
				return
			case n.List[0].IsSymbol("quasiquote"):
				sb.WriteByte('`')
				n.List[1].write(sb)
				return
			case n.List[0].IsSymbol("unquote"):
				sb.WriteByte(',')
				n.List[1].write(sb)
				return
			}
		}
		sb.WriteByte('(')
		for i, e := range n.List {
			if i > 0 {
				sb.WriteByte(' ')
			}
			e.write(sb)
		}
		if n.Tail != nil {
			sb.WriteString(" . ")
			n.Tail.write(sb)
		}
		sb.WriteByte(')')
	}
}

// FormatFloat renders a float so it always reads back as a float.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Equal reports deep structural equality of two nodes, ignoring
// positions. Integer and float literals of equal numeric value are
// still unequal: the distinction is significant for literal patterns.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case NodeInteger:
		return a.Int == b.Int
	case NodeFloat:
		return a.Float == b.Float
	case NodeBool:
		return a.Bool == b.Bool
	case NodeString, NodeSymbol:
		return a.Str == b.Str
	case NodeList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		if (a.Tail == nil) != (b.Tail == nil) {
			return false
		}
		if a.Tail != nil {
			return Equal(a.Tail, b.Tail)
		}
		return true
	}
	return false
}
