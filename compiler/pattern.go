package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Pattern compiler: clause lists to a dispatch structure
// ---------------------------------------------------------------------------

// PatternKind identifies the variant of a compiled pattern.
type PatternKind int

const (
	PatLiteral  PatternKind = iota // 42, 1.5, "s", true
	PatWildcard                    // _
	PatVariable                    // x
	PatCons                        // (h . t)
	PatList                        // (a b c) — proper list of exact length
	PatQuoted                      // 'sym or '()
)

func (k PatternKind) String() string {
	switch k {
	case PatLiteral:
		return "literal"
	case PatWildcard:
		return "wildcard"
	case PatVariable:
		return "variable"
	case PatCons:
		return "cons"
	case PatList:
		return "list"
	case PatQuoted:
		return "quoted"
	}
	return fmt.Sprintf("PatternKind(%d)", int(k))
}

// Pattern is one node of a compiled structural pattern. It is a
// closed tagged variant: exactly the fields for its Kind are set.
type Pattern struct {
	Kind    PatternKind
	Literal *Node      // PatLiteral: the literal node
	Name    string     // PatVariable: name bound on match
	Head    *Pattern   // PatCons
	Tail    *Pattern   // PatCons
	Elems   []*Pattern // PatList
	Sym     string     // PatQuoted: symbol name, "" for '()
	Pos     Position
}

// String renders the pattern back as source text.
func (p *Pattern) String() string {
	switch p.Kind {
	case PatLiteral:
		return p.Literal.String()
	case PatWildcard:
		return "_"
	case PatVariable:
		return p.Name
	case PatCons:
		return fmt.Sprintf("(%s . %s)", p.Head, p.Tail)
	case PatList:
		parts := make([]string, len(p.Elems))
		for i, e := range p.Elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	case PatQuoted:
		if p.Sym == "" {
			return "'()"
		}
		return "'" + p.Sym
	}
	return "?"
}

// Clause pairs one ordered pattern row with its body forms. Bindings
// lists the variable names introduced by the patterns in
// left-to-right, depth-first order; the matcher produces bound values
// in exactly this order.
type Clause struct {
	Patterns []*Pattern
	Bindings []string
	Body     []*Node
	Pos      Position
}

// Arity returns the number of positional patterns.
func (c *Clause) Arity() int {
	return len(c.Patterns)
}

// FunctionDef is an ordered clause sequence sharing one dispatch
// set. Clause order is significant: the first structurally matching
// clause wins.
type FunctionDef struct {
	Name    string
	Clauses []*Clause
	Pos     Position
}

// Arity returns the common parameter count, or -1 if clauses differ
// (the variadic sentinel of the reflection surface).
func (f *FunctionDef) Arity() int {
	if len(f.Clauses) == 0 {
		return 0
	}
	n := f.Clauses[0].Arity()
	for _, c := range f.Clauses[1:] {
		if c.Arity() != n {
			return -1
		}
	}
	return n
}

// Params returns the positional parameter names of the first clause,
// rendering non-variable patterns as their source text.
func (f *FunctionDef) Params() []string {
	if len(f.Clauses) == 0 {
		return nil
	}
	out := make([]string, len(f.Clauses[0].Patterns))
	for i, p := range f.Clauses[0].Patterns {
		if p.Kind == PatVariable {
			out[i] = p.Name
		} else {
			out[i] = p.String()
		}
	}
	return out
}

// IsSimpleParamList reports whether n is a proper list of plain
// symbols — the degenerate single-clause parameter list.
func IsSimpleParamList(n *Node) bool {
	if n == nil || n.Kind != NodeList || n.Tail != nil {
		return false
	}
	for _, e := range n.List {
		if e.Kind != NodeSymbol {
			return false
		}
	}
	return true
}

// CompileFunctionDef turns a (defun name ...) form into a FunctionDef.
// Two shapes are accepted:
//
//	(defun name (a b) body...)                 single clause, plain params
//	(defun name ((pat...) body...) clause...)  one clause per list
//
// The single-clause shape compiles to all-variable patterns so both
// shapes share one dispatch structure.
func CompileFunctionDef(form *Node) (*FunctionDef, error) {
	if len(form.List) < 3 {
		return nil, errorf(form, "defun needs a name and a parameter list")
	}
	name := form.List[1]
	if name.Kind != NodeSymbol {
		return nil, errorf(name, "defun name must be a symbol, got %s", name.Kind)
	}

	def := &FunctionDef{Name: name.Str, Pos: form.Pos}

	if IsSimpleParamList(form.List[2]) {
		if len(form.List) < 4 {
			return nil, errorf(form, "defun %s has no body", name.Str)
		}
		clause, err := compileClause(form.List[2], form.List[3:], name.Str)
		if err != nil {
			return nil, err
		}
		def.Clauses = []*Clause{clause}
		return def, nil
	}

	for _, clauseForm := range form.List[2:] {
		if clauseForm.Kind != NodeList || clauseForm.Tail != nil || len(clauseForm.List) < 2 {
			return nil, errorf(clauseForm, "defun %s: clause must be ((patterns...) body...)", name.Str)
		}
		patList := clauseForm.List[0]
		if patList.Kind != NodeList || patList.Tail != nil {
			return nil, errorf(patList, "defun %s: clause pattern row must be a proper list", name.Str)
		}
		clause, err := compileClause(patList, clauseForm.List[1:], name.Str)
		if err != nil {
			return nil, err
		}
		clause.Pos = clauseForm.Pos
		def.Clauses = append(def.Clauses, clause)
	}
	return def, nil
}

// compileClause compiles one pattern row and body.
func compileClause(patList *Node, body []*Node, fnName string) (*Clause, error) {
	clause := &Clause{Body: body, Pos: patList.Pos}
	seen := make(map[string]bool)
	for _, patNode := range patList.List {
		pat, err := compilePattern(patNode, seen, fnName)
		if err != nil {
			return nil, err
		}
		clause.Patterns = append(clause.Patterns, pat)
	}
	clause.Bindings = collectBindings(clause.Patterns)
	return clause, nil
}

// compilePattern compiles a single parameter AST node into a Pattern.
func compilePattern(n *Node, seen map[string]bool, fnName string) (*Pattern, error) {
	switch n.Kind {
	case NodeInteger, NodeFloat, NodeBool, NodeString:
		return &Pattern{Kind: PatLiteral, Literal: n, Pos: n.Pos}, nil

	case NodeSymbol:
		if n.Str == "_" {
			return &Pattern{Kind: PatWildcard, Pos: n.Pos}, nil
		}
		if seen[n.Str] {
			return nil, errorf(n, "defun %s: duplicate pattern variable %s", fnName, n.Str)
		}
		seen[n.Str] = true
		return &Pattern{Kind: PatVariable, Name: n.Str, Pos: n.Pos}, nil

	case NodeList:
		// 'sym and '() match symbolic/structural equality.
		if n.IsCallTo("quote") && len(n.List) == 2 {
			q := n.List[1]
			if q.Kind == NodeSymbol {
				return &Pattern{Kind: PatQuoted, Sym: q.Str, Pos: n.Pos}, nil
			}
			if q.IsEmptyList() {
				return &Pattern{Kind: PatQuoted, Sym: "", Pos: n.Pos}, nil
			}
			return nil, errorf(n, "defun %s: quoted pattern must be a symbol or ()", fnName)
		}

		if n.Tail != nil {
			// (a b . rest) — nested cons patterns terminating in the
			// dotted tail.
			tail, err := compilePattern(n.Tail, seen, fnName)
			if err != nil {
				return nil, err
			}
			for i := len(n.List) - 1; i >= 0; i-- {
				head, err := compilePattern(n.List[i], seen, fnName)
				if err != nil {
					return nil, err
				}
				tail = &Pattern{Kind: PatCons, Head: head, Tail: tail, Pos: n.List[i].Pos}
			}
			return tail, nil
		}

		// Proper list pattern of exact length.
		elems := make([]*Pattern, len(n.List))
		for i, e := range n.List {
			p, err := compilePattern(e, seen, fnName)
			if err != nil {
				return nil, err
			}
			elems[i] = p
		}
		return &Pattern{Kind: PatList, Elems: elems, Pos: n.Pos}, nil
	}

	return nil, errorf(n, "defun %s: invalid pattern", fnName)
}

// collectBindings walks patterns left-to-right, depth-first, listing
// variable names in binding order.
func collectBindings(pats []*Pattern) []string {
	var names []string
	var walk func(p *Pattern)
	walk = func(p *Pattern) {
		switch p.Kind {
		case PatVariable:
			names = append(names, p.Name)
		case PatCons:
			walk(p.Head)
			walk(p.Tail)
		case PatList:
			for _, e := range p.Elems {
				walk(e)
			}
		}
	}
	for _, p := range pats {
		walk(p)
	}
	return names
}
