package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Macro expander: defmacro, quasiquote templates, gensym
// ---------------------------------------------------------------------------

// Macro is a registered compile-time transformer.
type Macro struct {
	Name   string
	Params []string
	Body   []*Node
}

// Expander rewrites macro-invocation forms before compilation. It is
// process-scoped compiler state: one Expander per compilation
// pipeline, reset between independent units.
type Expander struct {
	macros map[string]*Macro
	gensym uint64
}

// NewExpander creates an empty macro registry.
func NewExpander() *Expander {
	return &Expander{macros: make(map[string]*Macro)}
}

// Reset discards all registered macros and restarts the gensym
// counter.
func (e *Expander) Reset() {
	e.macros = make(map[string]*Macro)
	e.gensym = 0
}

// Define registers a macro from a (defmacro name (params) body...)
// form.
func (e *Expander) Define(form *Node) error {
	if len(form.List) < 4 {
		return errorf(form, "defmacro needs a name, a parameter list and a body")
	}
	name := form.List[1]
	if name.Kind != NodeSymbol {
		return errorf(name, "defmacro name must be a symbol, got %s", name.Kind)
	}
	if _, exists := e.macros[name.Str]; exists {
		return errorf(name, "macro %s is already defined", name.Str)
	}
	paramList := form.List[2]
	if paramList.Kind != NodeList || paramList.Tail != nil {
		return errorf(paramList, "defmacro parameter list must be a proper list")
	}
	params := make([]string, len(paramList.List))
	for i, p := range paramList.List {
		if p.Kind != NodeSymbol {
			return errorf(p, "defmacro parameter must be a symbol, got %s", p.Kind)
		}
		params[i] = p.Str
	}
	e.macros[name.Str] = &Macro{Name: name.Str, Params: params, Body: form.List[3:]}
	return nil
}

// Undefine removes a registered macro, reversing Define when a
// source unit fails after registering its macros.
func (e *Expander) Undefine(name string) {
	delete(e.macros, name)
}

// IsMacro reports whether name is a registered macro.
func (e *Expander) IsMacro(name string) bool {
	_, ok := e.macros[name]
	return ok
}

// Gensym returns a fresh symbol distinct from every previously
// generated symbol and from all user identifiers. The # prefix cannot
// be produced by the lexer, so collisions with source symbols are
// impossible.
func (e *Expander) Gensym() string {
	e.gensym++
	return fmt.Sprintf("#g%d", e.gensym)
}

// Expand1 performs exactly one expansion step. If form is not a call
// to a registered macro it is returned unchanged; it never recurses
// into sub-forms.
func (e *Expander) Expand1(form *Node) (*Node, bool, error) {
	head := form.Head()
	if head == nil || head.Kind != NodeSymbol || form.Tail != nil {
		return form, false, nil
	}
	m, ok := e.macros[head.Str]
	if !ok {
		return form, false, nil
	}
	expanded, err := e.apply(m, form)
	if err != nil {
		return nil, false, err
	}
	return expanded, true, nil
}

// ExpandAll rewrites every macro invocation in form, outermost first,
// until none remain. Quoted forms are left untouched; quasiquote
// templates are rewritten into list-construction code with unquoted
// sub-forms expanded in place.
func (e *Expander) ExpandAll(form *Node) (*Node, error) {
	for {
		expanded, changed, err := e.Expand1(form)
		if err != nil {
			return nil, err
		}
		if !changed {
			break
		}
		form = expanded
	}

	if form.Kind != NodeList || len(form.List) == 0 {
		return form, nil
	}

	head := form.Head()
	if head.Kind == NodeSymbol {
		switch head.Str {
		case "quote":
			return form, nil
		case "quasiquote":
			if len(form.List) != 2 {
				return nil, errorf(form, "quasiquote takes exactly one form")
			}
			return e.ExpandAll(qqExpand(form.List[1]))
		case "defmacro":
			return nil, errorf(form, "defmacro is only allowed at the top level")
		case "lambda":
			return e.expandSkipping(form, 2)
		case "defun":
			return e.expandDefun(form)
		case "let", "loop":
			return e.expandBindingForm(form)
		}
	}

	return e.expandElements(form)
}

// expandElements expands every element of a list form.
func (e *Expander) expandElements(form *Node) (*Node, error) {
	out := make([]*Node, len(form.List))
	for i, elem := range form.List {
		x, err := e.ExpandAll(elem)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	tail := form.Tail
	if tail != nil {
		x, err := e.ExpandAll(tail)
		if err != nil {
			return nil, err
		}
		tail = x
	}
	return &Node{Kind: NodeList, List: out, Tail: tail, Pos: form.Pos}, nil
}

// expandSkipping expands a form's elements at index from onward,
// leaving the head and binding structure (name, parameter lists)
// untouched.
func (e *Expander) expandSkipping(form *Node, from int) (*Node, error) {
	out := make([]*Node, len(form.List))
	if from > len(form.List) {
		from = len(form.List)
	}
	copy(out, form.List[:from])
	for i := from; i < len(form.List); i++ {
		x, err := e.ExpandAll(form.List[i])
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return &Node{Kind: NodeList, List: out, Tail: form.Tail, Pos: form.Pos}, nil
}

// expandDefun expands the bodies of a defun while leaving parameter
// lists and clause patterns untouched. Multi-clause definitions
// expand each clause body in place.
func (e *Expander) expandDefun(form *Node) (*Node, error) {
	if len(form.List) < 3 {
		return form, nil
	}
	if IsSimpleParamList(form.List[2]) {
		// (defun name (a b) body...)
		return e.expandSkipping(form, 3)
	}
	// (defun name ((pat...) body...) ...)
	out := make([]*Node, len(form.List))
	copy(out, form.List[:2])
	for i := 2; i < len(form.List); i++ {
		clause := form.List[i]
		if clause.Kind != NodeList || len(clause.List) < 2 {
			out[i] = clause
			continue
		}
		x, err := e.expandSkipping(clause, 1)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return NewList(out, form.Pos), nil
}

// expandBindingForm expands (let ((n init)...) body...) and the
// identical loop shape: binding names stay as written, init
// expressions and body forms are expanded.
func (e *Expander) expandBindingForm(form *Node) (*Node, error) {
	if len(form.List) < 2 || form.List[1].Kind != NodeList {
		return e.expandElements(form)
	}
	bindings := form.List[1]
	newBindings := make([]*Node, len(bindings.List))
	for i, b := range bindings.List {
		if b.Kind == NodeList && len(b.List) == 2 {
			init, err := e.ExpandAll(b.List[1])
			if err != nil {
				return nil, err
			}
			newBindings[i] = NewList([]*Node{b.List[0], init}, b.Pos)
		} else {
			newBindings[i] = b
		}
	}
	out := make([]*Node, len(form.List))
	out[0] = form.List[0]
	out[1] = NewList(newBindings, bindings.Pos)
	for i := 2; i < len(form.List); i++ {
		x, err := e.ExpandAll(form.List[i])
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return NewList(out, form.Pos), nil
}

// apply evaluates a macro body with params bound to the unevaluated
// argument forms and returns the resulting form.
func (e *Expander) apply(m *Macro, form *Node) (*Node, error) {
	args := form.List[1:]
	if len(args) != len(m.Params) {
		return nil, errorf(form, "macro %s expects %d arguments, got %d", m.Name, len(m.Params), len(args))
	}
	env := make(map[string]*Node, len(m.Params))
	for i, p := range m.Params {
		env[p] = args[i]
	}
	var result *Node
	for _, body := range m.Body {
		r, err := e.evalTemplate(body, env)
		if err != nil {
			return nil, err
		}
		result = r
	}
	if result == nil {
		result = NewList(nil, form.Pos)
	}
	return result, nil
}

// evalTemplate evaluates a macro-body form over AST nodes. Macro
// bodies are templates: quasiquote plus a small vocabulary of
// structural operations (quote, if, =, list, cons, car, cdr, empty?,
// gensym) is deliberately the whole language at expansion time.
func (e *Expander) evalTemplate(n *Node, env map[string]*Node) (*Node, error) {
	switch n.Kind {
	case NodeInteger, NodeFloat, NodeBool, NodeString:
		return n, nil

	case NodeSymbol:
		if bound, ok := env[n.Str]; ok {
			return bound, nil
		}
		return nil, errorf(n, "unbound identifier in macro body: %s", n.Str)

	case NodeList:
		if len(n.List) == 0 {
			return n, nil
		}
		head := n.List[0]
		if head.Kind != NodeSymbol {
			return nil, errorf(n, "macro body form must start with a symbol")
		}

		switch head.Str {
		case "quote":
			if len(n.List) != 2 {
				return nil, errorf(n, "quote takes exactly one form")
			}
			return n.List[1], nil

		case "quasiquote":
			if len(n.List) != 2 {
				return nil, errorf(n, "quasiquote takes exactly one form")
			}
			return e.evalTemplate(qqExpand(n.List[1]), env)

		case "gensym":
			return NewSymbol(e.Gensym(), n.Pos), nil

		case "if":
			if len(n.List) != 3 && len(n.List) != 4 {
				return nil, errorf(n, "if takes a condition and one or two branches")
			}
			cond, err := e.evalTemplate(n.List[1], env)
			if err != nil {
				return nil, err
			}
			truthy := !(cond.Kind == NodeBool && !cond.Bool)
			if truthy {
				return e.evalTemplate(n.List[2], env)
			}
			if len(n.List) == 4 {
				return e.evalTemplate(n.List[3], env)
			}
			return NewList(nil, n.Pos), nil
		}

		// Remaining operations evaluate all arguments first.
		args := make([]*Node, len(n.List)-1)
		for i, a := range n.List[1:] {
			v, err := e.evalTemplate(a, env)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}

		switch head.Str {
		case "list":
			return NewList(args, n.Pos), nil

		case "cons":
			if len(args) != 2 {
				return nil, errorf(n, "cons takes exactly two arguments")
			}
			return consNodes(args[0], args[1], n.Pos)

		case "car":
			if len(args) != 1 || args[0].Kind != NodeList || len(args[0].List) == 0 {
				return nil, errorf(n, "car needs a non-empty list")
			}
			return args[0].List[0], nil

		case "cdr":
			if len(args) != 1 || args[0].Kind != NodeList || len(args[0].List) == 0 {
				return nil, errorf(n, "cdr needs a non-empty list")
			}
			rest := args[0]
			if len(rest.List) == 1 && rest.Tail != nil {
				return rest.Tail, nil
			}
			return &Node{Kind: NodeList, List: rest.List[1:], Tail: rest.Tail, Pos: n.Pos}, nil

		case "empty?":
			if len(args) != 1 {
				return nil, errorf(n, "empty? takes exactly one argument")
			}
			return NewBool(args[0].IsEmptyList(), n.Pos), nil

		case "=":
			if len(args) != 2 {
				return nil, errorf(n, "= takes exactly two arguments")
			}
			return NewBool(Equal(args[0], args[1]), n.Pos), nil
		}

		return nil, errorf(n, "unsupported operation in macro body: %s", head.Str)
	}

	return nil, errorf(n, "cannot evaluate %s in macro body", n.Kind)
}

// consNodes prepends a node onto a list node, preserving dotted
// tails. A non-list cdr produces a dotted pair.
func consNodes(car, cdr *Node, pos Position) (*Node, error) {
	if cdr.Kind == NodeList {
		elems := make([]*Node, 0, len(cdr.List)+1)
		elems = append(elems, car)
		elems = append(elems, cdr.List...)
		return &Node{Kind: NodeList, List: elems, Tail: cdr.Tail, Pos: pos}, nil
	}
	return &Node{Kind: NodeList, List: []*Node{car}, Tail: cdr, Pos: pos}, nil
}

// qqExpand rewrites a quasiquote template into list-construction
// code. ,x escapes back into ordinary evaluation; everything else is
// quoted structure.
func qqExpand(n *Node) *Node {
	if n.Kind != NodeList {
		if n.Kind == NodeSymbol {
			return NewForm("quote", n.Pos, n)
		}
		return n
	}
	if n.IsCallTo("unquote") {
		if len(n.List) == 2 {
			return n.List[1]
		}
		// Malformed unquote surfaces during compilation of the
		// rewritten form.
		return n
	}
	if len(n.List) == 0 && n.Tail == nil {
		return NewForm("quote", n.Pos, n)
	}

	// (a b . c) builds as (cons `a `(b . c)).
	rest := &Node{Kind: NodeList, List: n.List[1:], Tail: n.Tail, Pos: n.Pos}
	var restCode *Node
	if len(rest.List) == 0 {
		if rest.Tail != nil {
			restCode = qqExpand(rest.Tail)
		} else {
			restCode = NewForm("quote", n.Pos, NewList(nil, n.Pos))
		}
	} else {
		restCode = qqExpand(rest)
	}
	return NewForm("cons", n.Pos, qqExpand(n.List[0]), restCode)
}
