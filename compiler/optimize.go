package compiler

// ---------------------------------------------------------------------------
// Optimizer: constant folding, peephole simplification, strength
// reduction. Three independent passes over expression trees, applied
// before bytecode emission. Each pass is idempotent.
// ---------------------------------------------------------------------------

// Optimize applies all three passes in the default order.
func Optimize(n *Node) *Node {
	return ReduceStrength(Simplify(FoldConstants(n)))
}

// foldableOps are the operators constant folding understands.
var foldableOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "mod": true,
	"=": true, "not=": true, "<": true, "<=": true, ">": true, ">=": true,
}

// FoldConstants evaluates operators applied to all-literal operands
// at compile time, promoting mixed integer/float operands to float.
// An if whose condition folds to a literal is replaced by the
// corresponding branch. Folding never introduces a fault path:
// division by a zero literal is left for the runtime.
func FoldConstants(n *Node) *Node {
	return rewrite(n, foldForm)
}

// Simplify eliminates algebraic identities irrespective of operand
// literalness: x+0, x-0, x*1, x/1 and double negation. Only integer
// identity literals are eliminated — x+0.0 promotes an integer x to
// float at runtime, so a float zero is not an identity here.
func Simplify(n *Node) *Node {
	return rewrite(n, simplifyForm)
}

// ReduceStrength replaces multiplications by -1 with unary negation
// and multiplications by a zero literal with that zero. The zero case
// elides the other operand entirely, side effects included; this
// mirrors the reference behavior and is a recorded compatibility
// decision rather than an oversight.
func ReduceStrength(n *Node) *Node {
	return rewrite(n, reduceForm)
}

// rewrite applies fn bottom-up over every form, leaving quoted
// structure untouched.
func rewrite(n *Node, fn func(*Node) *Node) *Node {
	if n == nil || n.Kind != NodeList || len(n.List) == 0 {
		return n
	}
	if n.IsCallTo("quote") {
		return n
	}
	elems := make([]*Node, len(n.List))
	for i, e := range n.List {
		elems[i] = rewrite(e, fn)
	}
	tail := rewrite(n.Tail, fn)
	return fn(&Node{Kind: NodeList, List: elems, Tail: tail, Pos: n.Pos})
}

// opArgs returns the operator name and arguments of a call form, or
// "" when the form is not a plain call.
func opArgs(n *Node) (string, []*Node) {
	head := n.Head()
	if head == nil || head.Kind != NodeSymbol || n.Tail != nil {
		return "", nil
	}
	return head.Str, n.List[1:]
}

// ---------------------------------------------------------------------------
// Constant folding
// ---------------------------------------------------------------------------

func foldForm(n *Node) *Node {
	op, args := opArgs(n)

	if op == "if" && (len(args) == 2 || len(args) == 3) && args[0].IsLiteral() {
		// Only the literal false is falsy.
		truthy := !(args[0].Kind == NodeBool && !args[0].Bool)
		if truthy {
			return args[1]
		}
		if len(args) == 3 {
			return args[2]
		}
		return NewList(nil, n.Pos)
	}

	if !foldableOps[op] {
		return n
	}
	for _, a := range args {
		if !a.IsLiteral() {
			return n
		}
	}

	switch op {
	case "+", "-", "*", "/":
		return foldArith(op, args, n)
	case "mod":
		if len(args) == 2 && args[0].Kind == NodeInteger && args[1].Kind == NodeInteger && args[1].Int != 0 {
			return NewInteger(args[0].Int%args[1].Int, n.Pos)
		}
		return n
	case "=", "not=":
		if len(args) != 2 {
			return n
		}
		eq, ok := literalEqual(args[0], args[1])
		if !ok {
			return n
		}
		if op == "not=" {
			eq = !eq
		}
		return NewBool(eq, n.Pos)
	case "<", "<=", ">", ">=":
		if len(args) != 2 || !args[0].IsNumber() || !args[1].IsNumber() {
			return n
		}
		a, b := args[0].AsFloat(), args[1].AsFloat()
		var r bool
		switch op {
		case "<":
			r = a < b
		case "<=":
			r = a <= b
		case ">":
			r = a > b
		case ">=":
			r = a >= b
		}
		return NewBool(r, n.Pos)
	}
	return n
}

// foldArith folds an n-ary arithmetic form of all-literal operands,
// mirroring the runtime exactly: integer operations stay integral,
// any float operand widens the whole computation to float.
func foldArith(op string, args []*Node, n *Node) *Node {
	if len(args) == 0 {
		return n
	}
	for _, a := range args {
		if !a.IsNumber() {
			return n
		}
	}

	// Unary minus is negation.
	if op == "-" && len(args) == 1 {
		if args[0].Kind == NodeInteger {
			return NewInteger(-args[0].Int, n.Pos)
		}
		return NewFloat(-args[0].Float, n.Pos)
	}
	if len(args) < 2 {
		return n
	}

	anyFloat := false
	for _, a := range args {
		if a.Kind == NodeFloat {
			anyFloat = true
		}
	}

	if op == "/" {
		// Never fold a would-fault division.
		for _, d := range args[1:] {
			if d.AsFloat() == 0 {
				return n
			}
		}
	}

	if anyFloat {
		acc := args[0].AsFloat()
		for _, a := range args[1:] {
			v := a.AsFloat()
			switch op {
			case "+":
				acc += v
			case "-":
				acc -= v
			case "*":
				acc *= v
			case "/":
				acc /= v
			}
		}
		return NewFloat(acc, n.Pos)
	}

	acc := args[0].Int
	for _, a := range args[1:] {
		v := a.Int
		switch op {
		case "+":
			acc += v
		case "-":
			acc -= v
		case "*":
			acc *= v
		case "/":
			acc /= v
		}
	}
	return NewInteger(acc, n.Pos)
}

// literalEqual compares two literals; the second result is false when
// the pair is not comparable at compile time.
func literalEqual(a, b *Node) (bool, bool) {
	if a.IsNumber() && b.IsNumber() {
		return a.AsFloat() == b.AsFloat(), true
	}
	if a.Kind != b.Kind {
		return false, true
	}
	switch a.Kind {
	case NodeBool:
		return a.Bool == b.Bool, true
	case NodeString:
		return a.Str == b.Str, true
	}
	return false, false
}

// ---------------------------------------------------------------------------
// Peephole simplification
// ---------------------------------------------------------------------------

func isIntLit(n *Node, v int64) bool {
	return n.Kind == NodeInteger && n.Int == v
}

func simplifyForm(n *Node) *Node {
	op, args := opArgs(n)

	switch op {
	case "+":
		return dropIdentity(n, args, 0)

	case "*":
		return dropIdentity(n, args, 1)

	case "-":
		// Double negation collapses: (- (- x)) -> x.
		if len(args) == 1 {
			if inner, innerArgs := opArgs(args[0]); inner == "-" && len(innerArgs) == 1 {
				return innerArgs[0]
			}
			return n
		}
		return dropTrailing(n, args, 0)

	case "/":
		if len(args) >= 2 {
			return dropTrailing(n, args, 1)
		}
	}
	return n
}

// dropIdentity removes integer identity elements from a commutative
// n-ary form, keeping at least the first operand.
func dropIdentity(n *Node, args []*Node, identity int64) *Node {
	if len(args) < 2 {
		return n
	}
	kept := make([]*Node, 0, len(args))
	for _, a := range args {
		if !isIntLit(a, identity) {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(args) {
		return n
	}
	if len(kept) == 0 {
		return args[0]
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return NewList(append([]*Node{n.List[0]}, kept...), n.Pos)
}

// dropTrailing removes integer identity elements after the first
// operand of a non-commutative form.
func dropTrailing(n *Node, args []*Node, identity int64) *Node {
	kept := []*Node{args[0]}
	for _, a := range args[1:] {
		if !isIntLit(a, identity) {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(args) {
		return n
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return NewList(append([]*Node{n.List[0]}, kept...), n.Pos)
}

// ---------------------------------------------------------------------------
// Strength reduction
// ---------------------------------------------------------------------------

func reduceForm(n *Node) *Node {
	op, args := opArgs(n)
	if op != "*" {
		return n
	}

	// A zero factor collapses the whole product to that zero,
	// eliding every other factor.
	for _, a := range args {
		if isIntLit(a, 0) {
			return NewInteger(0, n.Pos)
		}
		if a.Kind == NodeFloat && a.Float == 0 {
			return NewFloat(0, n.Pos)
		}
	}

	if len(args) == 2 {
		if isIntLit(args[0], -1) {
			return NewForm("-", n.Pos, args[1])
		}
		if isIntLit(args[1], -1) {
			return NewForm("-", n.Pos, args[0])
		}
	}
	return n
}
