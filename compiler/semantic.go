package compiler

// ---------------------------------------------------------------------------
// Semantic analysis: top-level definition tracking and identifier
// suggestions. Errors surface before any bytecode executes.
// ---------------------------------------------------------------------------

// Globals tracks top-level bindings across a session. Slot indices
// are stable for the lifetime of the table; the VM addresses its
// global value slice with them.
type Globals struct {
	index  map[string]int
	names  []string
	consts map[string]bool
}

// NewGlobals creates an empty global table.
func NewGlobals() *Globals {
	return &Globals{
		index:  make(map[string]int),
		consts: make(map[string]bool),
	}
}

// Define allocates a slot for a new top-level name. Redefinition of
// any existing top-level name — def or defconst — is a compile
// error, reported before the unit runs.
func (g *Globals) Define(name *Node, isConst bool) (int, error) {
	if _, exists := g.index[name.Str]; exists {
		kind := "definition"
		if g.consts[name.Str] {
			kind = "constant"
		}
		return 0, errorf(name, "redefinition of top-level %s %s", kind, name.Str)
	}
	slot := len(g.names)
	g.index[name.Str] = slot
	g.names = append(g.names, name.Str)
	if isConst {
		g.consts[name.Str] = true
	}
	return slot, nil
}

// Lookup returns the slot for a name.
func (g *Globals) Lookup(name string) (int, bool) {
	slot, ok := g.index[name]
	return slot, ok
}

// IsConst reports whether name was bound with defconst.
func (g *Globals) IsConst(name string) bool {
	return g.consts[name]
}

// Count returns the number of defined slots.
func (g *Globals) Count() int {
	return len(g.names)
}

// Names returns every defined name, in slot order.
func (g *Globals) Names() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Snapshot captures the current definition count for rollback.
func (g *Globals) Snapshot() int {
	return len(g.names)
}

// Restore discards every definition made after the snapshot. A unit
// that fails to compile must not leave partial declarations behind.
func (g *Globals) Restore(snapshot int) {
	for _, name := range g.names[snapshot:] {
		delete(g.index, name)
		delete(g.consts, name)
	}
	g.names = g.names[:snapshot]
}

// ---------------------------------------------------------------------------
// Identifier suggestions
// ---------------------------------------------------------------------------

// SuggestClosest returns the candidate closest to name by edit
// distance, or "" if nothing is close enough to be helpful.
func SuggestClosest(name string, candidates []string) string {
	best := ""
	bestDist := maxSuggestDistance(name) + 1
	for _, c := range candidates {
		if c == name {
			continue
		}
		d := editDistance(name, c)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

// maxSuggestDistance scales the acceptable edit distance with the
// identifier length so short names don't suggest wildly.
func maxSuggestDistance(name string) int {
	switch {
	case len(name) <= 3:
		return 1
	case len(name) <= 8:
		return 2
	default:
		return 3
	}
}

// editDistance is the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
