package value

import "sync/atomic"

// ---------------------------------------------------------------------------
// Reference counting and iterative release for cons cells
// ---------------------------------------------------------------------------

// liveConses counts allocated, unreleased cons cells. It exists so
// reference-count correctness is observable; the tests assert on it.
var liveConses int64

// LiveConses returns the number of live cons cells.
func LiveConses() int64 {
	return atomic.LoadInt64(&liveConses)
}

// NewCons allocates a cons cell owning one reference to each of car
// and cdr. The new cell starts with one reference held by the caller.
func NewCons(car, cdr Value) *Cons {
	Retain(car)
	Retain(cdr)
	atomic.AddInt64(&liveConses, 1)
	return &Cons{Car: car, Cdr: cdr, refs: 1}
}

// Refs returns the current reference count. Only meaningful in tests
// and diagnostics; concurrent mutation can invalidate it immediately.
func (c *Cons) Refs() int32 {
	return atomic.LoadInt32(&c.refs)
}

// Retain takes a new reference on a value. Scalars and the empty list
// are unowned and ignored. Concurrent builtin callers may retain the
// same persistent structure simultaneously, so the count mutation is
// atomic.
func Retain(v Value) {
	switch x := v.(type) {
	case *Cons:
		atomic.AddInt32(&x.refs, 1)
	case *Closure:
		atomic.AddInt32(&x.refs, 1)
	}
}

// Release drops a reference on a value that holds no environment
// frames. Cells whose count reaches zero release their children via
// an explicit work stack: releasing a list of N elements runs in O(N)
// time with O(1) native call-stack depth, so a million-element list
// tears down without overflowing the host stack. Shared tails are
// only freed when their own last owner drops them.
//
// Closures hold environment frames; releasing those goes through
// Arena.Release, which shares this worklist discipline.
func Release(v Value) {
	releaseWork(nil, v)
}

// releaseWork is the iterative release core. When an arena is
// present, closure environments are released through it; without one,
// closures are assumed frameless (tests, constants).
func releaseWork(a *Arena, roots ...Value) {
	var stack []Value
	for _, r := range roots {
		if r != nil {
			stack = append(stack, r)
		}
	}

	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch x := v.(type) {
		case *Cons:
			if atomic.AddInt32(&x.refs, -1) != 0 {
				continue
			}
			atomic.AddInt64(&liveConses, -1)
			// Push children instead of recursing: the cdr chain of a
			// long list unwinds through this stack, not the Go stack.
			if x.Car != nil {
				stack = append(stack, x.Car)
			}
			if x.Cdr != nil {
				stack = append(stack, x.Cdr)
			}
			x.Car = nil
			x.Cdr = nil

		case *Closure:
			if atomic.AddInt32(&x.refs, -1) != 0 {
				continue
			}
			if a != nil && x.Env != NoFrame {
				a.releaseFrames(&stack, x.Env)
			}
		}
	}
}
