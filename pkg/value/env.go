package value

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Environment frame arena
// ---------------------------------------------------------------------------

// Frame is a handle into the environment arena.
type Frame int32

// NoFrame is the absent-parent sentinel.
const NoFrame Frame = -1

// frameData is one lexical environment: named slots plus a reference
// to the lexically enclosing frame. Enclosing-frame chains are
// strictly acyclic: a frame is created only when entering a new
// lexical scope, and only ever points upward.
type frameData struct {
	slots  []Value
	names  []string
	parent Frame
	refs   int32
	live   bool
}

// Arena owns every environment frame in a session. Frames are
// referenced by handle, reference-counted, and released through the
// same iterative worklist as cons cells so deep closure chains tear
// down without recursion. The mutex guards the frame table itself;
// slot access on an allocated frame is unsynchronized (frames are
// mutated only by their owning evaluation, and frames shared through
// closures are read-only to concurrent callers).
type Arena struct {
	mu     sync.RWMutex
	frames []*frameData
	free   []Frame
	live   int64
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// NewFrame allocates a frame with nslots empty slots, retaining the
// parent on the new frame's behalf. The caller owns one reference.
func (a *Arena) NewFrame(parent Frame, nslots int, names []string) Frame {
	if parent != NoFrame {
		a.RetainFrame(parent)
	}

	fd := &frameData{
		slots:  make([]Value, nslots),
		names:  names,
		parent: parent,
		refs:   1,
		live:   true,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	atomic.AddInt64(&a.live, 1)
	if n := len(a.free); n > 0 {
		f := a.free[n-1]
		a.free = a.free[:n-1]
		a.frames[f] = fd
		return f
	}
	a.frames = append(a.frames, fd)
	return Frame(len(a.frames) - 1)
}

// get returns the frame data for a live handle.
func (a *Arena) get(f Frame) *frameData {
	a.mu.RLock()
	fd := a.frames[f]
	a.mu.RUnlock()
	return fd
}

// Parent returns the enclosing frame handle.
func (a *Arena) Parent(f Frame) Frame {
	return a.get(f).parent
}

// Get reads a slot. The returned value is borrowed: callers keeping
// it must Retain it.
func (a *Arena) Get(f Frame, slot int) Value {
	return a.get(f).slots[slot]
}

// Set stores a value into a slot, taking ownership of the caller's
// reference and releasing the previous occupant.
func (a *Arena) Set(f Frame, slot int, v Value) {
	fd := a.get(f)
	old := fd.slots[slot]
	fd.slots[slot] = v
	if old != nil {
		a.Release(old)
	}
}

// SlotCount returns the number of slots in a frame.
func (a *Arena) SlotCount(f Frame) int {
	return len(a.get(f).slots)
}

// Names returns the slot names of a frame.
func (a *Arena) Names(f Frame) []string {
	return a.get(f).names
}

// Snapshot copies a frame's current bindings: the reflection surface
// behind closure-captured. Values are borrowed.
func (a *Arena) Snapshot(f Frame) (names []string, values []Value) {
	fd := a.get(f)
	names = append(names, fd.names...)
	values = append(values, fd.slots...)
	return names, values
}

// RetainFrame takes a reference on a frame.
func (a *Arena) RetainFrame(f Frame) {
	atomic.AddInt32(&a.get(f).refs, 1)
}

// FrameRefs returns a frame's reference count, for tests.
func (a *Arena) FrameRefs(f Frame) int32 {
	return atomic.LoadInt32(&a.get(f).refs)
}

// LiveFrames returns the number of allocated, unreleased frames.
func (a *Arena) LiveFrames() int64 {
	return atomic.LoadInt64(&a.live)
}

// Retain takes a reference on a value.
func (a *Arena) Retain(v Value) {
	Retain(v)
}

// Release drops a reference on a value, releasing closure
// environments through this arena.
func (a *Arena) Release(v Value) {
	releaseWork(a, v)
}

// ReleaseFrame drops a reference on a frame. A frame whose count
// reaches zero releases its slots and its parent iteratively — a
// chain of N enclosing frames unwinds in O(N) time with O(1) native
// stack depth.
func (a *Arena) ReleaseFrame(f Frame) {
	var stack []Value
	a.releaseFrames(&stack, f)
	if len(stack) > 0 {
		releaseWork(a, stack...)
	}
}

// releaseFrames walks the parent chain iteratively, pushing orphaned
// slot values onto the caller's value worklist.
func (a *Arena) releaseFrames(valStack *[]Value, f Frame) {
	pending := []Frame{f}
	for len(pending) > 0 {
		fr := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if fr == NoFrame {
			continue
		}

		fd := a.get(fr)
		if atomic.AddInt32(&fd.refs, -1) != 0 {
			continue
		}

		for _, v := range fd.slots {
			if v != nil {
				*valStack = append(*valStack, v)
			}
		}
		pending = append(pending, fd.parent)

		fd.slots = nil
		fd.live = false
		atomic.AddInt64(&a.live, -1)

		a.mu.Lock()
		a.free = append(a.free, fr)
		a.mu.Unlock()
	}
}
