package bytecode

import (
	"fmt"
	"strings"
)

// Fault kinds reported by the VM.
const (
	FaultType        = "type error"
	FaultDivZero     = "division by zero"
	FaultNotFunction = "not a function"
	FaultNoClause    = "no matching clause"
	FaultUnbound     = "unbound global"
	FaultOverflow    = "stack overflow"
	FaultArity       = "arity error"
)

// TraceFrame is one live call frame at the moment of a fault.
type TraceFrame struct {
	Name   string
	Line   int
	Column int
}

// RuntimeFault is an evaluation error with the live call trace at the
// point of failure. Frames eliminated by tail calls do not appear.
type RuntimeFault struct {
	Kind  string
	Msg   string
	Trace []TraceFrame
}

// Error renders the trace innermost first, followed by the fault line.
func (f *RuntimeFault) Error() string {
	var b strings.Builder
	for _, fr := range f.Trace {
		fmt.Fprintf(&b, "  at %s (%d:%d)\n", fr.Name, fr.Line, fr.Column)
	}
	b.WriteString(f.Kind)
	if f.Msg != "" {
		b.WriteString(": ")
		b.WriteString(f.Msg)
	}
	return b.String()
}

// IsFault reports whether err is a runtime fault of the given kind.
func IsFault(err error, kind string) bool {
	f, ok := err.(*RuntimeFault)
	return ok && f.Kind == kind
}
