package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Compile-time error taxonomy
// ---------------------------------------------------------------------------

// LexError reports a malformed token.
type LexError struct {
	Pos Position
	Msg string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at %s: %s", e.Pos, e.Msg)
}

// ParseError reports malformed structure: unbalanced parentheses or a
// malformed dotted pair.
type ParseError struct {
	Pos Position
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s: %s", e.Pos, e.Msg)
}

// CompileError reports a semantic error detected before any bytecode
// executes: constant redefinition, recur outside loop, unresolved
// identifiers, malformed special forms.
type CompileError struct {
	Pos Position
	Msg string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error at %s: %s", e.Pos, e.Msg)
}

// errorf builds a CompileError at the given node's position.
func errorf(n *Node, format string, args ...any) *CompileError {
	var pos Position
	if n != nil {
		pos = n.Pos
	}
	return &CompileError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
