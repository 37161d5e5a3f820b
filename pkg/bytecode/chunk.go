package bytecode

import (
	"github.com/chazu/calyx/pkg/value"
)

// SourceLocation maps a bytecode offset to a source location for call
// traces and the disassembler.
type SourceLocation struct {
	Offset int // offset in the code section
	Line   int // source line number (1-based)
	Column int // source column number (1-based)
}

// Chunk is the compiled form of one function clause or top-level
// form: a linear instruction stream, a deduplicated constant pool,
// and the closures created within it. Immutable after emission.
type Chunk struct {
	Name      string
	Code      []byte
	Constants []value.Value
	Functions []*Function // closures instantiated by OpMakeClosure
	SourceMap []SourceLocation
}

// NewChunk creates a new empty chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{
		Name:      name,
		Code:      make([]byte, 0, 64),
		Constants: make([]value.Value, 0, 8),
	}
}

// AddConstant adds a literal to the pool and returns its index.
// Scalar and symbol constants are deduplicated; structured quote
// constants are not (structural comparison against every pool entry
// buys nothing for one-off quoted forms).
func (c *Chunk) AddConstant(v value.Value) uint16 {
	switch v.(type) {
	case value.Int, value.Float, value.Bool, value.Str, value.Symbol, value.EmptyList:
		for i, existing := range c.Constants {
			if sameScalar(existing, v) {
				return uint16(i)
			}
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, v)
	return idx
}

// sameScalar compares pool candidates without the numeric widening
// of value.Equal: the pool must keep 1 and 1.0 distinct.
func sameScalar(a, b value.Value) bool {
	switch av := a.(type) {
	case value.Int:
		bv, ok := b.(value.Int)
		return ok && av == bv
	case value.Float:
		bv, ok := b.(value.Float)
		return ok && av == bv
	case value.Bool:
		bv, ok := b.(value.Bool)
		return ok && av == bv
	case value.Str:
		bv, ok := b.(value.Str)
		return ok && av == bv
	case value.Symbol:
		bv, ok := b.(value.Symbol)
		return ok && av == bv
	case value.EmptyList:
		_, ok := b.(value.EmptyList)
		return ok
	}
	return false
}

// AddFunction records a closure prototype and returns its index.
func (c *Chunk) AddFunction(fn *Function) uint16 {
	idx := uint16(len(c.Functions))
	c.Functions = append(c.Functions, fn)
	return idx
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitU16 appends an opcode with one big-endian u16 operand.
func (c *Chunk) EmitU16(op Opcode, operand uint16) int {
	return c.EmitWithOperand(op, byte(operand>>8), byte(operand))
}

// EmitConstant emits an OpConst for the given value, pooling it.
func (c *Chunk) EmitConstant(v value.Value) int {
	return c.EmitU16(OpConst, c.AddConstant(v))
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF)
	return offset + 1
}

// PatchJump patches a jump placeholder to target the current
// position. Offsets are signed 16-bit deltas measured from the byte
// after the operand.
func (c *Chunk) PatchJump(placeholderOffset int) {
	jumpFrom := placeholderOffset + 2
	delta := len(c.Code) - jumpFrom
	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
}

// EmitLoop emits a backward jump to the given loop start.
func (c *Chunk) EmitLoop(loopStart int) {
	jumpFrom := len(c.Code) + 3
	delta := loopStart - jumpFrom
	c.Code = append(c.Code, byte(OpJump), byte(delta>>8), byte(delta))
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// AddSourceLocation records a source position for a bytecode offset.
// Redundant consecutive entries for the same position are skipped.
func (c *Chunk) AddSourceLocation(offset, line, column int) {
	if n := len(c.SourceMap); n > 0 {
		last := c.SourceMap[n-1]
		if last.Line == line && last.Column == column {
			return
		}
	}
	c.SourceMap = append(c.SourceMap, SourceLocation{Offset: offset, Line: line, Column: column})
}

// SourceAt returns the source position for a bytecode offset, or
// zeros if no mapping covers it.
func (c *Chunk) SourceAt(offset int) (line, column int) {
	for i := len(c.SourceMap) - 1; i >= 0; i-- {
		if c.SourceMap[i].Offset <= offset {
			return c.SourceMap[i].Line, c.SourceMap[i].Column
		}
	}
	return 0, 0
}
