package bytecode

import (
	"fmt"
	"strings"

	"github.com/chazu/calyx/pkg/value"
)

// Disassemble renders a chunk as human-readable assembly, one
// instruction per line, then recursively disassembles the closure
// prototypes it instantiates.
func Disassemble(c *Chunk) string {
	var sb strings.Builder
	disassembleChunk(&sb, c, "")
	return sb.String()
}

// DisassembleFunction renders every clause of a compiled function.
func DisassembleFunction(fn *Function) string {
	var sb strings.Builder
	for i, clause := range fn.Clauses {
		fmt.Fprintf(&sb, "-- %s clause %d/%d", fn.Name, i+1, len(fn.Clauses))
		if len(clause.Patterns) > 0 {
			parts := make([]string, len(clause.Patterns))
			for j, p := range clause.Patterns {
				parts[j] = p.String()
			}
			fmt.Fprintf(&sb, " (%s)", strings.Join(parts, " "))
		}
		sb.WriteByte('\n')
		disassembleChunk(&sb, clause.Chunk, "  ")
	}
	return sb.String()
}

func disassembleChunk(sb *strings.Builder, c *Chunk, indent string) {
	fmt.Fprintf(sb, "%s== %s ==\n", indent, c.Name)
	for offset := 0; offset < len(c.Code); {
		offset = disassembleInstruction(sb, c, offset, indent)
	}
	for _, fn := range c.Functions {
		for i, clause := range fn.Clauses {
			fmt.Fprintf(sb, "%s-- %s clause %d/%d --\n", indent, fn.Name, i+1, len(fn.Clauses))
			disassembleChunk(sb, clause.Chunk, indent+"  ")
		}
	}
}

func disassembleInstruction(sb *strings.Builder, c *Chunk, offset int, indent string) int {
	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	fmt.Fprintf(sb, "%s%04d %-14s", indent, offset, info.Name)

	switch op {
	case OpConst:
		idx := readU16At(c.Code, offset+1)
		if int(idx) < len(c.Constants) {
			fmt.Fprintf(sb, " %d (%s)", idx, value.Format(c.Constants[idx]))
		} else {
			fmt.Fprintf(sb, " %d (?)", idx)
		}
	case OpLoadVar, OpStoreVar:
		fmt.Fprintf(sb, " depth=%d slot=%d", c.Code[offset+1], c.Code[offset+2])
	case OpLoadGlobal, OpStoreGlobal:
		fmt.Fprintf(sb, " slot=%d", readU16At(c.Code, offset+1))
	case OpJump, OpJumpFalse, OpJumpTrue:
		delta := int(int16(readU16At(c.Code, offset+1)))
		fmt.Fprintf(sb, " %+d -> %04d", delta, offset+3+delta)
	case OpCall, OpTailCall, OpList:
		fmt.Fprintf(sb, " argc=%d", c.Code[offset+1])
	case OpMakeClosure:
		idx := readU16At(c.Code, offset+1)
		name := "?"
		if int(idx) < len(c.Functions) {
			name = c.Functions[idx].Name
		}
		fmt.Fprintf(sb, " %d (%s)", idx, name)
	}

	sb.WriteByte('\n')
	return offset + op.InstructionLen()
}

func readU16At(code []byte, at int) uint16 {
	return uint16(code[at])<<8 | uint16(code[at+1])
}
