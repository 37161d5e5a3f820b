package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop Opcode = 0x00 // No operation
	OpPop Opcode = 0x01 // Pop and release top of stack
	OpDup Opcode = 0x02 // Duplicate top of stack (takes a new reference)

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst Opcode = 0x10 // Push constant from pool: OpConst <index:u16>
	OpTrue  Opcode = 0x11 // Push true
	OpFalse Opcode = 0x12 // Push false
	OpEmpty Opcode = 0x13 // Push the empty list

	// ========================================================================
	// Variables (0x20-0x2F)
	// ========================================================================

	OpLoadVar     Opcode = 0x20 // Push local: OpLoadVar <depth:u8> <slot:u8>
	OpStoreVar    Opcode = 0x21 // Pop and store: OpStoreVar <depth:u8> <slot:u8>
	OpLoadGlobal  Opcode = 0x28 // Push global: OpLoadGlobal <slot:u16>
	OpStoreGlobal Opcode = 0x29 // Pop and store global: OpStoreGlobal <slot:u16>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd Opcode = 0x50 // Pop two, push sum
	OpSub Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x52 // Pop two, push product
	OpDiv Opcode = 0x53 // Pop two, push quotient
	OpMod Opcode = 0x54 // Pop two, push remainder
	OpNeg Opcode = 0x55 // Negate top of stack

	// ========================================================================
	// Comparison and logic (0x60-0x6F)
	// ========================================================================

	OpEq  Opcode = 0x60 // Pop two, push true if structurally equal
	OpNe  Opcode = 0x61 // Pop two, push true if not equal
	OpLt  Opcode = 0x62 // Pop two, push true if a < b
	OpLe  Opcode = 0x63 // Pop two, push true if a <= b
	OpGt  Opcode = 0x64 // Pop two, push true if a > b
	OpGe  Opcode = 0x65 // Pop two, push true if a >= b
	OpNot Opcode = 0x68 // Push true if TOS is falsy

	// ========================================================================
	// List primitives (0x70-0x7F)
	// ========================================================================

	OpCons    Opcode = 0x70 // Pop cdr, pop car, push fresh cons cell
	OpCar     Opcode = 0x71 // Pop non-empty list, push its head
	OpCdr     Opcode = 0x72 // Pop non-empty list, push its tail
	OpIsEmpty Opcode = 0x73 // Pop value, push true if it is ()
	OpList    Opcode = 0x74 // Build proper list: OpList <argc:u8>

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump      Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpFalse Opcode = 0x81 // Pop; jump if falsy: OpJumpFalse <offset:i16>
	OpJumpTrue  Opcode = 0x82 // Pop; jump if truthy: OpJumpTrue <offset:i16>

	// ========================================================================
	// Calls and closures (0x90-0x9F)
	// ========================================================================

	OpCall        Opcode = 0x90 // Call TOS-argc..: OpCall <argc:u8>
	OpTailCall    Opcode = 0x91 // Frame-reusing call: OpTailCall <argc:u8>
	OpMakeClosure Opcode = 0x92 // Capture current env: OpMakeClosure <fn:u16>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // Return top of stack from the current frame
)

// OpcodeInfo provides metadata about each opcode for debugging and
// validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop: {"NOP", 0, 0, 0},
	OpPop: {"POP", 1, 0, 0},
	OpDup: {"DUP", 1, 2, 0},

	OpConst: {"CONST", 0, 1, 2},
	OpTrue:  {"TRUE", 0, 1, 0},
	OpFalse: {"FALSE", 0, 1, 0},
	OpEmpty: {"EMPTY", 0, 1, 0},

	OpLoadVar:     {"LOAD_VAR", 0, 1, 2},
	OpStoreVar:    {"STORE_VAR", 1, 0, 2},
	OpLoadGlobal:  {"LOAD_GLOBAL", 0, 1, 2},
	OpStoreGlobal: {"STORE_GLOBAL", 1, 0, 2},

	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpMod: {"MOD", 2, 1, 0},
	OpNeg: {"NEG", 1, 1, 0},

	OpEq:  {"EQ", 2, 1, 0},
	OpNe:  {"NE", 2, 1, 0},
	OpLt:  {"LT", 2, 1, 0},
	OpLe:  {"LE", 2, 1, 0},
	OpGt:  {"GT", 2, 1, 0},
	OpGe:  {"GE", 2, 1, 0},
	OpNot: {"NOT", 1, 1, 0},

	OpCons:    {"CONS", 2, 1, 0},
	OpCar:     {"CAR", 1, 1, 0},
	OpCdr:     {"CDR", 1, 1, 0},
	OpIsEmpty: {"IS_EMPTY", 1, 1, 0},
	OpList:    {"LIST", -1, 1, 1},

	OpJump:      {"JUMP", 0, 0, 2},
	OpJumpFalse: {"JUMP_FALSE", 1, 0, 2},
	OpJumpTrue:  {"JUMP_TRUE", 1, 0, 2},

	OpCall:        {"CALL", -1, 1, 1},
	OpTailCall:    {"TAIL_CALL", -1, 1, 1},
	OpMakeClosure: {"MAKE_CLOSURE", 0, 1, 2},

	OpReturn: {"RETURN", 1, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not
// recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction.
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpTrue
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
