package isa

import "fmt"

// Opcode identifies an instruction. Opcodes are grouped into ranges by
// category.
type Opcode byte

const (
	// ========================================================================
	// Control (0x00-0x0F)
	// ========================================================================

	OpHalt Opcode = 0x00 // Stop the current run
	OpNop  Opcode = 0x01 // No operation

	// ========================================================================
	// Data movement (0x10-0x1F)
	// ========================================================================

	OpLoad  Opcode = 0x10 // Push x0 bytes from the source selected by p0
	OpStore Opcode = 0x11 // Pop (or peek) x0 bytes, write to x1
	OpPop   Opcode = 0x12 // Discard x0 bytes

	// ========================================================================
	// Arithmetic (0x20-0x2F)
	// ========================================================================

	OpAdd Opcode = 0x20
	OpSub Opcode = 0x21
	OpMul Opcode = 0x22
	OpDiv Opcode = 0x23
	OpMod Opcode = 0x24
	OpNeg Opcode = 0x25

	// ========================================================================
	// Bitwise and logical (0x30-0x3F)
	// ========================================================================

	OpAnd Opcode = 0x30
	OpOr  Opcode = 0x31
	OpXor Opcode = 0x32
	OpShl Opcode = 0x33
	OpShr Opcode = 0x34
	OpNot Opcode = 0x35

	// ========================================================================
	// Comparison and conversion (0x40-0x4F)
	// ========================================================================

	OpCmp  Opcode = 0x40 // Pop two sized operands, push a 1-byte boolean
	OpCast Opcode = 0x41 // Convert (p0, x0) to (p1, x1)

	// ========================================================================
	// Control flow (0x50-0x5F)
	// ========================================================================

	OpCall  Opcode = 0x50 // Push return frame, IP = x0 (or dispatch a native)
	OpJump  Opcode = 0x51 // IP = x0, optionally conditional on a popped boolean
	OpLeave Opcode = 0x52 // Pop x0 bytes of locals, restore frame, return
)

// Operands describes which instruction words an opcode uses, for
// disassembly.
type Operands uint8

const (
	OperandsNone   Operands = iota
	OperandsSize            // x0
	OperandsMemory          // x0 size, x1 address / immediate, x2 high word
	OperandsBinary          // x0 left, x1 right, x2 result sizes
	OperandsUnary           // x0 operand, x2 result size
	OperandsCompare         // x0 left, x1 right sizes
	OperandsCast            // x0 from, x1 to sizes
	OperandsTarget          // x0 address, x1 argument bytes
)

// OpcodeInfo provides metadata about each opcode.
type OpcodeInfo struct {
	Name     string
	Operands Operands
	Typed    bool // p0 carries a Kind checked against the legality table
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpHalt: {"HALT", OperandsNone, false},
	OpNop:  {"NOP", OperandsNone, false},

	OpLoad:  {"LOAD", OperandsMemory, false},
	OpStore: {"STORE", OperandsMemory, false},
	OpPop:   {"POP", OperandsSize, false},

	OpAdd: {"ADD", OperandsBinary, true},
	OpSub: {"SUB", OperandsBinary, true},
	OpMul: {"MUL", OperandsBinary, true},
	OpDiv: {"DIV", OperandsBinary, true},
	OpMod: {"MOD", OperandsBinary, true},
	OpNeg: {"NEG", OperandsUnary, true},

	OpAnd: {"AND", OperandsBinary, true},
	OpOr:  {"OR", OperandsBinary, true},
	OpXor: {"XOR", OperandsBinary, true},
	OpShl: {"SHL", OperandsBinary, true},
	OpShr: {"SHR", OperandsBinary, true},
	OpNot: {"NOT", OperandsUnary, true},

	OpCmp:  {"CMP", OperandsCompare, true},
	OpCast: {"CAST", OperandsCast, false},

	OpCall:  {"CALL", OperandsTarget, false},
	OpJump:  {"JUMP", OperandsTarget, false},
	OpLeave: {"LEAVE", OperandsSize, false},
}

// GetOpcodeInfo returns metadata for an opcode.
func GetOpcodeInfo(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	if info, ok := opcodeInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for i := 0; i < 256; i++ {
		if Opcode(i).Valid() {
			ops = append(ops, Opcode(i))
		}
	}
	return ops
}
