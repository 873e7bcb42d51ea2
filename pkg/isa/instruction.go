// Package isa defines the instruction set: opcodes, operand selectors, the
// 16-byte wire record and its validation rules.
package isa

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is the encoded width of every instruction in bytes.
const Size = 16

var (
	ErrInvalidOpcode   = errors.New("invalid opcode")
	ErrInvalidSelector = errors.New("invalid selector")
	ErrIllegalKind     = errors.New("illegal opcode/kind pair")
	ErrInvalidSize     = errors.New("invalid operand size")
	ErrTruncated       = errors.New("truncated instruction")
)

// Instruction is one fully resolved instruction record.
//
// Wire layout (little endian):
//
//	[0]     opcode
//	[1]     p0 selector
//	[2]     p1 selector
//	[3]     reserved, always 0
//	[4:8]   x0
//	[8:12]  x1
//	[12:16] x2
type Instruction struct {
	Op Opcode
	P0 uint8
	P1 uint8
	X  [3]uint32
}

// Encode writes the 16-byte record into dst, which must be at least Size
// bytes long.
func (in Instruction) Encode(dst []byte) {
	_ = dst[Size-1]
	dst[0] = byte(in.Op)
	dst[1] = in.P0
	dst[2] = in.P1
	dst[3] = 0
	binary.LittleEndian.PutUint32(dst[4:], in.X[0])
	binary.LittleEndian.PutUint32(dst[8:], in.X[1])
	binary.LittleEndian.PutUint32(dst[12:], in.X[2])
}

// Bytes returns the encoded record.
func (in Instruction) Bytes() []byte {
	buf := make([]byte, Size)
	in.Encode(buf)
	return buf
}

// Decode reads one record from the start of src. It checks the shape of the
// record but not the semantic rules enforced by Validate.
func Decode(src []byte) (Instruction, error) {
	if len(src) < Size {
		return Instruction{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(src))
	}
	in := Instruction{
		Op: Opcode(src[0]),
		P0: src[1],
		P1: src[2],
		X: [3]uint32{
			binary.LittleEndian.Uint32(src[4:]),
			binary.LittleEndian.Uint32(src[8:]),
			binary.LittleEndian.Uint32(src[12:]),
		},
	}
	if !in.Op.Valid() {
		return in, fmt.Errorf("%w: 0x%02X", ErrInvalidOpcode, src[0])
	}
	if src[3] != 0 {
		return in, fmt.Errorf("%w: reserved byte 0x%02X", ErrInvalidSelector, src[3])
	}
	return in, nil
}

// DecodeAll decodes consecutive records until code is exhausted.
func DecodeAll(code []byte) ([]Instruction, error) {
	if len(code)%Size != 0 {
		return nil, fmt.Errorf("%w: code length %d is not a multiple of %d", ErrTruncated, len(code), Size)
	}
	out := make([]Instruction, 0, len(code)/Size)
	for pos := 0; pos < len(code); pos += Size {
		in, err := Decode(code[pos:])
		if err != nil {
			return out, fmt.Errorf("at %04X: %w", pos, err)
		}
		out = append(out, in)
	}
	return out, nil
}

// Kind returns p0 interpreted as a kind.
func (in Instruction) Kind() Kind { return Kind(in.P0) }

// Source returns p0 interpreted as a source selector.
func (in Instruction) Source() Source { return Source(in.P0) }

// Immediate returns the 64-bit LOAD immediate payload.
func (in Instruction) Immediate() uint64 {
	return uint64(in.X[2])<<32 | uint64(in.X[1])
}

// Validate checks selectors, operand sizes and the (opcode, kind) legality
// table.
func (in Instruction) Validate() error {
	switch in.Op {
	case OpHalt, OpNop, OpPop, OpLeave:
		return nil

	case OpLoad:
		switch Source(in.P0) {
		case SourceImmediate:
			if in.X[0] == 0 || in.X[0] > 8 {
				return fmt.Errorf("%w: immediate of %d bytes", ErrInvalidSize, in.X[0])
			}
		case SourceGlobal, SourceZero, SourceLocal, SourceIndirect:
		default:
			return fmt.Errorf("%w: LOAD source %d", ErrInvalidSelector, in.P0)
		}
		if in.P1 != 0 && !Kind(in.P1).Valid() {
			return fmt.Errorf("%w: LOAD kind %d", ErrInvalidSelector, in.P1)
		}
		return nil

	case OpStore:
		switch Source(in.P0) {
		case SourceGlobal, SourceLocal, SourceIndirect:
		default:
			return fmt.Errorf("%w: STORE destination %s", ErrInvalidSelector, Source(in.P0))
		}
		if StoreMode(in.P1) > StorePeek {
			return fmt.Errorf("%w: STORE mode %d", ErrInvalidSelector, in.P1)
		}
		return nil

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpAnd, OpOr, OpXor, OpShl, OpShr:
		k := in.Kind()
		if !Legal(in.Op, k) {
			return fmt.Errorf("%w: %s %s", ErrIllegalKind, in.Op, k)
		}
		return checkSizes(k, in.X[0], in.X[1], in.X[2])

	case OpNeg, OpNot:
		k := in.Kind()
		if !Legal(in.Op, k) {
			return fmt.Errorf("%w: %s %s", ErrIllegalKind, in.Op, k)
		}
		return checkSizes(k, in.X[0], in.X[2])

	case OpCmp:
		k := in.Kind()
		if !LegalComparison(k, Comparator(in.P1)) {
			return fmt.Errorf("%w: CMP %s %s", ErrIllegalKind, k, Comparator(in.P1))
		}
		return checkSizes(k, in.X[0], in.X[1])

	case OpCast:
		from, to := Kind(in.P0), Kind(in.P1)
		if !from.Valid() || !to.Valid() {
			return fmt.Errorf("%w: CAST %s -> %s", ErrInvalidSelector, from, to)
		}
		if err := checkSizes(from, in.X[0]); err != nil {
			return err
		}
		return checkSizes(to, in.X[1])

	case OpCall:
		if CallTarget(in.P0) > CallNative {
			return fmt.Errorf("%w: CALL target %d", ErrInvalidSelector, in.P0)
		}
		return nil

	case OpJump:
		if Condition(in.P0) > JumpIfFalse {
			return fmt.Errorf("%w: JUMP condition %d", ErrInvalidSelector, in.P0)
		}
		return nil

	default:
		return fmt.Errorf("%w: 0x%02X", ErrInvalidOpcode, byte(in.Op))
	}
}

func checkSizes(k Kind, sizes ...uint32) error {
	for _, n := range sizes {
		if !k.ValidSize(n) {
			return fmt.Errorf("%w: %d bytes of %s", ErrInvalidSize, n, k)
		}
	}
	return nil
}
