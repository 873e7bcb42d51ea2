package isa

import (
	"fmt"
	"strings"

	"github.com/chazu/anthill/pkg/fixed"
)

// Disassemble returns a listing of the first codeSize bytes of image. When
// codeSize is zero the listing stops at the first record that does not
// decode and validate, which is normally the start of the string pool.
func Disassemble(image []byte, codeSize int) string {
	return DisassembleWithName("", image, codeSize)
}

// DisassembleWithName returns a listing with a name header.
func DisassembleWithName(name string, image []byte, codeSize int) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; %d bytes\n", len(image)))

	limit := codeSize
	if limit == 0 || limit > len(image) {
		limit = len(image) - len(image)%Size
	}

	offset := 0
	for ; offset+Size <= limit; offset += Size {
		in, err := Decode(image[offset:])
		if err == nil {
			err = in.Validate()
		}
		if err != nil {
			if codeSize == 0 {
				break
			}
			sb.WriteString(fmt.Sprintf("%04X  ??     ; %v\n", offset, err))
			continue
		}
		sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, in))
	}
	if offset < len(image) {
		sb.WriteString(fmt.Sprintf("; data: %d bytes at %04X\n", len(image)-offset, offset))
	}
	return sb.String()
}

// String renders one instruction in assembler syntax.
func (in Instruction) String() string {
	info, ok := GetOpcodeInfo(in.Op)
	if !ok {
		return in.Op.String()
	}
	name := fmt.Sprintf("%-6s", info.Name)

	switch in.Op {
	case OpLoad:
		src := Source(in.P0)
		switch src {
		case SourceImmediate:
			if Kind(in.P1) == KindReal {
				return fmt.Sprintf("%s imm.real %s", name, fixed.FromWords(in.X[1], in.X[2]))
			}
			return fmt.Sprintf("%s imm.%d %d", name, in.X[0], in.Immediate())
		case SourceZero:
			return fmt.Sprintf("%s zero %d", name, in.X[0])
		case SourceLocal:
			return fmt.Sprintf("%s local.%d fp%+d", name, in.X[0], int32(in.X[1]))
		case SourceIndirect:
			return fmt.Sprintf("%s indirect.%d", name, in.X[0])
		default:
			return fmt.Sprintf("%s %s.%d [%04X]", name, src, in.X[0], in.X[1])
		}
	case OpStore:
		dst := Source(in.P0)
		mode := StoreMode(in.P1)
		switch dst {
		case SourceLocal:
			return fmt.Sprintf("%s %s local.%d fp%+d", name, mode, in.X[0], int32(in.X[1]))
		case SourceIndirect:
			return fmt.Sprintf("%s %s indirect.%d", name, mode, in.X[0])
		default:
			return fmt.Sprintf("%s %s %s.%d [%04X]", name, mode, dst, in.X[0], in.X[1])
		}
	case OpCmp:
		return fmt.Sprintf("%s %s.%s %d, %d", name, in.Kind(), Comparator(in.P1), in.X[0], in.X[1])
	case OpCast:
		return fmt.Sprintf("%s %s.%d -> %s.%d", name, Kind(in.P0), in.X[0], Kind(in.P1), in.X[1])
	case OpCall:
		if CallTarget(in.P0) == CallNative {
			return fmt.Sprintf("%s native [%04X] args=%d", name, in.X[0], in.X[1])
		}
		return fmt.Sprintf("%s %04X", name, in.X[0])
	case OpJump:
		if Condition(in.P0) == JumpAlways {
			return fmt.Sprintf("%s %04X", name, in.X[0])
		}
		return fmt.Sprintf("%s %s %04X", name, Condition(in.P0), in.X[0])
	}

	switch info.Operands {
	case OperandsSize:
		return fmt.Sprintf("%s %d", name, in.X[0])
	case OperandsBinary:
		return fmt.Sprintf("%s %s %d, %d -> %d", name, in.Kind(), in.X[0], in.X[1], in.X[2])
	case OperandsUnary:
		return fmt.Sprintf("%s %s %d -> %d", name, in.Kind(), in.X[0], in.X[2])
	default:
		return strings.TrimSpace(name)
	}
}
