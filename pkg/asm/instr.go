package asm

import (
	"errors"
	"fmt"

	"github.com/chazu/anthill/pkg/fixed"
	"github.com/chazu/anthill/pkg/isa"
	"github.com/chazu/anthill/pkg/offset"
)

// ErrUnknownInstr is returned by Generate for an instruction type outside
// the closed set defined in this file.
var ErrUnknownInstr = errors.New("asm: unknown instruction type")

// Instr is an abstract instruction whose operands may still be unresolved
// offsets. The implementations are exactly the types in this file.
type Instr interface {
	// Addr is the instruction's own address. It is set when the
	// instruction is appended to an Assembler and may be used as a forward
	// reference before that.
	Addr() offset.Offset
	header() *node
}

type node struct {
	addr *offset.Deferred
}

func (n *node) header() *node { return n }

func (n *node) deferred() *offset.Deferred {
	if n.addr == nil {
		n.addr = offset.NewDeferred("instruction address")
	}
	return n.addr
}

func (n *node) Addr() offset.Offset { return n.deferred() }

// Halt stops the current run.
type Halt struct{ node }

// Nop does nothing.
type Nop struct{ node }

// Load pushes Size bytes. For SourceGlobal the data is read from
// Segment+Address; for SourceLocal Address is a signed frame offset; for
// SourceImmediate the payload is Imm plus the resolved Segment+Address, so
// an immediate can carry the address of a string or a global.
type Load struct {
	node
	Source  isa.Source
	Kind    isa.Kind
	Size    uint32
	Segment offset.Offset
	Address offset.Offset
	Imm     uint64
}

// Store writes Size bytes from the stack to Segment+Address.
type Store struct {
	node
	Dest    isa.Source
	Mode    isa.StoreMode
	Size    uint32
	Segment offset.Offset
	Address offset.Offset
}

// Pop discards Size bytes.
type Pop struct {
	node
	Size uint32
}

// Binary is one of the two-operand arithmetic or logic opcodes.
type Binary struct {
	node
	Op                  isa.Opcode
	Kind                isa.Kind
	Left, Right, Result uint32
}

// Unary is NEG or NOT.
type Unary struct {
	node
	Op            isa.Opcode
	Kind          isa.Kind
	Size, Result uint32
}

// Cmp compares two operands and pushes a boolean.
type Cmp struct {
	node
	Kind        isa.Kind
	Comparator  isa.Comparator
	Left, Right uint32
}

// Cast converts the value on top of the stack.
type Cast struct {
	node
	From     isa.Kind
	FromSize uint32
	To       isa.Kind
	ToSize   uint32
}

// Call transfers control to bytecode at Segment+Address.
type Call struct {
	node
	Segment offset.Offset
	Address offset.Offset
}

// Native calls the host routine whose name is the string at Name. ArgBytes
// are popped when the routine returns.
type Native struct {
	node
	Name     offset.Offset
	ArgBytes uint32
}

// Jump sets IP to Target, optionally depending on a popped boolean.
type Jump struct {
	node
	Condition isa.Condition
	Target    offset.Offset
}

// Leave is the function epilogue: pop Size bytes of locals, restore the
// caller's frame and return.
type Leave struct {
	node
	Size  uint32
	frame *Frame
}

// PushInt loads a signed integer immediate.
func PushInt(size uint32, v int64) *Load {
	return &Load{Source: isa.SourceImmediate, Kind: isa.KindInteger, Size: size, Imm: uint64(v)}
}

// PushReal loads a fixed-point immediate.
func PushReal(v fixed.Fixed) *Load {
	return &Load{Source: isa.SourceImmediate, Kind: isa.KindReal, Size: fixed.Size, Imm: uint64(v.Raw())}
}

// PushBool loads a boolean immediate.
func PushBool(v bool) *Load {
	var b uint64
	if v {
		b = 1
	}
	return &Load{Source: isa.SourceImmediate, Kind: isa.KindBoolean, Size: 1, Imm: b}
}

// PushAddress loads the resolved value of o as a 4-byte unsigned immediate.
func PushAddress(o offset.Offset) *Load {
	return &Load{Source: isa.SourceImmediate, Kind: isa.KindInt, Size: 4, Address: o}
}

// LoadGlobal reads size bytes at the absolute address o.
func LoadGlobal(kind isa.Kind, size uint32, o offset.Offset) *Load {
	return &Load{Source: isa.SourceGlobal, Kind: kind, Size: size, Address: o}
}

// StoreGlobal pops size bytes to the absolute address o.
func StoreGlobal(size uint32, o offset.Offset) *Store {
	return &Store{Dest: isa.SourceGlobal, Size: size, Address: o}
}

// LoadLocal reads size bytes at the frame pointer plus off.
func LoadLocal(kind isa.Kind, size uint32, off int32) *Load {
	return &Load{Source: isa.SourceLocal, Kind: kind, Size: size, Address: offset.Fixed(uint32(off))}
}

// StoreLocal pops size bytes to the frame pointer plus off.
func StoreLocal(size uint32, off int32) *Store {
	return &Store{Dest: isa.SourceLocal, Size: size, Address: offset.Fixed(uint32(off))}
}

// Arith builds a binary instruction with all three sizes equal.
func Arith(op isa.Opcode, kind isa.Kind, size uint32) *Binary {
	return &Binary{Op: op, Kind: kind, Left: size, Right: size, Result: size}
}

// Goto builds an unconditional jump.
func Goto(target offset.Offset) *Jump {
	return &Jump{Condition: isa.JumpAlways, Target: target}
}

func resolve(parts ...offset.Offset) (uint32, error) {
	var total offset.Offset = offset.Zero
	for _, p := range parts {
		total = offset.Sum(total, p)
	}
	return total.Resolve()
}

// Generate resolves every operand of in and produces the wire record. It
// must only be called once layout is final.
func Generate(in Instr) (isa.Instruction, error) {
	switch in := in.(type) {
	case *Halt:
		return isa.Instruction{Op: isa.OpHalt}, nil

	case *Nop:
		return isa.Instruction{Op: isa.OpNop}, nil

	case *Load:
		addr, err := resolve(in.Segment, in.Address)
		if err != nil {
			return isa.Instruction{}, err
		}
		rec := isa.Instruction{Op: isa.OpLoad, P0: uint8(in.Source), P1: uint8(in.Kind), X: [3]uint32{in.Size, addr, 0}}
		if in.Source == isa.SourceImmediate {
			imm := in.Imm + uint64(addr)
			rec.X[1], rec.X[2] = uint32(imm), uint32(imm>>32)
		}
		return rec, nil

	case *Store:
		addr, err := resolve(in.Segment, in.Address)
		if err != nil {
			return isa.Instruction{}, err
		}
		return isa.Instruction{Op: isa.OpStore, P0: uint8(in.Dest), P1: uint8(in.Mode), X: [3]uint32{in.Size, addr, 0}}, nil

	case *Pop:
		return isa.Instruction{Op: isa.OpPop, X: [3]uint32{in.Size, 0, 0}}, nil

	case *Binary:
		info, ok := isa.GetOpcodeInfo(in.Op)
		if !ok || info.Operands != isa.OperandsBinary {
			return isa.Instruction{}, fmt.Errorf("asm: %s is not a binary opcode", in.Op)
		}
		return isa.Instruction{Op: in.Op, P0: uint8(in.Kind), X: [3]uint32{in.Left, in.Right, in.Result}}, nil

	case *Unary:
		if in.Op != isa.OpNeg && in.Op != isa.OpNot {
			return isa.Instruction{}, fmt.Errorf("asm: %s is not a unary opcode", in.Op)
		}
		return isa.Instruction{Op: in.Op, P0: uint8(in.Kind), X: [3]uint32{in.Size, 0, in.Result}}, nil

	case *Cmp:
		return isa.Instruction{Op: isa.OpCmp, P0: uint8(in.Kind), P1: uint8(in.Comparator), X: [3]uint32{in.Left, in.Right, 0}}, nil

	case *Cast:
		return isa.Instruction{Op: isa.OpCast, P0: uint8(in.From), P1: uint8(in.To), X: [3]uint32{in.FromSize, in.ToSize, 0}}, nil

	case *Call:
		addr, err := resolve(in.Segment, in.Address)
		if err != nil {
			return isa.Instruction{}, err
		}
		return isa.Instruction{Op: isa.OpCall, P0: uint8(isa.CallCode), X: [3]uint32{addr, 0, 0}}, nil

	case *Native:
		addr, err := resolve(in.Name)
		if err != nil {
			return isa.Instruction{}, err
		}
		return isa.Instruction{Op: isa.OpCall, P0: uint8(isa.CallNative), X: [3]uint32{addr, in.ArgBytes, 0}}, nil

	case *Jump:
		addr, err := resolve(in.Target)
		if err != nil {
			return isa.Instruction{}, err
		}
		return isa.Instruction{Op: isa.OpJump, P0: uint8(in.Condition), X: [3]uint32{addr, 0, 0}}, nil

	case *Leave:
		return isa.Instruction{Op: isa.OpLeave, X: [3]uint32{in.Size, 0, 0}}, nil

	default:
		return isa.Instruction{}, fmt.Errorf("%w: %T", ErrUnknownInstr, in)
	}
}
