package isa

import "fmt"

// Source selects where LOAD reads from and where STORE writes to.
type Source uint8

const (
	SourceGlobal    Source = 0 // absolute address x1
	SourceImmediate Source = 1 // payload x1 | x2<<32 (LOAD only)
	SourceZero      Source = 2 // x0 zero bytes (LOAD only)
	SourceLocal     Source = 3 // frame pointer + int32(x1)
	SourceIndirect  Source = 4 // address popped from the stack as u32
)

func (s Source) String() string {
	switch s {
	case SourceGlobal:
		return "global"
	case SourceImmediate:
		return "imm"
	case SourceZero:
		return "zero"
	case SourceLocal:
		return "local"
	case SourceIndirect:
		return "indirect"
	default:
		return fmt.Sprintf("Source(%d)", s)
	}
}

// Kind is the value type selector.
type Kind uint8

const (
	KindByte    Kind = 1 // unsigned
	KindShort   Kind = 2 // unsigned
	KindInt     Kind = 3 // unsigned
	KindLong    Kind = 4 // unsigned
	KindInteger Kind = 5 // signed two's complement
	KindReal    Kind = 6 // Q31.32 fixed point, 8 bytes
	KindBoolean Kind = 7 // 1 byte, 0 or 1
)

// AllKinds lists every defined kind.
var AllKinds = []Kind{KindByte, KindShort, KindInt, KindLong, KindInteger, KindReal, KindBoolean}

func (k Kind) String() string {
	switch k {
	case KindByte:
		return "byte"
	case KindShort:
		return "short"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBoolean:
		return "bool"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Valid reports whether k is a defined kind.
func (k Kind) Valid() bool { return k >= KindByte && k <= KindBoolean }

// IsInteger reports whether k is one of the integer kinds.
func (k Kind) IsInteger() bool { return k >= KindByte && k <= KindInteger }

// Signed reports whether values of k sign-extend when widened.
func (k Kind) Signed() bool { return k == KindInteger || k == KindReal }

// NaturalSize is the default width of k in bytes.
func (k Kind) NaturalSize() uint32 {
	switch k {
	case KindByte, KindBoolean:
		return 1
	case KindShort:
		return 2
	case KindInt:
		return 4
	case KindLong, KindInteger, KindReal:
		return 8
	default:
		return 0
	}
}

// ValidSize reports whether an operand of kind k may be n bytes wide.
// Integer kinds accept any of 1, 2, 4 or 8 bytes; REAL is always 8 and
// BOOLEAN always 1.
func (k Kind) ValidSize(n uint32) bool {
	switch {
	case k.IsInteger():
		return n == 1 || n == 2 || n == 4 || n == 8
	case k == KindReal:
		return n == 8
	case k == KindBoolean:
		return n == 1
	default:
		return false
	}
}

// Comparator selects the CMP relation.
type Comparator uint8

const (
	CmpEQ Comparator = 0
	CmpNE Comparator = 1
	CmpLT Comparator = 2
	CmpLE Comparator = 3
	CmpGT Comparator = 4
	CmpGE Comparator = 5
)

func (c Comparator) String() string {
	switch c {
	case CmpEQ:
		return "eq"
	case CmpNE:
		return "ne"
	case CmpLT:
		return "lt"
	case CmpLE:
		return "le"
	case CmpGT:
		return "gt"
	case CmpGE:
		return "ge"
	default:
		return fmt.Sprintf("Comparator(%d)", c)
	}
}

// Valid reports whether c is a defined comparator.
func (c Comparator) Valid() bool { return c <= CmpGE }

// Ordering reports whether c needs an ordering rather than equality.
func (c Comparator) Ordering() bool { return c >= CmpLT && c <= CmpGE }

// StoreMode selects whether STORE consumes the stored value.
type StoreMode uint8

const (
	StorePop  StoreMode = 0
	StorePeek StoreMode = 1
)

func (m StoreMode) String() string {
	if m == StorePeek {
		return "peek"
	}
	return "pop"
}

// CallTarget selects what CALL transfers control to.
type CallTarget uint8

const (
	CallCode   CallTarget = 0 // bytecode address x0
	CallNative CallTarget = 1 // host routine named by the string at x0
)

func (c CallTarget) String() string {
	if c == CallNative {
		return "native"
	}
	return "code"
}

// Condition selects when JUMP is taken.
type Condition uint8

const (
	JumpAlways  Condition = 0
	JumpIfTrue  Condition = 1 // pops a boolean
	JumpIfFalse Condition = 2 // pops a boolean
)

func (c Condition) String() string {
	switch c {
	case JumpAlways:
		return "always"
	case JumpIfTrue:
		return "if-true"
	case JumpIfFalse:
		return "if-false"
	default:
		return fmt.Sprintf("Condition(%d)", c)
	}
}
