package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/anthill/pkg/isa"
)

// Code is the sticky error code of a halted VM.
type Code uint8

const (
	CodeOK Code = iota
	CodeOutOfBounds
	CodeStackUnderflow
	CodeStackOverflow
	CodeUnknownNative
	CodeMalformedString
	CodeInvalidOpcode
	CodeIllegalType
	CodeDivisionByZero
	CodeArithmetic
	CodeFrameMismatch
	CodeBudgetExceeded
	CodeNativeFailure
)

var (
	ErrOutOfBounds     = errors.New("out of bounds memory access")
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrStackOverflow   = errors.New("stack overflow")
	ErrUnknownNative   = errors.New("unknown native routine")
	ErrMalformedString = errors.New("malformed string")
	ErrInvalidOpcode   = errors.New("invalid instruction")
	ErrIllegalType     = errors.New("illegal type selector")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrArithmetic      = errors.New("arithmetic overflow")
	ErrFrameMismatch   = errors.New("frame mismatch")
	ErrBudgetExceeded  = errors.New("step budget exceeded")
	ErrNativeFailure   = errors.New("native routine failed")
)

var codeErrors = map[Code]error{
	CodeOutOfBounds:     ErrOutOfBounds,
	CodeStackUnderflow:  ErrStackUnderflow,
	CodeStackOverflow:   ErrStackOverflow,
	CodeUnknownNative:   ErrUnknownNative,
	CodeMalformedString: ErrMalformedString,
	CodeInvalidOpcode:   ErrInvalidOpcode,
	CodeIllegalType:     ErrIllegalType,
	CodeDivisionByZero:  ErrDivisionByZero,
	CodeArithmetic:      ErrArithmetic,
	CodeFrameMismatch:   ErrFrameMismatch,
	CodeBudgetExceeded:  ErrBudgetExceeded,
	CodeNativeFailure:   ErrNativeFailure,
}

func (c Code) String() string {
	if c == CodeOK {
		return "ok"
	}
	if err, ok := codeErrors[c]; ok {
		return err.Error()
	}
	return fmt.Sprintf("Code(%d)", c)
}

// Fault describes why a VM halted abnormally. It wraps one of the sentinel
// errors above, so callers can use errors.Is.
type Fault struct {
	Code Code
	IP   uint32
	Op   isa.Opcode
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("vm fault at %04X (%s): %v", f.IP, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// codeOf maps an error returned by a memory helper or native routine back
// to a fault code.
func codeOf(err error) Code {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeNativeFailure
}
