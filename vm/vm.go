// Package vm executes a module image over one private, fixed-size memory
// buffer. The image is copied to address 0, the rest of memory starts out
// zero, and the operand stack grows down from the top of memory.
//
// Registers: IP (byte address of the current instruction), SP (lowest used
// stack byte), FP (frame pointer) and a sticky fault. A call frame is
//
//	FP+8..  arguments pushed by the caller
//	FP+4    return address
//	FP+0    caller's FP
//	FP-n..  n bytes of locals
package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/anthill/pkg/isa"
)

const (
	DefaultMemorySize = 64 * 1024
	DefaultStackSize  = 16 * 1024
)

var (
	ErrImageTooLarge = errors.New("image does not fit in memory")
	ErrStackTooLarge = errors.New("stack does not fit between image and end of memory")
	ErrCodeSize      = errors.New("code segment does not fit in image")
)

// Native is a host routine. It receives the whole memory buffer and the
// current stack pointer; arguments are read upward from sp. A routine must
// not block.
type Native func(mem []byte, sp uint32) error

// Natives maps routine names, as stored in the string pool, to routines.
type Natives map[string]Native

type options struct {
	memorySize uint32
	stackSize  uint32
	codeSize   uint32
	natives    Natives
	budget     uint64
	trace      bool
	log        commonlog.Logger
}

// Option configures a VM.
type Option func(*options)

// WithMemorySize sets the memory capacity in bytes.
func WithMemorySize(n uint32) Option { return func(o *options) { o.memorySize = n } }

// WithStackSize sets the maximum stack depth in bytes.
func WithStackSize(n uint32) Option { return func(o *options) { o.stackSize = n } }

// WithCodeSize sets the length of the instruction segment at the start of
// the image. Run halts when IP leaves it, so data after the code (the string
// pool) is never executed. Zero, the default, treats the whole image as code.
func WithCodeSize(n uint32) Option { return func(o *options) { o.codeSize = n } }

// WithNatives installs the native routine table.
func WithNatives(n Natives) Option { return func(o *options) { o.natives = n } }

// WithStepBudget limits the number of instructions one Run may execute. Zero
// means unlimited.
func WithStepBudget(n uint64) Option { return func(o *options) { o.budget = n } }

// WithTrace logs every executed instruction at debug level.
func WithTrace(on bool) Option { return func(o *options) { o.trace = on } }

// WithLogger replaces the package logger.
func WithLogger(l commonlog.Logger) Option { return func(o *options) { o.log = l } }

// VM is one interpreter instance. It is not safe for concurrent use.
type VM struct {
	mem        []byte
	imageSize  uint32
	codeSize   uint32
	stackLimit uint32

	ip, sp, fp uint32

	natives Natives
	budget  uint64
	steps   uint64
	trace   bool
	log     commonlog.Logger

	fault *Fault
}

// New loads image into a fresh memory buffer.
func New(image []byte, opts ...Option) (*VM, error) {
	o := options{
		memorySize: DefaultMemorySize,
		stackSize:  DefaultStackSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = commonlog.GetLogger("anthill.vm")
	}
	if uint64(len(image)) > uint64(o.memorySize) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrImageTooLarge, len(image), o.memorySize)
	}
	if uint64(len(image))+uint64(o.stackSize) > uint64(o.memorySize) {
		return nil, fmt.Errorf("%w: image %d + stack %d > memory %d", ErrStackTooLarge, len(image), o.stackSize, o.memorySize)
	}
	if o.codeSize > uint32(len(image)) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrCodeSize, o.codeSize, len(image))
	}
	if o.codeSize == 0 {
		o.codeSize = uint32(len(image))
	}
	vm := &VM{
		mem:        make([]byte, o.memorySize),
		imageSize:  uint32(len(image)),
		codeSize:   o.codeSize,
		stackLimit: o.memorySize - o.stackSize,
		natives:    o.natives,
		budget:     o.budget,
		trace:      o.trace,
		log:        o.log,
	}
	copy(vm.mem, image)
	vm.sp, vm.fp = o.memorySize, o.memorySize
	return vm, nil
}

// Memory exposes the memory buffer. Callers must not retain it across a
// Run on another goroutine.
func (vm *VM) Memory() []byte { return vm.mem }

// ImageSize is the length of the loaded image.
func (vm *VM) ImageSize() uint32 { return vm.imageSize }

// CodeSize is the length of the instruction segment.
func (vm *VM) CodeSize() uint32 { return vm.codeSize }

// Steps is the number of instructions executed by the last Run.
func (vm *VM) Steps() uint64 { return vm.steps }

// Fault returns the sticky fault, or nil.
func (vm *VM) Fault() *Fault { return vm.fault }

// Registers returns IP, SP and FP as left by the last Run.
func (vm *VM) Registers() (ip, sp, fp uint32) { return vm.ip, vm.sp, vm.fp }

// Reset clears a sticky fault. Memory is left as it is.
func (vm *VM) Reset() { vm.fault = nil }

// ReadAt copies n bytes starting at addr.
func (vm *VM) ReadAt(addr, n uint32) ([]byte, error) {
	if err := checkRange(vm.mem, addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, vm.mem[addr:])
	return out, nil
}

// WriteAt copies b into memory at addr. Nothing is written if any byte
// would fall outside memory.
func (vm *VM) WriteAt(addr uint32, b []byte) error {
	if err := checkRange(vm.mem, addr, uint32(len(b))); err != nil {
		return err
	}
	copy(vm.mem[addr:], b)
	return nil
}

// Run executes one full pass of the program, starting at address 0 with an
// empty stack. It returns nil when the program executes HALT or IP leaves
// the code segment, including by a JUMP or CALL past its end, and the fault
// otherwise. Once faulted, Run keeps returning the same fault until Reset.
func (vm *VM) Run() error {
	if vm.fault != nil {
		return vm.fault
	}
	top := uint32(len(vm.mem))
	vm.ip, vm.sp, vm.fp = 0, top, top
	vm.steps = 0

	for {
		if uint64(vm.ip)+isa.Size > uint64(vm.codeSize) {
			return nil
		}
		if vm.budget > 0 && vm.steps >= vm.budget {
			vm.fail(CodeBudgetExceeded, isa.OpNop, "%d steps", vm.steps)
			return vm.fault
		}
		in, err := isa.Decode(vm.mem[vm.ip:])
		if err != nil {
			vm.fail(CodeInvalidOpcode, in.Op, "%v", err)
			return vm.fault
		}
		vm.steps++
		if vm.trace {
			vm.log.Debugf("%04X  %-40s sp=%04X fp=%04X", vm.ip, in, vm.sp, vm.fp)
		}
		next, halt := vm.step(in)
		if vm.fault != nil {
			vm.log.Debugf("halted: %v", vm.fault)
			return vm.fault
		}
		if halt {
			return nil
		}
		vm.ip = next
	}
}

func (vm *VM) fail(code Code, op isa.Opcode, format string, args ...any) {
	if vm.fault != nil {
		return
	}
	vm.fault = &Fault{
		Code: code,
		IP:   vm.ip,
		Op:   op,
		Err:  fmt.Errorf("%w: %s", codeErrors[code], fmt.Sprintf(format, args...)),
	}
}

func (vm *VM) failErr(op isa.Opcode, err error) {
	if vm.fault != nil {
		return
	}
	code := codeOf(err)
	if code == CodeNativeFailure && !errors.Is(err, ErrNativeFailure) {
		err = fmt.Errorf("%w: %w", ErrNativeFailure, err)
	}
	vm.fault = &Fault{Code: code, IP: vm.ip, Op: op, Err: err}
}
