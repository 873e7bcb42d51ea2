// Package asm turns an ordered list of abstract instructions and a pool of
// string literals into a module image:
//
//	[0 .. code)            instructions, isa.Size bytes each, emission order
//	[code .. code+static)  string pool: len u32, cap u32 (= len), UTF-16LE units
//	[code+static .. )      dynamic region, zero at load
//
// Segment start offsets are live: they are recomputed on every insertion, so
// an instruction emitted early can refer to the string pool or the dynamic
// region and still see the final layout when Build runs.
package asm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/chazu/anthill/pkg/isa"
	"github.com/chazu/anthill/pkg/module"
	"github.com/chazu/anthill/pkg/offset"
)

// StringHeaderSize is the length+capacity header in front of every pool
// entry.
const StringHeaderSize = 8

var (
	ErrFrameMismatch    = errors.New("asm: LEAVE size does not match frame")
	ErrLeaveOutsideFunc = errors.New("asm: LEAVE outside a function")
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

type literal struct {
	slot  uint32 // offset within the static segment
	units []byte // UTF-16LE code units
}

type frameMark struct {
	index int
	frame *Frame
}

// Assembler accumulates instructions and literals.
type Assembler struct {
	instrs []Instr

	literals map[string]*literal
	order    []string

	staticSize  uint32
	globalsSize uint32

	// Recomputed by layout() after every insertion.
	staticOffset  uint32
	dynamicOffset uint32

	labels []*offset.Deferred
	frames []frameMark
}

// New creates an empty assembler.
func New() *Assembler {
	return &Assembler{literals: make(map[string]*literal)}
}

func (a *Assembler) layout() {
	a.staticOffset = uint32(len(a.instrs)) * isa.Size
	a.dynamicOffset = a.staticOffset + a.staticSize
}

// Append adds instructions in order, assigning each the next address.
// Appending an instruction that already has an address panics.
func (a *Assembler) Append(ins ...Instr) {
	for _, in := range ins {
		addr := uint32(len(a.instrs)) * isa.Size
		in.header().deferred().Set(addr)
		for _, l := range a.labels {
			l.Set(addr)
		}
		a.labels = a.labels[:0]
		a.instrs = append(a.instrs, in)
		a.layout()
	}
}

// Label returns an offset that resolves to the address of the next appended
// instruction, or to the end of the code segment if none follows.
func (a *Assembler) Label() offset.Offset {
	d := offset.NewDeferred("label")
	a.labels = append(a.labels, d)
	return d
}

// Len returns the number of instructions appended so far.
func (a *Assembler) Len() int { return len(a.instrs) }

// CodeSize returns the size of the instruction segment so far.
func (a *Assembler) CodeSize() uint32 { return a.staticOffset }

// StaticSize returns the size of the string pool so far.
func (a *Assembler) StaticSize() uint32 { return a.staticSize }

// GlobalsSize returns the bytes reserved with Global.
func (a *Assembler) GlobalsSize() uint32 { return a.globalsSize }

type segment struct {
	a       *Assembler
	dynamic bool
}

func (s segment) Resolve() (uint32, error) {
	if s.dynamic {
		return s.a.dynamicOffset, nil
	}
	return s.a.staticOffset, nil
}

func (s segment) String() string {
	v, _ := s.Resolve()
	if s.dynamic {
		return fmt.Sprintf("dynamic(%d)", v)
	}
	return fmt.Sprintf("static(%d)", v)
}

// StaticData is the live start of the string pool.
func (a *Assembler) StaticData() offset.Offset { return segment{a: a} }

// DynamicData is the live start of the dynamic region.
func (a *Assembler) DynamicData() offset.Offset { return segment{a: a, dynamic: true} }

// String returns the address of the pool entry for s, adding it if this is
// the first request for that content.
func (a *Assembler) String(s string) offset.Offset {
	if lit, ok := a.literals[s]; ok {
		return offset.Sum(a.StaticData(), offset.Fixed(lit.slot))
	}
	units, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// The encoder replaces invalid UTF-8; an error here is a bug.
		panic(fmt.Errorf("asm: encoding %q: %w", s, err))
	}
	lit := &literal{slot: a.staticSize, units: units}
	a.literals[s] = lit
	a.order = append(a.order, s)
	a.staticSize += uint32(len(units)) + StringHeaderSize
	a.layout()
	return offset.Sum(a.StaticData(), offset.Fixed(lit.slot))
}

// Global reserves size bytes in the dynamic region and returns their
// address.
func (a *Assembler) Global(size uint32) offset.Offset {
	at := a.globalsSize
	a.globalsSize += size
	return offset.Sum(a.DynamicData(), offset.Fixed(at))
}

// Frame is a function body opened with Function.
type Frame struct {
	// Entry is the address of the function prologue, the target of Call.
	Entry  offset.Offset
	Locals uint32

	a   *Assembler
	end int // index of the first instruction after the body, or -1
}

// Function emits a prologue reserving locals bytes and returns the frame.
// The body runs until End or the next Function. Every LEAVE in it must pop
// exactly locals bytes; Build verifies this.
func (a *Assembler) Function(locals uint32) *Frame {
	prologue := &Load{Source: isa.SourceZero, Size: locals}
	f := &Frame{Entry: prologue.Addr(), Locals: locals, a: a, end: -1}
	a.frames = append(a.frames, frameMark{index: len(a.instrs), frame: f})
	a.Append(prologue)
	return f
}

// End closes the body of f. Instructions appended afterwards are outside
// any function until the next Function.
func (f *Frame) End() {
	if f.end < 0 {
		f.end = len(f.a.instrs)
	}
}

// Leave builds the epilogue for f.
func (f *Frame) Leave() *Leave {
	return &Leave{Size: f.Locals, frame: f}
}

// Call builds a call to f.
func (f *Frame) Call() *Call {
	return &Call{Address: f.Entry}
}

// Local addresses a local variable at byte off below the frame pointer;
// locals occupy [fp-Locals, fp).
func (f *Frame) Local(off uint32) int32 {
	return -int32(f.Locals) + int32(off)
}

// Arg addresses the argument bytes pushed by the caller; the first byte
// above the saved frame (return address and frame pointer) is Arg(0).
func (f *Frame) Arg(off uint32) int32 {
	return 8 + int32(off)
}

func (a *Assembler) enclosingFrame(index int) *Frame {
	var f *Frame
	for _, m := range a.frames {
		if m.index > index {
			break
		}
		f = m.frame
	}
	if f != nil && f.end >= 0 && index >= f.end {
		return nil
	}
	return f
}

// Build resolves every offset and serializes the module image. Calling Build
// again without further changes yields identical bytes.
func (a *Assembler) Build() ([]byte, error) {
	for _, l := range a.labels {
		l.Set(a.staticOffset)
	}
	a.labels = a.labels[:0]

	buf := make([]byte, a.staticOffset+a.staticSize)

	for i, in := range a.instrs {
		rec, err := Generate(in)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%04X): %w", i, i*isa.Size, err)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("instruction %d (%04X) %s: %w", i, i*isa.Size, rec.Op, err)
		}
		if leave, ok := in.(*Leave); ok {
			if err := a.checkLeave(i, leave); err != nil {
				return nil, err
			}
		}
		rec.Encode(buf[i*isa.Size:])
	}

	for _, s := range a.order {
		lit := a.literals[s]
		pos := a.staticOffset + lit.slot
		n := uint32(len(lit.units) / 2)
		binary.LittleEndian.PutUint32(buf[pos:], n)
		binary.LittleEndian.PutUint32(buf[pos+4:], n)
		copy(buf[pos+StringHeaderSize:], lit.units)
	}

	return buf, nil
}

func (a *Assembler) checkLeave(i int, leave *Leave) error {
	f := a.enclosingFrame(i)
	if f == nil {
		return fmt.Errorf("instruction %d (%04X): %w", i, i*isa.Size, ErrLeaveOutsideFunc)
	}
	if leave.frame != nil && leave.frame != f {
		return fmt.Errorf("instruction %d (%04X): %w: epilogue belongs to another function", i, i*isa.Size, ErrFrameMismatch)
	}
	if leave.Size != f.Locals {
		return fmt.Errorf("instruction %d (%04X): %w: pops %d, frame has %d", i, i*isa.Size, ErrFrameMismatch, leave.Size, f.Locals)
	}
	return nil
}

// Module builds the image and wraps it for the given executor.
func (a *Assembler) Module(name, executor string, bindings ...module.Binding) (*module.CompiledModule, error) {
	image, err := a.Build()
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", executor, name, err)
	}
	return &module.CompiledModule{
		Name:     name,
		Executor: executor,
		Bytecode: image,
		Bindings: bindings,
		CodeSize: a.CodeSize(),
	}, nil
}
