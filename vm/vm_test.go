package vm

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/chazu/anthill/pkg/asm"
	"github.com/chazu/anthill/pkg/fixed"
	"github.com/chazu/anthill/pkg/isa"
	"github.com/chazu/anthill/pkg/offset"
)

func build(t *testing.T, a *asm.Assembler) []byte {
	t.Helper()
	image, err := a.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return image
}

func newVM(t *testing.T, image []byte, opts ...Option) *VM {
	t.Helper()
	m, err := New(image, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func resolved(t *testing.T, o offset.Offset) uint32 {
	t.Helper()
	v, err := o.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func readInt(t *testing.T, m *VM, addr, n uint32) int64 {
	t.Helper()
	b, err := m.ReadAt(addr, n)
	if err != nil {
		t.Fatal(err)
	}
	return int64(extend(b, true))
}

func expectFault(t *testing.T, err error, code Code) *Fault {
	t.Helper()
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected a fault, got %v", err)
	}
	if f.Code != code {
		t.Fatalf("fault code = %s, want %s (%v)", f.Code, code, f)
	}
	if !errors.Is(err, codeErrors[code]) {
		t.Errorf("%v does not wrap %v", err, codeErrors[code])
	}
	return f
}

func TestIntegerArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   isa.Opcode
		kind isa.Kind
		a, b int64
		want int64
	}{
		{"add", isa.OpAdd, isa.KindInteger, 7, 35, 42},
		{"sub", isa.OpSub, isa.KindInteger, 7, 35, -28},
		{"mul", isa.OpMul, isa.KindInteger, -6, 7, -42},
		{"div signed", isa.OpDiv, isa.KindInteger, -7, 2, -3},
		{"mod signed", isa.OpMod, isa.KindInteger, -7, 2, -1},
		{"div unsigned", isa.OpDiv, isa.KindLong, -2, 2, int64(^uint64(0)>>1)},
		{"and", isa.OpAnd, isa.KindLong, 0b1100, 0b1010, 0b1000},
		{"or", isa.OpOr, isa.KindLong, 0b1100, 0b1010, 0b1110},
		{"xor", isa.OpXor, isa.KindLong, 0b1100, 0b1010, 0b0110},
		{"shl", isa.OpShl, isa.KindLong, 1, 10, 1024},
		{"shr arithmetic", isa.OpShr, isa.KindInteger, -8, 1, -4},
		{"shr logical", isa.OpShr, isa.KindLong, -8, 60, 15},
		{"wrap", isa.OpAdd, isa.KindInteger, 1<<63 - 1, 1, -1 << 63},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := asm.New()
			out := a.Global(8)
			a.Append(
				asm.PushInt(8, tt.a),
				asm.PushInt(8, tt.b),
				asm.Arith(tt.op, tt.kind, 8),
				asm.StoreGlobal(8, out),
				&asm.Halt{},
			)
			m := newVM(t, build(t, a))
			if err := m.Run(); err != nil {
				t.Fatal(err)
			}
			if got := readInt(t, m, resolved(t, out), 8); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMixedWidthArithmetic(t *testing.T) {
	tests := []struct {
		name                string
		op                  isa.Opcode
		kind                isa.Kind
		left, right, result uint32
		a, b                int64
		want                int64
	}{
		{"4-byte add", isa.OpAdd, isa.KindInteger, 4, 4, 4, 7, 35, 42},
		{"1 + 8 into 4", isa.OpAdd, isa.KindInteger, 1, 8, 4, -1, 5, 4},
		{"widened result", isa.OpAdd, isa.KindInteger, 1, 1, 8, 127, 1, 128},
		{"narrowed result wraps", isa.OpAdd, isa.KindInteger, 8, 8, 1, 200, 100, 44},
		{"signed byte operand", isa.OpAdd, isa.KindInteger, 1, 2, 8, -1, 256, 255},
		{"unsigned byte operand", isa.OpAdd, isa.KindInt, 1, 2, 8, -1, 256, 511},
		{"unsigned 2-byte sub", isa.OpSub, isa.KindShort, 2, 1, 4, 0x10000 - 1, 1, 0xFFFE},
		{"signed 2 * 4 into 2", isa.OpMul, isa.KindInteger, 2, 4, 2, -3, 1000, -3000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := asm.New()
			out := a.Global(8)
			a.Append(
				asm.PushInt(tt.left, tt.a),
				asm.PushInt(tt.right, tt.b),
				&asm.Binary{Op: tt.op, Kind: tt.kind, Left: tt.left, Right: tt.right, Result: tt.result},
				asm.StoreGlobal(tt.result, out),
				&asm.Halt{},
			)
			m := newVM(t, build(t, a))
			if err := m.Run(); err != nil {
				t.Fatal(err)
			}
			if got := readInt(t, m, resolved(t, out), tt.result); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNarrowOperands(t *testing.T) {
	a := asm.New()
	out := a.Global(2)
	a.Append(
		asm.PushInt(2, 0x7FFF),
		asm.PushInt(2, 1),
		asm.Arith(isa.OpAdd, isa.KindInteger, 2),
		asm.StoreGlobal(2, out),
		&asm.Halt{},
	)
	m := newVM(t, build(t, a))
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if got := readInt(t, m, resolved(t, out), 2); got != -0x8000 {
		t.Errorf("got %d, want -32768", got)
	}
}

func TestRealArithmetic(t *testing.T) {
	a := asm.New()
	sum := a.Global(8)
	quo := a.Global(8)
	a.Append(
		asm.PushReal(fixed.MustParse("1.25")),
		asm.PushReal(fixed.MustParse("2.5")),
		asm.Arith(isa.OpAdd, isa.KindReal, 8),
		asm.StoreGlobal(8, sum),
		asm.PushReal(fixed.MustParse("-7.5")),
		asm.PushReal(fixed.MustParse("2.5")),
		asm.Arith(isa.OpDiv, isa.KindReal, 8),
		asm.StoreGlobal(8, quo),
		&asm.Halt{},
	)
	m := newVM(t, build(t, a))
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	got, _ := ReadFixed(m.Memory(), resolved(t, sum))
	if got.String() != "3.75" {
		t.Errorf("sum = %s, want 3.75", got)
	}
	got, _ = ReadFixed(m.Memory(), resolved(t, quo))
	if got.String() != "-3" {
		t.Errorf("quotient = %s, want -3", got)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name  string
		kind  isa.Kind
		cmp   isa.Comparator
		left  *asm.Load
		right *asm.Load
		want  bool
	}{
		{"real eq", isa.KindReal, isa.CmpEQ, asm.PushReal(fixed.MustParse("0.5")), asm.PushReal(fixed.MustParse("0.5")), true},
		{"real lt negative", isa.KindReal, isa.CmpLT, asm.PushReal(fixed.MustParse("-1")), asm.PushReal(fixed.MustParse("0.25")), true},
		{"signed lt", isa.KindInteger, isa.CmpLT, asm.PushInt(8, -1), asm.PushInt(8, 1), true},
		{"unsigned lt", isa.KindLong, isa.CmpLT, asm.PushInt(8, -1), asm.PushInt(8, 1), false},
		{"ge equal", isa.KindInteger, isa.CmpGE, asm.PushInt(8, 3), asm.PushInt(8, 3), true},
		{"bool ne", isa.KindBoolean, isa.CmpNE, asm.PushBool(true), asm.PushBool(false), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := asm.New()
			out := a.Global(1)
			a.Append(
				tt.left,
				tt.right,
				&asm.Cmp{Kind: tt.kind, Comparator: tt.cmp, Left: tt.left.Size, Right: tt.right.Size},
				asm.StoreGlobal(1, out),
				&asm.Halt{},
			)
			m := newVM(t, build(t, a))
			if err := m.Run(); err != nil {
				t.Fatal(err)
			}
			got, _ := ReadBool(m.Memory(), resolved(t, out))
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCast(t *testing.T) {
	tests := []struct {
		name     string
		push     *asm.Load
		from, to isa.Kind
		toSize   uint32
		want     int64
	}{
		{"sign extend", asm.PushInt(4, -1), isa.KindInteger, isa.KindInteger, 8, -1},
		{"zero extend", asm.PushInt(4, -1), isa.KindInt, isa.KindLong, 8, 0xFFFFFFFF},
		{"truncate", asm.PushInt(8, 0x1234), isa.KindInteger, isa.KindByte, 1, 0x34},
		{"real to integer", asm.PushReal(fixed.MustParse("-2.75")), isa.KindReal, isa.KindInteger, 8, -2},
		{"integer to real", asm.PushInt(8, 3), isa.KindInteger, isa.KindReal, 8, int64(fixed.FromInt(3))},
		{"to bool", asm.PushInt(8, 9), isa.KindInteger, isa.KindBoolean, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := asm.New()
			out := a.Global(8)
			a.Append(
				tt.push,
				&asm.Cast{From: tt.from, FromSize: tt.push.Size, To: tt.to, ToSize: tt.toSize},
				asm.StoreGlobal(tt.toSize, out),
				&asm.Halt{},
			)
			m := newVM(t, build(t, a))
			if err := m.Run(); err != nil {
				t.Fatal(err)
			}
			b, _ := m.ReadAt(resolved(t, out), tt.toSize)
			if got := int64(extend(b, tt.to.Signed())); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConditionalJump(t *testing.T) {
	// Count down from 5 to 0 in a loop.
	a := asm.New()
	n := a.Global(8)
	top := asm.LoadGlobal(isa.KindInteger, 8, n)
	done := &asm.Halt{}
	a.Append(
		asm.PushInt(8, 5),
		asm.StoreGlobal(8, n),
		top,
		asm.PushInt(8, 0),
		&asm.Cmp{Kind: isa.KindInteger, Comparator: isa.CmpEQ, Left: 8, Right: 8},
		&asm.Jump{Condition: isa.JumpIfTrue, Target: done.Addr()},
		asm.LoadGlobal(isa.KindInteger, 8, n),
		asm.PushInt(8, 1),
		asm.Arith(isa.OpSub, isa.KindInteger, 8),
		asm.StoreGlobal(8, n),
		asm.Goto(top.Addr()),
		done,
	)
	m := newVM(t, build(t, a))
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if got := readInt(t, m, resolved(t, n), 8); got != 0 {
		t.Errorf("counter = %d, want 0", got)
	}
	if m.Steps() < 5*9 {
		t.Errorf("only %d steps executed", m.Steps())
	}
}

func TestCallAndLeave(t *testing.T) {
	a := asm.New()
	out := a.Global(8)
	entry := asm.PushInt(8, 21)
	a.Append(asm.Goto(entry.Addr()))

	double := a.Function(8)
	a.Append(
		asm.LoadLocal(isa.KindInteger, 8, double.Arg(0)),
		asm.PushInt(8, 2),
		asm.Arith(isa.OpMul, isa.KindInteger, 8),
		asm.StoreLocal(8, double.Local(0)),
		asm.LoadLocal(isa.KindInteger, 8, double.Local(0)),
		asm.StoreGlobal(8, out),
		double.Leave(),
	)
	double.End()

	a.Append(
		entry,
		double.Call(),
		&asm.Pop{Size: 8},
		&asm.Halt{},
	)

	m := newVM(t, build(t, a))
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if got := readInt(t, m, resolved(t, out), 8); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	_, sp, fp := m.Registers()
	if sp != DefaultMemorySize || fp != DefaultMemorySize {
		t.Errorf("stack not unwound: sp=%04X fp=%04X", sp, fp)
	}
}

func raw(ins ...isa.Instruction) []byte {
	out := make([]byte, 0, len(ins)*isa.Size)
	for _, in := range ins {
		out = append(out, in.Bytes()...)
	}
	return out
}

func TestFrameMismatch(t *testing.T) {
	image := raw(
		isa.Instruction{Op: isa.OpCall, X: [3]uint32{2 * isa.Size}},
		isa.Instruction{Op: isa.OpHalt},
		isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceZero), X: [3]uint32{8}},
		isa.Instruction{Op: isa.OpLeave, X: [3]uint32{4}},
	)
	m := newVM(t, image)
	f := expectFault(t, m.Run(), CodeFrameMismatch)
	if f.IP != 3*isa.Size || f.Op != isa.OpLeave {
		t.Errorf("fault at %04X %s", f.IP, f.Op)
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name  string
		image []byte
		opts  []Option
		code  Code
	}{
		{
			name: "load out of bounds",
			image: raw(
				isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceGlobal), X: [3]uint32{4, 0xFFFFFFF0}},
			),
			code: CodeOutOfBounds,
		},
		{
			name: "stack underflow",
			image: raw(
				isa.Instruction{Op: isa.OpPop, X: [3]uint32{4}},
			),
			code: CodeStackUnderflow,
		},
		{
			name: "stack overflow",
			image: raw(
				isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceZero), X: [3]uint32{8}},
				isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceZero), X: [3]uint32{8}},
				isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceZero), X: [3]uint32{8}},
			),
			opts: []Option{WithStackSize(16)},
			code: CodeStackOverflow,
		},
		{
			name: "integer division by zero",
			image: raw(
				isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceImmediate), X: [3]uint32{8, 1}},
				isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceZero), X: [3]uint32{8}},
				isa.Instruction{Op: isa.OpDiv, P0: uint8(isa.KindInteger), X: [3]uint32{8, 8, 8}},
			),
			code: CodeDivisionByZero,
		},
		{
			name: "real division by zero",
			image: raw(
				isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceImmediate), X: [3]uint32{8, 0, 1}},
				isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceZero), X: [3]uint32{8}},
				isa.Instruction{Op: isa.OpDiv, P0: uint8(isa.KindReal), X: [3]uint32{8, 8, 8}},
			),
			code: CodeDivisionByZero,
		},
		{
			name: "illegal kind",
			image: raw(
				isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceZero), X: [3]uint32{2}},
				isa.Instruction{Op: isa.OpAdd, P0: uint8(isa.KindBoolean), X: [3]uint32{1, 1, 1}},
			),
			code: CodeIllegalType,
		},
		{
			name:  "invalid opcode",
			image: raw(isa.Instruction{Op: 0xEE}),
			code:  CodeInvalidOpcode,
		},
		{
			name: "malformed string",
			image: raw(
				isa.Instruction{Op: isa.OpCall, P0: uint8(isa.CallNative), X: [3]uint32{DefaultMemorySize - 4}},
			),
			code: CodeMalformedString,
		},
		{
			name: "budget",
			image: raw(
				isa.Instruction{Op: isa.OpJump, X: [3]uint32{0}},
			),
			opts: []Option{WithStepBudget(100)},
			code: CodeBudgetExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newVM(t, tt.image, tt.opts...)
			expectFault(t, m.Run(), tt.code)
		})
	}
}

func TestStoreOutOfBoundsLeavesMemory(t *testing.T) {
	image := raw(
		isa.Instruction{Op: isa.OpLoad, P0: uint8(isa.SourceImmediate), X: [3]uint32{4, 0xDEADBEEF}},
		isa.Instruction{Op: isa.OpStore, P0: uint8(isa.SourceGlobal), X: [3]uint32{4, DefaultMemorySize - 2}},
	)
	m := newVM(t, image)
	expectFault(t, m.Run(), CodeOutOfBounds)
	tail, _ := m.ReadAt(DefaultMemorySize-2, 2)
	// The last two bytes belong to the pushed value, untouched by the store.
	if binary.LittleEndian.Uint16(tail) != 0xDEAD {
		t.Errorf("tail = %X", tail)
	}
}

func TestFaultIsSticky(t *testing.T) {
	image := raw(isa.Instruction{Op: isa.OpPop, X: [3]uint32{1}})
	m := newVM(t, image)
	first := m.Run()
	second := m.Run()
	if first == nil || first != second {
		t.Fatalf("fault not sticky: %v then %v", first, second)
	}
	if m.Fault() == nil {
		t.Error("Fault() is nil after a fault")
	}
	m.Reset()
	if m.Fault() != nil {
		t.Error("Reset did not clear the fault")
	}
	expectFault(t, m.Run(), CodeStackUnderflow)
}

func TestGlobalsPersistAcrossRuns(t *testing.T) {
	a := asm.New()
	counter := a.Global(8)
	a.Append(
		asm.LoadGlobal(isa.KindInteger, 8, counter),
		asm.PushInt(8, 1),
		asm.Arith(isa.OpAdd, isa.KindInteger, 8),
		asm.StoreGlobal(8, counter),
		&asm.Halt{},
	)
	m := newVM(t, build(t, a))
	for i := 0; i < 3; i++ {
		if err := m.Run(); err != nil {
			t.Fatal(err)
		}
	}
	if got := readInt(t, m, resolved(t, counter), 8); got != 3 {
		t.Errorf("counter = %d after 3 runs", got)
	}
}

func TestNatives(t *testing.T) {
	a := asm.New()
	a.Append(
		asm.PushInt(8, 7),
		asm.PushAddress(a.String("héllo")),
		&asm.Native{Name: a.String("capture"), ArgBytes: 12},
		&asm.Halt{},
	)
	var gotString string
	var gotInt int64
	natives := Natives{
		"capture": func(mem []byte, sp uint32) error {
			var err error
			if gotString, err = ReadStringArg(mem, sp); err != nil {
				return err
			}
			gotInt, err = ReadI64(mem, sp+4)
			return err
		},
	}
	m := newVM(t, build(t, a), WithNatives(natives))
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if gotString != "héllo" || gotInt != 7 {
		t.Errorf("native saw %q, %d", gotString, gotInt)
	}
	if _, sp, _ := m.Registers(); sp != DefaultMemorySize {
		t.Errorf("arguments not popped, sp=%04X", sp)
	}
}

func TestNativeErrors(t *testing.T) {
	a := asm.New()
	a.Append(&asm.Native{Name: a.String("missing")}, &asm.Halt{})
	m := newVM(t, build(t, a))
	expectFault(t, m.Run(), CodeUnknownNative)

	boom := errors.New("boom")
	b := asm.New()
	b.Append(&asm.Native{Name: b.String("fail")}, &asm.Halt{})
	m = newVM(t, build(t, b), WithNatives(Natives{
		"fail": func([]byte, uint32) error { return boom },
	}))
	err := m.Run()
	expectFault(t, err, CodeNativeFailure)
	if !errors.Is(err, boom) {
		t.Errorf("%v does not wrap the native's error", err)
	}
}

func TestNewRejectsOversizedImage(t *testing.T) {
	if _, err := New(make([]byte, 32), WithMemorySize(16)); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("got %v, want ErrImageTooLarge", err)
	}
	if _, err := New(make([]byte, 32), WithMemorySize(64), WithStackSize(48)); !errors.Is(err, ErrStackTooLarge) {
		t.Errorf("got %v, want ErrStackTooLarge", err)
	}
	if _, err := New(make([]byte, 32), WithCodeSize(48)); !errors.Is(err, ErrCodeSize) {
		t.Errorf("got %v, want ErrCodeSize", err)
	}
}

func TestRunEndsAtCodeEnd(t *testing.T) {
	m := newVM(t, raw(isa.Instruction{Op: isa.OpNop}, isa.Instruction{Op: isa.OpNop}))
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if m.Steps() != 2 {
		t.Errorf("steps = %d, want 2", m.Steps())
	}

	// No HALT: the string pool right after the code must not be executed.
	tests := []struct {
		name    string
		literal string
	}{
		{"short literal", "abcd"},
		{"length reads as STORE", "abcdefghijklmnopq"},
		{"empty literal", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := asm.New()
			g := a.Global(8)
			a.String(tt.literal)
			a.Append(
				asm.PushInt(8, 7),
				asm.StoreGlobal(8, g),
			)
			m := newVM(t, build(t, a), WithCodeSize(a.CodeSize()))
			if err := m.Run(); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if m.Steps() != 2 {
				t.Errorf("steps = %d, want 2", m.Steps())
			}
			if got := readInt(t, m, resolved(t, g), 8); got != 7 {
				t.Errorf("global = %d, want 7", got)
			}
		})
	}
}

func TestControlTransferIntoPoolHalts(t *testing.T) {
	for _, transfer := range []string{"jump", "call"} {
		t.Run(transfer, func(t *testing.T) {
			a := asm.New()
			pool := a.String("abcdefghijklmnopq")
			if transfer == "jump" {
				a.Append(asm.Goto(pool))
			} else {
				a.Append(&asm.Call{Address: pool})
			}
			a.Append(&asm.Nop{})
			m := newVM(t, build(t, a), WithCodeSize(a.CodeSize()))
			if err := m.Run(); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if m.Steps() != 1 {
				t.Errorf("steps = %d, want 1", m.Steps())
			}
		})
	}
}
