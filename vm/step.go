package vm

import (
	"encoding/binary"
	"errors"

	"github.com/chazu/anthill/pkg/fixed"
	"github.com/chazu/anthill/pkg/isa"
)

// step executes in and returns the address of the next instruction. Faults
// are recorded on vm and leave memory untouched by the faulting instruction.
func (vm *VM) step(in isa.Instruction) (uint32, bool) {
	next := vm.ip + isa.Size

	if err := in.Validate(); err != nil {
		if errors.Is(err, isa.ErrIllegalKind) {
			vm.fail(CodeIllegalType, in.Op, "%v", err)
		} else {
			vm.fail(CodeInvalidOpcode, in.Op, "%v", err)
		}
		return 0, false
	}

	switch in.Op {
	case isa.OpHalt:
		return 0, true

	case isa.OpNop:

	case isa.OpLoad:
		vm.load(in)

	case isa.OpStore:
		vm.store(in)

	case isa.OpPop:
		vm.pop(in.Op, in.X[0])

	case isa.OpAdd, isa.OpSub, isa.OpMul, isa.OpDiv, isa.OpMod,
		isa.OpAnd, isa.OpOr, isa.OpXor, isa.OpShl, isa.OpShr:
		vm.binary(in)

	case isa.OpNeg, isa.OpNot:
		vm.unary(in)

	case isa.OpCmp:
		vm.compare(in)

	case isa.OpCast:
		vm.cast(in)

	case isa.OpCall:
		if isa.CallTarget(in.P0) == isa.CallNative {
			vm.callNative(in)
			break
		}
		if !vm.pushU32(in.Op, next) || !vm.pushU32(in.Op, vm.fp) {
			return 0, false
		}
		vm.fp = vm.sp
		return in.X[0], false

	case isa.OpJump:
		switch isa.Condition(in.P0) {
		case isa.JumpAlways:
			return in.X[0], false
		case isa.JumpIfTrue, isa.JumpIfFalse:
			b, ok := vm.pop(in.Op, 1)
			if !ok {
				return 0, false
			}
			if (b[0] != 0) == (isa.Condition(in.P0) == isa.JumpIfTrue) {
				return in.X[0], false
			}
		}

	case isa.OpLeave:
		return vm.leave(in)
	}
	return next, false
}

// push reserves n bytes on the stack and returns them.
func (vm *VM) push(op isa.Opcode, n uint32) ([]byte, bool) {
	if n > vm.sp || vm.sp-n < vm.stackLimit {
		vm.fail(CodeStackOverflow, op, "push of %d bytes at sp=%04X", n, vm.sp)
		return nil, false
	}
	vm.sp -= n
	return vm.mem[vm.sp : vm.sp+n], true
}

// pop releases n bytes from the stack and returns them. The slice aliases
// memory and is only valid until the next push.
func (vm *VM) pop(op isa.Opcode, n uint32) ([]byte, bool) {
	b, ok := vm.peek(op, n)
	if ok {
		vm.sp += n
	}
	return b, ok
}

func (vm *VM) peek(op isa.Opcode, n uint32) ([]byte, bool) {
	if uint64(vm.sp)+uint64(n) > uint64(len(vm.mem)) {
		vm.fail(CodeStackUnderflow, op, "%d bytes wanted at sp=%04X", n, vm.sp)
		return nil, false
	}
	return vm.mem[vm.sp : vm.sp+n], true
}

func (vm *VM) pushU32(op isa.Opcode, v uint32) bool {
	b, ok := vm.push(op, 4)
	if ok {
		binary.LittleEndian.PutUint32(b, v)
	}
	return ok
}

func (vm *VM) popU32(op isa.Opcode) (uint32, bool) {
	b, ok := vm.pop(op, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// pushValue pushes the low n bytes of v.
func (vm *VM) pushValue(op isa.Opcode, n uint32, v uint64) {
	if b, ok := vm.push(op, n); ok {
		narrow(b, v)
	}
}

// popValue pops n bytes and widens them according to k.
func (vm *VM) popValue(op isa.Opcode, k isa.Kind, n uint32) (uint64, bool) {
	b, ok := vm.pop(op, n)
	if !ok {
		return 0, false
	}
	return extend(b, k.Signed()), true
}

// local resolves a frame-relative address.
func (vm *VM) local(rel uint32) uint32 {
	return uint32(int64(vm.fp) + int64(int32(rel)))
}

func (vm *VM) load(in isa.Instruction) {
	n := in.X[0]
	var src uint32
	switch in.Source() {
	case isa.SourceImmediate:
		vm.pushValue(in.Op, n, in.Immediate())
		return
	case isa.SourceZero:
		if b, ok := vm.push(in.Op, n); ok {
			clear(b)
		}
		return
	case isa.SourceGlobal:
		src = in.X[1]
	case isa.SourceLocal:
		src = vm.local(in.X[1])
	case isa.SourceIndirect:
		addr, ok := vm.popU32(in.Op)
		if !ok {
			return
		}
		src = addr
	}
	if err := checkRange(vm.mem, src, n); err != nil {
		vm.failErr(in.Op, err)
		return
	}
	// The source may overlap the bytes about to be pushed.
	data := append([]byte(nil), vm.mem[src:src+n]...)
	if b, ok := vm.push(in.Op, n); ok {
		copy(b, data)
	}
}

func (vm *VM) store(in isa.Instruction) {
	n := in.X[0]
	sp := vm.sp
	var dst uint32
	switch in.Source() {
	case isa.SourceGlobal:
		dst = in.X[1]
	case isa.SourceLocal:
		dst = vm.local(in.X[1])
	case isa.SourceIndirect:
		addr, ok := vm.popU32(in.Op)
		if !ok {
			return
		}
		dst = addr
	}
	b, ok := vm.peek(in.Op, n)
	if !ok {
		return
	}
	if err := checkRange(vm.mem, dst, n); err != nil {
		vm.sp = sp
		vm.failErr(in.Op, err)
		return
	}
	copy(vm.mem[dst:dst+n], b)
	if isa.StoreMode(in.P1) == isa.StorePop {
		vm.sp += n
	}
}

func (vm *VM) binary(in isa.Instruction) {
	k := in.Kind()
	right, ok := vm.popValue(in.Op, k, in.X[1])
	if !ok {
		return
	}
	left, ok := vm.popValue(in.Op, k, in.X[0])
	if !ok {
		return
	}

	var r uint64
	switch {
	case k == isa.KindReal:
		a, b := fixed.FromRaw(int64(left)), fixed.FromRaw(int64(right))
		var v fixed.Fixed
		switch in.Op {
		case isa.OpAdd:
			v = a.Add(b)
		case isa.OpSub:
			v = a.Sub(b)
		case isa.OpMul:
			v = a.Mul(b)
		case isa.OpDiv:
			var err error
			if v, err = a.Div(b); err != nil {
				if errors.Is(err, fixed.ErrDivisionByZero) {
					vm.fail(CodeDivisionByZero, in.Op, "%s / %s", a, b)
				} else {
					vm.fail(CodeArithmetic, in.Op, "%s / %s: %v", a, b, err)
				}
				return
			}
		}
		r = uint64(v.Raw())

	case k == isa.KindBoolean:
		a, b := left != 0, right != 0
		var v bool
		switch in.Op {
		case isa.OpAnd:
			v = a && b
		case isa.OpOr:
			v = a || b
		case isa.OpXor:
			v = a != b
		}
		r = boolBits(v)

	default:
		var err bool
		r, err = integerOp(in.Op, k.Signed(), left, right)
		if err {
			vm.fail(CodeDivisionByZero, in.Op, "%s by zero", in.Op)
			return
		}
	}
	vm.pushValue(in.Op, in.X[2], r)
}

// integerOp applies op to two widened integers. The second result reports a
// zero divisor.
func integerOp(op isa.Opcode, signed bool, a, b uint64) (uint64, bool) {
	switch op {
	case isa.OpAdd:
		return a + b, false
	case isa.OpSub:
		return a - b, false
	case isa.OpMul:
		return a * b, false
	case isa.OpDiv, isa.OpMod:
		if b == 0 {
			return 0, true
		}
		if signed {
			if op == isa.OpDiv {
				return uint64(int64(a) / int64(b)), false
			}
			return uint64(int64(a) % int64(b)), false
		}
		if op == isa.OpDiv {
			return a / b, false
		}
		return a % b, false
	case isa.OpAnd:
		return a & b, false
	case isa.OpOr:
		return a | b, false
	case isa.OpXor:
		return a ^ b, false
	case isa.OpShl:
		return a << (b & 63), false
	case isa.OpShr:
		if signed {
			return uint64(int64(a) >> (b & 63)), false
		}
		return a >> (b & 63), false
	}
	return 0, false
}

func (vm *VM) unary(in isa.Instruction) {
	k := in.Kind()
	v, ok := vm.popValue(in.Op, k, in.X[0])
	if !ok {
		return
	}
	var r uint64
	switch {
	case in.Op == isa.OpNeg && k == isa.KindReal:
		r = uint64(fixed.FromRaw(int64(v)).Neg().Raw())
	case in.Op == isa.OpNeg:
		r = -v
	case k == isa.KindBoolean:
		r = boolBits(v == 0)
	default:
		r = ^v
	}
	vm.pushValue(in.Op, in.X[2], r)
}

func (vm *VM) compare(in isa.Instruction) {
	k := in.Kind()
	right, ok := vm.popValue(in.Op, k, in.X[1])
	if !ok {
		return
	}
	left, ok := vm.popValue(in.Op, k, in.X[0])
	if !ok {
		return
	}

	var c int
	switch {
	case k == isa.KindBoolean:
		if (left != 0) != (right != 0) {
			c = 1
		}
	case k.Signed():
		c = cmp3(int64(left) < int64(right), int64(left) > int64(right))
	default:
		c = cmp3(left < right, left > right)
	}

	var v bool
	switch isa.Comparator(in.P1) {
	case isa.CmpEQ:
		v = c == 0
	case isa.CmpNE:
		v = c != 0
	case isa.CmpLT:
		v = c < 0
	case isa.CmpLE:
		v = c <= 0
	case isa.CmpGT:
		v = c > 0
	case isa.CmpGE:
		v = c >= 0
	}
	vm.pushValue(in.Op, 1, boolBits(v))
}

func cmp3(lt, gt bool) int {
	switch {
	case lt:
		return -1
	case gt:
		return 1
	default:
		return 0
	}
}

func (vm *VM) cast(in isa.Instruction) {
	from, to := isa.Kind(in.P0), isa.Kind(in.P1)
	v, ok := vm.popValue(in.Op, from, in.X[0])
	if !ok {
		return
	}

	// Normalize to a 64-bit integer or a raw fixed value first.
	switch {
	case to == isa.KindBoolean:
		v = boolBits(v != 0)
	case from == isa.KindReal && to != isa.KindReal:
		v = uint64(fixed.FromRaw(int64(v)).Int())
	case from != isa.KindReal && to == isa.KindReal:
		if from == isa.KindBoolean {
			v = boolBits(v != 0)
		}
		v = uint64(fixed.FromInt(int64(v)).Raw())
	case from == isa.KindBoolean:
		v = boolBits(v != 0)
	}
	vm.pushValue(in.Op, in.X[1], v)
}

func (vm *VM) callNative(in isa.Instruction) {
	name, err := ReadString(vm.mem, in.X[0])
	if err != nil {
		vm.failErr(in.Op, err)
		return
	}
	fn, ok := vm.natives[name]
	if !ok {
		vm.fail(CodeUnknownNative, in.Op, "%q", name)
		return
	}
	if err := fn(vm.mem, vm.sp); err != nil {
		vm.failErr(in.Op, err)
		return
	}
	vm.pop(in.Op, in.X[1])
}

func (vm *VM) leave(in isa.Instruction) (uint32, bool) {
	if uint64(vm.sp)+uint64(in.X[0]) != uint64(vm.fp) {
		vm.fail(CodeFrameMismatch, in.Op, "sp=%04X + %d != fp=%04X", vm.sp, in.X[0], vm.fp)
		return 0, false
	}
	vm.sp = vm.fp
	fp, ok := vm.popU32(in.Op)
	if !ok {
		return 0, false
	}
	ret, ok := vm.popU32(in.Op)
	if !ok {
		return 0, false
	}
	vm.fp = fp
	return ret, false
}

func boolBits(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
