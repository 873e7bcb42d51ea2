package vm

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/chazu/anthill/pkg/fixed"
)

// StringHeaderSize is the length and capacity words in front of a string's
// UTF-16 code units.
const StringHeaderSize = 8

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func inBounds(mem []byte, addr, n uint32) bool {
	return uint64(addr)+uint64(n) <= uint64(len(mem))
}

func checkRange(mem []byte, addr, n uint32) error {
	if !inBounds(mem, addr, n) {
		return fmt.Errorf("%w: %d bytes at %04X (memory is %d bytes)", ErrOutOfBounds, n, addr, len(mem))
	}
	return nil
}

// ReadU32 reads a little-endian uint32 at addr.
func ReadU32(mem []byte, addr uint32) (uint32, error) {
	if err := checkRange(mem, addr, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(mem[addr:]), nil
}

// ReadI64 reads a little-endian int64 at addr.
func ReadI64(mem []byte, addr uint32) (int64, error) {
	if err := checkRange(mem, addr, 8); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(mem[addr:])), nil
}

// ReadFixed reads a REAL at addr.
func ReadFixed(mem []byte, addr uint32) (fixed.Fixed, error) {
	v, err := ReadI64(mem, addr)
	return fixed.FromRaw(v), err
}

// ReadBool reads a one-byte boolean at addr.
func ReadBool(mem []byte, addr uint32) (bool, error) {
	if err := checkRange(mem, addr, 1); err != nil {
		return false, err
	}
	return mem[addr] != 0, nil
}

// WriteU32 writes a little-endian uint32 at addr.
func WriteU32(mem []byte, addr, v uint32) error {
	if err := checkRange(mem, addr, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(mem[addr:], v)
	return nil
}

// WriteI64 writes a little-endian int64 at addr.
func WriteI64(mem []byte, addr uint32, v int64) error {
	if err := checkRange(mem, addr, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(mem[addr:], uint64(v))
	return nil
}

// ReadString decodes the length-prefixed UTF-16LE block at addr.
func ReadString(mem []byte, addr uint32) (string, error) {
	if !inBounds(mem, addr, StringHeaderSize) {
		return "", fmt.Errorf("%w: header at %04X outside memory", ErrMalformedString, addr)
	}
	n := binary.LittleEndian.Uint32(mem[addr:])
	capacity := binary.LittleEndian.Uint32(mem[addr+4:])
	if capacity < n {
		return "", fmt.Errorf("%w: length %d exceeds capacity %d at %04X", ErrMalformedString, n, capacity, addr)
	}
	start := uint64(addr) + StringHeaderSize
	end := start + uint64(n)*2
	if end > uint64(len(mem)) {
		return "", fmt.Errorf("%w: %d units at %04X run past memory", ErrMalformedString, n, addr)
	}
	out, err := utf16le.NewDecoder().Bytes(mem[start:end])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedString, err)
	}
	return string(out), nil
}

// ReadStringArg reads a string whose address is the u32 at addr, which is
// how string arguments are passed on the stack.
func ReadStringArg(mem []byte, addr uint32) (string, error) {
	ptr, err := ReadU32(mem, addr)
	if err != nil {
		return "", err
	}
	return ReadString(mem, ptr)
}

// extend widens the little-endian bytes b to 64 bits.
func extend(b []byte, signed bool) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	if signed && len(b) < 8 && len(b) > 0 && b[len(b)-1]&0x80 != 0 {
		v |= ^uint64(0) << (8 * uint(len(b)))
	}
	return v
}

// narrow writes the low n bytes of v into dst.
func narrow(dst []byte, v uint64) {
	for i := range dst {
		dst[i] = byte(v)
		v >>= 8
	}
}
