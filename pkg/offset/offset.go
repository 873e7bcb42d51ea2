// Package offset provides the lazily resolved integers used to relocate
// instructions. An Offset is either known now (Fixed, Zero), known once a
// later layout decision is made (Deferred), or composed from two others
// (Sum).
package offset

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	// ErrUnresolved is returned when a Deferred offset is read before it was
	// set.
	ErrUnresolved = errors.New("offset: read before set")
	// ErrAlreadySet is the panic value of a second Set on a Deferred offset.
	ErrAlreadySet = errors.New("offset: already set")
	// ErrOverflow is returned when a Sum leaves the 32-bit address space.
	ErrOverflow = errors.New("offset: overflow")
)

// Offset is an integer that may not be known yet.
type Offset interface {
	Resolve() (uint32, error)
	String() string
}

// Fixed is an offset whose value is known at construction.
type Fixed uint32

func (f Fixed) Resolve() (uint32, error) { return uint32(f), nil }

func (f Fixed) String() string { return strconv.FormatUint(uint64(f), 10) }

type zero struct{}

func (zero) Resolve() (uint32, error) { return 0, nil }
func (zero) String() string           { return "0" }

// Zero is the identity element for optional address components.
var Zero Offset = zero{}

// Deferred is a single-assignment cell. It starts unset, can be handed out as
// a forward reference, and must be set exactly once before it is resolved.
type Deferred struct {
	name  string
	value uint32
	set   bool
}

// NewDeferred returns an unset offset. The name is only used in error
// messages.
func NewDeferred(name string) *Deferred {
	return &Deferred{name: name}
}

// Set assigns the value. Setting twice is a programming error and panics.
func (d *Deferred) Set(v uint32) {
	if d.set {
		panic(fmt.Errorf("%w: %s (=%d, new %d)", ErrAlreadySet, d.label(), d.value, v))
	}
	d.value = v
	d.set = true
}

// IsSet reports whether Set has been called.
func (d *Deferred) IsSet() bool { return d.set }

// Resolve returns the value, or ErrUnresolved if it has not been set.
func (d *Deferred) Resolve() (uint32, error) {
	if !d.set {
		return 0, fmt.Errorf("%w: %s", ErrUnresolved, d.label())
	}
	return d.value, nil
}

func (d *Deferred) String() string {
	if !d.set {
		return d.label() + "=?"
	}
	return strconv.FormatUint(uint64(d.value), 10)
}

func (d *Deferred) label() string {
	if d.name == "" {
		return "deferred"
	}
	return d.name
}

// MustResolve resolves o and panics on failure.
func MustResolve(o Offset) uint32 {
	v, err := o.Resolve()
	if err != nil {
		panic(err)
	}
	return v
}

type sum struct {
	a, b Offset
}

// Sum composes two offsets, typically a segment start and an address within
// that segment. A nil operand counts as Zero.
func Sum(a, b Offset) Offset {
	if a == nil || a == Zero {
		return orZero(b)
	}
	if b == nil || b == Zero {
		return a
	}
	return sum{a, b}
}

func orZero(o Offset) Offset {
	if o == nil {
		return Zero
	}
	return o
}

func (s sum) Resolve() (uint32, error) {
	a, err := s.a.Resolve()
	if err != nil {
		return 0, err
	}
	b, err := s.b.Resolve()
	if err != nil {
		return 0, err
	}
	if uint64(a)+uint64(b) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d+%d", ErrOverflow, a, b)
	}
	return a + b, nil
}

func (s sum) String() string { return s.a.String() + "+" + s.b.String() }
