// Package fixed implements the deterministic fixed-point number used for REAL
// values. A Fixed is a signed Q31.32 value stored in an int64: the upper 32
// bits hold the integer part and the lower 32 bits the fraction. All
// arithmetic is integer arithmetic, so results are identical on every
// platform.
package fixed

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/cockroachdb/apd/v3"
)

// FractionBits is the number of fractional bits in a Fixed.
const FractionBits = 32

// Size is the width of a Fixed in bytes.
const Size = 8

// Fixed is a Q31.32 fixed-point number.
type Fixed int64

const (
	Zero Fixed = 0
	One  Fixed = 1 << FractionBits
	Max  Fixed = math.MaxInt64
	Min  Fixed = math.MinInt64
)

var (
	ErrDivisionByZero = errors.New("fixed: division by zero")
	ErrOverflow       = errors.New("fixed: overflow")
	ErrSyntax         = errors.New("fixed: invalid syntax")
)

// FromRaw reinterprets a raw 64-bit pattern as a Fixed.
func FromRaw(raw int64) Fixed { return Fixed(raw) }

// Raw returns the underlying 64-bit pattern.
func (f Fixed) Raw() int64 { return int64(f) }

// FromInt converts an integer. Values outside the 32-bit integer range wrap.
func FromInt(i int64) Fixed { return Fixed(i << FractionBits) }

// Int returns the integer part, truncating toward zero.
func (f Fixed) Int() int64 { return int64(f) / int64(One) }

// Words splits the raw value into the low and high 32-bit words used by
// immediate instruction operands.
func (f Fixed) Words() (lo, hi uint32) {
	u := uint64(f)
	return uint32(u), uint32(u >> 32)
}

// FromWords is the inverse of Words.
func FromWords(lo, hi uint32) Fixed {
	return Fixed(int64(uint64(hi)<<32 | uint64(lo)))
}

func (f Fixed) Add(g Fixed) Fixed { return f + g }
func (f Fixed) Sub(g Fixed) Fixed { return f - g }
func (f Fixed) Neg() Fixed        { return -f }

// Mul multiplies using a 128-bit intermediate and truncates the result toward
// zero. The high bits of an overflowing product are discarded.
func (f Fixed) Mul(g Fixed) Fixed {
	neg := (f < 0) != (g < 0)
	hi, lo := bits.Mul64(abs(f), abs(g))
	r := Fixed(hi<<(64-FractionBits) | lo>>FractionBits)
	if neg {
		return -r
	}
	return r
}

// Div divides f by g, truncating toward zero.
func (f Fixed) Div(g Fixed) (Fixed, error) {
	if g == 0 {
		return 0, ErrDivisionByZero
	}
	neg := (f < 0) != (g < 0)
	a, b := abs(f), abs(g)
	hi, lo := a>>(64-FractionBits), a<<FractionBits
	if hi >= b {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, b)
	if q > uint64(math.MaxInt64) && !(neg && q == 1<<63) {
		return 0, ErrOverflow
	}
	if neg {
		return Fixed(-int64(q)), nil
	}
	return Fixed(q), nil
}

// Cmp returns -1, 0 or +1.
func (f Fixed) Cmp(g Fixed) int {
	switch {
	case f < g:
		return -1
	case f > g:
		return 1
	default:
		return 0
	}
}

func abs(f Fixed) uint64 {
	if f < 0 {
		return uint64(-f)
	}
	return uint64(f)
}

var (
	scale    = apd.New(int64(One), 0)
	decimals = apd.BaseContext.WithPrecision(64)
)

// Parse converts a decimal literal such as "-3.25" to the nearest Fixed.
func Parse(s string) (Fixed, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if d.Form != apd.Finite {
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if _, err := decimals.Mul(d, d, scale); err != nil {
		return 0, err
	}
	if _, err := decimals.RoundToIntegralValue(d, d); err != nil {
		return 0, err
	}
	raw, err := d.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return Fixed(raw), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Fixed {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return f
}

// String renders the value in decimal, rounded to nine fractional digits
// with trailing zeros removed.
func (f Fixed) String() string {
	d := apd.New(int64(f), 0)
	if _, err := decimals.Quo(d, d, scale); err != nil {
		return fmt.Sprintf("Fixed(%d)", int64(f))
	}
	if _, err := decimals.Quantize(d, d, -9); err != nil {
		return fmt.Sprintf("Fixed(%d)", int64(f))
	}
	d.Reduce(d)
	if d.IsZero() {
		d.Negative = false
	}
	return d.Text('f')
}
