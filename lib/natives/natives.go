// Package natives provides the host routines programs can CALL by name.
//
// Every routine reads its arguments upward from the stack pointer it is
// given. A string argument is the u32 address of a pool entry; numbers are
// passed in their natural width.
package natives

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/anthill/vm"
)

var log = commonlog.GetLogger("anthill.natives")

// Routine names as they appear in the string pool.
const (
	Print     = "print"
	Println   = "println"
	PrintInt  = "print_int"
	PrintReal = "print_real"
	PrintBool = "print_bool"
	Log       = "log"
)

// Argument bytes to pop after each kind of routine returns.
const (
	ArgsString = 4
	ArgsInt    = 8
	ArgsReal   = 8
	ArgsBool   = 1
)

// Standard returns the default table writing to out. Writes are serialized,
// so one writer may be shared by every ant in a process.
func Standard(out io.Writer) vm.Natives {
	w := &writer{out: out}
	return vm.Natives{
		Print:     w.str(""),
		Println:   w.str("\n"),
		PrintInt:  w.integer,
		PrintReal: w.real,
		PrintBool: w.boolean,
		Log:       logString,
	}
}

// Merge returns a table holding the routines of every table, later tables
// overriding earlier ones.
func Merge(tables ...vm.Natives) vm.Natives {
	out := make(vm.Natives)
	for _, t := range tables {
		for name, fn := range t {
			out[name] = fn
		}
	}
	return out
}

type writer struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *writer) write(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := io.WriteString(w.out, s)
	return err
}

func (w *writer) str(suffix string) vm.Native {
	return func(mem []byte, sp uint32) error {
		s, err := vm.ReadStringArg(mem, sp)
		if err != nil {
			return err
		}
		return w.write(s + suffix)
	}
}

func (w *writer) integer(mem []byte, sp uint32) error {
	v, err := vm.ReadI64(mem, sp)
	if err != nil {
		return err
	}
	return w.write(strconv.FormatInt(v, 10))
}

func (w *writer) real(mem []byte, sp uint32) error {
	v, err := vm.ReadFixed(mem, sp)
	if err != nil {
		return err
	}
	return w.write(v.String())
}

func (w *writer) boolean(mem []byte, sp uint32) error {
	v, err := vm.ReadBool(mem, sp)
	if err != nil {
		return err
	}
	return w.write(strconv.FormatBool(v))
}

func logString(mem []byte, sp uint32) error {
	s, err := vm.ReadStringArg(mem, sp)
	if err != nil {
		return err
	}
	log.Info(s)
	return nil
}

// Recorder collects the arguments of every call to the routines it
// provides. Tests use it in place of Standard.
type Recorder struct {
	mu    sync.Mutex
	Calls []string
}

// Natives returns a table where each named routine records its string
// argument as "name:value".
func (r *Recorder) Natives(names ...string) vm.Natives {
	t := make(vm.Natives, len(names))
	for _, name := range names {
		name := name
		t[name] = func(mem []byte, sp uint32) error {
			s, err := vm.ReadStringArg(mem, sp)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			r.mu.Lock()
			r.Calls = append(r.Calls, name+":"+s)
			r.mu.Unlock()
			return nil
		}
	}
	return t
}
