// Package module defines the artifact the front end hands to the runtime:
// per target executor, an ordered list of compiled modules, each carrying
// its bytecode image and the bindings that feed it.
package module

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNoExecutor  = errors.New("module has no executor name")
	ErrEmptyImage  = errors.New("module has no bytecode")
	ErrBadBinding  = errors.New("invalid binding")
	ErrUnknownName = errors.New("unknown executor")
	ErrCodeSize    = errors.New("invalid code size")
)

// Source identifies a byte range in another ant: the executor that owns it,
// the position of its module in that executor's list, and an absolute
// address in that ant's memory.
type Source struct {
	Executor string `cbor:"1,keyasint"`
	Module   int    `cbor:"2,keyasint"`
	Address  uint32 `cbor:"3,keyasint"`
}

// Binding describes one continuous byte range copied into a module's memory
// every tick.
type Binding struct {
	Source      Source `cbor:"1,keyasint"`
	Destination uint32 `cbor:"2,keyasint"`
	Size        uint32 `cbor:"3,keyasint"`
}

func (b Binding) String() string {
	return fmt.Sprintf("%s[%d]@%04X -> %04X (%d bytes)",
		b.Source.Executor, b.Source.Module, b.Source.Address, b.Destination, b.Size)
}

// Validate checks the parts of a binding that do not depend on memory size.
func (b Binding) Validate() error {
	switch {
	case b.Source.Executor == "":
		return fmt.Errorf("%w: no source executor", ErrBadBinding)
	case b.Source.Module < 0:
		return fmt.Errorf("%w: negative module index %d", ErrBadBinding, b.Source.Module)
	case b.Size == 0:
		return fmt.Errorf("%w: zero size", ErrBadBinding)
	case uint64(b.Source.Address)+uint64(b.Size) > 1<<32,
		uint64(b.Destination)+uint64(b.Size) > 1<<32:
		return fmt.Errorf("%w: range overflows address space", ErrBadBinding)
	}
	return nil
}

// CompiledModule is one unit of bytecode targeting an executor.
type CompiledModule struct {
	Name     string    `cbor:"1,keyasint,omitempty"`
	Executor string    `cbor:"2,keyasint"`
	Bytecode []byte    `cbor:"3,keyasint"`
	Bindings []Binding `cbor:"4,keyasint,omitempty"`
	// CodeSize is the length of the instruction segment at the start of
	// Bytecode; the string pool follows it. Zero means the whole image is
	// code.
	CodeSize uint32 `cbor:"5,keyasint,omitempty"`
}

// Validate checks the module and its bindings.
func (m *CompiledModule) Validate() error {
	if m.Executor == "" {
		return ErrNoExecutor
	}
	if len(m.Bytecode) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyImage, m.Label())
	}
	if m.CodeSize > uint32(len(m.Bytecode)) {
		return fmt.Errorf("%w: %s: code size %d exceeds image of %d bytes", ErrCodeSize, m.Label(), m.CodeSize, len(m.Bytecode))
	}
	for i, b := range m.Bindings {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s binding %d: %w", m.Label(), i, err)
		}
	}
	return nil
}

// Digest returns the SHA-256 of the bytecode image.
func (m *CompiledModule) Digest() [32]byte {
	return sha256.Sum256(m.Bytecode)
}

// Label is a human-readable name for logs.
func (m *CompiledModule) Label() string {
	if m.Name != "" {
		return m.Executor + "/" + m.Name
	}
	return m.Executor + "/<anonymous>"
}

// Program is the complete front-end output.
type Program struct {
	Name    string                       `cbor:"1,keyasint,omitempty"`
	Targets map[string][]*CompiledModule `cbor:"2,keyasint"`
}

// NewProgram creates an empty program.
func NewProgram(name string) *Program {
	return &Program{Name: name, Targets: make(map[string][]*CompiledModule)}
}

// Add appends a module to its executor's list and returns its index there.
func (p *Program) Add(m *CompiledModule) int {
	if p.Targets == nil {
		p.Targets = make(map[string][]*CompiledModule)
	}
	p.Targets[m.Executor] = append(p.Targets[m.Executor], m)
	return len(p.Targets[m.Executor]) - 1
}

// Executors returns the target executor names in sorted order.
func (p *Program) Executors() []string {
	names := make([]string, 0, len(p.Targets))
	for name := range p.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Modules returns the ordered module list for an executor.
func (p *Program) Modules(executor string) []*CompiledModule {
	return p.Targets[executor]
}

// Validate checks every module and that every binding names an executor
// targeted by the program.
func (p *Program) Validate() error {
	for _, name := range p.Executors() {
		for i, m := range p.Targets[name] {
			if m.Executor != name {
				return fmt.Errorf("%s module %d: executor %q does not match target", name, i, m.Executor)
			}
			if err := m.Validate(); err != nil {
				return err
			}
		}
	}
	for _, name := range p.Executors() {
		for _, m := range p.Targets[name] {
			for _, b := range m.Bindings {
				if _, ok := p.Targets[b.Source.Executor]; !ok {
					return fmt.Errorf("%s: binding %s: %w %q", m.Label(), b, ErrUnknownName, b.Source.Executor)
				}
			}
		}
	}
	return nil
}
