package module

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// FileExtension is the conventional suffix of an encoded program.
const FileExtension = ".antp"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("module: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a Program to canonical CBOR.
func Marshal(p *Program) ([]byte, error) {
	return cborEncMode.Marshal(p)
}

// Unmarshal deserializes a Program from CBOR.
func Unmarshal(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("module: unmarshal program: %w", err)
	}
	if p.Targets == nil {
		p.Targets = make(map[string][]*CompiledModule)
	}
	return &p, nil
}

// MarshalModule serializes a single CompiledModule.
func MarshalModule(m *CompiledModule) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

// UnmarshalModule deserializes a single CompiledModule.
func UnmarshalModule(data []byte) (*CompiledModule, error) {
	var m CompiledModule
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("module: unmarshal module: %w", err)
	}
	return &m, nil
}

// ReadFile loads and validates a program file.
func ReadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	p, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// WriteFile encodes a program to path.
func WriteFile(path string, p *Program) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
