package manifest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/anthill/pkg/module"
)

var ErrLockMismatch = errors.New("program does not match lock file")

// LockFile pins the exact images a swarm was launched with.
type LockFile struct {
	Program string         `toml:"program"`
	Modules []LockedModule `toml:"module"`
}

// LockedModule records one module by position and image digest.
type LockedModule struct {
	Executor string `toml:"executor"`
	Index    int    `toml:"index"`
	Name     string `toml:"name,omitempty"`
	Digest   string `toml:"digest"`
}

// LockProgram builds the lock for p, modules ordered by executor name and
// then position.
func LockProgram(p *module.Program) *LockFile {
	lf := &LockFile{Program: p.Name}
	for _, executor := range p.Executors() {
		for i, m := range p.Modules(executor) {
			d := m.Digest()
			lf.Modules = append(lf.Modules, LockedModule{
				Executor: executor,
				Index:    i,
				Name:     m.Name,
				Digest:   hex.EncodeToString(d[:]),
			})
		}
	}
	return lf
}

// Verify checks that p has exactly the locked modules.
func (lf *LockFile) Verify(p *module.Program) error {
	got := LockProgram(p)
	if len(got.Modules) != len(lf.Modules) {
		return fmt.Errorf("%w: %d modules, lock has %d", ErrLockMismatch, len(got.Modules), len(lf.Modules))
	}
	for i, want := range lf.Modules {
		have := got.Modules[i]
		if have.Executor != want.Executor || have.Index != want.Index {
			return fmt.Errorf("%w: module %d is %s[%d], lock has %s[%d]",
				ErrLockMismatch, i, have.Executor, have.Index, want.Executor, want.Index)
		}
		if have.Digest != want.Digest {
			return fmt.Errorf("%w: %s[%d] digest changed", ErrLockMismatch, want.Executor, want.Index)
		}
	}
	return nil
}

// FindLockedModule returns the lock entry for executor's module at index,
// or nil.
func (lf *LockFile) FindLockedModule(executor string, index int) *LockedModule {
	for i := range lf.Modules {
		if lf.Modules[i].Executor == executor && lf.Modules[i].Index == index {
			return &lf.Modules[i]
		}
	}
	return nil
}

// ReadLock reads a lock file. A missing file yields nil, nil.
func ReadLock(path string) (*LockFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var lf LockFile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return &lf, nil
}

// WriteLock writes lf to path, creating the directory if needed.
func WriteLock(path string, lf *LockFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("# Generated by anthill. Do not edit.\n\n")
	if err := toml.NewEncoder(&buf).Encode(lf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
