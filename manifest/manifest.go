// Package manifest handles anthill.toml swarm configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "anthill.toml"

// Defaults applied to fields left out of both [defaults] and an executor's
// own table.
const (
	DefaultCadence = "100ms"
	DefaultMemory  = 64 * 1024
	DefaultStack   = 16 * 1024
)

var ErrInvalid = errors.New("invalid manifest")

// Manifest represents an anthill.toml swarm configuration.
type Manifest struct {
	Swarm     Swarm               `toml:"swarm"`
	Defaults  Executor            `toml:"defaults"`
	Executors map[string]Executor `toml:"executors"`

	// Dir is the directory containing the anthill.toml file (set at load time).
	Dir string `toml:"-"`
}

// Swarm names the program to launch. Program is a .antp file relative to
// the manifest; Stored names a program in the SQLite store at Store instead.
type Swarm struct {
	Name    string `toml:"name"`
	Program string `toml:"program"`
	Stored  string `toml:"stored"`
	Store   string `toml:"store"`
	Lock    string `toml:"lock"`
}

// Executor is one [executors.<name>] table, or [defaults]. Zero fields
// inherit.
type Executor struct {
	Cadence string   `toml:"cadence"`
	Memory  uint32   `toml:"memory"`
	Stack   uint32   `toml:"stack"`
	Budget  uint64   `toml:"budget"`
	Trace   *bool    `toml:"trace"`
	Natives []string `toml:"natives"`
}

// Settings are the resolved parameters of one executor.
type Settings struct {
	Name    string
	Cadence time.Duration
	Memory  uint32
	Stack   uint32
	Budget  uint64
	Trace   bool
	Natives []string
}

// Load parses an anthill.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest text. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}

	// Defaults
	if m.Defaults.Cadence == "" {
		m.Defaults.Cadence = DefaultCadence
	}
	if m.Defaults.Memory == 0 {
		m.Defaults.Memory = DefaultMemory
	}
	if m.Defaults.Stack == 0 {
		m.Defaults.Stack = DefaultStack
	}
	if m.Executors == nil {
		m.Executors = make(map[string]Executor)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an anthill.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks the program source and every executor's settings.
func (m *Manifest) Validate() error {
	if m.Swarm.Program != "" && m.Swarm.Stored != "" {
		return fmt.Errorf("%w: swarm sets both program and stored", ErrInvalid)
	}
	if _, err := m.Settings(""); err != nil {
		return fmt.Errorf("[defaults]: %w", err)
	}
	for _, name := range m.ExecutorNames() {
		if err := CheckName(name); err != nil {
			return err
		}
		if _, err := m.Settings(name); err != nil {
			return fmt.Errorf("[executors.%s]: %w", name, err)
		}
	}
	return nil
}

// ExecutorNames returns the configured executors in sorted order.
func (m *Manifest) ExecutorNames() []string {
	names := make([]string, 0, len(m.Executors))
	for name := range m.Executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Settings resolves the executor called name over [defaults]. An empty or
// unconfigured name yields the defaults alone.
func (m *Manifest) Settings(name string) (Settings, error) {
	e := m.Executors[name]
	s := Settings{
		Name:    name,
		Memory:  m.Defaults.Memory,
		Stack:   m.Defaults.Stack,
		Budget:  m.Defaults.Budget,
		Natives: m.Defaults.Natives,
	}
	if m.Defaults.Trace != nil {
		s.Trace = *m.Defaults.Trace
	}

	cadence := m.Defaults.Cadence
	if e.Cadence != "" {
		cadence = e.Cadence
	}
	if e.Memory != 0 {
		s.Memory = e.Memory
	}
	if e.Stack != 0 {
		s.Stack = e.Stack
	}
	if e.Budget != 0 {
		s.Budget = e.Budget
	}
	if e.Trace != nil {
		s.Trace = *e.Trace
	}
	if e.Natives != nil {
		s.Natives = e.Natives
	}

	d, err := time.ParseDuration(cadence)
	if err != nil {
		return s, fmt.Errorf("%w: cadence: %v", ErrInvalid, err)
	}
	if d <= 0 {
		return s, fmt.Errorf("%w: cadence %s must be positive", ErrInvalid, d)
	}
	s.Cadence = d

	if s.Memory == 0 {
		return s, fmt.Errorf("%w: memory must be positive", ErrInvalid)
	}
	if s.Stack >= s.Memory {
		return s, fmt.Errorf("%w: stack %d must be smaller than memory %d", ErrInvalid, s.Stack, s.Memory)
	}
	return s, nil
}

// ProgramPath returns the absolute path of the program file, or "" when the
// manifest names a stored program.
func (m *Manifest) ProgramPath() string {
	return m.resolve(m.Swarm.Program)
}

// StorePath returns the absolute path of the program store, or "" for the
// default store.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Swarm.Store)
}

// LockFilePath returns the path of the lock file, anthill.lock by default.
func (m *Manifest) LockFilePath() string {
	if m.Swarm.Lock != "" {
		return m.resolve(m.Swarm.Lock)
	}
	return filepath.Join(m.Dir, "anthill.lock")
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
