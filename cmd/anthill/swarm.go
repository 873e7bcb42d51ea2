package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/chazu/anthill/lib/natives"
	"github.com/chazu/anthill/manifest"
	"github.com/chazu/anthill/pkg/module"
	"github.com/chazu/anthill/store"
	"github.com/chazu/anthill/swarm"
	"github.com/chazu/anthill/vm"
)

// loadManifest finds anthill.toml from dir upward. Without one, an empty
// manifest with every default is returned.
func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}
	m, err = manifest.Parse(nil)
	if err != nil {
		return nil, err
	}
	m.Dir = dir
	return m, nil
}

// loadProgram reads the program named on the command line, or else the one
// the manifest names.
func loadProgram(m *manifest.Manifest, file, stored string) (*module.Program, error) {
	switch {
	case file != "":
		return module.ReadFile(file)
	case stored != "":
		return loadStored(m.StorePath(), stored)
	case m.Swarm.Program != "":
		return module.ReadFile(m.ProgramPath())
	case m.Swarm.Stored != "":
		return loadStored(m.StorePath(), m.Swarm.Stored)
	default:
		return nil, errors.New("no program: pass --program or --stored, or set one in anthill.toml")
	}
}

func openStore(path string) (*store.Store, error) {
	if path == "" {
		var err error
		if path, err = store.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

func loadStored(path, name string) (*module.Program, error) {
	s, err := openStore(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Get(name)
}

// checkLock verifies p against the lock file, or writes the lock file when
// there is none yet.
func checkLock(m *manifest.Manifest, p *module.Program) error {
	lf, err := manifest.ReadLock(m.LockFilePath())
	if err != nil {
		return err
	}
	if lf == nil {
		return manifest.WriteLock(m.LockFilePath(), manifest.LockProgram(p))
	}
	return lf.Verify(p)
}

// selectNatives narrows table to names. A nil list keeps everything.
func selectNatives(table vm.Natives, names []string) (vm.Natives, error) {
	if names == nil {
		return table, nil
	}
	out := make(vm.Natives, len(names))
	for _, name := range names {
		fn, ok := table[name]
		if !ok {
			return nil, fmt.Errorf("unknown native %q", name)
		}
		out[name] = fn
	}
	return out, nil
}

// executorNames returns the executors to create: the manifest's when it
// configures any, otherwise one per program target.
func executorNames(m *manifest.Manifest, p *module.Program) []string {
	if len(m.Executors) > 0 {
		return m.ExecutorNames()
	}
	names := p.Executors()
	sort.Strings(names)
	return names
}

// newRuntime registers one executor per configured name, each with the VM
// settings the manifest resolves for it.
func newRuntime(m *manifest.Manifest, p *module.Program, out io.Writer, maxTicks uint64) (*swarm.Runtime, error) {
	if out == nil {
		out = os.Stdout
	}
	std := natives.Standard(out)

	rt := swarm.NewRuntime()
	for _, name := range executorNames(m, p) {
		s, err := m.Settings(name)
		if err != nil {
			return nil, fmt.Errorf("executor %s: %w", name, err)
		}
		table, err := selectNatives(std, s.Natives)
		if err != nil {
			return nil, fmt.Errorf("executor %s: %w", name, err)
		}
		e := swarm.NewExecutor(name,
			swarm.WithCadence(s.Cadence),
			swarm.WithMaxTicks(maxTicks),
			swarm.WithVMOptions(
				vm.WithMemorySize(s.Memory),
				vm.WithStackSize(s.Stack),
				vm.WithStepBudget(s.Budget),
				vm.WithTrace(s.Trace),
				vm.WithNatives(table),
			),
		)
		if err := rt.Register(e); err != nil {
			return nil, err
		}
	}
	return rt, nil
}
