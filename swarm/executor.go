package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/anthill/pkg/module"
	"github.com/chazu/anthill/vm"
)

// DefaultCadence is the tick period of an executor created without
// WithCadence.
const DefaultCadence = 100 * time.Millisecond

var (
	ErrNotRegistered = errors.New("executor is not registered with a runtime")
	ErrWrongExecutor = errors.New("module targets another executor")
)

// Executor is a named periodic loop that owns a set of ants and ticks them
// in registration order.
type Executor struct {
	name     string
	cadence  time.Duration
	vmOpts   []vm.Option
	init     func(context.Context, *Executor) error
	maxTicks uint64

	runtime *Runtime

	mu   sync.RWMutex
	ants []*Ant

	ticks  atomic.Uint64
	faults atomic.Uint64
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCadence sets the tick period.
func WithCadence(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.cadence = d }
}

// WithVMOptions sets the options every ant's VM is created with.
func WithVMOptions(opts ...vm.Option) ExecutorOption {
	return func(e *Executor) { e.vmOpts = append(e.vmOpts, opts...) }
}

// WithInit installs a hook run once by Run before the first tick.
func WithInit(fn func(context.Context, *Executor) error) ExecutorOption {
	return func(e *Executor) { e.init = fn }
}

// WithMaxTicks stops Run after n ticks. Zero means no limit.
func WithMaxTicks(n uint64) ExecutorOption {
	return func(e *Executor) { e.maxTicks = n }
}

// NewExecutor creates an executor with no ants.
func NewExecutor(name string, opts ...ExecutorOption) *Executor {
	e := &Executor{name: name, cadence: DefaultCadence}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the executor's name.
func (e *Executor) Name() string { return e.name }

// Cadence returns the tick period.
func (e *Executor) Cadence() time.Duration { return e.cadence }

// Ticks is the number of completed ticks.
func (e *Executor) Ticks() uint64 { return e.ticks.Load() }

// Faults is the number of ant ticks that returned a fault.
func (e *Executor) Faults() uint64 { return e.faults.Load() }

// Ant returns the ant at index, or nil if there is none yet.
func (e *Executor) Ant(index int) *Ant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if index < 0 || index >= len(e.ants) {
		return nil
	}
	return e.ants[index]
}

// Ants returns the ants in tick order.
func (e *Executor) Ants() []*Ant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Ant(nil), e.ants...)
}

// Schedule creates one ant per module, appended after any existing ants,
// and builds their channels. Source executors are resolved here, once; a
// source that has no ants yet is fine and simply transmits nothing.
func (e *Executor) Schedule(modules []*module.CompiledModule) error {
	if e.runtime == nil {
		return fmt.Errorf("%s: %w", e.name, ErrNotRegistered)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	base := len(e.ants)
	ants := make([]*Ant, 0, len(modules))
	for i, m := range modules {
		if m.Executor != e.name {
			return fmt.Errorf("%s: %s: %w", e.name, m.Label(), ErrWrongExecutor)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
		ant, err := newAnt(e.name, base+i, m, e.vmOpts)
		if err != nil {
			return fmt.Errorf("%s: %w", m.Label(), err)
		}
		for _, b := range m.Bindings {
			src, ok := e.runtime.Executor(b.Source.Executor)
			if !ok {
				return fmt.Errorf("%s: binding %s: %w %q", m.Label(), b, ErrUnknownExecutor, b.Source.Executor)
			}
			if uint64(b.Destination)+uint64(b.Size) > uint64(ant.MemorySize()) {
				return fmt.Errorf("%s: binding %s: destination outside %d bytes of memory", m.Label(), b, ant.MemorySize())
			}
			ant.channels = append(ant.channels, &Channel{binding: b, source: src, dest: ant})
		}
		ants = append(ants, ant)
	}

	e.ants = append(e.ants, ants...)

	for _, a := range ants {
		log.Debugf("executor %s: ant %s (%s) with %d channels", e.name, a.Label(), a.id, len(a.channels))
	}
	log.Infof("executor %s: scheduled %d modules", e.name, len(ants))
	return nil
}

// Tick ticks every ant once, in order. It returns false without doing
// anything when no ant is scheduled.
func (e *Executor) Tick() bool {
	ants := e.Ants()
	if len(ants) == 0 {
		return false
	}
	for _, a := range ants {
		if err := a.Tick(); err != nil {
			e.faults.Add(1)
		}
	}
	e.ticks.Add(1)
	return true
}

// Run calls the init hook, then ticks at the configured cadence until Tick
// reports nothing to do, the tick limit is reached or ctx is done. The
// first tick happens immediately.
func (e *Executor) Run(ctx context.Context) error {
	if e.init != nil {
		if err := e.init(ctx, e); err != nil {
			return fmt.Errorf("executor %s: init: %w", e.name, err)
		}
	}
	log.Infof("executor %s: running every %s", e.name, e.cadence)

	ticker := time.NewTicker(e.cadence)
	defer ticker.Stop()

	for {
		if !e.Tick() {
			log.Infof("executor %s: nothing scheduled, stopping", e.name)
			return nil
		}
		if e.maxTicks > 0 && e.ticks.Load() >= e.maxTicks {
			log.Infof("executor %s: stopping after %d ticks", e.name, e.ticks.Load())
			return nil
		}
		select {
		case <-ctx.Done():
			log.Infof("executor %s: stopped after %d ticks", e.name, e.ticks.Load())
			return nil
		case <-ticker.C:
		}
	}
}
