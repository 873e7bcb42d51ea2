// Package swarm runs compiled modules as ants: isolated VMs ticked by named
// executors and connected by channels that copy byte ranges between their
// memories.
//
// Within one ant's tick every inbound channel is drained before its program
// runs. Within one executor ants tick in the order they were scheduled.
// Executors run concurrently with no ordering between them, so a channel
// that crosses executors may deliver data one tick old.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/anthill/pkg/module"
)

var log = commonlog.GetLogger("anthill.swarm")

var (
	ErrDuplicateExecutor = errors.New("executor already registered")
	ErrUnknownExecutor   = errors.New("no executor named")
	ErrFrozen            = errors.New("runtime is frozen")
)

// Runtime is the registry of executors by name. It is filled at startup and
// read-only once frozen.
type Runtime struct {
	mu        sync.RWMutex
	executors map[string]*Executor
	order     []string
	frozen    bool
}

// NewRuntime creates an empty registry.
func NewRuntime() *Runtime {
	return &Runtime{executors: make(map[string]*Executor)}
}

// Register adds e. Names are unique and an executor belongs to one runtime.
func (r *Runtime) Register(e *Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registering %s: %w", e.name, ErrFrozen)
	}
	if _, ok := r.executors[e.name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateExecutor, e.name)
	}
	if e.runtime != nil && e.runtime != r {
		return fmt.Errorf("%w: %s belongs to another runtime", ErrDuplicateExecutor, e.name)
	}
	e.runtime = r
	r.executors[e.name] = e
	r.order = append(r.order, e.name)
	return nil
}

// Executor looks up an executor by name.
func (r *Runtime) Executor(name string) (*Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

// Executors returns every executor in registration order.
func (r *Runtime) Executors() []*Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Executor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.executors[name])
	}
	return out
}

// Freeze rejects further registrations.
func (r *Runtime) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Schedule hands every target of p to the executor of the same name. A
// target without an executor, or one that fails to schedule, is reported
// in the joined error while the remaining targets are still scheduled.
func (r *Runtime) Schedule(p *module.Program) error {
	var errs []error
	for _, name := range p.Executors() {
		e, ok := r.Executor(name)
		if !ok {
			err := fmt.Errorf("%w %q: %d modules not started", ErrUnknownExecutor, name, len(p.Modules(name)))
			log.Errorf("%v", err)
			errs = append(errs, err)
			continue
		}
		if err := e.Schedule(p.Modules(name)); err != nil {
			log.Errorf("%v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Launch schedules p, freezes the registry and runs every executor
// concurrently until they all stop or ctx is done. Scheduling errors do
// not prevent the other executors from running; they are returned joined
// with any run error once everything has stopped.
func (r *Runtime) Launch(ctx context.Context, p *module.Program) error {
	scheduleErr := r.Schedule(p)
	r.Freeze()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range r.Executors() {
		e := e
		g.Go(func() error { return e.Run(ctx) })
	}
	return errors.Join(scheduleErr, g.Wait())
}
