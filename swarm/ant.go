package swarm

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chazu/anthill/pkg/module"
	"github.com/chazu/anthill/vm"
)

// Ant is one VM instance with private memory and its inbound channels.
type Ant struct {
	id       uuid.UUID
	executor string
	index    int
	name     string

	mu       sync.RWMutex
	vm       *vm.VM
	channels []*Channel
	ticks    uint64
	faulted  bool
}

func newAnt(executor string, index int, m *module.CompiledModule, opts []vm.Option) (*Ant, error) {
	if m.CodeSize > 0 {
		opts = append(opts[:len(opts):len(opts)], vm.WithCodeSize(m.CodeSize))
	}
	machine, err := vm.New(m.Bytecode, opts...)
	if err != nil {
		return nil, err
	}
	return &Ant{
		id:       uuid.New(),
		executor: executor,
		index:    index,
		name:     m.Name,
		vm:       machine,
	}, nil
}

// ID identifies the ant in logs.
func (a *Ant) ID() uuid.UUID { return a.id }

// Index is the ant's position in its executor.
func (a *Ant) Index() int { return a.index }

// Label is "executor[index]" or "executor[index] name".
func (a *Ant) Label() string {
	if a.name != "" {
		return fmt.Sprintf("%s[%d] %s", a.executor, a.index, a.name)
	}
	return fmt.Sprintf("%s[%d]", a.executor, a.index)
}

// Channels returns the inbound channels in drain order.
func (a *Ant) Channels() []*Channel { return a.channels }

// Ticks is the number of completed ticks.
func (a *Ant) Ticks() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ticks
}

// Fault returns the VM's sticky fault, or nil.
func (a *Ant) Fault() *vm.Fault {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.vm.Fault()
}

// ReadAt copies n bytes of the ant's memory. It never observes a tick in
// progress.
func (a *Ant) ReadAt(addr, n uint32) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.vm.ReadAt(addr, n)
}

// MemorySize is the capacity of the ant's memory.
func (a *Ant) MemorySize() uint32 {
	return uint32(len(a.vm.Memory()))
}

// Tick drains every inbound channel and then runs the program once. The
// sources are read before this ant is locked, so no ant lock is ever held
// while another is acquired.
func (a *Ant) Tick() error {
	snapshots := make([][]byte, len(a.channels))
	for i, c := range a.channels {
		if data, ok := c.fetch(); ok {
			snapshots[i] = data
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, data := range snapshots {
		if data != nil {
			a.apply(a.channels[i], data)
		}
	}

	err := a.vm.Run()
	a.ticks++
	if err != nil && !a.faulted {
		a.faulted = true
		log.Errorf("ant %s (%s) halted on tick %d: %v", a.Label(), a.id, a.ticks, err)
	}
	return err
}

// apply writes a snapshot into memory. The caller holds a.mu.
func (a *Ant) apply(c *Channel, data []byte) bool {
	if err := a.vm.WriteAt(c.binding.Destination, data); err != nil {
		log.Warningf("ant %s: %s: %v", a.Label(), c.binding, err)
		return false
	}
	return true
}
