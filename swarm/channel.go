package swarm

import (
	"github.com/chazu/anthill/pkg/module"
)

// Channel copies one binding's byte range from a source ant into a
// destination ant. It holds no data between ticks.
type Channel struct {
	binding module.Binding
	source  *Executor
	dest    *Ant
}

// Binding returns the declaration the channel was built from.
func (c *Channel) Binding() module.Binding { return c.binding }

// fetch snapshots the source range under the source ant's read lock. It
// returns false when the source ant does not exist yet or the range is not
// inside its memory.
func (c *Channel) fetch() ([]byte, bool) {
	src := c.source.Ant(c.binding.Source.Module)
	if src == nil {
		return nil, false
	}
	data, err := src.ReadAt(c.binding.Source.Address, c.binding.Size)
	if err != nil {
		log.Debugf("%s: %s: %v", c.dest.Label(), c.binding, err)
		return nil, false
	}
	return data, true
}

// Transmit performs one copy. An unreachable source is a no-op and the
// destination keeps its previous bytes.
func (c *Channel) Transmit() bool {
	data, ok := c.fetch()
	if !ok {
		return false
	}
	c.dest.mu.Lock()
	defer c.dest.mu.Unlock()
	return c.dest.apply(c, data)
}
