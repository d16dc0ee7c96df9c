package hooking

import (
	"sort"
	"sync"
)

// EventCounter counts how many times each hook position fired.
type EventCounter struct {
	lock   sync.Mutex
	counts map[string]uint64
}

// NewEventCounter creates a counter.
func NewEventCounter() *EventCounter {
	return &EventCounter{counts: make(map[string]uint64)}
}

// Func counts the event.
func (c *EventCounter) Func(ctx HookCtx) {
	c.lock.Lock()
	c.counts[ctx.Pos.Name]++
	c.lock.Unlock()
}

// Count returns the number of events seen at the position.
func (c *EventCounter) Count(pos *HookPos) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.counts[pos.Name]
}

// Counts returns a copy of all the counts, keyed by position name.
func (c *EventCounter) Counts() map[string]uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	counts := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		counts[k] = v
	}

	return counts
}

// Positions returns the names of the positions seen, sorted.
func (c *EventCounter) Positions() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	names := make([]string, 0, len(c.counts))
	for k := range c.counts {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}
