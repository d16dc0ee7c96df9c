package replacement

import (
	"sync/atomic"
)

// clockPolicy approximates LRU with one reference bit per slot. Hits only set
// the bit, so they can be recorded by many readers at the same time.
type clockPolicy struct {
	referenced []atomic.Bool
	hand       int
}

func newClockPolicy(numSlots int) *clockPolicy {
	return &clockPolicy{
		referenced: make([]atomic.Bool, numSlots),
	}
}

func (p *clockPolicy) Kind() Kind            { return Clock }
func (p *clockPolicy) MutatesOnAccess() bool { return false }

func (p *clockPolicy) OnInsert(slot int, _ Key) {
	p.referenced[slot].Store(true)
}

func (p *clockPolicy) OnAccess(slot int) {
	p.referenced[slot].Store(true)
}

func (p *clockPolicy) OnRemove(slot int) {
	p.referenced[slot].Store(false)
}

// ChooseVictim sweeps once from the hand, clearing reference bits, and takes
// the first slot that was not referenced. If every slot was referenced, the
// smallest key is evicted.
func (p *clockPolicy) ChooseVictim(view View, _ Key) int {
	n := len(p.referenced)

	for i := 0; i < n; i++ {
		slot := (p.hand + i) % n
		if !view.Occupied(slot) {
			continue
		}

		if !p.referenced[slot].Swap(false) {
			p.hand = (slot + 1) % n
			return slot
		}
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	victim := smallestKey(view, all)
	p.hand = (victim + 1) % n

	return victim
}

func (p *clockPolicy) Reset() {
	for i := range p.referenced {
		p.referenced[i].Store(false)
	}

	p.hand = 0
}
