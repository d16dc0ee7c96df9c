package replacement

import (
	"math/rand/v2"
)

// randomPolicy evicts a uniformly chosen slot. It keeps no history, so hits
// do not touch it.
type randomPolicy struct {
	numSlots int
	seed     uint64
	rng      *rand.Rand
}

func newRandomPolicy(numSlots int, seed uint64) *randomPolicy {
	p := &randomPolicy{numSlots: numSlots, seed: seed}
	p.Reset()

	return p
}

func (p *randomPolicy) Kind() Kind            { return Random }
func (p *randomPolicy) MutatesOnAccess() bool { return false }
func (p *randomPolicy) OnInsert(int, Key)     {}
func (p *randomPolicy) OnAccess(int)          {}
func (p *randomPolicy) OnRemove(int)          {}

func (p *randomPolicy) ChooseVictim(view View, _ Key) int {
	slot := p.rng.IntN(p.numSlots)
	if view.Occupied(slot) {
		return slot
	}

	all := make([]int, p.numSlots)
	for i := range all {
		all[i] = i
	}

	return smallestKey(view, all)
}

func (p *randomPolicy) Reset() {
	p.rng = rand.New(rand.NewPCG(p.seed, p.seed^0x9e3779b97f4a7c15))
}
