package replacement

import (
	"container/list"
)

// adaptivePolicy follows the adaptive replacement cache. Resident slots are
// on T1 (seen recently) or T2 (seen frequently). Keys evicted from T1 and T2
// are remembered on the ghost lists B1 and B2. A miss that hits a ghost list
// moves the target size of T1, p, toward the list that would have kept it.
type adaptivePolicy struct {
	numSlots  int
	threshold int
	step      int

	p int

	t1, t2 *list.List
	elems  []*list.Element
	inT2   []bool
	hits   []int
	keys   []Key

	b1, b2     *list.List
	ghostElems map[Key]*list.Element
	ghostInB2  map[Key]bool

	adaptedFor *Key
}

func newAdaptivePolicy(numSlots int, opts Options) *adaptivePolicy {
	p := &adaptivePolicy{
		numSlots:  numSlots,
		threshold: opts.PromotionThreshold,
		step:      opts.AdaptationStep,
		t1:        list.New(),
		t2:        list.New(),
		b1:        list.New(),
		b2:        list.New(),
		elems:     make([]*list.Element, numSlots),
		inT2:      make([]bool, numSlots),
		hits:      make([]int, numSlots),
		keys:      make([]Key, numSlots),
	}
	p.Reset()

	return p
}

func (p *adaptivePolicy) Kind() Kind            { return Adaptive }
func (p *adaptivePolicy) MutatesOnAccess() bool { return true }

// Target returns the current target size of the recency list.
func (p *adaptivePolicy) Target() int {
	return p.p
}

func (p *adaptivePolicy) adapt(key Key) {
	e, ghost := p.ghostElems[key]
	if !ghost {
		return
	}

	if p.ghostInB2[key] {
		delta := p.step * max(1, p.b1.Len()/max(1, p.b2.Len()))
		p.p = max(0, p.p-delta)
		p.b2.Remove(e)
	} else {
		delta := p.step * max(1, p.b2.Len()/max(1, p.b1.Len()))
		p.p = min(p.numSlots, p.p+delta)
		p.b1.Remove(e)
	}

	delete(p.ghostElems, key)
	delete(p.ghostInB2, key)

	// The next insertion of key goes to T2.
	k := key
	p.adaptedFor = &k
}

func (p *adaptivePolicy) OnInsert(slot int, key Key) {
	p.detach(slot)

	frequent := p.adaptedFor != nil && *p.adaptedFor == key
	if !frequent {
		if _, ghost := p.ghostElems[key]; ghost {
			p.adapt(key)
			frequent = true
		}
	}
	p.adaptedFor = nil

	p.keys[slot] = key
	p.hits[slot] = 0
	p.inT2[slot] = frequent

	if frequent {
		p.elems[slot] = p.t2.PushBack(slot)
	} else {
		p.elems[slot] = p.t1.PushBack(slot)
	}
}

func (p *adaptivePolicy) OnAccess(slot int) {
	e := p.elems[slot]
	if e == nil {
		return
	}

	if p.inT2[slot] {
		p.t2.MoveToBack(e)
		return
	}

	p.hits[slot]++
	if p.hits[slot] < p.threshold {
		p.t1.MoveToBack(e)
		return
	}

	p.t1.Remove(e)
	p.elems[slot] = p.t2.PushBack(slot)
	p.inT2[slot] = true
}

func (p *adaptivePolicy) OnRemove(slot int) {
	p.detach(slot)
}

func (p *adaptivePolicy) detach(slot int) {
	e := p.elems[slot]
	if e == nil {
		return
	}

	if p.inT2[slot] {
		p.t2.Remove(e)
	} else {
		p.t1.Remove(e)
	}

	p.elems[slot] = nil
	p.inT2[slot] = false
	p.hits[slot] = 0
}

func (p *adaptivePolicy) ChooseVictim(view View, incoming Key) int {
	incomingInB2 := p.ghostInB2[incoming]
	p.adapt(incoming)

	fromT1 := p.t1.Len() > 0 &&
		(p.t1.Len() > p.p || (incomingInB2 && p.t1.Len() == p.p))

	if p.t2.Len() == 0 {
		fromT1 = true
	}

	if fromT1 {
		victim := p.t1.Front().Value.(int)
		p.detach(victim)
		p.remember(p.b1, p.keys[victim], false)

		return victim
	}

	victim := p.t2.Front().Value.(int)
	p.detach(victim)
	p.remember(p.b2, p.keys[victim], true)

	return victim
}

func (p *adaptivePolicy) remember(ghosts *list.List, key Key, inB2 bool) {
	if e, ok := p.ghostElems[key]; ok {
		p.removeGhost(e)
	}

	p.ghostElems[key] = ghosts.PushBack(key)
	if inB2 {
		p.ghostInB2[key] = true
	}

	for p.t1.Len()+p.b1.Len() > p.numSlots && p.b1.Len() > 0 {
		p.removeGhost(p.b1.Front())
	}

	for p.t1.Len()+p.t2.Len()+p.b1.Len()+p.b2.Len() > 2*p.numSlots &&
		p.b2.Len() > 0 {
		p.removeGhost(p.b2.Front())
	}
}

func (p *adaptivePolicy) removeGhost(e *list.Element) {
	key := e.Value.(Key)

	if p.ghostInB2[key] {
		p.b2.Remove(e)
	} else {
		p.b1.Remove(e)
	}

	delete(p.ghostElems, key)
	delete(p.ghostInB2, key)
}

func (p *adaptivePolicy) Reset() {
	p.p = 0
	p.t1.Init()
	p.t2.Init()
	p.b1.Init()
	p.b2.Init()
	clear(p.elems)
	clear(p.inT2)
	clear(p.hits)
	clear(p.keys)
	p.ghostElems = make(map[Key]*list.Element)
	p.ghostInB2 = make(map[Key]bool)
	p.adaptedFor = nil
}
