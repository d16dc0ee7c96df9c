package replacement

import (
	"container/list"
)

// listPolicy keeps the slots in eviction order, the front being the next
// victim. FIFO orders by insertion, LRU moves a slot to the back on every
// hit.
type listPolicy struct {
	kind  Kind
	order *list.List
	elems []*list.Element
}

func newListPolicy(kind Kind, numSlots int) *listPolicy {
	return &listPolicy{
		kind:  kind,
		order: list.New(),
		elems: make([]*list.Element, numSlots),
	}
}

func (p *listPolicy) Kind() Kind { return p.kind }

func (p *listPolicy) MutatesOnAccess() bool {
	return p.kind == LRU
}

func (p *listPolicy) OnInsert(slot int, _ Key) {
	p.OnRemove(slot)
	p.elems[slot] = p.order.PushBack(slot)
}

func (p *listPolicy) OnAccess(slot int) {
	if p.kind != LRU {
		return
	}

	if e := p.elems[slot]; e != nil {
		p.order.MoveToBack(e)
	}
}

func (p *listPolicy) OnRemove(slot int) {
	if e := p.elems[slot]; e != nil {
		p.order.Remove(e)
		p.elems[slot] = nil
	}
}

func (p *listPolicy) ChooseVictim(view View, _ Key) int {
	front := p.order.Front()
	if front == nil {
		panic("no slot to evict")
	}

	slot := front.Value.(int)
	p.OnRemove(slot)

	return slot
}

func (p *listPolicy) Reset() {
	p.order.Init()
	clear(p.elems)
}
