package vm

import (
	"sort"
	"sync"
)

// An AddressSpaceTable keeps the address space that is active for each ASID.
type AddressSpaceTable struct {
	sync.RWMutex
	spaces map[ASID]AddressSpace
}

// NewAddressSpaceTable creates an empty table.
func NewAddressSpaceTable() *AddressSpaceTable {
	return &AddressSpaceTable{
		spaces: make(map[ASID]AddressSpace),
	}
}

// Find returns the address space registered for the ASID.
func (t *AddressSpaceTable) Find(asid ASID) (AddressSpace, bool) {
	t.RLock()
	defer t.RUnlock()

	as, found := t.spaces[asid]

	return as, found
}

// Insert makes as the active address space of its ASID. The returned bool
// tells if an address space with a different root or mode was displaced, in
// which case every cached translation of the ASID is stale.
func (t *AddressSpaceTable) Insert(as AddressSpace) (prev AddressSpace, displaced bool) {
	t.Lock()
	defer t.Unlock()

	prev, found := t.spaces[as.ASID]
	t.spaces[as.ASID] = as

	return prev, found && prev != as
}

// Remove forgets the address space of the ASID.
func (t *AddressSpaceTable) Remove(asid ASID) (AddressSpace, bool) {
	t.Lock()
	defer t.Unlock()

	as, found := t.spaces[asid]
	delete(t.spaces, asid)

	return as, found
}

// List returns all the registered address spaces ordered by ASID.
func (t *AddressSpaceTable) List() []AddressSpace {
	t.RLock()
	defer t.RUnlock()

	list := make([]AddressSpace, 0, len(t.spaces))
	for _, as := range t.spaces {
		list = append(list, as)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].ASID < list[j].ASID
	})

	return list
}
