// Package internal provides the entry store that backs one TLB level.
package internal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb/replacement"
)

// A Store holds the entries of one TLB level.
//
// Entries are spread over shards by ASID. Global entries live in a shard of
// their own. Every shard is a fixed array of slots with its own replacement
// policy. The slot lock is only held for a lookup, an insertion, or a bounded
// batch of removals. Flushing an address space holds a lock of that ASID
// alone, so lookups and fills of other ASIDs in the same shard go on.
type Store struct {
	name      string
	kind      replacement.Kind
	shardMask int
	shards    []*shard
	global    *shard
}

// StoreConfig describes a store.
type StoreConfig struct {
	Name string

	// Capacity is the number of slots shared by the ASID shards.
	Capacity int

	// NumShards must be a power of two no larger than Capacity.
	NumShards int

	// GlobalCapacity is the number of slots for global entries.
	GlobalCapacity int

	Policy        replacement.Kind
	PolicyOptions replacement.Options
}

// NewStore creates a store.
func NewStore(c StoreConfig) *Store {
	if c.Capacity <= 0 {
		panic(fmt.Sprintf("%s: capacity must be positive", c.Name))
	}

	if c.NumShards <= 0 || c.NumShards&(c.NumShards-1) != 0 {
		panic(fmt.Sprintf("%s: number of shards must be a power of 2",
			c.Name))
	}

	if c.NumShards > c.Capacity {
		panic(fmt.Sprintf("%s: more shards than slots", c.Name))
	}

	if c.GlobalCapacity <= 0 {
		c.GlobalCapacity = max(1, c.Capacity/c.NumShards)
	}

	s := &Store{
		name:      c.Name,
		kind:      c.Policy,
		shardMask: c.NumShards - 1,
	}

	perShard := c.Capacity / c.NumShards
	for i := 0; i < c.NumShards; i++ {
		opts := c.PolicyOptions
		opts.Seed += uint64(i)
		s.shards = append(s.shards, newShard(perShard, c.Policy, opts))
	}

	opts := c.PolicyOptions
	opts.Seed += uint64(c.NumShards)
	s.global = newShard(c.GlobalCapacity, c.Policy, opts)

	return s
}

// Name returns the name of the store.
func (s *Store) Name() string {
	return s.name
}

// Policy returns the kind of replacement policy of the store.
func (s *Store) Policy() replacement.Kind {
	return s.kind
}

// NumShards returns the number of ASID shards.
func (s *Store) NumShards() int {
	return len(s.shards)
}

func (s *Store) shardOf(asid vm.ASID) *shard {
	return s.shards[int(asid)&s.shardMask]
}

func (s *Store) shardFor(e vm.Entry) (*shard, replacement.Key) {
	if e.IsGlobal() {
		return s.global, globalKey(e.VPN)
	}

	return s.shardOf(e.ASID), replacement.Key{ASID: e.ASID, VPN: e.VPN}
}

func globalKey(vpn vm.VPN) replacement.Key {
	return replacement.Key{ASID: vm.GlobalASID, VPN: vpn}
}

// Lookup finds the entry that translates the page for the address space.
// Entries private to the ASID take precedence over global ones.
func (s *Store) Lookup(asid vm.ASID, vpn vm.VPN) (vm.Entry, bool) {
	if e, ok := s.shardOf(asid).lookup(replacement.Key{ASID: asid, VPN: vpn}); ok {
		return e, true
	}

	e, ok := s.global.lookup(globalKey(vpn))
	if ok && e.Matches(asid, vpn) {
		return e, true
	}

	return vm.Entry{}, false
}

// Contains checks if a lookup would hit, without counting as an access.
func (s *Store) Contains(asid vm.ASID, vpn vm.VPN) bool {
	if s.shardOf(asid).contains(replacement.Key{ASID: asid, VPN: vpn}) {
		return true
	}

	return s.global.contains(globalKey(vpn))
}

// Insert places the entry, replacing an entry with the same key. The
// returned entry is the one evicted to make room, if any.
func (s *Store) Insert(e vm.Entry) (evicted vm.Entry, didEvict bool) {
	return s.InsertIf(e, nil)
}

// InsertIf inserts the entry only if valid, evaluated while the shard is
// locked, returns true. A nil valid always inserts.
func (s *Store) InsertIf(
	e vm.Entry,
	valid func() bool,
) (evicted vm.Entry, didEvict bool) {
	sh, key := s.shardFor(e)
	return sh.insert(key, e, valid)
}

// InvalidatePage removes the entry of the ASID for the page and any global
// entry for the page.
func (s *Store) InvalidatePage(asid vm.ASID, vpn vm.VPN) int {
	n := s.shardOf(asid).removeKey(replacement.Key{ASID: asid, VPN: vpn})
	n += s.global.removeKey(globalKey(vpn))

	return n
}

// InvalidateASID removes all the non-global entries of the ASID.
func (s *Store) InvalidateASID(asid vm.ASID) int {
	return s.shardOf(asid).removeOwned(asid, func(vm.Entry) bool {
		return true
	})
}

// InvalidateRange removes the entries of the ASID, and the global entries,
// for the pages in [first, last].
func (s *Store) InvalidateRange(asid vm.ASID, first, last vm.VPN) int {
	inRange := func(e vm.Entry) bool {
		return e.VPN >= first && e.VPN <= last
	}

	n := s.shardOf(asid).removeOwned(asid, inRange)
	n += s.global.removeOwned(vm.GlobalASID, inRange)

	return n
}

// InvalidateAll removes every entry and resets the replacement state.
func (s *Store) InvalidateAll() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.reset()
	}

	n += s.global.reset()

	return n
}

// Len returns the number of valid entries.
func (s *Store) Len() int {
	n := s.global.len()
	for _, sh := range s.shards {
		n += sh.len()
	}

	return n
}

// Capacity returns the total number of slots, global ones included.
func (s *Store) Capacity() int {
	n := len(s.global.entries)
	for _, sh := range s.shards {
		n += len(sh.entries)
	}

	return n
}

// Entries returns a copy of the valid entries ordered by ASID and VPN.
func (s *Store) Entries() []vm.Entry {
	entries := s.global.snapshot()
	for _, sh := range s.shards {
		entries = append(entries, sh.snapshot()...)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ASID != entries[j].ASID {
			return entries[i].ASID < entries[j].ASID
		}

		return entries[i].VPN < entries[j].VPN
	})

	return entries
}

// flushBatch bounds the number of slots a flush frees per acquisition of the
// slot lock.
const flushBatch = 16

// A shard is a fixed set of slots. The slots double as the view that the
// replacement policy inspects.
type shard struct {
	sync.RWMutex // guards the slots, the indexes and the policy
	entries      []vm.Entry
	keys         []replacement.Key
	index        map[replacement.Key]int
	owned        map[vm.ASID]map[int]struct{}
	free         []int
	policy       replacement.Policy

	// spaces maps an ASID to the *sync.RWMutex that orders its flushes
	// after its fills.
	spaces sync.Map

	mutatesOnAccess bool
}

func newShard(numSlots int, kind replacement.Kind, opts replacement.Options) *shard {
	p := replacement.New(kind, numSlots, opts)

	sh := &shard{
		entries:         make([]vm.Entry, numSlots),
		keys:            make([]replacement.Key, numSlots),
		index:           make(map[replacement.Key]int, numSlots),
		owned:           make(map[vm.ASID]map[int]struct{}),
		policy:          p,
		mutatesOnAccess: p.MutatesOnAccess(),
	}
	sh.resetSlots()

	return sh
}

func (sh *shard) NumSlots() int {
	return len(sh.entries)
}

func (sh *shard) Occupied(slot int) bool {
	return sh.entries[slot].Valid
}

func (sh *shard) KeyAt(slot int) replacement.Key {
	return sh.keys[slot]
}

func (sh *shard) space(asid vm.ASID) *sync.RWMutex {
	if l, ok := sh.spaces.Load(asid); ok {
		return l.(*sync.RWMutex)
	}

	l, _ := sh.spaces.LoadOrStore(asid, new(sync.RWMutex))

	return l.(*sync.RWMutex)
}

func (sh *shard) lookup(key replacement.Key) (vm.Entry, bool) {
	if sh.mutatesOnAccess {
		sh.Lock()
		defer sh.Unlock()
	} else {
		sh.RLock()
		defer sh.RUnlock()
	}

	slot, ok := sh.index[key]
	if !ok {
		return vm.Entry{}, false
	}

	sh.policy.OnAccess(slot)

	return sh.entries[slot], true
}

func (sh *shard) contains(key replacement.Key) bool {
	sh.RLock()
	defer sh.RUnlock()

	_, ok := sh.index[key]

	return ok
}

func (sh *shard) insert(
	key replacement.Key,
	e vm.Entry,
	valid func() bool,
) (evicted vm.Entry, didEvict bool) {
	sp := sh.space(key.ASID)
	sp.RLock()
	defer sp.RUnlock()

	sh.Lock()
	defer sh.Unlock()

	if valid != nil && !valid() {
		return vm.Entry{}, false
	}

	e.Valid = true

	if slot, ok := sh.index[key]; ok {
		sh.entries[slot] = e
		sh.policy.OnAccess(slot)

		return vm.Entry{}, false
	}

	var slot int
	if n := len(sh.free); n > 0 {
		slot = sh.free[n-1]
		sh.free = sh.free[:n-1]
	} else {
		slot = sh.policy.ChooseVictim(sh, key)
		evicted, didEvict = sh.entries[slot], true
		delete(sh.index, sh.keys[slot])
		sh.disown(sh.keys[slot].ASID, slot)
	}

	sh.entries[slot] = e
	sh.keys[slot] = key
	sh.index[key] = slot
	sh.own(key.ASID, slot)
	sh.policy.OnInsert(slot, key)

	return evicted, didEvict
}

// removeSlot must be called with the lock held.
func (sh *shard) removeSlot(slot int) {
	delete(sh.index, sh.keys[slot])
	sh.disown(sh.keys[slot].ASID, slot)
	sh.entries[slot] = vm.Entry{}
	sh.keys[slot] = replacement.Key{}
	sh.policy.OnRemove(slot)
	sh.free = append(sh.free, slot)
}

func (sh *shard) removeKey(key replacement.Key) int {
	sh.Lock()
	defer sh.Unlock()

	slot, ok := sh.index[key]
	if !ok {
		return 0
	}

	sh.removeSlot(slot)

	return 1
}

// own and disown must be called with the lock held.
func (sh *shard) own(asid vm.ASID, slot int) {
	slots, ok := sh.owned[asid]
	if !ok {
		slots = make(map[int]struct{})
		sh.owned[asid] = slots
	}

	slots[slot] = struct{}{}
}

func (sh *shard) disown(asid vm.ASID, slot int) {
	slots := sh.owned[asid]
	delete(slots, slot)

	if len(slots) == 0 {
		delete(sh.owned, asid)
	}
}

func (sh *shard) ownedSlots(asid vm.ASID) []int {
	sh.RLock()
	defer sh.RUnlock()

	slots := make([]int, 0, len(sh.owned[asid]))
	for slot := range sh.owned[asid] {
		slots = append(slots, slot)
	}

	return slots
}

// removeOwned removes the entries keyed by the ASID that match. Fills of the
// ASID wait until it returns. A slot listed up front may have been taken by
// another ASID in the meantime, so ownership is checked again before
// removal.
func (sh *shard) removeOwned(asid vm.ASID, match func(vm.Entry) bool) int {
	sp := sh.space(asid)
	sp.Lock()
	defer sp.Unlock()

	slots := sh.ownedSlots(asid)

	n := 0
	for len(slots) > 0 {
		batch := slots[:min(flushBatch, len(slots))]
		slots = slots[len(batch):]

		n += sh.removeBatch(asid, batch, match)
	}

	return n
}

func (sh *shard) removeBatch(
	asid vm.ASID,
	slots []int,
	match func(vm.Entry) bool,
) int {
	sh.Lock()
	defer sh.Unlock()

	n := 0
	for _, slot := range slots {
		e := sh.entries[slot]
		if e.Valid && sh.keys[slot].ASID == asid && match(e) {
			sh.removeSlot(slot)
			n++
		}
	}

	return n
}

func (sh *shard) reset() int {
	sh.Lock()
	defer sh.Unlock()

	n := len(sh.index)
	sh.resetSlots()
	sh.policy.Reset()

	return n
}

// resetSlots must be called with the lock held.
func (sh *shard) resetSlots() {
	clear(sh.entries)
	clear(sh.keys)
	clear(sh.index)
	clear(sh.owned)

	sh.free = sh.free[:0]
	for slot := len(sh.entries) - 1; slot >= 0; slot-- {
		sh.free = append(sh.free, slot)
	}
}

func (sh *shard) len() int {
	sh.RLock()
	defer sh.RUnlock()

	return len(sh.index)
}

func (sh *shard) snapshot() []vm.Entry {
	sh.RLock()
	defer sh.RUnlock()

	entries := make([]vm.Entry, 0, len(sh.index))
	for _, e := range sh.entries {
		if e.Valid {
			entries = append(entries, e)
		}
	}

	return entries
}
