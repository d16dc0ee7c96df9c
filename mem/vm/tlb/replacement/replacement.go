// Package replacement provides the eviction policies of the TLB levels.
//
// A policy tracks the slots of one entry store. The store tells the policy
// about insertions, hits and removals, and asks it for a victim when every
// slot is occupied. Policies never decide what a translation is, only which
// one is kept.
package replacement

import (
	"fmt"
	"strings"

	"github.com/sarchlab/softmmu/mem/vm"
)

// Key identifies the translation held by a slot.
type Key struct {
	ASID vm.ASID
	VPN  vm.VPN
}

// Less orders keys by ASID, then by VPN. When several slots are equally good
// victims, the smallest key is evicted.
func (k Key) Less(o Key) bool {
	if k.ASID != o.ASID {
		return k.ASID < o.ASID
	}

	return k.VPN < o.VPN
}

func (k Key) String() string {
	return fmt.Sprintf("%d:0x%x", k.ASID, uint64(k.VPN))
}

// A View exposes the slots of a store to a policy.
type View interface {
	NumSlots() int
	Occupied(slot int) bool
	KeyAt(slot int) Key
}

// A Policy decides which slot to evict.
//
// All the methods but OnAccess are called with the store locked for writing.
// OnAccess is called under the read lock when MutatesOnAccess returns false,
// so such policies must make it safe for concurrent use.
type Policy interface {
	Kind() Kind
	MutatesOnAccess() bool

	// OnInsert records that key was placed into slot.
	OnInsert(slot int, key Key)

	// OnAccess records a hit on slot.
	OnAccess(slot int)

	// OnRemove records that slot was invalidated.
	OnRemove(slot int)

	// ChooseVictim picks the slot that incoming will replace. It is only
	// called when every slot is occupied. The victim is detached from the
	// policy, the store follows up with OnInsert for the same slot.
	ChooseVictim(view View, incoming Key) int

	// Reset forgets all the history.
	Reset()
}

// Kind enumerates the policies.
type Kind uint8

// All the policy kinds.
const (
	Random Kind = iota
	FIFO
	LRU
	Clock
	Adaptive
)

var kindNames = []string{"random", "fifo", "lru", "clock", "adaptive"}

// AllKinds lists every policy kind.
func AllKinds() []Kind {
	return []Kind{Random, FIFO, LRU, Clock, Adaptive}
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind converts a name produced by String back to a kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}

	return 0, fmt.Errorf("unknown replacement policy %q", s)
}

// DefaultPromotionThreshold is the number of hits an adaptive entry needs
// while on the recency list before it moves to the frequency list.
const DefaultPromotionThreshold = 2

// DefaultAdaptationStep scales how far a ghost hit moves the adaptive target.
const DefaultAdaptationStep = 1

// Options tunes the policies that have parameters.
type Options struct {
	Seed               uint64
	PromotionThreshold int
	AdaptationStep     int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Seed:               1,
		PromotionThreshold: DefaultPromotionThreshold,
		AdaptationStep:     DefaultAdaptationStep,
	}
}

// New creates a policy of the kind for a store with numSlots slots.
func New(kind Kind, numSlots int, opts Options) Policy {
	if numSlots <= 0 {
		panic("a policy needs at least one slot")
	}

	switch kind {
	case Random:
		return newRandomPolicy(numSlots, opts.Seed)
	case FIFO:
		return newListPolicy(FIFO, numSlots)
	case LRU:
		return newListPolicy(LRU, numSlots)
	case Clock:
		return newClockPolicy(numSlots)
	case Adaptive:
		if opts.PromotionThreshold <= 0 {
			opts.PromotionThreshold = DefaultPromotionThreshold
		}

		if opts.AdaptationStep <= 0 {
			opts.AdaptationStep = DefaultAdaptationStep
		}

		return newAdaptivePolicy(numSlots, opts)
	default:
		panic(fmt.Sprintf("unknown replacement policy %d", kind))
	}
}

// smallestKey returns the occupied slot that holds the smallest key among
// the candidates.
func smallestKey(view View, candidates []int) int {
	victim := -1

	for _, slot := range candidates {
		if !view.Occupied(slot) {
			continue
		}

		if victim < 0 || view.KeyAt(slot).Less(view.KeyAt(victim)) {
			victim = slot
		}
	}

	return victim
}
