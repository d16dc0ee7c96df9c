package hooking

import (
	"fmt"

	"github.com/sarchlab/softmmu/mem/vm"
)

// A list of hook poses for the hooks to apply to.
var (
	HookPosTranslate  = &HookPos{Name: "Translate"}
	HookPosWalk       = &HookPos{Name: "Walk"}
	HookPosFault      = &HookPos{Name: "Fault"}
	HookPosEvict      = &HookPos{Name: "Evict"}
	HookPosInvalidate = &HookPos{Name: "Invalidate"}
	HookPosPrefetch   = &HookPos{Name: "Prefetch"}
)

// AllHookPoses lists the positions in a stable order.
func AllHookPoses() []*HookPos {
	return []*HookPos{
		HookPosTranslate,
		HookPosWalk,
		HookPosFault,
		HookPosEvict,
		HookPosInvalidate,
		HookPosPrefetch,
	}
}

// TranslationEvent is passed to the hooks when a request is translated.
type TranslationEvent struct {
	Req   vm.AccessRequest
	PAddr uint64
	Level string
}

// WalkEvent is passed to the hooks when a page table walk completes.
type WalkEvent struct {
	Req         vm.AccessRequest
	Result      vm.WalkResult
	Speculative bool
}

// FaultEvent is passed to the hooks when a translation faults.
type FaultEvent struct {
	Req         vm.AccessRequest
	Err         error
	Speculative bool
}

// EvictionEvent is passed to the hooks when a level evicts an entry.
type EvictionEvent struct {
	Level string
	Entry vm.Entry
}

// InvalidationScope tells what an invalidation covers.
type InvalidationScope uint8

// The invalidation scopes.
const (
	ScopePage InvalidationScope = iota
	ScopeRange
	ScopeASID
	ScopeAll
)

func (s InvalidationScope) String() string {
	switch s {
	case ScopePage:
		return "page"
	case ScopeRange:
		return "range"
	case ScopeASID:
		return "asid"
	case ScopeAll:
		return "all"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// InvalidationEvent is passed to the hooks after cached translations were
// removed. First and Last bound the pages for the page and range scopes.
type InvalidationEvent struct {
	Scope   InvalidationScope
	ASID    vm.ASID
	First   vm.VPN
	Last    vm.VPN
	Removed int
}

// PrefetchEvent is passed to the hooks when a predicted page is walked.
type PrefetchEvent struct {
	ASID     vm.ASID
	VPN      vm.VPN
	Inserted bool
}
