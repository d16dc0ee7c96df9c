package tlb

import (
	"github.com/sarchlab/softmmu/instrumentation/hooking"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sirupsen/logrus"
)

// rangeScanThreshold is the number of pages above which a range invalidation
// scans the shards instead of removing page by page.
const rangeScanThreshold = 16

// InvalidatePage removes the translation of the page that holds vaddr for
// the ASID, and any global translation of the page, from every level. It
// returns after every level has dropped the page and every registered hook
// has run.
func (h *Hierarchy) InvalidatePage(asid vm.ASID, vaddr uint64) int {
	vpn := vm.PageNumber(vaddr)

	h.gens.bumpPage(asid)

	removed := 0
	for _, l := range h.levels {
		n := l.store.InvalidatePage(asid, vpn)
		l.invalidations.Add(uint64(n))
		removed += n
	}

	if h.predictor != nil {
		h.predictor.ForgetPage(asid, vpn)
	}

	h.notifyInvalidation(hooking.InvalidationEvent{
		Scope:   hooking.ScopePage,
		ASID:    asid,
		First:   vpn,
		Last:    vpn,
		Removed: removed,
	})

	return removed
}

// InvalidateRange removes the translations of the pages that overlap
// [start, start+length) for the ASID, and the global translations of these
// pages.
func (h *Hierarchy) InvalidateRange(asid vm.ASID, start, length uint64) int {
	if length == 0 {
		return 0
	}

	end := start + length - 1
	if end < start {
		end = ^uint64(0)
	}

	first, last := vm.PageNumber(start), vm.PageNumber(end)

	h.gens.bumpPage(asid)

	removed := 0
	if last-first < rangeScanThreshold {
		removed = h.invalidatePages(asid, first, last)
	} else {
		removed = h.scanRange(asid, first, last)
	}

	h.notifyInvalidation(hooking.InvalidationEvent{
		Scope:   hooking.ScopeRange,
		ASID:    asid,
		First:   first,
		Last:    last,
		Removed: removed,
	})

	return removed
}

func (h *Hierarchy) invalidatePages(asid vm.ASID, first, last vm.VPN) int {
	removed := 0

	for vpn := first; ; vpn++ {
		for _, l := range h.levels {
			n := l.store.InvalidatePage(asid, vpn)
			l.invalidations.Add(uint64(n))
			removed += n
		}

		if h.predictor != nil {
			h.predictor.ForgetPage(asid, vpn)
		}

		if vpn == last {
			return removed
		}
	}
}

func (h *Hierarchy) scanRange(asid vm.ASID, first, last vm.VPN) int {
	removed := 0
	for _, l := range h.levels {
		n := l.store.InvalidateRange(asid, first, last)
		l.invalidations.Add(uint64(n))
		removed += n
	}

	if h.predictor != nil {
		h.predictor.ForgetASID(asid)
	}

	return removed
}

// InvalidateASID removes all the non-global translations of the ASID from
// every level.
func (h *Hierarchy) InvalidateASID(asid vm.ASID) int {
	h.gens.bumpASID(asid)

	removed := 0
	for _, l := range h.levels {
		n := l.store.InvalidateASID(asid)
		l.invalidations.Add(uint64(n))
		removed += n
	}

	if h.predictor != nil {
		h.predictor.ForgetASID(asid)
	}

	h.notifyInvalidation(hooking.InvalidationEvent{
		Scope:   hooking.ScopeASID,
		ASID:    asid,
		Removed: removed,
	})

	return removed
}

// InvalidateAll empties every level, resets the replacement state and clears
// what the predictor learned.
func (h *Hierarchy) InvalidateAll() int {
	h.gens.bumpAll()

	removed := 0
	for _, l := range h.levels {
		n := l.store.InvalidateAll()
		l.invalidations.Add(uint64(n))
		removed += n
	}

	if h.predictor != nil {
		h.predictor.Reset()
	}

	h.notifyInvalidation(hooking.InvalidationEvent{
		Scope:   hooking.ScopeAll,
		Removed: removed,
	})

	return removed
}

func (h *Hierarchy) notifyInvalidation(evt hooking.InvalidationEvent) {
	h.log.WithFields(logrus.Fields{
		"scope":   evt.Scope.String(),
		"asid":    evt.ASID,
		"removed": evt.Removed,
	}).Debug("tlb shootdown")

	h.InvokeHook(hooking.HookCtx{
		Domain: h,
		Pos:    hooking.HookPosInvalidate,
		Item:   evt,
	})
}

// ActivateAddressSpace makes as the active address space of its ASID. If the
// ASID was bound to another root or mode, its translations are invalidated.
func (h *Hierarchy) ActivateAddressSpace(as vm.AddressSpace) {
	prev, displaced := h.spaces.Insert(as)
	if !displaced {
		return
	}

	h.log.WithFields(logrus.Fields{
		"asid":     as.ASID,
		"old_root": prev.Root,
		"new_root": as.Root,
		"mode":     as.Mode.String(),
	}).Debug("address space replaced")

	h.InvalidateASID(as.ASID)
}

// ReleaseAddressSpace unbinds the ASID and invalidates its translations so
// that the ASID can be reused.
func (h *Hierarchy) ReleaseAddressSpace(asid vm.ASID) {
	if _, found := h.spaces.Remove(asid); !found {
		return
	}

	h.InvalidateASID(asid)
}

// AddressSpace returns the active address space of the ASID.
func (h *Hierarchy) AddressSpace(asid vm.ASID) (vm.AddressSpace, bool) {
	return h.spaces.Find(asid)
}

// AddressSpaces lists the active address spaces ordered by ASID.
func (h *Hierarchy) AddressSpaces() []vm.AddressSpace {
	return h.spaces.List()
}
