// Package tlb provides a three-level translation lookaside buffer that sits
// in front of a page table walker.
package tlb

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/sarchlab/softmmu/instrumentation/hooking"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb/predictor"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// A Walker resolves translations that no level holds.
type Walker interface {
	Walk(
		as vm.AddressSpace,
		vaddr uint64,
		access vm.AccessType,
		priv vm.Privilege,
	) (vm.WalkResult, error)
}

// A Translation is the result of a successful lookup.
type Translation struct {
	PAddr uint64
	Entry vm.Entry
	Level Level
}

// Hierarchy is a three-level TLB. Lookups go through L1, L2 and L3 in order.
// A hit in a lower level copies the entry to the levels above it. A miss in
// all the levels walks the page tables and fills the insertion levels.
//
// A Hierarchy is safe for concurrent use. Every virtual CPU calls it from its
// own goroutine.
type Hierarchy struct {
	hooking.HookableBase

	name      string
	log       *logrus.Entry
	walker    Walker
	predictor *predictor.Predictor
	spaces    *vm.AddressSpaceTable
	gens      *generations
	inflight  singleflight.Group

	levels         [NumLevels]*level
	inserts        [NumLevels]bool
	prefetchLevels []Level
	prefetchBudget int

	lookups          atomic.Uint64
	hits             atomic.Uint64
	walks            atomic.Uint64
	sharedWalks      atomic.Uint64
	rewalks          atomic.Uint64
	faults           atomic.Uint64
	prefetchIssued   atomic.Uint64
	prefetchInserted atomic.Uint64
	prefetchFaulted  atomic.Uint64
	staleInserts     atomic.Uint64
}

// Name returns the name of the hierarchy.
func (h *Hierarchy) Name() string {
	return h.name
}

// Predictor returns the predictor that drives prefetching, nil if prefetching
// is disabled.
func (h *Hierarchy) Predictor() *predictor.Predictor {
	return h.predictor
}

// Translate finds the physical address of the request.
func (h *Hierarchy) Translate(req vm.AccessRequest) (Translation, error) {
	h.lookups.Add(1)

	vpn := req.VPN()
	st := h.gens.stamp(req.ASID)

	if h.predictor != nil {
		h.predictor.Record(req.ASID, vpn)
	}

	for i, l := range h.levels {
		e, found := l.store.Lookup(req.ASID, vpn)
		if !found {
			l.misses.Add(1)
			continue
		}

		l.hits.Add(1)

		return h.serveHit(req, e, Level(i), st)
	}

	return h.walkAndFill(req, st, false)
}

func (h *Hierarchy) serveHit(
	req vm.AccessRequest,
	e vm.Entry,
	lvl Level,
	st stamp,
) (Translation, error) {
	if !e.Perm.Allows(req.Type, req.Priv) {
		return Translation{}, h.fault(req, denied(req, e.Perm))
	}

	if e.Perm.NeedsUpdate(req.Type) {
		h.rewalks.Add(1)
		return h.walkAndFill(req, st, true)
	}

	h.hits.Add(1)

	for i := LevelL1; i < lvl; i++ {
		h.insert(i, e, st)
	}

	t := Translation{PAddr: e.PAddr(req.VAddr), Entry: e, Level: lvl}
	h.invokeTranslate(req, t)

	return t, nil
}

type walkOutcome struct {
	entry vm.Entry
}

func (h *Hierarchy) walkAndFill(
	req vm.AccessRequest,
	st stamp,
	rewalk bool,
) (Translation, error) {
	as, found := h.spaces.Find(req.ASID)
	if !found {
		return Translation{}, h.fault(req,
			vm.NewPageFault(req.VAddr, req.Type, req.Priv,
				"no active address space"))
	}

	v, err, shared := h.inflight.Do(walkKey(req, st), func() (any, error) {
		return h.walk(as, req, st)
	})
	if shared {
		h.sharedWalks.Add(1)
	}

	if err != nil {
		return Translation{}, h.fault(req, rebase(err, req))
	}

	out := v.(walkOutcome)
	t := Translation{
		PAddr: out.entry.PAddr(req.VAddr),
		Entry: out.entry,
		Level: LevelWalk,
	}
	h.invokeTranslate(req, t)

	if !rewalk && !shared {
		h.prefetch(req, as, st)
	}

	return t, nil
}

func (h *Hierarchy) walk(
	as vm.AddressSpace,
	req vm.AccessRequest,
	st stamp,
) (walkOutcome, error) {
	h.walks.Add(1)

	res, err := h.walker.Walk(as, req.VAddr, req.Type, req.Priv)
	if err != nil {
		return walkOutcome{}, err
	}

	h.InvokeHook(hooking.HookCtx{
		Domain: h,
		Pos:    hooking.HookPosWalk,
		Item:   hooking.WalkEvent{Req: req, Result: res},
	})

	// Copies held by levels outside the insertion levels are refreshed too,
	// so that the accessed and dirty bits agree everywhere.
	e := vm.NewEntry(req.ASID, req.VPN(), res)
	for i, l := range h.levels {
		lvl := Level(i)
		if h.inserts[lvl] || l.store.Contains(e.ASID, e.VPN) {
			h.insert(lvl, e, st)
		}
	}

	return walkOutcome{entry: e}, nil
}

func (h *Hierarchy) insert(lvl Level, e vm.Entry, st stamp) bool {
	l := h.levels[lvl]

	stale := false
	evicted, didEvict := l.store.InsertIf(e, func() bool {
		stale = !h.gens.current(e.ASID, st, e.IsGlobal())
		return !stale
	})

	if stale {
		h.staleInserts.Add(1)
		return false
	}

	l.insertions.Add(1)

	if didEvict {
		l.evictions.Add(1)
		h.InvokeHook(hooking.HookCtx{
			Domain: h,
			Pos:    hooking.HookPosEvict,
			Item:   hooking.EvictionEvent{Level: lvl.String(), Entry: evicted},
		})
	}

	return true
}

// prefetch warms the prefetch levels with the pages that the predictor
// expects to follow the request.
func (h *Hierarchy) prefetch(req vm.AccessRequest, as vm.AddressSpace, st stamp) {
	if h.predictor == nil || h.prefetchBudget <= 0 {
		return
	}

	h.predictor.Predict(req.ASID, req.VPN(), h.prefetchBudget)

	for _, vpn := range h.predictor.Drain(req.ASID, h.prefetchBudget) {
		if h.resident(req.ASID, vpn) {
			continue
		}

		h.prefetchPage(req, as, vpn, st)
	}
}

func (h *Hierarchy) resident(asid vm.ASID, vpn vm.VPN) bool {
	for _, l := range h.prefetchLevels {
		if h.levels[l].store.Contains(asid, vpn) {
			return true
		}
	}

	return false
}

func (h *Hierarchy) prefetchPage(
	req vm.AccessRequest,
	as vm.AddressSpace,
	vpn vm.VPN,
	st stamp,
) {
	h.prefetchIssued.Add(1)

	pre := vm.AccessRequest{
		VAddr: vpn.Addr(),
		Type:  vm.AccessRead,
		ASID:  req.ASID,
		Priv:  req.Priv,
	}

	res, err := h.walker.Walk(as, pre.VAddr, pre.Type, pre.Priv)
	if err != nil {
		h.prefetchFaulted.Add(1)
		h.InvokeHook(hooking.HookCtx{
			Domain: h,
			Pos:    hooking.HookPosFault,
			Item:   hooking.FaultEvent{Req: pre, Err: err, Speculative: true},
		})

		return
	}

	h.InvokeHook(hooking.HookCtx{
		Domain: h,
		Pos:    hooking.HookPosWalk,
		Item: hooking.WalkEvent{
			Req:         pre,
			Result:      res,
			Speculative: true,
		},
	})

	e := vm.NewEntry(req.ASID, vpn, res)
	inserted := false

	for _, l := range h.prefetchLevels {
		if h.insert(l, e, st) {
			inserted = true
		}
	}

	if inserted {
		h.prefetchInserted.Add(1)
	}

	h.InvokeHook(hooking.HookCtx{
		Domain: h,
		Pos:    hooking.HookPosPrefetch,
		Item: hooking.PrefetchEvent{
			ASID:     req.ASID,
			VPN:      vpn,
			Inserted: inserted,
		},
	})
}

func (h *Hierarchy) fault(req vm.AccessRequest, err error) error {
	h.faults.Add(1)
	h.InvokeHook(hooking.HookCtx{
		Domain: h,
		Pos:    hooking.HookPosFault,
		Item:   hooking.FaultEvent{Req: req, Err: err},
	})

	return err
}

func (h *Hierarchy) invokeTranslate(req vm.AccessRequest, t Translation) {
	if h.NumHooks() == 0 {
		return
	}

	h.InvokeHook(hooking.HookCtx{
		Domain: h,
		Pos:    hooking.HookPosTranslate,
		Item: hooking.TranslationEvent{
			Req:   req,
			PAddr: t.PAddr,
			Level: t.Level.String(),
		},
	})
}

// walkKey identifies the walks that can share one result. Requests that
// started under different generations never share a walk.
func walkKey(req vm.AccessRequest, st stamp) string {
	b := make([]byte, 0, 64)
	b = strconv.AppendUint(b, uint64(req.ASID), 16)
	b = append(b, ':')
	b = strconv.AppendUint(b, uint64(req.VPN()), 16)
	b = append(b, ':', byte('0'+req.Type), byte('0'+req.Priv), ':')
	b = strconv.AppendUint(b, st.epoch, 16)
	b = append(b, '.')
	b = strconv.AppendUint(b, st.global, 16)
	b = append(b, '.')
	b = strconv.AppendUint(b, st.asid, 16)

	return string(b)
}

// rebase reports a fault shared with another request at the address of the
// request.
func rebase(err error, req vm.AccessRequest) error {
	var pf *vm.PageFault
	if !errors.As(err, &pf) || pf.Addr == req.VAddr {
		return err
	}

	f := *pf
	f.Addr = req.VAddr

	return &f
}

func denied(req vm.AccessRequest, perm vm.Perm) *vm.PageFault {
	var reason string

	switch {
	case req.Priv == vm.PrivUser && !perm.Has(vm.PermUser):
		reason = "user access to supervisor page"
	case req.Type == vm.AccessExecute && req.Priv == vm.PrivSupervisor &&
		perm.Has(vm.PermUser):
		reason = "supervisor execute of user page"
	case req.Type == vm.AccessExecute:
		reason = "execute of non-executable page"
	case req.Type.IsWrite() && !perm.Has(vm.PermWrite):
		reason = "write to read-only page"
	default:
		reason = "read of non-readable page"
	}

	return vm.NewPageFault(req.VAddr, req.Type, req.Priv, reason)
}

// Entries returns the entries held by a level, ordered by ASID and VPN.
func (h *Hierarchy) Entries(lvl Level) []vm.Entry {
	lvl.mustBeCaching()
	return h.levels[lvl].store.Entries()
}

// Stats returns a snapshot of the counters.
func (h *Hierarchy) Stats() Stats {
	s := Stats{
		Lookups:          h.lookups.Load(),
		Hits:             h.hits.Load(),
		Walks:            h.walks.Load(),
		SharedWalks:      h.sharedWalks.Load(),
		Rewalks:          h.rewalks.Load(),
		Faults:           h.faults.Load(),
		PrefetchIssued:   h.prefetchIssued.Load(),
		PrefetchInserted: h.prefetchInserted.Load(),
		PrefetchFaulted:  h.prefetchFaulted.Load(),
		StaleInserts:     h.staleInserts.Load(),
	}

	for _, l := range h.levels {
		s.Levels = append(s.Levels, l.stats())
	}

	if h.predictor != nil {
		ps := h.predictor.Stats()
		s.Predictor = &ps
	}

	return s
}

// ResetStats zeroes the counters. Cached translations are kept.
func (h *Hierarchy) ResetStats() {
	for _, l := range h.levels {
		l.resetStats()
	}

	h.lookups.Store(0)
	h.hits.Store(0)
	h.walks.Store(0)
	h.sharedWalks.Store(0)
	h.rewalks.Store(0)
	h.faults.Store(0)
	h.prefetchIssued.Store(0)
	h.prefetchInserted.Store(0)
	h.prefetchFaulted.Store(0)
	h.staleInserts.Store(0)

	if h.predictor != nil {
		h.predictor.ResetStats()
	}
}
