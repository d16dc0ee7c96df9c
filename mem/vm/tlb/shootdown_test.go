package tlb

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/softmmu/instrumentation/hooking"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sirupsen/logrus/hooks/test"
)

var _ = Describe("Shootdown", func() {
	var (
		h      *Hierarchy
		events []hooking.InvalidationEvent
	)

	fill := func(asid vm.ASID, first, last vm.VPN) {
		for vpn := first; vpn <= last; vpn++ {
			_, err := h.Translate(read(asid, vpn.Addr()))
			Expect(err).ToNot(HaveOccurred())
		}
	}

	BeforeEach(func() {
		logger, _ := test.NewNullLogger()
		h = MakeBuilder().
			WithWalker(offsetWalker{}).
			WithPredictor(nil).
			WithLogger(logger).
			Build("TLB")
		h.ActivateAddressSpace(as1)
		h.ActivateAddressSpace(as2)

		events = nil
		h.AcceptHook(&hooking.FuncHook{F: func(ctx hooking.HookCtx) {
			if ctx.Pos == hooking.HookPosInvalidate {
				events = append(events, ctx.Item.(hooking.InvalidationEvent))
			}
		}})
	})

	It("should remove a page from every level and tell the hooks", func() {
		fill(1, 1, 2)

		Expect(h.InvalidatePage(1, vm.VPN(1).Addr()+0x10)).To(Equal(3))

		Expect(events).To(Equal([]hooking.InvalidationEvent{{
			Scope:   hooking.ScopePage,
			ASID:    1,
			First:   1,
			Last:    1,
			Removed: 3,
		}}))

		for _, lvl := range []Level{LevelL1, LevelL2, LevelL3} {
			entries := h.Entries(lvl)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].VPN).To(Equal(vm.VPN(2)))
		}

		t, err := h.Translate(read(1, vm.VPN(1).Addr()))
		Expect(err).ToNot(HaveOccurred())
		Expect(t.Level).To(Equal(LevelWalk))
	})

	It("should remove small and large ranges", func() {
		fill(1, 0, 39)
		fill(2, 0, 3)

		Expect(h.InvalidateRange(1, 0, 0)).To(BeZero())
		Expect(h.InvalidateRange(1, 0x10, 5*vm.PageSize-0x10)).To(Equal(15))
		Expect(h.InvalidateRange(1, 0, 40*vm.PageSize)).To(Equal(105))

		for _, e := range h.Entries(LevelL3) {
			Expect(e.ASID).To(Equal(vm.ASID(2)))
		}

		Expect(events).To(HaveLen(2))
		Expect(events[0].Scope).To(Equal(hooking.ScopeRange))
		Expect(events[0].First).To(Equal(vm.VPN(0)))
		Expect(events[0].Last).To(Equal(vm.VPN(4)))
		Expect(events[1].Last).To(Equal(vm.VPN(39)))
	})

	It("should clamp a range that wraps around", func() {
		top := ^uint64(0) &^ vm.PageMask
		Expect(h.InvalidateRange(1, top, 2*vm.PageSize)).To(BeZero())
		Expect(events[0].Last).To(Equal(vm.PageNumber(^uint64(0))))
	})

	It("should remove an address space", func() {
		fill(1, 0, 3)
		fill(2, 0, 3)

		Expect(h.InvalidateASID(2)).To(Equal(12))
		Expect(h.Entries(LevelL2)).To(HaveLen(4))
		Expect(events[0].Scope).To(Equal(hooking.ScopeASID))
	})

	It("should remove everything", func() {
		fill(1, 0, 1)
		fill(2, 0, 1)

		Expect(h.InvalidateAll()).To(Equal(12))

		for _, lvl := range []Level{LevelL1, LevelL2, LevelL3} {
			Expect(h.Entries(lvl)).To(BeEmpty())
		}

		Expect(events).To(Equal([]hooking.InvalidationEvent{{
			Scope:   hooking.ScopeAll,
			Removed: 12,
		}}))
	})

	It("should make the predictor forget", func() {
		p := h.Predictor()
		Expect(p).To(BeNil())

		logger, _ := test.NewNullLogger()
		h = MakeBuilder().
			WithWalker(offsetWalker{}).
			WithLogger(logger).
			Build("TLB")
		h.ActivateAddressSpace(as1)

		fill(1, 0, 3)
		Expect(h.Predictor().ASIDs()).To(ConsistOf(vm.ASID(1)))

		h.InvalidateASID(1)
		Expect(h.Predictor().ASIDs()).To(BeEmpty())

		fill(1, 0, 3)
		h.InvalidateAll()
		Expect(h.Predictor().ASIDs()).To(BeEmpty())
	})
})
