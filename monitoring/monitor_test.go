package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sirupsen/logrus/hooks/test"
)

// flatWalker maps every page to the frame with the same number plus 0x100.
type flatWalker struct{}

func (flatWalker) Walk(
	_ vm.AddressSpace,
	vaddr uint64,
	_ vm.AccessType,
	_ vm.Privilege,
) (vm.WalkResult, error) {
	ppn := vm.PPN(vm.PageNumber(vaddr) + 0x100)

	return vm.WalkResult{
		PAddr: ppn.Addr() | vm.PageOffset(vaddr),
		PPN:   ppn,
		Perm: vm.PermRead | vm.PermWrite | vm.PermUser |
			vm.PermAccessed | vm.PermDirty,
		PageSize: vm.PageSize,
	}, nil
}

type plainComponent struct {
	Label string
	Count int
}

func (c *plainComponent) Name() string { return "Plain" }

var _ = Describe("Monitor", func() {
	var (
		m       *Monitor
		h       *tlb.Hierarchy
		handler http.Handler
	)

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

		return rec
	}

	post := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, url, nil))

		return rec
	}

	translate := func(asid vm.ASID, vpns ...vm.VPN) {
		for _, vpn := range vpns {
			_, err := h.Translate(vm.AccessRequest{
				VAddr: vpn.Addr(),
				Type:  vm.AccessRead,
				ASID:  asid,
			})
			Expect(err).ToNot(HaveOccurred())
		}
	}

	BeforeEach(func() {
		logger, _ := test.NewNullLogger()

		h = tlb.MakeBuilder().
			WithWalker(flatWalker{}).
			WithLogger(logger).
			Build("TLB")
		h.ActivateAddressSpace(vm.AddressSpace{ASID: 1, Mode: vm.ModeSv39})
		h.ActivateAddressSpace(vm.AddressSpace{ASID: 2, Mode: vm.ModeSv39})

		m = NewMonitor().WithLogger(logger)
		m.RegisterHierarchy(h)
		m.RegisterComponent(&plainComponent{Label: "x", Count: 3})

		handler = m.Handler()
	})

	It("should list components by name", func() {
		rec := get("/api/list_components")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`["Plain", "TLB"]`))
	})

	It("should refuse to register a name twice", func() {
		Expect(func() { m.RegisterHierarchy(h) }).To(Panic())
	})

	It("should answer 404 for unknown components", func() {
		Expect(get("/api/stats/Nope").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/stats/Plain").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/tlb/Plain/entries/L1").Code).
			To(Equal(http.StatusNotFound))
	})

	It("should serialize a component", func() {
		rec := get("/api/component/Plain")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("Label"))
	})

	It("should report statistics", func() {
		translate(1, 0x10, 0x10, 0x11)

		stats := tlb.Stats{}
		rec := get("/api/stats/TLB")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(json.Unmarshal(rec.Body.Bytes(), &stats)).To(Succeed())
		Expect(stats.Lookups).To(Equal(uint64(3)))
		Expect(stats.Walks).To(Equal(uint64(2)))
		Expect(stats.Levels).To(HaveLen(tlb.NumLevels))
	})

	It("should list the entries of a level", func() {
		translate(1, 0x10, 0x11, 0x12)

		var entries []vm.Entry
		rec := get("/api/tlb/TLB/entries/l1?limit=2")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(json.Unmarshal(rec.Body.Bytes(), &entries)).To(Succeed())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].VPN).To(Equal(vm.VPN(0x10)))
		Expect(entries[0].PPN).To(Equal(vm.PPN(0x110)))

		Expect(get("/api/tlb/TLB/entries/walk").Code).
			To(Equal(http.StatusBadRequest))
		Expect(get("/api/tlb/TLB/entries/L1?limit=x").Code).
			To(Equal(http.StatusBadRequest))
	})

	It("should classify the access pattern of an address space", func() {
		translate(1, 0, 1, 2, 3, 4, 5, 6, 7)

		rec := get("/api/tlb/TLB/pattern/1")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).
			To(MatchJSON(`{"asid": 1, "pattern": "sequential"}`))

		rec = get("/api/tlb/TLB/pattern/9")
		Expect(rec.Body.String()).
			To(MatchJSON(`{"asid": 9, "pattern": "unknown"}`))

		Expect(get("/api/tlb/TLB/pattern/70000").Code).
			To(Equal(http.StatusBadRequest))
	})

	It("should list address spaces", func() {
		rec := get("/api/tlb/TLB/address_spaces")
		Expect(rec.Body.String()).To(MatchJSON(`[
			{"asid": 1, "mode": "sv39", "root": "0x0"},
			{"asid": 2, "mode": "sv39", "root": "0x0"}
		]`))
	})

	It("should refuse every request that is not a GET", func() {
		translate(1, 0x10)
		translate(2, 0x10)

		for _, url := range []string{
			"/api/stats/TLB",
			"/api/tlb/TLB/entries/L1",
			"/api/tlb/TLB/invalidate",
			"/api/tlb/TLB/invalidate?asid=1",
			"/api/reset_stats/TLB",
			"/index.html",
		} {
			Expect(post(url).Code).
				To(Equal(http.StatusMethodNotAllowed), "POST %s", url)
		}

		Expect(get("/api/tlb/TLB/invalidate").Code).
			To(Equal(http.StatusNotFound))
		Expect(h.Entries(tlb.LevelL1)).To(HaveLen(2))
		Expect(h.Stats().Lookups).To(Equal(uint64(2)))
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("bench", 10)
		bar.IncrementInProgress(4)
		bar.MoveInProgressToFinished(3)

		var bars []progressBarRsp
		Expect(json.Unmarshal(get("/api/progress").Body.Bytes(), &bars)).
			To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].ID).To(Equal(bar.ID))
		Expect(bars[0].Finished).To(Equal(uint64(3)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)
		Expect(get("/api/progress").Body.String()).To(MatchJSON(`[]`))
	})

	It("should serve the web page", func() {
		rec := get("/")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should fall back to a random port for reserved ports", func() {
		Expect(m.WithPortNumber(80).portNumber).To(Equal(0))
		Expect(m.WithPortNumber(8080).portNumber).To(Equal(8080))
	})
})
