package internal

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb/replacement"
)

func entry(asid vm.ASID, vpn vm.VPN, ppn vm.PPN) vm.Entry {
	return vm.Entry{
		ASID:     asid,
		VPN:      vpn,
		PPN:      ppn,
		Perm:     vm.PermRead | vm.PermUser | vm.PermAccessed,
		PageSize: vm.PageSize,
		Valid:    true,
	}
}

func globalEntry(vpn vm.VPN, ppn vm.PPN) vm.Entry {
	e := entry(1, vpn, ppn)
	e.Perm |= vm.PermGlobal

	return e
}

var _ = Describe("Store", func() {
	var s *Store

	BeforeEach(func() {
		s = NewStore(StoreConfig{
			Name:          "L1",
			Capacity:      8,
			NumShards:     2,
			Policy:        replacement.LRU,
			PolicyOptions: replacement.DefaultOptions(),
		})
	})

	It("should reject invalid configurations", func() {
		Expect(func() {
			NewStore(StoreConfig{Capacity: 0, NumShards: 1})
		}).To(Panic())
		Expect(func() {
			NewStore(StoreConfig{Capacity: 8, NumShards: 3})
		}).To(Panic())
		Expect(func() {
			NewStore(StoreConfig{Capacity: 2, NumShards: 4})
		}).To(Panic())
	})

	It("should report its geometry", func() {
		Expect(s.Name()).To(Equal("L1"))
		Expect(s.Policy()).To(Equal(replacement.LRU))
		Expect(s.NumShards()).To(Equal(2))
		Expect(s.Capacity()).To(Equal(12))
		Expect(s.Len()).To(Equal(0))
	})

	It("should find inserted entries", func() {
		s.Insert(entry(1, 0x10, 0x40))

		e, ok := s.Lookup(1, 0x10)
		Expect(ok).To(BeTrue())
		Expect(e.PPN).To(Equal(vm.PPN(0x40)))

		_, ok = s.Lookup(3, 0x10)
		Expect(ok).To(BeFalse())
	})

	It("should check for entries without touching the replacement order", func() {
		for vpn := vm.VPN(0); vpn < 4; vpn++ {
			s.Insert(entry(2, vpn, vm.PPN(vpn)))
		}

		Expect(s.Contains(2, 0)).To(BeTrue())
		Expect(s.Contains(2, 9)).To(BeFalse())

		evicted, ok := s.Insert(entry(2, 9, 9))
		Expect(ok).To(BeTrue())
		Expect(evicted.VPN).To(Equal(vm.VPN(0)))

		s.Insert(globalEntry(0x20, 0x20))
		Expect(s.Contains(6, 0x20)).To(BeTrue())
	})

	It("should replace an entry with the same key", func() {
		s.Insert(entry(1, 0x10, 0x40))
		_, evicted := s.Insert(entry(1, 0x10, 0x41))

		Expect(evicted).To(BeFalse())
		Expect(s.Len()).To(Equal(1))

		e, _ := s.Lookup(1, 0x10)
		Expect(e.PPN).To(Equal(vm.PPN(0x41)))
	})

	It("should evict within the shard of the ASID", func() {
		s.Insert(entry(1, 0x1, 0x1))
		s.Insert(entry(1, 0x2, 0x2))
		s.Insert(entry(3, 0x5, 0x5))
		s.Insert(entry(3, 0x6, 0x6))
		s.Insert(entry(2, 0x1, 0x3))
		s.Lookup(1, 0x1)

		victim, evicted := s.Insert(entry(3, 0x3, 0x4))
		Expect(evicted).To(BeTrue())
		Expect(victim.VPN).To(Equal(vm.VPN(0x2)))
		Expect(victim.ASID).To(Equal(vm.ASID(1)))

		_, ok := s.Lookup(2, 0x1)
		Expect(ok).To(BeTrue())
	})

	It("should share global entries with every ASID", func() {
		s.Insert(globalEntry(0x20, 0x80))

		for _, asid := range []vm.ASID{1, 2, 7} {
			e, ok := s.Lookup(asid, 0x20)
			Expect(ok).To(BeTrue())
			Expect(e.PPN).To(Equal(vm.PPN(0x80)))
		}
	})

	It("should prefer a private entry over a global one", func() {
		s.Insert(globalEntry(0x20, 0x80))
		s.Insert(entry(2, 0x20, 0x90))

		e, _ := s.Lookup(2, 0x20)
		Expect(e.PPN).To(Equal(vm.PPN(0x90)))
	})

	It("should remove the page and its global entry", func() {
		s.Insert(entry(1, 0x10, 0x40))
		s.Insert(entry(2, 0x10, 0x41))
		s.Insert(globalEntry(0x10, 0x42))

		Expect(s.InvalidatePage(1, 0x10)).To(Equal(2))

		_, ok := s.Lookup(1, 0x10)
		Expect(ok).To(BeFalse())

		e, ok := s.Lookup(2, 0x10)
		Expect(ok).To(BeTrue())
		Expect(e.PPN).To(Equal(vm.PPN(0x41)))
	})

	It("should remove an ASID but keep global entries", func() {
		s.Insert(entry(1, 0x10, 0x40))
		s.Insert(entry(1, 0x11, 0x41))
		s.Insert(entry(3, 0x10, 0x42))
		s.Insert(globalEntry(0x30, 0x43))

		Expect(s.InvalidateASID(1)).To(Equal(2))

		_, ok := s.Lookup(1, 0x10)
		Expect(ok).To(BeFalse())

		_, ok = s.Lookup(3, 0x10)
		Expect(ok).To(BeTrue())

		_, ok = s.Lookup(1, 0x30)
		Expect(ok).To(BeTrue())
	})

	It("should remove a range", func() {
		s.Insert(entry(1, 0x10, 0x40))
		s.Insert(entry(1, 0x12, 0x41))
		s.Insert(entry(1, 0x20, 0x42))
		s.Insert(globalEntry(0x11, 0x43))

		Expect(s.InvalidateRange(1, 0x10, 0x1f)).To(Equal(3))
		Expect(s.Len()).To(Equal(1))
	})

	It("should remove everything", func() {
		s.Insert(entry(1, 0x10, 0x40))
		s.Insert(entry(2, 0x10, 0x40))
		s.Insert(globalEntry(0x11, 0x43))

		Expect(s.InvalidateAll()).To(Equal(3))
		Expect(s.Len()).To(Equal(0))
		Expect(s.Entries()).To(BeEmpty())
	})

	It("should skip the insertion if the condition fails", func() {
		_, evicted := s.InsertIf(entry(1, 0x10, 0x40), func() bool {
			return false
		})

		Expect(evicted).To(BeFalse())
		_, ok := s.Lookup(1, 0x10)
		Expect(ok).To(BeFalse())
	})

	It("should list entries in order", func() {
		s.Insert(entry(2, 0x1, 0x1))
		s.Insert(entry(1, 0x9, 0x2))
		s.Insert(entry(1, 0x3, 0x3))

		entries := s.Entries()
		Expect(entries).To(HaveLen(3))
		Expect(entries[0].VPN).To(Equal(vm.VPN(0x3)))
		Expect(entries[1].VPN).To(Equal(vm.VPN(0x9)))
		Expect(entries[2].ASID).To(Equal(vm.ASID(2)))
	})

	It("should reuse freed slots before evicting", func() {
		s.Insert(entry(1, 0x1, 0x1))
		s.Insert(entry(1, 0x3, 0x2))
		s.InvalidatePage(1, 0x1)

		_, evicted := s.Insert(entry(1, 0x5, 0x3))
		Expect(evicted).To(BeFalse())
		Expect(s.Len()).To(Equal(2))
	})

	Context("when an address space is being flushed", func() {
		var flushing *sync.RWMutex

		BeforeEach(func() {
			s = NewStore(StoreConfig{
				Name:          "L1",
				Capacity:      8,
				NumShards:     1,
				Policy:        replacement.LRU,
				PolicyOptions: replacement.DefaultOptions(),
			})
			s.Insert(entry(5, 0x1, 0x1))
			s.Insert(entry(5, 0x2, 0x2))
			s.Insert(entry(7, 0x1, 0x3))

			flushing = s.shardOf(5).space(5)
			flushing.Lock()
		})

		AfterEach(func() {
			flushing.TryLock()
			flushing.Unlock()
		})

		It("should keep serving other address spaces", func() {
			removed := make(chan int, 1)
			go func() { removed <- s.InvalidateASID(5) }()

			served := make(chan vm.Entry, 1)
			go func() {
				s.Insert(entry(7, 0x2, 0x4))
				e, _ := s.Lookup(7, 0x1)
				served <- e
			}()

			Eventually(served).Should(Receive(HaveField("PPN", vm.PPN(0x3))))
			Consistently(removed).ShouldNot(Receive())

			flushing.Unlock()
			Eventually(removed).Should(Receive(Equal(2)))
			Expect(s.Contains(5, 0x1)).To(BeFalse())
			Expect(s.Contains(7, 0x2)).To(BeTrue())
		})

		It("should leave slots taken over by another address space", func() {
			flushing.Unlock()
			slots := s.shardOf(5).ownedSlots(5)
			Expect(slots).To(HaveLen(2))

			s.InvalidatePage(5, 0x1)
			s.InvalidatePage(5, 0x2)
			s.Insert(entry(7, 0x3, 0x5))
			s.Insert(entry(7, 0x4, 0x6))

			n := s.shardOf(5).removeBatch(5, slots, func(vm.Entry) bool {
				return true
			})
			Expect(n).To(BeZero())
			Expect(s.Len()).To(Equal(3))
		})
	})

	for _, kind := range replacement.AllKinds() {
		It("should serve concurrent readers and writers with "+kind.String(),
			func() {
				s := NewStore(StoreConfig{
					Name:          "L2",
					Capacity:      16,
					NumShards:     4,
					Policy:        kind,
					PolicyOptions: replacement.DefaultOptions(),
				})

				var wg sync.WaitGroup
				for g := 0; g < 8; g++ {
					wg.Add(1)

					go func(asid vm.ASID) {
						defer GinkgoRecover()
						defer wg.Done()

						for i := 0; i < 500; i++ {
							vpn := vm.VPN(i % 24)
							s.Insert(entry(asid, vpn, vm.PPN(vpn)+0x100))

							if e, ok := s.Lookup(asid, vpn); ok {
								Expect(e.ASID).To(Equal(asid))
								Expect(e.PPN).To(Equal(vm.PPN(vpn) + 0x100))
							}

							if i%50 == 0 {
								s.InvalidateASID(asid)
							}
						}
					}(vm.ASID(g + 1))
				}

				wg.Wait()
				Expect(s.Len()).To(BeNumerically("<=", s.Capacity()))
			})
	}
})
