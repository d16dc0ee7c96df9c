package walker

import (
	"errors"
	"fmt"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sirupsen/logrus"
	"go.uber.org/mock/gomock"
)

const (
	tableRegionStart = 8 << 20
	memSize          = 16 << 20
)

type testEnv struct {
	mem    *physmem.Backend
	mapper *Mapper
	walker *Walker
	as     vm.AddressSpace
}

func newTestEnv(mode vm.PagingMode) testEnv {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	mem := physmem.MakeBuilder().
		WithRAMSize(memSize).
		WithLogger(logger).
		Build("Mem")

	mapper := NewMapper(mem, NewBumpAllocator(tableRegionStart, memSize))
	w := MakeBuilder().
		WithMemory(mem).
		WithPhysicalMemorySize(memSize).
		WithLogger(logger).
		Build("Walker")

	as := vm.AddressSpace{ASID: 1, Mode: mode}
	if mode != vm.ModeIdentity {
		root, err := mapper.NewRoot(mode)
		Expect(err).ToNot(HaveOccurred())
		as.Root = root
	}

	return testEnv{mem: mem, mapper: mapper, walker: w, as: as}
}

func sampleVAddr(mode vm.PagingMode) uint64 {
	if mode == vm.ModeSv32 {
		return 0x1234_5000
	}

	return 0x12_3456_7000
}

func expectPageFault(err error, reason string) {
	var pf *vm.PageFault
	ExpectWithOffset(1, errors.As(err, &pf)).To(BeTrue(), "error: %v", err)
	ExpectWithOffset(1, pf.Reason).To(ContainSubstring(reason))
}

// leafAddr returns the physical address of the entry that maps vaddr.
func leafAddr(env testEnv, f format, vaddr uint64) uint64 {
	table := env.as.Root

	for level := 0; ; level++ {
		addr := table + indexOf(f, vaddr, level)*uint64(f.pteSize())

		pte, err := env.mem.ReadPTE(addr, f.pteSize())
		ExpectWithOffset(1, err).ToNot(HaveOccurred())

		d := f.decode(pte, level)
		if d.kind != descTable {
			return addr
		}

		table = d.addr
	}
}

// stallingMemory holds the first read of the target entry until released.
type stallingMemory struct {
	*physmem.Backend

	target  uint64
	stalled atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func (m *stallingMemory) ReadPTE(paddr uint64, size int) (uint64, error) {
	v, err := m.Backend.ReadPTE(paddr, size)

	if paddr == m.target && m.stalled.CompareAndSwap(false, true) {
		close(m.reached)
		<-m.release
	}

	return v, err
}

var radixModes = []vm.PagingMode{
	vm.ModeSv32, vm.ModeSv39, vm.ModeSv48, vm.ModeARMv8, vm.ModeX86_64,
}

var _ = Describe("Walker", func() {
	for _, mode := range radixModes {
		Context(fmt.Sprintf("in %s mode", mode), func() {
			var (
				env   testEnv
				vaddr uint64
			)

			BeforeEach(func() {
				env = newTestEnv(mode)
				vaddr = sampleVAddr(mode)
			})

			It("should translate a 4 KiB page", func() {
				Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
					vm.PermRead|vm.PermWrite|vm.PermUser)).To(Succeed())

				res, err := env.walker.Walk(env.as, vaddr+0x123,
					vm.AccessRead, vm.PrivUser)

				Expect(err).ToNot(HaveOccurred())
				Expect(res.PAddr).To(Equal(uint64(0x40123)))
				Expect(res.PPN).To(Equal(vm.PPN(0x40)))
				Expect(res.PageSize).To(Equal(vm.PageSize))
				Expect(res.Level).To(Equal(mustFormat(mode).levels() - 1))
				Expect(res.Perm.Has(vm.PermRead | vm.PermUser)).To(BeTrue())
			})

			It("should set the accessed bit on reads and the dirty bit on writes",
				func() {
					Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
						vm.PermRead|vm.PermWrite|vm.PermUser)).To(Succeed())

					res, err := env.walker.Walk(env.as, vaddr,
						vm.AccessRead, vm.PrivUser)
					Expect(err).ToNot(HaveOccurred())
					Expect(res.Perm.Has(vm.PermAccessed)).To(BeTrue())
					Expect(res.Perm.Has(vm.PermDirty)).To(BeFalse())

					m, err := env.mapper.Lookup(env.as, vaddr)
					Expect(err).ToNot(HaveOccurred())
					Expect(m.Perm.Has(vm.PermAccessed)).To(BeTrue())
					Expect(m.Perm.Has(vm.PermDirty)).To(BeFalse())

					res, err = env.walker.Walk(env.as, vaddr,
						vm.AccessWrite, vm.PrivUser)
					Expect(err).ToNot(HaveOccurred())
					Expect(res.Perm.Has(vm.PermDirty)).To(BeTrue())

					m, err = env.mapper.Lookup(env.as, vaddr)
					Expect(err).ToNot(HaveOccurred())
					Expect(m.Perm.Has(vm.PermDirty)).To(BeTrue())
				})

			It("should not write the entry back if nothing changed", func() {
				Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
					vm.PermRead|vm.PermUser|vm.PermAccessed)).To(Succeed())

				_, err := env.walker.Walk(env.as, vaddr, vm.AccessRead,
					vm.PrivUser)
				Expect(err).ToNot(HaveOccurred())
				Expect(env.walker.Stats().PTEWrites).To(Equal(uint64(0)))
			})

			It("should fault on a page that is not mapped", func() {
				_, err := env.walker.Walk(env.as, vaddr, vm.AccessRead,
					vm.PrivUser)

				expectPageFault(err, "not present")
				Expect(env.walker.Stats().Faults).To(Equal(uint64(1)))
			})

			It("should fault on a user access to a supervisor page", func() {
				Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
					vm.PermRead|vm.PermWrite)).To(Succeed())

				_, err := env.walker.Walk(env.as, vaddr, vm.AccessRead,
					vm.PrivUser)
				expectPageFault(err, "user access to supervisor page")

				_, err = env.walker.Walk(env.as, vaddr, vm.AccessRead,
					vm.PrivSupervisor)
				Expect(err).ToNot(HaveOccurred())
			})

			It("should fault on a write to a read-only page and leave it untouched",
				func() {
					Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
						vm.PermRead|vm.PermUser)).To(Succeed())

					_, err := env.walker.Walk(env.as, vaddr, vm.AccessWrite,
						vm.PrivUser)

					expectPageFault(err, "write to read-only page")

					var pf *vm.PageFault
					Expect(errors.As(err, &pf)).To(BeTrue())
					Expect(pf.IsWrite).To(BeTrue())
					Expect(pf.IsUser).To(BeTrue())
					Expect(pf.Addr).To(Equal(vaddr))

					m, err := env.mapper.Lookup(env.as, vaddr)
					Expect(err).ToNot(HaveOccurred())
					Expect(m.Perm.Has(vm.PermAccessed)).To(BeFalse())
				})

			It("should fault on executing a non-executable page", func() {
				Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
					vm.PermRead|vm.PermUser)).To(Succeed())

				_, err := env.walker.Walk(env.as, vaddr, vm.AccessExecute,
					vm.PrivUser)

				expectPageFault(err, "execute of non-executable page")
			})

			It("should fault on a supervisor executing a user page", func() {
				Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
					vm.PermRead|vm.PermExec|vm.PermUser)).To(Succeed())

				_, err := env.walker.Walk(env.as, vaddr, vm.AccessExecute,
					vm.PrivUser)
				Expect(err).ToNot(HaveOccurred())

				_, err = env.walker.Walk(env.as, vaddr, vm.AccessExecute,
					vm.PrivSupervisor)
				expectPageFault(err, "supervisor execute of user page")
			})

			It("should translate every superpage size", func() {
				for _, size := range PageSizes(mode)[1:] {
					base := size * 3
					frame := size * 5
					Expect(env.mapper.Map(env.as, base, frame, size,
						vm.PermRead|vm.PermUser)).To(Succeed())

					res, err := env.walker.Walk(env.as, base+size/2+0x123,
						vm.AccessRead, vm.PrivUser)

					Expect(err).ToNot(HaveOccurred())
					Expect(res.PAddr).To(Equal(frame + size/2 + 0x123))
					Expect(res.PageSize).To(Equal(size))
				}
			})

			It("should reject a mapping below a superpage", func() {
				size := PageSizes(mode)[1]
				Expect(env.mapper.Map(env.as, size, size, size,
					vm.PermRead)).To(Succeed())

				err := env.mapper.Map(env.as, size+vm.PageSize, 0x40000,
					vm.PageSize, vm.PermRead)
				Expect(err).To(MatchError(ContainSubstring("superpage")))
			})

			It("should fault after a page is unmapped", func() {
				Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
					vm.PermRead|vm.PermUser)).To(Succeed())

				m, err := env.mapper.Unmap(env.as, vaddr)
				Expect(err).ToNot(HaveOccurred())
				Expect(m.PAddr).To(Equal(uint64(0x40000)))

				_, err = env.walker.Walk(env.as, vaddr, vm.AccessRead,
					vm.PrivUser)
				expectPageFault(err, "not present")

				_, err = env.mapper.Unmap(env.as, vaddr)
				Expect(err).To(MatchError(ErrNotMapped))
			})

			It("should honor a permission change", func() {
				Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
					vm.PermRead|vm.PermWrite|vm.PermUser)).To(Succeed())
				Expect(env.mapper.Protect(env.as, vaddr,
					vm.PermRead|vm.PermUser)).To(Succeed())

				_, err := env.walker.Walk(env.as, vaddr, vm.AccessWrite,
					vm.PrivUser)
				expectPageFault(err, "write to read-only page")
			})

			It("should fault if the tables are outside physical memory", func() {
				as := env.as
				as.Root = memSize + vm.PageSize

				_, err := env.walker.Walk(as, vaddr, vm.AccessRead,
					vm.PrivUser)
				expectPageFault(err, "unreadable")
			})

			It("should fault on a misaligned root", func() {
				as := env.as
				as.Root += 8

				_, err := env.walker.Walk(as, vaddr, vm.AccessRead,
					vm.PrivUser)
				expectPageFault(err, "misaligned page table root")
			})
		})
	}

	Context("with 64-bit virtual addresses", func() {
		It("should reject non-canonical addresses", func() {
			for _, mode := range radixModes[1:] {
				env := newTestEnv(mode)

				_, err := env.walker.Walk(env.as, 0x0001_0000_0000_0000,
					vm.AccessRead, vm.PrivUser)
				expectPageFault(err, "non-canonical")
			}
		})

		It("should accept sign-extended high addresses", func() {
			env := newTestEnv(vm.ModeX86_64)
			vaddr := uint64(0xFFFF_8000_0000_0000)

			Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
				vm.PermRead)).To(Succeed())

			res, err := env.walker.Walk(env.as, vaddr, vm.AccessRead,
				vm.PrivSupervisor)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.PAddr).To(Equal(uint64(0x40000)))
		})
	})

	Context("in identity mode", func() {
		var env testEnv

		BeforeEach(func() {
			env = newTestEnv(vm.ModeIdentity)
		})

		It("should return the address unchanged", func() {
			res, err := env.walker.Walk(env.as, 0x1234, vm.AccessWrite,
				vm.PrivUser)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.PAddr).To(Equal(uint64(0x1234)))
			Expect(res.Perm.Allows(vm.AccessExecute, vm.PrivUser)).To(BeTrue())
		})

		It("should fault beyond physical memory", func() {
			_, err := env.walker.Walk(env.as, memSize, vm.AccessRead,
				vm.PrivUser)

			expectPageFault(err, "beyond physical memory")
		})
	})

	Context("with malformed tables", func() {
		It("should reject a RISC-V entry that is writable but not readable",
			func() {
				env := newTestEnv(vm.ModeSv39)
				pte := rvValid | rvWrite | (uint64(0x40) << rvPPNShift)
				Expect(env.mem.WritePTE(env.as.Root, 8, pte)).To(Succeed())

				_, err := env.walker.Walk(env.as, 0, vm.AccessRead,
					vm.PrivSupervisor)
				expectPageFault(err, "without read permission")
			})

		It("should reject a RISC-V leaf with reserved bits set", func() {
			env := newTestEnv(vm.ModeSv39)
			vaddr := sampleVAddr(vm.ModeSv39)
			Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
				vm.PermRead|vm.PermUser)).To(Succeed())

			addr := leafAddr(env, sv39, vaddr)
			pte, err := env.mem.ReadPTE(addr, 8)
			Expect(err).ToNot(HaveOccurred())
			Expect(env.mem.WritePTE(addr, 8, pte|uint64(1)<<54)).To(Succeed())

			_, err = env.walker.Walk(env.as, vaddr, vm.AccessRead,
				vm.PrivUser)
			expectPageFault(err, "reserved bits set")
		})

		It("should reject a misaligned superpage", func() {
			env := newTestEnv(vm.ModeSv39)
			pte := rvValid | rvRead | (uint64(0x40) << rvPPNShift)
			Expect(env.mem.WritePTE(env.as.Root, 8, pte)).To(Succeed())

			_, err := env.walker.Walk(env.as, 0, vm.AccessRead,
				vm.PrivSupervisor)
			expectPageFault(err, "misaligned superpage")
		})

		It("should reject a table pointer at the last level", func() {
			env := newTestEnv(vm.ModeSv32)
			table, err := env.mapper.newTable(sv32)
			Expect(err).ToNot(HaveOccurred())

			Expect(env.mem.WritePTE(env.as.Root, 4,
				sv32.encodeTable(table))).To(Succeed())
			Expect(env.mem.WritePTE(table, 4,
				sv32.encodeTable(0x40000))).To(Succeed())

			_, err = env.walker.Walk(env.as, 0, vm.AccessRead,
				vm.PrivSupervisor)
			expectPageFault(err, "table pointer at the last level")
		})

		It("should reject an ARM block descriptor at level 0", func() {
			env := newTestEnv(vm.ModeARMv8)
			Expect(env.mem.WritePTE(env.as.Root, 8, armValid)).To(Succeed())

			_, err := env.walker.Walk(env.as, 0, vm.AccessRead,
				vm.PrivSupervisor)
			expectPageFault(err, "block descriptor at level 0")
		})

		It("should reject the page size bit in a PML4 entry", func() {
			env := newTestEnv(vm.ModeX86_64)
			Expect(env.mem.WritePTE(env.as.Root, 8,
				x86Present|x86PageSize)).To(Succeed())

			_, err := env.walker.Walk(env.as, 0, vm.AccessRead,
				vm.PrivSupervisor)
			expectPageFault(err, "PML4")
		})
	})

	Context("with restrictions in upper levels", func() {
		It("should AND the x86 user bit across levels", func() {
			env := newTestEnv(vm.ModeX86_64)
			vaddr := sampleVAddr(vm.ModeX86_64)
			Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
				vm.PermRead|vm.PermUser)).To(Succeed())

			pml4eAddr := env.as.Root + indexOf(x86Format{}, vaddr, 0)*8
			pml4e, err := env.mem.ReadPTE(pml4eAddr, 8)
			Expect(err).ToNot(HaveOccurred())
			Expect(env.mem.WritePTE(pml4eAddr, 8, pml4e&^x86User)).
				To(Succeed())

			_, err = env.walker.Walk(env.as, vaddr, vm.AccessRead,
				vm.PrivUser)
			expectPageFault(err, "user access to supervisor page")
		})

		It("should OR the x86 no-execute bit across levels", func() {
			env := newTestEnv(vm.ModeX86_64)
			vaddr := sampleVAddr(vm.ModeX86_64)
			Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
				vm.PermRead|vm.PermExec)).To(Succeed())

			pml4eAddr := env.as.Root + indexOf(x86Format{}, vaddr, 0)*8
			pml4e, err := env.mem.ReadPTE(pml4eAddr, 8)
			Expect(err).ToNot(HaveOccurred())
			Expect(env.mem.WritePTE(pml4eAddr, 8, pml4e|x86NoExec)).
				To(Succeed())

			_, err = env.walker.Walk(env.as, vaddr, vm.AccessExecute,
				vm.PrivSupervisor)
			expectPageFault(err, "execute of non-executable page")
		})

		It("should honor the ARM APTable write restriction", func() {
			env := newTestEnv(vm.ModeARMv8)
			vaddr := sampleVAddr(vm.ModeARMv8)
			Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
				vm.PermRead|vm.PermWrite|vm.PermDirty)).To(Succeed())

			l0Addr := env.as.Root + indexOf(armv8Format{}, vaddr, 0)*8
			l0, err := env.mem.ReadPTE(l0Addr, 8)
			Expect(err).ToNot(HaveOccurred())
			Expect(env.mem.WritePTE(l0Addr, 8, l0|armAPTable1)).To(Succeed())

			_, err = env.walker.Walk(env.as, vaddr, vm.AccessWrite,
				vm.PrivSupervisor)
			expectPageFault(err, "write to read-only page")
		})

		It("should make a RISC-V mapping global below a global table", func() {
			env := newTestEnv(vm.ModeSv39)
			vaddr := sampleVAddr(vm.ModeSv39)
			Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
				vm.PermRead)).To(Succeed())

			rootEntry := env.as.Root + indexOf(sv39, vaddr, 0)*8
			pte, err := env.mem.ReadPTE(rootEntry, 8)
			Expect(err).ToNot(HaveOccurred())
			Expect(env.mem.WritePTE(rootEntry, 8, pte|rvGlobal)).To(Succeed())

			res, err := env.walker.Walk(env.as, vaddr, vm.AccessRead,
				vm.PrivSupervisor)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Perm.Has(vm.PermGlobal)).To(BeTrue())
		})
	})

	Context("when walks of the same page race", func() {
		It("should keep the dirty bit set by a concurrent write", func() {
			env := newTestEnv(vm.ModeSv39)
			vaddr := sampleVAddr(vm.ModeSv39)
			Expect(env.mapper.Map(env.as, vaddr, 0x40000, vm.PageSize,
				vm.PermRead|vm.PermWrite|vm.PermUser)).To(Succeed())

			mem := &stallingMemory{
				Backend: env.mem,
				target:  leafAddr(env, sv39, vaddr),
				reached: make(chan struct{}),
				release: make(chan struct{}),
			}
			reader := MakeBuilder().
				WithMemory(mem).
				WithPhysicalMemorySize(memSize).
				Build("Reader")

			done := make(chan error, 1)
			go func() {
				_, err := reader.Walk(env.as, vaddr, vm.AccessRead, vm.PrivUser)
				done <- err
			}()

			Eventually(mem.reached).Should(BeClosed())

			res, err := env.walker.Walk(env.as, vaddr, vm.AccessWrite,
				vm.PrivUser)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Perm.Has(vm.PermDirty)).To(BeTrue())

			close(mem.release)
			Eventually(done).Should(Receive(BeNil()))

			m, err := env.mapper.Lookup(env.as, vaddr)
			Expect(err).ToNot(HaveOccurred())
			Expect(m.Perm.Has(vm.PermAccessed | vm.PermDirty)).To(BeTrue())
			Expect(reader.Stats().Retries).To(Equal(uint64(1)))
		})
	})

	Context("when the entry cannot be written back", func() {
		var (
			mockCtrl *gomock.Controller
			mem      *MockPTEMemory
			w        *Walker
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			mem = NewMockPTEMemory(mockCtrl)
			w = MakeBuilder().WithMemory(mem).Build("Walker")
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should fault", func() {
			table := sv39.encodeTable(0x2000)
			leaf, _ := sv39.encodeLeaf(0x40000, vm.PermRead, 2)

			mem.EXPECT().ReadPTE(gomock.Any(), 8).Return(table, nil).Times(2)
			mem.EXPECT().ReadPTE(gomock.Any(), 8).Return(leaf, nil)
			mem.EXPECT().
				CompareAndSwapPTE(gomock.Any(), 8, leaf, leaf|rvAccessed).
				Return(false, errors.New("bus"))

			as := vm.AddressSpace{ASID: 1, Root: 0x1000, Mode: vm.ModeSv39}
			_, err := w.Walk(as, 0x5000, vm.AccessRead, vm.PrivSupervisor)

			expectPageFault(err, "not writable")
		})

		It("should walk again if the leaf changed before the update", func() {
			table := sv39.encodeTable(0x2000)
			leaf, _ := sv39.encodeLeaf(0x40000, vm.PermRead|vm.PermWrite, 2)
			dirty := leaf | rvAccessed | rvDirty

			gomock.InOrder(
				mem.EXPECT().ReadPTE(gomock.Any(), 8).Return(table, nil).Times(2),
				mem.EXPECT().ReadPTE(gomock.Any(), 8).Return(leaf, nil),
				mem.EXPECT().
					CompareAndSwapPTE(gomock.Any(), 8, leaf, leaf|rvAccessed).
					Return(false, nil),
				mem.EXPECT().ReadPTE(gomock.Any(), 8).Return(table, nil).Times(2),
				mem.EXPECT().ReadPTE(gomock.Any(), 8).Return(dirty, nil),
			)

			as := vm.AddressSpace{ASID: 1, Root: 0x1000, Mode: vm.ModeSv39}
			res, err := w.Walk(as, 0x5000, vm.AccessRead, vm.PrivSupervisor)

			Expect(err).ToNot(HaveOccurred())
			Expect(res.Perm.Has(vm.PermAccessed | vm.PermDirty)).To(BeTrue())
			Expect(w.Stats().Retries).To(Equal(uint64(1)))
			Expect(w.Stats().Faults).To(Equal(uint64(0)))
		})

		It("should give up if the leaf keeps changing", func() {
			table := sv39.encodeTable(0x2000)
			leaf, _ := sv39.encodeLeaf(0x40000, vm.PermRead, 2)

			reads := 0
			mem.EXPECT().ReadPTE(gomock.Any(), 8).
				DoAndReturn(func(uint64, int) (uint64, error) {
					reads++
					if reads%3 == 0 {
						return leaf, nil
					}

					return table, nil
				}).
				Times(3 * (maxWalkRetries + 1))
			mem.EXPECT().
				CompareAndSwapPTE(gomock.Any(), 8, leaf, leaf|rvAccessed).
				Return(false, nil).
				Times(maxWalkRetries + 1)

			as := vm.AddressSpace{ASID: 1, Root: 0x1000, Mode: vm.ModeSv39}
			_, err := w.Walk(as, 0x5000, vm.AccessRead, vm.PrivSupervisor)

			expectPageFault(err, "changed during the walk")
		})
	})

	It("should panic without a memory", func() {
		Expect(func() { MakeBuilder().Build("Walker") }).To(Panic())
	})
})

var _ = Describe("BumpAllocator", func() {
	It("should hand out aligned frames until it runs out", func() {
		a := NewBumpAllocator(0x1001, 0x4000)
		Expect(a.Remaining()).To(Equal(uint64(2)))

		f1, err := a.AllocFrame()
		Expect(err).ToNot(HaveOccurred())
		Expect(f1).To(Equal(uint64(0x2000)))

		f2, err := a.AllocFrame()
		Expect(err).ToNot(HaveOccurred())
		Expect(f2).To(Equal(uint64(0x3000)))

		_, err = a.AllocFrame()
		Expect(err).To(HaveOccurred())
		Expect(a.Remaining()).To(Equal(uint64(0)))
	})
})

var _ = Describe("PageSizes", func() {
	It("should list the sizes of each mode", func() {
		Expect(PageSizes(vm.ModeSv32)).To(Equal([]uint64{4 << 10, 4 << 20}))
		Expect(PageSizes(vm.ModeSv39)).
			To(Equal([]uint64{4 << 10, 2 << 20, 1 << 30}))
		Expect(PageSizes(vm.ModeSv48)).
			To(Equal([]uint64{4 << 10, 2 << 20, 1 << 30, 512 << 30}))
		Expect(PageSizes(vm.ModeX86_64)).
			To(Equal([]uint64{4 << 10, 2 << 20, 1 << 30}))
		Expect(PageSizes(vm.ModeARMv8)).
			To(Equal([]uint64{4 << 10, 2 << 20, 1 << 30}))
		Expect(PageSizes(vm.ModeIdentity)).To(Equal([]uint64{4 << 10}))
	})
})
