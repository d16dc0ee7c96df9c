package workload

import (
	"fmt"

	"github.com/sarchlab/softmmu/config"
	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/mmu"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/mem/vm/walker"
	"github.com/sirupsen/logrus"
)

// A System is a complete translation stack: memory, walker, TLB and MMU.
//
// The top quarter of RAM holds page tables. Guest pages are backed by frames
// taken from the bottom of RAM, skipping the first frame.
type System struct {
	Memory *physmem.Backend
	Walker *walker.Walker
	TLB    *tlb.Hierarchy
	MMU    *mmu.Comp

	log       logrus.FieldLogger
	mapper    *walker.Mapper
	nextFrame uint64
	lastFrame uint64
}

// NewSystem builds a system from a valid configuration. Components are named
// after name.
func NewSystem(
	cfg config.Config,
	name string,
	logger logrus.FieldLogger,
) *System {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	mem := cfg.MemoryBuilder().WithLogger(logger).Build(name + ".Mem")
	w := cfg.WalkerBuilder(mem).WithLogger(logger).Build(name + ".Walker")
	h := cfg.HierarchyBuilder(w).WithLogger(logger).Build(name + ".TLB")
	m := cfg.MMUBuilder().
		WithHierarchy(h).
		WithMemory(mem).
		WithLogger(logger).
		Build(name + ".MMU")

	ramEnd := cfg.Memory.RAMBase + cfg.Memory.RAMSize
	tables := cfg.Memory.RAMBase + cfg.Memory.RAMSize/4*3
	tables &^= vm.PageMask

	return &System{
		Memory:    mem,
		Walker:    w,
		TLB:       h,
		MMU:       m,
		log:       logger.WithField("component", name),
		mapper:    walker.NewMapper(mem, walker.NewBumpAllocator(tables, ramEnd)),
		nextFrame: (cfg.Memory.RAMBase + vm.PageSize + vm.PageMask) &^ vm.PageMask,
		lastFrame: tables,
	}
}

// Mapper returns the mapper that edits the guest page tables.
func (s *System) Mapper() *walker.Mapper {
	return s.mapper
}

func (s *System) allocDataFrame() (uint64, error) {
	if s.nextFrame >= s.lastFrame {
		return 0, fmt.Errorf("out of data frames at 0x%x", s.nextFrame)
	}

	frame := s.nextFrame
	s.nextFrame += vm.PageSize

	return frame, nil
}

// MapGuest creates the address space of the ASID with pages user-writable
// pages starting at base and makes it active. Identity address spaces map
// nothing. MapGuest is not safe for concurrent use.
func (s *System) MapGuest(
	asid vm.ASID,
	mode vm.PagingMode,
	base uint64,
	pages int,
) (vm.AddressSpace, error) {
	as := vm.AddressSpace{ASID: asid, Mode: mode}

	if mode != vm.ModeIdentity {
		root, err := s.mapper.NewRoot(mode)
		if err != nil {
			return as, err
		}

		as.Root = root

		perm := vm.PermRead | vm.PermWrite | vm.PermUser
		for i := 0; i < pages; i++ {
			frame, err := s.allocDataFrame()
			if err != nil {
				return as, err
			}

			vaddr := base + uint64(i)*vm.PageSize

			err = s.mapper.Map(as, vaddr, frame, vm.PageSize, perm)
			if err != nil {
				return as, fmt.Errorf("mapping 0x%x: %w", vaddr, err)
			}
		}
	}

	s.TLB.ActivateAddressSpace(as)

	s.log.WithFields(logrus.Fields{
		"asid":  asid,
		"mode":  mode.String(),
		"base":  base,
		"pages": pages,
	}).Debug("guest address space mapped")

	return as, nil
}
