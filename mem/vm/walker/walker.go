// Package walker resolves virtual addresses by walking the guest page tables
// that live in guest physical memory.
package walker

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sirupsen/logrus"
)

// PTEMemory is the physical memory that holds page tables.
type PTEMemory interface {
	ReadPTE(paddr uint64, size int) (uint64, error)
	WritePTE(paddr uint64, size int, value uint64) error

	// CompareAndSwapPTE stores value only if the entry still holds old, and
	// reports whether it did.
	CompareAndSwapPTE(paddr uint64, size int, old, value uint64) (bool, error)
}

// maxWalkRetries bounds the restarts of a walk whose leaf was changed by
// another walker between the read and the accessed/dirty update.
const maxWalkRetries = 8

var errEntryChanged = errors.New("page table entry changed during the walk")

// A Walker translates one address at a time. It keeps no translation state
// and can be used by many goroutines at the same time.
type Walker struct {
	name    string
	log     *logrus.Entry
	mem     PTEMemory
	memSize uint64

	walks     atomic.Uint64
	faults    atomic.Uint64
	pteReads  atomic.Uint64
	pteWrites atomic.Uint64
	retries   atomic.Uint64
}

// Name returns the name of the walker.
func (w *Walker) Name() string {
	return w.name
}

// Walk translates vaddr in the address space. The accessed bit, and for
// writes the dirty bit, of the leaf is set in guest memory when the walk
// succeeds.
func (w *Walker) Walk(
	as vm.AddressSpace,
	vaddr uint64,
	access vm.AccessType,
	priv vm.Privilege,
) (vm.WalkResult, error) {
	w.walks.Add(1)

	for attempt := 0; ; attempt++ {
		res, err := w.walk(as, vaddr, access, priv)
		if errors.Is(err, errEntryChanged) {
			w.retries.Add(1)

			if attempt < maxWalkRetries {
				continue
			}

			err = vm.NewPageFault(vaddr, access, priv, errEntryChanged.Error())
		}

		if err != nil {
			w.faults.Add(1)
		}

		return res, err
	}
}

func (w *Walker) walk(
	as vm.AddressSpace,
	vaddr uint64,
	access vm.AccessType,
	priv vm.Privilege,
) (vm.WalkResult, error) {
	fault := func(format string, args ...any) (vm.WalkResult, error) {
		return vm.WalkResult{}, vm.NewPageFault(vaddr, access, priv,
			fmt.Sprintf(format, args...))
	}

	if as.Mode == vm.ModeIdentity {
		return w.walkIdentity(vaddr, access, priv)
	}

	f, ok := formatOf(as.Mode)
	if !ok {
		return fault("unsupported paging mode %s", as.Mode)
	}

	if !f.canonical(vaddr) {
		return fault("non-canonical address")
	}

	if as.Root&vm.PageMask != 0 {
		return fault("misaligned page table root 0x%x", as.Root)
	}

	table := as.Root
	attrs := uint64(0)

	for level := 0; level < f.levels(); level++ {
		pteAddr := table + indexOf(f, vaddr, level)*uint64(f.pteSize())

		pte, err := w.mem.ReadPTE(pteAddr, f.pteSize())
		if err != nil {
			return fault("level %d entry at 0x%x unreadable: %v",
				level, pteAddr, err)
		}
		w.pteReads.Add(1)

		d := f.decode(pte, level)
		switch d.kind {
		case descInvalid:
			return fault("level %d entry not present", level)
		case descReserved:
			return fault("malformed level %d entry: %s", level, d.reason)
		case descTable:
			if level == f.levels()-1 {
				return fault("table pointer at the last level")
			}

			attrs |= d.attrs
			table = d.addr

			continue
		}

		return w.finishLeaf(f, pteAddr, pte, d, attrs, level,
			vaddr, access, priv)
	}

	panic("page table walk fell through the last level")
}

func (w *Walker) finishLeaf(
	f format,
	pteAddr, pte uint64,
	d descriptor,
	attrs uint64,
	level int,
	vaddr uint64,
	access vm.AccessType,
	priv vm.Privilege,
) (vm.WalkResult, error) {
	size := pageSizeOf(f, level)
	if d.addr&(size-1) != 0 {
		return vm.WalkResult{}, vm.NewPageFault(vaddr, access, priv,
			fmt.Sprintf("misaligned superpage at level %d", level))
	}

	perm := f.perm(pte, attrs)
	if !perm.Allows(access, priv) {
		return vm.WalkResult{}, vm.NewPageFault(vaddr, access, priv,
			denyReason(perm, access, priv))
	}

	// The leaf may have changed since it was read. The swap fails in that
	// case and the walk starts over, so bits set by another walker survive.
	updated := f.update(pte, access)
	if updated != pte {
		swapped, err := w.mem.CompareAndSwapPTE(pteAddr, f.pteSize(),
			pte, updated)
		if err != nil {
			return vm.WalkResult{}, vm.NewPageFault(vaddr, access, priv,
				fmt.Sprintf("level %d entry at 0x%x not writable: %v",
					level, pteAddr, err))
		}

		if !swapped {
			return vm.WalkResult{}, errEntryChanged
		}
		w.pteWrites.Add(1)

		perm = f.perm(updated, attrs)
	}

	paddr := d.addr | vaddr&(size-1)

	return vm.WalkResult{
		PAddr:    paddr,
		PPN:      vm.PPN(paddr >> vm.Log2PageSize),
		Perm:     perm,
		PageSize: size,
		Level:    level,
	}, nil
}

func (w *Walker) walkIdentity(
	vaddr uint64,
	access vm.AccessType,
	priv vm.Privilege,
) (vm.WalkResult, error) {
	if vaddr >= w.memSize {
		return vm.WalkResult{}, vm.NewPageFault(vaddr, access, priv,
			"beyond physical memory")
	}

	return vm.WalkResult{
		PAddr:    vaddr,
		PPN:      vm.PPN(vaddr >> vm.Log2PageSize),
		Perm:     vm.PermRWX | vm.PermUser | vm.PermAccessed | vm.PermDirty,
		PageSize: vm.PageSize,
	}, nil
}

func denyReason(perm vm.Perm, access vm.AccessType, priv vm.Privilege) string {
	switch {
	case priv == vm.PrivUser && !perm.Has(vm.PermUser):
		return "user access to supervisor page"
	case access == vm.AccessExecute && priv == vm.PrivSupervisor &&
		perm.Has(vm.PermUser):
		return "supervisor execute of user page"
	case access == vm.AccessExecute:
		return "execute of non-executable page"
	case access.IsWrite() && !perm.Has(vm.PermWrite):
		return "write to read-only page"
	default:
		return "read of non-readable page"
	}
}

// Stats is a snapshot of the walker counters.
type Stats struct {
	Walks     uint64 `json:"walks"`
	Faults    uint64 `json:"faults"`
	PTEReads  uint64 `json:"pte_reads"`
	PTEWrites uint64 `json:"pte_writes"`
	Retries   uint64 `json:"retries"`
}

// Stats returns the current counters.
func (w *Walker) Stats() Stats {
	return Stats{
		Walks:     w.walks.Load(),
		Faults:    w.faults.Load(),
		PTEReads:  w.pteReads.Load(),
		PTEWrites: w.pteWrites.Load(),
		Retries:   w.retries.Load(),
	}
}
