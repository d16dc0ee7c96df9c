package walker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/softmmu/mem/vm"
)

// ErrNotMapped is returned when a virtual address has no leaf.
var ErrNotMapped = errors.New("address not mapped")

// A FrameAllocator hands out 4 KiB physical frames for page tables.
type FrameAllocator interface {
	AllocFrame() (uint64, error)
}

// BumpAllocator allocates frames from a fixed physical range and never frees
// them.
type BumpAllocator struct {
	sync.Mutex
	next uint64
	end  uint64
}

// NewBumpAllocator creates an allocator for [start, end). start is rounded up
// to a frame boundary.
func NewBumpAllocator(start, end uint64) *BumpAllocator {
	return &BumpAllocator{
		next: (start + vm.PageMask) &^ vm.PageMask,
		end:  end,
	}
}

// AllocFrame returns the next free frame.
func (a *BumpAllocator) AllocFrame() (uint64, error) {
	a.Lock()
	defer a.Unlock()

	if a.next >= a.end || a.end-a.next < vm.PageSize {
		return 0, fmt.Errorf("out of page table frames at 0x%x", a.next)
	}

	frame := a.next
	a.next += vm.PageSize

	return frame, nil
}

// Remaining returns the number of frames left.
func (a *BumpAllocator) Remaining() uint64 {
	a.Lock()
	defer a.Unlock()

	if a.next >= a.end {
		return 0
	}

	return (a.end - a.next) / vm.PageSize
}

// A Mapping is a leaf found in a page table.
type Mapping struct {
	VAddr uint64
	PAddr uint64
	Size  uint64
	Perm  vm.Perm
	Level int
}

// A Mapper edits guest page tables. It is not synchronized with the TLBs;
// callers must invalidate cached translations after Unmap and Protect.
type Mapper struct {
	mem   PTEMemory
	alloc FrameAllocator
}

// NewMapper creates a mapper that allocates tables with alloc.
func NewMapper(mem PTEMemory, alloc FrameAllocator) *Mapper {
	return &Mapper{mem: mem, alloc: alloc}
}

func mustFormat(mode vm.PagingMode) format {
	f, ok := formatOf(mode)
	if !ok {
		panic(fmt.Sprintf("paging mode %s has no page tables", mode))
	}

	return f
}

// NewRoot allocates an empty root table for the mode.
func (m *Mapper) NewRoot(mode vm.PagingMode) (uint64, error) {
	return m.newTable(mustFormat(mode))
}

func (m *Mapper) newTable(f format) (uint64, error) {
	frame, err := m.alloc.AllocFrame()
	if err != nil {
		return 0, err
	}

	size := f.pteSize()
	for off := uint64(0); off < vm.PageSize; off += uint64(size) {
		if err := m.mem.WritePTE(frame+off, size, 0); err != nil {
			return 0, err
		}
	}

	return frame, nil
}

// Map installs a leaf that maps the page of the given size at vaddr to paddr.
// Missing tables are allocated on the way. An existing leaf of the same size
// is replaced.
func (m *Mapper) Map(
	as vm.AddressSpace,
	vaddr, paddr, size uint64,
	perm vm.Perm,
) error {
	f := mustFormat(as.Mode)

	target, ok := levelForSize(f, size)
	if !ok {
		return fmt.Errorf("%s cannot map %d-byte pages", as.Mode, size)
	}

	if vaddr&(size-1) != 0 || paddr&(size-1) != 0 {
		return fmt.Errorf("mapping 0x%x -> 0x%x is not aligned to 0x%x",
			vaddr, paddr, size)
	}

	if !f.canonical(vaddr) {
		return fmt.Errorf("0x%x is not canonical", vaddr)
	}

	leaf, err := f.encodeLeaf(paddr, perm, target)
	if err != nil {
		return err
	}

	table := as.Root
	for level := 0; level < target; level++ {
		pteAddr := table + indexOf(f, vaddr, level)*uint64(f.pteSize())

		next, err := m.descend(f, pteAddr, level)
		if err != nil {
			return fmt.Errorf("mapping 0x%x: %w", vaddr, err)
		}

		table = next
	}

	pteAddr := table + indexOf(f, vaddr, target)*uint64(f.pteSize())

	pte, err := m.mem.ReadPTE(pteAddr, f.pteSize())
	if err != nil {
		return err
	}

	if target < f.levels()-1 && f.decode(pte, target).kind == descTable {
		return fmt.Errorf("mapping 0x%x would hide a page table", vaddr)
	}

	return m.mem.WritePTE(pteAddr, f.pteSize(), leaf)
}

// descend returns the table that the entry points to, allocating it if the
// entry is empty.
func (m *Mapper) descend(f format, pteAddr uint64, level int) (uint64, error) {
	pte, err := m.mem.ReadPTE(pteAddr, f.pteSize())
	if err != nil {
		return 0, err
	}

	d := f.decode(pte, level)
	switch d.kind {
	case descTable:
		return d.addr, nil
	case descLeaf:
		return 0, fmt.Errorf("already covered by a level %d superpage", level)
	case descReserved:
		return 0, fmt.Errorf("malformed level %d entry: %s", level, d.reason)
	}

	table, err := m.newTable(f)
	if err != nil {
		return 0, err
	}

	err = m.mem.WritePTE(pteAddr, f.pteSize(), f.encodeTable(table))
	if err != nil {
		return 0, err
	}

	return table, nil
}

// find locates the leaf that maps vaddr.
func (m *Mapper) find(
	f format,
	as vm.AddressSpace,
	vaddr uint64,
) (pteAddr, pte uint64, level int, attrs uint64, err error) {
	table := as.Root

	for level = 0; level < f.levels(); level++ {
		pteAddr = table + indexOf(f, vaddr, level)*uint64(f.pteSize())

		pte, err = m.mem.ReadPTE(pteAddr, f.pteSize())
		if err != nil {
			return 0, 0, 0, 0, err
		}

		d := f.decode(pte, level)
		switch d.kind {
		case descLeaf:
			return pteAddr, pte, level, attrs, nil
		case descTable:
			attrs |= d.attrs
			table = d.addr
		default:
			return 0, 0, 0, 0, ErrNotMapped
		}
	}

	return 0, 0, 0, 0, ErrNotMapped
}

// Lookup returns the leaf that maps vaddr without touching its accessed or
// dirty state.
func (m *Mapper) Lookup(as vm.AddressSpace, vaddr uint64) (Mapping, error) {
	f := mustFormat(as.Mode)

	_, pte, level, attrs, err := m.find(f, as, vaddr)
	if err != nil {
		return Mapping{}, err
	}

	size := pageSizeOf(f, level)
	d := f.decode(pte, level)

	return Mapping{
		VAddr: vaddr &^ (size - 1),
		PAddr: d.addr,
		Size:  size,
		Perm:  f.perm(pte, attrs),
		Level: level,
	}, nil
}

// Unmap removes the leaf that maps vaddr. Tables are not reclaimed.
func (m *Mapper) Unmap(as vm.AddressSpace, vaddr uint64) (Mapping, error) {
	mapping, err := m.Lookup(as, vaddr)
	if err != nil {
		return Mapping{}, err
	}

	f := mustFormat(as.Mode)

	pteAddr, _, _, _, err := m.find(f, as, vaddr)
	if err != nil {
		return Mapping{}, err
	}

	return mapping, m.mem.WritePTE(pteAddr, f.pteSize(), 0)
}

// Protect changes the permission of the leaf that maps vaddr.
func (m *Mapper) Protect(as vm.AddressSpace, vaddr uint64, perm vm.Perm) error {
	f := mustFormat(as.Mode)

	pteAddr, pte, level, _, err := m.find(f, as, vaddr)
	if err != nil {
		return err
	}

	leaf, err := f.encodeLeaf(f.decode(pte, level).addr, perm, level)
	if err != nil {
		return err
	}

	return m.mem.WritePTE(pteAddr, f.pteSize(), leaf)
}
