package walker

import (
	"github.com/sarchlab/softmmu/mem/vm"
)

type descKind uint8

const (
	descInvalid descKind = iota
	descTable
	descLeaf
	descReserved
)

// A descriptor is a decoded page table entry.
type descriptor struct {
	kind descKind

	// addr is the next table for table descriptors and the output frame for
	// leaves.
	addr uint64

	// attrs are the restrictions a table descriptor imposes on everything
	// below it. They are OR-ed along the walk.
	attrs uint64

	reason string
}

// A format describes how one paging mode lays out its tables. Levels are
// counted from the root, so level levels()-1 maps 4 KiB pages.
type format interface {
	levels() int
	indexBits() int
	pteSize() int
	canonical(vaddr uint64) bool
	leafAllowed(level int) bool
	decode(pte uint64, level int) descriptor

	// perm computes the effective permission of a leaf given the attributes
	// collected from the tables above it.
	perm(pte uint64, attrs uint64) vm.Perm

	// update returns the leaf with the accessed state set, plus the dirty
	// state for writes.
	update(pte uint64, access vm.AccessType) uint64

	encodeLeaf(paddr uint64, perm vm.Perm, level int) (uint64, error)
	encodeTable(paddr uint64) uint64
}

func shiftOf(f format, level int) uint {
	return uint(vm.Log2PageSize + (f.levels()-1-level)*f.indexBits())
}

func pageSizeOf(f format, level int) uint64 {
	return uint64(1) << shiftOf(f, level)
}

func indexOf(f format, vaddr uint64, level int) uint64 {
	return (vaddr >> shiftOf(f, level)) & (uint64(1)<<f.indexBits() - 1)
}

// levelForSize returns the level whose leaves map pages of the size.
func levelForSize(f format, size uint64) (int, bool) {
	for level := 0; level < f.levels(); level++ {
		if pageSizeOf(f, level) == size && f.leafAllowed(level) {
			return level, true
		}
	}

	return 0, false
}

// signExtended checks that the bits above vaBits repeat bit vaBits-1.
func signExtended(vaddr uint64, vaBits uint) bool {
	top := int64(vaddr) >> (vaBits - 1)
	return top == 0 || top == -1
}

var formats = map[vm.PagingMode]format{
	vm.ModeSv32:   sv32,
	vm.ModeSv39:   sv39,
	vm.ModeSv48:   sv48,
	vm.ModeARMv8:  armv8Format{},
	vm.ModeX86_64: x86Format{},
}

func formatOf(mode vm.PagingMode) (format, bool) {
	f, ok := formats[mode]
	return f, ok
}

// PageSizes lists the page sizes that a mode can map, smallest first.
func PageSizes(mode vm.PagingMode) []uint64 {
	f, ok := formatOf(mode)
	if !ok {
		return []uint64{vm.PageSize}
	}

	var sizes []uint64
	for level := f.levels() - 1; level >= 0; level-- {
		if f.leafAllowed(level) {
			sizes = append(sizes, pageSizeOf(f, level))
		}
	}

	return sizes
}
