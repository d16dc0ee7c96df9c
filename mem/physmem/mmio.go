package physmem

import (
	"fmt"

	"github.com/google/btree"
)

// A Device is a memory-mapped peripheral. Offsets are relative to the base of
// the window that the device is mapped at. Sizes are 1, 2, 4 or 8 bytes and
// values are little-endian.
type Device interface {
	Read(offset uint64, size int) (uint64, error)
	Write(offset uint64, value uint64, size int) error
}

// A Window is a range of physical addresses that is served by a device.
type Window struct {
	Name   string
	Base   uint64
	Size   uint64
	Device Device
}

// End returns the first address after the window.
func (w *Window) End() uint64 {
	return w.Base + w.Size
}

// Contains checks if the window covers addr.
func (w *Window) Contains(addr uint64) bool {
	return addr >= w.Base && addr-w.Base < w.Size
}

func (w *Window) overlaps(base, size uint64) bool {
	return base < w.End() && w.Base < base+size
}

func (w *Window) String() string {
	return fmt.Sprintf("%s[0x%x, 0x%x)", w.Name, w.Base, w.End())
}

// windowIndex finds the device window that holds an address. Windows never
// overlap, so the window with the greatest base not above the address is the
// only candidate.
type windowIndex struct {
	tree *btree.BTreeG[*Window]
}

func newWindowIndex() *windowIndex {
	return &windowIndex{
		tree: btree.NewG(8, func(a, b *Window) bool {
			return a.Base < b.Base
		}),
	}
}

func (idx *windowIndex) find(addr uint64) *Window {
	var found *Window

	idx.tree.DescendLessOrEqual(&Window{Base: addr}, func(w *Window) bool {
		if w.Contains(addr) {
			found = w
		}

		return false
	})

	return found
}

func (idx *windowIndex) anyOverlap(base, size uint64) *Window {
	var overlapping *Window

	idx.tree.Ascend(func(w *Window) bool {
		if w.Base >= base+size {
			return false
		}

		if w.overlaps(base, size) {
			overlapping = w
			return false
		}

		return true
	})

	return overlapping
}

func (idx *windowIndex) insert(w *Window) {
	idx.tree.ReplaceOrInsert(w)
}

func (idx *windowIndex) remove(base uint64) (*Window, bool) {
	return idx.tree.Delete(&Window{Base: base})
}

func (idx *windowIndex) list() []*Window {
	windows := make([]*Window, 0, idx.tree.Len())
	idx.tree.Ascend(func(w *Window) bool {
		windows = append(windows, w)
		return true
	})

	return windows
}
