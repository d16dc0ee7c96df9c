package walker

import (
	"fmt"

	"github.com/sarchlab/softmmu/mem/vm"
)

const (
	rvValid    = uint64(1) << 0
	rvRead     = uint64(1) << 1
	rvWrite    = uint64(1) << 2
	rvExec     = uint64(1) << 3
	rvUser     = uint64(1) << 4
	rvGlobal   = uint64(1) << 5
	rvAccessed = uint64(1) << 6
	rvDirty    = uint64(1) << 7

	rvPPNShift = 10

	// Bits 54 to 63 of Sv39 and Sv48 entries are reserved.
	rvReservedMask = uint64(0x3FF) << 54

	// A global table makes every mapping below it global.
	rvAttrGlobal = uint64(1)
)

// riscvFormat covers Sv32, Sv39 and Sv48. They only differ in the number of
// levels and the width of the entries.
type riscvFormat struct {
	numLevels int
	entrySize int
	idxBits   int
	vaBits    uint
}

var (
	sv32 = riscvFormat{numLevels: 2, entrySize: 4, idxBits: 10, vaBits: 32}
	sv39 = riscvFormat{numLevels: 3, entrySize: 8, idxBits: 9, vaBits: 39}
	sv48 = riscvFormat{numLevels: 4, entrySize: 8, idxBits: 9, vaBits: 48}
)

func (f riscvFormat) levels() int    { return f.numLevels }
func (f riscvFormat) indexBits() int { return f.idxBits }
func (f riscvFormat) pteSize() int   { return f.entrySize }

func (f riscvFormat) canonical(vaddr uint64) bool {
	if f.entrySize == 4 {
		return vaddr>>32 == 0
	}

	return signExtended(vaddr, f.vaBits)
}

func (f riscvFormat) leafAllowed(level int) bool {
	return level >= 0 && level < f.numLevels
}

func (f riscvFormat) frame(pte uint64) uint64 {
	ppn := pte >> rvPPNShift
	if f.entrySize == 8 {
		ppn &= uint64(1)<<44 - 1
	}

	return ppn << vm.Log2PageSize
}

func (f riscvFormat) decode(pte uint64, level int) descriptor {
	if pte&rvValid == 0 {
		return descriptor{kind: descInvalid}
	}

	if f.entrySize == 8 && pte&rvReservedMask != 0 {
		return descriptor{kind: descReserved, reason: "reserved bits set"}
	}

	if pte&rvWrite != 0 && pte&rvRead == 0 {
		return descriptor{kind: descReserved,
			reason: "writable entry without read permission"}
	}

	if pte&(rvRead|rvWrite|rvExec) == 0 {
		if pte&(rvAccessed|rvDirty|rvUser) != 0 {
			return descriptor{kind: descReserved,
				reason: "non-leaf entry with A, D or U set"}
		}

		d := descriptor{kind: descTable, addr: f.frame(pte)}
		if pte&rvGlobal != 0 {
			d.attrs = rvAttrGlobal
		}

		return d
	}

	return descriptor{kind: descLeaf, addr: f.frame(pte)}
}

func (f riscvFormat) perm(pte uint64, attrs uint64) vm.Perm {
	bits := []struct {
		pte  uint64
		perm vm.Perm
	}{
		{rvRead, vm.PermRead},
		{rvWrite, vm.PermWrite},
		{rvExec, vm.PermExec},
		{rvUser, vm.PermUser},
		{rvGlobal, vm.PermGlobal},
		{rvAccessed, vm.PermAccessed},
		{rvDirty, vm.PermDirty},
	}

	var p vm.Perm
	for _, b := range bits {
		if pte&b.pte != 0 {
			p |= b.perm
		}
	}

	if attrs&rvAttrGlobal != 0 {
		p |= vm.PermGlobal
	}

	return p
}

func (f riscvFormat) update(pte uint64, access vm.AccessType) uint64 {
	pte |= rvAccessed
	if access.IsWrite() {
		pte |= rvDirty
	}

	return pte
}

func (f riscvFormat) encodeLeaf(paddr uint64, perm vm.Perm, level int) (uint64, error) {
	if perm.Has(vm.PermWrite) && !perm.Has(vm.PermRead) {
		return 0, fmt.Errorf("writable mapping without read permission")
	}

	if !perm.Has(vm.PermRead) && !perm.Has(vm.PermExec) {
		return 0, fmt.Errorf("mapping grants neither read nor execute")
	}

	pte := rvValid | (paddr>>vm.Log2PageSize)<<rvPPNShift

	bits := []struct {
		perm vm.Perm
		pte  uint64
	}{
		{vm.PermRead, rvRead},
		{vm.PermWrite, rvWrite},
		{vm.PermExec, rvExec},
		{vm.PermUser, rvUser},
		{vm.PermGlobal, rvGlobal},
		{vm.PermAccessed, rvAccessed},
		{vm.PermDirty, rvDirty},
	}
	for _, b := range bits {
		if perm.Has(b.perm) {
			pte |= b.pte
		}
	}

	return pte, nil
}

func (f riscvFormat) encodeTable(paddr uint64) uint64 {
	return rvValid | (paddr>>vm.Log2PageSize)<<rvPPNShift
}
