package walker

import (
	"github.com/sarchlab/softmmu/mem/vm"
)

const (
	x86Present  = uint64(1) << 0
	x86Write    = uint64(1) << 1
	x86User     = uint64(1) << 2
	x86Accessed = uint64(1) << 5
	x86Dirty    = uint64(1) << 6
	x86PageSize = uint64(1) << 7
	x86Global   = uint64(1) << 8
	x86PAT      = uint64(1) << 12
	x86NoExec   = uint64(1) << 63

	x86AddrMask = uint64(0x000F_FFFF_FFFF_F000)
)

// Restrictions collected from the upper levels. Write and user access must be
// granted at every level, while no-execute at any level applies.
const (
	x86AttrNoWrite = uint64(1) << iota
	x86AttrNoUser
	x86AttrNoExec
)

// x86Format is the four-level long mode layout with 2 MiB and 1 GiB pages.
type x86Format struct{}

func (x86Format) levels() int    { return 4 }
func (x86Format) indexBits() int { return 9 }
func (x86Format) pteSize() int   { return 8 }

func (x86Format) canonical(vaddr uint64) bool {
	return signExtended(vaddr, 48)
}

func (x86Format) leafAllowed(level int) bool {
	return level >= 1 && level <= 3
}

func (f x86Format) decode(pte uint64, level int) descriptor {
	if pte&x86Present == 0 {
		return descriptor{kind: descInvalid}
	}

	if level == 3 {
		return descriptor{kind: descLeaf, addr: pte & x86AddrMask}
	}

	if pte&x86PageSize != 0 {
		if level == 0 {
			return descriptor{kind: descReserved,
				reason: "page size bit set in a PML4 entry"}
		}

		// Bit 12 selects the PAT entry of large pages.
		return descriptor{kind: descLeaf, addr: pte & x86AddrMask &^ x86PAT}
	}

	var attrs uint64
	if pte&x86Write == 0 {
		attrs |= x86AttrNoWrite
	}

	if pte&x86User == 0 {
		attrs |= x86AttrNoUser
	}

	if pte&x86NoExec != 0 {
		attrs |= x86AttrNoExec
	}

	return descriptor{kind: descTable, addr: pte & x86AddrMask, attrs: attrs}
}

func (x86Format) perm(pte uint64, attrs uint64) vm.Perm {
	p := vm.PermRead

	if pte&x86Write != 0 && attrs&x86AttrNoWrite == 0 {
		p |= vm.PermWrite
	}

	if pte&x86User != 0 && attrs&x86AttrNoUser == 0 {
		p |= vm.PermUser
	}

	if pte&x86NoExec == 0 && attrs&x86AttrNoExec == 0 {
		p |= vm.PermExec
	}

	if pte&x86Global != 0 {
		p |= vm.PermGlobal
	}

	if pte&x86Accessed != 0 {
		p |= vm.PermAccessed
	}

	if pte&x86Dirty != 0 {
		p |= vm.PermDirty
	}

	return p
}

func (x86Format) update(pte uint64, access vm.AccessType) uint64 {
	pte |= x86Accessed
	if access.IsWrite() {
		pte |= x86Dirty
	}

	return pte
}

func (x86Format) encodeLeaf(paddr uint64, perm vm.Perm, level int) (uint64, error) {
	pte := x86Present | paddr&x86AddrMask
	if level < 3 {
		pte |= x86PageSize
	}

	if perm.Has(vm.PermWrite) {
		pte |= x86Write
	}

	if perm.Has(vm.PermUser) {
		pte |= x86User
	}

	if !perm.Has(vm.PermExec) {
		pte |= x86NoExec
	}

	if perm.Has(vm.PermGlobal) {
		pte |= x86Global
	}

	if perm.Has(vm.PermAccessed) {
		pte |= x86Accessed
	}

	if perm.Has(vm.PermDirty) {
		pte |= x86Dirty
	}

	return pte, nil
}

// Tables grant everything and leave the restrictions to the leaves.
func (x86Format) encodeTable(paddr uint64) uint64 {
	return x86Present | x86Write | x86User | paddr&x86AddrMask
}
