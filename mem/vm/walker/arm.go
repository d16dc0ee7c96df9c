package walker

import (
	"github.com/sarchlab/softmmu/mem/vm"
)

const (
	armValid    = uint64(1) << 0
	armTable    = uint64(1) << 1
	armAPUser   = uint64(1) << 6
	armAPRO     = uint64(1) << 7
	armAF       = uint64(1) << 10
	armNotGlob  = uint64(1) << 11
	armDBM      = uint64(1) << 51
	armPXN      = uint64(1) << 53
	armUXN      = uint64(1) << 54
	armPXNTable = uint64(1) << 59
	armUXNTable = uint64(1) << 60
	armAPTable0 = uint64(1) << 61
	armAPTable1 = uint64(1) << 62

	armAddrMask = uint64(0x0000_FFFF_FFFF_F000)
)

// Restrictions collected from table descriptors.
const (
	armAttrNoUser = uint64(1) << iota
	armAttrNoWrite
	armAttrUXN
	armAttrPXN
)

// armv8Format is the stage-1 layout with a 4 KiB granule and 48-bit input
// addresses. Blocks are 1 GiB at level 1 and 2 MiB at level 2.
//
// Hardware management of the access flag and of the dirty state is assumed.
// A writable-clean page has DBM set and AP[2] set, the first write clears
// AP[2].
type armv8Format struct{}

func (armv8Format) levels() int    { return 4 }
func (armv8Format) indexBits() int { return 9 }
func (armv8Format) pteSize() int   { return 8 }

func (armv8Format) canonical(vaddr uint64) bool {
	return signExtended(vaddr, 48)
}

func (armv8Format) leafAllowed(level int) bool {
	return level >= 1 && level <= 3
}

func (f armv8Format) decode(pte uint64, level int) descriptor {
	if pte&armValid == 0 {
		return descriptor{kind: descInvalid}
	}

	isTableBit := pte&armTable != 0

	if level == 3 {
		if !isTableBit {
			return descriptor{kind: descReserved,
				reason: "block descriptor at level 3"}
		}

		return descriptor{kind: descLeaf, addr: pte & armAddrMask}
	}

	if !isTableBit {
		if !f.leafAllowed(level) {
			return descriptor{kind: descReserved,
				reason: "block descriptor at level 0"}
		}

		return descriptor{kind: descLeaf, addr: pte & armAddrMask}
	}

	var attrs uint64
	if pte&armAPTable0 != 0 {
		attrs |= armAttrNoUser
	}

	if pte&armAPTable1 != 0 {
		attrs |= armAttrNoWrite
	}

	if pte&armUXNTable != 0 {
		attrs |= armAttrUXN
	}

	if pte&armPXNTable != 0 {
		attrs |= armAttrPXN
	}

	return descriptor{kind: descTable, addr: pte & armAddrMask, attrs: attrs}
}

func (armv8Format) perm(pte uint64, attrs uint64) vm.Perm {
	p := vm.PermRead

	readOnly := pte&armAPRO != 0
	if (!readOnly || pte&armDBM != 0) && attrs&armAttrNoWrite == 0 {
		p |= vm.PermWrite
	}

	if !readOnly {
		p |= vm.PermDirty
	}

	user := pte&armAPUser != 0 && attrs&armAttrNoUser == 0
	if user {
		p |= vm.PermUser
		if pte&armUXN == 0 && attrs&armAttrUXN == 0 {
			p |= vm.PermExec
		}
	} else if pte&armPXN == 0 && attrs&armAttrPXN == 0 {
		p |= vm.PermExec
	}

	if pte&armNotGlob == 0 {
		p |= vm.PermGlobal
	}

	if pte&armAF != 0 {
		p |= vm.PermAccessed
	}

	return p
}

func (armv8Format) update(pte uint64, access vm.AccessType) uint64 {
	pte |= armAF
	if access.IsWrite() && pte&armDBM != 0 {
		pte &^= armAPRO
	}

	return pte
}

func (armv8Format) encodeLeaf(paddr uint64, perm vm.Perm, level int) (uint64, error) {
	pte := armValid | paddr&armAddrMask
	if level == 3 {
		pte |= armTable
	}

	switch {
	case !perm.Has(vm.PermWrite):
		pte |= armAPRO
	case !perm.Has(vm.PermDirty):
		pte |= armAPRO | armDBM
	default:
		pte |= armDBM
	}

	if perm.Has(vm.PermUser) {
		pte |= armAPUser | armPXN
		if !perm.Has(vm.PermExec) {
			pte |= armUXN
		}
	} else {
		pte |= armUXN
		if !perm.Has(vm.PermExec) {
			pte |= armPXN
		}
	}

	if !perm.Has(vm.PermGlobal) {
		pte |= armNotGlob
	}

	if perm.Has(vm.PermAccessed) {
		pte |= armAF
	}

	return pte, nil
}

func (armv8Format) encodeTable(paddr uint64) uint64 {
	return armValid | armTable | paddr&armAddrMask
}
