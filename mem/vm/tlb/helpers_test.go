package tlb

import (
	"fmt"

	"github.com/sarchlab/softmmu/mem/vm"
)

const fullPerm = vm.PermRead | vm.PermWrite | vm.PermUser |
	vm.PermAccessed | vm.PermDirty

var (
	as1 = vm.AddressSpace{ASID: 1, Root: 0x1000, Mode: vm.ModeSv39}
	as2 = vm.AddressSpace{ASID: 2, Root: 0x2000, Mode: vm.ModeSv39}
)

func result(vaddr uint64, ppn vm.PPN, perm vm.Perm) vm.WalkResult {
	return vm.WalkResult{
		PAddr:    ppn.Addr() | vm.PageOffset(vaddr),
		PPN:      ppn,
		Perm:     perm,
		PageSize: vm.PageSize,
		Level:    2,
	}
}

func read(asid vm.ASID, vaddr uint64) vm.AccessRequest {
	return vm.AccessRequest{VAddr: vaddr, Type: vm.AccessRead, ASID: asid}
}

func write(asid vm.ASID, vaddr uint64) vm.AccessRequest {
	return vm.AccessRequest{VAddr: vaddr, Type: vm.AccessWrite, ASID: asid}
}

// offsetWalker maps page v of ASID a to frame v + a*0x1000 + 0x40. Pages
// that are a multiple of faultEvery are not mapped.
type offsetWalker struct {
	faultEvery vm.VPN
}

func frameOf(asid vm.ASID, vpn vm.VPN) vm.PPN {
	return vm.PPN(uint64(vpn) + uint64(asid)*0x1000 + 0x40)
}

func (w offsetWalker) Walk(
	as vm.AddressSpace,
	vaddr uint64,
	access vm.AccessType,
	priv vm.Privilege,
) (vm.WalkResult, error) {
	vpn := vm.PageNumber(vaddr)
	if w.faultEvery != 0 && vpn%w.faultEvery == 0 {
		return vm.WalkResult{}, vm.NewPageFault(vaddr, access, priv,
			fmt.Sprintf("level 0 entry not present for %s", vpn))
	}

	return result(vaddr, frameOf(as.ASID, vpn), fullPerm), nil
}
