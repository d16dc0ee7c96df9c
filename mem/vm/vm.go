// Package vm defines the vocabulary shared by the address translation
// components: address spaces, paging modes, permissions, TLB entries and the
// faults that translation can raise.
package vm

import "fmt"

// The TLB caches translations at 4 KiB granularity regardless of the size of
// the leaf that produced them.
const (
	Log2PageSize = 12
	PageSize     = uint64(1) << Log2PageSize
	PageMask     = PageSize - 1
)

// ASID stands for Address-Space Identifier.
type ASID uint16

// GlobalASID is the identifier used when no address space is selected.
const GlobalASID ASID = 0

// VPN is a virtual page number.
type VPN uint64

// PPN is a physical page number.
type PPN uint64

// PageNumber returns the virtual page number that contains addr.
func PageNumber(addr uint64) VPN {
	return VPN(addr >> Log2PageSize)
}

// PageOffset returns the offset of addr within its page.
func PageOffset(addr uint64) uint64 {
	return addr & PageMask
}

// Addr returns the first virtual address of the page.
func (v VPN) Addr() uint64 {
	return uint64(v) << Log2PageSize
}

// Addr returns the first physical address of the page.
func (p PPN) Addr() uint64 {
	return uint64(p) << Log2PageSize
}

func (v VPN) String() string {
	return fmt.Sprintf("vpn:0x%x", uint64(v))
}

func (p PPN) String() string {
	return fmt.Sprintf("ppn:0x%x", uint64(p))
}

// AccessType tells what a memory request is going to do with the address.
type AccessType uint8

// All the access types.
const (
	AccessRead AccessType = iota
	AccessWrite
	AccessExecute
	AccessAtomic
)

// IsWrite returns true if the access modifies memory.
func (a AccessType) IsWrite() bool {
	return a == AccessWrite || a == AccessAtomic
}

func (a AccessType) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExecute:
		return "execute"
	case AccessAtomic:
		return "atomic"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// Privilege is the privilege level that issues a request.
type Privilege uint8

// Supported privilege levels.
const (
	PrivUser Privilege = iota
	PrivSupervisor
)

func (p Privilege) String() string {
	if p == PrivSupervisor {
		return "supervisor"
	}

	return "user"
}

// AccessRequest describes one memory access that needs a translation.
type AccessRequest struct {
	VAddr uint64
	Type  AccessType
	ASID  ASID
	Priv  Privilege
}

// VPN returns the virtual page number of the request.
func (r AccessRequest) VPN() VPN {
	return PageNumber(r.VAddr)
}

// WalkResult is what a page table walk produces.
type WalkResult struct {
	PAddr    uint64
	PPN      PPN
	Perm     Perm
	PageSize uint64

	// Level is the table level that held the leaf, counted from the root.
	Level int
}
