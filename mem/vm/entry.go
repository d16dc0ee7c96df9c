package vm

import "fmt"

// An Entry is a validated translation that a TLB level can hold.
type Entry struct {
	VPN      VPN
	PPN      PPN
	ASID     ASID
	Perm     Perm
	PageSize uint64
	Valid    bool
}

// NewEntry creates a valid entry from a walk result.
func NewEntry(asid ASID, vpn VPN, res WalkResult) Entry {
	return Entry{
		VPN:      vpn,
		PPN:      res.PPN,
		ASID:     asid,
		Perm:     res.Perm,
		PageSize: res.PageSize,
		Valid:    true,
	}
}

// IsGlobal returns true if the entry is shared by all the address spaces.
func (e Entry) IsGlobal() bool {
	return e.Perm.Has(PermGlobal)
}

// Matches checks if the entry can serve a lookup for the page in the address
// space.
func (e Entry) Matches(asid ASID, vpn VPN) bool {
	return e.Valid && e.VPN == vpn && (e.ASID == asid || e.IsGlobal())
}

// PAddr returns the physical address that vAddr translates to.
func (e Entry) PAddr(vAddr uint64) uint64 {
	return e.PPN.Addr() | PageOffset(vAddr)
}

func (e Entry) String() string {
	return fmt.Sprintf("asid:%d %s -> %s [%s]", e.ASID, e.VPN, e.PPN, e.Perm)
}
