package vm

import (
	"fmt"
	"strings"
)

// PagingMode selects the page table format of an address space.
type PagingMode uint8

// All the supported paging modes.
const (
	// ModeIdentity performs no translation.
	ModeIdentity PagingMode = iota
	// ModeSv32 is the two-level RISC-V scheme with 4 MiB superpages.
	ModeSv32
	// ModeSv39 is the three-level RISC-V scheme.
	ModeSv39
	// ModeSv48 is the four-level RISC-V scheme.
	ModeSv48
	// ModeARMv8 is the AArch64 stage-1 scheme with a 4 KiB granule and
	// 48-bit virtual addresses.
	ModeARMv8
	// ModeX86_64 is the four-level long-mode scheme.
	ModeX86_64
)

var modeNames = map[PagingMode]string{
	ModeIdentity: "identity",
	ModeSv32:     "sv32",
	ModeSv39:     "sv39",
	ModeSv48:     "sv48",
	ModeARMv8:    "armv8",
	ModeX86_64:   "x86_64",
}

// AllPagingModes lists the modes in declaration order.
func AllPagingModes() []PagingMode {
	return []PagingMode{
		ModeIdentity, ModeSv32, ModeSv39, ModeSv48, ModeARMv8, ModeX86_64,
	}
}

func (m PagingMode) String() string {
	name, ok := modeNames[m]
	if !ok {
		return fmt.Sprintf("mode(%d)", uint8(m))
	}

	return name
}

// ParsePagingMode converts a name produced by String back to a mode.
func ParsePagingMode(s string) (PagingMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}

	return 0, fmt.Errorf("unknown paging mode %q", s)
}

// An AddressSpace is a page-table root together with the mode used to
// interpret it.
type AddressSpace struct {
	ASID ASID
	Root uint64
	Mode PagingMode
}

func (as AddressSpace) String() string {
	return fmt.Sprintf("asid:%d root:0x%x mode:%s", as.ASID, as.Root, as.Mode)
}
