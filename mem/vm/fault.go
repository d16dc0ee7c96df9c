package vm

import (
	"errors"
	"fmt"
)

// A PageFault is raised when a virtual address has no valid mapping or the
// mapping does not permit the access. Corrupted page tables are reported as
// page faults too, with Reason describing what was wrong.
type PageFault struct {
	Addr    uint64
	Access  AccessType
	IsWrite bool
	IsUser  bool
	Reason  string
}

// NewPageFault creates a page fault for the request.
func NewPageFault(addr uint64, access AccessType, priv Privilege, reason string) *PageFault {
	return &PageFault{
		Addr:    addr,
		Access:  access,
		IsWrite: access.IsWrite(),
		IsUser:  priv == PrivUser,
		Reason:  reason,
	}
}

func (f *PageFault) Error() string {
	return fmt.Sprintf("page fault: %s at 0x%x (user=%t): %s",
		f.Access, f.Addr, f.IsUser, f.Reason)
}

// An AlignmentFault is raised when an access is not naturally aligned and the
// MMU is configured to require alignment.
type AlignmentFault struct {
	Addr   uint64
	Size   int
	Access AccessType
}

func (f *AlignmentFault) Error() string {
	return fmt.Sprintf("alignment fault: %d-byte %s at 0x%x",
		f.Size, f.Access, f.Addr)
}

// A BusError is raised when a physical address is not backed by RAM or by a
// device.
type BusError struct {
	PAddr   uint64
	Size    int
	IsWrite bool
}

func (e *BusError) Error() string {
	op := "read"
	if e.IsWrite {
		op = "write"
	}

	return fmt.Sprintf("bus error: %d-byte %s at physical 0x%x",
		e.Size, op, e.PAddr)
}

// IsFault returns true if err carries one of the architectural faults.
func IsFault(err error) bool {
	var pf *PageFault
	var af *AlignmentFault
	var be *BusError

	return errors.As(err, &pf) || errors.As(err, &af) || errors.As(err, &be)
}
