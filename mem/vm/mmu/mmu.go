// Package mmu is the memory interface of an emulated CPU. It translates
// virtual addresses with a TLB hierarchy and performs the accesses on
// physical memory.
package mmu

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sirupsen/logrus"
)

// Memory is the physical memory behind the MMU.
type Memory interface {
	ReadUint(paddr uint64, size int) (uint64, error)
	WriteUint(paddr uint64, value uint64, size int) error
	ReadVector(segs []physmem.Segment) error
	WriteVector(segs []physmem.Segment) error
	MapMMIO(name string, base, size uint64, dev physmem.Device) error
}

// Comp is an MMU. It is safe for concurrent use by many virtual CPUs.
type Comp struct {
	name            string
	log             *logrus.Entry
	tlb             *tlb.Hierarchy
	mem             Memory
	strictAlignment bool

	reads           atomic.Uint64
	writes          atomic.Uint64
	fetches         atomic.Uint64
	bulkReads       atomic.Uint64
	bulkWrites      atomic.Uint64
	physAccesses    atomic.Uint64
	alignmentFaults atomic.Uint64
}

// Name returns the name of the MMU.
func (c *Comp) Name() string {
	return c.name
}

// Hierarchy returns the TLB hierarchy. Code that changes guest page tables
// must invalidate the affected translations through it.
func (c *Comp) Hierarchy() *tlb.Hierarchy {
	return c.tlb
}

// WithPrivilege returns a port that issues accesses at the privilege level.
func (c *Comp) WithPrivilege(priv vm.Privilege) Port {
	return Port{c: c, priv: priv}
}

func (c *Comp) user() Port {
	return Port{c: c, priv: vm.PrivUser}
}

// Translate returns the physical address of a user access.
func (c *Comp) Translate(vaddr uint64, access vm.AccessType, asid vm.ASID) (uint64, error) {
	return c.user().Translate(vaddr, access, asid)
}

// TranslateRequest translates a request and tells where the translation came
// from.
func (c *Comp) TranslateRequest(req vm.AccessRequest) (tlb.Translation, error) {
	return c.tlb.Translate(req)
}

// Read loads a little-endian value of size bytes as a user access.
func (c *Comp) Read(asid vm.ASID, vaddr uint64, size int) (uint64, error) {
	return c.user().Read(asid, vaddr, size)
}

// Write stores a little-endian value of size bytes as a user access.
func (c *Comp) Write(asid vm.ASID, vaddr uint64, value uint64, size int) error {
	return c.user().Write(asid, vaddr, value, size)
}

// ReadBulk fills buf from consecutive virtual addresses as a user access.
func (c *Comp) ReadBulk(asid vm.ASID, vaddr uint64, buf []byte) error {
	return c.user().ReadBulk(asid, vaddr, buf)
}

// WriteBulk stores data at consecutive virtual addresses as a user access.
func (c *Comp) WriteBulk(asid vm.ASID, vaddr uint64, data []byte) error {
	return c.user().WriteBulk(asid, vaddr, data)
}

// FetchInstruction loads size bytes of code at pc as a user access.
func (c *Comp) FetchInstruction(asid vm.ASID, pc uint64, size int) (uint64, error) {
	return c.user().FetchInstruction(asid, pc, size)
}

// ReadPhys loads a little-endian value from a physical address.
func (c *Comp) ReadPhys(paddr uint64, size int) (uint64, error) {
	mustBeAccessSize(size)
	c.physAccesses.Add(1)

	return c.mem.ReadUint(paddr, size)
}

// WritePhys stores a little-endian value at a physical address.
func (c *Comp) WritePhys(paddr uint64, value uint64, size int) error {
	mustBeAccessSize(size)
	c.physAccesses.Add(1)

	return c.mem.WriteUint(paddr, value, size)
}

// MapMMIO makes a device serve the physical addresses [base, base+size).
func (c *Comp) MapMMIO(name string, base, size uint64, dev physmem.Device) error {
	return c.mem.MapMMIO(name, base, size, dev)
}

func (c *Comp) checkAlignment(vaddr uint64, size int, access vm.AccessType) error {
	if !c.strictAlignment || vaddr%uint64(size) == 0 {
		return nil
	}

	c.alignmentFaults.Add(1)

	return &vm.AlignmentFault{Addr: vaddr, Size: size, Access: access}
}

func mustBeAccessSize(size int) {
	switch size {
	case 1, 2, 4, 8:
	default:
		panic(fmt.Sprintf("invalid access size %d", size))
	}
}

// A Port issues accesses at one privilege level.
type Port struct {
	c    *Comp
	priv vm.Privilege
}

// Privilege returns the privilege level of the port.
func (p Port) Privilege() vm.Privilege {
	return p.priv
}

// Translate returns the physical address of an access.
func (p Port) Translate(vaddr uint64, access vm.AccessType, asid vm.ASID) (uint64, error) {
	t, err := p.translate(asid, vaddr, access)
	if err != nil {
		return 0, err
	}

	return t.PAddr, nil
}

func (p Port) translate(asid vm.ASID, vaddr uint64, access vm.AccessType) (tlb.Translation, error) {
	return p.c.tlb.Translate(vm.AccessRequest{
		VAddr: vaddr,
		Type:  access,
		ASID:  asid,
		Priv:  p.priv,
	})
}

// Read loads a little-endian value of size bytes.
func (p Port) Read(asid vm.ASID, vaddr uint64, size int) (uint64, error) {
	mustBeAccessSize(size)
	p.c.reads.Add(1)

	return p.load(asid, vaddr, size, vm.AccessRead)
}

// Write stores a little-endian value of size bytes. An access that crosses a
// page boundary is only performed if both pages translate.
func (p Port) Write(asid vm.ASID, vaddr uint64, value uint64, size int) error {
	mustBeAccessSize(size)
	p.c.writes.Add(1)

	if err := p.c.checkAlignment(vaddr, size, vm.AccessWrite); err != nil {
		return err
	}

	if !crossesPage(vaddr, uint64(size)) {
		t, err := p.translate(asid, vaddr, vm.AccessWrite)
		if err != nil {
			return err
		}

		return p.c.mem.WriteUint(t.PAddr, value, size)
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)

	segs, err := p.segments(asid, vaddr, buf[:size], vm.AccessWrite)
	if err != nil {
		return err
	}

	return p.c.mem.WriteVector(segs)
}

// FetchInstruction loads size bytes of code at pc. Size is 2, 4 or 8.
func (p Port) FetchInstruction(asid vm.ASID, pc uint64, size int) (uint64, error) {
	switch size {
	case 2, 4, 8:
	default:
		panic(fmt.Sprintf("invalid instruction size %d", size))
	}

	p.c.fetches.Add(1)

	return p.load(asid, pc, size, vm.AccessExecute)
}

func (p Port) load(
	asid vm.ASID,
	vaddr uint64,
	size int,
	access vm.AccessType,
) (uint64, error) {
	if err := p.c.checkAlignment(vaddr, size, access); err != nil {
		return 0, err
	}

	if !crossesPage(vaddr, uint64(size)) {
		t, err := p.translate(asid, vaddr, access)
		if err != nil {
			return 0, err
		}

		return p.c.mem.ReadUint(t.PAddr, size)
	}

	var buf [8]byte

	segs, err := p.segments(asid, vaddr, buf[:size], access)
	if err != nil {
		return 0, err
	}

	if err := p.c.mem.ReadVector(segs); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadBulk fills buf from consecutive virtual addresses. Every page is
// translated before memory is read.
func (p Port) ReadBulk(asid vm.ASID, vaddr uint64, buf []byte) error {
	p.c.bulkReads.Add(1)

	if len(buf) == 0 {
		return nil
	}

	segs, err := p.segments(asid, vaddr, buf, vm.AccessRead)
	if err != nil {
		return err
	}

	return p.c.mem.ReadVector(segs)
}

// WriteBulk stores data at consecutive virtual addresses. Nothing is written
// unless every page translates and every physical address is backed.
func (p Port) WriteBulk(asid vm.ASID, vaddr uint64, data []byte) error {
	p.c.bulkWrites.Add(1)

	if len(data) == 0 {
		return nil
	}

	segs, err := p.segments(asid, vaddr, data, vm.AccessWrite)
	if err != nil {
		return err
	}

	return p.c.mem.WriteVector(segs)
}

// segments translates the pages that data spans, starting at vaddr.
// Physically contiguous pages are merged into one segment.
func (p Port) segments(
	asid vm.ASID,
	vaddr uint64,
	data []byte,
	access vm.AccessType,
) ([]physmem.Segment, error) {
	length := uint64(len(data))
	if vaddr+length-1 < vaddr {
		return nil, vm.NewPageFault(vaddr, access, p.priv,
			"access wraps around the address space")
	}

	segs := make([]physmem.Segment, 0, 2)
	for off := uint64(0); off < length; {
		va := vaddr + off
		n := min(length-off, vm.PageSize-vm.PageOffset(va))

		t, err := p.translate(asid, va, access)
		if err != nil {
			return nil, err
		}

		last := len(segs) - 1
		if last >= 0 && segs[last].PAddr+uint64(len(segs[last].Data)) == t.PAddr {
			segs[last].Data = data[off-uint64(len(segs[last].Data)) : off+n]
		} else {
			segs = append(segs, physmem.Segment{PAddr: t.PAddr, Data: data[off : off+n]})
		}

		off += n
	}

	return segs, nil
}

func crossesPage(vaddr, size uint64) bool {
	return vm.PageOffset(vaddr)+size > vm.PageSize
}

// Stats is a snapshot of the counters of an MMU.
type Stats struct {
	TLB             tlb.Stats `json:"tlb" yaml:"tlb"`
	Reads           uint64    `json:"reads" yaml:"reads"`
	Writes          uint64    `json:"writes" yaml:"writes"`
	Fetches         uint64    `json:"fetches" yaml:"fetches"`
	BulkReads       uint64    `json:"bulk_reads" yaml:"bulk_reads"`
	BulkWrites      uint64    `json:"bulk_writes" yaml:"bulk_writes"`
	PhysAccesses    uint64    `json:"phys_accesses" yaml:"phys_accesses"`
	AlignmentFaults uint64    `json:"alignment_faults" yaml:"alignment_faults"`
}

// Stats returns a snapshot of the counters.
func (c *Comp) Stats() Stats {
	return Stats{
		TLB:             c.tlb.Stats(),
		Reads:           c.reads.Load(),
		Writes:          c.writes.Load(),
		Fetches:         c.fetches.Load(),
		BulkReads:       c.bulkReads.Load(),
		BulkWrites:      c.bulkWrites.Load(),
		PhysAccesses:    c.physAccesses.Load(),
		AlignmentFaults: c.alignmentFaults.Load(),
	}
}

// ResetStats zeroes the counters of the MMU and of its hierarchy.
func (c *Comp) ResetStats() {
	c.tlb.ResetStats()
	c.reads.Store(0)
	c.writes.Store(0)
	c.fetches.Store(0)
	c.bulkReads.Store(0)
	c.bulkWrites.Store(0)
	c.physAccesses.Store(0)
	c.alignmentFaults.Store(0)
}
