// Package physmem provides the guest physical address space: a RAM window
// backed by sparse host memory and device windows that forward accesses to
// memory-mapped peripherals.
package physmem

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sirupsen/logrus"
)

type chunkKind uint8

const (
	chunkRAM chunkKind = iota
	chunkDevice
)

// A chunk is the part of an access that falls into one region.
type chunk struct {
	kind   chunkKind
	window *Window
	offset uint64
	length uint64
	bufOff uint64
}

// Backend owns the guest physical address space.
type Backend struct {
	name string
	log  *logrus.Entry

	ramBase uint64
	ramSize uint64

	ramLock sync.RWMutex
	ram     *storage

	mmioLock sync.RWMutex
	windows  *windowIndex

	ramReads   atomic.Uint64
	ramWrites  atomic.Uint64
	mmioReads  atomic.Uint64
	mmioWrites atomic.Uint64
	busErrors  atomic.Uint64
}

// Name returns the name of the backend.
func (b *Backend) Name() string {
	return b.name
}

// RAMBase returns the first physical address of RAM.
func (b *Backend) RAMBase() uint64 {
	return b.ramBase
}

// RAMSize returns the number of bytes of RAM.
func (b *Backend) RAMSize() uint64 {
	return b.ramSize
}

// Size returns the first physical address after RAM. Identity-mapped address
// spaces are bounded by it.
func (b *Backend) Size() uint64 {
	return b.ramBase + b.ramSize
}

func (b *Backend) inRAM(addr uint64) bool {
	return addr >= b.ramBase && addr-b.ramBase < b.ramSize
}

// MapMMIO registers a device over [base, base+size). The window must not
// overlap RAM or another device.
func (b *Backend) MapMMIO(name string, base, size uint64, dev Device) error {
	if size == 0 {
		return fmt.Errorf("mmio window %s has zero size", name)
	}

	if base+size < base {
		return fmt.Errorf("mmio window %s wraps around the address space", name)
	}

	if base < b.ramBase+b.ramSize && b.ramBase < base+size {
		return fmt.Errorf("mmio window %s [0x%x, 0x%x) overlaps RAM",
			name, base, base+size)
	}

	b.mmioLock.Lock()
	defer b.mmioLock.Unlock()

	if w := b.windows.anyOverlap(base, size); w != nil {
		return fmt.Errorf("mmio window %s [0x%x, 0x%x) overlaps %s",
			name, base, base+size, w)
	}

	w := &Window{Name: name, Base: base, Size: size, Device: dev}
	b.windows.insert(w)

	b.log.WithFields(logrus.Fields{
		"device": name,
		"base":   fmt.Sprintf("0x%x", base),
		"size":   size,
	}).Info("mmio window mapped")

	return nil
}

// UnmapMMIO removes the device window that starts at base.
func (b *Backend) UnmapMMIO(base uint64) bool {
	b.mmioLock.Lock()
	defer b.mmioLock.Unlock()

	w, ok := b.windows.remove(base)
	if ok {
		b.log.WithField("device", w.Name).Info("mmio window unmapped")
	}

	return ok
}

// Windows lists the device windows ordered by base address.
func (b *Backend) Windows() []*Window {
	b.mmioLock.RLock()
	defer b.mmioLock.RUnlock()

	return b.windows.list()
}

// resolve splits an access into per-region chunks. The whole range must be
// backed, otherwise a BusError for the first unbacked address is returned.
// The caller must hold mmioLock.
func (b *Backend) resolve(paddr, length uint64, isWrite bool) ([]chunk, error) {
	if paddr+length < paddr {
		return nil, b.busError(paddr, length, isWrite)
	}

	chunks := make([]chunk, 0, 1)
	for off := uint64(0); off < length; {
		addr := paddr + off

		if b.inRAM(addr) {
			n := min(length-off, b.ramBase+b.ramSize-addr)
			chunks = append(chunks, chunk{
				kind:   chunkRAM,
				offset: addr - b.ramBase,
				length: n,
				bufOff: off,
			})
			off += n

			continue
		}

		w := b.windows.find(addr)
		if w == nil {
			return nil, b.busError(addr, length-off, isWrite)
		}

		n := min(length-off, w.End()-addr)
		chunks = append(chunks, chunk{
			kind:   chunkDevice,
			window: w,
			offset: addr - w.Base,
			length: n,
			bufOff: off,
		})
		off += n
	}

	return chunks, nil
}

func (b *Backend) busError(addr, length uint64, isWrite bool) error {
	b.busErrors.Add(1)

	return &vm.BusError{PAddr: addr, Size: int(length), IsWrite: isWrite}
}

// Read returns size bytes starting at paddr.
func (b *Backend) Read(paddr uint64, size int) ([]byte, error) {
	buf := make([]byte, size)
	if err := b.ReadBulk(paddr, buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// Write stores data at paddr. It has the same all-or-nothing guarantee as
// WriteBulk.
func (b *Backend) Write(paddr uint64, data []byte) error {
	return b.WriteBulk(paddr, data)
}

// ReadBulk fills buf with the bytes starting at paddr.
func (b *Backend) ReadBulk(paddr uint64, buf []byte) error {
	return b.ReadVector([]Segment{{PAddr: paddr, Data: buf}})
}

// WriteBulk stores data at paddr. The whole range is validated before
// anything is written, so an unbacked address leaves memory unchanged. RAM is
// only updated after every device in the range accepted its part. Device
// writes cannot be undone: if a device rejects its part, the parts that
// earlier devices accepted stay written.
func (b *Backend) WriteBulk(paddr uint64, data []byte) error {
	return b.WriteVector([]Segment{{PAddr: paddr, Data: data}})
}

// A Segment is a physically contiguous part of a scattered access.
type Segment struct {
	PAddr uint64
	Data  []byte
}

type resolvedSegment struct {
	chunks []chunk
	data   []byte
}

// resolveAll must be called with mmioLock held.
func (b *Backend) resolveAll(segs []Segment, isWrite bool) ([]resolvedSegment, error) {
	out := make([]resolvedSegment, 0, len(segs))

	for _, seg := range segs {
		chunks, err := b.resolve(seg.PAddr, uint64(len(seg.Data)), isWrite)
		if err != nil {
			return nil, err
		}

		out = append(out, resolvedSegment{chunks: chunks, data: seg.Data})
	}

	return out, nil
}

// ReadVector fills the data of every segment from its physical address.
func (b *Backend) ReadVector(segs []Segment) error {
	b.mmioLock.RLock()
	defer b.mmioLock.RUnlock()

	resolved, err := b.resolveAll(segs, false)
	if err != nil {
		return err
	}

	b.ramLock.RLock()
	for _, r := range resolved {
		for _, c := range r.chunks {
			if c.kind == chunkRAM {
				b.ram.read(c.offset, r.data[c.bufOff:c.bufOff+c.length])
				b.ramReads.Add(1)
			}
		}
	}
	b.ramLock.RUnlock()

	for _, r := range resolved {
		for _, c := range r.chunks {
			if c.kind != chunkDevice {
				continue
			}

			err := b.readDevice(c, r.data[c.bufOff:c.bufOff+c.length])
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// WriteVector stores the data of every segment at its physical address, with
// the same guarantee and the same limit as WriteBulk over all the segments
// together.
func (b *Backend) WriteVector(segs []Segment) error {
	b.mmioLock.RLock()
	defer b.mmioLock.RUnlock()

	resolved, err := b.resolveAll(segs, true)
	if err != nil {
		return err
	}

	for _, r := range resolved {
		for _, c := range r.chunks {
			if c.kind != chunkDevice {
				continue
			}

			err := b.writeDevice(c, r.data[c.bufOff:c.bufOff+c.length])
			if err != nil {
				return err
			}
		}
	}

	b.ramLock.Lock()
	for _, r := range resolved {
		for _, c := range r.chunks {
			if c.kind == chunkRAM {
				b.ram.write(c.offset, r.data[c.bufOff:c.bufOff+c.length])
				b.ramWrites.Add(1)
			}
		}
	}
	b.ramLock.Unlock()

	return nil
}

func deviceAccessSize(remaining uint64) int {
	switch {
	case remaining >= 8:
		return 8
	case remaining >= 4:
		return 4
	case remaining >= 2:
		return 2
	default:
		return 1
	}
}

func (b *Backend) readDevice(c chunk, dst []byte) error {
	var tmp [8]byte

	for off := uint64(0); off < c.length; {
		size := deviceAccessSize(c.length - off)

		v, err := c.window.Device.Read(c.offset+off, size)
		if err != nil {
			return b.deviceError(c, off, size, false, err)
		}
		b.mmioReads.Add(1)

		binary.LittleEndian.PutUint64(tmp[:], v)
		copy(dst[off:off+uint64(size)], tmp[:size])
		off += uint64(size)
	}

	return nil
}

func (b *Backend) writeDevice(c chunk, src []byte) error {
	var tmp [8]byte

	for off := uint64(0); off < c.length; {
		size := deviceAccessSize(c.length - off)

		clear(tmp[:])
		copy(tmp[:size], src[off:off+uint64(size)])
		v := binary.LittleEndian.Uint64(tmp[:])

		err := c.window.Device.Write(c.offset+off, v, size)
		if err != nil {
			return b.deviceError(c, off, size, true, err)
		}
		b.mmioWrites.Add(1)

		off += uint64(size)
	}

	return nil
}

func (b *Backend) deviceError(
	c chunk,
	off uint64,
	size int,
	isWrite bool,
	err error,
) error {
	addr := c.window.Base + c.offset + off
	busErr := b.busError(addr, uint64(size), isWrite)

	b.log.WithError(err).WithFields(logrus.Fields{
		"device": c.window.Name,
		"paddr":  fmt.Sprintf("0x%x", addr),
	}).Debug("device rejected access")

	return fmt.Errorf("%w: device %s: %v", busErr, c.window.Name, err)
}

func mustBeAccessSize(size int) {
	switch size {
	case 1, 2, 4, 8:
	default:
		panic(fmt.Sprintf("invalid access size %d", size))
	}
}

// ReadUint reads a little-endian value of 1, 2, 4 or 8 bytes. An access that
// fits in one device window is forwarded to the device as a single access.
func (b *Backend) ReadUint(paddr uint64, size int) (uint64, error) {
	mustBeAccessSize(size)

	if v, handled, err := b.readDeviceDirect(paddr, size); handled {
		return v, err
	}

	var buf [8]byte
	if err := b.ReadBulk(paddr, buf[:size]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteUint writes a little-endian value of 1, 2, 4 or 8 bytes.
func (b *Backend) WriteUint(paddr uint64, value uint64, size int) error {
	mustBeAccessSize(size)

	if handled, err := b.writeDeviceDirect(paddr, value, size); handled {
		return err
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)

	return b.WriteBulk(paddr, buf[:size])
}

func (b *Backend) readDeviceDirect(paddr uint64, size int) (uint64, bool, error) {
	if b.inRAM(paddr) {
		return 0, false, nil
	}

	b.mmioLock.RLock()
	w := b.windows.find(paddr)
	b.mmioLock.RUnlock()

	if w == nil || paddr+uint64(size) > w.End() {
		return 0, false, nil
	}

	c := chunk{kind: chunkDevice, window: w, offset: paddr - w.Base,
		length: uint64(size)}

	v, err := w.Device.Read(c.offset, size)
	if err != nil {
		return 0, true, b.deviceError(c, 0, size, false, err)
	}
	b.mmioReads.Add(1)

	return v, true, nil
}

func (b *Backend) writeDeviceDirect(paddr, value uint64, size int) (bool, error) {
	if b.inRAM(paddr) {
		return false, nil
	}

	b.mmioLock.RLock()
	w := b.windows.find(paddr)
	b.mmioLock.RUnlock()

	if w == nil || paddr+uint64(size) > w.End() {
		return false, nil
	}

	c := chunk{kind: chunkDevice, window: w, offset: paddr - w.Base,
		length: uint64(size)}

	err := w.Device.Write(c.offset, value, size)
	if err != nil {
		return true, b.deviceError(c, 0, size, true, err)
	}
	b.mmioWrites.Add(1)

	return true, nil
}

// ReadPTE reads a page table entry for the walker.
func (b *Backend) ReadPTE(paddr uint64, size int) (uint64, error) {
	return b.ReadUint(paddr, size)
}

// WritePTE writes a page table entry back for the walker.
func (b *Backend) WritePTE(paddr uint64, size int, value uint64) error {
	return b.WriteUint(paddr, value, size)
}

// CompareAndSwapPTE replaces the page table entry at paddr with value if it
// still holds old. In RAM the comparison and the store happen under one lock,
// so no other access of the backend can interleave. Entries served by a
// device are compared and stored with two device accesses.
func (b *Backend) CompareAndSwapPTE(
	paddr uint64,
	size int,
	old, value uint64,
) (bool, error) {
	mustBeAccessSize(size)

	if !b.inRAM(paddr) || !b.inRAM(paddr+uint64(size)-1) {
		cur, err := b.ReadUint(paddr, size)
		if err != nil || cur != old {
			return false, err
		}

		return true, b.WriteUint(paddr, value, size)
	}

	var buf [8]byte
	off := paddr - b.ramBase

	b.ramLock.Lock()
	defer b.ramLock.Unlock()

	b.ram.read(off, buf[:size])
	b.ramReads.Add(1)

	if binary.LittleEndian.Uint64(buf[:]) != old {
		return false, nil
	}

	binary.LittleEndian.PutUint64(buf[:], value)
	b.ram.write(off, buf[:size])
	b.ramWrites.Add(1)

	return true, nil
}

// Reset discards the content of RAM.
func (b *Backend) Reset() {
	b.ramLock.Lock()
	defer b.ramLock.Unlock()

	b.ram.reset()
}

// Stats is a snapshot of the backend counters.
type Stats struct {
	RAMBase        uint64 `json:"ram_base"`
	RAMSize        uint64 `json:"ram_size"`
	AllocatedBytes uint64 `json:"allocated_bytes"`
	RAMReads       uint64 `json:"ram_reads"`
	RAMWrites      uint64 `json:"ram_writes"`
	MMIOReads      uint64 `json:"mmio_reads"`
	MMIOWrites     uint64 `json:"mmio_writes"`
	BusErrors      uint64 `json:"bus_errors"`
	NumWindows     int    `json:"num_windows"`
}

// Stats returns the current counters.
func (b *Backend) Stats() Stats {
	b.ramLock.RLock()
	allocated := uint64(b.ram.numUnits()) * b.ram.unitSize
	b.ramLock.RUnlock()

	b.mmioLock.RLock()
	numWindows := b.windows.tree.Len()
	b.mmioLock.RUnlock()

	return Stats{
		RAMBase:        b.ramBase,
		RAMSize:        b.ramSize,
		AllocatedBytes: allocated,
		RAMReads:       b.ramReads.Load(),
		RAMWrites:      b.ramWrites.Load(),
		MMIOReads:      b.mmioReads.Load(),
		MMIOWrites:     b.mmioWrites.Load(),
		BusErrors:      b.busErrors.Load(),
		NumWindows:     numWindows,
	}
}
