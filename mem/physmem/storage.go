package physmem

import "fmt"

// A storage keeps the content of the guest RAM.
//
// The storage manages memory in units, similar to the concept of page in
// memory management. Units that are never written do not occupy host memory
// and read as zero.
//
// A storage is not safe for concurrent use; the Backend serializes access.
type storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

func newStorage(capacity, unitSize uint64) *storage {
	if unitSize == 0 || unitSize&(unitSize-1) != 0 {
		panic("storage unit size must be a power of 2")
	}

	return &storage{
		unitSize: unitSize,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

func (s *storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr & (s.unitSize - 1)
	baseAddr = addr - inUnitAddr

	return
}

func (s *storage) inRange(addr, length uint64) bool {
	return addr <= s.capacity && length <= s.capacity-addr
}

func (s *storage) mustBeInRange(addr, length uint64) {
	if !s.inRange(addr, length) {
		panic(fmt.Sprintf("storage access [0x%x, 0x%x) beyond capacity 0x%x",
			addr, addr+length, s.capacity))
	}
}

// read copies len(buf) bytes starting at addr into buf. The caller must have
// checked the range.
func (s *storage) read(addr uint64, buf []byte) {
	s.mustBeInRange(addr, uint64(len(buf)))

	currAddr := addr
	dataOffset := uint64(0)
	length := uint64(len(buf))

	for dataOffset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(length-dataOffset, s.unitSize-inUnitAddr)

		dst := buf[dataOffset : dataOffset+lenToRead]
		unit, ok := s.data[baseAddr]
		if ok {
			copy(dst, unit[inUnitAddr:inUnitAddr+lenToRead])
		} else {
			clear(dst)
		}

		dataOffset += lenToRead
		currAddr += lenToRead
	}
}

// write copies data to addr. The caller must have checked the range.
func (s *storage) write(addr uint64, data []byte) {
	s.mustBeInRange(addr, uint64(len(data)))

	currAddr := addr
	dataOffset := uint64(0)
	length := uint64(len(data))

	for dataOffset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToWrite := min(length-dataOffset, s.unitSize-inUnitAddr)

		unit, ok := s.data[baseAddr]
		if !ok {
			unit = make([]byte, s.unitSize)
			s.data[baseAddr] = unit
		}

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])

		dataOffset += lenToWrite
		currAddr += lenToWrite
	}
}

func (s *storage) numUnits() int {
	return len(s.data)
}

func (s *storage) reset() {
	s.data = make(map[uint64][]byte)
}
