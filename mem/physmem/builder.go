package physmem

import (
	"github.com/sirupsen/logrus"
)

// Builder can build physical memory backends.
type Builder struct {
	ramBase  uint64
	ramSize  uint64
	unitSize uint64
	logger   logrus.FieldLogger
}

// MakeBuilder creates a builder with default parameters. By default, RAM
// starts at address 0 and holds 64 MiB.
func MakeBuilder() Builder {
	return Builder{
		ramBase:  0,
		ramSize:  64 << 20,
		unitSize: 4096,
	}
}

// WithRAMBase sets the first physical address of RAM.
func (b Builder) WithRAMBase(base uint64) Builder {
	b.ramBase = base
	return b
}

// WithRAMSize sets the number of bytes of RAM.
func (b Builder) WithRAMSize(size uint64) Builder {
	b.ramSize = size
	return b
}

// WithUnitSize sets the allocation granularity of the host memory that backs
// RAM. It must be a power of 2.
func (b Builder) WithUnitSize(size uint64) Builder {
	b.unitSize = size
	return b
}

// WithLogger sets the logger that the backend reports to.
func (b Builder) WithLogger(logger logrus.FieldLogger) Builder {
	b.logger = logger
	return b
}

// Build creates a backend.
func (b Builder) Build(name string) *Backend {
	if b.ramBase+b.ramSize < b.ramBase {
		panic("RAM wraps around the physical address space")
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Backend{
		name:    name,
		log:     logger.WithField("component", name),
		ramBase: b.ramBase,
		ramSize: b.ramSize,
		ram:     newStorage(b.ramSize, b.unitSize),
		windows: newWindowIndex(),
	}
}
