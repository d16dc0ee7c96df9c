package walker

import (
	"github.com/sirupsen/logrus"
)

// Builder can build walkers.
type Builder struct {
	mem     PTEMemory
	memSize uint64
	logger  logrus.FieldLogger
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{}
}

// WithMemory sets the memory that holds the page tables.
func (b Builder) WithMemory(mem PTEMemory) Builder {
	b.mem = mem
	return b
}

// WithPhysicalMemorySize sets the bound of identity-mapped address spaces.
func (b Builder) WithPhysicalMemorySize(size uint64) Builder {
	b.memSize = size
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger logrus.FieldLogger) Builder {
	b.logger = logger
	return b
}

// Build creates a walker.
func (b Builder) Build(name string) *Walker {
	if b.mem == nil {
		panic("walker requires a page table memory")
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	w := &Walker{
		name:    name,
		log:     logger.WithField("component", name),
		mem:     b.mem,
		memSize: b.memSize,
	}

	w.log.WithField("identity_limit", b.memSize).Debug("walker built")

	return w
}
