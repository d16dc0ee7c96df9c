package mmu

import (
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sirupsen/logrus"
)

// A Builder can build MMU component
type Builder struct {
	hierarchy       *tlb.Hierarchy
	memory          Memory
	strictAlignment bool
	logger          logrus.FieldLogger
}

// MakeBuilder creates a new builder
func MakeBuilder() Builder {
	return Builder{}
}

// WithHierarchy sets the TLB hierarchy that translates addresses.
func (b Builder) WithHierarchy(h *tlb.Hierarchy) Builder {
	b.hierarchy = h
	return b
}

// WithMemory sets the physical memory that accesses go to.
func (b Builder) WithMemory(m Memory) Builder {
	b.memory = m
	return b
}

// WithStrictAlignment makes unaligned accesses fault instead of being split.
func (b Builder) WithStrictAlignment(strict bool) Builder {
	b.strictAlignment = strict
	return b
}

// WithLogger sets the logger that the MMU reports to.
func (b Builder) WithLogger(logger logrus.FieldLogger) Builder {
	b.logger = logger
	return b
}

// Build returns a newly-created MMU component
func (b Builder) Build(name string) *Comp {
	if b.hierarchy == nil {
		panic("mmu: hierarchy is not set")
	}

	if b.memory == nil {
		panic("mmu: memory is not set")
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Comp{
		name:            name,
		log:             logger.WithField("component", name),
		tlb:             b.hierarchy,
		mem:             b.memory,
		strictAlignment: b.strictAlignment,
	}

	c.log.WithFields(logrus.Fields{
		"tlb":              b.hierarchy.Name(),
		"strict_alignment": b.strictAlignment,
	}).Debug("mmu built")

	return c
}
