// Package workload builds complete translation stacks and drives them with
// synthetic access traces.
package workload

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/sarchlab/softmmu/mem/vm"
)

// Pattern is the shape of a synthetic trace.
type Pattern uint8

// The supported patterns.
const (
	Sequential Pattern = iota
	Strided
	Random
	Mixed
)

var patternNames = []string{"sequential", "strided", "random", "mixed"}

// AllPatterns lists every pattern.
func AllPatterns() []Pattern {
	return []Pattern{Sequential, Strided, Random, Mixed}
}

func (p Pattern) String() string {
	if int(p) < len(patternNames) {
		return patternNames[p]
	}

	return fmt.Sprintf("pattern(%d)", uint8(p))
}

// ParsePattern converts a name produced by String back to a pattern.
func ParsePattern(s string) (Pattern, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range patternNames {
		if name == s {
			return Pattern(i), nil
		}
	}

	return 0, fmt.Errorf("unknown trace pattern %q", s)
}

// An Access is one load or store of a trace.
type Access struct {
	VAddr uint64
	Write bool
}

// TraceSpec describes a trace over a region of Pages pages.
type TraceSpec struct {
	Pattern    Pattern
	Pages      int
	Length     int
	Stride     int
	WriteRatio float64
	Seed       uint64
}

// lineSize is the distance between consecutive accesses of a sequential
// walk through a page.
const lineSize = 64

// mixedPhase is the number of accesses before a mixed trace switches to the
// next pattern.
const mixedPhase = 256

// Generate creates the trace for the region that starts at base. Accesses are
// 8-byte aligned and stay inside the region.
func Generate(base uint64, spec TraceSpec) []Access {
	if spec.Pages <= 0 || spec.Length < 0 {
		panic("a trace needs at least one page")
	}

	stride := spec.Stride
	if stride <= 0 {
		stride = 1
	}

	rng := rand.New(rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15))
	region := uint64(spec.Pages) * vm.PageSize
	trace := make([]Access, spec.Length)

	for i := range trace {
		p := spec.Pattern
		if p == Mixed {
			p = []Pattern{Sequential, Random, Strided}[(i/mixedPhase)%3]
		}

		var off uint64

		switch p {
		case Sequential:
			off = (uint64(i) * lineSize) % region
		case Strided:
			page := (uint64(i) * uint64(stride)) % uint64(spec.Pages)
			off = page*vm.PageSize + (uint64(i)*8)%vm.PageSize
		case Random:
			off = rng.Uint64N(region) &^ 7
		default:
			panic(fmt.Sprintf("unsupported pattern %s", p))
		}

		trace[i] = Access{
			VAddr: base + off,
			Write: rng.Float64() < spec.WriteRatio,
		}
	}

	return trace
}
