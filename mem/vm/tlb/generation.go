package tlb

import (
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/vm"
)

// generations detect walks that raced with an invalidation. An invalidation
// bumps the counters that cover it before it removes any entry, and a walk
// result is only inserted if the counters it started under are unchanged.
type generations struct {
	epoch  atomic.Uint64
	global atomic.Uint64
	asids  [1 << 16]atomic.Uint64
}

type stamp struct {
	epoch  uint64
	global uint64
	asid   uint64
}

func (g *generations) stamp(asid vm.ASID) stamp {
	return stamp{
		epoch:  g.epoch.Load(),
		global: g.global.Load(),
		asid:   g.asids[asid].Load(),
	}
}

func (g *generations) current(asid vm.ASID, s stamp, global bool) bool {
	if g.epoch.Load() != s.epoch || g.asids[asid].Load() != s.asid {
		return false
	}

	return !global || g.global.Load() == s.global
}

func (g *generations) bumpASID(asid vm.ASID) {
	g.asids[asid].Add(1)
}

// bumpPage covers the entries of the ASID and the global entries.
func (g *generations) bumpPage(asid vm.ASID) {
	g.asids[asid].Add(1)
	g.global.Add(1)
}

func (g *generations) bumpAll() {
	g.epoch.Add(1)
}
