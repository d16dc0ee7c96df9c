package tlb

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/vm/tlb/internal"
)

// Level identifies where a translation was served from.
type Level int

// The levels of the hierarchy. LevelWalk means that no level held the
// translation and the page tables were walked.
const (
	LevelL1 Level = iota
	LevelL2
	LevelL3
	LevelWalk
)

// NumLevels is the number of caching levels.
const NumLevels = 3

func (l Level) String() string {
	switch l {
	case LevelL1:
		return "L1"
	case LevelL2:
		return "L2"
	case LevelL3:
		return "L3"
	case LevelWalk:
		return "walk"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a name such as "L2" or "l2" into a caching level.
func ParseLevel(s string) (Level, error) {
	for l := LevelL1; l <= LevelL3; l++ {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}

	return 0, fmt.Errorf("unknown tlb level %q", s)
}

func (l Level) mustBeCaching() {
	if l < LevelL1 || l > LevelL3 {
		panic(fmt.Sprintf("%s is not a caching level", l))
	}
}

type level struct {
	id    Level
	store *internal.Store

	hits          atomic.Uint64
	misses        atomic.Uint64
	insertions    atomic.Uint64
	evictions     atomic.Uint64
	invalidations atomic.Uint64
}

func (l *level) stats() LevelStats {
	return LevelStats{
		Level:         l.id.String(),
		Policy:        l.store.Policy().String(),
		Capacity:      l.store.Capacity(),
		Occupancy:     l.store.Len(),
		NumShards:     l.store.NumShards(),
		Hits:          l.hits.Load(),
		Misses:        l.misses.Load(),
		Insertions:    l.insertions.Load(),
		Evictions:     l.evictions.Load(),
		Invalidations: l.invalidations.Load(),
	}
}

func (l *level) resetStats() {
	l.hits.Store(0)
	l.misses.Store(0)
	l.insertions.Store(0)
	l.evictions.Store(0)
	l.invalidations.Store(0)
}
