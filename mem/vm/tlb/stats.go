package tlb

import (
	"github.com/sarchlab/softmmu/mem/vm/tlb/predictor"
)

// LevelStats are the counters of one level.
type LevelStats struct {
	Level         string `json:"level" yaml:"level"`
	Policy        string `json:"policy" yaml:"policy"`
	Capacity      int    `json:"capacity" yaml:"capacity"`
	Occupancy     int    `json:"occupancy" yaml:"occupancy"`
	NumShards     int    `json:"num_shards" yaml:"num_shards"`
	Hits          uint64 `json:"hits" yaml:"hits"`
	Misses        uint64 `json:"misses" yaml:"misses"`
	Insertions    uint64 `json:"insertions" yaml:"insertions"`
	Evictions     uint64 `json:"evictions" yaml:"evictions"`
	Invalidations uint64 `json:"invalidations" yaml:"invalidations"`
}

// HitRate returns the fraction of the lookups reaching the level that hit.
func (s LevelStats) HitRate() float64 {
	return ratio(s.Hits, s.Hits+s.Misses)
}

// Stats is a snapshot of the counters of a hierarchy.
type Stats struct {
	Levels []LevelStats `json:"levels" yaml:"levels"`

	Lookups uint64 `json:"lookups" yaml:"lookups"`
	Hits    uint64 `json:"hits" yaml:"hits"`

	// Walks counts the page table walks that were actually performed,
	// speculative ones excluded. SharedWalks counts the requests that
	// waited for a walk started by another request.
	Walks       uint64 `json:"walks" yaml:"walks"`
	SharedWalks uint64 `json:"shared_walks" yaml:"shared_walks"`
	Rewalks     uint64 `json:"rewalks" yaml:"rewalks"`
	Faults      uint64 `json:"faults" yaml:"faults"`

	PrefetchIssued   uint64 `json:"prefetch_issued" yaml:"prefetch_issued"`
	PrefetchInserted uint64 `json:"prefetch_inserted" yaml:"prefetch_inserted"`
	PrefetchFaulted  uint64 `json:"prefetch_faulted" yaml:"prefetch_faulted"`

	StaleInserts uint64 `json:"stale_inserts" yaml:"stale_inserts"`

	Predictor *predictor.Stats `json:"predictor,omitempty" yaml:"predictor,omitempty"`
}

// HitRate returns the fraction of lookups served without walking.
func (s Stats) HitRate() float64 {
	return ratio(s.Hits, s.Lookups)
}

// Level returns the stats of a caching level.
func (s Stats) Level(l Level) LevelStats {
	l.mustBeCaching()
	return s.Levels[l]
}

func ratio(a, b uint64) float64 {
	if b == 0 {
		return 0
	}

	return float64(a) / float64(b)
}
