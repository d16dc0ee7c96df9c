package tlb

import (
	"fmt"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb/internal"
	"github.com/sarchlab/softmmu/mem/vm/tlb/predictor"
	"github.com/sarchlab/softmmu/mem/vm/tlb/replacement"
	"github.com/sirupsen/logrus"
)

// A Builder can build TLB hierarchies.
type Builder struct {
	walker         Walker
	predictor      *predictor.Predictor
	noPredictor    bool
	capacity       [NumLevels]int
	policy         [NumLevels]replacement.Kind
	numShards      [NumLevels]int
	prefetchBudget int
	insertLevels   []Level
	prefetchLevels []Level
	policyOptions  replacement.Options
	spaces         *vm.AddressSpaceTable
	logger         logrus.FieldLogger
}

// MakeBuilder returns a Builder. By default, the levels hold 64, 256 and 1024
// entries and use LRU replacement. Walks fill every level and prefetches fill
// L2 and L3.
func MakeBuilder() Builder {
	return Builder{
		capacity:       [NumLevels]int{64, 256, 1024},
		policy:         [NumLevels]replacement.Kind{replacement.LRU, replacement.LRU, replacement.LRU},
		prefetchBudget: 4,
		insertLevels:   []Level{LevelL1, LevelL2, LevelL3},
		prefetchLevels: []Level{LevelL2, LevelL3},
		policyOptions:  replacement.DefaultOptions(),
	}
}

// WithWalker sets the walker that resolves misses.
func (b Builder) WithWalker(w Walker) Builder {
	b.walker = w
	return b
}

// WithPredictor sets the predictor that drives prefetching. A nil predictor
// disables prefetching. If not set, a predictor with the default
// configuration is created.
func (b Builder) WithPredictor(p *predictor.Predictor) Builder {
	b.predictor = p
	b.noPredictor = p == nil

	return b
}

// WithLevelCapacity sets the number of entries that a level holds, not
// counting the slots reserved for global entries.
func (b Builder) WithLevelCapacity(l Level, n int) Builder {
	l.mustBeCaching()
	b.capacity[l] = n

	return b
}

// WithLevelPolicy sets the replacement policy of a level.
func (b Builder) WithLevelPolicy(l Level, kind replacement.Kind) Builder {
	l.mustBeCaching()
	b.policy[l] = kind

	return b
}

// WithPolicy sets the replacement policy of all the levels.
func (b Builder) WithPolicy(kind replacement.Kind) Builder {
	for i := range b.policy {
		b.policy[i] = kind
	}

	return b
}

// WithNumShards sets the number of ASID shards of a level. It must be a power
// of 2. Each shard holds capacity/n entries, so a single address space can
// only use one shard. The default is 1.
func (b Builder) WithNumShards(l Level, n int) Builder {
	l.mustBeCaching()
	b.numShards[l] = n

	return b
}

// WithPrefetchBudget sets the maximum number of pages warmed after a walk.
// Zero disables prefetching.
func (b Builder) WithPrefetchBudget(n int) Builder {
	b.prefetchBudget = n
	return b
}

// WithInsertLevels sets the levels that a walk result is inserted into.
func (b Builder) WithInsertLevels(levels ...Level) Builder {
	b.insertLevels = levels
	return b
}

// WithPrefetchLevels sets the levels that prefetched translations are
// inserted into.
func (b Builder) WithPrefetchLevels(levels ...Level) Builder {
	b.prefetchLevels = levels
	return b
}

// WithRandomSeed sets the seed of the random replacement policies.
func (b Builder) WithRandomSeed(seed uint64) Builder {
	b.policyOptions.Seed = seed
	return b
}

// WithAdaptiveThreshold sets the number of hits that promote an entry to the
// frequent list of the adaptive policy.
func (b Builder) WithAdaptiveThreshold(hits int) Builder {
	b.policyOptions.PromotionThreshold = hits
	return b
}

// WithAdaptationStep sets how fast the adaptive policy moves its target.
func (b Builder) WithAdaptationStep(step int) Builder {
	b.policyOptions.AdaptationStep = step
	return b
}

// WithAddressSpaceTable shares an address space registry with the hierarchy.
func (b Builder) WithAddressSpaceTable(t *vm.AddressSpaceTable) Builder {
	b.spaces = t
	return b
}

// WithLogger sets the logger that the hierarchy reports to.
func (b Builder) WithLogger(logger logrus.FieldLogger) Builder {
	b.logger = logger
	return b
}

// Build creates a hierarchy with the given name.
func (b Builder) Build(name string) *Hierarchy {
	if b.walker == nil {
		panic("tlb: walker is not set")
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	h := &Hierarchy{
		name:           name,
		log:            logger.WithField("component", name),
		walker:         b.walker,
		predictor:      b.buildPredictor(),
		spaces:         b.spaces,
		gens:           &generations{},
		prefetchLevels: b.checkLevels(b.prefetchLevels),
		prefetchBudget: b.prefetchBudget,
	}

	if h.spaces == nil {
		h.spaces = vm.NewAddressSpaceTable()
	}

	for _, l := range b.checkLevels(b.insertLevels) {
		h.inserts[l] = true
	}

	for i := range h.levels {
		h.levels[i] = b.buildLevel(name, Level(i))
	}

	h.log.WithFields(logrus.Fields{
		"l1":       b.capacity[LevelL1],
		"l2":       b.capacity[LevelL2],
		"l3":       b.capacity[LevelL3],
		"prefetch": h.prefetchBudget,
	}).Debug("tlb hierarchy built")

	return h
}

func (b Builder) buildPredictor() *predictor.Predictor {
	switch {
	case b.noPredictor:
		return nil
	case b.predictor != nil:
		return b.predictor
	default:
		return predictor.New(predictor.DefaultConfig())
	}
}

func (b Builder) checkLevels(levels []Level) []Level {
	if len(levels) == 0 {
		panic("tlb: at least one level must be filled")
	}

	for _, l := range levels {
		l.mustBeCaching()
	}

	return append([]Level(nil), levels...)
}

func (b Builder) buildLevel(name string, l Level) *level {
	capacity := b.capacity[l]
	if capacity <= 0 {
		panic(fmt.Sprintf("tlb: %s capacity must be positive", l))
	}

	shards := b.numShards[l]
	if shards == 0 {
		shards = 1
	}

	opts := b.policyOptions
	opts.Seed += uint64(l) << 32

	return &level{
		id: l,
		store: internal.NewStore(internal.StoreConfig{
			Name:          fmt.Sprintf("%s.%s", name, l),
			Capacity:      capacity,
			NumShards:     shards,
			Policy:        b.policy[l],
			PolicyOptions: opts,
		}),
	}
}
