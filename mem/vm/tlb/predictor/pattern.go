package predictor

// Pattern is the shape of the recent accesses of an address space.
type Pattern uint8

// The recognized patterns.
const (
	PatternUnknown Pattern = iota
	PatternSequential
	PatternStrided
	PatternRandom
)

func (p Pattern) String() string {
	switch p {
	case PatternSequential:
		return "sequential"
	case PatternStrided:
		return "strided"
	case PatternRandom:
		return "random"
	default:
		return "unknown"
	}
}

// MarshalText lets patterns appear by name in JSON and YAML reports.
func (p Pattern) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

const (
	minStridesToClassify = 4

	// dominance is the share, in percent, that the most common stride needs
	// for the pattern to be regular.
	dominance = 75
)

func classify(strides []int64) Pattern {
	if len(strides) < minStridesToClassify {
		return PatternUnknown
	}

	counts := make(map[int64]int)
	best, bestCount := int64(0), 0

	for _, s := range strides {
		counts[s]++
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}

	if bestCount*100 < len(strides)*dominance {
		return PatternRandom
	}

	if best == 1 || best == -1 {
		return PatternSequential
	}

	return PatternStrided
}
