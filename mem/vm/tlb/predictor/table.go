package predictor

import (
	"math"
	"sort"
	"sync"

	"github.com/sarchlab/softmmu/mem/vm"
)

type candidate struct {
	vpn  vm.VPN
	freq uint32
	seq  uint64
}

type row struct {
	from       vm.VPN
	seq        uint64
	candidates []candidate
}

func (r *row) total() uint64 {
	var sum uint64
	for _, c := range r.candidates {
		sum += uint64(c.freq)
	}

	return sum
}

// table is the model of one ASID. Rows live in an arena and are found
// through index, evicted rows are recycled through free.
type table struct {
	sync.Mutex
	cfg Config

	rows  []row
	index map[vm.VPN]int32
	free  []int32
	seq   uint64

	last    vm.VPN
	hasLast bool

	queue []vm.VPN

	recent      map[vm.VPN]struct{}
	recentOrder []vm.VPN

	strides    []int64
	strideNext int
}

func newTable(cfg Config) *table {
	return &table{
		cfg:     cfg,
		index:   make(map[vm.VPN]int32),
		recent:  make(map[vm.VPN]struct{}),
		strides: make([]int64, 0, cfg.HistoryLength),
	}
}

func (t *table) nextSeq() uint64 {
	t.seq++
	return t.seq
}

// learn records the transition from one page to the next.
func (t *table) learn(from, to vm.VPN) {
	idx, ok := t.index[from]
	if !ok {
		idx = t.allocRow(from)
	}

	r := &t.rows[idx]
	for i := range r.candidates {
		if r.candidates[i].vpn == to {
			if r.candidates[i].freq < math.MaxUint32 {
				r.candidates[i].freq++
			}

			return
		}
	}

	c := candidate{vpn: to, freq: 1, seq: t.nextSeq()}
	if len(r.candidates) < t.cfg.MaxCandidates {
		r.candidates = append(r.candidates, c)
		return
	}

	weakest := 0
	for i, cand := range r.candidates {
		w := r.candidates[weakest]
		if cand.freq < w.freq || (cand.freq == w.freq && cand.seq < w.seq) {
			weakest = i
		}
	}

	r.candidates[weakest] = c
}

func (t *table) allocRow(from vm.VPN) int32 {
	if len(t.index) >= t.cfg.MaxRows {
		t.decay()
	}

	r := row{
		from:       from,
		seq:        t.nextSeq(),
		candidates: make([]candidate, 0, t.cfg.MaxCandidates),
	}

	var idx int32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
		t.rows[idx] = r
	} else {
		idx = int32(len(t.rows))
		t.rows = append(t.rows, r)
	}

	t.index[from] = idx

	return idx
}

// decay halves every counter and evicts the weakest row, the oldest one
// among equally weak rows.
func (t *table) decay() {
	victim := int32(-1)
	var victimTotal uint64

	for _, idx := range t.index {
		r := &t.rows[idx]
		for i := range r.candidates {
			r.candidates[i].freq /= 2
		}

		total := r.total()
		if victim < 0 || total < victimTotal ||
			(total == victimTotal && r.seq < t.rows[victim].seq) {
			victim = idx
			victimTotal = total
		}
	}

	if victim >= 0 {
		t.releaseRow(victim)
	}
}

func (t *table) releaseRow(idx int32) {
	delete(t.index, t.rows[idx].from)
	t.rows[idx] = row{}
	t.free = append(t.free, idx)
}

func (t *table) predict(vpn vm.VPN, n int) []vm.VPN {
	idx, ok := t.index[vpn]
	if !ok {
		return nil
	}

	candidates := make([]candidate, 0, len(t.rows[idx].candidates))
	for _, c := range t.rows[idx].candidates {
		if c.vpn != vpn && c.freq > 0 {
			candidates = append(candidates, c)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].freq != candidates[j].freq {
			return candidates[i].freq > candidates[j].freq
		}

		return candidates[i].vpn < candidates[j].vpn
	})

	n = min(n, len(candidates))
	preds := make([]vm.VPN, n)
	for i := range preds {
		preds[i] = candidates[i].vpn
	}

	return preds
}

func (t *table) enqueue(vpn vm.VPN) {
	for _, q := range t.queue {
		if q == vpn {
			return
		}
	}

	if len(t.queue) >= t.cfg.QueueDepth {
		t.queue = append(t.queue[:0], t.queue[1:]...)
	}

	t.queue = append(t.queue, vpn)
}

func (t *table) rememberPrediction(vpn vm.VPN) {
	if _, ok := t.recent[vpn]; ok {
		return
	}

	if len(t.recentOrder) >= t.cfg.RecentPredictions {
		oldest := t.recentOrder[0]
		t.recentOrder = t.recentOrder[1:]
		delete(t.recent, oldest)
	}

	t.recent[vpn] = struct{}{}
	t.recentOrder = append(t.recentOrder, vpn)
}

// consumeRecent returns true if vpn was predicted and not yet used.
func (t *table) consumeRecent(vpn vm.VPN) bool {
	if _, ok := t.recent[vpn]; !ok {
		return false
	}

	delete(t.recent, vpn)
	t.recentOrder = removeVPN(t.recentOrder, vpn)

	return true
}

func (t *table) recordStride(stride int64) {
	if len(t.strides) < t.cfg.HistoryLength {
		t.strides = append(t.strides, stride)
		return
	}

	t.strides[t.strideNext] = stride
	t.strideNext = (t.strideNext + 1) % t.cfg.HistoryLength
}

func (t *table) forget(vpn vm.VPN) {
	if idx, ok := t.index[vpn]; ok {
		t.releaseRow(idx)
	}

	for _, idx := range t.index {
		r := &t.rows[idx]
		kept := r.candidates[:0]
		for _, c := range r.candidates {
			if c.vpn != vpn {
				kept = append(kept, c)
			}
		}
		r.candidates = kept
	}

	t.queue = removeVPN(t.queue, vpn)

	if _, ok := t.recent[vpn]; ok {
		delete(t.recent, vpn)
		t.recentOrder = removeVPN(t.recentOrder, vpn)
	}

	if t.hasLast && t.last == vpn {
		t.hasLast = false
	}
}

func removeVPN(list []vm.VPN, vpn vm.VPN) []vm.VPN {
	kept := list[:0]
	for _, v := range list {
		if v != vpn {
			kept = append(kept, v)
		}
	}

	return kept
}
