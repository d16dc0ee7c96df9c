// Package predictor learns which page an address space touches after another
// one, so that the TLB can warm translations before they are needed.
package predictor

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/vm"
)

// Config bounds the memory that the predictor uses per address space.
type Config struct {
	// MaxCandidates is the number of successors remembered for a page.
	MaxCandidates int

	// MaxRows is the number of pages with successors remembered per ASID.
	MaxRows int

	// QueueDepth is the number of pending prefetch candidates per ASID.
	QueueDepth int

	// RecentPredictions is the number of issued predictions remembered to
	// measure accuracy.
	RecentPredictions int

	// HistoryLength is the number of strides used to classify the access
	// pattern.
	HistoryLength int
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:     4,
		MaxRows:           512,
		QueueDepth:        16,
		RecentPredictions: 64,
		HistoryLength:     16,
	}
}

// A Predictor is an order-1 Markov model of page transitions, one per ASID.
// It is safe for concurrent use.
type Predictor struct {
	cfg Config

	mu     sync.RWMutex
	tables map[vm.ASID]*table

	issued atomic.Uint64
	useful atomic.Uint64
}

// New creates a predictor.
func New(cfg Config) *Predictor {
	def := DefaultConfig()

	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}

	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}

	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}

	if cfg.RecentPredictions <= 0 {
		cfg.RecentPredictions = def.RecentPredictions
	}

	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = def.HistoryLength
	}

	return &Predictor{
		cfg:    cfg,
		tables: make(map[vm.ASID]*table),
	}
}

// Config returns the configuration of the predictor.
func (p *Predictor) Config() Config {
	return p.cfg
}

func (p *Predictor) find(asid vm.ASID) *table {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.tables[asid]
}

func (p *Predictor) findOrCreate(asid vm.ASID) *table {
	if t := p.find(asid); t != nil {
		return t
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tables[asid]
	if !ok {
		t = newTable(p.cfg)
		p.tables[asid] = t
	}

	return t
}

// Record observes an access of the ASID to the page.
func (p *Predictor) Record(asid vm.ASID, vpn vm.VPN) {
	t := p.findOrCreate(asid)

	t.Lock()
	defer t.Unlock()

	if t.consumeRecent(vpn) {
		p.useful.Add(1)
	}

	if t.hasLast && t.last == vpn {
		return
	}

	if t.hasLast {
		t.learn(t.last, vpn)
		t.recordStride(int64(vpn) - int64(t.last))
	}

	t.last = vpn
	t.hasLast = true
}

// Predict returns up to n pages that are likely to follow vpn, the most
// frequent first and the lower page first among equals. The predictions are
// also queued for Drain.
func (p *Predictor) Predict(asid vm.ASID, vpn vm.VPN, n int) []vm.VPN {
	if n <= 0 {
		return nil
	}

	t := p.find(asid)
	if t == nil {
		return nil
	}

	t.Lock()
	defer t.Unlock()

	preds := t.predict(vpn, n)
	for _, pred := range preds {
		t.enqueue(pred)
		t.rememberPrediction(pred)
	}

	p.issued.Add(uint64(len(preds)))

	return preds
}

// Drain removes up to n pending predictions of the ASID, oldest first.
func (p *Predictor) Drain(asid vm.ASID, n int) []vm.VPN {
	t := p.find(asid)
	if t == nil || n <= 0 {
		return nil
	}

	t.Lock()
	defer t.Unlock()

	n = min(n, len(t.queue))
	out := make([]vm.VPN, n)
	copy(out, t.queue[:n])
	t.queue = append(t.queue[:0], t.queue[n:]...)

	return out
}

// Classify reports the dominant access pattern of the ASID.
func (p *Predictor) Classify(asid vm.ASID) Pattern {
	t := p.find(asid)
	if t == nil {
		return PatternUnknown
	}

	t.Lock()
	defer t.Unlock()

	return classify(t.strides)
}

// ForgetPage drops everything learned about the page in the ASID.
func (p *Predictor) ForgetPage(asid vm.ASID, vpn vm.VPN) {
	t := p.find(asid)
	if t == nil {
		return
	}

	t.Lock()
	defer t.Unlock()

	t.forget(vpn)
}

// ForgetASID drops everything learned about the ASID.
func (p *Predictor) ForgetASID(asid vm.ASID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.tables, asid)
}

// Reset drops everything learned. Counters are kept.
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tables = make(map[vm.ASID]*table)
}

// Stats is a snapshot of the predictor state.
type Stats struct {
	Issued   uint64  `json:"issued" yaml:"issued"`
	Useful   uint64  `json:"useful" yaml:"useful"`
	Accuracy float64 `json:"accuracy" yaml:"accuracy"`
	ASIDs    int     `json:"asids" yaml:"asids"`
	Rows     int     `json:"rows" yaml:"rows"`
	Pending  int     `json:"pending" yaml:"pending"`
}

// Stats returns the current state.
func (p *Predictor) Stats() Stats {
	s := Stats{
		Issued: p.issued.Load(),
		Useful: p.useful.Load(),
	}

	if s.Issued > 0 {
		s.Accuracy = float64(s.Useful) / float64(s.Issued)
	}

	p.mu.RLock()
	tables := make([]*table, 0, len(p.tables))
	for _, t := range p.tables {
		tables = append(tables, t)
	}
	p.mu.RUnlock()

	s.ASIDs = len(tables)
	for _, t := range tables {
		t.Lock()
		s.Rows += len(t.index)
		s.Pending += len(t.queue)
		t.Unlock()
	}

	return s
}

// ResetStats zeroes the counters.
func (p *Predictor) ResetStats() {
	p.issued.Store(0)
	p.useful.Store(0)
}

// ASIDs lists the address spaces that have a model, in increasing order.
func (p *Predictor) ASIDs() []vm.ASID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	asids := make([]vm.ASID, 0, len(p.tables))
	for asid := range p.tables {
		asids = append(asids, asid)
	}

	sort.Slice(asids, func(i, j int) bool { return asids[i] < asids[j] })

	return asids
}
