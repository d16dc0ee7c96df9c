// Package config holds the tunables of a softmmu instance and turns them into
// configured builders.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/vm/mmu"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/mem/vm/tlb/predictor"
	"github.com/sarchlab/softmmu/mem/vm/tlb/replacement"
	"github.com/sarchlab/softmmu/mem/vm/walker"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Memory    MemoryConfig    `yaml:"memory"`
	TLB       TLBConfig       `yaml:"tlb"`
	Predictor PredictorConfig `yaml:"predictor"`
	MMU       MMUConfig       `yaml:"mmu"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Recording RecordingConfig `yaml:"recording"`
}

// MemoryConfig describes the physical memory.
type MemoryConfig struct {
	RAMBase  uint64 `yaml:"ram_base"`
	RAMSize  uint64 `yaml:"ram_size"`
	UnitSize uint64 `yaml:"unit_size"`
}

// LevelConfig describes one TLB level.
type LevelConfig struct {
	Capacity  int    `yaml:"capacity"`
	Policy    string `yaml:"policy"`
	NumShards int    `yaml:"num_shards"`
}

// TLBConfig describes the TLB hierarchy.
type TLBConfig struct {
	L1 LevelConfig `yaml:"l1"`
	L2 LevelConfig `yaml:"l2"`
	L3 LevelConfig `yaml:"l3"`

	PrefetchBudget     int    `yaml:"prefetch_budget"`
	PromotionThreshold int    `yaml:"promotion_threshold"`
	AdaptationStep     int    `yaml:"adaptation_step"`
	RandomSeed         uint64 `yaml:"random_seed"`
}

// Levels returns the level configurations from L1 to L3.
func (c TLBConfig) Levels() [tlb.NumLevels]LevelConfig {
	return [tlb.NumLevels]LevelConfig{c.L1, c.L2, c.L3}
}

// PredictorConfig bounds the access pattern predictor.
type PredictorConfig struct {
	Enabled           bool `yaml:"enabled"`
	MaxCandidates     int  `yaml:"max_candidates"`
	MaxRows           int  `yaml:"max_rows"`
	QueueDepth        int  `yaml:"queue_depth"`
	RecentPredictions int  `yaml:"recent_predictions"`
	HistoryLength     int  `yaml:"history_length"`
}

// MMUConfig tunes the MMU facade.
type MMUConfig struct {
	StrictAlignment bool `yaml:"strict_alignment"`
}

// MonitorConfig tunes the monitoring server.
type MonitorConfig struct {
	Port int `yaml:"port"`
}

// RecordingConfig tells where events are recorded. An empty path disables
// recording.
type RecordingConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	pc := predictor.DefaultConfig()
	opts := replacement.DefaultOptions()

	return Config{
		LogLevel: "info",
		Memory: MemoryConfig{
			RAMBase:  0,
			RAMSize:  64 << 20,
			UnitSize: 4096,
		},
		TLB: TLBConfig{
			L1:                 LevelConfig{Capacity: 64, Policy: "lru", NumShards: 1},
			L2:                 LevelConfig{Capacity: 256, Policy: "lru", NumShards: 1},
			L3:                 LevelConfig{Capacity: 1024, Policy: "lru", NumShards: 1},
			PrefetchBudget:     4,
			PromotionThreshold: opts.PromotionThreshold,
			AdaptationStep:     opts.AdaptationStep,
			RandomSeed:         opts.Seed,
		},
		Predictor: PredictorConfig{
			Enabled:           true,
			MaxCandidates:     pc.MaxCandidates,
			MaxRows:           pc.MaxRows,
			QueueDepth:        pc.QueueDepth,
			RecentPredictions: pc.RecentPredictions,
			HistoryLength:     pc.HistoryLength,
		},
	}
}

// Load starts from the defaults, applies the YAML file at path if path is
// not empty, then the environment. Variables in the env files are added to
// the environment first without overriding it. Without env files, ".env" is
// used if it exists.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		err := cfg.readFile(path)
		if err != nil {
			return cfg, err
		}
	}

	err := loadEnvFiles(envFiles)
	if err != nil {
		return cfg, err
	}

	err = cfg.ApplyEnv(os.LookupEnv)
	if err != nil {
		return cfg, err
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}

	logrus.WithFields(logrus.Fields{
		"file":     path,
		"ram_size": cfg.Memory.RAMSize,
		"l1":       cfg.TLB.L1.Capacity,
		"l2":       cfg.TLB.L2.Capacity,
		"l3":       cfg.TLB.L3.Capacity,
	}).Debug("configuration loaded")

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	err = dec.Decode(c)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}

	return nil
}

// WriteYAML writes the configuration in the format that Load reads.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	err := enc.Encode(c)
	if err != nil {
		return err
	}

	return enc.Close()
}

// Validate reports every setting that cannot be built.
func (c Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, c.Memory.validate()...)

	for i, l := range c.TLB.Levels() {
		errs = append(errs, l.validate(tlb.Level(i))...)
	}

	if c.TLB.PrefetchBudget < 0 {
		errs = append(errs, errors.New("prefetch budget must not be negative"))
	}

	if c.TLB.PromotionThreshold < 1 {
		errs = append(errs, errors.New("promotion threshold must be at least 1"))
	}

	if c.TLB.AdaptationStep < 1 {
		errs = append(errs, errors.New("adaptation step must be at least 1"))
	}

	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid monitor port %d", c.Monitor.Port))
	}

	return errors.Join(errs...)
}

func (m MemoryConfig) validate() []error {
	var errs []error

	if m.RAMSize == 0 {
		errs = append(errs, errors.New("ram size must be positive"))
	}

	if m.RAMBase+m.RAMSize < m.RAMBase {
		errs = append(errs, errors.New("ram wraps around the address space"))
	}

	if m.UnitSize == 0 || m.UnitSize&(m.UnitSize-1) != 0 {
		errs = append(errs,
			fmt.Errorf("unit size %d is not a power of 2", m.UnitSize))
	}

	return errs
}

func (l LevelConfig) validate(lvl tlb.Level) []error {
	var errs []error

	if l.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("%s: capacity must be positive", lvl))
	}

	if l.NumShards <= 0 || l.NumShards&(l.NumShards-1) != 0 {
		errs = append(errs,
			fmt.Errorf("%s: number of shards must be a power of 2", lvl))
	} else if l.NumShards > l.Capacity {
		errs = append(errs, fmt.Errorf("%s: more shards than entries", lvl))
	}

	if _, err := replacement.ParseKind(l.Policy); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", lvl, err))
	}

	return errs
}

// Level returns the parsed log level. Invalid levels fall back to info.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}

	return lvl
}

// MemoryBuilder returns a physical memory builder.
func (c Config) MemoryBuilder() physmem.Builder {
	return physmem.MakeBuilder().
		WithRAMBase(c.Memory.RAMBase).
		WithRAMSize(c.Memory.RAMSize).
		WithUnitSize(c.Memory.UnitSize)
}

// WalkerBuilder returns a walker builder that reads page tables from mem.
// Identity address spaces cover the installed RAM.
func (c Config) WalkerBuilder(mem walker.PTEMemory) walker.Builder {
	return walker.MakeBuilder().
		WithMemory(mem).
		WithPhysicalMemorySize(c.Memory.RAMBase + c.Memory.RAMSize)
}

// PredictorConfig returns the predictor configuration. It is nil when
// prediction is disabled.
func (c Config) PredictorConfig() *predictor.Config {
	if !c.Predictor.Enabled {
		return nil
	}

	return &predictor.Config{
		MaxCandidates:     c.Predictor.MaxCandidates,
		MaxRows:           c.Predictor.MaxRows,
		QueueDepth:        c.Predictor.QueueDepth,
		RecentPredictions: c.Predictor.RecentPredictions,
		HistoryLength:     c.Predictor.HistoryLength,
	}
}

// HierarchyBuilder returns a TLB builder that resolves misses with w. The
// configuration must be valid.
func (c Config) HierarchyBuilder(w tlb.Walker) tlb.Builder {
	b := tlb.MakeBuilder().
		WithWalker(w).
		WithPrefetchBudget(c.TLB.PrefetchBudget).
		WithAdaptiveThreshold(c.TLB.PromotionThreshold).
		WithAdaptationStep(c.TLB.AdaptationStep).
		WithRandomSeed(c.TLB.RandomSeed)

	for i, l := range c.TLB.Levels() {
		lvl := tlb.Level(i)

		kind, err := replacement.ParseKind(l.Policy)
		if err != nil {
			panic(err)
		}

		b = b.WithLevelCapacity(lvl, l.Capacity).
			WithLevelPolicy(lvl, kind).
			WithNumShards(lvl, l.NumShards)
	}

	if pc := c.PredictorConfig(); pc != nil {
		b = b.WithPredictor(predictor.New(*pc))
	} else {
		b = b.WithPredictor(nil)
	}

	return b
}

// MMUBuilder returns an MMU builder.
func (c Config) MMUBuilder() mmu.Builder {
	return mmu.MakeBuilder().WithStrictAlignment(c.MMU.StrictAlignment)
}
