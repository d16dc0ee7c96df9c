package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/sarchlab/softmmu/config"
	"github.com/sarchlab/softmmu/instrumentation/hooking"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/mem/vm/tlb/replacement"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// GuestBase is the first virtual address of the region that traces touch in
// paged address spaces.
const GuestBase = uint64(0x1000_0000)

// BenchSpec describes a set of runs. Every pattern is replayed once per
// policy on a freshly built system.
type BenchSpec struct {
	Mode     vm.PagingMode
	Patterns []Pattern
	Policies []replacement.Kind
	Trace    TraceSpec

	// Threads is the number of address spaces replayed concurrently, each
	// from its own goroutine.
	Threads int

	// Hooks are attached to the hierarchy of every run.
	Hooks []hooking.Hook

	// OnRun is called after every run.
	OnRun func(Result)
}

// Result summarizes one run.
type Result struct {
	Policy      string    `yaml:"policy" json:"policy"`
	Pattern     string    `yaml:"pattern" json:"pattern"`
	Mode        string    `yaml:"mode" json:"mode"`
	Threads     int       `yaml:"threads" json:"threads"`
	Accesses    int       `yaml:"accesses" json:"accesses"`
	Faults      int       `yaml:"faults" json:"faults"`
	HitRate     float64   `yaml:"hit_rate" json:"hit_rate"`
	NsPerAccess float64   `yaml:"ns_per_access" json:"ns_per_access"`
	TLB         tlb.Stats `yaml:"tlb" json:"tlb"`
}

// Bench performs the runs that spec describes and returns their results in
// pattern-major order.
func Bench(
	ctx context.Context,
	cfg config.Config,
	spec BenchSpec,
	logger logrus.FieldLogger,
) ([]Result, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if spec.Threads <= 0 {
		spec.Threads = 1
	}

	var results []Result

	for _, pattern := range spec.Patterns {
		for _, kind := range spec.Policies {
			if err := ctx.Err(); err != nil {
				return results, err
			}

			runCfg := cfg
			runCfg.TLB.L1.Policy = kind.String()
			runCfg.TLB.L2.Policy = kind.String()
			runCfg.TLB.L3.Policy = kind.String()

			trace := spec.Trace
			trace.Pattern = pattern

			r, err := runOnce(ctx, runCfg, spec, trace, logger)
			if err != nil {
				return results, fmt.Errorf("%s/%s: %w", pattern, kind, err)
			}

			logger.WithFields(logrus.Fields{
				"policy":   r.Policy,
				"pattern":  r.Pattern,
				"hit_rate": r.HitRate,
			}).Info("benchmark run finished")

			if spec.OnRun != nil {
				spec.OnRun(r)
			}

			results = append(results, r)
		}
	}

	return results, nil
}

func runOnce(
	ctx context.Context,
	cfg config.Config,
	spec BenchSpec,
	trace TraceSpec,
	logger logrus.FieldLogger,
) (Result, error) {
	s := NewSystem(cfg, "Bench", logger)
	for _, h := range spec.Hooks {
		s.TLB.AcceptHook(h)
	}

	base := GuestBase
	if spec.Mode == vm.ModeIdentity {
		base = cfg.Memory.RAMBase + vm.PageSize
	}

	traces := make([][]Access, spec.Threads)
	for i := range traces {
		asid := vm.ASID(i + 1)
		if _, err := s.MapGuest(asid, spec.Mode, base, trace.Pages); err != nil {
			return Result{}, err
		}

		t := trace
		t.Seed += uint64(i)
		traces[i] = Generate(base, t)
	}

	faults := make([]int, spec.Threads)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i := range traces {
		g.Go(func() error {
			n, err := Replay(ctx, s, vm.ASID(i+1), traces[i])
			faults[i] = n

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	elapsed := time.Since(start)

	r := Result{
		Policy:  cfg.TLB.L1.Policy,
		Pattern: trace.Pattern.String(),
		Mode:    spec.Mode.String(),
		Threads: spec.Threads,
		TLB:     s.TLB.Stats(),
	}

	for i := range traces {
		r.Accesses += len(traces[i])
		r.Faults += faults[i]
	}

	r.HitRate = r.TLB.HitRate()
	if r.Accesses > 0 {
		r.NsPerAccess = float64(elapsed.Nanoseconds()) / float64(r.Accesses)
	}

	return r, nil
}

// Replay performs the accesses of the trace through the MMU of the system and
// returns the number of accesses that faulted. Errors that are not faults
// stop the replay.
func Replay(
	ctx context.Context,
	s *System,
	asid vm.ASID,
	trace []Access,
) (int, error) {
	faults := 0

	for i, a := range trace {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return faults, err
			}
		}

		var err error
		if a.Write {
			err = s.MMU.Write(asid, a.VAddr, uint64(i), 8)
		} else {
			_, err = s.MMU.Read(asid, a.VAddr, 8)
		}

		switch {
		case err == nil:
		case vm.IsFault(err):
			faults++
		default:
			return faults, err
		}
	}

	return faults, nil
}
