package main

import (
	"fmt"

	"github.com/sarchlab/softmmu/instrumentation/recording"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/mem/vm/tlb/replacement"
	"github.com/sarchlab/softmmu/workload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// runTable is the table that bench --record writes one row per run to.
const runTable = "bench_runs"

type runEntry struct {
	Policy           string
	Pattern          string
	Mode             string
	Threads          int
	Accesses         int
	Faults           int
	HitRate          float64
	L1HitRate        float64
	L2HitRate        float64
	L3HitRate        float64
	Walks            uint64
	SharedWalks      uint64
	Rewalks          uint64
	PrefetchIssued   uint64
	PrefetchInserted uint64
	NsPerAccess      float64
}

func toRunEntry(r workload.Result) runEntry {
	return runEntry{
		Policy:           r.Policy,
		Pattern:          r.Pattern,
		Mode:             r.Mode,
		Threads:          r.Threads,
		Accesses:         r.Accesses,
		Faults:           r.Faults,
		HitRate:          r.HitRate,
		L1HitRate:        r.TLB.Level(tlb.LevelL1).HitRate(),
		L2HitRate:        r.TLB.Level(tlb.LevelL2).HitRate(),
		L3HitRate:        r.TLB.Level(tlb.LevelL3).HitRate(),
		Walks:            r.TLB.Walks,
		SharedWalks:      r.TLB.SharedWalks,
		Rewalks:          r.TLB.Rewalks,
		PrefetchIssued:   r.TLB.PrefetchIssued,
		PrefetchInserted: r.TLB.PrefetchInserted,
		NsPerAccess:      r.NsPerAccess,
	}
}

type workloadFlags struct {
	mode       string
	patterns   []string
	pages      int
	length     int
	stride     int
	writeRatio float64
	seed       uint64
}

func (f *workloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", "sv39",
		"paging mode of the guest address spaces")
	cmd.Flags().StringSliceVar(&f.patterns, "pattern",
		[]string{"sequential", "strided", "random", "mixed"},
		"trace patterns to replay")
	cmd.Flags().IntVar(&f.pages, "pages", 256, "pages touched by a trace")
	cmd.Flags().IntVar(&f.length, "length", 100000, "accesses per trace")
	cmd.Flags().IntVar(&f.stride, "stride", 7, "page stride of strided traces")
	cmd.Flags().Float64Var(&f.writeRatio, "write-ratio", 0.3,
		"fraction of accesses that are stores")
	cmd.Flags().Uint64Var(&f.seed, "seed", 1, "seed of the trace generator")
}

func (f *workloadFlags) parse() (vm.PagingMode, []workload.Pattern, workload.TraceSpec, error) {
	mode, err := vm.ParsePagingMode(f.mode)
	if err != nil {
		return 0, nil, workload.TraceSpec{}, err
	}

	var patterns []workload.Pattern
	for _, s := range f.patterns {
		p, err := workload.ParsePattern(s)
		if err != nil {
			return 0, nil, workload.TraceSpec{}, err
		}

		patterns = append(patterns, p)
	}

	if f.pages <= 0 || f.length <= 0 {
		return 0, nil, workload.TraceSpec{},
			fmt.Errorf("pages and length must be positive")
	}

	trace := workload.TraceSpec{
		Pages:      f.pages,
		Length:     f.length,
		Stride:     f.stride,
		WriteRatio: f.writeRatio,
		Seed:       f.seed,
	}

	return mode, patterns, trace, nil
}

var benchFlags workloadFlags

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare replacement policies on synthetic traces",
	Long: `bench replays synthetic traces through a freshly built MMU for ` +
		`every combination of pattern and replacement policy and prints the ` +
		`results as YAML.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchFlags.register(benchCmd)
	benchCmd.Flags().StringSlice("policy", nil,
		"replacement policies to compare (default all)")
	benchCmd.Flags().Int("threads", 1,
		"address spaces replayed concurrently")
	benchCmd.Flags().String("record", "",
		"write the results to this SQLite database (without extension)")
	benchCmd.Flags().Bool("events", false,
		"also record walks, faults, evictions and shootdowns")
	rootCmd.AddCommand(benchCmd)
}

func parsePolicies(names []string) ([]replacement.Kind, error) {
	if len(names) == 0 {
		return replacement.AllKinds(), nil
	}

	var kinds []replacement.Kind
	for _, name := range names {
		k, err := replacement.ParseKind(name)
		if err != nil {
			return nil, err
		}

		kinds = append(kinds, k)
	}

	return kinds, nil
}

func runBench(cmd *cobra.Command, _ []string) error {
	mode, patterns, trace, err := benchFlags.parse()
	if err != nil {
		return err
	}

	policyNames, _ := cmd.Flags().GetStringSlice("policy")
	policies, err := parsePolicies(policyNames)
	if err != nil {
		return err
	}

	threads, _ := cmd.Flags().GetInt("threads")
	recordPath, _ := cmd.Flags().GetString("record")
	withEvents, _ := cmd.Flags().GetBool("events")

	if recordPath == "" {
		recordPath = cfg.Recording.Path
	}

	spec := workload.BenchSpec{
		Mode:     mode,
		Patterns: patterns,
		Policies: policies,
		Trace:    trace,
		Threads:  threads,
	}

	if recordPath != "" {
		recorder := recording.New(recordPath)
		defer func() {
			if err := recorder.Close(); err != nil {
				logrus.WithError(err).Error("closing recording")
			}
		}()

		recorder.CreateTable(runTable, runEntry{})
		spec.OnRun = func(r workload.Result) {
			recorder.InsertData(runTable, toRunEntry(r))
		}

		if withEvents {
			spec.Hooks = append(spec.Hooks, recording.NewEventRecorder(recorder))
		}

		logrus.WithField("path", recordPath).Info("recording benchmark")
	}

	results, err := workload.Bench(cmd.Context(), cfg, spec,
		logrus.StandardLogger())
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)

	if err := enc.Encode(results); err != nil {
		return err
	}

	return enc.Close()
}
