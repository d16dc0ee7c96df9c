package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkg/browser"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/monitoring"
	"github.com/sarchlab/softmmu/workload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// replayChunk is the number of accesses replayed between progress updates.
const replayChunk = 4096

var monitorFlags workloadFlags

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Replay traces in a loop and serve live counters over HTTP",
	Long: `monitor builds one MMU, maps an address space per pattern and ` +
		`replays the traces until interrupted, while the monitoring server ` +
		`reports the counters of the memory, walker, TLB and MMU.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorFlags.register(monitorCmd)
	monitorCmd.Flags().Int("port", 0,
		"port of the monitoring server (default from configuration, or random)")
	monitorCmd.Flags().Bool("open", false, "open the monitor in a browser")
	monitorCmd.Flags().Int("iterations", 0,
		"number of passes over the patterns, 0 runs until interrupted")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	mode, patterns, trace, err := monitorFlags.parse()
	if err != nil {
		return err
	}

	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = cfg.Monitor.Port
	}

	open, _ := cmd.Flags().GetBool("open")
	iterations, _ := cmd.Flags().GetInt("iterations")

	s := workload.NewSystem(cfg, "Monitor", logrus.StandardLogger())

	m := monitoring.NewMonitor().WithPortNumber(port)
	m.RegisterMMU(s.MMU)
	m.RegisterStats(s.Memory, func() any { return s.Memory.Stats() })
	m.RegisterStats(s.Walker, func() any { return s.Walker.Stats() })

	traces, err := prepareTraces(s, mode, patterns, trace)
	if err != nil {
		return err
	}

	actualPort := m.StartServer()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := m.StopServer(ctx); err != nil {
			logrus.WithError(err).Warn("stopping monitor")
		}
	}()

	if open {
		url := fmt.Sprintf("http://localhost:%d", actualPort)
		if err := browser.OpenURL(url); err != nil {
			logrus.WithError(err).Warn("cannot open browser")
		}
	}

	err = replayLoop(cmd.Context(), m, s, patterns, traces, iterations)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// prepareTraces maps the address space of every pattern. The pattern at
// index i runs in ASID i+1.
func prepareTraces(
	s *workload.System,
	mode vm.PagingMode,
	patterns []workload.Pattern,
	spec workload.TraceSpec,
) ([][]workload.Access, error) {
	base := workload.GuestBase
	if mode == vm.ModeIdentity {
		base = s.Memory.RAMBase() + vm.PageSize
	}

	traces := make([][]workload.Access, len(patterns))
	for i, p := range patterns {
		if _, err := s.MapGuest(vm.ASID(i+1), mode, base, spec.Pages); err != nil {
			return nil, err
		}

		t := spec
		t.Pattern = p
		t.Seed += uint64(i)
		traces[i] = workload.Generate(base, t)
	}

	return traces, nil
}

func replayLoop(
	ctx context.Context,
	m *monitoring.Monitor,
	s *workload.System,
	patterns []workload.Pattern,
	traces [][]workload.Access,
	iterations int,
) error {
	for iter := 0; iterations == 0 || iter < iterations; iter++ {
		for i, trace := range traces {
			name := fmt.Sprintf("%s #%d", patterns[i], iter+1)
			bar := m.CreateProgressBar(name, uint64(len(trace)))

			err := replayWithProgress(ctx, s, vm.ASID(i+1), trace, bar)

			m.CompleteProgressBar(bar)

			if err != nil {
				return err
			}
		}
	}

	return nil
}

func replayWithProgress(
	ctx context.Context,
	s *workload.System,
	asid vm.ASID,
	trace []workload.Access,
	bar *monitoring.ProgressBar,
) error {
	for start := 0; start < len(trace); start += replayChunk {
		end := min(start+replayChunk, len(trace))
		bar.IncrementInProgress(uint64(end - start))

		_, err := workload.Replay(ctx, s, asid, trace[start:end])
		if err != nil {
			return err
		}

		bar.MoveInProgressToFinished(uint64(end - start))
	}

	return nil
}
