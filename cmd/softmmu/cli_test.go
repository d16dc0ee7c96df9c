package main

import (
	"bytes"
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/softmmu/instrumentation/recording"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/mem/vm/tlb/replacement"
	"github.com/sarchlab/softmmu/workload"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// The commands keep their flags between executions, so each command is
// executed with a given flag at most once.
var _ = Describe("CLI", Ordered, func() {
	var out *bytes.Buffer

	execute := func(args ...string) error {
		out = &bytes.Buffer{}
		rootCmd.SetOut(out)
		rootCmd.SetErr(&bytes.Buffer{})
		rootCmd.SetArgs(args)

		return rootCmd.ExecuteContext(context.Background())
	}

	BeforeAll(func() {
		logrus.SetOutput(GinkgoWriter)
	})

	It("should print the configuration", func() {
		Expect(execute("config")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("prefetch_budget: 4"))
		Expect(out.String()).To(ContainSubstring("policy: lru"))
	})

	It("should list the environment variables", func() {
		Expect(execute("config", "--env")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("SOFTMMU_TLB_L1_CAPACITY\n"))
	})

	It("should reject unknown paging modes", func() {
		Expect(execute("bench", "--mode", "sv57")).ToNot(Succeed())
	})

	It("should benchmark and record the runs", func() {
		path := filepath.Join(GinkgoT().TempDir(), "runs")

		Expect(execute("bench",
			"--mode", "sv48",
			"--pattern", "sequential",
			"--policy", "lru,clock",
			"--pages", "16",
			"--length", "500",
			"--threads", "2",
			"--record", path,
			"--events",
		)).To(Succeed())

		var results []workload.Result
		Expect(yaml.Unmarshal(out.Bytes(), &results)).To(Succeed())
		Expect(results).To(HaveLen(2))
		Expect(results[0].Policy).To(Equal("lru"))
		Expect(results[1].Policy).To(Equal("clock"))
		Expect(results[0].Mode).To(Equal("sv48"))
		Expect(results[0].Accesses).To(Equal(1000))
		Expect(results[0].TLB.Levels).To(HaveLen(tlb.NumLevels))

		reader := recording.NewReader(path)
		defer reader.Close()

		reader.MapTable(runTable, runEntry{})
		reader.MapTable(recording.EventTable, recording.EventEntry{})

		runs, total, err := reader.Query(context.Background(), runTable,
			recording.QueryParams{OrderBy: "Policy"})
		Expect(err).ToNot(HaveOccurred())
		Expect(total).To(Equal(2))
		Expect(runs[0].(*runEntry).Policy).To(Equal("clock"))
		Expect(runs[1].(*runEntry).Threads).To(Equal(2))

		_, walks, err := reader.Query(context.Background(),
			recording.EventTable,
			recording.QueryParams{Where: "Kind = ?", Args: []any{"Walk"}})
		Expect(err).ToNot(HaveOccurred())
		Expect(walks).To(BeNumerically(">", 0))
	})
})

var _ = Describe("Run entries", func() {
	It("should flatten a result", func() {
		r := workload.Result{
			Policy:   "adaptive",
			Pattern:  "random",
			Mode:     "sv39",
			Threads:  4,
			Accesses: 100,
			HitRate:  0.5,
			TLB: tlb.Stats{
				Levels: []tlb.LevelStats{
					{Level: "L1", Hits: 3, Misses: 1},
					{Level: "L2", Hits: 1, Misses: 1},
					{Level: "L3"},
				},
				Walks: 7,
			},
		}

		e := toRunEntry(r)
		Expect(e.Policy).To(Equal("adaptive"))
		Expect(e.L1HitRate).To(Equal(0.75))
		Expect(e.L2HitRate).To(Equal(0.5))
		Expect(e.L3HitRate).To(BeZero())
		Expect(e.Walks).To(Equal(uint64(7)))
	})

	It("should default to every policy", func() {
		kinds, err := parsePolicies(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(kinds).To(Equal(replacement.AllKinds()))

		kinds, err = parsePolicies([]string{"FIFO"})
		Expect(err).ToNot(HaveOccurred())
		Expect(kinds).To(Equal([]replacement.Kind{replacement.FIFO}))
	})
})
