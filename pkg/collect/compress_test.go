package collect_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
	"github.com/cramakri/smet-collect-go/pkg/collect"
	"github.com/cramakri/smet-collect-go/pkg/process"
	"github.com/cramakri/smet-collect-go/pkg/progress"
)

var _ = Describe("Maintenance sweeps", func() {
	var (
		root    string
		status  *bundle.Status
		reports []progress.Report
	)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	BeforeEach(func() {
		var err error
		root, err = os.MkdirTemp("", "sweep")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, root)
		Expect(os.WriteFile(filepath.Join(root, "config.yaml"),
			[]byte(collectorTestConfig), 0o644)).To(Succeed())

		clock := newFakeClock(time.Date(2016, 3, 1, 9, 0, 0, 0, time.UTC))
		reports = nil
		status, err = bundle.OpenStatus(bundle.New(root), bundle.StatusOptions{
			Logger:   logger,
			Progress: func(r progress.Report) { reports = append(reports, r) },
			Now:      clock.Now,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(status.CreateTables()).To(Succeed())
		Expect(status.SyncConfig()).To(Succeed())
	})

	race := func() bundle.Race {
		races, err := status.Races()
		Expect(err).NotTo(HaveOccurred())
		return races[0]
	}

	messages := func() []string {
		var msgs []string
		for _, r := range reports {
			msgs = append(msgs, r.Message)
		}
		return msgs
	}

	newRun := func() bundle.Run {
		run, err := status.CreateRun(race(), status.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(status.FinishRun(run, status.Now())).To(Succeed())
		return *run
	}

	writeRaw := func(run bundle.Run, names ...string) {
		folder := status.RawDataFolderForRun(race(), &run)
		Expect(bundle.EnsureFolder(folder)).To(Succeed())
		for _, name := range names {
			Expect(os.WriteFile(filepath.Join(folder, name),
				[]byte(`{"statuses": []}`), 0o644)).To(Succeed())
		}
	}

	writePruned := func(run bundle.Run, content string) {
		Expect(bundle.EnsureFolder(status.PrunedDataFolderForRace(race()))).To(Succeed())
		file := status.PrunedDataPathForRun(race(), run) + ".json"
		Expect(os.WriteFile(file, []byte(content), 0o644)).To(Succeed())
	}

	archivePath := func(run bundle.Run) string {
		return status.CompressedDataPathForRun(race(), run)
	}

	compress := func(run bundle.Run) {
		writeRaw(run, "page1.json", "page2.json")
		writePruned(run, `[{"id": 1}]`)
		Expect(collect.NewCompressor(status, nil, "").Run()).To(Succeed())
		Expect(archivePath(run)).To(BeAnExistingFile())
	}

	Describe("Compressor", func() {
		It("archives pruned runs and verifies the archive", func() {
			run := newRun()
			compress(run)

			Expect(messages()).To(ContainElement("Archive verified."))
			Expect(messages()).To(ContainElement("Compressing finished"))
			// Compression does not reclaim the raw data; that is the
			// archiver's job.
			Expect(status.RawDataFolderForRun(race(), &run)).To(BeADirectory())
		})

		It("ignores runs that have not been pruned", func() {
			run := newRun()
			writeRaw(run, "page1.json")

			Expect(collect.NewCompressor(status, nil, "").Run()).To(Succeed())
			Expect(archivePath(run)).NotTo(BeAnExistingFile())
			Expect(messages()).To(ContainElement("No runs to compress."))
		})

		It("ignores runs that already have an archive", func() {
			run := newRun()
			compress(run)

			reports = nil
			Expect(collect.NewCompressor(status, nil, "").Run()).To(Succeed())
			Expect(messages()).To(ContainElement("No runs to compress."))
		})

		It("skips pruned runs whose raw data is gone", func() {
			run := newRun()
			writePruned(run, `[{"id": 1}]`)

			Expect(collect.NewCompressor(status, nil, "").Run()).To(Succeed())
			Expect(archivePath(run)).NotTo(BeAnExistingFile())
			Expect(messages()).To(ContainElement(HavePrefix("No run found at")))
		})
	})

	Describe("Uncompressor", func() {
		It("restores raw data from the archive", func() {
			run := newRun()
			compress(run)
			rawFolder := status.RawDataFolderForRun(race(), &run)
			Expect(os.RemoveAll(rawFolder)).To(Succeed())

			Expect(collect.NewUncompressor(status, nil, "").Run()).To(Succeed())

			Expect(filepath.Join(rawFolder, "page1.json")).To(BeAnExistingFile())
			Expect(filepath.Join(rawFolder, "page2.json")).To(BeAnExistingFile())
			Expect(messages()).To(ContainElement("Uncompressing finished"))
		})

		It("leaves runs with raw data alone", func() {
			run := newRun()
			compress(run)

			reports = nil
			Expect(collect.NewUncompressor(status, nil, "").Run()).To(Succeed())
			Expect(messages()).To(ContainElement("No runs to uncompress."))
		})
	})

	Describe("Archiver", func() {
		It("deletes raw data once the run is pruned and archived", func() {
			run := newRun()
			compress(run)

			Expect(collect.NewArchiver(status, nil, "").Run()).To(Succeed())

			Expect(status.RawDataFolderForRun(race(), &run)).NotTo(BeADirectory())
			Expect(archivePath(run)).To(BeAnExistingFile())
			Expect(messages()).To(ContainElement("Archiving finished"))
		})

		It("reclaims the oldest runs first when capped", func() {
			oldest := newRun()
			middle := newRun()
			newest := newRun()
			for _, run := range []bundle.Run{oldest, middle, newest} {
				compress(run)
			}

			config := collect.CompressorConfig{MaxRuns: 2}
			Expect(collect.NewArchiver(status, &config, "").Run()).To(Succeed())

			Expect(status.RawDataFolderForRun(race(), &oldest)).NotTo(BeADirectory())
			Expect(status.RawDataFolderForRun(race(), &middle)).NotTo(BeADirectory())
			Expect(status.RawDataFolderForRun(race(), &newest)).To(BeADirectory())
		})

		It("keeps raw data whose archive disappeared", func() {
			run := newRun()
			compress(run)
			Expect(os.Remove(archivePath(run))).To(Succeed())

			reports = nil
			Expect(collect.NewArchiver(status, nil, "").Run()).To(Succeed())
			Expect(status.RawDataFolderForRun(race(), &run)).To(BeADirectory())
			Expect(messages()).To(ContainElement("No runs to archive."))
		})
	})

	Describe("Purger", func() {
		It("only reports dataless runs on a dry run", func() {
			run := newRun()
			writePruned(run, `[]`)

			Expect(collect.NewPurger(status, nil, "").Run()).To(Succeed())

			Expect(messages()).To(ContainElement(HavePrefix("Removing run")))
			runs, err := status.RunsOrdered(race(), true)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(1))
			Expect(status.PrunedDataPathForRun(race(), run) + ".json").To(BeAnExistingFile())
		})

		It("deletes dataless runs when executing", func() {
			run := newRun()
			writePruned(run, `[]`)

			config := collect.PurgerConfig{Execute: true}
			Expect(collect.NewPurger(status, &config, "").Run()).To(Succeed())

			runs, err := status.RunsOrdered(race(), true)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(BeEmpty())
			Expect(status.PrunedDataPathForRun(race(), run) + ".json").NotTo(BeAnExistingFile())
		})

		It("spares runs that still have data", func() {
			run := newRun()
			writeRaw(run, "page1.json")

			config := collect.PurgerConfig{Execute: true}
			Expect(collect.NewPurger(status, &config, "").Run()).To(Succeed())

			runs, err := status.RunsOrdered(race(), true)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(1))
		})
	})

	Describe("Rebuilder", func() {
		var scriptDir string

		BeforeEach(func() {
			var err error
			scriptDir, err = os.MkdirTemp("", "scripts")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.RemoveAll, scriptDir)
			Expect(os.WriteFile(filepath.Join(scriptDir, "prune.rb"),
				[]byte("#!/bin/sh\nexit 0\n"), 0o755)).To(Succeed())
		})

		newEngine := func() *process.Engine {
			return process.NewEngine(status, process.EngineConfig{
				ScriptDir:    scriptDir,
				PollInterval: 10 * time.Millisecond,
				Logger:       logger,
			})
		}

		It("re-queues pruning for runs with empty pruned output", func() {
			run := newRun()
			writeRaw(run, "page1.json")
			writePruned(run, `[]`)

			Expect(collect.NewRebuilder(newEngine(), status, nil, "").Run()).To(Succeed())

			Expect(messages()).To(ContainElement(
				"Pruning run: " + status.RawDataFolderForRun(race(), &run)))
			Expect(messages()).To(ContainElement("Rebuilding finished"))
		})

		It("leaves healthy pruned output alone", func() {
			run := newRun()
			writeRaw(run, "page1.json")
			writePruned(run, `[{"id": 1}]`)

			Expect(collect.NewRebuilder(newEngine(), status, nil, "").Run()).To(Succeed())
			Expect(messages()).To(ContainElement("No runs to rebuild."))
		})

		It("selects archived runs that were never pruned", func() {
			run := newRun()
			compress(run)
			Expect(os.RemoveAll(status.RawDataFolderForRun(race(), &run))).To(Succeed())
			Expect(os.Remove(status.PrunedDataPathForRun(race(), run) + ".json")).To(Succeed())

			Expect(collect.NewRebuilder(newEngine(), status, nil, "").Run()).To(Succeed())

			// The raw data was restored from the archive before pruning.
			Expect(status.RawDataFolderForRun(race(), &run)).To(BeADirectory())
			Expect(messages()).To(ContainElement("Rebuilding finished"))
		})
	})
})
