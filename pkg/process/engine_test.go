package process_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/cramakri/smet-collect-go/pkg/process"
)

var _ = Describe("Engine", func() {
	var (
		f         statusFixture
		scriptDir string
		logger    *logrus.Logger
	)

	BeforeEach(func() {
		f = newStatusFixture()

		var err error
		scriptDir, err = os.MkdirTemp("", "scripts")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, scriptDir)

		logger = logrus.New()
		logger.SetLevel(logrus.ErrorLevel)
	})

	writeScript := func(name, body string) {
		path := filepath.Join(scriptDir, name)
		Expect(os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755)).To(Succeed())
	}

	newEngine := func() *process.Engine {
		return process.NewEngine(f.status, process.EngineConfig{
			ScriptDir:    scriptDir,
			PollInterval: 10 * time.Millisecond,
			Logger:       logger,
		})
	}

	logNames := func(folder string) []string {
		entries, err := os.ReadDir(folder)
		if err != nil {
			return nil
		}
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return names
	}

	Describe("prerequisites", func() {
		It("is satisfied when the processing scripts exist", func() {
			writeScript("prune.rb", "exit 0")
			writeScript("mdsummary.rb", "exit 0")
			Expect(newEngine().PrerequisitesSatisfied()).To(BeTrue())
		})

		It("reports the missing script", func() {
			writeScript("prune.rb", "exit 0")
			Expect(newEngine().PrerequisitesSatisfied()).To(BeFalse())
			Expect(f.messages()).To(ContainElement("mdsummary.rb not found in path."))
		})

		It("rejects a directory masquerading as a script", func() {
			Expect(os.Mkdir(filepath.Join(scriptDir, "prune.rb"), 0o755)).To(Succeed())
			Expect(newEngine().ScriptAvailable("prune.rb")).To(BeFalse())
		})
	})

	Describe("running a batch", func() {
		It("hands the manifest to the script and archives the logs as succeeded", func() {
			run := f.finishedRun()
			seen := filepath.Join(scriptDir, "seen.json")
			writeScript("prune.rb", `cp "$1" "`+seen+`"`)

			cmd := process.NewCommand(f.status, process.NewPruner(f.status, nil), "", logger)
			Expect(newEngine().Run(cmd)).To(Succeed())

			data, err := os.ReadFile(seen)
			Expect(err).NotTo(HaveOccurred())
			var body struct {
				Tasks []process.TaskDef `json:"tasks"`
			}
			Expect(json.Unmarshal(data, &body)).To(Succeed())
			Expect(body.Tasks).To(HaveLen(1))
			Expect(body.Tasks[0].InPath).To(Equal(
				f.status.RawDataFolderForRun(f.race(), &run)))

			Expect(logNames(f.status.SuccessLogPath())).To(HaveLen(2))
			Expect(logNames(f.status.RunningLogPath())).To(BeEmpty())
			Expect(logNames(f.status.FailLogPath())).To(BeEmpty())
			Expect(f.messages()).To(ContainElement("Pruning finished"))
		})

		It("archives the logs as failed when the script exits nonzero", func() {
			f.finishedRun()
			writeScript("prune.rb", "exit 1")

			cmd := process.NewCommand(f.status, process.NewPruner(f.status, nil), "", logger)
			Expect(newEngine().Run(cmd)).To(Succeed())

			Expect(logNames(f.status.FailLogPath())).To(HaveLen(2))
			Expect(logNames(f.status.SuccessLogPath())).To(BeEmpty())
			Expect(logNames(f.status.RunningLogPath())).To(BeEmpty())
		})

		It("records every executed command in the run log", func() {
			f.finishedRun()
			writeScript("prune.rb", "exit 0")

			cmd := process.NewCommand(f.status, process.NewPruner(f.status, nil), "", logger)
			Expect(newEngine().Run(cmd)).To(Succeed())

			var runLog string
			for _, name := range logNames(f.status.SuccessLogPath()) {
				data, err := os.ReadFile(filepath.Join(f.status.SuccessLogPath(), name))
				Expect(err).NotTo(HaveOccurred())
				runLog += string(data)
			}
			Expect(runLog).To(ContainSubstring("==== Executing " + filepath.Join(scriptDir, "prune.rb")))
		})

		It("only writes the manifest for a config-only command", func() {
			f.finishedRun()

			config := process.DefaultPrunerConfig()
			config.ConfigOnly = true
			cmd := process.NewCommand(f.status, process.NewPruner(f.status, &config), "", logger)
			Expect(newEngine().Run(cmd)).To(Succeed())

			manifests, err := filepath.Glob(filepath.Join(f.status.TmpFolder(), "prune-*.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(manifests).To(HaveLen(1))
			Expect(logNames(f.status.SuccessLogPath())).To(BeEmpty())
			Expect(logNames(f.status.FailLogPath())).To(BeEmpty())
		})
	})
})
