package bundle_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
)

var _ = Describe("Timestamp codecs", func() {
	stamp := time.Date(2015, 9, 25, 13, 44, 10, 123456000, time.UTC)

	It("renders results filenames with microsecond precision", func() {
		Expect(bundle.TimeToResultsFilename(stamp)).To(Equal("2015-09-25-13-44-10-123456.json"))
	})

	It("round-trips results filenames", func() {
		name := bundle.TimeToResultsFilename(stamp)
		parsed, err := bundle.ResultsFilenameToTime(name)
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(stamp))
	})

	It("round-trips run folder names", func() {
		name := bundle.TimeToRunFolderName(stamp)
		Expect(name).To(Equal("2015-09-25-13-44-10-123456_run"))
		parsed, err := bundle.RunFolderNameToTime(name)
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(stamp))
	})

	It("rejects names without the expected suffix", func() {
		_, err := bundle.ResultsFilenameToTime("2015-09-25-13-44-10-123456_run")
		Expect(err).To(HaveOccurred())
		_, err = bundle.RunFolderNameToTime("2015-09-25-13-44-10-123456.json")
		Expect(err).To(HaveOccurred())
	})

	It("rejects malformed timestamps", func() {
		_, err := bundle.ResultsFilenameToTime("not-a-timestamp.json")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Slug", func() {
	It("lowercases and replaces spaces with dashes", func() {
		Expect(bundle.Slug("US Presidential Election")).To(Equal("us-presidential-election"))
	})

	It("leaves already-slugged names alone", func() {
		Expect(bundle.Slug("us-presidential-election")).To(Equal("us-presidential-election"))
	})
})

var _ = Describe("Config", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "bundle-config")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)
	})

	writeConfig := func(content string) string {
		path := filepath.Join(dir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	It("parses races, candidates, and search terms", func() {
		path := writeConfig(`
- race: US Presidential Election
  year: 2016
  candidates:
    - name: Alice Alpha
      party: Examples
      search:
        - alice
        - "@alicealpha"
    - name: Bob Beta
      active: false
      search:
        - bob
`)
		config, err := bundle.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(config.Races).To(HaveLen(1))

		race := config.Races[0]
		Expect(race.Race).To(Equal("US Presidential Election"))
		Expect(race.Year).To(Equal(2016))
		Expect(race.Candidates).To(HaveLen(2))
		Expect(race.Candidates[0].IsActive()).To(BeTrue())
		Expect(race.Candidates[0].Search).To(Equal([]string{"alice", "@alicealpha"}))
		Expect(race.Candidates[1].IsActive()).To(BeFalse())
	})

	It("rejects a race with no name", func() {
		path := writeConfig(`
- year: 2016
  candidates: []
`)
		_, err := bundle.LoadConfig(path)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a candidate with no name", func() {
		path := writeConfig(`
- race: Some Race
  candidates:
    - search: [x]
`)
		_, err := bundle.LoadConfig(path)
		Expect(err).To(HaveOccurred())
	})

	It("parses credentials", func() {
		path := filepath.Join(dir, "credentials.yaml")
		Expect(os.WriteFile(path, []byte(`
app_key: key
app_secret: secret
access_token: token
access_token_secret: token-secret
`), 0o644)).To(Succeed())

		creds, err := bundle.LoadCredentials(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(creds.AppKey).To(Equal("key"))
		Expect(creds.AccessTokenSecret).To(Equal("token-secret"))
	})
})
