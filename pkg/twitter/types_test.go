package twitter_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cramakri/smet-collect-go/pkg/twitter"
)

const samplePage = `{
  "statuses": [
    {"id": 1003, "created_at": "Mon Sep 14 19:42:19 +0000 2015", "text": "newest"},
    {"id": 1001, "created_at": "Mon Sep 14 18:01:00 +0000 2015", "text": "oldest"},
    {"id": 1002, "created_at": "Mon Sep 14 18:30:45 +0000 2015", "text": "middle"}
  ],
  "search_metadata": {
    "max_id": 1003,
    "since_id": 0,
    "next_results": "?max_id=1000&q=alice&count=100&include_entities=1&result_type=recent",
    "refresh_url": "?since_id=1003&q=alice&result_type=recent&include_entities=1",
    "query": "alice",
    "count": 100
  }
}`

var _ = Describe("Page", func() {
	It("decodes a stored payload", func() {
		page, err := twitter.PageFromRaw([]byte(samplePage))
		Expect(err).NotTo(HaveOccurred())
		Expect(page.Statuses).To(HaveLen(3))
		Expect(page.Metadata.MaxID).To(Equal(int64(1003)))
		Expect(page.Metadata.Query).To(Equal("alice"))
	})

	It("rejects payloads that are not search results", func() {
		_, err := twitter.PageFromRaw([]byte("not json"))
		Expect(err).To(HaveOccurred())
	})

	Describe("NextMaxID", func() {
		It("extracts the continuation marker", func() {
			page, err := twitter.PageFromRaw([]byte(samplePage))
			Expect(err).NotTo(HaveOccurred())

			maxID, ok, err := page.NextMaxID()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(maxID).To(Equal(int64(1000)))
		})

		It("reports no continuation on the last page", func() {
			page := &twitter.Page{}
			_, ok, err := page.NextMaxID()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("errors when next_results carries no marker", func() {
			page := &twitter.Page{}
			page.Metadata.NextResults = "?q=alice"
			_, _, err := page.NextMaxID()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("QueryFromRefreshURL", func() {
		It("recovers the query string", func() {
			page, err := twitter.PageFromRaw([]byte(samplePage))
			Expect(err).NotTo(HaveOccurred())

			query, err := page.QueryFromRefreshURL()
			Expect(err).NotTo(HaveOccurred())
			Expect(query).To(Equal("alice"))
		})

		It("errors when the page has no refresh_url", func() {
			page := &twitter.Page{}
			_, err := page.QueryFromRefreshURL()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("EarliestAndLatest", func() {
		It("spans the content timestamps", func() {
			page, err := twitter.PageFromRaw([]byte(samplePage))
			Expect(err).NotTo(HaveOccurred())

			earliest, latest, err := page.EarliestAndLatest()
			Expect(err).NotTo(HaveOccurred())
			Expect(*earliest).To(Equal(time.Date(2015, 9, 14, 18, 1, 0, 0, time.UTC)))
			Expect(*latest).To(Equal(time.Date(2015, 9, 14, 19, 42, 19, 0, time.UTC)))
		})

		It("returns nils for an empty page", func() {
			earliest, latest, err := (&twitter.Page{}).EarliestAndLatest()
			Expect(err).NotTo(HaveOccurred())
			Expect(earliest).To(BeNil())
			Expect(latest).To(BeNil())
		})
	})
})

var _ = Describe("Status", func() {
	It("parses creation timestamps", func() {
		status := twitter.Status{CreatedAt: "Mon Sep 14 19:42:19 +0000 2015"}
		t, err := status.CreatedAtTime()
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(time.Date(2015, 9, 14, 19, 42, 19, 0, time.UTC)))
	})

	It("rejects malformed timestamps", func() {
		status := twitter.Status{CreatedAt: "2015-09-14"}
		_, err := status.CreatedAtTime()
		Expect(err).To(HaveOccurred())
	})
})
