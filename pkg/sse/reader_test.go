package sse

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reader", func() {
	Describe("Next", func() {
		Context("with standard SSE events", func() {
			It("parses a single event", func() {
				r := NewReader(strings.NewReader("data: hello world\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).NotTo(BeNil())
				Expect(ev.Data).To(Equal("hello world"))
				Expect(ev.Type).To(BeEmpty())
			})

			It("parses multiple events in sequence", func() {
				r := NewReader(strings.NewReader("data: one\n\ndata: two\n\ndata: three\n\n"))

				var seen []string
				for {
					ev, err := r.Next()
					Expect(err).NotTo(HaveOccurred())
					if ev == nil {
						break
					}
					seen = append(seen, ev.Data)
				}
				Expect(seen).To(Equal([]string{"one", "two", "three"}))
			})

			It("captures event type and id fields", func() {
				r := NewReader(strings.NewReader("event: metrics\nid: 42\ndata: {}\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Type).To(Equal("metrics"))
				Expect(ev.ID).To(Equal("42"))
				Expect(ev.Data).To(Equal("{}"))
			})

			It("joins multiple data lines with a newline", func() {
				r := NewReader(strings.NewReader("data: first\ndata: second\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal("first\nsecond"))
			})
		})

		Context("with irregular streams", func() {
			It("skips comment keep-alive lines", func() {
				r := NewReader(strings.NewReader(": keep-alive\n\ndata: payload\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal("payload"))
			})

			It("skips leading blank lines", func() {
				r := NewReader(strings.NewReader("\n\n\ndata: payload\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal("payload"))
			})

			It("yields a trailing event missing its final blank line", func() {
				r := NewReader(strings.NewReader("data: unterminated"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).NotTo(BeNil())
				Expect(ev.Data).To(Equal("unterminated"))

				ev, err = r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).To(BeNil())
			})

			It("strips the optional space after the colon", func() {
				r := NewReader(strings.NewReader("data:no-space\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal("no-space"))
			})
		})

		Context("when the source is exhausted", func() {
			It("returns nil, nil", func() {
				r := NewReader(strings.NewReader(""))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).To(BeNil())
			})
		})
	})
})
