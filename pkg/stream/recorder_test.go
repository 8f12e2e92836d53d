package stream

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Recorder", func() {
	var (
		start time.Time
		rec   *Recorder
	)

	BeforeEach(func() {
		start = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		rec = NewRecorder(start)
	})

	It("records TTFT exactly once, on the first chunk", func() {
		rec.ObserveChunk(start.Add(120 * time.Millisecond))
		rec.ObserveChunk(start.Add(500 * time.Millisecond))
		rec.ObserveChunk(start.Add(900 * time.Millisecond))

		ttft, ok := rec.TTFT()
		Expect(ok).To(BeTrue())
		Expect(ttft).To(Equal(120 * time.Millisecond))
	})

	It("reports no TTFT when no chunk arrived", func() {
		_, ok := rec.TTFT()
		Expect(ok).To(BeFalse())
	})

	Describe("Finalize", func() {
		It("computes throughput as completion tokens over e2e seconds", func() {
			rec.ObserveChunk(start.Add(100 * time.Millisecond))
			ann := rec.Finalize(40, start.Add(2*time.Second))

			Expect(ann.Type).To(Equal(FrameTypeMetrics))
			Expect(ann.E2ELatencySec).To(BeNumerically("==", 2.0))
			Expect(ann.ThroughputTokensPerSec).To(BeNumerically("==", 20.0))
		})

		It("averages inter-token gaps", func() {
			rec.ObserveChunk(start.Add(100 * time.Millisecond))
			rec.ObserveChunk(start.Add(300 * time.Millisecond)) // gap 200ms
			rec.ObserveChunk(start.Add(700 * time.Millisecond)) // gap 400ms

			ann := rec.Finalize(3, start.Add(time.Second))
			Expect(ann.ITLMsAvg).NotTo(BeNil())
			Expect(*ann.ITLMsAvg).To(BeNumerically("~", 300.0, 0.001))
		})

		It("omits the ITL average with zero chunks", func() {
			ann := rec.Finalize(0, start.Add(time.Second))
			Expect(ann.ITLMsAvg).To(BeNil())
			Expect(ann.TTFTMs).To(BeZero())
		})

		It("omits the ITL average with a single chunk", func() {
			rec.ObserveChunk(start.Add(50 * time.Millisecond))
			ann := rec.Finalize(1, start.Add(time.Second))

			Expect(ann.ITLMsAvg).To(BeNil())
			Expect(ann.TTFTMs).To(BeNumerically("==", 50.0))

			// Omitted on the wire too, not serialized as null or zero.
			payload, err := json.Marshal(ann)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(payload)).NotTo(ContainSubstring("itl_ms_avg"))
		})

		It("reports zero throughput for a zero-duration stream", func() {
			ann := rec.Finalize(10, start)
			Expect(ann.ThroughputTokensPerSec).To(BeZero())
		})
	})
})

var _ = Describe("Frames", func() {
	It("round-trips a content delta through DecodeFrame", func() {
		payload, err := json.Marshal(NewContentDelta("Hel"))
		Expect(err).NotTo(HaveOccurred())

		env, err := DecodeFrame(payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Type).To(Equal(FrameTypeDelta))
		Expect(env.Content).To(Equal("Hel"))
	})

	It("round-trips a metrics annotation through DecodeFrame", func() {
		avg := 12.5
		payload, err := json.Marshal(MetricsAnnotation{
			Type:                   FrameTypeMetrics,
			TTFTMs:                 80,
			ITLMsAvg:               &avg,
			ThroughputTokensPerSec: 64,
			E2ELatencySec:          1.5,
		})
		Expect(err).NotTo(HaveOccurred())

		env, err := DecodeFrame(payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Type).To(Equal(FrameTypeMetrics))
		Expect(*env.ITLMsAvg).To(BeNumerically("==", 12.5))
		Expect(env.ThroughputTokensPerSec).To(BeNumerically("==", 64))
	})
})
