package stream

import "time"

// Recorder accumulates timing telemetry for one stream relay invocation.
// It is owned by a single invocation and never shared across requests, so
// it needs no locking. Metrics are relayed in-band via the finalized
// MetricsAnnotation; nothing is persisted here.
type Recorder struct {
	start   time.Time
	firstAt time.Time
	lastAt  time.Time
	chunks  int
	itl     []time.Duration
}

// NewRecorder creates a Recorder with the given dispatch time. The caller
// captures start immediately before the upstream call so TTFT covers the
// full upstream round trip.
func NewRecorder(start time.Time) *Recorder {
	return &Recorder{start: start}
}

// ObserveChunk records the arrival of one content chunk. The first chunk
// fixes TTFT; every subsequent chunk appends one inter-token gap.
func (r *Recorder) ObserveChunk(at time.Time) {
	if r.chunks == 0 {
		r.firstAt = at
	} else {
		r.itl = append(r.itl, at.Sub(r.lastAt))
	}
	r.lastAt = at
	r.chunks++
}

// Chunks returns the number of content chunks observed.
func (r *Recorder) Chunks() int {
	return r.chunks
}

// TTFT returns the time-to-first-token and whether any chunk arrived.
func (r *Recorder) TTFT() (time.Duration, bool) {
	if r.chunks == 0 {
		return 0, false
	}
	return r.firstAt.Sub(r.start), true
}

// Finalize computes the stream's telemetry at completion time.
// Throughput is completion tokens over end-to-end seconds; with a zero
// duration (degenerate clock) it reports zero rather than dividing by zero.
func (r *Recorder) Finalize(completionTokens int, at time.Time) MetricsAnnotation {
	ann := MetricsAnnotation{Type: FrameTypeMetrics}

	if ttft, ok := r.TTFT(); ok {
		ann.TTFTMs = float64(ttft.Microseconds()) / 1000.0
	}

	if len(r.itl) > 0 {
		var total time.Duration
		for _, gap := range r.itl {
			total += gap
		}
		avg := float64(total.Microseconds()) / 1000.0 / float64(len(r.itl))
		ann.ITLMsAvg = &avg
	}

	e2e := at.Sub(r.start).Seconds()
	ann.E2ELatencySec = e2e
	if e2e > 0 {
		ann.ThroughputTokensPerSec = float64(completionTokens) / e2e
	}

	return ann
}
