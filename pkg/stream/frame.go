// Package stream defines the relay's client-facing frame protocol and the
// per-stream metrics recorder.
//
// A completed stream is the ordered sequence: zero or more ContentDelta
// frames, exactly one MetricsAnnotation, then exactly one completion marker
// (the SSE [DONE] sentinel). Consumers may rely on this ordering; a stream
// that terminates without the trailing annotation and marker failed before
// completion.
package stream

import "encoding/json"

// FrameType discriminates frame payloads on the wire.
type FrameType string

const (
	// FrameTypeDelta is a content token delta.
	FrameTypeDelta FrameType = "delta"

	// FrameTypeMetrics is the single out-of-band telemetry annotation
	// emitted at stream completion.
	FrameTypeMetrics FrameType = "metrics"
)

// ContentDelta carries one upstream content chunk, forwarded as-is and
// never delayed for instrumentation.
type ContentDelta struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content"`
}

// NewContentDelta builds a delta frame for the given text.
func NewContentDelta(text string) ContentDelta {
	return ContentDelta{Type: FrameTypeDelta, Content: text}
}

// MetricsAnnotation carries the stream's latency and throughput telemetry.
// ITLMsAvg is omitted when fewer than two content chunks arrived: the mean
// of an empty inter-token gap list is not meaningful.
type MetricsAnnotation struct {
	Type                   FrameType `json:"type"`
	TTFTMs                 float64   `json:"ttft_ms"`
	ITLMsAvg               *float64  `json:"itl_ms_avg,omitempty"`
	ThroughputTokensPerSec float64   `json:"throughput_tokens_per_sec"`
	E2ELatencySec          float64   `json:"e2e_latency_sec"`
}

// Envelope is the decoded view of any relay frame, used by consumers to
// dispatch on the type discriminator.
type Envelope struct {
	Type                   FrameType `json:"type"`
	Content                string    `json:"content,omitempty"`
	TTFTMs                 float64   `json:"ttft_ms,omitempty"`
	ITLMsAvg               *float64  `json:"itl_ms_avg,omitempty"`
	ThroughputTokensPerSec float64   `json:"throughput_tokens_per_sec,omitempty"`
	E2ELatencySec          float64   `json:"e2e_latency_sec,omitempty"`
}

// DecodeFrame parses one frame payload (the data portion of an SSE event,
// excluding the [DONE] sentinel).
func DecodeFrame(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
