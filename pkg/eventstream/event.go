// Package eventstream defines transport-neutral observability events emitted
// by the relay, and the publisher abstraction that exports them. Metrics are
// relayed to clients in-band; this package is the hand-off point to the
// platform's observability pipeline, which owns any persistence.
package eventstream

import (
	"time"

	"github.com/prismgate/relay/pkg/llm"
	"github.com/prismgate/relay/pkg/stream"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeStreamCompleted is emitted after a chat stream completes
	// normally (metrics annotation and completion marker delivered).
	EventTypeStreamCompleted = "relay.stream.completed"
)

// StreamCompletedEvent is a transport-neutral event payload for one
// completed chat stream.
type StreamCompletedEvent struct {
	SchemaVersion int                      `json:"schema_version"`
	EventType     string                   `json:"event_type"`
	EventID       string                   `json:"event_id"`
	EmittedAt     time.Time                `json:"emitted_at"`
	Source        EventSource              `json:"source"`
	RequestMeta   StreamRequestMeta        `json:"request_meta"`
	Metrics       stream.MetricsAnnotation `json:"metrics"`
	Usage         llm.Usage                `json:"usage"`
}

// EventSource identifies where the stream originated.
type EventSource struct {
	ProjectID string `json:"project_id,omitempty"`
	Model     string `json:"model"`
	ClientIP  string `json:"client_ip,omitempty"`
}

// StreamRequestMeta captures request lifecycle metadata for the event.
type StreamRequestMeta struct {
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	ChunkCount  int       `json:"chunk_count"`
}
