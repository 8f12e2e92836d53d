package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// DoneSentinel terminates the client-facing stream, mirroring the
// "data: [DONE]" convention of the LLM ecosystem.
const DoneSentinel = "[DONE]"

// Writer emits SSE events to a destination io.Writer. When the destination
// backs an io.Pipe, each write blocks until the downstream transport consumes
// it, so delivery is backpressure-coupled to the client with no internal
// buffering.
type Writer struct {
	dest io.Writer
}

// NewWriter returns a Writer emitting SSE events to dest.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

// WriteData emits one data-only SSE event with the given payload.
func (w *Writer) WriteData(payload []byte) error {
	if _, err := fmt.Fprintf(w.dest, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("writing sse event: %w", err)
	}
	return nil
}

// WriteJSON marshals v and emits it as one data-only SSE event.
func (w *Writer) WriteJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling sse payload: %w", err)
	}
	return w.WriteData(payload)
}

// WriteDone emits the terminating [DONE] sentinel event.
func (w *Writer) WriteDone() error {
	return w.WriteData([]byte(DoneSentinel))
}
