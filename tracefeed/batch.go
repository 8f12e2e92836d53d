package tracefeed

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Span is one trace span as pushed by the observability channel. The relay
// treats it as opaque; structure is owned by the dashboard consuming it.
type Span = json.RawMessage

// Processor normalizes push payloads into span sequences for the consumer.
//
// A payload is either a batch (JSON array) or a lone span (JSON object).
// When OnBatch is registered the whole batch is delivered in one call so the
// consumer can reconstruct parent/child trees from siblings; otherwise each
// span is delivered individually through OnSpan, in array order.
type Processor struct {
	// OnBatch receives the full normalized batch. Takes priority over
	// OnSpan when both are registered.
	OnBatch func(spans []Span)

	// OnSpan receives one span at a time, in batch order.
	OnSpan func(span Span)
}

// Process normalizes one push payload and dispatches it to the registered
// callback. Payloads that are neither an array nor an object are rejected.
func (p *Processor) Process(payload []byte) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty trace payload")
	}

	var spans []Span

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &spans); err != nil {
			return fmt.Errorf("parsing trace batch: %w", err)
		}
	case '{':
		var span Span
		if err := json.Unmarshal(trimmed, &span); err != nil {
			return fmt.Errorf("parsing trace span: %w", err)
		}
		spans = []Span{span}
	default:
		return fmt.Errorf("trace payload is neither a batch nor a span")
	}

	if p.OnBatch != nil {
		p.OnBatch(spans)
		return nil
	}

	if p.OnSpan != nil {
		for _, span := range spans {
			p.OnSpan(span)
		}
	}

	return nil
}
