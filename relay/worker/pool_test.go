package worker

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/prismgate/relay/pkg/eventstream"
	"github.com/prismgate/relay/pkg/logger"
)

// capturingPublisher records published events; optionally blocks until released.
type capturingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.StreamCompletedEvent
	block  chan struct{}
	closed bool
}

func (c *capturingPublisher) PublishStream(_ context.Context, event *eventstream.StreamCompletedEvent) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturingPublisher) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *capturingPublisher) published() []*eventstream.StreamCompletedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*eventstream.StreamCompletedEvent(nil), c.events...)
}

func newTestEvent(session string) *eventstream.StreamCompletedEvent {
	return &eventstream.StreamCompletedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeStreamCompleted,
		EventID:       "evt-" + session,
		RequestMeta:   eventstream.StreamRequestMeta{SessionID: session},
		Source:        eventstream.EventSource{Model: "gpt-4"},
	}
}

var _ = Describe("Pool", func() {
	It("requires a publisher", func() {
		_, err := NewPool(&Config{Logger: logger.Nop()})
		Expect(err).To(MatchError(ErrNilPublisher))
	})

	It("publishes enqueued events and drains on Close", func() {
		pub := &capturingPublisher{}
		p, err := NewPool(&Config{
			Publisher:  pub,
			NumWorkers: 2,
			Logger:     logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(p.Enqueue(Job{Event: newTestEvent("a")})).To(BeTrue())
		Expect(p.Enqueue(Job{Event: newTestEvent("b")})).To(BeTrue())
		Expect(p.Enqueue(Job{Event: newTestEvent("c")})).To(BeTrue())

		p.Close()

		events := pub.published()
		Expect(events).To(HaveLen(3))

		var sessions []string
		for _, e := range events {
			sessions = append(sessions, e.RequestMeta.SessionID)
		}
		Expect(sessions).To(ConsistOf("a", "b", "c"))
	})

	It("drops events without blocking when the queue is full", func() {
		pub := &capturingPublisher{block: make(chan struct{})}
		p, err := NewPool(&Config{
			Publisher:  pub,
			NumWorkers: 1,
			QueueSize:  1,
			Logger:     logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())

		// First job is picked up by the (blocked) worker, second fills the
		// queue. Eventually further enqueues must report a drop.
		Eventually(func() bool {
			return !p.Enqueue(Job{Event: newTestEvent("overflow")})
		}).Should(BeTrue())

		close(pub.block)
		p.Close()
	})
})
