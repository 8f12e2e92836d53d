// Package worker provides an asynchronous worker pool for exporting
// completed-stream events through an eventstream.Publisher.
//
// The pool decouples observability export from the relay's streaming hot
// path: a stream finishes, its event is enqueued without blocking, and the
// client-facing response is never delayed by a slow export backend.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prismgate/relay/pkg/eventstream"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// publishTimeout bounds one export attempt so a stuck backend cannot pin a
// worker forever.
const publishTimeout = 10 * time.Second

// ErrNilPublisher indicates the pool was configured without a publisher.
var ErrNilPublisher = errors.New("publisher is required")

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Event *eventstream.StreamCompletedEvent
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Publisher is the export backend for completed-stream events.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool exports stream events asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Publisher == nil {
		return nil, ErrNilPublisher
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := uint(0); i < c.NumWorkers; i++ {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job
// being dropped. Export is best-effort; the in-band metrics the client
// already received are unaffected by a drop.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("stream event queued",
			zap.String("session_id", job.Event.RequestMeta.SessionID),
			zap.String("model", job.Event.Source.Model),
		)
		return true
	default:
		p.logger.Error("stream event not queued, queue full, event dropped",
			zap.String("session_id", job.Event.RequestMeta.SessionID),
			zap.String("model", job.Event.Source.Model),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the relay HTTP server has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("export worker stopped", zap.Uint("worker_id", id))
}

// processJob publishes one completed-stream event.
func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.config.Publisher.PublishStream(ctx, job.Event); err != nil {
		p.logger.Error("async stream event export failed",
			zap.String("session_id", job.Event.RequestMeta.SessionID),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("stream event exported",
		zap.String("session_id", job.Event.RequestMeta.SessionID),
		zap.String("event_id", job.Event.EventID),
	)
}
