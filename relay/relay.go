// Package relay implements the playground's real-time streaming relay: it
// accepts a chat-completion request from a browser client, forwards it to
// the upstream inference gateway, and re-streams the response token by token
// while computing latency and throughput telemetry in-band.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prismgate/relay/pkg/eventstream"
	"github.com/prismgate/relay/pkg/llm"
	"github.com/prismgate/relay/pkg/sse"
	"github.com/prismgate/relay/pkg/stream"
	"github.com/prismgate/relay/relay/identity"
	"github.com/prismgate/relay/relay/worker"
)

// errorResponse is the JSON error envelope returned on non-streaming failures.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

const (
	codeAuthRequired = "authentication_required"
	maskedError      = "upstream request failed"
)

// Relay is the streaming relay server. Each stream invocation owns its own
// recorder and timers; no state is shared across concurrent requests beyond
// the process-wide collectors.
type Relay struct {
	config     Config
	workerPool *worker.Pool
	logger     *zap.Logger
	httpClient *http.Client
	server     *fiber.App
	metrics    *metrics
}

// New creates a new Relay. The publisher receives completed-stream
// observability events asynchronously via the relay's worker pool.
func New(config Config, publisher eventstream.Publisher, logger *zap.Logger) (*Relay, error) {
	if config.GatewayURL == "" {
		return nil, fmt.Errorf("gateway URL is required")
	}
	if config.ChatPath == "" {
		config.ChatPath = "/v1/chat/completions"
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
	})

	wp, err := worker.NewPool(&worker.Config{
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	r := &Relay{
		config:     config,
		workerPool: wp,
		logger:     logger,
		server:     app,
		metrics:    newMetrics(),
		httpClient: &http.Client{
			// LLM requests can be slow, especially with long generations
			Timeout: 5 * time.Minute,
		},
	}

	app.Post("/v1/chat/stream", r.handleChatStream)
	app.Get("/metrics", adaptor.HTTPHandler(r.metrics.handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	return r, nil
}

// Run starts the relay server on the configured listening address.
func (r *Relay) Run() error {
	r.logger.Info("starting relay server",
		zap.String("listen", r.config.ListenAddr),
		zap.String("gateway", r.config.GatewayURL),
	)

	return r.server.Listen(r.config.ListenAddr)
}

// RunWithListener starts the relay server using the provided listener.
func (r *Relay) RunWithListener(listener net.Listener) error {
	r.logger.Info("starting relay server",
		zap.String("listen", listener.Addr().String()),
		zap.String("gateway", r.config.GatewayURL),
	)

	return r.server.Listener(listener)
}

// Close gracefully shuts down the relay and waits for the worker pool to drain.
func (r *Relay) Close() error {
	err := r.server.Shutdown()
	r.workerPool.Close()
	return err
}

// handleChatStream relays one chat-completion stream.
//
// The frame contract towards the client: zero or more content deltas, then
// exactly one metrics annotation, then exactly one [DONE] marker. A stream
// that fails before completion carries none of the trailing frames; their
// absence is the error signal.
func (r *Relay) handleChatStream(c *fiber.Ctx) error {
	creds := Credentials{
		Bearer: c.Get(fiber.HeaderAuthorization),
		APIKey: c.Get(headerAPIKey),
	}
	if creds.Empty() {
		r.metrics.requests.WithLabelValues(outcomeAuthRejected).Inc()
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{
			Error: "authentication required: supply a bearer token or api-key",
			Code:  codeAuthRequired,
		})
	}

	var req llm.ChatStreamRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		r.metrics.requests.WithLabelValues(outcomeBadRequest).Inc()
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	if req.Model == "" || len(req.Messages) == 0 {
		r.metrics.requests.WithLabelValues(outcomeBadRequest).Inc()
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "model and messages are required"})
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ident := identity.Resolve(func(key string) string { return c.Get(key) })
	format := llm.BuildResponseFormat(req.Settings, r.logger)

	// Use context.Background() instead of c.Context() because fasthttp
	// recycles its RequestCtx after the handler returns, while the streaming
	// goroutine keeps the upstream connection open. Client disconnects are
	// detected through pipe write failures, which cancel this context and
	// abort the upstream call.
	upstreamCtx, cancel := context.WithCancel(context.Background())

	httpReq, err := ComposeUpstreamRequest(upstreamCtx, r.endpoint(&req), &req, ident, format, creds)
	if err != nil {
		cancel()
		r.logger.Error("failed to compose upstream request", zap.Error(err))
		r.metrics.requests.WithLabelValues(outcomeInternalError).Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}

	r.logger.Debug("forwarding chat stream to gateway",
		zap.String("session_id", req.ID),
		zap.String("model", req.Model),
		zap.String("project_id", req.Metadata.ProjectID),
		zap.String("client_ip", ident.ResolvedIP),
	)

	// Record dispatch time immediately before the upstream call: TTFT spans
	// the full upstream round trip and nothing before it.
	dispatched := time.Now()
	rec := stream.NewRecorder(dispatched)

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		r.logger.Error("gateway request failed", zap.Error(err))
		r.metrics.requests.WithLabelValues(outcomeUpstreamError).Inc()
		return c.Status(fiber.StatusBadGateway).JSON(errorResponse{Error: maskedError})
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		cancel()
		r.logger.Error("gateway returned error",
			zap.Int("status", httpResp.StatusCode),
			zap.String("body", string(respBody)),
		)
		r.metrics.requests.WithLabelValues(outcomeUpstreamError).Inc()
		return c.Status(httpResp.StatusCode).JSON(errorResponse{Error: r.upstreamErrorMessage(respBody)})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Session-Id", req.ID)

	// io.Pipe gives direct backpressure: each frame write blocks until
	// fasthttp flushes the previous one to the client socket, so chunk
	// delivery is coupled to upstream arrival with no internal buffering.
	pr, pw := io.Pipe()
	go r.pump(cancel, httpResp, pw, rec, &req, ident, dispatched)

	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// pump consumes the gateway's SSE stream and re-emits it as relay frames,
// driving the metrics recorder along the way.
func (r *Relay) pump(
	cancel context.CancelFunc,
	httpResp *http.Response,
	pw *io.PipeWriter,
	rec *stream.Recorder,
	req *llm.ChatStreamRequest,
	ident identity.Identity,
	dispatched time.Time,
) {
	// Cancelling the upstream context aborts the gateway call the moment
	// the client goes away; no orphaned upstream requests.
	defer cancel()
	defer httpResp.Body.Close()
	defer pw.Close()

	r.metrics.activeStreams.Inc()
	defer r.metrics.activeStreams.Dec()

	out := sse.NewWriter(pw)
	upstream := sse.NewReader(httpResp.Body)

	var usage llm.Usage

	for {
		ev, err := upstream.Next()
		if err != nil {
			// Mid-stream transport failure: terminate without the trailing
			// metrics annotation and completion marker.
			r.logger.Error("error reading gateway stream",
				zap.String("session_id", req.ID),
				zap.Error(err),
			)
			r.metrics.requests.WithLabelValues(outcomeUpstreamError).Inc()
			return
		}
		if ev == nil {
			break
		}
		if ev.Data == sse.DoneSentinel {
			continue
		}

		chunk := llm.ParseStreamChunk([]byte(ev.Data))
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Content == "" {
			continue
		}

		// Observe, then forward immediately: instrumentation must never
		// delay client-visible delivery.
		rec.ObserveChunk(time.Now())
		if err := out.WriteJSON(stream.NewContentDelta(chunk.Content)); err != nil {
			r.logger.Debug("client disconnected mid-stream",
				zap.String("session_id", req.ID),
				zap.Error(err),
			)
			r.metrics.requests.WithLabelValues(outcomeClientDisconnect).Inc()
			return
		}
	}

	completedAt := time.Now()
	annotation := rec.Finalize(usage.CompletionTokens, completedAt)

	if err := out.WriteJSON(annotation); err != nil {
		r.metrics.requests.WithLabelValues(outcomeClientDisconnect).Inc()
		return
	}
	if err := out.WriteDone(); err != nil {
		r.metrics.requests.WithLabelValues(outcomeClientDisconnect).Inc()
		return
	}

	r.metrics.requests.WithLabelValues(outcomeCompleted).Inc()
	if ttft, ok := rec.TTFT(); ok {
		r.metrics.ttftSeconds.Observe(ttft.Seconds())
	}

	r.logger.Debug("stream complete",
		zap.String("session_id", req.ID),
		zap.Int("chunk_count", rec.Chunks()),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Duration("duration", completedAt.Sub(dispatched)),
	)

	// Non-blocking enqueue for async observability export.
	r.workerPool.Enqueue(worker.Job{Event: &eventstream.StreamCompletedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeStreamCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     completedAt,
		Source: eventstream.EventSource{
			ProjectID: req.Metadata.ProjectID,
			Model:     req.Model,
			ClientIP:  ident.ResolvedIP,
		},
		RequestMeta: eventstream.StreamRequestMeta{
			SessionID:   req.ID,
			StartedAt:   dispatched,
			CompletedAt: completedAt,
			DurationMs:  completedAt.Sub(dispatched).Milliseconds(),
			ChunkCount:  rec.Chunks(),
		},
		Metrics: annotation,
		Usage:   usage,
	}})
}

// endpoint resolves the gateway chat endpoint for one request.
func (r *Relay) endpoint(req *llm.ChatStreamRequest) string {
	base := r.config.GatewayURL
	if req.Metadata.BaseURL != "" {
		base = req.Metadata.BaseURL
	}
	return strings.TrimSuffix(base, "/") + r.config.ChatPath
}

// upstreamErrorMessage applies the masking policy to an upstream error body.
func (r *Relay) upstreamErrorMessage(body []byte) string {
	if !r.config.DisableErrorMasking {
		return maskedError
	}
	if len(body) == 0 {
		return maskedError
	}
	return string(body)
}
