package tracefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"nhooyr.io/websocket"

	"go.uber.org/zap"
)

// testBackoff keeps reconnect delays negligible for specs.
func testBackoff() BackoffPolicy {
	return BackoffPolicy{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2.0,
		MaxAttempts:     5,
	}
}

// channelServer is an httptest push-channel endpoint speaking the
// auth/subscribe/ack protocol.
type channelServer struct {
	mu         sync.Mutex
	handshakes []http.Header
	auths      []map[string]any
	subscribes []map[string]any
	live       int

	// push payloads are written to each connection after the ack.
	push [][]byte

	// dropFirst closes that many connections right after the ack, to
	// exercise reconnection.
	dropFirst int

	// rejectAuth answers the auth payload with an error control message.
	rejectAuth bool

	server *httptest.Server
}

func newChannelServer() *channelServer {
	s := &channelServer{}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *channelServer) url() string {
	return "ws://" + strings.TrimPrefix(s.server.URL, "http://")
}

func (s *channelServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.handshakes = append(s.handshakes, r.Header.Clone())
	connIndex := len(s.handshakes)
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	s.mu.Lock()
	s.live++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.live--
		s.mu.Unlock()
	}()

	ctx := r.Context()

	auth, ok := s.readJSON(ctx, conn)
	if !ok {
		return
	}
	s.mu.Lock()
	s.auths = append(s.auths, auth)
	reject := s.rejectAuth
	s.mu.Unlock()

	if reject {
		s.writeJSON(ctx, conn, map[string]any{"type": "error", "message": "invalid token"})
		// Drain the subscribe message so the client reads the rejection
		// instead of failing its own write.
		s.readJSON(ctx, conn)
		return
	}

	sub, ok := s.readJSON(ctx, conn)
	if !ok {
		return
	}
	s.mu.Lock()
	s.subscribes = append(s.subscribes, sub)
	drop := connIndex <= s.dropFirst
	push := s.push
	s.mu.Unlock()

	s.writeJSON(ctx, conn, map[string]any{"type": "subscribed"})

	if drop {
		return
	}

	for _, payload := range push {
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return
		}
	}

	// Hold the connection open until the client closes it.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (s *channelServer) readJSON(ctx context.Context, conn *websocket.Conn) (map[string]any, bool) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, false
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false
	}
	return msg, true
}

func (s *channelServer) writeJSON(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func (s *channelServer) liveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *channelServer) handshakeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handshakes)
}

func (s *channelServer) subscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribes)
}

func (s *channelServer) lastSubscribe() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscribes) == 0 {
		return nil
	}
	return s.subscribes[len(s.subscribes)-1]
}

func (s *channelServer) lastAuth() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.auths) == 0 {
		return nil
	}
	return s.auths[len(s.auths)-1]
}

// spanSink collects dispatched batches behind a mutex.
type spanSink struct {
	mu      sync.Mutex
	batches [][]Span
}

func (c *spanSink) onBatch(spans []Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, spans)
}

func (c *spanSink) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *spanSink) firstBatch() []Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) == 0 {
		return nil
	}
	return c.batches[0]
}

var _ = Describe("Manager", func() {
	var (
		server *channelServer
		sink   *spanSink
		mgr    *Manager
	)

	filter := Filter{ProjectID: "proj-42", PromptID: "prompt-7"}

	newManager := func(config Config) *Manager {
		config.Backoff = testBackoff()
		config.Logger = zap.NewNop()
		if config.Processor == nil {
			config.Processor = &Processor{OnBatch: sink.onBatch}
		}
		m, err := NewManager(config)
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	BeforeEach(func() {
		sink = &spanSink{}
	})

	AfterEach(func() {
		if mgr != nil {
			mgr.Teardown()
			mgr = nil
		}
		if server != nil {
			server.server.Close()
			server = nil
		}
	})

	Context("with a healthy channel server", func() {
		BeforeEach(func() {
			server = newChannelServer()
			server.push = [][]byte{[]byte(threeSpanBatch)}
			mgr = newManager(Config{Endpoint: server.url(), AuthToken: "tok-trace"})
		})

		It("authenticates in-band, subscribes, and delivers the pushed batch", func() {
			Expect(mgr.Subscribe(filter)).To(Succeed())

			Eventually(mgr.Status).Should(Equal(StatusSubscribed))
			Eventually(sink.batchCount).Should(Equal(1))
			Expect(sink.firstBatch()).To(HaveLen(3))

			// Token travels in the post-dial payload, never in the handshake.
			Expect(server.handshakes[0].Get("Authorization")).To(BeEmpty())
			auth := server.lastAuth()
			Expect(auth["type"]).To(Equal("auth"))
			Expect(auth["token"]).To(Equal("tok-trace"))

			sub := server.lastSubscribe()
			Expect(sub["type"]).To(Equal("subscribe"))
			Expect(sub["channel"]).To(Equal("observability"))
			filters, ok := sub["filters"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(filters["project_id"]).To(Equal("proj-42"))
			Expect(filters["prompt_id"]).To(Equal("prompt-7"))
		})

		It("tears down to exactly zero live connections", func() {
			Expect(mgr.Subscribe(filter)).To(Succeed())
			Eventually(mgr.Status).Should(Equal(StatusSubscribed))

			mgr.Teardown()
			Expect(mgr.Status()).To(Equal(StatusDisconnected))
			Eventually(server.liveConns).Should(BeZero())
		})

		It("resubscribing the same filter yields one live connection and one new subscribe", func() {
			Expect(mgr.Subscribe(filter)).To(Succeed())
			Eventually(mgr.Status).Should(Equal(StatusSubscribed))

			mgr.Teardown()
			Expect(mgr.Subscribe(filter)).To(Succeed())
			Eventually(mgr.Status).Should(Equal(StatusSubscribed))

			Eventually(server.liveConns).Should(Equal(1))
			Expect(server.subscribeCount()).To(Equal(2))
		})

		It("a filter change replaces the connection rather than adding one", func() {
			Expect(mgr.Subscribe(filter)).To(Succeed())
			Eventually(mgr.Status).Should(Equal(StatusSubscribed))

			Expect(mgr.Subscribe(Filter{ProjectID: "proj-42", PromptID: "prompt-8"})).To(Succeed())
			Eventually(mgr.Status).Should(Equal(StatusSubscribed))

			Eventually(server.liveConns).Should(Equal(1))
			sub := server.lastSubscribe()
			filters := sub["filters"].(map[string]any)
			Expect(filters["prompt_id"]).To(Equal("prompt-8"))
		})
	})

	Context("when the server drops the connection", func() {
		BeforeEach(func() {
			server = newChannelServer()
			server.dropFirst = 1
			server.push = [][]byte{[]byte(`{"span_id":"after-reconnect"}`)}
			mgr = newManager(Config{Endpoint: server.url(), AuthToken: "tok-trace"})
		})

		It("reconnects with backoff and resumes delivery", func() {
			Expect(mgr.Subscribe(filter)).To(Succeed())

			Eventually(server.handshakeCount).Should(BeNumerically(">=", 2))
			Eventually(mgr.Status).Should(Equal(StatusSubscribed))
			Eventually(sink.batchCount).Should(Equal(1))
		})
	})

	Context("when drops are separated by healthy subscribed sessions", func() {
		BeforeEach(func() {
			server = newChannelServer()
			server.dropFirst = 3
			server.push = [][]byte{[]byte(`{"span_id":"stable"}`)}

			// A budget smaller than the number of drops: each drop follows
			// a successful subscribe, so the budget must keep restoring.
			policy := testBackoff()
			policy.MaxAttempts = 2
			m, err := NewManager(Config{
				Endpoint:  server.url(),
				AuthToken: "tok-trace",
				Backoff:   policy,
				Processor: &Processor{OnBatch: sink.onBatch},
				Logger:    zap.NewNop(),
			})
			Expect(err).NotTo(HaveOccurred())
			mgr = m
		})

		It("keeps reconnecting past the per-outage attempt budget", func() {
			Expect(mgr.Subscribe(filter)).To(Succeed())

			Eventually(server.handshakeCount).Should(BeNumerically(">=", 4))
			Eventually(mgr.Status).Should(Equal(StatusSubscribed))
			Eventually(sink.batchCount).Should(Equal(1))
			Consistently(mgr.Status, 50*time.Millisecond).Should(Equal(StatusSubscribed))
		})
	})

	Context("when the server rejects the credential", func() {
		BeforeEach(func() {
			server = newChannelServer()
			server.rejectAuth = true
			mgr = newManager(Config{Endpoint: server.url(), AuthToken: "tok-bad"})
		})

		It("lands in the error state without retrying the same credential", func() {
			Expect(mgr.Subscribe(filter)).To(Succeed())

			Eventually(mgr.Status).Should(Equal(StatusError))
			Consistently(server.handshakeCount, 100*time.Millisecond).Should(Equal(1))
		})
	})

	Context("with missing configuration", func() {
		It("fails fast without an endpoint", func() {
			mgr = newManager(Config{AuthToken: "tok-trace"})

			Expect(mgr.Subscribe(filter)).To(MatchError(ErrMissingEndpoint))
			Expect(mgr.Status()).To(Equal(StatusError))
		})

		It("fails fast without a token and never dials", func() {
			server = newChannelServer()
			mgr = newManager(Config{Endpoint: server.url()})

			Expect(mgr.Subscribe(filter)).To(MatchError(ErrMissingToken))
			Expect(mgr.Status()).To(Equal(StatusError))
			Consistently(server.handshakeCount, 50*time.Millisecond).Should(BeZero())
		})
	})

	It("treats disabling as teardown", func() {
		server = newChannelServer()
		mgr = newManager(Config{Endpoint: server.url(), AuthToken: "tok-trace"})

		Expect(mgr.Apply(true, filter)).To(Succeed())
		Eventually(mgr.Status).Should(Equal(StatusSubscribed))

		Expect(mgr.Apply(false, filter)).To(Succeed())
		Expect(mgr.Status()).To(Equal(StatusDisconnected))
		Eventually(server.liveConns).Should(BeZero())
	})

	It("requires a processor", func() {
		_, err := NewManager(Config{Endpoint: "ws://example", AuthToken: "tok"})
		Expect(err).To(MatchError(ErrNilProcessor))
	})
})
