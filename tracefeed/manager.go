// Package tracefeed maintains the relay's inbound trace subscription: one
// authenticated, filtered connection to the platform's observability push
// channel, with bounded reconnection and batch normalization for the
// consuming dashboard.
package tracefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/prismgate/relay/pkg/notify"
)

// Status is the externally visible subscription state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusSubscribed   Status = "subscribed"

	// StatusError is absorbing: reached on missing configuration,
	// authentication rejection, or exhausted reconnect attempts. Only a new
	// Subscribe leaves it.
	StatusError Status = "error"
)

// subscribeChannel is the push channel carrying trace spans.
const subscribeChannel = "observability"

var (
	// ErrMissingEndpoint indicates no push-channel endpoint is configured.
	// Subscribe fails fast without attempting a connection.
	ErrMissingEndpoint = errors.New("trace subscription endpoint not configured")

	// ErrMissingToken indicates no auth token is configured.
	ErrMissingToken = errors.New("trace subscription auth token not configured")

	// ErrNilProcessor indicates no Processor was supplied.
	ErrNilProcessor = errors.New("trace processor is required")

	errStaleGeneration = errors.New("subscription superseded")
)

// BackoffPolicy bounds the reconnect behavior. The policy is explicit
// configuration rather than hard-wired constants so operators can tune it
// per deployment.
type BackoffPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// MaxAttempts bounds consecutive failed reconnect attempts; the budget
	// is restored whenever a connection reaches the subscribed state. Zero
	// means retry until the subscription is torn down.
	MaxAttempts uint64
}

// DefaultBackoffPolicy returns the production reconnect policy.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		MaxAttempts:     8,
	}
}

func (p BackoffPolicy) build(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts)
	}
	return backoff.WithContext(b, ctx)
}

// Filter scopes the subscription to one project and prompt.
type Filter struct {
	ProjectID string `json:"project_id"`
	PromptID  string `json:"prompt_id"`
}

// Config configures a Manager.
type Config struct {
	// Endpoint is the push-channel websocket URL.
	Endpoint string

	// AuthToken authenticates the subscription. It travels in the post-dial
	// authentication payload, never as an HTTP header: browser transports
	// cannot guarantee custom headers survive to the handshake, so the
	// server only accepts in-band auth.
	AuthToken string

	// Backoff is the reconnect policy; zero value falls back to
	// DefaultBackoffPolicy.
	Backoff BackoffPolicy

	// Processor receives normalized trace payloads.
	Processor *Processor

	// OnStatus, when set, observes every status transition.
	OnStatus func(Status)

	// Notify, when set, surfaces subscription failures to the user.
	Notify *notify.Handle

	Logger *zap.Logger
}

// Manager owns the lifecycle of one trace subscription: connect,
// authenticate, subscribe, reconnect with backoff, teardown. At most one
// connection is live per Manager; changing the filter tears the old one
// down before dialing anew.
type Manager struct {
	config Config

	mu         sync.Mutex
	status     Status
	generation uint64
	conn       *websocket.Conn
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager creates a Manager. It does not connect; call Subscribe.
func NewManager(config Config) (*Manager, error) {
	if config.Processor == nil {
		return nil, ErrNilProcessor
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if (config.Backoff == BackoffPolicy{}) {
		config.Backoff = DefaultBackoffPolicy()
	}

	return &Manager{
		config: config,
		status: StatusDisconnected,
	}, nil
}

// Status returns the current subscription status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe establishes a subscription for the given filter. Any previous
// connection is fully torn down first, so a filter change never leaves two
// live subscriptions. Missing configuration fails fast: no dial is
// attempted and the manager lands in StatusError.
func (m *Manager) Subscribe(filter Filter) error {
	m.Teardown()

	if m.config.Endpoint == "" {
		m.enterError(ErrMissingEndpoint)
		return ErrMissingEndpoint
	}
	if m.config.AuthToken == "" {
		m.enterError(ErrMissingToken)
		return ErrMissingToken
	}

	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, gen, filter)

	return nil
}

// Apply reconciles the manager against the UI's subscription inputs:
// enabled with a filter subscribes (replacing any previous connection),
// disabled tears down.
func (m *Manager) Apply(enabled bool, filter Filter) error {
	if !enabled {
		m.Teardown()
		return nil
	}
	return m.Subscribe(filter)
}

// Teardown closes the subscription. The prior transport is fully closed and
// its goroutine joined before Teardown returns, and no callback fires after
// teardown begins.
func (m *Manager) Teardown() {
	m.mu.Lock()
	// Invalidate the generation first: reads already in flight must not
	// reach the callbacks.
	m.generation++
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "teardown")
	}

	m.wg.Wait()

	m.mu.Lock()
	m.status = StatusDisconnected
	m.mu.Unlock()
	if m.config.OnStatus != nil {
		m.config.OnStatus(StatusDisconnected)
	}
}

// run drives one subscription lifetime, reconnecting per the backoff policy
// until torn down or the attempt budget is exhausted. MaxAttempts bounds
// consecutive failures, not lifetime disconnects: a cycle that reaches the
// subscribed state restores the full budget, so a long-lived subscription
// interrupted now and then never drifts into the error state.
func (m *Manager) run(ctx context.Context, gen uint64, filter Filter) {
	defer m.wg.Done()

	policy := m.config.Backoff.build(ctx)

	for {
		subscribed := false
		err := m.connectAndServe(ctx, gen, filter, &subscribed)

		if err == nil || ctx.Err() != nil || errors.Is(err, errStaleGeneration) {
			return
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			// Non-retryable ends (credential rejection) set their own
			// status before returning.
			return
		}

		if subscribed {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			m.config.Logger.Error("trace subscription failed", zap.Error(err))
			m.transition(gen, StatusError)
			m.notifyError(fmt.Sprintf("trace subscription lost: %v", err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connectAndServe performs one connect-auth-subscribe-read cycle. It reports
// through subscribed whether the cycle reached the subscribed state. A
// returned plain error asks the reconnect loop for another attempt; a
// Permanent error stops it.
func (m *Manager) connectAndServe(ctx context.Context, gen uint64, filter Filter, subscribed *bool) error {
	if !m.transition(gen, StatusConnecting) {
		return backoff.Permanent(errStaleGeneration)
	}

	conn, _, err := websocket.Dial(ctx, m.config.Endpoint, nil)
	if err != nil {
		m.config.Logger.Warn("trace channel dial failed", zap.Error(err))
		return fmt.Errorf("dialing trace channel: %w", err)
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return backoff.Permanent(errStaleGeneration)
	}
	m.conn = conn
	m.mu.Unlock()

	if !m.transition(gen, StatusConnected) {
		return backoff.Permanent(errStaleGeneration)
	}

	if err := m.writeJSON(ctx, conn, map[string]any{
		"type":  "auth",
		"token": m.config.AuthToken,
	}); err != nil {
		return fmt.Errorf("sending auth payload: %w", err)
	}

	if err := m.writeJSON(ctx, conn, map[string]any{
		"type":    "subscribe",
		"channel": subscribeChannel,
		"filters": filter,
	}); err != nil {
		return fmt.Errorf("sending subscribe message: %w", err)
	}

	return m.readLoop(ctx, conn, gen, subscribed)
}

// readLoop consumes inbound messages until the connection drops or the
// subscription is torn down.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64, subscribed *bool) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("reading trace channel: %w", err)
		}

		// Control messages carry a type discriminator; anything else
		// (batch arrays included) is a trace payload.
		var control struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &control); err == nil {
			switch control.Type {
			case "subscribed":
				if m.transition(gen, StatusSubscribed) {
					*subscribed = true
				}
				continue
			case "ping":
				continue
			case "error":
				// Server-side rejection (bad token, bad filter) is not
				// retryable with the same credentials.
				m.transition(gen, StatusError)
				m.notifyError(fmt.Sprintf("trace subscription rejected: %s", control.Message))
				return backoff.Permanent(fmt.Errorf("subscription rejected: %s", control.Message))
			}
		}

		m.dispatch(gen, data)
	}
}

// dispatch hands one trace payload to the processor unless this connection
// has been superseded.
func (m *Manager) dispatch(gen uint64, payload []byte) {
	m.mu.Lock()
	live := gen == m.generation
	m.mu.Unlock()
	if !live {
		return
	}

	if err := m.config.Processor.Process(payload); err != nil {
		m.config.Logger.Warn("dropping unparsable trace payload", zap.Error(err))
	}
}

// transition moves to the given status if this generation is still current.
func (m *Manager) transition(gen uint64, status Status) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	m.status = status
	m.mu.Unlock()

	if m.config.OnStatus != nil {
		m.config.OnStatus(status)
	}
	return true
}

// enterError records a configuration failure without touching the network.
func (m *Manager) enterError(err error) {
	m.mu.Lock()
	m.status = StatusError
	m.mu.Unlock()

	if m.config.OnStatus != nil {
		m.config.OnStatus(StatusError)
	}
	m.notifyError(err.Error())
}

func (m *Manager) notifyError(msg string) {
	if m.config.Notify == nil {
		return
	}
	if err := m.config.Notify.Error(msg); err != nil {
		m.config.Logger.Warn("could not surface subscription error", zap.Error(err))
	}
}

func (m *Manager) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
