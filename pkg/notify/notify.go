// Package notify provides the user-visible notification handle.
//
// The web front-ends surface errors through a process-wide toast handle.
// Here that is an explicitly injected *Handle rather than implicit global
// state: construct one near main, Init it with a Sink exactly once, and
// pass it to the components that need to surface user-visible errors.
// A Handle must be initialized before first use; notifying through an
// uninitialized Handle returns ErrNotInitialized.
package notify

import (
	"errors"
	"sync"
)

var (
	// ErrNotInitialized indicates the handle was used before Init.
	ErrNotInitialized = errors.New("notify handle not initialized")

	// ErrAlreadyInitialized indicates a second Init on the same handle.
	ErrAlreadyInitialized = errors.New("notify handle already initialized")
)

// Sink receives user-visible notifications. The UI layer supplies one that
// feeds its toast store; services use a log-backed sink.
type Sink interface {
	Error(msg string)
	Info(msg string)
}

// Handle is the injectable notification endpoint.
type Handle struct {
	mu   sync.RWMutex
	sink Sink
}

// NewHandle returns an uninitialized Handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Init installs the sink. It must be called exactly once before first use.
func (h *Handle) Init(sink Sink) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sink != nil {
		return ErrAlreadyInitialized
	}
	h.sink = sink
	return nil
}

// Error surfaces a user-visible error notification.
func (h *Handle) Error(msg string) error {
	return h.notify(func(s Sink) { s.Error(msg) })
}

// Info surfaces a user-visible informational notification.
func (h *Handle) Info(msg string) error {
	return h.notify(func(s Sink) { s.Info(msg) })
}

func (h *Handle) notify(fn func(Sink)) error {
	h.mu.RLock()
	sink := h.sink
	h.mu.RUnlock()

	if sink == nil {
		return ErrNotInitialized
	}
	fn(sink)
	return nil
}
