// Package status models the kernel connection state machine exposed to the
// rest of the client. The connection manager is the only writer; everything
// else observes through a Tracker subscription.
package status

import (
	"sync"

	"github.com/google/uuid"
)

// State is the coarse connection lifecycle state.
type State string

const (
	StateNotStarted State = "not_started"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// ClosedReasonCode categorizes a terminal close for UI recovery affordances.
type ClosedReasonCode string

const (
	ReasonKernelDisconnected ClosedReasonCode = "kernel_disconnected"
	ReasonAlreadyRunning     ClosedReasonCode = "already_running"
	ReasonMalformedQuery     ClosedReasonCode = "malformed_query"
	ReasonKernelStartupError ClosedReasonCode = "kernel_startup_error"
)

// ConnectionStatus is a tagged union over State. Code, Reason and CanTakeover
// are meaningful only when State is StateClosed.
type ConnectionStatus struct {
	State       State
	Code        ClosedReasonCode
	Reason      string
	CanTakeover bool
}

func NotStarted() ConnectionStatus { return ConnectionStatus{State: StateNotStarted} }
func Connecting() ConnectionStatus { return ConnectionStatus{State: StateConnecting} }
func Open() ConnectionStatus       { return ConnectionStatus{State: StateOpen} }
func Closing() ConnectionStatus    { return ConnectionStatus{State: StateClosing} }

func Closed(code ClosedReasonCode, reason string, canTakeover bool) ConnectionStatus {
	return ConnectionStatus{
		State:       StateClosed,
		Code:        code,
		Reason:      reason,
		CanTakeover: canTakeover,
	}
}

func (s ConnectionStatus) IsConnecting() bool { return s.State == StateConnecting }
func (s ConnectionStatus) IsConnected() bool  { return s.State == StateOpen }
func (s ConnectionStatus) IsClosed() bool     { return s.State == StateClosed }

// CanInteract reports whether outbound requests should be attempted. A
// connection that was never started still allows interaction (the UI has not
// given up); a closed one does not.
func (s ConnectionStatus) CanInteract() bool {
	return s.State == StateOpen || s.State == StateNotStarted
}

// Subscriber receives every status transition, in publish order.
type Subscriber func(ConnectionStatus)

// Tracker is a single mutable status cell with subscriber fan-out.
type Tracker struct {
	mu      sync.RWMutex
	current ConnectionStatus
	subs    map[string]Subscriber
}

func NewTracker() *Tracker {
	return &Tracker{
		current: NotStarted(),
		subs:    make(map[string]Subscriber),
	}
}

func (t *Tracker) Get() ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Set publishes a new status to all subscribers. Subscribers run on the
// caller's goroutine, so transitions observed by any one subscriber are in
// publish order.
func (t *Tracker) Set(next ConnectionStatus) {
	t.mu.Lock()
	t.current = next
	subs := make([]Subscriber, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
}

// Subscribe registers fn for future transitions and returns a cancel func.
func (t *Tracker) Subscribe(fn Subscriber) (cancel func()) {
	id := uuid.NewString()
	t.mu.Lock()
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}
