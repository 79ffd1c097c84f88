// Package acm implements the Agent Connection Manager: the in-process
// registry that lets the rest of the control plane address a connected
// agent by service id, and a broadcast bus for events every connected agent
// should see (spec.md §4.4).
//
// There are two delivery paths, mirroring the original port's
// dispatch_event/broadcast_event split:
//
//   - Dispatch targets exactly one registered agent through a per-agent
//     buffered channel. It never blocks: a full channel fails fast with
//     ErrSendFailed rather than back-pressuring the caller (spec.md §5,
//     "dispatch fails fast rather than back-pressuring the caller").
//   - Broadcast fans an event out to every agent subscribed at the moment
//     of the call. It never blocks either: a subscriber whose buffer is
//     full misses the event, the same lossy trade-off the event bus in the
//     teacher codebase makes for its SSE fan-out.
package acm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Event is a control-plane-to-agent notification. Ping is the only variant
// today: the periodic scheduler dispatches it to keep each connection's
// liveness state current (spec.md §5.3).
type Event struct {
	Kind EventKind
}

type EventKind string

const EventPing EventKind = "ping"

// directChannelSize bounds how many undelivered directed events can queue
// for one agent before Dispatch starts blocking its caller.
const directChannelSize = 100

// broadcastChannelSize bounds each subscriber's broadcast buffer. A
// subscriber that falls this far behind loses events rather than stalling
// every other subscriber or the broadcaster.
const broadcastChannelSize = 100

var (
	// ErrAlreadyRegistered is returned by Register when the given service id
	// already has a live connection registered.
	ErrAlreadyRegistered = errors.New("acm: agent already registered")
	// ErrNotRegistered is returned by Dispatch when no connection is
	// currently registered for the given service id.
	ErrNotRegistered = errors.New("acm: agent not registered")
	// ErrSendFailed is returned by Dispatch when the agent's direct channel
	// is full. The caller (the scheduler or a use case) sees this as a
	// delivery failure rather than stalling behind a wedged connection.
	ErrSendFailed = errors.New("acm: direct channel full")
)

// Manager is the Agent Connection Manager. The zero value is not usable;
// construct one with New.
type Manager struct {
	mu       sync.RWMutex
	direct   map[uuid.UUID]chan Event
	bus      *broadcastBus
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{
		direct: make(map[uuid.UUID]chan Event),
		bus:    newBroadcastBus(),
	}
}

// Registration is returned by Register and holds the two event sources a
// freshly connected agent's read side should select over.
type Registration struct {
	Direct    <-chan Event
	Broadcast <-chan Event
	unsub     func()
}

// Close releases the registration's broadcast subscription. The direct
// channel is released by Unregister, not by Close, since the direct channel
// is keyed by service id rather than by subscription handle.
func (r Registration) Close() {
	if r.unsub != nil {
		r.unsub()
	}
}

// Register creates a direct channel for agent and subscribes it to the
// broadcast bus, returning both for the connection loop to select over. It
// fails if agent is already registered; the connection loop that races to
// register second should close its connection with AlreadyConnected
// (protocol.CommandAlreadyConnected).
func (m *Manager) Register(agent uuid.UUID) (Registration, error) {
	m.mu.Lock()
	if _, exists := m.direct[agent]; exists {
		m.mu.Unlock()
		return Registration{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, agent)
	}
	ch := make(chan Event, directChannelSize)
	m.direct[agent] = ch
	m.mu.Unlock()

	broadcastCh, unsub := m.bus.subscribe()
	return Registration{Direct: ch, Broadcast: broadcastCh, unsub: unsub}, nil
}

// Unregister removes agent's direct channel. It is idempotent: unregistering
// an agent that isn't registered is a no-op, since every connection loop
// exit path calls Unregister in a defer regardless of how it got there.
func (m *Manager) Unregister(agent uuid.UUID) {
	m.mu.Lock()
	ch, ok := m.direct[agent]
	if ok {
		delete(m.direct, agent)
	}
	m.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Dispatch delivers event to agent's direct channel without blocking. It
// returns ErrNotRegistered if agent has no live connection, or ErrSendFailed
// if the channel is full (spec.md §4.4/§5: "SendError on channel failure
// (queue full or dropped)").
func (m *Manager) Dispatch(agent uuid.UUID, event Event) error {
	m.mu.RLock()
	ch, ok := m.direct[agent]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, agent)
	}

	select {
	case ch <- event:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSendFailed, agent)
	}
}

// Broadcast fans event out to every currently subscribed agent without
// blocking. Subscribers with a full buffer silently miss the event.
func (m *Manager) Broadcast(event Event) {
	m.bus.publish(event)
}

// Connected reports how many agents currently have a live direct channel.
// Used by the metrics gauge.
func (m *Manager) Connected() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.direct)
}

// IsRegistered reports whether agent currently has a live connection.
func (m *Manager) IsRegistered(agent uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.direct[agent]
	return ok
}
