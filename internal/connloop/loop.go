// Package connloop implements the server's steady-state protocol loop
// (spec.md §4.3): after the handshake completes, one Conn multiplexes
// inbound agent frames, the ACM's per-agent direct channel, and the ACM's
// broadcast channel, serializing all outbound sends through a single
// mutex-guarded Send path (spec.md §5: "Within one connection, frames sent
// by the server are totally ordered").
//
// Request/response correlation is a per-connection pending map keyed by
// message id, directly grounded on the teacher's Server.pending /
// registerPending / awaitPending / deliverPending quartet
// (internal/cluster/server/server.go), generalized from one host-keyed map
// shared across a whole server to one map scoped to a single connection
// (each Conn already has its own goroutine and its own agent).
package connloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helios-home/control-plane/internal/acm"
	"github.com/helios-home/control-plane/internal/logging"
	"github.com/helios-home/control-plane/internal/metrics"
	"github.com/helios-home/control-plane/internal/protocol"
)

// pingTimeout bounds how long the server waits for Pong after sending Ping
// on a broadcast liveness tick (spec.md §4.3).
const pingTimeout = 5 * time.Second

// Stream is the duplex transport a Conn drives. Implemented by wsadapter
// over a real websocket and by an in-memory fake in tests, the same split
// the handshake package uses.
type Stream interface {
	Send(protocol.Message) error
	Recv() (protocol.Message, error)
	Close() error
}

// Conn drives one authenticated agent connection's steady-state loop.
type Conn struct {
	stream    Stream
	serviceID uuid.UUID
	reg       acm.Registration
	log       *logging.Logger

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uuid.UUID]chan protocol.Message
}

// New constructs a Conn for an already-authenticated agent. reg is the
// registration this connection obtained from the ACM; the caller is
// responsible for having already called acm.Manager.Register before
// constructing the Conn (Run's cleanup only closes the registration's
// broadcast subscription and the ACM's direct-channel entry — Unregister
// itself is called by Run's deferred cleanup, see the Unregister field
// requirement documented on Run).
func New(stream Stream, serviceID uuid.UUID, reg acm.Registration, log *logging.Logger) *Conn {
	return &Conn{
		stream:    stream,
		serviceID: serviceID,
		reg:       reg,
		log:       log.With("service_id", serviceID),
		pending:   make(map[uuid.UUID]chan protocol.Message),
	}
}

type frameResult struct {
	msg protocol.Message
	err error
}

// Run drives the loop until ctx is cancelled, the stream errors, or a
// fatal protocol violation occurs. unregister is called exactly once on
// every exit path before Run returns — the scoped-acquisition guarantee
// spec.md §5 requires ("a connection task terminates ... it must call
// unregister(service_id) before exiting; failure to do so permanently
// wedges a service_id").
func (c *Conn) Run(ctx context.Context, unregister func()) error {
	defer unregister()
	defer c.reg.Close()
	defer c.stream.Close()

	frames := make(chan frameResult, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			msg, err := c.stream.Recv()
			select {
			case frames <- frameResult{msg: msg, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	fatal := make(chan error, 1)

	for {
		select {
		case fr := <-frames:
			if fr.err != nil {
				return fr.err
			}
			if err := c.handleInbound(fr.msg); err != nil {
				return err
			}

		case ev, ok := <-c.reg.Direct:
			if !ok {
				return errors.New("connloop: direct channel closed")
			}
			c.handleEvent(ctx, ev, fatal)

		case ev, ok := <-c.reg.Broadcast:
			if !ok {
				return errors.New("connloop: broadcast channel closed")
			}
			c.handleEvent(ctx, ev, fatal)

		case err := <-fatal:
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleEvent reacts to an ACM event. Ping is the only variant today
// (spec.md §4.4): it triggers a liveness round-trip on its own goroutine so
// the main select loop keeps servicing inbound frames and other events
// while the 5s reply wait is outstanding.
func (c *Conn) handleEvent(ctx context.Context, ev acm.Event, fatal chan<- error) {
	switch ev.Kind {
	case acm.EventPing:
		go c.pingRoundTrip(ctx, fatal)
	default:
		c.log.Warn("unknown ACM event kind", "kind", ev.Kind)
	}
}

// pingRoundTrip sends Ok{Ping} and waits up to pingTimeout for the matching
// Ok{Pong}. A timeout reports a fatal error on fatal, closing this
// connection only (spec.md §4.3: "Timeout -> close this connection with
// Err{InvalidMessage}").
func (c *Conn) pingRoundTrip(ctx context.Context, fatal chan<- error) {
	id := protocol.NewID()
	replyCh, err := c.registerPending(id)
	if err != nil {
		c.log.Error("ping: register pending failed", "error", err)
		return
	}

	pingMsg, err := protocol.RespondOk(id, protocol.CommandPing, nil)
	if err != nil {
		c.cancelPending(id)
		c.log.Error("ping: build message failed", "error", err)
		return
	}
	if err := c.send(pingMsg); err != nil {
		c.cancelPending(id)
		select {
		case fatal <- fmt.Errorf("ping: send failed: %w", err):
		default:
		}
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return
		}
		if !reply.IsOk(protocol.CommandPong) {
			c.log.Warn("ping: unexpected reply command", "command", reply.Command, "status", reply.Status)
		}
	case <-waitCtx.Done():
		c.cancelPending(id)
		metrics.PingTimeouts.Inc()
		_ = c.send(protocol.RespondErr(id, protocol.CommandInvalidMessage))
		select {
		case fatal <- fmt.Errorf("%w: no Pong within %s", protocol.ErrReplyTimeout, pingTimeout):
		default:
		}
	}
}

// handleInbound dispatches one frame that wasn't claimed by a pending
// request, per the server column of spec.md Table 1.
func (c *Conn) handleInbound(msg protocol.Message) error {
	if c.deliverPending(msg) {
		return nil
	}

	switch {
	case msg.IsOk(protocol.CommandPing):
		pong, err := protocol.RespondOk(msg.ID, protocol.CommandPong, nil)
		if err != nil {
			return err
		}
		return c.send(pong)

	case msg.IsOk(protocol.CommandPong):
		// Unsolicited Pong (no matching pending request): silently dropped.
		return nil

	case msg.IsOk(protocol.CommandAuthenticate),
		msg.IsOk(protocol.CommandChallenge),
		msg.IsOk(protocol.CommandChallengeResponse),
		msg.IsOk(protocol.CommandAuthenticationSuccess),
		msg.IsOk(protocol.CommandHandshakeComplete):
		return c.send(protocol.RespondErr(msg.ID, protocol.CommandInvalidMessage))

	case msg.IsErr(protocol.CommandAgentNotFound), msg.IsErr(protocol.CommandAuthenticationFailed):
		return c.send(protocol.RespondErr(msg.ID, protocol.CommandInvalidMessage))

	case msg.IsErr(protocol.CommandUnexpectedOutOfBandMessage),
		msg.IsErr(protocol.CommandInternalError),
		msg.IsErr(protocol.CommandInvalidMessage):
		c.log.Warn("peer reported protocol error", "command", msg.Command)
		return nil

	default:
		c.log.Warn("unhandled message, dropping", "status", msg.Status, "command", msg.Command)
		return nil
	}
}

func (c *Conn) send(msg protocol.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.Send(msg)
}

func (c *Conn) registerPending(id uuid.UUID) (chan protocol.Message, error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("connloop: id %s already has an outstanding request", id)
	}
	ch := make(chan protocol.Message, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Conn) cancelPending(id uuid.UUID) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, id)
}

// deliverPending routes msg to a waiting caller if its id matches a
// registered pending request. Returns true if it was claimed.
func (c *Conn) deliverPending(msg protocol.Message) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		return false
	}
	select {
	case ch <- msg:
	default:
	}
	return true
}
