package connloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/helios-home/control-plane/internal/acm"
	"github.com/helios-home/control-plane/internal/logging"
	"github.com/helios-home/control-plane/internal/protocol"
)

// pipeStream connects two in-process peers over buffered channels, the same
// pattern the handshake package tests with.
type pipeStream struct {
	out    chan protocol.Message
	in     chan protocol.Message
	closed chan struct{}
}

func newPipe() (a, b *pipeStream) {
	ab := make(chan protocol.Message, 8)
	ba := make(chan protocol.Message, 8)
	return &pipeStream{out: ab, in: ba, closed: make(chan struct{})},
		&pipeStream{out: ba, in: ab, closed: make(chan struct{})}
}

func (p *pipeStream) Send(m protocol.Message) error {
	select {
	case p.out <- m:
		return nil
	case <-p.closed:
		return errors.New("pipe closed")
	}
}

func (p *pipeStream) Recv() (protocol.Message, error) {
	select {
	case m, ok := <-p.in:
		if !ok {
			return protocol.Message{}, errors.New("pipe closed")
		}
		return m, nil
	case <-p.closed:
		return protocol.Message{}, errors.New("pipe closed")
	}
}

func (p *pipeStream) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func testLogger() *logging.Logger { return logging.New(false) }

func TestConnRepliesToAgentPing(t *testing.T) {
	mgr := acm.New()
	serviceID := protocol.NewID()
	reg, err := mgr.Register(serviceID)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	serverSide, agentSide := newPipe()
	conn := New(serverSide, serviceID, reg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- conn.Run(ctx, func() { mgr.Unregister(serviceID) }) }()

	pingMsg, err := protocol.Ok(protocol.CommandPing, nil)
	if err != nil {
		t.Fatalf("build Ping: %v", err)
	}
	if err := agentSide.Send(pingMsg); err != nil {
		t.Fatalf("send Ping: %v", err)
	}

	reply, err := agentSide.Recv()
	if err != nil {
		t.Fatalf("recv reply: %v", err)
	}
	if !reply.IsOk(protocol.CommandPong) {
		t.Fatalf("got %s/%s, want ok/Pong", reply.Status, reply.Command)
	}
	if reply.ID != pingMsg.ID {
		t.Fatalf("got id %s, want %s", reply.ID, pingMsg.ID)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}

func TestConnRejectsPostHandshakeAuthenticate(t *testing.T) {
	mgr := acm.New()
	serviceID := protocol.NewID()
	reg, err := mgr.Register(serviceID)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	serverSide, agentSide := newPipe()
	conn := New(serverSide, serviceID, reg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = conn.Run(ctx, func() { mgr.Unregister(serviceID) }) }()

	authMsg, err := protocol.Ok(protocol.CommandAuthenticate, nil)
	if err != nil {
		t.Fatalf("build Authenticate: %v", err)
	}
	if err := agentSide.Send(authMsg); err != nil {
		t.Fatalf("send Authenticate: %v", err)
	}

	reply, err := agentSide.Recv()
	if err != nil {
		t.Fatalf("recv reply: %v", err)
	}
	if !reply.IsErr(protocol.CommandInvalidMessage) {
		t.Fatalf("got %s/%s, want error/InvalidMessage", reply.Status, reply.Command)
	}
}

func TestConnPingTimeoutClosesConnection(t *testing.T) {
	mgr := acm.New()
	serviceID := protocol.NewID()
	reg, err := mgr.Register(serviceID)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	serverSide, agentSide := newPipe()
	conn := New(serverSide, serviceID, reg, testLogger())

	ctx := context.Background()
	runDone := make(chan error, 1)
	go func() { runDone <- conn.Run(ctx, func() { mgr.Unregister(serviceID) }) }()

	// Trigger a liveness ping; the agent side never answers it, so the
	// connection must close on its own once pingTimeout elapses.
	mgr.Broadcast(acm.Event{Kind: acm.EventPing})

	pingMsg, err := agentSide.Recv()
	if err != nil {
		t.Fatalf("recv ping: %v", err)
	}
	if !pingMsg.IsOk(protocol.CommandPing) {
		t.Fatalf("got %s/%s, want ok/Ping", pingMsg.Status, pingMsg.Command)
	}

	select {
	case err := <-runDone:
		if err == nil {
			t.Fatal("expected Run to return an error after ping timeout")
		}
	case <-time.After(pingTimeout + 2*time.Second):
		t.Fatal("Run did not exit after ping timeout")
	}
}

func TestConnDeliversPongToPendingPing(t *testing.T) {
	mgr := acm.New()
	serviceID := protocol.NewID()
	reg, err := mgr.Register(serviceID)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	serverSide, agentSide := newPipe()
	conn := New(serverSide, serviceID, reg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- conn.Run(ctx, func() { mgr.Unregister(serviceID) }) }()

	mgr.Broadcast(acm.Event{Kind: acm.EventPing})

	pingMsg, err := agentSide.Recv()
	if err != nil {
		t.Fatalf("recv ping: %v", err)
	}
	pong, err := protocol.RespondOk(pingMsg.ID, protocol.CommandPong, nil)
	if err != nil {
		t.Fatalf("build Pong: %v", err)
	}
	if err := agentSide.Send(pong); err != nil {
		t.Fatalf("send Pong: %v", err)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil && err != context.Canceled {
			t.Fatalf("unexpected Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
