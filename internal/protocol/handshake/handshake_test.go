package handshake

import (
	"errors"
	"sync"
	"testing"

	"github.com/helios-home/control-plane/internal/protocol"
)

// pipeStream connects two in-process peers over buffered channels, letting
// the handshake run against something transport-shaped without a real
// websocket. Each side's Send feeds the other side's Recv.
type pipeStream struct {
	out chan protocol.Message
	in  chan protocol.Message
}

func newPipe() (a, b *pipeStream) {
	ab := make(chan protocol.Message, 4)
	ba := make(chan protocol.Message, 4)
	return &pipeStream{out: ab, in: ba}, &pipeStream{out: ba, in: ab}
}

func (p *pipeStream) Send(m protocol.Message) error {
	p.out <- m
	return nil
}

func (p *pipeStream) Recv() (protocol.Message, error) {
	m, ok := <-p.in
	if !ok {
		return protocol.Message{}, errors.New("pipe closed")
	}
	return m, nil
}

func TestHandshakeSuccess(t *testing.T) {
	serverSide, agentSide := newPipe()
	serviceID := protocol.NewID()
	const token = "shared-secret"

	var wg sync.WaitGroup
	var agentErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		agentErr = Initiate(agentSide, serviceID, token)
	}()

	first, err := serverSide.Recv()
	if err != nil {
		t.Fatalf("recv first message: %v", err)
	}
	got, err := Accept(serverSide, first, token)
	wg.Wait()

	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if agentErr != nil {
		t.Fatalf("Initiate: %v", agentErr)
	}
	if got != serviceID {
		t.Fatalf("Accept returned %s, want %s", got, serviceID)
	}
}

func TestHandshakeRejectsWrongToken(t *testing.T) {
	serverSide, agentSide := newPipe()
	serviceID := protocol.NewID()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = Initiate(agentSide, serviceID, "wrong-token")
	}()

	first, err := serverSide.Recv()
	if err != nil {
		t.Fatalf("recv first message: %v", err)
	}
	_, err = Accept(serverSide, first, "correct-token")
	wg.Wait()

	if !errors.Is(err, protocol.ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
}

func TestAcceptRejectsNonAuthenticateFirstMessage(t *testing.T) {
	serverSide, agentSide := newPipe()
	bogus := protocol.RespondErr(protocol.NewID(), protocol.CommandInternalError)

	go func() {
		_, _ = agentSide.Recv()
	}()

	_, err := Accept(serverSide, bogus, "token")
	if !errors.Is(err, protocol.ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
}

func TestAcceptIgnoresOutOfBandMessageDuringChallenge(t *testing.T) {
	serverSide, agentSide := newPipe()
	serviceID := protocol.NewID()
	const token = "shared-secret"

	var wg sync.WaitGroup
	var agentErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		agentErr = Initiate(agentSide, serviceID, token)
	}()

	first, err := serverSide.Recv()
	if err != nil {
		t.Fatalf("recv first message: %v", err)
	}

	// A stray frame with an unrelated correlation id, queued ahead of the
	// agent's real ChallengeResponse. Accept must treat it as out of band
	// rather than failing the handshake on it.
	stray := protocol.RespondErr(protocol.NewID(), protocol.CommandInternalError)
	if err := agentSide.Send(stray); err != nil {
		t.Fatalf("send stray message: %v", err)
	}

	got, err := Accept(serverSide, first, token)
	wg.Wait()

	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if agentErr != nil {
		t.Fatalf("Initiate: %v", agentErr)
	}
	if got != serviceID {
		t.Fatalf("Accept returned %s, want %s", got, serviceID)
	}
}

func TestResolveChallengeDeterministic(t *testing.T) {
	nonce, err := randomNonce()
	if err != nil {
		t.Fatalf("randomNonce: %v", err)
	}
	a := resolveChallenge(nonce, "token")
	b := resolveChallenge(nonce, "token")
	if a != b {
		t.Fatalf("resolveChallenge not deterministic: %s != %s", a, b)
	}
	if c := resolveChallenge(nonce, "other-token"); c == a {
		t.Fatalf("resolveChallenge ignored token")
	}
}
