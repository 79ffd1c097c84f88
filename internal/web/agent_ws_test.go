package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/helios-home/control-plane/internal/acm"
	"github.com/helios-home/control-plane/internal/domain"
	"github.com/helios-home/control-plane/internal/logging"
	"github.com/helios-home/control-plane/internal/protocol"
	"github.com/helios-home/control-plane/internal/protocol/handshake"
	"github.com/helios-home/control-plane/internal/store"
	"github.com/helios-home/control-plane/internal/usecase"
	"github.com/helios-home/control-plane/internal/wsadapter"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/api/v1/agents/websocket"
}

// newAgentTestServer builds a real Server with a service already created in
// storage, and returns it alongside that service's id/token so a test can
// dial in as that agent.
func newAgentTestServer(t *testing.T) (*httptest.Server, *acm.Manager, domain.Service) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	servicesRepo := store.NewServicesRepo()
	log := logging.New(false)
	manager := acm.New()

	create := usecase.NewCreateService(servicesRepo, s, log)
	mac, _ := domain.ParseMAC("aa:bb:cc:dd:ee:ff")
	svc, err := create.Execute(context.Background(), usecase.CreateServiceInput{
		DeviceMAC:   mac,
		DisplayName: "agent under test",
		Kind:        domain.ServiceKindHelloWorld,
		Ports: []domain.ServicePort{
			{Name: "http", Port: 8080, TransportProtocol: domain.TransportTCP, ApplicationProtocol: domain.ApplicationHTTP},
		},
	})
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}

	srv := New(Dependencies{
		ServicesRepo: servicesRepo,
		UoW:          s,
		ACM:          manager,
		Log:          log,
	})
	httpSrv := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	t.Cleanup(httpSrv.Close)

	return httpSrv, manager, svc
}

func TestAgentConnectionHandshakeAndRegistration(t *testing.T) {
	httpSrv, manager, svc := newAgentTestServer(t)

	conn, err := wsadapter.Dial(wsURL(httpSrv.URL), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := handshake.Initiate(conn, svc.ID, svc.Token); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !manager.IsRegistered(svc.ID) {
		if time.Now().After(deadline) {
			t.Fatal("service never appeared registered in the ACM after a successful handshake")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAgentConnectionRejectsWrongToken(t *testing.T) {
	httpSrv, manager, svc := newAgentTestServer(t)

	conn, err := wsadapter.Dial(wsURL(httpSrv.URL), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	err = handshake.Initiate(conn, svc.ID, "wrong-token")
	if err == nil {
		t.Fatal("expected the handshake to fail with the wrong token")
	}
	if manager.IsRegistered(svc.ID) {
		t.Fatal("expected the ACM to never register a connection that failed its handshake")
	}
}

func TestAgentConnectionRejectsUnknownService(t *testing.T) {
	httpSrv, _, _ := newAgentTestServer(t)

	conn, err := wsadapter.Dial(wsURL(httpSrv.URL), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	unknownID := protocol.NewID()
	err = handshake.Initiate(conn, unknownID, "any-token")
	if err == nil {
		t.Fatal("expected the handshake to fail for a service id the server doesn't know about")
	}
}

func TestAgentConnectionRespondsToServerPing(t *testing.T) {
	httpSrv, manager, svc := newAgentTestServer(t)

	conn, err := wsadapter.Dial(wsURL(httpSrv.URL), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := handshake.Initiate(conn, svc.ID, svc.Token); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !manager.IsRegistered(svc.ID) {
		if time.Now().After(deadline) {
			t.Fatal("service never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	manager.Broadcast(acm.Event{Kind: acm.EventPing})

	pingMsg, err := readUntilOk(conn, protocol.CommandPing, 2*time.Second)
	if err != nil {
		t.Fatalf("waiting for server Ping: %v", err)
	}
	pong, err := protocol.RespondOk(pingMsg.ID, protocol.CommandPong, nil)
	if err != nil {
		t.Fatalf("build Pong: %v", err)
	}
	if err := conn.Send(pong); err != nil {
		t.Fatalf("send Pong: %v", err)
	}
}

func readUntilOk(conn *wsadapter.Conn, command protocol.OkCommand, timeout time.Duration) (protocol.Message, error) {
	type result struct {
		msg protocol.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		for {
			msg, err := conn.Recv()
			if err != nil {
				done <- result{err: err}
				return
			}
			if msg.IsOk(command) {
				done <- result{msg: msg}
				return
			}
		}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-time.After(timeout):
		return protocol.Message{}, context.DeadlineExceeded
	}
}
