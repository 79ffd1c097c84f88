package web

import (
	"context"
	"errors"

	"github.com/helios-home/control-plane/internal/connloop"
	"github.com/helios-home/control-plane/internal/metrics"
	"github.com/helios-home/control-plane/internal/protocol"
	"github.com/helios-home/control-plane/internal/protocol/handshake"
	"github.com/helios-home/control-plane/internal/repository"
	"github.com/helios-home/control-plane/internal/wsadapter"
)

// runAgentConnection drives one upgraded websocket connection end to end:
// read the opening frame, resolve the claimed agent's token, run the
// handshake, register with the ACM, and hand off to the steady-state loop
// until the connection ends. Grounded on the teacher's
// cluster/server/server.go connection-handling goroutine, one per stream.
func (s *Server) runAgentConnection(ctx context.Context, ws *wsadapter.Conn) {
	defer ws.Close()

	first, err := ws.Recv()
	if err != nil {
		s.deps.Log.Warn("agent connection closed before handshake", "error", err)
		return
	}
	if !first.IsOk(protocol.CommandAuthenticate) {
		_ = ws.Send(protocol.RespondErr(first.ID, protocol.CommandInvalidMessage))
		metrics.HandshakesTotal.WithLabelValues("invalid_first_message").Inc()
		return
	}

	var auth handshake.Authenticate
	if err := first.Decode(&auth); err != nil {
		_ = ws.Send(protocol.RespondErr(first.ID, protocol.CommandInvalidMessage))
		metrics.HandshakesTotal.WithLabelValues("invalid_first_message").Inc()
		return
	}

	tx, err := s.deps.UoW.Begin(ctx)
	if err != nil {
		s.deps.Log.Error("begin transaction for handshake lookup failed", "error", err)
		_ = ws.Send(protocol.RespondErr(first.ID, protocol.CommandInternalError))
		metrics.HandshakesTotal.WithLabelValues("lookup_failed").Inc()
		return
	}
	svc, err := s.deps.ServicesRepo.FetchOne(tx, auth.ServiceID)
	tx.Rollback()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = ws.Send(protocol.RespondErr(first.ID, protocol.CommandAgentNotFound))
			metrics.HandshakesTotal.WithLabelValues("agent_not_found").Inc()
			return
		}
		s.deps.Log.Error("service lookup failed during handshake", "service_id", auth.ServiceID, "error", err)
		_ = ws.Send(protocol.RespondErr(first.ID, protocol.CommandInternalError))
		metrics.HandshakesTotal.WithLabelValues("lookup_failed").Inc()
		return
	}

	serviceID, err := handshake.Accept(ws, first, svc.Token)
	if err != nil {
		s.deps.Log.Warn("handshake failed", "service_id", auth.ServiceID, "error", err)
		metrics.HandshakesTotal.WithLabelValues("failed").Inc()
		return
	}

	reg, err := s.deps.ACM.Register(serviceID)
	if err != nil {
		_ = ws.Send(protocol.RespondErr(protocol.NewID(), protocol.CommandAlreadyConnected))
		metrics.HandshakesTotal.WithLabelValues("already_connected").Inc()
		return
	}
	metrics.HandshakesTotal.WithLabelValues("success").Inc()
	metrics.AgentsConnected.Set(float64(s.deps.ACM.Connected()))
	defer func() { metrics.AgentsConnected.Set(float64(s.deps.ACM.Connected())) }()

	conn := connloop.New(ws, serviceID, reg, s.deps.Log)
	if err := conn.Run(ctx, func() { s.deps.ACM.Unregister(serviceID) }); err != nil {
		s.deps.Log.Info("agent connection closed", "service_id", serviceID, "error", err)
	}
}
