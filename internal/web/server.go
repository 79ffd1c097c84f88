// Package web is the control plane's REST gateway (spec.md §6): a thin
// http.ServeMux-based layer over the use case package, plus the websocket
// upgrade endpoint that hands a fresh connection to the handshake and the
// steady-state protocol loop. Routing follows the teacher's
// internal/web/server.go convention — one *http.ServeMux, Go 1.22+
// "METHOD /path" patterns, no third-party router — since a REST surface
// this small doesn't earn a routing library the rest of the pack doesn't
// already reach for either.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helios-home/control-plane/internal/acm"
	"github.com/helios-home/control-plane/internal/domain"
	"github.com/helios-home/control-plane/internal/logging"
	"github.com/helios-home/control-plane/internal/repository"
	"github.com/helios-home/control-plane/internal/routerapi"
	"github.com/helios-home/control-plane/internal/usecase"
	"github.com/helios-home/control-plane/internal/wsadapter"
)

// Dependencies is everything the REST gateway and the agent upgrade
// endpoint need from the rest of the application.
type Dependencies struct {
	CreateService         *usecase.CreateService
	GenerateInstallScript  *usecase.GenerateInstallScript
	ListDevices           *usecase.ListDevices
	ListServices          *usecase.ListServices
	ListServiceTemplates  *usecase.ListServiceTemplates
	FetchNetworkStatus    *usecase.FetchNetworkStatus

	ServicesRepo repository.ServicesRepository
	UoW          repository.UnitOfWorkProvider
	ACM          *acm.Manager

	MetricsEnabled bool
	Log            *logging.Logger

	// ShutdownCtx governs the lifetime of every agent connection goroutine:
	// when it's cancelled (the process's SIGTERM/SIGINT context), every
	// connloop.Run loop sees ctx.Done() and unwinds instead of outliving the
	// HTTP server's own shutdown. Left nil in tests that don't exercise
	// shutdown; handleAgentWebSocket falls back to context.Background().
	ShutdownCtx context.Context
}

// Server owns the mux and dispatches agent connections onto their own
// goroutine once the websocket upgrade and handshake complete.
type Server struct {
	deps Dependencies
	mux  *http.ServeMux
}

func New(deps Dependencies) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/devices", s.handleListDevices)
	s.mux.HandleFunc("GET /api/v1/network/", s.handleNetworkStatus)
	s.mux.HandleFunc("GET /api/v1/service-templates/", s.handleListServiceTemplates)
	s.mux.HandleFunc("POST /api/v1/services/", s.handleCreateService)
	s.mux.HandleFunc("GET /api/v1/services/{service_id}/install-script", s.handleInstallScript)
	s.mux.HandleFunc("GET /api/v1/agents/websocket", s.handleAgentWebSocket)

	if s.deps.MetricsEnabled {
		s.mux.Handle("GET /metrics", promhttp.Handler())
	}
}

// envelope is the fixed response shape of spec.md §6: "{success: bool,
// data?: T, error?: {code, message}}".
type envelope struct {
	Success bool        `json:"success"`
	Data    any         `json:"data,omitempty"`
	Error   *envelopeErr `json:"error,omitempty"`
}

type envelopeErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &envelopeErr{Code: code, Message: message}})
}

// errorCode maps an error from a use case or a repository/router port to
// one of spec.md §6's closed set of codes plus the HTTP status to send.
func errorCode(err error) (status int, code string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "resource-not-found"
	case errors.Is(err, repository.ErrUniqueViolation):
		return http.StatusConflict, "resource-unique-violation"
	case errors.Is(err, repository.ErrCheckViolation):
		return http.StatusUnprocessableEntity, "resource-check-violation"
	case errors.Is(err, repository.ErrForeignKeyViolation):
		return http.StatusUnprocessableEntity, "resource-foreign-key-violation"
	case errors.Is(err, repository.ErrConnectionFailed):
		return http.StatusServiceUnavailable, "database-connection-failed"
	case errors.Is(err, routerapi.ErrUnavailable):
		return http.StatusBadGateway, "router-api-unavailable"
	case errors.Is(err, routerapi.ErrInvalidResponse):
		return http.StatusBadGateway, "router-api-invalid-response"
	case errors.Is(err, routerapi.ErrAuthenticationFailed):
		return http.StatusBadGateway, "router-api-authentication-failed"
	case errors.Is(err, usecase.ErrDuplicatePortNumber):
		return http.StatusUnprocessableEntity, "duplicate-port-number"
	case errors.Is(err, usecase.ErrDuplicatePortType):
		return http.StatusUnprocessableEntity, "duplicate-port-type"
	case errors.Is(err, usecase.ErrMissingRequiredPorts):
		return http.StatusUnprocessableEntity, "missing-required-ports"
	case errors.Is(err, usecase.ErrInvalidPortConfiguration):
		return http.StatusUnprocessableEntity, "invalid-port-configuration"
	case errors.Is(err, usecase.ErrServiceAlreadyExists):
		return http.StatusConflict, "service-already-exists"
	case errors.Is(err, usecase.ErrInvalidDisplayName), errors.Is(err, usecase.ErrEmptyPorts):
		return http.StatusUnprocessableEntity, "payload-validation-failed"
	default:
		return http.StatusInternalServerError, "database-unknown-error"
	}
}

func (s *Server) writeUseCaseError(w http.ResponseWriter, err error) {
	status, code := errorCode(err)
	writeErr(w, status, code, err.Error())
}

// handleListDevices implements GET /api/v1/devices?page=&limit=&full=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	full := q.Get("full") == "true"

	var pagination *repository.Pagination
	if pageStr, limitStr := q.Get("page"), q.Get("limit"); pageStr != "" || limitStr != "" {
		page, err := parseUint32(pageStr, 1)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid-query-params", "page must be a positive integer")
			return
		}
		limit, err := parseUint32(limitStr, 50)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid-query-params", "limit must be a positive integer")
			return
		}
		pagination = &repository.Pagination{Page: page, Limit: limit}
	}

	devices, err := s.deps.ListDevices.Execute(r.Context(), pagination, full)
	if err != nil {
		s.writeUseCaseError(w, err)
		return
	}
	if devices == nil {
		devices = []usecase.FullDevice{}
	}
	writeData(w, http.StatusOK, devices)
}

func parseUint32(s string, def uint32) (uint32, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// handleNetworkStatus implements GET /api/v1/network/.
func (s *Server) handleNetworkStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.FetchNetworkStatus.Execute(r.Context())
	if err != nil {
		s.writeUseCaseError(w, err)
		return
	}
	writeData(w, http.StatusOK, status)
}

// handleListServiceTemplates implements GET /api/v1/service-templates/.
func (s *Server) handleListServiceTemplates(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.deps.ListServiceTemplates.Execute())
}

// createServiceRequest is the JSON body of POST /api/v1/services/.
type createServiceRequest struct {
	DeviceMAC   string               `json:"deviceMac"`
	DisplayName string               `json:"displayName"`
	Kind        domain.ServiceKind   `json:"kind"`
	Ports       []domain.ServicePort `json:"ports"`
}

// handleCreateService implements POST /api/v1/services/.
func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var body createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid-json", err.Error())
		return
	}

	mac, err := domain.ParseMAC(body.DeviceMAC)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid-query-params", err.Error())
		return
	}

	svc, err := s.deps.CreateService.Execute(r.Context(), usecase.CreateServiceInput{
		DeviceMAC:   mac,
		DisplayName: body.DisplayName,
		Kind:        body.Kind,
		Ports:       body.Ports,
	})
	if err != nil {
		s.writeUseCaseError(w, err)
		return
	}
	writeData(w, http.StatusCreated, svc)
}

// handleInstallScript implements GET
// /api/v1/services/{service_id}/install-script?os=linux.
func (s *Server) handleInstallScript(w http.ResponseWriter, r *http.Request) {
	serviceID, err := uuid.Parse(r.PathValue("service_id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid-query-params", err.Error())
		return
	}

	osParam := r.URL.Query().Get("os")
	if osParam == "" {
		osParam = string(usecase.OSLinux)
	}

	script, err := s.deps.GenerateInstallScript.Execute(r.Context(), usecase.OperatingSystem(osParam), serviceID)
	if err != nil {
		if errors.Is(err, usecase.ErrUnsupportedOS) {
			writeErr(w, http.StatusBadRequest, "invalid-query-params", err.Error())
			return
		}
		s.writeUseCaseError(w, err)
		return
	}

	w.Header().Set("Content-Type", script.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename="+script.FileName)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(script.Content))
}

// handleAgentWebSocket implements GET /api/v1/agents/websocket: upgrades
// the connection, peeks the first frame (the agent's Authenticate), resolves
// the claimed service id's token, runs the handshake, registers the agent
// with the ACM, and hands off to the steady-state loop for the lifetime of
// the connection.
func (s *Server) handleAgentWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := wsadapter.Accept(w, r)
	if err != nil {
		s.deps.Log.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx := s.deps.ShutdownCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go s.runAgentConnection(ctx, ws)
}
