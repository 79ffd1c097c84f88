// Package usecase implements the control plane's domain use cases
// (spec.md §4.6-§4.9, "Domain use cases" §2): CreateService,
// GenerateInstallScript, SyncDevices, ListDevices, ListServices,
// ListServiceTemplates, FetchNetworkStatus. Each takes a repository bundle
// plus a UnitOfWorkProvider and never touches storage directly (spec.md §9).
package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/helios-home/control-plane/internal/domain"
	"github.com/helios-home/control-plane/internal/logging"
	"github.com/helios-home/control-plane/internal/metrics"
	"github.com/helios-home/control-plane/internal/repository"
)

// Errors returned by CreateService, grounded line-for-line on the
// original's CreateServiceError enum (create_service.rs).
var (
	ErrDuplicatePortNumber     = errors.New("usecase: duplicate port number")
	ErrDuplicatePortType       = errors.New("usecase: duplicate port type")
	ErrMissingRequiredPorts    = errors.New("usecase: missing required ports")
	ErrInvalidPortConfiguration = errors.New("usecase: invalid port configuration")
	ErrServiceAlreadyExists    = errors.New("usecase: service already exists")
	ErrInvalidDisplayName      = errors.New("usecase: display name must be between 1 and 100 characters")
	ErrEmptyPorts              = errors.New("usecase: ports list must not be empty")
)

// CreateServiceInput is the validated request shape for CreateService
// (spec.md §4.6). Ports carries the caller's chosen port numbers against
// the (name, transport, application) triples the kind's template requires;
// IsOnline is ignored on input (every newly created port starts offline).
type CreateServiceInput struct {
	DeviceMAC   domain.MAC
	DisplayName string
	Kind        domain.ServiceKind
	Ports       []domain.ServicePort
}

// CreateService implements spec.md §4.6's algorithm: validate, derive the
// kind's port template, reject duplicate port numbers/types, check
// find_one for an existing equivalent service, then create.
type CreateService struct {
	repos repository.ServicesRepository
	uow   repository.UnitOfWorkProvider
	log   *logging.Logger
}

func NewCreateService(repos repository.ServicesRepository, uow repository.UnitOfWorkProvider, log *logging.Logger) *CreateService {
	return &CreateService{repos: repos, uow: uow, log: log}
}

func (uc *CreateService) Execute(ctx context.Context, in CreateServiceInput) (domain.Service, error) {
	if len(in.DisplayName) < 1 || len(in.DisplayName) > 100 {
		return domain.Service{}, ErrInvalidDisplayName
	}
	if len(in.Ports) == 0 {
		return domain.Service{}, ErrEmptyPorts
	}

	template, ok := domain.ServiceTemplate[in.Kind]
	if !ok {
		return domain.Service{}, fmt.Errorf("%w: unknown service kind %q", ErrInvalidPortConfiguration, in.Kind)
	}

	seenNumbers := make(map[uint16]struct{}, len(in.Ports))
	for _, p := range in.Ports {
		if _, dup := seenNumbers[p.Port]; dup {
			return domain.Service{}, ErrDuplicatePortNumber
		}
		seenNumbers[p.Port] = struct{}{}
	}

	inputTypes := make(map[domain.ServicePortTemplate]struct{}, len(in.Ports))
	for _, p := range in.Ports {
		key := domain.ServicePortTemplate{Name: p.Name, TransportProtocol: p.TransportProtocol, ApplicationProtocol: p.ApplicationProtocol}
		if _, dup := inputTypes[key]; dup {
			return domain.Service{}, ErrDuplicatePortType
		}
		inputTypes[key] = struct{}{}
	}

	templateTypes := make(map[domain.ServicePortTemplate]struct{}, len(template))
	for _, t := range template {
		templateTypes[t] = struct{}{}
	}
	if len(inputTypes) != len(templateTypes) {
		return domain.Service{}, ErrMissingRequiredPorts
	}
	for k := range templateTypes {
		if _, ok := inputTypes[k]; !ok {
			return domain.Service{}, ErrInvalidPortConfiguration
		}
	}

	ports := make([]domain.ServicePort, len(in.Ports))
	for i, p := range in.Ports {
		ports[i] = domain.ServicePort{
			Name:                p.Name,
			Port:                p.Port,
			TransportProtocol:   p.TransportProtocol,
			ApplicationProtocol: p.ApplicationProtocol,
			IsOnline:            false,
		}
	}

	tx, err := uc.uow.Begin(ctx)
	if err != nil {
		return domain.Service{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := uc.repos.FindOne(tx, in.DeviceMAC, in.Kind, ports); err == nil {
		return domain.Service{}, ErrServiceAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return domain.Service{}, fmt.Errorf("find_one: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return domain.Service{}, fmt.Errorf("generate token: %w", err)
	}

	svc := domain.Service{
		ID:          newServiceID(),
		DeviceMAC:   in.DeviceMAC,
		DisplayName: in.DisplayName,
		Kind:        in.Kind,
		IsManaged:   true,
		Ports:       ports,
		Token:       token,
	}

	if err := uc.repos.Create(tx, svc); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			// Defensive: find_one above said absent; a storage-level
			// unique violation here means a concurrent writer raced us,
			// which bbolt's single-writer transaction should make
			// impossible (spec.md §9 Open Question 3).
			return domain.Service{}, ErrServiceAlreadyExists
		}
		return domain.Service{}, fmt.Errorf("create: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Service{}, fmt.Errorf("commit: %w", err)
	}

	metrics.ServicesCreated.Inc()
	uc.log.Info("service created", "service_id", svc.ID, "kind", svc.Kind, "device_mac", svc.DeviceMAC)
	return svc, nil
}

func newServiceID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

const tokenLength = 32

var tokenClasses = []string{
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ",
	"abcdefghijklmnopqrstuvwxyz",
	"0123456789",
	"!@#$%^&*()-_=+",
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()-_=+"

// generateToken produces a 32-character secret guaranteed to contain at
// least one uppercase letter, one lowercase letter, one digit, and one
// special character (spec.md §3, §4.6), sourced from crypto/rand — never
// math/rand — matching the teacher's convention for all security-sensitive
// randomness (generateHostID, hmacToken's key material).
func generateToken() (string, error) {
	buf := make([]byte, tokenLength)
	for i := range buf {
		c, err := randomChar(tokenAlphabet)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	// Guarantee coverage of every required character class by overwriting
	// the first len(tokenClasses) positions with one char from each class.
	// The token remains uniformly random in every other position, and a
	// 32-char token guarantees enough positions to spare.
	for i, class := range tokenClasses {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	shuffle(buf)
	return string(buf), nil
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, err
	}
	return alphabet[n.Int64()], nil
}

// shuffle performs an in-place Fisher-Yates shuffle so the guaranteed
// character classes aren't always in the same leading positions.
func shuffle(buf []byte) {
	for i := len(buf) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			continue
		}
		j := int(jBig.Int64())
		buf[i], buf[j] = buf[j], buf[i]
	}
}
