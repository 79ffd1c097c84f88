package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helios-home/control-plane/internal/domain"
)

// Pagination requests one page of a listing. Both fields are required when
// present — Page is 1-indexed, matching the original's "LIMIT/OFFSET" math.
type Pagination struct {
	Page  uint32
	Limit uint32
}

// Tx is a single unit-of-work's transaction handle. Use cases hold one Tx
// across multiple repository calls so that, e.g., CreateService's find_one
// and create observe the same in-flight state.
type Tx interface {
	// Commit persists all writes made through this Tx.
	Commit() error
	// Rollback discards all writes made through this Tx. Safe to call after
	// Commit; a no-op in that case.
	Rollback() error
}

// UnitOfWorkProvider opens a new Tx. ctx carries timeouts/cancellation for
// the underlying Begin call.
type UnitOfWorkProvider interface {
	Begin(ctx context.Context) (Tx, error)
}

// ServicesRepository is the storage port for domain.Service, parameterized
// over the ambient Tx rather than Rust's generic UnitOfWork<'_> trait bound
// (spec.md §9's guidance on porting the generic repository traits).
type ServicesRepository interface {
	FetchAllOfDevice(tx Tx, mac domain.MAC) ([]domain.Service, error)
	FetchOne(tx Tx, serviceID uuid.UUID) (domain.Service, error)
	// FindOne returns the service matching mac/kind/ports under §3's
	// port-type-and-number-set equivalence rule, or ErrNotFound.
	FindOne(tx Tx, mac domain.MAC, kind domain.ServiceKind, ports []domain.ServicePort) (domain.Service, error)
	Create(tx Tx, svc domain.Service) error
	Update(tx Tx, svc domain.Service) error
}

// DevicesRepository is the storage port for domain.Device.
type DevicesRepository interface {
	FetchAll(tx Tx, pagination *Pagination) ([]domain.Device, error)
	// FetchOne returns ErrNotFound if mac is unknown.
	FetchOne(tx Tx, mac domain.MAC) (domain.Device, error)
	Create(tx Tx, dev domain.Device) error
	Update(tx Tx, dev domain.Device) error
}
