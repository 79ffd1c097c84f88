// Package repository defines the storage ports the control plane's use
// cases depend on: ServicesRepository, DevicesRepository, and a
// UnitOfWorkProvider that gives a multi-step use case (CreateService's
// find_one-then-create, SyncDevices' reconcile-then-commit) one transaction
// to observe and write through. A closed error set maps 1:1 onto the REST
// surface's error codes (§6), checked with errors.Is.
package repository

import "errors"

var (
	ErrNotFound            = errors.New("repository: not found")
	ErrUniqueViolation     = errors.New("repository: unique constraint violation")
	ErrForeignKeyViolation = errors.New("repository: foreign key violation")
	ErrCheckViolation      = errors.New("repository: check constraint violation")
	ErrConnectionFailed    = errors.New("repository: connection failed")
	ErrUnknown             = errors.New("repository: unknown error")
)
