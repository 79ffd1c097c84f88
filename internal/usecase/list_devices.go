package usecase

import (
	"context"
	"fmt"

	"github.com/helios-home/control-plane/internal/domain"
	"github.com/helios-home/control-plane/internal/repository"
)

// FullDevice pairs a Device with its Services when the caller asked for the
// "full" listing (spec.md §6 GET /api/v1/devices?full=), grounded on the
// original's FullDevice entity.
type FullDevice struct {
	Device   domain.Device
	Services []domain.Service
}

// ListDevices implements the original's list_devices.rs: fetch a page of
// devices, optionally attaching each device's services.
type ListDevices struct {
	devices  repository.DevicesRepository
	services repository.ServicesRepository
	uow      repository.UnitOfWorkProvider
}

func NewListDevices(devices repository.DevicesRepository, services repository.ServicesRepository, uow repository.UnitOfWorkProvider) *ListDevices {
	return &ListDevices{devices: devices, services: services, uow: uow}
}

func (uc *ListDevices) Execute(ctx context.Context, pagination *repository.Pagination, full bool) ([]FullDevice, error) {
	tx, err := uc.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	devices, err := uc.devices.FetchAll(tx, pagination)
	if err != nil {
		return nil, fmt.Errorf("fetch devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, nil
	}

	out := make([]FullDevice, len(devices))
	for i, d := range devices {
		out[i] = FullDevice{Device: d}
		if full {
			svcs, err := uc.services.FetchAllOfDevice(tx, d.MACAddress)
			if err != nil {
				return nil, fmt.Errorf("fetch services of device %s: %w", d.MACAddress, err)
			}
			out[i].Services = svcs
		}
	}
	return out, nil
}
