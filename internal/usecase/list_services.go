package usecase

import (
	"context"
	"fmt"

	"github.com/helios-home/control-plane/internal/domain"
	"github.com/helios-home/control-plane/internal/repository"
)

// ListServices implements the original's list_services.rs: all services
// registered against one device.
type ListServices struct {
	services repository.ServicesRepository
	uow      repository.UnitOfWorkProvider
}

func NewListServices(services repository.ServicesRepository, uow repository.UnitOfWorkProvider) *ListServices {
	return &ListServices{services: services, uow: uow}
}

func (uc *ListServices) Execute(ctx context.Context, mac domain.MAC) ([]domain.Service, error) {
	tx, err := uc.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	return uc.services.FetchAllOfDevice(tx, mac)
}
