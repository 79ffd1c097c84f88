package usecase

import (
	"context"
	"fmt"

	"github.com/helios-home/control-plane/internal/domain"
	"github.com/helios-home/control-plane/internal/logging"
	"github.com/helios-home/control-plane/internal/metrics"
	"github.com/helios-home/control-plane/internal/repository"
	"github.com/helios-home/control-plane/internal/routerapi"
)

// SyncDevices implements spec.md §4.8's reconciliation algorithm, grounded
// line-for-line on the original's sync_devices.rs: fetch scanned devices
// from the router, fetch known devices from storage, match by MAC, carry
// forward operator-set names via Device.Update, and mark anything not seen
// this scan as offline.
//
// Resolves §9 Open Question 2: a per-row write failure ABORTS the
// surrounding transaction (rollback, log, return — the next scheduler tick
// retries) rather than committing a partial batch, per the spec's stated
// preference.
type SyncDevices struct {
	devices   repository.DevicesRepository
	uow       repository.UnitOfWorkProvider
	router    routerapi.API
	log       *logging.Logger
}

func NewSyncDevices(devices repository.DevicesRepository, uow repository.UnitOfWorkProvider, router routerapi.API, log *logging.Logger) *SyncDevices {
	return &SyncDevices{devices: devices, uow: uow, router: router, log: log}
}

func (uc *SyncDevices) Name() string { return "SyncDevices" }

func (uc *SyncDevices) Execute(ctx context.Context) error {
	tx, err := uc.uow.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	scanned, err := uc.router.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices from router: %w", err)
	}

	known, err := uc.devices.FetchAll(tx, nil)
	if err != nil {
		return fmt.Errorf("fetch known devices: %w", err)
	}

	knownMap := make(map[domain.MAC]domain.Device, len(known))
	for _, d := range known {
		knownMap[d.MACAddress] = d
	}

	var newDevices, disconnected, reconnected []domain.MAC

	for _, s := range scanned {
		old, wasKnown := knownMap[s.MACAddress]
		if wasKnown {
			delete(knownMap, s.MACAddress)
			updated := old.Update(s)
			if err := uc.devices.Update(tx, updated); err != nil {
				return fmt.Errorf("update device %s: %w", updated.MACAddress, err)
			}
			switch {
			case old.IsOnline && !updated.IsOnline:
				disconnected = append(disconnected, updated.MACAddress)
			case !old.IsOnline && updated.IsOnline:
				reconnected = append(reconnected, updated.MACAddress)
			}
			continue
		}
		if err := uc.devices.Create(tx, s); err != nil {
			return fmt.Errorf("create device %s: %w", s.MACAddress, err)
		}
		newDevices = append(newDevices, s.MACAddress)
	}

	// Anything left in knownMap wasn't seen this scan: mark offline.
	for _, d := range knownMap {
		d.IsOnline = false
		if err := uc.devices.Update(tx, d); err != nil {
			return fmt.Errorf("mark device offline %s: %w", d.MACAddress, err)
		}
		disconnected = append(disconnected, d.MACAddress)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	for range newDevices {
		metrics.DeviceTransitions.WithLabelValues("new").Inc()
	}
	for range disconnected {
		metrics.DeviceTransitions.WithLabelValues("disconnected").Inc()
	}
	for range reconnected {
		metrics.DeviceTransitions.WithLabelValues("reconnected").Inc()
	}

	uc.log.Info("devices synced",
		"new", len(newDevices),
		"disconnected", len(disconnected),
		"reconnected", len(reconnected),
	)
	return nil
}
