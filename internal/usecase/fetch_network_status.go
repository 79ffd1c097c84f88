package usecase

import (
	"context"
	"fmt"

	"github.com/helios-home/control-plane/internal/domain"
	"github.com/helios-home/control-plane/internal/routerapi"
)

// FetchNetworkStatus implements the original's fetch_network_status.rs:
// WAN stats and connectivity fetched together for one REST response
// (spec.md §6 GET /api/v1/network/).
type FetchNetworkStatus struct {
	router routerapi.API
}

func NewFetchNetworkStatus(router routerapi.API) *FetchNetworkStatus {
	return &FetchNetworkStatus{router: router}
}

func (uc *FetchNetworkStatus) Execute(ctx context.Context) (domain.NetworkStatus, error) {
	stats, err := uc.router.WANStats(ctx)
	if err != nil {
		return domain.NetworkStatus{}, fmt.Errorf("wan stats: %w", err)
	}
	connectivity, err := uc.router.WANConnectivity(ctx)
	if err != nil {
		return domain.NetworkStatus{}, fmt.Errorf("wan connectivity: %w", err)
	}
	return domain.NetworkStatus{Stats: stats, Connectivity: connectivity}, nil
}
