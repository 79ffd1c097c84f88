// Package routerapi defines the narrow port the control plane uses to talk
// to a consumer-grade home router (spec.md §1: "Router API integration —
// out of scope in detail", modeled as an interface per §9's guidance on
// porting the original's RouterApi trait object). SyncDevices and
// FetchNetworkStatus depend on this interface only, never a concrete
// client, so the router vendor is swappable.
package routerapi

import (
	"context"
	"errors"

	"github.com/helios-home/control-plane/internal/domain"
)

// Errors mirror the original's RouterApiError enum 1:1 so the REST
// boundary's error-code mapping (spec.md §6) has a stable source to key
// off of.
var (
	ErrUnavailable          = errors.New("routerapi: router API is unavailable")
	ErrInvalidResponse      = errors.New("routerapi: router API returned an invalid response")
	ErrAuthenticationFailed = errors.New("routerapi: authentication with the router API failed")
	ErrUnknown              = errors.New("routerapi: unknown router API error")
)

// API is the port SyncDevices and FetchNetworkStatus depend on.
type API interface {
	WANConnectivity(ctx context.Context) (domain.WanConnectivity, error)
	ListDevices(ctx context.Context) ([]domain.Device, error)
	WANStats(ctx context.Context) (domain.WanStats, error)
}
