package domain

import "time"

// WanStatus is the router's WAN link state.
type WanStatus string

const (
	WanUp   WanStatus = "up"
	WanDown WanStatus = "down"
)

// WanConnectivity is the router's current WAN-facing addressing and link
// status, as reported by the RouterAPI port.
type WanConnectivity struct {
	IPv4    string        `json:"ipv4"`
	IPv6    string        `json:"ipv6"`
	Gateway string        `json:"gateway"`
	Status  WanStatus     `json:"status"`
	Uptime  time.Duration `json:"uptime"`
}

// WanStatsItem is one direction's (download or upload) bandwidth counters.
type WanStatsItem struct {
	MaxBandwidthKbps          int `json:"maxBandwidthKbps"`
	CurrentBandwidthKbps      int `json:"currentBandwidthKbps"`
	TotalSinceLastRebootBytes int `json:"totalSinceLastRebootBytes"`
	PacketsLost               int `json:"packetsLost"`
}

// WanStats bundles the router's download/upload counters and active
// session count, as reported by the RouterAPI port.
type WanStats struct {
	Download       WanStatsItem `json:"download"`
	Upload         WanStatsItem `json:"upload"`
	ActiveSessions int          `json:"activeSessions"`
}

// NetworkStatus is the result of FetchNetworkStatus: WAN stats plus
// connectivity, fetched together for one REST response.
type NetworkStatus struct {
	Stats        WanStats        `json:"stats"`
	Connectivity WanConnectivity `json:"connectivity"`
}
