package domain

import "time"

// Device is a host on the local network, discovered and reconciled by
// SyncDevices (§4.8). Never deleted — only ever marked offline.
type Device struct {
	MACAddress   MAC       `json:"macAddress"`
	LastKnownIP  string    `json:"lastKnownIp"`
	DisplayName  string    `json:"displayName"`
	IsNameCustom bool      `json:"isNameCustom"`
	Notes        string    `json:"notes"`
	IsOnline     bool      `json:"isOnline"`
	LastSeen     time.Time `json:"lastSeen"`
	LastScanned  time.Time `json:"lastScanned"`
}

// Update merges a freshly scanned observation of the same device into d,
// preserving the operator-set display name when IsNameCustom is set and
// copying over the scan-derived fields. Grounded on the original's
// `Device::update`, called from SyncDevices for devices seen on both the
// known side and the latest scan.
func (d Device) Update(scanned Device) Device {
	updated := d
	updated.LastKnownIP = scanned.LastKnownIP
	updated.IsOnline = scanned.IsOnline
	updated.LastSeen = scanned.LastSeen
	updated.LastScanned = scanned.LastScanned
	if !d.IsNameCustom {
		updated.DisplayName = scanned.DisplayName
	}
	return updated
}
