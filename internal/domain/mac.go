package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMAC is returned when a string does not parse as a 6-octet
// colon-separated hardware address.
var ErrInvalidMAC = errors.New("domain: invalid MAC address")

// MAC is a 6-octet hardware address, serialised as lower-case
// colon-separated hex ("aa:bb:cc:dd:ee:ff"). Comparable with ==, usable as
// a map key — unlike net.HardwareAddr, which is a slice.
type MAC [6]byte

// ParseMAC parses a colon-separated hex MAC address.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return m, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return m, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
		}
		m[i] = byte(v)
	}
	return m, nil
}

// String renders the address as lower-case colon-separated hex.
func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

func (m MAC) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *MAC) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMAC(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
