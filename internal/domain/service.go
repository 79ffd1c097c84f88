// Package domain holds the control plane's core entities: services, their
// port templates, and the devices that host them. Plain data types plus the
// invariants spec'd around them (§3) — no storage or transport concerns.
package domain

import "github.com/google/uuid"

// ServiceKind enumerates the agent workload kinds the control plane can
// provision. Each kind drives a fixed ServiceTemplate (port-type set).
type ServiceKind string

const (
	ServiceKindHelloWorld  ServiceKind = "hello-world"
	ServiceKindHelloWorld2 ServiceKind = "hello-world2"
)

// TransportProtocol is a ServicePort's L4 protocol.
type TransportProtocol string

const (
	TransportTCP TransportProtocol = "TCP"
	TransportUDP TransportProtocol = "UDP"
)

// ApplicationProtocol is a ServicePort's L7 protocol.
type ApplicationProtocol string

const (
	ApplicationHTTP ApplicationProtocol = "HTTP"
)

// ServicePort is one network endpoint a running Service exposes.
type ServicePort struct {
	Name                string              `json:"name"`
	Port                uint16              `json:"port"`
	TransportProtocol   TransportProtocol   `json:"transportProtocol"`
	ApplicationProtocol ApplicationProtocol `json:"applicationProtocol"`
	IsOnline            bool                `json:"isOnline"`
}

// ServicePortTemplate is the type half of a ServicePort: the (name,
// transport, application) triple that defines *port-type identity* (§3),
// independent of the concrete port number assigned to a running instance.
type ServicePortTemplate struct {
	Name                string              `json:"name"`
	TransportProtocol   TransportProtocol   `json:"transportProtocol"`
	ApplicationProtocol ApplicationProtocol `json:"applicationProtocol"`
}

// Matches reports whether port conforms to this template's type (ignoring
// the concrete port number).
func (t ServicePortTemplate) Matches(p ServicePort) bool {
	return t.Name == p.Name &&
		t.TransportProtocol == p.TransportProtocol &&
		t.ApplicationProtocol == p.ApplicationProtocol
}

// ServiceTemplate maps a ServiceKind to its required, fixed set of
// ServicePortTemplate entries. The set of port-type identities for a given
// kind never changes at runtime (§3 invariant).
var ServiceTemplate = map[ServiceKind][]ServicePortTemplate{
	ServiceKindHelloWorld: {
		{Name: "http", TransportProtocol: TransportTCP, ApplicationProtocol: ApplicationHTTP},
	},
	ServiceKindHelloWorld2: {
		{Name: "http", TransportProtocol: TransportTCP, ApplicationProtocol: ApplicationHTTP},
		{Name: "metrics", TransportProtocol: TransportTCP, ApplicationProtocol: ApplicationHTTP},
	},
}

// Service is an addressable running agent identity: the unit the handshake
// authenticates and the ACM registers under.
type Service struct {
	ID          uuid.UUID     `json:"id"`
	DeviceMAC   MAC           `json:"deviceMac"`
	DisplayName string        `json:"displayName"`
	Kind        ServiceKind   `json:"kind"`
	IsManaged   bool          `json:"isManaged"`
	Ports       []ServicePort `json:"ports"`

	// Token is the HMAC shared secret used by the handshake (§4.2). It is
	// never serialised in the REST surface's list/fetch responses — only
	// GenerateInstallScript's one-time rendering exposes it. Excluded from
	// the default JSON tag set deliberately; handlers that must embed it
	// (the install script template) read the field directly.
	Token string `json:"-"`
}

// PortTypeSet returns the (name, transportProtocol, applicationProtocol)
// identities of s.Ports, order-independent, for the equivalence check in
// find_one (§3 invariant 3, §4.6).
func (s Service) PortTypeSet() map[ServicePortTemplate]uint16 {
	out := make(map[ServicePortTemplate]uint16, len(s.Ports))
	for _, p := range s.Ports {
		out[ServicePortTemplate{
			Name:                p.Name,
			TransportProtocol:   p.TransportProtocol,
			ApplicationProtocol: p.ApplicationProtocol,
		}] = p.Port
	}
	return out
}
