package domain

import "testing"

func TestParseMACRoundTrip(t *testing.T) {
	m, err := ParseMAC("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("ParseMAC: %v", err)
	}
	if got := m.String(); got != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("String() = %q, want aa:bb:cc:dd:ee:ff", got)
	}
}

func TestParseMACRejectsBadInput(t *testing.T) {
	cases := []string{"", "aa:bb:cc", "zz:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:ff:00"}
	for _, c := range cases {
		if _, err := ParseMAC(c); err == nil {
			t.Errorf("ParseMAC(%q) = nil error, want error", c)
		}
	}
}

func TestServicePortTemplateMatches(t *testing.T) {
	tmpl := ServicePortTemplate{Name: "http", TransportProtocol: TransportTCP, ApplicationProtocol: ApplicationHTTP}
	port := ServicePort{Name: "http", Port: 8080, TransportProtocol: TransportTCP, ApplicationProtocol: ApplicationHTTP}
	if !tmpl.Matches(port) {
		t.Fatal("expected template to match port of the same type")
	}

	other := ServicePort{Name: "http", Port: 8080, TransportProtocol: TransportUDP, ApplicationProtocol: ApplicationHTTP}
	if tmpl.Matches(other) {
		t.Fatal("expected template not to match a different transport protocol")
	}
}

func TestServicePortTypeSet(t *testing.T) {
	s := Service{
		Kind: ServiceKindHelloWorld2,
		Ports: []ServicePort{
			{Name: "http", Port: 8080, TransportProtocol: TransportTCP, ApplicationProtocol: ApplicationHTTP},
			{Name: "metrics", Port: 9090, TransportProtocol: TransportTCP, ApplicationProtocol: ApplicationHTTP},
		},
	}

	set := s.PortTypeSet()
	if len(set) != 2 {
		t.Fatalf("PortTypeSet() has %d entries, want 2", len(set))
	}
	if port, ok := set[ServicePortTemplate{Name: "http", TransportProtocol: TransportTCP, ApplicationProtocol: ApplicationHTTP}]; !ok || port != 8080 {
		t.Fatalf("expected http template mapped to port 8080, got %d ok=%v", port, ok)
	}
}

func TestDeviceUpdatePreservesCustomName(t *testing.T) {
	known := Device{
		MACAddress:   MAC{0xaa},
		DisplayName:  "My Laptop",
		IsNameCustom: true,
		IsOnline:     false,
	}
	scanned := Device{
		MACAddress:  MAC{0xaa},
		DisplayName: "router-reported-name",
		LastKnownIP: "192.168.1.42",
		IsOnline:    true,
	}

	updated := known.Update(scanned)
	if updated.DisplayName != "My Laptop" {
		t.Fatalf("DisplayName = %q, want custom name preserved", updated.DisplayName)
	}
	if !updated.IsOnline || updated.LastKnownIP != "192.168.1.42" {
		t.Fatal("expected scan-derived fields to be copied over")
	}
}

func TestDeviceUpdateAcceptsScannedNameWhenNotCustom(t *testing.T) {
	known := Device{DisplayName: "old-name", IsNameCustom: false}
	scanned := Device{DisplayName: "new-name"}

	updated := known.Update(scanned)
	if updated.DisplayName != "new-name" {
		t.Fatalf("DisplayName = %q, want new-name", updated.DisplayName)
	}
}
