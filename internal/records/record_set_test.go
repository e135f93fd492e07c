package records

import (
	"testing"

	"github.com/beacondns/mdns/internal/protocol"
)

func TestBuildTXTRecord_Empty(t *testing.T) {
	data := buildTXTRecord(map[string]string{})
	if len(data) != 1 || data[0] != 0x00 {
		t.Errorf("buildTXTRecord(empty) = %v, want [0x00]", data)
	}
}

func TestBuildTXTRecord_SingleKey(t *testing.T) {
	data := buildTXTRecord(map[string]string{"version": "1.0"})

	if len(data) == 0 {
		t.Fatal("buildTXTRecord(single key) returned empty data")
	}
	if data[0] != 0x0b {
		t.Errorf("length byte = 0x%02x, want 0x0b", data[0])
	}
	if string(data[1:]) != "version=1.0" {
		t.Errorf("entry = %q, want %q", data[1:], "version=1.0")
	}
}

func TestBuildTXTRecord_MultipleKeys(t *testing.T) {
	data := buildTXTRecord(map[string]string{
		"version": "1.0",
		"path":    "/api",
	})

	if len(data) < 20 {
		t.Errorf("data too short: %d bytes", len(data))
	}
	if data[0] == 0x00 {
		t.Error("starts with 0x00, want length-prefixed strings")
	}

	decoded, err := decodeTXTRecord(data)
	if err != nil {
		t.Fatalf("decodeTXTRecord: %v", err)
	}
	if decoded["version"] != "1.0" || decoded["path"] != "/api" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestTXTRecord_RoundTrip(t *testing.T) {
	kv := map[string]string{"a": "1", "b": "2", "flag": ""}
	encoded := buildTXTRecord(kv)
	decoded, err := decodeTXTRecord(encoded)
	if err != nil {
		t.Fatalf("decodeTXTRecord: %v", err)
	}
	for k, v := range kv {
		if decoded[k] != v {
			t.Errorf("decoded[%q] = %q, want %q", k, decoded[k], v)
		}
	}
}

func TestBuildRecordSet_AllRecordTypes(t *testing.T) {
	service := ServiceInfo{
		InstanceName: "My Printer",
		ServiceType:  "_http._tcp.local",
		Hostname:     "myhost.local",
		Port:         8080,
		IPv4Address:  []byte{192, 168, 1, 100},
		TXTRecords:   map[string]string{"version": "1.0"},
	}

	recordSet := BuildRecordSet(&service, false)

	foundTypes := make(map[protocol.RecordType]bool)
	for _, record := range recordSet {
		foundTypes[record.Entry().Type] = true
	}

	for _, wantType := range []protocol.RecordType{
		protocol.RecordTypePTR, protocol.RecordTypeSRV,
		protocol.RecordTypeTXT, protocol.RecordTypeA,
	} {
		if !foundTypes[wantType] {
			t.Errorf("BuildRecordSet() missing record type %v", wantType)
		}
	}

	if len(recordSet) != 4 {
		t.Errorf("BuildRecordSet() returned %d records, want 4", len(recordSet))
	}
}

func TestBuildRecordSet_PTRRecord(t *testing.T) {
	service := ServiceInfo{
		InstanceName: "My Printer",
		ServiceType:  "_http._tcp.local",
		Hostname:     "myhost.local",
		Port:         8080,
		IPv4Address:  []byte{192, 168, 1, 100},
	}

	var ptr *PointerRecord
	for _, record := range BuildRecordSet(&service, false) {
		if r, ok := record.(*PointerRecord); ok {
			ptr = r
		}
	}
	if ptr == nil {
		t.Fatal("BuildRecordSet() did not include PTR record")
	}
	if ptr.Entry().Name != "_http._tcp.local" {
		t.Errorf("PTR Name = %q, want %q", ptr.Entry().Name, "_http._tcp.local")
	}
	if ptr.TTL().TTL != 120 {
		t.Errorf("PTR TTL = %d, want 120", ptr.TTL().TTL)
	}
}

func TestBuildRecordSet_SRVRecord(t *testing.T) {
	service := ServiceInfo{
		InstanceName: "My Printer",
		ServiceType:  "_http._tcp.local",
		Hostname:     "myhost.local",
		Port:         8080,
		IPv4Address:  []byte{192, 168, 1, 100},
	}

	var srv *ServiceRecord
	for _, record := range BuildRecordSet(&service, false) {
		if r, ok := record.(*ServiceRecord); ok {
			srv = r
		}
	}
	if srv == nil {
		t.Fatal("BuildRecordSet() did not include SRV record")
	}
	if srv.Entry().Name != "My Printer._http._tcp.local" {
		t.Errorf("SRV Name = %q", srv.Entry().Name)
	}
	if srv.TTL().TTL != 120 {
		t.Errorf("SRV TTL = %d, want 120", srv.TTL().TTL)
	}
	if !srv.Entry().Unique {
		t.Error("SRV Unique = false, want true")
	}
}

func TestBuildRecordSet_ARecord(t *testing.T) {
	service := ServiceInfo{
		InstanceName: "My Printer",
		ServiceType:  "_http._tcp.local",
		Hostname:     "myhost.local",
		Port:         8080,
		IPv4Address:  []byte{192, 168, 1, 100},
	}

	var a *AddressRecord
	for _, record := range BuildRecordSet(&service, false) {
		if r, ok := record.(*AddressRecord); ok {
			a = r
		}
	}
	if a == nil {
		t.Fatal("BuildRecordSet() did not include A record")
	}
	if a.Entry().Name != "myhost.local" {
		t.Errorf("A Name = %q, want %q", a.Entry().Name, "myhost.local")
	}
	if a.TTL().TTL != 4500 {
		t.Errorf("A TTL = %d, want 4500", a.TTL().TTL)
	}
	if !a.Entry().Unique {
		t.Error("A Unique = false, want true")
	}
	if len(a.Addr) != 4 {
		t.Errorf("A Addr length = %d, want 4", len(a.Addr))
	}
}

func TestBuildRecordSet_BonjourStrict_UncompressesSRVTarget(t *testing.T) {
	service := ServiceInfo{
		InstanceName: "My Printer",
		ServiceType:  "_http._tcp.local",
		Hostname:     "myhost.local",
		Port:         8080,
	}

	var strict, relaxed *ServiceRecord
	for _, record := range BuildRecordSet(&service, true) {
		if r, ok := record.(*ServiceRecord); ok {
			strict = r
		}
	}
	for _, record := range BuildRecordSet(&service, false) {
		if r, ok := record.(*ServiceRecord); ok {
			relaxed = r
		}
	}

	if !strict.Uncompressed {
		t.Error("BuildRecordSet(strict=true) SRV record: Uncompressed = false, want true")
	}
	if relaxed.Uncompressed {
		t.Error("BuildRecordSet(strict=false) SRV record: Uncompressed = true, want false")
	}
}

func TestResourceRecord_CanMulticast(t *testing.T) {
	rr := NewPointerRecord(
		DNSEntry{Name: "myservice._http._tcp.local", Type: protocol.RecordTypePTR, Class: protocol.ClassIN},
		"MyPrinter._http._tcp.local", 4500,
	)

	rs := NewRecordSet()
	interfaceID := "eth0"

	if !rs.CanMulticast(rr, interfaceID) {
		t.Error("CanMulticast() = false for first multicast, want true")
	}

	rs.RecordMulticast(rr, interfaceID)

	if rs.CanMulticast(rr, interfaceID) {
		t.Error("CanMulticast() = true immediately after multicast, want false")
	}
}

func TestResourceRecord_CanMulticast_PerInterface(t *testing.T) {
	rr := NewPointerRecord(
		DNSEntry{Name: "myservice._http._tcp.local", Type: protocol.RecordTypePTR, Class: protocol.ClassIN},
		"MyPrinter._http._tcp.local", 4500,
	)

	rs := NewRecordSet()

	rs.RecordMulticast(rr, "eth0")
	if rs.CanMulticast(rr, "eth0") {
		t.Error("CanMulticast(eth0) = true immediately after multicast, want false")
	}
	if !rs.CanMulticast(rr, "wlan0") {
		t.Error("CanMulticast(wlan0) = false, want true (different interface)")
	}

	rs.RecordMulticast(rr, "wlan0")
	if rs.CanMulticast(rr, "wlan0") {
		t.Error("CanMulticast(wlan0) = true immediately after multicast, want false")
	}
}

func TestResourceRecord_CanMulticast_PerRecord(t *testing.T) {
	rr1 := NewPointerRecord(
		DNSEntry{Name: "service1._http._tcp.local", Type: protocol.RecordTypePTR, Class: protocol.ClassIN},
		"Service1._http._tcp.local", 4500,
	)
	rr2 := NewPointerRecord(
		DNSEntry{Name: "service2._http._tcp.local", Type: protocol.RecordTypePTR, Class: protocol.ClassIN},
		"Service2._http._tcp.local", 4500,
	)

	rs := NewRecordSet()

	rs.RecordMulticast(rr1, "eth0")
	if rs.CanMulticast(rr1, "eth0") {
		t.Error("CanMulticast(rr1, eth0) = true immediately after multicast, want false")
	}
	if !rs.CanMulticast(rr2, "eth0") {
		t.Error("CanMulticast(rr2, eth0) = false, want true (different record)")
	}
}

func TestResourceRecord_CanMulticast_ProbeDefense(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping timing test in short mode")
	}

	rr := NewAddressRecord(
		DNSEntry{Name: "myservice.local", Type: protocol.RecordTypeA, Class: protocol.ClassIN},
		[]byte{192, 168, 1, 100}, 120,
	)

	rs := NewRecordSet()
	rs.RecordMulticast(rr, "eth0")

	if rs.CanMulticastProbeDefense(rr, "eth0") {
		t.Error("CanMulticastProbeDefense() = true immediately, want false (< 250ms)")
	}
	if rs.CanMulticast(rr, "eth0") {
		t.Error("CanMulticast() = true immediately, want false (< 1 second)")
	}
}

func TestBuildARecord_EdgeCases(t *testing.T) {
	tests := []struct {
		name        string
		ipv4Address []byte
		wantIP      []byte
	}{
		{"valid IPv4 address", []byte{192, 168, 1, 100}, []byte{192, 168, 1, 100}},
		{"empty IPv4 address", []byte{}, []byte{0, 0, 0, 0}},
		{"nil IPv4 address", nil, []byte{0, 0, 0, 0}},
		{"too short IPv4 address", []byte{192, 168, 1}, []byte{0, 0, 0, 0}},
		{"too long IPv4 address", []byte{192, 168, 1, 100, 255}, []byte{0, 0, 0, 0}},
		{"loopback address", []byte{127, 0, 0, 1}, []byte{127, 0, 0, 1}},
		{"broadcast address", []byte{255, 255, 255, 255}, []byte{255, 255, 255, 255}},
		{"zero address", []byte{0, 0, 0, 0}, []byte{0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &ServiceInfo{
				InstanceName: "Test Service",
				ServiceType:  "_http._tcp.local",
				Hostname:     "testhost.local",
				Port:         8080,
				IPv4Address:  tt.ipv4Address,
			}

			record := buildARecord(service)
			if record == nil {
				t.Fatal("buildARecord() returned nil")
			}
			if record.Entry().Type != protocol.RecordTypeA {
				t.Errorf("Type = %v, want RecordTypeA", record.Entry().Type)
			}
			if record.Entry().Name != "testhost.local" {
				t.Errorf("Name = %q, want testhost.local", record.Entry().Name)
			}
			if record.TTL().TTL != 4500 {
				t.Errorf("TTL = %d, want 4500", record.TTL().TTL)
			}
			if !record.Entry().Unique {
				t.Error("Unique = false, want true")
			}

			gotIP := record.Addr
			if len(gotIP) != 4 {
				t.Fatalf("Addr length = %d, want 4", len(gotIP))
			}
			for i := 0; i < 4; i++ {
				if gotIP[i] != tt.wantIP[i] {
					t.Errorf("Addr[%d] = %d, want %d", i, gotIP[i], tt.wantIP[i])
				}
			}

			if len(tt.ipv4Address) != 4 && len(service.IPv4Address) != 4 {
				t.Errorf("service.IPv4Address not corrected to placeholder: %v", service.IPv4Address)
			}
		})
	}
}

func TestBuildARecord_RFC6762_Compliance(t *testing.T) {
	service := &ServiceInfo{
		InstanceName: "My Service",
		ServiceType:  "_http._tcp.local",
		Hostname:     "myhost.local",
		Port:         8080,
		IPv4Address:  []byte{10, 0, 0, 1},
	}

	record := buildARecord(service)

	if record.TTL().TTL != 4500 {
		t.Errorf("TTL = %d, want 4500", record.TTL().TTL)
	}
	if !record.Entry().Unique {
		t.Error("Unique = false, want true")
	}
	if record.Entry().Class != protocol.ClassIN {
		t.Errorf("Class = %v, want ClassIN", record.Entry().Class)
	}
	if record.Entry().Type != protocol.RecordTypeA {
		t.Errorf("Type = %v, want RecordTypeA", record.Entry().Type)
	}
	if len(record.Addr) != 4 {
		t.Errorf("Addr length = %d, want 4", len(record.Addr))
	}
}
