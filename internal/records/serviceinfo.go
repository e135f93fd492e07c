package records

import (
	"github.com/beacondns/mdns/internal/message"
	"github.com/beacondns/mdns/internal/protocol"
)

// ServiceInfo is the qualified description of a service instance,
// local or remote (§3, "ServiceInfo"). Qualified name = InstanceName
// + "." + ServiceType.
type ServiceInfo struct {
	InstanceName string
	ServiceType  string
	Hostname     string
	Port         uint16
	Weight       uint16
	Priority     uint16
	IPv4Address  []byte
	TXTRecords   map[string]string
}

// QualifiedName returns the fully qualified instance name, e.g.
// "My Printer._http._tcp.local.".
func (s *ServiceInfo) QualifiedName() string {
	name, _ := message.EncodeServiceInstanceName(s.InstanceName, s.ServiceType)
	decoded, _, _ := message.ParseName(name, 0)
	return decoded
}

// BuildRecordSet constructs the PTR/SRV/TXT/A records that advertise
// service, per RFC 6763 §6: PTR from the service type to the instance,
// SRV and TXT owned by the instance, and A owned by the hostname.
// bonjourStrict disables name compression in the SRV record's target,
// for interop with legacy DNS-SD stacks (component J's
// WithBonjourStrict option).
func BuildRecordSet(service *ServiceInfo, bonjourStrict bool) []Record {
	qualified := service.QualifiedName()

	ptr := NewPointerRecord(
		DNSEntry{Name: service.ServiceType, Type: protocol.RecordTypePTR, Class: protocol.ClassIN},
		qualified,
		protocol.TTLService,
	)

	srv := NewServiceRecord(
		DNSEntry{Name: qualified, Type: protocol.RecordTypeSRV, Class: protocol.ClassIN},
		service.Priority, service.Weight, service.Port, service.Hostname,
		protocol.TTLService,
	)
	srv.Uncompressed = bonjourStrict

	txt := NewTextRecordFromMap(
		DNSEntry{Name: qualified, Type: protocol.RecordTypeTXT, Class: protocol.ClassIN},
		service.TXTRecords,
		protocol.TTLService,
	)

	a := buildARecord(service)

	return []Record{ptr, srv, txt, a}
}

// buildARecord constructs the A record for a service's hostname. An
// address that is not a valid 4-byte IPv4 payload is replaced with
// 0.0.0.0 and the correction is written back onto service so a
// subsequent BuildRecordSet call is consistent.
func buildARecord(service *ServiceInfo) *AddressRecord {
	if len(service.IPv4Address) != 4 {
		service.IPv4Address = []byte{0, 0, 0, 0}
	}
	return NewAddressRecord(
		DNSEntry{Name: service.Hostname, Type: protocol.RecordTypeA, Class: protocol.ClassIN, Unique: true},
		service.IPv4Address,
		protocol.TTLHostname,
	)
}
