package records

import "github.com/beacondns/mdns/internal/message"

// ServiceRecord is an SRV record: rdata is (priority, weight, port,
// target) (§3, "Service"). SRV records are unique/cache-flush per
// RFC 6762 §10.2.
type ServiceRecord struct {
	baseRecord
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string

	// Uncompressed disables name-pointer compression when writing
	// Target, for interop with legacy DNS-SD stacks that don't expect
	// a compression pointer inside SRV rdata (component J's
	// BonjourStrict option).
	Uncompressed bool
}

// NewServiceRecord builds a ServiceRecord with the unique bit set. ttl
// is stored as-is: a wire-decoded 0 is a goodbye and must survive
// unchanged (see ParseRecord). Callers building a record from scratch
// rather than off the wire pass GetTTLForRecordType(entry.Type)
// explicitly (BuildRecordSet uses protocol.TTLService/protocol.TTLHostname).
func NewServiceRecord(entry DNSEntry, priority, weight, port uint16, target string, ttl uint32) *ServiceRecord {
	entry.Unique = true
	return &ServiceRecord{
		baseRecord: baseRecord{entry: entry, ttl: NewRecordTTL(entry.Type, ttl)},
		Priority:   priority,
		Weight:     weight,
		Port:       port,
		Target:     target,
	}
}

func (r *ServiceRecord) WriteRData(enc *message.Encoder) error {
	enc.WriteUint16(r.Priority)
	enc.WriteUint16(r.Weight)
	enc.WriteUint16(r.Port)
	if r.Uncompressed {
		return enc.WriteNameUncompressed(r.Target)
	}
	return enc.WriteName(r.Target)
}

func (r *ServiceRecord) SameRData(other Record) bool {
	o, ok := other.(*ServiceRecord)
	if !ok {
		return false
	}
	return r.Priority == o.Priority && r.Weight == o.Weight && r.Port == o.Port &&
		message.EqualNames(r.Target, o.Target)
}

func (r *ServiceRecord) ResetTTL(other Record) { r.resetTTLFrom(other) }

func (r *ServiceRecord) SuppressedBy(knownAnswers []Record) bool {
	return suppressedBy(r.entry, func(o Record) bool { return r.SameRData(o) }, r.ttl.TTL, knownAnswers)
}

func (r *ServiceRecord) HandleQuery(incoming Record) bool {
	return handleConflict(r.entry, func(o Record) bool { return r.SameRData(o) }, incoming)
}

func (r *ServiceRecord) HandleResponse(incoming Record) bool {
	return handleConflict(r.entry, func(o Record) bool { return r.SameRData(o) }, incoming)
}
