package records

import "github.com/beacondns/mdns/internal/message"

// PointerRecord is a PTR record: rdata is the alias target name
// (§3, "Pointer"). Used for DNS-SD service-type and service-instance
// enumeration.
type PointerRecord struct {
	baseRecord
	Target string
}

// NewPointerRecord builds a PointerRecord with the given ttl, stored
// as-is: a wire-decoded 0 is a goodbye and must survive unchanged (see
// ParseRecord). Callers building a record from scratch rather than off
// the wire pass GetTTLForRecordType(entry.Type) explicitly (BuildRecordSet
// uses protocol.TTLService/protocol.TTLHostname).
func NewPointerRecord(entry DNSEntry, target string, ttl uint32) *PointerRecord {
	return &PointerRecord{
		baseRecord: baseRecord{entry: entry, ttl: NewRecordTTL(entry.Type, ttl)},
		Target:     target,
	}
}

func (r *PointerRecord) WriteRData(enc *message.Encoder) error {
	return enc.WriteName(r.Target)
}

func (r *PointerRecord) SameRData(other Record) bool {
	o, ok := other.(*PointerRecord)
	if !ok {
		return false
	}
	return message.EqualNames(r.Target, o.Target)
}

func (r *PointerRecord) ResetTTL(other Record) { r.resetTTLFrom(other) }

func (r *PointerRecord) SuppressedBy(knownAnswers []Record) bool {
	return suppressedBy(r.entry, func(o Record) bool { return r.SameRData(o) }, r.ttl.TTL, knownAnswers)
}

func (r *PointerRecord) HandleQuery(incoming Record) bool {
	return handleConflict(r.entry, func(o Record) bool { return r.SameRData(o) }, incoming)
}

func (r *PointerRecord) HandleResponse(incoming Record) bool {
	return handleConflict(r.entry, func(o Record) bool { return r.SameRData(o) }, incoming)
}
