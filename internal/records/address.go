package records

import (
	"bytes"

	"github.com/beacondns/mdns/internal/message"
)

// AddressRecord is an A or AAAA record: rdata is the raw 4- or
// 16-byte address (§3, "Address").
type AddressRecord struct {
	baseRecord
	Addr []byte
}

// NewAddressRecord builds an AddressRecord with the given ttl, which
// is stored as-is: a wire-decoded 0 is a goodbye and must survive
// unchanged (see ParseRecord). Callers building a record from scratch
// rather than off the wire pass GetTTLForRecordType(entry.Type)
// explicitly (BuildRecordSet uses protocol.TTLService/protocol.TTLHostname).
func NewAddressRecord(entry DNSEntry, addr []byte, ttl uint32) *AddressRecord {
	return &AddressRecord{
		baseRecord: baseRecord{entry: entry, ttl: NewRecordTTL(entry.Type, ttl)},
		Addr:       append([]byte(nil), addr...),
	}
}

func (r *AddressRecord) WriteRData(enc *message.Encoder) error {
	enc.WriteBytes(r.Addr)
	return nil
}

func (r *AddressRecord) SameRData(other Record) bool {
	o, ok := other.(*AddressRecord)
	if !ok {
		return false
	}
	return bytes.Equal(r.Addr, o.Addr)
}

func (r *AddressRecord) ResetTTL(other Record) { r.resetTTLFrom(other) }

func (r *AddressRecord) SuppressedBy(knownAnswers []Record) bool {
	return suppressedBy(r.entry, func(o Record) bool { return r.SameRData(o) }, r.ttl.TTL, knownAnswers)
}

func (r *AddressRecord) HandleQuery(incoming Record) bool {
	return handleConflict(r.entry, func(o Record) bool { return r.SameRData(o) }, incoming)
}

func (r *AddressRecord) HandleResponse(incoming Record) bool {
	return handleConflict(r.entry, func(o Record) bool { return r.SameRData(o) }, incoming)
}
