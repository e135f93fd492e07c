package records

import (
	"github.com/beacondns/mdns/internal/message"
	"github.com/beacondns/mdns/internal/protocol"
)

// Record is implemented by every concrete rdata variant
// (AddressRecord, PointerRecord, ServiceRecord, TextRecord). It
// satisfies message.RecordWriter so any Record can be handed directly
// to an Encoder, and adds the cache/conflict hooks from §4.B.
type Record interface {
	message.RecordWriter

	Entry() DNSEntry
	TTL() RecordTTL

	// SameRData reports whether other carries identical rdata to this
	// record (same type and same payload).
	SameRData(other Record) bool

	// IsExpired reports whether the record's TTL has elapsed.
	IsExpired() bool

	// ResetTTL copies created/ttl from other onto this record, used
	// when an arriving record refreshes an existing cache entry with
	// identical rdata.
	ResetTTL(other Record)

	// SuppressedBy reports whether any of knownAnswers already
	// advertises this record with a TTL at least half the local TTL
	// (RFC 6762 §7.1 known-answer suppression).
	SuppressedBy(knownAnswers []Record) bool

	// HandleQuery detects a conflict between this locally-owned record
	// and an incoming known-answer claiming the same identity: true if
	// incoming is unique and its rdata differs from ours.
	HandleQuery(incoming Record) bool

	// HandleResponse detects a conflict between this locally-owned
	// record and an incoming response record claiming the same
	// identity: true if incoming is unique and its rdata differs from
	// ours.
	HandleResponse(incoming Record) bool
}

// baseRecord factors the identity/TTL bookkeeping and the two conflict
// hooks shared by every concrete variant. Concrete types embed it and
// supply WriteRData/SameRData.
type baseRecord struct {
	entry DNSEntry
	ttl   RecordTTL
}

func (b *baseRecord) Entry() DNSEntry { return b.entry }
func (b *baseRecord) TTL() RecordTTL  { return b.ttl }

func (b *baseRecord) RRName() string                { return b.entry.Name }
func (b *baseRecord) RRType() protocol.RecordType   { return b.entry.Type }
func (b *baseRecord) RRClass() protocol.RecordClass { return b.entry.Class }
func (b *baseRecord) RRCacheFlush() bool            { return b.entry.Unique }
func (b *baseRecord) RRTTL() uint32                 { return b.ttl.TTL }

func (b *baseRecord) IsExpired() bool { return b.ttl.IsExpired() }

func (b *baseRecord) resetTTLFrom(other Record) {
	b.ttl.CreatedAt = other.TTL().CreatedAt
	b.ttl.TTL = other.TTL().TTL
}

func suppressedBy(entry DNSEntry, sameRData func(Record) bool, localTTL uint32, knownAnswers []Record) bool {
	for _, ka := range knownAnswers {
		if !entry.Equal(ka.Entry()) {
			continue
		}
		if !sameRData(ka) {
			continue
		}
		if ka.RRTTL()*2 >= localTTL {
			return true
		}
	}
	return false
}

func handleConflict(entry DNSEntry, sameRData func(Record) bool, incoming Record) bool {
	if !entry.Equal(incoming.Entry()) {
		return false
	}
	if !incoming.Entry().Unique {
		return false
	}
	return !sameRData(incoming)
}
