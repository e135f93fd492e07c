// Package records implements the DNS record model: tagged rdata
// variants for A/AAAA/PTR/SRV/TXT, TTL-based expiry, equality, and the
// query/response conflict-detection hooks the responder state machine
// and dispatcher drive records through.
package records

import (
	"fmt"
	"strings"
	"time"

	"github.com/beacondns/mdns/internal/message"
	"github.com/beacondns/mdns/internal/protocol"
)

// DNSEntry is the identity of a record: name, type, class, and the
// unique/cache-flush bit. Equality is over (name-lowercased, type,
// class) per the data model's Invariants.
type DNSEntry struct {
	Name   string
	Type   protocol.RecordType
	Class  protocol.RecordClass
	Unique bool
}

// Key returns a comparable identity used by the cache and by the
// multicast rate limiter, folding name case per RFC 1035 §3.1.
func (e DNSEntry) Key() string {
	return fmt.Sprintf("%s|%d|%d", strings.ToLower(strings.TrimSuffix(e.Name, ".")), e.Type, e.Class)
}

// Equal reports whether two entries share the same identity.
func (e DNSEntry) Equal(o DNSEntry) bool {
	return message.EqualNames(e.Name, o.Name) && e.Type == o.Type && e.Class == o.Class
}

// RecordTTL tracks a record's time-to-live and the moment it was
// created or last refreshed, per §4.D's `created`/`ttl` fields.
type RecordTTL struct {
	RecordType protocol.RecordType
	TTL        uint32
	CreatedAt  time.Time
}

// NewRecordTTL builds a RecordTTL stamped with the current time.
func NewRecordTTL(typ protocol.RecordType, ttl uint32) RecordTTL {
	return RecordTTL{RecordType: typ, TTL: ttl, CreatedAt: time.Now()}
}

// GetRemainingTTL returns the seconds left before expiry, rounded up
// to a whole second and never negative.
func (r RecordTTL) GetRemainingTTL() uint32 {
	elapsed := time.Since(r.CreatedAt)
	total := time.Duration(r.TTL) * time.Second
	remaining := total - elapsed
	if remaining <= 0 {
		return 0
	}
	return uint32((remaining + time.Second - 1) / time.Second)
}

// IsExpired reports whether now is at or past created+ttl, per §3's
// invariant `isExpired(now) ⇔ now ≥ created + ttl·1000`.
func (r RecordTTL) IsExpired() bool {
	return !time.Now().Before(r.CreatedAt.Add(time.Duration(r.TTL) * time.Second))
}

// IsExpiredAt reports expiry relative to an explicit instant, letting
// the cache reaper (§4.D) and tests avoid a live time.Now() call.
func (r RecordTTL) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.CreatedAt.Add(time.Duration(r.TTL) * time.Second))
}

// GetTTLForRecordType returns the RFC 6762 §10 default TTL for a
// record type: 4500s for hostname records (A/AAAA), 120s for
// discovery records (PTR/SRV/TXT and anything else).
func GetTTLForRecordType(typ protocol.RecordType) uint32 {
	switch typ {
	case protocol.RecordTypeA, protocol.RecordTypeAAAA:
		return protocol.TTLHostname
	default:
		return protocol.TTLService
	}
}

// DNSQuestion is a DNSEntry that never expires — the question half of
// a browse or resolve request.
type DNSQuestion struct {
	DNSEntry
}

// AnsweredBy reports whether a record with the given identity answers
// this question (RFC 6762 §6: name+class match, type match or ANY).
func (q DNSQuestion) AnsweredBy(e DNSEntry) bool {
	if !message.EqualNames(q.Name, e.Name) || q.Class != e.Class {
		return false
	}
	return q.Type == e.Type || q.Type == protocol.RecordTypeANY
}
