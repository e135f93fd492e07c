package records

import (
	"sync"
	"time"
)

// multicastRateLimit is the RFC 6762 §6.2 minimum spacing between two
// multicasts of the same record on the same interface.
const multicastRateLimit = 1 * time.Second

// probeDefenseRateLimit is the shortened spacing permitted when
// defending a name against a probe conflict (RFC 6762 §6.2).
const probeDefenseRateLimit = 250 * time.Millisecond

// RecordSet tracks, per (record identity, interface), the last time a
// record was multicast, enforcing RFC 6762 §6.2's flood-prevention
// rate limit independently per interface and per record.
type RecordSet struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewRecordSet returns an empty rate-limit tracker.
func NewRecordSet() *RecordSet {
	return &RecordSet{last: make(map[string]time.Time)}
}

func rateLimitKey(r Record, interfaceID string) string {
	return r.Entry().Key() + "@" + interfaceID
}

// CanMulticast reports whether r may be multicast on interfaceID now,
// under the standard one-second rate limit.
func (rs *RecordSet) CanMulticast(r Record, interfaceID string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	last, ok := rs.last[rateLimitKey(r, interfaceID)]
	if !ok {
		return true
	}
	return time.Since(last) >= multicastRateLimit
}

// CanMulticastProbeDefense reports whether r may be multicast on
// interfaceID now, under the shortened 250ms probe-defense rate limit
// (RFC 6762 §6.2's exception for defending a name).
func (rs *RecordSet) CanMulticastProbeDefense(r Record, interfaceID string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	last, ok := rs.last[rateLimitKey(r, interfaceID)]
	if !ok {
		return true
	}
	return time.Since(last) >= probeDefenseRateLimit
}

// RecordMulticast records that r was just multicast on interfaceID.
func (rs *RecordSet) RecordMulticast(r Record, interfaceID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.last[rateLimitKey(r, interfaceID)] = time.Now()
}
