package mdns

import (
	"context"
	"strings"
	"time"

	"github.com/beacondns/mdns/internal/message"
	"github.com/beacondns/mdns/internal/protocol"
	"github.com/beacondns/mdns/internal/records"
	"github.com/beacondns/mdns/internal/scheduler"
	"github.com/beacondns/mdns/internal/state"
	"github.com/beacondns/mdns/internal/telemetry"
	"github.com/beacondns/mdns/internal/werrors"
)

// renewalFractions are the RFC 6762 §5.2 cache-refresh points: an
// announced record is re-advertised at 80%, 85%, 90%, and 95% of its
// TTL, giving up to four chances for a query-suppressed refresh to
// land before the record would otherwise expire from peer caches.
var renewalFractions = []float64{0.80, 0.85, 0.90, 0.95}

// isReservedServiceType reports whether serviceType targets the
// reverse-DNS domain, which this responder is not authoritative for
// (§6: registrations against in-addr.arpa. are rejected).
func isReservedServiceType(serviceType string) bool {
	name := message.CanonicalName(serviceType)
	suffix := message.CanonicalName(protocol.ReverseArpaSuffix)
	return name == suffix || strings.HasSuffix(name, "."+suffix)
}

// Register advertises info: it builds the PTR/SRV/TXT/A record set,
// probes for name uniqueness, announces, and blocks until the service
// reaches ANNOUNCED or ctx is done (§4.I, §5). Registrations targeting
// a reverse-DNS domain are rejected outright rather than probed.
func (s *Server) Register(ctx context.Context, info records.ServiceInfo) error {
	if isReservedServiceType(info.ServiceType) {
		return &werrors.IllegalUseError{Details: "Register: refusing to advertise a reverse-DNS service type"}
	}
	if info.Hostname == "" {
		info.Hostname = s.cfg.Hostname
	}

	rs := &registeredService{
		info:    info,
		machine: state.New(info.InstanceName),
	}

	s.mu.Lock()
	s.services[message.CanonicalName(info.InstanceName)] = rs
	s.mu.Unlock()

	s.startProbing(rs)

	if err := rs.machine.AwaitTerminal(ctx); err != nil {
		return err
	}
	if rs.machine.State() == state.Canceled {
		return &werrors.ConflictError{Name: rs.machine.Name()}
	}
	return nil
}

func (s *Server) startProbing(rs *registeredService) {
	rs.recs = records.BuildRecordSet(&rs.info, s.cfg.BonjourStrict)

	// Register the candidate records (and the owner mapping) before
	// the first probe goes out: a conflicting response arriving during
	// PROBING_1/2/3 must still reach handleConflict, even though these
	// records aren't yet eligible to answer queries themselves (§8.1).
	s.mu.Lock()
	for _, r := range rs.recs {
		s.ownersByName[message.CanonicalName(r.Entry().Name)] = rs
	}
	s.mu.Unlock()
	for _, r := range rs.recs {
		s.dispatcher.AddProbing(r)
	}

	key := "probe:" + rs.machine.Name()
	s.sched.Post(func() {
		scheduler.InstallProber(s.sched, key, func(tick int, last bool) {
			s.sendProbeQuery(rs)
			if err := rs.machine.Advance(); err != nil {
				s.logger.Error("advance after probe failed", "error", err)
				return
			}
			if last {
				s.beginAnnouncing(rs)
			}
		})
	})
}

// sendProbeQuery sends one RFC 6762 §8.1 probe: a query for each
// distinct (name, type) in the proposed record set, carrying the
// proposed records themselves as authority-section tie-breaker data.
func (s *Server) sendProbeQuery(rs *registeredService) {
	enc := message.NewEncoder(0, 0, protocol.MaxMessageSize, true)

	seen := make(map[string]bool)
	for _, r := range rs.recs {
		e := r.Entry()
		qk := message.CanonicalName(e.Name) + "|" + e.Type.String()
		if seen[qk] {
			continue
		}
		seen[qk] = true
		if err := enc.AddQuestion(message.Question{Name: e.Name, Type: e.Type, Class: e.Class}); err != nil {
			s.logger.Warn("failed to encode probe question", "error", err)
			return
		}
	}
	for _, r := range rs.recs {
		if err := enc.AddAuthority(r); err != nil {
			s.logger.Warn("failed to encode probe authority record", "error", err)
			return
		}
	}

	if err := s.currentTransport().Send(s.ctx, enc.Finish(), multicastAddr()); err != nil {
		s.logger.Warn("failed to send probe", "error", err)
		return
	}
	s.counters.Add(telemetry.CounterProbesSent, 1)
}

// beginAnnouncing commits rs's records in the dispatcher's local set
// (making them eligible to answer queries for the first time) and
// installs the Announcer job. Each tick advances the state machine;
// the last tick reaches ANNOUNCED and starts the renewal schedule.
func (s *Server) beginAnnouncing(rs *registeredService) {
	for _, r := range rs.recs {
		s.dispatcher.Commit(r)
	}

	key := "announce:" + rs.machine.Name()
	s.sched.Post(func() {
		scheduler.InstallAnnouncer(s.sched, key, func(tick int, last bool) {
			s.dispatcher.AnnounceDefending(s.ctx, rs.recs)
			s.counters.Add(telemetry.CounterResponsesSent, 1)
			if err := rs.machine.Advance(); err != nil {
				s.logger.Error("advance after announce failed", "error", err)
				return
			}
			if last {
				s.startRenewing(rs)
			}
		})
	})
}

func (s *Server) startRenewing(rs *registeredService) {
	ttl := minTTL(rs.recs)
	s.scheduleRenewal(rs, ttl, 0)
}

func (s *Server) scheduleRenewal(rs *registeredService, ttlSeconds uint32, idx int) {
	if idx >= len(renewalFractions) {
		return
	}
	delay := fractionOfTTL(ttlSeconds, renewalFractions[idx])
	key := renewalKey(rs.machine.Name(), idx)
	s.sched.Post(func() {
		scheduler.InstallRenewer(s.sched, key, delay, func() {
			if rs.machine.State() == state.Canceled {
				return
			}
			s.dispatcher.Announce(s.ctx, rs.recs)
			s.counters.Add(telemetry.CounterResponsesSent, 1)
			s.scheduleRenewal(rs, ttlSeconds, idx+1)
		})
	})
}

// reprobe handles a detected name conflict (§4.E): cancel this
// service's announce/renewal jobs, revert its state machine (applying
// the name-increment rule), rebuild its record set under the new
// name, and restart probing.
func (s *Server) reprobe(rs *registeredService) {
	oldName := rs.machine.Name()
	s.sched.Post(func() {
		s.sched.Cancel("announce:" + oldName)
		for i := range renewalFractions {
			s.sched.Cancel(renewalKey(oldName, i))
		}
	})

	newState, newName := rs.machine.Revert()

	s.mu.Lock()
	for _, r := range rs.recs {
		delete(s.ownersByName, message.CanonicalName(r.Entry().Name))
	}
	s.mu.Unlock()
	for _, r := range rs.recs {
		s.dispatcher.RemoveLocal(r)
	}

	if newState == state.Canceled {
		return
	}

	rs.info.InstanceName = newName
	s.startProbing(rs)
}

// Unregister sends a goodbye (TTL 0) for the named service via a
// dedicated Canceler wheel and blocks until it has been sent, per
// §4.F/§5's separate-wheel liveness fix.
func (s *Server) Unregister(ctx context.Context, instanceName string) error {
	key := message.CanonicalName(instanceName)

	s.mu.Lock()
	rs, ok := s.services[key]
	s.mu.Unlock()
	if !ok {
		return &werrors.IllegalUseError{Details: "Unregister: no such service " + instanceName}
	}

	name := rs.machine.Name()
	s.sched.Post(func() {
		s.sched.Cancel("probe:" + name)
		s.sched.Cancel("announce:" + name)
		for i := range renewalFractions {
			s.sched.Cancel(renewalKey(name, i))
		}
	})

	goodbye := goodbyeRecords(rs.recs)
	ckey := "goodbye:" + name
	done := make(chan struct{})
	s.cancelSched.Post(func() {
		scheduler.InstallCanceler(s.cancelSched, ckey, func(tick int, last bool) {
			s.dispatcher.Announce(s.ctx, goodbye)
			s.counters.Add(telemetry.CounterGoodbyesSent, 1)
			if !last {
				return
			}
			for _, r := range rs.recs {
				s.dispatcher.RemoveLocal(r)
			}
			s.mu.Lock()
			delete(s.services, key)
			for _, r := range rs.recs {
				delete(s.ownersByName, message.CanonicalName(r.Entry().Name))
			}
			s.mu.Unlock()
			rs.machine.Cancel()
			close(done)
		})
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return &werrors.TimeoutError{Op: "Unregister"}
	}
}

// UnregisterAll sends a goodbye for every currently registered
// service, waiting for each to complete.
func (s *Server) UnregisterAll(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.services))
	for _, rs := range s.services {
		names = append(names, rs.info.InstanceName)
	}
	s.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := s.Unregister(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// goodbyeRecord decorates a records.Record so it reports a TTL of
// zero on the wire while leaving the underlying record (still owned
// by the registry until the Canceler's last tick) untouched.
type goodbyeRecord struct {
	records.Record
}

func (g goodbyeRecord) RRTTL() uint32 { return protocol.TTLGoodbye }

func goodbyeRecords(recs []records.Record) []records.Record {
	out := make([]records.Record, len(recs))
	for i, r := range recs {
		out[i] = goodbyeRecord{Record: r}
	}
	return out
}

func minTTL(recs []records.Record) uint32 {
	var min uint32
	for _, r := range recs {
		ttl := r.TTL().TTL
		if min == 0 || ttl < min {
			min = ttl
		}
	}
	if min == 0 {
		min = protocol.TTLService
	}
	return min
}

func fractionOfTTL(ttlSeconds uint32, fraction float64) time.Duration {
	return time.Duration(float64(ttlSeconds)*fraction) * time.Second
}
