package mdns

import (
	"context"
	"strings"
	"time"

	"github.com/beacondns/mdns/internal/dispatcher"
	"github.com/beacondns/mdns/internal/message"
	"github.com/beacondns/mdns/internal/protocol"
	"github.com/beacondns/mdns/internal/records"
	"github.com/beacondns/mdns/internal/scheduler"
	"github.com/beacondns/mdns/internal/werrors"
)

// listGrace is the wait §5 imposes on the first browse of a type, so
// List doesn't race a query it has only just sent.
const listGrace = 200 * time.Millisecond

// AddServiceTypeListener subscribes notify to every service type
// discovered via the DNS-SD aggregation PTR (RFC 6763 §9), sending an
// initial browse query for it.
func (s *Server) AddServiceTypeListener(notify func(serviceType string, added bool)) *dispatcher.Listener {
	q := records.DNSQuestion{DNSEntry: records.DNSEntry{
		Name: protocol.ReservedServiceEnumDomain, Type: protocol.RecordTypePTR, Class: protocol.ClassIN,
	}}
	l := s.dispatcher.AddListener(q, func(e dispatcher.Event) {
		ptr, ok := e.Record.(*records.PointerRecord)
		if !ok {
			return
		}
		notify(ptr.Target, e.Kind == dispatcher.EventAdded)
	})
	s.sendBrowseQuery(q.DNSEntry, nil)
	return l
}

// AddServiceListener subscribes notify to every instance of
// serviceType discovered or lost, resolving each into a ServiceInfo
// before delivering it.
func (s *Server) AddServiceListener(serviceType string, notify func(records.ServiceInfo, bool)) *dispatcher.Listener {
	q := records.DNSQuestion{DNSEntry: records.DNSEntry{
		Name: serviceType, Type: protocol.RecordTypePTR, Class: protocol.ClassIN,
	}}
	l := s.dispatcher.AddListener(q, func(e dispatcher.Event) {
		ptr, ok := e.Record.(*records.PointerRecord)
		if !ok {
			return
		}
		info := s.lookupServiceInfo(ptr.Target, serviceType)
		if info == nil {
			return
		}
		notify(*info, e.Kind == dispatcher.EventAdded)
	})
	s.sendBrowseQuery(q.DNSEntry, nil)
	return l
}

// RemoveListener cancels a subscription installed by AddServiceListener
// or AddServiceTypeListener.
func (s *Server) RemoveListener(l *dispatcher.Listener) {
	s.dispatcher.RemoveListener(l)
}

// List returns every ServiceInfo currently cached for serviceType,
// waiting up to listGrace on first browse so a query just sent has a
// chance to come back before an empty result is returned.
func (s *Server) List(serviceType string) []records.ServiceInfo {
	instances := s.cache.GetByName(serviceType)
	if len(instances) == 0 {
		s.sendBrowseQuery(records.DNSEntry{Name: serviceType, Type: protocol.RecordTypePTR, Class: protocol.ClassIN}, nil)
		time.Sleep(listGrace)
		instances = s.cache.GetByName(serviceType)
	}

	var out []records.ServiceInfo
	for _, r := range instances {
		ptr, ok := r.(*records.PointerRecord)
		if !ok {
			continue
		}
		if info := s.lookupServiceInfo(ptr.Target, serviceType); info != nil {
			out = append(out, *info)
		}
	}
	return out
}

// GetServiceInfo resolves a single named instance, returning
// immediately if it is already cached and otherwise sending resolver
// queries with a doubling backoff until it arrives or timeout elapses
// (a timeout of 0 or less falls back to the configured probe
// timeout, 3000ms by default).
func (s *Server) GetServiceInfo(ctx context.Context, serviceType, instanceName string, timeout time.Duration) (*records.ServiceInfo, error) {
	if timeout <= 0 {
		timeout = s.cfg.ProbeTimeout
	}
	qualified := instanceName + "." + serviceType

	if info := s.lookupServiceInfo(qualified, serviceType); info != nil {
		return info, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan *records.ServiceInfo, 1)
	q := records.DNSQuestion{DNSEntry: records.DNSEntry{Name: qualified, Type: protocol.RecordTypeSRV, Class: protocol.ClassIN}}
	l := s.dispatcher.AddListener(q, func(e dispatcher.Event) {
		if e.Kind != dispatcher.EventAdded {
			return
		}
		if info := s.lookupServiceInfo(qualified, serviceType); info != nil {
			select {
			case result <- info:
			default:
			}
		}
	})
	defer s.dispatcher.RemoveListener(l)

	key := "resolve:" + message.CanonicalName(qualified)
	backoff := scheduler.NewBackoff(scheduler.ResolverInitialBackoff, scheduler.ResolverMaxBackoff)
	s.sched.Post(func() {
		scheduler.InstallResolver(s.sched, key, 0, backoff, func() {
			s.sendBrowseQuery(q.DNSEntry, nil)
		})
	})
	defer s.sched.Post(func() { s.sched.Cancel(key) })

	select {
	case info := <-result:
		return info, nil
	case <-ctx.Done():
		return nil, &werrors.TimeoutError{Op: "GetServiceInfo"}
	}
}

// sendBrowseQuery sends a single question with any already-cached
// answers attached as known-answers, per RFC 6762 §5.1's known-answer
// suppression for the querier's own repeated queries.
func (s *Server) sendBrowseQuery(e records.DNSEntry, extraKnown []records.Record) {
	enc := message.NewEncoder(0, 0, protocol.MaxMessageSize, true)
	if err := enc.AddQuestion(message.Question{Name: e.Name, Type: e.Type, Class: e.Class}); err != nil {
		s.logger.Warn("failed to encode browse question", "error", err)
		return
	}
	for _, r := range s.cache.GetByName(e.Name) {
		if err := enc.AddAnswer(r); err != nil {
			break
		}
	}
	for _, r := range extraKnown {
		if err := enc.AddAnswer(r); err != nil {
			break
		}
	}
	if err := s.currentTransport().Send(s.ctx, enc.Finish(), multicastAddr()); err != nil {
		s.logger.Warn("failed to send browse query", "error", err)
	}
}

// lookupServiceInfo assembles a ServiceInfo for qualified purely from
// cache contents: the SRV record for target/port, the TXT record for
// metadata, and the A record for the SRV target's address. Returns nil
// if the SRV record isn't cached yet.
func (s *Server) lookupServiceInfo(qualified, serviceType string) *records.ServiceInfo {
	var srv *records.ServiceRecord
	var txt *records.TextRecord
	for _, r := range s.cache.GetByName(qualified) {
		switch v := r.(type) {
		case *records.ServiceRecord:
			srv = v
		case *records.TextRecord:
			txt = v
		}
	}
	if srv == nil {
		return nil
	}

	var addr []byte
	for _, r := range s.cache.GetByName(srv.Target) {
		if a, ok := r.(*records.AddressRecord); ok {
			addr = a.Addr
			break
		}
	}

	instanceName := strings.TrimSuffix(message.CanonicalName(qualified), "."+message.CanonicalName(serviceType))

	info := &records.ServiceInfo{
		InstanceName: instanceName,
		ServiceType:  serviceType,
		Hostname:     srv.Target,
		Port:         srv.Port,
		Priority:     srv.Priority,
		Weight:       srv.Weight,
		IPv4Address:  addr,
	}
	if txt != nil {
		if kv, err := txt.AsMap(); err == nil {
			info.TXTRecords = kv
		}
	}
	return info
}
