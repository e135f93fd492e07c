// Package mdns is the public service-discovery API: a Server wraps the
// dispatcher, scheduler, cache, and transport into Register/Unregister/
// browse/resolve operations, per §4.I. It is the collaborator named
// out-of-scope for the core wire protocol but required for a usable
// module — the core packages (state, scheduler, dispatcher, cache)
// never import this one.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/beacondns/mdns/internal/cache"
	"github.com/beacondns/mdns/internal/config"
	"github.com/beacondns/mdns/internal/dispatcher"
	"github.com/beacondns/mdns/internal/message"
	"github.com/beacondns/mdns/internal/protocol"
	"github.com/beacondns/mdns/internal/records"
	"github.com/beacondns/mdns/internal/scheduler"
	"github.com/beacondns/mdns/internal/state"
	"github.com/beacondns/mdns/internal/telemetry"
	"github.com/beacondns/mdns/internal/transport"
	"github.com/beacondns/mdns/internal/werrors"
)

// newDefaultTransport is a seam for tests, which substitute an
// in-memory transport rather than binding a real multicast socket.
var newDefaultTransport = func() (transport.Transport, error) {
	return transport.NewUDPv4Transport()
}

// registeredService tracks one call to Register: the info as last
// (possibly renamed) submitted, the records currently advertised for
// it, and the state machine driving its probe/announce/cancel
// lifecycle.
type registeredService struct {
	info    records.ServiceInfo
	recs    []records.Record
	machine *state.Machine
}

// Server is the running mDNS responder and resolver. The zero value is
// not usable; construct one with New.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	counters *telemetry.Counters

	cache      *cache.Cache
	dispatcher *dispatcher.Dispatcher
	transport  transport.Transport

	sched       *scheduler.Scheduler // probing, announcing, renewing, reaping, responding
	cancelSched *scheduler.Scheduler // dedicated wheel for goodbye Canceler jobs (liveness fix, §5/§9)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	services     map[string]*registeredService // keyed by canonical instance name
	ownersByName map[string]*registeredService // keyed by canonical record name, for conflict routing
	closed       bool
}

// New builds a Server from cfg (or config.New()'s defaults if cfg is
// nil), binds the multicast transport, and starts its background
// goroutines: the scheduler wheel, the goodbye wheel, and the receive
// loop.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		var err error
		cfg, err = config.New()
		if err != nil {
			return nil, err
		}
	}
	tr, err := newDefaultTransport()
	if err != nil {
		return nil, &werrors.NetworkError{Op: "mdns.New", Err: err}
	}
	return newServer(cfg, tr)
}

func newServer(cfg *config.Config, tr transport.Transport) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:          cfg,
		logger:       telemetry.For(cfg.Logger, "mdns"),
		counters:     telemetry.NewCounters(),
		cache:        cache.New(),
		transport:    tr,
		sched:        scheduler.New(),
		cancelSched:  scheduler.New(),
		services:     make(map[string]*registeredService),
		ownersByName: make(map[string]*registeredService),
		ctx:          ctx,
		cancel:       cancel,
	}
	s.dispatcher = dispatcher.New(s.cache, s.transport, s.sched, s.handleConflict, telemetry.For(cfg.Logger, "dispatcher"))

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.sched.Run(s.ctx) }()
	go func() { defer s.wg.Done(); s.cancelSched.Run(s.ctx) }()
	go func() { defer s.wg.Done(); s.receiveLoop() }()

	s.sched.Post(func() {
		scheduler.InstallReaper(s.sched, "reaper", func() {
			s.dispatcher.ReapExpired(time.Now())
		})
	})

	return s, nil
}

// currentTransport returns the transport in use right now. It's read
// under s.mu because recoverTransport swaps the field out from under
// the receive loop after a socket error.
func (s *Server) currentTransport() transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// receiveLoop is the single blocking receiver goroutine named in §5;
// it hands each frame to the dispatcher, which is safe to call
// concurrently with facade-driven calls (its own mutex covers the
// state the facade also touches). A *werrors.NetworkError is a socket
// failure rather than an ordinary malformed-datagram condition; it
// enters recovery (§7) instead of just being logged and skipped.
func (s *Server) receiveLoop() {
	for {
		frame, src, _, err := s.currentTransport().Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.counters.Add(telemetry.CounterDatagramsDropped, 1)
			var netErr *werrors.NetworkError
			if errors.As(err, &netErr) {
				s.logger.Error("socket error, entering recovery", "error", err)
				if !s.recoverTransport() {
					s.logger.Error("socket recovery failed, receive loop stopping")
					return
				}
				continue
			}
			s.logger.Warn("receive failed", "error", err)
			continue
		}
		s.dispatcher.Handle(s.ctx, frame, src)
	}
}

// recoverTransport implements the SocketError policy: every registered
// service is snapshotted and its scheduler jobs cancelled, the failed
// transport is closed and a new one bound (which rejoins the multicast
// group as a side effect of construction, per transport.NewUDPv4Transport),
// the dispatcher is repointed at it, and every snapshotted service is
// re-registered from scratch so it probes and announces again. Returns
// false only if the replacement transport itself could not be built.
func (s *Server) recoverTransport() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	snapshot := make([]registeredService, 0, len(s.services))
	for _, rs := range s.services {
		snapshot = append(snapshot, *rs)
	}
	s.services = make(map[string]*registeredService)
	s.ownersByName = make(map[string]*registeredService)
	oldTransport := s.transport
	s.mu.Unlock()

	for _, rs := range snapshot {
		name := rs.machine.Name()
		s.sched.Post(func() {
			s.sched.Cancel("probe:" + name)
			s.sched.Cancel("announce:" + name)
			for i := range renewalFractions {
				s.sched.Cancel(renewalKey(name, i))
			}
		})
		for _, r := range rs.recs {
			s.dispatcher.RemoveLocal(r)
		}
	}

	_ = oldTransport.Close()

	newTr, err := newDefaultTransport()
	if err != nil {
		s.logger.Error("failed to rebuild transport after socket error", "error", err)
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = newTr.Close()
		return false
	}
	s.transport = newTr
	s.mu.Unlock()

	s.dispatcher.SetSink(newTr)
	s.counters.Add(telemetry.CounterSocketRecoveries, 1)

	for _, rs := range snapshot {
		info := rs.info
		go func() {
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ProbeTimeout+2*time.Second)
			defer cancel()
			if err := s.Register(ctx, info); err != nil {
				s.logger.Error("failed to re-register service after socket recovery", "instance", info.InstanceName, "error", err)
			}
		}()
	}

	return true
}

// handleConflict is the dispatcher's ConflictFunc: it looks up which
// registered service owns entry.Name and, if any, reprobes it under
// an incremented name per §4.E.
func (s *Server) handleConflict(entry records.DNSEntry, incoming records.Record) {
	s.mu.Lock()
	rs, ok := s.ownersByName[message.CanonicalName(entry.Name)]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.counters.Add(telemetry.CounterConflictsSeen, 1)
	s.reprobe(rs)
}

// Close stops the receive loop and both scheduler wheels and closes
// the transport. It is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tr := s.transport
	s.mu.Unlock()

	s.cancel()
	err := tr.Close()
	s.sched.Stop()
	s.cancelSched.Stop()
	s.wg.Wait()
	return err
}

func multicastAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4), Port: protocol.Port}
}

func renewalKey(instanceName string, idx int) string {
	return fmt.Sprintf("renew:%s:%d", instanceName, idx)
}
