package mdns

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/beacondns/mdns/internal/config"
	"github.com/beacondns/mdns/internal/message"
	"github.com/beacondns/mdns/internal/records"
	"github.com/beacondns/mdns/internal/transport"
	"github.com/beacondns/mdns/internal/werrors"
)

// fakeTransport is an in-memory Transport: Send fans a frame out to
// every other fakeTransport sharing the same bus, letting tests
// exercise Register/Unregister/browse without a real socket.
type fakeTransport struct {
	selfAddr net.Addr
	bus      *fakeBus
	inbox    chan frameEnvelope

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

type frameEnvelope struct {
	frame []byte
	src   net.Addr
}

type fakeBus struct {
	mu        sync.Mutex
	receivers []*fakeTransport
}

func newFakeBus() *fakeBus {
	return &fakeBus{}
}

func (b *fakeBus) join(addr net.Addr) *fakeTransport {
	t := &fakeTransport{
		selfAddr: addr,
		bus:      b,
		inbox:    make(chan frameEnvelope, 64),
		closeCh:  make(chan struct{}),
	}
	b.mu.Lock()
	b.receivers = append(b.receivers, t)
	b.mu.Unlock()
	return t
}

func (t *fakeTransport) Send(_ context.Context, frame []byte, _ net.Addr) error {
	t.bus.mu.Lock()
	targets := append([]*fakeTransport(nil), t.bus.receivers...)
	t.bus.mu.Unlock()

	cp := append([]byte(nil), frame...)
	for _, r := range targets {
		if r == t {
			continue
		}
		select {
		case r.inbox <- frameEnvelope{frame: cp, src: t.selfAddr}:
		default:
		}
	}
	return nil
}

func (t *fakeTransport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	select {
	case env := <-t.inbox:
		return env.frame, env.src, 0, nil
	case <-t.closeCh:
		return nil, nil, 0, context.Canceled
	case <-ctx.Done():
		return nil, nil, 0, ctx.Err()
	}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closeCh)
	return nil
}

var _ transport.Transport = (*fakeTransport)(nil)

func newTestServer(t *testing.T, hostname string) *Server {
	t.Helper()
	bus := newFakeBus()
	tr := bus.join(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5353})
	cfg, err := config.New(config.WithHostname(hostname), config.WithProbeTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("config.New() error = %v", err)
	}
	srv, err := newServer(cfg, tr)
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func testInfo(instance string) records.ServiceInfo {
	return records.ServiceInfo{
		InstanceName: instance,
		ServiceType:  "_http._tcp.local.",
		Hostname:     "host.local.",
		Port:         8080,
		IPv4Address:  []byte{10, 0, 0, 5},
		TXTRecords:   map[string]string{"path": "/"},
	}
}

func TestRegister_ReachesAnnounced(t *testing.T) {
	s := newTestServer(t, "host")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Register(ctx, testInfo("Printer")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	s.mu.Lock()
	rs, ok := s.services[message.CanonicalName("Printer")]
	s.mu.Unlock()
	if !ok {
		t.Fatal("service not tracked after Register")
	}
	if rs.machine.State().String() != "ANNOUNCED" {
		t.Errorf("state = %s, want ANNOUNCED", rs.machine.State())
	}
}

func TestRegister_RejectsReverseArpaServiceType(t *testing.T) {
	s := newTestServer(t, "host")
	info := testInfo("Printer")
	info.ServiceType = "1.0.0.10.in-addr.arpa."

	if err := s.Register(context.Background(), info); err == nil {
		t.Fatal("Register() succeeded for a reverse-DNS service type, want error")
	}
}

func TestUnregister_UnknownServiceErrors(t *testing.T) {
	s := newTestServer(t, "host")
	if err := s.Unregister(context.Background(), "nope"); err == nil {
		t.Fatal("Unregister() succeeded for an unregistered service, want error")
	}
}

func TestUnregister_SendsGoodbyeAndCancelsMachine(t *testing.T) {
	s := newTestServer(t, "host")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Register(ctx, testInfo("Printer")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := s.Unregister(ctx, "Printer"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}

	s.mu.Lock()
	_, stillTracked := s.services[message.CanonicalName("Printer")]
	s.mu.Unlock()
	if stillTracked {
		t.Error("service still tracked after Unregister")
	}
}

func TestList_DiscoversRegisteredServiceAcrossServers(t *testing.T) {
	bus := newFakeBus()

	trA := bus.join(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	cfgA, _ := config.New(config.WithHostname("hosta"))
	a, err := newServer(cfgA, trA)
	if err != nil {
		t.Fatalf("newServer(a) error = %v", err)
	}
	defer a.Close()

	trB := bus.join(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2})
	cfgB, _ := config.New(config.WithHostname("hostb"))
	b, err := newServer(cfgB, trB)
	if err != nil {
		t.Fatalf("newServer(b) error = %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Register(ctx, testInfo("Printer")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var found []records.ServiceInfo
	for time.Now().Before(deadline) {
		found = b.List("_http._tcp.local.")
		if len(found) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if len(found) != 1 {
		t.Fatalf("List() returned %d services, want 1", len(found))
	}
	if found[0].Port != 8080 {
		t.Errorf("Port = %d, want 8080", found[0].Port)
	}
}

// onceFailingTransport wraps a fakeTransport and, once armed via
// trigger, fails its next Receive with a *werrors.NetworkError instead
// of delivering the next frame — simulating a socket drop.
type onceFailingTransport struct {
	*fakeTransport
	trigger chan struct{}
	failed  bool
}

func (t *onceFailingTransport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	if !t.failed {
		select {
		case <-t.trigger:
			t.failed = true
			return nil, nil, 0, &werrors.NetworkError{Op: "receive", Err: errFakeSocketDrop}
		case env := <-t.inbox:
			return env.frame, env.src, 0, nil
		case <-t.closeCh:
			return nil, nil, 0, context.Canceled
		case <-ctx.Done():
			return nil, nil, 0, ctx.Err()
		}
	}
	return t.fakeTransport.Receive(ctx)
}

var errFakeSocketDrop = errors.New("simulated socket failure")

func TestReceiveLoop_RecoversFromSocketErrorAndReannounces(t *testing.T) {
	bus := newFakeBus()

	failing := &onceFailingTransport{
		fakeTransport: bus.join(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}),
		trigger:       make(chan struct{}),
	}
	rebuilt := bus.join(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 3})

	origNewDefaultTransport := newDefaultTransport
	newDefaultTransport = func() (transport.Transport, error) { return rebuilt, nil }
	defer func() { newDefaultTransport = origNewDefaultTransport }()

	cfg, _ := config.New(config.WithHostname("hosta"), config.WithProbeTimeout(2*time.Second))
	a, err := newServer(cfg, failing)
	if err != nil {
		t.Fatalf("newServer(a) error = %v", err)
	}
	defer a.Close()

	trB := bus.join(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2})
	cfgB, _ := config.New(config.WithHostname("hostb"))
	b, err := newServer(cfgB, trB)
	if err != nil {
		t.Fatalf("newServer(b) error = %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Register(ctx, testInfo("Printer")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	close(failing.trigger)

	deadline := time.Now().Add(5 * time.Second)
	var found []records.ServiceInfo
	for time.Now().Before(deadline) {
		found = b.List("_http._tcp.local.")
		if len(found) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if len(found) != 1 {
		t.Fatalf("List() after recovery returned %d services, want 1", len(found))
	}

	a.mu.Lock()
	tr := a.transport
	a.mu.Unlock()
	if tr != transport.Transport(rebuilt) {
		t.Errorf("Server.transport after recovery = %v, want the rebuilt transport", tr)
	}
}
