// Package state implements the per-host and per-service responder
// state machine: PROBING_1→PROBING_2→PROBING_3→ANNOUNCING_1→
// ANNOUNCING_2→ANNOUNCED→CANCELED, name-increment on conflict, and
// probe throttling, per §4.E.
package state

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beacondns/mdns/internal/werrors"
)

// ServiceState is a step in the responder lifecycle.
type ServiceState int

const (
	Probing1 ServiceState = iota
	Probing2
	Probing3
	Announcing1
	Announcing2
	Announced
	Canceled
)

func (s ServiceState) String() string {
	switch s {
	case Probing1:
		return "PROBING_1"
	case Probing2:
		return "PROBING_2"
	case Probing3:
		return "PROBING_3"
	case Announcing1:
		return "ANNOUNCING_1"
	case Announcing2:
		return "ANNOUNCING_2"
	case Announced:
		return "ANNOUNCED"
	case Canceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// IsProbing reports whether s is one of the three probing steps.
func (s ServiceState) IsProbing() bool { return s >= Probing1 && s <= Probing3 }

// IsTerminal reports whether s is a state that unblocks a waiting
// Register/Unregister caller (§5's suspension points).
func (s ServiceState) IsTerminal() bool { return s == Announced || s == Canceled }

var nameIncrementPattern = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// IncrementName applies the §4.E name-conflict renaming rule: a name
// already ending " (N)" becomes " (N+1)"; otherwise " (2)" is
// appended.
func IncrementName(name string) string {
	if m := nameIncrementPattern.FindStringSubmatch(name); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil {
			return m[1] + " (" + strconv.Itoa(n+1) + ")"
		}
	}
	return name + " (2)"
}

// throttleWindow and throttleLimit implement §4.E's probe rate limit:
// once 10 probes occur within a 1000ms window, the next probe is
// delayed to 5000ms; the window then resets.
const (
	throttleWindow = 1000 * time.Millisecond
	throttleLimit  = 10
	throttleDelay  = 5000 * time.Millisecond
)

// Throttle counts probes within a rolling window and reports the
// delay the next probe must observe.
type Throttle struct {
	windowStart time.Time
	count       int
}

// Record registers a probe attempt at now and returns the delay that
// probe must wait before firing.
func (t *Throttle) Record(now time.Time) time.Duration {
	if t.windowStart.IsZero() || now.Sub(t.windowStart) >= throttleWindow {
		t.windowStart = now
		t.count = 0
	}
	t.count++
	if t.count >= throttleLimit {
		return throttleDelay
	}
	return 0
}

// Machine is the state machine for one locally-owned host or service
// entity, identified by Name. It is not safe for concurrent use
// except through its own methods, which take an internal lock; only
// the scheduler goroutine is expected to drive it (§5).
type Machine struct {
	mu       sync.Mutex
	name     string
	state    ServiceState
	throttle Throttle
	waiters  []chan struct{}
}

// New starts a fresh machine at PROBING_1 for name.
func New(name string) *Machine {
	return &Machine{name: name, state: Probing1}
}

// Name returns the entity's current (possibly renamed) name.
func (m *Machine) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// State returns the current lifecycle state.
func (m *Machine) State() ServiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Throttle records a probe attempt and returns the delay it must
// observe, per §4.E's throttling rule.
func (m *Machine) Throttle(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throttle.Record(now)
}

// Advance moves the machine to the next state in sequence. Advancing
// past CANCELED, or advancing a CANCELED machine at all, is a
// programmer error: the sequence only ever moves forward or reverts
// one step on conflict (§3's Invariant).
func (m *Machine) Advance() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Canceled {
		return &werrors.IllegalUseError{Details: "Advance called on a CANCELED state machine"}
	}
	if m.state == Announced {
		return &werrors.IllegalUseError{Details: "Advance called past ANNOUNCED; use Cancel to terminate"}
	}
	m.state++
	if m.state.IsTerminal() {
		m.notifyLocked()
	}
	return nil
}

// Revert steps the machine back one state on a name conflict,
// clamped at PROBING_1, and applies the §4.E name-increment rule to
// the instance label: for a qualified service name only the part
// before the first "._" label changes ("printer._ipp._tcp.local."
// becomes "printer (2)._ipp._tcp.local."); a name with no such label
// is incremented whole. It returns the new state and the new name.
func (m *Machine) Revert() (ServiceState, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state > Probing1 {
		m.state--
	} else {
		m.state = Probing1
	}
	if i := strings.Index(m.name, "._"); i > 0 {
		m.name = IncrementName(m.name[:i]) + m.name[i:]
	} else {
		m.name = IncrementName(m.name)
	}
	return m.state, m.name
}

// Cancel transitions the machine directly to CANCELED and wakes any
// waiters. Calling Cancel on an already-CANCELED machine is a no-op,
// matching close()'s idempotency requirement in §5.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Canceled {
		return
	}
	m.state = Canceled
	m.notifyLocked()
}

func (m *Machine) notifyLocked() {
	for _, ch := range m.waiters {
		close(ch)
	}
	m.waiters = nil
}

// AwaitTerminal blocks until the machine reaches ANNOUNCED or
// CANCELED, or ctx is done, matching the suspension points named in
// §5 for Register/Unregister/GetServiceInfo.
func (m *Machine) AwaitTerminal(ctx context.Context) error {
	m.mu.Lock()
	if m.state.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return &werrors.TimeoutError{Op: "AwaitTerminal"}
	}
}
