package state

import (
	"context"
	"testing"
	"time"
)

func TestIncrementName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"printer", "printer (2)"},
		{"printer (2)", "printer (3)"},
		{"printer (9)", "printer (10)"},
		{"printer._ipp._tcp.local.", "printer._ipp._tcp.local. (2)"},
	}
	for _, tt := range tests {
		if got := IncrementName(tt.in); got != tt.want {
			t.Errorf("IncrementName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestMachine_AdvanceSequence is invariant 4: the sequence of states
// observed after a successful register is a prefix of (PROBING_1,
// PROBING_2, PROBING_3, ANNOUNCING_1, ANNOUNCING_2, ANNOUNCED).
func TestMachine_AdvanceSequence(t *testing.T) {
	m := New("printer._ipp._tcp.local.")

	want := []ServiceState{Probing1, Probing2, Probing3, Announcing1, Announcing2, Announced}
	if m.State() != want[0] {
		t.Fatalf("initial state = %v, want %v", m.State(), want[0])
	}

	for i := 1; i < len(want); i++ {
		if err := m.Advance(); err != nil {
			t.Fatalf("Advance() at step %d: %v", i, err)
		}
		if m.State() != want[i] {
			t.Fatalf("state after Advance() #%d = %v, want %v", i, m.State(), want[i])
		}
	}
}

func TestMachine_AdvancePastAnnounced_IsIllegal(t *testing.T) {
	m := New("host.local.")
	for m.State() != Announced {
		if err := m.Advance(); err != nil {
			t.Fatalf("Advance(): %v", err)
		}
	}
	if err := m.Advance(); err == nil {
		t.Fatal("expected error advancing past ANNOUNCED")
	}
}

func TestMachine_AdvanceAfterCanceled_IsIllegal(t *testing.T) {
	m := New("host.local.")
	m.Cancel()
	if err := m.Advance(); err == nil {
		t.Fatal("expected error advancing a CANCELED machine")
	}
}

// TestMachine_ProbeConflictRevert is scenario S3: a conflict detected
// while probing reverts state to PROBING_1 and renames the entity.
func TestMachine_ProbeConflictRevert(t *testing.T) {
	m := New("printer._ipp._tcp.local.")
	if err := m.Advance(); err != nil { // -> PROBING_2
		t.Fatalf("Advance(): %v", err)
	}

	newState, newName := m.Revert()
	if newState != Probing1 {
		t.Errorf("state after Revert() = %v, want PROBING_1", newState)
	}
	if newName != "printer (2)._ipp._tcp.local." {
		t.Errorf("name after Revert() = %q, want %q", newName, "printer (2)._ipp._tcp.local.")
	}
}

func TestMachine_RevertAtProbing1_StaysClamped(t *testing.T) {
	m := New("printer._ipp._tcp.local.")
	newState, _ := m.Revert()
	if newState != Probing1 {
		t.Errorf("state = %v, want PROBING_1 (clamped)", newState)
	}
}

func TestMachine_CancelIsIdempotent(t *testing.T) {
	m := New("host.local.")
	m.Cancel()
	m.Cancel() // must not panic or block
	if m.State() != Canceled {
		t.Errorf("state = %v, want CANCELED", m.State())
	}
}

func TestMachine_AwaitTerminal_UnblocksOnAnnounced(t *testing.T) {
	m := New("host.local.")
	done := make(chan error, 1)
	go func() {
		done <- m.AwaitTerminal(context.Background())
	}()

	for m.State() != Announced {
		if err := m.Advance(); err != nil {
			t.Fatalf("Advance(): %v", err)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("AwaitTerminal() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitTerminal did not unblock after reaching ANNOUNCED")
	}
}

func TestMachine_AwaitTerminal_TimesOut(t *testing.T) {
	m := New("host.local.")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := m.AwaitTerminal(ctx); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestThrottle_DelaysAfterTenProbesInWindow(t *testing.T) {
	var th Throttle
	base := time.Now()

	for i := 0; i < throttleLimit-1; i++ {
		if delay := th.Record(base); delay != 0 {
			t.Fatalf("probe %d: delay = %v, want 0", i, delay)
		}
	}

	if delay := th.Record(base); delay != throttleDelay {
		t.Errorf("10th probe delay = %v, want %v", delay, throttleDelay)
	}
}

func TestThrottle_WindowResets(t *testing.T) {
	var th Throttle
	base := time.Now()

	for i := 0; i < throttleLimit; i++ {
		th.Record(base)
	}

	afterWindow := base.Add(throttleWindow + time.Millisecond)
	if delay := th.Record(afterWindow); delay != 0 {
		t.Errorf("delay after window reset = %v, want 0", delay)
	}
}
