// Package telemetry provides the structured logging and lightweight
// counters used across the responder, per §4.K. It wraps log/slog —
// the structured logging library this corpus reaches for rather than
// a third-party logger (see DESIGN.md) — with per-component child
// loggers and a small named counter set for a cheap health check.
package telemetry

import (
	"log/slog"
	"sync"
)

// For returns a logger tagged with "component", so log lines from the
// dispatcher, scheduler, and transport are trivially filterable.
func For(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", component)
}

// Counters is a small named-counter set for host processes that want
// a cheap health check without wiring a full metrics stack.
type Counters struct {
	mu     sync.Mutex
	values map[string]uint64
}

// NewCounters returns an empty Counters set.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]uint64)}
}

// Add increments the named counter by delta.
func (c *Counters) Add(name string, delta uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] += delta
}

// Stats returns a snapshot of every counter recorded so far.
func (c *Counters) Stats() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Standard counter names shared across components, so Stats() output
// is stable regardless of which package incremented them.
const (
	CounterRecordsCached    = "records_cached"
	CounterConflictsSeen    = "conflicts_seen"
	CounterProbesSent       = "probes_sent"
	CounterGoodbyesSent     = "goodbyes_sent"
	CounterResponsesSent    = "responses_sent"
	CounterDatagramsDropped = "datagrams_dropped"
	CounterSocketRecoveries = "socket_recoveries"
)
