package scheduler

import (
	"math/rand"
	"time"
)

// Timing constants for the job table in §4.F. Each Install* helper
// below wires one row of that table onto a Scheduler; the caller
// supplies the actual work (building and sending a frame, advancing a
// state.Machine) as a callback, keeping this package free of any
// dependency on the record/state model.
const (
	ProberJitterMax        = 250 * time.Millisecond
	ProberPeriod           = 250 * time.Millisecond
	ProberTicks            = 3
	AnnouncerDelay         = 1000 * time.Millisecond
	AnnouncerPeriod        = 250 * time.Millisecond
	AnnouncerTicks         = 2
	ReaperPeriod           = 10000 * time.Millisecond
	ResponderDelayMin      = 20 * time.Millisecond
	ResponderDelayMax      = 120 * time.Millisecond
	ResolverInitialBackoff = 225 * time.Millisecond
	ResolverMaxBackoff     = 20000 * time.Millisecond
	CancelerPeriod         = 125 * time.Millisecond
	CancelerTicks          = 3
)

// jitter returns a pseudo-random duration in [0, max).
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// onTickFn is called once per firing of a ticked job. tick is the
// 0-based firing index; last reports whether this is the final tick,
// the point at which the caller should install the next stage's job
// (e.g. an Announcer after the Prober's last tick).
type onTickFn func(tick int, last bool)

func ticked(totalTicks int, fn onTickFn) func() {
	tick := 0
	return func() {
		fn(tick, tick == totalTicks-1)
		tick++
	}
}

// InstallProber schedules the three probe ticks of §4.F's Prober job:
// a random 0-250ms initial delay, then every 250ms for 3 ticks.
func InstallProber(s *Scheduler, key string, onTick onTickFn) {
	s.Schedule(key, jitter(ProberJitterMax), ProberPeriod, ProberTicks, ticked(ProberTicks, onTick))
}

// InstallAnnouncer schedules §4.F's Announcer job: fires 1000ms after
// installation, then every 250ms for 2 ticks.
func InstallAnnouncer(s *Scheduler, key string, onTick onTickFn) {
	s.Schedule(key, AnnouncerDelay, AnnouncerPeriod, AnnouncerTicks, ticked(AnnouncerTicks, onTick))
}

// InstallRenewer schedules a single renewal firing at delay; the
// caller re-installs InstallRenewer for the next renewal point after
// computing the next TTL-fraction delay, matching Renewer's "up to 4
// re-announcements" being driven by TTL math external to the
// scheduler.
func InstallRenewer(s *Scheduler, key string, delay time.Duration, onFire func()) {
	s.Schedule(key, delay, 0, 0, onFire)
}

// InstallReaper schedules §4.F's Reaper job: fires every 10 seconds
// starting 10 seconds from installation, indefinitely.
func InstallReaper(s *Scheduler, key string, onFire func()) {
	s.Schedule(key, ReaperPeriod, ReaperPeriod, -1, onFire)
}

// InstallResponder schedules a one-shot Responder job at a random
// 20-120ms delay, per §4.F ("delay reduces collisions").
func InstallResponder(s *Scheduler, key string, onFire func()) {
	delay := ResponderDelayMin + jitter(ResponderDelayMax-ResponderDelayMin)
	s.Schedule(key, delay, 0, 0, onFire)
}

// InstallCanceler schedules §4.F's Canceler job: fires immediately,
// then every 125ms for 3 ticks. The caller is expected to run this on
// a Scheduler instance dedicated to cancellation, per the
// separate-wheel liveness fix documented in §5/§9.
func InstallCanceler(s *Scheduler, key string, onTick onTickFn) {
	s.Schedule(key, 0, CancelerPeriod, CancelerTicks, ticked(CancelerTicks, onTick))
}

// Backoff implements the doubling-to-a-ceiling retransmission schedule
// shared by TypeResolver, ServiceResolver, and ServiceInfoResolver.
type Backoff struct {
	current time.Duration
	max     time.Duration
}

// NewBackoff starts a backoff sequence at initial, capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{current: initial, max: max}
}

// Next returns the current delay and doubles it (capped at max) for
// the following call.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// InstallResolver installs a self-rescheduling resolver job: onFire is
// called once at initialDelay, then the job reschedules itself using
// backoff.Next() until the caller cancels the key (e.g. once
// ServiceInfoResolver has gathered enough data).
func InstallResolver(s *Scheduler, key string, initialDelay time.Duration, backoff *Backoff, onFire func()) {
	var reschedule func()
	reschedule = func() {
		s.Schedule(key, backoff.Next(), 0, 0, func() {
			onFire()
			reschedule()
		})
	}
	s.Schedule(key, initialDelay, 0, 0, func() {
		onFire()
		reschedule()
	})
}
