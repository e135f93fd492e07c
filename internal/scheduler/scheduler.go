// Package scheduler implements the single timer-wheel task runner
// that drives all periodic responder work: probing, announcing,
// renewing, reaping, responding, and resolving, per §4.F.
//
// The job table has no lock: jobs are installed and cancelled only on
// the scheduler goroutine, and the receiver goroutine and the public
// facade hand that work over by posting closures onto the scheduler's
// inbox. The rest of the mutable responder state (cache, local
// records, listeners, the facade's service registry) is guarded by
// mutexes of its own.
package scheduler

import (
	"container/heap"
	"context"
	"time"
)

// Job is one entry in the timer wheel: a function fired at NextFire,
// optionally repeating every Period until RemainingTicks total
// firings (including this one) have occurred. RemainingTicks < 0
// means unbounded, used by the Reaper; resolvers instead run as
// one-shot jobs that reschedule themselves.
type Job struct {
	Key            string
	NextFire       time.Time
	Period         time.Duration
	RemainingTicks int
	Fn             func()

	index int // heap bookkeeping
}

// jobHeap is a min-heap of *Job ordered by NextFire, giving the
// scheduler O(log n) access to the next thing to run.
type jobHeap []*Job

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].NextFire.Before(h[j].NextFire) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *jobHeap) Push(x interface{}) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// Scheduler runs one goroutine that fires due Jobs and drains a
// message inbox, giving every change to the job table a single
// serialization point.
type Scheduler struct {
	heap   jobHeap
	byKey  map[string]*Job
	inbox  chan func()
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Scheduler that is not yet running; call Run to start
// its goroutine.
func New() *Scheduler {
	return &Scheduler{
		byKey: make(map[string]*Job),
		inbox: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Post enqueues fn to run on the scheduler goroutine, the way callers
// on other goroutines (the receiver loop, the public facade) install
// or cancel jobs, since the job table has no lock.
func (s *Scheduler) Post(fn func()) {
	s.inbox <- fn
}

// Schedule installs a job under key, replacing (canceling) any
// previous job under the same key — the "currentTask" slot semantics
// of §4.F. It must be called from the scheduler goroutine (i.e. from
// within a Post'd closure or another Job's Fn) except during startup.
func (s *Scheduler) Schedule(key string, delay, period time.Duration, ticks int, fn func()) {
	s.cancelLocked(key)
	j := &Job{
		Key:            key,
		NextFire:       time.Now().Add(delay),
		Period:         period,
		RemainingTicks: ticks,
		Fn:             fn,
	}
	s.byKey[key] = j
	heap.Push(&s.heap, j)
}

// Cancel removes the job installed under key, if any. Safe to call
// even if no job exists.
func (s *Scheduler) Cancel(key string) {
	s.cancelLocked(key)
}

func (s *Scheduler) cancelLocked(key string) {
	old, ok := s.byKey[key]
	if !ok {
		return
	}
	delete(s.byKey, key)
	if old.index >= 0 {
		heap.Remove(&s.heap, old.index)
	}
}

// Run drives the timer loop until ctx is done. It is the scheduler
// goroutine: Job callbacks and Post'd closures both execute here,
// never concurrently with each other.
func (s *Scheduler) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer close(s.done)

	for {
		var timerC <-chan time.Time
		var timer *time.Timer

		if len(s.heap) > 0 {
			delay := time.Until(s.heap[0].NextFire)
			if delay < 0 {
				delay = 0
			}
			timer = time.NewTimer(delay)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case fn := <-s.inbox:
			if timer != nil {
				timer.Stop()
			}
			fn()

		case <-timerC:
			s.fireDue()
		}
	}
}

// fireDue runs every job whose NextFire has arrived, then reschedules
// or retires it.
func (s *Scheduler) fireDue() {
	now := time.Now()
	for len(s.heap) > 0 && !s.heap[0].NextFire.After(now) {
		j := heap.Pop(&s.heap).(*Job)
		delete(s.byKey, j.Key)

		fn := j.Fn
		fn()

		if j.Period > 0 && j.RemainingTicks != 0 {
			if j.RemainingTicks > 0 {
				j.RemainingTicks--
			}
			if j.RemainingTicks != 0 {
				j.NextFire = now.Add(j.Period)
				s.byKey[j.Key] = j
				heap.Push(&s.heap, j)
			}
		}
	}
}

// Stop cancels the running scheduler and waits for its goroutine to
// exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Pending reports whether a job is currently installed under key,
// mainly for tests.
func (s *Scheduler) Pending(key string) bool {
	_, ok := s.byKey[key]
	return ok
}
