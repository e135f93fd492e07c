// Package dispatcher implements the single ingestion path for
// decoded mDNS frames: cache maintenance and conflict detection for
// responses, and known-answer-suppressed response construction for
// queries, per §4.G.
package dispatcher

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/beacondns/mdns/internal/cache"
	"github.com/beacondns/mdns/internal/message"
	"github.com/beacondns/mdns/internal/protocol"
	"github.com/beacondns/mdns/internal/records"
	"github.com/beacondns/mdns/internal/scheduler"
	"github.com/beacondns/mdns/internal/werrors"
)

// FrameSink is the send half of the transport the dispatcher needs;
// satisfied by transport.UDPv4Transport.
type FrameSink interface {
	Send(ctx context.Context, frame []byte, dest net.Addr) error
}

// EventKind distinguishes the two listener notifications.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
)

// Event is delivered to a Listener whose Question is answered by
// Record.
type Event struct {
	Kind   EventKind
	Record records.Record
}

// Listener is a live subscription installed with AddListener. Notify
// is invoked inline on whichever goroutine calls Handle or Reap —
// per §5, listener implementations must not block.
type Listener struct {
	Question records.DNSQuestion
	Notify   func(Event)
}

// ConflictFunc is invoked when an incoming record claims authority
// over an entry this process owns locally, per §4.E/§7's NameConflict
// policy. The caller (the public facade) is expected to look up the
// owning state.Machine by entry.Name and call Revert.
type ConflictFunc func(entry records.DNSEntry, incoming records.Record)

// pendingQuery accumulates the questions and known-answers of a
// truncated query across datagrams from the same peer, per §4.G's
// coalescing rule. Records are parsed once, at decode time, so
// merging never needs to reach back into an earlier datagram's raw
// bytes.
type pendingQuery struct {
	questions []message.Question
	known     []records.Record
}

// localRecord is one entry in the locally-owned record set. Every
// local record participates in conflict detection as soon as it's
// added — including while it is still probing — but only a committed
// one is eligible to answer queries: §8.1 requires a name to survive
// probing before this process claims it on the wire.
type localRecord struct {
	rec       records.Record
	committed bool
}

// Dispatcher owns the cache, the locally-registered record set used
// to answer queries and detect conflicts, and the live listener
// registry. Handle is invoked serially by a single receiver goroutine
// and hands responder jobs to the scheduler through Scheduler.Post;
// the mutex guards the local-record and listener tables, which the
// public facade also reaches from other goroutines (AddLocal,
// AddProbing, Commit, RemoveLocal, AddListener, RemoveListener).
type Dispatcher struct {
	mu        sync.Mutex
	cache     *cache.Cache
	local     map[string][]*localRecord
	listeners []*Listener
	pending   map[string]*pendingQuery
	rateLimit *records.RecordSet

	sink       FrameSink
	sched      *scheduler.Scheduler
	onConflict ConflictFunc
	logger     *slog.Logger

	RespondersSent uint64
	ConflictsSeen  uint64
}

// New builds a Dispatcher. sched may be nil, in which case responses
// are sent synchronously with no jitter delay (used by tests and by
// callers that already run on a dedicated goroutine).
func New(c *cache.Cache, sink FrameSink, sched *scheduler.Scheduler, onConflict ConflictFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cache:      c,
		local:      make(map[string][]*localRecord),
		pending:    make(map[string]*pendingQuery),
		rateLimit:  records.NewRecordSet(),
		sink:       sink,
		sched:      sched,
		onConflict: onConflict,
		logger:     logger,
	}
}

func localKey(name string) string {
	return message.CanonicalName(name)
}

// defaultInterfaceID is the RecordSet interface key used for every
// outgoing record: Transport binds one multicast socket across every
// joined interface and doesn't expose which one a send goes out on, so
// the rate limiter treats the whole group membership as one logical
// interface.
const defaultInterfaceID = "primary"

// AddLocal registers r as locally-owned and immediately eligible to
// answer queries, bypassing the probing state — used for records that
// don't go through Register's probe cycle (tests, and any record
// whose uniqueness was already established another way).
func (d *Dispatcher) AddLocal(r records.Record) {
	d.addLocal(r, true)
}

// AddProbing registers r as locally-owned for conflict-detection
// purposes only: a peer's authoritative claim over the same name still
// triggers onConflict while r is probing (§4.E, §8.1), but r itself is
// not yet offered as an answer to queries. Commit promotes it once
// probing succeeds.
func (d *Dispatcher) AddProbing(r records.Record) {
	d.addLocal(r, false)
}

func (d *Dispatcher) addLocal(r records.Record, committed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := localKey(r.Entry().Name)
	d.local[k] = append(d.local[k], &localRecord{rec: r, committed: committed})
}

// Commit marks a record added with AddProbing as eligible to answer
// queries, called once its owning service finishes announcing.
func (d *Dispatcher) Commit(r records.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, entry := range d.local[localKey(r.Entry().Name)] {
		if entry.rec == r {
			entry.committed = true
		}
	}
}

// RemoveLocal unregisters r, e.g. once a goodbye has been sent or a
// conflict aborted it mid-probe.
func (d *Dispatcher) RemoveLocal(r records.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := localKey(r.Entry().Name)
	entries := d.local[k]
	for i, existing := range entries {
		if existing.rec == r {
			d.local[k] = append(entries[:i], entries[i+1:]...)
			if len(d.local[k]) == 0 {
				delete(d.local, k)
			}
			return
		}
	}
}

// SetSink replaces the outgoing transport, used by the facade's socket
// recovery path (§7's SocketError policy) after rebuilding the
// transport following a socket failure.
func (d *Dispatcher) SetSink(sink FrameSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// AddListener subscribes notify to records answering q, returning a
// handle for RemoveListener.
func (d *Dispatcher) AddListener(q records.DNSQuestion, notify func(Event)) *Listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &Listener{Question: q, Notify: notify}
	d.listeners = append(d.listeners, l)
	return l
}

// RemoveListener cancels a subscription installed with AddListener.
func (d *Dispatcher) RemoveListener(l *Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.listeners {
		if existing == l {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) notify(kind EventKind, r records.Record) {
	d.mu.Lock()
	targets := make([]*Listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		if l.Question.AnsweredBy(r.Entry()) {
			targets = append(targets, l)
		}
	}
	d.mu.Unlock()

	for _, l := range targets {
		l.Notify(Event{Kind: kind, Record: r})
	}
}

// Handle is the single ingestion path: decode once, dispatch to
// response or query handling. Decode failures are logged and the
// datagram dropped, matching §7's MalformedFrame/CircularName policy.
func (d *Dispatcher) Handle(ctx context.Context, frame []byte, peer net.Addr) {
	msg, err := message.Decode(frame)
	if err != nil {
		d.logger.Debug("dropping malformed datagram", "peer", peer, "error", err)
		return
	}

	if msg.Header.IsResponse() {
		d.handleResponse(frame, msg)
		return
	}
	d.handleQuery(ctx, frame, msg, peer)
}

// handleResponse implements §4.G's response processing: expire,
// insert, or refresh each record against the cache, run conflict
// detection against locally-owned records, and fan informative
// records out to matching listeners.
func (d *Dispatcher) handleResponse(frame []byte, msg *message.Message) {
	all := make([]message.RR, 0, len(msg.Answers)+len(msg.Additionals))
	all = append(all, msg.Answers...)
	all = append(all, msg.Additionals...)

	for _, rr := range all {
		incoming, err := records.ParseRecord(frame, rr)
		if err != nil {
			d.logger.Debug("dropping unparseable record", "name", rr.Name, "error", err)
			continue
		}
		d.applyResponseRecord(incoming)
	}
}

// applyResponseRecord runs the cache update, conflict check, and
// listener fan-out for one already-parsed record.
func (d *Dispatcher) applyResponseRecord(incoming records.Record) {
	existing := d.cache.Get(incoming)

	switch {
	case incoming.IsExpired():
		if existing != nil {
			d.cache.Remove(existing)
			d.notify(EventRemoved, existing)
		}
	case existing == nil:
		d.cache.Put(incoming)
		d.notify(EventAdded, incoming)
	default:
		d.cache.Refresh(existing, incoming)
	}

	d.checkConflict(incoming)
}

// checkConflict scans every locally-owned record with the same name —
// probing or committed — since a conflict during probing is exactly
// what probing exists to catch (§8.1); only respond restricts itself
// to committed records.
func (d *Dispatcher) checkConflict(incoming records.Record) {
	d.mu.Lock()
	owned := append([]*localRecord(nil), d.local[localKey(incoming.Entry().Name)]...)
	d.mu.Unlock()

	for _, entry := range owned {
		if entry.rec.HandleResponse(incoming) {
			d.mu.Lock()
			d.ConflictsSeen++
			d.mu.Unlock()
			if d.onConflict != nil {
				d.onConflict(entry.rec.Entry(), incoming)
			}
		}
	}
}

// handleQuery implements §4.G's query processing: known-answer
// conflict checks, truncated-query coalescing, and construction of a
// suppression-aware responder task.
func (d *Dispatcher) handleQuery(ctx context.Context, frame []byte, msg *message.Message, peer net.Addr) {
	known := make([]records.Record, 0, len(msg.Answers))
	for _, rr := range msg.Answers {
		r, err := records.ParseRecord(frame, rr)
		if err != nil {
			continue
		}
		known = append(known, r)
	}
	for _, ka := range known {
		d.checkConflict(ka)
	}

	peerKey := peer.String()

	d.mu.Lock()
	pq, ok := d.pending[peerKey]
	if !ok {
		pq = &pendingQuery{}
	}
	pq.questions = append(pq.questions, msg.Questions...)
	pq.known = append(pq.known, known...)

	if msg.Header.IsTruncated() {
		d.pending[peerKey] = pq
		d.mu.Unlock()
		return
	}
	delete(d.pending, peerKey)
	d.mu.Unlock()

	d.respond(ctx, pq, peer)
}

// respond selects locally-owned, committed records answering pq's
// questions, suppresses any already known to the querier, and packs
// the rest into one or more outgoing frames, splitting on BufferFull.
// Records still probing never reach this path: §8.1 forbids answering
// on a name's behalf until it has survived probing.
func (d *Dispatcher) respond(ctx context.Context, pq *pendingQuery, peer net.Addr) {
	var toSend []records.Record
	d.mu.Lock()
	for _, q := range pq.questions {
		for _, entries := range d.local {
			for _, entry := range entries {
				if !entry.committed {
					continue
				}
				r := entry.rec
				if !questionAnsweredBy(q, r.Entry()) {
					continue
				}
				if r.SuppressedBy(pq.known) {
					continue
				}
				toSend = append(toSend, r)
			}
		}
	}
	d.mu.Unlock()

	if len(toSend) == 0 {
		return
	}

	dest := multicastAddr()
	if len(pq.questions) == 1 && pq.questions[0].QU {
		dest = peer
	}

	send := func() {
		d.sendRecords(ctx, toSend, dest, false)
	}

	if d.sched != nil {
		d.sched.Post(func() {
			scheduler.InstallResponder(d.sched, "respond:"+peer.String(), send)
		})
	} else {
		send()
	}
}

func questionAnsweredBy(q message.Question, e records.DNSEntry) bool {
	return q.AnsweredBy(e.Name, e.Type, e.Class)
}

// sendRecords packs recs into frames, handling BufferFullError by
// setting TC, flushing what fit, and continuing into a new frame.
// Each record is gated by the RFC 6762 §6.2 flood-prevention rate
// limiter before it's packed: defend selects the shortened
// probe-defense window over the standard one-second spacing.
func (d *Dispatcher) sendRecords(ctx context.Context, recs []records.Record, dest net.Addr, defend bool) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()

	i := 0
	for i < len(recs) {
		enc := message.NewEncoder(0, protocol.FlagQR|protocol.FlagAA, protocol.MaxMessageSize, true)
		n := i
		sent := 0
		for ; n < len(recs); n++ {
			r := recs[n]
			if !d.allowMulticast(r, defend) {
				continue
			}
			if err := enc.AddAnswer(r); err != nil {
				if _, ok := err.(*werrors.BufferFullError); ok {
					break
				}
				d.logger.Warn("failed to encode outgoing record", "error", err)
				continue
			}
			d.rateLimit.RecordMulticast(r, defaultInterfaceID)
			sent++
		}

		if n < len(recs) {
			enc.SetTruncated(true)
		}
		if sent == 0 {
			if n == i {
				// A single record alone exceeds the buffer; there is nothing
				// more we can do for it, so skip it and keep going.
				n = i + 1
			}
			i = n
			continue
		}

		frame := enc.Finish()
		if err := sink.Send(ctx, frame, dest); err != nil {
			d.logger.Warn("failed to send response", "error", err)
			return
		}

		d.mu.Lock()
		d.RespondersSent++
		d.mu.Unlock()

		i = n
	}
}

func multicastAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4), Port: protocol.Port}
}

func (d *Dispatcher) allowMulticast(r records.Record, defend bool) bool {
	if defend {
		return d.rateLimit.CanMulticastProbeDefense(r, defaultInterfaceID)
	}
	return d.rateLimit.CanMulticast(r, defaultInterfaceID)
}

// Announce sends recs as an unsolicited multicast response, used by the
// facade's Renewer/Canceler jobs to refresh or withdraw (TTL 0) a
// service's records outside of query/response, under the standard
// one-second-per-record flood-prevention spacing.
func (d *Dispatcher) Announce(ctx context.Context, recs []records.Record) {
	d.sendRecords(ctx, recs, multicastAddr(), false)
}

// AnnounceDefending is like Announce but under the shortened
// probe-defense spacing (RFC 6762 §6.2), for the two announcements
// sent immediately after a service wins probing, while the name it
// just claimed is still freshly contested.
func (d *Dispatcher) AnnounceDefending(ctx context.Context, recs []records.Record) {
	d.sendRecords(ctx, recs, multicastAddr(), true)
}

// ReapExpired removes every cache entry expired as of now and notifies
// matching listeners, completing the split the cache documents between
// expiry (its own job) and translating that into EventRemoved (ours).
func (d *Dispatcher) ReapExpired(now time.Time) {
	for _, r := range d.cache.Reap(now) {
		d.notify(EventRemoved, r)
	}
}
