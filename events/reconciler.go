// Package events applies real-time notifications to a collection's store.
//
// Created, updated and patched events upsert their record; removed events
// drop it. Nothing here touches the pending flags of the store, those belong
// to calls made through the service package.
//
// With Debounce, events are held for a window and coalesced per id: the last
// event for an id wins, and surviving events are applied in the order their
// last event arrived, so two ids never swap places.
package events

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/transport"
)

// Target receives reconciled events. *store.Store implements it.
type Target interface {
	Upsert(recs ...*record.Record) []*record.Record
	RemoveMany(items ...any) []string
}

// HandlerFunc sees an event payload before it is applied. Returning false
// drops the event; a non-nil record replaces the payload.
type HandlerFunc func(r *record.Record) (*record.Record, bool)

// Handlers holds one optional HandlerFunc per event type.
type Handlers struct {
	Created HandlerFunc
	Updated HandlerFunc
	Patched HandlerFunc
	Removed HandlerFunc
}

func (h Handlers) forType(t transport.EventType) HandlerFunc {
	switch t {
	case transport.EventCreated:
		return h.Created
	case transport.EventUpdated:
		return h.Updated
	case transport.EventPatched:
		return h.Patched
	case transport.EventRemoved:
		return h.Removed
	}
	return nil
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// Debounce holds events for window after the latest arrival. Zero disables
// debouncing.
func Debounce(window time.Duration) Option {
	return func(r *Reconciler) { r.window = window }
}

// MaxWait bounds how long a debounced event can be held while new events keep
// extending the window.
func MaxWait(d time.Duration) Option {
	return func(r *Reconciler) { r.maxWait = d }
}

// WithHandlers installs per type handlers.
func WithHandlers(h Handlers) Option {
	return func(r *Reconciler) { r.handlers = h }
}

// WithResolver sets how ids are derived for debouncing.
func WithResolver(res record.Resolver) Option {
	return func(r *Reconciler) { r.resolver = res }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Stats counts what the reconciler did with the events it received.
type Stats struct {
	Received  int
	Vetoed    int
	Coalesced int
	Applied   int
}

type queued struct {
	ev  transport.Event
	seq uint64
}

// Reconciler funnels events into a Target. It is safe for concurrent use.
type Reconciler struct {
	target   Target
	handlers Handlers
	resolver record.Resolver
	window   time.Duration
	maxWait  time.Duration
	logger   *slog.Logger

	// applyMu serializes writes to the target so flushes never interleave.
	applyMu sync.Mutex

	mu     sync.Mutex
	queue  map[string]queued
	seq    uint64
	first  time.Time
	timer  *time.Timer
	unsubs []func()
	stats  Stats
	closed bool
}

// New builds a reconciler writing into target.
func New(target Target, opts ...Option) *Reconciler {
	r := &Reconciler{
		target: target,
		logger: slog.Default(),
		queue:  make(map[string]queued),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes to src. Close detaches every source.
func (r *Reconciler) Attach(src transport.EventSource) {
	unsub := src.Subscribe(r.Handle)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsub()
		return
	}
	r.unsubs = append(r.unsubs, unsub)
	r.mu.Unlock()
}

// Handle processes one event, immediately or after the debounce window.
func (r *Reconciler) Handle(ev transport.Event) {
	if !ev.Type.Valid() || ev.Record == nil {
		r.logger.Debug("events: ignored malformed event", "type", ev.Type)
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.stats.Received++
	r.mu.Unlock()

	if h := r.handlers.forType(ev.Type); h != nil {
		replaced, ok := h(ev.Record)
		if !ok {
			r.mu.Lock()
			r.stats.Vetoed++
			r.mu.Unlock()
			return
		}
		if replaced != nil {
			ev.Record = replaced
		}
	}

	if r.window <= 0 {
		r.applyMu.Lock()
		r.apply(ev)
		r.applyMu.Unlock()
		return
	}
	r.enqueue(ev)
}

func (r *Reconciler) key(ev transport.Event) (string, bool) {
	if id, ok := r.resolver.RealID(ev.Record); ok {
		return "id:" + id.Key, true
	}
	if key, ok := r.resolver.TempID(ev.Record); ok {
		return "temp:" + key, true
	}
	return "", false
}

func (r *Reconciler) enqueue(ev transport.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	key, ok := r.key(ev)
	if !ok {
		// no id to coalesce on; keep its slot in arrival order
		key = "seq:" + strconv.FormatUint(r.seq, 10)
	}
	if _, exists := r.queue[key]; exists {
		r.stats.Coalesced++
	}
	r.queue[key] = queued{ev: ev, seq: r.seq}

	now := time.Now()
	if r.first.IsZero() {
		r.first = now
	}
	wait := r.window
	if r.maxWait > 0 {
		if left := r.maxWait - now.Sub(r.first); left < wait {
			wait = left
		}
	}
	if wait < 0 {
		wait = 0
	}
	if r.timer == nil {
		r.timer = time.AfterFunc(wait, r.Flush)
		return
	}
	r.timer.Reset(wait)
}

// Flush applies every queued event now.
func (r *Reconciler) Flush() {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()
	pending := make([]queued, 0, len(r.queue))
	for _, q := range r.queue {
		pending = append(pending, q)
	}
	r.queue = make(map[string]queued)
	r.first = time.Time{}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	for _, q := range pending {
		r.apply(q.ev)
	}
}

func (r *Reconciler) apply(ev transport.Event) {
	switch ev.Type {
	case transport.EventRemoved:
		r.target.RemoveMany(ev.Record)
	default:
		r.target.Upsert(ev.Record)
	}
	r.mu.Lock()
	r.stats.Applied++
	r.mu.Unlock()
}

// Pending returns the number of queued events.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Stats returns the counters so far.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close detaches every source and applies what is still queued. Events
// handled after Close are ignored.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	r.Flush()
}
