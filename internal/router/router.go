// Package router implements the event-routing core: it owns the bus
// connection and the per-client queues, and fans out decoded events from
// the upstream bus to every queue subscribed to the matching timeline.
package router

import (
	"bytes"
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tidegate/tidegate/internal/bus"
	"github.com/tidegate/tidegate/internal/hashtag"
	"github.com/tidegate/tidegate/internal/metrics"
	"github.com/tidegate/tidegate/internal/timeline"
)

// Event is an opaque JSON object received from the bus, tagged with the
// event kind string clients filter on. It is carried by value through the
// router; the router only checks that the payload is valid JSON and reads
// its top-level "event" field into Kind, and never re-serializes it.
type Event struct {
	Kind    string
	Payload json.RawMessage
}

// clientQueue is the per-client FIFO of undelivered events.
type clientQueue struct {
	id           uuid.UUID
	timeline     timeline.ID
	messages     *list.List
	lastPolledAt time.Time
}

// BusSink is the subset of bus.Connection the router drives: reading
// available bytes and sending subscribe/unsubscribe commands. Declared as
// an interface so the router can be tested without a live socket pair.
type BusSink interface {
	ReadAvailable(buf *[]byte) (int, error)
	Send(op bus.Op, channel string) error
}

// Router is the singleton per-process event-routing state described by the
// router's invariants: refcount consistency, bus subscription consistency,
// cache consistency, queue/timeline integrity and Unset-sentinel exclusion.
type Router struct {
	mu sync.Mutex

	busConn  BusSink
	cache    *hashtag.Cache
	queues   map[uuid.UUID]*clientQueue
	refcount map[timeline.ID]int

	namespace     string
	pollInterval  time.Duration
	lastBusPollAt time.Time
	tailBuffer    []byte

	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics sink. Safe to call once before the router
// starts serving traffic; nil is a valid no-op state.
func (r *Router) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Config configures a new Router.
type Config struct {
	Namespace    string
	PollInterval time.Duration
	CacheSize    int
}

// New constructs a Router over an already-connected bus.
func New(cfg Config, busConn BusSink, logger *logrus.Logger) (*Router, error) {
	size := cfg.CacheSize
	if size == 0 {
		size = hashtag.DefaultCapacity
	}
	cache, err := hashtag.New(size)
	if err != nil {
		return nil, fmt.Errorf("router: building hashtag cache: %w", err)
	}

	return &Router{
		busConn:      busConn,
		cache:        cache,
		queues:       make(map[uuid.UUID]*clientQueue),
		refcount:     make(map[timeline.ID]int),
		namespace:    cfg.Namespace,
		pollInterval: cfg.PollInterval,
		logger:       logger,
	}, nil
}

// Register creates a client queue for the given timeline and bumps its
// refcount, issuing a SUBSCRIBE to the bus on a 0->1 transition. If the
// timeline is a Hashtag, the cache is seeded with the resolved name/id pair
// so later FromWire decodes on that channel succeed.
func (r *Router) Register(clientID uuid.UUID, tl timeline.ID, hashtagName string) error {
	if tl == timeline.Empty() {
		return fmt.Errorf("router: refusing to register the empty sentinel timeline")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if tl.Stream == timeline.StreamHashtag && hashtagName != "" {
		r.cache.Put(hashtagName, tl.Num)
	}

	r.queues[clientID] = &clientQueue{
		id:           clientID,
		timeline:     tl,
		messages:     list.New(),
		lastPolledAt: time.Now(),
	}

	r.refcount[tl]++
	if r.refcount[tl] == 1 {
		wire, err := r.wireChannel(tl, hashtagName)
		if err != nil {
			return err
		}
		if err := r.busConn.Send(bus.OpSubscribe, wire); err != nil {
			r.logger.WithError(err).WithField("channel", wire).Warn("Failed to send SUBSCRIBE")
		}
		if r.metrics != nil {
			r.metrics.BusCommands.WithLabelValues(string(bus.OpSubscribe)).Inc()
		}
	}
	if r.metrics != nil {
		r.metrics.ActiveQueues.WithLabelValues().Set(float64(len(r.queues)))
		r.recordRefcountLocked(tl)
	}

	return nil
}

func (r *Router) recordRefcountLocked(tl timeline.ID) {
	stream := fmt.Sprintf("%d", tl.Stream)
	reach := fmt.Sprintf("%d", tl.Reach)
	content := fmt.Sprintf("%d", tl.Content)
	r.metrics.TimelineRefcount.WithLabelValues(stream, reach, content).Set(float64(r.refcount[tl]))
}

// Unregister removes a client's queue and decrements its timeline's
// refcount, issuing an UNSUBSCRIBE on a 1->0 transition.
func (r *Router) Unregister(clientID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(clientID)
}

func (r *Router) unregisterLocked(clientID uuid.UUID) {
	q, ok := r.queues[clientID]
	if !ok {
		return
	}
	delete(r.queues, clientID)

	tl := q.timeline
	r.refcount[tl]--
	if r.refcount[tl] <= 0 {
		count := r.refcount[tl]
		delete(r.refcount, tl)
		if count == 0 {
			hashtagName, _ := r.cache.GetName(tl.Num)
			wire, err := r.wireChannel(tl, hashtagName)
			if err != nil {
				r.logger.WithError(err).Warn("Failed to encode wire channel for UNSUBSCRIBE")
				return
			}
			if err := r.busConn.Send(bus.OpUnsubscribe, wire); err != nil {
				r.logger.WithError(err).WithField("channel", wire).Warn("Failed to send UNSUBSCRIBE")
			}
			if r.metrics != nil {
				r.metrics.BusCommands.WithLabelValues(string(bus.OpUnsubscribe)).Inc()
			}
		}
	}
	if r.metrics != nil {
		r.metrics.ActiveQueues.WithLabelValues().Set(float64(len(r.queues)))
		r.recordRefcountLocked(tl)
	}
}

// Shutdown unsubscribes every timeline with a positive refcount and clears
// all client queues. Unlike unsubscribing only the last-registered
// timeline, every still-active channel is released before the sockets go
// away.
func (r *Router) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for tl, count := range r.refcount {
		if count <= 0 {
			continue
		}
		hashtagName, _ := r.cache.GetName(tl.Num)
		wire, err := r.wireChannel(tl, hashtagName)
		if err != nil {
			r.logger.WithError(err).Warn("Failed to encode wire channel during shutdown")
			continue
		}
		if err := r.busConn.Send(bus.OpUnsubscribe, wire); err != nil {
			r.logger.WithError(err).WithField("channel", wire).Warn("Failed to send UNSUBSCRIBE during shutdown")
		}
		if r.metrics != nil {
			r.metrics.BusCommands.WithLabelValues(string(bus.OpUnsubscribe)).Inc()
		}
	}
	r.queues = make(map[uuid.UUID]*clientQueue)
	r.refcount = make(map[timeline.ID]int)
	if r.metrics != nil {
		r.metrics.ActiveQueues.WithLabelValues().Set(0)
	}
}

// Ready is returned by Poll when an event was available.
type Ready struct {
	Event Event
	Ok    bool
}

// Poll rate-limits the bus drain to at most once per pollInterval, then
// pops the oldest queued event for clientID, if any. It never blocks on
// I/O; callers re-enter on their own readiness timer.
func (r *Router) Poll(clientID uuid.UUID) Ready {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	if r.metrics != nil {
		defer func() {
			r.metrics.PollLatency.WithLabelValues().Observe(time.Since(start).Seconds())
		}()
	}

	now := start
	if now.Sub(r.lastBusPollAt) >= r.pollInterval {
		r.drainBusLocked()
		r.lastBusPollAt = now
	}

	q, ok := r.queues[clientID]
	if !ok {
		return Ready{}
	}
	q.lastPolledAt = now

	front := q.messages.Front()
	if front == nil {
		return Ready{}
	}
	q.messages.Remove(front)
	return Ready{Event: front.Value.(Event), Ok: true}
}

// drainBusLocked pulls any newly available bytes off the bus, parses every
// complete frame in the accumulated buffer, and appends decoded events to
// every queue whose timeline matches. Callers must hold r.mu.
func (r *Router) drainBusLocked() {
	if _, err := r.busConn.ReadAvailable(&r.tailBuffer); err != nil {
		r.logger.WithError(err).Warn("Bus read error; retaining buffer and continuing")
		return
	}

	for {
		frame := bus.TryParse(r.tailBuffer)
		advanced := len(frame.Leftover) < len(r.tailBuffer)
		r.tailBuffer = frame.Leftover

		switch frame.Kind {
		case bus.KindIncomplete:
			return
		case bus.KindMalformed:
			r.logger.Warn("Dropping malformed frame and advancing past it")
			if r.metrics != nil {
				r.metrics.BusParseErrors.WithLabelValues().Inc()
			}
			if advanced {
				// TryParse already skipped past the undecodable bulk string.
			} else if idx := bytes.Index(r.tailBuffer, []byte("\r\n")); idx >= 0 {
				r.tailBuffer = r.tailBuffer[idx+2:]
			} else if len(r.tailBuffer) > 0 {
				r.tailBuffer = r.tailBuffer[1:]
			} else {
				return
			}
		case bus.KindNonMessage:
			// subscribe/unsubscribe acknowledgements carry no routing work
		case bus.KindMessage:
			r.handleMessageLocked(frame.Channel, frame.Payload)
		}

		if len(r.tailBuffer) == 0 {
			return
		}
	}
}

func (r *Router) handleMessageLocked(channel, payload string) {
	trimmed := channel
	if r.namespace != "" {
		prefix := r.namespace + ":"
		if !strings.HasPrefix(channel, prefix) {
			return // wrong-namespace delivery; drop silently per policy
		}
		trimmed = strings.TrimPrefix(channel, r.namespace+":")
	}

	tl, err := timeline.FromWire(trimmed, "", r.cache)
	if err != nil {
		if errors.Is(err, timeline.ErrHashtagCacheMiss) {
			r.logger.WithFields(logrus.Fields{"channel": channel, "error": err}).Fatal(
				"Hashtag cache miss decoding a subscribed channel; a register call failed to seed the cache")
		}
		r.logger.WithFields(logrus.Fields{"channel": channel, "error": err}).Warn("Dropping undecodable channel")
		return
	}

	var event Event
	if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
		r.logger.WithError(err).Warn("Dropping malformed event payload")
		return
	}
	event.Kind = eventKind(event.Payload)

	delivered := 0
	for _, q := range r.queues {
		if q.timeline == tl {
			q.messages.PushBack(event)
			delivered++
		}
	}
	if r.metrics != nil && delivered > 0 {
		r.metrics.EventsDelivered.WithLabelValues(fmt.Sprintf("%d", tl.Stream)).Add(float64(delivered))
	}
}

func eventKind(raw json.RawMessage) string {
	var tagged struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return ""
	}
	return tagged.Event
}

func (r *Router) wireChannel(tl timeline.ID, hashtagName string) (string, error) {
	wire, err := tl.ToWire(hashtagName)
	if err != nil {
		return "", err
	}
	if r.namespace != "" {
		return r.namespace + ":" + wire, nil
	}
	return wire, nil
}

// Refcount exposes the current refcount for a timeline, for tests and metrics.
func (r *Router) Refcount(tl timeline.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refcount[tl]
}

// QueueLen exposes a client's pending event count, for tests and metrics.
func (r *Router) QueueLen(clientID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[clientID]
	if !ok {
		return 0
	}
	return q.messages.Len()
}

// Stats is a point-in-time snapshot of router state for the admin stats
// endpoint. TimelineRefcounts is keyed by the wire channel string, not the
// structured ID, since that's the form an operator can correlate with bus
// traffic.
type Stats struct {
	ActiveQueues      int            `json:"active_queues"`
	TimelineRefcounts map[string]int `json:"timeline_refcounts"`
}

// Stats returns a snapshot of the router's current state.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	refcounts := make(map[string]int, len(r.refcount))
	for tl, count := range r.refcount {
		hashtagName := ""
		if tl.Stream == timeline.StreamHashtag {
			hashtagName, _ = r.cache.GetName(tl.Num)
		}
		wire, err := r.wireChannel(tl, hashtagName)
		if err != nil {
			continue
		}
		refcounts[wire] = count
	}

	return Stats{
		ActiveQueues:      len(r.queues),
		TimelineRefcounts: refcounts,
	}
}
