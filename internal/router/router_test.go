package router

import (
	"testing"

	"github.com/google/uuid"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/tidegate/tidegate/internal/bus"
	"github.com/tidegate/tidegate/internal/timeline"
)

// fakeBus is an in-memory BusSink: Send records every command, and the
// test can queue bytes for ReadAvailable to hand back.
type fakeBus struct {
	sent    []sentCmd
	pending []byte
}

type sentCmd struct {
	op      bus.Op
	channel string
}

func (f *fakeBus) Send(op bus.Op, channel string) error {
	f.sent = append(f.sent, sentCmd{op: op, channel: channel})
	return nil
}

func (f *fakeBus) ReadAvailable(buf *[]byte) (int, error) {
	*buf = append(*buf, f.pending...)
	n := len(f.pending)
	f.pending = nil
	return n, nil
}

func (f *fakeBus) inject(frame string) {
	f.pending = append(f.pending, []byte(frame)...)
}

func newTestRouter(t *testing.T, namespace string) (*Router, *fakeBus) {
	t.Helper()
	fb := &fakeBus{}
	logger, _ := logrustest.NewNullLogger()
	r, err := New(Config{Namespace: namespace, PollInterval: 0, CacheSize: 10}, fb, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, fb
}

func publicTimeline() timeline.ID {
	return timeline.ID{Stream: timeline.StreamPublic, Reach: timeline.ReachFederated, Content: timeline.ContentAll}
}

func TestScenarioSingleClientPublicSubscribe(t *testing.T) {
	r, fb := newTestRouter(t, "")
	clientA := uuid.New()

	if err := r.Register(clientA, publicTimeline(), ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(fb.sent) != 1 || fb.sent[0].op != bus.OpSubscribe || fb.sent[0].channel != "timeline:public" {
		t.Fatalf("expected a single SUBSCRIBE timeline:public, got %+v", fb.sent)
	}

	fb.inject("*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$2\r\n{}\r\n")

	ready := r.Poll(clientA)
	if !ready.Ok {
		t.Fatalf("expected Poll to return an event")
	}
	if string(ready.Event.Payload) != "{}" {
		t.Fatalf("Payload = %s, want {}", ready.Event.Payload)
	}
}

func TestScenarioReferenceCounting(t *testing.T) {
	r, fb := newTestRouter(t, "")
	clientA, clientB := uuid.New(), uuid.New()

	if err := r.Register(clientA, publicTimeline(), ""); err != nil {
		t.Fatalf("Register A: %v", err)
	}
	if err := r.Register(clientB, publicTimeline(), ""); err != nil {
		t.Fatalf("Register B: %v", err)
	}

	subscribes := 0
	for _, c := range fb.sent {
		if c.op == bus.OpSubscribe {
			subscribes++
		}
	}
	if subscribes != 1 {
		t.Fatalf("expected exactly one SUBSCRIBE, got %d", subscribes)
	}

	r.Unregister(clientA)
	for _, c := range fb.sent {
		if c.op == bus.OpUnsubscribe {
			t.Fatalf("unexpected UNSUBSCRIBE after unregistering only one of two clients")
		}
	}

	r.Unregister(clientB)
	found := false
	for _, c := range fb.sent {
		if c.op == bus.OpUnsubscribe && c.channel == "timeline:public" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected UNSUBSCRIBE timeline:public after last client left, got %+v", fb.sent)
	}
}

func TestScenarioNamespaceFilter(t *testing.T) {
	r, fb := newTestRouter(t, "mx")
	clientA := uuid.New()

	if err := r.Register(clientA, publicTimeline(), ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(fb.sent) != 1 || fb.sent[0].channel != "mx:timeline:public" {
		t.Fatalf("expected SUBSCRIBE mx:timeline:public, got %+v", fb.sent)
	}

	fb.inject("*3\r\n$7\r\nmessage\r\n$21\r\nother:timeline:public\r\n$4\r\n\"xx\"\r\n")
	if ready := r.Poll(clientA); ready.Ok {
		t.Fatalf("expected no event delivered for a foreign namespace")
	}

	fb.inject("*3\r\n$7\r\nmessage\r\n$18\r\nmx:timeline:public\r\n$4\r\n\"ok\"\r\n")
	ready := r.Poll(clientA)
	if !ready.Ok {
		t.Fatalf("expected an event delivered for the matching namespace")
	}
	if string(ready.Event.Payload) != `"ok"` {
		t.Fatalf("Payload = %s, want \"ok\"", ready.Event.Payload)
	}
}

func TestScenarioHashtagRoundTripViaRegister(t *testing.T) {
	r, fb := newTestRouter(t, "")
	clientA := uuid.New()

	tl := timeline.ID{Stream: timeline.StreamHashtag, Reach: timeline.ReachLocal, Content: timeline.ContentAll, Num: 42}
	if err := r.Register(clientA, tl, "rust"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(fb.sent) != 1 || fb.sent[0].channel != "timeline:hashtag:rust:local" {
		t.Fatalf("expected SUBSCRIBE timeline:hashtag:rust:local, got %+v", fb.sent)
	}

	fb.inject("*3\r\n$7\r\nmessage\r\n$27\r\ntimeline:hashtag:rust:local\r\n$7\r\n{\"a\":1}\r\n")
	ready := r.Poll(clientA)
	if !ready.Ok {
		t.Fatalf("expected an event for the registered hashtag timeline")
	}
}

func TestRefcountInvariantAcrossMultipleClients(t *testing.T) {
	r, _ := newTestRouter(t, "")
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	tl := publicTimeline()

	_ = r.Register(a, tl, "")
	_ = r.Register(b, tl, "")
	_ = r.Register(c, tl, "")
	if got := r.Refcount(tl); got != 3 {
		t.Fatalf("Refcount = %d, want 3", got)
	}

	r.Unregister(a)
	if got := r.Refcount(tl); got != 2 {
		t.Fatalf("Refcount = %d, want 2", got)
	}

	r.Unregister(b)
	r.Unregister(c)
	if got := r.Refcount(tl); got != 0 {
		t.Fatalf("Refcount = %d, want 0 (entry removed)", got)
	}
}

func TestPollAfterUnregisterNeverReady(t *testing.T) {
	r, fb := newTestRouter(t, "")
	clientA := uuid.New()
	_ = r.Register(clientA, publicTimeline(), "")

	r.Unregister(clientA)

	fb.inject("*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$2\r\n{}\r\n")
	if ready := r.Poll(clientA); ready.Ok {
		t.Fatalf("expected Poll on an unregistered client to never return Ready")
	}
}

func TestShutdownUnsubscribesEveryActiveTimeline(t *testing.T) {
	r, fb := newTestRouter(t, "")
	a, b := uuid.New(), uuid.New()

	tl1 := publicTimeline()
	tl2 := timeline.ID{Stream: timeline.StreamUser, Reach: timeline.ReachFederated, Content: timeline.ContentAll, Num: 7}

	_ = r.Register(a, tl1, "")
	_ = r.Register(b, tl2, "")

	r.Shutdown()

	unsub := map[string]bool{}
	for _, c := range fb.sent {
		if c.op == bus.OpUnsubscribe {
			unsub[c.channel] = true
		}
	}
	if !unsub["timeline:public"] || !unsub["timeline:7"] {
		t.Fatalf("expected both timelines unsubscribed on shutdown, got %+v", fb.sent)
	}
}

func TestDrainBusLogsMalformedPayloadAndContinues(t *testing.T) {
	r, fb := newTestRouter(t, "")
	clientA := uuid.New()
	_ = r.Register(clientA, publicTimeline(), "")

	fb.inject("*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$7\r\nnotJSON\r\n")
	fb.inject("*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$7\r\n{\"k\":1}\r\n")

	ready := r.Poll(clientA)
	if !ready.Ok {
		t.Fatalf("expected the well-formed second message to still be delivered")
	}
}

func TestEmptyTimelineCannotBeRegistered(t *testing.T) {
	r, _ := newTestRouter(t, "")
	if err := r.Register(uuid.New(), timeline.Empty(), ""); err == nil {
		t.Fatalf("expected an error registering the sentinel empty timeline")
	}
}

func TestStatsReflectsActiveQueuesAndRefcounts(t *testing.T) {
	r, _ := newTestRouter(t, "")
	a, b := uuid.New(), uuid.New()
	tl := publicTimeline()

	_ = r.Register(a, tl, "")
	_ = r.Register(b, tl, "")

	stats := r.Stats()
	if stats.ActiveQueues != 2 {
		t.Fatalf("ActiveQueues = %d, want 2", stats.ActiveQueues)
	}
	if got := stats.TimelineRefcounts["timeline:public"]; got != 2 {
		t.Fatalf("TimelineRefcounts[timeline:public] = %d, want 2", got)
	}

	r.Unregister(a)
	stats = r.Stats()
	if stats.ActiveQueues != 1 {
		t.Fatalf("ActiveQueues after unregister = %d, want 1", stats.ActiveQueues)
	}
	if got := stats.TimelineRefcounts["timeline:public"]; got != 1 {
		t.Fatalf("TimelineRefcounts[timeline:public] after unregister = %d, want 1", got)
	}
}

func TestStatsResolvesHashtagNameFromCache(t *testing.T) {
	r, _ := newTestRouter(t, "")
	client := uuid.New()
	tl := timeline.ID{Stream: timeline.StreamHashtag, Reach: timeline.ReachLocal, Content: timeline.ContentAll, Num: 7}

	if err := r.Register(client, tl, "golang"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	stats := r.Stats()
	if got := stats.TimelineRefcounts["timeline:hashtag:golang:local"]; got != 1 {
		t.Fatalf("TimelineRefcounts[timeline:hashtag:golang:local] = %d, want 1, got map %+v", got, stats.TimelineRefcounts)
	}
}
