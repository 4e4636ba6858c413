package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/idlforge/internal/pipeline"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "source.created", Data: map[string]string{"path": "core/Foo.cfh"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: source.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"core/Foo.cfh"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishSourceEvent_PendingThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger rebuild.pending.
	b.PublishSourceEvent("created", "core/A.cfh")
	// Second event immediately should NOT trigger another rebuild.pending.
	b.PublishSourceEvent("updated", "xs/b.c")

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	pendingCount := 0
	sourceCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "rebuild.pending") {
				pendingCount++
			} else {
				sourceCount++
			}
		default:
			break loop
		}
	}

	if sourceCount != 2 {
		t.Errorf("source events = %d, want 2", sourceCount)
	}
	if pendingCount != 1 {
		t.Errorf("pending events = %d, want 1 (throttled)", pendingCount)
	}
}

func TestPublishStageEvent(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishStageEvent(pipeline.Event{Type: pipeline.EventStageCompleted, RunID: "r1", Stage: "link", Actions: 1})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.HasPrefix(s, "event: stage.completed\n") {
			t.Errorf("unexpected event line in %q", s)
		}
		if !strings.Contains(s, `"stage":"link"`) || !strings.Contains(s, `"run_id":"r1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "build.finished", Data: map[string]string{"run_id": "x"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: build.finished") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "build.finished", Data: map[string]string{"run_id": "x"}})
	b.PublishSourceEvent("updated", "core/Foo.cfh")
	b.PublishStageEvent(pipeline.Event{Type: pipeline.EventStageStarted})
}

// drain collects messages until none arrives for a short while.
func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func countPrefix(msgs []string, prefix string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func TestSubscribeReplaysBuildSnapshot(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	b.PublishStageEvent(pipeline.Event{Type: pipeline.EventStageStarted, RunID: "r1", Stage: "parse_model"})
	b.PublishStageEvent(pipeline.Event{Type: pipeline.EventStageSkipped, RunID: "r1", Stage: "parse_model"})
	b.PublishStageEvent(pipeline.Event{Type: pipeline.EventStageStarted, RunID: "r1", Stage: "link"})

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	msgs := drain(ch)
	if len(msgs) != 1 {
		t.Fatalf("late subscriber got %d messages, want only the snapshot: %q", len(msgs), msgs)
	}
	s := msgs[0]
	if !strings.HasPrefix(s, "event: build.snapshot\n") {
		t.Fatalf("unexpected event line in %q", s)
	}
	for _, want := range []string{
		`"run_id":"r1"`,
		`"running":true`,
		`{"stage":"parse_model","state":"skipped"}`,
		`{"stage":"link","state":"running"}`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("snapshot missing %s in %q", want, s)
		}
	}

	b.PublishStageEvent(pipeline.Event{Type: pipeline.EventBuildFinished, RunID: "r1", Actions: 3})
	drain(ch)
	late := b.Subscribe()
	defer b.Unsubscribe(late)
	msgs = drain(late)
	if len(msgs) != 1 || !strings.Contains(msgs[0], `"running":false`) || !strings.Contains(msgs[0], `"actions":3`) {
		t.Errorf("finished snapshot = %q", msgs)
	}

	b.PublishStageEvent(pipeline.Event{Type: pipeline.EventStageStarted, RunID: "r2", Stage: "parse_model"})
	drain(ch)
	next := b.Subscribe()
	defer b.Unsubscribe(next)
	msgs = drain(next)
	if len(msgs) != 1 || !strings.Contains(msgs[0], `"run_id":"r2"`) || strings.Contains(msgs[0], "link") {
		t.Errorf("new run did not reset the snapshot: %q", msgs)
	}
}

func TestNoSnapshotBeforeFirstBuild(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	if msgs := drain(ch); len(msgs) != 0 {
		t.Errorf("unexpected messages %q", msgs)
	}
}

func TestSourceChangesDuringBuildDeferPending(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishStageEvent(pipeline.Event{Type: pipeline.EventStageStarted, RunID: "r1", Stage: "compile_sources"})
	b.PublishSourceEvent("updated", "core/A.cfh")
	time.Sleep(5 * time.Millisecond)
	b.PublishSourceEvent("updated", "core/B.cfh")
	b.PublishSourceEvent("bogus", "core/C.cfh")

	msgs := drain(ch)
	if n := countPrefix(msgs, "event: source.updated\n"); n != 2 {
		t.Errorf("source events = %d, want 2", n)
	}
	if n := countPrefix(msgs, "event: rebuild.pending\n"); n != 0 {
		t.Errorf("rebuild.pending sent while the build runs: %q", msgs)
	}

	b.PublishStageEvent(pipeline.Event{Type: pipeline.EventBuildFinished, RunID: "r1"})
	msgs = drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("got %q, want build.finished then rebuild.pending", msgs)
	}
	if !strings.HasPrefix(msgs[0], "event: build.finished\n") || !strings.HasPrefix(msgs[1], "event: rebuild.pending\n") {
		t.Errorf("unexpected order %q", msgs)
	}
	if !strings.Contains(msgs[1], `"after":"r1"`) {
		t.Errorf("pending does not name the finished run: %q", msgs[1])
	}

	b.PublishStageEvent(pipeline.Event{Type: pipeline.EventBuildFinished, RunID: "r1"})
	if n := countPrefix(drain(ch), "event: rebuild.pending\n"); n != 0 {
		t.Errorf("deferred pending sent twice")
	}
}

func TestSSEHandlerHeartbeat(t *testing.T) {
	b := NewBroker(time.Second, WithHeartbeat(10*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(w.Body.String(), ": ping\n\n") {
		t.Errorf("no heartbeat in %q", w.Body.String())
	}
}
