// Package sse streams build progress to browsers as Server-Sent Events.
//
// Besides forwarding runner events, the broker folds them into a snapshot
// of the newest build. A client that connects while a build runs (or after
// it ended) first receives that snapshot, so it never has to guess which
// stages it missed.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/idlforge/internal/pipeline"
)

// Event types the broker emits on its own.
const (
	EventSnapshot       = "build.snapshot"
	EventRebuildPending = "rebuild.pending"
)

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StageState is the last known state of one stage within a run.
type StageState struct {
	Stage   string `json:"stage"`
	State   string `json:"state"`
	Actions int    `json:"actions,omitempty"`
}

// Snapshot summarises the newest build seen by the broker.
type Snapshot struct {
	RunID   string       `json:"run_id"`
	Running bool         `json:"running"`
	Stages  []StageState `json:"stages"`
	Actions int          `json:"actions"`
	Error   string       `json:"error,omitempty"`
}

type sourceChange struct {
	kind string
	path string
}

// Broker fans events out to connected clients. One goroutine owns the
// client set and the build snapshot; public methods talk to it over
// channels. Stage and source events are handed over unbuffered, so the
// snapshot a new subscriber sees reflects every event published before
// Subscribe was called.
type Broker struct {
	pendingMin time.Duration
	heartbeat  time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	stageCh       chan pipeline.Event
	sourceCh      chan sourceChange
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat makes ServeHTTP write a comment line every d so idle
// connections survive proxies. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// NewBroker starts a broker. Outside a build at most one rebuild.pending
// is sent per pendingThrottle; source changes that arrive during a build
// collapse into a single rebuild.pending sent once the build finishes.
func NewBroker(pendingThrottle time.Duration, opts ...Option) *Broker {
	if pendingThrottle <= 0 {
		pendingThrottle = 2 * time.Second
	}
	b := &Broker{
		pendingMin:    pendingThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		stageCh:       make(chan pipeline.Event),
		sourceCh:      make(chan sourceChange),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	go b.loop()
	return b
}

// hub is the state owned by the broker goroutine.
type hub struct {
	pendingMin  time.Duration
	clients     map[chan []byte]struct{}
	snap        *Snapshot
	lastPending time.Time
	// deferred is set when sources changed while a build was running.
	deferred bool
}

func encode(e Event) ([]byte, bool) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, false
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, payload)), true
}

// deliver never blocks: a client whose buffer is full misses the message.
func deliver(ch chan []byte, msg []byte) {
	select {
	case ch <- msg:
	default:
	}
}

func (h *hub) broadcast(e Event) {
	msg, ok := encode(e)
	if !ok {
		return
	}
	for ch := range h.clients {
		deliver(ch, msg)
	}
}

func (h *hub) attach(ch chan []byte) {
	h.clients[ch] = struct{}{}
	if h.snap == nil {
		return
	}
	if msg, ok := encode(Event{Type: EventSnapshot, Data: h.snap}); ok {
		deliver(ch, msg)
	}
}

func (h *hub) detach(ch chan []byte) {
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func stageState(t pipeline.EventType) string {
	switch t {
	case pipeline.EventStageStarted:
		return "running"
	case pipeline.EventStageSkipped:
		return "skipped"
	case pipeline.EventStageCompleted:
		return "completed"
	case pipeline.EventStageFailed:
		return "failed"
	}
	return ""
}

// record folds e into the snapshot. An event of an unknown run starts a
// new snapshot.
func (h *hub) record(e pipeline.Event) {
	if h.snap == nil || h.snap.RunID != e.RunID {
		h.snap = &Snapshot{RunID: e.RunID, Running: true}
	}
	if e.Type == pipeline.EventBuildFinished {
		h.snap.Running = false
		h.snap.Actions = e.Actions
		h.snap.Error = e.Error
		return
	}
	st := StageState{Stage: e.Stage, State: stageState(e.Type), Actions: e.Actions}
	for i := range h.snap.Stages {
		if h.snap.Stages[i].Stage == e.Stage {
			h.snap.Stages[i] = st
			return
		}
	}
	h.snap.Stages = append(h.snap.Stages, st)
}

func (h *hub) onStage(e pipeline.Event, now time.Time) {
	h.record(e)
	h.broadcast(Event{Type: string(e.Type), Data: e})
	if e.Type == pipeline.EventBuildFinished && h.deferred {
		h.deferred = false
		h.lastPending = now
		h.broadcast(Event{Type: EventRebuildPending, Data: map[string]string{"after": e.RunID}})
	}
}

func (h *hub) onSource(c sourceChange, now time.Time) {
	switch c.kind {
	case "created", "updated", "deleted":
		h.broadcast(Event{Type: "source." + c.kind, Data: map[string]string{"path": c.path}})
	default:
		return
	}
	if h.snap != nil && h.snap.Running {
		h.deferred = true
		return
	}
	if now.Sub(h.lastPending) >= h.pendingMin {
		h.lastPending = now
		h.broadcast(Event{Type: EventRebuildPending, Data: map[string]string{}})
	}
}

func (b *Broker) loop() {
	defer close(b.stopped)
	h := &hub{pendingMin: b.pendingMin, clients: make(map[chan []byte]struct{})}

	for {
		select {
		case <-b.stopCh:
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-b.subscribeCh:
			h.attach(ch)
		case ch := <-b.unsubscribeCh:
			h.detach(ch)
		case e := <-b.publishCh:
			h.broadcast(e)
		case e := <-b.stageCh:
			h.onStage(e, time.Now())
		case c := <-b.sourceCh:
			h.onSource(c, time.Now())
		case resp := <-b.countReqCh:
			resp <- len(h.clients)
		}
	}
}

// Close stops the loop and closes every client channel. It is safe to
// call more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// send hands v to the loop unless the broker is closed.
func send[T any](b *Broker, ch chan T, v T) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case ch <- v:
		return true
	case <-b.stopped:
		return false
	}
}

// Subscribe registers a client. A closed broker returns a closed channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if !send(b, b.subscribeCh, ch) {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	send(b, b.unsubscribeCh, ch)
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	if !send(b, b.countReqCh, resp) {
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish broadcasts an arbitrary event.
func (b *Broker) Publish(event Event) {
	send(b, b.publishCh, event)
}

// PublishSourceEvent reports a watched source change. kind is created,
// updated or deleted; anything else is dropped.
func (b *Broker) PublishSourceEvent(kind, path string) {
	send(b, b.sourceCh, sourceChange{kind: kind, path: path})
}

// PublishStageEvent forwards a runner event under its own type name and
// folds it into the build snapshot. It matches pipeline.WithEvents.
func (b *Broker) PublishStageEvent(e pipeline.Event) {
	send(b, b.stageCh, e)
}

// ServeHTTP streams events to one client (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
