package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/extrema/internal/objective"
)

// SSE event names.
const (
	eventSnapshot   = "snapshot"
	eventEvaluation = "evaluation"
	eventSession    = "session"
)

// subscriberBuffer is the per-subscriber queue depth. A full queue blocks
// the publisher until the client catches up or disconnects.
const subscriberBuffer = 256

// pingInterval keeps idle streams open through proxies.
const pingInterval = 30 * time.Second

// TraceEvent is published for every successful evaluation of a function.
type TraceEvent struct {
	Function  string    `json:"function"`
	Seq       uint64    `json:"seq"`
	Inputs    []float64 `json:"inputs"`
	Output    float64   `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

type event struct {
	name string
	data interface{}
}

// Subscription receives the events of one function.
type Subscription struct {
	key    string
	events chan event
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// Broadcaster fans events out to the subscribers of each function.
// Publish delivers to every subscriber in order and never drops an event.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	seq    map[string]uint64
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[*Subscription]struct{}),
		seq:  make(map[string]uint64),
	}
}

// Subscribe registers a subscriber for key. A closed broadcaster returns a
// subscription that is already done.
func (b *Broadcaster) Subscribe(key string) *Subscription {
	sub := &Subscription{
		key:    key,
		events: make(chan event, subscriberBuffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	if b.subs[key] == nil {
		b.subs[key] = make(map[*Subscription]struct{})
	}
	b.subs[key][sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and releases any publisher blocked on it.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if subs, ok := b.subs[sub.key]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, sub.key)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Subscribers returns the number of subscribers for key.
func (b *Broadcaster) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}

// Publish sends data to every subscriber of key. It blocks while a
// subscriber's queue is full.
func (b *Broadcaster) Publish(key, name string, data interface{}) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs[key]))
	for sub := range b.subs[key] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	ev := event{name: name, data: data}
	for _, sub := range subs {
		select {
		case sub.events <- ev:
		case <-sub.done:
		}
	}
}

// nextSeq returns the next trace sequence number for key.
func (b *Broadcaster) nextSeq(key string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[key]++
	return b.seq[key]
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.close()
		}
	}
}

// tracer publishes the function's evaluations to the broadcaster.
type tracer struct {
	key         string
	fn          *objective.Function
	broadcaster *Broadcaster
}

func (t *tracer) Update(inputValues []float64) {
	t.broadcaster.Publish(t.key, eventEvaluation, TraceEvent{
		Function:  t.key,
		Seq:       t.broadcaster.nextSeq(t.key),
		Inputs:    inputValues,
		Output:    t.fn.Output(),
		Timestamp: time.Now(),
	})
}

// handleStream streams a function's evaluations as server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	fn, err := s.functions.Get(key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sub := s.broadcaster.Subscribe(key)
	defer s.broadcaster.Unsubscribe(sub)

	if err := writeSSEEvent(w, eventSnapshot, fn.Snapshot()); err != nil {
		s.logger.Error("Failed to write initial SSE event", map[string]interface{}{
			"function": key,
			"error":    err.Error(),
		})
		return
	}
	flusher.Flush()

	s.logger.Debug("SSE client subscribed", map[string]interface{}{
		"function":    key,
		"subscribers": s.broadcaster.Subscribers(key),
	})

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected", map[string]interface{}{"function": key})
			return

		case <-sub.done:
			return

		case ev := <-sub.events:
			if err := writeSSEEvent(w, ev.name, ev.data); err != nil {
				s.logger.Warn("Failed to write SSE event", map[string]interface{}{
					"function": key,
					"error":    err.Error(),
				})
				return
			}
			flusher.Flush()

		case <-ping.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one named event.
func writeSSEEvent(w http.ResponseWriter, name string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}
