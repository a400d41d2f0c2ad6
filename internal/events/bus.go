// Package events provides a publish/subscribe event bus for
// operational observability. Events flow from components (chat
// orchestrator, background loops, persistence) to subscribers
// (WebSocket handler). The bus is nil-safe: calling Publish on a nil
// *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceChat identifies events from the chat orchestrator.
	SourceChat = "chat"
	// SourceExploration identifies events from the exploration loop.
	SourceExploration = "exploration"
	// SourceMovement identifies events from the movement loop.
	SourceMovement = "movement"
	// SourceWorld identifies events from world-state persistence.
	SourceWorld = "world"
	// SourceNightly identifies events from the nightly maintenance task.
	SourceNightly = "nightly"
)

// Kind constants describe the type of event within a source.
const (
	// KindChatReceived signals an incoming chat message.
	// Data: request_id, message_len.
	KindChatReceived = "chat_received"
	// KindChatReplied signals a completed chat turn.
	// Data: request_id, status, source, elapsed_ms.
	KindChatReplied = "chat_replied"
	// KindChatLimited signals a chat rejected by the rate limiter.
	// Data: request_id, reset_in_seconds.
	KindChatLimited = "chat_limited"

	// KindInsight signals the exploration loop learned something.
	// Data: question, source.
	KindInsight = "insight"
	// KindMoved signals a movement tick.
	// Data: place, activity.
	KindMoved = "moved"

	// KindLoopStarted signals a background loop was started.
	// Data: loop.
	KindLoopStarted = "loop_started"
	// KindLoopStopped signals a background loop was stopped.
	// Data: loop.
	KindLoopStopped = "loop_stopped"

	// KindNightlyDone signals a completed nightly maintenance run.
	// Data: reconciled, diary_written.
	KindNightlyDone = "nightly_done"
)

// Event is a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; slow subscribers miss events rather
// than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so that
	// Unsubscribe can accept the caller's <-chan Event view.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop rather than block.
		}
	}
}

// Emit is a convenience wrapper around Publish.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
