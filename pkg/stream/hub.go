// Package stream fans task progress events out to live subscribers.
// The hub is in-process; durable history lives in the message log and
// subscribers replay from there after reconnects.
package stream

import (
	"sync"
	"time"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

const subscriberBuffer = 64

// Subscription is one subscriber's event feed. Events closes when the
// task reaches a terminal status or the subscription is cancelled.
type Subscription struct {
	Events <-chan a2a.StreamEvent
	cancel func()
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.cancel()
}

type subscriber struct {
	ch       chan a2a.StreamEvent
	terminal bool
}

// Hub routes per-task events to subscribers. Non-terminal events are
// dropped for slow subscribers; terminal events always get through so
// no subscriber misses the end of a task.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
	done map[string]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string][]*subscriber),
		done: make(map[string]bool),
	}
}

// Subscribe attaches to a task's event feed. Subscribing to a task that
// has already finished returns a closed channel.
func (h *Hub) Subscribe(taskID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan a2a.StreamEvent, subscriberBuffer)
	if h.done[taskID] {
		close(ch)
		return &Subscription{Events: ch, cancel: func() {}}
	}

	sub := &subscriber{ch: ch}
	h.subs[taskID] = append(h.subs[taskID], sub)

	return &Subscription{
		Events: ch,
		cancel: func() { h.unsubscribe(taskID, sub) },
	}
}

func (h *Hub) unsubscribe(taskID string, target *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[taskID]
	for i, sub := range subs {
		if sub == target {
			h.subs[taskID] = append(subs[:i], subs[i+1:]...)
			if !sub.terminal {
				close(sub.ch)
			}
			break
		}
	}
	if len(h.subs[taskID]) == 0 {
		delete(h.subs, taskID)
	}
}

// Publish delivers an event to all of the task's subscribers. A
// terminal status event closes every subscriber channel and marks the
// task finished for future subscribers.
func (h *Hub) Publish(event a2a.StreamEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	terminal := event.Terminal()
	for _, sub := range h.subs[event.TaskID] {
		if terminal {
			// The terminal event must not be dropped; evict the oldest
			// buffered event until the send lands.
			for delivered := false; !delivered; {
				select {
				case sub.ch <- event:
					delivered = true
				default:
					select {
					case <-sub.ch:
					default:
					}
				}
			}
			sub.terminal = true
			close(sub.ch)
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	if terminal {
		delete(h.subs, event.TaskID)
		h.done[event.TaskID] = true
	}
}

// PublishStatus is a convenience wrapper for status snapshots.
func (h *Hub) PublishStatus(snapshot a2a.Snapshot) {
	h.Publish(a2a.StreamEvent{
		Type:   a2a.StreamEventStatus,
		TaskID: snapshot.ID,
		Status: &snapshot,
	})
}

// PublishMessage is a convenience wrapper for advisory messages.
func (h *Hub) PublishMessage(msg *a2a.Message) {
	h.Publish(a2a.StreamEvent{
		Type:    a2a.StreamEventMessage,
		TaskID:  msg.TaskID,
		Message: msg,
	})
}

// PublishArtifact is a convenience wrapper for artifact announcements.
func (h *Hub) PublishArtifact(art *a2a.Artifact) {
	h.Publish(a2a.StreamEvent{
		Type:     a2a.StreamEventArtifact,
		TaskID:   art.TaskID,
		Artifact: art,
	})
}
