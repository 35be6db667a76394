package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

func statusEvent(taskID string, status a2a.TaskStatus) a2a.StreamEvent {
	return a2a.StreamEvent{
		Type:   a2a.StreamEventStatus,
		TaskID: taskID,
		Status: &a2a.Snapshot{ID: taskID, Status: status},
	}
}

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("task-1")
	defer sub.Close()

	hub.PublishMessage(a2a.NewMessage("task-1", "import", a2a.MessageInfo, "starting"))

	select {
	case ev := <-sub.Events:
		assert.Equal(t, a2a.StreamEventMessage, ev.Type)
		assert.Equal(t, "starting", ev.Message.Content)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHubIsolatesTasks(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("task-1")
	defer sub.Close()

	hub.PublishMessage(a2a.NewMessage("task-2", "import", a2a.MessageInfo, "other task"))

	select {
	case ev := <-sub.Events:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubTerminalEventClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("task-1")

	hub.Publish(statusEvent("task-1", a2a.TaskCompleted))

	ev, ok := <-sub.Events
	require.True(t, ok)
	assert.True(t, ev.Terminal())

	_, ok = <-sub.Events
	assert.False(t, ok, "channel should be closed after terminal event")
}

func TestHubTerminalEventSurvivesFullBuffer(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("task-1")

	// Saturate the buffer without a reader.
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.PublishMessage(a2a.NewMessage("task-1", "import", a2a.MessageProgress, "tick"))
	}
	hub.Publish(statusEvent("task-1", a2a.TaskFailed))

	var sawTerminal bool
	for ev := range sub.Events {
		if ev.Terminal() {
			sawTerminal = true
		}
	}
	assert.True(t, sawTerminal, "terminal event must be delivered despite backpressure")
}

func TestHubSubscribeAfterTerminal(t *testing.T) {
	hub := NewHub()
	first := hub.Subscribe("task-1")
	hub.Publish(statusEvent("task-1", a2a.TaskCancelled))
	for range first.Events {
	}

	late := hub.Subscribe("task-1")
	_, ok := <-late.Events
	assert.False(t, ok, "late subscription to finished task returns closed channel")
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("task-1")
	sub.Close()

	// Publishing after close must not panic or block.
	hub.PublishMessage(a2a.NewMessage("task-1", "import", a2a.MessageInfo, "late"))
}
