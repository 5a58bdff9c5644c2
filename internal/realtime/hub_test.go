package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"kanban-live/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHub(t *testing.T) *Hub {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return hub
}

func receiveEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()

	select {
	case payload, ok := <-sub.C:
		require.True(t, ok, "subscription closed unexpectedly")
		var event Event
		require.NoError(t, json.Unmarshal(payload, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()

	select {
	case payload := <-sub.C:
		t.Fatalf("expected no event, got %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcast_ReachesAllSubscribersIncludingOriginator(t *testing.T) {
	hub := setupHub(t)

	subA := hub.Subscribe()
	subB := hub.Subscribe()

	// Session A originates the deletion; both A and B observe it.
	hub.Broadcast(EventTaskDeleted, "abc123")

	eventA := receiveEvent(t, subA)
	eventB := receiveEvent(t, subB)

	assert.Equal(t, EventTaskDeleted, eventA.Type)
	assert.Equal(t, "abc123", eventA.Data)
	assert.Equal(t, EventTaskDeleted, eventB.Type)
	assert.Equal(t, "abc123", eventB.Data)
}

func TestBroadcast_CarriesTaskPayload(t *testing.T) {
	hub := setupHub(t)
	sub := hub.Subscribe()

	task := models.Task{ID: "abc12345", Title: "Fix bug", Status: models.StatusTodo, Priority: models.PriorityHigh}
	hub.Broadcast(EventTaskCreated, task)

	event := receiveEvent(t, sub)
	assert.Equal(t, EventTaskCreated, event.Type)

	data, err := json.Marshal(event.Data)
	require.NoError(t, err)
	var got models.Task
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "abc12345", got.ID)
	assert.Equal(t, "Fix bug", got.Title)
}

func TestBroadcast_RevisionIncreases(t *testing.T) {
	hub := setupHub(t)
	sub := hub.Subscribe()

	hub.Broadcast(EventTaskCreated, models.Task{ID: "a"})
	hub.Broadcast(EventTaskUpdated, models.Task{ID: "a"})
	hub.Broadcast(EventTaskDeleted, "a")

	first := receiveEvent(t, sub)
	second := receiveEvent(t, sub)
	third := receiveEvent(t, sub)

	assert.Less(t, first.Rev, second.Rev)
	assert.Less(t, second.Rev, third.Rev)
	assert.Equal(t, third.Rev, hub.Rev())
}

func TestSendTo_TargetsSingleSubscriber(t *testing.T) {
	hub := setupHub(t)

	subA := hub.Subscribe()
	subB := hub.Subscribe()

	hub.SendTo(subA.ID, EventTasksUpdate, []models.Task{})

	event := receiveEvent(t, subA)
	assert.Equal(t, EventTasksUpdate, event.Type)

	assertNoEvent(t, subB)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	hub := setupHub(t)

	sub := hub.Subscribe()
	sub.Close()

	select {
	case _, ok := <-sub.C:
		assert.False(t, ok, "expected channel to be closed")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBroadcast_DisconnectedSessionMissesEvents(t *testing.T) {
	hub := setupHub(t)

	sub := hub.Subscribe()
	sub.Close()

	// Drain the close.
	for range sub.C {
	}

	hub.Broadcast(EventTaskDeleted, "abc123")

	// A fresh subscription sees nothing until it asks for a snapshot;
	// the missed deletion is not replayed.
	fresh := hub.Subscribe()
	assertNoEvent(t, fresh)
}

func TestShutdownUnblocksHubEntryPoints(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	sub := hub.Subscribe()
	cancel()

	// The run loop closes live channels on the way out.
	select {
	case _, ok := <-sub.C:
		require.False(t, ok, "expected channel closed on shutdown")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for shutdown")
	}

	// None of these may block a handler goroutine once the loop is gone.
	late := hub.Subscribe()
	select {
	case _, ok := <-late.C:
		assert.False(t, ok, "late subscription should come back closed")
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked after shutdown")
	}

	for i := 0; i < 70; i++ {
		hub.Broadcast(EventTaskDeleted, "x")
	}
	hub.SendTo(late.ID, EventError, nil)
	late.Close()
	sub.Close()
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := setupHub(t)

	sub := hub.Subscribe()

	// Never read: overflow the send buffer.
	for i := 0; i < 70; i++ {
		hub.Broadcast(EventTaskDeleted, "x")
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return // dropped, channel closed
			}
		case <-deadline:
			t.Fatal("slow subscriber was never dropped")
		}
	}
}
