package realtime

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventTasksUpdate EventType = "tasks_update"
	EventTaskCreated EventType = "task_created"
	EventTaskUpdated EventType = "task_updated"
	EventTaskDeleted EventType = "task_deleted"
	EventError       EventType = "error"
)

// Event is the server-to-client envelope. Rev is a per-hub monotonic
// revision so consumers can detect reordered delivery; the transport
// itself guarantees no ordering across sessions.
type Event struct {
	Type EventType   `json:"type"`
	Rev  uint64      `json:"rev"`
	Data interface{} `json:"data"`
}

var (
	connectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "board_connected_sessions",
		Help: "Current number of live viewer sessions",
	})
	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_broadcasts_total",
		Help: "Total change events fanned out to sessions",
	}, []string{"type"})
	droppedSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "board_dropped_sessions_total",
		Help: "Sessions dropped because their send buffer was full",
	})
)

// Subscription is one live session's view of the hub. C is closed by the
// hub on unsubscribe or shutdown.
type Subscription struct {
	ID  string
	C   chan []byte
	hub *Hub
}

func (s *Subscription) Close() {
	select {
	case s.hub.unregister <- s:
	case <-s.hub.done:
	}
}

type directMessage struct {
	to      string
	payload []byte
}

// Hub fans change events out to every subscribed session. All subscriber
// state is owned by the Run loop; registration, direct sends and
// broadcasts arrive over channels, so no locking is needed.
type Hub struct {
	log         *logrus.Logger
	register    chan *Subscription
	unregister  chan *Subscription
	events      chan []byte
	direct      chan directMessage
	subscribers map[string]*Subscription
	done        chan struct{}
	rev         atomic.Uint64
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		log:         log,
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		events:      make(chan []byte, 64),
		direct:      make(chan directMessage, 64),
		subscribers: make(map[string]*Subscription),
		done:        make(chan struct{}),
	}
}

// Run owns the subscriber map until ctx is cancelled. Delivery is
// best-effort: a session whose buffer is full is dropped rather than
// blocking the fan-out.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for id, sub := range h.subscribers {
				delete(h.subscribers, id)
				close(sub.C)
			}
			connectedSessions.Set(0)
			return

		case sub := <-h.register:
			h.subscribers[sub.ID] = sub
			connectedSessions.Inc()
			h.log.WithField("session_id", sub.ID).Debug("session subscribed")

		case sub := <-h.unregister:
			if _, ok := h.subscribers[sub.ID]; ok {
				delete(h.subscribers, sub.ID)
				close(sub.C)
				connectedSessions.Dec()
				h.log.WithField("session_id", sub.ID).Debug("session unsubscribed")
			}

		case payload := <-h.events:
			for id, sub := range h.subscribers {
				select {
				case sub.C <- payload:
				default:
					delete(h.subscribers, id)
					close(sub.C)
					connectedSessions.Dec()
					droppedSessionsTotal.Inc()
					h.log.WithField("session_id", id).Warn("dropping slow session")
				}
			}

		case msg := <-h.direct:
			if sub, ok := h.subscribers[msg.to]; ok {
				select {
				case sub.C <- msg.payload:
				default:
					delete(h.subscribers, msg.to)
					close(sub.C)
					connectedSessions.Dec()
					droppedSessionsTotal.Inc()
					h.log.WithField("session_id", msg.to).Warn("dropping slow session")
				}
			}
		}
	}
}

// Subscribe registers a new session and returns its subscription handle.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID:  xid.New().String(),
		C:   make(chan []byte, 64),
		hub: h,
	}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.C)
	}
	return sub
}

// Broadcast delivers one change event to every subscribed session,
// stamping the next revision.
func (h *Hub) Broadcast(t EventType, data interface{}) {
	rev := h.rev.Add(1)
	payload, err := json.Marshal(Event{Type: t, Rev: rev, Data: data})
	if err != nil {
		h.log.WithError(err).WithField("event", t).Error("failed to encode event")
		return
	}
	broadcastsTotal.WithLabelValues(string(t)).Inc()
	select {
	case h.events <- payload:
	case <-h.done:
	}
}

// SendTo delivers an event to a single session, stamped with the current
// revision. Used for snapshots and per-session errors.
func (h *Hub) SendTo(subscriptionID string, t EventType, data interface{}) {
	payload, err := json.Marshal(Event{Type: t, Rev: h.rev.Load(), Data: data})
	if err != nil {
		h.log.WithError(err).WithField("event", t).Error("failed to encode event")
		return
	}
	select {
	case h.direct <- directMessage{to: subscriptionID, payload: payload}:
	case <-h.done:
	}
}

// Rev returns the revision of the most recent broadcast.
func (h *Hub) Rev() uint64 {
	return h.rev.Load()
}
