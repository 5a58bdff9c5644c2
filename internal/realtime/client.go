package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"kanban-live/internal/models"
	"kanban-live/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The board page may be served from a different origin than the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one live websocket session. It carries no state between
// messages beyond the connection and its hub subscription; the connection
// is trusted because it arrived through an authenticated page context.
type Client struct {
	hub  *Hub
	svc  services.TaskService
	conn *websocket.Conn
	sub  *Subscription
	log  *logrus.Entry
}

// ServeWS upgrades the request and starts the session's read and write
// pumps. No snapshot is pushed on connect; the client asks with get_tasks.
func ServeWS(hub *Hub, svc services.TaskService, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}

		sub := hub.Subscribe()
		client := &Client{
			hub:  hub,
			svc:  svc,
			conn: conn,
			sub:  sub,
			log:  log.WithField("session_id", sub.ID),
		}

		go client.writePump()
		go client.readPump()
	}
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type updatePayload struct {
	ID string `json:"id"`
	models.TaskPatch
}

func (c *Client) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("session closed unexpectedly")
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg inboundMessage) {
	switch msg.Type {
	case "get_tasks":
		tasks, err := c.svc.ListAll()
		if err != nil {
			c.log.WithError(err).Error("failed to list tasks")
			c.sendError("failed to load tasks")
			return
		}
		c.hub.SendTo(c.sub.ID, EventTasksUpdate, tasks)

	case "create_task":
		var input services.CreateTaskInput
		if err := json.Unmarshal(msg.Data, &input); err != nil {
			c.sendError("invalid create_task payload")
			return
		}
		// Channel-originated tasks always carry the interactive tag.
		input.Source = models.SourceApp
		task, err := c.svc.Create(input)
		if err != nil {
			if services.IsValidationError(err) {
				c.sendError(err.Error())
			} else {
				c.log.WithError(err).Error("failed to create task")
				c.sendError("failed to create task")
			}
			return
		}
		c.hub.Broadcast(EventTaskCreated, task)

	case "update_task":
		var payload updatePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("invalid update_task payload")
			return
		}
		task, err := c.svc.Update(payload.ID, payload.TaskPatch)
		if err != nil {
			switch {
			case services.IsValidationError(err):
				c.sendError(err.Error())
			case errors.Is(err, services.ErrNotFound):
				// A missing id is silently dropped; the session
				// reconciles on its next snapshot.
			default:
				c.log.WithError(err).Error("failed to update task")
			}
			return
		}
		c.hub.Broadcast(EventTaskUpdated, task)

	case "delete_task":
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("invalid delete_task payload")
			return
		}
		if err := c.svc.Delete(payload.ID); err != nil {
			c.log.WithError(err).Error("failed to delete task")
			return
		}
		c.hub.Broadcast(EventTaskDeleted, payload.ID)

	default:
		c.log.WithField("type", msg.Type).Debug("unknown message type")
	}
}

func (c *Client) sendError(message string) {
	c.hub.SendTo(c.sub.ID, EventError, map[string]string{"error": message})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.sub.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
