package realtime_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kanban-live/internal/models"
	"kanban-live/internal/realtime"
	"kanban-live/internal/services"
	"kanban-live/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type sessionFixture struct {
	svc    services.TaskService
	server *httptest.Server
}

func setupSessionServer(t *testing.T) *sessionFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:ws_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	taskStore, err := store.New(db)
	require.NoError(t, err)
	svc := services.NewTaskService(taskStore)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	hub := realtime.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", realtime.ServeWS(hub, svc, log))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &sessionFixture{svc: svc, server: server}
}

func dialSession(t *testing.T, f *sessionFixture) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()

	payload, err := json.Marshal(map[string]interface{}{
		"type": msgType,
		"data": data,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var event realtime.Event
	require.NoError(t, json.Unmarshal(raw, &event))
	return event
}

func assertSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, got %s", raw)
	}
}

// awaitSubscribed round-trips a snapshot request, proving the session's
// hub subscription is active before broadcasts are exercised.
func awaitSubscribed(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	sendMessage(t, conn, "get_tasks", nil)
	event := readEvent(t, conn)
	require.Equal(t, realtime.EventTasksUpdate, event.Type)
}

func decodeTask(t *testing.T, data interface{}) models.Task {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	var task models.Task
	require.NoError(t, json.Unmarshal(raw, &task))
	return task
}

func TestSession_SnapshotOnRequestOnly(t *testing.T) {
	f := setupSessionServer(t)

	created, err := f.svc.Create(services.CreateTaskInput{Title: "Fix bug", Priority: models.PriorityHigh})
	require.NoError(t, err)

	// No implicit snapshot on connect. A timed-out read leaves the gorilla
	// connection unusable, so the silence check gets its own session.
	quiet := dialSession(t, f)
	assertSilence(t, quiet)

	conn := dialSession(t, f)
	sendMessage(t, conn, "get_tasks", nil)
	event := readEvent(t, conn)

	assert.Equal(t, realtime.EventTasksUpdate, event.Type)

	raw, err := json.Marshal(event.Data)
	require.NoError(t, err)
	var tasks []models.Task
	require.NoError(t, json.Unmarshal(raw, &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, created.ID, tasks[0].ID)
	assert.Equal(t, models.PriorityHigh, tasks[0].Priority)
}

func TestSession_CreateBroadcastsToAllIncludingOriginator(t *testing.T) {
	f := setupSessionServer(t)

	connA := dialSession(t, f)
	connB := dialSession(t, f)
	awaitSubscribed(t, connA)
	awaitSubscribed(t, connB)

	sendMessage(t, connA, "create_task", map[string]string{
		"title": "Fix bug",
		// Source supplied by the client is ignored on the channel path.
		"source": "bot",
	})

	eventA := readEvent(t, connA)
	eventB := readEvent(t, connB)

	require.Equal(t, realtime.EventTaskCreated, eventA.Type)
	require.Equal(t, realtime.EventTaskCreated, eventB.Type)

	taskA := decodeTask(t, eventA.Data)
	taskB := decodeTask(t, eventB.Data)
	assert.Equal(t, taskA.ID, taskB.ID)
	assert.Equal(t, "Fix bug", taskA.Title)
	assert.Equal(t, models.SourceApp, taskA.Source)
}

func TestSession_DeleteBroadcastsBareID(t *testing.T) {
	f := setupSessionServer(t)

	connA := dialSession(t, f)
	connB := dialSession(t, f)
	awaitSubscribed(t, connA)
	awaitSubscribed(t, connB)

	sendMessage(t, connA, "delete_task", map[string]string{"id": "abc123"})

	eventA := readEvent(t, connA)
	eventB := readEvent(t, connB)

	assert.Equal(t, realtime.EventTaskDeleted, eventA.Type)
	assert.Equal(t, "abc123", eventA.Data)
	assert.Equal(t, realtime.EventTaskDeleted, eventB.Type)
	assert.Equal(t, "abc123", eventB.Data)
}

func TestSession_UpdateMissingIDIsSilent(t *testing.T) {
	f := setupSessionServer(t)

	conn := dialSession(t, f)

	sendMessage(t, conn, "update_task", map[string]string{
		"id":     "doesnotexist",
		"status": "doing",
	})

	assertSilence(t, conn)
}

func TestSession_UpdateBroadcasts(t *testing.T) {
	f := setupSessionServer(t)

	created, err := f.svc.Create(services.CreateTaskInput{Title: "Fix bug"})
	require.NoError(t, err)

	conn := dialSession(t, f)
	sendMessage(t, conn, "update_task", map[string]string{
		"id":     created.ID,
		"status": "doing",
	})

	event := readEvent(t, conn)
	require.Equal(t, realtime.EventTaskUpdated, event.Type)

	task := decodeTask(t, event.Data)
	assert.Equal(t, created.ID, task.ID)
	assert.Equal(t, models.StatusDoing, task.Status)
	assert.Equal(t, "Fix bug", task.Title)
}

func TestSession_ValidationErrorGoesToSenderOnly(t *testing.T) {
	f := setupSessionServer(t)

	connA := dialSession(t, f)
	connB := dialSession(t, f)
	awaitSubscribed(t, connA)
	awaitSubscribed(t, connB)

	sendMessage(t, connA, "create_task", map[string]string{
		"title":  "Fix bug",
		"status": "urgent",
	})

	event := readEvent(t, connA)
	assert.Equal(t, realtime.EventError, event.Type)

	assertSilence(t, connB)
}
