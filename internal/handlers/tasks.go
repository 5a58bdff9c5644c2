package handlers

import (
	"errors"
	"net/http"

	"kanban-live/internal/models"
	"kanban-live/internal/realtime"
	"kanban-live/internal/services"

	"github.com/gin-gonic/gin"
)

// TaskHandler maps the automation API onto the task service. Every
// successful mutation is also pushed to connected viewer sessions; the
// API caller itself gets its result on the HTTP response, not over the
// channel.
type TaskHandler struct {
	taskService services.TaskService
	hub         *realtime.Hub
}

func NewTaskHandler(taskService services.TaskService, hub *realtime.Hub) *TaskHandler {
	return &TaskHandler{taskService: taskService, hub: hub}
}

func (h *TaskHandler) GetTasks(c *gin.Context) {
	tasks, err := h.taskService.ListAll()
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var taskInput struct {
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
		Status      string `json:"status"`
		Priority    string `json:"priority"`
		Source      string `json:"source"`
	}
	if err := c.ShouldBindJSON(&taskInput); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if taskInput.Source == "" {
		taskInput.Source = models.SourceBot
	}

	task, err := h.taskService.Create(services.CreateTaskInput{
		Title:       taskInput.Title,
		Description: taskInput.Description,
		Status:      taskInput.Status,
		Priority:    taskInput.Priority,
		Source:      taskInput.Source,
	})
	if err != nil {
		handleTaskError(c, err)
		return
	}

	h.hub.Broadcast(realtime.EventTaskCreated, task)
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	id := c.Param("id")

	var patch models.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.taskService.Update(id, patch)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	h.hub.Broadcast(realtime.EventTaskUpdated, task)
	c.JSON(http.StatusOK, task)
}

// DeleteTask is idempotent; the deletion event is broadcast whether or not
// the row existed, so viewers converge either way.
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id := c.Param("id")

	if err := h.taskService.Delete(id); err != nil {
		handleTaskError(c, err)
		return
	}

	h.hub.Broadcast(realtime.EventTaskDeleted, id)
	c.Status(http.StatusNoContent)
}

func handleTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Task not found",
		})
	case services.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to process task request",
		})
	}
}
