package services

import (
	"errors"
	"fmt"
	"time"

	"kanban-live/internal/models"
	"kanban-live/internal/store"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrEmptyTitle      = errors.New("title must not be empty")
	ErrInvalidStatus   = errors.New("status must be one of todo, doing, done")
	ErrInvalidPriority = errors.New("priority must be one of low, medium, high")
)

// IsValidationError reports whether err is a rejected-input error rather
// than a missing record or an internal failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyTitle) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidPriority)
}

type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Source      string `json:"source"`
}

type TaskService interface {
	Create(input CreateTaskInput) (models.Task, error)
	Update(id string, patch models.TaskPatch) (models.Task, error)
	Delete(id string) error
	ListAll() ([]models.Task, error)
}

type TaskServiceImpl struct {
	store *store.TaskStore
}

func NewTaskService(s *store.TaskStore) *TaskServiceImpl {
	return &TaskServiceImpl{store: s}
}

// newTaskID returns a short opaque identifier, the leading 8 hex chars of
// a v4 UUID. Collisions over a single board's lifetime are not a concern
// at this scale; the primary key constraint catches the pathological case.
func newTaskID() string {
	return uuid.Must(uuid.NewV4()).String()[:8]
}

func (s *TaskServiceImpl) Create(input CreateTaskInput) (models.Task, error) {
	if input.Title == "" {
		return models.Task{}, ErrEmptyTitle
	}
	if input.Status == "" {
		input.Status = models.StatusTodo
	}
	if input.Priority == "" {
		input.Priority = models.PriorityMedium
	}
	if input.Source == "" {
		input.Source = models.SourceApp
	}
	if !models.ValidStatus(input.Status) {
		return models.Task{}, fmt.Errorf("%w: got %q", ErrInvalidStatus, input.Status)
	}
	if !models.ValidPriority(input.Priority) {
		return models.Task{}, fmt.Errorf("%w: got %q", ErrInvalidPriority, input.Priority)
	}

	now := time.Now().UTC()
	task := models.Task{
		ID:          newTaskID(),
		Title:       input.Title,
		Description: input.Description,
		Status:      input.Status,
		Priority:    input.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
		Source:      input.Source,
	}

	return s.store.Insert(task)
}

func (s *TaskServiceImpl) Update(id string, patch models.TaskPatch) (models.Task, error) {
	fields := map[string]interface{}{}
	if patch.Title != nil {
		if *patch.Title == "" {
			return models.Task{}, ErrEmptyTitle
		}
		fields["title"] = *patch.Title
	}
	if patch.Description != nil {
		fields["description"] = *patch.Description
	}
	if patch.Status != nil {
		if !models.ValidStatus(*patch.Status) {
			return models.Task{}, fmt.Errorf("%w: got %q", ErrInvalidStatus, *patch.Status)
		}
		fields["status"] = *patch.Status
	}
	if patch.Priority != nil {
		if !models.ValidPriority(*patch.Priority) {
			return models.Task{}, fmt.Errorf("%w: got %q", ErrInvalidPriority, *patch.Priority)
		}
		fields["priority"] = *patch.Priority
	}
	if patch.Source != nil {
		fields["source"] = *patch.Source
	}
	fields["updated_at"] = time.Now().UTC()

	task, err := s.store.Update(id, fields)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Task{}, ErrNotFound
		}
		return models.Task{}, err
	}
	return task, nil
}

// Delete reports success whether or not the id existed.
func (s *TaskServiceImpl) Delete(id string) error {
	return s.store.Delete(id)
}

func (s *TaskServiceImpl) ListAll() ([]models.Task, error) {
	return s.store.List()
}
