package models

import (
	"time"
)

// Board lanes.
const (
	StatusTodo  = "todo"
	StatusDoing = "doing"
	StatusDone  = "done"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Provenance tags. Interactive sessions and the automated API client
// stamp different defaults so the board can show where a task came from.
const (
	SourceApp = "app"
	SourceBot = "bot"
)

type Task struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Title       string    `json:"title" gorm:"not null"`
	Description string    `json:"description"`
	Status      string    `json:"status" gorm:"not null;default:'todo'"`
	Priority    string    `json:"priority" gorm:"not null;default:'medium'"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Source      string    `json:"source" gorm:"default:'app'"`
}

// TaskPatch carries a partial update. Nil fields keep their prior value.
type TaskPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	Source      *string `json:"source"`
}

func ValidStatus(s string) bool {
	switch s {
	case StatusTodo, StatusDoing, StatusDone:
		return true
	}
	return false
}

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}
