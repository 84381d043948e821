package domain

import (
	"context"
	"time"
)

// TaskStatus is the board column of a task in the desktop application.
type TaskStatus string

const (
	TaskTodo  TaskStatus = "todo"
	TaskDoing TaskStatus = "doing"
	TaskDone  TaskStatus = "done"
)

// Valid reports whether s is an allowed task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskDoing, TaskDone:
		return true
	}
	return false
}

// Task is a row of the desktop task board.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Phase       string     `json:"phase,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskReader is the read side of the task store used by get_context.
type TaskReader interface {
	CountTasks(ctx context.Context) (int, error)
}

// TaskStore is the external task persistence the dispatcher delegates to.
// UpdateTaskStatus validates status itself and returns ErrInvalidTaskStatus
// or ErrTaskNotFound.
type TaskStore interface {
	TaskReader
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, comment string) error
}
