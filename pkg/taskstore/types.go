package taskstore

import (
	"errors"
	"time"
)

// Status filters task listings by completion state
type Status string

const (
	StatusAll       Status = "all"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Valid reports whether the status is a known filter value
func (s Status) Valid() bool {
	switch s {
	case StatusAll, StatusPending, StatusCompleted:
		return true
	}
	return false
}

// Task is a single todo item owned by a user
type Task struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UpdateFields carries the optional fields of a partial update.
// Nil means "leave unchanged", not "clear".
type UpdateFields struct {
	Title       *string
	Description *string
}

var (
	// ErrNotFound indicates the task id does not exist
	ErrNotFound = errors.New("task not found")
	// ErrNotOwner indicates the task belongs to a different user
	ErrNotOwner = errors.New("task does not belong to user")
)
