package model

import "time"

// Task priority levels.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Task is a single work item within a list.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" db:"id"`

	// ListID links the task to its parent list.
	ListID string `json:"list_id" db:"list_id"`

	// OwnerID scopes the task to the identity that owns it.
	OwnerID string `json:"owner_id" db:"owner_id"`

	// Title is the human-readable summary of the task.
	Title string `json:"title" db:"title"`

	// Description is the full body text, possibly empty.
	Description string `json:"description,omitempty" db:"description"`

	// Completed marks the task done.
	Completed bool `json:"completed" db:"completed"`

	// Priority is the task's priority level (use Priority* constants).
	Priority Priority `json:"priority" db:"priority"`

	// Labels is the set of free-form labels attached to the task.
	Labels []string `json:"labels,omitempty" db:"-"`

	// Position orders the task among its list siblings.
	Position float64 `json:"position" db:"position"`

	// DueDate is the optional due date.
	DueDate *time.Time `json:"due_date,omitempty" db:"due_date"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Version is the optimistic-concurrency counter.
	Version int64 `json:"version" db:"version"`
}
