package tasks

import (
	"strings"
	"time"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ParseStatus validates a status name.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusTodo:
		return StatusTodo, true
	case StatusInProgress:
		return StatusInProgress, true
	case StatusDone:
		return StatusDone, true
	default:
		return "", false
	}
}

// CanTransitionTo reports whether a task may move from s to next. Done is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusTodo:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusTodo || next == StatusDone
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates a priority name; an empty value means medium.
func ParsePriority(value string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(value))) {
	case "", PriorityMedium:
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	case PriorityHigh:
		return PriorityHigh, true
	default:
		return "", false
	}
}

// Task is a unit of work created by an admin and optionally assigned to a user.
type Task struct {
	ID          string     `gorm:"column:id;primaryKey;size:36"`
	Title       string     `gorm:"column:title;size:500;not null"`
	Description *string    `gorm:"column:description"`
	AssignedTo  *string    `gorm:"column:assigned_to;size:36;index"`
	CreatedBy   string     `gorm:"column:created_by;size:36;not null;index"`
	Priority    Priority   `gorm:"column:priority;size:16;not null"`
	DueDate     *time.Time `gorm:"column:due_date"`
	Status      Status     `gorm:"column:status;size:16;not null;index"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

// TableName exposes the table backing tasks.
func (Task) TableName() string {
	return "tasks"
}

// IsOverdue reports whether the due date has passed on an unfinished task.
func (t Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.Status != StatusDone && t.DueDate.Before(now)
}

// View is a task joined with its assignee's username.
type View struct {
	Task
	AssignedUsername string
}

// Notification is a per-user message, usually about a task.
type Notification struct {
	ID        string    `gorm:"column:id;primaryKey;size:36"`
	UserID    string    `gorm:"column:user_id;size:36;not null;index"`
	Message   string    `gorm:"column:message;not null"`
	TaskID    *string   `gorm:"column:task_id;size:36;index"`
	IsRead    bool      `gorm:"column:is_read;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index"`
}

// TableName exposes the table backing notifications.
func (Notification) TableName() string {
	return "notifications"
}

// Stats summarizes the tasks assigned to one user.
type Stats struct {
	Total      int64
	Todo       int64
	InProgress int64
	Done       int64
	Overdue    int64
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
