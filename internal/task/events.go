package task

import "time"

// Event types published on the bus.
const (
	EventCreated       = "task.created"
	EventStatusChanged = "task.status_changed"
	EventCompleted     = "task.completed"
	EventReactivated   = "task.reactivated"
	EventSweepFinished = "sweep.finished"
)

type StatusChangedEvent struct {
	Task  Task   `json:"task"`
	From  Status `json:"from"`
	Actor string `json:"actor,omitempty"`
	// PrevDueDate is set when completion advanced the due date.
	PrevDueDate *time.Time `json:"prevDueDate,omitempty"`
}

type ReactivatedEvent struct {
	Task Task `json:"task"`
}
