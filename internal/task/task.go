package task

import (
	"fmt"
	"strings"
	"time"

	"homekeep/internal/recurrence"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusInProgress, StatusCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTask, s)
	}
}

// Task is a chore owned by a home.
//
// RecurrenceDays is only ever set together with DueDate. DueDate holds the
// next occurrence; it is advanced when a recurring task is completed.
type Task struct {
	ID             string     `json:"id"`
	HomeID         string     `json:"homeId"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	RoomID         string     `json:"roomId,omitempty"`
	GroupID        string     `json:"groupId,omitempty"`
	AssignedTo     string     `json:"assignedTo,omitempty"`
	CreatedBy      string     `json:"createdBy"`
	Status         Status     `json:"status"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	RecurrenceDays *int       `json:"recurrenceDays,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// IsRecurring reports whether the task repeats.
func (t Task) IsRecurring() bool {
	return t.RecurrenceDays != nil && *t.RecurrenceDays > 0 && t.DueDate != nil
}

// NextDueDate previews the due date the task gets on its next completion.
func (t Task) NextDueDate() (time.Time, bool) {
	if !t.IsRecurring() {
		return time.Time{}, false
	}
	return recurrence.MustAdvance(*t.DueDate, *t.RecurrenceDays), true
}

// ShouldReactivate reports whether a sweep at now flips t back to pending.
func ShouldReactivate(t Task, now time.Time, loc *time.Location) bool {
	return t.Status == StatusCompleted &&
		t.IsRecurring() &&
		recurrence.IsDue(*t.DueDate, now, loc)
}

// Clone returns a deep copy, so stores never hand out shared pointers.
func (t Task) Clone() Task {
	cp := t
	if t.DueDate != nil {
		d := *t.DueDate
		cp.DueDate = &d
	}
	if t.RecurrenceDays != nil {
		n := *t.RecurrenceDays
		cp.RecurrenceDays = &n
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		cp.CompletedAt = &c
	}
	return cp
}

// Patch is a partial update.
// nil pointer => no change. Empty strings clear optional text fields.
type Patch struct {
	Title       *string
	Description *string
	RoomID      *string
	GroupID     *string
	AssignedTo  *string
	Status      *Status

	DueDate      *time.Time
	ClearDueDate bool

	RecurrenceDays  *int
	ClearRecurrence bool

	CompletedAt *time.Time
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.RoomID == nil && p.GroupID == nil &&
		p.AssignedTo == nil && p.Status == nil && p.DueDate == nil && !p.ClearDueDate &&
		p.RecurrenceDays == nil && !p.ClearRecurrence && p.CompletedAt == nil
}

// Apply mutates t in place. Stores call it inside their per-task critical
// section so a patch lands atomically.
func (p Patch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.RoomID != nil {
		t.RoomID = strings.TrimSpace(*p.RoomID)
	}
	if p.GroupID != nil {
		t.GroupID = strings.TrimSpace(*p.GroupID)
	}
	if p.AssignedTo != nil {
		t.AssignedTo = strings.TrimSpace(*p.AssignedTo)
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.ClearRecurrence {
		t.RecurrenceDays = nil
	} else if p.RecurrenceDays != nil {
		n := *p.RecurrenceDays
		t.RecurrenceDays = &n
	}
	if p.CompletedAt != nil {
		c := *p.CompletedAt
		t.CompletedAt = &c
	}
}
