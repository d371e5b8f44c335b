// Package habit models open-ended routines a household repeats without a
// schedule. Unlike tasks, a habit has no status and is never reactivated:
// every completion is appended to its history.
package habit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("habit not found")
	ErrInvalid  = errors.New("invalid habit")
)

type Habit struct {
	ID          string    `json:"id"`
	HomeID      string    `json:"homeId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	RoomID      string    `json:"roomId,omitempty"`
	GroupID     string    `json:"groupId,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Completion records one time a member did the habit. HomeID is copied from
// the habit so history can be scoped by home without a join.
type Completion struct {
	ID          string    `json:"id"`
	HabitID     string    `json:"habitId"`
	HomeID      string    `json:"homeId"`
	CompletedBy string    `json:"completedBy"`
	CompletedAt time.Time `json:"completedAt"`
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Title       *string
	Description *string
	RoomID      *string
	GroupID     *string
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.RoomID == nil && p.GroupID == nil
}

func (p Patch) Apply(h *Habit) {
	if p.Title != nil {
		h.Title = *p.Title
	}
	if p.Description != nil {
		h.Description = *p.Description
	}
	if p.RoomID != nil {
		h.RoomID = *p.RoomID
	}
	if p.GroupID != nil {
		h.GroupID = *p.GroupID
	}
}

// Store is the persistence contract for habits and their history.
type Store interface {
	Create(ctx context.Context, h Habit) (Habit, error)
	Get(ctx context.Context, id string) (Habit, error)
	Update(ctx context.Context, id string, p Patch) (Habit, error)
	// Delete removes the habit together with its completions.
	Delete(ctx context.Context, id string) error
	// ListByHomes returns the habits of homeIDs, newest first.
	ListByHomes(ctx context.Context, homeIDs []string) ([]Habit, error)

	// AddCompletion appends c. It fails with ErrNotFound when the habit is gone.
	AddCompletion(ctx context.Context, c Completion) (Completion, error)
	// Completions returns the history of habitID, most recent first.
	Completions(ctx context.Context, habitID string) ([]Completion, error)
	// LastCompletion reports the most recent completion, if any.
	LastCompletion(ctx context.Context, habitID string) (Completion, bool, error)
}
